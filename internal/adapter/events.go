package adapter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"irrigation/internal/gates"
	"irrigation/internal/schedule"
	"irrigation/pkg/apperror"
	"irrigation/pkg/audit"
	"irrigation/pkg/logger"
)

// GateFailureEvent reports a gate that stopped responding or jammed.
type GateFailureEvent struct {
	GateID      string  `json:"gate_id"`
	FailureType string  `json:"failure_type"`
	RepairHours float64 `json:"repair_hours"`
}

// WeatherChangeEvent reports a mid-week forecast revision.
type WeatherChangeEvent struct {
	RainfallMM  float64  `json:"rainfall_mm"`
	TempChangeC float64  `json:"temp_change_c"`
	HumidityPct float64  `json:"humidity_percent,omitempty"`
	Zones       []string `json:"zones,omitempty"`
}

// DemandChangeEvent reports an urgent volume request from a zone.
type DemandChangeEvent struct {
	ZoneID  string   `json:"zone_id"`
	PlotIDs []string `json:"plot_ids,omitempty"`
	DeltaM3 float64  `json:"delta_m3"`
	Urgency string   `json:"urgency,omitempty"`
}

// TeamUnavailableEvent reports a crew dropping out for a period.
type TeamUnavailableEvent struct {
	TeamID       string    `json:"team_id"`
	From         time.Time `json:"from"`
	Until        time.Time `json:"until"`
	Reason       string    `json:"reason,omitempty"`
	Replacements []string  `json:"replacements,omitempty"`
}

// ReoptimizeEvent requests a hydraulic re-tune of the remaining operations.
type ReoptimizeEvent struct {
	FromDate time.Time `json:"from_date,omitempty"`
}

// EmergencyOverrideEvent is a dispatcher forcing a gate open or shut.
type EmergencyOverrideEvent struct {
	GateID           string  `json:"gate_id"`
	TargetOpeningPct float64 `json:"target_opening_percent"`
	Operator         string  `json:"operator"`
	Reason           string  `json:"reason"`
}

// =============================================================================
// Gate Failure
// =============================================================================

// HandleGateFailure marks the gate faulted, scopes the impact to the pending
// operations behind it, picks a strategy and patches the schedule:
//
//   - DELAY when the repair is short and the shortage small,
//   - REROUTE when every affected zone has an alternative path with an
//     acceptable capacity loss,
//   - PARTIAL_DELIVERY when only degraded alternatives exist,
//   - EMERGENCY_OVERRIDE when the shortage is severe and nothing reroutes.
func (a *Adapter) HandleGateFailure(ctx context.Context, scheduleID string, ev *GateFailureEvent) (*Record, error) {
	if ev == nil {
		return nil, apperror.New(apperror.CodeNilInput, "gate failure event is nil")
	}
	if _, ok := a.net.Gate(ev.GateID); !ok {
		return nil, apperror.ErrGateNotFound
	}

	sched, unlock, version, err := a.begin(scheduleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if a.controller != nil {
		if err := a.controller.SetStatus(ev.GateID, gates.StatusFault, ev.FailureType); err != nil {
			logger.Log.Warn("Failed to fault gate state", "gate_id", ev.GateID, "error", err)
		}
	}

	ops, err := a.affectedOps(sched, ev.GateID)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ScheduleID:         scheduleID,
		Event:              "gate_failure",
		AffectedOperations: opIDs(ops),
		AffectedTeams:      teamsOf(ops),
	}
	if len(ops) == 0 {
		rec.Strategy = StrategyNone
		rec.Notes = fmt.Sprintf("no pending operations behind %s", ev.GateID)
		return rec, a.finishNoop(ctx, sched, rec, version)
	}

	rec.ShortageM3 = shortage(ops)

	// Required flow per zone is the peak among the affected operations.
	required := map[string]float64{}
	for _, op := range ops {
		zone := a.zoneOf(op.GateID)
		if zone == "" {
			continue
		}
		if op.ExpectedFlowAfterM3s > required[zone] {
			required[zone] = op.ExpectedFlowAfterM3s
		}
	}
	for zone := range required {
		rec.AffectedZones = append(rec.AffectedZones, zone)
	}
	sort.Strings(rec.AffectedZones)

	alts, err := a.alternatives(ev.GateID, required)
	if err != nil {
		return nil, err
	}
	altByZone := map[string]alternative{}
	allWithinLoss := len(alts) > 0
	for _, alt := range alts {
		altByZone[alt.zoneID] = alt
		if alt.lossRatio >= a.tune.RerouteMaxLossRatio {
			allWithinLoss = false
		}
	}

	switch {
	case ev.RepairHours <= a.tune.DelayMaxRepairHours && rec.ShortageM3 < a.tune.DelayMaxShortageM3:
		rec.Strategy = StrategyDelay
		a.applyDelay(ops, time.Duration(ev.RepairHours*float64(time.Hour)),
			fmt.Sprintf("delayed %.1fh for repair of %s", ev.RepairHours, ev.GateID))
	case allWithinLoss && len(altByZone) == len(rec.AffectedZones):
		rec.Strategy = StrategyReroute
		a.applyReroute(sched, ops, altByZone, ev.GateID, false)
	case len(altByZone) > 0:
		rec.Strategy = StrategyPartialDelivery
		a.applyReroute(sched, ops, altByZone, ev.GateID, true)
	case rec.ShortageM3 > a.tune.OverrideShortageM3:
		rec.Strategy = StrategyEmergencyOverride
		for _, op := range ops {
			op.Overridden = true
			op.OverrideReason = fmt.Sprintf("gate %s failed, awaiting dispatcher action", ev.GateID)
		}
	default:
		rec.Strategy = StrategyDelay
		a.applyDelay(ops, time.Duration(ev.RepairHours*float64(time.Hour)),
			fmt.Sprintf("delayed pending repair of %s", ev.GateID))
	}

	if err := a.commit(ctx, sched, rec, version); err != nil {
		return nil, errStale(err)
	}
	return rec, nil
}

// applyDelay pushes the affected operations out by the repair window,
// walking each through cancel and reschedule.
func (a *Adapter) applyDelay(ops []*schedule.Operation, shift time.Duration, note string) {
	if shift <= 0 {
		shift = time.Hour
	}
	for _, op := range ops {
		if op.Status == schedule.OperationScheduled {
			_ = op.Transition(schedule.OperationCancelled)
		}
		_ = op.Transition(schedule.OperationRescheduled)
		op.Date = op.Date.Add(shift)
		op.PlannedStart = op.PlannedStart.Add(shift)
		op.PlannedEnd = op.PlannedEnd.Add(shift)
		op.Notes = note
	}
}

// applyReroute cancels the affected operations and recreates them on the
// best alternative path of their zone. With partial set, the replacement
// flow is clipped to the alternative's bottleneck capacity.
func (a *Adapter) applyReroute(sched *schedule.WeeklySchedule, ops []*schedule.Operation, altByZone map[string]alternative, failedGate string, partial bool) {
	for _, op := range ops {
		if op.Status == schedule.OperationScheduled {
			_ = op.Transition(schedule.OperationCancelled)
		}

		alt, ok := altByZone[a.zoneOf(op.GateID)]
		if !ok || len(alt.path.Gates) == 0 {
			op.Notes = fmt.Sprintf("cancelled, no alternative path past %s", failedGate)
			continue
		}
		op.Notes = fmt.Sprintf("rerouted past %s", failedGate)

		altGate := alt.path.Gates[len(alt.path.Gates)-1]
		flow := op.ExpectedFlowAfterM3s
		if partial && alt.capacityM3s < flow {
			flow = alt.capacityM3s
		}

		repl := schedule.NewOperation(sched.ID, altGate)
		repl.TeamID = op.TeamID
		repl.Date = op.Date
		repl.PlannedStart = op.PlannedStart
		repl.PlannedEnd = op.PlannedEnd
		repl.Sequence = op.Sequence
		repl.ExpectedFlowAfterM3s = flow
		if gate, ok := a.net.Gate(altGate); ok && gate.MaxFlowM3s > 0 {
			repl.TargetOpeningPct = math.Min(flow/gate.MaxFlowM3s*100, 100)
		}
		if partial && flow < op.ExpectedFlowAfterM3s {
			repl.Notes = fmt.Sprintf("partial delivery via %s, %.1f of %.1f m3/s", altGate, flow, op.ExpectedFlowAfterM3s)
		} else {
			repl.Notes = fmt.Sprintf("replaces %s, rerouted via %s", op.ID, altGate)
		}
		sched.Operations = append(sched.Operations, repl)
	}
}

// =============================================================================
// Weather Change
// =============================================================================

// HandleWeatherChange trims demand after significant rain or shifts timing
// after a sharp temperature swing. Small revisions change nothing.
func (a *Adapter) HandleWeatherChange(ctx context.Context, scheduleID string, ev *WeatherChangeEvent) (*Record, error) {
	if ev == nil {
		return nil, apperror.New(apperror.CodeNilInput, "weather change event is nil")
	}

	sched, unlock, version, err := a.begin(scheduleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inScope := func(op *schedule.Operation) bool {
		if len(ev.Zones) == 0 {
			return true
		}
		zone := a.zoneOf(op.GateID)
		for _, z := range ev.Zones {
			if z == zone {
				return true
			}
		}
		return false
	}

	rec := &Record{ScheduleID: scheduleID, Event: "weather_change"}
	var touched []*schedule.Operation

	switch {
	case ev.RainfallMM > a.tune.ReduceDemandRainMM:
		rec.Strategy = StrategyReduceDemand
		cut := a.tune.DemandReductionRatio
		for _, op := range sched.PendingOperations() {
			if !inScope(op) {
				continue
			}
			op.ExpectedFlowAfterM3s *= 1 - cut
			op.TargetOpeningPct *= 1 - cut
			op.Notes = fmt.Sprintf("demand cut %.0f%% after %.0f mm rain", cut*100, ev.RainfallMM)
			touched = append(touched, op)
		}
	case math.Abs(ev.TempChangeC) > a.tune.AdjustTimingTempC:
		rec.Strategy = StrategyAdjustTiming
		shift := a.tune.TimingShift
		for _, op := range sched.PendingOperations() {
			if !inScope(op) {
				continue
			}
			op.PlannedStart = op.PlannedStart.Add(shift)
			op.PlannedEnd = op.PlannedEnd.Add(shift)
			op.Notes = fmt.Sprintf("shifted %s after %.1f C temperature change", shift, ev.TempChangeC)
			touched = append(touched, op)
		}
	default:
		rec.Strategy = StrategyNone
		rec.Notes = "forecast revision below adaptation thresholds"
		return rec, a.finishNoop(ctx, sched, rec, version)
	}

	rec.AffectedOperations = opIDs(touched)
	rec.AffectedTeams = teamsOf(touched)
	if len(touched) == 0 {
		rec.Strategy = StrategyNone
		rec.Notes = "no pending operations in the affected zones"
		return rec, a.finishNoop(ctx, sched, rec, version)
	}

	if err := a.commit(ctx, sched, rec, version); err != nil {
		return nil, errStale(err)
	}
	return rec, nil
}

// =============================================================================
// Demand Change
// =============================================================================

// HandleDemandChange spreads an extra volume request over the zone's pending
// deliveries by raising their flow, capped by the rated gate maximum. An
// emergency request additionally forces the delivery gate immediately.
func (a *Adapter) HandleDemandChange(ctx context.Context, scheduleID string, ev *DemandChangeEvent) (*Record, error) {
	if ev == nil {
		return nil, apperror.New(apperror.CodeNilInput, "demand change event is nil")
	}
	if _, ok := a.net.Zone(ev.ZoneID); !ok {
		return nil, apperror.New(apperror.CodeNotFound, fmt.Sprintf("zone %s not found", ev.ZoneID))
	}

	sched, unlock, version, err := a.begin(scheduleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec := &Record{
		ScheduleID:    scheduleID,
		Event:         "demand_change",
		AffectedZones: []string{ev.ZoneID},
	}
	if ev.DeltaM3 <= 0 {
		rec.Strategy = StrategyNone
		rec.Notes = "non-positive demand delta"
		return rec, a.finishNoop(ctx, sched, rec, version)
	}

	deliveryGates := map[string]bool{}
	for _, gid := range a.net.DeliveryGates(ev.ZoneID) {
		deliveryGates[gid] = true
	}

	var ops []*schedule.Operation
	totalSeconds := 0.0
	for _, op := range sched.PendingOperations() {
		if deliveryGates[op.GateID] {
			ops = append(ops, op)
			totalSeconds += op.PlannedEnd.Sub(op.PlannedStart).Seconds()
		}
	}
	if len(ops) == 0 || totalSeconds <= 0 {
		rec.Strategy = StrategyNone
		rec.Notes = fmt.Sprintf("no pending deliveries to %s, request needs replanning", ev.ZoneID)
		return rec, a.finishNoop(ctx, sched, rec, version)
	}

	rec.Strategy = StrategyIncreaseFlow
	extra := ev.DeltaM3 / totalSeconds
	remaining := 0.0
	for _, op := range ops {
		gate, _ := a.net.Gate(op.GateID)
		want := op.ExpectedFlowAfterM3s + extra
		got := want
		if gate != nil && want > gate.MaxFlowM3s {
			got = gate.MaxFlowM3s
			remaining += (want - got) * op.PlannedEnd.Sub(op.PlannedStart).Seconds()
		}
		op.ExpectedFlowAfterM3s = got
		if gate != nil && gate.MaxFlowM3s > 0 {
			op.TargetOpeningPct = math.Min(got/gate.MaxFlowM3s*100, 100)
		}
		op.Notes = fmt.Sprintf("flow raised for %+.0f m3 demand change in %s", ev.DeltaM3, ev.ZoneID)
	}
	rec.AffectedOperations = opIDs(ops)
	rec.AffectedTeams = teamsOf(ops)
	rec.ShortageM3 = remaining
	if remaining > 0 {
		rec.Notes = fmt.Sprintf("%.0f m3 exceeds gate capacity, carry to next cycle", remaining)
	}

	if ev.Urgency == "emergency" && a.controller != nil {
		first := ops[0]
		if _, err := a.controller.ForceOpening(ctx, first.GateID, first.TargetOpeningPct,
			"dispatcher", fmt.Sprintf("emergency demand in %s", ev.ZoneID)); err != nil {
			logger.Log.Warn("Emergency opening failed", "gate_id", first.GateID, "error", err)
		}
	}

	if err := a.commit(ctx, sched, rec, version); err != nil {
		return nil, errStale(err)
	}
	return rec, nil
}

// =============================================================================
// Team Unavailable
// =============================================================================

// HandleTeamUnavailable reassigns the dropped team's operations to a
// replacement crew, or delays them past the absence when none is offered.
func (a *Adapter) HandleTeamUnavailable(ctx context.Context, scheduleID string, ev *TeamUnavailableEvent) (*Record, error) {
	if ev == nil {
		return nil, apperror.New(apperror.CodeNilInput, "team unavailable event is nil")
	}

	sched, unlock, version, err := a.begin(scheduleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var ops []*schedule.Operation
	for _, op := range sched.PendingOperations() {
		if op.TeamID != ev.TeamID {
			continue
		}
		if !ev.From.IsZero() && op.PlannedStart.Before(ev.From) {
			continue
		}
		if !ev.Until.IsZero() && !op.PlannedStart.Before(ev.Until) {
			continue
		}
		ops = append(ops, op)
	}

	rec := &Record{
		ScheduleID:         scheduleID,
		Event:              "team_unavailable",
		AffectedOperations: opIDs(ops),
		AffectedTeams:      []string{ev.TeamID},
	}
	if len(ops) == 0 {
		rec.Strategy = StrategyNone
		rec.Notes = fmt.Sprintf("team %s has no pending work in the window", ev.TeamID)
		return rec, a.finishNoop(ctx, sched, rec, version)
	}

	if len(ev.Replacements) > 0 {
		rec.Strategy = StrategyReassign
		repl := ev.Replacements[0]
		for _, op := range ops {
			op.TeamID = repl
			op.Notes = fmt.Sprintf("reassigned from %s: %s", ev.TeamID, ev.Reason)
		}
		rec.AffectedTeams = append(rec.AffectedTeams, repl)
	} else {
		rec.Strategy = StrategyDelay
		for _, op := range ops {
			shift := ev.Until.Sub(op.PlannedStart)
			if shift <= 0 {
				shift = time.Hour
			}
			if op.Status == schedule.OperationScheduled {
				_ = op.Transition(schedule.OperationCancelled)
			}
			_ = op.Transition(schedule.OperationRescheduled)
			op.Date = op.Date.Add(shift)
			op.PlannedStart = op.PlannedStart.Add(shift)
			op.PlannedEnd = op.PlannedEnd.Add(shift)
			op.Notes = fmt.Sprintf("delayed, team %s unavailable: %s", ev.TeamID, ev.Reason)
		}
	}

	if err := a.commit(ctx, sched, rec, version); err != nil {
		return nil, errStale(err)
	}
	return rec, nil
}

// =============================================================================
// Reoptimize
// =============================================================================

// Reoptimize re-tunes the gate openings of the remaining operations against
// the current hydraulic state, with completed and in-progress work held as
// fixed boundary conditions.
func (a *Adapter) Reoptimize(ctx context.Context, scheduleID string, ev *ReoptimizeEvent) (*Record, error) {
	if ev == nil {
		ev = &ReoptimizeEvent{}
	}

	sched, unlock, version, err := a.begin(scheduleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec := &Record{ScheduleID: scheduleID, Event: "reoptimize", Strategy: StrategyReoptimize}

	result, err := a.planner.Revalidate(ctx, sched)
	if err != nil {
		return nil, err
	}
	if result == nil {
		rec.Strategy = StrategyNone
		rec.Notes = "nothing pending to reoptimize"
		return rec, a.finishNoop(ctx, sched, rec, version)
	}

	var touched []*schedule.Operation
	for _, op := range sched.PendingOperations() {
		if !ev.FromDate.IsZero() && op.PlannedStart.Before(ev.FromDate) {
			continue
		}
		opening, ok := result.Openings[op.GateID]
		if !ok {
			continue
		}
		gate, _ := a.net.Gate(op.GateID)
		if gate == nil || gate.MaxOpeningM <= 0 {
			continue
		}
		op.TargetOpeningPct = math.Min(opening/gate.MaxOpeningM*100, 100)
		if result.Solve != nil {
			if q, ok := result.Solve.Flows[op.GateID]; ok {
				op.ExpectedFlowAfterM3s = q
			}
		}
		touched = append(touched, op)
	}
	rec.AffectedOperations = opIDs(touched)
	rec.AffectedTeams = teamsOf(touched)
	rec.Notes = fmt.Sprintf("openings re-tuned in %d iterations", result.Iterations)

	if err := a.commit(ctx, sched, rec, version); err != nil {
		return nil, errStale(err)
	}
	return rec, nil
}

// =============================================================================
// Emergency Override
// =============================================================================

// HandleEmergencyOverride forces a gate to the requested opening regardless
// of mode and flags the displaced operations, leaving their state machine
// untouched so field crews still see them.
func (a *Adapter) HandleEmergencyOverride(ctx context.Context, scheduleID string, ev *EmergencyOverrideEvent) (*Record, error) {
	if ev == nil {
		return nil, apperror.New(apperror.CodeNilInput, "emergency override event is nil")
	}
	if a.controller == nil {
		return nil, apperror.New(apperror.CodeInternal, "no gate controller wired")
	}

	sched, unlock, version, err := a.begin(scheduleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := a.controller.ForceOpening(ctx, ev.GateID, ev.TargetOpeningPct, ev.Operator, ev.Reason); err != nil {
		return nil, err
	}

	var touched []*schedule.Operation
	for _, op := range sched.PendingOperations() {
		if op.GateID != ev.GateID {
			continue
		}
		op.Overridden = true
		op.OverrideReason = ev.Reason
		op.OverrideOperator = ev.Operator
		touched = append(touched, op)
	}

	rec := &Record{
		ScheduleID:         scheduleID,
		Event:              "emergency_override",
		Strategy:           StrategyEmergencyOverride,
		AffectedOperations: opIDs(touched),
		AffectedTeams:      teamsOf(touched),
		Notes:              fmt.Sprintf("gate %s forced to %.0f%% by %s", ev.GateID, ev.TargetOpeningPct, ev.Operator),
	}

	if err := a.commit(ctx, sched, rec, version); err != nil {
		return nil, errStale(err)
	}
	return rec, nil
}

// =============================================================================
// Shared
// =============================================================================

// finishNoop records a no-change outcome without bumping the version.
func (a *Adapter) finishNoop(ctx context.Context, sched *schedule.WeeklySchedule, rec *Record, version int64) error {
	rec.ID = uuid.NewString()
	rec.CreatedAt = a.now()
	rec.VersionBefore = version
	rec.VersionAfter = version

	a.history.Append(sched.ID, rec)

	entry := audit.NewEntry().
		Service("adapter").
		Method(rec.Event).
		Action(audit.ActionAdapt).
		Outcome(audit.OutcomeSuccess).
		Resource("schedule", sched.ID).
		Meta("strategy", string(rec.Strategy)).
		Build()
	if err := a.audit.Log(ctx, entry); err != nil {
		logger.Log.Warn("Audit write failed for adaptation", "schedule_id", sched.ID, "error", err)
	}
	return nil
}

func (a *Adapter) zoneOf(gateID string) string {
	gate, ok := a.net.Gate(gateID)
	if !ok {
		return ""
	}
	node, ok := a.net.Node(gate.DownstreamNode)
	if !ok {
		return ""
	}
	return node.ZoneID
}
