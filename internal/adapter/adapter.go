// Package adapter reacts to runtime events against the active weekly
// schedule: gate failures, weather swings, demand spikes, crew dropouts,
// and operator overrides. Every event is handled under the per-schedule
// lock, patches go through the operation state machine, the patched plan is
// re-verified hydraulically, and the schedule version is bumped with a CAS.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"irrigation/internal/gates"
	"irrigation/internal/network"
	"irrigation/internal/router"
	"irrigation/internal/schedule"
	"irrigation/internal/scheduler"
	"irrigation/pkg/apperror"
	"irrigation/pkg/audit"
	"irrigation/pkg/logger"
)

// Strategy is the adaptation chosen for an event.
type Strategy string

const (
	StrategyNone              Strategy = "NONE"
	StrategyDelay             Strategy = "DELAY"
	StrategyReroute           Strategy = "REROUTE"
	StrategyPartialDelivery   Strategy = "PARTIAL_DELIVERY"
	StrategyEmergencyOverride Strategy = "EMERGENCY_OVERRIDE"
	StrategyReduceDemand      Strategy = "REDUCE_DEMAND"
	StrategyAdjustTiming      Strategy = "ADJUST_TIMING"
	StrategyIncreaseFlow      Strategy = "INCREASE_FLOW"
	StrategyReassign          Strategy = "REASSIGN"
	StrategyReoptimize        Strategy = "REOPTIMIZE"
)

// Default strategy selection thresholds.
const (
	delayMaxRepairHours  = 4.0
	delayMaxShortageM3   = 1000.0
	overrideShortageM3   = 5000.0
	rerouteMaxLossRatio  = 0.2
	reduceDemandRainMM   = 10.0
	adjustTimingTempC    = 5.0
	demandReductionRatio = 0.3
	timingShift          = 2 * time.Hour
)

// Thresholds tune strategy selection for gate failures and weather swings.
type Thresholds struct {
	DelayMaxRepairHours  float64
	DelayMaxShortageM3   float64
	OverrideShortageM3   float64
	RerouteMaxLossRatio  float64
	ReduceDemandRainMM   float64
	AdjustTimingTempC    float64
	DemandReductionRatio float64
	TimingShift          time.Duration
	HistoryDepth         int
}

// DefaultThresholds возвращает пороги стратегий по умолчанию
func DefaultThresholds() Thresholds {
	return Thresholds{
		DelayMaxRepairHours:  delayMaxRepairHours,
		DelayMaxShortageM3:   delayMaxShortageM3,
		OverrideShortageM3:   overrideShortageM3,
		RerouteMaxLossRatio:  rerouteMaxLossRatio,
		ReduceDemandRainMM:   reduceDemandRainMM,
		AdjustTimingTempC:    adjustTimingTempC,
		DemandReductionRatio: demandReductionRatio,
		TimingShift:          timingShift,
		HistoryDepth:         DefaultHistoryDepth,
	}
}

// Record documents one applied adaptation.
type Record struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	Event      string    `json:"event"`
	Strategy   Strategy  `json:"strategy"`
	CreatedAt  time.Time `json:"created_at"`

	AffectedOperations []string `json:"affected_operations,omitempty"`
	AffectedZones      []string `json:"affected_zones,omitempty"`
	AffectedTeams      []string `json:"affected_teams,omitempty"`
	ShortageM3         float64  `json:"shortage_m3,omitempty"`

	VersionBefore int64  `json:"version_before"`
	VersionAfter  int64  `json:"version_after"`
	Notes         string `json:"notes,omitempty"`
}

// Notifier delivers adaptation outcomes to affected field teams.
type Notifier func(teamID string, rec *Record)

// CommitHook observes committed adaptations, schedule still under lock.
// The composition root uses it to persist the patched plan and the record.
type CommitHook func(ctx context.Context, sched *schedule.WeeklySchedule, rec *Record)

// Adapter is the event-driven schedule patcher.
type Adapter struct {
	net        *network.Network
	book       *schedule.Book
	planner    *scheduler.Planner
	controller *gates.Controller
	audit      audit.Logger
	history    *History
	notify     Notifier
	onCommit   CommitHook
	tune       Thresholds
	now        func() time.Time
}

// New создаёт адаптер поверх активного расписания
func New(net *network.Network, book *schedule.Book, planner *scheduler.Planner, controller *gates.Controller, auditLog audit.Logger) *Adapter {
	if auditLog == nil {
		auditLog = audit.Get()
	}
	return &Adapter{
		net:        net,
		book:       book,
		planner:    planner,
		controller: controller,
		audit:      auditLog,
		history:    NewHistory(DefaultHistoryDepth),
		notify:     func(string, *Record) {},
		onCommit:   func(context.Context, *schedule.WeeklySchedule, *Record) {},
		tune:       DefaultThresholds(),
		now:        time.Now,
	}
}

// Tune replaces the strategy thresholds. Zero-valued fields fall back to
// the defaults so a partially filled config section stays safe.
func (a *Adapter) Tune(t Thresholds) {
	def := DefaultThresholds()
	if t.DelayMaxRepairHours <= 0 {
		t.DelayMaxRepairHours = def.DelayMaxRepairHours
	}
	if t.DelayMaxShortageM3 <= 0 {
		t.DelayMaxShortageM3 = def.DelayMaxShortageM3
	}
	if t.OverrideShortageM3 <= 0 {
		t.OverrideShortageM3 = def.OverrideShortageM3
	}
	if t.RerouteMaxLossRatio <= 0 {
		t.RerouteMaxLossRatio = def.RerouteMaxLossRatio
	}
	if t.ReduceDemandRainMM <= 0 {
		t.ReduceDemandRainMM = def.ReduceDemandRainMM
	}
	if t.AdjustTimingTempC <= 0 {
		t.AdjustTimingTempC = def.AdjustTimingTempC
	}
	if t.DemandReductionRatio <= 0 || t.DemandReductionRatio >= 1 {
		t.DemandReductionRatio = def.DemandReductionRatio
	}
	if t.TimingShift <= 0 {
		t.TimingShift = def.TimingShift
	}
	if t.HistoryDepth <= 0 {
		t.HistoryDepth = def.HistoryDepth
	}
	if t.HistoryDepth != a.tune.HistoryDepth {
		a.history = NewHistory(t.HistoryDepth)
	}
	a.tune = t
}

// OnNotify registers the team notification callback.
func (a *Adapter) OnNotify(n Notifier) {
	if n != nil {
		a.notify = n
	}
}

// OnCommit registers the persistence callback.
func (a *Adapter) OnCommit(h CommitHook) {
	if h != nil {
		a.onCommit = h
	}
}

// History returns the adaptation history store.
func (a *Adapter) History() *History {
	return a.history
}

// begin locks the schedule and snapshots its version for the closing CAS.
func (a *Adapter) begin(scheduleID string) (*schedule.WeeklySchedule, func(), int64, error) {
	unlock, err := a.book.Lock(scheduleID)
	if err != nil {
		return nil, nil, 0, err
	}
	sched, err := a.book.Get(scheduleID)
	if err != nil {
		unlock()
		return nil, nil, 0, err
	}
	return sched, unlock, sched.Version, nil
}

// commit re-verifies the patched plan, bumps the version, stores and
// announces the record.
func (a *Adapter) commit(ctx context.Context, sched *schedule.WeeklySchedule, rec *Record, version int64) error {
	if _, err := a.planner.Revalidate(ctx, sched); err != nil {
		return err
	}

	after, err := a.book.BumpVersion(sched.ID, version)
	if err != nil {
		return err
	}
	rec.VersionBefore = version
	rec.VersionAfter = after
	rec.ID = uuid.NewString()
	rec.CreatedAt = a.now()

	a.history.Append(sched.ID, rec)

	entry := audit.NewEntry().
		Service("adapter").
		Method(rec.Event).
		Action(audit.ActionAdapt).
		Outcome(audit.OutcomeSuccess).
		Resource("schedule", sched.ID).
		Meta("strategy", string(rec.Strategy)).
		Meta("affected_operations", len(rec.AffectedOperations)).
		Meta("shortage_m3", rec.ShortageM3).
		Build()
	if err := a.audit.Log(ctx, entry); err != nil {
		logger.Log.Warn("Audit write failed for adaptation", "schedule_id", sched.ID, "error", err)
	}

	a.onCommit(ctx, sched, rec)

	for _, team := range rec.AffectedTeams {
		a.notify(team, rec)
	}

	logger.Log.Info("Schedule adapted",
		"schedule_id", sched.ID, "event", rec.Event,
		"strategy", string(rec.Strategy), "version", after)
	return nil
}

// affectedOps returns the pending operations hit by a gate failure: those
// on the failed gate itself or on any gate downstream of it.
func (a *Adapter) affectedOps(sched *schedule.WeeklySchedule, gateID string) ([]*schedule.Operation, error) {
	downstream, err := router.DownstreamGates(a.net, gateID)
	if err != nil {
		return nil, err
	}
	hit := map[string]bool{gateID: true}
	for _, gid := range downstream {
		hit[gid] = true
	}

	var ops []*schedule.Operation
	for _, op := range sched.PendingOperations() {
		if hit[op.GateID] {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// shortage estimates the undelivered volume of the affected operations.
func shortage(ops []*schedule.Operation) float64 {
	total := 0.0
	for _, op := range ops {
		total += op.ExpectedFlowAfterM3s * op.PlannedEnd.Sub(op.PlannedStart).Seconds()
	}
	return total
}

func teamsOf(ops []*schedule.Operation) []string {
	seen := map[string]bool{}
	var teams []string
	for _, op := range ops {
		if op.TeamID != "" && !seen[op.TeamID] {
			seen[op.TeamID] = true
			teams = append(teams, op.TeamID)
		}
	}
	return teams
}

func opIDs(ops []*schedule.Operation) []string {
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	return ids
}

// alternative describes a reroute option for one zone.
type alternative struct {
	zoneID      string
	path        *router.Path
	capacityM3s float64
	lossRatio   float64
}

// alternatives enumerates reroute paths per affected zone, scoring each by
// how much of the required flow its bottleneck can carry.
func (a *Adapter) alternatives(gateID string, requiredM3s map[string]float64) ([]alternative, error) {
	zones, err := router.AffectedZones(a.net, gateID)
	if err != nil {
		return nil, err
	}
	blocked := map[string]bool{gateID: true}

	var alts []alternative
	for _, zone := range zones {
		required := requiredM3s[zone]

		var best *alternative
		for _, path := range router.ZoneDeliveryPaths(a.net, zone, blocked) {
			openings := map[string]float64{}
			for _, gid := range path.Gates {
				gate, _ := a.net.Gate(gid)
				openings[gid] = gate.MaxOpeningM
			}
			capacity := router.BottleneckFlow(a.net, path, openings, nil)
			loss := 0.0
			if required > 0 && capacity < required {
				loss = (required - capacity) / required
			}
			if best == nil || capacity > best.capacityM3s {
				best = &alternative{zoneID: zone, path: path, capacityM3s: capacity, lossRatio: loss}
			}
		}
		if best != nil {
			alts = append(alts, *best)
		}
	}
	return alts, nil
}

// errStale wraps a CAS failure for callers that retry.
func errStale(err error) error {
	if apperror.Code(err) == apperror.CodeVersionConflict {
		return fmt.Errorf("schedule changed concurrently: %w", err)
	}
	return err
}
