package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"irrigation/internal/demand"
	"irrigation/internal/hydraulics"
	"irrigation/internal/network"
	"irrigation/internal/schedule"
	"irrigation/internal/travel"
	"irrigation/internal/weather"
	"irrigation/pkg/apperror"
	"irrigation/pkg/logger"
)

// Solution reports how a weekly build went, in optimizer terms.
type Solution struct {
	Status         Status
	Gap            float64
	ObjectiveValue float64

	TravelKm       float64
	OperationCount int
	SpillM3        float64

	// FeasibilityTries counts hydraulic verification runs, including the
	// perturbation retries.
	FeasibilityTries int

	// Verification holds the per-day inverse solver results.
	Verification []*hydraulics.OptimizeResult
}

// Planner builds weekly schedules from aggregated demands.
type Planner struct {
	net  *network.Network
	pool *hydraulics.Pool
	opts *Options
}

// New создаёт планировщик недельных расписаний
func New(net *network.Network, pool *hydraulics.Pool, opts *Options) *Planner {
	if opts == nil {
		opts = DefaultOptions()
	}
	if pool == nil {
		pool = hydraulics.NewPool(0)
	}
	return &Planner{net: net, pool: pool, opts: opts}
}

// assignment links a planned operation to its gate and team while the plan
// is under construction.
type assignment struct {
	op       *schedule.Operation
	gate     *network.Gate
	team     *schedule.FieldTeam
	volume   float64
	flowM3s  float64
	dayIndex int
}

// BuildWeekly turns the demand list into a verified weekly schedule.
// Demands are consumed in the order given (the aggregator sorts them by
// weighted priority); blackout dates and time modifiers come from the
// previous week's weather summaries.
func (p *Planner) BuildWeekly(ctx context.Context, year, week int, demands []demand.GateDemand, teams []*schedule.FieldTeam, summaries []weather.WeeklySummary) (*schedule.WeeklySchedule, *Solution, error) {
	if p.net == nil {
		return nil, nil, apperror.ErrNilNetwork
	}

	days := p.operationDays(year, week)
	if len(days) == 0 {
		return nil, nil, apperror.New(apperror.CodeInvalidArgument, "no operation days configured")
	}

	blackout, timeFactor := indexSummaries(summaries)

	sched := schedule.NewWeeklySchedule(year, week)
	sol := &Solution{Status: StatusFeasible}

	teamBusy := make(map[string][]time.Time, len(teams))  // next free time per team per day
	teamCount := make(map[string][]int, len(teams))       // operations per team per day
	for _, t := range teams {
		teamBusy[t.ID] = make([]time.Time, len(days))
		teamCount[t.ID] = make([]int, len(days))
	}

	var assignments []*assignment
	totalDemand := 0.0

	for i := range demands {
		d := &demands[i]
		totalDemand += d.TotalVolumeM3

		gate, ok := p.net.Gate(d.GateID)
		if !ok {
			logger.Log.Warn("Demand for unknown gate spilled", "gate_id", d.GateID, "volume_m3", d.TotalVolumeM3)
			sol.SpillM3 += d.TotalVolumeM3
			continue
		}

		a := p.place(d, gate, days, teams, blackout, timeFactor, teamBusy, teamCount, sched.ID)
		if a == nil {
			sol.SpillM3 += d.TotalVolumeM3
			continue
		}
		assignments = append(assignments, a)
		sched.Operations = append(sched.Operations, a.op)
	}

	if len(assignments) == 0 {
		sol.Status = StatusInfeasible
		sched.Metrics.TotalDemandM3 = totalDemand
		return sched, sol, nil
	}

	verified, err := p.verify(ctx, assignments, sol)
	if err != nil {
		return nil, nil, err
	}

	p.routeTeams(assignments, sol)
	p.fillMetrics(sched, sol, totalDemand)
	p.score(sol, assignments, verified)

	logger.Log.Info("Weekly schedule built",
		"year", year, "week", week,
		"status", string(sol.Status), "gap", sol.Gap,
		"operations", sol.OperationCount, "spill_m3", sol.SpillM3)
	return sched, sol, nil
}

// place finds a day and team for one gate demand and creates the operation.
func (p *Planner) place(d *demand.GateDemand, gate *network.Gate, days []time.Time, teams []*schedule.FieldTeam, blackout map[string]map[string]bool, timeFactor map[string]float64, teamBusy map[string][]time.Time, teamCount map[string][]int, scheduleID string) *assignment {
	flow := d.TotalVolumeM3 / (p.opts.DeliveryHours * 3600)
	if gate.MaxFlowM3s > 0 && flow > gate.MaxFlowM3s {
		flow = gate.MaxFlowM3s
	}
	if flow <= 0 {
		return nil
	}

	durationSec := d.TotalVolumeM3 / flow
	if f, ok := timeFactor[d.ZoneID]; ok {
		durationSec *= f
	}
	duration := time.Duration(durationSec * float64(time.Second))

	node, _ := p.net.Node(gate.DownstreamNode)

	for di, day := range days {
		if blackout[d.ZoneID][day.Format("2006-01-02")] {
			continue
		}

		team := p.pickTeam(d.ZoneID, node, teams, teamCount, di)
		if team == nil && len(teams) > 0 {
			continue
		}

		start := day.Add(p.opts.WorkStart)
		if team != nil && teamBusy[team.ID][di].After(start) {
			start = teamBusy[team.ID][di]
		}
		if rem := start.Sub(day.Add(p.opts.WorkStart)) % p.opts.SlotLength; rem != 0 {
			start = start.Add(p.opts.SlotLength - rem)
		}
		end := start.Add(duration)
		if end.After(day.Add(p.opts.WorkEnd)) {
			continue
		}

		op := schedule.NewOperation(scheduleID, d.GateID)
		op.Date = day
		op.PlannedStart = start
		op.PlannedEnd = end
		op.ExpectedFlowAfterM3s = flow
		if gate.MaxFlowM3s > 0 {
			op.TargetOpeningPct = network.Clamp(flow/gate.MaxFlowM3s*100, 0, 100)
		}
		if team != nil {
			op.TeamID = team.ID
			teamBusy[team.ID][di] = start.Add(p.opts.SlotLength)
			teamCount[team.ID][di]++
		}

		return &assignment{op: op, gate: gate, team: team, volume: d.TotalVolumeM3, flowM3s: flow, dayIndex: di}
	}
	return nil
}

// pickTeam returns the nearest capable team with day capacity, or nil.
func (p *Planner) pickTeam(zoneID string, site *network.Node, teams []*schedule.FieldTeam, teamCount map[string][]int, dayIndex int) *schedule.FieldTeam {
	var best *schedule.FieldTeam
	bestDist := math.Inf(1)

	for _, t := range teams {
		if !t.CanOperate(zoneID) {
			continue
		}
		if t.MaxOperationsPerDay > 0 && teamCount[t.ID][dayIndex] >= t.MaxOperationsPerDay {
			continue
		}
		dist := 0.0
		if site != nil {
			dist = travel.Haversine(t.BaseLat, t.BaseLng, site.Lat, site.Lng)
		}
		if dist < bestDist || (dist == bestDist && best != nil && t.Code < best.Code) {
			best, bestDist = t, dist
		}
	}
	return best
}

// verify checks each operation day against the hydraulic solver, scaling
// the targets down by bisection when the solve misses them. Returns whether
// every day passed within tolerance.
func (p *Planner) verify(ctx context.Context, assignments []*assignment, sol *Solution) (bool, error) {
	byDay := make(map[int][]*assignment)
	for _, a := range assignments {
		byDay[a.dayIndex] = append(byDay[a.dayIndex], a)
	}
	dayIdx := make([]int, 0, len(byDay))
	for di := range byDay {
		dayIdx = append(dayIdx, di)
	}
	sort.Ints(dayIdx)

	allPassed := true
	for _, di := range dayIdx {
		group := byDay[di]

		targets := make(map[string]float64, len(group))
		for _, a := range group {
			targets[a.gate.DownstreamNode] += a.flowM3s
		}

		result, scale, passed, err := p.verifyDay(ctx, targets, sol)
		if err != nil {
			return false, err
		}
		sol.Verification = append(sol.Verification, result)
		if !passed {
			allPassed = false
		}
		if scale < 1 {
			for _, a := range group {
				spilled := a.volume * (1 - scale)
				sol.SpillM3 += spilled
				a.volume -= spilled
				a.flowM3s *= scale
				a.op.ExpectedFlowAfterM3s = a.flowM3s
				if a.gate.MaxFlowM3s > 0 {
					a.op.TargetOpeningPct = network.Clamp(a.flowM3s/a.gate.MaxFlowM3s*100, 0, 100)
				}
			}
		}
		if result != nil && result.Solve != nil {
			for _, a := range group {
				if q, ok := result.Solve.Flows[a.gate.ID]; ok && q > 0 {
					a.op.ExpectedFlowAfterM3s = q
				}
			}
		}
	}
	return allPassed, nil
}

// verifyDay runs the inverse solve at full targets, then bisects the target
// scale down until the worst per-node error fits the tolerance. The passed
// flag is false only when no scale fit within the retry budget.
func (p *Planner) verifyDay(ctx context.Context, targets map[string]float64, sol *Solution) (*hydraulics.OptimizeResult, float64, bool, error) {
	run := func(scale float64) (*hydraulics.OptimizeResult, error) {
		scaled := make(map[string]float64, len(targets))
		for node, q := range targets {
			scaled[node] = q * scale
		}
		sol.FeasibilityTries++
		return p.pool.OptimizeOpenings(ctx, p.net, scaled, nil, nil)
	}

	result, err := run(1.0)
	if err != nil {
		return nil, 0, false, err
	}
	if maxError(result) <= p.opts.FeasibilityTolM3s {
		return result, 1.0, true, nil
	}

	lo, hi := 0.0, 1.0
	best, bestScale := result, 0.0
	for try := 0; try < p.opts.MaxPerturbations; try++ {
		mid := (lo + hi) / 2
		r, err := run(mid)
		if err != nil {
			return nil, 0, false, err
		}
		if maxError(r) <= p.opts.FeasibilityTolM3s {
			best, bestScale = r, mid
			lo = mid
		} else {
			hi = mid
		}
	}
	if bestScale == 0 {
		// Nothing fit: keep the full-target incumbent and let the caller
		// mark the plan as fallback.
		return result, hi, false, nil
	}
	return best, bestScale, true, nil
}

func maxError(r *hydraulics.OptimizeResult) float64 {
	if r == nil {
		return math.Inf(1)
	}
	worst := 0.0
	for _, e := range r.Errors {
		if a := math.Abs(e); a > worst {
			worst = a
		}
	}
	return worst
}

// Revalidate re-checks a patched schedule hydraulically. Pending operations
// become targets; completed and in-progress operations are untouched and
// seed the opening vector as boundary conditions.
func (p *Planner) Revalidate(ctx context.Context, sched *schedule.WeeklySchedule) (*hydraulics.OptimizeResult, error) {
	targets := make(map[string]float64)
	initial := make(map[string]float64)

	for _, op := range sched.Operations {
		gate, ok := p.net.Gate(op.GateID)
		if !ok {
			continue
		}
		switch {
		case op.Status.Immutable():
			initial[op.GateID] = op.TargetOpeningPct / 100 * gate.MaxOpeningM
			if op.ExpectedFlowAfterM3s > 0 {
				targets[gate.DownstreamNode] += op.ExpectedFlowAfterM3s
			}
		case op.Status == schedule.OperationScheduled || op.Status == schedule.OperationRescheduled:
			targets[gate.DownstreamNode] += op.ExpectedFlowAfterM3s
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return p.pool.OptimizeOpenings(ctx, p.net, targets, initial, nil)
}

// routeTeams orders each team's day with the travel planner and stamps the
// visit sequence onto the operations.
func (p *Planner) routeTeams(assignments []*assignment, sol *Solution) {
	type teamDay struct {
		teamID string
		day    int
	}
	groups := make(map[teamDay][]*assignment)
	for _, a := range assignments {
		if a.team == nil {
			continue
		}
		key := teamDay{a.team.ID, a.dayIndex}
		groups[key] = append(groups[key], a)
	}

	keys := make([]teamDay, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].teamID != keys[j].teamID {
			return keys[i].teamID < keys[j].teamID
		}
		return keys[i].day < keys[j].day
	})

	for _, key := range keys {
		group := groups[key]
		team := group[0].team

		stops := make([]travel.Stop, 0, len(group))
		byGate := make(map[string]*assignment, len(group))
		for _, a := range group {
			node, _ := p.net.Node(a.gate.DownstreamNode)
			if node == nil {
				continue
			}
			stops = append(stops, travel.Stop{ID: a.gate.ID, Lat: node.Lat, Lng: node.Lng})
			byGate[a.gate.ID] = a
		}

		route := travel.PlanRoute(travel.Stop{Lat: team.BaseLat, Lng: team.BaseLng}, stops, team.VehicleSpeedKmh)
		sol.TravelKm += route.DistanceKm
		for seq, gateID := range route.Order {
			if a, ok := byGate[gateID]; ok {
				a.op.Sequence = seq + 1
			}
		}
	}
}

func (p *Planner) fillMetrics(sched *schedule.WeeklySchedule, sol *Solution, totalDemand float64) {
	allocated := 0.0
	labor := 0.0
	for _, op := range sched.Operations {
		allocated += op.ExpectedFlowAfterM3s * op.PlannedEnd.Sub(op.PlannedStart).Seconds()
		labor += (op.PlannedEnd.Sub(op.PlannedStart) + travel.ServiceTime).Hours()
	}

	sched.Metrics = schedule.Metrics{
		TotalDemandM3: totalDemand,
		AllocatedM3:   allocated,
		TravelKm:      sol.TravelKm,
		LaborHours:    labor,
	}
	if totalDemand > 0 {
		sched.Metrics.EfficiencyPct = network.Clamp(allocated/totalDemand*100, 0, 100)
	}
}

// score computes the objective, a lower bound, and the resulting status.
func (p *Planner) score(sol *Solution, assignments []*assignment, verified bool) {
	w := p.opts.Weights
	sol.OperationCount = len(assignments)
	sol.ObjectiveValue = w.Travel*sol.TravelKm + w.Changes*float64(sol.OperationCount) + w.Spill*sol.SpillM3/1000

	// Every scheduled demand needs at least one operation; travel and
	// spill bound at zero.
	bound := w.Changes * float64(sol.OperationCount)
	if sol.ObjectiveValue > 0 {
		sol.Gap = (sol.ObjectiveValue - bound) / sol.ObjectiveValue
	}

	switch {
	case !verified:
		sol.Status = StatusFallback
	case sol.SpillM3 == 0 && sol.Gap <= p.opts.GapTarget:
		sol.Status = StatusOptimal
	default:
		sol.Status = StatusFeasible
	}
}

// operationDays returns the configured weekdays of one ISO week, midnight
// UTC.
func (p *Planner) operationDays(year, week int) []time.Time {
	monday := isoWeekStart(year, week)

	var days []time.Time
	for _, wd := range p.opts.OperationDays {
		offset := (int(wd) - int(time.Monday) + 7) % 7
		days = append(days, monday.AddDate(0, 0, offset))
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// isoWeekStart returns the Monday of an ISO week. January 4th is always in
// week one.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
	weekday := (int(jan4.Weekday()) - int(time.Monday) + 7) % 7
	monday := jan4.AddDate(0, 0, -weekday)
	return monday.AddDate(0, 0, (week-1)*7)
}

func indexSummaries(summaries []weather.WeeklySummary) (map[string]map[string]bool, map[string]float64) {
	blackout := make(map[string]map[string]bool)
	timeFactor := make(map[string]float64)
	for _, s := range summaries {
		if len(s.BlackoutDates) > 0 {
			dates := make(map[string]bool, len(s.BlackoutDates))
			for _, d := range s.BlackoutDates {
				dates[d.Format("2006-01-02")] = true
			}
			blackout[s.ZoneID] = dates
		}
		if s.TimeModifier > 0 {
			timeFactor[s.ZoneID] = 1 + s.TimeModifier/100
		}
	}
	return blackout, timeFactor
}

// String renders the solution the way the optimizer logs report it.
func (s *Solution) String() string {
	return fmt.Sprintf("%s gap=%.3f obj=%.1f ops=%d travel=%.1fkm spill=%.0fm3",
		s.Status, s.Gap, s.ObjectiveValue, s.OperationCount, s.TravelKm, s.SpillM3)
}
