package scheduler

import (
	"fmt"
	"sort"
	"time"

	"irrigation/internal/demand"
	"irrigation/internal/hydraulics"
	"irrigation/internal/network"
	"irrigation/internal/router"
	"irrigation/pkg/apperror"
)

// =============================================================================
// Temporal Sequencing
// =============================================================================

const (
	// OpenStagger separates consecutive gate openings along a path so the
	// wave front stays controlled.
	OpenStagger = 2 * time.Minute

	// CloseStagger separates consecutive closings while reaches drain.
	CloseStagger = 5 * time.Minute
)

// GateAction is a single gate movement direction.
type GateAction string

const (
	ActionOpen  GateAction = "open"
	ActionClose GateAction = "close"
)

// IrrigationRequest asks for a volume delivered to a zone at a flow rate.
type IrrigationRequest struct {
	ZoneID   string
	VolumeM3 float64
	FlowM3s  float64
	Priority demand.Priority
}

// GateOperation is one timed gate movement in a sequence.
type GateOperation struct {
	GateID     string
	Action     GateAction
	OpeningPct float64
	Time       time.Time
	Reason     string
}

// requestPlan is one request resolved onto the network.
type requestPlan struct {
	req      IrrigationRequest
	path     *router.Path
	arrival  time.Duration // travel time from sequence start to the zone
	duration time.Duration
}

// SequenceRequests turns irrigation requests into a totally ordered list of
// gate movements starting at the given time.
//
// Per request the source-to-zone path is opened upstream to downstream with
// a two minute stagger, water travels each reach at its Manning velocity,
// irrigation runs volume/flow seconds, and the path closes in reverse with
// a five minute drain stagger. Requests whose combined flow fits the shared
// path prefix run concurrently; the rest queue by priority.
func (p *Planner) SequenceRequests(requests []IrrigationRequest, start time.Time) ([]GateOperation, error) {
	plans := make([]*requestPlan, 0, len(requests))
	for _, req := range requests {
		if req.FlowM3s <= 0 || req.VolumeM3 <= 0 {
			return nil, apperror.NewWithField(apperror.CodeInvalidArgument,
				fmt.Sprintf("request for zone %s needs positive flow and volume", req.ZoneID), "flow_m3s")
		}
		plan, err := p.resolve(req)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	// Higher priority first; zone id as the fixed tiebreak.
	sort.SliceStable(plans, func(i, j int) bool {
		pi, pj := plans[i].req.Priority.Value(), plans[j].req.Priority.Value()
		if pi != pj {
			return pi > pj
		}
		return plans[i].req.ZoneID < plans[j].req.ZoneID
	})

	var ops []GateOperation
	groupStart := start
	for len(plans) > 0 {
		group := []*requestPlan{plans[0]}
		rest := plans[1:]

		// Pull in every later request that still fits the shared gates.
		var deferred []*requestPlan
		for _, cand := range rest {
			if p.fitsGroup(group, cand) {
				group = append(group, cand)
			} else {
				deferred = append(deferred, cand)
			}
		}

		groupOps := p.sequenceGroup(group, groupStart)
		ops = append(ops, groupOps...)

		// The next group starts after this one fully closes.
		last := groupStart
		for _, op := range groupOps {
			if op.Time.After(last) {
				last = op.Time
			}
		}
		groupStart = last.Add(CloseStagger)
		plans = deferred
	}

	sort.SliceStable(ops, func(i, j int) bool {
		if !ops[i].Time.Equal(ops[j].Time) {
			return ops[i].Time.Before(ops[j].Time)
		}
		if ops[i].Action != ops[j].Action {
			return ops[i].Action == ActionOpen
		}
		return ops[i].GateID < ops[j].GateID
	})
	return ops, nil
}

// resolve finds the delivery path and timing for one request.
func (p *Planner) resolve(req IrrigationRequest) (*requestPlan, error) {
	target := ""
	for _, nodeID := range p.net.DeliveryNodeIDs() {
		node, _ := p.net.Node(nodeID)
		if node.ZoneID == req.ZoneID {
			target = nodeID
			break
		}
	}
	if target == "" {
		return nil, apperror.New(apperror.CodeUnreachableZone,
			fmt.Sprintf("zone %s has no delivery node", req.ZoneID))
	}

	path, err := router.ShortestPath(p.net, p.net.SourceID(), target)
	if err != nil {
		return nil, err
	}

	var arrival time.Duration
	for _, gid := range path.Gates {
		gate, _ := p.net.Gate(gid)
		if gate.Reach == nil {
			continue
		}
		tt, err := hydraulics.TravelTime(gate.Reach, req.FlowM3s)
		if err != nil {
			continue
		}
		arrival += time.Duration(tt * float64(time.Second))
	}

	return &requestPlan{
		req:      req,
		path:     path,
		arrival:  arrival,
		duration: time.Duration(req.VolumeM3 / req.FlowM3s * float64(time.Second)),
	}, nil
}

// fitsGroup reports whether a request can run concurrently with the group:
// every gate shared with a group member must carry the combined flow.
func (p *Planner) fitsGroup(group []*requestPlan, cand *requestPlan) bool {
	flows := make(map[string]float64)
	for _, member := range group {
		for _, gid := range member.path.Gates {
			flows[gid] += member.req.FlowM3s
		}
	}
	for _, gid := range cand.path.Gates {
		combined, shared := flows[gid]
		if !shared {
			continue
		}
		gate, _ := p.net.Gate(gid)
		if gate.MaxFlowM3s > 0 && combined+cand.req.FlowM3s > gate.MaxFlowM3s {
			return false
		}
	}
	return true
}

// sequenceGroup emits the open and close movements for requests that run
// concurrently from a common start.
func (p *Planner) sequenceGroup(group []*requestPlan, start time.Time) []GateOperation {
	// Combined flow per gate across the group decides the opening.
	flows := make(map[string]float64)
	for _, member := range group {
		for _, gid := range member.path.Gates {
			flows[gid] += member.req.FlowM3s
		}
	}

	opening := func(gid string) float64 {
		gate, _ := p.net.Gate(gid)
		if gate.MaxFlowM3s <= 0 {
			return 100
		}
		return network.Clamp(flows[gid]/gate.MaxFlowM3s*100, 0, 100)
	}

	// A shared gate stays open until its last user finishes draining.
	closeAt := make(map[string]time.Time)
	for _, member := range group {
		finish := start.Add(member.arrival).Add(member.duration)
		for _, gid := range member.path.Gates {
			if finish.After(closeAt[gid]) {
				closeAt[gid] = finish
			}
		}
	}

	var ops []GateOperation
	opened := make(map[string]bool)
	closed := make(map[string]bool)

	for _, member := range group {
		reason := fmt.Sprintf("deliver %.0f m3 to %s at %.2f m3/s",
			member.req.VolumeM3, member.req.ZoneID, member.req.FlowM3s)

		// Upstream to downstream, staggered; shared gates open once at
		// the earliest slot.
		for i, gid := range member.path.Gates {
			if opened[gid] {
				continue
			}
			opened[gid] = true
			ops = append(ops, GateOperation{
				GateID:     gid,
				Action:     ActionOpen,
				OpeningPct: opening(gid),
				Time:       start.Add(time.Duration(i) * OpenStagger),
				Reason:     reason,
			})
		}

		// Water reaches the zone, irrigates, then the path drains in
		// reverse order. Gates still serving another member are left to
		// that member's close sequence.
		closeStart := start.Add(member.arrival).Add(member.duration)
		stagger := 0
		for i := len(member.path.Gates) - 1; i >= 0; i-- {
			gid := member.path.Gates[i]
			if closed[gid] || closeAt[gid].After(closeStart) {
				continue
			}
			closed[gid] = true
			ops = append(ops, GateOperation{
				GateID: gid,
				Action: ActionClose,
				Time:   closeStart.Add(time.Duration(stagger) * CloseStagger),
				Reason: reason,
			})
			stagger++
		}
	}
	return ops
}
