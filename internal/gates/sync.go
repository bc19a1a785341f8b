package gates

import (
	"fmt"
	"math"
	"sort"
	"time"

	"irrigation/internal/hydraulics"
	"irrigation/internal/schedule"
)

// SyncReport reconciles commanded gate state with field measurements.
type SyncReport struct {
	// ByMode partitions gate ids by control mode.
	ByMode map[Mode][]string

	// Conflicts lists gates whose measured opening disagrees with the
	// commanded one by more than the instruction threshold.
	Conflicts []string

	// QualityScore starts at 1.0 and degrades with conflicts and stale
	// synchronization.
	QualityScore float64

	LastSyncAt time.Time
	Warnings   []string
}

// SyncStatus builds the current synchronization report.
func (c *Controller) SyncStatus() *SyncReport {
	c.mu.RLock()
	lastSyncAt := c.lastSyncAt
	ids := make([]string, 0, len(c.states))
	for gid := range c.states {
		ids = append(ids, gid)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	report := &SyncReport{
		ByMode:     make(map[Mode][]string),
		LastSyncAt: lastSyncAt,
	}

	now := c.now()
	for _, gid := range ids {
		st, err := c.snapshot(gid)
		if err != nil {
			continue
		}
		report.ByMode[st.Mode] = append(report.ByMode[st.Mode], gid)

		if st.Measurement != nil &&
			math.Abs(st.Measurement.OpeningPct-st.OpeningPct) > InstructionThresholdPct {
			report.Conflicts = append(report.Conflicts, gid)
		}

		if st.Mode == ModeManual && now.Sub(st.UpdatedAt) > 2*ManualUpdateInterval {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("manual gate %s not updated for %s", gid, now.Sub(st.UpdatedAt).Round(time.Minute)))
		}
	}

	report.QualityScore = 1.0 - 0.1*float64(len(report.Conflicts))
	if lastSyncAt.IsZero() || now.Sub(lastSyncAt) > StaleSyncAfter {
		report.QualityScore -= 0.2
	}
	if report.QualityScore < 0 {
		report.QualityScore = 0
	}
	return report
}

// GenerateManualInstructions compares the optimal openings against the
// commanded state of every manual gate and emits an instruction wherever
// the difference is worth a field trip.
func (c *Controller) GenerateManualInstructions(targets map[string]float64) []*schedule.FieldInstruction {
	c.mu.RLock()
	ids := make([]string, 0, len(c.states))
	for gid := range c.states {
		ids = append(ids, gid)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	var instructions []*schedule.FieldInstruction
	for _, gid := range ids {
		st, err := c.snapshot(gid)
		if err != nil || st.Mode != ModeManual {
			continue
		}
		target, ok := targets[gid]
		if !ok {
			continue
		}
		delta := target - st.OpeningPct
		if math.Abs(delta) <= InstructionThresholdPct {
			continue
		}

		in := &schedule.FieldInstruction{
			GateID:            gid,
			CurrentOpeningPct: st.OpeningPct,
			TargetOpeningPct:  target,
			IssuedAt:          c.now(),
			SafetyChecks: []string{
				"inspect the gate slot for debris before moving",
				"confirm downstream channel is clear of people and equipment",
				"verify upstream level is within the operating band",
			},
		}
		if delta > 0 {
			in.Reason = fmt.Sprintf("open from %.0f%% to %.0f%% to meet current demand", st.OpeningPct, target)
		} else {
			in.Reason = fmt.Sprintf("throttle from %.0f%% to %.0f%%, demand downstream dropped", st.OpeningPct, target)
		}

		gate, ok := c.net.Gate(gid)
		if ok {
			up, _ := c.net.Node(gate.UpstreamNode)
			down, _ := c.net.Node(gate.DownstreamNode)
			if up != nil && down != nil {
				now := hydraulics.GateFlow(gate, up.WaterLevelM, down.WaterLevelM,
					st.OpeningPct/100*gate.MaxOpeningM).FlowM3s
				then := hydraulics.GateFlow(gate, up.WaterLevelM, down.WaterLevelM,
					target/100*gate.MaxOpeningM).FlowM3s
				in.ExpectedDeltaFlowM3s = then - now
			}

			for _, otherID := range c.net.GateIDs() {
				if otherID == gid {
					continue
				}
				other, _ := c.net.Gate(otherID)
				if other != nil && other.DownstreamNode == gate.DownstreamNode {
					in.CoordinationNotes = append(in.CoordinationNotes,
						fmt.Sprintf("gate %s feeds the same node; coordinate timing", otherID))
				}
			}
		}

		instructions = append(instructions, in)
	}
	return instructions
}
