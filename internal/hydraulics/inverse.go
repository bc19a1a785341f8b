package hydraulics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"irrigation/internal/network"
)

// =============================================================================
// Inverse Mode: Opening Optimization
// =============================================================================
//
// Given target delivery flows, find an opening vector that approximates them.
// Outer loop of forward solves; after each solve every gate on the path from
// the source to a delivery node is scaled by the node's relative flow error:
//
//	Go <- Go * (1 + sign(e) * alpha * |e| / Q_target)
//
// The loop keeps the best opening vector seen and stops when the summed
// absolute error drops below TargetTolerance.
// =============================================================================

const (
	// OptimizeMaxIterations caps the outer forward-solve loop.
	OptimizeMaxIterations = 20

	// OptimizeAlpha scales the relative-error opening adjustment.
	OptimizeAlpha = 0.3

	// TargetTolerance is the summed delivery-flow error bound in m3/s.
	TargetTolerance = 0.1
)

// OptimizeResult is the outcome of an opening optimization.
type OptimizeResult struct {
	// Openings is the best opening vector found, keyed by gate id.
	Openings map[string]float64

	// TotalErrorM3s is the summed absolute delivery error at Openings.
	TotalErrorM3s float64

	// Errors holds the per-node delivery error at Openings.
	Errors map[string]float64

	// Iterations is the number of outer forward solves.
	Iterations int

	// Converged reports whether TotalErrorM3s fell below TargetTolerance.
	Converged bool

	// Solve is the forward result for the best opening vector.
	Solve *Result

	// Duration is the wall-clock optimization time.
	Duration time.Duration
}

// OptimizeOpenings tunes gate openings so that each delivery node in targets
// receives its target flow.
//
// targets maps delivery node ids to flows in m3/s. initial seeds the opening
// vector; gates on a target path that are absent from it start half-open.
// The best vector over all iterations is returned even when the loop does
// not converge, together with its forward solve.
func OptimizeOpenings(ctx context.Context, net *network.Network, targets map[string]float64, initial map[string]float64, opts *Options) *OptimizeResult {
	start := time.Now()
	if opts == nil {
		opts = DefaultOptions()
	}

	nodeIDs := make([]string, 0, len(targets))
	for id := range targets {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	// Gates on the source-to-delivery path of each target node, found by
	// walking parent gates upward. The network is a tree, so the walk is
	// unique and terminates at the source.
	pathGates := make(map[string][]string, len(targets))
	openings := make(map[string]float64)
	for gid, v := range initial {
		openings[gid] = v
	}
	for _, id := range nodeIDs {
		var gates []string
		cur := id
		for {
			gid := net.ParentGate(cur)
			if gid == "" {
				break
			}
			gates = append(gates, gid)
			if _, ok := openings[gid]; !ok {
				gate, _ := net.Gate(gid)
				openings[gid] = gate.MaxOpeningM / 2
			}
			gate, _ := net.Gate(gid)
			cur = gate.UpstreamNode
		}
		pathGates[id] = gates
	}

	best := &OptimizeResult{TotalErrorM3s: math.Inf(1)}

loop:
	for iter := 0; iter < OptimizeMaxIterations; iter++ {
		best.Iterations = iter + 1

		select {
		case <-ctx.Done():
			// Fall through to the result backfill; a cancelled optimization
			// still returns a usable shell.
			break loop
		default:
		}

		solve := Solve(ctx, net, openings, opts)

		totalErr := 0.0
		errors := make(map[string]float64, len(targets))
		for _, id := range nodeIDs {
			actual := 0.0
			if pg := net.ParentGate(id); pg != "" {
				actual = solve.Flows[pg]
			}
			e := targets[id] - actual
			errors[id] = e
			totalErr += math.Abs(e)
		}

		if totalErr < best.TotalErrorM3s {
			best.TotalErrorM3s = totalErr
			best.Errors = errors
			best.Solve = solve
			best.Openings = make(map[string]float64, len(openings))
			for gid, v := range openings {
				best.Openings[gid] = v
			}
		}

		if totalErr < TargetTolerance {
			best.Converged = true
			break
		}

		for _, id := range nodeIDs {
			target := targets[id]
			if target <= 0 {
				continue
			}
			e := errors[id]
			factor := 1 + math.Copysign(1, e)*OptimizeAlpha*math.Abs(e)/target
			for _, gid := range pathGates[id] {
				gate, _ := net.Gate(gid)
				openings[gid] = network.Clamp(openings[gid]*factor, 0, gate.MaxOpeningM)
			}
		}
	}

	if best.Solve == nil {
		best.Solve = &Result{
			Warnings: []string{fmt.Sprintf("optimization produced no solve in %d iterations", best.Iterations)},
		}
	}
	best.Duration = time.Since(start)
	return best
}
