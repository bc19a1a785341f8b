package hydraulics

import (
	"context"
	"fmt"
	"math"
	"time"

	"irrigation/internal/network"
)

// =============================================================================
// Hydraulic Network Solver
// =============================================================================
//
// Steady-state fixed-point iteration over node levels and gate flows.
// Each sweep:
//
//  1. Recomputes every gate flow from the current levels and the given
//     openings.
//  2. Routes the mass imbalance of each interior node into a level change
//     through the node's surface area, under-relaxed by Omega. The step is
//     capped and the node's relaxation is halved whenever its imbalance
//     changes sign, so steep flow-level slopes cannot sustain oscillation.
//  3. Blends reach head loss into interior downstream levels.
//  4. Converges when the largest level change falls below LevelTolerance.
//
// Boundary conditions: the reservoir level is fixed, and leaf delivery nodes
// are free outfalls with fixed levels (delivered water leaves the system).
// The solver never fails on physical impossibility; it reports convergence,
// residuals and warnings and lets the caller judge the result.
// =============================================================================

// Options configures a solver run. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// Omega is the under-relaxation factor on level updates.
	Omega float64

	// DeltaT is the storage-routing pseudo time step.
	DeltaT time.Duration

	// MaxIterations caps the fixed-point sweeps.
	MaxIterations int

	// LevelTolerance is the convergence bound on the largest level change.
	LevelTolerance float64

	// HeadLossWeight blends reach friction into downstream levels.
	HeadLossWeight float64
}

const (
	// maxLevelStepM caps a single sweep's level change on one node.
	maxLevelStepM = 0.25

	// minRelax floors the adaptive per-node relaxation.
	minRelax = 0.01
)

// DefaultOptions returns the calibrated solver configuration.
func DefaultOptions() *Options {
	return &Options{
		Omega:          0.7,
		DeltaT:         60 * time.Second,
		MaxIterations:  100,
		LevelTolerance: 1e-3,
		HeadLossWeight: 0.5,
	}
}

// WithMaxIterations sets the sweep cap and returns the options for chaining.
func (o *Options) WithMaxIterations(n int) *Options {
	o.MaxIterations = n
	return o
}

// Result is the complete outcome of a forward solve.
type Result struct {
	// Converged reports whether the level iteration settled within the
	// sweep cap.
	Converged bool

	// Iterations is the number of sweeps performed.
	Iterations int

	// MaxLevelErrorM is the largest level change of the final sweep.
	MaxLevelErrorM float64

	// MaxImbalanceM3s is the largest interior-node mass imbalance of the
	// final sweep.
	MaxImbalanceM3s float64

	// Levels holds the final water level per node.
	Levels map[string]float64

	// Flows holds the final discharge per gate.
	Flows map[string]float64

	// Warnings lists dry nodes, capacity overruns, calibration
	// extrapolations and non-convergence.
	Warnings []string

	// Duration is the wall-clock solve time.
	Duration time.Duration
}

// Solve runs the forward fixed-point iteration for a fixed opening vector.
//
// openings maps gate id to opening in meters; gates absent from the map are
// closed. The network is not mutated. Cancellation is checked once per sweep;
// a cancelled solve returns the state reached so far with Converged=false.
func Solve(ctx context.Context, net *network.Network, openings map[string]float64, opts *Options) *Result {
	start := time.Now()
	if opts == nil {
		opts = DefaultOptions()
	}

	result := &Result{
		Levels: net.InitialLevels(),
		Flows:  make(map[string]float64),
	}

	nodeIDs := net.NodeIDs()
	gateIDs := net.GateIDs()
	sourceID := net.SourceID()

	// Interior nodes carry storage; the source and leaf outfalls are fixed.
	interior := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if id == sourceID || len(net.OutgoingGates(id)) == 0 {
			continue
		}
		interior = append(interior, id)
	}

	dt := opts.DeltaT.Seconds()
	dry := make(map[string]bool)
	prev := make(map[string]float64, len(nodeIDs))

	// Per-node adaptive relaxation. A sign flip of the imbalance means the
	// last step overshot the equilibrium level.
	relax := make(map[string]float64, len(interior))
	lastImb := make(map[string]float64, len(interior))
	for _, id := range interior {
		relax[id] = opts.Omega
	}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		result.Iterations = iter + 1

		select {
		case <-ctx.Done():
			result.Warnings = append(result.Warnings, "solve cancelled: "+ctx.Err().Error())
			result.Duration = time.Since(start)
			return result
		default:
		}

		for id, lvl := range result.Levels {
			prev[id] = lvl
		}

		// Sweep 1: gate flows from current levels.
		for _, gid := range gateIDs {
			gate, _ := net.Gate(gid)
			flow := GateFlow(gate, result.Levels[gate.UpstreamNode], result.Levels[gate.DownstreamNode], openings[gid])
			result.Flows[gid] = flow.FlowM3s
		}

		maxImbalance := 0.0

		// Sweep 2: storage routing on interior nodes.
		for _, id := range interior {
			node, _ := net.Node(id)

			imbalance := 0.0
			if pg := net.ParentGate(id); pg != "" {
				imbalance += result.Flows[pg]
			}
			for _, gid := range net.OutgoingGates(id) {
				imbalance -= result.Flows[gid]
			}
			if math.Abs(imbalance) > maxImbalance {
				maxImbalance = math.Abs(imbalance)
			}

			if lastImb[id]*imbalance < 0 {
				relax[id] = math.Max(relax[id]/2, minRelax)
			}
			lastImb[id] = imbalance

			step := network.Clamp(relax[id]*imbalance*dt/node.SurfaceAreaM2,
				-maxLevelStepM, maxLevelStepM)
			level := result.Levels[id] + step
			level = network.Clamp(level,
				node.InvertElevationM+network.MinDepthM,
				node.InvertElevationM+network.MaxDepthM)

			result.Levels[id] = level

			if level-node.InvertElevationM <= network.MinDepthM+network.Epsilon && !dry[id] {
				dry[id] = true
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("node %s: depth at minimum %.2f m", id, network.MinDepthM))
			}
		}

		// Sweep 3: reach head-loss correction on interior downstream levels.
		for _, gid := range gateIDs {
			gate, _ := net.Gate(gid)
			if gate.Reach == nil || result.Flows[gid] <= 0 {
				continue
			}
			down, _ := net.Node(gate.DownstreamNode)
			if gate.DownstreamNode == sourceID || len(net.OutgoingGates(gate.DownstreamNode)) == 0 {
				continue
			}

			hf, err := HeadLoss(gate.Reach, result.Flows[gid])
			if err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("gate %s: %v", gid, err))
				continue
			}

			w := opts.HeadLossWeight
			blended := (1-w)*result.Levels[gate.DownstreamNode] + w*(result.Levels[gate.UpstreamNode]-hf)
			blended = network.Clamp(blended,
				down.InvertElevationM+network.MinDepthM,
				down.InvertElevationM+network.MaxDepthM)

			result.Levels[gate.DownstreamNode] = blended
		}

		// Convergence is judged on the net level change of the whole sweep:
		// storage routing and head-loss blending act on the same levels and
		// settle jointly.
		maxDelta := 0.0
		for _, id := range nodeIDs {
			if delta := math.Abs(result.Levels[id] - prev[id]); delta > maxDelta {
				maxDelta = delta
			}
		}

		result.MaxLevelErrorM = maxDelta
		result.MaxImbalanceM3s = maxImbalance

		if maxDelta < opts.LevelTolerance {
			result.Converged = true
			break
		}
	}

	if !result.Converged {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no convergence after %d iterations, max level change %.4f m",
				result.Iterations, result.MaxLevelErrorM))
	}

	result.Duration = time.Since(start)
	return result
}

// DeliveryFlows sums the converged flows into each zone over its delivery
// gates. The map is keyed by zone id.
func DeliveryFlows(net *network.Network, flows map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	for _, zoneID := range net.ZoneIDs() {
		total := 0.0
		for _, gid := range net.DeliveryGates(zoneID) {
			total += flows[gid]
		}
		out[zoneID] = total
	}
	return out
}
