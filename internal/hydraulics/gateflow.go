// Package hydraulics implements the steady-state hydraulic models of the
// irrigation network: the calibrated gate discharge model, the Manning
// trapezoidal reach model, and the fixed-point network solver with its
// inverse (opening optimization) mode.
//
// # Determinism
//
// All computations iterate over nodes and gates in sorted order, so the same
// network and inputs always produce the same result.
//
// # Thread Safety
//
// Solver functions never mutate the network; they work on their own level and
// flow maps. Concurrent solves are safe. Use Pool to bound CPU usage when
// running many solves at once.
package hydraulics

import (
	"fmt"
	"math"

	"irrigation/internal/network"
)

// =============================================================================
// Gate Flow Model
// =============================================================================
//
// Discharge through a calibrated gate:
//
//	Q = Cs * L * Hs * sqrt(2g * dH)
//	Cs = clamp(K1 * (Hs/Go)^K2, CsMin, CsMax)
//
// where L is the gate width, Hs the downstream depth over the sill, dH the
// level difference across the gate, and Go the opening. (K1, K2) come from
// field calibration; the Hs/Go ratio is the calibration variable and results
// outside the calibrated interval are flagged, not rejected.
// =============================================================================

const (
	// CsMin and CsMax bound the discharge coefficient.
	CsMin = 0.3
	CsMax = 1.0

	// InverseMaxIterations caps the opening search for a target flow.
	InverseMaxIterations = 50

	// InverseTolerance is the target-flow convergence bound in m3/s.
	InverseTolerance = 1e-3

	// InverseMaxStepM clips a single Newton step on the opening.
	InverseMaxStepM = 0.2

	// InverseInitialOpeningM is the starting point of the opening search.
	InverseInitialOpeningM = 1.0
)

// GateFlowResult is the outcome of one discharge evaluation.
type GateFlowResult struct {
	// FlowM3s is the computed discharge. Zero when the gate passes no water.
	FlowM3s float64

	// DischargeCoeff is the clamped discharge coefficient Cs.
	DischargeCoeff float64

	// HsGoRatio is the calibration variable Hs/Go. Zero when Go is zero.
	HsGoRatio float64

	// WithinCalibration reports whether Hs/Go fell inside the calibrated
	// interval. Out-of-range results are extrapolations.
	WithinCalibration bool

	// Warnings lists non-fatal conditions: clamped opening, extrapolation,
	// discharge above the rated maximum.
	Warnings []string
}

// GateFlow evaluates the discharge model for one gate.
//
// upstreamLevel and downstreamLevel are absolute water levels in meters;
// openingM is the gate opening in meters. The flow is zero when the head
// difference is non-positive, the downstream level is at or below the sill,
// or the gate is closed. The opening is clamped into the gate's physical
// range with a warning rather than rejected.
func GateFlow(gate *network.Gate, upstreamLevel, downstreamLevel, openingM float64) *GateFlowResult {
	result := &GateFlowResult{WithinCalibration: true}

	opening := openingM
	if opening < gate.MinOpeningM {
		if openingM > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("gate %s: opening %.3f m below minimum %.3f m, clamped", gate.ID, openingM, gate.MinOpeningM))
		}
		opening = gate.MinOpeningM
	}
	if opening > gate.MaxOpeningM {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("gate %s: opening %.3f m above maximum %.3f m, clamped", gate.ID, openingM, gate.MaxOpeningM))
		opening = gate.MaxOpeningM
	}

	dH := upstreamLevel - downstreamLevel
	hsDepth := downstreamLevel - gate.SillElevationM

	if dH <= 0 || hsDepth <= 0 || opening <= 0 {
		return result
	}

	ratio := hsDepth / opening
	result.HsGoRatio = ratio

	if gate.CalHsGoMax > 0 && (ratio < gate.CalHsGoMin || ratio > gate.CalHsGoMax) {
		result.WithinCalibration = false
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("gate %s: Hs/Go %.3f outside calibration [%.2f, %.2f]",
				gate.ID, ratio, gate.CalHsGoMin, gate.CalHsGoMax))
	}

	cs := network.Clamp(gate.K1*math.Pow(ratio, gate.K2), CsMin, CsMax)
	result.DischargeCoeff = cs
	result.FlowM3s = cs * gate.WidthM * hsDepth * math.Sqrt(2*network.Gravity*dH)

	if gate.MaxFlowM3s > 0 && result.FlowM3s > gate.MaxFlowM3s {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("gate %s: discharge %.2f m3/s exceeds rated %.2f m3/s",
				gate.ID, result.FlowM3s, gate.MaxFlowM3s))
	}
	return result
}

// InverseResult is the outcome of an opening search for a target flow.
type InverseResult struct {
	// OpeningM is the best opening found.
	OpeningM float64

	// FlowM3s is the discharge at OpeningM.
	FlowM3s float64

	// ErrorM3s is |target - flow| at OpeningM.
	ErrorM3s float64

	// Iterations is the number of Newton steps taken.
	Iterations int

	// Converged reports whether the error fell below InverseTolerance.
	Converged bool
}

// RequiredOpening searches for the opening that delivers targetFlow under
// fixed levels.
//
// Newton iteration on Q(Go) using dQ/dGo = -K2 * Q / Go, which follows from
// differentiating Cs = K1 * (Hs/Go)^K2. Steps are clipped to InverseMaxStepM
// and the opening is kept inside the gate's physical range. The search keeps
// the best opening seen and reports non-convergence instead of failing, so
// callers can decide whether an approximate opening is usable. Unreachable
// targets terminate early: the search stops once the opening pins at a
// physical bound or cycles around one.
func RequiredOpening(gate *network.Gate, upstreamLevel, downstreamLevel, targetFlow float64) *InverseResult {
	best := &InverseResult{
		OpeningM: network.Clamp(InverseInitialOpeningM, gate.MinOpeningM, gate.MaxOpeningM),
		ErrorM3s: math.Inf(1),
	}

	opening := best.OpeningM
	prevOpening := math.Inf(1)
	for i := 0; i < InverseMaxIterations; i++ {
		best.Iterations = i + 1

		q := GateFlow(gate, upstreamLevel, downstreamLevel, opening).FlowM3s
		errAbs := math.Abs(targetFlow - q)
		if errAbs < best.ErrorM3s {
			best.OpeningM = opening
			best.FlowM3s = q
			best.ErrorM3s = errAbs
		}
		if errAbs < InverseTolerance {
			best.Converged = true
			return best
		}

		var next float64
		dQdGo := -gate.K2 * q / math.Max(opening, network.Epsilon)
		if dQdGo < network.Epsilon {
			// The derivative vanishes when the gate passes no water or Cs
			// sits on a clamp bound; nudge the opening instead of dividing
			// by zero.
			next = network.Clamp(opening+InverseMaxStepM, gate.MinOpeningM, gate.MaxOpeningM)
		} else {
			step := network.Clamp((targetFlow-q)/dQdGo, -InverseMaxStepM, InverseMaxStepM)
			next = network.Clamp(opening+step, gate.MinOpeningM, gate.MaxOpeningM)
		}
		if math.Abs(next-opening) < network.Epsilon {
			// Pinned at a physical bound; the target is unreachable.
			break
		}
		if next == prevOpening {
			// Bouncing between a bound and the nudge step; the target is
			// unreachable.
			break
		}
		prevOpening = opening
		opening = next
	}
	return best
}
