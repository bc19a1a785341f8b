package hydraulics

import (
	"math"
	"strings"
	"testing"

	"irrigation/internal/network"
)

func calibratedGate() *network.Gate {
	return &network.Gate{
		ID:             "HG-C-01",
		UpstreamNode:   "Source",
		DownstreamNode: "M(0,0)",
		Type:           network.GateTypeSluice,
		WidthM:         3.0,
		MinOpeningM:    0,
		MaxOpeningM:    3.0,
		SillElevationM: 217.0,
		MaxFlowM3s:     40.0,
		K1:             0.85,
		K2:             -0.15,
		CalHsGoMin:     0.5,
		CalHsGoMax:     5.0,
	}
}

func TestGateFlow_MidCalibration(t *testing.T) {
	// Hu=221, Hs=219, Go=1.5: downstream depth over sill is 2.0 m,
	// Hs/Go=1.333, Cs ~ 0.814, Q ~ 30.6 m3/s.
	g := calibratedGate()
	res := GateFlow(g, 221.0, 219.0, 1.5)

	if math.Abs(res.FlowM3s-30.6) > 0.1 {
		t.Errorf("Q = %.3f, want 30.6 +/- 0.1", res.FlowM3s)
	}
	if math.Abs(res.DischargeCoeff-0.814) > 0.005 {
		t.Errorf("Cs = %.4f, want ~0.814", res.DischargeCoeff)
	}
	if math.Abs(res.HsGoRatio-4.0/3.0) > 1e-9 {
		t.Errorf("Hs/Go = %.4f, want 1.3333", res.HsGoRatio)
	}
	if !res.WithinCalibration {
		t.Error("Hs/Go 1.333 should be within calibration [0.5, 5]")
	}
}

func TestGateFlow_ZeroFlowBoundaries(t *testing.T) {
	g := calibratedGate()

	tests := []struct {
		name     string
		up, down float64
		opening  float64
	}{
		{"no head difference", 219.0, 219.0, 1.5},
		{"reversed head", 218.0, 219.0, 1.5},
		{"downstream at sill", 221.0, 217.0, 1.5},
		{"closed gate", 221.0, 219.0, 0},
		{"negative opening", 221.0, 219.0, -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := GateFlow(g, tt.up, tt.down, tt.opening)
			if res.FlowM3s != 0 {
				t.Errorf("Q = %.4f, want 0", res.FlowM3s)
			}
		})
	}
}

func TestGateFlow_MonotonicInOpening(t *testing.T) {
	g := calibratedGate()

	prev := 0.0
	for _, opening := range []float64{0.5, 1.0, 1.5, 2.0, 2.5, 3.0} {
		res := GateFlow(g, 221.0, 219.0, opening)
		if res.FlowM3s <= 0 {
			t.Fatalf("Q(%.1f) = %.3f, want > 0", opening, res.FlowM3s)
		}
		if res.FlowM3s < prev-network.Epsilon {
			t.Errorf("Q(%.1f) = %.3f decreased from %.3f", opening, res.FlowM3s, prev)
		}
		prev = res.FlowM3s
	}
}

func TestGateFlow_ClampsOpening(t *testing.T) {
	g := calibratedGate()

	over := GateFlow(g, 221.0, 219.0, 4.5)
	atMax := GateFlow(g, 221.0, 219.0, 3.0)
	if math.Abs(over.FlowM3s-atMax.FlowM3s) > network.Epsilon {
		t.Errorf("clamped Q = %.3f, want %.3f", over.FlowM3s, atMax.FlowM3s)
	}
	if len(over.Warnings) == 0 || !strings.Contains(over.Warnings[0], "clamped") {
		t.Errorf("expected clamp warning, got %v", over.Warnings)
	}
}

func TestGateFlow_OutsideCalibration(t *testing.T) {
	g := calibratedGate()

	// Hs/Go = 2.0/0.3 = 6.67 > 5.0
	res := GateFlow(g, 221.0, 219.0, 0.3)
	if res.WithinCalibration {
		t.Error("Hs/Go 6.67 should be flagged as extrapolation")
	}
	if res.FlowM3s <= 0 {
		t.Errorf("extrapolated Q = %.3f, want finite positive", res.FlowM3s)
	}
}

func TestRequiredOpening_Converges(t *testing.T) {
	// Target 25 m3/s at Hu=221, Hs=219 lands at Go ~ 0.39 m within a
	// handful of Newton steps.
	g := calibratedGate()
	inv := RequiredOpening(g, 221.0, 219.0, 25.0)

	if !inv.Converged {
		t.Fatalf("not converged after %d iterations, error %.4f", inv.Iterations, inv.ErrorM3s)
	}
	if inv.Iterations > 10 {
		t.Errorf("iterations = %d, want <= 10", inv.Iterations)
	}
	if inv.OpeningM >= 0.5 {
		t.Errorf("opening = %.3f, want < 0.5", inv.OpeningM)
	}
	if inv.ErrorM3s >= InverseTolerance {
		t.Errorf("error = %.5f, want < %.0e", inv.ErrorM3s, InverseTolerance)
	}

	// Round trip: the flow at the found opening matches the target.
	q := GateFlow(g, 221.0, 219.0, inv.OpeningM).FlowM3s
	if math.Abs(q-25.0) >= InverseTolerance {
		t.Errorf("round trip Q = %.5f, want 25 +/- 1e-3", q)
	}
}

func TestRequiredOpening_UnreachableTarget(t *testing.T) {
	// With Cs floored at 0.3 the gate cannot throttle down to 4.5 m3/s at
	// these levels; the search must report non-convergence, not fail.
	g := calibratedGate()
	inv := RequiredOpening(g, 221.0, 219.0, 4.5)

	if inv.Converged {
		t.Errorf("unexpected convergence at Go=%.3f, Q=%.3f", inv.OpeningM, inv.FlowM3s)
	}
	// The search stops as soon as the opening pins at the closed position
	// instead of burning the whole iteration budget.
	if inv.Iterations == 0 || inv.Iterations >= InverseMaxIterations {
		t.Errorf("iterations = %d, want an early stop below %d", inv.Iterations, InverseMaxIterations)
	}
	if inv.OpeningM != g.MinOpeningM {
		t.Errorf("opening = %.3f, want pinned at the minimum %.3f", inv.OpeningM, g.MinOpeningM)
	}
	if math.Abs(inv.ErrorM3s-4.5) > 1e-9 {
		t.Errorf("best error = %.3f, want 4.5 at the closed gate", inv.ErrorM3s)
	}
}
