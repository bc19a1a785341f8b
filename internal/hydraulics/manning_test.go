package hydraulics

import (
	"math"
	"testing"

	"irrigation/internal/network"
	"irrigation/pkg/apperror"
)

func testReach() *network.Reach {
	return &network.Reach{
		LengthM:      1000,
		BottomWidthM: 4.0,
		SideSlope:    1.5,
		ManningN:     0.025,
		BedSlope:     0.0008,
	}
}

func TestNormalDepth(t *testing.T) {
	r := testReach()

	// 10 m3/s in this section sits near 1.46 m normal depth.
	depth, err := NormalDepth(r, 10.0)
	if err != nil {
		t.Fatal(err)
	}
	if depth < 1.40 || depth > 1.50 {
		t.Errorf("normal depth = %.4f, want in (1.40, 1.50)", depth)
	}
}

func TestNormalDepth_ZeroFlow(t *testing.T) {
	depth, err := NormalDepth(testReach(), 0)
	if err != nil || depth != 0 {
		t.Errorf("NormalDepth(0) = %.4f, %v; want 0, nil", depth, err)
	}
}

func TestNormalDepth_CapacityExceeded(t *testing.T) {
	_, err := NormalDepth(testReach(), 1e6)
	if apperror.Code(err) != apperror.CodeCapacityExceeded {
		t.Errorf("code = %s, want CAPACITY_EXCEEDED", apperror.Code(err))
	}
}

func TestNormalDepth_NilReach(t *testing.T) {
	_, err := NormalDepth(nil, 5.0)
	if apperror.Code(err) != apperror.CodeNilInput {
		t.Errorf("code = %s, want NIL_INPUT", apperror.Code(err))
	}
}

func TestVelocity(t *testing.T) {
	v, err := Velocity(testReach(), 10.0)
	if err != nil {
		t.Fatal(err)
	}
	if v < 1.0 || v > 1.2 {
		t.Errorf("velocity = %.4f, want in (1.0, 1.2)", v)
	}
}

func TestHeadLoss_MatchesBedSlopeAtNormalDepth(t *testing.T) {
	// At normal depth the friction slope equals the bed slope, so the loss
	// over the reach is S0 * L.
	r := testReach()
	hf, err := HeadLoss(r, 10.0)
	if err != nil {
		t.Fatal(err)
	}

	want := r.BedSlope * r.LengthM
	if math.Abs(hf-want) > 0.05 {
		t.Errorf("head loss = %.4f, want %.4f +/- 0.05", hf, want)
	}
}

func TestHeadLoss_ZeroFlow(t *testing.T) {
	hf, err := HeadLoss(testReach(), 0)
	if err != nil || hf != 0 {
		t.Errorf("HeadLoss(0) = %.4f, %v; want 0, nil", hf, err)
	}
}

func TestTravelTime(t *testing.T) {
	tt, err := TravelTime(testReach(), 10.0)
	if err != nil {
		t.Fatal(err)
	}
	// 1000 m at roughly 1.1 m/s.
	if tt < 800 || tt > 1000 {
		t.Errorf("travel time = %.1f s, want in (800, 1000)", tt)
	}
}
