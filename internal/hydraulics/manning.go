package hydraulics

import (
	"math"

	"irrigation/internal/network"
	"irrigation/pkg/apperror"
)

// =============================================================================
// Manning Reach Model
// =============================================================================
//
// Uniform flow in a trapezoidal canal section:
//
//	Q = (1/n) * A * R^(2/3) * sqrt(S0)
//	A = b*y + m*y^2        (flow area)
//	P = b + 2y*sqrt(1+m^2) (wetted perimeter)
//	R = A / P              (hydraulic radius)
//
// Normal depth is found by bisection; head loss over a reach uses the
// friction slope Sf = (n*v)^2 / R^(4/3) evaluated at normal depth.
// =============================================================================

const (
	// normalDepthMinM and normalDepthMaxM bracket the bisection.
	normalDepthMinM = 0.01
	normalDepthMaxM = 10.0

	// normalDepthTol is the bisection convergence bound in meters.
	normalDepthTol = 1e-6

	normalDepthMaxIter = 100
)

// FlowArea returns the trapezoidal flow area at depth y.
func FlowArea(r *network.Reach, y float64) float64 {
	return r.BottomWidthM*y + r.SideSlope*y*y
}

// WettedPerimeter returns the wetted perimeter at depth y.
func WettedPerimeter(r *network.Reach, y float64) float64 {
	return r.BottomWidthM + 2*y*math.Sqrt(1+r.SideSlope*r.SideSlope)
}

// HydraulicRadius returns A/P at depth y.
func HydraulicRadius(r *network.Reach, y float64) float64 {
	p := WettedPerimeter(r, y)
	if p <= 0 {
		return 0
	}
	return FlowArea(r, y) / p
}

// manningFlow returns the uniform-flow discharge at depth y.
func manningFlow(r *network.Reach, y float64) float64 {
	area := FlowArea(r, y)
	radius := HydraulicRadius(r, y)
	if area <= 0 || radius <= 0 {
		return 0
	}
	return area * math.Pow(radius, 2.0/3.0) * math.Sqrt(r.BedSlope) / r.ManningN
}

// NormalDepth solves for the depth carrying flowM3s under uniform-flow
// conditions, by bisection on [0.01, 10] m.
//
// Returns an error when the flow exceeds what the section can carry at the
// upper bracket; callers treat that as a capacity violation.
func NormalDepth(r *network.Reach, flowM3s float64) (float64, error) {
	if r == nil {
		return 0, apperror.New(apperror.CodeNilInput, "reach is nil")
	}
	if flowM3s <= 0 {
		return 0, nil
	}
	if manningFlow(r, normalDepthMaxM) < flowM3s {
		return 0, apperror.New(apperror.CodeCapacityExceeded,
			"flow exceeds section capacity at maximum depth")
	}

	lo, hi := normalDepthMinM, normalDepthMaxM
	for i := 0; i < normalDepthMaxIter && hi-lo > normalDepthTol; i++ {
		mid := (lo + hi) / 2
		if manningFlow(r, mid) < flowM3s {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, nil
}

// Velocity returns the mean velocity at normal depth for flowM3s.
func Velocity(r *network.Reach, flowM3s float64) (float64, error) {
	depth, err := NormalDepth(r, flowM3s)
	if err != nil {
		return 0, err
	}
	area := FlowArea(r, depth)
	if area <= 0 {
		return 0, nil
	}
	return flowM3s / area, nil
}

// HeadLoss returns the friction head loss over the full reach length when
// carrying flowM3s, evaluated at normal depth.
//
// On capacity overrun the loss is unknown; the solver treats it as zero and
// surfaces the capacity violation separately.
func HeadLoss(r *network.Reach, flowM3s float64) (float64, error) {
	if flowM3s <= 0 {
		return 0, nil
	}
	depth, err := NormalDepth(r, flowM3s)
	if err != nil {
		return 0, err
	}

	area := FlowArea(r, depth)
	radius := HydraulicRadius(r, depth)
	if area <= 0 || radius <= 0 {
		return 0, nil
	}

	v := flowM3s / area
	sf := math.Pow(r.ManningN*v, 2) / math.Pow(radius, 4.0/3.0)
	return sf * r.LengthM, nil
}

// TravelTime returns the water travel time through the reach in seconds at
// the given flow, from the mean velocity at normal depth.
func TravelTime(r *network.Reach, flowM3s float64) (float64, error) {
	v, err := Velocity(r, flowM3s)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, nil
	}
	return r.LengthM / v, nil
}
