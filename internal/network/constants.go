package network

import "math"

// Physical and numerical constants shared by the hydraulic components.
const (
	// Gravity is the gravitational acceleration in m/s².
	Gravity = 9.81

	// Epsilon is the tolerance for float comparisons.
	Epsilon = 1e-9

	// MinDepthM is the minimum allowed water depth above a node invert.
	MinDepthM = 0.1

	// MaxDepthM is the maximum allowed water depth above a node invert.
	MaxDepthM = 5.0

	// MaxGateOpeningM is the physical ceiling on any gate opening.
	MaxGateOpeningM = 5.0

	// DefaultSurfaceMainCanalM2 is the default surface area for main-canal nodes.
	DefaultSurfaceMainCanalM2 = 5000.0

	// DefaultSurfaceOtherM2 is the default surface area for all other nodes.
	DefaultSurfaceOtherM2 = 1000.0
)

// FloatEquals сравнивает два float с точностью Epsilon
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// Clamp ограничивает значение диапазоном [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
