// Package scheduler turns aggregated gate demands into a weekly plan of
// team-assigned gate operations, verifies the plan hydraulically, and
// sequences individual irrigation requests into timed gate movements.
package scheduler

import "time"

// Status classifies a planning result the way an optimizer would report it.
type Status string

const (
	// StatusOptimal means the plan met the gap target with nothing spilled.
	StatusOptimal Status = "optimal"

	// StatusFeasible means the plan is valid but above the gap target.
	StatusFeasible Status = "feasible"

	// StatusFallback means the hydraulic check forced the greedy fallback.
	StatusFallback Status = "fallback"

	// StatusInfeasible means no demand could be scheduled at all.
	StatusInfeasible Status = "infeasible"
)

// Weights are the objective coefficients: travel km, operation count, and
// spilled (unallocated) volume.
type Weights struct {
	Travel  float64
	Changes float64
	Spill   float64
}

// Options configures the weekly planner.
type Options struct {
	// OperationDays are the weekdays work is planned on.
	OperationDays []time.Weekday

	// WorkStart and WorkEnd bound the working window, as offsets from
	// local midnight.
	WorkStart time.Duration
	WorkEnd   time.Duration

	// SlotLength is the planning time grain.
	SlotLength time.Duration

	// DeliveryHours sizes the nominal delivery: the target flow is the
	// demand volume spread over this many hours, capped by the gate.
	DeliveryHours float64

	Weights Weights

	// GapTarget is the relative gap under which a plan counts as optimal.
	GapTarget float64

	// FeasibilityTolM3s is the per-target error allowed by the hydraulic
	// verification.
	FeasibilityTolM3s float64

	// MaxPerturbations bounds the target-scaling retries when the
	// verification fails.
	MaxPerturbations int
}

// DefaultOptions returns the planning defaults: Tuesday and Thursday
// operation days, 06:00-18:00 working window, 30-minute slots.
func DefaultOptions() *Options {
	return &Options{
		OperationDays:     []time.Weekday{time.Tuesday, time.Thursday},
		WorkStart:         6 * time.Hour,
		WorkEnd:           18 * time.Hour,
		SlotLength:        30 * time.Minute,
		DeliveryHours:     4,
		Weights:           Weights{Travel: 1, Changes: 10, Spill: 100},
		GapTarget:         0.05,
		FeasibilityTolM3s: 0.1,
		MaxPerturbations:  5,
	}
}
