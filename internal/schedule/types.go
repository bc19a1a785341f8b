// Package schedule holds the weekly plan entities and their state machines:
// schedules move draft to active to completed, operations move through the
// field execution lifecycle, and the book keeps the unique active schedule
// per ISO week.
package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Metrics summarizes a weekly plan.
type Metrics struct {
	TotalDemandM3 float64 `json:"total_demand_m3"`
	AllocatedM3   float64 `json:"allocated_m3"`
	EfficiencyPct float64 `json:"efficiency_percent"`
	TravelKm      float64 `json:"travel_km"`
	LaborHours    float64 `json:"labor_hours"`
}

// WeeklySchedule is one week's irrigation plan.
type WeeklySchedule struct {
	ID      string  `json:"id"`
	Year    int     `json:"year"`
	Week    int     `json:"week"`
	Status  Status  `json:"status"`
	Version int64   `json:"version"`
	Metrics Metrics `json:"metrics"`

	Operations   []*Operation        `json:"operations"`
	Instructions []*FieldInstruction `json:"instructions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWeeklySchedule создаёт черновик плана на неделю
func NewWeeklySchedule(year, week int) *WeeklySchedule {
	now := time.Now().UTC()
	return &WeeklySchedule{
		ID:        uuid.NewString(),
		Year:      year,
		Week:      week,
		Status:    StatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Operation returns the operation with the given id, or nil.
func (s *WeeklySchedule) Operation(id string) *Operation {
	for _, op := range s.Operations {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// OperationsForGate returns the operations touching one gate.
func (s *WeeklySchedule) OperationsForGate(gateID string) []*Operation {
	var ops []*Operation
	for _, op := range s.Operations {
		if op.GateID == gateID {
			ops = append(ops, op)
		}
	}
	return ops
}

// PendingOperations returns operations that still await execution and may
// be modified by an adaptation.
func (s *WeeklySchedule) PendingOperations() []*Operation {
	var ops []*Operation
	for _, op := range s.Operations {
		if op.Status == OperationScheduled || op.Status == OperationRescheduled {
			ops = append(ops, op)
		}
	}
	return ops
}

// Clone возвращает глубокую копию плана
func (s *WeeklySchedule) Clone() *WeeklySchedule {
	if s == nil {
		return nil
	}
	c := *s
	c.Operations = make([]*Operation, len(s.Operations))
	for i, op := range s.Operations {
		c.Operations[i] = op.Clone()
	}
	c.Instructions = make([]*FieldInstruction, len(s.Instructions))
	for i, in := range s.Instructions {
		dup := *in
		dup.SafetyChecks = append([]string(nil), in.SafetyChecks...)
		dup.CoordinationNotes = append([]string(nil), in.CoordinationNotes...)
		c.Instructions[i] = &dup
	}
	return &c
}

// Operation is one planned gate movement assigned to a field team.
type Operation struct {
	ID         string `json:"id"`
	ScheduleID string `json:"schedule_id"`
	GateID     string `json:"gate_id"`
	TeamID     string `json:"team_id,omitempty"`

	Date         time.Time `json:"operation_date"`
	PlannedStart time.Time `json:"planned_start_time"`
	PlannedEnd   time.Time `json:"planned_end_time"`

	// Sequence orders the operations of one team within a day.
	Sequence int `json:"sequence"`

	TargetOpeningPct      float64 `json:"target_opening_percent"`
	ExpectedFlowBeforeM3s float64 `json:"expected_flow_before_m3s"`
	ExpectedFlowAfterM3s  float64 `json:"expected_flow_after_m3s"`

	Status OperationStatus `json:"status"`

	ActualStart      *time.Time `json:"actual_start_time,omitempty"`
	ActualEnd        *time.Time `json:"actual_end_time,omitempty"`
	ActualOpeningPct float64    `json:"actual_opening_percent,omitempty"`

	// Overridden flags operations displaced by an emergency override; the
	// status machine is unaffected, the override is recorded alongside.
	Overridden       bool   `json:"overridden,omitempty"`
	OverrideReason   string `json:"override_reason,omitempty"`
	OverrideOperator string `json:"override_operator,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// NewOperation создаёт запланированную операцию
func NewOperation(scheduleID, gateID string) *Operation {
	return &Operation{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		GateID:     gateID,
		Status:     OperationScheduled,
	}
}

// Clone возвращает копию операции
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	if o.ActualStart != nil {
		t := *o.ActualStart
		c.ActualStart = &t
	}
	if o.ActualEnd != nil {
		t := *o.ActualEnd
		c.ActualEnd = &t
	}
	return &c
}

// FieldTeam is an operations crew that executes manual gate work.
type FieldTeam struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`

	BaseLat float64 `json:"base_lat"`
	BaseLng float64 `json:"base_lng"`

	// Working hours as offsets from local midnight.
	WorkStart time.Duration `json:"work_start"`
	WorkEnd   time.Duration `json:"work_end"`

	MaxOperationsPerDay int     `json:"max_operations_per_day"`
	VehicleSpeedKmh     float64 `json:"vehicle_speed_kmh"`

	Capabilities  []string `json:"capabilities,omitempty"`
	AssignedZones []string `json:"assigned_zones,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// CanOperate reports whether the team covers the given zone. Teams without
// zone assignments cover everything.
func (t *FieldTeam) CanOperate(zoneID string) bool {
	if len(t.AssignedZones) == 0 {
		return true
	}
	for _, z := range t.AssignedZones {
		if z == zoneID {
			return true
		}
	}
	return false
}

// FieldInstruction tells a manual-gate operator what to set and why.
type FieldInstruction struct {
	ID          string `json:"id"`
	ScheduleID  string `json:"schedule_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	GateID      string `json:"gate_id"`
	TeamID      string `json:"team_id,omitempty"`

	CurrentOpeningPct    float64 `json:"current_opening_percent"`
	TargetOpeningPct     float64 `json:"target_opening_percent"`
	ExpectedDeltaFlowM3s float64 `json:"expected_delta_flow_m3s"`

	Reason            string   `json:"reason"`
	SafetyChecks      []string `json:"safety_checks,omitempty"`
	CoordinationNotes []string `json:"coordination_notes,omitempty"`

	IssuedAt time.Time `json:"issued_at"`
}
