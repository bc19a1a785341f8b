// Package instructions assembles the weekly field packets: per-team daily
// worksheets listing the gate operations to execute, with manual-gate
// setting instructions attached, rendered to PDF for printed handouts and
// Excel for the zone offices.
package instructions

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"irrigation/internal/gates"
	"irrigation/internal/network"
	"irrigation/internal/schedule"
	"irrigation/pkg/apperror"
)

// Worksheet is one team's work for one day, operations in visit order.
type Worksheet struct {
	TeamID string              `json:"team_id"`
	Team   *schedule.FieldTeam `json:"team,omitempty"`
	Date   time.Time           `json:"date"`

	Operations   []*schedule.Operation        `json:"operations"`
	Instructions []*schedule.FieldInstruction `json:"instructions,omitempty"`
}

// Packet is the printable bundle for one weekly schedule.
type Packet struct {
	ScheduleID string `json:"schedule_id"`
	Year       int    `json:"year"`
	Week       int    `json:"week"`

	Worksheets  []*Worksheet `json:"worksheets"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Builder composes packets from a schedule and the live gate state.
type Builder struct {
	net        *network.Network
	controller *gates.Controller
}

// NewBuilder создаёт сборщик полевых инструкций
func NewBuilder(net *network.Network, controller *gates.Controller) *Builder {
	return &Builder{net: net, controller: controller}
}

// Build groups the schedule's operations into per-team daily worksheets.
// Completed and cancelled work is left out: the packet is what remains to
// be done. Manual gates whose commanded opening is far from the planned
// target get a setting instruction attached to the day they are visited.
func (b *Builder) Build(ctx context.Context, sched *schedule.WeeklySchedule, teams map[string]*schedule.FieldTeam) (*Packet, error) {
	if sched == nil {
		return nil, apperror.New(apperror.CodeNilInput, "schedule is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type dayKey struct {
		teamID string
		day    time.Time
	}
	byDay := make(map[dayKey]*Worksheet)

	for _, op := range sched.Operations {
		switch op.Status {
		case schedule.OperationCompleted, schedule.OperationCancelled, schedule.OperationFailed:
			continue
		}
		key := dayKey{teamID: op.TeamID, day: op.Date.Truncate(24 * time.Hour)}
		ws, ok := byDay[key]
		if !ok {
			ws = &Worksheet{TeamID: op.TeamID, Date: key.day}
			if teams != nil {
				ws.Team = teams[op.TeamID]
			}
			byDay[key] = ws
		}
		ws.Operations = append(ws.Operations, op)
	}

	packet := &Packet{
		ScheduleID:  sched.ID,
		Year:        sched.Year,
		Week:        sched.Week,
		GeneratedAt: time.Now().UTC(),
	}
	for _, ws := range byDay {
		sort.Slice(ws.Operations, func(i, j int) bool {
			if ws.Operations[i].Sequence != ws.Operations[j].Sequence {
				return ws.Operations[i].Sequence < ws.Operations[j].Sequence
			}
			return ws.Operations[i].PlannedStart.Before(ws.Operations[j].PlannedStart)
		})
		b.attachManualInstructions(sched, ws)
		packet.Worksheets = append(packet.Worksheets, ws)
	}
	sort.Slice(packet.Worksheets, func(i, j int) bool {
		if packet.Worksheets[i].TeamID != packet.Worksheets[j].TeamID {
			return packet.Worksheets[i].TeamID < packet.Worksheets[j].TeamID
		}
		return packet.Worksheets[i].Date.Before(packet.Worksheets[j].Date)
	})
	return packet, nil
}

func (b *Builder) attachManualInstructions(sched *schedule.WeeklySchedule, ws *Worksheet) {
	if b.controller == nil {
		return
	}
	targets := make(map[string]float64, len(ws.Operations))
	opByGate := make(map[string]*schedule.Operation, len(ws.Operations))
	for _, op := range ws.Operations {
		targets[op.GateID] = op.TargetOpeningPct
		opByGate[op.GateID] = op
	}

	for _, in := range b.controller.GenerateManualInstructions(targets) {
		in.ID = uuid.NewString()
		in.ScheduleID = sched.ID
		in.TeamID = ws.TeamID
		if op, ok := opByGate[in.GateID]; ok {
			in.OperationID = op.ID
		}
		in.IssuedAt = time.Now().UTC()
		ws.Instructions = append(ws.Instructions, in)
	}
}
