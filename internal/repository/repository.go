// Package repository persists schedules, operations, teams, weather
// adjustments and adaptation history to PostgreSQL. All access goes through
// the shared database.DB handle; every multi-row write is one transaction.
package repository

import (
	"context"
	"time"

	"irrigation/internal/adapter"
	"irrigation/internal/schedule"
	"irrigation/internal/weather"
)

// chunkSize bounds one batch of a result-set scan. Week-long schedules run
// to thousands of operations; scans hand them out in lazy batches instead
// of materializing a quarter of history.
const chunkSize = 500

// ScheduleRepository хранит недельные планы
type ScheduleRepository interface {
	Create(ctx context.Context, s *schedule.WeeklySchedule) error
	GetByID(ctx context.Context, id string) (*schedule.WeeklySchedule, error)
	GetActive(ctx context.Context, year, week int) (*schedule.WeeklySchedule, error)

	// UpdateStatus moves the schedule state under an optimistic version
	// check and returns the new version.
	UpdateStatus(ctx context.Context, id string, status schedule.Status, expectedVersion int64) (int64, error)

	// Patch rewrites the schedule's mutable rows in one transaction,
	// guarded by the same version check. Used by adaptation commits.
	Patch(ctx context.Context, s *schedule.WeeklySchedule, expectedVersion int64) error

	Delete(ctx context.Context, id string) error
}

// OperationRepository обслуживает операции полевых бригад
type OperationRepository interface {
	// UpdateStatus applies one state transition; the previous status is part
	// of the match so a stale client cannot skip states.
	UpdateStatus(ctx context.Context, id string, from, to schedule.OperationStatus, actualOpeningPct float64, at time.Time) error

	ForTeamDay(ctx context.Context, teamID string, date time.Time) ([]*schedule.Operation, error)

	// IterateByWeek streams a week's operations to fn in chunks. fn
	// returning an error stops the scan.
	IterateByWeek(ctx context.Context, year, week int, fn func(batch []*schedule.Operation) error) error
}

// TeamRepository хранит бригады и их доступность
type TeamRepository interface {
	Upsert(ctx context.Context, t *schedule.FieldTeam) error
	GetByID(ctx context.Context, id string) (*schedule.FieldTeam, error)
	ListActive(ctx context.Context) ([]*schedule.FieldTeam, error)
	SetAvailability(ctx context.Context, teamID string, from, until time.Time, available bool, reason string) error
	Unavailability(ctx context.Context, teamID string, day time.Time) ([]AvailabilityWindow, error)
}

// AvailabilityWindow is one recorded absence or presence interval.
type AvailabilityWindow struct {
	From      time.Time
	Until     time.Time
	Available bool
	Reason    string
}

// WeatherRepository хранит корректировки и правила
type WeatherRepository interface {
	// UpsertDaily merges a zone-day adjustment; writes for the same
	// (zone, date) land on one row regardless of arrival order.
	UpsertDaily(ctx context.Context, adj *weather.DailyAdjustment) error

	SaveSummary(ctx context.Context, s *weather.WeeklySummary) error
	SummariesForWeek(ctx context.Context, year, week int) ([]weather.WeeklySummary, error)

	Rules(ctx context.Context) ([]weather.Rule, error)

	// IterateDaily streams a zone's adjustments in chunks, oldest first.
	IterateDaily(ctx context.Context, zoneID string, from, to time.Time, fn func(batch []*weather.DailyAdjustment) error) error
}

// AdaptationRepository хранит журнал адаптаций и команд затворам
type AdaptationRepository interface {
	Insert(ctx context.Context, rec *adapter.Record) error
	ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*adapter.Record, error)
	LogGateOperation(ctx context.Context, op *GateOperationLog) error
}

// GateOperationLog is one audited gate command, kept relationally alongside
// the structured audit stream for SQL reporting.
type GateOperationLog struct {
	ID         string
	GateID     string
	Action     string
	OpeningPct float64
	FlowM3s    float64
	Mode       string
	Operator   string
	Reason     string
	RecordedAt time.Time
}
