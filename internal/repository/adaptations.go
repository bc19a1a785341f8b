package repository

import (
	"context"
	"fmt"

	"irrigation/internal/adapter"
	"irrigation/pkg/database"
	"irrigation/pkg/telemetry"
)

// PostgresAdaptationRepository PostgreSQL реализация AdaptationRepository
type PostgresAdaptationRepository struct {
	db database.DB
}

// NewPostgresAdaptationRepository создаёт новый репозиторий адаптаций
func NewPostgresAdaptationRepository(db database.DB) *PostgresAdaptationRepository {
	return &PostgresAdaptationRepository{db: db}
}

func (r *PostgresAdaptationRepository) Insert(ctx context.Context, rec *adapter.Record) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresAdaptationRepository.Insert")
	defer span.End()

	query := `
		INSERT INTO schedule_adaptations (
			id, schedule_id, event, strategy,
			affected_operations, affected_zones, affected_teams, shortage_m3,
			version_before, version_after, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.ScheduleID, rec.Event, rec.Strategy,
		rec.AffectedOperations, rec.AffectedZones, rec.AffectedTeams, rec.ShortageM3,
		rec.VersionBefore, rec.VersionAfter, rec.Notes, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert adaptation: %w", err)
	}
	return nil
}

func (r *PostgresAdaptationRepository) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*adapter.Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresAdaptationRepository.ListBySchedule")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id, schedule_id, event, strategy,
			affected_operations, affected_zones, affected_teams, shortage_m3,
			version_before, version_after, COALESCE(notes, ''), created_at
		FROM schedule_adaptations
		WHERE schedule_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list adaptations: %w", err)
	}
	defer rows.Close()

	var records []*adapter.Record
	for rows.Next() {
		rec := &adapter.Record{}
		err := rows.Scan(
			&rec.ID, &rec.ScheduleID, &rec.Event, &rec.Strategy,
			&rec.AffectedOperations, &rec.AffectedZones, &rec.AffectedTeams, &rec.ShortageM3,
			&rec.VersionBefore, &rec.VersionAfter, &rec.Notes, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adaptation: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

func (r *PostgresAdaptationRepository) LogGateOperation(ctx context.Context, op *GateOperationLog) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresAdaptationRepository.LogGateOperation")
	defer span.End()

	query := `
		INSERT INTO gate_operations (
			id, gate_id, action, opening_percent, flow_m3s,
			mode, operator, reason, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		op.ID, op.GateID, op.Action, op.OpeningPct, op.FlowM3s,
		op.Mode, op.Operator, op.Reason, op.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log gate operation: %w", err)
	}
	return nil
}
