package repository

import (
	"context"
	"fmt"
	"time"

	"irrigation/internal/schedule"
	"irrigation/pkg/apperror"
	"irrigation/pkg/database"
	"irrigation/pkg/telemetry"
)

// PostgresOperationRepository PostgreSQL реализация OperationRepository
type PostgresOperationRepository struct {
	db database.DB
}

// NewPostgresOperationRepository создаёт новый репозиторий операций
func NewPostgresOperationRepository(db database.DB) *PostgresOperationRepository {
	return &PostgresOperationRepository{db: db}
}

func (r *PostgresOperationRepository) UpdateStatus(ctx context.Context, id string, from, to schedule.OperationStatus, actualOpeningPct float64, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOperationRepository.UpdateStatus")
	defer span.End()

	if !from.CanTransitionTo(to) {
		return apperror.NewWithField(apperror.CodeInvalidTransition,
			fmt.Sprintf("operation cannot move from %s to %s", from, to), "status")
	}

	// The previous status is part of the match: a stale client loses the
	// race instead of skipping a state.
	query := `
		UPDATE scheduled_operations
		SET status = $1,
			actual_opening_percent = CASE WHEN $2 > 0 THEN $2 ELSE actual_opening_percent END,
			actual_start_time = CASE WHEN $1 = 'in_progress' THEN $3 ELSE actual_start_time END,
			actual_end_time = CASE WHEN $1 IN ('completed', 'failed') THEN $3 ELSE actual_end_time END
		WHERE id = $4 AND status = $5
	`
	result, err := r.db.Exec(ctx, query, to, actualOpeningPct, at, id, from)
	if err != nil {
		return fmt.Errorf("failed to update operation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.transitionConflictOrNotFound(ctx, id, from, to)
	}
	return nil
}

func (r *PostgresOperationRepository) transitionConflictOrNotFound(ctx context.Context, id string, from, to schedule.OperationStatus) error {
	var current schedule.OperationStatus
	err := r.db.QueryRow(ctx, `SELECT status FROM scheduled_operations WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return apperror.ErrOperationNotFound
	}
	return apperror.NewWithField(apperror.CodeInvalidTransition,
		fmt.Sprintf("operation %s is %s, not %s; cannot move to %s", id, current, from, to), "status")
}

func (r *PostgresOperationRepository) ForTeamDay(ctx context.Context, teamID string, date time.Time) ([]*schedule.Operation, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOperationRepository.ForTeamDay")
	defer span.End()

	query := `
		SELECT
			id, schedule_id, gate_id, COALESCE(team_id, ''),
			operation_date, planned_start_time, planned_end_time, sequence,
			target_opening_percent, expected_flow_before_m3s, expected_flow_after_m3s,
			status, actual_start_time, actual_end_time, COALESCE(actual_opening_percent, 0),
			overridden, COALESCE(override_reason, ''), COALESCE(override_operator, ''), COALESCE(notes, '')
		FROM scheduled_operations
		WHERE team_id = $1 AND operation_date = $2
		ORDER BY sequence, planned_start_time
	`
	rows, err := r.db.Query(ctx, query, teamID, date.Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to load team operations: %w", err)
	}
	defer rows.Close()

	var ops []*schedule.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return ops, nil
}

func (r *PostgresOperationRepository) IterateByWeek(ctx context.Context, year, week int, fn func(batch []*schedule.Operation) error) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOperationRepository.IterateByWeek")
	defer span.End()

	// Keyset pagination on (planned_start_time, id); OFFSET would rescan
	// the head of the week on every batch.
	query := `
		SELECT
			o.id, o.schedule_id, o.gate_id, COALESCE(o.team_id, ''),
			o.operation_date, o.planned_start_time, o.planned_end_time, o.sequence,
			o.target_opening_percent, o.expected_flow_before_m3s, o.expected_flow_after_m3s,
			o.status, o.actual_start_time, o.actual_end_time, COALESCE(o.actual_opening_percent, 0),
			o.overridden, COALESCE(o.override_reason, ''), COALESCE(o.override_operator, ''), COALESCE(o.notes, '')
		FROM scheduled_operations o
		JOIN weekly_schedules s ON s.id = o.schedule_id
		WHERE s.year = $1 AND s.week = $2
			AND (o.planned_start_time, o.id) > ($3, $4)
		ORDER BY o.planned_start_time, o.id
		LIMIT $5
	`

	lastTime := time.Time{}
	lastID := ""
	for {
		rows, err := r.db.Query(ctx, query, year, week, lastTime, lastID, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to scan operations: %w", err)
		}

		batch := make([]*schedule.Operation, 0, chunkSize)
		for rows.Next() {
			op, err := scanOperation(rows)
			if err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, op)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows iteration error: %w", err)
		}

		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < chunkSize {
			return nil
		}
		last := batch[len(batch)-1]
		lastTime, lastID = last.PlannedStart, last.ID
	}
}
