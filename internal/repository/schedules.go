package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"irrigation/internal/schedule"
	"irrigation/pkg/apperror"
	"irrigation/pkg/database"
	"irrigation/pkg/telemetry"
)

// PostgresScheduleRepository PostgreSQL реализация ScheduleRepository
type PostgresScheduleRepository struct {
	db database.DB
}

// NewPostgresScheduleRepository создаёт новый репозиторий планов
func NewPostgresScheduleRepository(db database.DB) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db}
}

func (r *PostgresScheduleRepository) Create(ctx context.Context, s *schedule.WeeklySchedule) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresScheduleRepository.Create")
	defer span.End()

	return database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO weekly_schedules (
				id, year, week, status, version,
				total_demand_m3, allocated_m3, efficiency_percent,
				travel_km, labor_hours
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			s.ID, s.Year, s.Week, s.Status, s.Version,
			s.Metrics.TotalDemandM3, s.Metrics.AllocatedM3, s.Metrics.EfficiencyPct,
			s.Metrics.TravelKm, s.Metrics.LaborHours,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}

		for _, op := range s.Operations {
			if err := insertOperation(ctx, tx, op); err != nil {
				return err
			}
		}
		for _, in := range s.Instructions {
			if err := insertInstruction(ctx, tx, s.ID, in); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertOperation(ctx context.Context, tx pgx.Tx, op *schedule.Operation) error {
	query := `
		INSERT INTO scheduled_operations (
			id, schedule_id, gate_id, team_id,
			operation_date, planned_start_time, planned_end_time, sequence,
			target_opening_percent, expected_flow_before_m3s, expected_flow_after_m3s,
			status, actual_start_time, actual_end_time, actual_opening_percent,
			overridden, override_reason, override_operator, notes
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := tx.Exec(ctx, query,
		op.ID, op.ScheduleID, op.GateID, op.TeamID,
		op.Date, op.PlannedStart, op.PlannedEnd, op.Sequence,
		op.TargetOpeningPct, op.ExpectedFlowBeforeM3s, op.ExpectedFlowAfterM3s,
		op.Status, op.ActualStart, op.ActualEnd, op.ActualOpeningPct,
		op.Overridden, op.OverrideReason, op.OverrideOperator, op.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation %s: %w", op.ID, err)
	}
	return nil
}

func insertInstruction(ctx context.Context, tx pgx.Tx, scheduleID string, in *schedule.FieldInstruction) error {
	query := `
		INSERT INTO field_instructions (
			id, schedule_id, operation_id, gate_id, team_id,
			current_opening_percent, target_opening_percent, expected_delta_flow_m3s,
			reason, safety_checks, coordination_notes, issued_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := tx.Exec(ctx, query,
		in.ID, scheduleID, in.OperationID, in.GateID, in.TeamID,
		in.CurrentOpeningPct, in.TargetOpeningPct, in.ExpectedDeltaFlowM3s,
		in.Reason, in.SafetyChecks, in.CoordinationNotes, in.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instruction %s: %w", in.ID, err)
	}
	return nil
}

func (r *PostgresScheduleRepository) GetByID(ctx context.Context, id string) (*schedule.WeeklySchedule, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresScheduleRepository.GetByID")
	defer span.End()

	query := `
		SELECT
			id, year, week, status, version,
			total_demand_m3, allocated_m3, efficiency_percent,
			travel_km, labor_hours, created_at, updated_at
		FROM weekly_schedules
		WHERE id = $1
	`
	s := &schedule.WeeklySchedule{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.Year, &s.Week, &s.Status, &s.Version,
		&s.Metrics.TotalDemandM3, &s.Metrics.AllocatedM3, &s.Metrics.EfficiencyPct,
		&s.Metrics.TravelKm, &s.Metrics.LaborHours, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	ops, err := r.operationsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Operations = ops
	return s, nil
}

func (r *PostgresScheduleRepository) GetActive(ctx context.Context, year, week int) (*schedule.WeeklySchedule, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresScheduleRepository.GetActive")
	defer span.End()

	query := `SELECT id FROM weekly_schedules WHERE year = $1 AND week = $2 AND status = 'active'`
	var id string
	if err := r.db.QueryRow(ctx, query, year, week).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to find active schedule: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PostgresScheduleRepository) operationsOf(ctx context.Context, scheduleID string) ([]*schedule.Operation, error) {
	query := `
		SELECT
			id, schedule_id, gate_id, COALESCE(team_id, ''),
			operation_date, planned_start_time, planned_end_time, sequence,
			target_opening_percent, expected_flow_before_m3s, expected_flow_after_m3s,
			status, actual_start_time, actual_end_time, COALESCE(actual_opening_percent, 0),
			overridden, COALESCE(override_reason, ''), COALESCE(override_operator, ''), COALESCE(notes, '')
		FROM scheduled_operations
		WHERE schedule_id = $1
		ORDER BY planned_start_time, sequence
	`
	rows, err := r.db.Query(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load operations: %w", err)
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

func scanOperation(rows pgx.Rows) (*schedule.Operation, error) {
	op := &schedule.Operation{}
	err := rows.Scan(
		&op.ID, &op.ScheduleID, &op.GateID, &op.TeamID,
		&op.Date, &op.PlannedStart, &op.PlannedEnd, &op.Sequence,
		&op.TargetOpeningPct, &op.ExpectedFlowBeforeM3s, &op.ExpectedFlowAfterM3s,
		&op.Status, &op.ActualStart, &op.ActualEnd, &op.ActualOpeningPct,
		&op.Overridden, &op.OverrideReason, &op.OverrideOperator, &op.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}
	return op, nil
}

func (r *PostgresScheduleRepository) UpdateStatus(ctx context.Context, id string, status schedule.Status, expectedVersion int64) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresScheduleRepository.UpdateStatus")
	defer span.End()

	query := `
		UPDATE weekly_schedules
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING version
	`
	var version int64
	err := r.db.QueryRow(ctx, query, status, id, expectedVersion).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, r.versionOrNotFound(ctx, id)
		}
		return 0, fmt.Errorf("failed to update schedule status: %w", err)
	}
	return version, nil
}

// versionOrNotFound distinguishes a lost CAS from a missing row.
func (r *PostgresScheduleRepository) versionOrNotFound(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM weekly_schedules WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check schedule: %w", err)
	}
	if !exists {
		return apperror.ErrScheduleNotFound
	}
	return apperror.ErrVersionConflict
}

func (r *PostgresScheduleRepository) Patch(ctx context.Context, s *schedule.WeeklySchedule, expectedVersion int64) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresScheduleRepository.Patch")
	defer span.End()

	return database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE weekly_schedules
			SET version = version + 1, updated_at = NOW(),
				total_demand_m3 = $1, allocated_m3 = $2, efficiency_percent = $3,
				travel_km = $4, labor_hours = $5
			WHERE id = $6 AND version = $7
			RETURNING version
		`
		var version int64
		err := tx.QueryRow(ctx, query,
			s.Metrics.TotalDemandM3, s.Metrics.AllocatedM3, s.Metrics.EfficiencyPct,
			s.Metrics.TravelKm, s.Metrics.LaborHours,
			s.ID, expectedVersion,
		).Scan(&version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperror.ErrVersionConflict
			}
			return fmt.Errorf("failed to patch schedule: %w", err)
		}
		s.Version = version

		upsert := `
			INSERT INTO scheduled_operations (
				id, schedule_id, gate_id, team_id,
				operation_date, planned_start_time, planned_end_time, sequence,
				target_opening_percent, expected_flow_before_m3s, expected_flow_after_m3s,
				status, actual_start_time, actual_end_time, actual_opening_percent,
				overridden, override_reason, override_operator, notes
			) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (id) DO UPDATE SET
				team_id = EXCLUDED.team_id,
				operation_date = EXCLUDED.operation_date,
				planned_start_time = EXCLUDED.planned_start_time,
				planned_end_time = EXCLUDED.planned_end_time,
				sequence = EXCLUDED.sequence,
				target_opening_percent = EXCLUDED.target_opening_percent,
				expected_flow_before_m3s = EXCLUDED.expected_flow_before_m3s,
				expected_flow_after_m3s = EXCLUDED.expected_flow_after_m3s,
				status = EXCLUDED.status,
				overridden = EXCLUDED.overridden,
				override_reason = EXCLUDED.override_reason,
				override_operator = EXCLUDED.override_operator,
				notes = EXCLUDED.notes
		`
		for _, op := range s.Operations {
			// Completed and in-progress rows are never rewritten by a patch.
			if op.Status.Immutable() {
				continue
			}
			_, err := tx.Exec(ctx, upsert,
				op.ID, op.ScheduleID, op.GateID, op.TeamID,
				op.Date, op.PlannedStart, op.PlannedEnd, op.Sequence,
				op.TargetOpeningPct, op.ExpectedFlowBeforeM3s, op.ExpectedFlowAfterM3s,
				op.Status, op.ActualStart, op.ActualEnd, op.ActualOpeningPct,
				op.Overridden, op.OverrideReason, op.OverrideOperator, op.Notes,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert operation %s: %w", op.ID, err)
			}
		}
		return nil
	})
}

func (r *PostgresScheduleRepository) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresScheduleRepository.Delete")
	defer span.End()

	query := `DELETE FROM weekly_schedules WHERE id = $1 AND status <> 'active'`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.deleteConflictOrNotFound(ctx, id)
	}
	return nil
}

func (r *PostgresScheduleRepository) deleteConflictOrNotFound(ctx context.Context, id string) error {
	var status schedule.Status
	err := r.db.QueryRow(ctx, `SELECT status FROM weekly_schedules WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.ErrScheduleNotFound
		}
		return fmt.Errorf("failed to check schedule: %w", err)
	}
	return apperror.New(apperror.CodeScheduleConflict,
		fmt.Sprintf("schedule %s is %s and cannot be deleted", id, status))
}
