package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"irrigation/internal/schedule"
	"irrigation/pkg/apperror"
	"irrigation/pkg/database"
	"irrigation/pkg/telemetry"
)

// PostgresTeamRepository PostgreSQL реализация TeamRepository
type PostgresTeamRepository struct {
	db database.DB
}

// NewPostgresTeamRepository создаёт новый репозиторий бригад
func NewPostgresTeamRepository(db database.DB) *PostgresTeamRepository {
	return &PostgresTeamRepository{db: db}
}

func (r *PostgresTeamRepository) Upsert(ctx context.Context, t *schedule.FieldTeam) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTeamRepository.Upsert")
	defer span.End()

	query := `
		INSERT INTO field_teams (
			id, code, name, base_lat, base_lng,
			work_start_minutes, work_end_minutes,
			max_operations_per_day, vehicle_speed_kmh,
			capabilities, assigned_zones, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			base_lat = EXCLUDED.base_lat,
			base_lng = EXCLUDED.base_lng,
			work_start_minutes = EXCLUDED.work_start_minutes,
			work_end_minutes = EXCLUDED.work_end_minutes,
			max_operations_per_day = EXCLUDED.max_operations_per_day,
			vehicle_speed_kmh = EXCLUDED.vehicle_speed_kmh,
			capabilities = EXCLUDED.capabilities,
			assigned_zones = EXCLUDED.assigned_zones,
			status = EXCLUDED.status
	`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.Code, t.Name, t.BaseLat, t.BaseLng,
		int(t.WorkStart.Minutes()), int(t.WorkEnd.Minutes()),
		t.MaxOperationsPerDay, t.VehicleSpeedKmh,
		t.Capabilities, t.AssignedZones, t.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert team: %w", err)
	}
	return nil
}

func (r *PostgresTeamRepository) GetByID(ctx context.Context, id string) (*schedule.FieldTeam, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTeamRepository.GetByID")
	defer span.End()

	query := `
		SELECT
			id, code, name, base_lat, base_lng,
			work_start_minutes, work_end_minutes,
			max_operations_per_day, vehicle_speed_kmh,
			capabilities, assigned_zones, COALESCE(status, '')
		FROM field_teams
		WHERE id = $1
	`
	t, err := scanTeam(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return t, nil
}

func (r *PostgresTeamRepository) ListActive(ctx context.Context) ([]*schedule.FieldTeam, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTeamRepository.ListActive")
	defer span.End()

	query := `
		SELECT
			id, code, name, base_lat, base_lng,
			work_start_minutes, work_end_minutes,
			max_operations_per_day, vehicle_speed_kmh,
			capabilities, assigned_zones, COALESCE(status, '')
		FROM field_teams
		WHERE status = 'active' OR status = '' OR status IS NULL
		ORDER BY code
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*schedule.FieldTeam
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return teams, nil
}

func scanTeam(row pgx.Row) (*schedule.FieldTeam, error) {
	t := &schedule.FieldTeam{}
	var workStart, workEnd int
	var capabilities, zones pgtype.Array[string]

	err := row.Scan(
		&t.ID, &t.Code, &t.Name, &t.BaseLat, &t.BaseLng,
		&workStart, &workEnd,
		&t.MaxOperationsPerDay, &t.VehicleSpeedKmh,
		&capabilities, &zones, &t.Status,
	)
	if err != nil {
		return nil, err
	}
	t.WorkStart = time.Duration(workStart) * time.Minute
	t.WorkEnd = time.Duration(workEnd) * time.Minute
	t.Capabilities = capabilities.Elements
	t.AssignedZones = zones.Elements
	return t, nil
}

func (r *PostgresTeamRepository) SetAvailability(ctx context.Context, teamID string, from, until time.Time, available bool, reason string) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTeamRepository.SetAvailability")
	defer span.End()

	query := `
		INSERT INTO team_availability (team_id, available_from, available_until, available, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, available_from) DO UPDATE SET
			available_until = EXCLUDED.available_until,
			available = EXCLUDED.available,
			reason = EXCLUDED.reason
	`
	_, err := r.db.Exec(ctx, query, teamID, from, until, available, reason)
	if err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	return nil
}

func (r *PostgresTeamRepository) Unavailability(ctx context.Context, teamID string, day time.Time) ([]AvailabilityWindow, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTeamRepository.Unavailability")
	defer span.End()

	dayStart := day.Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT available_from, available_until, available, COALESCE(reason, '')
		FROM team_availability
		WHERE team_id = $1 AND available_from < $2 AND available_until > $3
		ORDER BY available_from
	`
	rows, err := r.db.Query(ctx, query, teamID, dayEnd, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load availability: %w", err)
	}
	defer rows.Close()

	var windows []AvailabilityWindow
	for rows.Next() {
		var w AvailabilityWindow
		if err := rows.Scan(&w.From, &w.Until, &w.Available, &w.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", err)
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return windows, nil
}
