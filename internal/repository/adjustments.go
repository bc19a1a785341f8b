package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"irrigation/internal/weather"
	"irrigation/pkg/database"
	"irrigation/pkg/telemetry"
)

// PostgresWeatherRepository PostgreSQL реализация WeatherRepository
type PostgresWeatherRepository struct {
	db database.DB
}

// NewPostgresWeatherRepository создаёт новый репозиторий корректировок
func NewPostgresWeatherRepository(db database.DB) *PostgresWeatherRepository {
	return &PostgresWeatherRepository{db: db}
}

func (r *PostgresWeatherRepository) UpsertDaily(ctx context.Context, adj *weather.DailyAdjustment) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresWeatherRepository.UpsertDaily")
	defer span.End()

	// One row per (zone, date); late or duplicate writes merge into it, so
	// arrival order does not matter.
	query := `
		INSERT INTO weekly_weather_adjustments (
			zone_id, adjustment_date, rule_ids, cancel_irrigation,
			demand_reduction_percent, et_adjustment_percent, time_adjustment_percent
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (zone_id, adjustment_date) DO UPDATE SET
			rule_ids = EXCLUDED.rule_ids,
			cancel_irrigation = EXCLUDED.cancel_irrigation,
			demand_reduction_percent = EXCLUDED.demand_reduction_percent,
			et_adjustment_percent = EXCLUDED.et_adjustment_percent,
			time_adjustment_percent = EXCLUDED.time_adjustment_percent
	`
	_, err := r.db.Exec(ctx, query,
		adj.ZoneID, adj.Date.Truncate(24*time.Hour), adj.RuleIDs, adj.CancelIrrigation,
		adj.DemandReductionPct, adj.ETAdjustmentPct, adj.TimeAdjustmentPct,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily adjustment: %w", err)
	}
	return nil
}

func (r *PostgresWeatherRepository) SaveSummary(ctx context.Context, s *weather.WeeklySummary) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresWeatherRepository.SaveSummary")
	defer span.End()

	query := `
		INSERT INTO weekly_adjustment_summaries (
			zone_id, target_year, target_week,
			demand_modifier, et_modifier, time_modifier,
			blackout_dates, rule_firings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (zone_id, target_year, target_week) DO UPDATE SET
			demand_modifier = EXCLUDED.demand_modifier,
			et_modifier = EXCLUDED.et_modifier,
			time_modifier = EXCLUDED.time_modifier,
			blackout_dates = EXCLUDED.blackout_dates,
			rule_firings = EXCLUDED.rule_firings
	`
	_, err := r.db.Exec(ctx, query,
		s.ZoneID, s.TargetYear, s.TargetWeek,
		s.DemandModifier, s.ETModifier, s.TimeModifier,
		s.BlackoutDates, s.RuleFirings,
	)
	if err != nil {
		return fmt.Errorf("failed to save weekly summary: %w", err)
	}
	return nil
}

func (r *PostgresWeatherRepository) SummariesForWeek(ctx context.Context, year, week int) ([]weather.WeeklySummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresWeatherRepository.SummariesForWeek")
	defer span.End()

	query := `
		SELECT
			zone_id, target_year, target_week,
			demand_modifier, et_modifier, time_modifier,
			blackout_dates, rule_firings
		FROM weekly_adjustment_summaries
		WHERE target_year = $1 AND target_week = $2
		ORDER BY zone_id
	`
	rows, err := r.db.Query(ctx, query, year, week)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}
	defer rows.Close()

	var summaries []weather.WeeklySummary
	for rows.Next() {
		var s weather.WeeklySummary
		err := rows.Scan(
			&s.ZoneID, &s.TargetYear, &s.TargetWeek,
			&s.DemandModifier, &s.ETModifier, &s.TimeModifier,
			&s.BlackoutDates, &s.RuleFirings,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return summaries, nil
}

func (r *PostgresWeatherRepository) Rules(ctx context.Context) ([]weather.Rule, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresWeatherRepository.Rules")
	defer span.End()

	query := `
		SELECT
			id, name, priority, conditions,
			cancel_irrigation, demand_reduction_percent,
			et_adjustment_percent, time_adjustment_percent, conflicts_with
		FROM adjustment_rules
		WHERE enabled
		ORDER BY priority DESC, id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var rules []weather.Rule
	for rows.Next() {
		var rule weather.Rule
		var conditions []byte
		err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Priority, &conditions,
			&rule.CancelIrrigation, &rule.DemandReductionPct,
			&rule.ETAdjustmentPct, &rule.TimeAdjustmentPct, &rule.ConflictsWith,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

func (r *PostgresWeatherRepository) IterateDaily(ctx context.Context, zoneID string, from, to time.Time, fn func(batch []*weather.DailyAdjustment) error) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresWeatherRepository.IterateDaily")
	defer span.End()

	query := `
		SELECT
			zone_id, adjustment_date, rule_ids, cancel_irrigation,
			demand_reduction_percent, et_adjustment_percent, time_adjustment_percent
		FROM weekly_weather_adjustments
		WHERE zone_id = $1 AND adjustment_date > $2 AND adjustment_date <= $3
		ORDER BY adjustment_date
		LIMIT $4
	`

	cursor := from.Add(-time.Second)
	for {
		rows, err := r.db.Query(ctx, query, zoneID, cursor, to, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to scan adjustments: %w", err)
		}

		batch := make([]*weather.DailyAdjustment, 0, chunkSize)
		for rows.Next() {
			adj := &weather.DailyAdjustment{}
			err := rows.Scan(
				&adj.ZoneID, &adj.Date, &adj.RuleIDs, &adj.CancelIrrigation,
				&adj.DemandReductionPct, &adj.ETAdjustmentPct, &adj.TimeAdjustmentPct,
			)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan adjustment: %w", err)
			}
			batch = append(batch, adj)
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
		cursor = batch[len(batch)-1].Date
	}
}
