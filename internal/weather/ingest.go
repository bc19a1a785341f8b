package weather

import (
	"context"
	"fmt"
	"sync"
	"time"

	"irrigation/pkg/logger"
)

// ObservationSource serves one day of zone readings, usually the weather
// collaborator.
type ObservationSource interface {
	Observations(ctx context.Context, date time.Time) ([]*Observation, error)
}

// AdjustmentStore persists evaluated adjustments, weekly summaries, and the
// active rule set.
type AdjustmentStore interface {
	UpsertDaily(ctx context.Context, adj *DailyAdjustment) error
	SaveSummary(ctx context.Context, s *WeeklySummary) error
	Rules(ctx context.Context) ([]Rule, error)
}

// Ingestor runs the daily observation pipeline: fetch one day of readings
// per zone, evaluate the adjustment rules, persist the daily adjustments,
// and fold them into the accumulator. When an ingested date crosses an ISO
// week boundary the finished week's summaries are written out first, so the
// planner sees them before it builds the following week.
type Ingestor struct {
	source ObservationSource
	store  AdjustmentStore
	acc    *Accumulator

	mu       sync.Mutex
	lastDate time.Time
}

// NewIngestor создаёт конвейер суточных погодных корректировок
func NewIngestor(source ObservationSource, store AdjustmentStore) *Ingestor {
	return &Ingestor{
		source: source,
		store:  store,
		acc:    NewAccumulator(),
	}
}

// IngestDay processes one observation date. Stored rules take precedence;
// an empty or unreadable rule set falls back to the built-in defaults. Per
// observation failures are logged and skipped so one bad zone does not lose
// the day.
func (in *Ingestor) IngestDay(ctx context.Context, date time.Time) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	rules, err := in.store.Rules(ctx)
	if err != nil || len(rules) == 0 {
		if err != nil {
			logger.Log.Warn("Weather rules unavailable, using defaults", "error", err)
		}
		rules = DefaultRules()
	}

	obs, err := in.source.Observations(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to fetch observations for %s: %w", date.Format("2006-01-02"), err)
	}

	in.rolloverLocked(ctx, date)

	for _, o := range obs {
		adj, err := Evaluate(rules, o)
		if err != nil {
			logger.Log.Warn("Observation rejected by rule evaluation",
				"zone_id", o.ZoneID, "error", err)
			continue
		}
		if err := in.store.UpsertDaily(ctx, adj); err != nil {
			logger.Log.Error("Failed to persist daily adjustment",
				"zone_id", adj.ZoneID, "date", adj.Date.Format("2006-01-02"), "error", err)
		}
		in.acc.Add(*adj)
	}

	in.lastDate = date
	return nil
}

// Flush writes out the summaries of the week currently accumulating. Used
// on shutdown so a partial week is not lost.
func (in *Ingestor) Flush(ctx context.Context) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.lastDate.IsZero() {
		return
	}
	in.saveSummariesLocked(ctx, in.lastDate)
}

// rolloverLocked persists the finished week's summaries when date has moved
// into a new ISO week, then resets the accumulator.
func (in *Ingestor) rolloverLocked(ctx context.Context, date time.Time) {
	if in.lastDate.IsZero() {
		return
	}
	ly, lw := in.lastDate.ISOWeek()
	ny, nw := date.ISOWeek()
	if ly == ny && lw == nw {
		return
	}
	in.saveSummariesLocked(ctx, in.lastDate)
	in.acc.Reset()
}

func (in *Ingestor) saveSummariesLocked(ctx context.Context, observed time.Time) {
	// Observations during week w modify the plan for week w+1.
	ty, tw := observed.AddDate(0, 0, 7).ISOWeek()
	for _, s := range in.acc.Summaries(ty, tw) {
		s := s
		if err := in.store.SaveSummary(ctx, &s); err != nil {
			logger.Log.Error("Failed to persist weekly weather summary",
				"zone_id", s.ZoneID, "target_year", ty, "target_week", tw, "error", err)
		}
	}
}
