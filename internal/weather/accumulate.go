package weather

import (
	"sort"
	"sync"
	"time"
)

// WeeklySummary folds a week of daily adjustments into the modifiers applied
// to the following week's demand inputs.
type WeeklySummary struct {
	ZoneID string `json:"zone_id"`

	// TargetYear and TargetWeek identify the ISO week the modifiers apply
	// to, which is the week after the observations.
	TargetYear int `json:"target_year"`
	TargetWeek int `json:"target_week"`

	// DemandModifier is the product of (1 - reduction/100) over the
	// non-cancelled days. Cancelled days become blackout dates instead of
	// collapsing the whole product to zero.
	DemandModifier float64 `json:"demand_modifier"`

	// ETModifier is the product of (1 + adjustment/100) over the days.
	ETModifier float64 `json:"et_modifier"`

	// TimeModifier is the largest delivery time extension of the week.
	TimeModifier float64 `json:"time_modifier"`

	BlackoutDates []time.Time `json:"blackout_dates,omitempty"`
	RuleFirings   int         `json:"rule_firings"`
}

// Accumulator collects daily adjustments and serves the weekly summaries
// derived from them. Safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	daily []DailyAdjustment
}

// NewAccumulator создаёт пустой аккумулятор корректировок
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add records one daily adjustment. Adjustments that fired no rules are
// kept too; they contribute neutral factors.
func (a *Accumulator) Add(adj DailyAdjustment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.daily = append(a.daily, adj)
}

// Reset drops all recorded adjustments.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.daily = nil
}

// Summaries returns per-zone summaries for the given target ISO week, built
// from the adjustments observed during the preceding week. Zones without
// observations are absent; callers treat missing zones as neutral.
func (a *Accumulator) Summaries(targetYear, targetWeek int) []WeeklySummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	byZone := map[string]*WeeklySummary{}
	for _, adj := range a.daily {
		// An observation on day d shifts the plan one week out.
		y, w := adj.Date.AddDate(0, 0, 7).ISOWeek()
		if y != targetYear || w != targetWeek {
			continue
		}

		s, ok := byZone[adj.ZoneID]
		if !ok {
			s = &WeeklySummary{
				ZoneID:         adj.ZoneID,
				TargetYear:     targetYear,
				TargetWeek:     targetWeek,
				DemandModifier: 1.0,
				ETModifier:     1.0,
			}
			byZone[adj.ZoneID] = s
		}

		s.RuleFirings += len(adj.RuleIDs)
		if adj.CancelIrrigation {
			// Stored in planning-week terms: a cancellation observed on day
			// d blocks the same weekday of the following week.
			s.BlackoutDates = append(s.BlackoutDates, adj.Date.AddDate(0, 0, 7))
			continue
		}
		s.DemandModifier *= 1.0 - adj.DemandReductionPct/100.0
		s.ETModifier *= 1.0 + adj.ETAdjustmentPct/100.0
		if adj.TimeAdjustmentPct > s.TimeModifier {
			s.TimeModifier = adj.TimeAdjustmentPct
		}
	}

	out := make([]WeeklySummary, 0, len(byZone))
	for _, s := range byZone {
		sort.Slice(s.BlackoutDates, func(i, j int) bool {
			return s.BlackoutDates[i].Before(s.BlackoutDates[j])
		})
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out
}

// DemandModifiers flattens the summaries of a target week into the
// zone-to-modifier map consumed by demand aggregation.
func (a *Accumulator) DemandModifiers(targetYear, targetWeek int) map[string]float64 {
	summaries := a.Summaries(targetYear, targetWeek)
	if len(summaries) == 0 {
		return nil
	}
	m := make(map[string]float64, len(summaries))
	for _, s := range summaries {
		m[s.ZoneID] = s.DemandModifier
	}
	return m
}
