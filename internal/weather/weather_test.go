package weather

import (
	"math"
	"testing"
	"time"

	"irrigation/pkg/apperror"
)

func day(d int) time.Time {
	// Monday 2026-08-17 plus d days; the whole range falls in ISO week 34.
	return time.Date(2026, 8, 17+d, 0, 0, 0, 0, time.UTC)
}

func obs(d int, fields map[string]float64) *Observation {
	return &Observation{ZoneID: "Zone_2", Date: day(d), Fields: fields}
}

func TestEvaluate_HeavyRainCancels(t *testing.T) {
	adj, err := Evaluate(DefaultRules(), obs(0, map[string]float64{FieldRainfallMM: 30}))
	if err != nil {
		t.Fatal(err)
	}
	if !adj.CancelIrrigation || adj.DemandReductionPct != 100 {
		t.Errorf("adj = %+v, want cancellation with full reduction", adj)
	}
	if len(adj.RuleIDs) != 1 || adj.RuleIDs[0] != "R1" {
		t.Errorf("rules = %v, want [R1]; R2 must be suppressed", adj.RuleIDs)
	}
}

func TestEvaluate_ModerateRain(t *testing.T) {
	adj, err := Evaluate(DefaultRules(), obs(3, map[string]float64{FieldRainfallMM: 12}))
	if err != nil {
		t.Fatal(err)
	}
	if adj.CancelIrrigation || adj.DemandReductionPct != 30 {
		t.Errorf("adj = %+v, want 30%% reduction without cancellation", adj)
	}
}

func TestEvaluate_RuleBoundaries(t *testing.T) {
	rules := DefaultRules()

	// 25 mm is moderate, not heavy: R2's upper bound is inclusive.
	adj, err := Evaluate(rules, obs(1, map[string]float64{FieldRainfallMM: 25}))
	if err != nil {
		t.Fatal(err)
	}
	if adj.CancelIrrigation || adj.DemandReductionPct != 30 {
		t.Errorf("25 mm: adj = %+v, want R2 only", adj)
	}

	// 10 mm is below R2's strict lower bound.
	adj, err = Evaluate(rules, obs(1, map[string]float64{FieldRainfallMM: 10}))
	if err != nil {
		t.Fatal(err)
	}
	if len(adj.RuleIDs) != 0 {
		t.Errorf("10 mm fired %v, want nothing", adj.RuleIDs)
	}
}

func TestEvaluate_IndependentRulesStack(t *testing.T) {
	adj, err := Evaluate(DefaultRules(), obs(2, map[string]float64{
		FieldRainfallMM:  15,
		FieldTempDropC:   7,
		FieldWindSpeedKm: 25,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(adj.RuleIDs) != 3 {
		t.Fatalf("rules = %v, want R2+R3+R4", adj.RuleIDs)
	}
	if adj.DemandReductionPct != 30 || adj.ETAdjustmentPct != -20 || adj.TimeAdjustmentPct != 15 {
		t.Errorf("adj = %+v", adj)
	}
}

func TestEvaluate_MissingFieldAndBadOp(t *testing.T) {
	// Sparse observation: wind-only rules simply do not fire.
	adj, err := Evaluate(DefaultRules(), obs(4, map[string]float64{FieldWindSpeedKm: 5}))
	if err != nil {
		t.Fatal(err)
	}
	if len(adj.RuleIDs) != 0 {
		t.Errorf("rules = %v, want none", adj.RuleIDs)
	}

	bad := []Rule{{ID: "X", Priority: 1, Conditions: []Condition{{Field: FieldRainfallMM, Op: "~", Value: 1}}}}
	_, err = Evaluate(bad, obs(4, map[string]float64{FieldRainfallMM: 2}))
	if apperror.Code(err) != apperror.CodeInvalidArgument {
		t.Errorf("code = %s, want INVALID_ARGUMENT", apperror.Code(err))
	}
}

// A wet week: one washout day, one moderate day, the rest dry. The washout
// becomes a blackout date and the moderate day leaves a 0.7 demand factor
// for the following week.
func TestAccumulator_WeeklySummary(t *testing.T) {
	rainfall := []float64{30, 5, 0, 12, 0, 0, 0}

	acc := NewAccumulator()
	for d, mm := range rainfall {
		adj, err := Evaluate(DefaultRules(), obs(d, map[string]float64{FieldRainfallMM: mm}))
		if err != nil {
			t.Fatal(err)
		}
		acc.Add(*adj)
	}

	// Observations in ISO week 34 modify week 35.
	summaries := acc.Summaries(2026, 35)
	if len(summaries) != 1 {
		t.Fatalf("summaries = %+v, want one zone", summaries)
	}
	s := summaries[0]

	if s.ZoneID != "Zone_2" || s.TargetWeek != 35 {
		t.Errorf("summary = %+v", s)
	}
	if math.Abs(s.DemandModifier-0.7) > 1e-9 {
		t.Errorf("demand modifier = %.4f, want 0.7", s.DemandModifier)
	}
	// The blackout lands on the planning-week weekday, not the observed day.
	if len(s.BlackoutDates) != 1 || !s.BlackoutDates[0].Equal(day(7)) {
		t.Errorf("blackout dates = %v, want %v", s.BlackoutDates, day(7))
	}
	if s.ETModifier != 1.0 || s.TimeModifier != 0 {
		t.Errorf("ET/time modifiers = %.2f/%.2f, want neutral", s.ETModifier, s.TimeModifier)
	}

	// The current week is untouched.
	if cur := acc.Summaries(2026, 34); len(cur) != 0 {
		t.Errorf("current week summaries = %+v, want none", cur)
	}

	mods := acc.DemandModifiers(2026, 35)
	if math.Abs(mods["Zone_2"]-0.7) > 1e-9 {
		t.Errorf("modifiers = %v", mods)
	}
}

func TestAccumulator_Reset(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(DailyAdjustment{ZoneID: "Zone_1", Date: day(0), DemandReductionPct: 30})
	acc.Reset()
	if got := acc.Summaries(2026, 35); len(got) != 0 {
		t.Errorf("summaries after reset = %+v", got)
	}
}
