// Package weather interprets weather observations against adjustment rules
// and accumulates the resulting daily adjustments into weekly modifiers for
// the following week's plan. The current week's schedule is never touched;
// weather only shifts what gets planned next.
package weather

import (
	"fmt"
	"math"
	"sort"
	"time"

	"irrigation/pkg/apperror"
)

// Comparison operators accepted in rule conditions.
const (
	OpGT  = ">"
	OpLT  = "<"
	OpGTE = ">="
	OpLTE = "<="
	OpEQ  = "=="
	OpNEQ = "!="
)

// Observation field names produced by the weather feed.
const (
	FieldRainfallMM  = "rainfall_mm"
	FieldTempDropC   = "temp_drop_c"
	FieldWindSpeedKm = "wind_speed_kmh"
)

const floatTolerance = 1e-9

// Condition compares one observation field against a threshold. All
// conditions of a rule must hold for the rule to fire.
type Condition struct {
	Field string  `json:"field"`
	Op    string  `json:"op"`
	Value float64 `json:"value"`
}

// Eval applies the condition to an observed field value.
func (c Condition) Eval(v float64) (bool, error) {
	switch c.Op {
	case OpGT:
		return v > c.Value, nil
	case OpLT:
		return v < c.Value, nil
	case OpGTE:
		return v >= c.Value, nil
	case OpLTE:
		return v <= c.Value, nil
	case OpEQ:
		return math.Abs(v-c.Value) <= floatTolerance, nil
	case OpNEQ:
		return math.Abs(v-c.Value) > floatTolerance, nil
	default:
		return false, apperror.NewWithField(apperror.CodeInvalidArgument,
			fmt.Sprintf("unknown condition operator %q", c.Op), "op")
	}
}

// Rule describes one weather adjustment. Higher priority rules are
// evaluated first; a fired rule suppresses the rules it conflicts with.
type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Priority   int         `json:"priority"`
	Conditions []Condition `json:"conditions"`

	CancelIrrigation   bool    `json:"cancel_irrigation,omitempty"`
	DemandReductionPct float64 `json:"demand_reduction_percent,omitempty"`
	ETAdjustmentPct    float64 `json:"et_adjustment_percent,omitempty"`
	TimeAdjustmentPct  float64 `json:"time_adjustment_percent,omitempty"`

	ConflictsWith []string `json:"conflicts_with,omitempty"`
}

// DefaultRules returns the built-in rule set.
//
// Heavy rain cancels the day outright, moderate rain trims demand, a cold
// snap lowers evapotranspiration, and strong wind stretches delivery time
// to cover drift losses.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "R1",
			Name:     "heavy rainfall cancellation",
			Priority: 100,
			Conditions: []Condition{
				{Field: FieldRainfallMM, Op: OpGT, Value: 25},
			},
			CancelIrrigation:   true,
			DemandReductionPct: 100,
			ConflictsWith:      []string{"R2"},
		},
		{
			ID:       "R2",
			Name:     "moderate rainfall reduction",
			Priority: 80,
			Conditions: []Condition{
				{Field: FieldRainfallMM, Op: OpGT, Value: 10},
				{Field: FieldRainfallMM, Op: OpLTE, Value: 25},
			},
			DemandReductionPct: 30,
		},
		{
			ID:       "R3",
			Name:     "temperature drop ET correction",
			Priority: 60,
			Conditions: []Condition{
				{Field: FieldTempDropC, Op: OpGT, Value: 5},
			},
			ETAdjustmentPct: -20,
		},
		{
			ID:       "R4",
			Name:     "high wind delivery extension",
			Priority: 40,
			Conditions: []Condition{
				{Field: FieldWindSpeedKm, Op: OpGT, Value: 20},
			},
			TimeAdjustmentPct: 15,
		},
	}
}

// Observation is one day of weather for one zone.
type Observation struct {
	ZoneID string             `json:"zone_id"`
	Date   time.Time          `json:"date"`
	Fields map[string]float64 `json:"fields"`
}

// DailyAdjustment is the merged outcome of all rules fired for one
// zone-day. Percentages from distinct rules add up.
type DailyAdjustment struct {
	ZoneID string    `json:"zone_id"`
	Date   time.Time `json:"date"`

	RuleIDs            []string `json:"rule_ids"`
	CancelIrrigation   bool     `json:"cancel_irrigation"`
	DemandReductionPct float64  `json:"demand_reduction_percent"`
	ETAdjustmentPct    float64  `json:"et_adjustment_percent"`
	TimeAdjustmentPct  float64  `json:"time_adjustment_percent"`
}

// Evaluate fires the rule set against one observation and merges the
// results. Rules run in priority order, highest first; a fired rule
// suppresses the ids it conflicts with. Missing fields fail the condition
// rather than erroring, so sparse observations are fine.
func Evaluate(rules []Rule, obs *Observation) (*DailyAdjustment, error) {
	if obs == nil {
		return nil, apperror.New(apperror.CodeNilInput, "observation is nil")
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	adj := &DailyAdjustment{ZoneID: obs.ZoneID, Date: obs.Date}
	suppressed := map[string]bool{}

	for _, rule := range ordered {
		if suppressed[rule.ID] || len(rule.Conditions) == 0 {
			continue
		}

		fired := true
		for _, cond := range rule.Conditions {
			v, ok := obs.Fields[cond.Field]
			if !ok {
				fired = false
				break
			}
			match, err := cond.Eval(v)
			if err != nil {
				return nil, err
			}
			if !match {
				fired = false
				break
			}
		}
		if !fired {
			continue
		}

		adj.RuleIDs = append(adj.RuleIDs, rule.ID)
		adj.CancelIrrigation = adj.CancelIrrigation || rule.CancelIrrigation
		adj.DemandReductionPct += rule.DemandReductionPct
		adj.ETAdjustmentPct += rule.ETAdjustmentPct
		adj.TimeAdjustmentPct += rule.TimeAdjustmentPct
		for _, id := range rule.ConflictsWith {
			suppressed[id] = true
		}
	}

	if adj.DemandReductionPct > 100 {
		adj.DemandReductionPct = 100
	}
	return adj, nil
}
