// Package demand rolls per-plot weekly demands up into per-delivery-gate
// demands, applying weather factors and the zone modifiers accumulated by
// the weekly adjustment job. Aggregation results are memoized briefly since
// the optimizer may re-read them several times while building a plan.
package demand

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"irrigation/internal/network"
	"irrigation/pkg/apperror"
	"irrigation/pkg/cache"
	"irrigation/pkg/logger"
	"irrigation/pkg/metrics"
)

// RainSavingsM3PerMMPerRai converts rainfall depth into irrigation savings:
// one millimeter of rain saves about 1.6 m3 per rai.
const RainSavingsM3PerMMPerRai = 1.6

// MemoTTL bounds how long an aggregation result stays cached.
const MemoTTL = 15 * time.Minute

// Priority ranks a plot's irrigation urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Value returns the numeric weight used in volume-weighted aggregation.
func (p Priority) Value() float64 {
	switch p {
	case PriorityCritical:
		return 9
	case PriorityHigh:
		return 7
	case PriorityMedium:
		return 5
	case PriorityLow:
		return 3
	default:
		return 5
	}
}

// PlotDemand is one plot's requested delivery for a week.
type PlotDemand struct {
	PlotID             string    `json:"plot_id"`
	ZoneID             string    `json:"zone_id"`
	DeliveryGate       string    `json:"delivery_gate"`
	VolumeM3           float64   `json:"volume_m3"`
	AreaRai            float64   `json:"area_rai"`
	Priority           Priority  `json:"priority"`
	WindowStart        time.Time `json:"window_start"`
	WindowEnd          time.Time `json:"window_end"`
	MoistureDeficitPct float64   `json:"moisture_deficit_percent,omitempty"`
	StressLevel        string    `json:"stress_level,omitempty"`
}

// Factors carries the weather inputs applied during aggregation.
type Factors struct {
	// WeatherAdjustment scales plot volumes; valid range [0.5, 1.5].
	WeatherAdjustment float64

	// RainfallMM is the forecast rainfall credited against demand.
	RainfallMM float64

	// ZoneModifiers multiplies demand per zone with the carry-forward
	// modifiers accumulated from last week's weather (1.0 when absent).
	ZoneModifiers map[string]float64

	// MinDemandM3 floors each adjusted plot demand.
	MinDemandM3 float64
}

// GateDemand is the aggregated demand behind one delivery gate.
type GateDemand struct {
	GateID           string    `json:"gate_id"`
	ZoneID           string    `json:"zone_id"`
	TotalVolumeM3    float64   `json:"total_volume_m3"`
	WeightedPriority float64   `json:"weighted_priority"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	PlotIDs          []string  `json:"plot_ids"`
}

// Conflict flags a delivery gate whose aggregated demand cannot physically
// pass through it within the delivery window.
type Conflict struct {
	GateID          string
	RequiredFlowM3s float64
	MaxFlowM3s      float64
}

// Aggregator computes and memoizes gate demand rollups.
type Aggregator struct {
	cache cache.Cache
}

// NewAggregator создаёт агрегатор спроса
func NewAggregator(c cache.Cache) *Aggregator {
	return &Aggregator{cache: c}
}

// Aggregate rolls plot demands into per-gate demands for an ISO week.
//
// Per plot: volume is scaled by the zone modifier and the weather
// adjustment, then rainfall savings (1.6 m3 per mm per rai) are subtracted,
// floored at MinDemandM3. Gates are returned sorted by weighted priority
// descending, gate id ascending as the tiebreak.
func (a *Aggregator) Aggregate(ctx context.Context, year, week int, plots []PlotDemand, factors *Factors) ([]GateDemand, error) {
	if week < 1 || week > 53 {
		return nil, apperror.NewWithField(apperror.CodeInvalidWeek,
			fmt.Sprintf("week %d out of range [1, 53]", week), "week")
	}
	if factors == nil {
		factors = &Factors{WeatherAdjustment: 1.0}
	}
	adj := factors.WeatherAdjustment
	if adj == 0 {
		adj = 1.0
	}
	if adj < 0.5 || adj > 1.5 {
		return nil, apperror.NewWithField(apperror.CodeInvalidArgument,
			fmt.Sprintf("weather adjustment %.2f out of range [0.5, 1.5]", adj), "weather_adjustment")
	}
	for _, p := range plots {
		if p.VolumeM3 < 0 {
			return nil, apperror.NewWithField(apperror.CodeNegativeDemand,
				fmt.Sprintf("plot %s has negative volume %.1f", p.PlotID, p.VolumeM3), "volume_m3")
		}
	}

	key := cache.BuildDemandKey(year, week, adj, factors.RainfallMM, len(plots))
	if cached := a.lookup(ctx, key); cached != nil {
		return cached, nil
	}

	byGate := make(map[string]*GateDemand)
	weightSum := make(map[string]float64)

	for _, p := range plots {
		volume := p.VolumeM3
		if m, ok := factors.ZoneModifiers[p.ZoneID]; ok {
			volume *= m
		}
		adjusted := volume*adj - factors.RainfallMM*RainSavingsM3PerMMPerRai*p.AreaRai
		if adjusted < factors.MinDemandM3 {
			adjusted = factors.MinDemandM3
		}
		if adjusted <= 0 {
			continue
		}

		gd, ok := byGate[p.DeliveryGate]
		if !ok {
			gd = &GateDemand{
				GateID:      p.DeliveryGate,
				ZoneID:      p.ZoneID,
				WindowStart: p.WindowStart,
				WindowEnd:   p.WindowEnd,
			}
			byGate[p.DeliveryGate] = gd
		}

		gd.TotalVolumeM3 += adjusted
		gd.PlotIDs = append(gd.PlotIDs, p.PlotID)
		weightSum[p.DeliveryGate] += p.Priority.Value() * adjusted

		if !p.WindowStart.IsZero() && (gd.WindowStart.IsZero() || p.WindowStart.Before(gd.WindowStart)) {
			gd.WindowStart = p.WindowStart
		}
		if p.WindowEnd.After(gd.WindowEnd) {
			gd.WindowEnd = p.WindowEnd
		}
	}

	result := make([]GateDemand, 0, len(byGate))
	for gid, gd := range byGate {
		if gd.TotalVolumeM3 > 0 {
			gd.WeightedPriority = weightSum[gid] / gd.TotalVolumeM3
		}
		sort.Strings(gd.PlotIDs)
		result = append(result, *gd)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].WeightedPriority != result[j].WeightedPriority {
			return result[i].WeightedPriority > result[j].WeightedPriority
		}
		return result[i].GateID < result[j].GateID
	})

	a.store(ctx, key, result)
	return result, nil
}

// CheckConflicts flags gates whose required flow over the delivery window
// exceeds their rated maximum.
func CheckConflicts(net *network.Network, demands []GateDemand, deliveryWindow time.Duration) []Conflict {
	seconds := deliveryWindow.Seconds()
	if seconds <= 0 {
		return nil
	}

	var conflicts []Conflict
	for _, d := range demands {
		gate, ok := net.Gate(d.GateID)
		if !ok || gate.MaxFlowM3s <= 0 {
			continue
		}
		required := d.TotalVolumeM3 / seconds
		if required > gate.MaxFlowM3s {
			conflicts = append(conflicts, Conflict{
				GateID:          d.GateID,
				RequiredFlowM3s: required,
				MaxFlowM3s:      gate.MaxFlowM3s,
			})
		}
	}
	return conflicts
}

func (a *Aggregator) lookup(ctx context.Context, key string) []GateDemand {
	if a.cache == nil {
		return nil
	}
	data, err := a.cache.Get(ctx, key)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.RecordCacheOperation("demand", "miss")
		}
		return nil
	}
	var out []GateDemand
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Log.Warn("Failed to decode cached demand aggregation", "key", key, "error", err)
		return nil
	}
	if m := metrics.Get(); m != nil {
		m.RecordCacheOperation("demand", "hit")
	}
	return out
}

func (a *Aggregator) store(ctx context.Context, key string, demands []GateDemand) {
	if a.cache == nil {
		return
	}
	data, err := json.Marshal(demands)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, data, MemoTTL); err != nil {
		logger.Log.Warn("Failed to cache demand aggregation", "key", key, "error", err)
	}
}
