package collab

import (
	"context"
	"fmt"
	"time"

	"irrigation/internal/weather"
	"irrigation/pkg/config"
)

// WeatherClient reads observations and forecasts from the weather service.
// Observations feed the adjustment rule engine; the forecast feeds demand
// aggregation.
type WeatherClient struct {
	http *httpClient
}

// NewWeatherClient создаёт клиента погодного сервиса
func NewWeatherClient(cfg config.CollaboratorEndpoint) *WeatherClient {
	return &WeatherClient{http: newHTTPClient("weather", cfg)}
}

// Observations returns one day of readings per zone for the given date.
func (c *WeatherClient) Observations(ctx context.Context, date time.Time) ([]*weather.Observation, error) {
	var resp struct {
		Observations []*weather.Observation `json:"observations"`
	}
	path := "/api/v1/observations?date=" + date.Format("2006-01-02")
	if err := c.http.getJSON(ctx, "observations", path, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch observations: %w", err)
	}
	return resp.Observations, nil
}

// Forecast is the week-ahead outlook for one zone.
type Forecast struct {
	ZoneID           string  `json:"zone_id"`
	RainfallMM       float64 `json:"rainfall_mm"`
	AvgTempC         float64 `json:"avg_temp_c"`
	AdjustmentFactor float64 `json:"adjustment_factor"`
}

// WeeklyForecast returns the outlook used when aggregating demand for the
// week. The adjustment factor lands in the [0.5, 1.5] band the aggregator
// accepts; out-of-band values are the weather service's bug to fix, not
// ours to clamp.
func (c *WeatherClient) WeeklyForecast(ctx context.Context, year, week int) ([]Forecast, error) {
	var resp struct {
		Forecasts []Forecast `json:"forecasts"`
	}
	path := fmt.Sprintf("/api/v1/forecast?year=%d&week=%d", year, week)
	if err := c.http.getJSON(ctx, "weekly_forecast", path, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch weekly forecast: %w", err)
	}
	return resp.Forecasts, nil
}
