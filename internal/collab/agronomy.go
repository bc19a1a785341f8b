package collab

import (
	"context"
	"fmt"
	"time"

	"irrigation/internal/demand"
	"irrigation/pkg/config"
)

// AgronomyClient pulls plot demand requests from the agronomy service.
type AgronomyClient struct {
	http *httpClient
}

// NewAgronomyClient создаёт клиента агрономического сервиса
func NewAgronomyClient(cfg config.CollaboratorEndpoint) *AgronomyClient {
	return &AgronomyClient{http: newHTTPClient("agronomy", cfg)}
}

type plotDemandResponse struct {
	Year    int                 `json:"year"`
	Week    int                 `json:"week"`
	Demands []demand.PlotDemand `json:"demands"`
}

// WeeklyDemands returns all plot demand requests submitted for an ISO week.
func (c *AgronomyClient) WeeklyDemands(ctx context.Context, year, week int) ([]demand.PlotDemand, error) {
	var resp plotDemandResponse
	path := fmt.Sprintf("/api/v1/demands?year=%d&week=%d", year, week)
	if err := c.http.getJSON(ctx, "weekly_demands", path, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch weekly demands: %w", err)
	}
	return resp.Demands, nil
}

// ZoneDemands returns the pending demand requests for one zone.
func (c *AgronomyClient) ZoneDemands(ctx context.Context, year, week int, zoneID string) ([]demand.PlotDemand, error) {
	var resp plotDemandResponse
	path := fmt.Sprintf("/api/v1/demands?year=%d&week=%d&zone=%s", year, week, zoneID)
	if err := c.http.getJSON(ctx, "zone_demands", path, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch zone demands: %w", err)
	}
	return resp.Demands, nil
}

// DeliveryReport is the per-plot outcome reported back after a week closes.
type DeliveryReport struct {
	PlotID      string    `json:"plot_id"`
	DeliveredM3 float64   `json:"delivered_m3"`
	RequestedM3 float64   `json:"requested_m3"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// ReportDeliveries posts realized deliveries back to agronomy so moisture
// models stay honest.
func (c *AgronomyClient) ReportDeliveries(ctx context.Context, year, week int, reports []DeliveryReport) error {
	path := fmt.Sprintf("/api/v1/deliveries?year=%d&week=%d", year, week)
	if err := c.http.postJSON(ctx, "report_deliveries", path, reports, nil); err != nil {
		return fmt.Errorf("failed to report deliveries: %w", err)
	}
	return nil
}
