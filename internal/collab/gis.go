package collab

import (
	"context"
	"fmt"

	"irrigation/pkg/config"
)

// GateLocation is a gate position as surveyed by the GIS service.
type GateLocation struct {
	GateID     string  `json:"gate_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	RoadAccess bool    `json:"road_access"`
}

// ZoneGeometry summarizes a command zone for routing and reporting.
type ZoneGeometry struct {
	ZoneID      string  `json:"zone_id"`
	CentroidLat float64 `json:"centroid_lat"`
	CentroidLng float64 `json:"centroid_lng"`
	AreaRai     float64 `json:"area_rai"`
	PlotCount   int     `json:"plot_count"`
}

// GISClient reads surveyed geometry from the GIS service. Gate coordinates
// feed crew route planning; zone centroids feed reports.
type GISClient struct {
	http *httpClient
}

// NewGISClient создаёт клиента ГИС сервиса
func NewGISClient(cfg config.CollaboratorEndpoint) *GISClient {
	return &GISClient{http: newHTTPClient("gis", cfg)}
}

// GateLocations returns surveyed positions for every gate in the scheme.
func (c *GISClient) GateLocations(ctx context.Context) (map[string]GateLocation, error) {
	var resp struct {
		Gates []GateLocation `json:"gates"`
	}
	if err := c.http.getJSON(ctx, "gate_locations", "/api/v1/gates/locations", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch gate locations: %w", err)
	}
	out := make(map[string]GateLocation, len(resp.Gates))
	for _, g := range resp.Gates {
		out[g.GateID] = g
	}
	return out, nil
}

// ZoneGeometries returns the command zone summaries.
func (c *GISClient) ZoneGeometries(ctx context.Context) ([]ZoneGeometry, error) {
	var resp struct {
		Zones []ZoneGeometry `json:"zones"`
	}
	if err := c.http.getJSON(ctx, "zone_geometries", "/api/v1/zones", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch zone geometries: %w", err)
	}
	return resp.Zones, nil
}
