package network

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"irrigation/pkg/apperror"
	"irrigation/pkg/logger"
)

// Топология сети описывается декларативным YAML-файлом.

type topologyFile struct {
	Nodes []nodeSpec `koanf:"nodes"`
	Gates []gateSpec `koanf:"gates"`
	Zones []zoneSpec `koanf:"zones"`
	Plots []plotSpec `koanf:"plots"`
}

type nodeSpec struct {
	ID            string  `koanf:"id"`
	Name          string  `koanf:"name"`
	Kind          string  `koanf:"kind"`
	InvertM       float64 `koanf:"invert_elevation_m"`
	SurfaceAreaM2 float64 `koanf:"surface_area_m2"`
	WaterLevelM   float64 `koanf:"water_level_m"`
	Lat           float64 `koanf:"lat"`
	Lng           float64 `koanf:"lng"`
	ZoneID        string  `koanf:"zone_id"`
}

type gateSpec struct {
	ID          string    `koanf:"id"`
	Upstream    string    `koanf:"upstream"`
	Downstream  string    `koanf:"downstream"`
	Type        string    `koanf:"type"`
	WidthM      float64   `koanf:"width_m"`
	MinOpeningM float64   `koanf:"min_opening_m"`
	MaxOpeningM float64   `koanf:"max_opening_m"`
	SillM       float64   `koanf:"sill_elevation_m"`
	MaxFlowM3s  float64   `koanf:"max_flow_m3s"`
	K1          float64   `koanf:"k1"`
	K2          float64   `koanf:"k2"`
	CalHsGoMin  float64   `koanf:"cal_hs_go_min"`
	CalHsGoMax  float64   `koanf:"cal_hs_go_max"`
	ScadaID     string    `koanf:"scada_id"`
	Reach       reachSpec `koanf:"reach"`
}

type reachSpec struct {
	LengthM      float64 `koanf:"length_m"`
	BottomWidthM float64 `koanf:"bottom_width_m"`
	SideSlope    float64 `koanf:"side_slope"`
	ManningN     float64 `koanf:"manning_n"`
	BedSlope     float64 `koanf:"bed_slope"`
}

type zoneSpec struct {
	ID            string   `koanf:"id"`
	Name          string   `koanf:"name"`
	DeliveryGates []string `koanf:"delivery_gates"`
	CentroidLat   float64  `koanf:"centroid_lat"`
	CentroidLng   float64  `koanf:"centroid_lng"`
}

type plotSpec struct {
	ID           string  `koanf:"id"`
	ZoneID       string  `koanf:"zone_id"`
	AreaRai      float64 `koanf:"area_rai"`
	DeliveryGate string  `koanf:"delivery_gate"`
	CropType     string  `koanf:"crop_type"`
}

// Load reads a topology YAML file, applies defaults, and validates the
// resulting network. Validation errors are fatal: topology problems must
// stop the process at startup, never surface in a request path.
func Load(path string) (*Network, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidTopology,
			fmt.Sprintf("failed to read topology file %s", path))
	}

	var tf topologyFile
	if err := k.Unmarshal("", &tf); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidTopology,
			fmt.Sprintf("failed to parse topology file %s", path))
	}

	return build(&tf)
}

func build(tf *topologyFile) (*Network, error) {
	n := New()

	for _, ns := range tf.Nodes {
		node := &Node{
			ID:               ns.ID,
			Name:             ns.Name,
			Kind:             ParseNodeKind(ns.Kind),
			InvertElevationM: ns.InvertM,
			SurfaceAreaM2:    ns.SurfaceAreaM2,
			WaterLevelM:      ns.WaterLevelM,
			Lat:              ns.Lat,
			Lng:              ns.Lng,
			ZoneID:           ns.ZoneID,
		}
		if err := n.AddNode(node); err != nil {
			return nil, err
		}
	}

	for _, gs := range tf.Gates {
		gate := &Gate{
			ID:             gs.ID,
			UpstreamNode:   gs.Upstream,
			DownstreamNode: gs.Downstream,
			Type:           ParseGateType(gs.Type),
			WidthM:         gs.WidthM,
			MinOpeningM:    gs.MinOpeningM,
			MaxOpeningM:    gs.MaxOpeningM,
			SillElevationM: gs.SillM,
			MaxFlowM3s:     gs.MaxFlowM3s,
			K1:             gs.K1,
			K2:             gs.K2,
			CalHsGoMin:     gs.CalHsGoMin,
			CalHsGoMax:     gs.CalHsGoMax,
			ScadaID:        gs.ScadaID,
		}
		if gs.Reach != (reachSpec{}) {
			gate.Reach = &Reach{
				LengthM:      gs.Reach.LengthM,
				BottomWidthM: gs.Reach.BottomWidthM,
				SideSlope:    gs.Reach.SideSlope,
				ManningN:     gs.Reach.ManningN,
				BedSlope:     gs.Reach.BedSlope,
			}
		}
		if err := n.AddGate(gate); err != nil {
			return nil, err
		}
	}

	for _, zs := range tf.Zones {
		zone := &Zone{
			ID:            zs.ID,
			Name:          zs.Name,
			DeliveryGates: zs.DeliveryGates,
			CentroidLat:   zs.CentroidLat,
			CentroidLng:   zs.CentroidLng,
		}
		if err := n.AddZone(zone); err != nil {
			return nil, err
		}
	}

	for _, ps := range tf.Plots {
		plot := &Plot{
			ID:           ps.ID,
			ZoneID:       ps.ZoneID,
			AreaRai:      ps.AreaRai,
			DeliveryGate: ps.DeliveryGate,
			CropType:     ps.CropType,
		}
		if err := n.AddPlot(plot); err != nil {
			return nil, err
		}
	}

	n.ApplyDefaults()

	result := n.Validate()
	for _, w := range result.Warnings {
		logger.Log.Warn("Topology warning", "code", string(w.Code), "message", w.Message)
	}
	if result.HasErrors() {
		return nil, apperror.NewCritical(apperror.CodeInvalidTopology,
			fmt.Sprintf("topology validation failed: %v", result.ErrorMessages()))
	}

	logger.Log.Info("Network topology loaded",
		"nodes", n.NodeCount(),
		"gates", n.GateCount(),
		"zones", len(tf.Zones),
		"fingerprint", n.Fingerprint(),
	)
	return n, nil
}
