// Package networktest builds small canonical networks for tests. The demo
// network is a reservoir feeding three delivery zones over a branching main
// canal, with one zone reachable through two delivery gates.
package networktest

import (
	"testing"

	"irrigation/internal/network"
)

// Gate ids of the demo network.
const (
	GateHead     = "HG-C-01" // Source -> M(0,0)
	GateCheck1   = "CHK-01"  // M(0,0) -> M(0,1)
	GateCheck2   = "CHK-02"  // M(0,0) -> M(0,2)
	GateCheck3   = "CHK-03"  // M(0,0) -> M(0,3)
	GateCheck4   = "CHK-04"  // M(0,3) -> M(0,3;1,0)
	GateZone1    = "RG-Z1"   // M(0,1) -> Zone_1
	GateZone2    = "RG-Z2"   // M(0,2) -> Zone_2
	GateZone3    = "RG-Z3"   // M(0,3) -> Zone_3
	GateZone2Alt = "RG-Z2B"  // M(0,3;1,0) -> Zone_2_alt
)

// Node ids of the demo network.
const (
	NodeSource   = "Source"
	NodeMain     = "M(0,0)"
	NodeBranch1  = "M(0,1)"
	NodeBranch2  = "M(0,2)"
	NodeBranch3  = "M(0,3)"
	NodeLateral  = "M(0,3;1,0)"
	NodeZone1    = "Zone_1"
	NodeZone2    = "Zone_2"
	NodeZone3    = "Zone_3"
	NodeZone2Alt = "Zone_2_alt"
)

// SourceLevelM is the fixed reservoir level of the demo network.
const SourceLevelM = 221.0

func node(id string, kind network.NodeKind, invert, level, lat, lng float64, zone string) *network.Node {
	return &network.Node{
		ID:               id,
		Name:             id,
		Kind:             kind,
		InvertElevationM: invert,
		WaterLevelM:      level,
		Lat:              lat,
		Lng:              lng,
		ZoneID:           zone,
	}
}

func gate(id, up, down string, width, maxOpening, sill, maxFlow float64) *network.Gate {
	return &network.Gate{
		ID:             id,
		UpstreamNode:   up,
		DownstreamNode: down,
		Type:           network.GateTypeSluice,
		WidthM:         width,
		MaxOpeningM:    maxOpening,
		SillElevationM: sill,
		MaxFlowM3s:     maxFlow,
		K1:             0.85,
		K2:             -0.15,
		CalHsGoMin:     0.5,
		CalHsGoMax:     5.0,
		Reach: &network.Reach{
			LengthM:      800,
			BottomWidthM: width + 1.0,
			SideSlope:    1.5,
			ManningN:     0.025,
			BedSlope:     0.0008,
		},
	}
}

// Demo returns the canonical ten-node network. The head gate matches the
// calibration worked example: K1=0.85, K2=-0.15, width 3 m, sill 217 m, so
// with Hu=221, Hs=219, Go=1.5 the discharge is about 30.6 m3/s.
func Demo(t *testing.T) *network.Network {
	t.Helper()

	n := network.New()

	nodes := []*network.Node{
		node(NodeSource, network.NodeKindReservoir, 218.0, SourceLevelM, 14.120, 100.600, ""),
		node(NodeMain, network.NodeKindMainCanal, 217.0, 219.0, 14.110, 100.610, ""),
		node(NodeBranch1, network.NodeKindJunction, 216.0, 217.5, 14.100, 100.590, ""),
		node(NodeBranch2, network.NodeKindJunction, 216.0, 217.5, 14.100, 100.615, ""),
		node(NodeBranch3, network.NodeKindJunction, 216.0, 217.5, 14.100, 100.640, ""),
		node(NodeLateral, network.NodeKindJunction, 215.5, 216.8, 14.092, 100.630, ""),
		node(NodeZone1, network.NodeKindDelivery, 215.0, 216.2, 14.090, 100.585, "Zone_1"),
		node(NodeZone2, network.NodeKindDelivery, 215.0, 216.2, 14.090, 100.618, "Zone_2"),
		node(NodeZone3, network.NodeKindDelivery, 215.0, 216.2, 14.090, 100.645, "Zone_3"),
		node(NodeZone2Alt, network.NodeKindDelivery, 214.5, 215.8, 14.085, 100.625, "Zone_2"),
	}
	for _, nd := range nodes {
		if err := n.AddNode(nd); err != nil {
			t.Fatalf("add node %s: %v", nd.ID, err)
		}
	}

	gates := []*network.Gate{
		gate(GateHead, NodeSource, NodeMain, 3.0, 3.0, 217.0, 40.0),
		gate(GateCheck1, NodeMain, NodeBranch1, 2.5, 2.5, 0, 15.0),
		gate(GateCheck2, NodeMain, NodeBranch2, 2.5, 2.5, 0, 15.0),
		gate(GateCheck3, NodeMain, NodeBranch3, 2.5, 2.5, 0, 15.0),
		gate(GateCheck4, NodeBranch3, NodeLateral, 2.0, 2.0, 0, 8.0),
		gate(GateZone1, NodeBranch1, NodeZone1, 2.0, 2.0, 0, 10.0),
		gate(GateZone2, NodeBranch2, NodeZone2, 2.0, 2.0, 0, 10.0),
		gate(GateZone3, NodeBranch3, NodeZone3, 2.0, 2.0, 0, 10.0),
		gate(GateZone2Alt, NodeLateral, NodeZone2Alt, 1.5, 2.0, 0, 6.0),
	}
	for _, g := range gates {
		if err := n.AddGate(g); err != nil {
			t.Fatalf("add gate %s: %v", g.ID, err)
		}
	}

	zones := []*network.Zone{
		{ID: "Zone_1", Name: "Zone 1", DeliveryGates: []string{GateZone1}, CentroidLat: 14.088, CentroidLng: 100.583},
		{ID: "Zone_2", Name: "Zone 2", DeliveryGates: []string{GateZone2, GateZone2Alt}, CentroidLat: 14.088, CentroidLng: 100.620},
		{ID: "Zone_3", Name: "Zone 3", DeliveryGates: []string{GateZone3}, CentroidLat: 14.088, CentroidLng: 100.647},
	}
	for _, z := range zones {
		if err := n.AddZone(z); err != nil {
			t.Fatalf("add zone %s: %v", z.ID, err)
		}
	}

	plots := []*network.Plot{
		{ID: "P-101", ZoneID: "Zone_1", AreaRai: 120, DeliveryGate: GateZone1, CropType: "rice"},
		{ID: "P-102", ZoneID: "Zone_1", AreaRai: 80, DeliveryGate: GateZone1, CropType: "rice"},
		{ID: "P-201", ZoneID: "Zone_2", AreaRai: 150, DeliveryGate: GateZone2, CropType: "rice"},
		{ID: "P-202", ZoneID: "Zone_2", AreaRai: 60, DeliveryGate: GateZone2Alt, CropType: "sugarcane"},
		{ID: "P-301", ZoneID: "Zone_3", AreaRai: 100, DeliveryGate: GateZone3, CropType: "rice"},
	}
	for _, p := range plots {
		if err := n.AddPlot(p); err != nil {
			t.Fatalf("add plot %s: %v", p.ID, err)
		}
	}

	n.ApplyDefaults()
	if result := n.Validate(); result.HasErrors() {
		t.Fatalf("demo network invalid: %v", result.ErrorMessages())
	}
	return n
}
