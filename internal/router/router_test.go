package router

import (
	"testing"

	"irrigation/internal/network/networktest"
	"irrigation/pkg/apperror"
)

func TestShortestPath(t *testing.T) {
	n := networktest.Demo(t)

	p, err := ShortestPath(n, networktest.NodeSource, networktest.NodeZone2)
	if err != nil {
		t.Fatal(err)
	}

	wantNodes := []string{networktest.NodeSource, networktest.NodeMain, networktest.NodeBranch2, networktest.NodeZone2}
	wantGates := []string{networktest.GateHead, networktest.GateCheck2, networktest.GateZone2}

	if len(p.Nodes) != len(wantNodes) {
		t.Fatalf("nodes = %v, want %v", p.Nodes, wantNodes)
	}
	for i, id := range wantNodes {
		if p.Nodes[i] != id {
			t.Errorf("nodes[%d] = %s, want %s", i, p.Nodes[i], id)
		}
	}
	for i, id := range wantGates {
		if p.Gates[i] != id {
			t.Errorf("gates[%d] = %s, want %s", i, p.Gates[i], id)
		}
	}
}

func TestShortestPath_NoPath(t *testing.T) {
	n := networktest.Demo(t)

	// Water cannot flow uphill: no path from a delivery node to the source.
	_, err := ShortestPath(n, networktest.NodeZone1, networktest.NodeSource)
	if apperror.Code(err) != apperror.CodeNoPath {
		t.Errorf("code = %s, want NO_PATH", apperror.Code(err))
	}
}

func TestShortestPath_UnknownNode(t *testing.T) {
	n := networktest.Demo(t)

	_, err := ShortestPath(n, networktest.NodeSource, "Nowhere")
	if apperror.Code(err) != apperror.CodeNotFound {
		t.Errorf("code = %s, want NOT_FOUND", apperror.Code(err))
	}
}

func TestAllPaths_TreeHasUniquePath(t *testing.T) {
	n := networktest.Demo(t)

	paths := AllPaths(n, networktest.NodeSource, networktest.NodeZone3, 0, nil)
	if len(paths) != 1 {
		t.Fatalf("paths = %d, want 1 in a tree", len(paths))
	}
	if paths[0].Len() != 3 {
		t.Errorf("path length = %d gates, want 3", paths[0].Len())
	}
}

func TestAllPaths_BlockedAndBounded(t *testing.T) {
	n := networktest.Demo(t)

	blocked := map[string]bool{networktest.GateCheck3: true}
	if paths := AllPaths(n, networktest.NodeSource, networktest.NodeZone3, 0, blocked); len(paths) != 0 {
		t.Errorf("blocked CHK-03 should cut off Zone_3, got %d paths", len(paths))
	}

	if paths := AllPaths(n, networktest.NodeSource, networktest.NodeZone3, 2, nil); len(paths) != 0 {
		t.Errorf("depth bound 2 should exclude the 3-gate path, got %d paths", len(paths))
	}
}

func TestPathGates(t *testing.T) {
	n := networktest.Demo(t)

	gates, err := PathGates(n, []string{networktest.NodeSource, networktest.NodeMain, networktest.NodeBranch1})
	if err != nil {
		t.Fatal(err)
	}
	if len(gates) != 2 || gates[0] != networktest.GateHead || gates[1] != networktest.GateCheck1 {
		t.Errorf("gates = %v", gates)
	}

	if _, err := PathGates(n, []string{networktest.NodeSource, networktest.NodeZone1}); apperror.Code(err) != apperror.CodeNoPath {
		t.Errorf("non-adjacent nodes: code = %s, want NO_PATH", apperror.Code(err))
	}
}

func TestAffectedDownstream(t *testing.T) {
	n := networktest.Demo(t)

	// Everything hangs off the head gate.
	all, err := AffectedDownstream(n, networktest.GateHead)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("delivery nodes behind head gate = %v, want 4", all)
	}

	// CHK-03 feeds Zone_3 directly and Zone_2_alt via the lateral.
	sub, err := AffectedDownstream(n, networktest.GateCheck3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{networktest.NodeZone2Alt, networktest.NodeZone3}
	if len(sub) != 2 || sub[0] != want[0] || sub[1] != want[1] {
		t.Errorf("AffectedDownstream(CHK-03) = %v, want %v", sub, want)
	}

	if _, err := AffectedDownstream(n, "GX"); apperror.Code(err) != apperror.CodeGateNotFound {
		t.Errorf("code = %s, want GATE_NOT_FOUND", apperror.Code(err))
	}
}

func TestDownstreamGates(t *testing.T) {
	n := networktest.Demo(t)

	gates, err := DownstreamGates(n, networktest.GateCheck3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{networktest.GateCheck4, networktest.GateZone2Alt, networktest.GateZone3}
	if len(gates) != len(want) {
		t.Fatalf("gates = %v, want %v", gates, want)
	}
	for i := range want {
		if gates[i] != want[i] {
			t.Errorf("gates[%d] = %s, want %s", i, gates[i], want[i])
		}
	}
}

func TestAffectedZones(t *testing.T) {
	n := networktest.Demo(t)

	zones, err := AffectedZones(n, networktest.GateCheck3)
	if err != nil {
		t.Fatal(err)
	}
	if len(zones) != 2 || zones[0] != "Zone_2" || zones[1] != "Zone_3" {
		t.Errorf("zones = %v, want [Zone_2 Zone_3]", zones)
	}
}

func TestZoneDeliveryPaths(t *testing.T) {
	n := networktest.Demo(t)

	// Zone_2 is reachable via RG-Z2 and via the lateral to RG-Z2B.
	paths := ZoneDeliveryPaths(n, "Zone_2", nil)
	if len(paths) != 2 {
		t.Fatalf("paths to Zone_2 = %d, want 2", len(paths))
	}

	// Blocking the direct delivery gate leaves the lateral route.
	alt := ZoneDeliveryPaths(n, "Zone_2", map[string]bool{networktest.GateZone2: true})
	if len(alt) != 1 {
		t.Fatalf("alternative paths = %d, want 1", len(alt))
	}
	if !alt[0].Contains(networktest.GateZone2Alt) {
		t.Errorf("alternative path %v should use RG-Z2B", alt[0].Gates)
	}
}

func TestBottleneckFlow(t *testing.T) {
	n := networktest.Demo(t)

	p, err := ShortestPath(n, networktest.NodeSource, networktest.NodeZone2)
	if err != nil {
		t.Fatal(err)
	}

	// Head gate fully open (40 m3/s cap), check gate half open (7.5),
	// delivery gate fully open (10). Bottleneck is the check gate.
	openings := map[string]float64{
		networktest.GateHead:   3.0,
		networktest.GateCheck2: 1.25,
		networktest.GateZone2:  2.0,
	}
	got := BottleneckFlow(n, p, openings, nil)
	if got != 7.5 {
		t.Errorf("bottleneck = %.2f, want 7.5", got)
	}

	// A closed gate on the path kills the flow.
	openings[networktest.GateCheck2] = 0
	if got := BottleneckFlow(n, p, openings, nil); got != 0 {
		t.Errorf("bottleneck with closed gate = %.2f, want 0", got)
	}
}

func TestBottleneckFlow_OrificeClip(t *testing.T) {
	n := networktest.Demo(t)

	p, err := ShortestPath(n, networktest.NodeSource, networktest.NodeMain)
	if err != nil {
		t.Fatal(err)
	}

	openings := map[string]float64{networktest.GateHead: 3.0}

	// With a tiny head difference the orifice discharge is far below the
	// opening-fraction limit of 40 m3/s.
	levels := map[string]float64{
		networktest.NodeSource: 219.05,
		networktest.NodeMain:   219.0,
	}
	clipped := BottleneckFlow(n, p, openings, levels)
	unclipped := BottleneckFlow(n, p, openings, nil)

	if clipped <= 0 {
		t.Fatalf("clipped bottleneck = %.4f, want > 0", clipped)
	}
	if clipped >= unclipped {
		t.Errorf("orifice clip %.3f should undercut rated limit %.3f", clipped, unclipped)
	}
}
