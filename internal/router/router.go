// Package router answers path and impact questions over the canal tree:
// shortest paths, exhaustive bounded path enumeration, the set of delivery
// nodes and zones behind a gate, and the bottleneck flow of a path.
//
// All functions are pure with respect to a network snapshot and an optional
// level snapshot; nothing here mutates shared state.
package router

import (
	"fmt"
	"math"
	"sort"

	"irrigation/internal/hydraulics"
	"irrigation/internal/network"
	"irrigation/pkg/apperror"
)

// Path is an ordered walk from a source node to a destination node.
type Path struct {
	// Nodes lists the node ids from source to destination, inclusive.
	Nodes []string

	// Gates lists the gate ids between consecutive nodes.
	Gates []string
}

// Len returns the number of gates on the path.
func (p *Path) Len() int {
	return len(p.Gates)
}

// Contains reports whether the path traverses the given gate.
func (p *Path) Contains(gateID string) bool {
	for _, g := range p.Gates {
		if g == gateID {
			return true
		}
	}
	return false
}

// =============================================================================
// Path Search
// =============================================================================

// ShortestPath finds the path from src to dst by breadth-first search.
//
// The canal network is a tree, so the path is unique when it exists; BFS is
// kept for robustness against topologies that relax the tree invariant.
func ShortestPath(net *network.Network, src, dst string) (*Path, error) {
	if _, ok := net.Node(src); !ok {
		return nil, apperror.New(apperror.CodeNotFound, fmt.Sprintf("node %s not found", src))
	}
	if _, ok := net.Node(dst); !ok {
		return nil, apperror.New(apperror.CodeNotFound, fmt.Sprintf("node %s not found", dst))
	}
	if src == dst {
		return &Path{Nodes: []string{src}}, nil
	}

	parentNode := map[string]string{src: ""}
	parentGate := map[string]string{}
	queue := []string{src}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, gid := range net.OutgoingGates(cur) {
			gate, _ := net.Gate(gid)
			next := gate.DownstreamNode
			if _, seen := parentNode[next]; seen {
				continue
			}
			parentNode[next] = cur
			parentGate[next] = gid
			if next == dst {
				return reconstruct(src, dst, parentNode, parentGate), nil
			}
			queue = append(queue, next)
		}
	}

	return nil, apperror.ErrNoPath
}

func reconstruct(src, dst string, parentNode, parentGate map[string]string) *Path {
	var nodes, gates []string
	for cur := dst; ; cur = parentNode[cur] {
		nodes = append(nodes, cur)
		if cur == src {
			break
		}
		gates = append(gates, parentGate[cur])
	}
	// Reverse into source-to-destination order.
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	for i, j := 0, len(gates)-1; i < j; i, j = i+1, j-1 {
		gates[i], gates[j] = gates[j], gates[i]
	}
	return &Path{Nodes: nodes, Gates: gates}
}

// AllPaths enumerates every path from src to dst by depth-first search,
// bounded by maxDepth gates per path. Blocked gates are skipped. Paths are
// returned in deterministic order.
func AllPaths(net *network.Network, src, dst string, maxDepth int, blocked map[string]bool) []*Path {
	if maxDepth <= 0 {
		maxDepth = net.GateCount()
	}

	var paths []*Path
	var nodes []string
	var gates []string

	var dfs func(cur string)
	dfs = func(cur string) {
		nodes = append(nodes, cur)
		defer func() { nodes = nodes[:len(nodes)-1] }()

		if cur == dst {
			p := &Path{
				Nodes: append([]string(nil), nodes...),
				Gates: append([]string(nil), gates...),
			}
			paths = append(paths, p)
			return
		}
		if len(gates) >= maxDepth {
			return
		}

		for _, gid := range net.OutgoingGates(cur) {
			if blocked[gid] {
				continue
			}
			gate, _ := net.Gate(gid)
			gates = append(gates, gid)
			dfs(gate.DownstreamNode)
			gates = gates[:len(gates)-1]
		}
	}
	dfs(src)
	return paths
}

// PathGates returns the ordered gate ids connecting a node sequence.
func PathGates(net *network.Network, nodes []string) ([]string, error) {
	if len(nodes) < 2 {
		return nil, nil
	}

	gates := make([]string, 0, len(nodes)-1)
	for i := 0; i < len(nodes)-1; i++ {
		found := ""
		for _, gid := range net.OutgoingGates(nodes[i]) {
			gate, _ := net.Gate(gid)
			if gate.DownstreamNode == nodes[i+1] {
				found = gid
				break
			}
		}
		if found == "" {
			return nil, apperror.New(apperror.CodeNoPath,
				fmt.Sprintf("no gate from %s to %s", nodes[i], nodes[i+1]))
		}
		gates = append(gates, found)
	}
	return gates, nil
}

// =============================================================================
// Impact Analysis
// =============================================================================

// AffectedDownstream returns every delivery node whose source path traverses
// the given gate, in lexical order.
func AffectedDownstream(net *network.Network, gateID string) ([]string, error) {
	gate, ok := net.Gate(gateID)
	if !ok {
		return nil, apperror.ErrGateNotFound
	}

	var delivery []string
	queue := []string{gate.DownstreamNode}
	seen := map[string]bool{gate.DownstreamNode: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		node, _ := net.Node(cur)
		if node.Kind == network.NodeKindDelivery {
			delivery = append(delivery, cur)
		}
		for _, next := range net.Children(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	sort.Strings(delivery)
	return delivery, nil
}

// DownstreamGates returns every gate in the subtree fed by the given gate,
// excluding the gate itself, in lexical order.
func DownstreamGates(net *network.Network, gateID string) ([]string, error) {
	gate, ok := net.Gate(gateID)
	if !ok {
		return nil, apperror.ErrGateNotFound
	}

	var gates []string
	queue := []string{gate.DownstreamNode}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, gid := range net.OutgoingGates(cur) {
			gates = append(gates, gid)
			g, _ := net.Gate(gid)
			queue = append(queue, g.DownstreamNode)
		}
	}

	sort.Strings(gates)
	return gates, nil
}

// AffectedZones returns the ids of zones with at least one delivery node
// behind the given gate.
func AffectedZones(net *network.Network, gateID string) ([]string, error) {
	delivery, err := AffectedDownstream(net, gateID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var zones []string
	for _, id := range delivery {
		node, _ := net.Node(id)
		if node.ZoneID != "" && !seen[node.ZoneID] {
			seen[node.ZoneID] = true
			zones = append(zones, node.ZoneID)
		}
	}
	sort.Strings(zones)
	return zones, nil
}

// ZoneDeliveryPaths enumerates the source-to-delivery paths of a zone that
// avoid the blocked gates. Used by the adapter to score reroute options.
func ZoneDeliveryPaths(net *network.Network, zoneID string, blocked map[string]bool) []*Path {
	src := net.SourceID()

	var paths []*Path
	for _, nodeID := range net.DeliveryNodeIDs() {
		node, _ := net.Node(nodeID)
		if node.ZoneID != zoneID {
			continue
		}
		for _, p := range AllPaths(net, src, nodeID, 0, blocked) {
			paths = append(paths, p)
		}
	}
	return paths
}

// =============================================================================
// Bottleneck Flow
// =============================================================================

// BottleneckFlow returns the limiting flow of a path: the minimum over its
// gates of opening-fraction times rated maximum flow, further clipped by the
// orifice discharge at the given level snapshot. A closed gate on the path
// yields zero. levels may be nil to skip the orifice clip.
func BottleneckFlow(net *network.Network, path *Path, openings map[string]float64, levels map[string]float64) float64 {
	if path == nil || len(path.Gates) == 0 {
		return 0
	}

	bottleneck := math.Inf(1)
	for _, gid := range path.Gates {
		gate, _ := net.Gate(gid)

		fraction := 0.0
		if gate.MaxOpeningM > 0 {
			fraction = network.Clamp(openings[gid]/gate.MaxOpeningM, 0, 1)
		}
		limit := fraction * gate.MaxFlowM3s

		if levels != nil {
			q := hydraulics.GateFlow(gate,
				levels[gate.UpstreamNode], levels[gate.DownstreamNode], openings[gid]).FlowM3s
			if q < limit {
				limit = q
			}
		}
		if limit < bottleneck {
			bottleneck = limit
		}
	}

	if math.IsInf(bottleneck, 1) {
		return 0
	}
	return bottleneck
}
