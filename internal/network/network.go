package network

import (
	"fmt"
	"sort"
	"sync"

	"irrigation/pkg/apperror"
	"irrigation/pkg/cache"
)

// Network is the in-memory canal tree: nodes connected by gates, each gate
// carrying the reach that joins its two nodes. The topology is loaded once at
// startup and immutable afterwards; only gate calibration may be updated at
// runtime, under the write lock.
type Network struct {
	mu sync.RWMutex

	nodes map[string]*Node
	gates map[string]*Gate
	zones map[string]*Zone
	plots map[string]*Plot

	sourceID string

	// Derived indexes, rebuilt on every mutation.
	childGates  map[string][]string // node -> outgoing gate ids
	parentGate  map[string]string   // node -> incoming gate id
	zoneGates   map[string][]string // zone -> delivery gate ids
	fingerprint string
}

// New создаёт пустую сеть
func New() *Network {
	return &Network{
		nodes:      make(map[string]*Node),
		gates:      make(map[string]*Gate),
		zones:      make(map[string]*Zone),
		plots:      make(map[string]*Plot),
		childGates: make(map[string][]string),
		parentGate: make(map[string]string),
		zoneGates:  make(map[string][]string),
	}
}

// AddNode adds a node. Duplicate ids are rejected.
func (n *Network) AddNode(node *Node) error {
	if node == nil || node.ID == "" {
		return apperror.New(apperror.CodeNilInput, "node is nil or has empty id")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.nodes[node.ID]; ok {
		return apperror.New(apperror.CodeDuplicateNode,
			fmt.Sprintf("node %s already exists", node.ID))
	}
	n.nodes[node.ID] = node
	if node.Kind == NodeKindReservoir && n.sourceID == "" {
		n.sourceID = node.ID
	}
	n.fingerprint = ""
	return nil
}

// AddGate adds a gate edge. Both endpoints must already exist and differ.
func (n *Network) AddGate(gate *Gate) error {
	if gate == nil || gate.ID == "" {
		return apperror.New(apperror.CodeNilInput, "gate is nil or has empty id")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.gates[gate.ID]; ok {
		return apperror.New(apperror.CodeDuplicateNode,
			fmt.Sprintf("gate %s already exists", gate.ID))
	}
	if gate.UpstreamNode == gate.DownstreamNode {
		return apperror.NewWithField(apperror.CodeSelfLoop,
			fmt.Sprintf("gate %s connects node %s to itself", gate.ID, gate.UpstreamNode), "downstream_node")
	}
	if _, ok := n.nodes[gate.UpstreamNode]; !ok {
		return apperror.New(apperror.CodeDanglingGate,
			fmt.Sprintf("gate %s references unknown upstream node %s", gate.ID, gate.UpstreamNode))
	}
	if _, ok := n.nodes[gate.DownstreamNode]; !ok {
		return apperror.New(apperror.CodeDanglingGate,
			fmt.Sprintf("gate %s references unknown downstream node %s", gate.ID, gate.DownstreamNode))
	}

	n.gates[gate.ID] = gate
	n.childGates[gate.UpstreamNode] = append(n.childGates[gate.UpstreamNode], gate.ID)
	sort.Strings(n.childGates[gate.UpstreamNode])
	n.parentGate[gate.DownstreamNode] = gate.ID
	n.fingerprint = ""
	return nil
}

// AddZone registers a zone and indexes its delivery gates.
func (n *Network) AddZone(zone *Zone) error {
	if zone == nil || zone.ID == "" {
		return apperror.New(apperror.CodeNilInput, "zone is nil or has empty id")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.zones[zone.ID] = zone
	n.zoneGates[zone.ID] = append([]string(nil), zone.DeliveryGates...)
	sort.Strings(n.zoneGates[zone.ID])
	return nil
}

// AddPlot registers a plot under its zone.
func (n *Network) AddPlot(plot *Plot) error {
	if plot == nil || plot.ID == "" {
		return apperror.New(apperror.CodeNilInput, "plot is nil or has empty id")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.plots[plot.ID] = plot
	return nil
}

// Node возвращает узел по идентификатору
func (n *Network) Node(id string) (*Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	return node, ok
}

// Gate возвращает затвор по идентификатору
func (n *Network) Gate(id string) (*Gate, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	gate, ok := n.gates[id]
	return gate, ok
}

// Zone возвращает зону по идентификатору
func (n *Network) Zone(id string) (*Zone, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	zone, ok := n.zones[id]
	return zone, ok
}

// Plot возвращает участок по идентификатору
func (n *Network) Plot(id string) (*Plot, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	plot, ok := n.plots[id]
	return plot, ok
}

// SourceID returns the reservoir node id, or "" if none is registered.
func (n *Network) SourceID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sourceID
}

// NodeIDs returns all node ids in lexical order.
func (n *Network) NodeIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GateIDs returns all gate ids in lexical order.
func (n *Network) GateIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.gates))
	for id := range n.gates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ZoneIDs returns all zone ids in lexical order.
func (n *Network) ZoneIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.zones))
	for id := range n.zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlotsByZone returns the plots of a zone sorted by id.
func (n *Network) PlotsByZone(zoneID string) []*Plot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []*Plot
	for _, p := range n.plots {
		if p.ZoneID == zoneID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutgoingGates returns the ids of gates leaving a node, in lexical order.
func (n *Network) OutgoingGates(nodeID string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.childGates[nodeID]...)
}

// ParentGate returns the id of the gate feeding a node, or "" for the source.
func (n *Network) ParentGate(nodeID string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parentGate[nodeID]
}

// Children returns the downstream node ids of a node, in gate order.
func (n *Network) Children(nodeID string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	gateIDs := n.childGates[nodeID]
	out := make([]string, 0, len(gateIDs))
	for _, gid := range gateIDs {
		out = append(out, n.gates[gid].DownstreamNode)
	}
	return out
}

// DeliveryGates returns the delivery gate ids of a zone.
func (n *Network) DeliveryGates(zoneID string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.zoneGates[zoneID]...)
}

// DeliveryNodeIDs returns all delivery node ids in lexical order.
func (n *Network) DeliveryNodeIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var ids []string
	for id, node := range n.nodes {
		if node.Kind == NodeKindDelivery {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// NodeCount возвращает число узлов
func (n *Network) NodeCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

// GateCount возвращает число затворов
func (n *Network) GateCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.gates)
}

// UpdateCalibration replaces the (K1, K2) calibration of a gate. This is the
// only mutation allowed after load.
func (n *Network) UpdateCalibration(gateID string, k1, k2 float64) error {
	if k1 <= 0 {
		return apperror.NewWithField(apperror.CodeInvalidCalibration, "K1 must be positive", "k1")
	}
	if k2 < -1 || k2 > 0 {
		return apperror.NewWithField(apperror.CodeInvalidCalibration, "K2 must be in [-1, 0]", "k2")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	gate, ok := n.gates[gateID]
	if !ok {
		return apperror.ErrGateNotFound
	}
	gate.K1 = k1
	gate.K2 = k2
	n.fingerprint = ""
	return nil
}

// InitialLevels returns a fresh node-level map for a solver run. Levels below
// the minimum depth are lifted onto it so the solver never starts dry.
func (n *Network) InitialLevels() map[string]float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	levels := make(map[string]float64, len(n.nodes))
	for id, node := range n.nodes {
		level := node.WaterLevelM
		if level < node.InvertElevationM+MinDepthM {
			level = node.InvertElevationM + MinDepthM
		}
		levels[id] = level
	}
	return levels
}

// Fingerprint returns a stable hash of the topology, used as a cache key
// component. Computed lazily and reset on any mutation.
func (n *Network) Fingerprint() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fingerprint != "" {
		return n.fingerprint
	}

	elevations := make(map[string]float64, len(n.nodes))
	for id, node := range n.nodes {
		elevations[id] = node.InvertElevationM
	}
	edges := make(map[string][2]string, len(n.gates))
	for id, gate := range n.gates {
		edges[id] = [2]string{gate.UpstreamNode, gate.DownstreamNode}
	}
	n.fingerprint = cache.NetworkFingerprint(elevations, edges)
	return n.fingerprint
}

// Clone создаёт глубокую копию сети
func (n *Network) Clone() *Network {
	n.mu.RLock()
	defer n.mu.RUnlock()

	clone := New()
	for id, node := range n.nodes {
		clone.nodes[id] = node.Clone()
	}
	for id, gate := range n.gates {
		clone.gates[id] = gate.Clone()
	}
	for id, zone := range n.zones {
		clone.zones[id] = zone.Clone()
	}
	for id, plot := range n.plots {
		clone.plots[id] = plot.Clone()
	}
	for id, gates := range n.childGates {
		clone.childGates[id] = append([]string(nil), gates...)
	}
	for id, gid := range n.parentGate {
		clone.parentGate[id] = gid
	}
	for id, gates := range n.zoneGates {
		clone.zoneGates[id] = append([]string(nil), gates...)
	}
	clone.sourceID = n.sourceID
	clone.fingerprint = n.fingerprint
	return clone
}
