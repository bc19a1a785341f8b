package network

// NodeKind classifies a node within the canal tree.
type NodeKind int

const (
	NodeKindUnspecified NodeKind = iota
	NodeKindReservoir
	NodeKindMainCanal
	NodeKindJunction
	NodeKindDelivery
)

// String returns the string representation of the node kind.
func (k NodeKind) String() string {
	switch k {
	case NodeKindReservoir:
		return "reservoir"
	case NodeKindMainCanal:
		return "main_canal"
	case NodeKindJunction:
		return "junction"
	case NodeKindDelivery:
		return "delivery"
	default:
		return "unspecified"
	}
}

// ParseNodeKind maps a topology-file kind string to a NodeKind.
func ParseNodeKind(s string) NodeKind {
	switch s {
	case "reservoir", "source":
		return NodeKindReservoir
	case "main_canal":
		return NodeKindMainCanal
	case "junction":
		return NodeKindJunction
	case "delivery", "zone":
		return NodeKindDelivery
	default:
		return NodeKindUnspecified
	}
}

// GateType is the physical construction of a gate.
type GateType int

const (
	GateTypeUnspecified GateType = iota
	GateTypeSluice
	GateTypeRadial
	GateTypeOvershot
	GateTypeUndershot
)

// String returns the string representation of the gate type.
func (t GateType) String() string {
	switch t {
	case GateTypeSluice:
		return "sluice"
	case GateTypeRadial:
		return "radial"
	case GateTypeOvershot:
		return "overshot"
	case GateTypeUndershot:
		return "undershot"
	default:
		return "unspecified"
	}
}

// ParseGateType maps a topology-file type string to a GateType.
func ParseGateType(s string) GateType {
	switch s {
	case "sluice":
		return GateTypeSluice
	case "radial":
		return GateTypeRadial
	case "overshot":
		return GateTypeOvershot
	case "undershot":
		return GateTypeUndershot
	default:
		return GateTypeUnspecified
	}
}

// Node is a canal junction or the reservoir. The reservoir holds a fixed
// water level; every other node's level is solver state initialized from
// WaterLevelM.
type Node struct {
	ID               string
	Name             string
	Kind             NodeKind
	InvertElevationM float64
	SurfaceAreaM2    float64
	WaterLevelM      float64
	Lat              float64
	Lng              float64
	ZoneID           string // set for delivery nodes
}

// Clone создаёт глубокую копию узла
func (n *Node) Clone() *Node {
	c := *n
	return &c
}

// Depth returns the water depth above the node invert for a given level.
func (n *Node) Depth(level float64) float64 {
	return level - n.InvertElevationM
}

// Reach describes the trapezoidal canal section between a gate's two nodes.
type Reach struct {
	LengthM      float64
	BottomWidthM float64
	SideSlope    float64
	ManningN     float64
	BedSlope     float64
}

// Gate is a directed edge between two nodes. Calibration (K1, K2) feeds the
// discharge model Q = Cs * L * Hs * sqrt(2g * dH) with Cs = K1 * (Hs/Go)^K2.
type Gate struct {
	ID             string
	UpstreamNode   string
	DownstreamNode string
	Type           GateType
	WidthM         float64
	MinOpeningM    float64
	MaxOpeningM    float64
	SillElevationM float64
	MaxFlowM3s     float64

	K1 float64
	K2 float64
	// Calibration validity interval on the Hs/Go ratio.
	CalHsGoMin float64
	CalHsGoMax float64

	ScadaID string
	Reach   *Reach
}

// Clone создаёт глубокую копию затвора
func (g *Gate) Clone() *Gate {
	c := *g
	if g.Reach != nil {
		r := *g.Reach
		c.Reach = &r
	}
	return &c
}

// HasSCADA reports whether the gate is wired to a SCADA actuator.
func (g *Gate) HasSCADA() bool {
	return g.ScadaID != ""
}

// Zone groups plots behind one or more delivery gates.
type Zone struct {
	ID            string
	Name          string
	DeliveryGates []string
	CentroidLat   float64
	CentroidLng   float64
}

// Clone создаёт глубокую копию зоны
func (z *Zone) Clone() *Zone {
	c := *z
	c.DeliveryGates = append([]string(nil), z.DeliveryGates...)
	return &c
}

// Plot is an irrigated section inside a zone.
type Plot struct {
	ID           string
	ZoneID       string
	AreaRai      float64
	DeliveryGate string
	CropType     string
}

// Clone создаёт глубокую копию участка
func (p *Plot) Clone() *Plot {
	c := *p
	return &c
}
