package network

import (
	"fmt"

	"irrigation/pkg/apperror"
)

// ApplyDefaults fills in the optional topology fields: node surface areas by
// node class and gate sill elevations from the parent node invert.
func (n *Network) ApplyDefaults() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, node := range n.nodes {
		if node.SurfaceAreaM2 > 0 {
			continue
		}
		switch node.Kind {
		case NodeKindReservoir, NodeKindMainCanal:
			node.SurfaceAreaM2 = DefaultSurfaceMainCanalM2
		default:
			node.SurfaceAreaM2 = DefaultSurfaceOtherM2
		}
	}

	for _, gate := range n.gates {
		if gate.SillElevationM != 0 {
			continue
		}
		if parent, ok := n.nodes[gate.UpstreamNode]; ok {
			gate.SillElevationM = parent.InvertElevationM
		}
	}
	n.fingerprint = ""
}

// Validate checks the loaded topology: a tree rooted at a unique reservoir,
// no self-loops, sane calibration and geometry. Errors are fatal at startup;
// warnings are logged and the network is still usable.
func (n *Network) Validate() *apperror.ValidationErrors {
	n.mu.RLock()
	defer n.mu.RUnlock()

	result := apperror.NewValidationErrors()

	if len(n.nodes) == 0 {
		result.Add(apperror.ErrEmptyNetwork)
		return result
	}

	n.validateTopology(result)
	n.validateGates(result)
	return result
}

func (n *Network) validateTopology(result *apperror.ValidationErrors) {
	var sources []string
	for id := range n.nodes {
		if _, hasParent := n.parentGate[id]; !hasParent {
			sources = append(sources, id)
		}
	}

	switch {
	case len(sources) == 0:
		result.AddError(apperror.CodeCycleDetected, "no root node: every node has a parent")
		return
	case len(sources) > 1:
		result.AddError(apperror.CodeMultipleSources,
			fmt.Sprintf("expected a single source, found %d: %v", len(sources), sources))
		return
	}

	root := sources[0]
	if n.sourceID != "" && n.sourceID != root {
		result.AddError(apperror.CodeInvalidTopology,
			fmt.Sprintf("reservoir %s is not the tree root (%s)", n.sourceID, root))
	}
	if node := n.nodes[root]; node.Kind != NodeKindReservoir {
		result.AddWarning(apperror.CodeInvalidTopology,
			fmt.Sprintf("root node %s is not declared as a reservoir", root))
	}

	// In a tree rooted at the unique source, every node has exactly one
	// incoming gate and all nodes are reachable. Anything reachable twice
	// or not at all means a cycle or a disconnected branch.
	visited := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, gid := range n.childGates[cur] {
			next := n.gates[gid].DownstreamNode
			if visited[next] {
				result.AddError(apperror.CodeCycleDetected,
					fmt.Sprintf("node %s is reachable by more than one path", next))
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}

	for id := range n.nodes {
		if !visited[id] {
			result.AddError(apperror.CodeInvalidTopology,
				fmt.Sprintf("node %s is unreachable from source %s", id, root))
		}
	}
}

func (n *Network) validateGates(result *apperror.ValidationErrors) {
	for id, gate := range n.gates {
		if gate.K1 <= 0 {
			result.AddErrorWithField(apperror.CodeInvalidCalibration,
				fmt.Sprintf("gate %s: K1 must be positive, got %g", id, gate.K1), "k1")
		}
		if gate.K2 < -1 || gate.K2 > 0 {
			result.AddErrorWithField(apperror.CodeInvalidCalibration,
				fmt.Sprintf("gate %s: K2 must be in [-1, 0], got %g", id, gate.K2), "k2")
		}
		if gate.WidthM <= 0 {
			result.AddErrorWithField(apperror.CodeInvalidTopology,
				fmt.Sprintf("gate %s: width must be positive, got %g", id, gate.WidthM), "width_m")
		}
		if gate.MaxOpeningM <= 0 {
			result.AddErrorWithField(apperror.CodeInvalidOpening,
				fmt.Sprintf("gate %s: max opening must be positive, got %g", id, gate.MaxOpeningM), "max_opening_m")
		} else if gate.MaxOpeningM > MaxGateOpeningM {
			result.AddErrorWithField(apperror.CodeInvalidOpening,
				fmt.Sprintf("gate %s: max opening %g m exceeds %g m", id, gate.MaxOpeningM, MaxGateOpeningM), "max_opening_m")
		}
		if gate.MinOpeningM < 0 || gate.MinOpeningM > gate.MaxOpeningM {
			result.AddErrorWithField(apperror.CodeInvalidOpening,
				fmt.Sprintf("gate %s: min opening %g outside [0, max]", id, gate.MinOpeningM), "min_opening_m")
		}
		if gate.MaxFlowM3s <= 0 {
			result.AddWarning(apperror.CodeInvalidTopology,
				fmt.Sprintf("gate %s: max flow not set", id))
		}

		if gate.Reach == nil {
			result.AddWarning(apperror.CodeInvalidTopology,
				fmt.Sprintf("gate %s: no reach geometry, head loss will be skipped", id))
			continue
		}
		r := gate.Reach
		if r.LengthM <= 0 {
			result.AddErrorWithField(apperror.CodeInvalidTopology,
				fmt.Sprintf("gate %s: reach length must be positive, got %g", id, r.LengthM), "length_m")
		}
		if r.BottomWidthM <= 0 {
			result.AddErrorWithField(apperror.CodeInvalidTopology,
				fmt.Sprintf("gate %s: reach bottom width must be positive, got %g", id, r.BottomWidthM), "bottom_width_m")
		}
		if r.ManningN <= 0 {
			result.AddErrorWithField(apperror.CodeInvalidTopology,
				fmt.Sprintf("gate %s: Manning n must be positive, got %g", id, r.ManningN), "manning_n")
		}
		if r.BedSlope <= 0 {
			result.AddErrorWithField(apperror.CodeInvalidTopology,
				fmt.Sprintf("gate %s: bed slope must be positive, got %g", id, r.BedSlope), "bed_slope")
		}
		if r.SideSlope < 0 {
			result.AddErrorWithField(apperror.CodeInvalidTopology,
				fmt.Sprintf("gate %s: side slope must be non-negative, got %g", id, r.SideSlope), "side_slope")
		}
	}
}
