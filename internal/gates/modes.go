// Package gates runs the dual-mode gate controller: every gate carries a
// control mode and a control status, manual movements are validated and
// audited, and the sync report reconciles commanded state with what SCADA
// measured in the field.
package gates

import "strings"

// Mode is the control mode of a gate.
type Mode string

const (
	ModeAutomated   Mode = "AUTOMATED"
	ModeManual      Mode = "MANUAL"
	ModeHybrid      Mode = "HYBRID"
	ModeMaintenance Mode = "MAINTENANCE"
	ModeFailed      Mode = "FAILED"
)

// ControlStatus is the momentary condition of a gate's actuation.
type ControlStatus string

const (
	StatusStandby       ControlStatus = "STANDBY"
	StatusActive        ControlStatus = "ACTIVE"
	StatusTransitioning ControlStatus = "TRANSITIONING"
	StatusFault         ControlStatus = "FAULT"
	StatusOffline       ControlStatus = "OFFLINE"
)

// automatedPrefixes are gate-id prefixes provisioned with actuators.
var automatedPrefixes = []string{"HG-C", "CHK", "RG"}

// InitialMode picks a gate's starting mode from its id prefix. Gates on
// instrumented structures start automated, everything else is manual.
func InitialMode(gateID string) Mode {
	for _, prefix := range automatedPrefixes {
		if strings.HasPrefix(gateID, prefix) {
			return ModeAutomated
		}
	}
	return ModeManual
}
