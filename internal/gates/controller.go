package gates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"irrigation/internal/hydraulics"
	"irrigation/internal/network"
	"irrigation/pkg/apperror"
	"irrigation/pkg/audit"
	"irrigation/pkg/logger"
)

const (
	// ManualUpdateInterval is how often a manual gate is expected to be
	// re-read by its crew.
	ManualUpdateInterval = 15 * time.Minute

	// InstructionThresholdPct is the opening delta below which no manual
	// instruction is worth a field trip.
	InstructionThresholdPct = 5.0

	// LargeOpeningPct flags mode changes at openings wide enough to move
	// serious water while control is handed over.
	LargeOpeningPct = 50.0

	// StaleSyncAfter is the SCADA sync age that degrades the quality
	// score.
	StaleSyncAfter = time.Hour
)

// Reachability answers whether the SCADA bridge can command a gate.
type Reachability interface {
	Reachable(ctx context.Context, gateID string) bool
}

// PrefixReachability is the offline stand-in: gates on instrumented
// prefixes count as reachable.
type PrefixReachability struct{}

// Reachable reports SCADA coverage by id prefix.
func (PrefixReachability) Reachable(_ context.Context, gateID string) bool {
	return InitialMode(gateID) == ModeAutomated
}

// Measurement is the latest field reading for a gate.
type Measurement struct {
	UpstreamLevelM   float64   `json:"upstream_level_m"`
	DownstreamLevelM float64   `json:"downstream_level_m"`
	FlowM3s          float64   `json:"flow_m3s"`
	OpeningPct       float64   `json:"opening_percent"`
	MeasuredAt       time.Time `json:"measured_at"`
}

// State is the controller's view of one gate.
type State struct {
	GateID     string        `json:"gate_id"`
	Mode       Mode          `json:"mode"`
	Status     ControlStatus `json:"status"`
	OpeningPct float64       `json:"opening_percent"`
	FlowM3s    float64       `json:"flow_m3s"`

	Operator string `json:"operator,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Fault    string `json:"fault,omitempty"`

	UpdatedAt   time.Time    `json:"updated_at"`
	Measurement *Measurement `json:"measurement,omitempty"`
}

// TransitionCheck is the verdict on a proposed mode change.
type TransitionCheck struct {
	Valid           bool
	Reason          string
	Recommendations []string

	// EstimatedImpactM3s is the flow affected by the change.
	EstimatedImpactM3s float64
}

// Controller owns the in-memory gate states. Mutations of one gate are
// serialized by that gate's mutex; different gates move independently.
type Controller struct {
	net   *network.Network
	scada Reachability
	audit audit.Logger
	now   func() time.Time

	// onSyncCheck, when set, is called after every manual update so the
	// sync reconciler can schedule a verification read.
	onSyncCheck func(gateID string)

	mu         sync.RWMutex
	states     map[string]*State
	locks      map[string]*sync.Mutex
	lastSyncAt time.Time
}

// NewController создаёт контроллер затворов для сети
func NewController(net *network.Network, scada Reachability, auditLog audit.Logger) *Controller {
	if scada == nil {
		scada = PrefixReachability{}
	}
	if auditLog == nil {
		auditLog = audit.Get()
	}

	c := &Controller{
		net:    net,
		scada:  scada,
		audit:  auditLog,
		now:    time.Now,
		states: make(map[string]*State),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, gid := range net.GateIDs() {
		c.states[gid] = &State{
			GateID:    gid,
			Mode:      InitialMode(gid),
			Status:    StatusStandby,
			UpdatedAt: c.now(),
		}
		c.locks[gid] = &sync.Mutex{}
	}
	return c
}

// OnSyncCheck registers the callback fired after manual updates.
func (c *Controller) OnSyncCheck(fn func(gateID string)) {
	c.onSyncCheck = fn
}

// lock serializes mutations of one gate.
func (c *Controller) lock(gateID string) (*sync.Mutex, *State, error) {
	c.mu.RLock()
	mu, ok := c.locks[gateID]
	st := c.states[gateID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil, apperror.ErrGateNotFound
	}
	mu.Lock()
	return mu, st, nil
}

// snapshot copies a gate state under its per-gate lock. Readers must go
// through here: mutators rewrite *State fields in place while holding only
// the per-gate mutex, so a copy taken under just the registry lock can tear.
func (c *Controller) snapshot(gateID string) (*State, error) {
	mu, st, err := c.lock(gateID)
	if err != nil {
		return nil, err
	}
	defer mu.Unlock()

	out := *st
	if st.Measurement != nil {
		m := *st.Measurement
		out.Measurement = &m
	}
	return &out, nil
}

// flowEstimate evaluates the hydraulic model at the commanded opening.
func (c *Controller) flowEstimate(gateID string, openingPct float64) (float64, bool) {
	gate, ok := c.net.Gate(gateID)
	if !ok {
		return 0, false
	}
	up, _ := c.net.Node(gate.UpstreamNode)
	down, _ := c.net.Node(gate.DownstreamNode)
	if up == nil || down == nil {
		return 0, false
	}
	opening := openingPct / 100 * gate.MaxOpeningM
	return hydraulics.GateFlow(gate, up.WaterLevelM, down.WaterLevelM, opening).FlowM3s, true
}

// GetState returns a copy of the gate state enriched with the current
// hydraulic estimate at the commanded opening.
func (c *Controller) GetState(gateID string) (*State, error) {
	out, err := c.snapshot(gateID)
	if err != nil {
		return nil, err
	}
	if q, ok := c.flowEstimate(gateID, out.OpeningPct); ok {
		out.FlowM3s = q
	}
	return out, nil
}

// UpdateManual applies an operator-reported opening to a manual gate,
// recomputes the flow estimate, and writes the audit trail.
func (c *Controller) UpdateManual(ctx context.Context, gateID string, openingPct float64, operator, notes string) (*State, error) {
	if openingPct < 0 || openingPct > 100 {
		return nil, apperror.NewWithField(apperror.CodeInvalidOpening,
			fmt.Sprintf("opening %.1f%% out of range [0, 100]", openingPct), "opening_percent")
	}

	mu, st, err := c.lock(gateID)
	if err != nil {
		return nil, err
	}
	defer mu.Unlock()

	if st.Mode != ModeManual {
		return nil, apperror.New(apperror.CodeNotManualMode,
			fmt.Sprintf("gate %s is %s, manual updates need MANUAL mode", gateID, st.Mode))
	}

	before := st.OpeningPct
	st.OpeningPct = openingPct
	st.Operator = operator
	st.Notes = notes
	st.UpdatedAt = c.now()

	gate, _ := c.net.Gate(gateID)
	if gate != nil {
		up, _ := c.net.Node(gate.UpstreamNode)
		down, _ := c.net.Node(gate.DownstreamNode)
		if up != nil && down != nil {
			st.FlowM3s = hydraulics.GateFlow(gate, up.WaterLevelM, down.WaterLevelM,
				openingPct/100*gate.MaxOpeningM).FlowM3s
		}
	}

	entry := audit.NewEntry().
		Service("gate-controller").
		Method("UpdateManual").
		Action(audit.ActionCommand).
		Outcome(audit.OutcomeSuccess).
		User(operator, operator).
		Resource("gate", gateID).
		Changes(&audit.ChangeSet{
			Before: map[string]any{"opening_percent": before},
			After:  map[string]any{"opening_percent": openingPct},
			Fields: []string{"opening_percent"},
		}).
		Meta("flow_m3s", st.FlowM3s).
		Build()
	if err := c.audit.Log(ctx, entry); err != nil {
		logger.Log.Warn("Audit write failed for manual gate update", "gate_id", gateID, "error", err)
	}

	if c.onSyncCheck != nil {
		c.onSyncCheck(gateID)
	}

	out := *st
	return &out, nil
}

// ValidateTransition checks whether a gate may change mode.
func (c *Controller) ValidateTransition(ctx context.Context, gateID string, target Mode, force bool) (*TransitionCheck, error) {
	st, err := c.snapshot(gateID)
	if err != nil {
		return nil, err
	}

	check := &TransitionCheck{Valid: true}

	if st.Mode == target {
		check.Reason = fmt.Sprintf("gate already in %s", target)
		return check, nil
	}

	switch target {
	case ModeAutomated, ModeHybrid:
		if !c.scada.Reachable(ctx, gateID) {
			check.Valid = false
			check.Reason = "SCADA bridge cannot reach the gate"
			check.Recommendations = append(check.Recommendations,
				"verify the RTU link before handing control to automation")
		}
	case ModeManual:
		if st.Status == StatusActive && !force {
			check.Valid = false
			check.Reason = "an automated command is in flight"
			check.Recommendations = append(check.Recommendations,
				"wait for the command to finish, or force the transition")
		}
	case ModeMaintenance, ModeFailed:
		// Always allowed; impact noted below.
	default:
		return nil, apperror.NewWithField(apperror.CodeInvalidMode,
			fmt.Sprintf("unknown target mode %q", target), "target_mode")
	}

	if st.OpeningPct > LargeOpeningPct {
		check.Recommendations = append(check.Recommendations,
			fmt.Sprintf("gate is %.0f%% open; consider throttling before the mode change", st.OpeningPct))
	}

	if q, ok := c.flowEstimate(gateID, st.OpeningPct); ok {
		check.EstimatedImpactM3s = q
	}
	return check, nil
}

// ExecuteTransition drives a gate through TRANSITIONING into the target
// mode. On success the gate lands in STANDBY; on a validation failure it
// keeps its mode and records the fault.
func (c *Controller) ExecuteTransition(ctx context.Context, gateID string, target Mode, force bool) error {
	check, err := c.ValidateTransition(ctx, gateID, target, force)
	if err != nil {
		return err
	}

	mu, st, err := c.lock(gateID)
	if err != nil {
		return err
	}
	defer mu.Unlock()

	from := st.Mode
	st.Status = StatusTransitioning
	st.UpdatedAt = c.now()

	outcome := audit.OutcomeSuccess
	if !check.Valid {
		st.Status = StatusFault
		st.Fault = check.Reason
		outcome = audit.OutcomeDenied
	} else {
		st.Mode = target
		st.Status = StatusStandby
		st.Fault = ""
	}

	entry := audit.NewEntry().
		Service("gate-controller").
		Method("ExecuteTransition").
		Action(audit.ActionCommand).
		Outcome(outcome).
		Resource("gate", gateID).
		Meta("from_mode", string(from)).
		Meta("target_mode", string(target)).
		Meta("reason", check.Reason).
		Build()
	if err := c.audit.Log(ctx, entry); err != nil {
		logger.Log.Warn("Audit write failed for mode transition", "gate_id", gateID, "error", err)
	}

	if !check.Valid {
		return apperror.New(apperror.CodeInvalidTransition,
			fmt.Sprintf("gate %s cannot enter %s: %s", gateID, target, check.Reason))
	}

	logger.Log.Info("Gate mode changed", "gate_id", gateID, "from", string(from), "to", string(target))
	return nil
}

// ForceOpening writes an opening regardless of mode. This is the emergency
// override path: it bypasses the scheduler entirely, so every use is
// audited with the operator and reason.
func (c *Controller) ForceOpening(ctx context.Context, gateID string, openingPct float64, operator, reason string) (*State, error) {
	if openingPct < 0 || openingPct > 100 {
		return nil, apperror.NewWithField(apperror.CodeInvalidOpening,
			fmt.Sprintf("opening %.1f%% out of range [0, 100]", openingPct), "opening_percent")
	}

	mu, st, err := c.lock(gateID)
	if err != nil {
		return nil, err
	}
	defer mu.Unlock()

	before := st.OpeningPct
	st.OpeningPct = openingPct
	st.Operator = operator
	st.Notes = reason
	st.Status = StatusActive
	st.UpdatedAt = c.now()

	entry := audit.NewEntry().
		Service("gate-controller").
		Method("ForceOpening").
		Action(audit.ActionCommand).
		Outcome(audit.OutcomeSuccess).
		User(operator, operator).
		Resource("gate", gateID).
		Changes(&audit.ChangeSet{
			Before: map[string]any{"opening_percent": before},
			After:  map[string]any{"opening_percent": openingPct},
			Fields: []string{"opening_percent"},
		}).
		Meta("override", true).
		Meta("reason", reason).
		Build()
	if err := c.audit.Log(ctx, entry); err != nil {
		logger.Log.Warn("Audit write failed for emergency override", "gate_id", gateID, "error", err)
	}
	logger.Log.Warn("Emergency gate override applied",
		"gate_id", gateID, "opening_percent", openingPct, "operator", operator, "reason", reason)

	out := *st
	return &out, nil
}

// RecordMeasurement stores a field reading for a gate and refreshes the
// controller-wide sync timestamp.
func (c *Controller) RecordMeasurement(gateID string, m Measurement) error {
	mu, st, err := c.lock(gateID)
	if err != nil {
		return err
	}
	defer mu.Unlock()

	dup := m
	st.Measurement = &dup

	c.mu.Lock()
	if m.MeasuredAt.After(c.lastSyncAt) {
		c.lastSyncAt = m.MeasuredAt
	}
	c.mu.Unlock()
	return nil
}

// SetStatus forces a control status, used by the adapter on failures.
func (c *Controller) SetStatus(gateID string, status ControlStatus, fault string) error {
	mu, st, err := c.lock(gateID)
	if err != nil {
		return err
	}
	defer mu.Unlock()

	st.Status = status
	st.Fault = fault
	st.UpdatedAt = c.now()
	if status == StatusFault || status == StatusOffline {
		st.Mode = ModeFailed
	}
	return nil
}

// Mode returns the current mode of a gate.
func (c *Controller) Mode(gateID string) (Mode, error) {
	st, err := c.snapshot(gateID)
	if err != nil {
		return "", err
	}
	return st.Mode, nil
}
