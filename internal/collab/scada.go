package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"irrigation/internal/gates"
	"irrigation/internal/state"
	"irrigation/pkg/client"
	"irrigation/pkg/config"
	"irrigation/pkg/logger"
)

const (
	// reachabilityTTL bounds how long a health verdict is trusted before
	// the bridge is probed again.
	reachabilityTTL = 30 * time.Second

	probeTimeout     = 5 * time.Second
	reconnectBackoff = 5 * time.Second
)

// BridgeReachability answers gate reachability by probing the SCADA
// bridge's gRPC health endpoint. A healthy bridge vouches for every gate
// it instruments; uninstrumented gates are never reachable. Verdicts are
// cached briefly so mode transition checks do not hammer the bridge.
type BridgeReachability struct {
	cfg  config.ScadaConfig
	conn *grpc.ClientConn

	mu        sync.Mutex
	healthy   bool
	checkedAt time.Time
}

// NewBridgeReachability создаёт пробу моста SCADA
func NewBridgeReachability(ctx context.Context, cfg config.ScadaConfig) (*BridgeReachability, error) {
	conn, err := client.NewGRPCClient(ctx, client.ClientConfig{
		Address:      cfg.GRPCAddress(),
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scada bridge: %w", err)
	}
	return &BridgeReachability{cfg: cfg, conn: conn}, nil
}

// Reachable reports whether the bridge can currently drive the gate.
func (r *BridgeReachability) Reachable(ctx context.Context, gateID string) bool {
	if gates.InitialMode(gateID) != gates.ModeAutomated {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.checkedAt) < reachabilityTTL {
		return r.healthy
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(r.conn).Check(probeCtx,
		&grpc_health_v1.HealthCheckRequest{})
	r.checkedAt = time.Now()
	r.healthy = err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING
	if err != nil {
		logger.Log.Warn("SCADA bridge health probe failed", "error", err)
	}
	return r.healthy
}

// Close tears down the bridge connection.
func (r *BridgeReachability) Close() error {
	return r.conn.Close()
}

// wireMeasurement is the bridge's websocket frame.
type wireMeasurement struct {
	GateID           string    `json:"gate_id"`
	UpstreamLevelM   float64   `json:"upstream_level_m"`
	DownstreamLevelM float64   `json:"downstream_level_m"`
	FlowM3s          float64   `json:"flow_m3s"`
	OpeningPct       float64   `json:"opening_percent"`
	MeasuredAt       time.Time `json:"measured_at"`
}

// MeasurementFeed streams gate telemetry from the bridge's websocket into
// the gate controller and the runtime state store.
type MeasurementFeed struct {
	url        string
	controller *gates.Controller
	store      *state.Store
}

// NewMeasurementFeed создаёт поток телеметрии затворов
func NewMeasurementFeed(cfg config.ScadaConfig, ctrl *gates.Controller, store *state.Store) *MeasurementFeed {
	return &MeasurementFeed{url: cfg.WebsocketURL, controller: ctrl, store: store}
}

// Run consumes the feed until ctx is cancelled, reconnecting with a flat
// backoff when the bridge drops the socket.
func (f *MeasurementFeed) Run(ctx context.Context) {
	for {
		if err := f.consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Warn("SCADA measurement feed dropped", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (f *MeasurementFeed) consume(ctx context.Context) error {
	ws, err := websocket.Dial(f.url, "", "http://localhost/")
	if err != nil {
		return fmt.Errorf("failed to dial measurement feed: %w", err)
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	for {
		var frame wireMeasurement
		if err := websocket.JSON.Receive(ws, &frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read measurement frame: %w", err)
		}
		f.dispatch(ctx, &frame)
	}
}

func (f *MeasurementFeed) dispatch(ctx context.Context, frame *wireMeasurement) {
	if frame.GateID == "" {
		return
	}
	if frame.MeasuredAt.IsZero() {
		frame.MeasuredAt = time.Now().UTC()
	}

	if err := f.controller.RecordMeasurement(frame.GateID, gates.Measurement{
		UpstreamLevelM:   frame.UpstreamLevelM,
		DownstreamLevelM: frame.DownstreamLevelM,
		FlowM3s:          frame.FlowM3s,
		OpeningPct:       frame.OpeningPct,
		MeasuredAt:       frame.MeasuredAt,
	}); err != nil {
		logger.Log.Warn("Dropped measurement for unknown gate",
			"gate_id", frame.GateID, "error", err)
		return
	}

	if f.store == nil {
		return
	}
	if err := f.store.RecordGateMeasurement(ctx, &state.GateMeasurement{
		GateID:     frame.GateID,
		OpeningPct: frame.OpeningPct,
		FlowM3s:    frame.FlowM3s,
		LevelM:     frame.UpstreamLevelM,
		MeasuredAt: frame.MeasuredAt,
	}); err != nil {
		logger.Log.Warn("Failed to persist gate measurement",
			"gate_id", frame.GateID, "error", err)
	}
}
