package scheduler

import (
	"testing"
	"time"

	"irrigation/internal/demand"
	"irrigation/internal/hydraulics"
	"irrigation/internal/network/networktest"
	"irrigation/pkg/apperror"
)

func opsFor(ops []GateOperation, action GateAction) []GateOperation {
	var out []GateOperation
	for _, op := range ops {
		if op.Action == action {
			out = append(out, op)
		}
	}
	return out
}

func TestSequenceRequests_SingleRequest(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)
	start := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)

	// 7200 m3 at 2 m3/s is one hour of irrigation.
	ops, err := p.SequenceRequests([]IrrigationRequest{
		{ZoneID: "Zone_2", VolumeM3: 7200, FlowM3s: 2.0, Priority: demand.PriorityHigh},
	}, start)
	if err != nil {
		t.Fatal(err)
	}

	opens := opsFor(ops, ActionOpen)
	closes := opsFor(ops, ActionClose)
	if len(opens) != 3 || len(closes) != 3 {
		t.Fatalf("ops = %d open, %d close; want 3 and 3", len(opens), len(closes))
	}

	// Upstream to downstream with a 2 minute stagger.
	wantOpen := []struct {
		gate string
		at   time.Time
		pct  float64
	}{
		{networktest.GateHead, start, 5},
		{networktest.GateCheck2, start.Add(2 * time.Minute), 100.0 * 2 / 15},
		{networktest.GateZone2, start.Add(4 * time.Minute), 20},
	}
	for i, want := range wantOpen {
		got := opens[i]
		if got.GateID != want.gate || !got.Time.Equal(want.at) {
			t.Errorf("open[%d] = %s at %v, want %s at %v", i, got.GateID, got.Time, want.gate, want.at)
		}
		if diff := got.OpeningPct - want.pct; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("open[%d] pct = %.3f, want %.3f", i, got.OpeningPct, want.pct)
		}
	}

	// Arrival lags by the Manning travel time of each reach.
	var arrival time.Duration
	for _, gid := range []string{networktest.GateHead, networktest.GateCheck2, networktest.GateZone2} {
		gate, _ := n.Gate(gid)
		tt, err := hydraulics.TravelTime(gate.Reach, 2.0)
		if err != nil {
			t.Fatal(err)
		}
		arrival += time.Duration(tt * float64(time.Second))
	}
	if arrival <= 0 {
		t.Fatal("expected positive travel time over 2.4 km of canal")
	}

	// Drain in reverse order with 5 minute gaps, starting when the hour
	// of irrigation ends.
	wantFirstClose := start.Add(arrival).Add(time.Hour)
	wantClose := []string{networktest.GateZone2, networktest.GateCheck2, networktest.GateHead}
	for i, gate := range wantClose {
		got := closes[i]
		wantAt := wantFirstClose.Add(time.Duration(i) * 5 * time.Minute)
		if got.GateID != gate || !got.Time.Equal(wantAt) {
			t.Errorf("close[%d] = %s at %v, want %s at %v", i, got.GateID, got.Time, gate, wantAt)
		}
	}
}

func TestSequenceRequests_SharedPrefixRunsConcurrently(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)
	start := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)

	// 5+5 m3/s fits the 40 m3/s head gate, so both zones irrigate at once.
	ops, err := p.SequenceRequests([]IrrigationRequest{
		{ZoneID: "Zone_1", VolumeM3: 18000, FlowM3s: 5.0, Priority: demand.PriorityHigh},
		{ZoneID: "Zone_2", VolumeM3: 18000, FlowM3s: 5.0, Priority: demand.PriorityHigh},
	}, start)
	if err != nil {
		t.Fatal(err)
	}

	opens := opsFor(ops, ActionOpen)
	if len(opens) != 5 {
		t.Fatalf("opens = %d, want 5 (head gate shared)", len(opens))
	}

	headOpens := 0
	for _, op := range opens {
		if op.GateID == networktest.GateHead {
			headOpens++
			if op.OpeningPct != 25 {
				t.Errorf("head opening = %.1f%%, want 25%% for the combined 10 m3/s", op.OpeningPct)
			}
		}
	}
	if headOpens != 1 {
		t.Errorf("head gate opened %d times, want once", headOpens)
	}

	// The shared head gate closes exactly once, after both deliveries.
	headCloses := 0
	var headCloseAt time.Time
	var lastZoneClose time.Time
	for _, op := range opsFor(ops, ActionClose) {
		if op.GateID == networktest.GateHead {
			headCloses++
			headCloseAt = op.Time
		}
		if op.GateID == networktest.GateZone1 || op.GateID == networktest.GateZone2 {
			if op.Time.After(lastZoneClose) {
				lastZoneClose = op.Time
			}
		}
	}
	if headCloses != 1 {
		t.Fatalf("head gate closed %d times, want once", headCloses)
	}
	if !headCloseAt.After(lastZoneClose) {
		t.Errorf("head closed at %v before the last delivery gate at %v", headCloseAt, lastZoneClose)
	}
}

func TestSequenceRequests_OverCapacityQueuesByPriority(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)
	start := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)

	// Both requests share the full path to Zone_2; 6+6 m3/s overloads the
	// 10 m3/s delivery gate, so the low priority request waits.
	ops, err := p.SequenceRequests([]IrrigationRequest{
		{ZoneID: "Zone_2", VolumeM3: 3600, FlowM3s: 6.0, Priority: demand.PriorityLow},
		{ZoneID: "Zone_2", VolumeM3: 7200, FlowM3s: 6.0, Priority: demand.PriorityCritical},
	}, start)
	if err != nil {
		t.Fatal(err)
	}

	if len(ops) != 12 {
		t.Fatalf("ops = %d, want two full open/close sequences", len(ops))
	}

	// The critical request owns the first group: its delivery runs
	// 7200/6 = 20 min, so the first close wave belongs to it.
	if !ops[0].Time.Equal(start) {
		t.Errorf("first op at %v, want the start time", ops[0].Time)
	}

	var firstGroupLastClose time.Time
	for _, op := range ops[:6] {
		if op.Time.After(firstGroupLastClose) {
			firstGroupLastClose = op.Time
		}
	}
	secondGroupStart := ops[6].Time
	if !secondGroupStart.After(firstGroupLastClose) {
		t.Errorf("second group starts %v, before the first finishes at %v",
			secondGroupStart, firstGroupLastClose)
	}
}

func TestSequenceRequests_Invalid(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)
	start := time.Now()

	_, err := p.SequenceRequests([]IrrigationRequest{
		{ZoneID: "Zone_2", VolumeM3: 100, FlowM3s: 0},
	}, start)
	if apperror.Code(err) != apperror.CodeInvalidArgument {
		t.Errorf("zero flow: code = %s, want INVALID_ARGUMENT", apperror.Code(err))
	}

	_, err = p.SequenceRequests([]IrrigationRequest{
		{ZoneID: "Zone_9", VolumeM3: 100, FlowM3s: 1},
	}, start)
	if apperror.Code(err) != apperror.CodeUnreachableZone {
		t.Errorf("unknown zone: code = %s, want UNREACHABLE_ZONE", apperror.Code(err))
	}
}
