package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"irrigation/internal/adapter"
	"irrigation/pkg/apperror"
)

func setupStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewStore(client)
}

func TestActiveSchedulePointer(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	if _, err := s.ActiveSchedule(ctx, 2026, 35); apperror.Code(err) != apperror.CodeScheduleNotFound {
		t.Fatalf("code = %s, want SCHEDULE_NOT_FOUND before any write", apperror.Code(err))
	}

	if err := s.SetActiveSchedule(ctx, 2026, 35, "sched-1"); err != nil {
		t.Fatal(err)
	}
	id, err := s.ActiveSchedule(ctx, 2026, 35)
	if err != nil || id != "sched-1" {
		t.Fatalf("active = %q, %v", id, err)
	}

	// Repointing the week replaces the id.
	if err := s.SetActiveSchedule(ctx, 2026, 35, "sched-2"); err != nil {
		t.Fatal(err)
	}
	if id, _ := s.ActiveSchedule(ctx, 2026, 35); id != "sched-2" {
		t.Errorf("active = %q, want sched-2", id)
	}

	if err := s.ClearActiveSchedule(ctx, 2026, 35); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveSchedule(ctx, 2026, 35); apperror.Code(err) != apperror.CodeScheduleNotFound {
		t.Errorf("code = %s after clear", apperror.Code(err))
	}
}

func TestTeamLocationRoundTrip(t *testing.T) {
	mr, s := setupStore(t)
	ctx := context.Background()

	loc := &TeamLocation{TeamID: "T1", Lat: 14.09, Lng: 100.61, RecordedAt: time.Now().UTC()}
	if err := s.UpdateTeamLocation(ctx, loc); err != nil {
		t.Fatal(err)
	}

	got, err := s.TeamLocation(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Lat != 14.09 || got.Lng != 100.61 {
		t.Errorf("location = %+v", got)
	}

	// Locations age out after a day of silence.
	mr.FastForward(25 * time.Hour)
	if _, err := s.TeamLocation(ctx, "T1"); apperror.Code(err) != apperror.CodeTeamNotFound {
		t.Errorf("code = %s, want TEAM_NOT_FOUND after TTL", apperror.Code(err))
	}
}

func TestTeamLocation_RequiresID(t *testing.T) {
	_, s := setupStore(t)
	if err := s.UpdateTeamLocation(context.Background(), &TeamLocation{}); apperror.Code(err) != apperror.CodeInvalidArgument {
		t.Errorf("code = %s, want INVALID_ARGUMENT", apperror.Code(err))
	}
}

func TestGateMeasurementRoundTrip(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	m := &GateMeasurement{GateID: "RG-Z2", OpeningPct: 42, FlowM3s: 3.1, MeasuredAt: time.Now().UTC()}
	if err := s.RecordGateMeasurement(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := s.GateMeasurement(ctx, "RG-Z2")
	if err != nil {
		t.Fatal(err)
	}
	if got.OpeningPct != 42 || got.FlowM3s != 3.1 {
		t.Errorf("measurement = %+v", got)
	}

	if _, err := s.GateMeasurement(ctx, "RG-Z9"); apperror.Code(err) != apperror.CodeGateNotFound {
		t.Errorf("code = %s, want GATE_NOT_FOUND", apperror.Code(err))
	}
}

func TestAdaptationTrailCapped(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < adaptationTrailDepth+10; i++ {
		rec := &adapter.Record{
			ID:         fmt.Sprintf("adapt-%d", i),
			ScheduleID: "sched-1",
			Event:      "gate_failure",
			Strategy:   adapter.StrategyDelay,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.PushAdaptation(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.Adaptations(ctx, "sched-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != adaptationTrailDepth {
		t.Fatalf("trail = %d records, want capped at %d", len(records), adaptationTrailDepth)
	}
	// Newest first; the oldest ten are gone.
	if records[0].ID != fmt.Sprintf("adapt-%d", adaptationTrailDepth+9) {
		t.Errorf("head = %s", records[0].ID)
	}
}

func TestScheduleEventsPubSub(t *testing.T) {
	_, s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := s.SubscribeScheduleEvents(ctx)

	// Give the subscriber a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	rec := &adapter.Record{
		ID: "adapt-1", ScheduleID: "sched-1", Event: "reoptimize",
		Strategy: adapter.StrategyReoptimize, VersionAfter: 4, CreatedAt: time.Now().UTC(),
	}
	if err := s.PushAdaptation(ctx, rec); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.ScheduleID != "sched-1" || ev.Version != 4 {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no schedule event received")
	}
}
