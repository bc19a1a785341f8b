package scheduler

import (
	"context"
	"testing"
	"time"

	"irrigation/internal/demand"
	"irrigation/internal/network/networktest"
	"irrigation/internal/schedule"
	"irrigation/internal/weather"
)

func testTeams() []*schedule.FieldTeam {
	return []*schedule.FieldTeam{
		{
			ID: "T1", Code: "TEAM-A", Name: "North crew",
			BaseLat: 14.105, BaseLng: 100.60,
			MaxOperationsPerDay: 5, VehicleSpeedKmh: 40,
		},
	}
}

func threeZoneDemands() []demand.GateDemand {
	return []demand.GateDemand{
		{GateID: networktest.GateZone1, ZoneID: "Zone_1", TotalVolumeM3: 28800, WeightedPriority: 9},
		{GateID: networktest.GateZone2, ZoneID: "Zone_2", TotalVolumeM3: 21600, WeightedPriority: 7},
		{GateID: networktest.GateZone3, ZoneID: "Zone_3", TotalVolumeM3: 14400, WeightedPriority: 5},
	}
}

func TestIsoWeekStart(t *testing.T) {
	monday := isoWeekStart(2026, 35)
	if !monday.Equal(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("week 35 of 2026 starts %v, want Monday 2026-08-24", monday)
	}
	if monday.Weekday() != time.Monday {
		t.Errorf("weekday = %v", monday.Weekday())
	}

	// Week 1 of 2027 contains January 4th.
	jan4 := time.Date(2027, 1, 4, 0, 0, 0, 0, time.UTC)
	start := isoWeekStart(2027, 1)
	if jan4.Before(start) || jan4.After(start.AddDate(0, 0, 6)) {
		t.Errorf("week 1 of 2027 = %v, must contain Jan 4", start)
	}
}

func TestBuildWeekly_ThreeZones(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)

	sched, sol, err := p.BuildWeekly(context.Background(), 2026, 35, threeZoneDemands(), testTeams(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if sol.Status == StatusInfeasible {
		t.Fatalf("solution = %s", sol)
	}
	if sol.OperationCount != 3 || len(sched.Operations) != 3 {
		t.Fatalf("operations = %d, want 3", len(sched.Operations))
	}
	if sol.FeasibilityTries == 0 {
		t.Error("hydraulic verification did not run")
	}

	tue := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	thu := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	for _, op := range sched.Operations {
		if !op.Date.Equal(tue) && !op.Date.Equal(thu) {
			t.Errorf("operation %s on %v, want Tuesday or Thursday", op.GateID, op.Date)
		}
		if op.Status != schedule.OperationScheduled {
			t.Errorf("operation %s status = %s", op.GateID, op.Status)
		}
		if op.TeamID != "T1" {
			t.Errorf("operation %s unassigned", op.GateID)
		}
		if op.TargetOpeningPct <= 0 || op.TargetOpeningPct > 100 {
			t.Errorf("operation %s opening = %.1f%%", op.GateID, op.TargetOpeningPct)
		}
		if op.PlannedStart.Before(op.Date.Add(6*time.Hour)) || op.PlannedEnd.After(op.Date.Add(18*time.Hour)) {
			t.Errorf("operation %s runs %v-%v outside working hours", op.GateID, op.PlannedStart, op.PlannedEnd)
		}
	}

	if sched.Metrics.TotalDemandM3 != 64800 {
		t.Errorf("total demand = %.0f, want 64800", sched.Metrics.TotalDemandM3)
	}
	if sched.Metrics.LaborHours <= 0 {
		t.Error("labor hours not computed")
	}
}

func TestBuildWeekly_BlackoutShiftsDay(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)

	// A washout observed on Tuesday of week 34 must black out the Tuesday
	// of the planning week, end to end through the rule engine and the
	// accumulator.
	adj, err := weather.Evaluate(weather.DefaultRules(), &weather.Observation{
		ZoneID: "Zone_1",
		Date:   time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC),
		Fields: map[string]float64{weather.FieldRainfallMM: 30},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !adj.CancelIrrigation {
		t.Fatal("30 mm of rain must cancel irrigation")
	}
	acc := weather.NewAccumulator()
	acc.Add(*adj)
	summaries := acc.Summaries(2026, 35)
	if len(summaries) != 1 {
		t.Fatalf("summaries = %+v, want one zone", summaries)
	}

	demands := []demand.GateDemand{
		{GateID: networktest.GateZone1, ZoneID: "Zone_1", TotalVolumeM3: 14400},
	}
	sched, _, err := p.BuildWeekly(context.Background(), 2026, 35, demands, testTeams(), summaries)
	if err != nil {
		t.Fatal(err)
	}
	if len(sched.Operations) != 1 {
		t.Fatalf("operations = %d, want 1", len(sched.Operations))
	}
	tue := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	thu := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	if sched.Operations[0].Date.Equal(tue) {
		t.Fatalf("operation landed on blacked-out Tuesday %v", tue)
	}
	if !sched.Operations[0].Date.Equal(thu) {
		t.Errorf("operation on %v, want Thursday after the Tuesday blackout", sched.Operations[0].Date)
	}
}

func TestBuildWeekly_UnknownGateSpills(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)

	demands := []demand.GateDemand{
		{GateID: networktest.GateZone2, ZoneID: "Zone_2", TotalVolumeM3: 14400},
		{GateID: "RG-MISSING", ZoneID: "Zone_9", TotalVolumeM3: 5000},
	}
	sched, sol, err := p.BuildWeekly(context.Background(), 2026, 35, demands, testTeams(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sched.Operations) != 1 {
		t.Errorf("operations = %d, want 1", len(sched.Operations))
	}
	if sol.SpillM3 < 5000 {
		t.Errorf("spill = %.0f, want at least the 5000 m3 unknown-gate demand", sol.SpillM3)
	}
	if sol.Status == StatusOptimal {
		t.Errorf("status = %s, spilled plans are not optimal", sol.Status)
	}
}

func TestBuildWeekly_NoDemands(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)

	sched, sol, err := p.BuildWeekly(context.Background(), 2026, 35, nil, testTeams(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sched.Operations) != 0 || sol.Status != StatusInfeasible {
		t.Errorf("empty build = %s with %d operations", sol.Status, len(sched.Operations))
	}
}

func TestBuildWeekly_WithoutTeams(t *testing.T) {
	n := networktest.Demo(t)
	p := New(n, nil, nil)

	// Fully automated gates can run without field crews.
	sched, sol, err := p.BuildWeekly(context.Background(), 2026, 35, threeZoneDemands(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sol.Status == StatusInfeasible || len(sched.Operations) != 3 {
		t.Fatalf("solution = %s with %d operations", sol.Status, len(sched.Operations))
	}
	for _, op := range sched.Operations {
		if op.TeamID != "" {
			t.Errorf("operation %s assigned to %s, want unassigned", op.GateID, op.TeamID)
		}
	}
}
