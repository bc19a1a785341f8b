package cache

import (
	"strings"
	"testing"
)

func testNodes() map[string]float64 {
	return map[string]float64{
		"Source": 221.0,
		"M(0,0)": 220.5,
		"M(0,2)": 219.8,
		"Zone_2": 218.0,
	}
}

func testGates() map[string][2]string {
	return map[string][2]string{
		"HG-C-01": {"Source", "M(0,0)"},
		"CHK-02":  {"M(0,0)", "M(0,2)"},
		"RG-05":   {"M(0,2)", "Zone_2"},
	}
}

func TestNetworkFingerprint(t *testing.T) {
	t.Run("empty network", func(t *testing.T) {
		if hash := NetworkFingerprint(nil, nil); hash != "" {
			t.Errorf("NetworkFingerprint(nil) = %v, want empty string", hash)
		}
	})

	t.Run("same network produces same hash", func(t *testing.T) {
		hash1 := NetworkFingerprint(testNodes(), testGates())
		hash2 := NetworkFingerprint(testNodes(), testGates())

		if hash1 != hash2 {
			t.Errorf("same network should produce same hash: %v != %v", hash1, hash2)
		}
		if len(hash1) != 32 {
			t.Errorf("expected 32 hex chars, got %d", len(hash1))
		}
	})

	t.Run("different elevations produce different hashes", func(t *testing.T) {
		nodes := testNodes()
		nodes["Source"] = 222.0

		hash1 := NetworkFingerprint(testNodes(), testGates())
		hash2 := NetworkFingerprint(nodes, testGates())

		if hash1 == hash2 {
			t.Error("different networks should produce different hashes")
		}
	})

	t.Run("gate topology affects hash", func(t *testing.T) {
		gates := testGates()
		gates["RG-05"] = [2]string{"M(0,0)", "Zone_2"}

		hash1 := NetworkFingerprint(testNodes(), testGates())
		hash2 := NetworkFingerprint(testNodes(), gates)

		if hash1 == hash2 {
			t.Error("rewired gate should change the hash")
		}
	})
}

func TestOpeningsHash(t *testing.T) {
	openings := map[string]float64{
		"HG-C-01": 0.8,
		"CHK-02":  0.6,
	}

	hash1 := OpeningsHash(openings)
	hash2 := OpeningsHash(map[string]float64{
		"CHK-02":  0.6,
		"HG-C-01": 0.8,
	})

	if hash1 != hash2 {
		t.Error("map order should not affect openings hash")
	}

	if OpeningsHash(nil) != "" {
		t.Error("empty openings should hash to empty string")
	}

	openings["HG-C-01"] = 0.9
	if OpeningsHash(openings) == hash1 {
		t.Error("changed opening should change the hash")
	}
}

func TestKeyBuilders(t *testing.T) {
	if got := BuildSolveKey("abc", "def"); got != "solve:abc:def" {
		t.Errorf("BuildSolveKey = %q", got)
	}

	if got := ActiveScheduleKey(2026, 14); got != "active_schedule:2026:week_14" {
		t.Errorf("ActiveScheduleKey = %q", got)
	}

	if got := TeamLocationKey("T-EAST"); got != "team_location:T-EAST" {
		t.Errorf("TeamLocationKey = %q", got)
	}

	if got := GateMeasurementKey("RG-05"); got != "gate_measurement:RG-05" {
		t.Errorf("GateMeasurementKey = %q", got)
	}

	if got := AdaptationHistoryKey("sched-1"); got != "adaptation_history:sched-1" {
		t.Errorf("AdaptationHistoryKey = %q", got)
	}

	demandKey := BuildDemandKey(2026, 7, 1.25, 12.5, 48)
	if !strings.HasPrefix(demandKey, "demand:2026:w07:") {
		t.Errorf("BuildDemandKey = %q", demandKey)
	}
}

func TestQuickHash(t *testing.T) {
	h1 := QuickHash([]byte("data"))
	h2 := QuickHash([]byte("data"))
	if h1 != h2 {
		t.Error("QuickHash should be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}

	if len(ShortHash([]byte("data"))) != 16 {
		t.Error("ShortHash should be 16 hex chars")
	}
}
