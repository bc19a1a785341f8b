package cache

import (
	"context"
	"testing"
	"time"
)

func newTestSolveCache(t *testing.T) (*SolveCache, Cache) {
	t.Helper()
	backing := NewMemoryCache(DefaultOptions())
	t.Cleanup(func() { backing.Close() })
	return NewSolveCache(backing, time.Minute), backing
}

func TestSolveCache_MissThenHit(t *testing.T) {
	sc, _ := newTestSolveCache(t)
	ctx := context.Background()

	openings := map[string]float64{"HG-C-01": 0.8, "CHK-02": 0.6}

	_, found, err := sc.Get(ctx, "nethash", openings)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Fatal("expected cache miss")
	}

	result := &CachedSolveResult{
		Converged:  true,
		Iterations: 42,
		MaxErrorM:  4.2e-4,
		Levels:     map[string]float64{"M(0,0)": 220.4},
		Flows:      map[string]float64{"HG-C-01": 12.5},
	}
	if err := sc.Set(ctx, "nethash", openings, result, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, found, err := sc.Get(ctx, "nethash", openings)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}
	if !got.Converged || got.Iterations != 42 {
		t.Errorf("unexpected cached result: %+v", got)
	}
	if got.Levels["M(0,0)"] != 220.4 {
		t.Errorf("level lost in round trip: %v", got.Levels)
	}
	if got.ComputedAt.IsZero() {
		t.Error("ComputedAt should be stamped on Set")
	}
}

func TestSolveCache_DifferentOpeningsMiss(t *testing.T) {
	sc, _ := newTestSolveCache(t)
	ctx := context.Background()

	openings := map[string]float64{"HG-C-01": 0.8}
	if err := sc.Set(ctx, "nethash", openings, &CachedSolveResult{Converged: true}, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, found, err := sc.Get(ctx, "nethash", map[string]float64{"HG-C-01": 0.5})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("different openings should not hit the cache")
	}
}

func TestSolveCache_CorruptEntryEvicted(t *testing.T) {
	sc, backing := newTestSolveCache(t)
	ctx := context.Background()

	openings := map[string]float64{"HG-C-01": 0.8}
	key := BuildSolveKey("nethash", OpeningsHash(openings))
	if err := backing.Set(ctx, key, []byte("{not json"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, found, err := sc.Get(ctx, "nethash", openings)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("corrupt entry should be treated as a miss")
	}

	if exists, _ := backing.Exists(ctx, key); exists {
		t.Error("corrupt entry should be deleted")
	}
}

func TestSolveCache_Invalidate(t *testing.T) {
	sc, _ := newTestSolveCache(t)
	ctx := context.Background()

	openings := map[string]float64{"HG-C-01": 0.8}
	if err := sc.Set(ctx, "net-a", openings, &CachedSolveResult{Converged: true}, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := sc.Set(ctx, "net-b", openings, &CachedSolveResult{Converged: true}, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := sc.Invalidate(ctx, "net-a"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	if _, found, _ := sc.Get(ctx, "net-a", openings); found {
		t.Error("net-a entries should be invalidated")
	}
	if _, found, _ := sc.Get(ctx, "net-b", openings); !found {
		t.Error("net-b entries should survive")
	}

	n, err := sc.InvalidateAll(ctx)
	if err != nil {
		t.Fatalf("InvalidateAll() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 remaining entry removed, got %d", n)
	}
}
