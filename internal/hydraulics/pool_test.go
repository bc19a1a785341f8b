package hydraulics

import (
	"context"
	"sync"
	"testing"

	"irrigation/internal/network/networktest"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(1)
	ctx := context.Background()

	if err := p.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Second acquire must block until the slot is released.
	blocked, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.Acquire(blocked); err == nil {
		t.Fatal("expected context error while pool is full")
	}

	p.Release()
	if err := p.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	p.Release()
}

func TestPool_ConcurrentSolves(t *testing.T) {
	n := networktest.Demo(t)
	p := NewPool(2)

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := p.Solve(context.Background(), n, map[string]float64{networktest.GateHead: 1.0}, nil)
			if err != nil {
				t.Errorf("solve %d: %v", idx, err)
				return
			}
			results[idx] = res
		}(i)
	}
	wg.Wait()

	// Deterministic: identical inputs give identical flows.
	for i := 1; i < len(results); i++ {
		if results[i] == nil || results[0] == nil {
			t.Fatal("missing result")
		}
		if results[i].Flows[networktest.GateHead] != results[0].Flows[networktest.GateHead] {
			t.Errorf("solve %d head flow %.6f differs from %.6f",
				i, results[i].Flows[networktest.GateHead], results[0].Flows[networktest.GateHead])
		}
	}
}
