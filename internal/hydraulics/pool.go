package hydraulics

import (
	"context"

	"irrigation/internal/network"
)

// Pool bounds the number of concurrent solver runs so CPU-heavy solves do
// not starve the serving fabric. It is safe for concurrent use.
type Pool struct {
	workers chan struct{}
}

// NewPool creates a pool with the given concurrency limit. Limits below one
// default to four workers.
func NewPool(maxConcurrency int) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Pool{workers: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a worker slot is free or the context is cancelled.
// Call Release exactly once after a successful Acquire.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.workers <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a worker slot to the pool.
func (p *Pool) Release() {
	<-p.workers
}

// Solve runs a forward solve on a pooled worker.
func (p *Pool) Solve(ctx context.Context, net *network.Network, openings map[string]float64, opts *Options) (*Result, error) {
	if err := p.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.Release()
	return Solve(ctx, net, openings, opts), nil
}

// OptimizeOpenings runs an inverse optimization on a pooled worker.
func (p *Pool) OptimizeOpenings(ctx context.Context, net *network.Network, targets, initial map[string]float64, opts *Options) (*OptimizeResult, error) {
	if err := p.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.Release()
	return OptimizeOpenings(ctx, net, targets, initial, opts), nil
}
