// Package governor bounds the number of in-flight fetches or probes.
package governor

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Governor is a counting permit pool.
type Governor struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
	observe  func(inFlight int)
}

// Option customises a Governor.
type Option func(*Governor)

// WithObserver registers a callback invoked with the in-flight count after every change.
func WithObserver(fn func(inFlight int)) Option {
	return func(g *Governor) { g.observe = fn }
}

// New creates a pool of size permits.
func New(size int, opts ...Option) (*Governor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("governor size must be > 0")
	}
	g := &Governor{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Acquire blocks until a permit is free or ctx ends.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}
	g.report(g.inFlight.Add(1))
	return nil
}

// Release returns a permit taken by Acquire.
func (g *Governor) Release() {
	g.report(g.inFlight.Add(-1))
	g.sem.Release(1)
}

// InFlight returns the number of permits currently held.
func (g *Governor) InFlight() int {
	return int(g.inFlight.Load())
}

// Size returns the pool capacity.
func (g *Governor) Size() int {
	return g.size
}

func (g *Governor) report(n int64) {
	if g.observe != nil {
		g.observe(int(n))
	}
}
