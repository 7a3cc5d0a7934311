// Package ratelimit paces harvest batches using a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive batches by a fixed interval derived from a rate.
type Pacer struct {
	limit   rate.Limit
	observe func(time.Duration)
}

// Config holds pacer configuration.
type Config struct {
	// PerSecond is the number of batches allowed per second.
	PerSecond float64
	// Observe, if set, receives the measured delay of every Wait.
	Observe func(time.Duration)
}

// New creates a Pacer. PerSecond must be positive.
func New(cfg Config) (*Pacer, error) {
	if cfg.PerSecond <= 0 {
		return nil, fmt.Errorf("rate per second must be > 0")
	}
	return &Pacer{
		limit:   rate.Limit(cfg.PerSecond),
		observe: cfg.Observe,
	}, nil
}

// Interval returns the delay Wait imposes.
func (p *Pacer) Interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(p.limit))
}

// Wait sleeps one full interval or until ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	// A drained single-token bucket makes Wait block for exactly one interval.
	bucket := rate.NewLimiter(p.limit, 1)
	bucket.Allow()

	start := time.Now()
	err := bucket.Wait(ctx)
	if p.observe != nil {
		p.observe(time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("pace batch: %w", err)
	}
	return nil
}
