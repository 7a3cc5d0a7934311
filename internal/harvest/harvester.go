// Package harvest collects candidate proxies from public list sources.
package harvest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/proxy-harvester/internal/metrics"
	"github.com/JakeFAU/proxy-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

const defaultFetchTimeout = 10 * time.Second

// Options tune one harvest. BatchSize, RatePerSecond and Concurrency must be positive.
type Options struct {
	BatchSize     int
	RatePerSecond float64
	Concurrency   int
	FetchTimeout  time.Duration
	// OnBatch, if set, is called after every batch from the harvesting goroutine.
	OnBatch func(BatchProgress)
}

// BatchProgress describes the harvest after one batch.
type BatchProgress struct {
	SourcesDone  int
	SourcesTotal int
	Found        int
	Duration     time.Duration
}

// Report summarises a finished harvest.
type Report struct {
	SourcesTotal  int
	SourcesDone   int
	SourcesFailed int
	Cancelled     bool
}

// Validate checks the numeric options.
func (o Options) Validate() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	if o.RatePerSecond <= 0 {
		return fmt.Errorf("rate per second must be > 0")
	}
	if o.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	return nil
}

// Harvester fetches sources in paced batches and deduplicates the candidates found.
type Harvester struct {
	fetcher proxy.Fetcher
	logger  *zap.Logger
}

// New constructs a Harvester.
func New(fetcher proxy.Fetcher, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{fetcher: fetcher, logger: logger}
}

// Harvest processes sources batch by batch. Cancellation of ctx and the pause
// gate are observed before and after each batch; fetches already started run
// to completion under their own timeout. The returned set holds everything
// found up to the point the harvest ended.
func (h *Harvester) Harvest(
	ctx context.Context,
	sources []string,
	opts Options,
	gate proxy.Gate,
) (*proxy.CandidateSet, Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, Report{}, err
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	pacer, err := ratelimit.New(ratelimit.Config{PerSecond: opts.RatePerSecond, Observe: metrics.ObservePacingDelay})
	if err != nil {
		return nil, Report{}, fmt.Errorf("harvest pacer: %w", err)
	}

	set := proxy.NewCandidateSet()
	report := Report{SourcesTotal: len(sources)}
	for start := 0; start < len(sources); start += opts.BatchSize {
		if !h.checkpoint(ctx, gate) {
			report.Cancelled = true
			break
		}
		end := min(start+opts.BatchSize, len(sources))
		batchStart := time.Now()
		found, failed := h.fetchBatch(ctx, sources[start:end], opts.Concurrency, opts.FetchTimeout)
		for _, candidates := range found {
			for _, c := range candidates {
				set.Add(c)
			}
		}
		report.SourcesDone = end
		report.SourcesFailed += failed
		if opts.OnBatch != nil {
			opts.OnBatch(BatchProgress{
				SourcesDone:  end,
				SourcesTotal: len(sources),
				Found:        set.Len(),
				Duration:     time.Since(batchStart),
			})
		}
		if !h.checkpoint(ctx, gate) {
			report.Cancelled = true
			break
		}
		if end < len(sources) {
			if err := pacer.Wait(ctx); err != nil {
				report.Cancelled = true
				break
			}
		}
	}
	h.logger.Info("harvest finished",
		zap.Int("sources", report.SourcesTotal),
		zap.Int("sources_done", report.SourcesDone),
		zap.Int("sources_failed", report.SourcesFailed),
		zap.Int("candidates", set.Len()),
		zap.Bool("cancelled", report.Cancelled),
	)
	return set, report, nil
}

// checkpoint reports false once the run is cancelled, blocking while paused.
func (h *Harvester) checkpoint(ctx context.Context, gate proxy.Gate) bool {
	if ctx.Err() != nil {
		return false
	}
	if gate != nil {
		if err := gate.Wait(ctx); err != nil {
			return false
		}
	}
	return ctx.Err() == nil
}

func (h *Harvester) fetchBatch(
	ctx context.Context,
	urls []string,
	limit int,
	timeout time.Duration,
) ([][]proxy.Candidate, int) {
	// Dispatched fetches are never aborted by a stop request.
	detached := context.WithoutCancel(ctx)
	results := make([][]proxy.Candidate, len(urls))
	var failed, inFlight atomic.Int64
	var g errgroup.Group
	g.SetLimit(limit)
	for i, url := range urls {
		g.Go(func() error {
			metrics.SetInFlight("harvest", int(inFlight.Add(1)))
			defer func() { metrics.SetInFlight("harvest", int(inFlight.Add(-1))) }()

			fetchCtx, cancel := context.WithTimeout(detached, timeout)
			defer cancel()
			body, err := h.fetcher.Fetch(fetchCtx, url)
			if err != nil {
				failed.Add(1)
				metrics.ObserveSourceFetch(url, "error", 0)
				h.logger.Debug("source fetch failed", zap.String("source", url), zap.Error(err))
				return nil
			}
			metrics.ObserveSourceFetch(url, "ok", len(body))
			results[i] = Extract(body)
			h.logger.Debug("source fetched", zap.String("source", url), zap.Int("tokens", len(results[i])))
			return nil
		})
	}
	_ = g.Wait()
	return results, int(failed.Load())
}
