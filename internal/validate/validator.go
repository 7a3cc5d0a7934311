package validate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxy-harvester/internal/classify"
	"github.com/JakeFAU/proxy-harvester/internal/governor"
	"github.com/JakeFAU/proxy-harvester/internal/metrics"
	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// Options tune one validation pass. Timeout and Concurrency must be positive.
type Options struct {
	Timeout     time.Duration
	Concurrency int
	ProxyType   proxy.Type
	// OnProbe, if set, is called for every completed probe from the consuming goroutine.
	OnProbe func(ProbeOutcome)
}

// Validate checks the numeric options and the proxy type.
func (o Options) Validate() error {
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if o.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	if _, err := proxy.ParseType(string(o.ProxyType)); err != nil {
		return err
	}
	return nil
}

// ProbeOutcome describes one finished probe. Record is nil when the candidate failed.
type ProbeOutcome struct {
	Candidate proxy.Candidate
	Record    *proxy.Record
	Err       error
	Duration  time.Duration
	Completed int
	Total     int
}

// Report summarises a validation pass.
type Report struct {
	Total     int
	Checked   int
	Valid     int
	Cancelled bool
}

// Validator probes candidates and turns survivors into records.
type Validator struct {
	prober    proxy.Prober
	country   proxy.CountryResolver
	anonymity proxy.AnonymityResolver
	logger    *zap.Logger
	now       func() time.Time
}

// Option customises a Validator.
type Option func(*Validator)

// WithClock overrides the CheckedAt source.
func WithClock(clock proxy.Clock) Option {
	return func(v *Validator) { v.now = clock.Now }
}

// New constructs a Validator.
func New(
	prober proxy.Prober,
	country proxy.CountryResolver,
	anonymity proxy.AnonymityResolver,
	logger *zap.Logger,
	opts ...Option,
) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		prober:    prober,
		country:   country,
		anonymity: anonymity,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate probes every candidate at most once and calls emit for each
// survivor in completion order. New probes are withheld while the gate is
// paused. Once ctx is cancelled consumption stops; probes already running
// finish against their own timeout and their results are dropped.
func (v *Validator) Validate(
	ctx context.Context,
	candidates []proxy.Candidate,
	opts Options,
	gate proxy.Gate,
	emit func(proxy.Record),
) (Report, error) {
	if err := opts.Validate(); err != nil {
		return Report{}, err
	}
	gov, err := governor.New(opts.Concurrency, governor.WithObserver(func(n int) {
		metrics.SetInFlight("validate", n)
	}))
	if err != nil {
		return Report{}, fmt.Errorf("validate governor: %w", err)
	}

	report := Report{Total: len(candidates)}
	results := make(chan ProbeOutcome, len(candidates))
	launched := make(chan int, 1)
	go v.submit(ctx, candidates, opts, gate, gov, results, launched)

	pending := -1
	for pending < 0 || report.Checked < pending {
		select {
		case <-ctx.Done():
			report.Cancelled = true
			v.logFinished(report)
			return report, nil
		case n := <-launched:
			pending = n
			launched = nil
		case out := <-results:
			report.Checked++
			out.Completed = report.Checked
			out.Total = report.Total
			if out.Record != nil {
				report.Valid++
				if emit != nil {
					emit(*out.Record)
				}
			}
			if opts.OnProbe != nil {
				opts.OnProbe(out)
			}
			if !checkpoint(ctx, gate) {
				report.Cancelled = true
				v.logFinished(report)
				return report, nil
			}
		}
	}
	report.Cancelled = pending < report.Total
	v.logFinished(report)
	return report, nil
}

// submit launches one probe per candidate and finally reports how many it launched.
func (v *Validator) submit(
	ctx context.Context,
	candidates []proxy.Candidate,
	opts Options,
	gate proxy.Gate,
	gov *governor.Governor,
	results chan<- ProbeOutcome,
	launched chan<- int,
) {
	detached := context.WithoutCancel(ctx)
	n := 0
	defer func() { launched <- n }()
	for _, c := range candidates {
		if !checkpoint(ctx, gate) {
			return
		}
		if err := gov.Acquire(ctx); err != nil {
			return
		}
		n++
		go func() {
			defer gov.Release()
			results <- v.check(detached, c, opts)
		}()
	}
}

func (v *Validator) check(ctx context.Context, c proxy.Candidate, opts Options) ProbeOutcome {
	out := ProbeOutcome{Candidate: c}
	host, port, err := c.Split()
	if err != nil {
		out.Err = err
		v.logger.Debug("candidate discarded", zap.String("candidate", string(c)), zap.Error(err))
		return out
	}

	probeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	start := time.Now()
	res, err := v.prober.Probe(probeCtx, c, opts.ProxyType)
	cancel()
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = err
		v.logger.Debug("probe failed", zap.String("candidate", string(c)), zap.Error(err))
		return out
	}
	latency := res.Latency
	if latency <= 0 {
		latency = out.Duration
	}

	resolveCtx, cancelResolve := context.WithTimeout(ctx, opts.Timeout)
	defer cancelResolve()
	country := proxy.CountryUnknown
	if v.country != nil {
		if code, err := v.country.ResolveCountry(resolveCtx, host); err == nil && code != "" {
			country = code
		} else if err != nil {
			v.logger.Debug("country lookup failed", zap.String("ip", host), zap.Error(err))
		}
	}
	anonymity := proxy.AnonymityUnknown
	if v.anonymity != nil {
		if level, err := v.anonymity.ResolveAnonymity(resolveCtx, res); err == nil && level != "" {
			anonymity = level
		} else if err != nil {
			v.logger.Debug("anonymity lookup failed", zap.String("candidate", string(c)), zap.Error(err))
		}
	}

	ms := latency.Milliseconds()
	out.Record = &proxy.Record{
		IP:        host,
		Port:      port,
		Type:      opts.ProxyType.Label(),
		LatencyMs: ms,
		Category:  classify.Latency(ms),
		Country:   country,
		Anonymity: anonymity,
		CheckedAt: v.now().UTC(),
	}
	return out
}

func (v *Validator) logFinished(r Report) {
	v.logger.Info("validation finished",
		zap.Int("candidates", r.Total),
		zap.Int("checked", r.Checked),
		zap.Int("valid", r.Valid),
		zap.Bool("cancelled", r.Cancelled),
	)
}

// checkpoint reports false once ctx is cancelled, blocking while paused.
func checkpoint(ctx context.Context, gate proxy.Gate) bool {
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
