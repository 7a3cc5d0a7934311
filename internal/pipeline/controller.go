// Package pipeline drives a harvest followed by a validation pass and owns the run state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxy-harvester/internal/control"
	"github.com/JakeFAU/proxy-harvester/internal/filter"
	"github.com/JakeFAU/proxy-harvester/internal/harvest"
	"github.com/JakeFAU/proxy-harvester/internal/progress"
	"github.com/JakeFAU/proxy-harvester/internal/proxy"
	"github.com/JakeFAU/proxy-harvester/internal/validate"
)

// ErrInvalidTransition is returned when a command does not apply to the current phase.
var ErrInvalidTransition = errors.New("invalid state transition")

const persistTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/proxy-harvester/internal/pipeline")

// Harvester collects candidates from sources.
type Harvester interface {
	Harvest(ctx context.Context, sources []string, opts harvest.Options, gate proxy.Gate) (*proxy.CandidateSet, harvest.Report, error)
}

// Validator probes candidates and emits survivors.
type Validator interface {
	Validate(ctx context.Context, candidates []proxy.Candidate, opts validate.Options, gate proxy.Gate, emit func(proxy.Record)) (validate.Report, error)
}

// Dependencies are the collaborators a Controller drives.
type Dependencies struct {
	Harvester Harvester
	Validator Validator
	Store     proxy.Store
	Events    progress.Emitter
	IDs       proxy.IDGenerator
	Clock     proxy.Clock
	Logger    *zap.Logger
}

// Controller runs at most one pipeline at a time. The background worker is
// the only writer of the run state and results; readers receive copies.
type Controller struct {
	harvester Harvester
	validator Validator
	store     proxy.Store
	events    progress.Emitter
	ids       proxy.IDGenerator
	clock     proxy.Clock
	logger    *zap.Logger
	tracker   *progress.Tracker

	mu      sync.RWMutex
	state   proxy.RunState
	runID   uuid.UUID
	results []proxy.Record
	view    []proxy.Record
	saved   proxy.FilterConfig
	gate    *control.Gate
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates deps and returns an idle Controller.
func New(deps Dependencies) (*Controller, error) {
	if deps.Harvester == nil || deps.Validator == nil {
		return nil, fmt.Errorf("harvester and validator are required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if deps.Events == nil {
		deps.Events = progress.Nop
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{
		harvester: deps.Harvester,
		validator: deps.Validator,
		store:     deps.Store,
		events:    deps.Events,
		ids:       deps.IDs,
		clock:     deps.Clock,
		logger:    deps.Logger,
		tracker:   progress.NewTracker(deps.Clock.Now),
		state:     proxy.RunState{Phase: proxy.PhaseIdle},
		saved:     proxy.FilterConfig{}.Normalize(),
	}, nil
}

// Start launches a run. It requires the Idle phase; invalid settings leave
// the state and prior results untouched. The run is not bound to ctx's
// cancellation; use Stop.
func (c *Controller) Start(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != proxy.PhaseIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.state.Phase)
	}
	runID, err := c.ids.NewRunID()
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	started := c.clock.Now()
	c.runID = runID
	c.results = nil
	c.view = nil
	c.saved = s.Filter.Normalize()
	c.state = proxy.RunState{
		RunID:     runID.String(),
		Phase:     proxy.PhaseHarvesting,
		StartedAt: &started,
	}
	c.gate = control.NewGate()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.tracker.Begin(proxy.PhaseHarvesting, len(s.Sources))

	go c.run(runCtx, s, c.gate, c.done)
	return nil
}

// Pause holds the run at its next checkpoint.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Phase.Active() {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, c.state.Phase)
	}
	c.gate.Pause()
	c.state.Paused = true
	return nil
}

// Resume releases a paused run.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Phase.Active() {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, c.state.Phase)
	}
	c.gate.Resume()
	c.state.Paused = false
	return nil
}

// Stop requests cooperative cancellation. It is a no-op once Stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.Phase {
	case proxy.PhaseIdle:
		return fmt.Errorf("%w: stop from %s", ErrInvalidTransition, c.state.Phase)
	case proxy.PhaseStopped:
		return nil
	}
	c.cancel()
	c.state.Paused = false
	return nil
}

// Reset returns a Stopped controller to Idle and clears in-memory results.
// The store is not touched.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != proxy.PhaseStopped {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, c.state.Phase)
	}
	c.state = proxy.RunState{Phase: proxy.PhaseIdle}
	c.runID = uuid.Nil
	c.results = nil
	c.view = nil
	c.tracker.Begin(proxy.PhaseIdle, 0)
	return nil
}

// Wait blocks until the current run's worker has exited.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for run: %w", ctx.Err())
	}
}

// State returns a copy of the run state.
func (c *Controller) State() proxy.RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyState(c.state)
}

// Progress returns the current phase progress with ETA.
func (c *Controller) Progress() progress.PhaseProgress {
	return c.tracker.Snapshot()
}

// Results returns a copy of every validated record of the current run.
func (c *Controller) Results() []proxy.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]proxy.Record(nil), c.results...)
}

// Filtered returns a copy of the filtered view.
func (c *Controller) Filtered() []proxy.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]proxy.Record(nil), c.view...)
}

// Filter returns the saved filter snapshot.
func (c *Controller) Filter() proxy.FilterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saved
}

// Stats summarises the current results.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return computeStats(c.state, c.results, len(c.view))
}

// ApplyFilter saves cfg as the filter snapshot and recomputes the view.
func (c *Controller) ApplyFilter(cfg proxy.FilterConfig) ([]proxy.Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = cfg.Normalize()
	c.view = filter.Apply(c.results, c.saved)
	return append([]proxy.Record(nil), c.view...), nil
}

func (c *Controller) run(ctx context.Context, s Settings, gate *control.Gate, done chan struct{}) {
	defer close(done)
	defer c.finish()

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", c.runID.String()),
		attribute.String("proxy.type", string(s.ProxyType)),
		attribute.Int("sources", len(s.Sources)),
	))
	defer span.End()

	logger := c.logger.With(zap.String("run_id", c.runID.String()))
	if sc := span.SpanContext(); sc.HasTraceID() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}
	logger.Info("run started", zap.Int("sources", len(s.Sources)), zap.String("proxy_type", string(s.ProxyType)))
	c.emit(progress.Event{Stage: progress.StageRunStart, Total: len(s.Sources)})
	c.emit(progress.Event{Stage: progress.StagePhase, Total: len(s.Sources)})

	hctx, hspan := tracer.Start(ctx, "pipeline.harvest")
	set, hreport, err := c.harvester.Harvest(hctx, s.Sources, harvest.Options{
		BatchSize:     s.BatchSize,
		RatePerSecond: float64(s.RatePerSecond),
		Concurrency:   s.Concurrency,
		FetchTimeout:  s.FetchTimeout,
		OnBatch: func(p harvest.BatchProgress) {
			c.tracker.Advance(p.SourcesDone)
			c.mu.Lock()
			c.state.CandidatesFound = p.Found
			c.mu.Unlock()
			c.emit(progress.Event{
				Stage:     progress.StageHarvestBatch,
				Completed: p.SourcesDone,
				Total:     p.SourcesTotal,
				Found:     p.Found,
				Dur:       p.Duration,
			})
		},
	}, gate)
	endSpan(hspan, err, attribute.Int("candidates", set.Len()), attribute.Int("sources_failed", hreport.SourcesFailed))
	if err != nil {
		logger.Error("harvest failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.state.CandidatesFound = set.Len()
	c.mu.Unlock()
	if hreport.Cancelled || ctx.Err() != nil || set.Len() == 0 {
		return
	}

	candidates := set.Slice()
	c.mu.Lock()
	c.state.Phase = proxy.PhaseValidating
	c.mu.Unlock()
	c.tracker.Begin(proxy.PhaseValidating, len(candidates))
	c.emit(progress.Event{Stage: progress.StagePhase, Total: len(candidates)})

	persistCtx := context.WithoutCancel(ctx)
	vctx, vspan := tracer.Start(ctx, "pipeline.validate", trace.WithAttributes(attribute.Int("candidates", len(candidates))))
	vreport, err := c.validator.Validate(vctx, candidates, validate.Options{
		Timeout:     s.Timeout,
		Concurrency: s.Concurrency,
		ProxyType:   s.ProxyType,
		OnProbe: func(o validate.ProbeOutcome) {
			c.tracker.Advance(o.Completed)
			c.mu.Lock()
			c.state.CheckedCount = o.Completed
			c.mu.Unlock()
			evt := progress.Event{
				Stage:     progress.StageProbeDone,
				Completed: o.Completed,
				Total:     o.Total,
				Candidate: string(o.Candidate),
				Record:    o.Record,
				Dur:       o.Duration,
			}
			if o.Err != nil {
				evt.Note = o.Err.Error()
			}
			c.emit(evt)
		},
	}, gate, func(rec proxy.Record) {
		c.accept(persistCtx, logger, rec)
	})
	endSpan(vspan, err, attribute.Int("checked", vreport.Checked), attribute.Int("valid", vreport.Valid))
	if err != nil {
		logger.Error("validation failed", zap.Error(err))
	}
}

// accept persists rec and adds it to the results and, if it matches the saved filter, the view.
func (c *Controller) accept(ctx context.Context, logger *zap.Logger, rec proxy.Record) {
	storeCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	err := c.store.Upsert(storeCtx, rec)
	cancel()

	c.mu.Lock()
	c.results = append(c.results, rec)
	c.state.ValidatedCount = len(c.results)
	if filter.Matches(rec, c.saved) {
		c.view = append(c.view, rec)
	}
	if err != nil {
		c.state.PersistErrors++
	}
	c.mu.Unlock()

	if err != nil {
		logger.Warn("persist proxy failed", zap.String("proxy", rec.Key()), zap.Error(err))
		c.emit(progress.Event{Stage: progress.StagePersistError, Candidate: rec.Key(), Note: err.Error()})
	}
}

func (c *Controller) finish() {
	finished := c.clock.Now()
	c.mu.Lock()
	c.state.Phase = proxy.PhaseStopped
	c.state.Paused = false
	c.state.FinishedAt = &finished
	state := copyState(c.state)
	// Stamped under the lock: once it is released Reset and Start may begin the next run.
	done := progress.Event{
		Stage:     progress.StageRunDone,
		RunID:     c.runID,
		Phase:     state.Phase,
		Completed: state.ValidatedCount,
		Total:     state.CheckedCount,
	}
	c.mu.Unlock()
	c.publish(done)
	c.logger.Info("run finished",
		zap.String("run_id", state.RunID),
		zap.Int("candidates", state.CandidatesFound),
		zap.Int("checked", state.CheckedCount),
		zap.Int("validated", state.ValidatedCount),
		zap.Int("persist_errors", state.PersistErrors),
	)
}

// emit stamps evt with the current run and phase.
func (c *Controller) emit(evt progress.Event) {
	c.mu.RLock()
	evt.RunID = c.runID
	evt.Phase = c.state.Phase
	c.mu.RUnlock()
	c.publish(evt)
}

func (c *Controller) publish(evt progress.Event) {
	evt.TS = c.clock.Now().UTC()
	c.events.Emit(evt)
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func copyState(s proxy.RunState) proxy.RunState {
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}
