package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxy-harvester/internal/export"
	"github.com/JakeFAU/proxy-harvester/internal/harvest"
	"github.com/JakeFAU/proxy-harvester/internal/progress"
	"github.com/JakeFAU/proxy-harvester/internal/proxy"
	"github.com/JakeFAU/proxy-harvester/internal/resolve"
	"github.com/JakeFAU/proxy-harvester/internal/storage/memory"
	"github.com/JakeFAU/proxy-harvester/internal/validate"
)

type mapFetcher struct {
	bodies  map[string]string
	release chan struct{}
}

func (f *mapFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(body), nil
}

type mapProber struct {
	latency map[proxy.Candidate]time.Duration
	calls   atomic.Int64
}

func (p *mapProber) Probe(_ context.Context, c proxy.Candidate, _ proxy.Type) (proxy.ProbeResult, error) {
	p.calls.Add(1)
	l, ok := p.latency[c]
	if !ok {
		return proxy.ProbeResult{}, errors.New("connection refused")
	}
	return proxy.ProbeResult{Latency: l, StatusCode: 200}, nil
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewRunID() (uuid.UUID, error) {
	var id uuid.UUID
	id[15] = byte(s.n.Add(1))
	return id, nil
}

type stepClock struct{}

func (stepClock) Now() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) stages() []progress.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]progress.Stage, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Stage)
	}
	return out
}

func (l *eventLog) all() []progress.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]progress.Event(nil), l.events...)
}

type failingStore struct{ *memory.ProxyStore }

func (failingStore) Upsert(context.Context, proxy.Record) error { return errors.New("disk full") }

type fixture struct {
	fetcher *mapFetcher
	prober  *mapProber
	store   proxy.Store
	events  *eventLog
	ctrl    *Controller
}

func newFixture(t *testing.T, store proxy.Store) *fixture {
	t.Helper()
	f := &fixture{
		fetcher: &mapFetcher{bodies: map[string]string{
			"a": "1.1.1.1:80\n2.2.2.2:8080\n",
			"b": "<html><body><table><tr><td>3.3.3.3</td><td>3128</td></tr></table></body></html>",
			"c": "1.1.1.1:80",
		}},
		prober: &mapProber{latency: map[proxy.Candidate]time.Duration{
			"1.1.1.1:80":   200 * time.Millisecond,
			"3.3.3.3:3128": 2500 * time.Millisecond,
		}},
		store:  store,
		events: &eventLog{},
	}
	if f.store == nil {
		f.store = memory.NewProxyStore()
	}
	ctrl, err := New(Dependencies{
		Harvester: harvest.New(f.fetcher, nil),
		Validator: validate.New(f.prober, resolve.StaticCountry{Code: "DE"}, resolve.StaticAnonymity{Level: proxy.AnonymityElite}, nil),
		Store:     f.store,
		Events:    f.events,
		IDs:       &seqIDs{},
		Clock:     stepClock{},
	})
	require.NoError(t, err)
	f.ctrl = ctrl
	return f
}

func settings() Settings {
	return Settings{
		Sources:       []string{"a", "b", "c", "missing"},
		ProxyType:     proxy.TypeHTTP,
		Timeout:       time.Second,
		Concurrency:   4,
		BatchSize:     2,
		RatePerSecond: 1000,
	}
}

func waitStopped(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	require.Equal(t, proxy.PhaseStopped, c.State().Phase)
}

func TestRunHarvestsValidatesAndPersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.Start(context.Background(), settings()))
	waitStopped(t, f.ctrl)

	state := f.ctrl.State()
	require.Equal(t, 3, state.CandidatesFound)
	require.Equal(t, 3, state.CheckedCount)
	require.Equal(t, 2, state.ValidatedCount)
	require.Zero(t, state.PersistErrors)
	require.False(t, state.Paused)
	require.NotNil(t, state.FinishedAt)

	results := f.ctrl.Results()
	require.Len(t, results, 2)
	stored, err := f.store.All(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, results, stored)
	require.ElementsMatch(t, results, f.ctrl.Filtered())

	stages := f.events.stages()
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	count := map[progress.Stage]int{}
	for _, evt := range f.events.all() {
		require.NoError(t, evt.Validate())
		require.Equal(t, state.RunID, evt.RunID.String())
		count[evt.Stage]++
	}
	require.Equal(t, 2, count[progress.StageHarvestBatch])
	require.Equal(t, 3, count[progress.StageProbeDone])
	require.Equal(t, 2, count[progress.StagePhase])

	prog := f.ctrl.Progress()
	require.Equal(t, proxy.PhaseValidating, prog.Phase)
	require.Equal(t, 3, prog.Completed)
}

func TestEmptyHarvestSkipsValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	s := settings()
	s.Sources = []string{"missing"}
	require.NoError(t, f.ctrl.Start(context.Background(), s))
	waitStopped(t, f.ctrl)

	require.Zero(t, f.prober.calls.Load())
	require.Zero(t, f.ctrl.State().CandidatesFound)
	require.Empty(t, f.ctrl.Results())
}

func TestInvalidSettingsLeaveStateUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.Start(context.Background(), settings()))
	waitStopped(t, f.ctrl)
	before := f.ctrl.State()
	results := f.ctrl.Results()

	bad := settings()
	bad.Concurrency = 0
	require.ErrorIs(t, f.ctrl.Start(context.Background(), bad), ErrInvalidSettings)
	require.Equal(t, before, f.ctrl.State())
	require.Equal(t, results, f.ctrl.Results())

	err := f.ctrl.Start(context.Background(), settings())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIdleRejectsControlCommands(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.ErrorIs(t, f.ctrl.Pause(), ErrInvalidTransition)
	require.ErrorIs(t, f.ctrl.Resume(), ErrInvalidTransition)
	require.ErrorIs(t, f.ctrl.Stop(), ErrInvalidTransition)
	require.ErrorIs(t, f.ctrl.Reset(), ErrInvalidTransition)
	require.NoError(t, f.ctrl.Wait(context.Background()))
	require.Equal(t, proxy.PhaseIdle, f.ctrl.State().Phase)
}

func TestPauseResumeStopReset(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.fetcher.release = make(chan struct{})
	s := settings()
	s.BatchSize = 1
	require.NoError(t, f.ctrl.Start(context.Background(), s))
	require.Equal(t, proxy.PhaseHarvesting, f.ctrl.State().Phase)
	require.ErrorIs(t, f.ctrl.Reset(), ErrInvalidTransition)

	require.NoError(t, f.ctrl.Pause())
	require.True(t, f.ctrl.State().Paused)
	require.NoError(t, f.ctrl.Resume())
	require.False(t, f.ctrl.State().Paused)
	require.NoError(t, f.ctrl.Pause())

	// Let the in-flight fetch finish; the paused harvester must then hold.
	close(f.fetcher.release)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, proxy.PhaseHarvesting, f.ctrl.State().Phase)

	require.NoError(t, f.ctrl.Stop())
	waitStopped(t, f.ctrl)
	require.NoError(t, f.ctrl.Stop(), "stop is a no-op once stopped")
	require.Zero(t, f.prober.calls.Load())

	require.NoError(t, f.ctrl.Reset())
	state := f.ctrl.State()
	require.Equal(t, proxy.RunState{Phase: proxy.PhaseIdle}, state)
	require.Empty(t, f.ctrl.Results())
	require.Empty(t, f.ctrl.Filtered())

	f.fetcher.release = nil
	require.NoError(t, f.ctrl.Start(context.Background(), settings()))
	waitStopped(t, f.ctrl)
	require.Len(t, f.ctrl.Results(), 2)
	require.NotEqual(t, state.RunID, f.ctrl.State().RunID)
}

func TestPersistErrorsAreCountedNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failingStore{memory.NewProxyStore()})
	require.NoError(t, f.ctrl.Start(context.Background(), settings()))
	waitStopped(t, f.ctrl)

	state := f.ctrl.State()
	require.Equal(t, 2, state.PersistErrors)
	require.Equal(t, 2, state.ValidatedCount)
	require.Len(t, f.ctrl.Results(), 2)
	require.Contains(t, f.events.stages(), progress.StagePersistError)
	require.Equal(t, 2, f.ctrl.Stats().PersistErrors)
}

func TestFilterSnapshotShapesView(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	s := settings()
	s.Filter = proxy.FilterConfig{Speed: "fast"}
	require.NoError(t, f.ctrl.Start(context.Background(), s))
	waitStopped(t, f.ctrl)

	view := f.ctrl.Filtered()
	require.Len(t, view, 1)
	require.Equal(t, "1.1.1.1", view[0].IP)
	require.Equal(t, "fast", f.ctrl.Filter().Speed)

	all, err := f.ctrl.ApplyFilter(proxy.FilterConfig{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	slow, err := f.ctrl.ApplyFilter(proxy.FilterConfig{Country: "de", Speed: "slow"})
	require.NoError(t, err)
	require.Len(t, slow, 1)
	require.Equal(t, "3.3.3.3", slow[0].IP)

	_, err = f.ctrl.ApplyFilter(proxy.FilterConfig{Speed: "warp"})
	require.Error(t, err)
	require.Len(t, f.ctrl.Filtered(), 1, "invalid filters leave the view untouched")
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, settings().Validate())
	for name, mutate := range map[string]func(*Settings){
		"timeout":   func(s *Settings) { s.Timeout = 0 },
		"threads":   func(s *Settings) { s.Concurrency = -1 },
		"batch":     func(s *Settings) { s.BatchSize = 0 },
		"rate":      func(s *Settings) { s.RatePerSecond = 0 },
		"type":      func(s *Settings) { s.ProxyType = "QUIC" },
		"anonymity": func(s *Settings) { s.Filter.Anonymity = "stealth" },
		"sources":   func(s *Settings) { s.Sources = nil },
	} {
		s := settings()
		mutate(&s)
		require.Error(t, s.Validate(), name)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Dependencies{})
	require.Error(t, err)
}

// handoffEvents holds the first RUN_DONE inside Emit until released.
type handoffEvents struct {
	eventLog
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (h *handoffEvents) Emit(evt progress.Event) {
	h.eventLog.Emit(evt)
	if evt.Stage == progress.StageRunDone {
		h.once.Do(func() {
			close(h.reached)
			<-h.release
		})
	}
}

func TestRunDoneKeepsItsRunAcrossRestart(t *testing.T) {
	t.Parallel()

	events := &handoffEvents{reached: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, nil)
	f.ctrl.events = events

	require.NoError(t, f.ctrl.Start(context.Background(), settings()))
	<-events.reached
	first := f.ctrl.State().RunID
	require.Equal(t, proxy.PhaseStopped, f.ctrl.State().Phase)

	// The first worker is still inside finish; the next run starts anyway.
	require.NoError(t, f.ctrl.Reset())
	require.NoError(t, f.ctrl.Start(context.Background(), settings()))
	second := f.ctrl.State().RunID
	require.NotEqual(t, first, second)
	close(events.release)
	waitStopped(t, f.ctrl)

	var done []progress.Event
	for _, evt := range events.all() {
		require.NoError(t, evt.Validate())
		if evt.Stage == progress.StageRunDone {
			done = append(done, evt)
		}
	}
	require.Len(t, done, 2)
	require.ElementsMatch(t, []string{first, second}, []string{done[0].RunID.String(), done[1].RunID.String()})
	for _, evt := range done {
		require.Equal(t, proxy.PhaseStopped, evt.Phase)
	}
}

// timeoutProber answers from a latency table and hangs on anything else
// until the probe deadline.
type timeoutProber struct {
	latency map[proxy.Candidate]time.Duration
}

func (p timeoutProber) Probe(ctx context.Context, c proxy.Candidate, _ proxy.Type) (proxy.ProbeResult, error) {
	if l, ok := p.latency[c]; ok {
		return proxy.ProbeResult{Latency: l, StatusCode: 200}, nil
	}
	<-ctx.Done()
	return proxy.ProbeResult{}, ctx.Err()
}

func TestHarvestValidateFilterExport(t *testing.T) {
	t.Parallel()

	list := "1.2.3.4:8080\n5.6.7.8:3128\n"
	ctrl, err := New(Dependencies{
		Harvester: harvest.New(&mapFetcher{bodies: map[string]string{"list-a": list, "list-b": list}}, nil),
		Validator: validate.New(
			timeoutProber{latency: map[proxy.Candidate]time.Duration{"1.2.3.4:8080": 300 * time.Millisecond}},
			resolve.StaticCountry{Code: "US"},
			resolve.StaticAnonymity{Level: proxy.AnonymityElite},
			nil,
		),
		Store: memory.NewProxyStore(),
		IDs:   &seqIDs{},
		Clock: stepClock{},
	})
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background(), Settings{
		Sources:       []string{"list-a", "list-b"},
		ProxyType:     proxy.TypeHTTP,
		Timeout:       100 * time.Millisecond,
		Concurrency:   2,
		BatchSize:     2,
		RatePerSecond: 1000,
		Filter:        proxy.FilterConfig{Speed: "fast"},
	}))
	waitStopped(t, ctrl)

	state := ctrl.State()
	require.Equal(t, 2, state.CandidatesFound)
	require.Equal(t, 2, state.CheckedCount)
	require.Equal(t, 1, state.ValidatedCount)

	results := ctrl.Results()
	require.Len(t, results, 1)
	require.Equal(t, "1.2.3.4", results[0].IP)
	require.Equal(t, 8080, results[0].Port)
	require.EqualValues(t, 300, results[0].LatencyMs)
	require.Equal(t, proxy.CategoryFast, results[0].Category)
	require.Len(t, ctrl.Filtered(), 1)

	var out strings.Builder
	require.NoError(t, export.Encode(&out, export.Select(ctrl.Filtered(), ctrl.Results()), export.FormatTXT))
	require.Equal(t, "1.2.3.4:8080\n", out.String())
}
