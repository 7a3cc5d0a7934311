package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/proxy-harvester/internal/progress"
)

// PrometheusSink exports pipeline progress via Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	sourcesDone   prometheus.Gauge
	candidates    prometheus.Gauge
	batchDuration prometheus.Histogram

	probes       *prometheus.CounterVec
	probeLatency prometheus.Histogram
	validated    *prometheus.CounterVec
	persistErrs  prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Pipeline runs that reached the Stopped phase.",
		}),
		sourcesDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_sources_done",
			Help: "Sources processed in the current harvest.",
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_candidates_found",
			Help: "Distinct candidates found in the current harvest.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_batch_duration_seconds",
			Help:    "Wall time per harvest batch.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_probes_total",
			Help: "Probe completions partitioned by outcome.",
		}, []string{"outcome"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_probe_latency_seconds",
			Help:    "Latency of successful probes.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		validated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_validated_total",
			Help: "Validated proxies partitioned by category.",
		}, []string{"category"}),
		persistErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_persist_errors_total",
			Help: "Store upserts that failed.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.sourcesDone,
		s.candidates,
		s.batchDuration,
		s.probes,
		s.probeLatency,
		s.validated,
		s.persistErrs,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.sourcesDone.Set(0)
		s.candidates.Set(0)
	case progress.StageRunDone:
		s.runsCompleted.Inc()
	case progress.StageHarvestBatch:
		s.sourcesDone.Set(float64(evt.Completed))
		s.candidates.Set(float64(evt.Found))
		if evt.Dur > 0 {
			s.batchDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageProbeDone:
		s.handleProbe(evt)
	case progress.StagePersistError:
		s.persistErrs.Inc()
	}
}

func (s *PrometheusSink) handleProbe(evt progress.Event) {
	if !evt.Valid() {
		s.probes.WithLabelValues("discarded").Inc()
		return
	}
	s.probes.WithLabelValues("valid").Inc()
	s.validated.WithLabelValues(string(evt.Record.Category)).Inc()
	if evt.Dur > 0 {
		s.probeLatency.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
