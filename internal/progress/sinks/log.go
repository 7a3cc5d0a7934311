package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxy-harvester/internal/progress"
)

// LogSink emits structured logs for progress streams. Probe events are
// logged at debug level since a run produces one per candidate.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("phase", string(evt.Phase)),
			zap.Int("completed", evt.Completed),
			zap.Int("total", evt.Total),
		}
		switch evt.Stage {
		case progress.StageProbeDone:
			fields = append(fields, zap.String("candidate", evt.Candidate), zap.Bool("valid", evt.Valid()))
			if evt.Record != nil {
				fields = append(fields,
					zap.Int64("latency_ms", evt.Record.LatencyMs),
					zap.String("category", string(evt.Record.Category)))
			}
			s.logger.Debug("progress event", fields...)
			continue
		case progress.StageHarvestBatch:
			fields = append(fields, zap.Int("found", evt.Found), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
