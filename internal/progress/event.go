package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StagePhase        Stage = "PHASE"
	StageHarvestBatch Stage = "HARVEST_BATCH"
	StageProbeDone    Stage = "PROBE_DONE"
	StageRunDone      Stage = "RUN_DONE"
	StagePersistError Stage = "PERSIST_ERROR"
)

// Event captures one step of a pipeline run.
type Event struct {
	// RunID identifies the pipeline run.
	RunID uuid.UUID `json:"run_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// Phase is the controller phase when the event was emitted.
	Phase proxy.Phase `json:"phase"`
	// Completed and Total describe progress within the phase.
	Completed int `json:"completed"`
	Total     int `json:"total"`
	// Found is the running candidate count during harvesting.
	Found int `json:"found,omitempty"`
	// Candidate is the probed address for probe events.
	Candidate string `json:"candidate,omitempty"`
	// Record is set when a probe produced a validated proxy.
	Record *proxy.Record `json:"record,omitempty"`
	// Dur is probe latency or batch duration.
	Dur time.Duration `json:"dur"`
	// Note carries low-volume context such as an error string.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StagePhase, StageRunDone, StagePersistError:
	case StageHarvestBatch:
		if e.Total <= 0 {
			return errors.New("harvest batch requires total sources")
		}
	case StageProbeDone:
		if e.Candidate == "" {
			return errors.New("probe done requires candidate")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Completed < 0 || e.Total < 0 {
		return errors.New("counts must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Valid reports whether a probe event produced a validated proxy.
func (e Event) Valid() bool {
	return e.Stage == StageProbeDone && e.Record != nil
}
