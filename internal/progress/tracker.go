package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// UnknownETA is returned when no rate can be computed yet.
const UnknownETA = "--:--"

// ETA formats the remaining time for a phase from the observed rate.
// It renders HH:MM:SS from one hour up and MM:SS below, truncating seconds.
func ETA(completed, total int, elapsed time.Duration) string {
	secs := elapsed.Seconds()
	if completed <= 0 || secs <= 0 {
		return UnknownETA
	}
	rate := float64(completed) / secs
	remaining := total - completed
	if remaining < 0 {
		remaining = 0
	}
	eta := int64(math.Floor(float64(remaining) / rate))
	hours := eta / 3600
	minutes := (eta % 3600) / 60
	seconds := eta % 60
	if eta >= 3600 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// Speed returns completed operations per second, or zero before any time has passed.
func Speed(completed int, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(completed) / secs
}

// PhaseProgress is a snapshot of one phase.
type PhaseProgress struct {
	Phase     proxy.Phase   `json:"phase"`
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	Elapsed   time.Duration `json:"elapsed"`
	Speed     float64       `json:"speed"`
	ETA       string        `json:"eta"`
}

// Tracker measures progress of the current phase against a clock.
type Tracker struct {
	mu        sync.Mutex
	now       func() time.Time
	phase     proxy.Phase
	started   time.Time
	completed int
	total     int
}

// NewTracker creates a Tracker; a nil now uses time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now, phase: proxy.PhaseIdle}
}

// Begin starts timing a phase with a known total.
func (t *Tracker) Begin(phase proxy.Phase, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.started = t.now()
	t.completed = 0
	t.total = total
}

// Advance records completed units for the current phase.
func (t *Tracker) Advance(completed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = completed
}

// Snapshot returns the current phase progress.
func (t *Tracker) Snapshot() PhaseProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	var elapsed time.Duration
	if !t.started.IsZero() {
		elapsed = t.now().Sub(t.started)
	}
	return PhaseProgress{
		Phase:     t.phase,
		Completed: t.completed,
		Total:     t.total,
		Elapsed:   elapsed,
		Speed:     Speed(t.completed, elapsed),
		ETA:       ETA(t.completed, t.total, elapsed),
	}
}
