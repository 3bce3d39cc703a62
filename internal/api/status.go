package api

import (
	"sync"
	"time"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

// Phase names the stage a sync run is in.
type Phase string

// Run phases in execution order.
const (
	PhaseIdle       Phase = "idle"
	PhaseIngesting  Phase = "ingesting"
	PhaseResolving  Phase = "resolving"
	PhasePersisting Phase = "persisting"
	PhaseMirroring  Phase = "mirroring"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// RunStatus is the JSON view of the tracker.
type RunStatus struct {
	RunID     string              `json:"run_id,omitempty"`
	Phase     Phase               `json:"phase"`
	Since     time.Time           `json:"since"`
	Error     string              `json:"error,omitempty"`
	Summary   *catalog.RunSummary `json:"summary,omitempty"`
	Completed bool                `json:"completed"`
}

// Tracker records run progress for the status endpoints. Safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	clock  catalog.Clock
	status RunStatus
}

// NewTracker returns a tracker in the idle phase.
func NewTracker(clock catalog.Clock) *Tracker {
	if clock == nil {
		clock = catalog.SystemClock{}
	}
	return &Tracker{clock: clock, status: RunStatus{Phase: PhaseIdle, Since: clock.Now()}}
}

// Start resets the tracker for runID.
func (t *Tracker) Start(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = RunStatus{RunID: runID, Phase: PhaseIngesting, Since: t.clock.Now()}
}

// SetPhase moves the current run to phase.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Phase = phase
	t.status.Since = t.clock.Now()
}

// Finish records the outcome of the run. A nil err marks it done.
func (t *Tracker) Finish(summary catalog.RunSummary, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Summary = &summary
	t.status.Completed = true
	t.status.Since = t.clock.Now()
	if err != nil {
		t.status.Phase = PhaseFailed
		t.status.Error = err.Error()
		return
	}
	t.status.Phase = PhaseDone
}

// Status returns a copy of the current status.
func (t *Tracker) Status() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.status
	if out.Summary != nil {
		summary := *out.Summary
		out.Summary = &summary
	}
	return out
}
