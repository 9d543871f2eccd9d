package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// StepState tracks the execution state of a single step during a run.
type StepState struct {
	// StepID is the unique identifier for the step
	StepID string

	// Status is the current execution status of the step
	Status plan.StepStatus

	// StartedAt is the timestamp when the step execution began
	StartedAt *time.Time

	// CompletedAt is the timestamp when the step reached a terminal state
	CompletedAt *time.Time

	// SkipReason records why the step was skipped, if it was
	SkipReason string

	// Error stores any error that occurred during step execution
	Error error
}

// Notifier receives step status transition callbacks during a run.
// percentComplete reflects the fraction of settled steps at the moment of
// the transition. Callbacks are best-effort: a panicking notifier never
// affects the run.
type Notifier interface {
	OnStepTransition(stepID string, from, to plan.StepStatus, percentComplete float64)
}

// Tracker is the single owner of per-step execution state for one run. All
// status transitions go through it, and it rejects transitions the step
// state machine does not allow. The plan itself is never mutated.
//
// Thread-safe; the scheduler calls it from multiple worker goroutines.
type Tracker struct {
	mu       sync.RWMutex
	planID   types.ID
	states   map[string]*StepState
	order    []string
	notifier Notifier
	started  time.Time
}

// NewTracker creates a Tracker with every step of the plan in pending status.
func NewTracker(p *plan.Plan, notifier Notifier) *Tracker {
	order := p.StepIDs()
	states := make(map[string]*StepState, len(order))
	for _, id := range order {
		states[id] = &StepState{
			StepID: id,
			Status: plan.StepStatusPending,
		}
	}

	return &Tracker{
		planID:   p.ID,
		states:   states,
		order:    order,
		notifier: notifier,
		started:  time.Now(),
	}
}

// MarkStarted transitions a step from pending to running.
func (t *Tracker) MarkStarted(stepID string) error {
	return t.transition(stepID, plan.StepStatusRunning, func(s *StepState) {
		now := time.Now()
		s.StartedAt = &now
	})
}

// MarkCompleted transitions a step from running to completed.
func (t *Tracker) MarkCompleted(stepID string) error {
	return t.transition(stepID, plan.StepStatusCompleted, func(s *StepState) {
		now := time.Now()
		s.CompletedAt = &now
	})
}

// MarkFailed transitions a step from running to failed and records the error.
func (t *Tracker) MarkFailed(stepID string, err error) error {
	return t.transition(stepID, plan.StepStatusFailed, func(s *StepState) {
		now := time.Now()
		s.CompletedAt = &now
		s.Error = err
	})
}

// MarkSkipped transitions a step to skipped with a reason. Valid from both
// pending (unmet dependency, cancellation) and running states.
func (t *Tracker) MarkSkipped(stepID string, reason string) error {
	return t.transition(stepID, plan.StepStatusSkipped, func(s *StepState) {
		now := time.Now()
		s.CompletedAt = &now
		s.SkipReason = reason
	})
}

// transition applies a status change under the write lock, validating it
// against the step state machine, then fires the notifier outside the lock.
func (t *Tracker) transition(stepID string, target plan.StepStatus, apply func(*StepState)) error {
	t.mu.Lock()

	state, exists := t.states[stepID]
	if !exists {
		t.mu.Unlock()
		return types.NewError(types.STEP_EXECUTION_FAILED,
			fmt.Sprintf("unknown step %q in tracker", stepID))
	}

	from := state.Status
	if !from.CanTransitionTo(target) {
		t.mu.Unlock()
		return types.NewError(types.STEP_EXECUTION_FAILED,
			fmt.Sprintf("illegal step transition %s -> %s for step %q", from, target, stepID))
	}

	state.Status = target
	apply(state)
	percent := t.percentLocked()
	t.mu.Unlock()

	t.notify(stepID, from, target, percent)
	return nil
}

// notify fires the transition callback with panic isolation.
func (t *Tracker) notify(stepID string, from, to plan.StepStatus, percent float64) {
	if t.notifier == nil {
		return
	}
	defer func() {
		// A misbehaving notifier must not take down the run.
		_ = recover()
	}()
	t.notifier.OnStepTransition(stepID, from, to, percent)
}

// Status returns the current status of a step. Unknown steps report pending.
func (t *Tracker) Status(stepID string) plan.StepStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if state, exists := t.states[stepID]; exists {
		return state.Status
	}
	return plan.StepStatusPending
}

// State returns a copy of the full state of a step, or nil if unknown.
func (t *Tracker) State(stepID string) *StepState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, exists := t.states[stepID]
	if !exists {
		return nil
	}
	copied := *state
	return &copied
}

// Snapshot returns a point-in-time view of every step's status, in plan
// order. The returned map is a copy and safe to hold.
func (t *Tracker) Snapshot() map[string]plan.StepStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]plan.StepStatus, len(t.states))
	for id, state := range t.states {
		snapshot[id] = state.Status
	}
	return snapshot
}

// SettledCount returns how many steps have reached a terminal state.
func (t *Tracker) SettledCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	settled := 0
	for _, state := range t.states {
		if state.Status.IsTerminal() {
			settled++
		}
	}
	return settled
}

// PercentComplete returns the fraction of settled steps as a percentage.
func (t *Tracker) PercentComplete() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.percentLocked()
}

// percentLocked computes the settled percentage. Callers hold t.mu.
func (t *Tracker) percentLocked() float64 {
	if len(t.states) == 0 {
		return 100.0
	}

	settled := 0
	for _, state := range t.states {
		if state.Status.IsTerminal() {
			settled++
		}
	}
	return float64(settled) / float64(len(t.states)) * 100.0
}

// IsComplete reports whether every step has reached a terminal state.
func (t *Tracker) IsComplete() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, state := range t.states {
		if !state.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// PendingSteps returns the IDs of steps still in pending status, in plan order.
func (t *Tracker) PendingSteps() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var pending []string
	for _, id := range t.order {
		if t.states[id].Status == plan.StepStatusPending {
			pending = append(pending, id)
		}
	}
	return pending
}

// Counts returns the number of steps in completed, failed and skipped status.
func (t *Tracker) Counts() (completed, failed, skipped int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, state := range t.states {
		switch state.Status {
		case plan.StepStatusCompleted:
			completed++
		case plan.StepStatusFailed:
			failed++
		case plan.StepStatusSkipped:
			skipped++
		}
	}
	return
}
