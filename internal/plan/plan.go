package plan

import (
	"time"

	"github.com/planexec/planexec/internal/types"
)

// PlanStatus represents the current status of an execution plan.
type PlanStatus string

const (
	// PlanStatusDraft indicates the plan has been constructed but not yet validated.
	PlanStatusDraft PlanStatus = "draft"

	// PlanStatusValidated indicates the plan passed the linting pass and is ready for execution.
	PlanStatusValidated PlanStatus = "validated"

	// PlanStatusExecuting indicates the plan is currently being executed.
	PlanStatusExecuting PlanStatus = "executing"

	// PlanStatusCompleted indicates every step settled as completed.
	PlanStatusCompleted PlanStatus = "completed"

	// PlanStatusPartial indicates the run settled with a mix of completed and
	// failed or skipped steps.
	PlanStatusPartial PlanStatus = "partial"

	// PlanStatusFailed indicates the run settled with no completed steps.
	PlanStatusFailed PlanStatus = "failed"

	// PlanStatusCancelled indicates the plan was cancelled during execution.
	PlanStatusCancelled PlanStatus = "cancelled"
)

// String returns the string representation of the plan status.
func (s PlanStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status represents a terminal state
// (completed, partial, failed, or cancelled).
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusPartial, PlanStatusFailed, PlanStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates whether the current status can transition to the
// target status. It enforces the following state machine:
//
//	draft -> validated
//	validated -> executing
//	executing -> completed, partial, failed, cancelled
//
// Terminal states cannot transition to any other state.
func (s PlanStatus) CanTransitionTo(target PlanStatus) bool {
	if s.IsTerminal() {
		return false
	}

	allowedTransitions := map[PlanStatus][]PlanStatus{
		PlanStatusDraft: {
			PlanStatusValidated,
		},
		PlanStatusValidated: {
			PlanStatusExecuting,
		},
		PlanStatusExecuting: {
			PlanStatusCompleted,
			PlanStatusPartial,
			PlanStatusFailed,
			PlanStatusCancelled,
		},
	}

	allowedTargets, exists := allowedTransitions[s]
	if !exists {
		return false
	}

	for _, allowedTarget := range allowedTargets {
		if allowedTarget == target {
			return true
		}
	}

	return false
}

// Plan is a declarative, read-only description of steps and their
// dependencies. A plan is produced by an external plan-generation
// collaborator, validated on entry, and never mutated by the engine during a
// run; all per-step execution state lives in the run tracker.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID types.ID `json:"id" yaml:"id"`

	// Objective is the plan-level goal, opaque to the engine.
	Objective string `json:"objective" yaml:"objective"`

	// ExpectedOutcome describes what a successful run should produce.
	ExpectedOutcome string `json:"expected_outcome,omitempty" yaml:"expected_outcome,omitempty"`

	// Status represents the current status of the plan.
	Status PlanStatus `json:"status" yaml:"status,omitempty"`

	// Steps contains the ordered list of steps for this plan. The order is
	// significant: it is the tie-break after priority within a layer and the
	// order of the final result list.
	Steps []Step `json:"steps" yaml:"steps"`

	// Metadata contains additional custom metadata for the plan.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// CreatedAt is the timestamp when the plan was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// GetStep retrieves a step by its ID. Returns nil if the step is not found.
func (p *Plan) GetStep(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// StepIndex returns the position of a step in the plan's original order,
// or -1 if the step is not part of the plan.
func (p *Plan) StepIndex(id string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// StepIDs returns the IDs of all steps in plan order.
func (p *Plan) StepIDs() []string {
	ids := make([]string, len(p.Steps))
	for i := range p.Steps {
		ids[i] = p.Steps[i].ID
	}
	return ids
}
