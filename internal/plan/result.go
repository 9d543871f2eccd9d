package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/planexec/planexec/internal/types"
)

// Payload is the opaque result data produced by a step handler. Content
// holds text that the aggregator may include in the synthesis; Data carries
// structured output that passes through untouched.
type Payload struct {
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// StepError represents an error that occurred during step execution.
type StepError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	Details map[string]any  `json:"details,omitempty"`
	Cause   error           `json:"-"`
}

// Error implements the error interface for StepError.
func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// StepResult is produced once per step execution attempt. It is immutable
// once recorded by the run registry.
type StepResult struct {
	StepID      string      `json:"step_id"`
	Attempt     int         `json:"attempt"`
	Status      StepStatus  `json:"status"`
	Payload     *Payload    `json:"payload,omitempty"`
	Error       *StepError  `json:"error,omitempty"`
	SkipReason  string      `json:"skip_reason,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Synthesis is the aggregated, budget-constrained combination of step
// payloads into a final result.
type Synthesis struct {
	// Summary is a narrative description of how the run went.
	Summary string `json:"summary"`

	// Content is the synthesized payload content, in plan order.
	Content string `json:"content"`

	// TokensUsed is the estimated token count of Content.
	TokensUsed int `json:"tokens_used"`

	// TruncatedSteps lists steps whose content was cut at the budget boundary.
	TruncatedSteps []string `json:"truncated_steps,omitempty"`

	// DroppedSteps lists steps whose content was dropped entirely to fit the budget.
	DroppedSteps []string `json:"dropped_steps,omitempty"`

	// Degraded is true when budget-aware aggregation failed and the synthesis
	// fell back to raw concatenation.
	Degraded bool `json:"degraded,omitempty"`
}

// ExecutionMetrics summarizes a run.
type ExecutionMetrics struct {
	StepsTotal     int           `json:"steps_total"`
	StepsCompleted int           `json:"steps_completed"`
	StepsFailed    int           `json:"steps_failed"`
	StepsSkipped   int           `json:"steps_skipped"`
	WallClock      time.Duration `json:"wall_clock"`
}

// ExecutionResult is the plan-level aggregate returned to the caller. The
// StepResults list is always in original plan order regardless of execution
// interleaving, and the struct is never mutated after the run returns it.
type ExecutionResult struct {
	PlanID         types.ID         `json:"plan_id"`
	Status         PlanStatus       `json:"status"`
	StepResults    []StepResult     `json:"step_results"`
	Synthesis      *Synthesis       `json:"synthesis,omitempty"`
	Metrics        ExecutionMetrics `json:"metrics"`
	PartialSuccess bool             `json:"partial_success"`
	Error          *PlanError       `json:"error,omitempty"`
}

// ResultByStep returns the result for a given step ID, or nil if the step
// has no recorded result.
func (r *ExecutionResult) ResultByStep(id string) *StepResult {
	for i := range r.StepResults {
		if r.StepResults[i].StepID == id {
			return &r.StepResults[i]
		}
	}
	return nil
}

// PlanError represents a plan-level error: a validation failure, a
// dependency cycle, or a run-level fault. Cycle carries the full cycle path
// when Code is DEPENDENCY_CYCLE.
type PlanError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	StepID  string          `json:"step_id,omitempty"`
	Cycle   []string        `json:"cycle,omitempty"`
	Cause   error           `json:"-"`
}

// Error implements the error interface for PlanError.
func (e *PlanError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.StepID != "" {
		msg = fmt.Sprintf("%s [step: %s]: %s", e.Code, e.StepID, e.Message)
	}
	if len(e.Cycle) > 0 {
		msg = fmt.Sprintf("%s (cycle: %s)", msg, strings.Join(e.Cycle, " -> "))
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface for PlanError.
func (e *PlanError) Unwrap() error {
	return e.Cause
}
