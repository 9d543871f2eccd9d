package events

import (
	"time"

	"github.com/planexec/planexec/internal/types"
)

// EventType identifies the category and nature of an event emitted during a
// plan run.
type EventType string

// Plan Lifecycle Events
// These events track the overall run lifecycle.
const (
	EventPlanStarted   EventType = "plan.started"
	EventPlanProgress  EventType = "plan.progress"
	EventPlanCompleted EventType = "plan.completed"
	EventPlanCancelled EventType = "plan.cancelled"
)

// Step Execution Events
// These events track individual step execution within a run.
const (
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"
)

// Layer Events
// These events mark the admission of a new execution layer.
const (
	EventLayerStarted EventType = "layer.started"
	EventLayerSettled EventType = "layer.settled"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event represents a single observability event during a run. It is
// JSON-serializable and carries enough context for filtering and analysis.
type Event struct {
	// Type identifies the category and nature of the event
	Type EventType `json:"type"`

	// Timestamp records when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// PlanID associates the event with a plan run
	PlanID types.ID `json:"plan_id,omitempty"`

	// StepID identifies which step emitted the event (empty for plan events)
	StepID string `json:"step_id,omitempty"`

	// Payload contains event-specific typed data (use type assertion to access)
	Payload any `json:"payload,omitempty"`

	// Attrs contains additional key-value attributes for flexible event metadata
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Filter defines criteria for filtering events in subscriptions.
// All filter fields use AND logic - an event must match all specified
// criteria. Empty fields act as wildcards (match all).
type Filter struct {
	// Types filters by event types (empty = all types)
	Types []EventType `json:"types,omitempty"`

	// PlanID filters by plan run (empty = all plans)
	PlanID types.ID `json:"plan_id,omitempty"`

	// StepID filters by step (empty = all steps)
	StepID string `json:"step_id,omitempty"`
}

// Matches determines if the given event matches this filter's criteria.
// Empty filter fields act as wildcards that match any value.
func (f *Filter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.PlanID != "" && event.PlanID != f.PlanID {
		return false
	}

	if f.StepID != "" && event.StepID != f.StepID {
		return false
	}

	return true
}

// StepTransitionPayload contains data for step.* events.
type StepTransitionPayload struct {
	StepID   string        `json:"step_id"`
	StepType string        `json:"step_type"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// PlanProgressPayload contains data for plan.progress events.
type PlanProgressPayload struct {
	PlanID          types.ID `json:"plan_id"`
	SettledSteps    int      `json:"settled_steps"`
	TotalSteps      int      `json:"total_steps"`
	PercentComplete float64  `json:"percent_complete"`
}

// PlanCompletedPayload contains data for plan.completed events.
type PlanCompletedPayload struct {
	PlanID         types.ID      `json:"plan_id"`
	Status         string        `json:"status"`
	Duration       time.Duration `json:"duration"`
	StepsCompleted int           `json:"steps_completed"`
	StepsFailed    int           `json:"steps_failed"`
	StepsSkipped   int           `json:"steps_skipped"`
}
