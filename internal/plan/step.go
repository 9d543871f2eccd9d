package plan

// StepType identifies the capability a step is dispatched to. The set is
// open: handlers register the types they serve, and the validator checks a
// plan's types against the registered set rather than a hard-coded switch.
type StepType string

// Built-in step types served by the reference handlers.
const (
	StepTypeSearch     StepType = "search"
	StepTypeReadURL    StepType = "read_url"
	StepTypeVerify     StepType = "verify"
	StepTypeSynthesize StepType = "synthesize"
	StepTypeFollowUp   StepType = "follow_up"
)

// String returns the string representation of the step type.
func (t StepType) String() string {
	return string(t)
}

// Priority bounds. Priority 1 is highest. Priority only breaks ties among
// ready steps inside a layer; it never reorders steps across layers.
const (
	PriorityHighest = 1
	PriorityLowest  = 5
	PriorityDefault = 3
)

// Step is a single unit of work with a type, parameters, priority, and
// dependency set. Steps are immutable for the engine's lifetime.
type Step struct {
	// ID is a stable identifier, unique within the plan.
	ID string `json:"id" yaml:"id"`

	// Type selects the handler capability this step is dispatched to.
	Type StepType `json:"type" yaml:"type"`

	// Objective is the human-readable goal for this step, opaque to the engine.
	Objective string `json:"objective" yaml:"objective"`

	// Parameters is the type-specific payload passed verbatim to the
	// dispatched handler.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Priority is an integer 1-5, 1 = highest. Zero is normalized to
	// PriorityDefault at load time.
	Priority int `json:"priority" yaml:"priority,omitempty"`

	// DependsOn lists IDs of steps that must reach a terminal state before
	// this step may start.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Timeout bounds this step's execution. Zero means the engine default
	// applies.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Metadata contains additional custom metadata for the step.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StepStatus represents the current status of a step during a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// String returns the string representation of the step status.
func (s StepStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the step status is a terminal state
// (completed, failed, or skipped).
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// CanTransitionTo validates a step status transition. The state machine is
//
//	pending -> running, skipped
//	running -> completed, failed, skipped
//
// No legal transition leaves a terminal state.
func (s StepStatus) CanTransitionTo(target StepStatus) bool {
	switch s {
	case StepStatusPending:
		return target == StepStatusRunning || target == StepStatusSkipped
	case StepStatusRunning:
		return target == StepStatusCompleted || target == StepStatusFailed || target == StepStatusSkipped
	default:
		return false
	}
}
