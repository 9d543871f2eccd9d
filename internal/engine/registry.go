package engine

import (
	"fmt"
	"sync"

	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// RunRegistry accumulates step results for a single run. Results are
// immutable once recorded: a second record for the same step is rejected.
// The registry hands results back in original plan order regardless of the
// order they were recorded in.
type RunRegistry struct {
	mu       sync.Mutex
	results  map[string]*plan.StepResult
	attempts map[string]int
}

// NewRunRegistry creates an empty run registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		results:  make(map[string]*plan.StepResult),
		attempts: make(map[string]int),
	}
}

// NextAttempt reserves and returns the next attempt number for a step.
// The first attempt is 1.
func (r *RunRegistry) NextAttempt(stepID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts[stepID]++
	return r.attempts[stepID]
}

// Record stores a step result. Returns an error if a result for the step
// was already recorded.
func (r *RunRegistry) Record(result plan.StepResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.results[result.StepID]; exists {
		return types.NewError(types.STEP_EXECUTION_FAILED,
			fmt.Sprintf("result for step %q already recorded", result.StepID))
	}

	r.results[result.StepID] = &result
	return nil
}

// Get returns the recorded result for a step, or nil if none exists.
func (r *RunRegistry) Get(stepID string) *plan.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, exists := r.results[stepID]
	if !exists {
		return nil
	}
	copied := *result
	return &copied
}

// Len returns the number of recorded results.
func (r *RunRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// InPlanOrder returns the recorded results ordered by the plan's original
// step order. Steps without a recorded result are omitted.
func (r *RunRegistry) InPlanOrder(p *plan.Plan) []plan.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]plan.StepResult, 0, len(r.results))
	for i := range p.Steps {
		if result, exists := r.results[p.Steps[i].ID]; exists {
			ordered = append(ordered, *result)
		}
	}
	return ordered
}
