package plan

import (
	"fmt"
	"time"

	"github.com/planexec/planexec/internal/types"
)

// TypeChecker reports whether a step type has a registered handler
// capability. The handler registry satisfies this interface.
type TypeChecker interface {
	Supports(stepType string) bool
}

// Validator performs the pre-execution linting pass over a plan. Every
// failure it reports is fatal: the plan is rejected before any step
// executes. The checks are, in order:
//
//  1. Plan is non-nil and contains at least one step.
//  2. Step IDs are non-empty and unique within the plan.
//  3. Priorities are within bounds (after normalization).
//  4. Every depends_on entry references an existing step.
//  5. The dependency graph is acyclic.
//  6. Every step type has a registered handler (when a TypeChecker is set).
type Validator struct {
	resolver *Resolver
	typesOK  TypeChecker
}

// ValidatorOption is a functional option for configuring a Validator.
type ValidatorOption func(*Validator)

// WithTypeChecker configures the validator to reject plans containing step
// types with no registered handler.
func WithTypeChecker(tc TypeChecker) ValidatorOption {
	return func(v *Validator) {
		v.typesOK = tc
	}
}

// NewValidator creates a new Validator with the given options.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		resolver: NewResolver(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the full linting pass. On success the plan transitions from
// draft to validated. Returns the first PlanError encountered.
func (v *Validator) Validate(p *Plan) error {
	if p == nil {
		return &PlanError{
			Code:    types.PLAN_VALIDATION_FAILED,
			Message: "plan cannot be nil",
		}
	}

	if len(p.Steps) == 0 {
		return &PlanError{
			Code:    types.PLAN_VALIDATION_FAILED,
			Message: "plan must contain at least one step",
		}
	}

	if err := v.checkStepIdentity(p); err != nil {
		return err
	}

	if err := v.checkPriorities(p); err != nil {
		return err
	}

	// Reference and cycle checks are the resolver's; a successful Resolve
	// implies both hold.
	if _, err := v.resolver.Resolve(p); err != nil {
		return err
	}

	if err := v.checkStepTypes(p); err != nil {
		return err
	}

	if p.Status == PlanStatusDraft || p.Status == "" {
		p.Status = PlanStatusValidated
	}

	return nil
}

func (v *Validator) checkStepIdentity(p *Plan) error {
	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.ID == "" {
			return &PlanError{
				Code:    types.PLAN_VALIDATION_FAILED,
				Message: fmt.Sprintf("step at index %d has an empty id", i),
			}
		}
		if seen[step.ID] {
			return &PlanError{
				Code:    types.PLAN_DUPLICATE_STEP,
				Message: fmt.Sprintf("step id %q appears more than once in plan", step.ID),
				StepID:  step.ID,
			}
		}
		seen[step.ID] = true
	}
	return nil
}

func (v *Validator) checkPriorities(p *Plan) error {
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Priority < PriorityHighest || step.Priority > PriorityLowest {
			return &PlanError{
				Code:    types.PLAN_VALIDATION_FAILED,
				Message: fmt.Sprintf("step %q has priority %d, must be between %d and %d", step.ID, step.Priority, PriorityHighest, PriorityLowest),
				StepID:  step.ID,
			}
		}
	}
	return nil
}

func (v *Validator) checkStepTypes(p *Plan) error {
	if v.typesOK == nil {
		return nil
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Type == "" {
			return &PlanError{
				Code:    types.PLAN_VALIDATION_FAILED,
				Message: fmt.Sprintf("step %q has an empty type", step.ID),
				StepID:  step.ID,
			}
		}
		if !v.typesOK.Supports(string(step.Type)) {
			return &PlanError{
				Code:    types.STEP_TYPE_UNKNOWN,
				Message: fmt.Sprintf("step %q has type %q with no registered handler", step.ID, step.Type),
				StepID:  step.ID,
			}
		}
	}
	return nil
}

// Normalize applies load-time defaults to a plan in place: a fresh ID when
// missing, draft status, default priority for steps that omit one, and a
// creation timestamp. Called by the YAML loader before validation.
func Normalize(p *Plan) {
	if p == nil {
		return
	}
	if p.ID.IsZero() {
		p.ID = types.NewID()
	}
	if p.Status == "" {
		p.Status = PlanStatusDraft
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	for i := range p.Steps {
		if p.Steps[i].Priority == 0 {
			p.Steps[i].Priority = PriorityDefault
		}
	}
}
