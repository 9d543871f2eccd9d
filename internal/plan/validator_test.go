package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planexec/planexec/internal/types"
)

type stubTypeChecker struct {
	supported map[string]bool
}

func (s *stubTypeChecker) Supports(stepType string) bool {
	return s.supported[stepType]
}

func planErrCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var planErr *PlanError
	require.True(t, errors.As(err, &planErr), "expected *PlanError, got %T: %v", err, err)
	return planErr.Code
}

func TestValidator_ValidPlan(t *testing.T) {
	p := mkPlan(
		mkStep("a", 1),
		mkStep("b", 2, "a"),
	)

	v := NewValidator()
	require.NoError(t, v.Validate(p))
	assert.Equal(t, PlanStatusValidated, p.Status)
}

func TestValidator_NilAndEmpty(t *testing.T) {
	v := NewValidator()

	err := v.Validate(nil)
	assert.Equal(t, types.PLAN_VALIDATION_FAILED, planErrCode(t, err))

	err = v.Validate(&Plan{})
	assert.Equal(t, types.PLAN_VALIDATION_FAILED, planErrCode(t, err))
}

func TestValidator_DuplicateStepID(t *testing.T) {
	p := mkPlan(
		mkStep("a", 3),
		mkStep("a", 3),
	)

	err := NewValidator().Validate(p)
	assert.Equal(t, types.PLAN_DUPLICATE_STEP, planErrCode(t, err))
}

func TestValidator_EmptyStepID(t *testing.T) {
	p := mkPlan(mkStep("", 3))

	err := NewValidator().Validate(p)
	assert.Equal(t, types.PLAN_VALIDATION_FAILED, planErrCode(t, err))
}

func TestValidator_PriorityOutOfRange(t *testing.T) {
	tests := []struct {
		name     string
		priority int
		wantErr  bool
	}{
		{"highest", 1, false},
		{"lowest", 5, false},
		{"too high", 6, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mkPlan(mkStep("a", tt.priority))
			err := NewValidator().Validate(p)
			if tt.wantErr {
				assert.Equal(t, types.PLAN_VALIDATION_FAILED, planErrCode(t, err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_UnknownDependencyIsFatal(t *testing.T) {
	p := mkPlan(mkStep("a", 3, "missing"))

	err := NewValidator().Validate(p)
	assert.Equal(t, types.DEPENDENCY_UNKNOWN, planErrCode(t, err))
}

func TestValidator_CycleIsFatal(t *testing.T) {
	p := mkPlan(
		mkStep("a", 3, "b"),
		mkStep("b", 3, "a"),
	)

	err := NewValidator().Validate(p)
	assert.Equal(t, types.DEPENDENCY_CYCLE, planErrCode(t, err))
}

func TestValidator_UnknownStepType(t *testing.T) {
	checker := &stubTypeChecker{supported: map[string]bool{"search": true}}
	v := NewValidator(WithTypeChecker(checker))

	good := mkPlan(mkStep("a", 3))
	require.NoError(t, v.Validate(good))

	bad := mkPlan(Step{ID: "x", Type: "teleport", Objective: "nope", Priority: 3})
	err := v.Validate(bad)
	assert.Equal(t, types.STEP_TYPE_UNKNOWN, planErrCode(t, err))
}

func TestValidator_NoTypeCheckerSkipsTypeValidation(t *testing.T) {
	p := mkPlan(Step{ID: "x", Type: "anything", Objective: "o", Priority: 3})
	assert.NoError(t, NewValidator().Validate(p))
}

func TestNormalize_Defaults(t *testing.T) {
	p := &Plan{
		Steps: []Step{{ID: "a", Type: StepTypeSearch}},
	}
	Normalize(p)

	assert.False(t, p.ID.IsZero())
	assert.Equal(t, PlanStatusDraft, p.Status)
	assert.Equal(t, PriorityDefault, p.Steps[0].Priority)
	assert.False(t, p.CreatedAt.IsZero())
}
