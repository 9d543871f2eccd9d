package synthesis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// charEstimator makes one character equal one token, so test budgets read
// directly as character counts.
func charEstimator() Estimator {
	return NewHeuristicEstimator(1)
}

func completedResult(stepID, content string) plan.StepResult {
	return plan.StepResult{
		StepID:  stepID,
		Status:  plan.StepStatusCompleted,
		Payload: &plan.Payload{Content: content},
	}
}

func aggPlan(steps ...plan.Step) *plan.Plan {
	return &plan.Plan{
		ID:        types.NewID(),
		Objective: "aggregate",
		Steps:     steps,
	}
}

func aggStep(id string, stepType plan.StepType, priority int) plan.Step {
	return plan.Step{ID: id, Type: stepType, Priority: priority}
}

func TestAggregator_AllContentFitsBudget(t *testing.T) {
	p := aggPlan(
		aggStep("a", plan.StepTypeSearch, 3),
		aggStep("b", plan.StepTypeReadURL, 3),
	)
	results := []plan.StepResult{
		completedResult("a", "alpha"),
		completedResult("b", "bravo"),
	}

	agg := NewAggregator(100, WithEstimator(charEstimator()))
	synthesis, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)

	assert.Equal(t, "alpha\n\nbravo", synthesis.Content)
	assert.Equal(t, 10, synthesis.TokensUsed)
	assert.Empty(t, synthesis.TruncatedSteps)
	assert.Empty(t, synthesis.DroppedSteps)
	assert.False(t, synthesis.Degraded)
	assert.Equal(t, "2 of 2 steps completed, 0 failed, 0 skipped", synthesis.Summary)
}

func TestAggregator_TruncatesAtBudgetBoundary(t *testing.T) {
	// Three 400-token payloads under a 900 budget: first two in full, the
	// third cut to the remaining 100 tokens.
	p := aggPlan(
		aggStep("a", plan.StepTypeSearch, 3),
		aggStep("b", plan.StepTypeSearch, 3),
		aggStep("c", plan.StepTypeSearch, 3),
	)
	results := []plan.StepResult{
		completedResult("a", strings.Repeat("a", 400)),
		completedResult("b", strings.Repeat("b", 400)),
		completedResult("c", strings.Repeat("c", 400)),
	}

	agg := NewAggregator(900, WithEstimator(charEstimator()))
	synthesis, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)

	assert.Equal(t, 900, synthesis.TokensUsed)
	assert.Equal(t, []string{"c"}, synthesis.TruncatedSteps)
	assert.Empty(t, synthesis.DroppedSteps)

	parts := strings.Split(synthesis.Content, "\n\n")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 400)
	assert.Len(t, parts[1], 400)
	assert.Len(t, parts[2], 100)
	assert.Contains(t, synthesis.Summary, "trimmed")
}

func TestAggregator_DropsStepsAfterBoundary(t *testing.T) {
	p := aggPlan(
		aggStep("a", plan.StepTypeSearch, 3),
		aggStep("b", plan.StepTypeSearch, 3),
		aggStep("c", plan.StepTypeSearch, 3),
	)
	results := []plan.StepResult{
		completedResult("a", strings.Repeat("a", 100)),
		completedResult("b", strings.Repeat("b", 100)),
		completedResult("c", strings.Repeat("c", 100)),
	}

	agg := NewAggregator(100, WithEstimator(charEstimator()))
	synthesis, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("a", 100), synthesis.Content)
	assert.Empty(t, synthesis.TruncatedSteps, "b hit a zero remainder, so it is dropped, not truncated")
	assert.Equal(t, []string{"b", "c"}, synthesis.DroppedSteps)
}

func TestAggregator_ShedsFollowUpContentFirst(t *testing.T) {
	// The follow_up step sits first in plan order but is shed before any
	// core content is touched.
	p := aggPlan(
		aggStep("extra", plan.StepTypeFollowUp, 3),
		aggStep("core", plan.StepTypeSearch, 3),
	)
	results := []plan.StepResult{
		completedResult("extra", strings.Repeat("x", 80)),
		completedResult("core", strings.Repeat("c", 80)),
	}

	agg := NewAggregator(100, WithEstimator(charEstimator()))
	synthesis, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("c", 80), synthesis.Content)
	assert.Equal(t, []string{"extra"}, synthesis.DroppedSteps)
	assert.Empty(t, synthesis.TruncatedSteps)
}

func TestAggregator_ShedsLowestPriorityContent(t *testing.T) {
	p := aggPlan(
		aggStep("important", plan.StepTypeSearch, 1),
		aggStep("optional", plan.StepTypeSearch, 5),
	)
	results := []plan.StepResult{
		completedResult("important", strings.Repeat("i", 80)),
		completedResult("optional", strings.Repeat("o", 80)),
	}

	agg := NewAggregator(100, WithEstimator(charEstimator()))
	synthesis, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("i", 80), synthesis.Content)
	assert.Equal(t, []string{"optional"}, synthesis.DroppedSteps)
}

func TestAggregator_ZeroCompletedStepsExplains(t *testing.T) {
	p := aggPlan(aggStep("a", plan.StepTypeSearch, 3), aggStep("b", plan.StepTypeSearch, 3))
	results := []plan.StepResult{
		{StepID: "a", Status: plan.StepStatusFailed},
		{StepID: "b", Status: plan.StepStatusSkipped, SkipReason: "unmet dependency: a"},
	}

	agg := NewAggregator(100, WithEstimator(charEstimator()))
	synthesis, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)

	assert.Equal(t, "0 of 2 steps completed, 1 failed, 1 skipped", synthesis.Summary)
	assert.Contains(t, synthesis.Content, "no content available")
	assert.Equal(t, 0, synthesis.TokensUsed)
}

func TestAggregator_IdempotentReAggregation(t *testing.T) {
	p := aggPlan(
		aggStep("a", plan.StepTypeSearch, 3),
		aggStep("b", plan.StepTypeFollowUp, 3),
		aggStep("c", plan.StepTypeSearch, 5),
	)
	results := []plan.StepResult{
		completedResult("a", strings.Repeat("a", 60)),
		completedResult("b", strings.Repeat("b", 60)),
		completedResult("c", strings.Repeat("c", 60)),
	}

	agg := NewAggregator(100, WithEstimator(charEstimator()))

	first, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)
	second, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAggregator_DegradesOnInvalidBudget(t *testing.T) {
	p := aggPlan(aggStep("a", plan.StepTypeSearch, 3))
	results := []plan.StepResult{completedResult("a", "payload content")}

	agg := NewAggregator(0, WithEstimator(charEstimator()))
	synthesis, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err, "aggregation failure degrades, it does not propagate")

	assert.True(t, synthesis.Degraded)
	assert.Equal(t, "payload content", synthesis.Content)
}

func TestAggregator_SkipsEmptyPayloads(t *testing.T) {
	p := aggPlan(
		aggStep("a", plan.StepTypeSearch, 3),
		aggStep("b", plan.StepTypeVerify, 3),
	)
	results := []plan.StepResult{
		completedResult("a", "real content"),
		{StepID: "b", Status: plan.StepStatusCompleted, Payload: &plan.Payload{Data: map[string]any{"ok": true}}},
	}

	agg := NewAggregator(100, WithEstimator(charEstimator()))
	synthesis, err := agg.Synthesize(context.Background(), p, results)
	require.NoError(t, err)

	assert.Equal(t, "real content", synthesis.Content)
}

func TestTokenBudget_Accounting(t *testing.T) {
	b := NewTokenBudget(100)

	assert.Equal(t, 100, b.Total())
	assert.Equal(t, 100, b.Remaining())
	assert.True(t, b.CanAfford(100))
	assert.False(t, b.CanAfford(101))

	require.NoError(t, b.Consume(60))
	assert.Equal(t, 60, b.Used())
	assert.Equal(t, 40, b.Remaining())

	err := b.Consume(50)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.NewError(types.BUDGET_EXHAUSTED, ""))
	assert.Equal(t, 60, b.Used(), "failed consume must not change usage")

	require.NoError(t, b.Consume(40))
	assert.Equal(t, 0, b.Remaining())
}

func TestHeuristicEstimator(t *testing.T) {
	e := NewHeuristicEstimator(4)

	assert.Equal(t, 0, e.Estimate(""))
	assert.Equal(t, 1, e.Estimate("ab"))
	assert.Equal(t, 2, e.Estimate("abcde"))
	assert.Equal(t, 25, e.Estimate(strings.Repeat("x", 100)))

	assert.Equal(t, "", e.Truncate("anything", 0))
	assert.Equal(t, "abcd", e.Truncate("abcdefgh", 1))
	assert.Equal(t, "short", e.Truncate("short", 50))
}
