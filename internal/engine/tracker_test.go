package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planexec/planexec/internal/plan"
)

func trackerPlan() *plan.Plan {
	return testPlan(testStep("a"), testStep("b", "a"), testStep("c"))
}

func TestTracker_InitialState(t *testing.T) {
	tr := NewTracker(trackerPlan(), nil)

	assert.Equal(t, plan.StepStatusPending, tr.Status("a"))
	assert.Equal(t, plan.StepStatusPending, tr.Status("b"))
	assert.Equal(t, 0, tr.SettledCount())
	assert.False(t, tr.IsComplete())
	assert.Equal(t, []string{"a", "b", "c"}, tr.PendingSteps())
}

func TestTracker_HappyPathTransitions(t *testing.T) {
	tr := NewTracker(trackerPlan(), nil)

	require.NoError(t, tr.MarkStarted("a"))
	assert.Equal(t, plan.StepStatusRunning, tr.Status("a"))

	state := tr.State("a")
	require.NotNil(t, state)
	assert.NotNil(t, state.StartedAt)
	assert.Nil(t, state.CompletedAt)

	require.NoError(t, tr.MarkCompleted("a"))
	assert.Equal(t, plan.StepStatusCompleted, tr.Status("a"))
	assert.NotNil(t, tr.State("a").CompletedAt)
	assert.Equal(t, 1, tr.SettledCount())
}

func TestTracker_RejectsIllegalTransitions(t *testing.T) {
	tr := NewTracker(trackerPlan(), nil)

	// Cannot complete a step that never started.
	assert.Error(t, tr.MarkCompleted("a"))
	assert.Error(t, tr.MarkFailed("a", nil))

	require.NoError(t, tr.MarkStarted("a"))
	require.NoError(t, tr.MarkCompleted("a"))

	// Terminal states are final.
	assert.Error(t, tr.MarkStarted("a"))
	assert.Error(t, tr.MarkFailed("a", nil))
	assert.Error(t, tr.MarkSkipped("a", "too late"))

	// Unknown steps are rejected.
	assert.Error(t, tr.MarkStarted("ghost"))
}

func TestTracker_SkipFromPendingAndRunning(t *testing.T) {
	tr := NewTracker(trackerPlan(), nil)

	// Pending -> skipped (dependency skip, cancellation).
	require.NoError(t, tr.MarkSkipped("b", "unmet dependency: a"))
	assert.Equal(t, plan.StepStatusSkipped, tr.Status("b"))
	assert.Equal(t, "unmet dependency: a", tr.State("b").SkipReason)

	// Running -> skipped is also legal.
	require.NoError(t, tr.MarkStarted("a"))
	require.NoError(t, tr.MarkSkipped("a", "plan cancelled"))
	assert.Equal(t, plan.StepStatusSkipped, tr.Status("a"))
}

func TestTracker_CountsAndPercent(t *testing.T) {
	tr := NewTracker(trackerPlan(), nil)

	require.NoError(t, tr.MarkStarted("a"))
	require.NoError(t, tr.MarkCompleted("a"))
	require.NoError(t, tr.MarkStarted("c"))
	require.NoError(t, tr.MarkFailed("c", assert.AnError))
	require.NoError(t, tr.MarkSkipped("b", "unmet dependency: a"))

	completed, failed, skipped := tr.Counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)

	assert.True(t, tr.IsComplete())
	assert.InDelta(t, 100.0, tr.PercentComplete(), 0.01)
	assert.Empty(t, tr.PendingSteps())
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr := NewTracker(trackerPlan(), nil)

	snap := tr.Snapshot()
	assert.Equal(t, plan.StepStatusPending, snap["a"])

	require.NoError(t, tr.MarkStarted("a"))
	assert.Equal(t, plan.StepStatusPending, snap["a"], "snapshot must not track later mutations")
	assert.Equal(t, plan.StepStatusRunning, tr.Snapshot()["a"])
}

type panickyNotifier struct{}

func (panickyNotifier) OnStepTransition(stepID string, from, to plan.StepStatus, percentComplete float64) {
	panic("notifier bug")
}

func TestTracker_NotifierPanicIsIsolated(t *testing.T) {
	tr := NewTracker(trackerPlan(), panickyNotifier{})

	require.NotPanics(t, func() {
		require.NoError(t, tr.MarkStarted("a"))
		require.NoError(t, tr.MarkCompleted("a"))
	})
	assert.Equal(t, plan.StepStatusCompleted, tr.Status("a"))
}

func TestTracker_ConcurrentTransitions(t *testing.T) {
	steps := make([]plan.Step, 0, 50)
	for i := 0; i < 50; i++ {
		steps = append(steps, testStep(string(rune('a'+i%26))+string(rune('0'+i/26))))
	}
	p := testPlan(steps...)
	tr := NewTracker(p, nil)

	var wg sync.WaitGroup
	for i := range p.Steps {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = tr.MarkStarted(id)
			_ = tr.MarkCompleted(id)
		}(p.Steps[i].ID)
	}
	wg.Wait()

	assert.True(t, tr.IsComplete())
	completed, _, _ := tr.Counts()
	assert.Equal(t, 50, completed)
}

func TestRunRegistry_RecordOnce(t *testing.T) {
	reg := NewRunRegistry()

	assert.Equal(t, 1, reg.NextAttempt("a"))
	assert.Equal(t, 2, reg.NextAttempt("a"))
	assert.Equal(t, 1, reg.NextAttempt("b"))

	require.NoError(t, reg.Record(plan.StepResult{StepID: "a", Status: plan.StepStatusCompleted}))
	assert.Error(t, reg.Record(plan.StepResult{StepID: "a", Status: plan.StepStatusFailed}),
		"results are immutable once recorded")

	got := reg.Get("a")
	require.NotNil(t, got)
	assert.Equal(t, plan.StepStatusCompleted, got.Status)
	assert.Nil(t, reg.Get("missing"))
}

func TestRunRegistry_InPlanOrder(t *testing.T) {
	p := testPlan(testStep("first"), testStep("second"), testStep("third"))
	reg := NewRunRegistry()

	// Record out of order.
	require.NoError(t, reg.Record(plan.StepResult{StepID: "third", Status: plan.StepStatusCompleted}))
	require.NoError(t, reg.Record(plan.StepResult{StepID: "first", Status: plan.StepStatusCompleted}))
	require.NoError(t, reg.Record(plan.StepResult{StepID: "second", Status: plan.StepStatusFailed}))

	ordered := reg.InPlanOrder(p)
	require.Len(t, ordered, 3)
	assert.Equal(t, "first", ordered[0].StepID)
	assert.Equal(t, "second", ordered[1].StepID)
	assert.Equal(t, "third", ordered[2].StepID)
}
