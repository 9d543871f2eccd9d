package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/planexec/planexec/internal/events"
	"github.com/planexec/planexec/internal/handler"
	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// Mode selects the concurrency policy for a run.
type Mode string

const (
	// ModeSequential executes steps strictly one at a time in resolver order.
	ModeSequential Mode = "sequential"

	// ModeConcurrent executes steps within a layer in parallel, bounded by
	// the engine's parallelism limit. Layer boundaries remain full barriers.
	ModeConcurrent Mode = "concurrent"
)

// Synthesizer combines step results into a budget-constrained synthesis.
// Implementations must be safe to call after every run, including runs
// where no step completed.
type Synthesizer interface {
	Synthesize(ctx context.Context, p *plan.Plan, results []plan.StepResult) (*plan.Synthesis, error)
}

// Engine drives the execution of a plan's steps across its resolved layers.
// It manages bounded parallel execution, isolates per-step failures,
// propagates dependency skips, and assembles the final ExecutionResult.
type Engine struct {
	registry    handler.Registry
	resolver    *plan.Resolver
	validator   *plan.Validator
	synthesizer Synthesizer
	bus         events.EventBus
	notifier    Notifier
	logger      *slog.Logger
	tracer      trace.Tracer
	mode        Mode
	maxParallel int
	stepTimeout time.Duration
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLogger configures the engine to use the specified structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer configures the engine to emit OpenTelemetry spans for plan and
// step execution.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithMode selects the concurrency policy. Default: concurrent.
func WithMode(mode Mode) Option {
	return func(e *Engine) {
		if mode == ModeSequential || mode == ModeConcurrent {
			e.mode = mode
		}
	}
}

// WithMaxParallel bounds the number of steps that may run simultaneously in
// concurrent mode. Default: 4.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithStepTimeout sets the default per-step timeout applied when a step
// does not declare its own. Default: 30s.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithEventBus configures the engine to publish run lifecycle events.
func WithEventBus(bus events.EventBus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithNotifier configures a best-effort step transition callback.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithSynthesizer configures the result aggregation stage run after the
// scheduler settles.
func WithSynthesizer(s Synthesizer) Option {
	return func(e *Engine) {
		e.synthesizer = s
	}
}

// New creates an Engine that dispatches steps through the given handler
// registry. Default configuration: concurrent mode, 4 parallel steps,
// 30 second step timeout, default logger, no tracer, no event bus.
func New(registry handler.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		resolver:    plan.NewResolver(),
		logger:      slog.Default(),
		mode:        ModeConcurrent,
		maxParallel: 4,
		stepTimeout: 30 * time.Second,
	}
	e.validator = plan.NewValidator(plan.WithTypeChecker(registry))

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute validates the plan, resolves its execution layers, and runs it.
// Validation and resolution errors are fatal and abort before any step
// executes. Once execution begins, step failures never surface here; they
// are recorded in the returned ExecutionResult.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan) (*plan.ExecutionResult, error) {
	plan.Normalize(p)
	if err := e.validator.Validate(p); err != nil {
		return nil, err
	}

	layers, err := e.resolver.Resolve(p)
	if err != nil {
		return nil, err
	}

	return e.Run(ctx, p, layers), nil
}

// Run executes a plan across the given layers under the engine's
// concurrency policy. Layers are full barriers: layer k+1 is not admitted
// until every step in layer k has reached a terminal state.
//
// Cancellation of ctx stops admission of new steps; in-flight steps are
// given their own per-step timeout as a grace period, remaining pending
// steps are marked skipped with reason "plan cancelled", and the partial
// result is returned. Run never returns an error after execution begins.
func (e *Engine) Run(ctx context.Context, p *plan.Plan, layers []plan.Layer) *plan.ExecutionResult {
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "plan.execute",
			trace.WithAttributes(
				attribute.String("plan.id", p.ID.String()),
				attribute.Int("plan.step_count", len(p.Steps)),
				attribute.Int("plan.layer_count", len(layers)),
				attribute.String("plan.mode", string(e.mode)),
			),
		)
		defer span.End()
	}

	e.logger.InfoContext(ctx, "starting plan execution",
		"plan_id", p.ID,
		"step_count", len(p.Steps),
		"layer_count", len(layers),
		"mode", e.mode,
	)

	startTime := time.Now()
	tracker := NewTracker(p, e.notifier)
	runReg := NewRunRegistry()

	e.publish(ctx, events.Event{
		Type:      events.EventPlanStarted,
		Timestamp: time.Now(),
		PlanID:    p.ID,
	})

	cancelled := false
	for layerIdx, layer := range layers {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		e.publish(ctx, events.Event{
			Type:      events.EventLayerStarted,
			Timestamp: time.Now(),
			PlanID:    p.ID,
			Attrs:     map[string]any{"layer": layerIdx, "steps": len(layer)},
		})

		runnable := e.skipUnmet(ctx, p, layer, tracker, runReg)

		if e.mode == ModeSequential {
			cancelled = e.runSequential(ctx, p, runnable, tracker, runReg)
		} else {
			cancelled = e.runConcurrent(ctx, p, runnable, tracker, runReg)
		}

		e.publish(ctx, events.Event{
			Type:      events.EventLayerSettled,
			Timestamp: time.Now(),
			PlanID:    p.ID,
			Attrs:     map[string]any{"layer": layerIdx},
		})
		e.publishProgress(ctx, p, tracker)

		if cancelled {
			break
		}
	}

	if cancelled {
		e.skipRemaining(ctx, p, tracker, runReg)
	}

	result := e.buildResult(p, tracker, runReg, startTime, cancelled)
	e.synthesize(ctx, p, result)

	completionType := events.EventPlanCompleted
	if cancelled {
		completionType = events.EventPlanCancelled
	}
	e.publish(ctx, events.Event{
		Type:      completionType,
		Timestamp: time.Now(),
		PlanID:    p.ID,
		Payload: events.PlanCompletedPayload{
			PlanID:         p.ID,
			Status:         result.Status.String(),
			Duration:       result.Metrics.WallClock,
			StepsCompleted: result.Metrics.StepsCompleted,
			StepsFailed:    result.Metrics.StepsFailed,
			StepsSkipped:   result.Metrics.StepsSkipped,
		},
	})

	e.logger.InfoContext(ctx, "plan execution settled",
		"plan_id", p.ID,
		"status", result.Status,
		"completed", result.Metrics.StepsCompleted,
		"failed", result.Metrics.StepsFailed,
		"skipped", result.Metrics.StepsSkipped,
		"duration", result.Metrics.WallClock,
	)

	return result
}

// skipUnmet partitions a layer into runnable steps, skipping any step whose
// dependencies did not all complete. The skip reason names the first unmet
// dependency in the step's depends_on order.
func (e *Engine) skipUnmet(ctx context.Context, p *plan.Plan, layer plan.Layer, tracker *Tracker, runReg *RunRegistry) []*plan.Step {
	runnable := make([]*plan.Step, 0, len(layer))

	for _, step := range layer {
		unmet := ""
		for _, depID := range step.DependsOn {
			if tracker.Status(depID) != plan.StepStatusCompleted {
				unmet = depID
				break
			}
		}

		if unmet == "" {
			runnable = append(runnable, step)
			continue
		}

		e.skipStep(ctx, p, step, tracker, runReg, fmt.Sprintf("unmet dependency: %s", unmet))
	}

	return runnable
}

// runSequential executes the runnable steps of a layer one at a time.
// Returns true if the run was cancelled partway through the layer.
func (e *Engine) runSequential(ctx context.Context, p *plan.Plan, steps []*plan.Step, tracker *Tracker, runReg *RunRegistry) bool {
	for _, step := range steps {
		if ctx.Err() != nil {
			return true
		}
		e.executeStep(ctx, p, step, tracker, runReg)
	}
	return ctx.Err() != nil
}

// runConcurrent executes the runnable steps of a layer in parallel, bounded
// by maxParallel via a semaphore. It waits for every dispatched step to
// settle before returning; steps not yet dispatched at cancellation time
// are left pending for the caller to skip.
func (e *Engine) runConcurrent(ctx context.Context, p *plan.Plan, steps []*plan.Step, tracker *Tracker, runReg *RunRegistry) bool {
	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup

	cancelled := false
	for _, step := range steps {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		// Acquiring a slot must lose to cancellation: a step still queued on
		// the semaphore when the plan is cancelled has not started and must
		// settle skipped, not run.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			cancelled = true
		}
		if cancelled {
			break
		}

		wg.Add(1)
		go func(s *plan.Step) {
			defer wg.Done()
			defer func() { <-sem }()
			e.executeStep(ctx, p, s, tracker, runReg)
		}(step)
	}

	wg.Wait()
	return cancelled || ctx.Err() != nil
}

// executeStep runs a single step through the handler registry and records
// the outcome. Handler errors and panics are contained at this boundary:
// they produce a failed StepResult, never a run-level error.
func (e *Engine) executeStep(ctx context.Context, p *plan.Plan, step *plan.Step, tracker *Tracker, runReg *RunRegistry) {
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "step.execute",
			trace.WithAttributes(
				attribute.String("step.id", step.ID),
				attribute.String("step.type", step.Type.String()),
				attribute.Int("step.priority", step.Priority),
			),
		)
		defer span.End()
	}

	attempt := runReg.NextAttempt(step.ID)
	if err := tracker.MarkStarted(step.ID); err != nil {
		e.logger.ErrorContext(ctx, "cannot start step", "step_id", step.ID, "error", err)
		return
	}

	e.publish(ctx, events.Event{
		Type:      events.EventStepStarted,
		Timestamp: time.Now(),
		PlanID:    p.ID,
		StepID:    step.ID,
		Payload: events.StepTransitionPayload{
			StepID:   step.ID,
			StepType: step.Type.String(),
			Status:   plan.StepStatusRunning.String(),
		},
	})

	timeout := step.Timeout.Std()
	if timeout <= 0 {
		timeout = e.stepTimeout
	}

	// The step context is detached from the plan context so that plan-level
	// cancellation grants in-flight steps their own timeout as a grace
	// period instead of killing them immediately.
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	startedAt := time.Now()
	payload, err := e.dispatch(stepCtx, step)
	completedAt := time.Now()

	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		err = types.WrapError(types.STEP_TIMEOUT,
			fmt.Sprintf("step %q exceeded timeout of %s", step.ID, timeout), err)
	}

	result := plan.StepResult{
		StepID:      step.ID,
		Attempt:     attempt,
		Payload:     payload,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
	}

	if err != nil {
		result.Status = plan.StepStatusFailed
		result.Payload = nil
		result.Error = toStepError(err)

		if markErr := tracker.MarkFailed(step.ID, err); markErr != nil {
			e.logger.ErrorContext(ctx, "cannot mark step failed", "step_id", step.ID, "error", markErr)
		}
		if recErr := runReg.Record(result); recErr != nil {
			e.logger.ErrorContext(ctx, "cannot record step result", "step_id", step.ID, "error", recErr)
		}

		e.logger.WarnContext(ctx, "step failed",
			"step_id", step.ID,
			"step_type", step.Type,
			"duration", result.Duration,
			"error", err,
		)
		e.publish(ctx, events.Event{
			Type:      events.EventStepFailed,
			Timestamp: time.Now(),
			PlanID:    p.ID,
			StepID:    step.ID,
			Payload: events.StepTransitionPayload{
				StepID:   step.ID,
				StepType: step.Type.String(),
				Status:   plan.StepStatusFailed.String(),
				Duration: result.Duration,
				Error:    err.Error(),
			},
		})
		return
	}

	result.Status = plan.StepStatusCompleted

	if markErr := tracker.MarkCompleted(step.ID); markErr != nil {
		e.logger.ErrorContext(ctx, "cannot mark step completed", "step_id", step.ID, "error", markErr)
	}
	if recErr := runReg.Record(result); recErr != nil {
		e.logger.ErrorContext(ctx, "cannot record step result", "step_id", step.ID, "error", recErr)
	}

	e.logger.DebugContext(ctx, "step completed",
		"step_id", step.ID,
		"step_type", step.Type,
		"duration", result.Duration,
	)
	e.publish(ctx, events.Event{
		Type:      events.EventStepCompleted,
		Timestamp: time.Now(),
		PlanID:    p.ID,
		StepID:    step.ID,
		Payload: events.StepTransitionPayload{
			StepID:   step.ID,
			StepType: step.Type.String(),
			Status:   plan.StepStatusCompleted.String(),
			Duration: result.Duration,
		},
	})
}

// dispatch routes the step to its handler with panic containment. A
// panicking handler yields a step execution error rather than tearing down
// the scheduler.
func (e *Engine) dispatch(ctx context.Context, step *plan.Step) (payload *plan.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = types.NewError(types.STEP_EXECUTION_FAILED,
				fmt.Sprintf("handler for step %q panicked: %v", step.ID, r))
		}
	}()

	return e.registry.Dispatch(ctx, step.Type, step.Parameters)
}

// skipStep marks a pending step skipped and records its result.
func (e *Engine) skipStep(ctx context.Context, p *plan.Plan, step *plan.Step, tracker *Tracker, runReg *RunRegistry, reason string) {
	if err := tracker.MarkSkipped(step.ID, reason); err != nil {
		e.logger.ErrorContext(ctx, "cannot mark step skipped", "step_id", step.ID, "error", err)
		return
	}

	now := time.Now()
	result := plan.StepResult{
		StepID:      step.ID,
		Attempt:     0,
		Status:      plan.StepStatusSkipped,
		SkipReason:  reason,
		StartedAt:   now,
		CompletedAt: now,
	}
	if recErr := runReg.Record(result); recErr != nil {
		e.logger.ErrorContext(ctx, "cannot record skip result", "step_id", step.ID, "error", recErr)
	}

	e.logger.InfoContext(ctx, "step skipped",
		"step_id", step.ID,
		"reason", reason,
	)
	e.publish(ctx, events.Event{
		Type:      events.EventStepSkipped,
		Timestamp: time.Now(),
		PlanID:    p.ID,
		StepID:    step.ID,
		Payload: events.StepTransitionPayload{
			StepID:   step.ID,
			StepType: step.Type.String(),
			Status:   plan.StepStatusSkipped.String(),
			Reason:   reason,
		},
	})
}

// skipRemaining marks every still-pending step skipped after cancellation.
func (e *Engine) skipRemaining(ctx context.Context, p *plan.Plan, tracker *Tracker, runReg *RunRegistry) {
	for _, stepID := range tracker.PendingSteps() {
		if step := p.GetStep(stepID); step != nil {
			e.skipStep(ctx, p, step, tracker, runReg, "plan cancelled")
		}
	}
}

// buildResult assembles the final ExecutionResult. StepResults are emitted
// in original plan order regardless of execution interleaving.
func (e *Engine) buildResult(p *plan.Plan, tracker *Tracker, runReg *RunRegistry, startTime time.Time, cancelled bool) *plan.ExecutionResult {
	completed, failed, skipped := tracker.Counts()

	status := plan.PlanStatusCompleted
	switch {
	case cancelled:
		status = plan.PlanStatusCancelled
	case completed == len(p.Steps):
		status = plan.PlanStatusCompleted
	case completed == 0:
		status = plan.PlanStatusFailed
	default:
		status = plan.PlanStatusPartial
	}

	return &plan.ExecutionResult{
		PlanID:      p.ID,
		Status:      status,
		StepResults: runReg.InPlanOrder(p),
		Metrics: plan.ExecutionMetrics{
			StepsTotal:     len(p.Steps),
			StepsCompleted: completed,
			StepsFailed:    failed,
			StepsSkipped:   skipped,
			WallClock:      time.Since(startTime),
		},
		PartialSuccess: completed > 0 && (failed+skipped) > 0,
	}
}

// synthesize runs the aggregation stage if configured. A synthesis failure
// never fails the run; the result simply carries no synthesis.
func (e *Engine) synthesize(ctx context.Context, p *plan.Plan, result *plan.ExecutionResult) {
	if e.synthesizer == nil {
		return
	}

	synthesis, err := e.synthesizer.Synthesize(ctx, p, result.StepResults)
	if err != nil {
		e.logger.WarnContext(ctx, "synthesis failed", "plan_id", p.ID, "error", err)
		return
	}
	result.Synthesis = synthesis
}

// publish emits a run event if a bus is configured. Best effort.
func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(ctx, event)
}

// publishProgress emits a plan.progress event reflecting the tracker's
// current settlement state.
func (e *Engine) publishProgress(ctx context.Context, p *plan.Plan, tracker *Tracker) {
	if e.bus == nil {
		return
	}

	settled := tracker.SettledCount()
	_ = e.bus.Publish(ctx, events.Event{
		Type:      events.EventPlanProgress,
		Timestamp: time.Now(),
		PlanID:    p.ID,
		Payload: events.PlanProgressPayload{
			PlanID:          p.ID,
			SettledSteps:    settled,
			TotalSteps:      len(p.Steps),
			PercentComplete: tracker.PercentComplete(),
		},
	})
}

// toStepError normalizes an error into a StepError, preserving the engine
// error code when one is present.
func toStepError(err error) *plan.StepError {
	var engineErr *types.EngineError
	if errors.As(err, &engineErr) {
		return &plan.StepError{
			Code:    engineErr.Code,
			Message: engineErr.Message,
			Cause:   engineErr.Cause,
		}
	}

	return &plan.StepError{
		Code:    types.STEP_EXECUTION_FAILED,
		Message: err.Error(),
		Cause:   err,
	}
}
