package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// Registry maps step types to handler capabilities and routes dispatches to
// them. It is pure routing: no retries and no business logic live here. The
// registry also tracks per-handler execution metrics and health.
type Registry interface {
	// Register binds a handler to every step type it serves.
	// Returns HANDLER_ALREADY_EXISTS if one of those types is already bound.
	Register(h Handler) error

	// Unregister removes a handler and its type bindings by handler name.
	Unregister(name string) error

	// Get retrieves the handler bound to a step type.
	Get(stepType plan.StepType) (Handler, error)

	// Supports reports whether a step type has a registered handler.
	// This satisfies the plan validator's TypeChecker contract.
	Supports(stepType string) bool

	// List returns descriptors for all registered handlers, sorted by name.
	List() []Descriptor

	// Dispatch routes a step's parameters to the handler bound to the step
	// type, recording metrics.
	Dispatch(ctx context.Context, stepType plan.StepType, params map[string]any) (*plan.Payload, error)

	// Health returns the overall health status of the registry.
	Health(ctx context.Context) types.HealthStatus

	// Metrics returns execution metrics for a specific handler.
	Metrics(name string) (Metrics, error)
}

// DefaultRegistry implements Registry with thread-safe operations.
type DefaultRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler          // by handler name
	byType   map[plan.StepType]Handler   // by served step type
	metrics  map[string]*Metrics         // by handler name
}

// NewRegistry creates a new DefaultRegistry instance
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		handlers: make(map[string]Handler),
		byType:   make(map[plan.StepType]Handler),
		metrics:  make(map[string]*Metrics),
	}
}

// Register binds a handler to every step type it serves.
// Returns HANDLER_ALREADY_EXISTS if the name or one of the types is taken.
func (r *DefaultRegistry) Register(h Handler) error {
	if h == nil {
		return types.NewError(types.HANDLER_INVALID_INPUT, "handler cannot be nil")
	}

	name := h.Name()
	if name == "" {
		return types.NewError(types.HANDLER_INVALID_INPUT, "handler name cannot be empty")
	}
	if len(h.Types()) == 0 {
		return types.NewError(types.HANDLER_INVALID_INPUT, fmt.Sprintf("handler %q serves no step types", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return types.NewError(types.HANDLER_ALREADY_EXISTS, fmt.Sprintf("handler %q already registered", name))
	}
	for _, t := range h.Types() {
		if bound, exists := r.byType[t]; exists {
			return types.NewError(types.HANDLER_ALREADY_EXISTS,
				fmt.Sprintf("step type %q already served by handler %q", t, bound.Name()))
		}
	}

	r.handlers[name] = h
	for _, t := range h.Types() {
		r.byType[t] = h
	}
	r.metrics[name] = NewMetrics()

	return nil
}

// Unregister removes a handler and its type bindings by name.
// Returns HANDLER_NOT_FOUND if the handler doesn't exist.
func (r *DefaultRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, exists := r.handlers[name]
	if !exists {
		return types.NewError(types.HANDLER_NOT_FOUND, fmt.Sprintf("handler %q not found", name))
	}

	for _, t := range h.Types() {
		delete(r.byType, t)
	}
	delete(r.handlers, name)
	delete(r.metrics, name)

	return nil
}

// Get retrieves the handler bound to a step type.
// Returns HANDLER_NOT_FOUND if no handler serves the type.
func (r *DefaultRegistry) Get(stepType plan.StepType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, exists := r.byType[stepType]; exists {
		return h, nil
	}

	return nil, types.NewError(types.HANDLER_NOT_FOUND, fmt.Sprintf("no handler registered for step type %q", stepType))
}

// Supports reports whether a step type has a registered handler.
func (r *DefaultRegistry) Supports(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.byType[plan.StepType(stepType)]
	return exists
}

// List returns descriptors for all registered handlers, sorted by name.
func (r *DefaultRegistry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.handlers))
	for _, h := range r.handlers {
		descriptors = append(descriptors, NewDescriptor(h))
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	return descriptors
}

// Dispatch routes a step's parameters to the handler for the step type,
// recording metrics. Returns HANDLER_NOT_FOUND for unknown types; that case
// is normally caught earlier by the plan-linting pass.
func (r *DefaultRegistry) Dispatch(ctx context.Context, stepType plan.StepType, params map[string]any) (*plan.Payload, error) {
	h, err := r.Get(stepType)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	payload, execErr := h.Execute(ctx, params)
	duration := time.Since(start)

	r.mu.Lock()
	if metrics, exists := r.metrics[h.Name()]; exists {
		if execErr != nil {
			metrics.RecordFailure(duration)
		} else {
			metrics.RecordSuccess(duration)
		}
	}
	r.mu.Unlock()

	if execErr != nil {
		return nil, execErr
	}

	return payload, nil
}

// Health returns the overall health status of the registry. The registry is
// healthy if all handlers are healthy, degraded if some are unhealthy, and
// unhealthy if all are unhealthy or none are registered.
func (r *DefaultRegistry) Health(ctx context.Context) types.HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.handlers) == 0 {
		return types.Unhealthy("no handlers registered")
	}

	healthyCount := 0
	unhealthyCount := 0
	for _, h := range r.handlers {
		if h.Health(ctx).IsHealthy() {
			healthyCount++
		} else {
			unhealthyCount++
		}
	}

	total := len(r.handlers)
	switch {
	case unhealthyCount == 0:
		return types.Healthy(fmt.Sprintf("all %d handlers healthy", total))
	case healthyCount == 0:
		return types.Unhealthy(fmt.Sprintf("all %d handlers unhealthy", total))
	default:
		return types.Degraded(fmt.Sprintf("%d/%d handlers healthy", healthyCount, total))
	}
}

// Metrics returns execution metrics for a specific handler.
// Returns HANDLER_NOT_FOUND if the handler doesn't exist.
func (r *DefaultRegistry) Metrics(name string) (Metrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metrics, exists := r.metrics[name]
	if !exists {
		return Metrics{}, types.NewError(types.HANDLER_NOT_FOUND, fmt.Sprintf("handler %q not found", name))
	}

	// Return a copy to prevent external modification
	return *metrics, nil
}

// Ensure DefaultRegistry implements Registry at compile time.
var _ Registry = (*DefaultRegistry)(nil)
