package handler

import (
	"context"

	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// Handler is the capability contract a step is dispatched to. Handlers are
// external collaborators: the engine only knows that Execute resolves to a
// single payload or error. Handlers must be safe for concurrent use, since
// the scheduler may invoke the same handler from multiple worker slots.
type Handler interface {
	// Name returns the unique identifier for this handler
	Name() string

	// Description returns a human-readable description of what this handler does
	Description() string

	// Types returns the step types this handler serves
	Types() []plan.StepType

	// Execute runs the step's parameters through the capability and resolves
	// to a single payload or error. Context is used for cancellation,
	// per-step deadlines, and request-scoped values.
	Execute(ctx context.Context, params map[string]any) (*plan.Payload, error)

	// Health returns the current health status of this handler
	Health(ctx context.Context) types.HealthStatus
}

// Descriptor contains handler metadata for discovery and introspection.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Types       []string `json:"types"`
}

// NewDescriptor creates a Descriptor from a Handler.
func NewDescriptor(h Handler) Descriptor {
	stepTypes := make([]string, len(h.Types()))
	for i, t := range h.Types() {
		stepTypes[i] = string(t)
	}
	return Descriptor{
		Name:        h.Name(),
		Description: h.Description(),
		Types:       stepTypes,
	}
}
