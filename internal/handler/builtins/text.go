package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/planexec/planexec/internal/handler"
	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// verifyParams are the parameters accepted by the verify handler.
type verifyParams struct {
	Content string   `param:"content"`
	Require []string `param:"require"`
}

// VerifyHandler checks that content contains each required term. It is a
// deterministic stand-in for a claim-verification collaborator.
type VerifyHandler struct{}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler() *VerifyHandler {
	return &VerifyHandler{}
}

func (h *VerifyHandler) Name() string        { return "term_verifier" }
func (h *VerifyHandler) Description() string { return "Verifies that content contains required terms." }

func (h *VerifyHandler) Types() []plan.StepType {
	return []plan.StepType{plan.StepTypeVerify}
}

func (h *VerifyHandler) Execute(ctx context.Context, params map[string]any) (*plan.Payload, error) {
	var p verifyParams
	if err := handler.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Require) == 0 {
		return nil, fmt.Errorf("verify requires at least one term in require")
	}

	haystack := strings.ToLower(p.Content)
	var missing []string
	for _, term := range p.Require {
		if !strings.Contains(haystack, strings.ToLower(term)) {
			missing = append(missing, term)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("verification failed, missing terms: %s", strings.Join(missing, ", "))
	}

	return &plan.Payload{
		Content: fmt.Sprintf("verified: all %d required terms present", len(p.Require)),
		Data:    map[string]any{"terms_checked": len(p.Require)},
	}, nil
}

func (h *VerifyHandler) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("ready")
}

// synthesizeParams are the parameters accepted by the synthesize and
// follow_up handlers.
type synthesizeParams struct {
	Title    string   `param:"title"`
	Sections []string `param:"sections"`
}

// SynthesizeHandler joins provided sections under a title. Real
// deployments replace it with an LLM-backed summarizer; the engine only
// sees the payload either way.
type SynthesizeHandler struct{}

// NewSynthesizeHandler creates a SynthesizeHandler.
func NewSynthesizeHandler() *SynthesizeHandler {
	return &SynthesizeHandler{}
}

func (h *SynthesizeHandler) Name() string        { return "section_synthesizer" }
func (h *SynthesizeHandler) Description() string { return "Joins content sections into a single document." }

func (h *SynthesizeHandler) Types() []plan.StepType {
	return []plan.StepType{plan.StepTypeSynthesize, plan.StepTypeFollowUp}
}

func (h *SynthesizeHandler) Execute(ctx context.Context, params map[string]any) (*plan.Payload, error) {
	var p synthesizeParams
	if err := handler.DecodeParams(params, &p); err != nil {
		return nil, err
	}

	var sb strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&sb, "# %s\n\n", p.Title)
	}
	for _, section := range p.Sections {
		sb.WriteString(strings.TrimSpace(section))
		sb.WriteString("\n\n")
	}

	return &plan.Payload{
		Content: strings.TrimSpace(sb.String()),
		Data:    map[string]any{"sections": len(p.Sections)},
	}, nil
}

func (h *SynthesizeHandler) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("ready")
}
