package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// Aggregator combines settled step results into a budget-constrained
// synthesis. It walks results in plan order so the output is deterministic
// regardless of how execution interleaved, and sheds or truncates content to
// honor the token budget: follow-up and lowest-priority content goes first,
// then the walk truncates at the budget boundary.
//
// Aggregation is pure: the same settled result set always yields the same
// synthesis, so re-aggregation is idempotent.
type Aggregator struct {
	budget    int
	estimator Estimator
	logger    *slog.Logger
}

// AggregatorOption is a functional option for configuring an Aggregator.
type AggregatorOption func(*Aggregator)

// WithEstimator replaces the default character-ratio token estimator.
func WithEstimator(e Estimator) AggregatorOption {
	return func(a *Aggregator) {
		if e != nil {
			a.estimator = e
		}
	}
}

// WithLogger configures the aggregator's structured logger.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator creates an Aggregator with the given token budget.
func NewAggregator(tokenBudget int, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		budget:    tokenBudget,
		estimator: DefaultEstimator(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// chunk is one completed step's contribution to the synthesis.
type chunk struct {
	stepID   string
	content  string
	tokens   int
	priority int
	followUp bool
	index    int
}

// Synthesize produces the final synthesis from settled step results.
// Best-effort: it never returns an error for a degraded outcome. If
// budget-aware trimming cannot run, it falls back to raw concatenation and
// marks the synthesis degraded; if zero steps completed, it returns an
// explanatory synthesis.
func (a *Aggregator) Synthesize(ctx context.Context, p *plan.Plan, results []plan.StepResult) (*plan.Synthesis, error) {
	completed, failed, skipped := countStatuses(results)
	summary := fmt.Sprintf("%d of %d steps completed, %d failed, %d skipped",
		completed, len(results), failed, skipped)

	if completed == 0 {
		return &plan.Synthesis{
			Summary: summary,
			Content: fmt.Sprintf("no content available: %s", summary),
		}, nil
	}

	chunks := a.collectChunks(p, results)

	synthesis, err := a.aggregate(chunks)
	if err != nil {
		// Budget-aware trimming failed; degrade to raw concatenation
		// rather than failing the run.
		a.logger.WarnContext(ctx, "budget-aware aggregation failed, degrading to raw synthesis",
			"plan_id", p.ID, "error", err)
		synthesis = a.rawConcat(chunks)
	}

	synthesis.Summary = summary
	if len(synthesis.TruncatedSteps) > 0 || len(synthesis.DroppedSteps) > 0 {
		synthesis.Summary += "; content trimmed to fit token budget"
	}

	return synthesis, nil
}

// collectChunks extracts non-empty content from completed results, in plan
// order. The plan provides priority and type for the shedding policy; steps
// missing from the plan get default priority.
func (a *Aggregator) collectChunks(p *plan.Plan, results []plan.StepResult) []chunk {
	chunks := make([]chunk, 0, len(results))
	for i := range results {
		r := &results[i]
		if r.Status != plan.StepStatusCompleted || r.Payload == nil || r.Payload.Content == "" {
			continue
		}

		priority := plan.PriorityDefault
		followUp := false
		if step := p.GetStep(r.StepID); step != nil {
			priority = step.Priority
			followUp = step.Type == plan.StepTypeFollowUp
		}

		chunks = append(chunks, chunk{
			stepID:   r.StepID,
			content:  r.Payload.Content,
			tokens:   a.estimator.Estimate(r.Payload.Content),
			priority: priority,
			followUp: followUp,
			index:    len(chunks),
		})
	}
	return chunks
}

// aggregate runs the budget-aware inclusion walk: shed expendable chunks
// while over budget, then include the rest in plan order, truncating the
// chunk that straddles the budget boundary and dropping everything after it.
// Separators between chunks are not charged against the budget.
func (a *Aggregator) aggregate(chunks []chunk) (*plan.Synthesis, error) {
	if a.budget <= 0 {
		return nil, types.NewError(types.AGGREGATION_FAILED,
			fmt.Sprintf("invalid token budget %d", a.budget))
	}

	kept, shedDropped := a.shed(chunks)

	budget := NewTokenBudget(a.budget)
	var parts []string
	var truncated, dropped []string
	dropped = append(dropped, shedDropped...)

	exhausted := false
	for _, c := range kept {
		if exhausted {
			dropped = append(dropped, c.stepID)
			continue
		}

		if budget.CanAfford(c.tokens) {
			if err := budget.Consume(c.tokens); err != nil {
				return nil, types.WrapError(types.AGGREGATION_FAILED, "budget accounting failed", err)
			}
			parts = append(parts, c.content)
			continue
		}

		// This chunk straddles the boundary: cut it down to the remaining
		// allowance and drop everything after it.
		remaining := budget.Remaining()
		exhausted = true

		cut := a.estimator.Truncate(c.content, remaining)
		if cut == "" {
			dropped = append(dropped, c.stepID)
			continue
		}

		if err := budget.Consume(a.estimator.Estimate(cut)); err != nil {
			return nil, types.WrapError(types.AGGREGATION_FAILED, "budget accounting failed", err)
		}
		parts = append(parts, cut)
		truncated = append(truncated, c.stepID)
	}

	return &plan.Synthesis{
		Content:        strings.Join(parts, "\n\n"),
		TokensUsed:     budget.Used(),
		TruncatedSteps: truncated,
		DroppedSteps:   dropped,
	}, nil
}

// shed drops expendable chunks while the total estimate exceeds the budget.
// Expendable means follow-up content or lowest-priority content; within
// those, later plan positions go first. Chunks the policy does not consider
// expendable are never shed here; the boundary walk handles them.
func (a *Aggregator) shed(chunks []chunk) (kept []chunk, droppedIDs []string) {
	total := 0
	for _, c := range chunks {
		total += c.tokens
	}

	candidates := make([]chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.followUp || c.priority == plan.PriorityLowest {
			candidates = append(candidates, c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].followUp != candidates[j].followUp {
			return candidates[i].followUp
		}
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].index > candidates[j].index
	})

	shedSet := make(map[string]bool)
	for _, c := range candidates {
		if total <= a.budget {
			break
		}
		shedSet[c.stepID] = true
		total -= c.tokens
	}

	for _, c := range chunks {
		if shedSet[c.stepID] {
			droppedIDs = append(droppedIDs, c.stepID)
			continue
		}
		kept = append(kept, c)
	}
	return kept, droppedIDs
}

// rawConcat is the degraded fallback: every chunk in full, no trimming.
func (a *Aggregator) rawConcat(chunks []chunk) *plan.Synthesis {
	parts := make([]string, 0, len(chunks))
	total := 0
	for _, c := range chunks {
		parts = append(parts, c.content)
		total += c.tokens
	}

	return &plan.Synthesis{
		Content:    strings.Join(parts, "\n\n"),
		TokensUsed: total,
		Degraded:   true,
	}
}

func countStatuses(results []plan.StepResult) (completed, failed, skipped int) {
	for i := range results {
		switch results[i].Status {
		case plan.StepStatusCompleted:
			completed++
		case plan.StepStatusFailed:
			failed++
		case plan.StepStatusSkipped:
			skipped++
		}
	}
	return
}
