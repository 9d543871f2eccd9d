package builtins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/planexec/planexec/internal/handler"
	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

// Document is a single searchable entry in a local corpus.
type Document struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Body  string `json:"body"`
}

// searchParams are the parameters accepted by the search handler.
type searchParams struct {
	Query string `param:"query"`
	Limit int    `param:"limit"`
}

// SearchHandler serves search steps against an in-memory corpus. It stands
// in for an external search provider: callers that have a real provider
// register their own handler for the search type instead.
type SearchHandler struct {
	corpus []Document
}

// NewSearchHandler creates a SearchHandler over the given corpus.
func NewSearchHandler(corpus []Document) *SearchHandler {
	return &SearchHandler{corpus: corpus}
}

func (h *SearchHandler) Name() string {
	return "corpus_search"
}

func (h *SearchHandler) Description() string {
	return "Ranks documents from a local corpus by query term overlap."
}

func (h *SearchHandler) Types() []plan.StepType {
	return []plan.StepType{plan.StepTypeSearch}
}

// Execute ranks corpus documents by the number of query terms they contain
// and returns the top matches.
func (h *SearchHandler) Execute(ctx context.Context, params map[string]any) (*plan.Payload, error) {
	var p searchParams
	if err := handler.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		return nil, fmt.Errorf("search requires a non-empty query")
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}

	terms := strings.Fields(strings.ToLower(p.Query))

	type scored struct {
		doc   Document
		score int
	}
	var matches []scored
	for _, doc := range h.corpus {
		haystack := strings.ToLower(doc.Title + " " + doc.Body)
		score := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{doc: doc, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > p.Limit {
		matches = matches[:p.Limit]
	}

	var sb strings.Builder
	urls := make([]string, 0, len(matches))
	for i, m := range matches {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, m.doc.Title, m.doc.URL)
		urls = append(urls, m.doc.URL)
	}

	return &plan.Payload{
		Content: sb.String(),
		Data: map[string]any{
			"query": p.Query,
			"urls":  urls,
			"hits":  len(matches),
		},
	}, nil
}

func (h *SearchHandler) Health(ctx context.Context) types.HealthStatus {
	if len(h.corpus) == 0 {
		return types.Degraded("search corpus is empty")
	}
	return types.Healthy(fmt.Sprintf("corpus of %d documents", len(h.corpus)))
}
