package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlanYAML = `
objective: "Research recent developments in battery chemistry"
expected_outcome: "A sourced summary of solid-state battery progress"
steps:
  - id: search_papers
    type: search
    objective: "Find recent papers"
    priority: 1
    parameters:
      query: "solid-state battery 2026"
  - id: read_top
    type: read_url
    objective: "Read the top results"
    depends_on: [search_papers]
    parameters:
      urls: ["https://example.org/a", "https://example.org/b"]
  - id: summarize
    type: synthesize
    objective: "Summarize findings"
    priority: 2
    depends_on: [read_top]
    timeout: 30s
`

func TestParseYAML(t *testing.T) {
	p, err := ParseYAML([]byte(samplePlanYAML))
	require.NoError(t, err)

	assert.False(t, p.ID.IsZero())
	assert.Equal(t, PlanStatusDraft, p.Status)
	require.Len(t, p.Steps, 3)

	assert.Equal(t, "search_papers", p.Steps[0].ID)
	assert.Equal(t, StepTypeSearch, p.Steps[0].Type)
	assert.Equal(t, 1, p.Steps[0].Priority)
	assert.Equal(t, "solid-state battery 2026", p.Steps[0].Parameters["query"])

	// Omitted priority gets the default.
	assert.Equal(t, PriorityDefault, p.Steps[1].Priority)
	assert.Equal(t, []string{"search_papers"}, p.Steps[1].DependsOn)

	assert.Equal(t, "30s", p.Steps[2].Timeout.String())
}

func TestParseYAML_Invalid(t *testing.T) {
	_, err := ParseYAML([]byte("steps: {not: [valid"))
	require.Error(t, err)
}

func TestPlan_YAMLRoundTrip(t *testing.T) {
	p, err := ParseYAML([]byte(samplePlanYAML))
	require.NoError(t, err)

	data, err := p.ToYAML()
	require.NoError(t, err)

	p2, err := ParseYAML(data)
	require.NoError(t, err)

	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, p.Objective, p2.Objective)
	require.Len(t, p2.Steps, len(p.Steps))
	for i := range p.Steps {
		assert.Equal(t, p.Steps[i].ID, p2.Steps[i].ID)
		assert.Equal(t, p.Steps[i].DependsOn, p2.Steps[i].DependsOn)
	}
}
