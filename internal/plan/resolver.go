package plan

import (
	"fmt"
	"sort"

	"github.com/planexec/planexec/internal/types"
)

// Layer is a set of steps whose dependencies are all satisfied by earlier
// layers. Steps within a layer have no ordering constraint among themselves
// and are candidates for parallel execution. The slice is sorted by
// ascending priority, then original plan order; this governs scheduling
// order when concurrency is bounded, not correctness.
type Layer []*Step

// Resolver computes a valid execution schedule for a plan. It is stateless:
// it validates dependency references, detects cycles, and partitions the
// steps into execution layers.
type Resolver struct{}

// NewResolver creates a new Resolver instance.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve validates the plan's dependency graph and returns the ordered
// execution layers. Layer 0 contains all steps with no dependencies; layer
// k contains steps whose dependencies are all satisfied by layers 0..k-1.
//
// Returns a PlanError with code DEPENDENCY_UNKNOWN if a depends_on entry
// references a step that does not exist, or DEPENDENCY_CYCLE (carrying the
// full cycle path) if the graph is cyclic.
func (r *Resolver) Resolve(p *Plan) ([]Layer, error) {
	if p == nil || len(p.Steps) == 0 {
		return nil, &PlanError{
			Code:    types.PLAN_VALIDATION_FAILED,
			Message: "plan must contain at least one step",
		}
	}

	if err := r.checkDependencyReferences(p); err != nil {
		return nil, err
	}

	if cycle := r.DetectCycle(p); len(cycle) > 0 {
		return nil, &PlanError{
			Code:    types.DEPENDENCY_CYCLE,
			Message: "cycle detected in plan dependency graph",
			Cycle:   cycle,
		}
	}

	return r.computeLayers(p), nil
}

// DetectCycle uses depth-first search with color marking to detect a cycle
// in the dependency graph. Colors: white (0) = unvisited, gray (1) =
// in-progress, black (2) = done. Returns the cycle path with the entry node
// repeated at both ends (e.g. [a, b, a]), or nil if the graph is acyclic.
//
// Traversal follows plan order so the reported cycle is deterministic.
func (r *Resolver) DetectCycle(p *Plan) []string {
	if p == nil || len(p.Steps) == 0 {
		return nil
	}

	color := make(map[string]int, len(p.Steps))
	parent := make(map[string]string, len(p.Steps))
	adj := r.adjacency(p)

	var dfs func(id string) []string
	dfs = func(id string) []string {
		color[id] = 1

		for _, neighbor := range adj[id] {
			switch color[neighbor] {
			case 0:
				parent[neighbor] = id
				if cycle := dfs(neighbor); cycle != nil {
					return cycle
				}
			case 1:
				// Back edge: reconstruct the cycle path.
				cycle := []string{neighbor}
				current := id
				for current != neighbor {
					cycle = append([]string{current}, cycle...)
					current = parent[current]
				}
				return append([]string{neighbor}, cycle...)
			}
		}

		color[id] = 2
		return nil
	}

	for i := range p.Steps {
		if color[p.Steps[i].ID] == 0 {
			if cycle := dfs(p.Steps[i].ID); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// TopologicalSort returns the step IDs in a valid execution order using
// Kahn's algorithm. Returns a DEPENDENCY_CYCLE error if the graph is cyclic.
func (r *Resolver) TopologicalSort(p *Plan) ([]string, error) {
	if p == nil || len(p.Steps) == 0 {
		return []string{}, nil
	}

	adj := r.adjacency(p)
	inDegree := make(map[string]int, len(p.Steps))
	for i := range p.Steps {
		inDegree[p.Steps[i].ID] = len(p.Steps[i].DependsOn)
	}

	// Seed the queue in plan order for deterministic output.
	queue := []string{}
	for i := range p.Steps {
		if inDegree[p.Steps[i].ID] == 0 {
			queue = append(queue, p.Steps[i].ID)
		}
	}

	result := []string{}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, neighbor := range adj[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(p.Steps) {
		return nil, &PlanError{
			Code:    types.DEPENDENCY_CYCLE,
			Message: "cannot perform topological sort: cycle detected in plan",
		}
	}

	return result, nil
}

// computeLayers partitions the steps into layers by repeatedly removing the
// zero in-degree frontier. Must be called on a plan already known to be
// acyclic with valid references.
func (r *Resolver) computeLayers(p *Plan) []Layer {
	adj := r.adjacency(p)
	inDegree := make(map[string]int, len(p.Steps))
	for i := range p.Steps {
		inDegree[p.Steps[i].ID] = len(p.Steps[i].DependsOn)
	}

	assigned := make(map[string]bool, len(p.Steps))
	var layers []Layer

	for len(assigned) < len(p.Steps) {
		var frontier Layer
		for i := range p.Steps {
			step := &p.Steps[i]
			if !assigned[step.ID] && inDegree[step.ID] == 0 {
				frontier = append(frontier, step)
			}
		}

		// An empty frontier with steps still unassigned means the plan was
		// not actually acyclic with unique IDs. Bail out rather than loop.
		if len(frontier) == 0 {
			break
		}

		r.sortLayer(p, frontier)

		for _, step := range frontier {
			assigned[step.ID] = true
		}
		for _, step := range frontier {
			for _, neighbor := range adj[step.ID] {
				inDegree[neighbor]--
			}
		}

		layers = append(layers, frontier)
	}

	return layers
}

// sortLayer orders a layer by ascending priority, then original plan order.
func (r *Resolver) sortLayer(p *Plan, layer Layer) {
	sort.SliceStable(layer, func(i, j int) bool {
		if layer[i].Priority != layer[j].Priority {
			return layer[i].Priority < layer[j].Priority
		}
		return p.StepIndex(layer[i].ID) < p.StepIndex(layer[j].ID)
	})
}

// checkDependencyReferences verifies that step IDs are unique, that every
// depends_on entry names an existing step, and that no step depends on
// itself. The uniqueness check matters here because the layer computation
// keys its bookkeeping by step ID.
func (r *Resolver) checkDependencyReferences(p *Plan) error {
	known := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		if known[p.Steps[i].ID] {
			return &PlanError{
				Code:    types.PLAN_DUPLICATE_STEP,
				Message: fmt.Sprintf("duplicate step id %q", p.Steps[i].ID),
				StepID:  p.Steps[i].ID,
			}
		}
		known[p.Steps[i].ID] = true
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		for _, depID := range step.DependsOn {
			if depID == step.ID {
				return &PlanError{
					Code:    types.DEPENDENCY_CYCLE,
					Message: fmt.Sprintf("step %q depends on itself", step.ID),
					StepID:  step.ID,
					Cycle:   []string{step.ID, step.ID},
				}
			}
			if !known[depID] {
				return &PlanError{
					Code:    types.DEPENDENCY_UNKNOWN,
					Message: fmt.Sprintf("step %q has dependency %q which does not exist in plan", step.ID, depID),
					StepID:  step.ID,
				}
			}
		}
	}

	return nil
}

// adjacency builds the forward adjacency list of the dependency graph: if
// step A depends on step B, there is an edge from B to A. Neighbor order
// follows plan order so traversals are deterministic.
func (r *Resolver) adjacency(p *Plan) map[string][]string {
	adj := make(map[string][]string, len(p.Steps))
	for i := range p.Steps {
		adj[p.Steps[i].ID] = []string{}
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		for _, depID := range step.DependsOn {
			adj[depID] = append(adj[depID], step.ID)
		}
	}

	return adj
}
