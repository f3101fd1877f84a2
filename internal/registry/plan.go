package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/watzon/conduit/internal/hook"
)

// Plan is the immutable output of resolving a frozen registry: the six
// canonical phases, the per-phase hook order, the dependency graph, and a
// stable global topological order. It is created once per freeze and
// never mutated; rebuilding a registry from scratch is the only way to
// get a different plan.
type Plan struct {
	// Phases lists the canonical phases in execution order.
	Phases []hook.Phase
	// PhaseOrder maps each phase to its resolved hook order.
	PhaseOrder map[hook.Phase][]string
	// DependencyGraph maps each hook to the hooks it depends on, sorted.
	DependencyGraph map[string][]string
	// TopologicalOrder concatenates the phases in canonical order, each
	// phase internally in resolved order.
	TopologicalOrder []string
	// Fingerprint digests the ordering inputs (names, phases, priorities,
	// dependencies, registration order) so manifests can prove which plan
	// produced them.
	Fingerprint string

	hooks map[string]hook.Hook
}

// Hook returns the declaration for a hook name.
func (p *Plan) Hook(name string) (hook.Hook, bool) {
	h, ok := p.hooks[name]
	return h, ok
}

// PhaseHooks returns the hooks of one phase in resolved order.
func (p *Plan) PhaseHooks(phase hook.Phase) []hook.Hook {
	names := p.PhaseOrder[phase]
	hooks := make([]hook.Hook, 0, len(names))
	for _, name := range names {
		hooks = append(hooks, p.hooks[name])
	}
	return hooks
}

// Hooks returns all hooks in global topological order.
func (p *Plan) Hooks() []hook.Hook {
	hooks := make([]hook.Hook, 0, len(p.TopologicalOrder))
	for _, name := range p.TopologicalOrder {
		hooks = append(hooks, p.hooks[name])
	}
	return hooks
}

// resolve builds the execution plan for a set of registered hooks. The
// per-phase order respects all depends_on edges, then ascending priority,
// then registration order for ties.
func resolve(hooks []hook.Hook) (*Plan, error) {
	regIndex := make(map[string]int, len(hooks))
	byName := make(map[string]hook.Hook, len(hooks))
	for i, h := range hooks {
		regIndex[h.Name] = i
		byName[h.Name] = h
	}

	// Registration accepts forward references, so unknown names surface
	// here, before the edges are interpreted.
	for _, h := range hooks {
		for _, dep := range h.DependsOn {
			if _, exists := byName[dep]; !exists {
				return nil, fmt.Errorf("%w: hook %q depends on %q", ErrUnknownDependency, h.Name, dep)
			}
		}
	}

	// A dependency on a later phase can never be satisfied; a dependency
	// on an earlier phase is satisfied by phase order alone. Only
	// same-phase edges constrain the per-phase sort.
	for _, h := range hooks {
		for _, dep := range h.DependsOn {
			if byName[dep].Phase.Index() > h.Phase.Index() {
				return nil, fmt.Errorf("%w: %q (phase %s) depends on %q (phase %s)",
					ErrUnsatisfiableDependency, h.Name, h.Phase, dep, byName[dep].Phase)
			}
		}
	}

	phaseOrder := make(map[hook.Phase][]string, len(hook.Phases()))
	var topo []string

	for _, phase := range hook.Phases() {
		var nodes []hook.Hook
		for _, h := range hooks {
			if h.Phase == phase {
				nodes = append(nodes, h)
			}
		}

		order, err := orderPhase(nodes, regIndex)
		if err != nil {
			return nil, err
		}

		phaseOrder[phase] = order
		topo = append(topo, order...)
	}

	graph := make(map[string][]string, len(hooks))
	for _, h := range hooks {
		deps := append([]string(nil), h.DependsOn...)
		sort.Strings(deps)
		graph[h.Name] = deps
	}

	return &Plan{
		Phases:           hook.Phases(),
		PhaseOrder:       phaseOrder,
		DependencyGraph:  graph,
		TopologicalOrder: topo,
		Fingerprint:      fingerprint(hooks),
		hooks:            byName,
	}, nil
}

// orderPhase runs Kahn's algorithm over the same-phase dependency edges,
// breaking ties among ready hooks by ascending priority then registration
// order. A stall means a cycle, which is extracted for diagnostics.
func orderPhase(nodes []hook.Hook, regIndex map[string]int) ([]string, error) {
	inPhase := make(map[string]hook.Hook, len(nodes))
	for _, h := range nodes {
		inPhase[h.Name] = h
	}

	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, h := range nodes {
		indegree[h.Name] += 0
		for _, dep := range h.DependsOn {
			if _, same := inPhase[dep]; same {
				indegree[h.Name]++
				dependents[dep] = append(dependents[dep], h.Name)
			}
		}
	}

	order := make([]string, 0, len(nodes))
	for len(order) < len(nodes) {
		next := ""
		for _, h := range nodes {
			if indegree[h.Name] != 0 {
				continue
			}
			if next == "" || readyBefore(inPhase[h.Name], inPhase[next], regIndex) {
				next = h.Name
			}
		}
		if next == "" {
			remaining := make(map[string]bool, len(nodes))
			for _, h := range nodes {
				remaining[h.Name] = true
			}
			for _, name := range order {
				delete(remaining, name)
			}
			return nil, &CircularDependencyError{Cycle: findCycle(remaining, inPhase)}
		}

		order = append(order, next)
		indegree[next] = -1 // consumed
		for _, dependent := range dependents[next] {
			indegree[dependent]--
		}
	}

	return order, nil
}

func readyBefore(a, b hook.Hook, regIndex map[string]int) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return regIndex[a.Name] < regIndex[b.Name]
}

// findCycle walks depends_on edges among the remaining hooks until a node
// repeats, returning the cycle members in dependency order.
func findCycle(remaining map[string]bool, inPhase map[string]hook.Hook) []string {
	var start string
	for name := range remaining {
		if start == "" || name < start {
			start = name
		}
	}

	seen := make(map[string]int)
	var path []string
	current := start
	for {
		if at, ok := seen[current]; ok {
			return path[at:]
		}
		seen[current] = len(path)
		path = append(path, current)

		h := inPhase[current]
		advanced := false
		for _, dep := range h.DependsOn {
			if remaining[dep] {
				current = dep
				advanced = true
				break
			}
		}
		if !advanced {
			// Every remaining hook sits on or leads into a cycle, so this
			// cannot happen; return what we have rather than loop.
			return path
		}
	}
}

// fingerprint digests the ordering-relevant fields in registration order.
func fingerprint(hooks []hook.Hook) string {
	type entry struct {
		Name      string   `json:"name"`
		Phase     string   `json:"phase"`
		Priority  int      `json:"priority"`
		DependsOn []string `json:"depends_on,omitempty"`
	}

	entries := make([]entry, 0, len(hooks))
	for _, h := range hooks {
		entries = append(entries, entry{
			Name:      h.Name,
			Phase:     string(h.Phase),
			Priority:  h.Priority,
			DependsOn: h.DependsOn,
		})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
