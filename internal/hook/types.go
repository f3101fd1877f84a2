// Package hook defines the value types shared by the registry, the
// activation engine, and the pipeline runner: hook declarations, the six
// canonical phases, activation reasons, and the continuation-passing
// handler contract.
package hook

import (
	"context"
	"fmt"
)

// Phase is one of the six canonical execution stages. Phase order is fixed
// and non-configurable.
type Phase string

const (
	PhasePreflight Phase = "preflight"
	PhaseBefore    Phase = "before"
	PhaseExecute   Phase = "execute"
	PhaseAfter     Phase = "after"
	PhaseEmit      Phase = "emit"
	PhaseFinalize  Phase = "finalize"
)

// Phases returns the canonical phases in execution order.
func Phases() []Phase {
	return []Phase{PhasePreflight, PhaseBefore, PhaseExecute, PhaseAfter, PhaseEmit, PhaseFinalize}
}

// ParsePhase converts a contract string into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhasePreflight, PhaseBefore, PhaseExecute, PhaseAfter, PhaseEmit, PhaseFinalize:
		return Phase(s), nil
	}
	return "", fmt.Errorf("unknown phase: %q", s)
}

// Index returns the position of the phase in canonical order, or -1.
func (p Phase) Index() int {
	for i, phase := range Phases() {
		if phase == p {
			return i
		}
	}
	return -1
}

// Category classifies a hook's handler for the determinism substrate.
// Compute hooks are pure functions of their inputs and are never stubbed
// during replay; effect and nondeterministic_compute hooks consult the
// stub table.
type Category string

const (
	CategoryCompute          Category = "compute"
	CategoryEffect           Category = "effect"
	CategoryNondeterministic Category = "nondeterministic_compute"
)

// ParseCategory converts a contract string into a Category. An empty
// string defaults to compute.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case "":
		return CategoryCompute, nil
	case CategoryCompute, CategoryEffect, CategoryNondeterministic:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown handler category: %q", s)
}

// Stubbed reports whether the category requires effect stubbing during
// replay.
func (c Category) Stubbed() bool {
	return c == CategoryEffect || c == CategoryNondeterministic
}

// Next is the continuation a hook invokes to pass control to the
// remainder of its phase (and, during EXECUTE, ultimately the business
// handler). A hook that returns without calling Next short-circuits the
// rest of its phase.
type Next func(ctx context.Context) error

// Func is the handler contract every hook implements.
type Func func(ctx context.Context, exec *Execution, next Next) error

// DynamicPredicate is a runtime activation condition. It must be a pure
// function of its arguments; activated holds the decisions already made
// for hooks ordered earlier in the plan.
type DynamicPredicate func(contract, input, runtime map[string]any, activated map[string]bool) bool

// Hook is a named unit of cross-cutting behavior.
type Hook struct {
	// Name is unique within a registry.
	Name string
	// Phase the hook executes in.
	Phase Phase
	// Priority orders hooks within a phase; lower runs earlier.
	Priority int
	// DependsOn lists hooks that must run earlier, regardless of priority.
	DependsOn []string
	// Capability optionally links the hook to a higher-level capability.
	Capability string
	// Category drives replay stubbing; defaults to compute.
	Category Category
	// Predicate is an optional CEL activation expression. Empty means
	// always active.
	Predicate string
	// PredicateName labels the predicate in activation reasons; defaults
	// to the expression itself.
	PredicateName string
	// Inputs lists dotted context paths (e.g. "contract.env") whose
	// values are snapshotted into the activation reason.
	Inputs []string
	// Dynamic is an optional runtime activation condition, evaluated when
	// no CEL predicate is set.
	Dynamic DynamicPredicate
	// Handler names the catalog entry the contract loader binds Func from.
	Handler string
	// Config is hook-specific configuration, passed through opaquely.
	Config map[string]any
	// Func is the bound implementation.
	Func Func
}

// ReasonSource identifies what drove an activation decision.
type ReasonSource string

const (
	// SourceContract marks a decision driven by a contract-declared
	// predicate.
	SourceContract ReasonSource = "contract"
	// SourceRuntime marks a decision driven by a dynamic runtime
	// condition.
	SourceRuntime ReasonSource = "runtime"
	// SourceDefault marks an always-active hook with no predicate.
	SourceDefault ReasonSource = "default"
)

// ActivationReason records why a hook did or did not run for one
// execution.
type ActivationReason struct {
	PredicateName string         `json:"predicate_name"`
	Result        bool           `json:"predicate_result"`
	InputsUsed    map[string]any `json:"inputs_used,omitempty"`
	Source        ReasonSource   `json:"source"`
}
