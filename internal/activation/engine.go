// Package activation decides, per execution, which hooks of a frozen
// plan actually run, and records why. Predicates are CEL expressions
// compiled once when the engine is built; evaluation is a pure function
// of (plan, context), so the same plan and context always produce the
// same summary, byte for byte.
package activation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog/log"

	"github.com/watzon/conduit/internal/hook"
	"github.com/watzon/conduit/internal/registry"
)

var (
	ErrInvalidPredicate = errors.New("invalid activation predicate")
	ErrPredicateEval    = errors.New("predicate evaluation failed")
	ErrPredicateNotBool = errors.New("predicate did not return boolean")
)

// Context is the per-execution input to activation: the contract data and
// runtime configuration supplied by the caller, plus the input envelope
// payload.
type Context struct {
	Contract map[string]any
	Input    map[string]any
	Runtime  map[string]any
}

// Decision is one hook's activation outcome.
type Decision struct {
	Hook   string                `json:"hook"`
	Active bool                  `json:"active"`
	Reason hook.ActivationReason `json:"reason"`
}

// Summary holds every activation decision for one execution, in plan
// topological order.
type Summary struct {
	Decisions []Decision `json:"decisions"`
}

// Activated returns the names of activated hooks, in plan order.
func (s *Summary) Activated() []string {
	var names []string
	for _, d := range s.Decisions {
		if d.Active {
			names = append(names, d.Hook)
		}
	}
	return names
}

// Skipped returns the names of hooks that did not activate, in plan
// order.
func (s *Summary) Skipped() []string {
	var names []string
	for _, d := range s.Decisions {
		if !d.Active {
			names = append(names, d.Hook)
		}
	}
	return names
}

// IsActive reports one hook's decision.
func (s *Summary) IsActive(name string) bool {
	for _, d := range s.Decisions {
		if d.Hook == name {
			return d.Active
		}
	}
	return false
}

// Engine evaluates activation predicates against a frozen plan.
type Engine struct {
	plan     *registry.Plan
	programs map[string]cel.Program
}

// NewEngine compiles every predicate in the plan. Compilation errors are
// construction-time failures; an engine that builds cleanly cannot fail
// to parse at execution time.
func NewEngine(plan *registry.Plan) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("contract", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("runtime", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("activated", cel.MapType(cel.StringType, cel.BoolType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	e := &Engine{
		plan:     plan,
		programs: make(map[string]cel.Program),
	}

	for _, h := range plan.Hooks() {
		if h.Predicate == "" {
			continue
		}

		ast, issues := env.Compile(h.Predicate)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: hook %q: %w", ErrInvalidPredicate, h.Name, issues.Err())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%w: hook %q: %w", ErrInvalidPredicate, h.Name, err)
		}

		e.programs[h.Name] = program
	}

	return e, nil
}

// Evaluate walks the plan in topological order and decides the activated
// hook set. Later predicates may read earlier decisions through the
// `activated` variable; reading a hook ordered at or after the current
// one fails, which keeps chained conditions cycle-free.
func (e *Engine) Evaluate(ctx Context) (*Summary, error) {
	contract := orEmpty(ctx.Contract)
	input := orEmpty(ctx.Input)
	runtime := orEmpty(ctx.Runtime)

	activated := make(map[string]bool)
	summary := &Summary{}

	for _, h := range e.plan.Hooks() {
		decision, err := e.decide(h, contract, input, runtime, activated)
		if err != nil {
			return nil, err
		}

		activated[h.Name] = decision.Active
		summary.Decisions = append(summary.Decisions, decision)
	}

	log.Debug().
		Int("activated", len(summary.Activated())).
		Int("skipped", len(summary.Skipped())).
		Msg("Activation evaluated")

	return summary, nil
}

func (e *Engine) decide(h hook.Hook, contract, input, runtime map[string]any, activated map[string]bool) (Decision, error) {
	if program, ok := e.programs[h.Name]; ok {
		vars := map[string]any{
			"contract":  contract,
			"input":     input,
			"runtime":   runtime,
			"activated": copyBools(activated),
		}

		result, _, err := program.Eval(vars)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: hook %q: %w", ErrPredicateEval, h.Name, err)
		}

		active, ok := result.Value().(bool)
		if !ok {
			return Decision{}, fmt.Errorf("%w: hook %q", ErrPredicateNotBool, h.Name)
		}

		return Decision{
			Hook:   h.Name,
			Active: active,
			Reason: hook.ActivationReason{
				PredicateName: predicateName(h),
				Result:        active,
				InputsUsed:    snapshotInputs(h.Inputs, contract, input, runtime),
				Source:        hook.SourceContract,
			},
		}, nil
	}

	if h.Dynamic != nil {
		active := h.Dynamic(contract, input, runtime, copyBools(activated))
		return Decision{
			Hook:   h.Name,
			Active: active,
			Reason: hook.ActivationReason{
				PredicateName: predicateName(h),
				Result:        active,
				InputsUsed:    snapshotInputs(h.Inputs, contract, input, runtime),
				Source:        hook.SourceRuntime,
			},
		}, nil
	}

	return Decision{
		Hook:   h.Name,
		Active: true,
		Reason: hook.ActivationReason{
			PredicateName: "always",
			Result:        true,
			Source:        hook.SourceDefault,
		},
	}, nil
}

func predicateName(h hook.Hook) string {
	if h.PredicateName != "" {
		return h.PredicateName
	}
	if h.Predicate != "" {
		return h.Predicate
	}
	return "dynamic"
}

// snapshotInputs resolves dotted context paths ("contract.env",
// "input.kind") into the concrete values that drove the decision.
func snapshotInputs(paths []string, contract, input, runtime map[string]any) map[string]any {
	if len(paths) == 0 {
		return nil
	}

	roots := map[string]map[string]any{
		"contract": contract,
		"input":    input,
		"runtime":  runtime,
	}

	used := make(map[string]any, len(paths))
	for _, path := range paths {
		parts := strings.Split(path, ".")
		root, ok := roots[parts[0]]
		if !ok {
			used[path] = nil
			continue
		}
		used[path] = resolvePath(root, parts[1:])
	}
	return used
}

func resolvePath(m map[string]any, parts []string) any {
	var current any = m
	for _, part := range parts {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = asMap[part]
	}
	return current
}

func copyBools(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
