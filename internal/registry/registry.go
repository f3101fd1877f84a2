// Package registry holds hook registrations and resolves them into an
// immutable execution plan. A registry is mutable until Freeze, after
// which it only serves reads; the derived Plan is safe to share across
// unlimited concurrent executions without locking.
package registry

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/conduit/internal/hook"
)

// Registry is a mutable-then-frozen collection of hooks. It owns no
// business state; it is pure configuration plus a dependency graph.
type Registry struct {
	mu     sync.Mutex
	hooks  []hook.Hook
	byName map[string]int
	frozen bool
	plan   *Plan
}

// New creates an open registry.
func New() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a hook. It fails if the registry is frozen, the name is
// already present, or the phase or category is invalid. Dependencies may
// reference hooks registered later; depends_on edges are validated as a
// whole when Freeze resolves the plan.
func (r *Registry) Register(h hook.Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, h.Name)
	}
	if h.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidHook)
	}
	if h.Phase.Index() < 0 {
		return fmt.Errorf("%w: hook %q has unknown phase %q", ErrInvalidHook, h.Name, h.Phase)
	}
	if h.Category == "" {
		h.Category = hook.CategoryCompute
	}
	if _, err := hook.ParseCategory(string(h.Category)); err != nil {
		return fmt.Errorf("%w: hook %q: %v", ErrInvalidHook, h.Name, err)
	}
	if _, exists := r.byName[h.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHook, h.Name)
	}
	for _, dep := range h.DependsOn {
		if dep == h.Name {
			return fmt.Errorf("%w: hook %q depends on itself", ErrInvalidHook, h.Name)
		}
	}

	r.byName[h.Name] = len(r.hooks)
	r.hooks = append(r.hooks, h)

	log.Debug().
		Str("hook", h.Name).
		Str("phase", string(h.Phase)).
		Int("priority", h.Priority).
		Strs("depends_on", h.DependsOn).
		Msg("Hook registered")

	return nil
}

// Freeze seals the registry and resolves its execution plan. A second
// Freeze fails with ErrRegistryFrozen; freezing twice indicates an
// assembly bug and is reported loudly rather than ignored. If resolution
// fails the registry stays open and the error propagates.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: already frozen", ErrRegistryFrozen)
	}

	plan, err := resolve(r.hooks)
	if err != nil {
		return fmt.Errorf("resolving plan: %w", err)
	}

	r.frozen = true
	r.plan = plan

	log.Debug().
		Int("hooks", len(r.hooks)).
		Str("fingerprint", plan.Fingerprint).
		Msg("Registry frozen")

	return nil
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Plan returns the resolved execution plan. It fails if the registry has
// not been frozen.
func (r *Registry) Plan() (*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.frozen {
		return nil, ErrRegistryOpen
	}
	return r.plan, nil
}

// Len reports the number of registered hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}
