package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateHook indicates a hook name was registered twice.
	ErrDuplicateHook = errors.New("duplicate hook")
	// ErrRegistryFrozen indicates a mutation (or second freeze) after
	// Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")
	// ErrRegistryOpen indicates a read that requires a frozen registry.
	ErrRegistryOpen = errors.New("registry is not frozen")
	// ErrUnknownDependency indicates depends_on referenced a name absent
	// from the registry, detected when the plan is resolved.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrUnsatisfiableDependency indicates depends_on referenced a hook
	// in a later phase, which phase order can never satisfy.
	ErrUnsatisfiableDependency = errors.New("dependency in later phase")
	// ErrInvalidHook indicates a structurally invalid registration.
	ErrInvalidHook = errors.New("invalid hook")
)

// CircularDependencyError is returned by plan resolution when the
// dependency graph contains a cycle. Cycle holds the offending hook names
// in dependency order.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}
