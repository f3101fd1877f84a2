package registry

import (
	"errors"
	"reflect"
	"testing"

	"github.com/watzon/conduit/internal/hook"
)

func TestRegisterDuplicateName(t *testing.T) {
	r := New()

	if err := r.Register(hook.Hook{Name: "audit", Phase: hook.PhaseBefore}); err != nil {
		t.Fatalf("first Register() error: %v", err)
	}

	err := r.Register(hook.Hook{Name: "audit", Phase: hook.PhaseAfter})
	if !errors.Is(err, ErrDuplicateHook) {
		t.Fatalf("Register() error = %v, want ErrDuplicateHook", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		hook    hook.Hook
		wantErr error
	}{
		{"empty name", hook.Hook{Phase: hook.PhaseBefore}, ErrInvalidHook},
		{"unknown phase", hook.Hook{Name: "h", Phase: "setup"}, ErrInvalidHook},
		{"bad category", hook.Hook{Name: "h", Phase: hook.PhaseBefore, Category: "io"}, ErrInvalidHook},
		{"self dependency", hook.Hook{Name: "h", Phase: hook.PhaseBefore, DependsOn: []string{"h"}}, ErrInvalidHook},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Register(tt.hook)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterAcceptsForwardReference(t *testing.T) {
	// Dependencies may name hooks declared later; contracts register in
	// declaration order and the edge is validated at freeze time.
	r := New()
	mustRegister(t, r, hook.Hook{Name: "B", Phase: hook.PhaseBefore, DependsOn: []string{"A"}})
	mustRegister(t, r, hook.Hook{Name: "A", Phase: hook.PhaseBefore})

	plan := mustFreeze(t, r)

	want := []string{"A", "B"}
	if got := plan.PhaseOrder[hook.PhaseBefore]; !reflect.DeepEqual(got, want) {
		t.Fatalf("PhaseOrder = %v, want %v", got, want)
	}
}

func TestFreezeRejectsUnknownDependency(t *testing.T) {
	r := New()
	mustRegister(t, r, hook.Hook{Name: "h", Phase: hook.PhaseBefore, DependsOn: []string{"ghost"}})

	err := r.Freeze()
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("Freeze() error = %v, want ErrUnknownDependency", err)
	}
	if r.Frozen() {
		t.Fatal("registry froze despite an unknown dependency")
	}
}

func TestRegisterAfterFreeze(t *testing.T) {
	r := New()
	if err := r.Freeze(); err != nil {
		t.Fatalf("Freeze() error: %v", err)
	}

	err := r.Register(hook.Hook{Name: "late", Phase: hook.PhaseBefore})
	if !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("Register() error = %v, want ErrRegistryFrozen", err)
	}
}

func TestDoubleFreeze(t *testing.T) {
	r := New()
	if err := r.Freeze(); err != nil {
		t.Fatalf("Freeze() error: %v", err)
	}

	err := r.Freeze()
	if !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("second Freeze() error = %v, want ErrRegistryFrozen", err)
	}
}

func TestPlanRequiresFreeze(t *testing.T) {
	r := New()
	if _, err := r.Plan(); !errors.Is(err, ErrRegistryOpen) {
		t.Fatalf("Plan() error = %v, want ErrRegistryOpen", err)
	}
}

func TestPhaseOrderByPriority(t *testing.T) {
	r := New()
	mustRegister(t, r, hook.Hook{Name: "metrics", Phase: hook.PhaseBefore, Priority: 20})
	mustRegister(t, r, hook.Hook{Name: "auth", Phase: hook.PhaseBefore, Priority: 5})
	mustRegister(t, r, hook.Hook{Name: "trace", Phase: hook.PhaseBefore, Priority: 10})

	plan := mustFreeze(t, r)

	want := []string{"auth", "trace", "metrics"}
	if got := plan.PhaseOrder[hook.PhaseBefore]; !reflect.DeepEqual(got, want) {
		t.Fatalf("PhaseOrder = %v, want %v", got, want)
	}
}

func TestDependencyOverridesPriority(t *testing.T) {
	// A has the better priority but depends on B, so B must run first.
	r := New()
	mustRegister(t, r, hook.Hook{Name: "B", Phase: hook.PhaseBefore, Priority: 50})
	mustRegister(t, r, hook.Hook{Name: "A", Phase: hook.PhaseBefore, Priority: 1, DependsOn: []string{"B"}})

	plan := mustFreeze(t, r)

	want := []string{"B", "A"}
	if got := plan.PhaseOrder[hook.PhaseBefore]; !reflect.DeepEqual(got, want) {
		t.Fatalf("PhaseOrder = %v, want %v", got, want)
	}
}

func TestRegistrationOrderBreaksTies(t *testing.T) {
	r := New()
	mustRegister(t, r, hook.Hook{Name: "first", Phase: hook.PhaseEmit, Priority: 10})
	mustRegister(t, r, hook.Hook{Name: "second", Phase: hook.PhaseEmit, Priority: 10})

	plan := mustFreeze(t, r)

	want := []string{"first", "second"}
	if got := plan.PhaseOrder[hook.PhaseEmit]; !reflect.DeepEqual(got, want) {
		t.Fatalf("PhaseOrder = %v, want %v", got, want)
	}
}

func TestEarlierPhaseDependencySatisfiedByPhaseOrder(t *testing.T) {
	r := New()
	mustRegister(t, r, hook.Hook{Name: "validate", Phase: hook.PhasePreflight})
	mustRegister(t, r, hook.Hook{Name: "persist", Phase: hook.PhaseExecute, DependsOn: []string{"validate"}})

	plan := mustFreeze(t, r)

	want := []string{"validate", "persist"}
	if !reflect.DeepEqual(plan.TopologicalOrder, want) {
		t.Fatalf("TopologicalOrder = %v, want %v", plan.TopologicalOrder, want)
	}
}

func TestLaterPhaseDependencyRejected(t *testing.T) {
	r := New()
	mustRegister(t, r, hook.Hook{Name: "notify", Phase: hook.PhaseEmit})
	mustRegister(t, r, hook.Hook{Name: "check", Phase: hook.PhaseBefore, DependsOn: []string{"notify"}})

	err := r.Freeze()
	if !errors.Is(err, ErrUnsatisfiableDependency) {
		t.Fatalf("Freeze() error = %v, want ErrUnsatisfiableDependency", err)
	}
	if r.Frozen() {
		t.Fatal("registry froze despite resolution failure")
	}
}

func TestCircularDependencyNamesCycle(t *testing.T) {
	r := New()
	mustRegister(t, r, hook.Hook{Name: "X", Phase: hook.PhaseAfter, DependsOn: []string{"Y"}})
	mustRegister(t, r, hook.Hook{Name: "Y", Phase: hook.PhaseAfter, DependsOn: []string{"X"}})

	err := r.Freeze()

	var cycleErr *CircularDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Freeze() error = %v, want CircularDependencyError", err)
	}
	if r.Frozen() {
		t.Fatal("registry froze despite a dependency cycle")
	}
	if len(cycleErr.Cycle) != 2 {
		t.Fatalf("Cycle = %v, want both members", cycleErr.Cycle)
	}
	members := map[string]bool{}
	for _, name := range cycleErr.Cycle {
		members[name] = true
	}
	if !members["X"] || !members["Y"] {
		t.Fatalf("Cycle = %v, want X and Y", cycleErr.Cycle)
	}
}

func TestPlanFingerprintStable(t *testing.T) {
	build := func() *Plan {
		r := New()
		mustRegister(t, r, hook.Hook{Name: "a", Phase: hook.PhaseBefore, Priority: 1})
		mustRegister(t, r, hook.Hook{Name: "b", Phase: hook.PhaseBefore, Priority: 2, DependsOn: []string{"a"}})
		return mustFreeze(t, r)
	}

	if build().Fingerprint != build().Fingerprint {
		t.Fatal("identical registrations produced different fingerprints")
	}
}

func TestPlanFingerprintChangesWithOrderingInputs(t *testing.T) {
	base := New()
	mustRegister(t, base, hook.Hook{Name: "a", Phase: hook.PhaseBefore, Priority: 1})
	basePlan := mustFreeze(t, base)

	changed := New()
	mustRegister(t, changed, hook.Hook{Name: "a", Phase: hook.PhaseBefore, Priority: 2})
	changedPlan := mustFreeze(t, changed)

	if basePlan.Fingerprint == changedPlan.Fingerprint {
		t.Fatal("priority change did not change the plan fingerprint")
	}
}

func TestCategoryDefaultsToCompute(t *testing.T) {
	r := New()
	mustRegister(t, r, hook.Hook{Name: "plain", Phase: hook.PhaseBefore})
	plan := mustFreeze(t, r)

	h, ok := plan.Hook("plain")
	if !ok {
		t.Fatal("Hook() did not find registered hook")
	}
	if h.Category != hook.CategoryCompute {
		t.Fatalf("Category = %q, want compute", h.Category)
	}
}

func mustRegister(t *testing.T, r *Registry, h hook.Hook) {
	t.Helper()
	if err := r.Register(h); err != nil {
		t.Fatalf("Register(%s) error: %v", h.Name, err)
	}
}

func mustFreeze(t *testing.T, r *Registry) *Plan {
	t.Helper()
	if err := r.Freeze(); err != nil {
		t.Fatalf("Freeze() error: %v", err)
	}
	plan, err := r.Plan()
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	return plan
}
