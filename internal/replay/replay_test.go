package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/watzon/conduit/internal/activation"
	"github.com/watzon/conduit/internal/determinism"
	"github.com/watzon/conduit/internal/hook"
	"github.com/watzon/conduit/internal/manifest"
	"github.com/watzon/conduit/internal/pipeline"
	"github.com/watzon/conduit/internal/registry"
)

func buildPlan(t *testing.T, hooks ...hook.Hook) *registry.Plan {
	t.Helper()

	r := registry.New()
	for _, h := range hooks {
		if err := r.Register(h); err != nil {
			t.Fatalf("Register(%s) error: %v", h.Name, err)
		}
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("Freeze() error: %v", err)
	}
	plan, err := r.Plan()
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	return plan
}

func TestReplayReproducesRunWithoutReinvokingEffects(t *testing.T) {
	effectCalls := 0

	newHooks := func() []hook.Hook {
		return []hook.Hook{
			{Name: "validate", Phase: hook.PhasePreflight, Func: func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
				return next(ctx)
			}},
			{Name: "fetch-rate", Phase: hook.PhaseBefore, Category: hook.CategoryEffect, Func: func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
				effectCalls++
				exec.RecordOutcome(map[string]any{"rate": 1.5})
				return next(ctx)
			}},
			{Name: "derive", Phase: hook.PhaseExecute, Func: func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
				// Pure computation over the effect's published outcome.
				if out, ok := exec.Values["fetch-rate"].(map[string]any); ok {
					exec.Values["derived"] = out["rate"]
				}
				return next(ctx)
			}},
			{Name: "notify", Phase: hook.PhaseEmit, Func: func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
				exec.Emit("rate.applied", map[string]any{"rate": exec.Values["derived"]})
				return next(ctx)
			}},
		}
	}

	plan := buildPlan(t, newHooks()...)

	runner, err := pipeline.New(plan, pipeline.Options{
		PipelineID: "billing",
		Node:       "node-a",
		RNG:        determinism.NewRNG(1234),
	})
	if err != nil {
		t.Fatalf("pipeline.New() error: %v", err)
	}

	input := hook.Envelope{ID: "env-1", Kind: "invoice", Payload: map[string]any{"amount": 100}}
	actx := activation.Context{Input: input.Payload, Runtime: map[string]any{"region": "eu"}}

	original := runner.Execute(context.Background(), actx, input)
	if original.Status != manifest.StatusSuccess {
		t.Fatalf("original Status = %s, failures = %+v", original.Status, original.Failures)
	}
	if effectCalls != 1 {
		t.Fatalf("effectCalls = %d after live run, want 1", effectCalls)
	}

	// Replay against a freshly built, identical plan.
	replayPlan := buildPlan(t, newHooks()...)

	replayed, err := Replay(context.Background(), original, replayPlan, Options{Node: "node-b"})
	if err != nil {
		t.Fatalf("Replay() error: %v", err)
	}

	if effectCalls != 1 {
		t.Fatalf("effectCalls = %d after replay, want effect hook stubbed", effectCalls)
	}

	if divs := Verify(original, replayed); len(divs) != 0 {
		for _, d := range divs {
			t.Logf("divergence: %s", d)
		}
		t.Fatalf("Verify() reported %d divergences", len(divs))
	}

	// The stubbed effect outcome flowed to downstream hooks identically.
	if len(replayed.Emissions) != 1 || replayed.Emissions[0].Payload["rate"] != 1.5 {
		t.Fatalf("replayed Emissions = %+v", replayed.Emissions)
	}

	// Replay scripted the original's clock readings, so trace timestamps
	// match exactly.
	origEntry, _ := original.Entry("fetch-rate")
	replEntry, _ := replayed.Entry("fetch-rate")
	if !origEntry.StartedAt.Equal(replEntry.StartedAt) {
		t.Fatalf("fetch-rate StartedAt: original %v, replayed %v", origEntry.StartedAt, replEntry.StartedAt)
	}
}

func TestReplayReproducesFailure(t *testing.T) {
	newHooks := func() []hook.Hook {
		return []hook.Hook{
			{Name: "charge", Phase: hook.PhaseExecute, Category: hook.CategoryEffect, Func: func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
				return errors.New("card declined")
			}},
			{Name: "cleanup", Phase: hook.PhaseFinalize, Func: func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
				return next(ctx)
			}},
		}
	}

	plan := buildPlan(t, newHooks()...)
	runner, err := pipeline.New(plan, pipeline.Options{PipelineID: "billing", RNG: determinism.NewRNG(5)})
	if err != nil {
		t.Fatalf("pipeline.New() error: %v", err)
	}

	original := runner.Execute(context.Background(), activation.Context{}, hook.Envelope{ID: "env-1"})
	if original.Status != manifest.StatusFailed {
		t.Fatalf("original Status = %s", original.Status)
	}

	replayed, err := Replay(context.Background(), original, buildPlan(t, newHooks()...), Options{})
	if err != nil {
		t.Fatalf("Replay() error: %v", err)
	}

	if replayed.Status != manifest.StatusFailed {
		t.Fatalf("replayed Status = %s, want failed", replayed.Status)
	}
	if divs := Verify(original, replayed); len(divs) != 0 {
		t.Fatalf("Verify() = %v", divs)
	}
}

func TestReplayRejectsMismatchedPlan(t *testing.T) {
	plan := buildPlan(t, hook.Hook{Name: "a", Phase: hook.PhaseBefore, Func: func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
		return next(ctx)
	}})

	runner, err := pipeline.New(plan, pipeline.Options{PipelineID: "p", RNG: determinism.NewRNG(1)})
	if err != nil {
		t.Fatalf("pipeline.New() error: %v", err)
	}
	original := runner.Execute(context.Background(), activation.Context{}, hook.Envelope{ID: "env-1"})

	otherPlan := buildPlan(t, hook.Hook{Name: "b", Phase: hook.PhaseBefore, Func: func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
		return next(ctx)
	}})

	if _, err := Replay(context.Background(), original, otherPlan, Options{}); err == nil {
		t.Fatal("Replay() accepted a plan with a different fingerprint")
	}
}

func TestVerifyReportsDivergence(t *testing.T) {
	a := &manifest.Manifest{
		Status: manifest.StatusSuccess,
		Trace: []manifest.TraceEntry{
			{Hook: "auth", Phase: hook.PhaseBefore, Status: manifest.EntrySuccess},
		},
	}
	b := &manifest.Manifest{
		Status: manifest.StatusFailed,
		Trace: []manifest.TraceEntry{
			{Hook: "auth", Phase: hook.PhaseBefore, Status: manifest.EntryFailed},
		},
	}

	divs := Verify(a, b)
	if len(divs) == 0 {
		t.Fatal("Verify() found no divergence between differing manifests")
	}
}
