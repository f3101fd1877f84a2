package cli

import (
	"context"
	"testing"

	"github.com/watzon/conduit/internal/determinism"
	"github.com/watzon/conduit/internal/hook"
)

func newExec(t *testing.T) *hook.Execution {
	t.Helper()
	return hook.NewExecution("e-1", "orders",
		hook.Envelope{ID: "env-1", Payload: map[string]any{"id": "42"}},
		nil, nil, determinism.SystemClock(), determinism.NewRNG(1))
}

func bind(t *testing.T, h hook.Hook) hook.Func {
	t.Helper()
	fn, err := Builtins().Bind(h)
	if err != nil {
		t.Fatalf("Bind(%s) error: %v", h.Handler, err)
	}
	return fn
}

func TestBuiltinNames(t *testing.T) {
	names := Builtins().Names()
	want := map[string]bool{"noop": true, "echo": true, "log": true, "fail": true, "emit": true, "cache": true, "stamp": true}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for _, name := range names {
		if !want[name] {
			t.Fatalf("unexpected builtin %q", name)
		}
	}
}

func TestEchoRecordsInputPayload(t *testing.T) {
	exec := newExec(t)
	exec.EnterHook("echo-hook")

	fn := bind(t, hook.Hook{Name: "echo-hook", Handler: "echo"})
	called := false
	if err := fn(context.Background(), exec, func(context.Context) error { called = true; return nil }); err != nil {
		t.Fatalf("echo error: %v", err)
	}

	if !called {
		t.Fatal("echo did not continue the chain")
	}
	out, ok := exec.Outcome("echo-hook")
	if !ok || out["id"] != "42" {
		t.Fatalf("Outcome = %v, %t", out, ok)
	}
}

func TestFailUsesConfiguredMessage(t *testing.T) {
	fn := bind(t, hook.Hook{
		Name:    "guard",
		Handler: "fail",
		Config:  map[string]any{"message": "quota exceeded"},
	})

	err := fn(context.Background(), newExec(t), func(context.Context) error { return nil })
	if err == nil || err.Error() != "quota exceeded" {
		t.Fatalf("fail error = %v", err)
	}
}

func TestEmitPublishesConfiguredEvent(t *testing.T) {
	exec := newExec(t)
	exec.EnterHook("announce")

	fn := bind(t, hook.Hook{
		Name:    "announce",
		Handler: "emit",
		Config: map[string]any{
			"event":   "order.created",
			"payload": map[string]any{"source": "builtin"},
		},
	})

	if err := fn(context.Background(), exec, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("emit error: %v", err)
	}

	emissions := exec.Emissions()
	if len(emissions) != 1 || emissions[0].Name != "order.created" || emissions[0].Payload["source"] != "builtin" {
		t.Fatalf("Emissions = %+v", emissions)
	}
}

func TestCacheShortCircuitsOnHit(t *testing.T) {
	fn := bind(t, hook.Hook{
		Name:    "result-cache",
		Handler: "cache",
		Config:  map[string]any{"key": "result"},
	})

	// Miss: the chain continues.
	miss := newExec(t)
	miss.EnterHook("result-cache")
	called := false
	if err := fn(context.Background(), miss, func(context.Context) error { called = true; return nil }); err != nil {
		t.Fatalf("cache miss error: %v", err)
	}
	if !called {
		t.Fatal("cache miss did not continue the chain")
	}

	// Hit: short-circuit without calling next.
	hit := newExec(t)
	hit.Values["result"] = "cached-answer"
	hit.EnterHook("result-cache")
	called = false
	if err := fn(context.Background(), hit, func(context.Context) error { called = true; return nil }); err != nil {
		t.Fatalf("cache hit error: %v", err)
	}
	if called {
		t.Fatal("cache hit still continued the chain")
	}
	out, _ := hit.Outcome("result-cache")
	if out["hit"] != true || out["value"] != "cached-answer" {
		t.Fatalf("cache outcome = %v", out)
	}
}

func TestStampUsesInjectedSources(t *testing.T) {
	exec := newExec(t)
	exec.EnterHook("stamp-hook")

	fn := bind(t, hook.Hook{Name: "stamp-hook", Handler: "stamp"})
	if err := fn(context.Background(), exec, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("stamp error: %v", err)
	}

	out, ok := exec.Outcome("stamp-hook")
	if !ok || out["at"] == "" || out["nonce"] == nil {
		t.Fatalf("stamp outcome = %v, %t", out, ok)
	}

	// Same seed, same nonce.
	other := newExec(t)
	other.EnterHook("stamp-hook")
	if err := fn(context.Background(), other, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("stamp error: %v", err)
	}
	otherOut, _ := other.Outcome("stamp-hook")
	if out["nonce"] != otherOut["nonce"] {
		t.Fatalf("nonce = %v vs %v, want identical draws from equal seeds", out["nonce"], otherOut["nonce"])
	}
}
