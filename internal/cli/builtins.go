package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/conduit/internal/hook"
)

// Builtins returns the handler catalog available to contracts run from
// the command line.
func Builtins() *hook.Catalog {
	c := hook.NewCatalog()

	c.Register("noop", noopHandler)
	c.Register("echo", echoHandler)
	c.RegisterFactory("log", logFactory)
	c.RegisterFactory("fail", failFactory)
	c.RegisterFactory("emit", emitFactory)
	c.RegisterFactory("cache", cacheFactory)
	c.RegisterFactory("stamp", stampFactory)

	return c
}

// noop passes control straight through.
func noopHandler(ctx context.Context, exec *hook.Execution, next hook.Next) error {
	return next(ctx)
}

// echo records the input payload as its outcome, making the envelope
// visible to downstream hooks under this hook's name.
func echoHandler(ctx context.Context, exec *hook.Execution, next hook.Next) error {
	out := make(map[string]any, len(exec.Input.Payload))
	for k, v := range exec.Input.Payload {
		out[k] = v
	}
	exec.RecordOutcome(out)
	return next(ctx)
}

// log writes a structured log line, with an optional message from the
// hook's config, then continues the chain.
func logFactory(h hook.Hook) hook.Func {
	message := configString(h.Config, "message", "Hook checkpoint")
	return func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
		log.Info().
			Str("hook", h.Name).
			Str("phase", string(h.Phase)).
			Str("execution", exec.ID).
			Msg(message)
		return next(ctx)
	}
}

// fail always errors, with an optional message from config. Useful for
// exercising failure policy in contracts.
func failFactory(h hook.Hook) hook.Func {
	message := configString(h.Config, "message", "hook failed")
	return func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
		return errors.New(message)
	}
}

// emit publishes an emission named by config ("event") carrying the
// hook's configured payload.
func emitFactory(h hook.Hook) hook.Func {
	event := configString(h.Config, "event", h.Name)
	var payload map[string]any
	if p, ok := h.Config["payload"].(map[string]any); ok {
		payload = p
	}
	return func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
		exec.Emit(event, payload)
		return next(ctx)
	}
}

// cache short-circuits the chain when a value is already present under
// the configured key, recording the hit as its outcome.
func cacheFactory(h hook.Hook) hook.Func {
	key := configString(h.Config, "key", h.Name+".cache")
	return func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
		if cached, ok := exec.Values[key]; ok {
			exec.RecordOutcome(map[string]any{"hit": true, "value": cached})
			return nil
		}
		exec.RecordOutcome(map[string]any{"hit": false})
		return next(ctx)
	}
}

// stamp records the injected clock and RNG readings as its outcome, so
// contracts can exercise the determinism substrate end to end.
func stampFactory(h hook.Hook) hook.Func {
	return func(ctx context.Context, exec *hook.Execution, next hook.Next) error {
		exec.RecordOutcome(map[string]any{
			"at":    exec.Clock.Now().Format(time.RFC3339Nano),
			"nonce": exec.RNG.Int63(),
		})
		return next(ctx)
	}
}

func configString(config map[string]any, key, fallback string) string {
	if v, ok := config[key]; ok {
		return fmt.Sprint(v)
	}
	return fallback
}
