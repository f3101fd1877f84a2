package hook

import (
	"time"

	"github.com/watzon/conduit/internal/determinism"
)

// Envelope is the input handed to one pipeline execution.
type Envelope struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Emission is an event, intent, or projection produced during a run,
// typically by EMIT-phase hooks.
type Emission struct {
	Seq     int            `json:"seq"`
	Name    string         `json:"name"`
	Hook    string         `json:"hook"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Execution is the per-run state passed to every hook. One execution is a
// single logical thread of control; nothing here is safe for concurrent
// use and nothing needs to be.
type Execution struct {
	// ID identifies the run (matches the manifest id).
	ID string
	// Pipeline names the contract being executed.
	Pipeline string
	// Input is the envelope supplied by the caller.
	Input Envelope
	// Contract and Runtime are the activation context maps.
	Contract map[string]any
	Runtime  map[string]any
	// Values is scratch state shared across hooks within this run. Effect
	// hook outcomes are published here under the hook's name.
	Values map[string]any
	// Result holds the business handler's result, if any.
	Result any

	// Clock and RNG are the injected determinism substrate.
	Clock determinism.Clock
	RNG   *determinism.RNG

	emissions   []Emission
	outcomes    map[string]map[string]any
	currentHook string
}

// NewExecution creates the per-run state for one pipeline execution.
func NewExecution(id, pipeline string, input Envelope, contract, runtime map[string]any, clock determinism.Clock, rng *determinism.RNG) *Execution {
	if contract == nil {
		contract = map[string]any{}
	}
	if runtime == nil {
		runtime = map[string]any{}
	}
	return &Execution{
		ID:       id,
		Pipeline: pipeline,
		Input:    input,
		Contract: contract,
		Runtime:  runtime,
		Values:   map[string]any{},
		Clock:    clock,
		RNG:      rng,
		outcomes: map[string]map[string]any{},
	}
}

// Emit records an emission attributed to the currently executing hook.
func (e *Execution) Emit(name string, payload map[string]any) {
	e.emissions = append(e.emissions, Emission{
		Seq:     len(e.emissions),
		Name:    name,
		Hook:    e.currentHook,
		Payload: payload,
		At:      e.Clock.Now(),
	})
}

// Emissions returns everything emitted so far, in order.
func (e *Execution) Emissions() []Emission {
	return e.emissions
}

// RecordOutcome publishes the externally derived result of an effect
// hook. The runner captures it for the manifest's effect table and
// mirrors it into Values under the hook's name so downstream hooks read
// live and replayed runs identically.
func (e *Execution) RecordOutcome(out map[string]any) {
	if e.currentHook == "" {
		return
	}
	e.outcomes[e.currentHook] = out
	e.Values[e.currentHook] = out
}

// Outcome returns the recorded outcome for a hook, if any.
func (e *Execution) Outcome(hookName string) (map[string]any, bool) {
	out, ok := e.outcomes[hookName]
	return out, ok
}

// ApplyOutcome installs a previously recorded outcome for a hook, used by
// the runner when a replay stub bypasses the real call.
func (e *Execution) ApplyOutcome(hookName string, out map[string]any) {
	e.outcomes[hookName] = out
	e.Values[hookName] = out
}

// EnterHook marks the named hook as currently executing. Called by the
// runner only.
func (e *Execution) EnterHook(name string) { e.currentHook = name }

// LeaveHook clears the currently executing hook. Called by the runner
// only.
func (e *Execution) LeaveHook() { e.currentHook = "" }
