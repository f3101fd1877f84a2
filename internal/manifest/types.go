// Package manifest builds the execution manifest: the deterministic,
// fully serializable record of what ran during one pipeline execution,
// why, in what order, and what happened. A builder is owned exclusively
// by the runner for the duration of one run; the sealed manifest is
// shared freely read-only.
package manifest

import (
	"time"

	"github.com/watzon/conduit/internal/activation"
	"github.com/watzon/conduit/internal/determinism"
	"github.com/watzon/conduit/internal/hook"
)

// RunStatus is the overall terminal status of one execution.
type RunStatus string

const (
	StatusSuccess   RunStatus = "success"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// EntryStatus is the status of one hook trace entry.
type EntryStatus string

const (
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
	EntrySkipped EntryStatus = "skipped"
)

// ErrorRef is the compact error reference carried in trace entries. Full
// detail lives in the failures list; trace entries never inline stack
// traces.
type ErrorRef struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TraceEntry is one row of the execution trace.
type TraceEntry struct {
	Hook       string      `json:"hook"`
	Phase      hook.Phase  `json:"phase"`
	Status     EntryStatus `json:"status"`
	StartedAt  time.Time   `json:"started_at,omitzero"`
	EndedAt    time.Time   `json:"ended_at,omitzero"`
	DurationMS int64       `json:"duration_ms"`
	SkipReason string      `json:"skip_reason,omitempty"`
	Error      *ErrorRef   `json:"error,omitempty"`
}

// FailureEntry records a hook or handler failure captured by the runner.
type FailureEntry struct {
	Phase    hook.Phase `json:"phase"`
	Hook     string     `json:"hook"`
	Type     string     `json:"type"`
	Message  string     `json:"message"`
	Terminal bool       `json:"terminal"`
}

// Identity names the execution and the environment it ran in.
type Identity struct {
	ManifestID    string `json:"manifest_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	PipelineID    string `json:"pipeline_id"`
	Runtime       string `json:"runtime,omitempty"`
	Node          string `json:"node,omitempty"`
	ContractID    string `json:"contract_id,omitempty"`
}

// Ordering is the plan actually used for the run, including the inputs
// that determined it.
type Ordering struct {
	PhaseOrder       map[hook.Phase][]string `json:"phase_order"`
	TopologicalOrder []string                `json:"topological_order"`
	DependencyGraph  map[string][]string     `json:"dependency_graph"`
	PlanFingerprint  string                  `json:"plan_fingerprint"`
}

// MetricsSummary aggregates per-run counters.
type MetricsSummary struct {
	HooksExecuted   int              `json:"hooks_executed"`
	HooksSkipped    int              `json:"hooks_skipped"`
	HooksFailed     int              `json:"hooks_failed"`
	PhaseDurationMS map[string]int64 `json:"phase_duration_ms,omitempty"`
	TotalDurationMS int64            `json:"total_duration_ms"`
}

// ReplayInputs captures everything replay needs to reproduce the run:
// the input envelope, the activation context, the RNG seed, every clock
// reading the runner took, and the recorded effect outcomes.
type ReplayInputs struct {
	Input      hook.Envelope                      `json:"input"`
	Contract   map[string]any                     `json:"contract,omitempty"`
	Runtime    map[string]any                     `json:"runtime,omitempty"`
	RNGSeed    int64                              `json:"rng_seed"`
	Timestamps []time.Time                        `json:"timestamps,omitempty"`
	Effects    map[string]determinism.StubOutcome `json:"effects,omitempty"`
}

// Manifest is the terminal, immutable record of one pipeline execution.
type Manifest struct {
	Identity   Identity            `json:"identity"`
	Status     RunStatus           `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	SealedAt   time.Time           `json:"sealed_at"`
	Activation *activation.Summary `json:"activation_summary"`
	Ordering   Ordering            `json:"ordering_summary"`
	Trace      []TraceEntry        `json:"hook_trace"`
	Emissions  []hook.Emission     `json:"emissions_summary,omitempty"`
	Metrics    MetricsSummary      `json:"metrics_summary"`
	Failures   []FailureEntry      `json:"failures,omitempty"`
	Replay     ReplayInputs        `json:"replay_inputs"`
}

// PhaseEntries returns the trace entries for one phase, in order.
func (m *Manifest) PhaseEntries(phase hook.Phase) []TraceEntry {
	var entries []TraceEntry
	for _, e := range m.Trace {
		if e.Phase == phase {
			entries = append(entries, e)
		}
	}
	return entries
}

// Entry returns the first trace entry for the named hook.
func (m *Manifest) Entry(hookName string) (TraceEntry, bool) {
	for _, e := range m.Trace {
		if e.Hook == hookName {
			return e, true
		}
	}
	return TraceEntry{}, false
}
