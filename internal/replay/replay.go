// Package replay re-executes a pipeline using the time, randomness, and
// effect outcomes a sealed manifest recorded, and verifies the replayed
// manifest against the original.
package replay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/watzon/conduit/internal/activation"
	"github.com/watzon/conduit/internal/determinism"
	"github.com/watzon/conduit/internal/manifest"
	"github.com/watzon/conduit/internal/pipeline"
	"github.com/watzon/conduit/internal/registry"
)

// Options configures a replay run.
type Options struct {
	// Handler is the business handler to wrap. Replays of manifests
	// recorded with a handler should supply the same one; effect hooks
	// are stubbed either way.
	Handler pipeline.Handler
	// Node overrides the node identity of the replayed manifest.
	Node string
}

// Replay re-executes the recorded run against the given plan, feeding the
// original manifest's clock script, RNG seed, and effect outcomes into
// the determinism substrate.
func Replay(ctx context.Context, original *manifest.Manifest, plan *registry.Plan, opts Options) (*manifest.Manifest, error) {
	if original.Ordering.PlanFingerprint != plan.Fingerprint {
		return nil, fmt.Errorf("plan fingerprint mismatch: manifest %s, plan %s",
			original.Ordering.PlanFingerprint, plan.Fingerprint)
	}

	runner, err := pipeline.New(plan, pipeline.Options{
		PipelineID:    original.Identity.PipelineID,
		CorrelationID: original.Identity.CorrelationID,
		Node:          opts.Node,
		ContractID:    original.Identity.ContractID,
		Handler:       opts.Handler,
		Clock:         determinism.NewScriptClock(original.Replay.Timestamps),
		RNG:           determinism.NewRNG(original.Replay.RNGSeed),
		Stubs:         determinism.NewStubTable(original.Replay.Effects),
		ReplayMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("building replay runner: %w", err)
	}

	actx := activation.Context{
		Contract: original.Replay.Contract,
		Input:    original.Replay.Input.Payload,
		Runtime:  original.Replay.Runtime,
	}

	log.Info().
		Str("manifest_id", original.Identity.ManifestID).
		Str("pipeline", original.Identity.PipelineID).
		Msg("Replaying execution")

	return runner.Execute(ctx, actx, original.Replay.Input), nil
}

// Divergence describes one field where a replayed manifest differs from
// the original.
type Divergence struct {
	Field    string `json:"field"`
	Original string `json:"original"`
	Replayed string `json:"replayed"`
}

func (d Divergence) String() string {
	return fmt.Sprintf("%s: original=%s replayed=%s", d.Field, d.Original, d.Replayed)
}

// Verify compares the determinism-relevant sections of two manifests:
// the ordering summary, the activation summary, and the hook trace's
// statuses, skip reasons, and error types. Identity fields and absolute
// wall-clock values are excluded unless time was injected, in which case
// trace timestamps are covered by the scripted clock and compared too.
func Verify(original, replayed *manifest.Manifest) []Divergence {
	var divs []Divergence

	if original.Ordering.PlanFingerprint != replayed.Ordering.PlanFingerprint {
		divs = append(divs, Divergence{
			Field:    "ordering_summary.plan_fingerprint",
			Original: original.Ordering.PlanFingerprint,
			Replayed: replayed.Ordering.PlanFingerprint,
		})
	}
	if fmt.Sprint(original.Ordering.TopologicalOrder) != fmt.Sprint(replayed.Ordering.TopologicalOrder) {
		divs = append(divs, Divergence{
			Field:    "ordering_summary.topological_order",
			Original: fmt.Sprint(original.Ordering.TopologicalOrder),
			Replayed: fmt.Sprint(replayed.Ordering.TopologicalOrder),
		})
	}

	divs = append(divs, verifyActivation(original, replayed)...)
	divs = append(divs, verifyTrace(original, replayed)...)

	if original.Status != replayed.Status {
		divs = append(divs, Divergence{
			Field:    "status",
			Original: string(original.Status),
			Replayed: string(replayed.Status),
		})
	}

	return divs
}

func verifyActivation(original, replayed *manifest.Manifest) []Divergence {
	var divs []Divergence

	if original.Activation == nil || replayed.Activation == nil {
		if (original.Activation == nil) != (replayed.Activation == nil) {
			divs = append(divs, Divergence{Field: "activation_summary", Original: present(original.Activation != nil), Replayed: present(replayed.Activation != nil)})
		}
		return divs
	}

	oa, ra := original.Activation.Decisions, replayed.Activation.Decisions
	if len(oa) != len(ra) {
		return append(divs, Divergence{
			Field:    "activation_summary.decisions",
			Original: fmt.Sprintf("%d decisions", len(oa)),
			Replayed: fmt.Sprintf("%d decisions", len(ra)),
		})
	}

	for i := range oa {
		if oa[i].Hook != ra[i].Hook || oa[i].Active != ra[i].Active ||
			oa[i].Reason.PredicateName != ra[i].Reason.PredicateName ||
			oa[i].Reason.Result != ra[i].Reason.Result ||
			oa[i].Reason.Source != ra[i].Reason.Source ||
			determinism.Fingerprint(oa[i].Reason.InputsUsed) != determinism.Fingerprint(ra[i].Reason.InputsUsed) {
			divs = append(divs, Divergence{
				Field:    fmt.Sprintf("activation_summary.decisions[%d]", i),
				Original: fmt.Sprintf("%s active=%t source=%s", oa[i].Hook, oa[i].Active, oa[i].Reason.Source),
				Replayed: fmt.Sprintf("%s active=%t source=%s", ra[i].Hook, ra[i].Active, ra[i].Reason.Source),
			})
		}
	}

	return divs
}

func verifyTrace(original, replayed *manifest.Manifest) []Divergence {
	var divs []Divergence

	ot, rt := original.Trace, replayed.Trace
	if len(ot) != len(rt) {
		return append(divs, Divergence{
			Field:    "hook_trace",
			Original: fmt.Sprintf("%d entries", len(ot)),
			Replayed: fmt.Sprintf("%d entries", len(rt)),
		})
	}

	for i := range ot {
		o, r := ot[i], rt[i]
		if o.Hook != r.Hook || o.Phase != r.Phase || o.Status != r.Status || o.SkipReason != r.SkipReason {
			divs = append(divs, Divergence{
				Field:    fmt.Sprintf("hook_trace[%d]", i),
				Original: fmt.Sprintf("%s/%s %s skip=%q", o.Phase, o.Hook, o.Status, o.SkipReason),
				Replayed: fmt.Sprintf("%s/%s %s skip=%q", r.Phase, r.Hook, r.Status, r.SkipReason),
			})
			continue
		}
		if errType(o.Error) != errType(r.Error) {
			divs = append(divs, Divergence{
				Field:    fmt.Sprintf("hook_trace[%d].error", i),
				Original: errType(o.Error),
				Replayed: errType(r.Error),
			})
		}
	}

	return divs
}

func errType(ref *manifest.ErrorRef) string {
	if ref == nil {
		return ""
	}
	return ref.Type
}

func present(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}
