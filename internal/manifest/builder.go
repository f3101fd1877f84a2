package manifest

import (
	"errors"
	"fmt"
	"time"

	"github.com/watzon/conduit/internal/activation"
	"github.com/watzon/conduit/internal/determinism"
	"github.com/watzon/conduit/internal/hook"
)

var (
	// ErrManifestSealed indicates a record call after Seal. This is a
	// runner bug; it fails loudly rather than silently dropping data.
	ErrManifestSealed = errors.New("manifest already sealed")
	// ErrNotStarted indicates a record call before Start.
	ErrNotStarted = errors.New("manifest builder not started")
)

// Builder accumulates trace entries for one execution and seals them into
// the final immutable Manifest. The runner owns the builder exclusively
// for the duration of one run; it is not safe for concurrent use and does
// not need to be.
type Builder struct {
	started bool
	sealed  bool
	m       Manifest
}

// NewBuilder creates an unstarted builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Start opens a new mutable trace for one execution.
func (b *Builder) Start(identity Identity, startedAt time.Time) error {
	if b.sealed {
		return ErrManifestSealed
	}
	if b.started {
		return fmt.Errorf("manifest builder already started for %s", b.m.Identity.ManifestID)
	}

	b.started = true
	b.m.Identity = identity
	b.m.StartedAt = startedAt
	return nil
}

func (b *Builder) guard() error {
	if b.sealed {
		return ErrManifestSealed
	}
	if !b.started {
		return ErrNotStarted
	}
	return nil
}

// RecordActivation stores the activation summary.
func (b *Builder) RecordActivation(summary *activation.Summary) error {
	if err := b.guard(); err != nil {
		return err
	}
	b.m.Activation = summary
	return nil
}

// RecordOrdering stores the ordering summary actually used.
func (b *Builder) RecordOrdering(ordering Ordering) error {
	if err := b.guard(); err != nil {
		return err
	}
	b.m.Ordering = ordering
	return nil
}

// RecordHook appends one trace entry.
func (b *Builder) RecordHook(entry TraceEntry) error {
	if err := b.guard(); err != nil {
		return err
	}
	b.m.Trace = append(b.m.Trace, entry)
	return nil
}

// RecordEmission appends one emission.
func (b *Builder) RecordEmission(item hook.Emission) error {
	if err := b.guard(); err != nil {
		return err
	}
	b.m.Emissions = append(b.m.Emissions, item)
	return nil
}

// RecordFailure appends one failure entry.
func (b *Builder) RecordFailure(entry FailureEntry) error {
	if err := b.guard(); err != nil {
		return err
	}
	b.m.Failures = append(b.m.Failures, entry)
	return nil
}

// SetTimestamps stores the full sequence of clock readings the run took,
// in order, so replay can script them exactly.
func (b *Builder) SetTimestamps(times []time.Time) error {
	if err := b.guard(); err != nil {
		return err
	}
	b.m.Replay.Timestamps = times
	return nil
}

// RecordEffect stores one effect outcome under its invocation key.
func (b *Builder) RecordEffect(key string, out determinism.StubOutcome) error {
	if err := b.guard(); err != nil {
		return err
	}
	if b.m.Replay.Effects == nil {
		b.m.Replay.Effects = make(map[string]determinism.StubOutcome)
	}
	b.m.Replay.Effects[key] = out
	return nil
}

// SetReplayContext records the input envelope, activation context, and
// RNG seed replay needs.
func (b *Builder) SetReplayContext(input hook.Envelope, contract, runtime map[string]any, rngSeed int64) error {
	if err := b.guard(); err != nil {
		return err
	}
	b.m.Replay.Input = input
	b.m.Replay.Contract = contract
	b.m.Replay.Runtime = runtime
	b.m.Replay.RNGSeed = rngSeed
	return nil
}

// SetMetrics stores the per-run metrics summary.
func (b *Builder) SetMetrics(metrics MetricsSummary) error {
	if err := b.guard(); err != nil {
		return err
	}
	b.m.Metrics = metrics
	return nil
}

// Sealed reports whether Seal has been called.
func (b *Builder) Sealed() bool { return b.sealed }

// Seal freezes the trace and returns the final immutable record. Exactly
// one call succeeds per builder; the runner guarantees Seal runs even
// when FINALIZE itself fails.
func (b *Builder) Seal(status RunStatus, sealedAt time.Time) (*Manifest, error) {
	if b.sealed {
		return nil, ErrManifestSealed
	}
	if !b.started {
		return nil, ErrNotStarted
	}

	b.sealed = true
	b.m.Status = status
	b.m.SealedAt = sealedAt

	sealed := b.m
	sealed.Trace = append([]TraceEntry(nil), b.m.Trace...)
	sealed.Emissions = append([]hook.Emission(nil), b.m.Emissions...)
	sealed.Failures = append([]FailureEntry(nil), b.m.Failures...)
	sealed.Replay.Timestamps = append([]time.Time(nil), b.m.Replay.Timestamps...)

	return &sealed, nil
}
