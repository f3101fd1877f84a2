// Package pipeline executes a frozen plan's phases in canonical order,
// invoking activated hooks as a nested continuation chain around the
// business handler, and produces the sealed execution manifest. Callers
// always receive a manifest; hook and handler failures are captured into
// it rather than raised.
package pipeline

import (
	"context"
	"fmt"
	"os"
	goruntime "runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/watzon/conduit/internal/activation"
	"github.com/watzon/conduit/internal/determinism"
	"github.com/watzon/conduit/internal/hook"
	"github.com/watzon/conduit/internal/manifest"
	"github.com/watzon/conduit/internal/metrics"
	"github.com/watzon/conduit/internal/registry"
)

// HandlerTraceName is the trace identity of the business handler, which
// occupies the innermost position of the EXECUTE phase.
const HandlerTraceName = "handler"

// Handler is the wrapped business logic, invoked once during EXECUTE.
type Handler func(ctx context.Context, exec *hook.Execution) error

// Options configures a Runner.
type Options struct {
	// PipelineID names the pipeline for manifests and metrics.
	PipelineID string
	// CorrelationID is propagated into manifest identity.
	CorrelationID string
	// Node identifies the executing node; defaults to the hostname.
	Node string
	// ContractID identifies the contract the plan was built from.
	ContractID string
	// Handler is the business logic wrapped by the EXECUTE phase. May be
	// nil for pure hook pipelines.
	Handler Handler
	// Clock supplies time; defaults to the system clock. Replay installs
	// a scripted clock here.
	Clock determinism.Clock
	// RNG supplies seeded randomness. Nil draws a fresh seed per
	// execution.
	RNG *determinism.RNG
	// Stubs holds recorded effect outcomes for replay.
	Stubs *determinism.StubTable
	// ReplayMode makes effect hooks consult Stubs instead of running.
	ReplayMode bool
	// Timeout bounds the run. Checked only at hook boundaries; a hook
	// already running when the timeout elapses is allowed to finish.
	Timeout time.Duration
}

// Runner executes pipeline runs against one frozen plan. A runner is
// stateless between runs and safe for concurrent use; each execution owns
// its manifest builder exclusively.
type Runner struct {
	plan   *registry.Plan
	engine *activation.Engine
	opts   Options
}

// New builds a runner, compiling the plan's activation predicates.
func New(plan *registry.Plan, opts Options) (*Runner, error) {
	engine, err := activation.NewEngine(plan)
	if err != nil {
		return nil, fmt.Errorf("building activation engine: %w", err)
	}

	if opts.Clock == nil {
		opts.Clock = determinism.SystemClock()
	}
	if opts.Node == "" {
		if hostname, err := os.Hostname(); err == nil {
			opts.Node = hostname
		}
	}

	return &Runner{plan: plan, engine: engine, opts: opts}, nil
}

// tracingClock records every reading taken during a run, in order, so
// replay can script the exact sequence. All clock access during a run
// goes through it, including reads taken by hooks.
type tracingClock struct {
	inner determinism.Clock
	times []time.Time
}

func (c *tracingClock) Now() time.Time {
	t := c.inner.Now()
	c.times = append(c.times, t)
	return t
}

// runState accumulates per-run counters for the metrics summary.
type runState struct {
	executed  int
	skipped   int
	failed    int
	phaseDurs map[string]int64
}

// Execute runs the pipeline to completion and returns its sealed
// manifest. The manifest is produced under every terminal status;
// inspect Status and Failures for the outcome.
func (r *Runner) Execute(ctx context.Context, actx activation.Context, input hook.Envelope) *manifest.Manifest {
	builder := manifest.NewBuilder()
	clock := &tracingClock{inner: r.opts.Clock}

	rng := r.opts.RNG
	if rng == nil {
		rng = determinism.NewRandomRNG()
	}

	identity := manifest.Identity{
		ManifestID:    uuid.New().String(),
		CorrelationID: r.opts.CorrelationID,
		PipelineID:    r.opts.PipelineID,
		Runtime:       goruntime.Version(),
		Node:          r.opts.Node,
		ContractID:    r.opts.ContractID,
	}

	startedAt := clock.Now()
	if err := builder.Start(identity, startedAt); err != nil {
		log.Error().Err(err).Msg("Failed to start manifest builder")
	}

	metrics.IncrementInFlight()
	defer metrics.DecrementInFlight()

	recordErr(builder.RecordOrdering(manifest.Ordering{
		PhaseOrder:       r.plan.PhaseOrder,
		TopologicalOrder: r.plan.TopologicalOrder,
		DependencyGraph:  r.plan.DependencyGraph,
		PlanFingerprint:  r.plan.Fingerprint,
	}))
	recordErr(builder.SetReplayContext(input, actx.Contract, actx.Runtime, rng.Seed()))

	var deadline time.Time
	if r.opts.Timeout > 0 {
		deadline = startedAt.Add(r.opts.Timeout)
	}

	state := &runState{phaseDurs: make(map[string]int64)}
	status := r.run(ctx, actx, input, identity.ManifestID, builder, clock, rng, deadline, state)

	sealedAt := clock.Now()
	recordErr(builder.SetMetrics(manifest.MetricsSummary{
		HooksExecuted:   state.executed,
		HooksSkipped:    state.skipped,
		HooksFailed:     state.failed,
		PhaseDurationMS: state.phaseDurs,
		TotalDurationMS: sealedAt.Sub(startedAt).Milliseconds(),
	}))
	recordErr(builder.SetTimestamps(clock.times))

	sealed, err := builder.Seal(status, sealedAt)
	if err != nil {
		// Cannot happen with a correctly sequenced runner; fail loudly.
		log.Error().Err(err).Msg("Failed to seal manifest")
		sealed = &manifest.Manifest{Identity: identity, Status: manifest.StatusFailed}
	}

	metrics.RecordExecution(r.opts.PipelineID, string(status), sealedAt.Sub(startedAt))

	log.Info().
		Str("manifest_id", identity.ManifestID).
		Str("pipeline", r.opts.PipelineID).
		Str("status", string(status)).
		Int("hooks_executed", state.executed).
		Msg("Pipeline execution finished")

	return sealed
}

// run drives activation and the phase loop, returning the terminal
// status. A panic anywhere inside still reaches the caller's Seal.
func (r *Runner) run(ctx context.Context, actx activation.Context, input hook.Envelope, execID string, builder *manifest.Builder, clock *tracingClock, rng *determinism.RNG, deadline time.Time, state *runState) (status manifest.RunStatus) {
	defer func() {
		if p := recover(); p != nil {
			recordErr(builder.RecordFailure(manifest.FailureEntry{
				Type:     "RunnerPanic",
				Message:  fmt.Sprintf("%v", p),
				Terminal: true,
			}))
			status = manifest.StatusFailed
		}
	}()

	summary, err := r.engine.Evaluate(actx)
	if err != nil {
		recordErr(builder.RecordFailure(manifest.FailureEntry{
			Phase:    hook.PhasePreflight,
			Type:     "ActivationError",
			Message:  err.Error(),
			Terminal: true,
		}))
		return manifest.StatusFailed
	}
	recordErr(builder.RecordActivation(summary))

	exec := hook.NewExecution(execID, r.opts.PipelineID, input, actx.Contract, actx.Runtime, clock, rng)

	status = manifest.StatusSuccess
	for _, phase := range hook.Phases() {
		if phase == hook.PhaseFinalize {
			break
		}

		hooks := activeHooks(r.plan.PhaseHooks(phase), summary)
		result := r.runPhase(ctx, phase, hooks, exec, builder, clock, deadline, state)
		if result == phaseCancelled {
			status = manifest.StatusCancelled
			break
		}
		if result == phaseFailed {
			status = manifest.StatusFailed
			break
		}
	}

	// FINALIZE always executes, exactly once, in resolved order,
	// regardless of what happened earlier, and is exempt from
	// cancellation.
	finalizeFailed := r.runFinalize(ctx, activeHooks(r.plan.PhaseHooks(hook.PhaseFinalize), summary), exec, builder, clock, state)
	if finalizeFailed && status == manifest.StatusSuccess {
		status = manifest.StatusFailed
	}

	for _, emission := range exec.Emissions() {
		recordErr(builder.RecordEmission(emission))
	}

	return status
}

type phaseResult int

const (
	phaseOK phaseResult = iota
	phaseFailed
	phaseCancelled
)

// runPhase invokes the phase's activated hooks as a nested continuation
// chain. During EXECUTE the business handler sits at the innermost
// position. Trace entries are appended in resolved order once the chain
// unwinds, so the trace layout is independent of where the chain stopped.
func (r *Runner) runPhase(parent context.Context, phase hook.Phase, hooks []hook.Hook, exec *hook.Execution, builder *manifest.Builder, clock *tracingClock, deadline time.Time, state *runState) phaseResult {
	phaseStart := clock.Now()

	n := len(hooks)
	invoked := make([]bool, n)
	nextCalled := make([]bool, n)
	starts := make([]time.Time, n)
	ends := make([]time.Time, n)
	hookErrs := make([]error, n)

	handlerWanted := phase == hook.PhaseExecute && r.opts.Handler != nil
	var handlerInvoked bool
	var handlerErr error
	var handlerStart, handlerEnd time.Time

	cancelled := false

	var run func(ctx context.Context, i int) error
	run = func(ctx context.Context, i int) error {
		// Cooperative cancellation: checked only at hook boundaries,
		// never by interrupting in-flight work.
		if err := ctx.Err(); err != nil {
			cancelled = true
			return err
		}
		if !deadline.IsZero() && clock.Now().After(deadline) {
			cancelled = true
			return ErrDeadlineExceeded
		}

		if i == n {
			if !handlerWanted {
				return nil
			}
			handlerInvoked = true
			handlerStart = clock.Now()
			exec.EnterHook(HandlerTraceName)
			handlerErr = safeHandler(ctx, r.opts.Handler, exec)
			exec.LeaveHook()
			handlerEnd = clock.Now()
			if handlerErr != nil {
				return &HookExecutionError{Hook: HandlerTraceName, Err: handlerErr}
			}
			return nil
		}

		h := hooks[i]
		invoked[i] = true
		starts[i] = clock.Now()

		if r.opts.ReplayMode && h.Category.Stubbed() {
			err := r.applyStub(ctx, h, exec, &nextCalled[i], func(c context.Context) error {
				return run(c, i+1)
			})
			ends[i] = clock.Now()
			hookErrs[i] = err
			return err
		}

		exec.EnterHook(h.Name)
		err := safeInvoke(ctx, h, exec, func(c context.Context) error {
			exec.LeaveHook()
			nextCalled[i] = true
			innerErr := run(c, i+1)
			exec.EnterHook(h.Name)
			return innerErr
		})
		exec.LeaveHook()
		ends[i] = clock.Now()
		hookErrs[i] = err

		if !r.opts.ReplayMode && h.Category.Stubbed() {
			out, _ := exec.Outcome(h.Name)
			key := determinism.InvocationKey(h.Name, exec.Input.Payload)
			recordErr(builder.RecordEffect(key, determinism.StubOutcome{
				Output:     out,
				Error:      errString(err),
				CalledNext: nextCalled[i],
			}))
		}

		return err
	}

	chainErr := run(parent, 0)

	// The deepest invoked hook that did not pass control onward is what
	// blocked the rest of the phase, whether by short-circuit or failure.
	blocker := ""
	for i := n - 1; i >= 0; i-- {
		if invoked[i] {
			if !nextCalled[i] {
				blocker = hooks[i].Name
			}
			break
		}
	}
	if cancelled && blocker == "" {
		blocker = "cancelled"
	}

	for i, h := range hooks {
		switch {
		case invoked[i] && hookErrs[i] != nil && !cancelled:
			state.failed++
			metrics.RecordHook(h.Name, string(phase), string(manifest.EntryFailed))
			recordErr(builder.RecordHook(manifest.TraceEntry{
				Hook:       h.Name,
				Phase:      phase,
				Status:     manifest.EntryFailed,
				StartedAt:  starts[i],
				EndedAt:    ends[i],
				DurationMS: ends[i].Sub(starts[i]).Milliseconds(),
				Error:      &manifest.ErrorRef{Type: errorType(hookErrs[i]), Message: hookErrs[i].Error()},
			}))
		case invoked[i]:
			state.executed++
			metrics.RecordHook(h.Name, string(phase), string(manifest.EntrySuccess))
			recordErr(builder.RecordHook(manifest.TraceEntry{
				Hook:       h.Name,
				Phase:      phase,
				Status:     manifest.EntrySuccess,
				StartedAt:  starts[i],
				EndedAt:    ends[i],
				DurationMS: ends[i].Sub(starts[i]).Milliseconds(),
			}))
		default:
			state.skipped++
			metrics.RecordHook(h.Name, string(phase), string(manifest.EntrySkipped))
			recordErr(builder.RecordHook(manifest.TraceEntry{
				Hook:       h.Name,
				Phase:      phase,
				Status:     manifest.EntrySkipped,
				SkipReason: blocker,
			}))
		}
	}

	if handlerWanted {
		switch {
		case handlerInvoked && handlerErr != nil:
			state.failed++
			recordErr(builder.RecordHook(manifest.TraceEntry{
				Hook:       HandlerTraceName,
				Phase:      phase,
				Status:     manifest.EntryFailed,
				StartedAt:  handlerStart,
				EndedAt:    handlerEnd,
				DurationMS: handlerEnd.Sub(handlerStart).Milliseconds(),
				Error:      &manifest.ErrorRef{Type: "HookExecutionError", Message: handlerErr.Error()},
			}))
		case handlerInvoked:
			state.executed++
			recordErr(builder.RecordHook(manifest.TraceEntry{
				Hook:       HandlerTraceName,
				Phase:      phase,
				Status:     manifest.EntrySuccess,
				StartedAt:  handlerStart,
				EndedAt:    handlerEnd,
				DurationMS: handlerEnd.Sub(handlerStart).Milliseconds(),
			}))
		default:
			state.skipped++
			recordErr(builder.RecordHook(manifest.TraceEntry{
				Hook:       HandlerTraceName,
				Phase:      phase,
				Status:     manifest.EntrySkipped,
				SkipReason: blocker,
			}))
		}
	}

	phaseEnd := clock.Now()
	state.phaseDurs[string(phase)] = phaseEnd.Sub(phaseStart).Milliseconds()
	metrics.RecordPhase(string(phase), phaseEnd.Sub(phaseStart))

	if cancelled {
		message := "context cancelled"
		if chainErr != nil {
			message = chainErr.Error()
		}
		recordErr(builder.RecordFailure(manifest.FailureEntry{
			Phase:    phase,
			Type:     "Cancelled",
			Message:  message,
			Terminal: true,
		}))
		return phaseCancelled
	}

	if chainErr != nil {
		recordErr(builder.RecordFailure(manifest.FailureEntry{
			Phase:    phase,
			Hook:     failingHook(hooks, hookErrs, handlerErr),
			Type:     errorType(chainErr),
			Message:  chainErr.Error(),
			Terminal: true,
		}))
		log.Debug().
			Str("phase", string(phase)).
			Err(chainErr).
			Msg("Phase aborted, proceeding to finalize")
		return phaseFailed
	}

	return phaseOK
}

// runFinalize invokes cleanup hooks one by one. A failure is logged into
// the manifest and the remaining hooks still run.
func (r *Runner) runFinalize(ctx context.Context, hooks []hook.Hook, exec *hook.Execution, builder *manifest.Builder, clock *tracingClock, state *runState) bool {
	// Finalize hooks run to completion even when the caller's context is
	// already cancelled.
	ctx = context.WithoutCancel(ctx)

	failed := false
	noop := func(context.Context) error { return nil }

	for _, h := range hooks {
		start := clock.Now()
		exec.EnterHook(h.Name)
		err := safeInvoke(ctx, h, exec, noop)
		exec.LeaveHook()
		end := clock.Now()

		entry := manifest.TraceEntry{
			Hook:       h.Name,
			Phase:      hook.PhaseFinalize,
			Status:     manifest.EntrySuccess,
			StartedAt:  start,
			EndedAt:    end,
			DurationMS: end.Sub(start).Milliseconds(),
		}
		if err != nil {
			failed = true
			state.failed++
			entry.Status = manifest.EntryFailed
			entry.Error = &manifest.ErrorRef{Type: errorType(err), Message: err.Error()}
			recordErr(builder.RecordFailure(manifest.FailureEntry{
				Phase:   hook.PhaseFinalize,
				Hook:    h.Name,
				Type:    errorType(err),
				Message: err.Error(),
			}))
			log.Error().Err(err).Str("hook", h.Name).Msg("Finalize hook failed, continuing")
		} else {
			state.executed++
		}

		metrics.RecordHook(h.Name, string(hook.PhaseFinalize), string(entry.Status))
		recordErr(builder.RecordHook(entry))
	}

	return failed
}

// applyStub replays a recorded effect outcome instead of invoking the
// real hook, preserving the original's short-circuit behavior.
func (r *Runner) applyStub(ctx context.Context, h hook.Hook, exec *hook.Execution, nextCalled *bool, next hook.Next) error {
	if r.opts.Stubs == nil {
		return &HookExecutionError{Hook: h.Name, Err: ErrMissingStub}
	}

	key := determinism.InvocationKey(h.Name, exec.Input.Payload)
	out, ok := r.opts.Stubs.Lookup(key)
	if !ok {
		return &HookExecutionError{Hook: h.Name, Err: ErrMissingStub}
	}

	if out.Output != nil {
		exec.ApplyOutcome(h.Name, out.Output)
	}
	if out.Error != "" {
		return &HookExecutionError{Hook: h.Name, Err: fmt.Errorf("%s", out.Error)}
	}
	if out.CalledNext {
		*nextCalled = true
		return next(ctx)
	}
	return nil
}

// activeHooks filters a phase's resolved order down to the activated
// subset, preserving order.
func activeHooks(hooks []hook.Hook, summary *activation.Summary) []hook.Hook {
	active := make([]hook.Hook, 0, len(hooks))
	for _, h := range hooks {
		if summary.IsActive(h.Name) {
			active = append(active, h)
		}
	}
	return active
}

// safeInvoke calls a hook, converting panics into HookExecutionError so
// a misbehaving hook cannot corrupt the trace or skip cleanup.
func safeInvoke(ctx context.Context, h hook.Hook, exec *hook.Execution, next hook.Next) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HookExecutionError{Hook: h.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if h.Func == nil {
		return next(ctx)
	}
	if callErr := h.Func(ctx, exec, next); callErr != nil {
		return &HookExecutionError{Hook: h.Name, Err: callErr}
	}
	return nil
}

func safeHandler(ctx context.Context, handler Handler, exec *hook.Execution) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return handler(ctx, exec)
}

// failingHook names the hook (or handler) whose error aborted the phase.
func failingHook(hooks []hook.Hook, hookErrs []error, handlerErr error) string {
	if handlerErr != nil {
		return HandlerTraceName
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		if hookErrs[i] != nil {
			return hooks[i].Name
		}
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func recordErr(err error) {
	if err != nil {
		log.Error().Err(err).Msg("Manifest record failed")
	}
}
