package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/conduit/internal/activation"
	"github.com/watzon/conduit/internal/contract"
	"github.com/watzon/conduit/internal/determinism"
	"github.com/watzon/conduit/internal/hook"
	"github.com/watzon/conduit/internal/manifest"
	"github.com/watzon/conduit/internal/manifeststore"
	"github.com/watzon/conduit/internal/metrics"
	"github.com/watzon/conduit/internal/pipeline"
	"github.com/watzon/conduit/internal/registry"
	"github.com/watzon/conduit/internal/scheduler"
)

var runFlags struct {
	contractPath  string
	inputPath     string
	outputPath    string
	correlationID string
	runtimeVars   []string
	timeout       time.Duration
	seed          int64
	watch         bool
	schedule      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a pipeline contract",
	Long: `Run executes the given contract once, or repeatedly with --watch
(re-running when the contract file changes) or --schedule (running on a
cron expression). The sealed manifest is written to stdout or --out.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.contractPath, "contract", "c", "", "contract YAML file (required)")
	runCmd.Flags().StringVarP(&runFlags.inputPath, "input", "i", "", "input envelope JSON file ('-' for stdin)")
	runCmd.Flags().StringVarP(&runFlags.outputPath, "out", "o", "", "write the sealed manifest to this file instead of stdout")
	runCmd.Flags().StringVar(&runFlags.correlationID, "correlation-id", "", "correlation id stamped into the manifest")
	runCmd.Flags().StringArrayVar(&runFlags.runtimeVars, "runtime", nil, "runtime context entry as key=value (repeatable)")
	runCmd.Flags().DurationVar(&runFlags.timeout, "timeout", 0, "execution timeout, checked at hook boundaries (0 uses config)")
	runCmd.Flags().Int64Var(&runFlags.seed, "seed", 0, "RNG seed (0 draws a fresh seed per run)")
	runCmd.Flags().BoolVarP(&runFlags.watch, "watch", "w", false, "watch the contract file and re-run on change")
	runCmd.Flags().StringVar(&runFlags.schedule, "schedule", "", "cron expression to run on a schedule")
	_ = runCmd.MarkFlagRequired("contract")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	c, plan, err := loadPlan(runFlags.contractPath)
	if err != nil {
		return err
	}

	input, err := readEnvelope(runFlags.inputPath)
	if err != nil {
		return err
	}

	runtimeCtx, err := parseRuntimeVars(runFlags.runtimeVars)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var archiver *manifeststore.Archiver
	if cfg.Archive.Enabled {
		archiver, err = manifeststore.NewArchiver(cmd.Context(), cfg.Archive)
		if err != nil {
			return err
		}
	}

	session := &runSession{
		store:    store,
		archiver: archiver,
	}
	if err := session.rebuild(c, plan); err != nil {
		return err
	}

	oneShot := !runFlags.watch && runFlags.schedule == ""
	if oneShot {
		sealed := session.execute(cmd.Context(), input, runtimeCtx)
		if err := writeManifest(sealed, runFlags.outputPath); err != nil {
			return err
		}
		if sealed.Status != manifest.StatusSuccess {
			return fmt.Errorf("pipeline finished with status %s", sealed.Status)
		}
		return nil
	}

	return session.serve(cmd.Context(), input, runtimeCtx)
}

// runSession holds the state shared by watch and schedule modes: the
// current runner, swapped atomically when the contract reloads.
type runSession struct {
	mu       sync.Mutex
	contract *contract.Contract
	runner   *pipeline.Runner
	store    *manifeststore.Store
	archiver *manifeststore.Archiver
}

func (s *runSession) rebuild(c *contract.Contract, plan *registry.Plan) error {
	timeout := runFlags.timeout
	if timeout == 0 {
		timeout = cfg.Runner.Timeout
	}

	var rng *determinism.RNG
	if runFlags.seed != 0 {
		rng = determinism.NewRNG(runFlags.seed)
	}

	runner, err := pipeline.New(plan, pipeline.Options{
		PipelineID:    c.Pipeline,
		CorrelationID: runFlags.correlationID,
		Node:          cfg.Runner.Node,
		ContractID:    c.ID,
		RNG:           rng,
		Timeout:       timeout,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.contract = c
	s.runner = runner
	s.mu.Unlock()
	return nil
}

func (s *runSession) execute(ctx context.Context, input hook.Envelope, runtimeCtx map[string]any) *manifest.Manifest {
	s.mu.Lock()
	c, runner := s.contract, s.runner
	s.mu.Unlock()

	actx := activation.Context{
		Contract: map[string]any{
			"pipeline": c.Pipeline,
			"id":       c.ID,
		},
		Input:   input.Payload,
		Runtime: runtimeCtx,
	}

	sealed := runner.Execute(ctx, actx, input)
	s.persist(ctx, sealed)
	return sealed
}

func (s *runSession) persist(ctx context.Context, sealed *manifest.Manifest) {
	if s.store != nil {
		if err := s.store.Put(ctx, sealed); err != nil {
			log.Error().Err(err).Msg("Failed to store manifest")
		}
	}
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, sealed); err != nil {
			log.Error().Err(err).Msg("Failed to archive manifest")
		}
	}
}

// serve runs in watch and/or schedule mode until interrupted.
func (s *runSession) serve(parent context.Context, input hook.Envelope, runtimeCtx map[string]any) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetricsListener(ctx)

	// Watch mode runs once up front; schedule mode waits for the first
	// tick.
	if runFlags.watch {
		s.execute(ctx, input, runtimeCtx)

		watcher, err := contract.NewWatcher(runFlags.contractPath, 0, func(c *contract.Contract) {
			reg, err := c.BuildRegistry(Builtins())
			if err != nil {
				log.Error().Err(err).Msg("Reloaded contract rejected, keeping previous")
				return
			}
			plan, err := reg.Plan()
			if err != nil {
				log.Error().Err(err).Msg("Reloaded contract rejected, keeping previous")
				return
			}
			if err := s.rebuild(c, plan); err != nil {
				log.Error().Err(err).Msg("Reloaded contract rejected, keeping previous")
				return
			}
			s.execute(ctx, input, runtimeCtx)
		})
		if err != nil {
			return err
		}
		watcher.Start()
		defer watcher.Stop()
	}

	if runFlags.schedule != "" {
		sched := scheduler.New()
		if _, err := sched.Add(runFlags.schedule, func() {
			s.execute(ctx, input, runtimeCtx)
		}); err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()

		log.Info().Str("schedule", runFlags.schedule).Msg("Pipeline scheduled")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}

// loadPlan parses a contract and resolves its execution plan against the
// builtin handler catalog.
func loadPlan(path string) (*contract.Contract, *registry.Plan, error) {
	c, err := contract.Load(path)
	if err != nil {
		return nil, nil, err
	}

	reg, err := c.BuildRegistry(Builtins())
	if err != nil {
		return nil, nil, err
	}

	plan, err := reg.Plan()
	if err != nil {
		return nil, nil, err
	}

	return c, plan, nil
}

func readEnvelope(path string) (hook.Envelope, error) {
	var env hook.Envelope

	if path == "" {
		return env, nil
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return env, fmt.Errorf("reading input: %w", err)
	}

	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("parsing input envelope: %w", err)
	}
	return env, nil
}

func parseRuntimeVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid runtime entry %q, expected key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

func openStore() (*manifeststore.Store, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}

	store, err := manifeststore.Open(&cfg.Store)
	if err != nil {
		return nil, err
	}

	if cfg.Store.Retention > 0 {
		cutoff := time.Now().Add(-cfg.Store.Retention)
		if _, err := store.DeleteOlderThan(context.Background(), cutoff); err != nil {
			log.Warn().Err(err).Msg("Manifest retention prune failed")
		}
	}

	return store, nil
}

func writeManifest(m *manifest.Manifest, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func startMetricsListener(ctx context.Context) {
	if !cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}

	go func() {
		log.Info().Str("listen", cfg.Metrics.Listen).Msg("Metrics listener started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics listener failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
