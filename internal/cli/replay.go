package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/watzon/conduit/internal/manifest"
	"github.com/watzon/conduit/internal/replay"
)

var replayFlags struct {
	contractPath string
	manifestPath string
	manifestID   string
	outputPath   string
	verifyOnly   bool
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded execution and verify determinism",
	Long: `Replay re-executes a sealed manifest against the contract it was
recorded with, feeding the recorded clock readings, RNG seed, and effect
outcomes back into the runner, then compares the replayed manifest
against the original. Any divergence is reported and exits non-zero.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayFlags.contractPath, "contract", "c", "", "contract YAML file (required)")
	replayCmd.Flags().StringVarP(&replayFlags.manifestPath, "manifest", "m", "", "sealed manifest JSON file")
	replayCmd.Flags().StringVar(&replayFlags.manifestID, "id", "", "manifest id to load from the local store")
	replayCmd.Flags().StringVarP(&replayFlags.outputPath, "out", "o", "", "write the replayed manifest to this file")
	replayCmd.Flags().BoolVar(&replayFlags.verifyOnly, "verify-only", false, "report divergences without printing the replayed manifest")
	_ = replayCmd.MarkFlagRequired("contract")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	original, err := loadOriginalManifest(cmd)
	if err != nil {
		return err
	}

	_, plan, err := loadPlan(replayFlags.contractPath)
	if err != nil {
		return err
	}

	replayed, err := replay.Replay(cmd.Context(), original, plan, replay.Options{
		Node: cfg.Runner.Node,
	})
	if err != nil {
		return err
	}

	if !replayFlags.verifyOnly {
		if err := writeManifest(replayed, replayFlags.outputPath); err != nil {
			return err
		}
	}

	divergences := replay.Verify(original, replayed)
	if len(divergences) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Replay verified: no divergences")
		return nil
	}

	for _, d := range divergences {
		fmt.Fprintln(cmd.ErrOrStderr(), "divergence:", d.String())
	}
	return fmt.Errorf("replay diverged in %d field(s)", len(divergences))
}

func loadOriginalManifest(cmd *cobra.Command) (*manifest.Manifest, error) {
	switch {
	case replayFlags.manifestPath != "" && replayFlags.manifestID != "":
		return nil, fmt.Errorf("--manifest and --id are mutually exclusive")

	case replayFlags.manifestPath != "":
		data, err := os.ReadFile(replayFlags.manifestPath)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		var m manifest.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
		return &m, nil

	case replayFlags.manifestID != "":
		store, err := openStore()
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, fmt.Errorf("manifest store is not enabled; set store.enabled in config")
		}
		defer store.Close()
		return store.Get(cmd.Context(), replayFlags.manifestID)

	default:
		return nil, fmt.Errorf("one of --manifest or --id is required")
	}
}
