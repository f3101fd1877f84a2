// Package cli implements the conduit command line interface.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/conduit/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "A deterministic hook-pipeline runner",
	Long: `Conduit executes pipelines declared as hook contracts:

  - Hooks run in six fixed phases with dependency-resolved ordering
  - CEL predicates decide which hooks activate, with recorded reasons
  - Every run produces a sealed, replayable execution manifest
  - Recorded runs replay byte-for-byte from injected time, randomness,
    and effect outcomes

Run a pipeline:
  conduit run --contract pipeline.yaml --input input.json

Replay a recorded run:
  conduit replay --contract pipeline.yaml --manifest manifest.json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./conduit.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// setupLogging configures zerolog from the loaded config; --verbose
// forces debug level.
func setupLogging() {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stderr)
	if cfg.Logging.Format != "json" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	lc := logger.With().Timestamp()
	if cfg.Logging.Caller {
		lc = lc.Caller()
	}
	log.Logger = lc.Logger()
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}
