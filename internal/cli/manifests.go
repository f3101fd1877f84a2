package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/conduit/internal/manifest"
	"github.com/watzon/conduit/internal/manifeststore"
)

var manifestsCmd = &cobra.Command{
	Use:   "manifests",
	Short: "Work with the local manifest store",
}

var manifestsListFlags struct {
	pipeline string
	status   string
	limit    int
}

var manifestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored manifests, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.List(cmd.Context(), manifeststore.ListOptions{
			Pipeline: manifestsListFlags.pipeline,
			Status:   manifest.RunStatus(manifestsListFlags.status),
			Limit:    manifestsListFlags.limit,
		})
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No manifests stored")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, r := range records {
			fmt.Fprintf(w, "%s  %-10s  %-20s  %s\n",
				r.ID, r.Status, r.Pipeline, r.SealedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var manifestsShowCmd = &cobra.Command{
	Use:   "show <manifest-id>",
	Short: "Print one stored manifest as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		defer store.Close()

		m, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeManifest(m, "")
	},
}

var manifestsPruneFlags struct {
	olderThan time.Duration
}

var manifestsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete manifests older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		defer store.Close()

		window := manifestsPruneFlags.olderThan
		if window == 0 {
			window = cfg.Store.Retention
		}
		if window <= 0 {
			return fmt.Errorf("no retention window; pass --older-than or set store.retention")
		}

		deleted, err := store.DeleteOlderThan(cmd.Context(), time.Now().Add(-window))
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d manifest(s)\n", deleted)
		return nil
	},
}

func init() {
	manifestsListCmd.Flags().StringVar(&manifestsListFlags.pipeline, "pipeline", "", "filter by pipeline name")
	manifestsListCmd.Flags().StringVar(&manifestsListFlags.status, "status", "", "filter by status (success, failed, cancelled)")
	manifestsListCmd.Flags().IntVar(&manifestsListFlags.limit, "limit", 50, "maximum rows to return")

	manifestsPruneCmd.Flags().DurationVar(&manifestsPruneFlags.olderThan, "older-than", 0, "delete manifests sealed before now minus this duration")

	manifestsCmd.AddCommand(manifestsListCmd)
	manifestsCmd.AddCommand(manifestsShowCmd)
	manifestsCmd.AddCommand(manifestsPruneCmd)
	rootCmd.AddCommand(manifestsCmd)
}

func requireStore() (*manifeststore.Store, error) {
	if !cfg.Store.Enabled {
		return nil, fmt.Errorf("manifest store is not enabled; set store.enabled in config")
	}
	return manifeststore.Open(&cfg.Store)
}
