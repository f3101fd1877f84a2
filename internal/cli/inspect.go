package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/watzon/conduit/internal/hook"
)

var inspectFlags struct {
	jsonOutput bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <contract.yaml>",
	Short: "Show the resolved execution plan for a contract",
	Long: `Inspect parses a contract, resolves its execution plan, and prints
the per-phase hook order, dependencies, priorities, and the plan
fingerprint without executing anything.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectFlags.jsonOutput, "json", false, "emit the plan as JSON")

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	c, plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	if inspectFlags.jsonOutput {
		out := struct {
			Pipeline         string                  `json:"pipeline"`
			ContractID       string                  `json:"contract_id"`
			PlanFingerprint  string                  `json:"plan_fingerprint"`
			PhaseOrder       map[hook.Phase][]string `json:"phase_order"`
			TopologicalOrder []string                `json:"topological_order"`
			DependencyGraph  map[string][]string     `json:"dependency_graph"`
		}{
			Pipeline:         c.Pipeline,
			ContractID:       c.ID,
			PlanFingerprint:  plan.Fingerprint,
			PhaseOrder:       plan.PhaseOrder,
			TopologicalOrder: plan.TopologicalOrder,
			DependencyGraph:  plan.DependencyGraph,
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Pipeline:    %s\n", c.Pipeline)
	if c.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", c.Description)
	}
	fmt.Fprintf(w, "Contract:    %s\n", c.ID)
	fmt.Fprintf(w, "Plan:        %s\n", plan.Fingerprint)
	fmt.Fprintf(w, "Hooks:       %d\n", len(plan.TopologicalOrder))

	for _, phase := range plan.Phases {
		hooks := plan.PhaseHooks(phase)
		if len(hooks) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", phase)
		for i, h := range hooks {
			var details []string
			details = append(details, fmt.Sprintf("priority=%d", h.Priority))
			details = append(details, fmt.Sprintf("category=%s", h.Category))
			if len(h.DependsOn) > 0 {
				details = append(details, "depends_on="+strings.Join(h.DependsOn, ","))
			}
			if h.Predicate != "" {
				details = append(details, fmt.Sprintf("when=%q", h.Predicate))
			}
			if h.Handler != "" {
				details = append(details, "handler="+h.Handler)
			}
			fmt.Fprintf(w, "  %d. %s (%s)\n", i+1, h.Name, strings.Join(details, " "))
		}
	}

	return nil
}
