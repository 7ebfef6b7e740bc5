package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andywolf/agentorch/internal/config"
	"github.com/spf13/cobra"
)

// statusCmd reports on the orchestrator's own workflows (per spec §6's
// "status [--verbose|--json]"), not on the cloud-VM sessions the rest of
// this package's run/destroy/refresh commands provision — those are a
// separate infrastructure layer this spec's execution plane doesn't own.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator workflow status",
	Long: `Show the phase and ticket progress of every known workflow.

Examples:
  agentium status              # table of every workflow
  agentium status --verbose    # also list each workflow's child tickets
  agentium status --json       # machine-readable`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("verbose", false, "list child ticket detail per workflow")
	statusCmd.Flags().Bool("json", false, "emit JSON instead of a table")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}

	workflows, err := orch.Store.ListWorkflows()
	if err != nil {
		return executionError(fmt.Errorf("list workflows: %w", err))
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(workflows)
	}

	if len(workflows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No workflows found.")
		return nil
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-38s %-14s %-25s\n", "WORKFLOW", "PHASE", "UPDATED")
	fmt.Fprintln(out, strings.Repeat("-", 78))
	for _, wf := range workflows {
		fmt.Fprintf(out, "%-38s %-14s %-25s\n", wf.WorkflowID, wf.Phase, wf.UpdatedAt.Format(time.RFC3339))
		if !verbose {
			continue
		}
		children, err := orch.Store.ListChildTicketsByWorkflow(wf.WorkflowID)
		if err != nil {
			continue
		}
		for _, c := range children {
			fmt.Fprintf(out, "  child %-12s lane=%-10s status=%s\n", c.ID, c.Lane, c.Status)
		}
	}
	return nil
}
