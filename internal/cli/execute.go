package cli

import (
	"context"
	"fmt"

	"github.com/andywolf/agentorch/internal/config"
	"github.com/andywolf/agentorch/internal/decomposer"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/andywolf/agentorch/internal/workerpool"
	"github.com/spf13/cobra"
)

var executeCmd = &cobra.Command{
	Use:   "execute <ticketId>",
	Short: "Run a single grandchild ticket through the Worker Pool",
	Long: `Submit one grandchild ticket to the Worker Pool directly, outside the
full meeting/proposal/approval phase machine. Useful for re-running or
debugging one unit of work.

Example:
  agentium execute gc-1 --adapter claude-code --workers 2`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	rootCmd.AddCommand(executeCmd)
	executeCmd.Flags().String("adapter", "", "explicit coding-agent CLI name (empty selects by priority)")
	executeCmd.Flags().Int("workers", 1, "maximum concurrent workers in this invocation's pool")
	executeCmd.Flags().Bool("decompose", false, "re-run the Task Decomposer for this ticket's workflow first")
}

func runExecute(cmd *cobra.Command, args []string) error {
	ticketID := args[0]
	explicitAdapter, _ := cmd.Flags().GetString("adapter")
	workers, _ := cmd.Flags().GetInt("workers")
	decompose, _ := cmd.Flags().GetBool("decompose")
	if workers < 1 {
		workers = 1
	}

	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, workers, false)
	if err != nil {
		return loadError(err)
	}

	g, ok, err := orch.Store.GetGrandchildTicket(ticketID)
	if err != nil {
		return executionError(fmt.Errorf("load ticket %s: %w", ticketID, err))
	}
	if !ok {
		return validationError(fmt.Errorf("ticket %s not found", ticketID))
	}
	child, ok, err := orch.Store.GetChildTicket(g.ParentID)
	if err != nil || !ok {
		return executionError(fmt.Errorf("load parent ticket %s: %w", g.ParentID, err))
	}
	wf, ok, err := orch.Store.GetWorkflow(child.WorkflowID)
	if err != nil || !ok {
		return executionError(fmt.Errorf("load workflow %s: %w", child.WorkflowID, err))
	}
	proj, ok, err := orch.Store.GetProject(wf.ProjectID)
	if err != nil || !ok {
		return executionError(fmt.Errorf("load project %s: %w", wf.ProjectID, err))
	}

	if decompose {
		knowledge, _ := orch.Store.ListKnowledgeEntries()
		result := decomposer.Decompose(wf.WorkflowID, wf.Instruction, knowledge, decomposer.Options{})
		for _, c := range result.Children {
			_ = orch.Store.SaveChildTicket(c)
		}
		for _, gc := range result.Grandchildren {
			_ = orch.Store.SaveGrandchildTicket(gc)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "decomposed workflow %s: %d child tickets, %d grandchildren\n",
			wf.WorkflowID, len(result.Children), len(result.Grandchildren))
	}

	result, err := orch.Pool.Submit(context.Background(), workerpool.SubmitRequest{
		RunID:        wf.WorkflowID,
		Project:      proj,
		Ticket:       g,
		WorkerType:   child.Lane,
		AgentID:      string(child.Lane),
		ExplicitCLI:  explicitAdapter,
		Instructions: g.Description,
	})
	if err != nil {
		return executionError(fmt.Errorf("submit ticket %s: %w", ticketID, err))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ticket %s: %s (quality gates passed: %v)\n", ticketID, result.Status, result.QualityGatesPassed)
	for _, e := range result.Errors {
		fmt.Fprintln(out, "  -", e)
	}

	if result.Status == model.ExecError || result.Status == model.ExecQualityFailed {
		return executionError(fmt.Errorf("ticket %s finished as %s", ticketID, result.Status))
	}
	return nil
}
