package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andywolf/agentorch/internal/config"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <runId>",
	Short: "Cancel a workflow awaiting approval",
	Long: `Reject any outstanding Approval Gate request for the given workflow,
driving it to the failed phase. A workflow already past its last approval
gate can only be stopped by interrupting the process running "resume" or
"server" for it.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <runId>",
	Short: "Drive a workflow forward from its last persisted phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	runID := args[0]
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}

	wf, ok, err := orch.Store.GetWorkflow(runID)
	if err != nil {
		return executionError(err)
	}
	if !ok {
		return validationError(fmt.Errorf("workflow %s not found", runID))
	}
	if !orch.Approvals.IsWaitingApproval(runID) {
		return executionError(fmt.Errorf("workflow %s has no outstanding approval to reject", runID))
	}
	if err := orch.Approvals.SubmitDecision(model.ApprovalDecision{
		WorkflowID: runID,
		Phase:      wf.Phase,
		Action:     model.ApprovalReject,
		Feedback:   "stopped via agentium stop",
		DecidedAt:  time.Now().UTC(),
	}); err != nil {
		return executionError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "workflow %s: stop requested\n", runID)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(cmd.OutOrStdout(), "\nreceived interrupt, cancelling...")
		cancel()
	}()

	if err := orch.Engine.Run(ctx, runID); err != nil {
		return executionError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "workflow %s completed\n", runID)
	return nil
}
