package cli

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/andywolf/agentorch/internal/config"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/spf13/cobra"
)

// judgeCmd resolves a quality-gate escalation that reached the Approval
// Gate with role quality_authority (spec §4.9's "≥3 fails -> escalate").
var judgeCmd = &cobra.Command{
	Use:   "judge <runId>",
	Short: "Render a decision on a quality-gate escalation",
	Long: `Resolve an Approval Gate request that the Quality Gate escalated after
repeated failures. Without --waiver, prompts interactively for
approve/revise/reject. With --waiver, approves and records the waiver id
as the decision's feedback.`,
	Args: cobra.ExactArgs(1),
	RunE: runJudge,
}

func init() {
	rootCmd.AddCommand(judgeCmd)
	judgeCmd.Flags().String("waiver", "", "waiver id justifying an approval over the escalation")
}

func runJudge(cmd *cobra.Command, args []string) error {
	runID := args[0]
	waiverID, _ := cmd.Flags().GetString("waiver")

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
		return executionError(fmt.Errorf("workflow %s has no pending escalation", runID))
	}

	decision := model.ApprovalDecision{WorkflowID: runID, Phase: wf.Phase, DecidedAt: time.Now().UTC()}

	if waiverID != "" {
		entries, err := orch.Store.ListKnowledgeEntries()
		if err != nil {
			return executionError(err)
		}
		if !waiverExists(entries, waiverID) {
			return validationError(fmt.Errorf("waiver %s not found; create it with 'agentium waiver create' first", waiverID))
		}
		decision.Action = model.ApprovalApprove
		decision.Feedback = fmt.Sprintf("waiver:%s", waiverID)
	} else {
		action, feedback, err := promptJudgeDecision(cmd)
		if err != nil {
			return executionError(err)
		}
		decision.Action = action
		decision.Feedback = feedback
	}

	if err := orch.Approvals.SubmitDecision(decision); err != nil {
		return executionError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "workflow %s: escalation resolved as %s\n", runID, decision.Action)
	return nil
}

func promptJudgeDecision(cmd *cobra.Command) (model.ApprovalAction, string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "approve/revise/reject? ")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return "", "", fmt.Errorf("no input")
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "approve", "a":
		return model.ApprovalApprove, "", nil
	case "revise", "r":
		return model.ApprovalRequestRevision, "manual revision requested via agentium judge", nil
	default:
		return model.ApprovalReject, "manual rejection via agentium judge", nil
	}
}
