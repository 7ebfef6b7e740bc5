package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/andywolf/agentorch/internal/config"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// waiverTag marks a KnowledgeEntry as a waiver record rather than an
// ordinary piece of retrospective knowledge. The Data Model (§3) has no
// dedicated Waiver type, so waivers live on the existing append-only
// knowledge log instead of a fabricated store table.
const waiverTag = "waiver"

var waiverCmd = &cobra.Command{
	Use:   "waiver",
	Short: "Record and inspect quality-gate waivers",
}

var waiverCreateCmd = &cobra.Command{
	Use:   "create <reason>",
	Short: "Record a new waiver",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWaiverCreate,
}

var waiverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded waivers",
	Args:  cobra.NoArgs,
	RunE:  runWaiverList,
}

var waiverValidateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Check that a waiver id exists",
	Args:  cobra.ExactArgs(1),
	RunE:  runWaiverValidate,
}

func init() {
	rootCmd.AddCommand(waiverCmd)
	waiverCmd.AddCommand(waiverCreateCmd, waiverListCmd, waiverValidateCmd)
	waiverCreateCmd.Flags().StringSlice("workflow", nil, "workflow id(s) this waiver applies to")
}

func runWaiverCreate(cmd *cobra.Command, args []string) error {
	reason := strings.Join(args, " ")
	workflows, _ := cmd.Flags().GetStringSlice("workflow")

	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}

	entry := model.KnowledgeEntry{
		ID:               uuid.NewString(),
		Title:            "waiver",
		Category:         model.KnowledgeTechnicalNote,
		Content:          reason,
		Tags:             []string{waiverTag},
		RelatedWorkflows: workflows,
		AuthorAgentID:    "cli",
		CreatedAt:        time.Now().UTC(),
	}
	if err := orch.Store.AppendKnowledgeEntry(entry); err != nil {
		return executionError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "waiver %s created\n", entry.ID)
	return nil
}

func runWaiverList(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}
	entries, err := orch.Store.ListKnowledgeEntries()
	if err != nil {
		return executionError(err)
	}
	out := cmd.OutOrStdout()
	found := false
	for _, e := range entries {
		if !hasTag(e.Tags, waiverTag) {
			continue
		}
		found = true
		fmt.Fprintf(out, "%-36s %-20s %s\n", e.ID, e.CreatedAt.Format(time.RFC3339), e.Content)
	}
	if !found {
		fmt.Fprintln(out, "No waivers recorded.")
	}
	return nil
}

func runWaiverValidate(cmd *cobra.Command, args []string) error {
	id := args[0]
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}
	entries, err := orch.Store.ListKnowledgeEntries()
	if err != nil {
		return executionError(err)
	}
	if !waiverExists(entries, id) {
		return validationError(fmt.Errorf("waiver %s not found", id))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "waiver %s is valid\n", id)
	return nil
}

func waiverExists(entries []model.KnowledgeEntry, id string) bool {
	for _, e := range entries {
		if e.ID == id && hasTag(e.Tags, waiverTag) {
			return true
		}
	}
	return false
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
