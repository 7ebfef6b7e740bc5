package cli

import (
	"errors"
	"fmt"

	"github.com/andywolf/agentorch/internal/config"
	"github.com/andywolf/agentorch/internal/project"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name> <gitUrl>",
	Short: "Register a new project",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectAdd,
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a registered project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unregister a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectRemove,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectListCmd, projectAddCmd, projectShowCmd, projectRemoveCmd)

	projectAddCmd.Flags().String("base-branch", "", "base branch to cut the agent branch from (default: main)")
	projectAddCmd.Flags().String("agent-branch", "", "integration branch the Worker Pool commits to (default: agent/<id>)")
	projectAddCmd.Flags().Bool("skip-url-validation", false, "accept a git URL that doesn't match the recognized schemes")
}

func runProjectList(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}
	projects, err := orch.Store.ListProjects()
	if err != nil {
		return executionError(err)
	}
	if len(projects) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects registered.")
		return nil
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-36s %-20s %s\n", "ID", "NAME", "GIT URL")
	for _, p := range projects {
		fmt.Fprintf(out, "%-36s %-20s %s\n", p.ID, p.Name, p.GitURL)
	}
	return nil
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	name, gitURL := args[0], args[1]
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}

	baseBranch, _ := cmd.Flags().GetString("base-branch")
	agentBranch, _ := cmd.Flags().GetString("agent-branch")
	skipValidation, _ := cmd.Flags().GetBool("skip-url-validation")

	p, err := orch.Projects.AddProject(uuid.NewString(), name, gitURL, project.AddOptions{
		BaseBranch:           baseBranch,
		AgentBranch:          agentBranch,
		SkipGitURLValidation: skipValidation,
	})
	if err != nil {
		var regErr *project.RegistryError
		if errors.As(err, &regErr) {
			return validationError(err)
		}
		return executionError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered project %s (%s)\n", p.ID, p.Name)
	return nil
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	id := args[0]
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}
	p, ok, err := orch.Store.GetProject(id)
	if err != nil {
		return executionError(err)
	}
	if !ok {
		return validationError(fmt.Errorf("project %s not found", id))
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:            %s\n", p.ID)
	fmt.Fprintf(out, "Name:          %s\n", p.Name)
	fmt.Fprintf(out, "Git URL:       %s\n", p.GitURL)
	fmt.Fprintf(out, "Base branch:   %s\n", p.BaseBranch)
	fmt.Fprintf(out, "Agent branch:  %s\n", p.AgentBranch)
	fmt.Fprintf(out, "Last used:     %s\n", p.LastUsed)
	return nil
}

func runProjectRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, 1, false)
	if err != nil {
		return loadError(err)
	}
	if _, ok, err := orch.Store.GetProject(id); err != nil {
		return executionError(err)
	} else if !ok {
		return validationError(fmt.Errorf("project %s not found", id))
	}
	if err := orch.Store.DeleteProject(id); err != nil {
		return executionError(err)
	}
	orch.Projects.ClearCache()
	fmt.Fprintf(cmd.OutOrStdout(), "removed project %s\n", id)
	return nil
}
