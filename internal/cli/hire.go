package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// hireCmd and its subcommands exist so the CLI surface matches spec §6
// exactly, but the hiring/JD subsystem itself is explicitly out of scope
// (spec §1, "Out of scope (external collaborators)"): this orchestrator
// assigns work to coding agents already registered in the Coding-Agent
// Registry, it does not source, interview, or hire new ones.
var hireCmd = &cobra.Command{
	Use:   "hire",
	Short: "Delegate to the external hiring/JD subsystem (out of scope here)",
}

func hireStub(name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintf(cmd.ErrOrStderr(),
			"hire %s: the hiring/JD subsystem is an external collaborator system; this orchestrator only runs agents already registered in the Coding-Agent Registry (see 'agentium config')\n", name)
		return executionError(fmt.Errorf("hire %s: not implemented by this orchestrator", name))
	}
}

func init() {
	rootCmd.AddCommand(hireCmd)
	for _, name := range []string{"jd", "interview", "trial", "score", "register", "full"} {
		hireCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("Delegate %q to the external hiring subsystem", name),
			Args:  cobra.ArbitraryArgs,
			RunE:  hireStub(name),
		})
	}
}
