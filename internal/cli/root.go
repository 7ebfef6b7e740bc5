package cli

import (
	"fmt"
	"os"

	"github.com/andywolf/agentorch/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentium",
	Short: "Agentium - orchestrates teams of AI coding agents against a ticket",
	Long: `Agentium decomposes a task instruction into a meeting, a proposal, and a
tree of child/grandchild tickets, then drives them through a pool of coding
agents with quality gates and human approval checkpoints in between.

It also retains the session-provisioning commands ("run", "destroy",
"refresh") for standing up the ephemeral VMs those agents execute inside.

Example:
  agentium execute gc-1 --adapter claude-code
  agentium server --port 8080`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set version for --version flag
	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .agentium.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".agentium")
	}

	viper.SetEnvPrefix("AGENTIUM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
