package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/andywolf/agentorch/internal/api"
	"github.com/andywolf/agentorch/internal/config"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Control API server",
	Long: `Start the Control API Surface (spec §6): the HTTP endpoints external
tooling and the browser dashboard use to create workflows, poll status,
and control the worker population.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().Int("port", 8080, "TCP port to listen on")
	serverCmd.Flags().Int("workers", 4, "maximum concurrent Worker Pool tickets")
	serverCmd.Flags().Bool("containers", false, "run each ticket in an isolated container workspace")
}

func runServer(cmd *cobra.Command, _ []string) error {
	port, _ := cmd.Flags().GetInt("port")
	workers, _ := cmd.Flags().GetInt("workers")
	useContainers, _ := cmd.Flags().GetBool("containers")

	cfg, err := config.Load()
	if err != nil {
		return loadError(fmt.Errorf("load config: %w", err))
	}
	orch, err := buildOrchestrator(cfg, workers, useContainers)
	if err != nil {
		return loadError(err)
	}

	srv := api.NewServer(orch.Engine, orch.Store, orch.Projects, orch.Approvals, api.WithRunsDir(orch.RunsDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(cmd.OutOrStdout(), "\nshutting down control API...")
		cancel()
	}()

	addr := fmt.Sprintf(":%d", port)
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return executionError(err)
	}
	return nil
}
