package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/andywolf/agentorch/internal/approval"
	"github.com/andywolf/agentorch/internal/bus"
	"github.com/andywolf/agentorch/internal/codingagent"
	"github.com/andywolf/agentorch/internal/config"
	"github.com/andywolf/agentorch/internal/engine"
	"github.com/andywolf/agentorch/internal/github"
	"github.com/andywolf/agentorch/internal/gitcoord"
	"github.com/andywolf/agentorch/internal/meeting"
	"github.com/andywolf/agentorch/internal/observability"
	"github.com/andywolf/agentorch/internal/project"
	"github.com/andywolf/agentorch/internal/secretaccess"
	"github.com/andywolf/agentorch/internal/store"
	"github.com/andywolf/agentorch/internal/workerpool"
	"github.com/andywolf/agentorch/internal/workspace"
)

// stateDirName is where every orchestrator-facing CLI command persists
// state, relative to the working directory, mirroring the ".agentium.yaml"
// convention internal/cli/init.go already establishes for config.
const stateDirName = ".agentium"

// orchestrator bundles every component the execute/status/stop/resume/
// project/server commands share, wired the way a long-running control-API
// process wires them in internal/api.NewServer.
type orchestrator struct {
	Engine    *engine.Engine
	Store     *store.Store
	Approvals *approval.Gate
	Projects  *project.Registry
	Agents    *codingagent.Registry
	Pool      *workerpool.Pool
	Bus       bus.Bus
	RunsDir   string
}

// buildOrchestrator wires one instance of every orchestrator component
// against on-disk state under .agentium/. Each CLI invocation builds its
// own orchestrator and tears down when the process exits; Engine.Run
// resumes a workflow from whatever phase was last persisted, so separate
// invocations (e.g. "execute" followed later by "resume") compose safely.
func buildOrchestrator(cfg *config.Config, maxWorkers int, useContainers bool) (*orchestrator, error) {
	stateDir := filepath.Join(stateDirName, "state")
	runsDir := filepath.Join(stateDirName, "runs")
	busDir := filepath.Join(stateDirName, "bus")
	workspacesDir := filepath.Join(stateDirName, "workspaces")

	s := store.New(stateDir)
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("load state store: %w", err)
	}

	b := bus.NewFileBus(busDir)
	if err := b.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize message bus: %w", err)
	}

	// When a GitHub App is configured, the Git Coordinator authenticates
	// clone/push with a short-lived installation token instead of relying
	// on an ambient ssh-agent or pre-authenticated https remote.
	coord := gitcoord.New(githubTokenFunc(cfg))
	coord.SetBus(b)

	projects := project.New(s, coord)
	approvals := approval.New(s)
	meetings := meeting.New(s)
	agents := codingagent.NewRegistry()

	var prov workspace.Provisioner
	if useContainers {
		prov = workspace.NewDockerProvisioner(workspacesDir, cfg.Controller.Image)
	} else {
		prov = workspace.NewPlainDirProvisioner(workspacesDir)
	}

	pool := workerpool.New(workerpool.Config{MaxWorkers: maxWorkers, UseContainers: useContainers}, coord, agents, b, prov, nil, func(runID string) string {
		return filepath.Join(runsDir, runID)
	})

	eng := engine.New(
		engine.Config{MaxWorkers: maxWorkers, UseContainers: useContainers},
		s, b, approvals, meetings, pool, projects, agents, nil, nil,
	)
	eng.SetTracer(buildTracer())
	eng.SetGit(coord)

	return &orchestrator{
		Engine:    eng,
		Store:     s,
		Approvals: approvals,
		Projects:  projects,
		Agents:    agents,
		Pool:      pool,
		Bus:       b,
		RunsDir:   runsDir,
	}, nil
}

// githubTokenFunc builds a Git Coordinator TokenFunc backed by a GitHub
// App installation token when cfg.GitHub names one, grounded on
// internal/controller/init.go's tokenManager.Refresh/ExpiresAt refresh
// cycle. Returns nil when no GitHub App is configured, matching
// gitcoord.Coordinator's documented "TokenFunc may be nil" contract.
func githubTokenFunc(cfg *config.Config) func() (string, error) {
	if cfg.GitHub.AppID == 0 {
		return nil
	}
	fetcher := secretaccess.New(nil)
	appID := cfg.GitHub.AppID
	installationID := cfg.GitHub.InstallationID
	privateKeySecret := cfg.GitHub.PrivateKeySecret

	var tm *github.TokenManager
	return func() (string, error) {
		if tm == nil {
			key, err := fetcher.Fetch(context.Background(), privateKeySecret)
			if err != nil {
				return "", fmt.Errorf("fetch GitHub App private key: %w", err)
			}
			tm, err = github.NewTokenManager(fmt.Sprintf("%d", appID), installationID, []byte(key))
			if err != nil {
				return "", fmt.Errorf("init GitHub App token manager: %w", err)
			}
		}
		return tm.Token()
	}
}

// buildTracer installs a Langfuse tracer when LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set in the environment, else the Workflow
// Engine keeps its NoOpTracer default. Grounded on
// internal/controller/phase_loop_tracing.go's env-driven opt-in for the
// same Langfuse exporter.
func buildTracer() observability.Tracer {
	pub := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secret := os.Getenv("LANGFUSE_SECRET_KEY")
	if pub == "" || secret == "" {
		return nil
	}
	return observability.NewLangfuseTracer(observability.LangfuseConfig{
		PublicKey: pub,
		SecretKey: secret,
		BaseURL:   os.Getenv("LANGFUSE_BASE_URL"),
	}, log.Default())
}
