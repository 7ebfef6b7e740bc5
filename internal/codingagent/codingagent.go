// Package codingagent implements the Coding-Agent Registry: capability-
// detected wrappers around external coding-agent CLIs, selected either by
// explicit name or by priority fallback over whichever CLIs are actually
// installed.
//
// Grounded on internal/agent's Agent interface (explicit typed structs, a
// process-wide registry with Register/Get/List, no runtime reflection) and
// on internal/agent/{claudecode,codex,aider}'s BuildCommand/BuildPrompt
// idiom for constructing CLI invocations, generalized from "build docker
// run args for a container image" to "build an argv for a CLI already on
// PATH" since spec §4.7 drives workers through a bare CLI invocation, not
// a container image.
package codingagent

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/andywolf/agentorch/internal/supervisor"
)

// ExecuteOptions configures one coding-agent invocation.
type ExecuteOptions struct {
	WorkingDirectory string
	Prompt           string
	Timeout          time.Duration
	Env              []string
}

// ExecuteResult is the uniform, never-throws outcome of Adapter.Execute.
type ExecuteResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Success  bool
}

// Adapter is the capability set every coding-agent variant implements,
// per spec §9: {execute, isAvailable, getVersion, name, displayName}.
type Adapter interface {
	Name() string
	DisplayName() string
	Execute(ctx context.Context, opts ExecuteOptions) (ExecuteResult, error)
	IsAvailable(ctx context.Context) bool
	GetVersion(ctx context.Context) string
}

// binaryAdapter is the shared shape every variant below builds on: a CLI
// binary name, an argv builder, and a version probe flag.
type binaryAdapter struct {
	name        string
	displayName string
	binary      string
	versionFlag string
	buildArgs   func(opts ExecuteOptions) []string
}

func (a *binaryAdapter) Name() string        { return a.name }
func (a *binaryAdapter) DisplayName() string { return a.displayName }

func (a *binaryAdapter) Execute(ctx context.Context, opts ExecuteOptions) (ExecuteResult, error) {
	sup := supervisor.New("", "")
	command := append([]string{a.binary}, a.buildArgs(opts)...)
	timeoutSeconds := 0
	if opts.Timeout > 0 {
		timeoutSeconds = int(opts.Timeout.Seconds())
	}
	res := sup.Execute(ctx, command, supervisor.ExecuteOptions{
		Cwd:            opts.WorkingDirectory,
		Env:            opts.Env,
		TimeoutSeconds: timeoutSeconds,
	})
	return ExecuteResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Success:  res.ExitCode == 0 && !res.TimedOut && !res.Rejected,
	}, nil
}

func (a *binaryAdapter) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(a.binary)
	return err == nil
}

func (a *binaryAdapter) GetVersion(ctx context.Context) string {
	if _, err := exec.LookPath(a.binary); err != nil {
		return ""
	}
	cmd := exec.CommandContext(ctx, a.binary, a.versionFlag)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// NewClaudeCode wraps the "claude" CLI, grounded on
// internal/agent/claudecode/adapter.go's BuildCommand
// (--print, --dangerously-skip-permissions, positional prompt).
func NewClaudeCode() Adapter {
	return &binaryAdapter{
		name:        "claude-code",
		displayName: "Claude Code",
		binary:      "claude",
		versionFlag: "--version",
		buildArgs: func(opts ExecuteOptions) []string {
			return []string{"--print", "--dangerously-skip-permissions", opts.Prompt}
		},
	}
}

// NewOpenCode wraps the "opencode" CLI, grounded on
// internal/agent/aider/adapter.go's non-interactive flag style generalized
// to OpenCode's own CLI surface.
func NewOpenCode() Adapter {
	return &binaryAdapter{
		name:        "opencode",
		displayName: "OpenCode",
		binary:      "opencode",
		versionFlag: "--version",
		buildArgs: func(opts ExecuteOptions) []string {
			return []string{"run", "--non-interactive", opts.Prompt}
		},
	}
}

// NewKiroCli wraps the "kiro" CLI, grounded on
// internal/agent/codex/adapter.go's JSON-event, non-interactive mode.
func NewKiroCli() Adapter {
	return &binaryAdapter{
		name:        "kiro",
		displayName: "Kiro CLI",
		binary:      "kiro",
		versionFlag: "--version",
		buildArgs: func(opts ExecuteOptions) []string {
			return []string{"exec", "--non-interactive", "--prompt", opts.Prompt}
		},
	}
}

// --- registry ---------------------------------------------------------

// DefaultPriority is the fallback order Select walks when no explicit name
// is given, matching spec §9's {OpenCode, ClaudeCode, KiroCli} variant list.
var DefaultPriority = []string{"claude-code", "opencode", "kiro"}

const availabilityTTL = 30 * time.Second

type availabilityCache struct {
	mu       sync.Mutex
	checked  time.Time
	value    bool
}

// Registry holds every known coding-agent Adapter plus a TTL cache of its
// last availability probe, so repeated Select calls during one workflow
// don't re-exec each CLI's version probe on every ticket.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	cache    map[string]*availabilityCache
}

// NewRegistry constructs a Registry with explicit init (no package-level
// global state), matching spec §9's "process-wide registry ... has
// explicit init and teardown".
func NewRegistry() *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		cache:    make(map[string]*availabilityCache),
	}
	r.Register(NewClaudeCode())
	r.Register(NewOpenCode())
	r.Register(NewKiroCli())
	return r
}

// Register adds or replaces an adapter by name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	r.cache[a.Name()] = &availabilityCache{}
}

// Get retrieves a registered adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown coding-agent: %s", name)
	}
	return a, nil
}

// List returns every registered adapter name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}

// IsAvailable probes (and TTL-caches) whether name's underlying CLI is
// currently reachable.
func (r *Registry) IsAvailable(ctx context.Context, name string) bool {
	r.mu.RLock()
	a, ok := r.adapters[name]
	c := r.cache[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.checked) < availabilityTTL {
		return c.value
	}
	c.value = a.IsAvailable(ctx)
	c.checked = time.Now()
	return c.value
}

// Select picks an adapter by explicit name if given and available, else
// walks DefaultPriority for the first available adapter. Returns
// (nil, false) when nothing is available, which the Workflow Engine reads
// as AI/coding-agent unavailability per spec §4.12.
func (r *Registry) Select(ctx context.Context, explicitName string) (Adapter, bool) {
	if explicitName != "" {
		if a, err := r.Get(explicitName); err == nil && r.IsAvailable(ctx, explicitName) {
			return a, true
		}
		return nil, false
	}
	for _, name := range DefaultPriority {
		if r.IsAvailable(ctx, name) {
			a, err := r.Get(name)
			if err == nil {
				return a, true
			}
		}
	}
	return nil, false
}

// AnyAvailable reports whether at least one registered coding-agent is
// currently reachable, used by the Workflow Engine's AI-availability gate.
func (r *Registry) AnyAvailable(ctx context.Context) bool {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	r.mu.RUnlock()
	for _, n := range names {
		if r.IsAvailable(ctx, n) {
			return true
		}
	}
	return false
}
