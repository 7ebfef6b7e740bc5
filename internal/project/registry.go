// Package project implements the Project Registry: registering source
// repositories, validating their remote URLs, and ensuring each project's
// agent integration branch exists before the Worker Pool cuts task
// branches off it.
//
// Grounded on the teacher's Project-adjacent config validation style
// (internal/config/config.go's field-by-field Validate) and its git
// shell-out idiom (internal/controller/controller.go's cloneRepository),
// reused here through gitcoord.Coordinator rather than re-implemented.
package project

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/andywolf/agentorch/internal/gitcoord"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/andywolf/agentorch/internal/store"
)

// Error codes per spec §4.5.
const (
	ErrProjectExists = "PROJECT_EXISTS"
	ErrInvalidGitURL = "INVALID_GIT_URL"
)

// RegistryError carries one of the error codes above.
type RegistryError struct {
	Code    string
	Message string
}

func (e *RegistryError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

var scpLikeURL = regexp.MustCompile(`^[\w.\-]+@[\w.\-]+:\S+$`)

// ValidateGitURL enforces spec §4.5's URL syntax: an http(s):// or ssh://
// scheme prefix, or an SCP-like "git@host:path" form with a non-empty path
// and no whitespace.
func ValidateGitURL(url string) bool {
	if url == "" || strings.ContainsAny(url, " \t\n") {
		return false
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "ssh://") {
		return true
	}
	if scpLikeURL.MatchString(url) {
		idx := strings.Index(url, ":")
		return idx >= 0 && idx < len(url)-1
	}
	return false
}

// AddOptions configures AddProject.
type AddOptions struct {
	DefaultBranch        string
	IntegrationBranch    string
	WorkDir              string
	BaseBranch           string
	AgentBranch          string
	SkipGitURLValidation bool
}

// Registry owns the set of projects the orchestrator operates against. It
// is backed by the State Store; ClearCache forces the next lookup to read
// through to disk instead of trusting the in-memory name index.
type Registry struct {
	store      *store.Store
	coord      *gitcoord.Coordinator
	nameIndex  map[string]string // project name -> id
	indexValid bool
}

// New creates a Registry over an already-initialized Store.
func New(s *store.Store, coord *gitcoord.Coordinator) *Registry {
	return &Registry{store: s, coord: coord}
}

// ClearCache drops the in-memory name index, forcing AddProject's
// duplicate-name check to rebuild it from disk on next use. Matches spec
// §4.5's "registry file is replaceable on disk; clearCache() forces reload".
func (r *Registry) ClearCache() {
	r.indexValid = false
	r.nameIndex = nil
}

func (r *Registry) ensureIndex() error {
	if r.indexValid {
		return nil
	}
	projects, err := r.store.ListProjects()
	if err != nil {
		return fmt.Errorf("project: list projects: %w", err)
	}
	idx := make(map[string]string, len(projects))
	for _, p := range projects {
		idx[p.Name] = p.ID
	}
	r.nameIndex = idx
	r.indexValid = true
	return nil
}

// AddProject registers a new project. newID is supplied by the caller
// (the engine mints IDs centrally) so the registry stays free of an
// ID-generation dependency of its own.
func (r *Registry) AddProject(newID, name, gitURL string, opts AddOptions) (model.Project, error) {
	if err := r.ensureIndex(); err != nil {
		return model.Project{}, err
	}
	if _, exists := r.nameIndex[name]; exists {
		return model.Project{}, &RegistryError{Code: ErrProjectExists, Message: fmt.Sprintf("project %q already registered", name)}
	}
	if !opts.SkipGitURLValidation && !ValidateGitURL(gitURL) {
		return model.Project{}, &RegistryError{Code: ErrInvalidGitURL, Message: fmt.Sprintf("%q is not a valid git URL", gitURL)}
	}

	baseBranch := opts.BaseBranch
	if baseBranch == "" {
		baseBranch = "main"
	}
	agentBranch := opts.AgentBranch
	if agentBranch == "" {
		agentBranch = "agent/" + newID
	}
	if !strings.HasPrefix(agentBranch, "agent/") {
		agentBranch = "agent/" + agentBranch
	}

	now := time.Now().UTC()
	p := model.Project{
		ID:                newID,
		Name:              name,
		GitURL:            gitURL,
		DefaultBranch:     opts.DefaultBranch,
		IntegrationBranch: opts.IntegrationBranch,
		WorkDir:           opts.WorkDir,
		BaseBranch:        baseBranch,
		AgentBranch:       agentBranch,
		CreatedAt:         now,
		LastUsed:          now,
	}

	if err := r.store.SaveProject(p); err != nil {
		return model.Project{}, fmt.Errorf("project: save: %w", err)
	}
	r.nameIndex[name] = p.ID
	return p, nil
}

// EnsureBranchResult reports the outcome of EnsureAgentBranch.
type EnsureBranchResult struct {
	Success    bool
	Exists     bool
	Created    bool
	BranchName string
}

// EnsureAgentBranch checks out agentBranch in workDir (cloning gitURL first
// if needed), creating it off baseBranch if it doesn't already exist.
// Exists and Created are mutually exclusive when Success is true; both are
// false on failure.
func (r *Registry) EnsureAgentBranch(ctx context.Context, gitURL, workDir, agentBranch, baseBranch string, timeout time.Duration) EnsureBranchResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := r.coord.Clone(ctx, gitURL, workDir); err != nil {
		return EnsureBranchResult{}
	}

	existed, err := r.coord.BranchExists(ctx, workDir, agentBranch)
	if err != nil {
		return EnsureBranchResult{}
	}

	if err := r.coord.EnsureAgentBranch(ctx, workDir, baseBranch, agentBranch); err != nil {
		return EnsureBranchResult{}
	}

	return EnsureBranchResult{
		Success:    true,
		Exists:     existed,
		Created:    !existed,
		BranchName: agentBranch,
	}
}

// TouchProject updates a project's lastUsed timestamp.
func (r *Registry) TouchProject(id string) error {
	p, ok, err := r.store.GetProject(id)
	if err != nil {
		return fmt.Errorf("project: get %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("project: %s not found", id)
	}
	p.LastUsed = time.Now().UTC()
	return r.store.SaveProject(p)
}
