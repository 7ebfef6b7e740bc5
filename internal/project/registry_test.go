package project

import (
	"testing"

	"github.com/andywolf/agentorch/internal/gitcoord"
	"github.com/andywolf/agentorch/internal/store"
)

func TestValidateGitURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"https url", "https://github.com/acme/widgets.git", true},
		{"http url", "http://internal.git.example.com/acme/widgets.git", true},
		{"ssh scheme url", "ssh://git@github.com/acme/widgets.git", true},
		{"scp-like url", "git@github.com:acme/widgets.git", true},
		{"empty", "", false},
		{"contains whitespace", "https://github.com/acme/wid gets.git", false},
		{"no scheme no scp form", "github.com/acme/widgets.git", false},
		{"scp-like with empty path", "git@github.com:", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateGitURL(tt.url)
			if got != tt.want {
				t.Errorf("ValidateGitURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s := store.New(t.TempDir())
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return New(s, gitcoord.New(nil))
}

func TestRegistry_AddProject(t *testing.T) {
	r := newTestRegistry(t)

	p, err := r.AddProject("proj-1", "widgets", "https://github.com/acme/widgets.git", AddOptions{})
	if err != nil {
		t.Fatalf("AddProject() error = %v", err)
	}
	if p.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want main", p.BaseBranch)
	}
	if p.AgentBranch != "agent/proj-1" {
		t.Errorf("AgentBranch = %q, want agent/proj-1", p.AgentBranch)
	}
}

func TestRegistry_AddProject_DuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.AddProject("proj-1", "widgets", "https://github.com/acme/widgets.git", AddOptions{}); err != nil {
		t.Fatalf("first AddProject() error = %v", err)
	}

	_, err := r.AddProject("proj-2", "widgets", "https://github.com/acme/widgets-fork.git", AddOptions{})
	if err == nil {
		t.Fatal("second AddProject() with duplicate name succeeded, want error")
	}
	regErr, ok := err.(*RegistryError)
	if !ok || regErr.Code != ErrProjectExists {
		t.Errorf("AddProject() error = %v, want %s", err, ErrProjectExists)
	}
}

func TestRegistry_AddProject_InvalidURL(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.AddProject("proj-1", "widgets", "not a url", AddOptions{})
	if err == nil {
		t.Fatal("AddProject() with invalid URL succeeded, want error")
	}
	regErr, ok := err.(*RegistryError)
	if !ok || regErr.Code != ErrInvalidGitURL {
		t.Errorf("AddProject() error = %v, want %s", err, ErrInvalidGitURL)
	}
}

func TestRegistry_AddProject_SkipURLValidation(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.AddProject("proj-1", "widgets", "not a url", AddOptions{SkipGitURLValidation: true})
	if err != nil {
		t.Fatalf("AddProject() with SkipGitURLValidation error = %v, want nil", err)
	}
}

func TestRegistry_ClearCacheForcesReload(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.AddProject("proj-1", "widgets", "https://github.com/acme/widgets.git", AddOptions{}); err != nil {
		t.Fatalf("AddProject() error = %v", err)
	}
	r.ClearCache()
	if r.indexValid {
		t.Fatal("ClearCache() left indexValid true")
	}
	_, err := r.AddProject("proj-2", "widgets", "https://github.com/acme/other.git", AddOptions{})
	if err == nil {
		t.Fatal("AddProject() after ClearCache() did not rebuild the duplicate-name index")
	}
}

func TestRegistry_TouchProject(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.AddProject("proj-1", "widgets", "https://github.com/acme/widgets.git", AddOptions{})
	if err != nil {
		t.Fatalf("AddProject() error = %v", err)
	}
	before := p.LastUsed

	if err := r.TouchProject("proj-1"); err != nil {
		t.Fatalf("TouchProject() error = %v", err)
	}
	got, _, err := r.store.GetProject("proj-1")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if !got.LastUsed.After(before) && got.LastUsed != before {
		t.Errorf("TouchProject() did not update LastUsed: before=%v after=%v", before, got.LastUsed)
	}
}
