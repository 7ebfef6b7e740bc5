package workspace

import "testing"

func TestResolveTicketWorkspace(t *testing.T) {
	workDir := setupTierWorkspace(t)
	tiers := map[string][]string{
		"infra": {"packages/db", "packages/config"},
	}

	tests := []struct {
		name     string
		prefix   string
		labels   []string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "no prefix configured leaves ticket unscoped",
			prefix:   "",
			labels:   []string{"pkg:booking"},
			wantPath: "",
		},
		{
			name:     "no package labels leaves ticket unscoped",
			prefix:   "pkg",
			labels:   []string{"bug"},
			wantPath: "",
		},
		{
			name:     "single domain label scopes to that package",
			prefix:   "pkg",
			labels:   []string{"pkg:booking"},
			wantPath: "apps/booking",
		},
		{
			name:     "tiered label scopes to its resolved path",
			prefix:   "pkg",
			labels:   []string{"pkg:db"},
			wantPath: "packages/db",
		},
		{
			name:    "two domain labels is a cross-domain error",
			prefix:  "pkg",
			labels:  []string{"pkg:booking", "pkg:admin"},
			wantErr: true,
		},
		{
			name:    "unknown package name errors",
			prefix:  "pkg",
			labels:  []string{"pkg:nonexistent"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTicketWorkspace(workDir, tt.prefix, tiers, tt.labels)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveTicketWorkspace() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.wantPath {
				t.Errorf("ResolveTicketWorkspace() = %q, want %q", got, tt.wantPath)
			}
		})
	}
}

func TestResolveTicketWorkspace_NoPnpmWorkspace(t *testing.T) {
	workDir := t.TempDir()
	got, err := ResolveTicketWorkspace(workDir, "pkg", nil, []string{"pkg:booking"})
	if err != nil {
		t.Fatalf("ResolveTicketWorkspace() error = %v, want nil", err)
	}
	if got != "" {
		t.Errorf("ResolveTicketWorkspace() = %q, want empty (no pnpm-workspace.yaml)", got)
	}
}
