package gitcoord

import (
	"strings"
	"testing"
)

func TestGenerateBranchName(t *testing.T) {
	tests := []struct {
		name        string
		ticketID    string
		description string
		want        string
	}{
		{
			name:        "simple description",
			ticketID:    "T-1",
			description: "Add user login",
			want:        "agent/T-1-add-user-login",
		},
		{
			name:        "punctuation stripped",
			ticketID:    "T-2",
			description: "Fix bug: nil pointer!",
			want:        "agent/T-2-fix-bug-nil-pointer",
		},
		{
			name:        "empty description",
			ticketID:    "T-3",
			description: "",
			want:        "agent/T-3-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateBranchName(tt.ticketID, tt.description)
			if got != tt.want {
				t.Errorf("GenerateBranchName(%q, %q) = %q, want %q", tt.ticketID, tt.description, got, tt.want)
			}
		})
	}
}

func TestGenerateBranchName_truncatesToMaxLength(t *testing.T) {
	long := "this is a very long description that keeps going and going and going and going"
	got := GenerateBranchName("T-99", long)

	if len(got) > maxBranchLength {
		t.Errorf("branch name length = %d, want <= %d (%q)", len(got), maxBranchLength, got)
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("branch name %q ends with a trailing dash after truncation", got)
	}
	if !strings.HasPrefix(got, "agent/T-99-") {
		t.Errorf("branch name %q does not start with expected prefix", got)
	}
}

func TestGenerateBranchName_neverHasConsecutiveDashes(t *testing.T) {
	got := GenerateBranchName("T-7", "weird---spacing___and!!!punctuation")
	if strings.Contains(got, "--") {
		t.Errorf("branch name %q contains consecutive dashes", got)
	}
}

func TestGenerateCommitMessage(t *testing.T) {
	got := GenerateCommitMessage("T-1", "Add user login")
	want := "[T-1] Add user login"
	if got != want {
		t.Errorf("GenerateCommitMessage() = %q, want %q", got, want)
	}
}
