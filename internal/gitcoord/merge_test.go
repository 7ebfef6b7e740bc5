package gitcoord

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andywolf/agentorch/internal/bus"
	"github.com/andywolf/agentorch/internal/model"
)

// fakeBus records every broadcast it sees. Only Broadcast is exercised by
// EscalateConflict; the rest satisfy bus.Bus trivially.
type fakeBus struct {
	sent []model.AgentMessage
}

func (f *fakeBus) Initialize(ctx context.Context) error { return nil }
func (f *fakeBus) Send(ctx context.Context, message model.AgentMessage) error {
	return nil
}
func (f *fakeBus) Poll(ctx context.Context, agentID string, timeout time.Duration) ([]model.AgentMessage, error) {
	return nil, nil
}
func (f *fakeBus) Broadcast(ctx context.Context, message model.AgentMessage, except []string) error {
	f.sent = append(f.sent, message)
	return nil
}
func (f *fakeBus) GetMessageHistory(ctx context.Context, runID string) ([]model.AgentMessage, error) {
	return nil, nil
}
func (f *fakeBus) Cleanup(ctx context.Context, retentionDays int) error { return nil }
func (f *fakeBus) Type() bus.BackendType                                { return bus.BackendType("fake") }

// testRepo is a temporary git repository for integration-testing the Git
// Coordinator against a real git binary, grounded on
// hugo-lorenzo-mato-quorum-ai's internal/testutil.GitRepo helper (same
// init/config/run shape, trimmed to what gitcoord's own tests need).
type testRepo struct {
	dir string
	t   *testing.T
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	r := &testRepo{dir: t.TempDir(), t: t}
	r.run("init")
	r.run("config", "user.email", "test@example.com")
	r.run("config", "user.name", "Test User")
	r.run("checkout", "-b", "main")
	return r
}

func (r *testRepo) run(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %v: %s: %v", args, out, err)
	}
	return strings.TrimSpace(string(out))
}

func (r *testRepo) writeFile(name, content string) {
	r.t.Helper()
	path := filepath.Join(r.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		r.t.Fatalf("write %s: %v", name, err)
	}
}

func (r *testRepo) commit(message string) string {
	r.t.Helper()
	r.run("add", "-A")
	r.run("commit", "-m", message, "--allow-empty")
	return r.run("rev-parse", "HEAD")
}

func TestConflictedFile_AutoResolvable(t *testing.T) {
	tests := []struct {
		name        string
		cf          ConflictedFile
		wantContent string
		wantOK      bool
	}{
		{
			name:        "both sides converged on the same content",
			cf:          ConflictedFile{Base: "a", Ours: "b", Theirs: "b"},
			wantContent: "b",
			wantOK:      true,
		},
		{
			name:        "only theirs changed",
			cf:          ConflictedFile{Base: "a", Ours: "a", Theirs: "c"},
			wantContent: "c",
			wantOK:      true,
		},
		{
			name:        "only ours changed",
			cf:          ConflictedFile{Base: "a", Ours: "b", Theirs: "a"},
			wantContent: "b",
			wantOK:      true,
		},
		{
			name:   "both sides changed differently",
			cf:     ConflictedFile{Base: "a", Ours: "b", Theirs: "c"},
			wantOK: false,
		},
		{
			name:        "file added independently with identical content",
			cf:          ConflictedFile{Base: "", Ours: "new", Theirs: "new"},
			wantContent: "new",
			wantOK:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, ok := tt.cf.AutoResolvable()
			if ok != tt.wantOK {
				t.Fatalf("AutoResolvable() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && content != tt.wantContent {
				t.Errorf("AutoResolvable() content = %q, want %q", content, tt.wantContent)
			}
		})
	}
}

func TestCoordinator_CloneEnsureBranchCreateTaskBranch(t *testing.T) {
	remote := newTestRepo(t)
	remote.writeFile("README.md", "hello\n")
	remote.commit("initial commit")

	workDir := t.TempDir()
	c := New(nil)
	ctx := context.Background()

	if err := c.Clone(ctx, remote.dir, workDir); err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "README.md")); err != nil {
		t.Fatalf("clone did not check out README.md: %v", err)
	}

	if err := c.EnsureAgentBranch(ctx, workDir, "main", "agent-integration"); err != nil {
		t.Fatalf("EnsureAgentBranch: %v", err)
	}
	branch := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	branch.Dir = workDir
	out, err := branch.Output()
	if err != nil {
		t.Fatalf("rev-parse: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "agent-integration" {
		t.Fatalf("current branch = %q, want agent-integration", got)
	}

	// EnsureAgentBranch must be idempotent: calling it again just checks the
	// existing branch back out rather than failing on "branch already exists".
	if err := c.EnsureAgentBranch(ctx, workDir, "main", "agent-integration"); err != nil {
		t.Fatalf("EnsureAgentBranch (second call): %v", err)
	}

	taskBranch, err := c.CreateTaskBranch(ctx, workDir, "T-1", "add widget")
	if err != nil {
		t.Fatalf("CreateTaskBranch: %v", err)
	}
	if !strings.Contains(taskBranch, "t-1") && !strings.Contains(taskBranch, "T-1") {
		t.Fatalf("task branch name %q doesn't reference the ticket id", taskBranch)
	}
}

func TestMergeToAgentBranch_CleanMerge(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("a.txt", "base\n")
	repo.commit("base commit")

	repo.run("checkout", "-b", "feature")
	repo.writeFile("b.txt", "feature work\n")
	repo.commit("feature commit")
	repo.run("checkout", "main")

	report, err := MergeToAgentBranch(repo.dir, "feature")
	if err != nil {
		t.Fatalf("MergeToAgentBranch: %v", err)
	}
	if !report.Success || !report.Clean {
		t.Fatalf("report = %+v, want success+clean", report)
	}
	if _, err := os.Stat(filepath.Join(repo.dir, "b.txt")); err != nil {
		t.Fatalf("merged branch's file missing after merge: %v", err)
	}
}

func TestMergeToAgentBranch_AutoResolvesNonOverlappingEdit(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("shared.txt", "line one\nline two\nline three\n")
	repo.commit("base commit")

	repo.run("checkout", "-b", "feature")
	repo.writeFile("shared.txt", "line one changed\nline two\nline three\n")
	repo.commit("feature edits start of file")
	repo.run("checkout", "main")
	repo.writeFile("shared.txt", "line one\nline two\nline three changed\n")
	repo.commit("main edits end of file")

	// Git itself resolves this one line-level via its default merge
	// strategy before gitcoord's conflict machinery is even consulted;
	// this exercises the clean-merge path with real divergent history
	// rather than AttemptAutoResolve's whole-blob comparison.
	report, err := MergeToAgentBranch(repo.dir, "feature")
	if err != nil {
		t.Fatalf("MergeToAgentBranch: %v", err)
	}
	if !report.Success {
		t.Fatalf("report = %+v, want success", report)
	}
}

func TestMergeToAgentBranch_AbortsOnUnresolvableConflict(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("conflict.txt", "base content\n")
	repo.commit("base commit")

	repo.run("checkout", "-b", "feature")
	repo.writeFile("conflict.txt", "feature content\n")
	repo.commit("feature edits conflict.txt")
	repo.run("checkout", "main")
	repo.writeFile("conflict.txt", "main content\n")
	repo.commit("main edits conflict.txt")

	report, err := MergeToAgentBranch(repo.dir, "feature")
	if err != nil {
		t.Fatalf("MergeToAgentBranch: %v", err)
	}
	if report.Success {
		t.Fatalf("report = %+v, want success=false", report)
	}
	if report.ConflictReport == nil || len(report.ConflictReport.Files) == 0 {
		t.Fatalf("report.ConflictReport = %+v, want at least one file", report.ConflictReport)
	}
	if report.ConflictReport.Files[0].AutoResolvable {
		t.Fatalf("conflict.txt reported auto-resolvable, want false: both sides diverged from base")
	}

	status := exec.Command("git", "status", "--porcelain")
	status.Dir = repo.dir
	out, err := status.Output()
	if err != nil {
		t.Fatalf("git status: %v", err)
	}
	if strings.TrimSpace(string(out)) != "" {
		t.Fatalf("working tree not clean after abort: %q", out)
	}
	mergeHead := filepath.Join(repo.dir, ".git", "MERGE_HEAD")
	if _, err := os.Stat(mergeHead); err == nil {
		t.Fatalf("MERGE_HEAD still present after abort, merge was not aborted")
	}
}

func TestCoordinator_MergeTaskBranch_EscalatesOnConflict(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("conflict.txt", "base content\n")
	repo.commit("base commit")

	repo.run("checkout", "-b", "task-branch")
	repo.writeFile("conflict.txt", "task content\n")
	repo.commit("task edits conflict.txt")
	repo.run("checkout", "main")
	repo.writeFile("conflict.txt", "agent-branch content\n")
	repo.commit("agent branch edits conflict.txt")

	c := New(nil)
	fb := &fakeBus{}
	c.SetBus(fb)

	ctx := context.Background()
	report, err := c.MergeTaskBranch(ctx, repo.dir, "main", "task-branch", "T-42")
	if err != nil {
		t.Fatalf("MergeTaskBranch: %v", err)
	}
	if report.Success {
		t.Fatalf("report = %+v, want success=false", report)
	}
	if len(fb.sent) != 1 {
		t.Fatalf("escalation broadcasts = %d, want 1", len(fb.sent))
	}
	if fb.sent[0].Payload["type"] != "conflict_escalation" {
		t.Fatalf("escalation payload type = %v, want conflict_escalation", fb.sent[0].Payload["type"])
	}
	if fb.sent[0].Payload["ticketId"] != "T-42" {
		t.Fatalf("escalation payload ticketId = %v, want T-42", fb.sent[0].Payload["ticketId"])
	}
}
