package gitcoord

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ConflictedFile describes one path git left in an unresolved merge state,
// with the three blobs needed to decide whether it auto-resolves.
type ConflictedFile struct {
	Path   string
	Base   string // stage 1, empty if the file didn't exist on the merge base
	Ours   string // stage 2
	Theirs string // stage 3
}

// AutoResolvable reports whether a conflicted file can be resolved without a
// human: either side matches the base (a pure addition on the other side),
// or both sides independently converged on the same content.
func (c ConflictedFile) AutoResolvable() (content string, ok bool) {
	if c.Ours == c.Theirs {
		return c.Ours, true
	}
	if c.Ours == c.Base {
		return c.Theirs, true
	}
	if c.Theirs == c.Base {
		return c.Ours, true
	}
	return "", false
}

// ConflictReportEntry is one conflicted file's resolution status, in the
// {path, hasBase, hasOurs, hasTheirs, autoResolvable} shape the Git
// Coordinator's generateConflictReport operation contractually produces.
type ConflictReportEntry struct {
	Path           string `json:"path"`
	HasBase        bool   `json:"hasBase"`
	HasOurs        bool   `json:"hasOurs"`
	HasTheirs      bool   `json:"hasTheirs"`
	AutoResolvable bool   `json:"autoResolvable"`
}

// ConflictReport is the structured outcome of a merge that could not be
// fully auto-resolved, handed to EscalateConflict instead of leaving the
// repository in a half-merged state.
type ConflictReport struct {
	Files []ConflictReportEntry `json:"files"`
}

// MergeReport summarizes one attempt to merge the task branch into the
// project's agent branch.
type MergeReport struct {
	Success        bool
	Clean          bool
	Resolved       []string // paths auto-resolved
	ConflictReport *ConflictReport
}

// MergeToAgentBranch merges srcBranch into the checked-out agent branch
// inside workDir. On a clean merge, or one where AttemptAutoResolve
// resolves every conflicted path, it commits and returns {Success: true}.
// If any conflict can't be auto-resolved, the merge is aborted outright —
// srcBranch is never left partially merged — and MergeToAgentBranch
// returns {Success: false, ConflictReport} for the caller to escalate.
//
// Grounded on the teacher's git-shell-out idiom in internal/controller/init.go
// (cloneRepository runs git as external commands and wraps stderr through
// sanitizeGitError); the three-way resolution logic and the abort-on-
// unresolved-conflict contract are new, since the teacher's controller
// never merges branches.
func MergeToAgentBranch(workDir, srcBranch string) (MergeReport, error) {
	mergeCmd := exec.Command("git", "merge", "--no-ff", "--no-commit", srcBranch)
	mergeCmd.Dir = workDir
	out, err := mergeCmd.CombinedOutput()
	if err == nil {
		commitCmd := exec.Command("git", "commit", "--no-edit")
		commitCmd.Dir = workDir
		if out, err := commitCmd.CombinedOutput(); err != nil {
			return MergeReport{}, fmt.Errorf("commit merge: %w: %s", err, out)
		}
		return MergeReport{Success: true, Clean: true}, nil
	}
	if !strings.Contains(string(out), "CONFLICT") && !strings.Contains(string(out), "Automatic merge failed") {
		return MergeReport{}, fmt.Errorf("git merge: %w: %s", err, out)
	}

	conflicts, err := GetConflictedFiles(workDir)
	if err != nil {
		abortMerge(workDir)
		return MergeReport{}, err
	}

	resolved, remaining, err := AttemptAutoResolve(workDir, conflicts)
	if err != nil {
		abortMerge(workDir)
		return MergeReport{}, err
	}

	if len(remaining) > 0 {
		abortMerge(workDir)
		rep := GenerateConflictReport(conflicts)
		return MergeReport{Success: false, Resolved: resolved, ConflictReport: &rep}, nil
	}

	commitCmd := exec.Command("git", "commit", "--no-edit")
	commitCmd.Dir = workDir
	if out, err := commitCmd.CombinedOutput(); err != nil {
		return MergeReport{Resolved: resolved}, fmt.Errorf("commit resolved merge: %w: %s", err, out)
	}
	return MergeReport{Success: true, Clean: true, Resolved: resolved}, nil
}

// abortMerge returns workDir to its pre-merge state. Best-effort: if the
// abort itself fails there's nothing more a caller can do than leave the
// repository for a human to inspect directly.
func abortMerge(workDir string) {
	cmd := exec.Command("git", "merge", "--abort")
	cmd.Dir = workDir
	_, _ = cmd.CombinedOutput()
}

// GetConflictedFiles lists every path git's index currently holds in an
// unresolved conflict state, with the base/ours/theirs blobs needed to
// judge auto-resolvability. Standalone rather than inlined into
// MergeToAgentBranch so the Git Coordinator's getConflicts operation can
// report on an in-progress conflicted merge directly.
func GetConflictedFiles(workDir string) ([]ConflictedFile, error) {
	paths, err := conflictedPaths(workDir)
	if err != nil {
		return nil, err
	}
	files := make([]ConflictedFile, 0, len(paths))
	for _, p := range paths {
		cf, err := readConflictStages(workDir, p)
		if err != nil {
			return nil, err
		}
		files = append(files, cf)
	}
	return files, nil
}

// AttemptAutoResolve resolves as many of conflicts as
// ConflictedFile.AutoResolvable allows, writing and staging each
// resolution, and reports back which paths it couldn't resolve.
func AttemptAutoResolve(workDir string, conflicts []ConflictedFile) (resolved []string, remaining []ConflictedFile, err error) {
	for _, cf := range conflicts {
		content, ok := cf.AutoResolvable()
		if !ok {
			remaining = append(remaining, cf)
			continue
		}
		if err := writeAndStage(workDir, cf.Path, content); err != nil {
			remaining = append(remaining, cf)
			continue
		}
		resolved = append(resolved, cf.Path)
	}
	return resolved, remaining, nil
}

// GenerateConflictReport builds the {path, hasBase, hasOurs, hasTheirs,
// autoResolvable} shape for every conflicted file, regardless of whether
// AttemptAutoResolve already resolved some of them, so an escalation
// report always reflects the merge's full conflict surface.
func GenerateConflictReport(conflicts []ConflictedFile) ConflictReport {
	entries := make([]ConflictReportEntry, 0, len(conflicts))
	for _, cf := range conflicts {
		_, autoResolvable := cf.AutoResolvable()
		entries = append(entries, ConflictReportEntry{
			Path:           cf.Path,
			HasBase:        cf.Base != "",
			HasOurs:        cf.Ours != "",
			HasTheirs:      cf.Theirs != "",
			AutoResolvable: autoResolvable,
		})
	}
	return ConflictReport{Files: entries}
}

func conflictedPaths(workDir string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-only", "--diff-filter=U")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list conflicted paths: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// readConflictStages reads the base/ours/theirs blobs for one conflicted
// path out of git's index, via "git show :<stage>:<path>".
func readConflictStages(workDir, path string) (ConflictedFile, error) {
	cf := ConflictedFile{Path: path}
	stages := []struct {
		stage int
		dst   *string
	}{
		{1, &cf.Base}, {2, &cf.Ours}, {3, &cf.Theirs},
	}
	for _, s := range stages {
		cmd := exec.Command("git", "show", fmt.Sprintf(":%d:%s", s.stage, path))
		cmd.Dir = workDir
		out, err := cmd.Output()
		if err != nil {
			// Stage 1 (base) legitimately doesn't exist for a path added on
			// only one side; leave it empty and keep going.
			if s.stage == 1 {
				continue
			}
			return cf, fmt.Errorf("read stage %d of %s: %w", s.stage, path, err)
		}
		*s.dst = string(out)
	}
	return cf, nil
}

func writeAndStage(workDir, path, content string) error {
	full := filepath.Join(workDir, path)
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("write resolved %s: %w", path, err)
	}
	addCmd := exec.Command("git", "add", path)
	addCmd.Dir = workDir
	if out, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add %s: %w: %s", path, err, out)
	}
	return nil
}
