// Package toolcall implements the worker<->LLM tool-call surface: the set
// of typed operations a chat-loop worker can invoke against its workspace
// (read/write/edit/list files, run a command, commit) when no external
// coding-agent CLI is doing the mutation directly.
//
// Grounded on internal/agent/interface.go's Agent capability-interface
// style (explicit typed structs, no reflection) and
// internal/security/validation.go's path-confinement checks, generalized
// from "validate a shell argument" to "confine a path inside a workspace
// root". KindCommand additionally runs every argv through
// security.CommandValidator before it ever reaches the Process Supervisor,
// since a command-kind tool call's argv comes straight from the LLM.
package toolcall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/andywolf/agentorch/internal/gitcoord"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/andywolf/agentorch/internal/security"
	"github.com/andywolf/agentorch/internal/supervisor"
)

// maxReadSize matches spec §4.8's 10 MiB cap on read_file.
const maxReadSize = 10 * 1024 * 1024

// Kind tags which tool a Call invokes. Dispatch is a type switch on Kind,
// never reflection, per spec §9's ADR ("a tagged variant ... executor
// matches on tag").
type Kind string

const (
	KindRead      Kind = "read_file"
	KindWrite     Kind = "write_file"
	KindEdit      Kind = "edit_file"
	KindList      Kind = "list_directory"
	KindCommand   Kind = "run_command"
	KindGitCommit Kind = "git_commit"
	KindGitStatus Kind = "git_status"
)

// EditType distinguishes the three edit_file operations.
type EditType string

const (
	EditReplace EditType = "replace"
	EditInsert  EditType = "insert"
	EditDelete  EditType = "delete"
)

// Edit is one line-range mutation applied by edit_file.
type Edit struct {
	Type      EditType
	StartLine int
	EndLine   int // ignored for insert
	Content   string
}

// Call is the tagged variant dispatched by Executor.Run. Only the fields
// relevant to Kind are populated; the rest are zero.
type Call struct {
	Kind    Kind
	Path    string
	Content string
	Edits   []Edit
	Command []string
	Timeout time.Duration
	Message string   // git_commit
	Files   []string // git_commit, optional subset to stage
}

// DirEntry describes one entry returned by list_directory.
type DirEntry struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"` // file|directory|symlink|other
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Result is the uniform outcome of one Call.
type Result struct {
	Content    string
	Entries    []DirEntry
	CommandOut model.CommandResult
	CommitHash string
	StatusText string
	Err        string
}

// Executor runs tool calls confined to one workspace root.
type Executor struct {
	Root       string
	Supervisor *supervisor.Supervisor
	Git        *gitcoord.Coordinator
	Validator  *security.CommandValidator
}

// New creates an Executor rooted at workDir, with a default
// security.CommandValidator guarding KindCommand calls.
func New(workDir string, sup *supervisor.Supervisor, git *gitcoord.Coordinator) *Executor {
	return &Executor{Root: workDir, Supervisor: sup, Git: git, Validator: security.NewCommandValidator()}
}

// resolve confines path inside the workspace root, rejecting any attempt to
// escape it via ".." or an absolute path pointing elsewhere.
func (e *Executor) resolve(path string) (string, error) {
	full := filepath.Join(e.Root, path)
	rel, err := filepath.Rel(e.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("Access denied: %q resolves outside workspace", path)
	}
	return full, nil
}

// Run dispatches call by Kind and returns its Result. It never panics on a
// malformed call; errors surface in Result.Err so the caller (the worker's
// chat loop) can report a tool failure back to the model instead of
// crashing the loop.
func (e *Executor) Run(ctx context.Context, call Call) Result {
	switch call.Kind {
	case KindRead:
		return e.readFile(call.Path)
	case KindWrite:
		return e.writeFile(call.Path, call.Content)
	case KindEdit:
		return e.editFile(call.Path, call.Edits)
	case KindList:
		return e.listDirectory(call.Path)
	case KindCommand:
		return e.runCommand(ctx, call.Command, call.Timeout)
	case KindGitCommit:
		return e.gitCommit(ctx, call.Message, call.Files)
	case KindGitStatus:
		return e.gitStatus(ctx)
	default:
		return Result{Err: fmt.Sprintf("unknown tool call kind: %s", call.Kind)}
	}
}

func (e *Executor) readFile(path string) Result {
	full, err := e.resolve(path)
	if err != nil {
		return Result{Err: err.Error()}
	}
	info, err := os.Stat(full)
	if err != nil {
		return Result{Err: err.Error()}
	}
	if info.IsDir() {
		return Result{Err: "Cannot read directory as file"}
	}
	if info.Size() > maxReadSize {
		return Result{Err: fmt.Sprintf("file %q exceeds max read size of %d bytes", path, maxReadSize)}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return Result{Content: string(data)}
}

func (e *Executor) writeFile(path, content string) Result {
	full, err := e.resolve(path)
	if err != nil {
		return Result{Err: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return Result{Err: err.Error()}
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return Result{Err: err.Error()}
	}
	return Result{Content: content}
}

// editFile applies edits to a line-indexed (1-based) buffer, in descending
// startLine order so earlier edits don't shift the line numbers later
// edits reference, per spec §4.8.
func (e *Executor) editFile(path string, edits []Edit) Result {
	full, err := e.resolve(path)
	if err != nil {
		return Result{Err: err.Error()}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return Result{Err: err.Error()}
	}

	lines := splitLines(string(data))
	if len(edits) == 0 {
		return Result{Content: string(data)}
	}

	ordered := append([]Edit(nil), edits...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StartLine > ordered[j].StartLine })

	for _, ed := range ordered {
		if ed.StartLine < 1 {
			return Result{Err: "Invalid start line"}
		}
		switch ed.Type {
		case EditInsert:
			if ed.StartLine > len(lines)+1 {
				return Result{Err: fmt.Sprintf("start line %d exceeds file length", ed.StartLine)}
			}
			idx := ed.StartLine - 1
			inserted := splitLines(ed.Content)
			lines = append(lines[:idx], append(inserted, lines[idx:]...)...)
		case EditReplace, EditDelete:
			end := ed.EndLine
			if end == 0 {
				end = ed.StartLine
			}
			if end < ed.StartLine {
				return Result{Err: "End line must be >= start line"}
			}
			if end > len(lines) {
				return Result{Err: fmt.Sprintf("end line %d exceeds file length", end)}
			}
			startIdx, endIdx := ed.StartLine-1, end
			var replacement []string
			if ed.Type == EditReplace {
				replacement = splitLines(ed.Content)
			}
			lines = append(lines[:startIdx], append(replacement, lines[endIdx:]...)...)
		default:
			return Result{Err: fmt.Sprintf("unknown edit type: %s", ed.Type)}
		}
	}

	newContent := strings.Join(lines, "\n")
	if err := os.WriteFile(full, []byte(newContent), 0644); err != nil {
		return Result{Err: err.Error()}
	}
	return Result{Content: newContent}
}

// splitLines splits on "\n" without dropping a trailing empty line, so
// line-indexed edits round-trip exactly.
func splitLines(s string) []string {
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}

func (e *Executor) listDirectory(path string) Result {
	full, err := e.resolve(path)
	if err != nil {
		return Result{Err: err.Error()}
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return Result{Err: err.Error()}
	}
	out := make([]DirEntry, 0, len(entries))
	for _, ent := range entries {
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, DirEntry{
			Name:       ent.Name(),
			Type:       entryType(info),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return Result{Entries: out}
}

func entryType(info os.FileInfo) string {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return "symlink"
	case info.IsDir():
		return "directory"
	case info.Mode().IsRegular():
		return "file"
	default:
		return "other"
	}
}

func (e *Executor) runCommand(ctx context.Context, command []string, timeout time.Duration) Result {
	if e.Supervisor == nil {
		return Result{Err: "no supervisor configured"}
	}
	if len(command) == 0 {
		return Result{Err: "empty command"}
	}
	if e.Validator != nil {
		if err := e.Validator.ValidateCommand(command[0], command[1:]); err != nil {
			return Result{Err: fmt.Sprintf("command rejected: %v", err)}
		}
	}
	res := e.Supervisor.Execute(ctx, command, supervisor.ExecuteOptions{
		Cwd:            e.Root,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	return Result{CommandOut: res}
}

func (e *Executor) gitCommit(ctx context.Context, message string, files []string) Result {
	if e.Git == nil {
		return Result{Err: "no git coordinator configured"}
	}
	hash, err := e.Git.Commit(ctx, e.Root, message, files)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return Result{CommitHash: hash}
}

func (e *Executor) gitStatus(ctx context.Context) Result {
	if e.Git == nil {
		return Result{Err: "no git coordinator configured"}
	}
	status, err := e.Git.GetStatus(ctx, e.Root)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return Result{StatusText: status}
}
