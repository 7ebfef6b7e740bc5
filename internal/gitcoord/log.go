package gitcoord

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// logGitOp appends one line to <workDir>/.agentorch/git.log: timestamp, the
// operation name, and a short detail string. Best-effort: a logging failure
// never fails the git operation it describes.
func logGitOp(workDir, op, detail string) {
	dir := filepath.Join(workDir, ".agentorch")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "git.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	line := fmt.Sprintf("%s %s %s\n", time.Now().UTC().Format(time.RFC3339), op, detail)
	_, _ = io.WriteString(f, line)
}
