package supervisor

import (
	"path/filepath"
	"strings"
)

// interactiveNames lists basenames of programs the Supervisor refuses to
// launch outright: editors, pagers, network shells, and language REPLs
// invoked with no file or eval argument.
var interactiveNames = map[string]bool{
	"vim": true, "vi": true, "nano": true, "emacs": true,
	"less": true, "more": true, "man": true,
	"ssh": true, "telnet": true, "ftp": true, "sftp": true,
	"python": true, "python3": true, "node": true, "irb": true, "ruby": true,
	"psql": true, "mysql": true, "redis-cli": true,
	"top": true, "htop": true, "watch": true,
}

// replNonInteractiveFlags are flags/args that turn a would-be REPL
// invocation into a non-interactive one-shot run (a file argument, or an
// eval/code flag).
var replEvalFlags = map[string]bool{
	"-c": true, "-e": true, "--eval": true, "--command": true,
}

// serverPatterns matches commands that start long-lived listeners: dev
// server launchers, web framework run commands, and container-compose up.
// These are demoted to background rather than rejected or run to
// completion (they never exit on their own).
var serverPatterns = []func(argv []string) bool{
	func(argv []string) bool { return matchesAny(argv, "npm", "run", "dev") },
	func(argv []string) bool { return matchesAny(argv, "npm", "start") },
	func(argv []string) bool { return matchesAny(argv, "yarn", "dev") },
	func(argv []string) bool { return matchesAny(argv, "pnpm", "dev") },
	func(argv []string) bool { return basename(argv) == "vite" },
	func(argv []string) bool { return basename(argv) == "webpack-dev-server" },
	func(argv []string) bool {
		return basename(argv) == "docker-compose" && contains(argv, "up")
	},
	func(argv []string) bool {
		return basename(argv) == "docker" && contains(argv, "compose") && contains(argv, "up")
	},
	func(argv []string) bool { return matchesAny(argv, "rails", "server") },
	func(argv []string) bool { return matchesAny(argv, "python", "manage.py", "runserver") },
	func(argv []string) bool { return matchesAny(argv, "python3", "manage.py", "runserver") },
	func(argv []string) bool { return matchesAny(argv, "go", "run") && hasServerHint(argv) },
}

func basename(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return filepath.Base(argv[0])
}

func contains(argv []string, token string) bool {
	for _, a := range argv {
		if a == token {
			return true
		}
	}
	return false
}

func matchesAny(argv []string, want ...string) bool {
	if len(argv) == 0 {
		return false
	}
	if basename(argv) != want[0] {
		return false
	}
	for _, w := range want[1:] {
		if !contains(argv[1:], w) {
			return false
		}
	}
	return true
}

// hasServerHint is a conservative guard for "go run ./cmd/server"-style
// invocations: only treated as a server command when the target path
// mentions a server-ish name, since "go run" is otherwise a normal
// foreground build command.
func hasServerHint(argv []string) bool {
	for _, a := range argv[1:] {
		lower := strings.ToLower(a)
		if strings.Contains(lower, "server") || strings.Contains(lower, "serve") {
			return true
		}
	}
	return false
}

// isInteractiveCommand reports whether argv would require a TTY to drive.
// A REPL name invoked bare (e.g. "python") is interactive; invoked with a
// file argument or an eval flag (e.g. "python script.py", "node -e '...'")
// it is not, since it runs to completion without operator input.
func isInteractiveCommand(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	name := basename(argv)
	if !interactiveNames[name] {
		return false
	}
	// ssh/telnet/ftp/sftp and editors/pagers are interactive regardless of
	// arguments — they either open a remote shell or a screen UI.
	switch name {
	case "python", "python3", "node", "irb", "ruby":
		for _, arg := range argv[1:] {
			if replEvalFlags[arg] {
				return false
			}
			if !strings.HasPrefix(arg, "-") {
				return false // positional file argument: one-shot script run
			}
		}
		return true
	default:
		return true
	}
}

// isServerCommand reports whether argv launches a long-lived listener that
// should be demoted to a background process rather than run to completion.
func isServerCommand(argv []string) bool {
	for _, match := range serverPatterns {
		if match(argv) {
			return true
		}
	}
	return false
}
