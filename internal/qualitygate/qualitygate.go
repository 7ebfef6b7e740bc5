// Package qualitygate implements the Quality Gate: running lint then test
// inside a ticket's workspace, parsing their structured output, and
// recommending retry/reassign/escalate based on a worker's failure streak.
//
// Grounded on internal/scanner/build.go's detectBuildSystem (test/lint
// command detection by directory/extension probing) for skip-test
// detection, and on internal/controller/task_state.go's TestRetries
// counter / 3-strikes-then-PhaseBlocked escalation pattern for the
// decision-recommender thresholds.
package qualitygate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andywolf/agentorch/internal/scanner"
	"github.com/andywolf/agentorch/internal/supervisor"
)

// TestResult is the structured outcome of parsing a test run's output.
type TestResult struct {
	Total, Passed, Failed, Skipped int
	Coverage                       float64 // -1 when not reported
	Parsed                         bool
}

// LintResult is the structured outcome of parsing a lint run's output.
type LintResult struct {
	ErrorCount, WarningCount int
	Passed                   bool
	Parsed                   bool
}

// GateStepResult wraps one gate step (lint or test) with its execution
// metadata, matching spec §4.9's {executed, passed, output, durationMs,
// skipReason?} shape.
type GateStepResult struct {
	Executed   bool
	Passed     bool
	Output     string
	DurationMs int64
	SkipReason string
	Test       *TestResult
	Lint       *LintResult
}

// Report is the Quality Gate's overall verdict for one ticket's workspace.
type Report struct {
	Success    bool
	Lint       GateStepResult
	Test       GateStepResult
	DurationMs int64
	Errors     []string
}

// Gate runs lint and test commands against a workspace via the Process
// Supervisor and parses their output.
type Gate struct {
	Supervisor *supervisor.Supervisor
	RunDir     string // for quality_gates.log; empty disables logging
}

// New creates a Gate.
func New(sup *supervisor.Supervisor, runDir string) *Gate {
	return &Gate{Supervisor: sup, RunDir: runDir}
}

var testDirNames = []string{"tests", "test", "__tests__"}
var testFilePattern = regexp.MustCompile(`(?i)\.(test|spec)\.(ts|tsx|js|jsx)$`)

// hasRecognizedTests reports whether workDir contains anything the test
// step would act on, per spec §4.9's skip-test trigger.
func hasRecognizedTests(workDir string) bool {
	for _, name := range testDirNames {
		if info, err := os.Stat(filepath.Join(workDir, name)); err == nil && info.IsDir() {
			return true
		}
	}
	found := false
	_ = filepath.Walk(workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || found {
			return nil
		}
		if info.IsDir() {
			if info.Name() == "node_modules" || info.Name() == ".git" || info.Name() == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if testFilePattern.MatchString(info.Name()) {
			found = true
		}
		return nil
	})
	return found
}

// Run executes lint then, if it passes (or is skipped), test, inside
// workDir, logging start/complete/error lines to quality_gates.log.
func (g *Gate) Run(ctx context.Context, workDir string) Report {
	start := time.Now()
	g.log("start workDir=" + workDir)

	info, err := scanner.New(workDir).Scan()
	if err != nil {
		g.log("error: scan failed: " + err.Error())
		return Report{Errors: []string{err.Error()}}
	}

	report := Report{}
	report.Lint = g.runLint(ctx, workDir, info.LintCommands)
	if report.Lint.Executed && !report.Lint.Passed {
		report.Test = GateStepResult{Executed: false, SkipReason: "Lintが失敗したためスキップ"}
	} else if !hasRecognizedTests(workDir) {
		report.Test = GateStepResult{Executed: false, SkipReason: "no recognized test files"}
	} else {
		report.Test = g.runTest(ctx, workDir, info.TestCommands)
	}

	report.Success = (!report.Lint.Executed || report.Lint.Passed) && (!report.Test.Executed || report.Test.Passed)
	report.DurationMs = time.Since(start).Milliseconds()
	g.log(fmt.Sprintf("complete success=%v [%dms]", report.Success, report.DurationMs))
	return report
}

func (g *Gate) runLint(ctx context.Context, workDir string, cmds []string) GateStepResult {
	if len(cmds) == 0 {
		return GateStepResult{Executed: false, SkipReason: "no lint command detected"}
	}
	start := time.Now()
	res := g.Supervisor.Execute(ctx, shellCommand(cmds[0]), supervisor.ExecuteOptions{Cwd: workDir})
	output := res.Stdout + res.Stderr
	lint := ParseLintOutput(output)
	step := GateStepResult{
		Executed:   true,
		Passed:     lint.Passed,
		Output:     output,
		DurationMs: time.Since(start).Milliseconds(),
		Lint:       &lint,
	}
	return step
}

func (g *Gate) runTest(ctx context.Context, workDir string, cmds []string) GateStepResult {
	if len(cmds) == 0 {
		return GateStepResult{Executed: false, SkipReason: "no test command detected"}
	}
	start := time.Now()
	res := g.Supervisor.Execute(ctx, shellCommand(cmds[0]), supervisor.ExecuteOptions{Cwd: workDir})
	output := res.Stdout + res.Stderr
	test := ParseTestOutput(output)
	passed := res.ExitCode == 0 && test.Failed == 0
	step := GateStepResult{
		Executed:   true,
		Passed:     passed,
		Output:     output,
		DurationMs: time.Since(start).Milliseconds(),
		Test:       &test,
	}
	return step
}

func shellCommand(s string) []string {
	return []string{"sh", "-c", s}
}

func (g *Gate) log(line string) {
	if g.RunDir == "" {
		return
	}
	if err := os.MkdirAll(g.RunDir, 0755); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(g.RunDir, "quality_gates.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
}

// --- parsers ---------------------------------------------------------

var (
	vitestSummary    = regexp.MustCompile(`Tests\s+(\d+)\s+passed(?:\s*\|\s*(\d+)\s+failed)?(?:\s*\|\s*(\d+)\s+skipped)?\s*\((\d+)\)`)
	testFilesLine    = regexp.MustCompile(`Test Files\s+(\d+)\s+passed(?:\s*\|\s*(\d+)\s+failed)?\s*\((\d+)\)`)
	coverageAllFiles = regexp.MustCompile(`All files[^\d]*(\d+(?:\.\d+)?)\s*%`)
	coverageStmts    = regexp.MustCompile(`Statements:\s*(\d+(?:\.\d+)?)\s*%`)
)

// ParseTestOutput extracts {total, passed, failed, skipped, coverage} from
// vitest-style output, per spec §4.9.
func ParseTestOutput(output string) TestResult {
	result := TestResult{Coverage: -1}

	if m := vitestSummary.FindStringSubmatch(output); m != nil {
		result.Passed = atoi(m[1])
		result.Failed = atoi(m[2])
		result.Skipped = atoi(m[3])
		result.Total = atoi(m[4])
		result.Parsed = true
	} else if m := testFilesLine.FindStringSubmatch(output); m != nil {
		result.Passed = atoi(m[1])
		result.Failed = atoi(m[2])
		result.Total = atoi(m[3])
		result.Parsed = true
	}

	if m := coverageAllFiles.FindStringSubmatch(output); m != nil {
		result.Coverage = atof(m[1])
	} else if m := coverageStmts.FindStringSubmatch(output); m != nil {
		result.Coverage = atof(m[1])
	}

	return result
}

var lintProblemsLine = regexp.MustCompile(`(?:✖\s*)?(\d+)\s+problems?\s*\((\d+)\s+errors?,\s*(\d+)\s+warnings?\)`)

// ParseLintOutput extracts {errorCount, warningCount, passed} from
// eslint-style "✖ X problems (Y errors, Z warnings)" output. Empty output
// means passed. Unparseable non-empty output conservatively passes with
// Parsed=false, per spec §4.9.
func ParseLintOutput(output string) LintResult {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return LintResult{Passed: true, Parsed: true}
	}
	if m := lintProblemsLine.FindStringSubmatch(trimmed); m != nil {
		errs := atoi(m[2])
		warns := atoi(m[3])
		return LintResult{ErrorCount: errs, WarningCount: warns, Passed: errs == 0, Parsed: true}
	}
	return LintResult{Passed: true, Parsed: false}
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return -1
	}
	return f
}

// --- decision recommendation ---------------------------------------------------------

// Decision is the recommended next action for a failed ticket.
type Decision string

const (
	DecisionRetry    Decision = "retry"
	DecisionReassign Decision = "reassign"
	DecisionEscalate Decision = "escalate"
)

// Recommendation carries the decision plus human-readable retry
// instructions itemizing the failed gates, per spec §4.9/§8 scenario 4.
type Recommendation struct {
	Decision     Decision
	Instructions []string
	Role         string // "quality_authority" when Decision == escalate
}

// Recommend maps a worker's consecutive-failure streak (1-indexed) for one
// grandchild ticket to a decision: 1st fail -> retry, 2nd -> reassign,
// >=3rd -> escalate. Grounded on task_state.go's TestRetries >= 3 ->
// PhaseBlocked threshold.
func Recommend(report Report, failureStreak int) Recommendation {
	switch {
	case failureStreak <= 1:
		return Recommendation{Decision: DecisionRetry, Instructions: retryInstructions(report)}
	case failureStreak == 2:
		return Recommendation{Decision: DecisionReassign, Instructions: retryInstructions(report)}
	default:
		return Recommendation{Decision: DecisionEscalate, Role: "quality_authority", Instructions: retryInstructions(report)}
	}
}

func retryInstructions(report Report) []string {
	var out []string
	if report.Lint.Executed && !report.Lint.Passed {
		out = append(out, "Lintエラーを修正してください")
		for _, line := range strings.Split(report.Lint.Output, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
	}
	if report.Test.Executed && !report.Test.Passed {
		out = append(out, "テストの失敗を修正してください")
		for _, line := range strings.Split(report.Test.Output, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
	}
	return out
}
