package qualitygate

import "testing"

func TestParseTestOutputVitestStyle(t *testing.T) {
	output := "Test Files  1 passed (1)\nTests  12 passed | 2 failed | 1 skipped (15)\nAll files | 87.5 % "
	res := ParseTestOutput(output)
	if !res.Parsed {
		t.Fatal("expected parsed=true")
	}
	if res.Total != 15 || res.Passed != 12 || res.Failed != 2 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Coverage != 87.5 {
		t.Fatalf("expected coverage 87.5, got %v", res.Coverage)
	}
}

func TestParseTestOutputTestFilesFallback(t *testing.T) {
	output := "Test Files  3 passed | 1 failed (4)"
	res := ParseTestOutput(output)
	if !res.Parsed || res.Total != 4 || res.Passed != 3 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Coverage != -1 {
		t.Fatalf("expected no coverage reported, got %v", res.Coverage)
	}
}

func TestParseTestOutputUnparseable(t *testing.T) {
	res := ParseTestOutput("some random noise that isn't a test summary")
	if res.Parsed {
		t.Fatal("expected parsed=false for unrecognized output")
	}
}

func TestParseLintOutputEmptyPasses(t *testing.T) {
	res := ParseLintOutput("")
	if !res.Passed || !res.Parsed {
		t.Fatalf("expected empty lint output to pass: %+v", res)
	}
}

func TestParseLintOutputProblemsLine(t *testing.T) {
	res := ParseLintOutput("✖ 5 problems (3 errors, 2 warnings)")
	if res.Passed {
		t.Fatal("expected lint with errors to fail")
	}
	if res.ErrorCount != 3 || res.WarningCount != 2 {
		t.Fatalf("unexpected counts: %+v", res)
	}
}

func TestParseLintOutputWithoutMarker(t *testing.T) {
	res := ParseLintOutput("5 problems (3 errors, 2 warnings)")
	if res.Passed || res.ErrorCount != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseLintOutputUnparseableConservativelyPasses(t *testing.T) {
	res := ParseLintOutput("linter exited with unexpected format")
	if !res.Passed {
		t.Fatal("expected unparseable non-empty output to conservatively pass")
	}
	if res.Parsed {
		t.Fatal("expected Parsed=false for unrecognized output")
	}
}

func TestRecommendThresholds(t *testing.T) {
	report := Report{Lint: GateStepResult{Executed: true, Passed: false, Output: "✖ 1 problems (1 errors, 0 warnings)"}}

	if got := Recommend(report, 1).Decision; got != DecisionRetry {
		t.Fatalf("1st failure: expected retry, got %s", got)
	}
	if got := Recommend(report, 2).Decision; got != DecisionReassign {
		t.Fatalf("2nd failure: expected reassign, got %s", got)
	}
	rec := Recommend(report, 3)
	if rec.Decision != DecisionEscalate || rec.Role != "quality_authority" {
		t.Fatalf("3rd failure: expected escalate to quality_authority, got %+v", rec)
	}
}

func TestRetryInstructionsListFailedGates(t *testing.T) {
	report := Report{
		Lint: GateStepResult{Executed: true, Passed: false, Output: "✖ 3 problems (3 errors, 0 warnings)\nfoo.go:1 error"},
		Test: GateStepResult{Executed: false, SkipReason: "Lintが失敗したためスキップ"},
	}
	rec := Recommend(report, 1)
	found := false
	for _, line := range rec.Instructions {
		if line == "Lintエラーを修正してください" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected lint-fix instruction, got %+v", rec.Instructions)
	}
}
