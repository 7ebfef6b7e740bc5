package decomposer

import (
	"reflect"
	"strings"
	"testing"

	"github.com/andywolf/agentorch/internal/model"
)

func TestDecompose_AlwaysIncludesDeveloper(t *testing.T) {
	result := Decompose("wf-1", "update the footer copy", nil, Options{})
	if len(result.Children) != 1 || result.Children[0].Lane != model.LaneDeveloper {
		t.Fatalf("Decompose() children = %+v, want just a developer lane", result.Children)
	}
}

func TestDecompose_KeywordSelectsLanes(t *testing.T) {
	result := Decompose("wf-1", "research feasibility and design an API contract, then test thoroughly", nil, Options{})

	lanes := make(map[model.WorkerLane]bool)
	for _, c := range result.Children {
		lanes[c.Lane] = true
	}
	for _, want := range []model.WorkerLane{model.LaneResearch, model.LaneDesign, model.LaneDeveloper, model.LaneTest} {
		if !lanes[want] {
			t.Errorf("Decompose() lanes = %v, missing %v", lanes, want)
		}
	}
	if lanes[model.LaneReviewer] {
		t.Errorf("Decompose() unexpectedly included reviewer lane for an instruction with no review keyword")
	}
}

func TestDecompose_ForceLanesAddsLaneRegardlessOfKeywords(t *testing.T) {
	result := Decompose("wf-1", "update the footer copy", nil, Options{ForceLanes: []model.WorkerLane{model.LaneReviewer}})

	found := false
	for _, c := range result.Children {
		if c.Lane == model.LaneReviewer {
			found = true
		}
	}
	if !found {
		t.Fatal("Decompose() with ForceLanes did not include the reviewer lane")
	}
}

func TestDecompose_IsDeterministic(t *testing.T) {
	a := Decompose("wf-1", "research and design a new cache layer, then test it", nil, Options{})
	b := Decompose("wf-1", "research and design a new cache layer, then test it", nil, Options{})

	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Decompose() is not deterministic:\na=%+v\nb=%+v", a, b)
	}
}

func TestDecompose_GrandchildrenRespectPipelineOrder(t *testing.T) {
	result := Decompose("wf-1", "research and design a new cache layer, then test it", nil, Options{})

	order := make(map[model.WorkerLane]int)
	for i, gc := range result.Grandchildren {
		lane := model.WorkerLane(gc.ParentID[len("wf-1-child-"):])
		order[lane] = i
	}
	if !(order[model.LaneResearch] < order[model.LaneDesign] &&
		order[model.LaneDesign] < order[model.LaneDeveloper] &&
		order[model.LaneDeveloper] < order[model.LaneTest]) {
		t.Fatalf("Decompose() grandchildren out of pipeline order: %+v", order)
	}

	// Each grandchild after the first depends on the one before it.
	for i := 1; i < len(result.Grandchildren); i++ {
		prev := result.Grandchildren[i-1].ID
		deps := result.Grandchildren[i].DependsOn
		if len(deps) != 1 || deps[0] != prev {
			t.Errorf("Grandchildren[%d].DependsOn = %v, want [%s]", i, deps, prev)
		}
	}
}

func TestDecompose_KnowledgeFailureCasesAppearInDescription(t *testing.T) {
	knowledge := []model.KnowledgeEntry{
		{Title: "pagination off-by-one", Category: model.KnowledgeFailureCase, Content: "watch the boundary condition"},
		{Title: "unrelated tip", Category: model.KnowledgeBestPractice, Content: "should not appear"},
	}
	result := Decompose("wf-1", "fix the listing page", knowledge, Options{})

	desc := result.Grandchildren[0].Description
	if !containsAll(desc, "pagination off-by-one", "watch the boundary condition") {
		t.Errorf("description missing known failure case: %q", desc)
	}
	if containsAll(desc, "unrelated tip") {
		t.Errorf("description should not include non-failure-case knowledge: %q", desc)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
