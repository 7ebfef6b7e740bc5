// Package decomposer implements the Task Decomposer: turning a Workflow's
// instruction into the child/grandchild ticket tree the Worker Pool
// executes.
//
// Grounded on internal/controller/tracker.go's expandTrackerIssue (turning
// one input into a deterministic, ordered set of queue items) and its
// regexp-based keyword/reference extraction (parseSubIssues,
// parseDependencies), and on internal/controller/dependencies.go's
// DependencyGraph for ordering the result into a DAG with cycles broken.
package decomposer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/andywolf/agentorch/internal/model"
)

// laneKeywords maps each optional worker lane to the instruction keywords
// that pull it into the ticket tree. developer is always included and has
// no keyword gate.
var laneKeywords = map[model.WorkerLane]*regexp.Regexp{
	model.LaneResearch: regexp.MustCompile(`(?i)\b(research|investigate|explore|spike|feasibility)\b`),
	model.LaneDesign:   regexp.MustCompile(`(?i)\b(design|architecture|schema|api contract|interface)\b`),
	model.LaneTest:     regexp.MustCompile(`(?i)\b(test|testing|qa|verify|regression)\b`),
	model.LaneReviewer: regexp.MustCompile(`(?i)\b(review|audit|compliance|security review)\b`),
}

// lanePipelineOrder is the natural execution order lanes chain in when
// more than one is selected; each grandchild depends on the prior present
// lane's grandchild so the Worker Pool never starts, say, test before
// developer has produced anything to test.
var lanePipelineOrder = []model.WorkerLane{
	model.LaneResearch, model.LaneDesign, model.LaneDeveloper, model.LaneTest, model.LaneReviewer,
}

// Options configures Decompose.
type Options struct {
	// ForceLanes includes these lanes regardless of keyword match. developer
	// is always included whether or not it's listed here.
	ForceLanes []model.WorkerLane
}

// Result is the full ticket tree Decompose produces for one workflow.
type Result struct {
	Children      []model.ChildTicket
	Grandchildren []model.GrandchildTicket
}

// Decompose is deterministic for a fixed (workflowID, instruction, opts):
// re-running it for the same workflow produces byte-identical ticket IDs
// and content, so callers can safely retry a failed decomposition without
// risking duplicate tickets downstream.
func Decompose(workflowID, instruction string, knowledge []model.KnowledgeEntry, opts Options) Result {
	lanes := selectLanes(instruction, opts.ForceLanes)

	var children []model.ChildTicket
	var grandchildren []model.GrandchildTicket
	var prevGrandchildID string

	for _, lane := range lanePipelineOrder {
		if !lanes[lane] {
			continue
		}

		childID := fmt.Sprintf("%s-child-%s", workflowID, lane)
		gcID := fmt.Sprintf("%s-gc-%s-1", workflowID, lane)

		var dependsOn []string
		if prevGrandchildID != "" {
			dependsOn = []string{prevGrandchildID}
		}

		gc := model.GrandchildTicket{
			ID:                 gcID,
			ParentID:           childID,
			Title:              laneTitle(lane, instruction),
			Description:        laneDescription(lane, instruction, knowledge),
			AcceptanceCriteria: laneAcceptanceCriteria(lane),
			Status:             model.TicketPending,
			DependsOn:          dependsOn,
		}

		child := model.ChildTicket{
			ID:                childID,
			WorkflowID:        workflowID,
			Lane:              lane,
			Title:             capitalize(string(lane)) + ": " + truncate(instruction, 80),
			GrandchildTickets: []string{gcID},
			Status:            model.TicketPending,
		}

		children = append(children, child)
		grandchildren = append(grandchildren, gc)
		prevGrandchildID = gcID
	}

	orderGrandchildren(grandchildren)
	return Result{Children: children, Grandchildren: grandchildren}
}

func selectLanes(instruction string, forced []model.WorkerLane) map[model.WorkerLane]bool {
	lanes := map[model.WorkerLane]bool{model.LaneDeveloper: true}
	for lane, pattern := range laneKeywords {
		if pattern.MatchString(instruction) {
			lanes[lane] = true
		}
	}
	for _, lane := range forced {
		lanes[lane] = true
	}
	return lanes
}

func laneTitle(lane model.WorkerLane, instruction string) string {
	return fmt.Sprintf("%s: %s", capitalize(string(lane)), truncate(instruction, 60))
}

func laneDescription(lane model.WorkerLane, instruction string, knowledge []model.KnowledgeEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s work for: %s", capitalize(string(lane)), instruction)
	for _, k := range knowledge {
		if k.Category == model.KnowledgeFailureCase {
			fmt.Fprintf(&b, "\nKnown pitfall (%s): %s", k.Title, k.Content)
		}
	}
	return b.String()
}

func laneAcceptanceCriteria(lane model.WorkerLane) []string {
	switch lane {
	case model.LaneResearch:
		return []string{"Findings documented with sources or reproduction steps", "Open questions enumerated"}
	case model.LaneDesign:
		return []string{"Interface/schema documented", "Edge cases identified"}
	case model.LaneDeveloper:
		return []string{"Implementation compiles/builds", "Matches the described behavior"}
	case model.LaneTest:
		return []string{"New behavior covered by tests", "Existing tests still pass"}
	case model.LaneReviewer:
		return []string{"Changes reviewed against acceptance criteria", "No unresolved review comments"}
	default:
		return nil
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// orderGrandchildren reorders gcs in place into dependency-respecting
// order via dependencyGraph, so a caller submitting them to the Worker
// Pool in slice order never submits a dependent before its dependency.
func orderGrandchildren(gcs []model.GrandchildTicket) {
	if len(gcs) < 2 {
		return
	}
	ids := make([]string, len(gcs))
	byID := make(map[string]model.GrandchildTicket, len(gcs))
	dependsOn := make(map[string][]string, len(gcs))
	for i, gc := range gcs {
		ids[i] = gc.ID
		byID[gc.ID] = gc
		dependsOn[gc.ID] = gc.DependsOn
	}

	order := newDependencyGraph(ids, dependsOn).SortedIDs()
	for i, id := range order {
		gcs[i] = byID[id]
	}
}
