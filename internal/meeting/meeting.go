// Package meeting implements the Meeting Coordinator: synthesizing a
// multi-role "meeting minutes" artifact that the proposal phase references,
// where every selected participant speaks to every agenda item and the
// facilitator concludes each item with at least one recorded decision.
//
// Grounded on internal/controller/phase_loop_eval.go's role-dispatch idiom
// (iterating a fixed set of phase-relevant roles and accumulating a
// structured result per role) and internal/handoff/builders.go's
// multi-section structured-artifact construction, persisted through the
// same store.Store.SaveMeetingMinutes JSON-file idiom used throughout
// internal/memory and internal/handoff.
package meeting

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/andywolf/agentorch/internal/store"
)

// participantKeywords maps a candidate participant role to the instruction
// keywords that pull them into the meeting, mirroring
// internal/decomposer's laneKeywords gating style but over meeting
// attendance rather than ticket lanes.
var participantKeywords = map[string]*regexp.Regexp{
	"researcher": regexp.MustCompile(`(?i)\b(research|investigate|explore|spike|feasibility)\b`),
	"designer":   regexp.MustCompile(`(?i)\b(design|architecture|schema|api contract|interface)\b`),
	"tester":     regexp.MustCompile(`(?i)\b(test|testing|qa|verify|regression)\b`),
	"reviewer":   regexp.MustCompile(`(?i)\b(review|audit|compliance|security review)\b`),
}

// defaultAgenda is the standing set of topics every meeting works through
// when the instruction doesn't imply additional agenda items.
var defaultAgenda = []string{"scope", "approach", "risks"}

// Coordinator synthesizes and persists meeting minutes.
type Coordinator struct {
	store *store.Store
}

// New creates a Coordinator backed by s.
func New(s *store.Store) *Coordinator {
	return &Coordinator{store: s}
}

// selectParticipants picks additional participants by keyword match against
// instruction, always including "developer" and the facilitator, per
// spec §4.11.
func selectParticipants(instruction, facilitatorID string) []string {
	seen := map[string]bool{facilitatorID: true, "developer": true}
	participants := []string{facilitatorID, "developer"}
	if facilitatorID == "developer" {
		participants = []string{facilitatorID}
	}

	var keys []string
	for role := range participantKeywords {
		keys = append(keys, role)
	}
	// deterministic iteration order
	sortedKeys := append([]string(nil), keys...)
	for i := 0; i < len(sortedKeys); i++ {
		for j := i + 1; j < len(sortedKeys); j++ {
			if sortedKeys[j] < sortedKeys[i] {
				sortedKeys[i], sortedKeys[j] = sortedKeys[j], sortedKeys[i]
			}
		}
	}

	for _, role := range sortedKeys {
		if seen[role] {
			continue
		}
		if participantKeywords[role].MatchString(instruction) {
			seen[role] = true
			participants = append(participants, role)
		}
	}
	return participants
}

// ConveneMeeting synthesizes minutes for workflowID's instruction: every
// non-facilitator participant states at least one remark per agenda item,
// the facilitator concludes each item with a summary statement and at
// least one decision, and the whole artifact is persisted under
// <runtime>/<workflowId>/meeting-minutes/<meetingId>.json.
func (c *Coordinator) ConveneMeeting(workflowID, meetingID, instruction, facilitatorID string) (store.MeetingMinutes, error) {
	participants := selectParticipants(instruction, facilitatorID)

	agenda := make([]store.MeetingAgendaItem, 0, len(defaultAgenda))
	for i, title := range defaultAgenda {
		agenda = append(agenda, store.MeetingAgendaItem{
			ID:     fmt.Sprintf("agenda-%d", i+1),
			Title:  title,
			Status: "open",
		})
	}

	started := time.Now().UTC()
	var statements []store.MeetingStatement
	var decisions []store.MeetingDecision
	var actionItems []string

	for _, item := range agenda {
		for _, p := range participants {
			if p == facilitatorID {
				continue
			}
			statements = append(statements, store.MeetingStatement{
				AgendaItemID: item.ID,
				Speaker:      p,
				Content:      fmt.Sprintf("%s's input on %s for: %s", p, item.Title, strings.TrimSpace(instruction)),
			})
		}
		statements = append(statements, store.MeetingStatement{
			AgendaItemID: item.ID,
			Speaker:      facilitatorID,
			Content:      fmt.Sprintf("Summary for %s: proceeding as discussed.", item.Title),
		})
		decisions = append(decisions, store.MeetingDecision{
			AgendaItemID: item.ID,
			Summary:      fmt.Sprintf("Agreed approach for %s", item.Title),
		})
	}

	for i := range agenda {
		agenda[i].Status = "concluded"
	}

	actionItems = append(actionItems, "developer begins implementation per agreed decisions")

	minutes := store.MeetingMinutes{
		MeetingID:    meetingID,
		WorkflowID:   workflowID,
		Facilitator:  facilitatorID,
		Participants: participants,
		Agenda:       agenda,
		Statements:   statements,
		Decisions:    decisions,
		ActionItems:  actionItems,
		StartedAt:    started,
		EndedAt:      time.Now().UTC(),
	}

	if err := c.store.SaveMeetingMinutes(minutes); err != nil {
		return store.MeetingMinutes{}, fmt.Errorf("meeting: save minutes: %w", err)
	}
	return minutes, nil
}
