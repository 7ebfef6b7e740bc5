package meeting

import (
	"testing"

	"github.com/andywolf/agentorch/internal/store"
)

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	s := store.New(t.TempDir())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	return New(s)
}

func TestConveneMeetingFacilitatorIsParticipant(t *testing.T) {
	c := newCoordinator(t)
	minutes, err := c.ConveneMeeting("wf-1", "mtg-1", "add user login", "planner")
	if err != nil {
		t.Fatal(err)
	}
	if !contains(minutes.Participants, "planner") {
		t.Fatalf("expected facilitator to be a participant: %+v", minutes.Participants)
	}
	if !contains(minutes.Participants, "developer") {
		t.Fatalf("expected developer to always be a participant: %+v", minutes.Participants)
	}
}

func TestConveneMeetingKeywordSelectsExtraParticipants(t *testing.T) {
	c := newCoordinator(t)
	minutes, err := c.ConveneMeeting("wf-2", "mtg-2", "research the feasibility and design the schema", "planner")
	if err != nil {
		t.Fatal(err)
	}
	if !contains(minutes.Participants, "researcher") {
		t.Fatalf("expected researcher to be pulled in: %+v", minutes.Participants)
	}
	if !contains(minutes.Participants, "designer") {
		t.Fatalf("expected designer to be pulled in: %+v", minutes.Participants)
	}
}

func TestConveneMeetingEveryAgendaItemHasDecisionAndIsConcluded(t *testing.T) {
	c := newCoordinator(t)
	minutes, err := c.ConveneMeeting("wf-3", "mtg-3", "ship the feature", "planner")
	if err != nil {
		t.Fatal(err)
	}
	for _, item := range minutes.Agenda {
		if item.Status != "concluded" {
			t.Fatalf("expected agenda item %s concluded, got %s", item.ID, item.Status)
		}
		hasDecision := false
		for _, d := range minutes.Decisions {
			if d.AgendaItemID == item.ID {
				hasDecision = true
			}
		}
		if !hasDecision {
			t.Fatalf("expected at least one decision for agenda item %s", item.ID)
		}
	}
}

func TestConveneMeetingNonFacilitatorParticipantsSpeak(t *testing.T) {
	c := newCoordinator(t)
	minutes, err := c.ConveneMeeting("wf-4", "mtg-4", "ship the feature", "planner")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range minutes.Participants {
		if p == "planner" {
			continue
		}
		for _, item := range minutes.Agenda {
			found := false
			for _, s := range minutes.Statements {
				if s.Speaker == p && s.AgendaItemID == item.ID {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected participant %s to speak on agenda item %s", p, item.ID)
			}
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
