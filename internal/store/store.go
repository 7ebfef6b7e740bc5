// Package store is the State Store: durable persistence for workflows, the
// ticket tree, projects, approvals, meeting minutes, the knowledge base,
// and performance records. Every write is atomic (temp file + rename);
// concurrent access to one record is serialized by the Store's own mutex,
// matching spec's "arbitrary per-record concurrent writers are serialized
// by the engine (not by the store)" by giving the engine a single lock it
// can rely on for the records it mutates.
//
// Grounded on internal/memory/store.go and internal/handoff/store.go's
// load-into-memory-then-persist-on-write shape, generalized from a single
// per-workspace JSON blob into one file per durable record so concurrent
// workflows don't contend on the same file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andywolf/agentorch/internal/model"
)

// Store persists every durable object the Workflow Engine and Worker Pool
// touch. All methods are safe for concurrent use.
type Store struct {
	root string
	mu   sync.RWMutex
}

// New creates a Store rooted at dir. Call Load before first use to warm any
// caches a caller wants; Store itself reads through to disk on every call,
// so Load is optional — it exists for callers that want an up-front
// consistency check after a restart.
func New(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

// Load verifies the store's directory tree exists, creating it if this is
// a fresh install. Every object is reconstructible straight from disk on
// demand, so Load does no eager reads.
func (s *Store) Load() error {
	for _, sub := range []string{"workflows", "tickets/child", "tickets/grandchild", "projects", "approvals"} {
		if err := os.MkdirAll(s.path(sub), 0755); err != nil {
			return fmt.Errorf("store: init %s: %w", sub, err)
		}
	}
	return nil
}

// --- Workflows ---------------------------------------------------------

func (s *Store) SaveWorkflow(w model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.path("workflows", w.WorkflowID+".json"), w)
}

func (s *Store) GetWorkflow(id string) (model.Workflow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var w model.Workflow
	ok, err := readJSON(s.path("workflows", id+".json"), &w)
	return w, ok, err
}

func (s *Store) ListWorkflows() ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listJSON[model.Workflow](s.path("workflows"))
}

// --- Ticket tree ---------------------------------------------------------

func (s *Store) SaveChildTicket(c model.ChildTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.path("tickets/child", c.ID+".json"), c)
}

func (s *Store) GetChildTicket(id string) (model.ChildTicket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c model.ChildTicket
	ok, err := readJSON(s.path("tickets/child", id+".json"), &c)
	return c, ok, err
}

func (s *Store) ListChildTicketsByWorkflow(workflowID string) ([]model.ChildTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, err := listJSON[model.ChildTicket](s.path("tickets/child"))
	if err != nil {
		return nil, err
	}
	var out []model.ChildTicket
	for _, c := range all {
		if c.WorkflowID == workflowID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) SaveGrandchildTicket(g model.GrandchildTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.path("tickets/grandchild", g.ID+".json"), g)
}

func (s *Store) GetGrandchildTicket(id string) (model.GrandchildTicket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var g model.GrandchildTicket
	ok, err := readJSON(s.path("tickets/grandchild", id+".json"), &g)
	return g, ok, err
}

func (s *Store) ListGrandchildTicketsByParent(parentID string) ([]model.GrandchildTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, err := listJSON[model.GrandchildTicket](s.path("tickets/grandchild"))
	if err != nil {
		return nil, err
	}
	var out []model.GrandchildTicket
	for _, g := range all {
		if g.ParentID == parentID {
			out = append(out, g)
		}
	}
	return out, nil
}

// --- Projects ---------------------------------------------------------

func (s *Store) SaveProject(p model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.path("projects", p.ID+".json"), p)
}

func (s *Store) GetProject(id string) (model.Project, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p model.Project
	ok, err := readJSON(s.path("projects", id+".json"), &p)
	return p, ok, err
}

func (s *Store) ListProjects() ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listJSON[model.Project](s.path("projects"))
}

// DeleteProject removes a project's record, backing the CLI's
// "project remove" subcommand. It does not touch the project's workspace
// on disk or any workflow that already referenced it.
func (s *Store) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path("projects", id+".json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// --- Approvals ---------------------------------------------------------

// SaveApprovalDecision persists the single outstanding decision for a
// workflow. A workflow has at most one outstanding approval at a time, so
// the record is keyed by WorkflowID alone and overwritten on resolution.
func (s *Store) SaveApprovalDecision(d model.ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.path("approvals", d.WorkflowID+".json"), d)
}

func (s *Store) GetApprovalDecision(workflowID string) (model.ApprovalDecision, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var d model.ApprovalDecision
	ok, err := readJSON(s.path("approvals", workflowID+".json"), &d)
	return d, ok, err
}

// AppendApprovalHistory records d onto workflowID's approval history.
// Unlike SaveApprovalDecision (the single current/most-recent decision),
// this is append-only: a workflow that passes through the Approval Gate
// more than once (e.g. proposal -> revision -> proposal -> approval) keeps
// every decision it was ever given, per spec §4.10's "appends the decision
// to the workflow's approval history".
func (s *Store) AppendApprovalHistory(d model.ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSONLAtomic(s.path("approvals", d.WorkflowID+"-history.jsonl"), d)
}

// ListApprovalHistory returns every decision ever recorded for workflowID,
// in the order they were submitted.
func (s *Store) ListApprovalHistory(workflowID string) ([]model.ApprovalDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readJSONL[model.ApprovalDecision](s.path("approvals", workflowID+"-history.jsonl"))
}

// --- Meeting minutes ---------------------------------------------------------

// MeetingMinutes is the durable artifact the Meeting Coordinator produces,
// per spec §4.11's schema. Persisted under
// <root>/<workflowId>/meeting-minutes/<meetingId>.json.
type MeetingMinutes struct {
	MeetingID    string              `json:"meetingId"`
	WorkflowID   string              `json:"workflowId"`
	Facilitator  string              `json:"facilitator"`
	Participants []string            `json:"participants"`
	Agenda       []MeetingAgendaItem `json:"agenda"`
	Statements   []MeetingStatement  `json:"statements"`
	Decisions    []MeetingDecision   `json:"decisions"`
	ActionItems  []string            `json:"actionItems"`
	StartedAt    time.Time           `json:"startedAt"`
	EndedAt      time.Time           `json:"endedAt"`
}

// MeetingAgendaItem is one topic the meeting works through.
type MeetingAgendaItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"` // open|concluded
}

// MeetingStatement is one participant's remark about one agenda item.
type MeetingStatement struct {
	AgendaItemID string `json:"agendaItemId"`
	Speaker      string `json:"speaker"`
	Content      string `json:"content"`
}

// MeetingDecision records one resolution reached for an agenda item.
type MeetingDecision struct {
	AgendaItemID string `json:"agendaItemId"`
	Summary      string `json:"summary"`
}

func (s *Store) SaveMeetingMinutes(m MeetingMinutes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Join(s.root, m.WorkflowID, "meeting-minutes")
	return writeJSONAtomic(filepath.Join(dir, m.MeetingID+".json"), m)
}

func (s *Store) GetMeetingMinutes(workflowID, meetingID string) (MeetingMinutes, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var m MeetingMinutes
	path := filepath.Join(s.root, workflowID, "meeting-minutes", meetingID+".json")
	ok, err := readJSON(path, &m)
	return m, ok, err
}

func (s *Store) ListMeetingMinutes(workflowID string) ([]MeetingMinutes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listJSON[MeetingMinutes](filepath.Join(s.root, workflowID, "meeting-minutes"))
}
