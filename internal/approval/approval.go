// Package approval implements the Approval Gate: a synchronous checkpoint
// that blocks a workflow phase until a typed decision arrives from an
// external approver.
//
// Grounded on internal/github/token_manager.go's mutex-guarded
// single-resolution state machine idiom (a "needs action" predicate, an
// exactly-once side effect), adapted here from token refresh to promise
// resolution: a mutex-guarded map of pending approvals, one buffered
// channel per workflow, closed/drained exactly once.
package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/andywolf/agentorch/internal/model"
	"github.com/andywolf/agentorch/internal/store"
)

// ErrNotAwaitingApproval mirrors spec §4.10's Japanese error text verbatim
// ("承認待ちではありません" / "not awaiting approval").
var ErrNotAwaitingApproval = fmt.Errorf("承認待ちではありません: not awaiting approval")

// pending tracks one workflow's outstanding approval request.
type pending struct {
	phase  model.Phase
	result chan model.ApprovalDecision
}

// Gate owns every in-flight approval request, keyed by workflow ID. A
// workflow has at most one outstanding approval at a time.
type Gate struct {
	mu      sync.Mutex
	waiting map[string]*pending
	store   *store.Store
}

// New creates a Gate backed by s for approval-history persistence.
func New(s *store.Store) *Gate {
	return &Gate{waiting: make(map[string]*pending), store: s}
}

// RequestApproval registers workflowID as awaiting a decision for phase and
// blocks until SubmitDecision resolves it or ctx is cancelled. Proposal is
// accepted for symmetry with spec §4.10's signature but the Gate itself is
// approver-agnostic about its shape; callers persist it separately if
// needed for display.
func (g *Gate) RequestApproval(ctx context.Context, workflowID string, phase model.Phase, proposal interface{}) (model.ApprovalDecision, error) {
	g.mu.Lock()
	if _, already := g.waiting[workflowID]; already {
		g.mu.Unlock()
		return model.ApprovalDecision{}, fmt.Errorf("workflow %s already has a pending approval", workflowID)
	}
	p := &pending{phase: phase, result: make(chan model.ApprovalDecision, 1)}
	g.waiting[workflowID] = p
	g.mu.Unlock()

	select {
	case decision := <-p.result:
		return decision, nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.waiting, workflowID)
		g.mu.Unlock()
		return model.ApprovalDecision{}, ctx.Err()
	}
}

// SubmitDecision resolves workflowID's pending approval exactly once.
// Submitting for a workflow with no pending approval fails with
// ErrNotAwaitingApproval, per spec §4.10.
func (g *Gate) SubmitDecision(decision model.ApprovalDecision) error {
	g.mu.Lock()
	p, ok := g.waiting[decision.WorkflowID]
	if !ok {
		g.mu.Unlock()
		return ErrNotAwaitingApproval
	}
	delete(g.waiting, decision.WorkflowID)
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.SaveApprovalDecision(decision); err != nil {
			return fmt.Errorf("approval: persist decision: %w", err)
		}
		if err := g.store.AppendApprovalHistory(decision); err != nil {
			return fmt.Errorf("approval: append history: %w", err)
		}
	}

	p.result <- decision
	close(p.result)
	return nil
}

// IsWaitingApproval reports whether workflowID currently has an
// unresolved approval request.
func (g *Gate) IsWaitingApproval(workflowID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.waiting[workflowID]
	return ok
}

// GetPendingApprovals returns every workflow ID currently awaiting a
// decision, with the phase it's blocked on.
func (g *Gate) GetPendingApprovals() map[string]model.Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]model.Phase, len(g.waiting))
	for id, p := range g.waiting {
		out[id] = p.phase
	}
	return out
}

// GetApprovalHistory returns every decision ever recorded for workflowID,
// in submission order.
func (g *Gate) GetApprovalHistory(workflowID string) ([]model.ApprovalDecision, error) {
	if g.store == nil {
		return nil, nil
	}
	return g.store.ListApprovalHistory(workflowID)
}
