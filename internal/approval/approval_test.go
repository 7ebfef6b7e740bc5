package approval

import (
	"context"
	"testing"
	"time"

	"github.com/andywolf/agentorch/internal/model"
	"github.com/andywolf/agentorch/internal/store"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	s := store.New(t.TempDir())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	return New(s)
}

func TestApprovalFlow(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	resultCh := make(chan model.ApprovalDecision, 1)
	errCh := make(chan error, 1)
	go func() {
		d, err := g.RequestApproval(ctx, "wf-1", model.PhaseApproval, "proposal text")
		resultCh <- d
		errCh <- err
	}()

	// Give the goroutine a chance to register the pending approval.
	deadline := time.Now().Add(time.Second)
	for !g.IsWaitingApproval("wf-1") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !g.IsWaitingApproval("wf-1") {
		t.Fatal("expected wf-1 to be waiting for approval")
	}

	decision := model.ApprovalDecision{
		WorkflowID: "wf-1",
		Phase:      model.PhaseApproval,
		Action:     model.ApprovalApprove,
		Feedback:   "OK",
		DecidedAt:  time.Now().UTC(),
	}
	if err := g.SubmitDecision(decision); err != nil {
		t.Fatalf("submit decision: %v", err)
	}

	select {
	case d := <-resultCh:
		if d.Action != model.ApprovalApprove || d.Feedback != "OK" {
			t.Fatalf("unexpected resolved decision: %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval resolution")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error from RequestApproval: %v", err)
	}

	if g.IsWaitingApproval("wf-1") {
		t.Fatal("expected wf-1 to no longer be waiting")
	}

	history, err := g.GetApprovalHistory("wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}

	if err := g.SubmitDecision(decision); err != ErrNotAwaitingApproval {
		t.Fatalf("expected ErrNotAwaitingApproval on second submit, got %v", err)
	}
}

func TestWorkflowIndependence(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	doneA := make(chan model.ApprovalDecision, 1)
	doneB := make(chan model.ApprovalDecision, 1)
	go func() {
		d, _ := g.RequestApproval(ctx, "wf-a", model.PhaseApproval, nil)
		doneA <- d
	}()
	go func() {
		d, _ := g.RequestApproval(ctx, "wf-b", model.PhaseApproval, nil)
		doneB <- d
	}()

	deadline := time.Now().Add(time.Second)
	for (!g.IsWaitingApproval("wf-a") || !g.IsWaitingApproval("wf-b")) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := g.SubmitDecision(model.ApprovalDecision{WorkflowID: "wf-b", Action: model.ApprovalReject}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-doneB:
	case <-time.After(time.Second):
		t.Fatal("wf-b should have resolved")
	}

	select {
	case <-doneA:
		t.Fatal("wf-a should not resolve from wf-b's decision")
	case <-time.After(50 * time.Millisecond):
	}

	if !g.IsWaitingApproval("wf-a") {
		t.Fatal("wf-a should still be waiting")
	}
}

func TestDuplicatePendingApprovalRejected(t *testing.T) {
	g := newGate(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _, _ = g.RequestApproval(ctx, "wf-dup", model.PhaseApproval, nil) }()
	deadline := time.Now().Add(time.Second)
	for !g.IsWaitingApproval("wf-dup") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := g.RequestApproval(ctx, "wf-dup", model.PhaseApproval, nil); err == nil {
		t.Fatal("expected second concurrent RequestApproval for the same workflow to fail")
	}
}
