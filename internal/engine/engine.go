// Package engine implements the Workflow Engine: the orchestrator that
// owns every other component and drives one Workflow through its phase
// state machine (meeting -> proposal -> approval -> execution -> review ->
// delivery -> retrospective -> completed/failed), persisting state between
// every transition.
//
// Grounded on internal/controller/controller.go's Run/updateTaskPhase
// switch-on-phase driver loop, generalized from a single fixed
// implement/test/review/push task phase set to the full multi-stage
// workflow phase machine, and from one task's phase state to many
// concurrent Workflows each independently driven.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/andywolf/agentorch/internal/approval"
	"github.com/andywolf/agentorch/internal/bus"
	"github.com/andywolf/agentorch/internal/codingagent"
	"github.com/andywolf/agentorch/internal/decomposer"
	"github.com/andywolf/agentorch/internal/gitcoord"
	"github.com/andywolf/agentorch/internal/meeting"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/andywolf/agentorch/internal/observability"
	"github.com/andywolf/agentorch/internal/project"
	"github.com/andywolf/agentorch/internal/qualitygate"
	"github.com/andywolf/agentorch/internal/store"
	"github.com/andywolf/agentorch/internal/workerpool"
	"golang.org/x/sync/errgroup"
)

// Config tunes the engine's execution sub-phase.
type Config struct {
	MaxWorkers        int
	UseContainers     bool
	MaxQualityRetries int // failures tolerated before escalating to Approval Gate, per ticket
}

// AIHealth is the engine's answer to "can execution actually run right
// now", per spec §4.12's AI-availability gate and §6's
// GET /api/health/ai shape.
type AIHealth struct {
	Available             bool
	OllamaRunning         bool
	ModelsInstalled       []string
	RecommendedModels     []string
	SetupInstructions     string
	CodingAgentsAvailable bool
	CodingAgents          []string
}

// ErrAIUnavailable is returned by Run when execution is reached with
// neither an LLM adapter nor any coding-agent CLI available. Callers
// (the Control API) translate this into a 503 carrying SetupInstructions.
type ErrAIUnavailable struct {
	Health AIHealth
}

func (e *ErrAIUnavailable) Error() string {
	return "AI unavailable: no LLM adapter or coding-agent CLI is reachable"
}

// WorkerSubmitter is the capability the execution sub-phase needs from a
// Worker Pool. Declared as an interface (rather than depending on
// *workerpool.Pool concretely) so tests can drive the phase machine with a
// fake submitter instead of a real git/process/container stack;
// *workerpool.Pool satisfies it unchanged.
type WorkerSubmitter interface {
	Submit(ctx context.Context, req workerpool.SubmitRequest) (model.ExecutionResult, error)
}

// LLMHealthCheck reports whether a local LLM runtime (e.g. Ollama) is up
// and which models it has installed. The Workflow Engine treats the LLM
// adapter itself as an external capability interface, per spec's
// non-goals; this is the one narrow health-probe seam it needs.
type LLMHealthCheck func(ctx context.Context) (running bool, models []string)

// Engine drives Workflows through the phase state machine, owning the
// Worker Pool, Approval Gate, Meeting Coordinator, Message Bus, Project
// Registry, and Coding-Agent Registry.
type Engine struct {
	cfg       Config
	store     *store.Store
	bus       bus.Bus
	approvals *approval.Gate
	meetings  *meeting.Coordinator
	pool      WorkerSubmitter
	projects  *project.Registry
	agents    *codingagent.Registry
	llmHealth LLMHealthCheck
	logger    *log.Logger
	tracer    observability.Tracer
	git       *gitcoord.Coordinator
}

// SetTracer installs t as the engine's observability tracer, replacing the
// no-op default New installs. Exported as a post-construction setter rather
// than a New parameter so existing callers (and tests) that built an Engine
// before this field existed keep compiling unchanged.
func (e *Engine) SetTracer(t observability.Tracer) {
	if t != nil {
		e.tracer = t
	}
}

// SetGit installs g as the engine's Git Coordinator, used by the review
// phase to merge each completed grandchild ticket's task branch into the
// project's agent branch. A nil (or never-set) Coordinator makes the
// review phase a pass-through transition, matching Engine's pre-existing
// behavior for tests that drive the phase machine without a real git
// stack.
func (e *Engine) SetGit(g *gitcoord.Coordinator) {
	e.git = g
}

// New creates an Engine. llmHealth may be nil, in which case the LLM
// adapter is always reported unavailable and the AI-availability gate
// relies solely on agents.AnyAvailable.
func New(cfg Config, s *store.Store, b bus.Bus, approvals *approval.Gate, meetings *meeting.Coordinator, pool WorkerSubmitter, projects *project.Registry, agents *codingagent.Registry, llmHealth LLMHealthCheck, logger *log.Logger) *Engine {
	if cfg.MaxQualityRetries <= 0 {
		cfg.MaxQualityRetries = 2
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cfg:       cfg,
		store:     s,
		bus:       b,
		approvals: approvals,
		meetings:  meetings,
		pool:      pool,
		projects:  projects,
		agents:    agents,
		llmHealth: llmHealth,
		logger:    logger,
		tracer:    &observability.NoOpTracer{},
	}
}

// CheckAIAvailability probes the LLM adapter and coding-agent registry.
func (e *Engine) CheckAIAvailability(ctx context.Context) AIHealth {
	health := AIHealth{RecommendedModels: []string{"qwen2.5-coder", "deepseek-coder-v2"}}
	if e.llmHealth != nil {
		health.OllamaRunning, health.ModelsInstalled = e.llmHealth(ctx)
	}
	if e.agents != nil {
		health.CodingAgents = e.agents.List()
		health.CodingAgentsAvailable = e.agents.AnyAvailable(ctx)
	}
	health.Available = health.OllamaRunning || health.CodingAgentsAvailable
	if !health.Available {
		health.SetupInstructions = "No coding-agent CLI or local LLM runtime was reachable. Install one of the supported CLIs (claude, opencode, kiro) on PATH, or start a local Ollama server with a coding model pulled."
	}
	return health
}

// StartWorkflow registers a new Workflow in PhaseMeeting and persists it.
// Run must be called separately to drive it forward.
func (e *Engine) StartWorkflow(workflowID, projectID, instruction string, metadata model.WorkflowMetadata) (model.Workflow, error) {
	now := time.Now().UTC()
	w := model.Workflow{
		WorkflowID:  workflowID,
		ProjectID:   projectID,
		Instruction: instruction,
		Phase:       model.PhaseMeeting,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}
	if err := e.store.SaveWorkflow(w); err != nil {
		return model.Workflow{}, fmt.Errorf("engine: save workflow: %w", err)
	}
	return w, nil
}

// transition persists w in newPhase, broadcasts it on the Message Bus so
// any agent watching this run's history sees the change, and returns the
// updated copy.
func (e *Engine) transition(w model.Workflow, newPhase model.Phase) (model.Workflow, error) {
	w.Phase = newPhase
	w.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveWorkflow(w); err != nil {
		return w, fmt.Errorf("engine: persist transition to %s: %w", newPhase, err)
	}
	e.logger.Printf("workflow %s -> %s", w.WorkflowID, newPhase)
	if e.bus != nil {
		_ = e.bus.Broadcast(context.Background(), model.AgentMessage{
			ID:   fmt.Sprintf("%s-%s", w.WorkflowID, newPhase),
			Type: model.MsgBroadcast,
			From: "engine",
			Payload: map[string]interface{}{
				"runId": w.WorkflowID,
				"phase": string(newPhase),
			},
			Timestamp: w.UpdatedAt,
		}, nil)
	}
	return w, nil
}

// Run drives workflowID from its current persisted phase through to
// PhaseCompleted or PhaseFailed, blocking on Approval Gate interactions.
// It is safe to call again after a process restart: it resumes from
// whatever phase was last persisted.
func (e *Engine) Run(ctx context.Context, workflowID string) error {
	w, ok, err := e.store.GetWorkflow(workflowID)
	if err != nil {
		return fmt.Errorf("engine: load workflow: %w", err)
	}
	if !ok {
		return fmt.Errorf("engine: workflow %s not found", workflowID)
	}

	trace := e.tracer.StartTrace(workflowID, observability.TraceOptions{
		Workflow:   workflowID,
		Repository: w.ProjectID,
	})
	finalStatus := "completed"
	defer func() {
		e.tracer.CompleteTrace(trace, observability.CompleteOptions{Status: finalStatus})
		_ = e.tracer.Flush(context.Background())
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		span := e.tracer.StartPhase(trace, string(w.Phase), observability.SpanOptions{})
		phaseStart := time.Now()

		switch w.Phase {
		case model.PhaseMeeting:
			w, err = e.runMeetingPhase(ctx, w)
		case model.PhaseProposal:
			w, err = e.runProposalPhase(ctx, w)
		case model.PhaseApproval:
			w, err = e.runApprovalPhase(ctx, w, model.PhaseExecution, model.PhaseProposal)
		case model.PhaseExecution:
			w, err = e.runExecutionPhase(ctx, w)
		case model.PhaseReview:
			w, err = e.runReviewPhase(ctx, w)
		case model.PhaseDelivery:
			w, err = e.runApprovalPhase(ctx, w, model.PhaseRetrospective, model.PhaseExecution)
		case model.PhaseRetrospective:
			w, err = e.runRetrospectivePhase(ctx, w)
		case model.PhaseCompleted, model.PhaseFailed:
			e.tracer.EndPhase(span, "completed", time.Since(phaseStart).Milliseconds())
			if w.Phase == model.PhaseFailed {
				finalStatus = "failed"
			}
			return err
		default:
			e.tracer.EndPhase(span, "error", time.Since(phaseStart).Milliseconds())
			return fmt.Errorf("engine: unknown phase %q", w.Phase)
		}
		if err != nil {
			e.tracer.EndPhase(span, "error", time.Since(phaseStart).Milliseconds())
			e.logger.Printf("workflow %s: %v", workflowID, err)
			var aiErr *ErrAIUnavailable
			if errors.As(err, &aiErr) {
				finalStatus = "blocked"
				return err
			}
			w, _ = e.transition(w, model.PhaseFailed)
			finalStatus = "failed"
			return err
		}
		e.tracer.EndPhase(span, "completed", time.Since(phaseStart).Milliseconds())
	}
}

func (e *Engine) runMeetingPhase(ctx context.Context, w model.Workflow) (model.Workflow, error) {
	meetingID := w.WorkflowID + "-kickoff"
	if _, err := e.meetings.ConveneMeeting(w.WorkflowID, meetingID, w.Instruction, "planner"); err != nil {
		return w, fmt.Errorf("meeting phase: %w", err)
	}
	return e.transition(w, model.PhaseProposal)
}

func (e *Engine) runProposalPhase(ctx context.Context, w model.Workflow) (model.Workflow, error) {
	if e.projects != nil {
		_ = e.projects.TouchProject(w.ProjectID)
	}

	knowledge, _ := e.knowledgeFor(w)
	result := decomposer.Decompose(w.WorkflowID, w.Instruction, knowledge, decomposer.Options{})

	for _, c := range result.Children {
		if err := e.store.SaveChildTicket(c); err != nil {
			return w, fmt.Errorf("proposal phase: save child %s: %w", c.ID, err)
		}
		w.ChildTickets = append(w.ChildTickets, c.ID)
	}
	for _, g := range result.Grandchildren {
		if err := e.store.SaveGrandchildTicket(g); err != nil {
			return w, fmt.Errorf("proposal phase: save grandchild %s: %w", g.ID, err)
		}
	}
	return e.transition(w, model.PhaseApproval)
}

// runApprovalPhase requests a decision and routes it to onApprove,
// onRevision (same phase re-entered), or PhaseFailed on reject. It's
// shared between the approval* and delivery* gates in the state diagram.
func (e *Engine) runApprovalPhase(ctx context.Context, w model.Workflow, onApprove, onRevision model.Phase) (model.Workflow, error) {
	decision, err := e.approvals.RequestApproval(ctx, w.WorkflowID, w.Phase, w)
	if err != nil {
		return w, fmt.Errorf("%s phase: %w", w.Phase, err)
	}
	switch decision.Action {
	case model.ApprovalApprove:
		return e.transition(w, onApprove)
	case model.ApprovalRequestRevision:
		return e.transition(w, onRevision)
	case model.ApprovalReject:
		return e.transition(w, model.PhaseFailed)
	default:
		return w, fmt.Errorf("%s phase: unknown approval action %q", w.Phase, decision.Action)
	}
}

// runExecutionPhase drives the Worker Pool over every grandchild ticket,
// in dependency order, applying the Quality Gate's retry/reassign/escalate
// recommendation on failure.
func (e *Engine) runExecutionPhase(ctx context.Context, w model.Workflow) (model.Workflow, error) {
	health := e.CheckAIAvailability(ctx)
	if !health.Available {
		return w, &ErrAIUnavailable{Health: health}
	}

	children, err := e.store.ListChildTicketsByWorkflow(w.WorkflowID)
	if err != nil {
		return w, fmt.Errorf("execution phase: list children: %w", err)
	}

	for _, child := range children {
		grandchildren, err := e.store.ListGrandchildTicketsByParent(child.ID)
		if err != nil {
			return w, fmt.Errorf("execution phase: list grandchildren of %s: %w", child.ID, err)
		}
		levels := decomposer.OrderGrandchildrenLevels(grandchildren)
		byID := make(map[string]model.GrandchildTicket, len(grandchildren))
		for _, g := range grandchildren {
			byID[g.ID] = g
		}

		// Every ticket within a wave is independent of its wave-mates, so
		// they submit to the Worker Pool concurrently; errgroup.Group's
		// zero value (no WithContext) collects the first error without
		// cancelling the others, matching the pool's own "one ticket's
		// failure never cancels its siblings" contract one layer up.
		for _, wave := range levels {
			var eg errgroup.Group
			for _, id := range wave {
				g := byID[id]
				eg.Go(func() error {
					return e.executeTicket(ctx, w, child, g)
				})
			}
			if err := eg.Wait(); err != nil {
				return w, err
			}
		}

		child.Status = model.TicketCompleted
		child.UpdatedAt = time.Now().UTC()
		if err := e.store.SaveChildTicket(child); err != nil {
			return w, fmt.Errorf("execution phase: update child %s: %w", child.ID, err)
		}
	}

	return e.transition(w, model.PhaseReview)
}

// executeTicket submits g to the Worker Pool, retrying per the Quality
// Gate's recommendation up to cfg.MaxQualityRetries before escalating to
// the Approval Gate with role quality_authority. Returns an error only
// when the workflow itself must fail (an escalation is rejected).
func (e *Engine) executeTicket(ctx context.Context, w model.Workflow, child model.ChildTicket, g model.GrandchildTicket) error {
	failureStreak := 0
	explicitCLI := ""
	tried := map[string]bool{}

	for {
		g.Status = model.TicketInProgress
		g.UpdatedAt = time.Now().UTC()
		_ = e.store.SaveGrandchildTicket(g)

		if explicitCLI != "" {
			tried[explicitCLI] = true
		}
		result, err := e.pool.Submit(ctx, workerpool.SubmitRequest{
			RunID:        w.WorkflowID,
			Project:      e.projectFor(w),
			Ticket:       g,
			WorkerType:   child.Lane,
			AgentID:      string(child.Lane),
			ExplicitCLI:  explicitCLI,
			Instructions: g.Description,
		})
		if err != nil {
			return fmt.Errorf("execution phase: submit %s: %w", g.ID, err)
		}

		duration := result.EndTime.Sub(result.StartTime)
		_ = e.store.AppendPerformanceRecord(model.PerformanceRecord{
			AgentID:      string(child.Lane),
			TaskID:       g.ID,
			TaskCategory: string(child.Lane),
			Success:      result.Status == model.ExecSuccess || result.Status == model.ExecPartial,
			DurationMs:   duration.Milliseconds(),
			Timestamp:    time.Now().UTC(),
			ErrorPatterns: result.Errors,
		})

		if result.Status == model.ExecSuccess || result.Status == model.ExecPartial {
			g.Status = model.TicketCompleted
			g.GitBranch = result.GitBranch
			g.UpdatedAt = time.Now().UTC()
			return e.store.SaveGrandchildTicket(g)
		}

		failureStreak++
		report := qualitygate.Report{Success: false, Errors: result.Errors}
		rec := qualitygate.Recommend(report, failureStreak)

		switch rec.Decision {
		case qualitygate.DecisionRetry:
			if failureStreak > e.cfg.MaxQualityRetries {
				rec.Decision = qualitygate.DecisionEscalate
			} else {
				continue
			}
		case qualitygate.DecisionReassign:
			if next, ok := e.nextAgent(ctx, tried); ok {
				explicitCLI = next
				continue
			}
			// No untried CLI is currently available; there's nothing left
			// to reassign to, so fall through to escalation regardless of
			// MaxQualityRetries.
			rec.Decision = qualitygate.DecisionEscalate
		}

		if rec.Decision == qualitygate.DecisionEscalate {
			decision, err := e.approvals.RequestApproval(ctx, w.WorkflowID, model.PhaseExecution, rec)
			if err != nil {
				return fmt.Errorf("execution phase: escalation for %s: %w", g.ID, err)
			}
			switch decision.Action {
			case model.ApprovalApprove:
				g.Status = model.TicketCompleted
				g.UpdatedAt = time.Now().UTC()
				return e.store.SaveGrandchildTicket(g)
			case model.ApprovalRequestRevision:
				failureStreak = 0
				continue
			default:
				g.Status = model.TicketFailed
				g.UpdatedAt = time.Now().UTC()
				_ = e.store.SaveGrandchildTicket(g)
				return fmt.Errorf("execution phase: %s escalation rejected", g.ID)
			}
		}
	}
}

// nextAgent picks the first coding-agent CLI in the registry's list, sorted
// for determinism, that isn't in tried and currently probes available. Used
// by executeTicket to give a DecisionReassign recommendation a genuinely
// different agent to run against, rather than re-running the one that just
// failed.
func (e *Engine) nextAgent(ctx context.Context, tried map[string]bool) (string, bool) {
	if e.agents == nil {
		return "", false
	}
	names := append([]string(nil), e.agents.List()...)
	sort.Strings(names)
	for _, name := range names {
		if tried[name] {
			continue
		}
		if e.agents.IsAvailable(ctx, name) {
			return name, true
		}
	}
	return "", false
}

// runReviewPhase merges each completed grandchild ticket's task branch into
// the project's agent branch via the Git Coordinator, escalating to the
// Approval Gate for human resolution on any merge the Coordinator could not
// auto-resolve. With no Git Coordinator configured (e.g. phase-machine
// tests) this is a pass-through transition.
func (e *Engine) runReviewPhase(ctx context.Context, w model.Workflow) (model.Workflow, error) {
	if e.git == nil {
		return e.transition(w, model.PhaseDelivery)
	}

	proj := e.projectFor(w)
	children, err := e.store.ListChildTicketsByWorkflow(w.WorkflowID)
	if err != nil {
		return w, fmt.Errorf("review phase: list children: %w", err)
	}

	for _, child := range children {
		grandchildren, err := e.store.ListGrandchildTicketsByParent(child.ID)
		if err != nil {
			return w, fmt.Errorf("review phase: list grandchildren of %s: %w", child.ID, err)
		}
		for _, g := range grandchildren {
			if g.Status != model.TicketCompleted || g.GitBranch == "" {
				continue
			}
			mergeReport, err := e.git.MergeTaskBranch(ctx, proj.WorkDir, proj.AgentBranch, g.GitBranch, g.ID)
			if err != nil {
				return w, fmt.Errorf("review phase: merge %s: %w", g.ID, err)
			}
			if mergeReport.Success {
				continue
			}

			decision, err := e.approvals.RequestApproval(ctx, w.WorkflowID, model.PhaseReview, mergeReport.ConflictReport)
			if err != nil {
				return w, fmt.Errorf("review phase: conflict escalation for %s: %w", g.ID, err)
			}
			switch decision.Action {
			case model.ApprovalApprove, model.ApprovalRequestRevision:
				// A human resolved the conflict out of band (or will on a
				// later pass); record the revision need but don't fail the
				// workflow outright.
				g.Status = model.TicketRevisionRequired
				g.UpdatedAt = time.Now().UTC()
				_ = e.store.SaveGrandchildTicket(g)
			default:
				return w, fmt.Errorf("review phase: %s merge conflict escalation rejected", g.ID)
			}
		}
	}

	return e.transition(w, model.PhaseDelivery)
}

// runRetrospectivePhase records a knowledge-base entry summarizing the run
// before closing the workflow out, so future decompositions of similar
// instructions can draw on it via knowledgeFor.
func (e *Engine) runRetrospectivePhase(ctx context.Context, w model.Workflow) (model.Workflow, error) {
	entry := model.KnowledgeEntry{
		ID:               w.WorkflowID + "-retro",
		Title:            fmt.Sprintf("Retrospective: %s", w.Instruction),
		Category:         model.KnowledgeProcessImprovement,
		Content:          fmt.Sprintf("Workflow %s completed %d child tickets.", w.WorkflowID, len(w.ChildTickets)),
		RelatedWorkflows: []string{w.WorkflowID},
		AuthorAgentID:    "engine",
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.store.AppendKnowledgeEntry(entry); err != nil {
		return w, fmt.Errorf("retrospective phase: %w", err)
	}
	return e.transition(w, model.PhaseCompleted)
}

func (e *Engine) projectFor(w model.Workflow) model.Project {
	p, ok, err := e.store.GetProject(w.ProjectID)
	if err != nil || !ok {
		return model.Project{ID: w.ProjectID}
	}
	return p
}

// knowledgeFor returns every knowledge-base entry related to w's prior
// runs, so the decomposer can bias its ticket descriptions on past
// failure cases and best practices for this workflow.
func (e *Engine) knowledgeFor(w model.Workflow) ([]model.KnowledgeEntry, error) {
	all, err := e.store.ListKnowledgeEntries()
	if err != nil {
		return nil, fmt.Errorf("knowledge lookup: %w", err)
	}
	var related []model.KnowledgeEntry
	for _, entry := range all {
		for _, id := range entry.RelatedWorkflows {
			if id == w.WorkflowID {
				related = append(related, entry)
				break
			}
		}
	}
	return related, nil
}
