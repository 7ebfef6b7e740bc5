// Package workerpool implements the Worker Pool: bounded concurrent
// execution of grandchild tickets, each inside its own workspace, driving
// either an external coding-agent CLI or a tool-call chat loop, then
// staging, committing, and quality-gating the result before reporting back
// over the Message Bus.
//
// Grounded on internal/controller's single active-task session loop
// generalized to N concurrent workers via a buffered-channel permit
// (plain channel rather than golang.org/x/sync/errgroup, since spec §5
// requires one ticket's failure to never cancel its siblings — the
// opposite of errgroup's cancel-on-first-error semantics), and on
// internal/workspace/container.go / internal/controller/docker.go for the
// containerized-vs-plain-directory workspace split.
package workerpool

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/andywolf/agentorch/internal/bus"
	"github.com/andywolf/agentorch/internal/codingagent"
	"github.com/andywolf/agentorch/internal/gitcoord"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/andywolf/agentorch/internal/qualitygate"
	"github.com/andywolf/agentorch/internal/supervisor"
	"github.com/andywolf/agentorch/internal/toolcall"
	"github.com/andywolf/agentorch/internal/workspace"
)

// Config configures a Pool.
type Config struct {
	MaxWorkers    int
	UseContainers bool
}

// ChatStep is one turn of a chat-loop worker's interaction with an LLM
// adapter: zero or more tool calls to run, plus whether the model
// considers the ticket complete.
type ChatStep struct {
	ToolCalls     []toolcall.Call
	Done          bool
	AssistantText string
	TokensUsed    int
}

// LLMAdapter is the capability interface a chat-loop worker drives when no
// external coding-agent CLI is available or selected. Per spec §1's
// non-goals ("the LLM adapters themselves ... treated as a capability
// interface"), only this narrow seam is specified here.
type LLMAdapter interface {
	Step(ctx context.Context, transcript []string, toolResults []toolcall.Result) (ChatStep, error)
}

// NoOpLLMAdapter immediately completes without issuing any tool calls. It
// is the Pool's default when no LLMAdapter is configured, matching spec
// §7's "workers always complete" contract even with nothing to drive them.
type NoOpLLMAdapter struct{}

func (NoOpLLMAdapter) Step(ctx context.Context, transcript []string, toolResults []toolcall.Result) (ChatStep, error) {
	return ChatStep{Done: true}, nil
}

// maxChatTurns bounds a chat-loop worker's turn budget, per spec §4.7
// ("until the model emits a completion sentinel or a turn budget is
// exhausted").
const maxChatTurns = 25

// SubmitRequest is one grandchild ticket's execution request.
type SubmitRequest struct {
	RunID        string
	Project      model.Project
	Ticket       model.GrandchildTicket
	WorkerType   model.WorkerLane
	AgentID      string // reporting identity, e.g. "developer-1"
	ExplicitCLI  string // optional explicit coding-agent name
	Instructions string // prompt / acceptance criteria composed by the caller
}

// Pool bounds concurrent grandchild-ticket execution.
type Pool struct {
	cfg          Config
	sem          chan struct{}
	git          *gitcoord.Coordinator
	agents       *codingagent.Registry
	bus          bus.Bus
	provisioner  workspace.Provisioner
	llm          LLMAdapter
	runDirForLog func(runID string) string
}

// New creates a Pool. prov may be a PlainDirProvisioner or a
// DockerProvisioner depending on cfg.UseContainers; llm may be nil, in
// which case NoOpLLMAdapter is used.
func New(cfg Config, git *gitcoord.Coordinator, agents *codingagent.Registry, b bus.Bus, prov workspace.Provisioner, llm LLMAdapter, runDirForLog func(string) string) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if llm == nil {
		llm = NoOpLLMAdapter{}
	}
	return &Pool{
		cfg:          cfg,
		sem:          make(chan struct{}, cfg.MaxWorkers),
		git:          git,
		agents:       agents,
		bus:          b,
		provisioner:  prov,
		llm:          llm,
		runDirForLog: runDirForLog,
	}
}

// Submit runs one grandchild ticket. It blocks (FIFO, per the pool's
// semaphore) until a worker slot is free, then drives the full worker
// lifecycle. It never returns an error from the ticket's own execution —
// every outcome lands in the returned ExecutionResult's Status/Errors,
// per spec §7; Submit only returns an error for context cancellation
// before a slot was ever acquired.
func (p *Pool) Submit(ctx context.Context, req SubmitRequest) (model.ExecutionResult, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return model.ExecutionResult{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	start := time.Now().UTC()
	result := model.ExecutionResult{
		RunID:     req.RunID,
		TicketID:  req.Ticket.ID,
		AgentID:   req.AgentID,
		StartTime: start,
	}

	workDir, err := p.provisioner.CreateWorkspace(ctx, req.Project.ID, req.Ticket.ID)
	if err != nil {
		return p.fail(result, fmt.Sprintf("acquire workspace: %v", err))
	}
	if p.cfg.UseContainers {
		defer func() { _ = p.provisioner.Destroy(ctx, workDir) }()
	}

	if err := p.git.Clone(ctx, req.Project.GitURL, workDir); err != nil {
		return p.fail(result, fmt.Sprintf("clone: %v", err))
	}
	if err := p.git.EnsureAgentBranch(ctx, workDir, req.Project.BaseBranch, req.Project.AgentBranch); err != nil {
		return p.fail(result, fmt.Sprintf("ensure agent branch: %v", err))
	}
	branch, err := p.git.CreateTaskBranch(ctx, workDir, req.Ticket.ID, req.Ticket.Title)
	if err != nil {
		return p.fail(result, fmt.Sprintf("create task branch: %v", err))
	}
	result.GitBranch = branch

	packagePath, err := workspace.ResolveTicketWorkspace(workDir, req.Project.MonorepoLabelPrefix, req.Project.MonorepoTiers, req.Ticket.Labels)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("resolve package scope: %v", err))
	}
	result.PackagePath = packagePath
	agentDir := workDir
	if packagePath != "" {
		agentDir = filepath.Join(workDir, packagePath)
	}

	sup := supervisor.New(req.RunID, p.runDir(req.RunID))

	if adapter, ok := p.externalAdapter(ctx, req); ok {
		p.runExternalAgent(ctx, adapter, agentDir, req, &result)
	} else {
		p.runChatLoop(ctx, sup, agentDir, req, &result)
	}

	if err := p.git.CommitWithTicketID(ctx, workDir, req.Ticket.ID, req.Ticket.Title); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("commit: %v", err))
	} else {
		result.Commits = append(result.Commits, model.Commit{
			Message:   gitcoord.GenerateCommitMessage(req.Ticket.ID, req.Ticket.Title),
			Timestamp: time.Now().UTC(),
		})
	}

	gate := qualitygate.New(sup, p.runDir(req.RunID))
	report := gate.Run(ctx, workDir)
	result.QualityGatesPassed = report.Success
	if !report.Success {
		result.Errors = append(result.Errors, report.Errors...)
	}

	result.EndTime = time.Now().UTC()
	result.Status = statusFor(result, report)

	p.report(ctx, req, result)
	return result, nil
}

func (p *Pool) runDir(runID string) string {
	if p.runDirForLog == nil {
		return ""
	}
	return p.runDirForLog(runID)
}

// externalAdapter selects a coding-agent CLI for developer/test lanes when
// the registry has one available, per spec §4.7.
func (p *Pool) externalAdapter(ctx context.Context, req SubmitRequest) (codingagent.Adapter, bool) {
	if req.WorkerType != model.LaneDeveloper && req.WorkerType != model.LaneTest {
		return nil, false
	}
	if p.agents == nil {
		return nil, false
	}
	return p.agents.Select(ctx, req.ExplicitCLI)
}

func (p *Pool) runExternalAgent(ctx context.Context, adapter codingagent.Adapter, workDir string, req SubmitRequest, result *model.ExecutionResult) {
	res, err := adapter.Execute(ctx, codingagent.ExecuteOptions{
		WorkingDirectory: workDir,
		Prompt:           req.Instructions,
		Timeout:          supervisor.DefaultTimeout,
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	result.ConversationTurns = 1
	if !res.Success {
		result.Errors = append(result.Errors, fmt.Sprintf("%s exited %d: %s", adapter.Name(), res.ExitCode, res.Stderr))
	}
}

// runChatLoop drives an LLMAdapter through tool calls until it signals
// completion or maxChatTurns is exhausted.
func (p *Pool) runChatLoop(ctx context.Context, sup *supervisor.Supervisor, workDir string, req SubmitRequest, result *model.ExecutionResult) {
	exec := toolcall.New(workDir, sup, p.git)
	transcript := []string{req.Instructions}
	var toolResults []toolcall.Result

	for turn := 0; turn < maxChatTurns; turn++ {
		step, err := p.llm.Step(ctx, transcript, toolResults)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("chat loop: %v", err))
			return
		}
		result.ConversationTurns++
		result.TokensUsed += step.TokensUsed
		if step.AssistantText != "" {
			transcript = append(transcript, step.AssistantText)
		}

		toolResults = toolResults[:0]
		for _, call := range step.ToolCalls {
			res := exec.Run(ctx, call)
			toolResults = append(toolResults, res)
			if res.Err != "" {
				result.Errors = append(result.Errors, res.Err)
			}
		}

		if step.Done {
			return
		}
	}
	result.Errors = append(result.Errors, "chat loop exhausted turn budget without completion sentinel")
}

func statusFor(result model.ExecutionResult, report qualitygate.Report) model.ExecutionStatus {
	if len(result.Errors) > 0 && !report.Lint.Executed && !report.Test.Executed {
		return model.ExecError
	}
	if !report.Success {
		return model.ExecQualityFailed
	}
	if len(result.Errors) > 0 {
		return model.ExecPartial
	}
	return model.ExecSuccess
}

func (p *Pool) fail(result model.ExecutionResult, reason string) (model.ExecutionResult, error) {
	result.Status = model.ExecError
	result.Errors = append(result.Errors, reason)
	result.EndTime = time.Now().UTC()
	return result, nil
}

// report posts the ticket's outcome back to the engine over the Message
// Bus as a task_result message.
func (p *Pool) report(ctx context.Context, req SubmitRequest, result model.ExecutionResult) {
	if p.bus == nil {
		return
	}
	msgType := model.MsgTaskResult
	if result.Status == model.ExecQualityFailed {
		msgType = model.MsgQualityFailure
	}
	_ = p.bus.Send(ctx, model.AgentMessage{
		ID:   fmt.Sprintf("%s-result", req.Ticket.ID),
		Type: msgType,
		From: req.AgentID,
		To:   "engine",
		Payload: map[string]interface{}{
			"runId":    req.RunID,
			"ticketId": result.TicketID,
			"status":   string(result.Status),
		},
		Timestamp: time.Now().UTC(),
	})
}
