// Package model defines the durable data types shared across the orchestrator:
// workflows, the ticket tree, projects, agent messages, approvals, and the
// knowledge/performance records the quality loop feeds back into.
package model

import "time"

// Phase is a Workflow's position in the phase state machine (see engine.Engine).
type Phase string

const (
	PhaseMeeting       Phase = "meeting"
	PhaseProposal      Phase = "proposal"
	PhaseApproval      Phase = "approval"
	PhaseExecution     Phase = "execution"
	PhaseReview        Phase = "review"
	PhaseDelivery      Phase = "delivery"
	PhaseRetrospective Phase = "retrospective"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
)

// WorkflowMetadata carries scheduling hints that don't affect the state machine.
type WorkflowMetadata struct {
	Priority string     `json:"priority"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

// Workflow is a single top-level instruction driven through the phase
// state machine. Exactly one phase is active at a time.
type Workflow struct {
	WorkflowID   string           `json:"workflowId"`
	ProjectID    string           `json:"projectId"`
	Instruction  string           `json:"instruction"`
	Phase        Phase            `json:"phase"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	ChildTickets []string         `json:"childTickets"`
	Metadata     WorkflowMetadata `json:"metadata"`
}

// TicketStatus is a grandchild ticket's lifecycle state.
type TicketStatus string

const (
	TicketPending           TicketStatus = "pending"
	TicketInProgress        TicketStatus = "in_progress"
	TicketReviewRequested   TicketStatus = "review_requested"
	TicketRevisionRequired  TicketStatus = "revision_required"
	TicketCompleted         TicketStatus = "completed"
	TicketFailed            TicketStatus = "failed"
	TicketPRCreated         TicketStatus = "pr_created"
)

// WorkerLane identifies the role a child ticket's grandchildren are executed under.
type WorkerLane string

const (
	LaneResearch  WorkerLane = "research"
	LaneDesign    WorkerLane = "design"
	LaneDeveloper WorkerLane = "developer"
	LaneTest      WorkerLane = "test"
	LaneReviewer  WorkerLane = "reviewer"
)

// ChildTicket is the middle layer of the ticket tree: one per worker-type lane.
type ChildTicket struct {
	ID                string       `json:"id"`
	WorkflowID        string       `json:"workflowId"`
	Lane              WorkerLane   `json:"lane"`
	Title             string       `json:"title"`
	GrandchildTickets []string     `json:"grandchildTickets"`
	Status            TicketStatus `json:"status"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// IsComplete reports whether every grandchild referenced by this child has
// reached TicketCompleted, per the invariant in spec §3: a child is
// completed only if every grandchild is completed. Callers resolve the
// grandchild IDs against the State Store before calling this; it is a pure
// helper over the statuses already looked up.
func (c *ChildTicket) IsComplete(grandchildStatuses []TicketStatus) bool {
	if len(grandchildStatuses) == 0 {
		return false
	}
	for _, s := range grandchildStatuses {
		if s != TicketCompleted {
			return false
		}
	}
	return true
}

// Artifact describes one file touched by a grandchild ticket's execution.
type Artifact struct {
	Path   string `json:"path"`
	Action string `json:"action"` // created|modified|deleted
	Diff   string `json:"diff,omitempty"`
}

// GrandchildTicket is a leaf unit of work: the thing a Worker Pool worker
// actually executes.
type GrandchildTicket struct {
	ID                 string       `json:"id"`
	ParentID           string       `json:"parentId"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	AcceptanceCriteria []string     `json:"acceptanceCriteria"`
	Status             TicketStatus `json:"status"`
	Assignee           string       `json:"assignee,omitempty"`
	GitBranch          string       `json:"gitBranch,omitempty"`
	Artifacts          []Artifact   `json:"artifacts,omitempty"`
	ReviewResult       string       `json:"reviewResult,omitempty"`
	DependsOn          []string     `json:"dependsOn,omitempty"`
	Labels             []string     `json:"labels,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Project is a registered source repository the orchestrator operates against.
type Project struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	GitURL            string `json:"gitUrl"`
	DefaultBranch     string `json:"defaultBranch"`
	IntegrationBranch string `json:"integrationBranch"`
	WorkDir           string `json:"workDir"`
	BaseBranch        string `json:"baseBranch"`
	AgentBranch       string `json:"agentBranch"`
	// MonorepoLabelPrefix and MonorepoTiers scope a grandchild ticket's
	// Worker Pool workspace to one pnpm package when set, mirroring the
	// teacher's pkg:<name> issue-label routing but per ticket instead of
	// per pull request.
	MonorepoLabelPrefix string              `json:"monorepoLabelPrefix,omitempty"`
	MonorepoTiers       map[string][]string `json:"monorepoTiers,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	LastUsed            time.Time           `json:"lastUsed"`
}

// AgentMessageType enumerates the Message Bus's payload kinds.
type AgentMessageType string

const (
	MsgTaskAssign       AgentMessageType = "task_assign"
	MsgTaskResult       AgentMessageType = "task_result"
	MsgQualityFailure   AgentMessageType = "quality_failure"
	MsgApprovalRequest  AgentMessageType = "approval_request"
	MsgApprovalDecision AgentMessageType = "approval_decision"
	MsgEscalation       AgentMessageType = "escalation"
	MsgBroadcast        AgentMessageType = "broadcast"
)

// AgentMessage is one envelope delivered through the Message Bus.
type AgentMessage struct {
	ID        string                 `json:"id"`
	Type      AgentMessageType       `json:"type"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// ApprovalAction is the decision an external approver rendered.
type ApprovalAction string

const (
	ApprovalApprove         ApprovalAction = "approve"
	ApprovalRequestRevision ApprovalAction = "request_revision"
	ApprovalReject          ApprovalAction = "reject"
)

// ApprovalDecision resolves exactly one pending Approval Gate request.
type ApprovalDecision struct {
	WorkflowID string         `json:"workflowId"`
	Phase      Phase          `json:"phase"`
	Action     ApprovalAction `json:"action"`
	Feedback   string         `json:"feedback,omitempty"`
	DecidedAt  time.Time      `json:"decidedAt"`
}

// KnowledgeCategory classifies a KnowledgeEntry.
type KnowledgeCategory string

const (
	KnowledgeBestPractice       KnowledgeCategory = "best_practice"
	KnowledgeFailureCase        KnowledgeCategory = "failure_case"
	KnowledgeTechnicalNote      KnowledgeCategory = "technical_note"
	KnowledgeProcessImprovement KnowledgeCategory = "process_improvement"
)

// KnowledgeEntry is a monotonic, never-mutated record the decomposer and
// meeting coordinator consult for historical context.
type KnowledgeEntry struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Category         KnowledgeCategory `json:"category"`
	Content          string            `json:"content"`
	Tags             []string          `json:"tags,omitempty"`
	RelatedWorkflows []string          `json:"relatedWorkflows,omitempty"`
	AuthorAgentID    string            `json:"authorAgentId"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// PerformanceRecord tracks one worker agent's outcome on one task, used to
// bias future ticket assignment.
type PerformanceRecord struct {
	AgentID      string    `json:"agentId"`
	TaskID       string    `json:"taskId"`
	TaskCategory string    `json:"taskCategory"`
	Success      bool      `json:"success"`
	QualityScore int       `json:"qualityScore"`
	DurationMs   int64     `json:"durationMs"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorPatterns []string `json:"errorPatterns,omitempty"`
}

// ExecutionStatus is a grandchild ticket's Worker Pool execution outcome.
type ExecutionStatus string

const (
	ExecSuccess       ExecutionStatus = "success"
	ExecPartial       ExecutionStatus = "partial"
	ExecQualityFailed ExecutionStatus = "quality_failed"
	ExecError         ExecutionStatus = "error"
)

// Commit is one git commit a worker produced while executing a ticket.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionResult is the Worker Pool's uniform, never-throws outcome for
// one grandchild ticket, per spec §4.7.
type ExecutionResult struct {
	RunID             string          `json:"runId"`
	TicketID          string          `json:"ticketId"`
	AgentID           string          `json:"agentId"`
	Status            ExecutionStatus `json:"status"`
	StartTime         time.Time       `json:"startTime"`
	EndTime           time.Time       `json:"endTime"`
	Artifacts         []Artifact      `json:"artifacts"`
	GitBranch         string          `json:"gitBranch"`
	PackagePath       string          `json:"packagePath,omitempty"`
	Commits           []Commit        `json:"commits"`
	QualityGatesPassed bool           `json:"qualityGatesPassed"`
	Errors            []string        `json:"errors"`
	ConversationTurns int             `json:"conversationTurns"`
	TokensUsed        int             `json:"tokensUsed"`
}

// CommandResult is the uniform, never-throws return value of the Process
// Supervisor's execute call.
type CommandResult struct {
	ExitCode            int    `json:"exitCode"`
	Stdout               string `json:"stdout"`
	Stderr               string `json:"stderr"`
	TimedOut             bool   `json:"timedOut"`
	Rejected             bool   `json:"rejected,omitempty"`
	RejectionReason      string `json:"rejectionReason,omitempty"`
	BackgroundProcessID  string `json:"backgroundProcessId,omitempty"`
}
