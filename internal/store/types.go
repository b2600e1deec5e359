// Package store is the embedded relational state store: one WAL-journaled
// SQLite file per workspace, typed repositories for every persisted entity,
// and ordered idempotent schema migrations. Writers are serialized per
// workspace; readers run concurrently.
package store

import (
	"fmt"
	"time"
)

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskBacklog    TaskStatus = "BACKLOG"
	TaskReady      TaskStatus = "READY"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskDone       TaskStatus = "DONE"
	TaskFailed     TaskStatus = "FAILED"
	TaskMerged     TaskStatus = "MERGED"
)

// IsTerminal reports whether the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskDone, TaskFailed, TaskMerged:
		return true
	default:
		return false
	}
}

// allowedTransitions encodes the legal task lifecycle edges.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskBacklog:    {TaskReady},
	TaskReady:      {TaskBacklog, TaskInProgress},
	TaskInProgress: {TaskBlocked, TaskDone, TaskFailed},
	TaskBlocked:    {TaskReady},
	TaskFailed:     {TaskReady},
	TaskDone:       {TaskMerged},
	TaskMerged:     {},
}

// CanTransition reports whether from → to is a legal task transition.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return false
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidTaskStatus reports whether s is a member of the status set.
func ValidTaskStatus(s TaskStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// RunStatus is the lifecycle state of one execution attempt.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunStopped   RunStatus = "STOPPED"
	RunBlocked   RunStatus = "BLOCKED"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool { return s != RunRunning }

// BlockerMode distinguishes halting from annotating blockers.
type BlockerMode string

const (
	BlockerSync  BlockerMode = "SYNC"
	BlockerAsync BlockerMode = "ASYNC"
)

// BlockerStatus is the blocker lifecycle state.
type BlockerStatus string

const (
	BlockerOpen     BlockerStatus = "OPEN"
	BlockerAnswered BlockerStatus = "ANSWERED"
	BlockerResolved BlockerStatus = "RESOLVED"
	BlockerExpired  BlockerStatus = "EXPIRED"
)

// BlockerCategory classifies the agent's question.
type BlockerCategory string

const (
	CategoryMissingInfo        BlockerCategory = "missing-info"
	CategoryAmbiguousSpec      BlockerCategory = "ambiguous-spec"
	CategoryExternalDependency BlockerCategory = "external-dependency"
	CategoryTacticalDecision   BlockerCategory = "tactical-decision"
	CategoryEscalation         BlockerCategory = "escalation"
)

// BatchStrategy selects how a batch schedules its tasks.
type BatchStrategy string

const (
	StrategySerial   BatchStrategy = "SERIAL"
	StrategyParallel BatchStrategy = "PARALLEL"
	StrategyAuto     BatchStrategy = "AUTO"
)

// BatchStatus is the batch lifecycle state.
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchRunning   BatchStatus = "RUNNING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchPartial   BatchStatus = "PARTIAL"
	BatchFailed    BatchStatus = "FAILED"
	BatchCancelled BatchStatus = "CANCELLED"
)

// OnFailure selects batch behavior when a task fails.
type OnFailure string

const (
	OnFailureContinue OnFailure = "CONTINUE"
	OnFailureStop     OnFailure = "STOP"
)

// Workspace is the root of a working copy. Created once by init, never
// deleted; owns all other entities.
type Workspace struct {
	ID        string
	RepoPath  string
	CreatedAt time.Time
}

// PRD is an opaque requirements document with a linear version chain.
type PRD struct {
	ID            string
	WorkspaceID   string
	Content       string
	Version       int
	ParentID      string
	ChainID       string
	ChangeSummary string
	CreatedAt     time.Time
}

// Task is a unit of agent work.
type Task struct {
	ID              string
	WorkspaceID     string
	TaskNumber      int // sequential per workspace, assigned on create
	Title           string
	Description     string
	Status          TaskStatus
	Priority        int
	DependsOn       []string
	ComplexityScore int // 1-5, defaulted to 2 when unset
	Assignee        string
	ResultSummary   string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// Run is one execution attempt of a task.
type Run struct {
	ID           string
	TaskID       string
	Engine       string // "react" | "plan"
	Status       RunStatus
	Iterations   int
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	StartedAt    time.Time
	FinishedAt   *time.Time
	Summary      string
	LastError    string
}

// Blocker is an open question from the agent to a human.
type Blocker struct {
	ID          string
	TaskID      string
	Mode        BlockerMode
	Question    string
	Context     string
	Category    BlockerCategory
	Status      BlockerStatus
	Answer      string
	CreatedAt   time.Time
	AnsweredAt  *time.Time
	ExpiresAt   time.Time
}

// Batch is a scheduled group of tasks.
type Batch struct {
	ID            string
	WorkspaceID   string
	TaskIDs       []string
	Strategy      BatchStrategy
	MaxParallel   int
	OnFailure     OnFailure
	RetryBudget   int
	Status        BatchStatus
	DependencyMap map[string][]string
	Results       map[string]RunStatus
	InputTokens   int
	OutputTokens  int
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
}

// Event is an immutable observability record. Timestamps are strictly
// monotonic per workspace.
type Event struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"type"`
	SubjectID   string         `json:"subject_id"`
	Payload     map[string]any `json:"payload"`
}

// EventType enumerates the closed set of event types.
type EventType string

const (
	EventWorkspaceInit      EventType = "WORKSPACE_INIT"
	EventPRDAdded           EventType = "PRD_ADDED"
	EventPRDUpdated         EventType = "PRD_UPDATED"
	EventTasksGenerated     EventType = "TASKS_GENERATED"
	EventTaskStatusChanged  EventType = "TASK_STATUS_CHANGED"
	EventRunStarted         EventType = "RUN_STARTED"
	EventAgentStepStarted   EventType = "AGENT_STEP_STARTED"
	EventAgentStepCompleted EventType = "AGENT_STEP_COMPLETED"
	EventToolCalled         EventType = "TOOL_CALLED"
	EventFilesModified      EventType = "FILES_MODIFIED"
	EventGatesStarted       EventType = "GATES_STARTED"
	EventGatesCompleted     EventType = "GATES_COMPLETED"
	EventBlockerCreated     EventType = "BLOCKER_CREATED"
	EventBlockerAnswered    EventType = "BLOCKER_ANSWERED"
	EventBlockerResolved    EventType = "BLOCKER_RESOLVED"
	EventCheckpointCreated  EventType = "CHECKPOINT_CREATED"
	EventBatchStarted       EventType = "BATCH_STARTED"
	EventBatchTaskStarted   EventType = "BATCH_TASK_STARTED"
	EventBatchTaskCompleted EventType = "BATCH_TASK_COMPLETED"
	EventBatchTaskFailed    EventType = "BATCH_TASK_FAILED"
	EventBatchCompleted     EventType = "BATCH_COMPLETED"
	EventBatchCancelled     EventType = "BATCH_CANCELLED"
)

// Checkpoint ties a git ref, a state-store snapshot, and an event cursor
// together so they restore as a unit.
type Checkpoint struct {
	ID          string
	WorkspaceID string
	Label       string
	GitRef      string
	StorePath   string
	EventCursor string
	CreatedAt   time.Time
}

// Decision is a cached supervisor answer keyed by (workspace, kind).
type Decision struct {
	WorkspaceID string
	Kind        string
	Question    string
	Answer      string
	CreatedAt   time.Time
}

// String implements fmt.Stringer for readable test failures.
func (s TaskStatus) String() string { return string(s) }

func validatePositive(name string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s must be non-negative, got %d", name, v)
	}
	return nil
}
