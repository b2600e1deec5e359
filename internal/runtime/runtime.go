// Package runtime is the single-task facade: it glues the task lifecycle,
// the agent engine, verification, and the event log together for one run.
// Both the CLI and the batch conductor drive tasks through it.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"codeframe/internal/agent"
	"codeframe/internal/blockers"
	"codeframe/internal/config"
	"codeframe/internal/shared/logging"
	"codeframe/internal/store"
)

// PlanEngineName identifies the legacy plan-then-execute engine. It is a
// recognized selector; an implementation must be registered before use.
const PlanEngineName = "plan"

var (
	// ErrTaskAlreadyRunning means a run for this task is in flight.
	ErrTaskAlreadyRunning = errors.New("task already has a run in flight")
	// ErrTaskNotRunning means stopRun found nothing to cancel.
	ErrTaskNotRunning = errors.New("task has no run in flight")
	// ErrBlockersOpen means resume was attempted with unresolved blockers.
	ErrBlockersOpen = errors.New("task has unresolved blockers")
)

// AgentEngine is the capability the runtime depends on. The ReAct engine is
// the default implementation; alternatives register under their own name.
type AgentEngine interface {
	ExecuteTask(ctx context.Context, task *store.Task, run *store.Run, prompt agent.PromptInputs) (*agent.Outcome, error)
}

// Runtime orchestrates single-task runs against one workspace.
type Runtime struct {
	store        *store.Store
	blockers     *blockers.Manager
	workspace    *store.Workspace
	workspaceCfg *config.WorkspaceConfig
	engines      map[string]AgentEngine
	logger       logging.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc // task ID -> cooperative cancel
}

// Deps wires a Runtime.
type Deps struct {
	Store        *store.Store
	Blockers     *blockers.Manager
	Workspace    *store.Workspace
	WorkspaceCfg *config.WorkspaceConfig
	// ReactEngine is the default engine, registered under agent.EngineName.
	ReactEngine AgentEngine
	Logger      logging.Logger
}

// New builds a Runtime with the ReAct engine registered as the default.
func New(d Deps) *Runtime {
	rt := &Runtime{
		store:        d.Store,
		blockers:     d.Blockers,
		workspace:    d.Workspace,
		workspaceCfg: d.WorkspaceCfg,
		engines:      map[string]AgentEngine{},
		logger:       logging.OrNop(d.Logger),
		active:       map[string]context.CancelFunc{},
	}
	if d.ReactEngine != nil {
		rt.engines[agent.EngineName] = d.ReactEngine
	}
	return rt
}

// RegisterEngine installs an engine under a selector name.
func (r *Runtime) RegisterEngine(name string, engine AgentEngine) {
	r.engines[name] = engine
}

func (r *Runtime) engineFor(name string) (AgentEngine, string, error) {
	if name == "" {
		name = agent.EngineName
	}
	if name != agent.EngineName && name != PlanEngineName {
		return nil, "", fmt.Errorf("unknown engine %q", name)
	}
	engine, ok := r.engines[name]
	if !ok {
		return nil, "", fmt.Errorf("engine %q is not installed", name)
	}
	return engine, name, nil
}

// StartRun moves a READY task into IN_PROGRESS, creates a Run, executes the
// selected engine, records the outcome, and transitions the task to its
// terminal state. The returned Run reflects the finished record.
func (r *Runtime) StartRun(ctx context.Context, taskID, engineName string) (*store.Run, *agent.Outcome, error) {
	engine, engineName, err := r.engineFor(engineName)
	if err != nil {
		return nil, nil, err
	}

	runCtx, cancel, err := r.claim(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	defer r.release(taskID, cancel)

	task, err := r.store.Transition(ctx, taskID, store.TaskInProgress)
	if err != nil {
		return nil, nil, err
	}
	r.emitStatusChange(ctx, task.ID, store.TaskReady, store.TaskInProgress)

	run, err := r.store.StartRun(ctx, task.ID, engineName)
	if err != nil {
		return nil, nil, err
	}
	r.emit(ctx, store.EventRunStarted, run.ID, map[string]any{
		"task_id": task.ID,
		"engine":  engineName,
	})

	prompt, err := r.loadContext(runCtx, task)
	if err != nil {
		// The run and task must not stay RUNNING/IN_PROGRESS forever.
		outcome := &agent.Outcome{Status: store.RunFailed, Summary: fmt.Sprintf("context load failure: %v", err)}
		if finished, rerr := r.recordOutcome(ctx, task, run, outcome); rerr == nil {
			return finished, outcome, err
		}
		return nil, outcome, err
	}

	outcome, err := engine.ExecuteTask(runCtx, task, run, prompt)
	if err != nil {
		// Infrastructure failure outside the engine's own error mapping.
		outcome = &agent.Outcome{Status: store.RunFailed, Summary: fmt.Sprintf("engine failure: %v", err)}
	}

	finished, err := r.recordOutcome(ctx, task, run, outcome)
	if err != nil {
		return nil, outcome, err
	}
	return finished, outcome, nil
}

// StopRun requests cooperative cancellation of an in-flight run. The agent
// observes it between iterations and the run ends STOPPED.
func (r *Runtime) StopRun(taskID string) error {
	r.mu.Lock()
	cancel, ok := r.active[taskID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotRunning, taskID)
	}
	r.logger.Info("runtime: stopping run for task %s", taskID)
	cancel()
	return nil
}

// ResumeRun re-enters a BLOCKED task. All of its blockers must be answered,
// resolved, or expired first; the accumulated answers are injected into the
// new run's context.
func (r *Runtime) ResumeRun(ctx context.Context, taskID string) (*store.Run, *agent.Outcome, error) {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Status != store.TaskBlocked && task.Status != store.TaskFailed {
		return nil, nil, fmt.Errorf("task %s is %s; only BLOCKED or FAILED tasks resume", taskID, task.Status)
	}

	// The expiry sweep may release stale blockers with the sentinel answer.
	if _, err := r.blockers.ExpireStale(ctx); err != nil {
		return nil, nil, err
	}
	open, err := r.blockers.ListOpen(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if len(open) > 0 {
		return nil, nil, fmt.Errorf("%w: %d open for task %s", ErrBlockersOpen, len(open), taskID)
	}

	from := task.Status
	if _, err := r.store.Transition(ctx, task.ID, store.TaskReady); err != nil {
		return nil, nil, err
	}
	r.emitStatusChange(ctx, task.ID, from, store.TaskReady)

	engineName := ""
	if last, err := r.store.LatestRun(ctx, taskID); err == nil {
		engineName = last.Engine
	}
	return r.StartRun(ctx, taskID, engineName)
}

// claim registers the task as in flight and derives its cancellable context.
func (r *Runtime) claim(ctx context.Context, taskID string) (context.Context, context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[taskID]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, taskID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.active[taskID] = cancel
	return runCtx, cancel, nil
}

func (r *Runtime) release(taskID string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.active, taskID)
	r.mu.Unlock()
}

// loadContext assembles the prompt inputs: newest PRD head, workspace
// environment, and any blocker answers waiting for this task.
func (r *Runtime) loadContext(ctx context.Context, task *store.Task) (agent.PromptInputs, error) {
	in := agent.PromptInputs{
		Task:         task,
		WorkspaceCfg: r.workspaceCfg,
		RepoPath:     r.workspace.RepoPath,
	}

	heads, err := r.store.ListPRDHeads(ctx, r.workspace.ID)
	if err != nil {
		return in, err
	}
	if len(heads) > 0 {
		in.PRD = heads[0]
	}

	answers, err := r.blockers.PendingAnswers(ctx, task.ID)
	if err != nil {
		return in, err
	}
	in.BlockerAnswers = answers
	return in, nil
}

// recordOutcome closes the run and moves the task to the state the outcome
// dictates.
func (r *Runtime) recordOutcome(ctx context.Context, task *store.Task, run *store.Run, outcome *agent.Outcome) (*store.Run, error) {
	update := store.RunUpdate{
		Status:       outcome.Status,
		Iterations:   outcome.Iterations,
		InputTokens:  outcome.Usage.PromptTokens,
		OutputTokens: outcome.Usage.CompletionTokens,
		Summary:      outcome.Summary,
	}
	if outcome.Status == store.RunFailed || outcome.Status == store.RunStopped {
		update.LastError = outcome.Summary
	}
	finished, err := r.store.FinishRun(ctx, run.ID, update)
	if err != nil {
		return nil, err
	}

	var to store.TaskStatus
	var opts []store.TransitionOption
	switch outcome.Status {
	case store.RunCompleted:
		to = store.TaskDone
		opts = append(opts, store.WithResultSummary(outcome.Summary))
	case store.RunBlocked:
		to = store.TaskBlocked
	case store.RunStopped:
		to = store.TaskFailed
		opts = append(opts, store.WithResultSummary("cancelled"))
	default:
		to = store.TaskFailed
		opts = append(opts, store.WithResultSummary(outcome.Summary))
	}
	if _, err := r.store.Transition(ctx, task.ID, to, opts...); err != nil {
		return finished, err
	}
	r.emitStatusChange(ctx, task.ID, store.TaskInProgress, to)
	r.logger.Info("runtime: task %s run %s finished %s after %d iteration(s)",
		task.ID, run.ID, outcome.Status, outcome.Iterations)
	return finished, nil
}

func (r *Runtime) emitStatusChange(ctx context.Context, taskID string, from, to store.TaskStatus) {
	r.emit(ctx, store.EventTaskStatusChanged, taskID, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func (r *Runtime) emit(ctx context.Context, typ store.EventType, subjectID string, payload map[string]any) {
	if _, err := r.store.AppendEvent(ctx, r.workspace.ID, typ, subjectID, payload); err != nil {
		r.logger.Warn("runtime: emit %s: %v", typ, err)
	}
}
