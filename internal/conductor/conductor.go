// Package conductor schedules batches of tasks over a dependency DAG: worker
// pool execution bounded by max-parallel, retries for failed tasks, resume of
// partial batches, cooperative cancellation, and supervisor auto-resolution
// of recurring tactical questions.
package conductor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"codeframe/internal/agent"
	"codeframe/internal/blockers"
	"codeframe/internal/llm"
	"codeframe/internal/shared/logging"
	"codeframe/internal/store"
)

// maxRequeues caps how often the supervisor may re-queue one task within a
// batch, so an agent that keeps asking the same question cannot spin forever.
const maxRequeues = 3

// TaskRunner is the runtime facade surface the conductor drives.
type TaskRunner interface {
	StartRun(ctx context.Context, taskID, engine string) (*store.Run, *agent.Outcome, error)
	ResumeRun(ctx context.Context, taskID string) (*store.Run, *agent.Outcome, error)
}

// completer is the purpose-routed LLM surface used for dependency inference.
type completer interface {
	Complete(ctx context.Context, purpose string, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Conductor runs batches against one workspace.
type Conductor struct {
	store       *store.Store
	runner      TaskRunner
	llm         completer
	blockers    *blockers.Manager
	supervisor  *Supervisor
	workspaceID string
	logger      logging.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // batch ID -> cancel
}

// Deps wires a Conductor.
type Deps struct {
	Store       *store.Store
	Runner      TaskRunner
	LLM         completer
	Blockers    *blockers.Manager
	Supervisor  *Supervisor
	WorkspaceID string
	Logger      logging.Logger
}

// New builds a Conductor.
func New(d Deps) *Conductor {
	return &Conductor{
		store:       d.Store,
		runner:      d.Runner,
		llm:         d.LLM,
		blockers:    d.Blockers,
		supervisor:  d.Supervisor,
		workspaceID: d.WorkspaceID,
		logger:      logging.OrNop(d.Logger),
		cancels:     map[string]context.CancelFunc{},
	}
}

// RunBatch creates a batch, resolves its dependency map per the strategy,
// executes it to a terminal status, and returns the finished record.
func (c *Conductor) RunBatch(ctx context.Context, draft store.BatchDraft) (*store.Batch, error) {
	batch, err := c.store.CreateBatch(ctx, c.workspaceID, draft)
	if err != nil {
		return nil, err
	}

	deps, err := c.resolveDependencies(ctx, batch)
	if err != nil {
		// Fatal before execution: nothing ran, the batch ends CANCELLED.
		if _, terr := c.store.TransitionBatch(ctx, batch.ID, store.BatchCancelled); terr != nil {
			c.logger.Warn("conductor: cancel unstartable batch %s: %v", batch.ID, terr)
		}
		return nil, err
	}
	if err := c.store.SaveBatchDependencyMap(ctx, batch.ID, deps); err != nil {
		return nil, err
	}

	batch, err = c.store.TransitionBatch(ctx, batch.ID, store.BatchRunning)
	if err != nil {
		return nil, err
	}
	c.emit(ctx, store.EventBatchStarted, batch.ID, map[string]any{
		"strategy":     string(batch.Strategy),
		"tasks":        len(batch.TaskIDs),
		"max_parallel": batch.MaxParallel,
	})
	return c.executeToCompletion(ctx, batch, batch.TaskIDs)
}

// ResumeBatch re-executes the failed and blocked tasks of a PARTIAL or
// FAILED batch, or every task when force is set, preserving completed
// results.
func (c *Conductor) ResumeBatch(ctx context.Context, batchID string, force bool) (*store.Batch, error) {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var targets []string
	for _, taskID := range batch.TaskIDs {
		result, ok := batch.Results[taskID]
		if force || !ok || result != store.RunCompleted {
			targets = append(targets, taskID)
		}
	}
	if len(targets) == 0 {
		return batch, nil
	}

	batch, err = c.store.TransitionBatch(ctx, batchID, store.BatchRunning)
	if err != nil {
		return nil, err
	}
	c.emit(ctx, store.EventBatchStarted, batch.ID, map[string]any{
		"resumed": true,
		"tasks":   len(targets),
	})
	return c.executeToCompletion(ctx, batch, targets)
}

// CancelBatch signals cooperative cancellation. A running batch drains its
// in-flight workers and ends CANCELLED; a pending batch is cancelled
// directly.
func (c *Conductor) CancelBatch(ctx context.Context, batchID string) error {
	c.mu.Lock()
	cancel, running := c.cancels[batchID]
	c.mu.Unlock()
	if running {
		c.logger.Info("conductor: cancelling batch %s", batchID)
		cancel()
		return nil
	}

	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status != store.BatchPending {
		return fmt.Errorf("batch %s is %s; nothing to cancel", batchID, batch.Status)
	}
	if _, err := c.store.TransitionBatch(ctx, batchID, store.BatchCancelled); err != nil {
		return err
	}
	c.emit(ctx, store.EventBatchCancelled, batchID, nil)
	return nil
}

// resolveDependencies produces the batch's dependency map per its strategy.
func (c *Conductor) resolveDependencies(ctx context.Context, batch *store.Batch) (map[string][]string, error) {
	switch batch.Strategy {
	case store.StrategySerial:
		// Submitted order, one at a time. Dependencies are ignored: a
		// failed task must not starve the rest of the batch, so ordering
		// lives in the scheduler, not the dependency map.
		deps := map[string][]string{}
		for _, taskID := range batch.TaskIDs {
			deps[taskID] = nil
		}
		return deps, nil

	case store.StrategyParallel:
		// Honor the tasks' declared dependencies, restricted to the batch.
		members := map[string]bool{}
		for _, taskID := range batch.TaskIDs {
			members[taskID] = true
		}
		deps := map[string][]string{}
		for _, taskID := range batch.TaskIDs {
			task, err := c.store.GetTask(ctx, taskID)
			if err != nil {
				return nil, err
			}
			var kept []string
			for _, dep := range task.DependsOn {
				if members[dep] {
					kept = append(kept, dep)
				}
			}
			deps[taskID] = kept
		}
		return deps, nil

	case store.StrategyAuto:
		tasks := make([]*store.Task, 0, len(batch.TaskIDs))
		for _, taskID := range batch.TaskIDs {
			task, err := c.store.GetTask(ctx, taskID)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
		return c.inferDependencies(ctx, tasks)

	default:
		return nil, fmt.Errorf("unknown batch strategy %q", batch.Strategy)
	}
}

// taskResult is one worker's report back to the dispatcher.
type taskResult struct {
	taskID       string
	status       store.RunStatus
	inputTokens  int
	outputTokens int
}

// executeToCompletion runs the scheduling passes (initial + retries),
// computes the final batch status, and closes the batch.
func (c *Conductor) executeToCompletion(ctx context.Context, batch *store.Batch, targets []string) (*store.Batch, error) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[batch.ID] = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.cancels, batch.ID)
		c.mu.Unlock()
	}()

	results := map[string]store.RunStatus{}
	for taskID, status := range batch.Results {
		results[taskID] = status
	}

	deadlocked := c.executePass(runCtx, batch, targets, results)

	// Retry pass: failed tasks only; blocked tasks need a human.
	for attempt := 1; attempt <= batch.RetryBudget && runCtx.Err() == nil; attempt++ {
		var failed []string
		for _, taskID := range batch.TaskIDs {
			if results[taskID] == store.RunFailed {
				failed = append(failed, taskID)
			}
		}
		if len(failed) == 0 {
			break
		}
		c.logger.Info("conductor: batch %s retry %d/%d for %d failed task(s)",
			batch.ID, attempt, batch.RetryBudget, len(failed))
		c.executePass(runCtx, batch, failed, results)
	}

	// The batch record must close out even when cancellation came through
	// the caller's context.
	ctx = context.WithoutCancel(ctx)
	final := finalStatus(batch.TaskIDs, results, runCtx.Err() != nil, deadlocked)
	finished, err := c.store.TransitionBatch(ctx, batch.ID, final)
	if err != nil {
		return nil, err
	}
	if final == store.BatchCancelled {
		c.emit(ctx, store.EventBatchCancelled, batch.ID, nil)
	} else {
		c.emit(ctx, store.EventBatchCompleted, batch.ID, map[string]any{
			"status":  string(final),
			"results": resultsPayload(results),
		})
	}
	return finished, nil
}

// executePass schedules one wave of targets over the worker pool, honoring
// the dependency map, capacity, on-failure policy, and cancellation. It
// reports whether the deadlock guard fired.
func (c *Conductor) executePass(ctx context.Context, batch *store.Batch, targets []string, results map[string]store.RunStatus) bool {
	pending := map[string]bool{}
	for _, taskID := range targets {
		pending[taskID] = true
		delete(results, taskID)
	}

	sem := semaphore.NewWeighted(int64(batch.MaxParallel))
	doneCh := make(chan taskResult)
	inflight := 0
	requeued := map[string]int{}
	stopped := false
	deadlocked := false

	for len(pending) > 0 || inflight > 0 {
		if ctx.Err() != nil {
			stopped = true
		}
		if !stopped {
			for _, taskID := range c.readySet(batch, pending, results) {
				if !sem.TryAcquire(1) {
					break
				}
				delete(pending, taskID)
				inflight++
				c.emit(ctx, store.EventBatchTaskStarted, batch.ID, map[string]any{"task_id": taskID})
				go func(taskID string) {
					defer sem.Release(1)
					doneCh <- c.runOne(ctx, taskID)
				}(taskID)
			}
		}

		if inflight == 0 {
			if stopped || len(pending) == 0 {
				break
			}
			// Deadlock guard: tasks remain but nothing can run. Mark them
			// blocked rather than hanging the batch.
			for taskID := range pending {
				c.markUnsatisfiable(ctx, batch, taskID, results)
				delete(pending, taskID)
			}
			deadlocked = true
			break
		}

		res := <-doneCh
		inflight--

		if res.status == store.RunBlocked && ctx.Err() == nil {
			resolved, err := c.supervisor.TryResolve(ctx, res.taskID)
			if err != nil {
				c.logger.Warn("conductor: supervisor on task %s: %v", res.taskID, err)
			}
			if resolved && requeued[res.taskID] < maxRequeues {
				requeued[res.taskID]++
				c.logger.Info("conductor: re-queueing task %s after auto-resolution", res.taskID)
				pending[res.taskID] = true
				continue
			}
		}

		results[res.taskID] = res.status
		c.recordResult(ctx, batch, res)
		if res.status != store.RunCompleted && batch.OnFailure == store.OnFailureStop {
			stopped = true
		}
	}
	return deadlocked
}

// readySet returns pending tasks whose dependencies have all completed,
// preserving the batch's submitted order. A SERIAL batch dispatches one
// task per call: the dispatcher waits for it before asking again.
func (c *Conductor) readySet(batch *store.Batch, pending map[string]bool, results map[string]store.RunStatus) []string {
	var ready []string
	for _, taskID := range batch.TaskIDs {
		if !pending[taskID] {
			continue
		}
		ok := true
		for _, dep := range batch.DependencyMap[taskID] {
			if results[dep] != store.RunCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, taskID)
			if batch.Strategy == store.StrategySerial {
				break
			}
		}
	}
	return ready
}

// runOne drives one task to a terminal run status, normalizing its starting
// state first.
func (c *Conductor) runOne(ctx context.Context, taskID string) taskResult {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		c.logger.Warn("conductor: load task %s: %v", taskID, err)
		return taskResult{taskID: taskID, status: store.RunFailed}
	}

	var outcome *agent.Outcome
	switch task.Status {
	case store.TaskDone, store.TaskMerged:
		// Completed outside this pass; preserve the result.
		return taskResult{taskID: taskID, status: store.RunCompleted}
	case store.TaskBlocked:
		_, outcome, err = c.runner.ResumeRun(ctx, taskID)
	case store.TaskBacklog, store.TaskFailed:
		if _, err = c.store.Transition(ctx, taskID, store.TaskReady); err == nil {
			_, outcome, err = c.runner.StartRun(ctx, taskID, "")
		}
	default:
		_, outcome, err = c.runner.StartRun(ctx, taskID, "")
	}
	if err != nil {
		c.logger.Warn("conductor: task %s run failed to start: %v", taskID, err)
		return taskResult{taskID: taskID, status: store.RunFailed}
	}
	return taskResult{
		taskID:       taskID,
		status:       outcome.Status,
		inputTokens:  outcome.Usage.PromptTokens,
		outputTokens: outcome.Usage.CompletionTokens,
	}
}

func (c *Conductor) recordResult(ctx context.Context, batch *store.Batch, res taskResult) {
	// Results must land even when the batch context was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := c.store.RecordBatchResult(ctx, batch.ID, res.taskID, res.status); err != nil {
		c.logger.Warn("conductor: record result for %s: %v", res.taskID, err)
	}
	if res.inputTokens > 0 || res.outputTokens > 0 {
		if err := c.store.AddBatchUsage(ctx, batch.ID, res.inputTokens, res.outputTokens); err != nil {
			c.logger.Warn("conductor: add usage for %s: %v", res.taskID, err)
		}
	}
	typ := store.EventBatchTaskCompleted
	if res.status != store.RunCompleted {
		typ = store.EventBatchTaskFailed
	}
	c.emit(ctx, typ, batch.ID, map[string]any{
		"task_id": res.taskID,
		"status":  string(res.status),
	})
}

// markUnsatisfiable records a BLOCKED result for a task the scheduler can
// never reach and leaves a blocker explaining why. The task's own status is
// untouched: it was never started, so it stays READY or BACKLOG.
func (c *Conductor) markUnsatisfiable(ctx context.Context, batch *store.Batch, taskID string, results map[string]store.RunStatus) {
	results[taskID] = store.RunBlocked
	if _, err := c.blockers.Create(ctx, taskID, store.BlockerAsync, store.CategoryEscalation,
		"This task's dependencies can never complete in this batch (unsatisfiable dependency). Fix the dependency map or the failed prerequisites, then resume the batch.",
		fmt.Sprintf("batch %s deadlock guard", batch.ID)); err != nil {
		c.logger.Warn("conductor: blocker for unsatisfiable task %s: %v", taskID, err)
	}
	c.recordResult(ctx, batch, taskResult{taskID: taskID, status: store.RunBlocked})
	c.logger.Warn("conductor: task %s has an unsatisfiable dependency, recording blocked", taskID)
}

// finalStatus computes the batch's terminal status from the per-task
// results. Cancellation wins over failure; the deadlock guard forces
// PARTIAL.
func finalStatus(taskIDs []string, results map[string]store.RunStatus, cancelled, deadlocked bool) store.BatchStatus {
	if cancelled {
		return store.BatchCancelled
	}
	succeeded := 0
	for _, taskID := range taskIDs {
		if results[taskID] == store.RunCompleted {
			succeeded++
		}
	}
	switch {
	case succeeded == len(taskIDs):
		return store.BatchCompleted
	case deadlocked || succeeded > 0:
		return store.BatchPartial
	default:
		return store.BatchFailed
	}
}

func resultsPayload(results map[string]store.RunStatus) map[string]string {
	out := make(map[string]string, len(results))
	for taskID, status := range results {
		out[taskID] = string(status)
	}
	return out
}

func (c *Conductor) emit(ctx context.Context, typ store.EventType, subjectID string, payload map[string]any) {
	if _, err := c.store.AppendEvent(ctx, c.workspaceID, typ, subjectID, payload); err != nil {
		c.logger.Warn("conductor: emit %s: %v", typ, err)
	}
}
