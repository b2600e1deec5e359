package conductor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeframe/internal/agent"
	"codeframe/internal/blockers"
	"codeframe/internal/llm"
	"codeframe/internal/store"
)

// fakeRunner stands in for the runtime facade. It replays scripted outcomes
// per task and mirrors the runtime's task transitions so store state stays
// coherent.
type fakeRunner struct {
	t  *testing.T
	st *store.Store
	bm *blockers.Manager

	mu      sync.Mutex
	scripts map[string][]scriptedOutcome
	order   []string
	running int
	maxSeen int
}

type scriptedOutcome struct {
	status store.RunStatus
	// blockerQuestion is raised as a tactical-decision blocker when the
	// outcome is BLOCKED.
	blockerQuestion string
	// waitForCancel parks the run until the batch context is cancelled.
	waitForCancel bool
	started       chan struct{}
}

func newFakeRunner(t *testing.T, st *store.Store, bm *blockers.Manager) *fakeRunner {
	return &fakeRunner{t: t, st: st, bm: bm, scripts: map[string][]scriptedOutcome{}}
}

func (f *fakeRunner) script(taskID string, outcomes ...scriptedOutcome) {
	f.scripts[taskID] = append(f.scripts[taskID], outcomes...)
}

func (f *fakeRunner) next(taskID string) scriptedOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, taskID)
	f.running++
	if f.running > f.maxSeen {
		f.maxSeen = f.running
	}
	queue := f.scripts[taskID]
	if len(queue) == 0 {
		return scriptedOutcome{status: store.RunCompleted}
	}
	out := queue[0]
	f.scripts[taskID] = queue[1:]
	return out
}

func (f *fakeRunner) StartRun(ctx context.Context, taskID, _ string) (*store.Run, *agent.Outcome, error) {
	return f.execute(ctx, taskID)
}

func (f *fakeRunner) ResumeRun(ctx context.Context, taskID string) (*store.Run, *agent.Outcome, error) {
	if _, err := f.st.Transition(ctx, taskID, store.TaskReady); err != nil {
		return nil, nil, err
	}
	return f.execute(ctx, taskID)
}

func (f *fakeRunner) execute(ctx context.Context, taskID string) (*store.Run, *agent.Outcome, error) {
	out := f.next(taskID)
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()
	if out.started != nil {
		close(out.started)
	}

	if _, err := f.st.Transition(ctx, taskID, store.TaskInProgress); err != nil {
		return nil, nil, err
	}
	run, err := f.st.StartRun(ctx, taskID, agent.EngineName)
	if err != nil {
		return nil, nil, err
	}

	status := out.status
	if out.waitForCancel {
		<-ctx.Done()
		status = store.RunStopped
	}

	var to store.TaskStatus
	switch status {
	case store.RunCompleted:
		to = store.TaskDone
	case store.RunBlocked:
		to = store.TaskBlocked
		if out.blockerQuestion != "" {
			_, err := f.bm.Create(ctx, taskID, store.BlockerSync, store.CategoryTacticalDecision,
				out.blockerQuestion, "scripted")
			require.NoError(f.t, err)
		}
	default:
		to = store.TaskFailed
	}
	if _, err := f.st.Transition(context.WithoutCancel(ctx), taskID, to); err != nil {
		return nil, nil, err
	}
	finished, err := f.st.FinishRun(context.WithoutCancel(ctx), run.ID, store.RunUpdate{
		Status: status, Iterations: 1, InputTokens: 10, OutputTokens: 5,
	})
	if err != nil {
		return nil, nil, err
	}
	outcome := &agent.Outcome{
		Status: status,
		Usage:  llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	return finished, outcome, nil
}

func (f *fakeRunner) runsOf(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.order {
		if id == taskID {
			n++
		}
	}
	return n
}

func (f *fakeRunner) position(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range f.order {
		if id == taskID {
			return i
		}
	}
	return -1
}

type batchFixture struct {
	c      *Conductor
	store  *store.Store
	runner *fakeRunner
	llm    *llm.ScriptedProvider
	ws     *store.Workspace
	tasks  []*store.Task
}

type conductorLLM struct{ p *llm.ScriptedProvider }

func (c *conductorLLM) Complete(ctx context.Context, _ string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return c.p.Complete(ctx, req)
}

func newBatchFixture(t *testing.T, titles ...string) *batchFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ws, err := st.CreateWorkspace(ctx, t.TempDir())
	require.NoError(t, err)

	var tasks []*store.Task
	for _, title := range titles {
		task, err := st.CreateTask(ctx, ws.ID, store.TaskDraft{Title: title})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	bm := blockers.New(st, ws.ID, time.Hour, nil)
	runner := newFakeRunner(t, st, bm)
	scripted := llm.NewScriptedProvider("m")
	c := New(Deps{
		Store:       st,
		Runner:      runner,
		LLM:         &conductorLLM{p: scripted},
		Blockers:    bm,
		Supervisor:  NewSupervisor(st, bm, ws.ID, nil),
		WorkspaceID: ws.ID,
	})
	return &batchFixture{c: c, store: st, runner: runner, llm: scripted, ws: ws, tasks: tasks}
}

func (f *batchFixture) taskIDs() []string {
	ids := make([]string, len(f.tasks))
	for i, t := range f.tasks {
		ids[i] = t.ID
	}
	return ids
}

func (f *batchFixture) eventTypes(t *testing.T) []store.EventType {
	t.Helper()
	events, err := f.store.ListEventsAfter(context.Background(), f.ws.ID, "", 1000)
	require.NoError(t, err)
	var types []store.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func countType(types []store.EventType, want store.EventType) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

func TestRunBatchSerialCompletes(t *testing.T) {
	f := newBatchFixture(t, "one", "two", "three")

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:  f.taskIDs(),
		Strategy: store.StrategySerial,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, batch.Status)
	require.NotNil(t, batch.FinishedAt)
	require.Equal(t, f.taskIDs(), f.runner.order)
	require.Equal(t, 1, f.runner.maxSeen)
	require.Equal(t, 30, batch.InputTokens)

	for _, taskID := range f.taskIDs() {
		require.Equal(t, store.RunCompleted, batch.Results[taskID])
		task, err := f.store.GetTask(context.Background(), taskID)
		require.NoError(t, err)
		require.Equal(t, store.TaskDone, task.Status)
	}

	types := f.eventTypes(t)
	require.Equal(t, 1, countType(types, store.EventBatchStarted))
	require.Equal(t, 3, countType(types, store.EventBatchTaskStarted))
	require.Equal(t, 3, countType(types, store.EventBatchTaskCompleted))
	require.Equal(t, 1, countType(types, store.EventBatchCompleted))
}

func TestRunBatchParallelHonorsDeclaredDependencies(t *testing.T) {
	f := newBatchFixture(t, "model", "readme")
	api, err := f.store.CreateTask(context.Background(), f.ws.ID, store.TaskDraft{
		Title:     "api",
		DependsOn: []string{f.tasks[0].ID},
	})
	require.NoError(t, err)
	f.tasks = append(f.tasks, api)

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:     f.taskIDs(),
		Strategy:    store.StrategyParallel,
		MaxParallel: 2,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, batch.Status)
	require.Equal(t, []string{f.tasks[0].ID}, batch.DependencyMap[api.ID])
	require.Greater(t, f.runner.position(api.ID), f.runner.position(f.tasks[0].ID))
	require.LessOrEqual(t, f.runner.maxSeen, 2)
}

func TestRunBatchAutoInfersDependencies(t *testing.T) {
	f := newBatchFixture(t, "create model", "add API using model")
	model, api := f.tasks[0].ID, f.tasks[1].ID

	// Fenced, slightly broken JSON exercises the repair path.
	f.llm.Append(llm.TextTurn("```json\n{\"" + api + "\": [\"" + model + "\"], \"" + model + "\": [],}\n```"))

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:  f.taskIDs(),
		Strategy: store.StrategyAuto,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, batch.Status)
	require.Equal(t, []string{model}, batch.DependencyMap[api])
	require.Greater(t, f.runner.position(api), f.runner.position(model))
}

func TestRunBatchAutoRejectsCycle(t *testing.T) {
	f := newBatchFixture(t, "a", "b")
	a, b := f.tasks[0].ID, f.tasks[1].ID
	f.llm.Append(llm.TextTurn(`{"` + a + `": ["` + b + `"], "` + b + `": ["` + a + `"]}`))

	_, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:  f.taskIDs(),
		Strategy: store.StrategyAuto,
	})
	require.ErrorIs(t, err, ErrInvalidDependencyMap)

	// Nothing ran and the batch record is closed out.
	require.Empty(t, f.runner.order)
	batches, err := f.store.ListBatches(context.Background(), f.ws.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, store.BatchCancelled, batches[0].Status)
}

func TestRetryBudgetReexecutesFailedTasks(t *testing.T) {
	f := newBatchFixture(t, "flaky", "solid")
	flaky := f.tasks[0].ID
	f.runner.script(flaky,
		scriptedOutcome{status: store.RunFailed},
		scriptedOutcome{status: store.RunCompleted},
	)

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:     f.taskIDs(),
		Strategy:    store.StrategyParallel,
		RetryBudget: 1,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, batch.Status)
	require.Equal(t, 2, f.runner.runsOf(flaky))
	require.Equal(t, 1, f.runner.runsOf(f.tasks[1].ID))

	runs, err := f.store.ListRuns(context.Background(), flaky)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestRetryBudgetExhaustedEndsPartial(t *testing.T) {
	f := newBatchFixture(t, "flaky", "solid")
	flaky := f.tasks[0].ID
	f.runner.script(flaky,
		scriptedOutcome{status: store.RunFailed},
		scriptedOutcome{status: store.RunFailed},
	)

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:     f.taskIDs(),
		Strategy:    store.StrategyParallel,
		RetryBudget: 1,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchPartial, batch.Status)
	require.Equal(t, store.RunFailed, batch.Results[flaky])
	require.Equal(t, store.RunCompleted, batch.Results[f.tasks[1].ID])
}

func TestOnFailureStopHaltsScheduling(t *testing.T) {
	f := newBatchFixture(t, "first", "second", "third")
	f.runner.script(f.tasks[0].ID, scriptedOutcome{status: store.RunFailed})

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:   f.taskIDs(),
		Strategy:  store.StrategySerial,
		OnFailure: store.OnFailureStop,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchFailed, batch.Status)
	require.Equal(t, []string{f.tasks[0].ID}, f.runner.order)
}

func TestSerialContinuesPastFailure(t *testing.T) {
	f := newBatchFixture(t, "one", "two", "three")
	f.runner.script(f.tasks[0].ID, scriptedOutcome{status: store.RunFailed})

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:  f.taskIDs(),
		Strategy: store.StrategySerial,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchPartial, batch.Status)

	// A failure does not starve the rest of the batch: the remaining tasks
	// still run, in submitted order, one at a time.
	require.Equal(t, f.taskIDs(), f.runner.order)
	require.Equal(t, 1, f.runner.maxSeen)
	require.Equal(t, store.RunFailed, batch.Results[f.tasks[0].ID])
	require.Equal(t, store.RunCompleted, batch.Results[f.tasks[1].ID])
	require.Equal(t, store.RunCompleted, batch.Results[f.tasks[2].ID])
	require.Empty(t, batch.DependencyMap[f.tasks[1].ID])
}

func TestDeadlockGuardBlocksUnreachableTasks(t *testing.T) {
	f := newBatchFixture(t, "first")
	second, err := f.store.CreateTask(context.Background(), f.ws.ID, store.TaskDraft{
		Title:     "second",
		DependsOn: []string{f.tasks[0].ID},
	})
	require.NoError(t, err)
	f.tasks = append(f.tasks, second)
	f.runner.script(f.tasks[0].ID, scriptedOutcome{status: store.RunFailed})

	// The second task's declared dependency can never complete once the
	// first fails.
	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:  f.taskIDs(),
		Strategy: store.StrategyParallel,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchPartial, batch.Status)
	require.Equal(t, store.RunBlocked, batch.Results[f.tasks[1].ID])
	require.Equal(t, []string{f.tasks[0].ID}, f.runner.order)

	// The stranded task carries a blocker explaining the deadlock.
	open, err := f.store.ListOpenBlockers(context.Background(), f.tasks[1].ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Contains(t, open[0].Question, "unsatisfiable dependency")
}

func TestSupervisorAutoResolvesTacticalBlocker(t *testing.T) {
	f := newBatchFixture(t, "pick a database")
	taskID := f.tasks[0].ID
	f.runner.script(taskID,
		scriptedOutcome{status: store.RunBlocked, blockerQuestion: "Should I use postgres or sqlite?"},
		scriptedOutcome{status: store.RunCompleted},
	)

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:  f.taskIDs(),
		Strategy: store.StrategyParallel,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, batch.Status)
	require.Equal(t, 2, f.runner.runsOf(taskID))

	// The decision is durably cached for the next occurrence.
	d, err := f.store.GetDecision(context.Background(), f.ws.ID, DecisionKind("Should I use postgres or sqlite?"))
	require.NoError(t, err)
	require.Contains(t, d.Answer, "postgres")
}

func TestEscalationBlockerStaysForHuman(t *testing.T) {
	f := newBatchFixture(t, "stuck")
	taskID := f.tasks[0].ID
	f.runner.script(taskID,
		scriptedOutcome{status: store.RunBlocked, blockerQuestion: ""},
	)

	batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
		TaskIDs:  f.taskIDs(),
		Strategy: store.StrategyParallel,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchFailed, batch.Status)
	require.Equal(t, store.RunBlocked, batch.Results[taskID])
	require.Equal(t, 1, f.runner.runsOf(taskID))
}

func TestCancelBatchDrainsAndCancels(t *testing.T) {
	f := newBatchFixture(t, "long", "never")
	started := make(chan struct{})
	f.runner.script(f.tasks[0].ID, scriptedOutcome{waitForCancel: true, started: started})

	type result struct {
		batch *store.Batch
		err   error
	}
	done := make(chan result, 1)
	go func() {
		batch, err := f.c.RunBatch(context.Background(), store.BatchDraft{
			TaskIDs:     f.taskIDs(),
			Strategy:    store.StrategySerial,
			MaxParallel: 1,
		})
		done <- result{batch, err}
	}()

	<-started
	require.NoError(t, f.c.CancelBatch(context.Background(), batchIDOf(t, f)))

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, store.BatchCancelled, res.batch.Status)
	// The second task never started.
	require.Equal(t, []string{f.tasks[0].ID}, f.runner.order)
	require.Contains(t, f.eventTypes(t), store.EventBatchCancelled)
}

func batchIDOf(t *testing.T, f *batchFixture) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		batches, err := f.store.ListBatches(context.Background(), f.ws.ID)
		require.NoError(t, err)
		if len(batches) > 0 {
			return batches[0].ID
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch never appeared")
	return ""
}

func TestResumeBatchReexecutesOnlyUnfinishedTasks(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, "good", "bad")
	bad := f.tasks[1].ID
	f.runner.script(bad,
		scriptedOutcome{status: store.RunFailed},
		scriptedOutcome{status: store.RunCompleted},
	)

	batch, err := f.c.RunBatch(ctx, store.BatchDraft{
		TaskIDs:  f.taskIDs(),
		Strategy: store.StrategyParallel,
	})
	require.NoError(t, err)
	require.Equal(t, store.BatchPartial, batch.Status)

	resumed, err := f.c.ResumeBatch(ctx, batch.ID, false)
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, resumed.Status)
	require.Equal(t, store.RunCompleted, resumed.Results[bad])

	// The completed task was not re-executed.
	require.Equal(t, 1, f.runner.runsOf(f.tasks[0].ID))
	require.Equal(t, 2, f.runner.runsOf(bad))
}
