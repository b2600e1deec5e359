package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeframe/internal/agent"
	"codeframe/internal/blockers"
	"codeframe/internal/config"
	"codeframe/internal/store"
)

// stubEngine returns a canned outcome and records the prompt it was given.
type stubEngine struct {
	outcome *agent.Outcome
	err     error
	// waitForCancel makes the engine behave like a cooperative agent loop:
	// it parks until the run context is cancelled.
	waitForCancel bool
	started       chan struct{}
	prompt        agent.PromptInputs
}

func (e *stubEngine) ExecuteTask(ctx context.Context, _ *store.Task, _ *store.Run, prompt agent.PromptInputs) (*agent.Outcome, error) {
	e.prompt = prompt
	if e.started != nil {
		close(e.started)
	}
	if e.waitForCancel {
		<-ctx.Done()
		return &agent.Outcome{Status: store.RunStopped, Summary: "run cancelled"}, nil
	}
	return e.outcome, e.err
}

type fixture struct {
	rt     *Runtime
	store  *store.Store
	engine *stubEngine
	ws     *store.Workspace
	task   *store.Task
}

func newFixture(t *testing.T, engine *stubEngine) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ws, err := st.CreateWorkspace(ctx, t.TempDir())
	require.NoError(t, err)
	task, err := st.CreateTask(ctx, ws.ID, store.TaskDraft{Title: "wire up auth"})
	require.NoError(t, err)
	_, err = st.Transition(ctx, task.ID, store.TaskReady)
	require.NoError(t, err)

	rt := New(Deps{
		Store:        st,
		Blockers:     blockers.New(st, ws.ID, time.Hour, nil),
		Workspace:    ws,
		WorkspaceCfg: &config.WorkspaceConfig{TestCommand: "pytest"},
		ReactEngine:  engine,
	})
	return &fixture{rt: rt, store: st, engine: engine, ws: ws, task: task}
}

func (f *fixture) eventTypes(t *testing.T) []store.EventType {
	t.Helper()
	events, err := f.store.ListEventsAfter(context.Background(), f.ws.ID, "", 1000)
	require.NoError(t, err)
	var types []store.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestStartRunCompletesTask(t *testing.T) {
	ctx := context.Background()
	engine := &stubEngine{outcome: &agent.Outcome{
		Status:     store.RunCompleted,
		Summary:    "implemented login",
		Iterations: 4,
	}}
	f := newFixture(t, engine)

	run, outcome, err := f.rt.StartRun(ctx, f.task.ID, "")
	require.NoError(t, err)
	require.Equal(t, store.RunCompleted, outcome.Status)
	require.Equal(t, store.RunCompleted, run.Status)
	require.Equal(t, agent.EngineName, run.Engine)
	require.Equal(t, 4, run.Iterations)
	require.NotNil(t, run.FinishedAt)

	task, err := f.store.GetTask(ctx, f.task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskDone, task.Status)
	require.Equal(t, "implemented login", task.ResultSummary)

	types := f.eventTypes(t)
	require.Contains(t, types, store.EventRunStarted)
	require.Contains(t, types, store.EventTaskStatusChanged)

	// The engine saw the workspace context.
	require.Equal(t, f.ws.RepoPath, engine.prompt.RepoPath)
	require.Equal(t, "pytest", engine.prompt.WorkspaceCfg.TestCommand)
}

func TestStartRunClosesRunWhenContextLoadFails(t *testing.T) {
	ctx := context.Background()
	engine := &stubEngine{outcome: &agent.Outcome{Status: store.RunCompleted}}
	f := newFixture(t, engine)

	// A blocker store that cannot be queried makes context assembly fail
	// before the engine ever sees the task.
	broken, err := store.Open(filepath.Join(t.TempDir(), "broken.db"))
	require.NoError(t, err)
	require.NoError(t, broken.Close())
	f.rt.blockers = blockers.New(broken, f.ws.ID, time.Hour, nil)

	run, outcome, err := f.rt.StartRun(ctx, f.task.ID, "")
	require.Error(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, store.RunFailed, outcome.Status)
	require.Contains(t, outcome.Summary, "context load failure")

	// Neither the run nor the task is left in flight.
	require.Equal(t, store.RunFailed, run.Status)
	require.NotNil(t, run.FinishedAt)

	task, err := f.store.GetTask(ctx, f.task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, task.Status)
}

func TestStartRunRequiresReadyTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubEngine{outcome: &agent.Outcome{Status: store.RunCompleted}})

	backlog, err := f.store.CreateTask(ctx, f.ws.ID, store.TaskDraft{Title: "later"})
	require.NoError(t, err)

	_, _, err = f.rt.StartRun(ctx, backlog.ID, "")
	require.Error(t, err)
	require.True(t, store.IsInvalidTransition(err))
}

func TestStartRunRejectsUnknownEngine(t *testing.T) {
	f := newFixture(t, &stubEngine{})
	_, _, err := f.rt.StartRun(context.Background(), f.task.ID, "genetic")
	require.ErrorContains(t, err, "unknown engine")

	// "plan" is a recognized selector but nothing is installed behind it.
	_, _, err = f.rt.StartRun(context.Background(), f.task.ID, PlanEngineName)
	require.ErrorContains(t, err, "not installed")
}

func TestStartRunBlockedOutcome(t *testing.T) {
	ctx := context.Background()
	engine := &stubEngine{outcome: &agent.Outcome{
		Status:    store.RunBlocked,
		Summary:   "blocked: which auth provider?",
		BlockerID: "blk-x",
	}}
	f := newFixture(t, engine)

	run, _, err := f.rt.StartRun(ctx, f.task.ID, "")
	require.NoError(t, err)
	require.Equal(t, store.RunBlocked, run.Status)

	task, err := f.store.GetTask(ctx, f.task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskBlocked, task.Status)
}

func TestStopRunCancelsCooperatively(t *testing.T) {
	ctx := context.Background()
	engine := &stubEngine{waitForCancel: true, started: make(chan struct{})}
	f := newFixture(t, engine)

	type result struct {
		run *store.Run
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, _, err := f.rt.StartRun(ctx, f.task.ID, "")
		done <- result{run, err}
	}()

	<-engine.started
	require.NoError(t, f.rt.StopRun(f.task.ID))

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, store.RunStopped, res.run.Status)

	task, err := f.store.GetTask(ctx, f.task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, task.Status)
	require.Equal(t, "cancelled", task.ResultSummary)

	// Nothing left to stop afterwards.
	require.ErrorIs(t, f.rt.StopRun(f.task.ID), ErrTaskNotRunning)
}

func TestResumeRunRequiresResolvedBlockers(t *testing.T) {
	ctx := context.Background()
	engine := &stubEngine{outcome: &agent.Outcome{Status: store.RunBlocked, Summary: "blocked"}}
	f := newFixture(t, engine)

	_, _, err := f.rt.StartRun(ctx, f.task.ID, "")
	require.NoError(t, err)

	b, err := f.rt.blockers.Create(ctx, f.task.ID, store.BlockerSync, store.CategoryAmbiguousSpec,
		"Which auth provider should be used?", "prd says only 'secure auth'")
	require.NoError(t, err)

	_, _, err = f.rt.ResumeRun(ctx, f.task.ID)
	require.ErrorIs(t, err, ErrBlockersOpen)

	// Answer the blocker; resume now re-runs the engine with the answer in
	// the prompt.
	_, err = f.rt.blockers.Answer(ctx, b.ID, "Use JWT")
	require.NoError(t, err)
	engine.outcome = &agent.Outcome{Status: store.RunCompleted, Summary: "done with JWT"}

	run, _, err := f.rt.ResumeRun(ctx, f.task.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunCompleted, run.Status)
	require.Contains(t, engine.prompt.BlockerAnswers, "Use JWT")

	task, err := f.store.GetTask(ctx, f.task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskDone, task.Status)

	// Two runs exist: the blocked one and the resumed one.
	runs, err := f.store.ListRuns(ctx, f.task.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestResumeRunRejectsNonBlockedTask(t *testing.T) {
	f := newFixture(t, &stubEngine{})
	_, _, err := f.rt.ResumeRun(context.Background(), f.task.ID)
	require.ErrorContains(t, err, "only BLOCKED or FAILED")
}
