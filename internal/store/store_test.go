package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeframe/internal/clock"
)

func newTestStore(t *testing.T) (*Store, *Workspace) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"),
		WithClock(clock.NewFake(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ws, err := s.CreateWorkspace(context.Background(), "/tmp/repo")
	require.NoError(t, err)
	return s, ws
}

func mustCreateTask(t *testing.T, s *Store, wsID, title string, deps ...string) *Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), wsID, TaskDraft{Title: title, DependsOn: deps})
	require.NoError(t, err)
	return task
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening must not re-run applied migrations.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	require.Equal(t, len(migrations), n)
}

func TestTaskNumbersAreSequentialPerWorkspace(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	a := mustCreateTask(t, s, ws.ID, "first")
	b := mustCreateTask(t, s, ws.ID, "second")
	require.Equal(t, 1, a.TaskNumber)
	require.Equal(t, 2, b.TaskNumber)

	got, err := s.GetTaskByNumber(ctx, ws.ID, 2)
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)
}

func TestTaskTransitions(t *testing.T) {
	tests := []struct {
		from TaskStatus
		to   TaskStatus
		ok   bool
	}{
		{TaskBacklog, TaskReady, true},
		{TaskReady, TaskBacklog, true},
		{TaskReady, TaskInProgress, true},
		{TaskInProgress, TaskDone, true},
		{TaskInProgress, TaskFailed, true},
		{TaskInProgress, TaskBlocked, true},
		{TaskBlocked, TaskReady, true},
		{TaskFailed, TaskReady, true},
		{TaskDone, TaskMerged, true},
		{TaskBacklog, TaskInProgress, false},
		{TaskBacklog, TaskDone, false},
		{TaskDone, TaskReady, false},
		{TaskMerged, TaskReady, false},
		{TaskReady, TaskReady, false},
		{TaskFailed, TaskInProgress, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	task := mustCreateTask(t, s, ws.ID, "t")
	_, err := s.Transition(ctx, task.ID, TaskDone)
	require.Error(t, err)
	require.True(t, IsInvalidTransition(err))

	// Status must be unchanged after the rejected transition.
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, TaskBacklog, got.Status)
}

func TestReadyRequiresDependenciesDone(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	dep := mustCreateTask(t, s, ws.ID, "dep")
	task := mustCreateTask(t, s, ws.ID, "t", dep.ID)

	_, err := s.Transition(ctx, task.ID, TaskReady)
	require.ErrorContains(t, err, "dependency")

	for _, to := range []TaskStatus{TaskReady, TaskInProgress, TaskDone} {
		_, err = s.Transition(ctx, dep.ID, to)
		require.NoError(t, err)
	}

	got, err := s.Transition(ctx, task.ID, TaskReady)
	require.NoError(t, err)
	require.Equal(t, TaskReady, got.Status)
}

func TestDoneStampsCompletedAt(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	task := mustCreateTask(t, s, ws.ID, "t")
	for _, to := range []TaskStatus{TaskReady, TaskInProgress} {
		_, err := s.Transition(ctx, task.ID, to)
		require.NoError(t, err)
	}
	done, err := s.Transition(ctx, task.ID, TaskDone, WithResultSummary("shipped"))
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, "shipped", done.ResultSummary)
}

func TestFailedStampsCompletedAtAndReadyClearsIt(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	task := mustCreateTask(t, s, ws.ID, "t")
	for _, to := range []TaskStatus{TaskReady, TaskInProgress} {
		_, err := s.Transition(ctx, task.ID, to)
		require.NoError(t, err)
	}
	failed, err := s.Transition(ctx, task.ID, TaskFailed, WithResultSummary("gates failing"))
	require.NoError(t, err)
	require.NotNil(t, failed.CompletedAt)

	// Re-opening a failed task clears the completion timestamp.
	ready, err := s.Transition(ctx, task.ID, TaskReady)
	require.NoError(t, err)
	require.Nil(t, ready.CompletedAt)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Nil(t, got.CompletedAt)
}

func TestMergedKeepsDoneTimestamp(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	task := mustCreateTask(t, s, ws.ID, "t")
	for _, to := range []TaskStatus{TaskReady, TaskInProgress, TaskDone} {
		_, err := s.Transition(ctx, task.ID, to)
		require.NoError(t, err)
	}
	done, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	merged, err := s.Transition(ctx, task.ID, TaskMerged)
	require.NoError(t, err)
	require.Equal(t, done.CompletedAt.UTC(), merged.CompletedAt.UTC())
}

func TestTaskStatusCheckConstraintEnforced(t *testing.T) {
	s, ws := newTestStore(t)

	// Go straight at the database: the schema itself must reject statuses
	// outside the lifecycle set.
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, workspace_id, task_number, title, status, created_at)
		VALUES ('task-bogus', ?, 99, 'bogus', 'NOT_A_STATUS', '2026-01-02T03:00:00Z')`,
		ws.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "constraint")
}

func TestDependencyCycleRejected(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	a := mustCreateTask(t, s, ws.ID, "a")
	b := mustCreateTask(t, s, ws.ID, "b", a.ID)

	err := s.UpdateTaskDependencies(ctx, a.ID, []string{b.ID})
	require.ErrorIs(t, err, ErrIntegrityViolation)

	_, err = s.CreateTask(ctx, ws.ID, TaskDraft{Title: "self", DependsOn: []string{"task-missing"}})
	require.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestPRDChainStaysLinear(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	v1, err := s.AddPRD(ctx, ws.ID, "build a thing")
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)
	require.Equal(t, v1.ID, v1.ChainID)

	v2, err := s.UpdatePRD(ctx, v1.ID, "build a better thing", "scope change")
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)
	require.Equal(t, v1.ChainID, v2.ChainID)

	// Branching off a stale version is rejected.
	_, err = s.UpdatePRD(ctx, v1.ID, "fork", "")
	require.ErrorContains(t, err, "head")

	chain, err := s.ListPRDChain(ctx, v1.ChainID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, []int{1, 2}, []int{chain[0].Version, chain[1].Version})
}

func TestBlockerLifecycleAndExpiry(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, ws.ID, "t")

	b, err := s.CreateBlocker(ctx, task.ID, BlockerSync, CategoryMissingInfo,
		"which database?", "schema design", time.Hour)
	require.NoError(t, err)

	open, err := s.ListOpenBlockers(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 1)

	answered, err := s.AnswerBlocker(ctx, b.ID, "postgres")
	require.NoError(t, err)
	require.Equal(t, BlockerAnswered, answered.Status)
	require.NotNil(t, answered.AnsweredAt)

	// Answering twice is rejected.
	_, err = s.AnswerBlocker(ctx, b.ID, "mysql")
	require.True(t, IsInvalidTransition(err))

	resolved, err := s.ResolveBlocker(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, BlockerResolved, resolved.Status)

	// A zero-expiry blocker is immediately stale.
	stale, err := s.CreateBlocker(ctx, task.ID, BlockerAsync, CategoryTacticalDecision, "naming?", "", 0)
	require.NoError(t, err)
	expired, err := s.ExpireStaleBlockers(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, stale.ID, expired[0].ID)
	require.Equal(t, ExpiredBlockerAnswer, expired[0].Answer)

	consumable, err := s.ListAnsweredBlockers(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, consumable, 1)
	require.Equal(t, BlockerExpired, consumable[0].Status)
}

func TestBatchLifecycleAndResults(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	a := mustCreateTask(t, s, ws.ID, "a")
	b := mustCreateTask(t, s, ws.ID, "b")

	batch, err := s.CreateBatch(ctx, ws.ID, BatchDraft{TaskIDs: []string{a.ID, b.ID}})
	require.NoError(t, err)
	require.Equal(t, BatchPending, batch.Status)
	require.Equal(t, StrategyAuto, batch.Strategy)
	require.Equal(t, 4, batch.MaxParallel)

	_, err = s.CreateBatch(ctx, ws.ID, BatchDraft{TaskIDs: []string{"task-nope"}})
	require.ErrorIs(t, err, ErrIntegrityViolation)

	running, err := s.TransitionBatch(ctx, batch.ID, BatchRunning)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	require.NoError(t, s.SaveBatchDependencyMap(ctx, batch.ID, map[string][]string{b.ID: {a.ID}}))
	require.NoError(t, s.RecordBatchResult(ctx, batch.ID, a.ID, RunCompleted))
	require.NoError(t, s.RecordBatchResult(ctx, batch.ID, b.ID, RunFailed))
	require.NoError(t, s.AddBatchUsage(ctx, batch.ID, 1000, 250))

	partial, err := s.TransitionBatch(ctx, batch.ID, BatchPartial)
	require.NoError(t, err)
	require.NotNil(t, partial.FinishedAt)

	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, got.Results[a.ID])
	require.Equal(t, RunFailed, got.Results[b.ID])
	require.Equal(t, []string{a.ID}, got.DependencyMap[b.ID])
	require.Equal(t, 1000, got.InputTokens)

	// PARTIAL resumes back into RUNNING; COMPLETED is terminal.
	resumed, err := s.TransitionBatch(ctx, batch.ID, BatchRunning)
	require.NoError(t, err)
	require.Nil(t, resumed.FinishedAt)
	_, err = s.TransitionBatch(ctx, batch.ID, BatchCompleted)
	require.NoError(t, err)
	_, err = s.TransitionBatch(ctx, batch.ID, BatchRunning)
	require.True(t, IsInvalidTransition(err))
}

func TestEventsAreStrictlyMonotonic(t *testing.T) {
	// A frozen clock (Step 0) forces the monotonic bump path.
	frozen := clock.NewFake(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))
	frozen.Step = 0
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), WithClock(frozen))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, "/tmp/repo")
	require.NoError(t, err)

	var prev time.Time
	for i := 0; i < 5; i++ {
		evt, err := s.AppendEvent(ctx, ws.ID, EventWorkspaceInit, "", nil)
		require.NoError(t, err)
		require.True(t, evt.Timestamp.After(prev), "timestamp %v not after %v", evt.Timestamp, prev)
		prev = evt.Timestamp
	}
}

func TestEventTailAndTruncate(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, typ := range []EventType{EventWorkspaceInit, EventPRDAdded, EventTasksGenerated, EventRunStarted} {
		evt, err := s.AppendEvent(ctx, ws.ID, typ, "subj", map[string]any{"k": "v"})
		require.NoError(t, err)
		ids = append(ids, evt.ID)
	}

	recent, err := s.ListRecentEvents(ctx, ws.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, EventRunStarted, recent[0].Type)

	tail, err := s.ListEventsAfter(ctx, ws.ID, ids[1], 0)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, ids[2], tail[0].ID)
	require.Equal(t, "v", tail[0].Payload["k"])

	_, err = s.ListEventsAfter(ctx, ws.ID, "evt-nope", 0)
	require.ErrorIs(t, err, ErrNotFound)

	deleted, err := s.TruncateEventsAfter(ctx, ws.ID, ids[1])
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	latest, err := s.LatestEventID(ctx, ws.ID)
	require.NoError(t, err)
	require.Equal(t, ids[1], latest)
}

func TestRunLifecycle(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, ws.ID, "t")

	run, err := s.StartRun(ctx, task.ID, "react")
	require.NoError(t, err)
	require.Equal(t, RunRunning, run.Status)

	require.NoError(t, s.UpdateRunProgress(ctx, run.ID, 3, 1200, 400))

	finished, err := s.FinishRun(ctx, run.ID, RunUpdate{
		Status: RunCompleted, Iterations: 5, InputTokens: 2000, OutputTokens: 700,
		Summary: "implemented the parser",
	})
	require.NoError(t, err)
	require.Equal(t, 2700, finished.TotalTokens)
	require.NotNil(t, finished.FinishedAt)

	_, err = s.FinishRun(ctx, run.ID, RunUpdate{Status: RunFailed})
	require.True(t, IsInvalidTransition(err))

	_, err = s.FinishRun(ctx, run.ID, RunUpdate{Status: RunRunning})
	require.ErrorContains(t, err, "terminal")

	latest, err := s.LatestRun(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, latest.ID)
}

func TestDecisionUpsert(t *testing.T) {
	s, ws := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDecision(ctx, ws.ID, "db choice")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutDecision(ctx, ws.ID, "db choice", "which db?", "postgres"))
	require.NoError(t, s.PutDecision(ctx, ws.ID, "db choice", "which db?", "sqlite"))

	d, err := s.GetDecision(ctx, ws.ID, "db choice")
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Answer)
}
