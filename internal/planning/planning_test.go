package planning

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"codeframe/internal/llm"
	"codeframe/internal/store"
)

type planningLLM struct {
	p        *llm.ScriptedProvider
	purposes []string
}

func (l *planningLLM) Complete(ctx context.Context, purpose string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	l.purposes = append(l.purposes, purpose)
	return l.p.Complete(ctx, req)
}

type fixture struct {
	svc *Service
	st  *store.Store
	llm *planningLLM
	ws  *store.Workspace
}

func newFixture(t *testing.T, responses ...llm.ScriptedResponse) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ws, err := st.CreateWorkspace(ctx, t.TempDir())
	require.NoError(t, err)

	scripted := &planningLLM{p: llm.NewScriptedProvider("scripted", responses...)}
	return &fixture{
		svc: New(st, scripted, ws.ID, nil),
		st:  st,
		llm: scripted,
		ws:  ws,
	}
}

func TestGeneratePRDStoresFreshChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llm.TextTurn("# Todo CLI\n\n1. Add items\n2. List items"))

	prd, err := f.svc.GeneratePRD(ctx, "Build a todo CLI")
	require.NoError(t, err)
	require.Equal(t, 1, prd.Version)
	require.Contains(t, prd.Content, "Todo CLI")
	require.Equal(t, []string{"planning"}, f.llm.purposes)

	events, err := f.st.ListEventsAfter(ctx, f.ws.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, store.EventPRDAdded, events[0].Type)
}

func TestGeneratePRDRequiresGoal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GeneratePRD(context.Background(), "  ")
	require.Error(t, err)
}

func TestRefinePRDAppendsVersionWithSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llm.TextTurn("# Todo CLI v2\n\nNow with due dates.\n\nCHANGES: added due dates"))

	prd, err := f.st.AddPRD(ctx, f.ws.ID, "# Todo CLI")
	require.NoError(t, err)

	revised, err := f.svc.RefinePRD(ctx, prd.ID, "add due dates")
	require.NoError(t, err)
	require.Equal(t, 2, revised.Version)
	require.Equal(t, prd.ChainID, revised.ChainID)
	require.Equal(t, "added due dates", revised.ChangeSummary)
	require.Contains(t, revised.Content, "due dates")
	require.NotContains(t, revised.Content, "CHANGES:")

	head, err := f.st.LatestPRD(ctx, prd.ChainID)
	require.NoError(t, err)
	require.Equal(t, revised.ID, head.ID)
}

func TestSplitChangeSummary(t *testing.T) {
	doc, summary := splitChangeSummary("body line\nmore\nCHANGES: tightened scope")
	require.Equal(t, "body line\nmore", doc)
	require.Equal(t, "tightened scope", summary)

	doc, summary = splitChangeSummary("just a document")
	require.Equal(t, "just a document", doc)
	require.Empty(t, summary)
}

func TestGenerateTasksCreatesBacklogWithDependencies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llm.TextTurn("```json\n"+
		`[{"title": "Set up data model", "description": "sqlite schema", "priority": 1, "complexity": 2, "depends_on": []},
		  {"title": "Add CLI commands", "description": "add/list", "priority": 2, "complexity": 3, "depends_on": [0]}]`+
		"\n```"))

	_, err := f.st.AddPRD(ctx, f.ws.ID, "# Todo CLI")
	require.NoError(t, err)

	tasks, err := f.svc.GenerateTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, store.TaskBacklog, tasks[0].Status)
	require.Equal(t, store.TaskBacklog, tasks[1].Status)
	require.Equal(t, []string{tasks[0].ID}, tasks[1].DependsOn)
	require.Equal(t, 3, tasks[1].ComplexityScore)

	events, err := f.st.ListEventsAfter(ctx, f.ws.ID, "", 10)
	require.NoError(t, err)
	var sawGenerated bool
	for _, e := range events {
		if e.Type == store.EventTasksGenerated {
			sawGenerated = true
		}
	}
	require.True(t, sawGenerated)
}

func TestGenerateTasksRequiresPRD(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GenerateTasks(context.Background())
	require.ErrorIs(t, err, ErrNoPRD)
}

func TestGenerateTasksRejectsForwardReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llm.TextTurn(`[{"title": "a", "depends_on": [1]}, {"title": "b"}]`))

	_, err := f.st.AddPRD(ctx, f.ws.ID, "# doc")
	require.NoError(t, err)

	_, err = f.svc.GenerateTasks(ctx)
	require.ErrorIs(t, err, ErrInvalidTaskList)
}

func TestParseTaskListRepairsDamage(t *testing.T) {
	drafts, err := parseTaskList("Here you go:\n```json\n[{'title': 'a', 'depends_on': []},]\n```")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, "a", drafts[0].Title)

	_, err = parseTaskList("no list here")
	require.ErrorIs(t, err, ErrInvalidTaskList)

	_, err = parseTaskList("[]")
	require.ErrorIs(t, err, ErrInvalidTaskList)
}
