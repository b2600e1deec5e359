package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"codeframe/internal/llm"
)

// fixedSummarizer returns a constant summary for tier-2 compaction.
type fixedSummarizer struct {
	summary string
	calls   int
}

func (f *fixedSummarizer) Complete(_ context.Context, _ string, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	return &llm.CompletionResponse{Content: f.summary, StopReason: "stop"}, nil
}

func conversation(observations int, observationSize int) []llm.Message {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "system prompt"},
		{Role: llm.RoleUser, Content: "do the task"},
	}
	filler := strings.Repeat("observation text ", observationSize)
	for i := 0; i < observations; i++ {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c", Name: "read_file", Arguments: `{"path":"x"}`}}},
			llm.Message{Role: llm.RoleTool, ToolCallID: "c", Content: filler},
		)
	}
	return msgs
}

func TestCompactorBelowTriggerIsNoop(t *testing.T) {
	c := newCompactor(&fixedSummarizer{}, 1_000_000, nil)
	msgs := conversation(5, 10)

	out, outcome, err := c.maybeCompact(context.Background(), msgs)
	require.NoError(t, err)
	require.Equal(t, compactNone, outcome)
	require.Equal(t, len(msgs), len(out))
}

func TestCompactorTier1StubsOldObservations(t *testing.T) {
	msgs := conversation(30, 60)
	c := newCompactor(&fixedSummarizer{summary: "s"}, c0Estimate(msgs)+1, nil)
	// Window barely above current usage puts us over the trigger; tier 1
	// alone reclaims most of it because nearly all bulk is observations.
	out, outcome, err := c.maybeCompact(context.Background(), msgs)
	require.NoError(t, err)
	require.Equal(t, compactApplied, outcome)

	// Old observations are stubbed, the tail survives verbatim.
	require.Contains(t, out[3].Content, "[observation truncated")
	last := out[len(out)-1]
	require.NotContains(t, last.Content, "[observation truncated")
	require.Less(t, c.estimate(out), c.estimate(msgs))
}

func c0Estimate(msgs []llm.Message) int {
	c := newCompactor(nil, 1, nil)
	return c.estimate(msgs)
}

func TestCompactorTier2Summarizes(t *testing.T) {
	msgs := conversation(30, 60)
	// Make every message non-tool so tier 1 cannot reclaim anything.
	for i := range msgs {
		if msgs[i].Role == llm.RoleTool {
			msgs[i].Role = llm.RoleAssistant
		}
	}
	sum := &fixedSummarizer{summary: "tried X, fixed Y"}
	window := c0Estimate(msgs) + 1
	c := newCompactor(sum, window, nil)

	out, outcome, err := c.maybeCompact(context.Background(), msgs)
	require.NoError(t, err)
	require.Equal(t, compactApplied, outcome)
	require.Equal(t, 1, sum.calls)

	joined := ""
	for _, m := range out {
		joined += m.Content + "\n"
	}
	require.Contains(t, joined, "tried X, fixed Y")
	require.True(t, len(out) < len(msgs))
	// Head and tail survive.
	require.Equal(t, "system prompt", out[0].Content)
	require.Equal(t, msgs[len(msgs)-1].Content, out[len(out)-1].Content)
}

func TestCompactorDropsSupersededObservations(t *testing.T) {
	filler := strings.Repeat("def f():\n    return 1\n", 10)
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "system prompt"},
		{Role: llm.RoleUser, Content: "do the task"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "r1", Name: "read_file", Arguments: `{"path":"app.py"}`}}},
		{Role: llm.RoleTool, ToolCallID: "r1", Content: filler},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "run_tests", Arguments: `{}`}}},
		{Role: llm.RoleTool, ToolCallID: "t1", Content: "exit code: 1\nstdout:\n1 failed"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "r2", Name: "read_file", Arguments: `{"path":"app.py"}`}}},
		{Role: llm.RoleTool, ToolCallID: "r2", Content: filler},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t2", Name: "run_tests", Arguments: `{}`}}},
		{Role: llm.RoleTool, ToolCallID: "t2", Content: "exit code: 0\nstdout:\n3 passed"},
	}
	// Pad so the interesting observations sit outside the verbatim tail.
	for i := 0; i < tailKeep; i++ {
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: "thinking"})
	}

	c := newCompactor(nil, 1_000_000, nil)
	out := c.dropSupersededObservations(msgs)

	// The stale read and the failing test run are stubbed; the latest of
	// each survives.
	require.Equal(t, "[superseded by a later read of app.py]", out[3].Content)
	require.Equal(t, "[superseded by a later passing test run]", out[5].Content)
	require.Equal(t, filler, out[7].Content)
	require.Contains(t, out[9].Content, "3 passed")

	// The input slice is untouched.
	require.Equal(t, filler, msgs[3].Content)
}

func TestCompactorEscalatesWhenTailAloneOverflows(t *testing.T) {
	// A tiny window that even the protected head+tail exceed.
	msgs := conversation(30, 60)
	c := newCompactor(&fixedSummarizer{summary: "s"}, 50, nil)

	_, outcome, err := c.maybeCompact(context.Background(), msgs)
	require.NoError(t, err)
	require.Equal(t, compactEscalate, outcome)
}

func TestSplitForCompactionNeverStartsTailOnOrphanObservation(t *testing.T) {
	msgs := conversation(10, 5)
	_, _, tail := splitForCompaction(msgs)
	require.NotEmpty(t, tail)
	require.NotEqual(t, llm.RoleTool, tail[0].Role)
}
