package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeframe/internal/llm"
)

func TestIterationBudget(t *testing.T) {
	tests := []struct {
		complexity int
		want       int
	}{
		{0, 15},
		{1, 15},
		{2, 22},
		{3, 29},
		{4, 36},
		{5, 43},
		{9, 45}, // clamped
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, IterationBudget(tt.complexity), "complexity %d", tt.complexity)
	}
}

func TestLoopDetectorTripsOnThirdIdenticalCall(t *testing.T) {
	d := newLoopDetector()
	call := llm.ToolCall{Name: "read_file", Arguments: `{"path":"a.py"}`}

	require.Equal(t, loopOK, d.Observe(call))
	require.Equal(t, loopOK, d.Observe(call))
	require.Equal(t, loopCorrect, d.Observe(call))

	// After the correction the same streak escalates.
	require.Equal(t, loopOK, d.Observe(call))
	require.Equal(t, loopOK, d.Observe(call))
	require.Equal(t, loopEscalate, d.Observe(call))
}

func TestLoopDetectorResetOnDifferentCall(t *testing.T) {
	d := newLoopDetector()
	a := llm.ToolCall{Name: "read_file", Arguments: `{"path":"a.py"}`}
	b := llm.ToolCall{Name: "read_file", Arguments: `{"path":"b.py"}`}

	require.Equal(t, loopOK, d.Observe(a))
	require.Equal(t, loopOK, d.Observe(a))
	require.Equal(t, loopOK, d.Observe(b)) // streak broken
	require.Equal(t, loopOK, d.Observe(a))
	require.Equal(t, loopOK, d.Observe(a))
	require.Equal(t, loopCorrect, d.Observe(a))
}

func TestToolCallSignatureIgnoresVolatileKeysAndOrder(t *testing.T) {
	a := llm.ToolCall{Name: "search_codebase", Arguments: `{"query":"x","request_id":"r1","path":"src"}`}
	b := llm.ToolCall{Name: "search_codebase", Arguments: `{"path":"src","query":"x","request_id":"r2"}`}
	c := llm.ToolCall{Name: "search_codebase", Arguments: `{"path":"src","query":"y"}`}

	require.Equal(t, toolCallSignature(a), toolCallSignature(b))
	require.NotEqual(t, toolCallSignature(a), toolCallSignature(c))

	// Different tools never share a signature.
	d := llm.ToolCall{Name: "read_file", Arguments: `{"query":"x","path":"src"}`}
	require.NotEqual(t, toolCallSignature(b), toolCallSignature(d))
}
