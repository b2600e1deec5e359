package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeframe/internal/store"
)

func TestParseBlockedReply(t *testing.T) {
	tests := []struct {
		in       string
		question string
		category store.BlockerCategory
		ok       bool
	}{
		{"BLOCKED: which db?", "which db?", store.CategoryMissingInfo, true},
		{"  BLOCKED[ambiguous-spec]: what does 'fast' mean here?", "what does 'fast' mean here?", store.CategoryAmbiguousSpec, true},
		{"BLOCKED[Tactical-Decision]: retries?", "retries?", store.CategoryTacticalDecision, true},
		// Unknown tags degrade to missing-info instead of dropping the block.
		{"BLOCKED[made-up]: hm?", "hm?", store.CategoryMissingInfo, true},
		{"BLOCKED[missing-info] no colon", "", "", false},
		{"BLOCKED:", "", "", false},
		{"all done, tests pass", "", "", false},
	}
	for _, tt := range tests {
		req, ok := parseBlockedReply(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		if ok {
			require.Equal(t, tt.question, req.question, tt.in)
			require.Equal(t, tt.category, req.category, tt.in)
		}
	}
}

func TestParseAsyncNoteUsesFirstLineOnly(t *testing.T) {
	req, ok := parseAsyncNote("NOTE[external-dependency]: is staging reachable?\nReading the config next.")
	require.True(t, ok)
	require.Equal(t, "is staging reachable?", req.question)
	require.Equal(t, store.CategoryExternalDependency, req.category)

	// A note buried below the first line is not a directive.
	_, ok = parseAsyncNote("Reading files.\nNOTE: buried")
	require.False(t, ok)
}
