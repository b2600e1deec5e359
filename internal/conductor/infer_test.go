package conductor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDependencyMap(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string][]string
		wantErr bool
	}{
		{
			name:    "clean json",
			content: `{"task-a": [], "task-b": ["task-a"]}`,
			want:    map[string][]string{"task-a": {}, "task-b": {"task-a"}},
		},
		{
			name:    "fenced with prose",
			content: "Here is the dependency map:\n```json\n{\"task-b\": [\"task-a\"]}\n```\nLet me know if you need changes.",
			want:    map[string][]string{"task-b": {"task-a"}},
		},
		{
			name:    "trailing comma repaired",
			content: `{"task-a": [], "task-b": ["task-a"],}`,
			want:    map[string][]string{"task-a": {}, "task-b": {"task-a"}},
		},
		{
			name:    "single quotes repaired",
			content: `{'task-b': ['task-a']}`,
			want:    map[string][]string{"task-b": {"task-a"}},
		},
		{
			name:    "no object at all",
			content: "I cannot determine dependencies for these tasks.",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDependencyMap(tt.content)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDependencyMap)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFindCycle(t *testing.T) {
	require.Empty(t, findCycle(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a", "b"},
	}))
	require.NotEmpty(t, findCycle(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}))
	require.NotEmpty(t, findCycle(map[string][]string{
		"a": {"a"},
	}))
}
