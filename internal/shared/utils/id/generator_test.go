package id

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestPrefixes(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"workspace", NewWorkspaceID, "ws-"},
		{"task", NewTaskID, "task-"},
		{"run", NewRunID, "run-"},
		{"blocker", NewBlockerID, "blk-"},
		{"batch", NewBatchID, "batch-"},
		{"event", NewEventID, "evt-"},
		{"checkpoint", NewCheckpointID, "ckpt-"},
		{"prd", NewPRDID, "prd-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("id = %q, want prefix %q", got, tt.prefix)
			}
			if len(got) <= len(tt.prefix) {
				t.Errorf("id %q has empty body", got)
			}
		})
	}
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTaskID()
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}

func TestKSUIDsSortByCreationTime(t *testing.T) {
	first := NewEventID()
	time.Sleep(1100 * time.Millisecond) // KSUID has second resolution
	second := NewEventID()

	ids := []string{second, first}
	sort.Strings(ids)
	if ids[0] != first {
		t.Errorf("expected %q to sort before %q", first, second)
	}
}

func TestUUIDv7Strategy(t *testing.T) {
	SetStrategy(StrategyUUIDv7)
	defer SetStrategy(StrategyKSUID)

	id := NewTaskID()
	if !strings.HasPrefix(id, "task-") {
		t.Errorf("id = %q, want task- prefix", id)
	}
	// UUIDv7 body is 36 chars with dashes.
	if len(id) != len("task-")+36 {
		t.Errorf("unexpected uuidv7 id length: %q", id)
	}
}
