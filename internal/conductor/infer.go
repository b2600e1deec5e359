package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"codeframe/internal/config"
	"codeframe/internal/llm"
	"codeframe/internal/store"
)

// ErrInvalidDependencyMap is fatal: the inferred map is not a DAG or could
// not be parsed at all.
var ErrInvalidDependencyMap = errors.New("invalid dependency map")

const inferSystemPrompt = `You infer execution dependencies between software tasks.
Given a numbered list of tasks, return ONLY a JSON object mapping each task id to
the list of task ids it depends on. A task with no dependencies maps to [].
Only add a dependency when one task clearly needs another's output. When in doubt,
leave tasks independent so they can run in parallel.`

// inferDependencies asks the model for a dependency map over the batch's
// tasks. Model output is repaired before parsing, references outside the
// batch are dropped, and the result must be a DAG.
func (c *Conductor) inferDependencies(ctx context.Context, tasks []*store.Task) (map[string][]string, error) {
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s: %s", t.ID, t.Title)
		if t.Description != "" {
			fmt.Fprintf(&b, " — %s", firstLine(t.Description))
		}
		b.WriteByte('\n')
	}

	resp, err := c.llm.Complete(ctx, config.PurposeDependencyInference, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: inferSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dependency inference: %w", err)
	}

	deps, err := parseDependencyMap(resp.Content)
	if err != nil {
		return nil, err
	}

	members := map[string]bool{}
	for _, t := range tasks {
		members[t.ID] = true
	}
	cleaned := map[string][]string{}
	for taskID, depIDs := range deps {
		if !members[taskID] {
			c.logger.Warn("conductor: inference named unknown task %s, dropping", taskID)
			continue
		}
		var kept []string
		for _, dep := range depIDs {
			if dep == taskID {
				return nil, fmt.Errorf("%w: task %s depends on itself", ErrInvalidDependencyMap, taskID)
			}
			if members[dep] {
				kept = append(kept, dep)
			} else {
				c.logger.Warn("conductor: inference gave %s a dependency outside the batch (%s), dropping", taskID, dep)
			}
		}
		cleaned[taskID] = kept
	}

	if cycle := findCycle(cleaned); cycle != "" {
		return nil, fmt.Errorf("%w: cycle through %s", ErrInvalidDependencyMap, cycle)
	}
	return cleaned, nil
}

// parseDependencyMap extracts the JSON object from a model reply, repairing
// the usual LLM JSON damage (fences, trailing commas, single quotes).
func parseDependencyMap(content string) (map[string][]string, error) {
	trimmed := strings.TrimSpace(content)
	// Cut surrounding prose down to the outermost object.
	if start := strings.IndexByte(trimmed, '{'); start >= 0 {
		if end := strings.LastIndexByte(trimmed, '}'); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	deps := map[string][]string{}
	if err := json.Unmarshal([]byte(trimmed), &deps); err == nil {
		return deps, nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable model output: %v", ErrInvalidDependencyMap, err)
	}
	if err := json.Unmarshal([]byte(repaired), &deps); err != nil {
		return nil, fmt.Errorf("%w: repaired output is not a task->deps object: %v", ErrInvalidDependencyMap, err)
	}
	return deps, nil
}

// findCycle returns a task ID on a dependency cycle, or "" when the map is a
// DAG.
func findCycle(deps map[string][]string) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var visit func(string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if visit(dep) {
				return true
			}
		}
		state[id] = done
		return false
	}
	for id := range deps {
		if visit(id) {
			return id
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
