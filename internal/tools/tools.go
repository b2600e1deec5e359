// Package tools implements the agent's tool surface: file reads and writes,
// codebase search, and command execution, all confined to the workspace and
// with bounded output so a single call can never flood the conversation.
package tools

import (
	"context"

	"codeframe/internal/llm"
)

// Result is a tool invocation outcome. A tool error is content for the
// model, not a failure of the engine: the loop continues and the model
// corrects course.
type Result struct {
	Content string
	// Err marks the result as an error observation.
	Err error
	// FilesModified lists workspace-relative paths this call changed.
	FilesModified []string
	// Metadata carries structured extras for events and logs.
	Metadata map[string]any
}

// IsError reports whether the result is an error observation.
func (r *Result) IsError() bool { return r != nil && r.Err != nil }

// Text returns the observation text the model sees.
func (r *Result) Text() string {
	if r.IsError() {
		return "Error: " + r.Err.Error()
	}
	return r.Content
}

// Tool is one callable tool.
type Tool interface {
	// Definition describes the tool to the model, including its JSON
	// schema for arguments.
	Definition() llm.ToolDefinition
	// Execute runs the tool with validated arguments.
	Execute(ctx context.Context, args map[string]any) *Result
}

func errResult(err error) *Result { return &Result{Err: err} }

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	v, ok := args[key].(bool)
	return ok && v
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
