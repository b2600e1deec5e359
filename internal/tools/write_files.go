package tools

import (
	"context"
	"fmt"
	"strings"

	"codeframe/internal/editor"
	"codeframe/internal/gates"
	"codeframe/internal/llm"
)

// FileFeedback runs per-file checks after a write so the model sees lint
// fallout immediately instead of at the final gate.
type FileFeedback interface {
	RunFile(ctx context.Context, path string) ([]*gates.Report, bool)
}

type createFileTool struct {
	sandbox  *Sandbox
	feedback FileFeedback
}

// NewCreateFile returns the create_file tool. feedback may be nil.
func NewCreateFile(sandbox *Sandbox, feedback FileFeedback) Tool {
	return &createFileTool{sandbox: sandbox, feedback: feedback}
}

func (t *createFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "create_file",
		Description: "Create a new file with the given content. Fails if the file already exists; parent directories are created.",
		Parameters: objectSchema([]string{"path", "content"}, map[string]any{
			"path":    strProp("Workspace-relative path of the file to create"),
			"content": strProp("Full content of the new file"),
		}),
	}
}

func (t *createFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := stringArg(args, "path")
	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return errResult(err)
	}
	content := stringArg(args, "content")
	if err := editor.CreateFile(resolved, content); err != nil {
		return errResult(err)
	}

	lines := strings.Count(content, "\n") + 1
	summary := fmt.Sprintf("Created %s (%d lines)", path, lines)
	summary += inlineFeedback(ctx, t.feedback, path)
	return &Result{
		Content:       summary,
		FilesModified: []string{path},
		Metadata:      map[string]any{"operation": "created", "bytes": len(content)},
	}
}

type editFileTool struct {
	sandbox  *Sandbox
	feedback FileFeedback
}

// NewEditFile returns the edit_file tool. feedback may be nil.
func NewEditFile(sandbox *Sandbox, feedback FileFeedback) Tool {
	return &editFileTool{sandbox: sandbox, feedback: feedback}
}

func (t *editFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace one block of text in a file. The search block must match exactly one location; copy it from a prior read_file observation.",
		Parameters: objectSchema([]string{"path", "search", "replace"}, map[string]any{
			"path":    strProp("Workspace-relative path of the file to edit"),
			"search":  strProp("Existing text to replace, copied exactly from the file"),
			"replace": strProp("Replacement text"),
		}),
	}
}

func (t *editFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := stringArg(args, "path")
	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return errResult(err)
	}

	res, err := editor.ApplyEdit(resolved, stringArg(args, "search"), stringArg(args, "replace"))
	if err != nil {
		return errResult(err)
	}

	summary := fmt.Sprintf("Updated %s (+%d/-%d lines, %s match)\n%s",
		path, res.LinesAdded, res.LinesGone, res.Layer, res.Diff)
	summary += inlineFeedback(ctx, t.feedback, path)
	return &Result{
		Content:       summary,
		FilesModified: []string{path},
		Metadata:      map[string]any{"operation": "edited", "match_layer": string(res.Layer)},
	}
}

func inlineFeedback(ctx context.Context, feedback FileFeedback, path string) string {
	if feedback == nil {
		return ""
	}
	reports, ok := feedback.RunFile(ctx, path)
	if ok {
		return ""
	}
	return "\n\nChecks on this file:\n" + gates.FormatReports(reports)
}
