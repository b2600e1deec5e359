package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"codeframe/internal/llm"
)

// Truncation caps: one observation stays small enough that a handful of
// reads never dominates the context window.
const (
	readCharLimit = 8000
	readHeadLines = 200
	readTailLines = 50
)

type readFileTool struct {
	sandbox *Sandbox
}

// NewReadFile returns the read_file tool.
func NewReadFile(sandbox *Sandbox) Tool {
	return &readFileTool{sandbox: sandbox}
}

func (t *readFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace, optionally narrowed to a line range. Large files are truncated to the first 200 and last 50 lines.",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path":       strProp("Workspace-relative path of the file to read"),
			"start_line": intProp("Optional 1-based first line to read"),
			"end_line":   intProp("Optional 1-based last line to read (inclusive)"),
		}),
	}
}

func (t *readFileTool) Execute(_ context.Context, args map[string]any) *Result {
	path := stringArg(args, "path")
	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return errResult(err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return errResult(fmt.Errorf("file does not exist: %s", path))
		}
		return errResult(fmt.Errorf("read %s: %v", path, err))
	}

	content := string(data)
	start := intArg(args, "start_line", 0)
	end := intArg(args, "end_line", 0)
	if start > 0 || end > 0 {
		return t.readRange(path, data, start, end)
	}

	if len(content) <= readCharLimit {
		return &Result{Content: content, Metadata: map[string]any{"bytes": len(data)}}
	}

	lines := strings.Split(content, "\n")
	head := lines
	if len(head) > readHeadLines {
		head = head[:readHeadLines]
	}
	var tail []string
	if len(lines) > readHeadLines+readTailLines {
		tail = lines[len(lines)-readTailLines:]
	}

	omitted := len(lines) - len(head) - len(tail)
	if omitted <= 0 {
		// Few but very long lines: the line split reclaims nothing, so cap
		// by characters instead.
		cut := content[:readCharLimit]
		return &Result{
			Content:  fmt.Sprintf("%s\n... [%d bytes omitted] ...", cut, len(data)-len(cut)),
			Metadata: map[string]any{"bytes": len(data), "truncated": true, "lines_total": len(lines)},
		}
	}

	var b strings.Builder
	b.WriteString(strings.Join(head, "\n"))
	fmt.Fprintf(&b, "\n... [%d lines omitted, %d bytes total] ...\n", omitted, len(data))
	if len(tail) > 0 {
		b.WriteString(strings.Join(tail, "\n"))
	}
	return &Result{
		Content:  b.String(),
		Metadata: map[string]any{"bytes": len(data), "truncated": true, "lines_total": len(lines)},
	}
}

// readRange returns an inclusive 1-based line slice of the file.
func (t *readFileTool) readRange(path string, data []byte, start, end int) *Result {
	lines := strings.Split(string(data), "\n")
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) || start > end {
		return errResult(fmt.Errorf("line range %d-%d is out of bounds: %s has %d lines", start, end, path, len(lines)))
	}
	return &Result{
		Content: strings.Join(lines[start-1:end], "\n"),
		Metadata: map[string]any{
			"bytes":       len(data),
			"lines_total": len(lines),
			"range":       fmt.Sprintf("%d-%d", start, end),
		},
	}
}
