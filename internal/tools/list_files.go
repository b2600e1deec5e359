package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"codeframe/internal/llm"
)

const listEntryLimit = 500

// Directories never worth listing for an agent.
var skippedDirs = map[string]bool{
	".git":          true,
	"node_modules":  true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	".codeframe":    true,
	".pytest_cache": true,
	"dist":          true,
	"build":         true,
}

type listFilesTool struct {
	sandbox *Sandbox
}

// NewListFiles returns the list_files tool.
func NewListFiles(sandbox *Sandbox) Tool {
	return &listFilesTool{sandbox: sandbox}
}

func (t *listFilesTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "list_files",
		Description: "List files under a workspace directory, optionally filtered by a glob pattern such as **/*.py. At most 500 entries are returned.",
		Parameters: objectSchema(nil, map[string]any{
			"path":    strProp("Workspace-relative directory to list; defaults to the workspace root"),
			"pattern": strProp("Optional doublestar glob applied to workspace-relative paths"),
		}),
	}
}

func (t *listFilesTool) Execute(_ context.Context, args map[string]any) *Result {
	dir := stringArg(args, "path")
	if dir == "" {
		dir = "."
	}
	pattern := stringArg(args, "pattern")
	if pattern != "" {
		if !doublestar.ValidatePattern(pattern) {
			return errResult(fmt.Errorf("invalid glob pattern %q", pattern))
		}
	}
	resolved, err := t.sandbox.Resolve(dir)
	if err != nil {
		return errResult(err)
	}

	var entries []string
	total := 0
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel := t.sandbox.Rel(path)
		if pattern != "" {
			ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel))
			if !ok {
				return nil
			}
		}
		total++
		if len(entries) < listEntryLimit {
			entries = append(entries, rel)
		}
		return nil
	})
	if err != nil {
		return errResult(fmt.Errorf("list %s: %v", dir, err))
	}
	sort.Strings(entries)

	var b strings.Builder
	b.WriteString(strings.Join(entries, "\n"))
	if total > len(entries) {
		fmt.Fprintf(&b, "\n... [%d more entries not shown] ...", total-len(entries))
	}
	if total == 0 {
		b.WriteString("(no files)")
	}
	return &Result{Content: b.String(), Metadata: map[string]any{"total": total}}
}
