package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"codeframe/internal/llm"
)

const (
	searchHitLimit  = 50
	searchLineLimit = 250 // matched lines longer than this are clipped
)

type searchTool struct {
	sandbox *Sandbox
}

// NewSearchCodebase returns the search_codebase tool.
func NewSearchCodebase(sandbox *Sandbox) Tool {
	return &searchTool{sandbox: sandbox}
}

func (t *searchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "search_codebase",
		Description: "Search workspace files for a regular expression (or literal string). Returns at most 50 matches as path:line: text.",
		Parameters: objectSchema([]string{"query"}, map[string]any{
			"query":   strProp("Regular expression to search for; falls back to literal search if it does not compile"),
			"path":    strProp("Workspace-relative directory to search; defaults to the workspace root"),
			"literal": boolProp("Treat the query as a literal string instead of a regular expression"),
		}),
	}
}

func (t *searchTool) Execute(ctx context.Context, args map[string]any) *Result {
	query := stringArg(args, "query")
	if query == "" {
		return errResult(fmt.Errorf("empty search query"))
	}
	dir := stringArg(args, "path")
	if dir == "" {
		dir = "."
	}
	resolved, err := t.sandbox.Resolve(dir)
	if err != nil {
		return errResult(err)
	}

	var re *regexp.Regexp
	if !boolArg(args, "literal") {
		re, err = regexp.Compile(query)
		if err != nil {
			re = nil // fall back to literal matching
		}
	}
	match := func(line string) bool {
		if re != nil {
			return re.MatchString(line)
		}
		return strings.Contains(line, query)
	}

	var hits []string
	total := 0
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fileHits, fileTotal := t.searchFile(path, match)
		total += fileTotal
		for _, h := range fileHits {
			if len(hits) < searchHitLimit {
				hits = append(hits, h)
			}
		}
		return nil
	})
	if walkErr != nil {
		return errResult(fmt.Errorf("search: %v", walkErr))
	}

	if total == 0 {
		return &Result{Content: fmt.Sprintf("no matches for %q", query), Metadata: map[string]any{"total": 0}}
	}
	var b strings.Builder
	b.WriteString(strings.Join(hits, "\n"))
	if total > len(hits) {
		fmt.Fprintf(&b, "\n... [%d more matches not shown] ...", total-len(hits))
	}
	return &Result{Content: b.String(), Metadata: map[string]any{"total": total}}
}

func (t *searchTool) searchFile(path string, match func(string) bool) ([]string, int) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	var hits []string
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return nil, 0 // binary file
		}
		if !match(line) {
			continue
		}
		total++
		if len(hits) < searchHitLimit {
			text := strings.TrimSpace(line)
			if len(text) > searchLineLimit {
				text = text[:searchLineLimit] + "..."
			}
			hits = append(hits, fmt.Sprintf("%s:%d: %s", t.sandbox.Rel(path), lineNo, text))
		}
	}
	return hits, total
}
