package editor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// EditResult summarizes one applied edit.
type EditResult struct {
	Path       string
	Layer      MatchLayer
	LinesAdded int
	LinesGone  int
	Diff       string
	NewContent string
}

// ApplyEdit locates search in the file via the layered matcher and replaces
// it with replace, writing atomically. The returned result includes a
// unified-style diff summary for the model.
func ApplyEdit(path, search, replace string) (*EditResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	m, err := FindMatch(content, search, replace)
	if err != nil {
		return nil, err
	}
	updated := Apply(content, m)

	if err := WriteAtomic(path, []byte(updated), 0o644); err != nil {
		return nil, err
	}

	added, gone := diffCounts(content, updated)
	return &EditResult{
		Path:       path,
		Layer:      m.Layer,
		LinesAdded: added,
		LinesGone:  gone,
		Diff:       DiffSummary(content, updated),
		NewContent: updated,
	}, nil
}

// CreateFile writes a new file atomically, creating parent directories.
// Refuses to overwrite an existing file.
func CreateFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	return WriteAtomic(path, []byte(content), 0o644)
}

// WriteAtomic writes via a temp file in the same directory plus rename, so
// readers never observe a half-written file.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// DiffSummary renders a compact line diff between before and after.
func DiffSummary(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffEqual:
			// Equal runs collapse to keep the summary short.
			n := strings.Count(d.Text, "\n")
			if n > 2 {
				fmt.Fprintf(&sb, "  ... %d unchanged lines ...\n", n)
				continue
			}
		}
		for _, ln := range strings.SplitAfter(d.Text, "\n") {
			if ln == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(ln)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func diffCounts(before, after string) (added, gone int) {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if n == 0 && d.Text != "" {
			n = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			gone += n
		}
	}
	return added, gone
}
