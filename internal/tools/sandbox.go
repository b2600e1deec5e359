package tools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPermissionDenied means a path escaped the workspace root.
var ErrPermissionDenied = errors.New("permission denied")

// Sandbox confines all tool paths to the workspace root. Absolute paths and
// traversal that resolve outside the root are rejected.
type Sandbox struct {
	root string
}

// NewSandbox builds a sandbox over an absolute workspace root.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Sandbox{root: filepath.Clean(abs)}, nil
}

// Root returns the workspace root.
func (s *Sandbox) Root() string { return s.root }

// Resolve maps a tool-supplied path to an absolute path inside the root.
// Workspace-relative paths are the norm; an absolute path is accepted only
// when it already lies inside the root.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if candidate != s.root && !strings.HasPrefix(candidate, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the workspace", ErrPermissionDenied, path)
	}
	return candidate, nil
}

// Rel converts an absolute path back to its workspace-relative form.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return rel
}
