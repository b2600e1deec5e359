package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkspaceConfigRoundTripPreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	input := `package_manager: uv
python_version: "3.12"
test_framework: pytest
lint_tools:
  - ruff
  - mypy
custom_flag: true
nested_extra:
  a: 1
`
	require.NoError(t, os.WriteFile(path, []byte(input), 0o644))

	cfg, err := LoadWorkspaceConfig(path)
	require.NoError(t, err)
	require.Equal(t, "uv", cfg.PackageManager)
	require.Equal(t, "pytest", cfg.TestFramework)
	require.Equal(t, []string{"ruff", "mypy"}, cfg.LintTools)
	require.Equal(t, true, cfg.Extra["custom_flag"])
	require.Contains(t, cfg.Extra, "nested_extra")

	require.NoError(t, cfg.Save(path))

	reloaded, err := LoadWorkspaceConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.PackageManager, reloaded.PackageManager)
	require.Equal(t, true, reloaded.Extra["custom_flag"])
	require.Contains(t, reloaded.Extra, "nested_extra")
}

func TestWorkspaceConfigMissingFile(t *testing.T) {
	cfg, err := LoadWorkspaceConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "", cfg.PackageManager)
}

func TestWorkspaceConfigRejectsUnknownEnums(t *testing.T) {
	cfg := &WorkspaceConfig{PackageManager: "cargo"}
	require.Error(t, cfg.Validate())

	cfg = &WorkspaceConfig{TestFramework: "rspec"}
	require.Error(t, cfg.Validate())

	cfg = &WorkspaceConfig{PackageManager: "pnpm", TestFramework: "vitest"}
	require.NoError(t, cfg.Validate())
}

func TestResolvedTestCommand(t *testing.T) {
	tests := []struct {
		name string
		cfg  WorkspaceConfig
		want string
	}{
		{"override wins", WorkspaceConfig{TestFramework: "pytest", TestCommand: "make test"}, "make test"},
		{"pytest default", WorkspaceConfig{TestFramework: "pytest"}, "pytest -x -q"},
		{"vitest default", WorkspaceConfig{TestFramework: "vitest"}, "npx vitest run"},
		{"none", WorkspaceConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.cfg.ResolvedTestCommand())
		})
	}
}
