// Package config loads the two configuration layers: the per-workspace
// .codeframe/config.yaml environment file and the global runtime configuration
// (provider credentials, model routing, parallelism defaults).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Recognized workspace config values.
var (
	KnownPackageManagers = []string{"uv", "pip", "poetry", "npm", "pnpm", "yarn"}
	KnownTestFrameworks  = []string{"pytest", "jest", "vitest", "mocha"}
)

// WorkspaceConfig is the flat environment map stored at .codeframe/config.yaml.
// Unknown keys are preserved across load/save but otherwise ignored.
type WorkspaceConfig struct {
	PackageManager string   `yaml:"package_manager,omitempty"`
	PythonVersion  string   `yaml:"python_version,omitempty"`
	TestFramework  string   `yaml:"test_framework,omitempty"`
	LintTools      []string `yaml:"lint_tools,omitempty"`
	TestCommand    string   `yaml:"test_command,omitempty"`
	LintCommand    string   `yaml:"lint_command,omitempty"`

	// Extra holds unrecognized keys so round-tripping the file never drops
	// user data.
	Extra map[string]any `yaml:",inline"`
}

var workspaceKeys = map[string]bool{
	"package_manager": true,
	"python_version":  true,
	"test_framework":  true,
	"lint_tools":      true,
	"test_command":    true,
	"lint_command":    true,
}

// LoadWorkspaceConfig reads a workspace config file. A missing file yields a
// zero config, not an error.
func LoadWorkspaceConfig(path string) (*WorkspaceConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &WorkspaceConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workspace config: %w", err)
	}

	cfg := &WorkspaceConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse workspace config: %w", err)
	}
	for key, value := range raw {
		if workspaceKeys[key] {
			continue
		}
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]any)
		}
		cfg.Extra[key] = value
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back, keeping unknown keys.
func (c *WorkspaceConfig) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode workspace config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks enum-valued keys.
func (c *WorkspaceConfig) Validate() error {
	if c.PackageManager != "" && !contains(KnownPackageManagers, c.PackageManager) {
		return fmt.Errorf("invalid package_manager %q (known: %v)", c.PackageManager, KnownPackageManagers)
	}
	if c.TestFramework != "" && !contains(KnownTestFrameworks, c.TestFramework) {
		return fmt.Errorf("invalid test_framework %q (known: %v)", c.TestFramework, KnownTestFrameworks)
	}
	return nil
}

// ResolvedTestCommand returns the explicit override or a framework default.
func (c *WorkspaceConfig) ResolvedTestCommand() string {
	if c.TestCommand != "" {
		return c.TestCommand
	}
	switch c.TestFramework {
	case "pytest":
		return "pytest -x -q"
	case "jest":
		return "npx jest"
	case "vitest":
		return "npx vitest run"
	case "mocha":
		return "npx mocha"
	}
	return ""
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
