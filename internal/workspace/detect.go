package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"codeframe/internal/config"
)

// Detect inspects the repository for lockfiles and test configuration and
// returns a workspace config filled with what it found. Detection is
// best-effort; absent signals leave fields empty for the user to set.
func Detect(root string) *config.WorkspaceConfig {
	cfg := &config.WorkspaceConfig{}
	detectPackageManager(root, cfg)
	detectPython(root, cfg)
	detectTestFramework(root, cfg)
	if cmd := cfg.ResolvedTestCommand(); cmd != "" {
		cfg.TestCommand = cmd
	}
	return cfg
}

// Lockfiles checked in priority order; the first hit wins so repos carrying
// both a uv and a pip artifact resolve to uv.
var packageManagerLockfiles = []struct {
	file    string
	manager string
}{
	{"uv.lock", "uv"},
	{"poetry.lock", "poetry"},
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"package-lock.json", "npm"},
	{"requirements.txt", "pip"},
}

func detectPackageManager(root string, cfg *config.WorkspaceConfig) {
	for _, lf := range packageManagerLockfiles {
		if exists(filepath.Join(root, lf.file)) {
			cfg.PackageManager = lf.manager
			return
		}
	}
}

func detectPython(root string, cfg *config.WorkspaceConfig) {
	data, err := os.ReadFile(filepath.Join(root, ".python-version"))
	if err != nil {
		return
	}
	if v := firstToken(string(data)); v != "" {
		cfg.PythonVersion = v
	}
}

func detectTestFramework(root string, cfg *config.WorkspaceConfig) {
	switch cfg.PackageManager {
	case "uv", "pip", "poetry":
		if exists(filepath.Join(root, "pytest.ini")) ||
			exists(filepath.Join(root, "conftest.py")) ||
			exists(filepath.Join(root, "tests")) {
			cfg.TestFramework = "pytest"
		}
		return
	}

	pkg, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(pkg, &manifest); err != nil {
		return
	}
	has := func(name string) bool {
		_, a := manifest.Dependencies[name]
		_, b := manifest.DevDependencies[name]
		return a || b
	}
	switch {
	case has("vitest"):
		cfg.TestFramework = "vitest"
	case has("jest"):
		cfg.TestFramework = "jest"
	case has("mocha"):
		cfg.TestFramework = "mocha"
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
