package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"codeframe/internal/config"
	"codeframe/internal/workspace"
)

func newConfigCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the workspace environment config",
	}
	cmd.AddCommand(
		newConfigInitCommand(cli),
		newConfigShowCommand(cli),
		newConfigSetCommand(cli),
	)
	return cmd
}

func newConfigInitCommand(cli *CLI) *cobra.Command {
	var detect, force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write .codeframe/config.yaml, optionally detecting the toolchain",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.open(cmd.Context()); err != nil {
				return err
			}
			path := workspace.ConfigPath(cli.handle.Root)

			existing, err := config.LoadWorkspaceConfig(path)
			if err != nil {
				return err
			}
			if !force && (existing.PackageManager != "" || existing.TestFramework != "") {
				return usagef("config already set; pass --force to overwrite")
			}

			cfg := &config.WorkspaceConfig{Extra: existing.Extra}
			if detect {
				detected := workspace.Detect(cli.handle.Root)
				detected.Extra = existing.Extra
				cfg = detected
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			cli.handle.Config = cfg
			cli.printf("wrote %s\n", path)
			if detect {
				cli.printf("  package_manager: %s\n  test_framework: %s\n  test_command: %s\n",
					orDash(cfg.PackageManager), orDash(cfg.TestFramework), orDash(cfg.TestCommand))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&detect, "detect", false, "detect package manager and test framework from the repo")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing values")
	return cmd
}

func newConfigShowCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the workspace config",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.open(cmd.Context()); err != nil {
				return err
			}
			data, err := os.ReadFile(workspace.ConfigPath(cli.handle.Root))
			if err != nil {
				if os.IsNotExist(err) {
					cli.printf("(no config; run: codeframe config init)\n")
					return nil
				}
				return err
			}
			cli.printf("%s", data)
			return nil
		},
	}
}

func newConfigSetCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one config key",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.open(cmd.Context()); err != nil {
				return err
			}
			key, value := args[0], args[1]
			cfg := cli.handle.Config

			switch key {
			case "package_manager":
				cfg.PackageManager = value
			case "python_version":
				cfg.PythonVersion = value
			case "test_framework":
				cfg.TestFramework = value
			case "test_command":
				cfg.TestCommand = value
			case "lint_command":
				cfg.LintCommand = value
			case "lint_tools":
				cfg.LintTools = splitList(value)
			default:
				// Unknown keys are preserved, not rejected.
				if cfg.Extra == nil {
					cfg.Extra = map[string]any{}
				}
				cfg.Extra[key] = parseScalar(value)
			}
			if err := cfg.Save(workspace.ConfigPath(cli.handle.Root)); err != nil {
				return err
			}
			cli.printf("%s = %s\n", key, value)
			return nil
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseScalar keeps YAML typing for unknown keys (true stays a bool, 3 an int).
func parseScalar(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
