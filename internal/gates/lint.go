package gates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeframe/internal/config"
	"codeframe/internal/shared/logging"
)

// lintTool is one configured linter with its check and optional autofix
// invocations.
type lintTool struct {
	name    string
	check   string // %s is replaced by the target, or appended for RunAll
	autofix string // empty when the tool has no safe autofix
}

// knownLintTools maps workspace config lint_tools entries to invocations.
var knownLintTools = map[string]lintTool{
	"ruff":   {name: "ruff", check: "ruff check %s", autofix: "ruff check --fix %s"},
	"mypy":   {name: "mypy", check: "mypy %s"},
	"eslint": {name: "eslint", check: "npx eslint %s", autofix: "npx eslint --fix %s"},
	"tsc":    {name: "tsc", check: "npx tsc --noEmit"},
}

// LintGate runs the configured linters. Safe autofixes run first so the
// report only carries what the model actually has to address.
type LintGate struct {
	repoPath string
	tools    []lintTool
	override string // explicit lint_command replaces tool resolution
	timeout  time.Duration
	logger   logging.Logger
}

// NewLintGate builds the lint gate from workspace config.
func NewLintGate(repoPath string, cfg *config.WorkspaceConfig, timeout time.Duration, logger logging.Logger) *LintGate {
	g := &LintGate{
		repoPath: repoPath,
		override: cfg.LintCommand,
		timeout:  timeout,
		logger:   logging.OrNop(logger),
	}
	for _, name := range cfg.LintTools {
		if tool, ok := knownLintTools[name]; ok {
			g.tools = append(g.tools, tool)
		} else {
			g.logger.Warn("gates: unknown lint tool %q ignored", name)
		}
	}
	return g
}

func (g *LintGate) Name() string { return "lint" }

func (g *LintGate) Available(_ context.Context) bool {
	if g.override != "" {
		return binaryAvailable(g.override)
	}
	for _, tool := range g.tools {
		if binaryAvailable(tool.check) {
			return true
		}
	}
	return false
}

func (g *LintGate) RunAll(ctx context.Context) *Report {
	return g.run(ctx, ".")
}

func (g *LintGate) RunFile(ctx context.Context, path string) *Report {
	return g.run(ctx, path)
}

func (g *LintGate) run(ctx context.Context, target string) *Report {
	start := time.Now()
	report := &Report{Gate: g.Name(), Status: GatePassed}

	if g.override != "" {
		g.runOne(ctx, report, g.override)
		report.Duration = time.Since(start)
		return report
	}

	for _, tool := range g.tools {
		if !binaryAvailable(tool.check) {
			continue
		}
		if tool.autofix != "" {
			fix := fmt.Sprintf(tool.autofix, target)
			res := runCommand(ctx, g.repoPath, fix, g.timeout)
			if res.infraErr != nil {
				g.logger.Warn("gates: autofix %q failed to run: %v", fix, res.infraErr)
			}
		}
		g.runOne(ctx, report, expandTarget(tool.check, target))
	}
	report.Duration = time.Since(start)
	return report
}

func (g *LintGate) runOne(ctx context.Context, report *Report, command string) {
	res := runCommand(ctx, g.repoPath, command, g.timeout)
	if res.infraErr != nil {
		// Tooling broke rather than found issues: skip, never block.
		report.Status = GateSkipped
		report.SkipReason = fmt.Sprintf("%s: %v", command, res.infraErr)
		return
	}
	if res.exitCode == 0 {
		return
	}
	report.Status = GateFailed
	if res.exitCode > report.ExitCode {
		report.ExitCode = res.exitCode
	}
	lines := outputLines(res)
	report.TotalItems += len(lines)
	for _, ln := range lines {
		if len(report.Items) >= maxReportItems {
			break
		}
		report.Items = append(report.Items, ln)
	}
}

func expandTarget(template, target string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, target)
	}
	return template
}
