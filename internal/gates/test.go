package gates

import (
	"context"
	"fmt"
	"time"

	"codeframe/internal/config"
	"codeframe/internal/shared/logging"
)

// TestGate runs the workspace's test suite.
type TestGate struct {
	repoPath string
	command  string
	timeout  time.Duration
	logger   logging.Logger
}

// NewTestGate builds the test gate from workspace config.
func NewTestGate(repoPath string, cfg *config.WorkspaceConfig, timeout time.Duration, logger logging.Logger) *TestGate {
	return &TestGate{
		repoPath: repoPath,
		command:  cfg.ResolvedTestCommand(),
		timeout:  timeout,
		logger:   logging.OrNop(logger),
	}
}

func (g *TestGate) Name() string { return "test" }

func (g *TestGate) Available(_ context.Context) bool {
	return g.command != "" && binaryAvailable(g.command)
}

func (g *TestGate) RunAll(ctx context.Context) *Report {
	return g.runWith(ctx, g.command)
}

// RunFile narrows the suite to one test file where the runner supports a
// path argument; otherwise the full command runs.
func (g *TestGate) RunFile(ctx context.Context, path string) *Report {
	return g.runWith(ctx, fmt.Sprintf("%s %s", g.command, path))
}

func (g *TestGate) runWith(ctx context.Context, command string) *Report {
	start := time.Now()
	report := &Report{Gate: g.Name(), Status: GatePassed}

	res := runCommand(ctx, g.repoPath, command, g.timeout)
	report.Duration = time.Since(start)
	report.ExitCode = res.exitCode

	if res.infraErr != nil {
		report.Status = GateSkipped
		report.SkipReason = fmt.Sprintf("%s: %v", command, res.infraErr)
		return report
	}
	if res.exitCode == 0 {
		return report
	}

	report.Status = GateFailed
	lines := outputLines(res)
	report.TotalItems = len(lines)
	// Test failures read bottom-up: the summary and the failing assertion
	// sit at the end of the output.
	startIdx := 0
	if len(lines) > maxReportItems {
		startIdx = len(lines) - maxReportItems
	}
	report.Items = lines[startIdx:]
	return report
}
