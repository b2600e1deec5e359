package gates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeframe/internal/config"
)

func TestRunCommandCapturesOutputAndExit(t *testing.T) {
	res := runCommand(context.Background(), t.TempDir(), "echo hello; echo bad >&2; exit 3", 5*time.Second)
	require.NoError(t, res.infraErr)
	require.Equal(t, 3, res.exitCode)
	require.Contains(t, res.stdout, "hello")
	require.Contains(t, res.stderr, "bad")
}

func TestBinaryAvailable(t *testing.T) {
	require.True(t, binaryAvailable("sh -c 'true'"))
	require.False(t, binaryAvailable("definitely-not-a-binary-xyz --check"))
	require.False(t, binaryAvailable(""))
}

func TestLintGateOverrideCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.WorkspaceConfig{LintCommand: "sh -c 'echo file.py:1:1: E001 bad thing; exit 1'"}
	gate := NewLintGate(dir, cfg, 5*time.Second, nil)
	require.True(t, gate.Available(context.Background()))

	report := gate.RunAll(context.Background())
	require.Equal(t, GateFailed, report.Status)
	require.Equal(t, 1, report.ExitCode)
	require.Equal(t, 1, report.TotalItems)
	require.Contains(t, report.Items[0], "E001")
	require.Contains(t, report.Summary(), "lint: failed")
}

func TestLintGateUnavailableToolSkips(t *testing.T) {
	cfg := &config.WorkspaceConfig{LintTools: []string{"ruff"}}
	gate := NewLintGate(t.TempDir(), cfg, time.Second, nil)

	runner := NewRunner(nil, gate)
	reports, passed := runner.RunAll(context.Background())
	require.True(t, passed, "missing tooling must not block")
	if reports[0].Status != GatePassed {
		require.Equal(t, GateSkipped, reports[0].Status)
	}
}

func TestTestGateFailureKeepsTailLines(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.WorkspaceConfig{TestCommand: "sh -c 'seq 1 30; exit 1'"}
	gate := NewTestGate(dir, cfg, 5*time.Second, nil)

	report := gate.RunAll(context.Background())
	require.Equal(t, GateFailed, report.Status)
	require.Equal(t, 30, report.TotalItems)
	require.Len(t, report.Items, maxReportItems)
	// The tail of the output is what is kept.
	require.Equal(t, "30", report.Items[len(report.Items)-1])
}

func TestTestGatePassing(t *testing.T) {
	cfg := &config.WorkspaceConfig{TestCommand: "true"}
	gate := NewTestGate(t.TempDir(), cfg, 5*time.Second, nil)
	report := gate.RunAll(context.Background())
	require.Equal(t, GatePassed, report.Status)
	require.Equal(t, 0, report.ExitCode)
}

func TestRunnerAggregatesPassFail(t *testing.T) {
	dir := t.TempDir()
	pass := NewTestGate(dir, &config.WorkspaceConfig{TestCommand: "true"}, time.Second, nil)
	fail := NewLintGate(dir, &config.WorkspaceConfig{LintCommand: "sh -c 'echo x; exit 1'"}, time.Second, nil)

	reports, ok := NewRunner(nil, pass, fail).RunAll(context.Background())
	require.False(t, ok)
	require.Len(t, reports, 2)
	require.Contains(t, FormatReports(reports), "test: passed")
	require.Contains(t, FormatReports(reports), "lint: failed")
}
