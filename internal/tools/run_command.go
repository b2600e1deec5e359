package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"codeframe/internal/config"
	"codeframe/internal/llm"
	"codeframe/internal/shared/logging"
)

// Output caps for subprocess tools.
const (
	commandOutputCap = 30 * 1024 // bytes, per stream
)

// dangerousPatterns reject commands that destroy state or hang the host.
// The check is a guardrail against obvious catastrophes, not a security
// boundary.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*(/|~|\$HOME)(\s|$)`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+(-[a-zA-Z]*\s+)*(/|~|\$HOME)(\s|$)`),
	regexp.MustCompile(`:\(\)\s*\{.*:\|:`), // fork bomb
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\bshutdown\b|\breboot\b`),
	regexp.MustCompile(`\bgit\s+push\s+.*--force`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*\s+)*777\s+/`),
}

// ErrDangerousCommand marks a rejected command.
var ErrDangerousCommand = errors.New("command rejected as dangerous")

func checkDangerous(command string) error {
	for _, p := range dangerousPatterns {
		if p.MatchString(command) {
			return fmt.Errorf("%w: %s", ErrDangerousCommand, command)
		}
	}
	return nil
}

type runCommandTool struct {
	sandbox *Sandbox
	timeout time.Duration
	logger  logging.Logger
}

// NewRunCommand returns the run_command tool.
func NewRunCommand(sandbox *Sandbox, timeout time.Duration, logger logging.Logger) Tool {
	return &runCommandTool{sandbox: sandbox, timeout: timeout, logger: logging.OrNop(logger)}
}

func (t *runCommandTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "run_command",
		Description: "Run a shell command in the workspace root, or in cwd when given. Output is truncated to 30 KiB per stream. Destructive commands are rejected.",
		Parameters: objectSchema([]string{"command"}, map[string]any{
			"command":         strProp("Shell command to run"),
			"cwd":             strProp("Optional workspace-relative directory to run in"),
			"timeout_seconds": intProp("Optional timeout override in seconds"),
		}),
	}
}

func (t *runCommandTool) Execute(ctx context.Context, args map[string]any) *Result {
	command := stringArg(args, "command")
	if strings.TrimSpace(command) == "" {
		return errResult(fmt.Errorf("empty command"))
	}
	if err := checkDangerous(command); err != nil {
		return errResult(err)
	}

	dir := t.sandbox.Root()
	if cwd := stringArg(args, "cwd"); cwd != "" {
		resolved, err := t.sandbox.Resolve(cwd)
		if err != nil {
			return errResult(err)
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.IsDir() {
			return errResult(fmt.Errorf("cwd is not a directory: %s", cwd))
		}
		dir = resolved
	}

	timeout := t.timeout
	if secs := intArg(args, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return runSubprocess(ctx, dir, command, timeout, t.logger)
}

type runTestsTool struct {
	sandbox *Sandbox
	cfg     *config.WorkspaceConfig
	timeout time.Duration
	logger  logging.Logger
}

// NewRunTests returns the run_tests tool, which executes the workspace's
// configured test command.
func NewRunTests(sandbox *Sandbox, cfg *config.WorkspaceConfig, timeout time.Duration, logger logging.Logger) Tool {
	return &runTestsTool{sandbox: sandbox, cfg: cfg, timeout: timeout, logger: logging.OrNop(logger)}
}

func (t *runTestsTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "run_tests",
		Description: "Run the project's test suite (or a single test file) using the configured test command.",
		Parameters: objectSchema(nil, map[string]any{
			"path": strProp("Optional workspace-relative test file or directory to narrow the run"),
		}),
	}
}

func (t *runTestsTool) Execute(ctx context.Context, args map[string]any) *Result {
	command := t.cfg.ResolvedTestCommand()
	if command == "" {
		return errResult(fmt.Errorf("no test command configured; set test_framework or test_command in .codeframe/config.yaml"))
	}
	if path := stringArg(args, "path"); path != "" {
		if _, err := t.sandbox.Resolve(path); err != nil {
			return errResult(err)
		}
		command = command + " " + path
	}
	return runSubprocess(ctx, t.sandbox.Root(), command, t.timeout, t.logger)
}

func runSubprocess(ctx context.Context, dir, command string, timeout time.Duration, logger logging.Logger) *Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Debug("tools: running %q in %s", command, dir)
	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		// A killed process still reports an ExitError, so the deadline
		// check has to come first.
		if ctx.Err() == context.DeadlineExceeded {
			return errResult(fmt.Errorf("command timed out after %s: %s", timeout, command))
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return errResult(fmt.Errorf("command failed to start: %v", runErr))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d (%s)\n", exitCode, elapsed.Round(time.Millisecond))
	if out := capStream(stdout.Bytes()); out != "" {
		b.WriteString("stdout:\n")
		b.WriteString(out)
		b.WriteString("\n")
	}
	if errOut := capStream(stderr.Bytes()); errOut != "" {
		b.WriteString("stderr:\n")
		b.WriteString(errOut)
		b.WriteString("\n")
	}
	return &Result{
		Content:  strings.TrimRight(b.String(), "\n"),
		Metadata: map[string]any{"exit_code": exitCode, "duration_ms": elapsed.Milliseconds()},
	}
}

// capStream keeps the tail of a stream: failures summarize at the end.
func capStream(data []byte) string {
	if len(data) <= commandOutputCap {
		return strings.TrimRight(string(data), "\n")
	}
	clipped := data[len(data)-commandOutputCap:]
	return fmt.Sprintf("... [%d bytes truncated] ...\n%s",
		len(data)-commandOutputCap, strings.TrimRight(string(clipped), "\n"))
}
