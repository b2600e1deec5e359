package gates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandResult captures one subprocess run.
type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	duration time.Duration
	// infraErr is set when the command could not be run at all (missing
	// binary, spawn failure), as opposed to running and failing.
	infraErr error
}

// runCommand executes a shell command in dir with a timeout. Gate commands
// come from workspace config, so they run through the shell like the user
// would run them.
func runCommand(ctx context.Context, dir, command string, timeout time.Duration) *commandResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &commandResult{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		duration: time.Since(start),
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.infraErr = fmt.Errorf("timed out after %s", timeout)
			return res
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
		} else {
			res.infraErr = err
		}
	}
	return res
}

// binaryAvailable reports whether the first token of a shell command resolves
// on PATH.
func binaryAvailable(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	_, err := exec.LookPath(fields[0])
	return err == nil
}

// outputLines splits combined output into non-empty lines.
func outputLines(res *commandResult) []string {
	combined := res.stdout
	if res.stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += res.stderr
	}
	var lines []string
	for _, ln := range strings.Split(combined, "\n") {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	return lines
}
