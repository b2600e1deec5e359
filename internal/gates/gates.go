// Package gates runs the verification gates (lint, tests) that stand between
// an agent's edits and a task being considered done. Gates are pluggable:
// each knows whether its tooling is available, how to run over the whole
// workspace, and how to run against a single file for inline feedback.
package gates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeframe/internal/shared/logging"
)

// GateStatus is the outcome of one gate run.
type GateStatus string

const (
	GatePassed GateStatus = "passed"
	GateFailed GateStatus = "failed"
	// GateSkipped means the gate's tooling is missing or broke; a skip
	// never blocks completion.
	GateSkipped GateStatus = "skipped"
)

// maxReportItems bounds how many failure lines a report carries verbatim.
const maxReportItems = 20

// Report is the structured result of one gate run.
type Report struct {
	Gate       string        `json:"gate"`
	Status     GateStatus    `json:"status"`
	Items      []string      `json:"items,omitempty"`
	TotalItems int           `json:"total_items"`
	Duration   time.Duration `json:"duration"`
	ExitCode   int           `json:"exit_code"`
	SkipReason string        `json:"skip_reason,omitempty"`
}

// Summary renders the report for the model: status, counts, then the first
// failure items verbatim.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Gate, r.Status)
	switch r.Status {
	case GateSkipped:
		fmt.Fprintf(&b, " (%s)", r.SkipReason)
	case GateFailed:
		fmt.Fprintf(&b, " (%d issue(s), exit %d, %s)", r.TotalItems, r.ExitCode, r.Duration.Round(time.Millisecond))
		for _, item := range r.Items {
			b.WriteString("\n  ")
			b.WriteString(item)
		}
		if r.TotalItems > len(r.Items) {
			fmt.Fprintf(&b, "\n  ... and %d more", r.TotalItems-len(r.Items))
		}
	}
	return b.String()
}

// Gate is one verification step.
type Gate interface {
	Name() string
	// Available reports whether the gate's tooling can run here.
	Available(ctx context.Context) bool
	// RunAll verifies the whole workspace.
	RunAll(ctx context.Context) *Report
	// RunFile verifies a single file; used for inline feedback after edits.
	RunFile(ctx context.Context, path string) *Report
}

// Runner executes the configured gates in order.
type Runner struct {
	gates  []Gate
	logger logging.Logger
}

// NewRunner builds a Runner over the given gates.
func NewRunner(logger logging.Logger, gates ...Gate) *Runner {
	return &Runner{gates: gates, logger: logging.OrNop(logger)}
}

// RunAll runs every gate over the workspace. Unavailable gates report
// skipped. The second return is true when no gate failed.
func (r *Runner) RunAll(ctx context.Context) ([]*Report, bool) {
	var reports []*Report
	passed := true
	for _, g := range r.gates {
		report := r.runOne(ctx, g, func() *Report { return g.RunAll(ctx) })
		reports = append(reports, report)
		if report.Status == GateFailed {
			passed = false
		}
	}
	return reports, passed
}

// RunFile runs every gate against one file.
func (r *Runner) RunFile(ctx context.Context, path string) ([]*Report, bool) {
	var reports []*Report
	passed := true
	for _, g := range r.gates {
		report := r.runOne(ctx, g, func() *Report { return g.RunFile(ctx, path) })
		reports = append(reports, report)
		if report.Status == GateFailed {
			passed = false
		}
	}
	return reports, passed
}

func (r *Runner) runOne(ctx context.Context, g Gate, run func() *Report) *Report {
	if !g.Available(ctx) {
		r.logger.Info("gates: %s unavailable, skipping", g.Name())
		return &Report{Gate: g.Name(), Status: GateSkipped, SkipReason: "tooling not available"}
	}
	report := run()
	r.logger.Info("gates: %s %s (%d issues, %s)",
		report.Gate, report.Status, report.TotalItems, report.Duration.Round(time.Millisecond))
	return report
}

// FormatReports joins gate summaries into one block.
func FormatReports(reports []*Report) string {
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		parts = append(parts, r.Summary())
	}
	return strings.Join(parts, "\n")
}
