package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"codeframe/internal/config"
	"codeframe/internal/gates"
	"codeframe/internal/llm"
	"codeframe/internal/store"
)

// fixLoopTurns bounds the model turns in one correction round.
const fixLoopTurns = 5

// verify runs the gates after the main loop and, on failure, drives the fix
// sub-loop: one mechanical quick-fix pass, then up to MaxFixRetries bounded
// correction rounds. A failure signature that survives a fix attempt
// unchanged escalates instead of burning retries, and exhausted retries
// escalate too, with the last gate report attached.
func (e *Engine) verify(ctx context.Context, st *runState, finalReply string) (*Outcome, error) {
	maxRetries := e.cfg.MaxFixRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	reports, ok := e.runGates(ctx, st, 0)
	if ok {
		return e.finish(st, store.RunCompleted, finalReply), nil
	}

	// One mechanical pass for trivial fallout before any model round.
	if e.quickFix(ctx, st, reports) {
		if reports, ok = e.runGates(ctx, st, 0); ok {
			return e.finish(st, store.RunCompleted,
				finalReply+"\n(verification passed after a mechanical fix)"), nil
		}
	}

	seen := map[string]bool{}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		sig := failureSignature(reports)
		if seen[sig] {
			return e.raiseBlocker(ctx, st, store.CategoryEscalation,
				"Verification keeps failing with the same errors despite fix attempts. How should the agent proceed?\n\n"+gates.FormatReports(reports),
				"identical gate failure after a fix attempt")
		}
		seen[sig] = true

		e.logger.Info("agent: gates failed (attempt %d of %d), entering fix loop", attempt, maxRetries)
		if out := e.fixTurns(ctx, st, reports, fixLoopTurns); out != nil {
			return out, nil
		}
		if reports, ok = e.runGates(ctx, st, attempt); ok {
			return e.finish(st, store.RunCompleted,
				finalReply+fmt.Sprintf("\n(verification passed after %d fix attempt(s))", attempt)), nil
		}
	}

	return e.raiseBlocker(ctx, st, store.CategoryEscalation,
		"Verification gates are still failing after every fix retry. How should the agent proceed?\n\n"+gates.FormatReports(reports),
		"fix retries exhausted")
}

// verifyAtBudget handles iteration-budget exhaustion: the gates get one
// final run with no fix loop. Clean gates mean the work stands even though
// the model never wrote a summary.
func (e *Engine) verifyAtBudget(ctx context.Context, st *runState, budget int) *Outcome {
	_, ok := e.runGates(ctx, st, 0)
	if ok {
		return e.finish(st, store.RunCompleted,
			"task completed: verification passed, but the iteration budget ran out before a summary was written")
	}
	return e.finish(st, store.RunFailed,
		fmt.Sprintf("iteration budget (%d) exhausted with verification gates failing", budget))
}

// runGates executes all gates and emits the surrounding events.
func (e *Engine) runGates(ctx context.Context, st *runState, attempt int) ([]*gates.Report, bool) {
	e.emit(ctx, store.EventGatesStarted, st.run.ID, map[string]any{"attempt": attempt})
	reports, ok := e.gates.RunAll(ctx)
	e.emit(ctx, store.EventGatesCompleted, st.run.ID, map[string]any{
		"attempt": attempt,
		"passed":  ok,
		"reports": reportsPayload(reports),
	})
	return reports, ok
}

// fixTurns runs a bounded correction conversation against the gate report.
// Returns a terminal Outcome only if the run must end (cancellation,
// provider failure).
func (e *Engine) fixTurns(ctx context.Context, st *runState, reports []*gates.Report, turns int) *Outcome {
	st.messages = append(st.messages, llm.Message{
		Role: llm.RoleUser,
		Content: "Verification gates failed:\n" + gates.FormatReports(reports) +
			"\n\nFix these issues. Make the smallest change that resolves them.",
	})

	for turn := 0; turn < turns; turn++ {
		select {
		case <-ctx.Done():
			return e.finish(st, store.RunStopped, "run cancelled during fix loop")
		default:
		}

		resp, err := e.llm.Complete(ctx, config.PurposeCorrection, llm.CompletionRequest{
			Messages: st.messages,
			Tools:    e.tools.Definitions(),
		})
		if err != nil {
			return e.finish(st, store.RunFailed, fmt.Sprintf("provider failure during fix loop: %v", err))
		}
		st.usage.Add(resp.Usage)
		e.persistProgress(ctx, st)

		if len(resp.ToolCalls) == 0 {
			st.messages = append(st.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			return nil
		}
		st.messages = append(st.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := e.tools.Execute(ctx, call)
			e.emit(ctx, store.EventToolCalled, st.run.ID, map[string]any{
				"tool": call.Name, "is_error": result.IsError(), "fix_loop": true,
			})
			if len(result.FilesModified) > 0 {
				st.files = appendUnique(st.files, result.FilesModified)
				e.emit(ctx, store.EventFilesModified, st.run.ID, map[string]any{"files": result.FilesModified})
			}
			st.messages = append(st.messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    result.Text(),
			})
		}
	}
	return nil
}

// failureSignature hashes the failing gates and their reported items so
// identical failures are recognized across attempts.
func failureSignature(reports []*gates.Report) string {
	var b strings.Builder
	for _, r := range reports {
		if r.Status != gates.GateFailed {
			continue
		}
		fmt.Fprintf(&b, "%s|%d|", r.Gate, r.ExitCode)
		for _, item := range r.Items {
			b.WriteString(item)
			b.WriteByte('\n')
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func reportsPayload(reports []*gates.Report) []map[string]any {
	out := make([]map[string]any, 0, len(reports))
	for _, r := range reports {
		out = append(out, map[string]any{
			"gate":        r.Gate,
			"status":      string(r.Status),
			"total_items": r.TotalItems,
			"exit_code":   r.ExitCode,
		})
	}
	return out
}
