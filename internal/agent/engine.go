// Package agent implements the ReAct execution engine: a bounded
// think/act/observe loop with loop detection, tiered conversation
// compaction, and a post-loop verification pass with a fix sub-loop.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"codeframe/internal/blockers"
	"codeframe/internal/config"
	"codeframe/internal/gates"
	"codeframe/internal/llm"
	"codeframe/internal/shared/logging"
	"codeframe/internal/store"
	"codeframe/internal/tools"
)

// EngineName identifies the ReAct engine in run records.
const EngineName = "react"

// Outcome is the terminal result of one engine run.
type Outcome struct {
	Status        store.RunStatus
	Summary       string
	Iterations    int
	Usage         llm.TokenUsage
	BlockerID     string
	FilesModified []string
}

// Engine drives one task through the ReAct loop.
type Engine struct {
	llm         summarizer
	tools       *tools.Registry
	gates       *gates.Runner
	blockers    *blockers.Manager
	store       *store.Store
	cfg         *config.RuntimeConfig
	workspaceID string
	logger      logging.Logger
	tracer      trace.Tracer
	compact     *compactor
}

// Deps wires an Engine.
type Deps struct {
	LLM         summarizer
	Tools       *tools.Registry
	Gates       *gates.Runner
	Blockers    *blockers.Manager
	Store       *store.Store
	Config      *config.RuntimeConfig
	WorkspaceID string
	Logger      logging.Logger
}

// NewEngine builds the ReAct engine.
func NewEngine(d Deps) *Engine {
	logger := logging.OrNop(d.Logger)
	return &Engine{
		llm:         d.LLM,
		tools:       d.Tools,
		gates:       d.Gates,
		blockers:    d.Blockers,
		store:       d.Store,
		cfg:         d.Config,
		workspaceID: d.WorkspaceID,
		logger:      logger,
		tracer:      otel.Tracer("codeframe/agent"),
		compact:     newCompactor(d.LLM, d.Config.ContextWindowTokens, logger),
	}
}

// runState is the mutable state threaded through one run.
type runState struct {
	task     *store.Task
	run      *store.Run
	messages []llm.Message
	usage    llm.TokenUsage
	iter     int
	files    []string
	detector *loopDetector
	purpose  string
}

// ExecuteTask runs the ReAct loop for a task until a final answer, a
// blocker, cancellation, or budget exhaustion, then verifies the result.
// The returned Outcome is always non-nil; the error covers infrastructure
// failures only.
func (e *Engine) ExecuteTask(ctx context.Context, task *store.Task, run *store.Run, prompt PromptInputs) (*Outcome, error) {
	st := &runState{
		task:     task,
		run:      run,
		detector: newLoopDetector(),
		purpose:  config.PurposeExecution,
		messages: []llm.Message{
			{Role: llm.RoleSystem, Content: BuildSystemPrompt(prompt)},
			{Role: llm.RoleUser, Content: "Begin working on the task now."},
		},
	}
	budget := IterationBudget(task.ComplexityScore)
	e.logger.Info("agent: run %s task %s budget=%d iterations", run.ID, task.ID, budget)

	var finalReply string
	for st.iter = 1; st.iter <= budget; st.iter++ {
		select {
		case <-ctx.Done():
			return e.finish(st, store.RunStopped, "run cancelled"), nil
		default:
		}

		if out := e.checkTokenBudget(ctx, st); out != nil {
			return out, nil
		}
		if out, err := e.compactIfNeeded(ctx, st); out != nil || err != nil {
			return out, err
		}

		reply, out, err := e.iterate(ctx, st)
		if err != nil {
			return e.finish(st, store.RunFailed, fmt.Sprintf("provider failure: %v", err)), nil
		}
		if out != nil {
			return out, nil
		}
		if reply != "" {
			finalReply = reply
			break
		}
	}

	if finalReply == "" {
		return e.verifyAtBudget(ctx, st, budget), nil
	}

	if req, blocked := parseBlockedReply(finalReply); blocked {
		return e.raiseBlocker(ctx, st, req.category, req.question, "agent requested human input")
	}
	return e.verify(ctx, st, finalReply)
}

// iterate runs one think/act/observe step. It returns the final reply when
// the model stops calling tools, or a terminal Outcome when the step ends
// the run.
func (e *Engine) iterate(ctx context.Context, st *runState) (string, *Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "agent.iteration",
		trace.WithAttributes(
			attribute.Int("iteration", st.iter),
			attribute.String("run.id", st.run.ID),
		))
	defer span.End()

	e.emit(ctx, store.EventAgentStepStarted, st.run.ID, map[string]any{"iteration": st.iter})

	resp, err := e.llm.Complete(ctx, st.purpose, llm.CompletionRequest{
		Messages: st.messages,
		Tools:    e.tools.Definitions(),
	})
	if err != nil {
		if llm.IsContextWindowExceeded(err) {
			// The estimate undershot; force tier 3 and let the next
			// iteration retry.
			st.messages = e.compact.keepEssentials(st.messages)
			e.emit(ctx, store.EventAgentStepCompleted, st.run.ID, map[string]any{
				"iteration": st.iter, "compacted": true,
			})
			return "", nil, nil
		}
		return "", nil, err
	}
	st.purpose = config.PurposeExecution
	st.usage.Add(resp.Usage)
	e.persistProgress(ctx, st)

	if len(resp.ToolCalls) == 0 {
		e.emit(ctx, store.EventAgentStepCompleted, st.run.ID, map[string]any{
			"iteration": st.iter, "final": true,
		})
		if strings.TrimSpace(resp.Content) == "" {
			return "(no summary provided)", nil, nil
		}
		return resp.Content, nil, nil
	}

	st.messages = append(st.messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	// A NOTE directive records an ASYNC blocker; the loop keeps going.
	if req, ok := parseAsyncNote(resp.Content); ok {
		if _, err := e.blockers.Create(ctx, st.task.ID, store.BlockerAsync, req.category, req.question,
			"agent raised a non-halting question mid-run"); err != nil {
			e.logger.Warn("agent: async blocker: %v", err)
		}
	}

	// Tool calls execute sequentially, in the order the model issued them.
	for _, call := range resp.ToolCalls {
		verdict := st.detector.Observe(call)
		if verdict == loopEscalate {
			out, err := e.raiseBlocker(ctx, st, store.CategoryEscalation,
				fmt.Sprintf("The agent is stuck repeating %s with identical arguments and did not respond to correction. How should it proceed?", call.Name),
				"loop detected twice on the same tool-call signature")
			return "", out, err
		}
		if verdict == loopCorrect {
			e.logger.Warn("agent: loop detected on %s, injecting correction", call.Name)
			st.messages = append(st.messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    "Error: this exact call was already made with the same arguments. Repeating it will produce the same result.",
			})
			st.messages = append(st.messages, llm.Message{
				Role:    llm.RoleUser,
				Content: "You are repeating the same tool call. Step back, reread the last observations, and take a different approach.",
			})
			st.purpose = config.PurposeCorrection
			continue
		}

		result := e.tools.Execute(ctx, call)
		e.emit(ctx, store.EventToolCalled, st.run.ID, map[string]any{
			"iteration": st.iter,
			"tool":      call.Name,
			"is_error":  result.IsError(),
		})
		if len(result.FilesModified) > 0 {
			st.files = appendUnique(st.files, result.FilesModified)
			e.emit(ctx, store.EventFilesModified, st.run.ID, map[string]any{
				"files": result.FilesModified,
			})
		}
		st.messages = append(st.messages, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    result.Text(),
		})
	}

	e.emit(ctx, store.EventAgentStepCompleted, st.run.ID, map[string]any{
		"iteration": st.iter, "tool_calls": len(resp.ToolCalls),
	})
	return "", nil, nil
}

// checkTokenBudget blocks the run when the soft token budget is exceeded.
func (e *Engine) checkTokenBudget(ctx context.Context, st *runState) *Outcome {
	budget := e.cfg.RunTokenBudget
	if budget <= 0 || st.usage.TotalTokens < budget {
		return nil
	}
	out, _ := e.raiseBlocker(ctx, st, store.CategoryEscalation,
		fmt.Sprintf("The run consumed %d tokens against a budget of %d. Raise the budget or stop?", st.usage.TotalTokens, budget),
		"run token budget exhausted")
	return out
}

func (e *Engine) compactIfNeeded(ctx context.Context, st *runState) (*Outcome, error) {
	messages, outcome, err := e.compact.maybeCompact(ctx, st.messages)
	if err != nil {
		return nil, err
	}
	st.messages = messages
	if outcome == compactEscalate {
		out, err := e.raiseBlocker(ctx, st, store.CategoryEscalation,
			"The conversation no longer fits the context window even after full compaction. Split the task or raise the window?",
			"context exhausted after tier-3 compaction")
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, nil
}

// raiseBlocker opens a SYNC blocker and ends the run as BLOCKED.
func (e *Engine) raiseBlocker(ctx context.Context, st *runState, category store.BlockerCategory, question, why string) (*Outcome, error) {
	b, err := e.blockers.Create(ctx, st.task.ID, store.BlockerSync, category, question, why)
	if err != nil {
		return e.finish(st, store.RunFailed, fmt.Sprintf("failed to create blocker: %v", err)), nil
	}
	out := e.finish(st, store.RunBlocked, "blocked: "+question)
	out.BlockerID = b.ID
	return out, nil
}

func (e *Engine) finish(st *runState, status store.RunStatus, summary string) *Outcome {
	return &Outcome{
		Status:        status,
		Summary:       summary,
		Iterations:    st.iter,
		Usage:         st.usage,
		FilesModified: st.files,
	}
}

func (e *Engine) persistProgress(ctx context.Context, st *runState) {
	err := e.store.UpdateRunProgress(ctx, st.run.ID, st.iter, st.usage.PromptTokens, st.usage.CompletionTokens)
	if err != nil {
		e.logger.Warn("agent: persist progress: %v", err)
	}
}

func (e *Engine) emit(ctx context.Context, typ store.EventType, subjectID string, payload map[string]any) {
	if _, err := e.store.AppendEvent(ctx, e.workspaceID, typ, subjectID, payload); err != nil {
		e.logger.Warn("agent: emit %s: %v", typ, err)
	}
}

func appendUnique(dst []string, add []string) []string {
	seen := map[string]bool{}
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}
