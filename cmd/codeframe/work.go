package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"codeframe/internal/agent"
	"codeframe/internal/store"
)

func newWorkCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Execute tasks",
	}
	cmd.AddCommand(
		newWorkStartCommand(cli),
		newWorkStopCommand(cli),
		newWorkResumeCommand(cli),
		newWorkFollowCommand(cli),
		newWorkShowCommand(cli),
		newWorkBatchCommand(cli),
	)
	return cmd
}

func newWorkShowCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task's runs and event history",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			task, err := cli.resolveTask(ctx, args[0])
			if err != nil {
				return err
			}
			st, ws := cli.handle.Store, cli.handle.Workspace

			cli.printf("#%d %s %s\n", task.TaskNumber, paintStatus(task.Status), task.Title)
			if task.Description != "" {
				cli.printf("%s\n", task.Description)
			}
			if len(task.DependsOn) > 0 {
				cli.printf("depends on: %s\n", strings.Join(task.DependsOn, ", "))
			}
			if task.ResultSummary != "" {
				cli.printf("result: %s\n", task.ResultSummary)
			}

			runs, err := st.ListRuns(ctx, task.ID)
			if err != nil {
				return err
			}
			for _, r := range runs {
				cli.printf("run %s [%s] %s: %d iteration(s), %d tokens\n",
					r.ID, r.Engine, r.Status, r.Iterations, r.TotalTokens)
				if r.LastError != "" {
					cli.printf("  error: %s\n", r.LastError)
				}
			}

			events, err := st.ListRecentEvents(ctx, ws.ID, 200)
			if err != nil {
				return err
			}
			for _, e := range events {
				if e.SubjectID == task.ID || payloadTaskID(e) == task.ID {
					printEvent(cli, e)
				}
			}
			return nil
		},
	}
}

func newWorkStartCommand(cli *CLI) *cobra.Command {
	var engine string
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Run one READY task to completion",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := cli.stack(ctx)
			if err != nil {
				return err
			}
			task, err := cli.resolveTask(ctx, args[0])
			if err != nil {
				return err
			}
			run, outcome, err := svc.runtime.StartRun(ctx, task.ID, engine)
			if err != nil {
				return err
			}
			printOutcome(cli, run, outcome)
			if outcome.Status != store.RunCompleted {
				return fmt.Errorf("run ended %s", outcome.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&engine, "engine", "", "engine: react (default) or plan")
	return cmd
}

func newWorkStopCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Request cooperative cancellation of an in-flight run",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := cli.stack(ctx)
			if err != nil {
				return err
			}
			task, err := cli.resolveTask(ctx, args[0])
			if err != nil {
				return err
			}
			return svc.runtime.StopRun(task.ID)
		},
	}
}

func newWorkResumeCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a BLOCKED task whose blockers are resolved",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := cli.stack(ctx)
			if err != nil {
				return err
			}
			task, err := cli.resolveTask(ctx, args[0])
			if err != nil {
				return err
			}
			run, outcome, err := svc.runtime.ResumeRun(ctx, task.ID)
			if err != nil {
				return err
			}
			printOutcome(cli, run, outcome)
			return nil
		},
	}
}

func newWorkFollowCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <id>",
		Short: "Stream a task's events until interrupted",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			task, err := cli.resolveTask(ctx, args[0])
			if err != nil {
				return err
			}
			return tailEvents(ctx, cli, func(e *store.Event) bool {
				return e.SubjectID == task.ID || payloadTaskID(e) == task.ID
			})
		},
	}
}

func newWorkBatchCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run groups of tasks over a dependency DAG",
	}
	cmd.AddCommand(
		newBatchRunCommand(cli),
		newBatchStatusCommand(cli),
		newBatchCancelCommand(cli),
		newBatchResumeCommand(cli),
	)
	return cmd
}

func newBatchRunCommand(cli *CLI) *cobra.Command {
	var (
		allReady    bool
		strategy    string
		maxParallel int
		onFailure   string
		retry       int
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "run [ids...]",
		Short: "Execute a batch of tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := cli.stack(ctx)
			if err != nil {
				return err
			}
			st, ws := cli.handle.Store, cli.handle.Workspace

			var taskIDs []string
			if allReady {
				ready, err := st.ListTasks(ctx, ws.ID, store.TaskReady)
				if err != nil {
					return err
				}
				for _, t := range ready {
					taskIDs = append(taskIDs, t.ID)
				}
				if len(taskIDs) == 0 {
					return fmt.Errorf("no READY tasks")
				}
			} else {
				if len(args) == 0 {
					return usagef("pass task ids or --all-ready")
				}
				for _, ref := range args {
					task, err := cli.resolveTask(ctx, ref)
					if err != nil {
						return err
					}
					taskIDs = append(taskIDs, task.ID)
				}
			}

			draft := store.BatchDraft{
				TaskIDs:     taskIDs,
				Strategy:    store.BatchStrategy(strings.ToUpper(strategy)),
				MaxParallel: maxParallel,
				OnFailure:   store.OnFailure(strings.ToUpper(onFailure)),
				RetryBudget: retry,
			}
			if dryRun {
				cli.printf("would run %d task(s), strategy %s, max-parallel %d\n",
					len(taskIDs), draft.Strategy, draft.MaxParallel)
				for _, id := range taskIDs {
					task, _ := st.GetTask(ctx, id)
					if task != nil {
						cli.printf("  #%d %s\n", task.TaskNumber, task.Title)
					}
				}
				return nil
			}

			batch, err := svc.conductor.RunBatch(ctx, draft)
			if err != nil {
				return err
			}
			printBatch(cli, batch)
			switch batch.Status {
			case store.BatchCompleted:
				return nil
			default:
				return fmt.Errorf("batch ended %s", batch.Status)
			}
		},
	}
	cmd.Flags().BoolVar(&allReady, "all-ready", false, "run every READY task")
	cmd.Flags().StringVar(&strategy, "strategy", "auto", "serial, parallel, or auto")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "worker cap (default 4)")
	cmd.Flags().StringVar(&onFailure, "on-failure", "continue", "continue or stop")
	cmd.Flags().IntVar(&retry, "retry", 0, "retry budget for failed tasks")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without executing")
	return cmd
}

func newBatchStatusCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show one batch, or all batches",
		Args:  rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			st := cli.handle.Store
			if len(args) == 1 {
				batch, err := st.GetBatch(ctx, args[0])
				if err != nil {
					return err
				}
				printBatch(cli, batch)
				return nil
			}
			batches, err := st.ListBatches(ctx, cli.handle.Workspace.ID)
			if err != nil {
				return err
			}
			for _, b := range batches {
				cli.printf("%s %-9s %d task(s) %s\n", b.ID, b.Status, len(b.TaskIDs),
					b.CreatedAt.Format("2006-01-02 15:04"))
			}
			if len(batches) == 0 {
				cli.printf("no batches\n")
			}
			return nil
		},
	}
}

func newBatchCancelCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running batch (in-flight tasks drain first)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			return svc.conductor.CancelBatch(cmd.Context(), args[0])
		},
	}
}

func newBatchResumeCommand(cli *CLI) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Re-execute the unfinished tasks of a PARTIAL or FAILED batch",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			batch, err := svc.conductor.ResumeBatch(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			printBatch(cli, batch)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-run completed tasks too")
	return cmd
}

func printOutcome(cli *CLI, run *store.Run, outcome *agent.Outcome) {
	cli.printf("run %s: %s after %d iteration(s), %d tokens\n",
		run.ID, outcome.Status, outcome.Iterations, outcome.Usage.TotalTokens)
	if outcome.Summary != "" {
		cli.printf("%s\n", outcome.Summary)
	}
	if outcome.BlockerID != "" {
		cli.printf("blocker %s is waiting for an answer: codeframe blocker answer %s \"...\"\n",
			outcome.BlockerID, outcome.BlockerID)
	}
	if len(outcome.FilesModified) > 0 {
		cli.printf("files modified: %s\n", strings.Join(outcome.FilesModified, ", "))
	}
}

func printBatch(cli *CLI, b *store.Batch) {
	cli.printf("batch %s: %s (%d/%d tokens in/out)\n", b.ID, b.Status, b.InputTokens, b.OutputTokens)
	for _, taskID := range b.TaskIDs {
		if status, ok := b.Results[taskID]; ok {
			cli.printf("  %s %s\n", taskID, status)
		} else {
			cli.printf("  %s (not run)\n", taskID)
		}
	}
}

// tailEvents polls the event log and prints matching events until the context
// is cancelled.
func tailEvents(ctx context.Context, cli *CLI, match func(*store.Event) bool) error {
	st, ws := cli.handle.Store, cli.handle.Workspace
	cursor, err := st.LatestEventID(ctx, ws.ID)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		events, err := st.ListEventsAfter(ctx, ws.ID, cursor, 200)
		if err != nil {
			return err
		}
		for _, e := range events {
			cursor = e.ID
			if match == nil || match(e) {
				printEvent(cli, e)
			}
		}
	}
}

func payloadTaskID(e *store.Event) string {
	if id, ok := e.Payload["task_id"].(string); ok {
		return id
	}
	return ""
}
