package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"codeframe/internal/store"
)

func newTasksCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Generate and inspect tasks",
	}
	cmd.AddCommand(
		newTasksGenerateCommand(cli),
		newTasksListCommand(cli),
		newTasksSetCommand(cli),
		newTasksGetCommand(cli),
	)
	return cmd
}

func newTasksGenerateCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Break the newest requirements document into tasks",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := svc.planning.GenerateTasks(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tasks {
				cli.printf("#%-3d %s (complexity %d)\n", t.TaskNumber, t.Title, t.ComplexityScore)
			}
			cli.printf("generated %d task(s) in BACKLOG; review them, then: codeframe tasks set status READY --all\n", len(tasks))
			return nil
		},
	}
}

func newTasksListCommand(cli *CLI) *cobra.Command {
	var statusFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			var statuses []store.TaskStatus
			if statusFilter != "" {
				statuses = append(statuses, store.TaskStatus(strings.ToUpper(statusFilter)))
			}
			tasks, err := cli.handle.Store.ListTasks(ctx, cli.handle.Workspace.ID, statuses...)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				deps := ""
				if len(t.DependsOn) > 0 {
					deps = " deps:" + strings.Join(t.DependsOn, ",")
				}
				cli.printf("#%-3d %-11s %s  [%s]%s\n", t.TaskNumber, paintStatus(t.Status), t.Title, t.ID, deps)
			}
			if len(tasks) == 0 {
				cli.printf("no tasks\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status")
	return cmd
}

func newTasksSetCommand(cli *CLI) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "set status <STATUS> [id]",
		Short: "Transition one task, or every eligible task with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) < 2 || args[0] != "status" {
				return usagef("usage: codeframe tasks set status <STATUS> <id|--all>")
			}
			to := store.TaskStatus(strings.ToUpper(args[1]))
			if err := cli.open(ctx); err != nil {
				return err
			}
			st, ws := cli.handle.Store, cli.handle.Workspace

			if all {
				tasks, err := st.ListTasks(ctx, ws.ID)
				if err != nil {
					return err
				}
				var moved int
				for _, t := range tasks {
					if t.Status == to {
						continue
					}
					if _, err := st.Transition(ctx, t.ID, to); err != nil {
						if store.IsInvalidTransition(err) {
							continue
						}
						return err
					}
					emitStatusChange(cli, ctx, t.ID, t.Status, to)
					moved++
				}
				cli.printf("moved %d task(s) to %s\n", moved, to)
				return nil
			}

			if len(args) != 3 {
				return usagef("usage: codeframe tasks set status <STATUS> <id|--all>")
			}
			task, err := cli.resolveTask(ctx, args[2])
			if err != nil {
				return err
			}
			from := task.Status
			if _, err := st.Transition(ctx, task.ID, to); err != nil {
				return err
			}
			emitStatusChange(cli, ctx, task.ID, from, to)
			cli.printf("#%d %s -> %s\n", task.TaskNumber, from, to)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "apply to every task where the transition is legal")
	return cmd
}

func newTasksGetCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "get status <id>",
		Short: "Print one task's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) != 2 || args[0] != "status" {
				return usagef("usage: codeframe tasks get status <id>")
			}
			if err := cli.open(ctx); err != nil {
				return err
			}
			task, err := cli.resolveTask(ctx, args[1])
			if err != nil {
				return err
			}
			cli.printf("%s\n", task.Status)
			return nil
		},
	}
}

func emitStatusChange(cli *CLI, ctx context.Context, taskID string, from, to store.TaskStatus) {
	cli.handle.Store.AppendEvent(ctx, cli.handle.Workspace.ID, store.EventTaskStatusChanged, taskID, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}
