package main

import (
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"codeframe/internal/store"
	"codeframe/internal/workspace"
)

var (
	statusColors = map[store.TaskStatus]*color.Color{
		store.TaskBacklog:    color.New(color.Faint),
		store.TaskReady:      color.New(color.FgCyan),
		store.TaskInProgress: color.New(color.FgYellow),
		store.TaskBlocked:    color.New(color.FgMagenta),
		store.TaskDone:       color.New(color.FgGreen),
		store.TaskMerged:     color.New(color.FgGreen, color.Bold),
		store.TaskFailed:     color.New(color.FgRed),
	}
	headerColor = color.New(color.Bold)
)

func paintStatus(s store.TaskStatus) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func newInitCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Initialize a workspace in the target repository",
		Args:  rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cli.repoPath
			if len(args) == 1 {
				root = args[0]
			}
			h, err := workspace.Init(cmd.Context(), root, nil)
			if err != nil {
				return err
			}
			defer h.Close()
			cli.printf("initialized workspace %s at %s\n", h.Workspace.ID, h.Root)
			cli.printf("next: codeframe config init --detect, then codeframe prd add <file>\n")
			return nil
		},
	}
}

func newStatusCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts and open blockers",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			st, ws := cli.handle.Store, cli.handle.Workspace

			tasks, err := st.ListTasks(ctx, ws.ID)
			if err != nil {
				return err
			}
			counts := map[store.TaskStatus]int{}
			var openBlockers int
			for _, t := range tasks {
				counts[t.Status]++
				open, err := st.ListOpenBlockers(ctx, t.ID)
				if err != nil {
					return err
				}
				openBlockers += len(open)
			}

			cli.printf("%s %s\n", headerColor.Sprint("workspace"), ws.ID)
			cli.printf("%s %s\n", headerColor.Sprint("repo"), ws.RepoPath)
			order := []store.TaskStatus{
				store.TaskBacklog, store.TaskReady, store.TaskInProgress,
				store.TaskBlocked, store.TaskDone, store.TaskMerged, store.TaskFailed,
			}
			for _, s := range order {
				if counts[s] > 0 {
					cli.printf("  %-12s %d\n", paintStatus(s), counts[s])
				}
			}
			cli.printf("%s %d tasks, %d open blocker(s)\n", headerColor.Sprint("total"), len(tasks), openBlockers)
			return nil
		},
	}
}

func newSummaryCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show tasks with their latest run results",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			st, ws := cli.handle.Store, cli.handle.Workspace

			tasks, err := st.ListTasks(ctx, ws.ID)
			if err != nil {
				return err
			}
			sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskNumber < tasks[j].TaskNumber })

			for _, t := range tasks {
				cli.printf("#%-3d %-11s %s\n", t.TaskNumber, paintStatus(t.Status), t.Title)
				if t.ResultSummary != "" {
					cli.printf("     %s\n", firstLine(t.ResultSummary))
				}
				if run, err := st.LatestRun(ctx, t.ID); err == nil {
					cli.printf("     last run: %s, %d iteration(s), %d tokens\n",
						run.Status, run.Iterations, run.InputTokens+run.OutputTokens)
				}
			}
			if len(tasks) == 0 {
				cli.printf("no tasks yet; run: codeframe tasks generate\n")
			}
			return nil
		},
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
