package main

import (
	"github.com/spf13/cobra"

	"codeframe/internal/store"
)

func newBlockerCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocker",
		Short: "Answer and resolve agent questions",
	}
	cmd.AddCommand(
		newBlockerListCommand(cli),
		newBlockerAnswerCommand(cli),
		newBlockerResolveCommand(cli),
	)
	return cmd
}

func newBlockerListCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open blockers across all tasks",
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
			var total int
			for _, t := range tasks {
				open, err := st.ListOpenBlockers(ctx, t.ID)
				if err != nil {
					return err
				}
				for _, b := range open {
					total++
					cli.printf("%s [%s/%s] task #%d: %s\n",
						b.ID, b.Mode, b.Category, t.TaskNumber, b.Question)
					if b.Context != "" {
						cli.printf("    context: %s\n", firstLine(b.Context))
					}
					cli.printf("    expires %s\n", b.ExpiresAt.Format("2006-01-02 15:04"))
				}
			}
			if total == 0 {
				cli.printf("no open blockers\n")
			}
			return nil
		},
	}
}

func newBlockerAnswerCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <id> <text>",
		Short: "Answer a blocker so its task can resume",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			b, err := svc.blockers.Answer(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			cli.printf("answered %s; resume with: codeframe work resume %s\n", b.ID, b.TaskID)
			return nil
		},
	}
}

func newBlockerResolveCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Dismiss a blocker without an answer",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			b, err := svc.blockers.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cli.printf("resolved %s (%s)\n", b.ID, store.BlockerResolved)
			return nil
		},
	}
}
