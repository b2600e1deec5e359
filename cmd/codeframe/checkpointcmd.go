package main

import (
	"github.com/spf13/cobra"
)

func newCheckpointCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Snapshot and restore workspace state",
	}
	cmd.AddCommand(
		newCheckpointCreateCommand(cli),
		newCheckpointListCommand(cli),
		newCheckpointRestoreCommand(cli),
	)
	return cmd
}

func newCheckpointCreateCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Capture the git ref, state database, and event cursor",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			cp, err := svc.checkpoint.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cli.printf("checkpoint %s at %s\n", cp.ID, shortRef(cp.GitRef))
			return nil
		},
	}
}

func newCheckpointListCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			checkpoints, err := svc.checkpoint.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, cp := range checkpoints {
				cli.printf("%s %-20s git %s %s\n", cp.ID, cp.Label,
					shortRef(cp.GitRef), cp.CreatedAt.Format("2006-01-02 15:04"))
			}
			if len(checkpoints) == 0 {
				cli.printf("no checkpoints\n")
			}
			return nil
		},
	}
}

func newCheckpointRestoreCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Rewind the worktree, state database, and event log",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			st, err := svc.checkpoint.Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			// The old store handle was replaced during restore.
			cli.handle.Store = st
			cli.printf("restored %s\n", args[0])
			return nil
		},
	}
}

func shortRef(ref string) string {
	if len(ref) > 8 {
		return ref[:8]
	}
	return ref
}
