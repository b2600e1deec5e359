package main

import (
	"github.com/spf13/cobra"
)

func newPatchCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Export work as a patch",
	}
	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the uncommitted diff to a patch file",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			path, err := svc.git.ExportPatch(cmd.Context(), out)
			if err != nil {
				return err
			}
			cli.printf("wrote %s\n", path)
			return nil
		},
	}
	export.Flags().StringVar(&out, "out", "", "output path (default .codeframe/export.patch)")
	cmd.AddCommand(export)
	return cmd
}

func newCommitCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit work",
	}
	var message string
	create := &cobra.Command{
		Use:   "create",
		Short: "Stage everything and commit",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return usagef("commit create needs -m \"message\"")
			}
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			hash, err := svc.git.Commit(cmd.Context(), message)
			if err != nil {
				return err
			}
			cli.printf("committed %s\n", hash[:8])
			return nil
		},
	}
	create.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.AddCommand(create)
	return cmd
}
