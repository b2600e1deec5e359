package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"codeframe/internal/gates"
	"codeframe/internal/store"
)

func newReviewCommand(cli *CLI, use string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "Run all verification gates over the workspace",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := cli.stack(ctx)
			if err != nil {
				return err
			}
			st, ws := cli.handle.Store, cli.handle.Workspace

			st.AppendEvent(ctx, ws.ID, store.EventGatesStarted, ws.ID, nil)
			reports, passed := svc.gates.RunAll(ctx)
			st.AppendEvent(ctx, ws.ID, store.EventGatesCompleted, ws.ID, map[string]any{"passed": passed})

			for _, r := range reports {
				cli.printf("%s\n", paintReport(r))
			}
			if !passed {
				return fmt.Errorf("gates failed")
			}
			return nil
		},
	}
}

// newGatesCommand provides `gates run` as an alias surface for review.
func newGatesCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gates",
		Short: "Verification gates",
	}
	cmd.AddCommand(newReviewCommand(cli, "run"))
	return cmd
}

func paintReport(r *gates.Report) string {
	summary := r.Summary()
	switch r.Status {
	case gates.GatePassed:
		return color.GreenString(summary)
	case gates.GateFailed:
		return color.RedString(summary)
	default:
		return color.YellowString(summary)
	}
}
