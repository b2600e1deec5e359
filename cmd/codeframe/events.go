package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"codeframe/internal/store"
)

func newEventsCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the event log",
	}
	cmd.AddCommand(newEventsTailCommand(cli))
	return cmd
}

func newEventsTailCommand(cli *CLI) *cobra.Command {
	var replay int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream workspace events until interrupted",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			if replay > 0 {
				recent, err := cli.handle.Store.ListRecentEvents(ctx, cli.handle.Workspace.ID, replay)
				if err != nil {
					return err
				}
				for _, e := range recent {
					printEvent(cli, e)
				}
			}
			return tailEvents(ctx, cli, nil)
		},
	}
	cmd.Flags().IntVarP(&replay, "num", "n", 10, "recent events to print before following")
	return cmd
}

func printEvent(cli *CLI, e *store.Event) {
	payload := ""
	if len(e.Payload) > 0 {
		if data, err := json.Marshal(e.Payload); err == nil {
			payload = " " + string(data)
		}
	}
	cli.printf("%s %-22s %s%s\n",
		e.Timestamp.Format("15:04:05.000"), e.Type, e.SubjectID, payload)
}
