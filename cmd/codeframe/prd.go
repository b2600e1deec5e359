package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"codeframe/internal/store"
)

func newPRDCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prd",
		Short: "Manage requirements documents",
	}
	cmd.AddCommand(
		newPRDAddCommand(cli),
		newPRDShowCommand(cli),
		newPRDGenerateCommand(cli),
		newPRDRefineCommand(cli),
		newPRDListCommand(cli),
		newPRDDeleteCommand(cli),
		newPRDExportCommand(cli),
		newPRDVersionsCommand(cli),
		newPRDDiffCommand(cli),
		newPRDUpdateCommand(cli),
	)
	return cmd
}

// latestPRD returns the newest chain head, or an error when none exist.
func latestPRD(ctx context.Context, cli *CLI) (*store.PRD, error) {
	heads, err := cli.handle.Store.ListPRDHeads(ctx, cli.handle.Workspace.ID)
	if err != nil {
		return nil, err
	}
	if len(heads) == 0 {
		return nil, fmt.Errorf("no requirements documents; run: codeframe prd add <file>")
	}
	return heads[len(heads)-1], nil
}

func newPRDAddCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>",
		Short: "Add a requirements document from a file (use - for stdin)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			content, err := readInput(args[0])
			if err != nil {
				return err
			}
			st, ws := cli.handle.Store, cli.handle.Workspace
			prd, err := st.AddPRD(ctx, ws.ID, content)
			if err != nil {
				return err
			}
			st.AppendEvent(ctx, ws.ID, store.EventPRDAdded, prd.ID, map[string]any{"version": 1})
			cli.printf("added %s v1 (%d bytes)\n", prd.ID, len(content))
			return nil
		},
	}
}

func newPRDShowCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print a document (latest when no id given)",
		Args:  rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			var prd *store.PRD
			var err error
			if len(args) == 1 {
				prd, err = cli.handle.Store.GetPRD(ctx, args[0])
			} else {
				prd, err = latestPRD(ctx, cli)
			}
			if err != nil {
				return err
			}
			cli.printf("%s", prd.Content)
			if !strings.HasSuffix(prd.Content, "\n") {
				cli.printf("\n")
			}
			return nil
		},
	}
}

func newPRDGenerateCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <goal...>",
		Short: "Draft a requirements document from a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("prd generate needs a goal, e.g.: codeframe prd generate \"build a todo CLI\"")
			}
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			prd, err := svc.planning.GeneratePRD(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			cli.printf("generated %s v1\n\n%s\n", prd.ID, prd.Content)
			return nil
		},
	}
}

func newPRDRefineCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "refine <id> <instructions...>",
		Short: "Revise a document with the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return usagef("prd refine needs an id and instructions")
			}
			svc, err := cli.stack(cmd.Context())
			if err != nil {
				return err
			}
			revised, err := svc.planning.RefinePRD(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			cli.printf("refined to %s v%d: %s\n", revised.ID, revised.Version, revised.ChangeSummary)
			return nil
		},
	}
}

func newPRDListCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List document chains at their newest version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			heads, err := cli.handle.Store.ListPRDHeads(ctx, cli.handle.Workspace.ID)
			if err != nil {
				return err
			}
			for _, prd := range heads {
				cli.printf("%s v%d %s %s\n", prd.ID, prd.Version,
					prd.CreatedAt.Format("2006-01-02"), firstLine(prd.Content))
			}
			if len(heads) == 0 {
				cli.printf("no requirements documents\n")
			}
			return nil
		},
	}
}

func newPRDDeleteCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document chain (all versions)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			deleted, err := cli.handle.Store.DeletePRDChain(ctx, args[0])
			if err != nil {
				return err
			}
			cli.printf("deleted %d version(s)\n", deleted)
			return nil
		},
	}
}

func newPRDExportCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <path>",
		Short: "Write a document version to a file",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			prd, err := cli.handle.Store.GetPRD(ctx, args[0])
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], []byte(prd.Content), 0o644); err != nil {
				return err
			}
			cli.printf("wrote %s v%d to %s\n", prd.ID, prd.Version, args[1])
			return nil
		},
	}
}

func newPRDVersionsCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <id>",
		Short: "List all versions of a document chain",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			prd, err := cli.handle.Store.GetPRD(ctx, args[0])
			if err != nil {
				return err
			}
			chain, err := cli.handle.Store.ListPRDChain(ctx, prd.ChainID)
			if err != nil {
				return err
			}
			for _, v := range chain {
				summary := v.ChangeSummary
				if summary == "" {
					summary = "(initial)"
				}
				cli.printf("v%-3d %s %s %s\n", v.Version, v.ID,
					v.CreatedAt.Format("2006-01-02 15:04"), summary)
			}
			return nil
		},
	}
}

func newPRDDiffCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <id> <v1> <v2>",
		Short: "Diff two versions of a document chain",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			v1, err := strconv.Atoi(args[1])
			if err != nil {
				return usagef("version %q is not a number", args[1])
			}
			v2, err := strconv.Atoi(args[2])
			if err != nil {
				return usagef("version %q is not a number", args[2])
			}

			prd, err := cli.handle.Store.GetPRD(ctx, args[0])
			if err != nil {
				return err
			}
			chain, err := cli.handle.Store.ListPRDChain(ctx, prd.ChainID)
			if err != nil {
				return err
			}
			byVersion := map[int]*store.PRD{}
			for _, v := range chain {
				byVersion[v.Version] = v
			}
			a, ok := byVersion[v1]
			if !ok {
				return fmt.Errorf("chain has no version %d", v1)
			}
			b, ok := byVersion[v2]
			if !ok {
				return fmt.Errorf("chain has no version %d", v2)
			}

			dmp := diffmatchpatch.New()
			diffs := dmp.DiffMain(a.Content, b.Content, true)
			dmp.DiffCleanupSemantic(diffs)
			cli.printf("%s\n", dmp.DiffPrettyText(diffs))
			return nil
		},
	}
}

func newPRDUpdateCommand(cli *CLI) *cobra.Command {
	var file, summary string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Append a new version with content from a file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cli.open(ctx); err != nil {
				return err
			}
			if file == "" {
				return usagef("prd update needs --file (use - for stdin)")
			}
			content, err := readInput(file)
			if err != nil {
				return err
			}
			st, ws := cli.handle.Store, cli.handle.Workspace
			revised, err := st.UpdatePRD(ctx, args[0], content, summary)
			if err != nil {
				return err
			}
			st.AppendEvent(ctx, ws.ID, store.EventPRDUpdated, revised.ID, map[string]any{
				"version": revised.Version,
				"summary": summary,
			})
			cli.printf("updated to %s v%d\n", revised.ID, revised.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file with the new content, or - for stdin")
	cmd.Flags().StringVarP(&summary, "summary", "m", "manual update", "change summary")
	return cmd
}

// readInput reads a file argument, treating "-" as stdin.
func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
