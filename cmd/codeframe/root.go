package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"codeframe/internal/agent"
	"codeframe/internal/blockers"
	"codeframe/internal/checkpoint"
	"codeframe/internal/conductor"
	"codeframe/internal/config"
	"codeframe/internal/gates"
	"codeframe/internal/gitops"
	"codeframe/internal/llm"
	"codeframe/internal/planning"
	"codeframe/internal/runtime"
	sharederrors "codeframe/internal/shared/errors"
	"codeframe/internal/shared/logging"
	"codeframe/internal/store"
	"codeframe/internal/tools"
	"codeframe/internal/workspace"
)

// usageError marks command misuse so Execute can print a usage hint. Misuse
// is a user error and exits 1; exit 2 is reserved for external failures.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// exactArgs is cobra.ExactArgs reported as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

func rangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min || len(args) > max {
			return usagef("%s expects %d to %d argument(s), got %d", cmd.CommandPath(), min, max, len(args))
		}
		return nil
	}
}

// CLI carries the lazily-opened workspace and the services built over it.
type CLI struct {
	repoPath string
	out      io.Writer

	handle *workspace.Handle
	cfg    *config.RuntimeConfig
	logger logging.Logger
	svc    *services
}

// services is the full stack a command may need. Built once per invocation.
type services struct {
	router     *llm.Router
	gates      *gates.Runner
	blockers   *blockers.Manager
	runtime    *runtime.Runtime
	conductor  *conductor.Conductor
	planning   *planning.Service
	git        gitops.Adapter
	checkpoint *checkpoint.Manager
}

func newRootCommand(cli *CLI) *cobra.Command {
	root := &cobra.Command{
		Use:           "codeframe",
		Short:         "Autonomous coding agent over a durable workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cli.repoPath, "repo", "C", ".", "target repository root")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(
		newInitCommand(cli),
		newStatusCommand(cli),
		newSummaryCommand(cli),
		newConfigCommand(cli),
		newPRDCommand(cli),
		newTasksCommand(cli),
		newWorkCommand(cli),
		newEventsCommand(cli),
		newBlockerCommand(cli),
		newReviewCommand(cli, "review"),
		newGatesCommand(cli),
		newPatchCommand(cli),
		newCommitCommand(cli),
		newCheckpointCommand(cli),
	)
	return root
}

// open loads the workspace, runtime config, and logger. Every command except
// init goes through it.
func (c *CLI) open(ctx context.Context) error {
	if c.handle != nil {
		return nil
	}
	cfg, err := config.LoadRuntime()
	if err != nil {
		return err
	}
	c.cfg = cfg
	if cfg.LogLevel == "debug" {
		logging.SetDefaultLevel(logging.LevelDebug)
	}

	h, err := workspace.Open(ctx, c.repoPath, nil)
	if err != nil {
		return err
	}
	c.handle = h
	c.logger = logging.Multi(
		logging.NewComponentLogger("codeframe"),
		logging.NewFileLogger("codeframe", filepath.Join(workspace.LogsPath(h.Root), "codeframe.log")),
	)
	return nil
}

// stack builds the service graph over the open workspace.
func (c *CLI) stack(ctx context.Context) (*services, error) {
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	if c.svc != nil {
		return c.svc, nil
	}

	h := c.handle
	router := llm.NewRouter(c.cfg, c.logger, nil)
	gateRunner := gates.NewRunner(c.logger,
		gates.NewLintGate(h.Root, h.Config, c.cfg.GateTimeout(), c.logger),
		gates.NewTestGate(h.Root, h.Config, c.cfg.GateTimeout(), c.logger),
	)
	bm := blockers.New(h.Store, h.Workspace.ID, c.cfg.BlockerExpiry(), c.logger)

	registry, err := tools.NewBuiltinRegistry(tools.BuiltinOptions{
		RepoPath:       h.Root,
		WorkspaceCfg:   h.Config,
		CommandTimeout: c.cfg.CommandTimeout(),
		Feedback:       gateRunner,
		Logger:         c.logger,
	})
	if err != nil {
		return nil, err
	}

	engine := agent.NewEngine(agent.Deps{
		LLM:         router,
		Tools:       registry,
		Gates:       gateRunner,
		Blockers:    bm,
		Store:       h.Store,
		Config:      c.cfg,
		WorkspaceID: h.Workspace.ID,
		Logger:      c.logger,
	})

	rt := runtime.New(runtime.Deps{
		Store:        h.Store,
		Blockers:     bm,
		Workspace:    h.Workspace,
		WorkspaceCfg: h.Config,
		ReactEngine:  engine,
		Logger:       c.logger,
	})

	supervisor := conductor.NewSupervisor(h.Store, bm, h.Workspace.ID, c.logger)
	cond := conductor.New(conductor.Deps{
		Store:       h.Store,
		Runner:      rt,
		LLM:         router,
		Blockers:    bm,
		Supervisor:  supervisor,
		WorkspaceID: h.Workspace.ID,
		Logger:      c.logger,
	})

	git := gitops.New(h.Root, c.logger)
	c.svc = &services{
		router:     router,
		gates:      gateRunner,
		blockers:   bm,
		runtime:    rt,
		conductor:  cond,
		planning:   planning.New(h.Store, router, h.Workspace.ID, c.logger),
		git:        git,
		checkpoint: checkpoint.New(h.Store, git, h.Workspace.ID, workspace.CheckpointsPath(h.Root), c.logger),
	}
	return c.svc, nil
}

// Close releases the workspace handle.
func (c *CLI) Close() {
	if c.handle != nil {
		c.handle.Close()
	}
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// resolveTask accepts a task ID or a task number.
func (c *CLI) resolveTask(ctx context.Context, ref string) (*store.Task, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		return c.handle.Store.GetTaskByNumber(ctx, c.handle.Workspace.ID, n)
	}
	return c.handle.Store.GetTask(ctx, ref)
}

// Execute runs the CLI and maps the result to a process exit code.
func Execute(ctx context.Context, args []string, out io.Writer) int {
	cli := &CLI{out: out}
	defer cli.Close()

	root := newRootCommand(cli)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(os.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "interrupted")
		return 130
	}
	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintln(os.Stderr, "usage:", usage.Error())
		return 1
	}
	if isExternalFailure(err) {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		return 2
	}
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	return 1
}

// isExternalFailure reports whether the failure came from a collaborator
// outside the workspace: the git binary or the model provider. User input
// and state invariant errors stay exit 1.
func isExternalFailure(err error) bool {
	var gitErr *gitops.GitError
	if errors.As(err, &gitErr) {
		return true
	}
	var transient *sharederrors.TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *sharederrors.PermanentError
	return errors.As(err, &permanent)
}
