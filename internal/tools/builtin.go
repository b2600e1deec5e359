package tools

import (
	"time"

	"codeframe/internal/config"
	"codeframe/internal/shared/logging"
)

// BuiltinOptions configures the standard tool set.
type BuiltinOptions struct {
	RepoPath       string
	WorkspaceCfg   *config.WorkspaceConfig
	CommandTimeout time.Duration
	// Feedback enables inline per-file checks after create_file/edit_file.
	Feedback FileFeedback
	Logger   logging.Logger
}

// NewBuiltinRegistry wires the seven standard tools into a registry.
func NewBuiltinRegistry(opts BuiltinOptions) (*Registry, error) {
	sandbox, err := NewSandbox(opts.RepoPath)
	if err != nil {
		return nil, err
	}
	if opts.WorkspaceCfg == nil {
		opts.WorkspaceCfg = &config.WorkspaceConfig{}
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 120 * time.Second
	}
	logger := logging.OrNop(opts.Logger)

	r := NewRegistry(logger)
	r.MustRegister(
		NewReadFile(sandbox),
		NewListFiles(sandbox),
		NewSearchCodebase(sandbox),
		NewCreateFile(sandbox, opts.Feedback),
		NewEditFile(sandbox, opts.Feedback),
		NewRunTests(sandbox, opts.WorkspaceCfg, opts.CommandTimeout, logger),
		NewRunCommand(sandbox, opts.CommandTimeout, logger),
	)
	return r, nil
}
