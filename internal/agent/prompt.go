package agent

import (
	"fmt"
	"strings"

	"codeframe/internal/config"
	"codeframe/internal/store"
)

// basePrompt is the first system-prompt layer: the agent's role and working
// rules. Task- and workspace-specific layers stack under it.
const basePrompt = `You are an autonomous software engineer working inside a checked-out repository.

Work in small, verifiable steps:
1. Read the relevant code before changing it.
2. Make one focused change at a time with create_file or edit_file.
3. Run tests after meaningful changes, not after every keystroke.
4. When the task is complete and tests pass, reply with a short summary of what you did instead of calling more tools.

Rules:
- Never invent file contents; read files before editing them.
- Copy edit_file search blocks exactly from a prior read_file observation.
- If you cannot proceed without a human answer, reply with BLOCKED[category]: followed by your question as your entire reply. Categories: missing-info, ambiguous-spec, external-dependency, tactical-decision. A bare BLOCKED: defaults to missing-info.
- To record a question for a human without stopping, put NOTE[category]: and the question on the first line of a message that also calls tools, then keep working.
- Prefer the smallest change that satisfies the task.`

// PromptInputs carries everything the system prompt layers draw from.
type PromptInputs struct {
	Task           *store.Task
	PRD            *store.PRD
	WorkspaceCfg   *config.WorkspaceConfig
	RepoPath       string
	BlockerAnswers string
}

// BuildSystemPrompt assembles the three prompt layers: role, workspace
// environment, task context.
func BuildSystemPrompt(in PromptInputs) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	b.WriteString("\n\n## Workspace\n")
	fmt.Fprintf(&b, "Repository root: %s\n", in.RepoPath)
	if cfg := in.WorkspaceCfg; cfg != nil {
		if cfg.PackageManager != "" {
			fmt.Fprintf(&b, "Package manager: %s\n", cfg.PackageManager)
		}
		if cfg.PythonVersion != "" {
			fmt.Fprintf(&b, "Python version: %s\n", cfg.PythonVersion)
		}
		if cfg.TestFramework != "" {
			fmt.Fprintf(&b, "Test framework: %s\n", cfg.TestFramework)
		}
		if len(cfg.LintTools) > 0 {
			fmt.Fprintf(&b, "Lint tools: %s\n", strings.Join(cfg.LintTools, ", "))
		}
		if cmd := cfg.ResolvedTestCommand(); cmd != "" {
			fmt.Fprintf(&b, "Test command: %s\n", cmd)
		}
	}

	b.WriteString("\n## Task\n")
	fmt.Fprintf(&b, "Title: %s\n", in.Task.Title)
	if in.Task.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", in.Task.Description)
	}
	if in.PRD != nil {
		fmt.Fprintf(&b, "\nProduct requirements (v%d):\n%s\n", in.PRD.Version, in.PRD.Content)
	}
	if in.BlockerAnswers != "" {
		b.WriteString("\n")
		b.WriteString(in.BlockerAnswers)
	}
	return b.String()
}

// Reply directives. BLOCKED ends the run waiting on a human; NOTE records a
// question without halting.
const (
	blockedPrefix = "BLOCKED"
	notePrefix    = "NOTE"
)

// blockRequest is a parsed question the model addressed to a human.
type blockRequest struct {
	question string
	category store.BlockerCategory
}

// parseBlockedReply extracts the question and category from a terminal
// BLOCKED reply. The category tag is optional and defaults to missing-info.
func parseBlockedReply(content string) (blockRequest, bool) {
	return parseDirective(blockedPrefix, content)
}

// parseAsyncNote extracts a non-halting NOTE directive from the first line of
// assistant content that accompanies tool calls.
func parseAsyncNote(content string) (blockRequest, bool) {
	line := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	return parseDirective(notePrefix, line)
}

func parseDirective(prefix, content string) (blockRequest, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, prefix) {
		return blockRequest{}, false
	}
	rest := trimmed[len(prefix):]
	category := store.CategoryMissingInfo
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return blockRequest{}, false
		}
		category = normalizeCategory(rest[1:end])
		rest = rest[end+1:]
	}
	if !strings.HasPrefix(rest, ":") {
		return blockRequest{}, false
	}
	question := strings.TrimSpace(rest[1:])
	if question == "" {
		return blockRequest{}, false
	}
	return blockRequest{question: question, category: category}, true
}

// normalizeCategory maps a model-written tag onto the closed category set.
// Unknown tags fall back to missing-info rather than failing the directive.
func normalizeCategory(tag string) store.BlockerCategory {
	switch c := store.BlockerCategory(strings.ToLower(strings.TrimSpace(tag))); c {
	case store.CategoryMissingInfo, store.CategoryAmbiguousSpec,
		store.CategoryExternalDependency, store.CategoryTacticalDecision,
		store.CategoryEscalation:
		return c
	default:
		return store.CategoryMissingInfo
	}
}
