package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"codeframe/internal/gates"
	"codeframe/internal/llm"
	"codeframe/internal/store"
)

// The quick-fix registry repairs trivial verification fallout mechanically:
// known lint autofixes, formatter deltas, and missing stdlib imports. It runs
// at most once per verification pass, before the fix loop spends any model
// turns.

// undefinedNameItem matches ruff's F821 report line for a missing name.
var undefinedNameItem = regexp.MustCompile(
	`^([^\s:]+\.py):\d+:\d+:\s+F821\s+[Uu]ndefined name .([A-Za-z_][A-Za-z0-9_]*)`)

// autofixableLintCodes are ruff codes whose --fix resolution is safe and
// deterministic: unused imports, import ordering, trailing whitespace,
// missing final newline.
var autofixableLintCodes = regexp.MustCompile(`\b(F401|I00[12]|W29[123]|COM812|Q000)\b`)

// formatterDeltaItem matches formatter "would reformat" output.
var formatterDeltaItem = regexp.MustCompile(`(?i)would (be )?reformat`)

// pythonStdlib lists the stdlib modules the import repair recognizes.
var pythonStdlib = map[string]bool{
	"abc": true, "argparse": true, "collections": true, "csv": true,
	"dataclasses": true, "datetime": true, "enum": true, "functools": true,
	"io": true, "itertools": true, "json": true, "logging": true,
	"math": true, "os": true, "pathlib": true, "random": true, "re": true,
	"shutil": true, "string": true, "subprocess": true, "sys": true,
	"tempfile": true, "textwrap": true, "time": true, "typing": true,
	"unittest": true, "uuid": true,
}

// quickFix applies the mechanical repair registry to the failing reports.
// Repairs run through the run_command tool so they stay confined to the
// workspace. Returns true when anything was applied, so the caller re-runs
// the gates before involving the model.
func (e *Engine) quickFix(ctx context.Context, st *runState, reports []*gates.Report) bool {
	commands := quickFixCommands(reports)
	if len(commands) == 0 {
		return false
	}

	applied := false
	for _, command := range commands {
		args, err := json.Marshal(map[string]any{"command": command})
		if err != nil {
			continue
		}
		e.logger.Info("agent: quick fix: %s", command)
		result := e.tools.Execute(ctx, llm.ToolCall{ID: "quickfix", Name: "run_command", Arguments: string(args)})
		e.emit(ctx, store.EventToolCalled, st.run.ID, map[string]any{
			"tool": "run_command", "is_error": result.IsError(), "quick_fix": true,
		})
		if !result.IsError() {
			applied = true
		}
	}
	return applied
}

// quickFixCommands maps failing lint items onto the known mechanical
// repairs. Only patterns with a safe, deterministic fix qualify; everything
// else is left for the fix loop.
func quickFixCommands(reports []*gates.Report) []string {
	var commands []string
	seen := map[string]bool{}
	add := func(cmd string) {
		if !seen[cmd] {
			seen[cmd] = true
			commands = append(commands, cmd)
		}
	}

	for _, r := range reports {
		if r.Status != gates.GateFailed || r.Gate != "lint" {
			continue
		}
		for _, item := range r.Items {
			if m := undefinedNameItem.FindStringSubmatch(item); m != nil && pythonStdlib[m[2]] {
				add(fmt.Sprintf("sed -i '1i import %s' %s", m[2], m[1]))
				continue
			}
			if autofixableLintCodes.MatchString(item) {
				add("ruff check --fix .")
				continue
			}
			if formatterDeltaItem.MatchString(item) {
				add("ruff format .")
			}
		}
	}
	return commands
}
