package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codeframe/internal/config"
	"codeframe/internal/llm"
	"codeframe/internal/shared/logging"
	tokenutil "codeframe/internal/shared/token"
)

// Compaction thresholds, as fractions of the context window.
const (
	compactTriggerRatio  = 0.75 // start compacting above this
	compactEscalateRatio = 0.90 // escalate if still above this after tier 3
	compactTargetRatio   = 0.60 // stop compacting at or below this
)

// tailKeep is how many trailing messages stay verbatim through every tier.
const tailKeep = 8

// perMessageOverhead approximates the per-message framing tokens.
const perMessageOverhead = 4

// summarizer produces a conversation summary; satisfied by llm.Router.
type summarizer interface {
	Complete(ctx context.Context, purpose string, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type compactor struct {
	llm    summarizer
	window int
	logger logging.Logger
}

func newCompactor(llmClient summarizer, windowTokens int, logger logging.Logger) *compactor {
	return &compactor{llm: llmClient, window: windowTokens, logger: logging.OrNop(logger)}
}

// estimate counts conversation tokens.
func (c *compactor) estimate(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += tokenutil.CountTokens(m.Content) + perMessageOverhead
		for _, tc := range m.ToolCalls {
			total += tokenutil.CountTokens(tc.Arguments) + perMessageOverhead
		}
	}
	return total
}

func (c *compactor) ratio(messages []llm.Message) float64 {
	if c.window <= 0 {
		return 0
	}
	return float64(c.estimate(messages)) / float64(c.window)
}

// compactOutcome reports what maybeCompact did.
type compactOutcome int

const (
	compactNone compactOutcome = iota
	compactApplied
	compactEscalate
)

// maybeCompact runs the compaction tiers when the conversation crosses the
// trigger threshold: observation compression, redundancy elimination, then
// summarization. Tiers run in order and stop as soon as usage drops to the
// target. If even the full fallback leaves usage above the escalation
// threshold the run cannot continue and must block.
func (c *compactor) maybeCompact(ctx context.Context, messages []llm.Message) ([]llm.Message, compactOutcome, error) {
	if c.ratio(messages) < compactTriggerRatio {
		return messages, compactNone, nil
	}
	before := c.estimate(messages)

	// Tier 1: stub out old tool observations.
	messages = c.truncateOldObservations(messages)
	if c.ratio(messages) <= compactTargetRatio {
		c.logTier("tier 1", before, messages)
		return messages, compactApplied, nil
	}

	// Tier 2: drop observations a later one made redundant.
	messages = c.dropSupersededObservations(messages)
	if c.ratio(messages) <= compactTargetRatio {
		c.logTier("tier 2", before, messages)
		return messages, compactApplied, nil
	}

	// Tier 3: summarize the middle of the conversation.
	summarized, err := c.summarizeMiddle(ctx, messages)
	if err != nil {
		c.logger.Warn("compact: summarization failed, falling through: %v", err)
	} else {
		messages = summarized
		if c.ratio(messages) <= compactTargetRatio {
			c.logTier("tier 3", before, messages)
			return messages, compactApplied, nil
		}
	}

	// Fallback: keep only the system prompt, one summary, and the tail.
	messages = c.keepEssentials(messages)
	c.logTier("fallback", before, messages)

	if c.ratio(messages) > compactEscalateRatio {
		return messages, compactEscalate, nil
	}
	return messages, compactApplied, nil
}

func (c *compactor) logTier(stage string, before int, after []llm.Message) {
	c.logger.Info("compact: %s reduced %d -> %d tokens (window %d)",
		stage, before, c.estimate(after), c.window)
}

// truncateOldObservations replaces tool observations outside the verbatim
// tail with a one-line stub.
func (c *compactor) truncateOldObservations(messages []llm.Message) []llm.Message {
	cutoff := len(messages) - tailKeep
	out := make([]llm.Message, len(messages))
	copy(out, messages)
	for i := 0; i < cutoff; i++ {
		m := &out[i]
		if m.Role != llm.RoleTool {
			continue
		}
		if tokenutil.EstimateFast(m.Content) < 80 {
			continue
		}
		head := firstLine(m.Content)
		if len(head) > 120 {
			head = head[:120]
		}
		m.Content = fmt.Sprintf("%s\n[observation truncated during compaction]", head)
	}
	return out
}

// dropSupersededObservations replaces read_file results that a later read of
// the same path supersedes, and test-run results that a later passing run
// supersedes. The verbatim tail is never touched.
func (c *compactor) dropSupersededObservations(messages []llm.Message) []llm.Message {
	head, middle, _ := splitForCompaction(messages)
	tailStart := len(head) + len(middle)

	// Resolve each observation's tool call so we know what produced it.
	type callInfo struct {
		name string
		path string
	}
	calls := map[string]callInfo{}
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			info := callInfo{name: tc.Name}
			if tc.Name == "read_file" {
				var args struct {
					Path string `json:"path"`
				}
				if json.Unmarshal([]byte(tc.Arguments), &args) == nil {
					info.path = args.Path
				}
			}
			calls[tc.ID] = info
		}
	}

	out := make([]llm.Message, len(messages))
	copy(out, messages)

	// Walk newest-first so later observations mark earlier ones stale.
	readAgain := map[string]bool{}
	testsPassedLater := false
	for i := len(out) - 1; i >= len(head); i-- {
		m := &out[i]
		if m.Role != llm.RoleTool {
			continue
		}
		info, ok := calls[m.ToolCallID]
		if !ok {
			continue
		}
		inTail := i >= tailStart
		switch info.name {
		case "read_file":
			if info.path == "" {
				continue
			}
			if readAgain[info.path] && !inTail {
				m.Content = fmt.Sprintf("[superseded by a later read of %s]", info.path)
			}
			readAgain[info.path] = true
		case "run_tests":
			if testsPassedLater && !inTail {
				m.Content = "[superseded by a later passing test run]"
			}
			if strings.HasPrefix(m.Content, "exit code: 0") {
				testsPassedLater = true
			}
		}
	}
	return out
}

// summarizeMiddle folds everything between the prompt head and the verbatim
// tail into one model-written summary message.
func (c *compactor) summarizeMiddle(ctx context.Context, messages []llm.Message) ([]llm.Message, error) {
	head, middle, tail := splitForCompaction(messages)
	if len(middle) == 0 {
		return messages, nil
	}

	var transcript strings.Builder
	for _, m := range middle {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&transcript, "[%s called %s(%s)]\n", m.Role, tc.Name, tc.Arguments)
		}
	}

	resp, err := c.llm.Complete(ctx, config.PurposeCompaction, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Summarize this coding-agent transcript. Keep: what was tried, what worked, what failed and why, current state of the code, and any decisions made. Be terse; omit raw file contents."},
			{Role: llm.RoleUser, Content: transcript.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	summary := llm.Message{
		Role:    llm.RoleUser,
		Content: "Summary of earlier work in this session:\n" + resp.Content,
	}
	out := make([]llm.Message, 0, len(head)+1+len(tail))
	out = append(out, head...)
	out = append(out, summary)
	out = append(out, tail...)
	return out, nil
}

// keepEssentials is the fallback: prompt head, the most recent summary if
// one exists, and the verbatim tail.
func (c *compactor) keepEssentials(messages []llm.Message) []llm.Message {
	head, middle, tail := splitForCompaction(messages)
	out := make([]llm.Message, 0, len(head)+1+len(tail))
	out = append(out, head...)
	for i := len(middle) - 1; i >= 0; i-- {
		if strings.HasPrefix(middle[i].Content, "Summary of earlier work") {
			out = append(out, middle[i])
			break
		}
	}
	out = append(out, tail...)
	return out
}

// splitForCompaction divides the conversation into the protected head (the
// system prompt and the opening user message), the compactable middle, and
// the verbatim tail.
func splitForCompaction(messages []llm.Message) (head, middle, tail []llm.Message) {
	headLen := 0
	if headLen < len(messages) && messages[headLen].Role == llm.RoleSystem {
		headLen++
	}
	if headLen < len(messages) && messages[headLen].Role == llm.RoleUser {
		headLen++
	}

	tailStart := len(messages) - tailKeep
	if tailStart < headLen {
		tailStart = headLen
	}
	// Never start the tail on a tool observation whose call got cut off.
	for tailStart < len(messages) && messages[tailStart].Role == llm.RoleTool {
		tailStart++
	}
	return messages[:headLen], messages[headLen:tailStart], messages[tailStart:]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
