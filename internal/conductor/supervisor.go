package conductor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"codeframe/internal/blockers"
	"codeframe/internal/shared/logging"
	"codeframe/internal/store"
)

// decisionCacheSize bounds the in-memory front of the durable decision table.
const decisionCacheSize = 256

// Supervisor auto-resolves recurring tactical questions so a batch does not
// stall on the same decision twice. Answers come from the durable decision
// cache or, for option-set questions, from a first-option heuristic. Every
// other category stays open for a human.
type Supervisor struct {
	store       *store.Store
	blockers    *blockers.Manager
	workspaceID string
	cache       *lru.Cache[string, string]
	logger      logging.Logger
}

// NewSupervisor builds a Supervisor over the workspace's decision cache.
func NewSupervisor(st *store.Store, bm *blockers.Manager, workspaceID string, logger logging.Logger) *Supervisor {
	cache, _ := lru.New[string, string](decisionCacheSize)
	return &Supervisor{
		store:       st,
		blockers:    bm,
		workspaceID: workspaceID,
		cache:       cache,
		logger:      logging.OrNop(logger),
	}
}

// TryResolve inspects a blocked task's open blockers and answers the ones it
// can. It reports true only when every open blocker was answered, meaning the
// task can be re-queued immediately.
func (s *Supervisor) TryResolve(ctx context.Context, taskID string) (bool, error) {
	open, err := s.blockers.ListOpen(ctx, taskID)
	if err != nil {
		return false, err
	}
	if len(open) == 0 {
		return false, nil
	}
	for _, b := range open {
		answer, ok, err := s.answerFor(ctx, b)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if _, err := s.blockers.Answer(ctx, b.ID, answer); err != nil {
			return false, err
		}
		s.logger.Info("supervisor: auto-answered blocker %s (%s): %s", b.ID, DecisionKind(b.Question), answer)
	}
	return true, nil
}

// answerFor finds or derives an answer for one blocker.
func (s *Supervisor) answerFor(ctx context.Context, b *store.Blocker) (string, bool, error) {
	if b.Category != store.CategoryTacticalDecision {
		return "", false, nil
	}
	kind := DecisionKind(b.Question)

	if answer, ok := s.cache.Get(kind); ok {
		return answer, true, nil
	}
	d, err := s.store.GetDecision(ctx, s.workspaceID, kind)
	if err == nil {
		s.cache.Add(kind, d.Answer)
		return d.Answer, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}

	options := detectOptions(b.Question)
	if len(options) == 0 {
		return "", false, nil
	}
	answer := fmt.Sprintf("Use %s. Keep this choice consistent across the batch.", options[0])
	if err := s.store.PutDecision(ctx, s.workspaceID, kind, b.Question, answer); err != nil {
		return "", false, err
	}
	s.cache.Add(kind, answer)
	return answer, true, nil
}

var (
	punctRe      = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	braceSetRe   = regexp.MustCompile(`\{([^}]+)\}`)
	orChoiceRe   = regexp.MustCompile(`(?i)\b([\w.\-/]+)((?:\s*,\s*[\w.\-/]+)*)\s*,?\s+or\s+([\w.\-/]+)`)
	decisionStop = map[string]bool{
		"a": true, "an": true, "the": true, "of": true, "to": true, "in": true,
		"for": true, "should": true, "i": true, "we": true, "use": true,
		"which": true, "what": true, "is": true, "be": true, "do": true,
	}
)

// DecisionKind canonicalizes a question into a cache key: lowercase, no
// punctuation, collapsed whitespace, first 8 significant words. Option-set
// questions additionally append their options in sorted order so "A or B"
// and "B or A" share a key.
func DecisionKind(question string) string {
	lowered := strings.ToLower(question)
	cleaned := punctRe.ReplaceAllString(lowered, " ")

	var words []string
	for _, w := range strings.Fields(cleaned) {
		if decisionStop[w] {
			continue
		}
		words = append(words, w)
		if len(words) == 8 {
			break
		}
	}
	kind := strings.Join(words, " ")

	if options := detectOptions(question); len(options) > 0 {
		sorted := make([]string, len(options))
		for i, o := range options {
			sorted[i] = strings.ToLower(o)
		}
		sort.Strings(sorted)
		kind += " [" + strings.Join(sorted, "|") + "]"
	}
	return kind
}

// detectOptions pulls an option set out of a question: either an explicit
// {a, b, c} set or an "x, y or z" choice list.
func detectOptions(question string) []string {
	if m := braceSetRe.FindStringSubmatch(question); m != nil {
		var options []string
		for _, part := range strings.Split(m[1], ",") {
			if p := strings.TrimSpace(part); p != "" {
				options = append(options, p)
			}
		}
		if len(options) >= 2 {
			return options
		}
	}
	if m := orChoiceRe.FindStringSubmatch(question); m != nil {
		options := []string{m[1]}
		for _, part := range strings.Split(m[2], ",") {
			if p := strings.TrimSpace(part); p != "" {
				options = append(options, p)
			}
		}
		options = append(options, strings.TrimSuffix(m[3], "?"))
		return options
	}
	return nil
}
