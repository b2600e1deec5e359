// Package blockers manages agent questions awaiting a human: creation,
// answering, expiry, and the handoff of answers back into a resumed run.
package blockers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeframe/internal/shared/logging"
	"codeframe/internal/store"
)

// Manager coordinates blocker state and emits the matching events.
type Manager struct {
	store       *store.Store
	workspaceID string
	expiry      time.Duration
	logger      logging.Logger
}

// New builds a Manager. expiry is the open-blocker lifetime; zero uses 24h.
func New(st *store.Store, workspaceID string, expiry time.Duration, logger logging.Logger) *Manager {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Manager{store: st, workspaceID: workspaceID, expiry: expiry, logger: logging.OrNop(logger)}
}

// Create opens a blocker and emits BLOCKER_CREATED.
func (m *Manager) Create(ctx context.Context, taskID string, mode store.BlockerMode, category store.BlockerCategory, question, contextText string) (*store.Blocker, error) {
	b, err := m.store.CreateBlocker(ctx, taskID, mode, category, question, contextText, m.expiry)
	if err != nil {
		return nil, err
	}
	m.logger.Info("blockers: created %s (%s, %s) for task %s", b.ID, mode, category, taskID)
	_, err = m.store.AppendEvent(ctx, m.workspaceID, store.EventBlockerCreated, b.ID, map[string]any{
		"task_id":  taskID,
		"mode":     string(mode),
		"category": string(category),
		"question": question,
	})
	return b, err
}

// Answer records a human answer and emits BLOCKER_ANSWERED.
func (m *Manager) Answer(ctx context.Context, blockerID, answer string) (*store.Blocker, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("empty answer")
	}
	b, err := m.store.AnswerBlocker(ctx, blockerID, answer)
	if err != nil {
		return nil, err
	}
	_, err = m.store.AppendEvent(ctx, m.workspaceID, store.EventBlockerAnswered, b.ID, map[string]any{
		"task_id": b.TaskID,
	})
	return b, err
}

// Resolve marks an answered blocker consumed and emits BLOCKER_RESOLVED.
func (m *Manager) Resolve(ctx context.Context, blockerID string) (*store.Blocker, error) {
	b, err := m.store.ResolveBlocker(ctx, blockerID)
	if err != nil {
		return nil, err
	}
	_, err = m.store.AppendEvent(ctx, m.workspaceID, store.EventBlockerResolved, b.ID, map[string]any{
		"task_id": b.TaskID,
	})
	return b, err
}

// ListOpen returns open blockers, optionally narrowed to a task.
func (m *Manager) ListOpen(ctx context.Context, taskID string) ([]*store.Blocker, error) {
	return m.store.ListOpenBlockers(ctx, taskID)
}

// ExpireStale sweeps past-expiry open blockers. Expired blockers carry the
// sentinel answer, so a resumed run proceeds on its own judgment.
func (m *Manager) ExpireStale(ctx context.Context) ([]*store.Blocker, error) {
	expired, err := m.store.ExpireStaleBlockers(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range expired {
		m.logger.Warn("blockers: %s expired unanswered (task %s)", b.ID, b.TaskID)
	}
	return expired, nil
}

// PendingAnswers collects answered and expired blockers for a task and
// renders them as a context block for the resumed run. Consumed blockers are
// resolved.
func (m *Manager) PendingAnswers(ctx context.Context, taskID string) (string, error) {
	if _, err := m.ExpireStale(ctx); err != nil {
		return "", err
	}
	answered, err := m.store.ListAnsweredBlockers(ctx, taskID)
	if err != nil {
		return "", err
	}
	if len(answered) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Answers to your earlier questions:\n")
	for _, blocker := range answered {
		fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", blocker.Question, blocker.Answer)
		if blocker.Status == store.BlockerAnswered {
			if _, err := m.Resolve(ctx, blocker.ID); err != nil {
				return "", err
			}
		}
	}
	return b.String(), nil
}
