// Package planning turns goals into requirements documents and requirements
// documents into executable task lists. Model output is treated as hostile:
// JSON is repaired before parsing and structurally validated before anything
// touches the store.
package planning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"codeframe/internal/config"
	"codeframe/internal/llm"
	"codeframe/internal/shared/logging"
	"codeframe/internal/store"
)

// ErrNoPRD means task generation was requested before any PRD exists.
var ErrNoPRD = errors.New("no requirements document; add or generate one first")

// ErrInvalidTaskList is fatal: the model's task list could not be parsed or
// failed structural validation.
var ErrInvalidTaskList = errors.New("invalid generated task list")

type completer interface {
	Complete(ctx context.Context, purpose string, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Service plans work for one workspace.
type Service struct {
	store       *store.Store
	llm         completer
	workspaceID string
	logger      logging.Logger
}

// New builds a planning service.
func New(st *store.Store, llmClient completer, workspaceID string, logger logging.Logger) *Service {
	return &Service{
		store:       st,
		llm:         llmClient,
		workspaceID: workspaceID,
		logger:      logging.OrNop(logger),
	}
}

const generateSystemPrompt = `You write product requirements documents for software projects.
Given a goal, produce a concise PRD in markdown: overview, functional requirements
as a numbered list, acceptance criteria, and explicit non-goals. Be specific and
testable; do not pad.`

// GeneratePRD asks the model to draft a requirements document from a goal and
// stores it as a new version-1 chain.
func (s *Service) GeneratePRD(ctx context.Context, goal string) (*store.PRD, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, errors.New("goal is required")
	}
	resp, err := s.llm.Complete(ctx, config.PurposePlanning, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: generateSystemPrompt},
			{Role: llm.RoleUser, Content: goal},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate prd: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, errors.New("generate prd: model returned no content")
	}

	prd, err := s.store.AddPRD(ctx, s.workspaceID, resp.Content)
	if err != nil {
		return nil, err
	}
	s.store.AppendEvent(ctx, s.workspaceID, store.EventPRDAdded, prd.ID, map[string]any{
		"version":   prd.Version,
		"generated": true,
	})
	return prd, nil
}

const refineSystemPrompt = `You revise product requirements documents.
Apply the requested change to the document and return ONLY the full revised
document, followed by a line starting with "CHANGES:" and a one-sentence
summary of what changed.`

// RefinePRD asks the model to revise a PRD per the instructions and appends
// the result as a new version of the same chain.
func (s *Service) RefinePRD(ctx context.Context, prdID, instructions string) (*store.PRD, error) {
	current, err := s.store.GetPRD(ctx, prdID)
	if err != nil {
		return nil, err
	}
	resp, err := s.llm.Complete(ctx, config.PurposePlanning, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: refineSystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Document:\n\n%s\n\nRequested change: %s", current.Content, instructions)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("refine prd: %w", err)
	}

	content, summary := splitChangeSummary(resp.Content)
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("refine prd: model returned no content")
	}
	if summary == "" {
		summary = instructions
	}

	revised, err := s.store.UpdatePRD(ctx, current.ID, content, summary)
	if err != nil {
		return nil, err
	}
	s.store.AppendEvent(ctx, s.workspaceID, store.EventPRDUpdated, revised.ID, map[string]any{
		"version": revised.Version,
		"summary": summary,
	})
	return revised, nil
}

// splitChangeSummary separates the revised document from the trailing
// "CHANGES:" line the refine prompt asks for.
func splitChangeSummary(content string) (doc, summary string) {
	idx := strings.LastIndex(content, "\nCHANGES:")
	if idx < 0 {
		if strings.HasPrefix(content, "CHANGES:") {
			return "", strings.TrimSpace(content[len("CHANGES:"):])
		}
		return strings.TrimSpace(content), ""
	}
	doc = strings.TrimSpace(content[:idx])
	summary = strings.TrimSpace(content[idx+len("\nCHANGES:"):])
	return doc, summary
}

const taskGenSystemPrompt = `You break product requirements documents into implementation tasks.
Return ONLY a JSON array of task objects:
  [{"title": "...", "description": "...", "priority": 1-5,
    "complexity": 1-5, "depends_on": [indices of earlier tasks]}]
Order tasks so dependencies come first; depends_on holds zero-based indices
into the same array and may only reference earlier entries. Keep tasks small
enough to finish in one sitting.`

// generatedTask is the wire shape of one model-produced task.
type generatedTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Complexity  int    `json:"complexity"`
	DependsOn   []int  `json:"depends_on"`
}

// GenerateTasks derives BACKLOG tasks from the newest requirements document.
// Dependencies in the model output reference earlier array entries by index
// and are rewritten to task IDs as the tasks are created.
func (s *Service) GenerateTasks(ctx context.Context) ([]*store.Task, error) {
	heads, err := s.store.ListPRDHeads(ctx, s.workspaceID)
	if err != nil {
		return nil, err
	}
	if len(heads) == 0 {
		return nil, ErrNoPRD
	}
	prd := heads[len(heads)-1]

	resp, err := s.llm.Complete(ctx, config.PurposePlanning, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: taskGenSystemPrompt},
			{Role: llm.RoleUser, Content: prd.Content},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate tasks: %w", err)
	}

	drafts, err := parseTaskList(resp.Content)
	if err != nil {
		return nil, err
	}

	tasks := make([]*store.Task, 0, len(drafts))
	ids := make([]string, 0, len(drafts))
	for i, d := range drafts {
		deps := make([]string, 0, len(d.DependsOn))
		for _, idx := range d.DependsOn {
			if idx < 0 || idx >= i {
				return tasks, fmt.Errorf("%w: task %d references index %d", ErrInvalidTaskList, i, idx)
			}
			deps = append(deps, ids[idx])
		}
		task, err := s.store.CreateTask(ctx, s.workspaceID, store.TaskDraft{
			Title:           d.Title,
			Description:     d.Description,
			Priority:        d.Priority,
			ComplexityScore: clampComplexity(d.Complexity),
			DependsOn:       deps,
		})
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, task)
		ids = append(ids, task.ID)
	}

	taskIDs := make([]string, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}
	s.store.AppendEvent(ctx, s.workspaceID, store.EventTasksGenerated, prd.ID, map[string]any{
		"prd_id":   prd.ID,
		"task_ids": taskIDs,
	})
	s.logger.Info("planning: generated %d tasks from %s", len(tasks), prd.ID)
	return tasks, nil
}

// parseTaskList extracts the JSON array from a model reply, repairing fences
// and minor JSON damage first.
func parseTaskList(content string) ([]generatedTask, error) {
	trimmed := strings.TrimSpace(content)
	if start := strings.IndexByte(trimmed, '['); start >= 0 {
		if end := strings.LastIndexByte(trimmed, ']'); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	var drafts []generatedTask
	if err := json.Unmarshal([]byte(trimmed), &drafts); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(trimmed)
		if rerr != nil {
			return nil, fmt.Errorf("%w: unparseable model output: %v", ErrInvalidTaskList, rerr)
		}
		if err := json.Unmarshal([]byte(repaired), &drafts); err != nil {
			return nil, fmt.Errorf("%w: repaired output is not a task array: %v", ErrInvalidTaskList, err)
		}
	}

	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: empty task list", ErrInvalidTaskList)
	}
	for i, d := range drafts {
		if strings.TrimSpace(d.Title) == "" {
			return nil, fmt.Errorf("%w: task %d has no title", ErrInvalidTaskList, i)
		}
	}
	return drafts, nil
}

func clampComplexity(c int) int {
	switch {
	case c < 1:
		return 0 // store defaults it
	case c > 5:
		return 5
	}
	return c
}
