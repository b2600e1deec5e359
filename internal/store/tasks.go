package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"codeframe/internal/shared/utils/id"
)

// TaskDraft is the caller-supplied part of a new task.
type TaskDraft struct {
	Title           string
	Description     string
	Priority        int
	DependsOn       []string
	ComplexityScore int
	Assignee        string
}

// CreateTask inserts a new BACKLOG task, assigning the next task number in
// the workspace. Dependencies must reference existing tasks and must not
// introduce a cycle.
func (s *Store) CreateTask(ctx context.Context, workspaceID string, draft TaskDraft) (*Task, error) {
	if draft.Title == "" {
		return nil, errors.New("task title is required")
	}
	complexity := draft.ComplexityScore
	if complexity == 0 {
		complexity = 2
	}
	if complexity < 1 || complexity > 5 {
		return nil, fmt.Errorf("complexity score %d out of range [1,5]", complexity)
	}

	task := &Task{
		ID:              id.NewTaskID(),
		WorkspaceID:     workspaceID,
		Title:           draft.Title,
		Description:     draft.Description,
		Status:          TaskBacklog,
		Priority:        draft.Priority,
		DependsOn:       draft.DependsOn,
		ComplexityScore: complexity,
		Assignee:        draft.Assignee,
		CreatedAt:       s.now(),
	}

	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		if err := validateDependenciesTx(ctx, tx, workspaceID, task.ID, task.DependsOn); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(task_number), 0) + 1 FROM tasks WHERE workspace_id = ?`,
			workspaceID).Scan(&task.TaskNumber); err != nil {
			return err
		}
		depends, err := json.Marshal(emptyIfNil(task.DependsOn))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, workspace_id, task_number, title, description, status,
				priority, depends_on, complexity_score, assignee, result_summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)`,
			task.ID, task.WorkspaceID, task.TaskNumber, task.Title, task.Description,
			string(task.Status), task.Priority, string(depends), task.ComplexityScore,
			task.Assignee, formatTime(task.CreatedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// GetTask loads a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, taskID)
	return scanTask(row)
}

// GetTaskByNumber loads a task by its per-workspace number.
func (s *Store) GetTaskByNumber(ctx context.Context, workspaceID string, number int) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		taskSelect+` WHERE workspace_id = ? AND task_number = ?`, workspaceID, number)
	return scanTask(row)
}

// ListTasks returns workspace tasks ordered by task number, optionally
// filtered by status.
func (s *Store) ListTasks(ctx context.Context, workspaceID string, statuses ...TaskStatus) ([]*Task, error) {
	query := taskSelect + ` WHERE workspace_id = ?`
	args := []any{workspaceID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY task_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// TransitionOption mutates a task alongside a status change, inside the same
// transaction.
type TransitionOption func(*Task)

// WithResultSummary records the run's outcome summary on the task.
func WithResultSummary(summary string) TransitionOption {
	return func(t *Task) { t.ResultSummary = summary }
}

// WithAssignee sets the task assignee.
func WithAssignee(assignee string) TransitionOption {
	return func(t *Task) { t.Assignee = assignee }
}

// Transition moves a task to a new status, enforcing the lifecycle graph.
// READY additionally requires every dependency to be DONE or MERGED.
// Terminal statuses stamp the completion timestamp; leaving a terminal
// status (FAILED back to READY) clears it. Returns the updated task.
func (s *Store) Transition(ctx context.Context, taskID string, to TaskStatus, opts ...TransitionOption) (*Task, error) {
	if !ValidTaskStatus(to) {
		return nil, fmt.Errorf("unknown task status %q", to)
	}

	var updated *Task
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, taskID)
		task, err := scanTask(row)
		if err != nil {
			return err
		}
		if !CanTransition(task.Status, to) {
			return &TransitionError{Entity: "task", ID: taskID, From: string(task.Status), To: string(to)}
		}
		if to == TaskReady {
			if err := checkDependenciesSatisfiedTx(ctx, tx, task); err != nil {
				return err
			}
		}

		task.Status = to
		for _, opt := range opts {
			opt(task)
		}
		if to.IsTerminal() {
			if task.CompletedAt == nil {
				now := s.now()
				task.CompletedAt = &now
			}
		} else {
			task.CompletedAt = nil
		}
		completedAt := formatTimePtr(task.CompletedAt)

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, assignee = ?, result_summary = ?, completed_at = ?
			WHERE id = ?`,
			string(task.Status), task.Assignee, task.ResultSummary, completedAt, taskID)
		if err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateTaskDependencies replaces a task's dependency list, revalidating
// existence and acyclicity.
func (s *Store) UpdateTaskDependencies(ctx context.Context, taskID string, dependsOn []string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, taskID)
		task, err := scanTask(row)
		if err != nil {
			return err
		}
		if err := validateDependenciesTx(ctx, tx, task.WorkspaceID, taskID, dependsOn); err != nil {
			return err
		}
		depends, err := json.Marshal(emptyIfNil(dependsOn))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET depends_on = ? WHERE id = ?`, string(depends), taskID)
		return err
	})
}

// checkDependenciesSatisfiedTx enforces that a task can only become READY
// when every dependency has reached DONE or MERGED.
func checkDependenciesSatisfiedTx(ctx context.Context, tx *sql.Tx, task *Task) error {
	for _, dep := range task.DependsOn {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, dep).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: dependency %s does not exist", ErrIntegrityViolation, dep)
		}
		if err != nil {
			return err
		}
		if TaskStatus(status) != TaskDone && TaskStatus(status) != TaskMerged {
			return fmt.Errorf("task %s cannot become READY: dependency %s is %s", task.ID, dep, status)
		}
	}
	return nil
}

// validateDependenciesTx checks each dependency exists in the workspace and
// that adding the edges keeps the graph acyclic.
func validateDependenciesTx(ctx context.Context, tx *sql.Tx, workspaceID, taskID string, dependsOn []string) error {
	if len(dependsOn) == 0 {
		return nil
	}
	graph := map[string][]string{taskID: dependsOn}
	rows, err := tx.QueryContext(ctx,
		`SELECT id, depends_on FROM tasks WHERE workspace_id = ?`, workspaceID)
	if err != nil {
		return err
	}
	defer rows.Close()

	exists := map[string]bool{}
	for rows.Next() {
		var tid, raw string
		if err := rows.Scan(&tid, &raw); err != nil {
			return err
		}
		exists[tid] = true
		if tid == taskID {
			continue
		}
		var deps []string
		if err := json.Unmarshal([]byte(raw), &deps); err != nil {
			return err
		}
		graph[tid] = deps
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, dep := range dependsOn {
		if dep == taskID {
			return fmt.Errorf("%w: task %s cannot depend on itself", ErrIntegrityViolation, taskID)
		}
		if !exists[dep] {
			return fmt.Errorf("%w: dependency %s does not exist", ErrIntegrityViolation, dep)
		}
	}
	if hasCycle(graph, taskID) {
		return fmt.Errorf("%w: dependency cycle through task %s", ErrIntegrityViolation, taskID)
	}
	return nil
}

// hasCycle runs a DFS from start looking for a back edge to start.
func hasCycle(graph map[string][]string, start string) bool {
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var visit func(node string) bool
	visit = func(node string) bool {
		switch state[node] {
		case visiting:
			return true
		case done:
			return false
		}
		state[node] = visiting
		for _, dep := range graph[node] {
			if visit(dep) {
				return true
			}
		}
		state[node] = done
		return false
	}
	return visit(start)
}

const taskSelect = `SELECT id, workspace_id, task_number, title, description, status,
	priority, depends_on, complexity_score, assignee, result_summary, created_at, completed_at FROM tasks`

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var status, depends, created string
	var completed sql.NullString
	err := row.Scan(&task.ID, &task.WorkspaceID, &task.TaskNumber, &task.Title,
		&task.Description, &status, &task.Priority, &depends, &task.ComplexityScore,
		&task.Assignee, &task.ResultSummary, &created, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	task.Status = TaskStatus(status)
	if err := json.Unmarshal([]byte(depends), &task.DependsOn); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = timePtr(completed); err != nil {
		return nil, err
	}
	return &task, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
