package store

import "fmt"

// migration is one ordered schema step. Steps must stay idempotent-safe:
// they run exactly once, recorded in schema_version, and are never edited
// after release. New schema changes append a new version.
type migration struct {
	version int
	apply   func(s *Store) error
}

var migrations = []migration{
	{1, migrateV1Core},
	{2, migrateV2Decisions},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		s.logger.Info("store: applying migration v%d", m.version)
		if err := m.apply(s); err != nil {
			return fmt.Errorf("migration v%d: %w", m.version, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
			m.version, formatTime(s.now()),
		); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func migrateV1Core(s *Store) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			repo_path TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prds (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			parent_id TEXT,
			chain_id TEXT NOT NULL,
			change_summary TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE (chain_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			task_number INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN
				('BACKLOG', 'READY', 'IN_PROGRESS', 'BLOCKED', 'DONE', 'FAILED', 'MERGED')),
			priority INTEGER NOT NULL DEFAULT 0,
			depends_on TEXT NOT NULL DEFAULT '[]',
			complexity_score INTEGER NOT NULL DEFAULT 2,
			assignee TEXT NOT NULL DEFAULT '',
			result_summary TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			completed_at TEXT,
			UNIQUE (workspace_id, task_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_workspace_status ON tasks (workspace_id, status)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			engine TEXT NOT NULL,
			status TEXT NOT NULL,
			iterations INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			summary TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task ON runs (task_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS blockers (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			mode TEXT NOT NULL,
			question TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			answer TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			answered_at TEXT,
			expires_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blockers_status ON blockers (status)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			task_ids TEXT NOT NULL,
			strategy TEXT NOT NULL,
			max_parallel INTEGER NOT NULL,
			on_failure TEXT NOT NULL,
			retry_budget INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			dependency_map TEXT NOT NULL DEFAULT '{}',
			results TEXT NOT NULL DEFAULT '{}',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			started_at TEXT,
			finished_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			timestamp TEXT NOT NULL,
			type TEXT NOT NULL,
			subject_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_workspace_time ON events (workspace_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			label TEXT NOT NULL DEFAULT '',
			git_ref TEXT NOT NULL,
			store_path TEXT NOT NULL,
			event_cursor TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateV2Decisions(s *Store) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			kind TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (workspace_id, kind)
		)`)
	return err
}
