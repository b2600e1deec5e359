package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codeframe/internal/shared/utils/id"
)

// AppendEvent writes one immutable event. Timestamps are forced strictly
// monotonic per workspace: a clock reading at or before the newest stored
// event is bumped one microsecond past it.
func (s *Store) AppendEvent(ctx context.Context, workspaceID string, typ EventType, subjectID string, payload map[string]any) (*Event, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}

	evt := &Event{
		ID:          id.NewEventID(),
		WorkspaceID: workspaceID,
		Timestamp:   s.now(),
		Type:        typ,
		SubjectID:   subjectID,
		Payload:     payload,
	}
	err = s.withWrite(ctx, func(tx *sql.Tx) error {
		var last sql.NullString
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(timestamp) FROM events WHERE workspace_id = ?`, workspaceID,
		).Scan(&last); err != nil {
			return err
		}
		if last.Valid {
			lastTime, err := parseTime(last.String)
			if err != nil {
				return err
			}
			if !evt.Timestamp.After(lastTime) {
				evt.Timestamp = lastTime.Add(time.Microsecond)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, workspace_id, timestamp, type, subject_id, payload)
			VALUES (?, ?, ?, ?, ?, ?)`,
			evt.ID, evt.WorkspaceID, formatTime(evt.Timestamp), string(evt.Type),
			evt.SubjectID, string(data))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return evt, nil
}

// ListRecentEvents returns the newest events up to limit, newest first.
func (s *Store) ListRecentEvents(ctx context.Context, workspaceID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		eventSelect+` WHERE workspace_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		workspaceID, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ListEventsAfter returns events strictly newer than cursor (an event ID, or
// empty for the beginning), oldest first. This is the Tail primitive.
func (s *Store) ListEventsAfter(ctx context.Context, workspaceID, cursor string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 200
	}
	query := eventSelect + ` WHERE workspace_id = ?`
	args := []any{workspaceID}
	if cursor != "" {
		var ts string
		err := s.db.QueryRowContext(ctx,
			`SELECT timestamp FROM events WHERE id = ?`, cursor).Scan(&ts)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: event cursor %s", ErrNotFound, cursor)
		}
		if err != nil {
			return nil, err
		}
		query += ` AND timestamp > ?`
		args = append(args, ts)
	}
	query += ` ORDER BY timestamp, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// TruncateEventsAfter deletes events newer than cursor. Used only by
// checkpoint restore, the single exception to append-only.
func (s *Store) TruncateEventsAfter(ctx context.Context, workspaceID, cursor string) (int64, error) {
	var deleted int64
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		var ts string
		err := tx.QueryRowContext(ctx,
			`SELECT timestamp FROM events WHERE id = ?`, cursor).Scan(&ts)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: event cursor %s", ErrNotFound, cursor)
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE workspace_id = ? AND timestamp > ?`, workspaceID, ts)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// LatestEventID returns the ID of the newest event, or empty if none exist.
func (s *Store) LatestEventID(ctx context.Context, workspaceID string) (string, error) {
	var eventID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM events WHERE workspace_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`, workspaceID).Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return eventID, err
}

const eventSelect = `SELECT id, workspace_id, timestamp, type, subject_id, payload FROM events`

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		var evt Event
		var ts, typ, payload string
		if err := rows.Scan(&evt.ID, &evt.WorkspaceID, &ts, &typ, &evt.SubjectID, &payload); err != nil {
			return nil, err
		}
		evt.Type = EventType(typ)
		var err error
		if evt.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			return nil, err
		}
		out = append(out, &evt)
	}
	return out, rows.Err()
}
