package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LogEntry records one inbound message and the reply sent back.
// TemplateID is nil when the fallback response was used, or after the
// referenced template was deleted.
type LogEntry struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	IncomingMessage string    `json:"incoming_message"`
	ResponseMessage string    `json:"response_message"`
	TemplateID      *int64    `json:"template_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// AppendLog records an exchange. The insert is a single statement: the
// entry is either fully written or not at all, and each pipeline
// invocation produces exactly one entry. ID and CreatedAt are filled in
// on the passed entry.
func (s *Store) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry.UserID == "" {
		return fmt.Errorf("%w: user_id must not be empty", ErrValidation)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO message_logs (user_id, incoming_message, response_message, template_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.UserID, entry.IncomingMessage, entry.ResponseMessage,
		nullableID(entry.TemplateID), now)
	if err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading log id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

// ListLogs returns one page of log entries, newest first. Page numbers
// start at 1.
func (s *Store) ListLogs(ctx context.Context, page, limit int) ([]*LogEntry, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, incoming_message, response_message, template_id, created_at
		FROM message_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

// CountLogs returns the total number of recorded exchanges.
func (s *Store) CountLogs(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM message_logs").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting logs: %w", err)
	}
	return n, nil
}

// CountRespondedLogs returns the number of exchanges answered from a
// template (non-null template_id).
func (s *Store) CountRespondedLogs(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM message_logs WHERE template_id IS NOT NULL").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting responded logs: %w", err)
	}
	return n, nil
}

// RecentLogs returns the n most recent entries, newest first.
func (s *Store) RecentLogs(ctx context.Context, n int) ([]*LogEntry, error) {
	if n < 1 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, incoming_message, response_message, template_id, created_at
		FROM message_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("listing recent logs: %w", err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

// RecentLogsSince returns up to n entries created at or after the given
// time, newest first.
func (s *Store) RecentLogsSince(ctx context.Context, since time.Time, n int) ([]*LogEntry, error) {
	if n < 1 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, incoming_message, response_message, template_id, created_at
		FROM message_logs
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, since.UTC(), n)
	if err != nil {
		return nil, fmt.Errorf("listing logs since %s: %w", since, err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

func collectLogs(rows *sql.Rows) ([]*LogEntry, error) {
	entries := make([]*LogEntry, 0)
	for rows.Next() {
		var e LogEntry
		var tmplID sql.NullInt64
		err := rows.Scan(&e.ID, &e.UserID, &e.IncomingMessage,
			&e.ResponseMessage, &tmplID, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		if tmplID.Valid {
			id := tmplID.Int64
			e.TemplateID = &id
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
