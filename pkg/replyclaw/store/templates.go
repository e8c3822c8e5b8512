package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Field size limits, matching the table column contracts.
const (
	MaxTriggerLen  = 500
	MaxResponseLen = 1000
)

// Template is a trigger/response rule used to auto-answer inbound messages.
type Template struct {
	ID           int64      `json:"id"`
	TriggerText  string     `json:"trigger_text"`
	ResponseText string     `json:"response_text"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// TemplatePatch is a partial update: only non-nil fields are applied.
type TemplatePatch struct {
	TriggerText  *string `json:"trigger_text"`
	ResponseText *string `json:"response_text"`
	IsActive     *bool   `json:"is_active"`
}

// normalizeTrigger lowercases a trigger for matching. Folding happens in
// Go, not SQL: SQLite's lower() only folds ASCII, which would miss
// non-Latin triggers.
func normalizeTrigger(text string) string {
	return strings.ToLower(text)
}

func validateTrigger(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: trigger_text must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(text) > MaxTriggerLen {
		return fmt.Errorf("%w: trigger_text exceeds %d characters", ErrValidation, MaxTriggerLen)
	}
	return nil
}

func validateResponse(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: response_text must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(text) > MaxResponseLen {
		return fmt.Errorf("%w: response_text exceeds %d characters", ErrValidation, MaxResponseLen)
	}
	return nil
}

// CreateTemplate inserts a new template. UpdatedAt stays null until the
// first mutation.
func (s *Store) CreateTemplate(ctx context.Context, trigger, response string, active bool) (*Template, error) {
	if err := validateTrigger(trigger); err != nil {
		return nil, err
	}
	if err := validateResponse(response); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO message_templates (trigger_text, trigger_norm, response_text, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		trigger, normalizeTrigger(trigger), response, active, now)
	if err != nil {
		return nil, fmt.Errorf("inserting template: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading template id: %w", err)
	}

	return &Template{
		ID:           id,
		TriggerText:  trigger,
		ResponseText: response,
		IsActive:     active,
		CreatedAt:    now,
	}, nil
}

// GetTemplate returns a single template or ErrNotFound.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_text, response_text, is_active, created_at, updated_at
		FROM message_templates WHERE id = ?`, id)
	return scanTemplate(row)
}

// ListTemplates returns all templates (active and inactive) ordered by id.
func (s *Store) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_text, response_text, is_active, created_at, updated_at
		FROM message_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	templates := make([]*Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpdateTemplate applies a partial update. Only the supplied patch fields
// change; updated_at is refreshed on every call. Returns ErrNotFound for an
// unknown id.
func (s *Store) UpdateTemplate(ctx context.Context, id int64, patch TemplatePatch) (*Template, error) {
	set := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if patch.TriggerText != nil {
		if err := validateTrigger(*patch.TriggerText); err != nil {
			return nil, err
		}
		set = append(set, "trigger_text = ?", "trigger_norm = ?")
		args = append(args, *patch.TriggerText, normalizeTrigger(*patch.TriggerText))
	}
	if patch.ResponseText != nil {
		if err := validateResponse(*patch.ResponseText); err != nil {
			return nil, err
		}
		set = append(set, "response_text = ?")
		args = append(args, *patch.ResponseText)
	}
	if patch.IsActive != nil {
		set = append(set, "is_active = ?")
		args = append(args, *patch.IsActive)
	}

	set = append(set, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE message_templates SET "+strings.Join(set, ", ")+" WHERE id = ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("updating template %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading update result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}

	return s.GetTemplate(ctx, id)
}

// DeleteTemplate removes a template. Log entries referencing it keep their
// exchange record; the foreign key clears template_id (ON DELETE SET NULL).
func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM message_templates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting template %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return nil
}

// FindActiveMatch returns the active template whose trigger equals text
// case-insensitively, or nil when nothing matches. Both sides fold through
// normalizeTrigger, so non-ASCII triggers match too. When several active
// templates share the same normalized trigger the lowest id wins; trigger
// uniqueness is not enforced by the schema, so the ordering here is the
// tie-break.
//
// The lookup is a single SELECT, so it always observes a committed
// snapshot even while the gateway mutates templates concurrently.
func (s *Store) FindActiveMatch(ctx context.Context, text string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_text, response_text, is_active, created_at, updated_at
		FROM message_templates
		WHERE is_active = 1 AND trigger_norm = ?
		ORDER BY id
		LIMIT 1`, normalizeTrigger(text))

	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// CountActiveTemplates returns the number of templates with is_active set.
func (s *Store) CountActiveTemplates(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM message_templates WHERE is_active = 1").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active templates: %w", err)
	}
	return n, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanTemplate.
type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (*Template, error) {
	var t Template
	var updated sql.NullTime
	err := row.Scan(&t.ID, &t.TriggerText, &t.ResponseText, &t.IsActive,
		&t.CreatedAt, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("template: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scanning template: %w", err)
	}
	if updated.Valid {
		u := updated.Time
		t.UpdatedAt = &u
	}
	return &t, nil
}
