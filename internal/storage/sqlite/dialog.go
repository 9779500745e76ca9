package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/smaug/internal"
)

// CreateDialog inserts a new dialog.
func (s *Store) CreateDialog(ctx context.Context, d *gateway.Dialog) error {
	config, err := marshalJSON(configOrNil(d.Config))
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO dialogs (id, user_id, title, system_prompt, model, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.UserID, d.Title, d.SystemPrompt, d.Model, config,
		fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt),
	)
	return err
}

// GetDialog retrieves a dialog by ID.
func (s *Store) GetDialog(ctx context.Context, id uuid.UUID) (*gateway.Dialog, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, title, system_prompt, model, config, created_at, updated_at
		 FROM dialogs WHERE id=?`, id.String(),
	)
	return scanDialog(row)
}

// ListDialogs returns one page of a user's dialogs, newest first, plus the
// total count for pagination.
func (s *Store) ListDialogs(ctx context.Context, userID int64, offset, limit int) ([]*gateway.Dialog, int, error) {
	var total int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dialogs WHERE user_id=?`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, title, system_prompt, model, config, created_at, updated_at
		 FROM dialogs WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var dialogs []*gateway.Dialog
	for rows.Next() {
		d, err := scanDialog(rows)
		if err != nil {
			return nil, 0, err
		}
		dialogs = append(dialogs, d)
	}
	return dialogs, total, rows.Err()
}

// UpdateDialog updates the mutable dialog fields.
func (s *Store) UpdateDialog(ctx context.Context, d *gateway.Dialog) error {
	config, err := marshalJSON(configOrNil(d.Config))
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE dialogs SET title=?, system_prompt=?, model=?, config=?, updated_at=?
		 WHERE id=?`,
		d.Title, d.SystemPrompt, d.Model, config, fmtTime(time.Now()), d.ID.String(),
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "dialog")
}

// DeleteDialog removes a dialog. Messages cascade; ledger rows keep their
// amounts and null out the dialog reference.
func (s *Store) DeleteDialog(ctx context.Context, id uuid.UUID) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM dialogs WHERE id=?`, id.String())
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "dialog")
}

// configOrNil keeps marshalJSON from serializing a typed nil pointer.
func configOrNil(c *gateway.AgentConfig) any {
	if c == nil {
		return nil
	}
	return c
}

func scanDialog(s scanner) (*gateway.Dialog, error) {
	var d gateway.Dialog
	var id string
	var configJSON sql.NullString
	var createdAt, updatedAt sql.NullString

	err := s.Scan(&id, &d.UserID, &d.Title, &d.SystemPrompt, &d.Model, &configJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	d.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse dialog id: %w", err)
	}
	if configJSON.Valid {
		var c gateway.AgentConfig
		if err := json.Unmarshal([]byte(configJSON.String), &c); err != nil {
			return nil, fmt.Errorf("unmarshal dialog config: %w", err)
		}
		d.Config = &c
	}
	if t := parseTime(createdAt); t != nil {
		d.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		d.UpdatedAt = *t
	}
	return &d, nil
}
