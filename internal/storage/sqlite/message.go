package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	gateway "github.com/eugener/smaug/internal"
)

// ListMessages returns all messages of a dialog in chronological order.
// UUIDv7 ids break ties between rows created within the same second.
func (s *Store) ListMessages(ctx context.Context, dialogID uuid.UUID) ([]*gateway.Message, error) {
	rows, err := s.read.QueryContext(ctx,
		messageSelect+` WHERE dialog_id=? ORDER BY created_at, id`, dialogID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

const messageSelect = `SELECT id, dialog_id, role, content, prompt_tokens, completion_tokens, created_at
	 FROM messages`

func collectMessages(rows *sql.Rows) ([]*gateway.Message, error) {
	var msgs []*gateway.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(s scanner) (*gateway.Message, error) {
	var m gateway.Message
	var id, dialogID string
	var promptTokens, completionTokens sql.NullInt64
	var createdAt sql.NullString

	err := s.Scan(&id, &dialogID, &m.Role, &m.Content, &promptTokens, &completionTokens, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	if m.DialogID, err = uuid.Parse(dialogID); err != nil {
		return nil, fmt.Errorf("parse message dialog id: %w", err)
	}
	if promptTokens.Valid {
		n := int(promptTokens.Int64)
		m.PromptTokens = &n
	}
	if completionTokens.Valid {
		n := int(completionTokens.Int64)
		m.CompletionTokens = &n
	}
	if t := parseTime(createdAt); t != nil {
		m.CreatedAt = *t
	}
	return &m, nil
}
