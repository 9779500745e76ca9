package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/smaug/internal"
)

// GetBalance reads the balance row for a user. Users without a row yet get a
// synthesized zero balance; the row itself is created lazily on first credit.
func (s *Store) GetBalance(ctx context.Context, userID int64) (*gateway.TokenBalance, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT user_id, balance, token_limit, updated_at FROM token_balances WHERE user_id=?`,
		userID,
	)
	b, err := scanBalance(row)
	if err == nil {
		return b, nil
	}
	if err == gateway.ErrNotFound {
		return &gateway.TokenBalance{UserID: userID, UpdatedAt: time.Now().UTC()}, nil
	}
	return nil, err
}

// Credit applies a signed amount to the balance and appends a ledger entry
// with the given reason, atomically. Negative amounts (administrative deducts)
// may push the balance below zero.
func (s *Store) Credit(ctx context.Context, userID, amount, adminID int64, reason string) (int64, *gateway.TokenTransaction, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO token_balances (user_id, balance, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
		userID, amount, fmtTime(now),
	)
	if err != nil {
		return 0, nil, err
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM token_balances WHERE user_id=?`, userID,
	).Scan(&balance)
	if err != nil {
		return 0, nil, err
	}

	t := &gateway.TokenTransaction{
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		AdminID:   &adminID,
		CreatedAt: now,
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO token_transactions (user_id, amount, reason, admin_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, amount, reason, adminID, fmtTime(now),
	)
	if err != nil {
		return 0, nil, err
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return balance, t, nil
}

// SetLimit writes the per-user token limit; nil clears it.
func (s *Store) SetLimit(ctx context.Context, userID int64, limit *int64) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO token_balances (user_id, balance, token_limit, updated_at) VALUES (?, 0, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET token_limit = excluded.token_limit, updated_at = excluded.updated_at`,
		userID, nullInt(limit), fmtTime(time.Now()),
	)
	return err
}

// TotalUsed sums the absolute value of the user's debit transactions.
func (s *Store) TotalUsed(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(-amount), 0) FROM token_transactions WHERE user_id=? AND amount < 0`,
		userID,
	).Scan(&total)
	return total, err
}

// History returns one page of the user's ledger, newest first.
func (s *Store) History(ctx context.Context, userID int64, offset, limit int) ([]*gateway.TokenTransaction, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, amount, reason, dialog_id, message_id, admin_id, created_at
		 FROM token_transactions WHERE user_id=? ORDER BY id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.TokenTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanBalance(s scanner) (*gateway.TokenBalance, error) {
	var b gateway.TokenBalance
	var limit sql.NullInt64
	var updatedAt sql.NullString

	if err := s.Scan(&b.UserID, &b.Balance, &limit, &updatedAt); err != nil {
		return nil, notFoundErr(err)
	}
	b.Limit = intPtr(limit)
	if t := parseTime(updatedAt); t != nil {
		b.UpdatedAt = *t
	}
	return &b, nil
}

func scanTransaction(s scanner) (*gateway.TokenTransaction, error) {
	var t gateway.TokenTransaction
	var dialogID, messageID sql.NullString
	var adminID sql.NullInt64
	var createdAt sql.NullString

	err := s.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &dialogID, &messageID, &adminID, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	if dialogID.Valid {
		id, err := uuid.Parse(dialogID.String)
		if err != nil {
			return nil, fmt.Errorf("parse transaction dialog id: %w", err)
		}
		t.DialogID = &id
	}
	if messageID.Valid {
		id, err := uuid.Parse(messageID.String)
		if err != nil {
			return nil, fmt.Errorf("parse transaction message id: %w", err)
		}
		t.MessageID = &id
	}
	t.AdminID = intPtr(adminID)
	if ts := parseTime(createdAt); ts != nil {
		t.CreatedAt = *ts
	}
	return &t, nil
}
