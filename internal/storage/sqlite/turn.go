package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/storage"
)

// turnTx is the single write transaction a chat turn runs on.
type turnTx struct {
	tx *sql.Tx
}

// BeginTurn opens the turn transaction on the write connection. Because the
// write pool holds one connection, concurrent turns queue here instead of
// hitting SQLITE_BUSY.
func (s *Store) BeginTurn(ctx context.Context) (storage.TurnTx, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &turnTx{tx: tx}, nil
}

// InsertMessage writes one message row inside the turn.
func (t *turnTx) InsertMessage(ctx context.Context, m *gateway.Message) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO messages (id, dialog_id, role, content, prompt_tokens, completion_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.DialogID.String(), m.Role, m.Content,
		nullIntFromPtr(m.PromptTokens), nullIntFromPtr(m.CompletionTokens),
		fmtTime(m.CreatedAt),
	)
	return err
}

// Messages reads the dialog history inside the transaction, so rows inserted
// earlier in the same turn are visible.
func (t *turnTx) Messages(ctx context.Context, dialogID uuid.UUID) ([]*gateway.Message, error) {
	rows, err := t.tx.QueryContext(ctx,
		messageSelect+` WHERE dialog_id=? ORDER BY created_at, id`, dialogID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// Debit subtracts amount from the user's balance and appends an llm_usage
// ledger entry referencing the assistant message. The conditional UPDATE is
// what enforces the balance floor: zero rows affected means the balance
// cannot cover the amount.
func (t *turnTx) Debit(ctx context.Context, userID, amount int64, dialogID, messageID uuid.UUID) (int64, *gateway.TokenTransaction, error) {
	if amount <= 0 {
		return 0, nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	now := time.Now().UTC()

	res, err := t.tx.ExecContext(ctx,
		`UPDATE token_balances SET balance = balance - ?, updated_at = ?
		 WHERE user_id = ? AND balance >= ?`,
		amount, fmtTime(now), userID, amount,
	)
	if err != nil {
		return 0, nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, gateway.ErrInsufficientTokens
	}

	var balance int64
	err = t.tx.QueryRowContext(ctx,
		`SELECT balance FROM token_balances WHERE user_id=?`, userID,
	).Scan(&balance)
	if err != nil {
		return 0, nil, err
	}

	txn := &gateway.TokenTransaction{
		UserID:    userID,
		Amount:    -amount,
		Reason:    gateway.ReasonLLMUsage,
		DialogID:  &dialogID,
		MessageID: &messageID,
		CreatedAt: now,
	}
	ins, err := t.tx.ExecContext(ctx,
		`INSERT INTO token_transactions (user_id, amount, reason, dialog_id, message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, -amount, gateway.ReasonLLMUsage, dialogID.String(), messageID.String(), fmtTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, nil, fmt.Errorf("message %s already charged: %w", messageID, err)
		}
		return 0, nil, err
	}
	if txn.ID, err = ins.LastInsertId(); err != nil {
		return 0, nil, err
	}
	return balance, txn, nil
}

// Commit commits the turn.
func (t *turnTx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the turn. It is a no-op after Commit, so callers defer it.
func (t *turnTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func nullIntFromPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
