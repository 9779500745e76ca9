// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	"github.com/google/uuid"

	gateway "github.com/eugener/smaug/internal"
)

// DialogStore manages dialog persistence.
type DialogStore interface {
	CreateDialog(ctx context.Context, d *gateway.Dialog) error
	// GetDialog returns gateway.ErrNotFound for unknown ids.
	GetDialog(ctx context.Context, id uuid.UUID) (*gateway.Dialog, error)
	// ListDialogs returns one page of the user's dialogs, newest first,
	// plus the total count for pagination.
	ListDialogs(ctx context.Context, userID int64, offset, limit int) ([]*gateway.Dialog, int, error)
	UpdateDialog(ctx context.Context, d *gateway.Dialog) error
	// DeleteDialog cascades messages and nulls transaction references.
	DeleteDialog(ctx context.Context, id uuid.UUID) error
}

// MessageStore reads dialog history.
type MessageStore interface {
	// ListMessages returns all messages of a dialog in created-at order.
	ListMessages(ctx context.Context, dialogID uuid.UUID) ([]*gateway.Message, error)
}

// LedgerStore manages balances and the append-only transaction log. Every
// mutation commits the balance update and the transaction insert atomically.
type LedgerStore interface {
	// GetBalance reads the balance row, synthesizing a zero balance for users
	// without one yet.
	GetBalance(ctx context.Context, userID int64) (*gateway.TokenBalance, error)
	// Credit applies a signed amount (negative = administrative deduct) and
	// appends a transaction with the given reason. Returns the new balance.
	Credit(ctx context.Context, userID, amount int64, adminID int64, reason string) (int64, *gateway.TokenTransaction, error)
	// SetLimit writes the per-user limit; nil clears it (unlimited).
	SetLimit(ctx context.Context, userID int64, limit *int64) error
	// TotalUsed sums |amount| over the user's negative-amount transactions.
	TotalUsed(ctx context.Context, userID int64) (int64, error)
	// History pages the user's transactions in descending created-at order.
	History(ctx context.Context, userID int64, offset, limit int) ([]*gateway.TokenTransaction, error)
}

// ModelStore manages the persistent model catalog.
type ModelStore interface {
	ListModels(ctx context.Context) ([]gateway.Model, error)
	UpsertModel(ctx context.Context, m gateway.Model) error
}

// AuditStore appends admin-action records.
type AuditStore interface {
	InsertAuditLog(ctx context.Context, l *gateway.AuditLog) error
}

// AdminStore serves cross-user aggregates for the admin API.
type AdminStore interface {
	ListUserSummaries(ctx context.Context, offset, limit int) ([]*gateway.UserSummary, int, error)
	// GetUserDetails returns gateway.ErrNotFound when the user has neither a
	// balance row nor any dialog.
	GetUserDetails(ctx context.Context, userID int64) (*gateway.UserDetails, error)
}

// ConfigStore is a small key/value bag for operational settings.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// TurnTx is the single write transaction a chat turn runs on. The user
// message, the assistant message, and the debit all commit together; any
// failure rolls the whole turn back.
type TurnTx interface {
	InsertMessage(ctx context.Context, m *gateway.Message) error
	// Messages reads the dialog history inside the transaction, so the
	// just-inserted user turn is visible.
	Messages(ctx context.Context, dialogID uuid.UUID) ([]*gateway.Message, error)
	// Debit subtracts amount from the user's balance and appends an
	// llm_usage transaction referencing the assistant message. Returns
	// gateway.ErrInsufficientTokens when the balance cannot cover amount.
	Debit(ctx context.Context, userID, amount int64, dialogID, messageID uuid.UUID) (int64, *gateway.TokenTransaction, error)
	Commit() error
	// Rollback is a no-op after Commit, so it is safe to defer.
	Rollback() error
}

// Store combines all storage interfaces.
type Store interface {
	DialogStore
	MessageStore
	LedgerStore
	ModelStore
	AuditStore
	AdminStore
	ConfigStore
	// BeginTurn opens the turn transaction on the write connection.
	BeginTurn(ctx context.Context) (TurnTx, error)
	Ping(ctx context.Context) error
	Close() error
}
