// Package ledger wraps the balance store with admission checks, administrative
// mutations, and domain event emission. The store owns atomicity; this layer
// owns policy and events.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/events"
	"github.com/eugener/smaug/internal/storage"
)

// Service is the token-economy front door.
type Service struct {
	store  storage.LedgerStore
	bus    *events.Bus
	logger *slog.Logger
}

// NewService builds a ledger service.
func NewService(store storage.LedgerStore, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger}
}

// Balance returns the user's current balance row.
func (s *Service) Balance(ctx context.Context, userID int64) (*gateway.TokenBalance, error) {
	return s.store.GetBalance(ctx, userID)
}

// CheckBalance is the pre-flight admission check: does the balance cover the
// estimate? A false answer emits balance_exhausted.
func (s *Service) CheckBalance(ctx context.Context, userID, estimated int64) (bool, error) {
	b, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check balance: %w", err)
	}
	if b.Balance >= estimated {
		return true, nil
	}
	s.bus.Publish(ctx, events.Event{
		Type: events.TypeBalanceExhausted,
		Fields: map[string]any{
			"user_id":   userID,
			"balance":   b.Balance,
			"estimated": estimated,
		},
	})
	return false, nil
}

// Credit applies a signed administrative adjustment. Positive amounts are
// top-ups, negative amounts deducts; the reason tag is derived from the sign.
// Zero is rejected.
func (s *Service) Credit(ctx context.Context, userID, amount, adminID int64) (int64, *gateway.TokenTransaction, error) {
	if amount == 0 {
		return 0, nil, fmt.Errorf("%w: amount must be non-zero", gateway.ErrValidation)
	}
	reason := gateway.ReasonAdminTopUp
	if amount < 0 {
		reason = gateway.ReasonAdminDeduct
	}
	balance, txn, err := s.store.Credit(ctx, userID, amount, adminID, reason)
	if err != nil {
		return 0, nil, fmt.Errorf("credit: %w", err)
	}
	s.logger.InfoContext(ctx, "balance adjusted",
		"user_id", userID, "amount", amount, "admin_id", adminID, "balance", balance)
	if balance < 0 {
		s.bus.Publish(ctx, events.Event{
			Type:   events.TypeBalanceExhausted,
			Fields: map[string]any{"user_id": userID, "balance": balance},
		})
	}
	return balance, txn, nil
}

// SetLimit writes the per-user limit; nil clears it.
func (s *Service) SetLimit(ctx context.Context, userID int64, limit *int64) error {
	if limit != nil && *limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative", gateway.ErrValidation)
	}
	if err := s.store.SetLimit(ctx, userID, limit); err != nil {
		return fmt.Errorf("set limit: %w", err)
	}
	return nil
}

// TotalUsed sums the user's lifetime debits.
func (s *Service) TotalUsed(ctx context.Context, userID int64) (int64, error) {
	return s.store.TotalUsed(ctx, userID)
}

// History pages the user's ledger, newest first.
func (s *Service) History(ctx context.Context, userID int64, offset, limit int) ([]*gateway.TokenTransaction, error) {
	return s.store.History(ctx, userID, offset, limit)
}
