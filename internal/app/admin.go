package app

import (
	"context"
	"log/slog"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/events"
	"github.com/eugener/smaug/internal/ledger"
	"github.com/eugener/smaug/internal/storage"
)

// Admin action labels recorded in the audit log.
const (
	ActionSetLimit = "set_limit"
	ActionTopUp    = "top_up"
	ActionDeduct   = "deduct"
)

// AdminService exposes ledger mutations and cross-user inspection. The
// admin-claim check happens in the router; every mutation here writes an
// audit row and emits admin_action.
type AdminService struct {
	store  storage.Store
	ledger *ledger.Service
	bus    *events.Bus
	logger *slog.Logger
}

// NewAdminService builds an AdminService.
func NewAdminService(store storage.Store, lg *ledger.Service, bus *events.Bus, logger *slog.Logger) *AdminService {
	return &AdminService{store: store, ledger: lg, bus: bus, logger: logger}
}

// ListUsers pages per-user aggregates.
func (s *AdminService) ListUsers(ctx context.Context, offset, limit int) ([]*gateway.UserSummary, int, error) {
	return s.store.ListUserSummaries(ctx, offset, limit)
}

// GetUser returns one user's aggregate view.
func (s *AdminService) GetUser(ctx context.Context, userID int64) (*gateway.UserDetails, error) {
	return s.store.GetUserDetails(ctx, userID)
}

// SetLimit writes the target user's token limit; nil clears it. The balance
// row is created if the user is new to the ledger.
func (s *AdminService) SetLimit(ctx context.Context, adminID, userID int64, limit *int64) error {
	if err := s.ledger.SetLimit(ctx, userID, limit); err != nil {
		return err
	}
	details := map[string]any{"limit": nil}
	if limit != nil {
		details["limit"] = *limit
	}
	s.record(ctx, adminID, userID, ActionSetLimit, details)
	return nil
}

// Adjust applies a signed balance change: positive tops up, negative deducts.
// Returns the new balance and the appended transaction.
func (s *AdminService) Adjust(ctx context.Context, adminID, userID, amount int64) (int64, *gateway.TokenTransaction, error) {
	balance, txn, err := s.ledger.Credit(ctx, userID, amount, adminID)
	if err != nil {
		return 0, nil, err
	}
	action := ActionTopUp
	if amount < 0 {
		action = ActionDeduct
	}
	s.record(ctx, adminID, userID, action, map[string]any{
		"amount":  amount,
		"balance": balance,
	})
	return balance, txn, nil
}

// History pages the target user's ledger, newest first.
func (s *AdminService) History(ctx context.Context, userID int64, offset, limit int) ([]*gateway.TokenTransaction, error) {
	return s.ledger.History(ctx, userID, offset, limit)
}

// record writes the audit row and emits admin_action. Audit failures are
// logged, not propagated: the ledger mutation already committed.
func (s *AdminService) record(ctx context.Context, adminID, userID int64, action string, details map[string]any) {
	if err := s.store.InsertAuditLog(ctx, &gateway.AuditLog{
		AdminID:      adminID,
		TargetUserID: userID,
		Action:       action,
		Details:      details,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit log write failed",
			"action", action, "admin_id", adminID, "user_id", userID, "error", err)
	}
	s.bus.Publish(ctx, events.Event{
		Type: events.TypeAdminAction,
		Fields: map[string]any{
			"admin_id": adminID,
			"user_id":  userID,
			"action":   action,
			"details":  details,
		},
	})
}
