// Package app implements the gateway's use cases: dialog lifecycle, the chat
// turn pipeline, and administrative operations. Handlers stay thin; ownership
// checks and the atomicity contract live here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/models"
	"github.com/eugener/smaug/internal/storage"
)

// DialogService owns dialog CRUD with ownership enforcement.
type DialogService struct {
	store        storage.Store
	models       *models.Registry
	defaultModel string
}

// NewDialogService builds a DialogService.
func NewDialogService(store storage.Store, registry *models.Registry) *DialogService {
	return &DialogService{store: store, models: registry}
}

// WithDefaultModel sets the model used when dialog creation omits one.
func (s *DialogService) WithDefaultModel(name string) *DialogService {
	s.defaultModel = name
	return s
}

// CreateDialogParams are the caller-supplied dialog attributes.
type CreateDialogParams struct {
	Title        string
	SystemPrompt string
	Model        string
	Config       *gateway.AgentConfig
}

// Create validates the model and config and persists a new dialog owned by
// the caller.
func (s *DialogService) Create(ctx context.Context, userID int64, p CreateDialogParams) (*gateway.Dialog, error) {
	if p.Model == "" {
		p.Model = s.defaultModel
	}
	if p.Model == "" {
		return nil, fmt.Errorf("%w: model is required", gateway.ErrValidation)
	}
	if err := s.models.ValidateModel(p.Model); err != nil {
		return nil, err
	}
	if err := p.Config.Validate(s.contextWindow(p.Model)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &gateway.Dialog{
		ID:           uuid.Must(uuid.NewV7()),
		UserID:       userID,
		Title:        p.Title,
		SystemPrompt: p.SystemPrompt,
		Model:        p.Model,
		Config:       p.Config,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateDialog(ctx, d); err != nil {
		return nil, fmt.Errorf("create dialog: %w", err)
	}
	return d, nil
}

// Get fetches one dialog, enforcing ownership. Admins see any dialog.
func (s *DialogService) Get(ctx context.Context, id uuid.UUID, caller *gateway.Identity) (*gateway.Dialog, error) {
	d, err := s.store.GetDialog(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.AccessibleBy(caller.UserID, caller.IsAdmin) {
		return nil, gateway.ErrForbidden
	}
	return d, nil
}

// List pages the caller's own dialogs, newest first.
func (s *DialogService) List(ctx context.Context, userID int64, offset, limit int) ([]*gateway.Dialog, int, error) {
	return s.store.ListDialogs(ctx, userID, offset, limit)
}

// UpdateDialogParams are the mutable dialog attributes. Nil fields are left
// unchanged.
type UpdateDialogParams struct {
	Title  *string
	Config *gateway.AgentConfig
}

// Update mutates title and config on an owned dialog.
func (s *DialogService) Update(ctx context.Context, id uuid.UUID, caller *gateway.Identity, p UpdateDialogParams) (*gateway.Dialog, error) {
	d, err := s.Get(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Config != nil {
		if err := p.Config.Validate(s.contextWindow(d.Model)); err != nil {
			return nil, err
		}
		d.Config = p.Config
	}
	if err := s.store.UpdateDialog(ctx, d); err != nil {
		return nil, fmt.Errorf("update dialog: %w", err)
	}
	return s.store.GetDialog(ctx, id)
}

// Delete removes an owned dialog; messages cascade.
func (s *DialogService) Delete(ctx context.Context, id uuid.UUID, caller *gateway.Identity) error {
	if _, err := s.Get(ctx, id, caller); err != nil {
		return err
	}
	return s.store.DeleteDialog(ctx, id)
}

// Messages returns the dialog history in chronological order, enforcing
// ownership.
func (s *DialogService) Messages(ctx context.Context, id uuid.UUID, caller *gateway.Identity) ([]*gateway.Message, error) {
	if _, err := s.Get(ctx, id, caller); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id)
}

func (s *DialogService) contextWindow(model string) int {
	if m := s.models.Get(model); m != nil {
		return m.ContextWindow
	}
	return 0
}
