package app

import (
	"context"
	"errors"
	"testing"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/models"
	"github.com/eugener/smaug/internal/storage/sqlite"
)

func newDialogService(t *testing.T) (*DialogService, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	registry := models.NewRegistry([]gateway.Model{
		{Name: "gpt-3.5-turbo", Provider: "openai", ContextWindow: 16385, Enabled: true},
		{Name: "legacy", Provider: "openai", Enabled: false},
	})
	return NewDialogService(store, registry), store
}

func TestDialogLifecycle(t *testing.T) {
	t.Parallel()
	svc, _ := newDialogService(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, 1, CreateDialogParams{Title: "chat", Model: "gpt-3.5-turbo"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(ctx, d.ID, user(1))
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "chat" {
		t.Errorf("dialog = %+v", got)
	}

	newTitle := "renamed"
	temp := 0.3
	got, err = svc.Update(ctx, d.ID, user(1), UpdateDialogParams{
		Title:  &newTitle,
		Config: &gateway.AgentConfig{Temperature: &temp},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "renamed" || got.Config == nil || *got.Config.Temperature != 0.3 {
		t.Errorf("updated dialog = %+v", got)
	}

	if err := svc.Delete(ctx, d.ID, user(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, d.ID, user(1)); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("get after delete: %v", err)
	}
}

func TestDialogCreateValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newDialogService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateDialogParams
	}{
		{"missing model", CreateDialogParams{}},
		{"unknown model", CreateDialogParams{Model: "nope"}},
		{"disabled model", CreateDialogParams{Model: "legacy"}},
		{"max_tokens over window", CreateDialogParams{
			Model:  "gpt-3.5-turbo",
			Config: &gateway.AgentConfig{MaxTokens: intp(20000)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, 1, tt.params); !errors.Is(err, gateway.ErrValidation) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestDialogDefaultModel(t *testing.T) {
	t.Parallel()
	svc, _ := newDialogService(t)
	svc.WithDefaultModel("gpt-3.5-turbo")
	ctx := context.Background()

	d, err := svc.Create(ctx, 1, CreateDialogParams{Title: "chat"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Model != "gpt-3.5-turbo" {
		t.Errorf("model = %q", d.Model)
	}
}

func TestDialogOwnership(t *testing.T) {
	t.Parallel()
	svc, _ := newDialogService(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, 1, CreateDialogParams{Model: "gpt-3.5-turbo"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Get(ctx, d.ID, user(2)); !errors.Is(err, gateway.ErrForbidden) {
		t.Errorf("cross-user get: %v", err)
	}
	if _, err := svc.Messages(ctx, d.ID, user(2)); !errors.Is(err, gateway.ErrForbidden) {
		t.Errorf("cross-user messages: %v", err)
	}
	if err := svc.Delete(ctx, d.ID, user(2)); !errors.Is(err, gateway.ErrForbidden) {
		t.Errorf("cross-user delete: %v", err)
	}
	if _, err := svc.Get(ctx, d.ID, admin(9)); err != nil {
		t.Errorf("admin get: %v", err)
	}

	// listing is scoped to the caller
	own, total, err := svc.List(ctx, 2, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(own) != 0 {
		t.Errorf("foreign dialogs leaked: total=%d", total)
	}
}

func intp(v int) *int { return &v }
