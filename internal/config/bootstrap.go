// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/storage"
)

// bootstrapKey records the last successful bootstrap in system_configs.
const bootstrapKey = "bootstrap_completed_at"

// Bootstrap seeds the model catalog from the config file. Models already in
// the database are left alone: the catalog is mutated out-of-band after first
// run, and a restart must not clobber those edits.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	existing, err := store.ListModels(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		known[m.Name] = struct{}{}
	}

	for _, m := range cfg.Models {
		if _, ok := known[m.Name]; ok {
			continue
		}
		if err := store.UpsertModel(ctx, gateway.Model{
			Name:            m.Name,
			Provider:        m.Provider,
			PromptPrice:     m.PromptPrice,
			CompletionPrice: m.CompletionPrice,
			ContextWindow:   m.ContextWindow,
			Enabled:         m.IsEnabled(),
		}); err != nil {
			return err
		}
		slog.Info("bootstrapped model", "name", m.Name, "provider", m.Provider)
	}

	return store.SetConfig(ctx, bootstrapKey, time.Now().UTC().Format(time.RFC3339))
}

// LastBootstrap returns the timestamp of the most recent bootstrap, or zero
// time when the database has never been seeded.
func LastBootstrap(ctx context.Context, store storage.Store) (time.Time, error) {
	v, err := store.GetConfig(ctx, bootstrapKey)
	if errors.Is(err, gateway.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}
