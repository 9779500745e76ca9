package sqlite

import (
	"context"

	gateway "github.com/eugener/smaug/internal"
)

// ListModels returns the persistent model catalog ordered by name.
func (s *Store) ListModels(ctx context.Context) ([]gateway.Model, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT name, provider, prompt_price, completion_price, context_window, enabled
		 FROM models ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.Model
	for rows.Next() {
		var m gateway.Model
		var enabled int
		if err := rows.Scan(&m.Name, &m.Provider, &m.PromptPrice, &m.CompletionPrice, &m.ContextWindow, &enabled); err != nil {
			return nil, err
		}
		m.Enabled = enabled != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertModel inserts or replaces one catalog entry.
func (s *Store) UpsertModel(ctx context.Context, m gateway.Model) error {
	enabled := 0
	if m.Enabled {
		enabled = 1
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO models (name, provider, prompt_price, completion_price, context_window, enabled)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		 provider = excluded.provider,
		 prompt_price = excluded.prompt_price,
		 completion_price = excluded.completion_price,
		 context_window = excluded.context_window,
		 enabled = excluded.enabled`,
		m.Name, m.Provider, m.PromptPrice, m.CompletionPrice, m.ContextWindow, enabled,
	)
	return err
}
