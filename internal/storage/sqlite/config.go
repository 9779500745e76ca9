package sqlite

import (
	"context"
	"time"
)

// GetConfig reads one operational setting. Unknown keys return gateway.ErrNotFound.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.read.QueryRowContext(ctx,
		`SELECT value FROM system_configs WHERE key=?`, key,
	).Scan(&value)
	if err != nil {
		return "", notFoundErr(err)
	}
	return value, nil
}

// SetConfig writes one operational setting.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO system_configs (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, fmtTime(time.Now()),
	)
	return err
}
