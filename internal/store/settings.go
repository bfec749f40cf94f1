package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetSetting returns the value for a system config key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q.QueryRowContext(ctx,
		"SELECT value FROM system_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting creates or replaces a system config key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO system_config (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

// DeleteSetting removes a system config key. Deleting a missing key is a
// no-op.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM system_config WHERE key = ?", key)
	return err
}

// ListSettings returns every system config key/value pair.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT key, value FROM system_config ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}
