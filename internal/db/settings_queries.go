package db

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/ticker/internal/globaltime"
)

// Setting key for the bcrypt hash guarding the run-trigger endpoint.
const SettingAdminRunTokenHash = "admin_run_token_hash"

// GetSetting returns the value stored under key, or "" when the key is
// absent.
func (p *Pool) GetSetting(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("setting key is empty")
	}

	var value string
	err := p.QueryRow(ctx, `SELECT value FROM news.settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("query setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts one key/value row.
func (p *Pool) SetSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("setting key is empty")
	}

	const q = `
INSERT INTO news.settings (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET
	value = EXCLUDED.value,
	updated_at = EXCLUDED.updated_at
`
	if _, err := p.Exec(ctx, q, key, value, globaltime.UTC()); err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
