package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// AppSetting is one key/value row of the runtime control surface
type AppSetting struct {
	Key      string
	Value    string
	IsSecret bool
}

// GetSetting returns the value for a key, or ("", false) when absent
func (db *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.pool.QueryRow(ctx,
		`SELECT value FROM app_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a setting value
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO app_settings (key, value, is_secret)
		 VALUES ($1, $2, FALSE)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	log.Debug().Str("key", key).Msg("Setting updated")
	return nil
}

// SetSettings upserts several settings in one transaction. Governance uses
// it to flip AUTO_SELECT_ENABLED and its disable reason atomically.
func (db *DB) SetSettings(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin settings transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for key, value := range kv {
		if _, err := tx.Exec(ctx,
			`INSERT INTO app_settings (key, value, is_secret)
			 VALUES ($1, $2, FALSE)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			key, value); err != nil {
			return fmt.Errorf("failed to set setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

// GetAllSettings returns every setting row, secrets redacted
func (db *DB) GetAllSettings(ctx context.Context) ([]AppSetting, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT key, value, is_secret FROM app_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []AppSetting
	for rows.Next() {
		var s AppSetting
		if err := rows.Scan(&s.Key, &s.Value, &s.IsSecret); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		if s.IsSecret {
			s.Value = "********"
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}

	return settings, nil
}
