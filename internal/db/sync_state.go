package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/errors"
)

// GetSyncState returns the value stored under key and whether it exists.
func GetSyncState(ctx context.Context, q DBTX, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return value, true, nil
}

// SetSyncState upserts key. Keys are never deleted.
func SetSyncState(ctx context.Context, q DBTX, key, value string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, capture.FormatTimestamp(now))
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
