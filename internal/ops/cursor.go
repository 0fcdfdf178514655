package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

func cursorKey(source capture.Source) string {
	return "cursor:" + string(source)
}

// GetCursor returns the polling cursor for source, or "" if none is stored.
func GetCursor(ctx context.Context, q db.DBTX, source string) (string, error) {
	s, ok := capture.ParseSource(source)
	if !ok {
		return "", errors.NewInvalidRequest("source must be one of: voice, email")
	}
	value, _, err := db.GetSyncState(ctx, q, cursorKey(s))
	return value, err
}

// SetCursor stores the polling cursor for source.
func SetCursor(ctx context.Context, database *sql.DB, source, value string) error {
	s, ok := capture.ParseSource(source)
	if !ok {
		return errors.NewInvalidRequest("source must be one of: voice, email")
	}
	if value == "" {
		return errors.NewInvalidRequest("cursor value is required")
	}
	return db.SetSyncState(ctx, database, cursorKey(s), value, nowUTC())
}
