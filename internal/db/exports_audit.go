package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/errors"
)

// ExportMode records how a capture reached its terminal artifact.
type ExportMode string

const (
	ExportInitial       ExportMode = "initial"
	ExportDuplicateSkip ExportMode = "duplicate_skip"
	ExportPlaceholder   ExportMode = "placeholder"
)

// ExportAudit is the single export record of a capture.
type ExportAudit struct {
	ID          string     `json:"id"`
	CaptureID   *string    `json:"capture_id"`
	VaultPath   string     `json:"vault_path"`
	ContentHash *string    `json:"content_hash"`
	Mode        ExportMode `json:"mode"`
	ExportedAt  time.Time  `json:"exported_at"`
}

// InsertExportAudit records an export. A capture has at most one audit row;
// a second insert for the same capture is ignored and reported as false.
func InsertExportAudit(ctx context.Context, q DBTX, a *ExportAudit) (bool, error) {
	if a.ExportedAt.IsZero() {
		a.ExportedAt = time.Now()
	}
	if a.ID == "" {
		id, err := capture.NewID(a.ExportedAt)
		if err != nil {
			return false, errors.NewInternal(err)
		}
		a.ID = id
	}

	result, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO exports_audit (id, capture_id, vault_path, content_hash, mode, exported_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, toNullString(a.CaptureID), a.VaultPath, toNullString(a.ContentHash), string(a.Mode),
		capture.FormatTimestamp(a.ExportedAt))
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n == 1, nil
}

// GetExportAudit returns the audit row for captureID, or nil if none exists.
func GetExportAudit(ctx context.Context, q DBTX, captureID string) (*ExportAudit, error) {
	var (
		a           ExportAudit
		cid         sql.NullString
		contentHash sql.NullString
		mode        string
		exportedAt  string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, capture_id, vault_path, content_hash, mode, exported_at
		FROM exports_audit WHERE capture_id = ?
	`, captureID).Scan(&a.ID, &cid, &a.VaultPath, &contentHash, &mode, &exportedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	a.CaptureID = fromNullString(cid)
	a.ContentHash = fromNullString(contentHash)
	a.Mode = ExportMode(mode)
	if a.ExportedAt, err = capture.ParseTimestamp(exportedAt); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &a, nil
}

// CountExportAudits returns the number of audit rows, including orphaned ones.
func CountExportAudits(ctx context.Context, q DBTX) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM exports_audit`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}
