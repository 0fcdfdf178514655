package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.StashError{
	Code:    errors.ErrConflict,
	Status:  409,
	Message: "unique constraint violation",
}

const captureColumns = `id, source, raw_content, content_hash, status, meta_json, created_at, updated_at`

// Insert stores a new capture.
func Insert(ctx context.Context, q DBTX, c *capture.Capture) error {
	metaJSON, err := c.Meta.Encode()
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO captures (` + captureColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		c.ID, string(c.Source), c.RawContent, toNullString(c.ContentHash), string(c.Status),
		metaJSON, capture.FormatTimestamp(c.CreatedAt), capture.FormatTimestamp(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetByID retrieves a capture by its ULID.
func GetByID(ctx context.Context, q DBTX, id string) (*capture.Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures WHERE id = ?`

	c, err := scanCapture(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// QueryRecoverable returns every non-terminal capture that is not
// quarantined, oldest first. Ties on created_at are broken by id.
func QueryRecoverable(ctx context.Context, q DBTX) ([]*capture.Capture, error) {
	query := `
		SELECT ` + captureColumns + `
		FROM captures
		WHERE status IN ('staged', 'transcribed', 'failed_transcription')
		  AND COALESCE(json_extract(meta_json, '$.integrity.quarantine'), 0) = 0
		ORDER BY created_at ASC, id ASC
	`
	return queryCaptures(ctx, q, query)
}

// ListFilter narrows ListCaptures.
type ListFilter struct {
	Status *capture.Status
	Source *capture.Source
	// Quarantined, when set, keeps only captures whose quarantine flag matches.
	Quarantined *bool
	Limit       int
	Offset      int
}

// ListCaptures returns captures matching filter, oldest first, plus the total
// number of matches ignoring pagination.
func ListCaptures(ctx context.Context, q DBTX, filter ListFilter) ([]*capture.Capture, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Source != nil {
		where = append(where, "source = ?")
		args = append(args, string(*filter.Source))
	}
	if filter.Quarantined != nil {
		where = append(where, "COALESCE(json_extract(meta_json, '$.integrity.quarantine'), 0) = ?")
		args = append(args, boolToInt(*filter.Quarantined))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + captureColumns + ` FROM captures` + whereClause + ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	items, err := queryCaptures(ctx, q, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// TransitionInput describes one status change.
type TransitionInput struct {
	ID   string
	From capture.Status
	To   capture.Status
	// ContentHash binds the hash in the same update. Nil keeps the stored value.
	ContentHash *string
	// Meta replaces meta_json in the same update. Nil keeps the stored value.
	Meta *capture.Meta
	Now  time.Time
}

// Transition moves a capture from one status to another. The move is
// refused unless the state machine allows it, and the update only applies
// while the row is still in the expected status.
func Transition(ctx context.Context, q DBTX, in TransitionInput) error {
	if !capture.ValidateTransition(in.From, in.To) {
		return errors.NewInvalidTransition(in.ID, string(in.From), string(in.To))
	}

	var metaJSON sql.NullString
	if in.Meta != nil {
		encoded, err := in.Meta.Encode()
		if err != nil {
			return errors.NewInternal(err)
		}
		metaJSON = sql.NullString{String: encoded, Valid: true}
	}

	query := `
		UPDATE captures
		SET status = ?,
		    content_hash = COALESCE(?, content_hash),
		    meta_json = COALESCE(?, meta_json),
		    updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := q.ExecContext(ctx, query,
		string(in.To), toNullString(in.ContentHash), metaJSON,
		capture.FormatTimestamp(in.Now), in.ID, string(in.From),
	)
	if err != nil {
		return mapUpdateError(in.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		current, getErr := GetByID(ctx, q, in.ID)
		if getErr != nil {
			return getErr
		}
		return errors.NewConflict(fmt.Sprintf("capture %s is %s, expected %s", in.ID, current.Status, in.From))
	}
	return nil
}

// UpdateMeta replaces a non-terminal capture's meta and bumps updated_at.
func UpdateMeta(ctx context.Context, q DBTX, id string, meta capture.Meta, now time.Time) error {
	metaJSON, err := meta.Encode()
	if err != nil {
		return errors.NewInternal(err)
	}

	result, err := q.ExecContext(ctx,
		`UPDATE captures SET meta_json = ?, updated_at = ? WHERE id = ?`,
		metaJSON, capture.FormatTimestamp(now), id,
	)
	if err != nil {
		return mapUpdateError(id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// FindByContentHash returns the oldest capture other than excludeID that
// holds hash, or nil if there is none.
func FindByContentHash(ctx context.Context, q DBTX, hash, excludeID string) (*capture.Capture, error) {
	query := `
		SELECT ` + captureColumns + `
		FROM captures
		WHERE content_hash = ? AND id <> ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`
	c, err := scanCapture(q.QueryRowContext(ctx, query, hash, excludeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// FindExportedByContentHash returns the capture other than excludeID that
// was exported with hash, or nil if there is none.
func FindExportedByContentHash(ctx context.Context, q DBTX, hash, excludeID string) (*capture.Capture, error) {
	query := `
		SELECT ` + captureColumns + `
		FROM captures
		WHERE content_hash = ? AND id <> ? AND status = 'exported'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`
	c, err := scanCapture(q.QueryRowContext(ctx, query, hash, excludeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// CountByStatus returns the number of captures in each status. Statuses
// with no captures are present with a zero count.
func CountByStatus(ctx context.Context, q DBTX) (map[capture.Status]int, error) {
	counts := make(map[capture.Status]int)
	for _, s := range capture.AllStatuses() {
		counts[s] = 0
	}

	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM captures GROUP BY status`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[capture.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}

// CountQuarantined returns the number of quarantined captures.
func CountQuarantined(ctx context.Context, q DBTX) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM captures
		WHERE COALESCE(json_extract(meta_json, '$.integrity.quarantine'), 0) = 1
	`).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// CountPrunable returns how many terminal captures were last updated before cutoff.
func CountPrunable(ctx context.Context, q DBTX, cutoff time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM captures
		WHERE status IN ('exported', 'exported_duplicate', 'exported_placeholder')
		  AND updated_at < ?
	`, capture.FormatTimestamp(cutoff)).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// PruneTerminal permanently deletes terminal captures last updated before
// cutoff. Error log and export audit rows survive with a NULL capture_id.
func PruneTerminal(ctx context.Context, q DBTX, cutoff time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM captures
		WHERE status IN ('exported', 'exported_duplicate', 'exported_placeholder')
		  AND updated_at < ?
	`, capture.FormatTimestamp(cutoff))
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

func mapUpdateError(id string, err error) error {
	switch {
	case isTerminalImmutableError(err):
		return errors.NewConflict(fmt.Sprintf("capture %s is terminal and cannot be modified", id))
	case isHashWriteOnceError(err):
		return errors.NewConflict(fmt.Sprintf("capture %s already has a content hash", id))
	}
	return errors.NewInternal(err)
}

func queryCaptures(ctx context.Context, q DBTX, query string, args ...any) ([]*capture.Capture, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*capture.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCapture scans a single row into a Capture.
func scanCapture(row rowScanner) (*capture.Capture, error) {
	var (
		c           capture.Capture
		source      string
		status      string
		contentHash sql.NullString
		metaJSON    string
		createdAt   string
		updatedAt   string
	)

	if err := row.Scan(&c.ID, &source, &c.RawContent, &contentHash, &status, &metaJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.Source = capture.Source(source)
	c.Status = capture.Status(status)
	c.ContentHash = fromNullString(contentHash)

	meta, err := capture.ParseMeta(metaJSON)
	if err != nil {
		return nil, err
	}
	c.Meta = meta

	if c.CreatedAt, err = capture.ParseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = capture.ParseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
