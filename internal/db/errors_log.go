package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/errors"
)

// Operation is the processing step an error log entry belongs to.
type Operation string

const (
	OpPoll            Operation = "poll"
	OpTranscribe      Operation = "transcribe"
	OpExport          Operation = "export"
	OpAuth            Operation = "auth"
	OpCursorBootstrap Operation = "cursor_bootstrap"
)

// ErrorLogEntry is one append-only processing failure record.
type ErrorLogEntry struct {
	ID string `json:"id"`

	// CaptureID is nil for failures not tied to a capture, and becomes nil
	// when the capture is pruned.
	CaptureID *string `json:"capture_id"`

	Operation        Operation      `json:"operation"`
	ErrorType        string         `json:"error_type"`
	Message          string         `json:"message"`
	StackTrace       *string        `json:"stack_trace,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	AttemptCount     int            `json:"attempt_count"`
	EscalationAction *string        `json:"escalation_action"`
	DLQ              bool           `json:"dlq"`
	CreatedAt        time.Time      `json:"created_at"`
}

// InsertErrorLog appends an entry. An empty ID is filled with a new ULID.
func InsertErrorLog(ctx context.Context, q DBTX, e *ErrorLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ID == "" {
		id, err := capture.NewID(e.CreatedAt)
		if err != nil {
			return errors.NewInternal(err)
		}
		e.ID = id
	}

	var contextJSON sql.NullString
	if len(e.Context) > 0 {
		data, err := json.Marshal(e.Context)
		if err != nil {
			return errors.NewInternal(err)
		}
		contextJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO errors_log (
			id, capture_id, operation, error_type, message, stack_trace,
			context_json, attempt_count, escalation_action, dlq, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, toNullString(e.CaptureID), string(e.Operation), e.ErrorType, e.Message,
		toNullString(e.StackTrace), contextJSON, e.AttemptCount,
		toNullString(e.EscalationAction), boolToInt(e.DLQ), capture.FormatTimestamp(e.CreatedAt),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ErrorLogFilter narrows ListErrorLogs.
type ErrorLogFilter struct {
	CaptureID *string
	Operation *Operation
	DLQOnly   bool
	Limit     int
}

// ListErrorLogs returns matching entries, oldest first.
func ListErrorLogs(ctx context.Context, q DBTX, filter ErrorLogFilter) ([]ErrorLogEntry, error) {
	query := `
		SELECT id, capture_id, operation, error_type, message, stack_trace,
			context_json, attempt_count, escalation_action, dlq, created_at
		FROM errors_log
		WHERE 1 = 1
	`
	var args []any
	if filter.CaptureID != nil {
		query += " AND capture_id = ?"
		args = append(args, *filter.CaptureID)
	}
	if filter.Operation != nil {
		query += " AND operation = ?"
		args = append(args, string(*filter.Operation))
	}
	if filter.DLQOnly {
		query += " AND dlq = 1"
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []ErrorLogEntry
	for rows.Next() {
		var (
			e           ErrorLogEntry
			captureID   sql.NullString
			operation   string
			stackTrace  sql.NullString
			contextJSON sql.NullString
			escalation  sql.NullString
			dlq         int
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &captureID, &operation, &e.ErrorType, &e.Message, &stackTrace,
			&contextJSON, &e.AttemptCount, &escalation, &dlq, &createdAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		e.CaptureID = fromNullString(captureID)
		e.Operation = Operation(operation)
		e.StackTrace = fromNullString(stackTrace)
		e.EscalationAction = fromNullString(escalation)
		e.DLQ = dlq == 1
		if contextJSON.Valid {
			if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
				return nil, errors.NewInternal(err)
			}
		}
		if e.CreatedAt, err = capture.ParseTimestamp(createdAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
