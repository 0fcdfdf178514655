package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Status      string // optional filter
	Source      string // optional filter
	Quarantined *bool  // optional filter
	Limit       int    // default: 20, max: 100
	Offset      int    // default: 0
}

// CaptureSummary is the listing view of a capture. Raw content is omitted
// since email bodies can be large.
type CaptureSummary struct {
	ID               string         `json:"id"`
	Source           capture.Source `json:"source"`
	Status           capture.Status `json:"status"`
	ContentHash      *string        `json:"content_hash"`
	AttemptCount     int            `json:"attempt_count"`
	Quarantined      bool           `json:"quarantined"`
	QuarantineReason string         `json:"quarantine_reason,omitempty"`
	ErrorType        string         `json:"error_type,omitempty"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []CaptureSummary `json:"items"`
	Pagination Pagination       `json:"pagination"`
	Sort       string           `json:"sort"`
}

// List retrieves capture summaries with optional filters and pagination.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	var filter db.ListFilter

	if input.Status != "" {
		status, ok := capture.ParseStatus(input.Status)
		if !ok {
			return nil, errors.NewInvalidRequest("unknown status: " + input.Status)
		}
		filter.Status = &status
	}
	if input.Source != "" {
		source, ok := capture.ParseSource(input.Source)
		if !ok {
			return nil, errors.NewInvalidRequest("source must be one of: voice, email")
		}
		filter.Source = &source
	}
	filter.Quarantined = input.Quarantined
	filter.Limit = clampLimit(input.Limit)
	filter.Offset = max(input.Offset, 0)

	items, total, err := db.ListCaptures(ctx, database, filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]CaptureSummary, 0, len(items))
	for _, c := range items {
		summaries = append(summaries, summarize(c))
	}

	return &ListOutput{
		Items: summaries,
		Pagination: Pagination{
			Limit:   filter.Limit,
			Offset:  filter.Offset,
			HasMore: filter.Offset+len(summaries) < total,
			Total:   total,
		},
		Sort: "created_at_asc",
	}, nil
}

func summarize(c *capture.Capture) CaptureSummary {
	s := CaptureSummary{
		ID:           c.ID,
		Source:       c.Source,
		Status:       c.Status,
		ContentHash:  c.ContentHash,
		AttemptCount: c.Meta.AttemptCount,
		Quarantined:  c.Quarantined(),
		CreatedAt:    capture.FormatTimestamp(c.CreatedAt),
		UpdatedAt:    capture.FormatTimestamp(c.UpdatedAt),
	}
	if c.Meta.Integrity != nil {
		s.QuarantineReason = c.Meta.Integrity.QuarantineReason
	}
	if c.Meta.Error != nil {
		s.ErrorType = c.Meta.Error.Type
	}
	return s
}

// ListErrorsInput contains parameters for the ListErrors operation.
type ListErrorsInput struct {
	CaptureID string // optional
	Operation string // optional
	DLQOnly   bool
	Limit     int // default: 20, max: 100
}

// ListErrorsOutput contains the result of the ListErrors operation.
type ListErrorsOutput struct {
	Items []db.ErrorLogEntry `json:"items"`
}

// ListErrors returns error log entries, oldest first.
func ListErrors(ctx context.Context, database *sql.DB, input ListErrorsInput) (*ListErrorsOutput, error) {
	filter := db.ErrorLogFilter{DLQOnly: input.DLQOnly, Limit: clampLimit(input.Limit)}
	if input.CaptureID != "" {
		if !capture.ValidID(input.CaptureID) {
			return nil, errors.NewInvalidRequest("invalid capture id: " + input.CaptureID)
		}
		filter.CaptureID = &input.CaptureID
	}
	if input.Operation != "" {
		op := db.Operation(input.Operation)
		switch op {
		case db.OpPoll, db.OpTranscribe, db.OpExport, db.OpAuth, db.OpCursorBootstrap:
		default:
			return nil, errors.NewInvalidRequest("unknown operation: " + input.Operation)
		}
		filter.Operation = &op
	}

	items, err := db.ListErrorLogs(ctx, database, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []db.ErrorLogEntry{}
	}
	return &ListErrorsOutput{Items: items}, nil
}
