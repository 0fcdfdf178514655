package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// StageInput contains parameters for the Stage operation.
type StageInput struct {
	Source string // required: voice or email

	// RawContent is the audio file path for voice captures and the message
	// body for email captures.
	RawContent string

	MessageID string // email only, optional
}

// StageOutput contains the result of the Stage operation.
type StageOutput struct {
	ID        string         `json:"id"`
	Status    capture.Status `json:"status"`
	CreatedAt string         `json:"created_at"`
}

// Stage records a newly ingested capture. No hash is computed here; it is
// bound once transcription succeeds.
func Stage(ctx context.Context, database *sql.DB, input StageInput) (*StageOutput, error) {
	source, ok := capture.ParseSource(input.Source)
	if !ok {
		return nil, errors.NewInvalidRequest("source must be one of: voice, email")
	}
	if strings.TrimSpace(input.RawContent) == "" {
		if source == capture.SourceVoice {
			return nil, errors.NewInvalidRequest("audio file path is required for voice captures")
		}
		return nil, errors.NewInvalidRequest("body is required for email captures")
	}

	now := nowUTC()
	id, err := capture.NewID(now)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	var meta capture.Meta
	switch source {
	case capture.SourceVoice:
		meta.FilePath = input.RawContent
	case capture.SourceEmail:
		meta.MessageID = strings.TrimSpace(input.MessageID)
	}

	c := &capture.Capture{
		ID:         id,
		Source:     source,
		RawContent: input.RawContent,
		Status:     capture.StatusStaged,
		Meta:       meta,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Insert(ctx, database, c); err != nil {
		return nil, err
	}

	return &StageOutput{
		ID:        id,
		Status:    c.Status,
		CreatedAt: capture.FormatTimestamp(now),
	}, nil
}
