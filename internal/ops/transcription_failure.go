package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/classify"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// TranscriptionFailureInput contains parameters for RecordTranscriptionFailure.
type TranscriptionFailureInput struct {
	ID  string // required
	Err error  // required; the transcriber's failure
}

// TranscriptionFailureOutput contains the result of RecordTranscriptionFailure.
type TranscriptionFailureOutput struct {
	ID               string         `json:"id"`
	Status           capture.Status `json:"status"`
	ErrorType        string         `json:"error_type"`
	Permanent        bool           `json:"permanent"`
	DLQ              bool           `json:"dlq"`
	AttemptCount     int            `json:"attempt_count"`
	EscalationAction *string        `json:"escalation_action"`
}

// RecordTranscriptionFailure classifies a transcription failure, appends it
// to the error log and moves the capture to failed_transcription. The log
// row and the status change commit together, log first.
func RecordTranscriptionFailure(ctx context.Context, database *sql.DB, input TranscriptionFailureInput) (*TranscriptionFailureOutput, error) {
	if input.Err == nil {
		return nil, errors.NewInvalidRequest("transcription error is required")
	}

	c, err := db.GetByID(ctx, database, input.ID)
	if err != nil {
		return nil, err
	}
	if c.Status != capture.StatusStaged {
		return nil, errors.NewInvalidTransition(c.ID, string(c.Status), string(capture.StatusFailedTranscription))
	}

	cls := classify.ClassifyTranscriptionError(input.Err)
	now := nowUTC()
	attempt := c.Meta.AttemptCount + 1

	meta := c.Meta.WithError(capture.ErrorInfo{
		Type:      string(cls.Type),
		Message:   input.Err.Error(),
		Permanent: cls.Permanent,
		Attempt:   attempt,
		At:        capture.FormatTimestamp(now),
	})
	meta.AttemptCount = attempt

	var escalation *string
	if cls.EscalationAction != "" {
		action := cls.EscalationAction
		escalation = &action
	}

	logContext := map[string]any{"source": string(c.Source)}
	if path := c.AudioPath(); path != "" {
		logContext["file_path"] = path
	}

	err = db.WithTx(ctx, database, func(tx *sql.Tx) error {
		if err := db.InsertErrorLog(ctx, tx, &db.ErrorLogEntry{
			CaptureID:        &c.ID,
			Operation:        db.OpTranscribe,
			ErrorType:        string(cls.Type),
			Message:          input.Err.Error(),
			Context:          logContext,
			AttemptCount:     attempt,
			EscalationAction: escalation,
			DLQ:              cls.DLQ,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		return db.Transition(ctx, tx, db.TransitionInput{
			ID: c.ID, From: capture.StatusStaged, To: capture.StatusFailedTranscription,
			Meta: &meta, Now: now,
		})
	})
	if err != nil {
		return nil, err
	}

	return &TranscriptionFailureOutput{
		ID:               c.ID,
		Status:           capture.StatusFailedTranscription,
		ErrorType:        string(cls.Type),
		Permanent:        cls.Permanent,
		DLQ:              cls.DLQ,
		AttemptCount:     attempt,
		EscalationAction: escalation,
	}, nil
}
