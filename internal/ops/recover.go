package ops

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/classify"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/logging"
)

type recoveryPhase string

const (
	phaseIdle         recoveryPhase = "idle"
	phaseScanning     recoveryPhase = "scanning"
	phaseResuming     recoveryPhase = "resuming"
	phaseQuarantining recoveryPhase = "quarantining"
)

type recoveryOutcome int

const (
	outcomeRecovered recoveryOutcome = iota
	outcomeQuarantined
	outcomeDeferred
)

// RecoverInput contains parameters for the Recover operation.
type RecoverInput struct {
	// Transcriber resumes staged voice captures. Without one, staged voice
	// captures count as failed and stay staged.
	Transcriber Transcriber

	// Downloader, when set, is asked to make voice files local first.
	Downloader Downloader

	Logger *slog.Logger
}

// RecoverOutput contains the result of the Recover operation.
type RecoverOutput struct {
	CapturesFound       int   `json:"captures_found"`
	CapturesRecovered   int   `json:"captures_recovered"`
	CapturesTimedOut    int   `json:"captures_timed_out"`
	CapturesQuarantined int   `json:"captures_quarantined"`
	CapturesDeferred    int   `json:"captures_deferred"`
	CapturesFailed      int   `json:"captures_failed"`
	DurationMS          int64 `json:"duration_ms"`
}

type recoverer struct {
	database *sql.DB
	cfg      *config.Config
	input    RecoverInput
	log      *slog.Logger
	phase    recoveryPhase
}

// Recover re-drives every recoverable capture, one at a time, oldest first.
// Errors on one capture are logged and counted; they never stop the pass.
func Recover(ctx context.Context, database *sql.DB, cfg *config.Config, input RecoverInput) (*RecoverOutput, error) {
	start := time.Now()
	r := &recoverer{
		database: database,
		cfg:      cfg,
		input:    input,
		log:      logging.OrDefault(input.Logger).With("component", "recovery"),
		phase:    phaseIdle,
	}

	r.enter(phaseScanning)
	items, err := db.QueryRecoverable(ctx, database)
	if err != nil {
		r.enter(phaseIdle)
		return nil, err
	}

	out := &RecoverOutput{CapturesFound: len(items)}
	threshold := cfg.StaleThreshold()

	for _, c := range items {
		if age := time.Since(c.UpdatedAt); age > threshold {
			out.CapturesTimedOut++
			r.log.Warn("capture stuck in state",
				"capture_id", c.ID, "status", c.Status, "age", age.Round(time.Second).String())
		}

		outcome, err := r.recoverOne(ctx, c)
		if err != nil {
			out.CapturesFailed++
			r.log.Error("capture recovery failed", "capture_id", c.ID, "status", c.Status, "error", err)
			continue
		}
		switch outcome {
		case outcomeRecovered:
			out.CapturesRecovered++
		case outcomeQuarantined:
			out.CapturesQuarantined++
		case outcomeDeferred:
			out.CapturesDeferred++
		}
	}

	r.enter(phaseIdle)
	out.DurationMS = time.Since(start).Milliseconds()
	r.log.Info("recovery complete",
		"found", out.CapturesFound,
		"recovered", out.CapturesRecovered,
		"timed_out", out.CapturesTimedOut,
		"quarantined", out.CapturesQuarantined,
		"deferred", out.CapturesDeferred,
		"failed", out.CapturesFailed,
		"duration_ms", out.DurationMS,
	)
	return out, nil
}

func (r *recoverer) enter(p recoveryPhase) {
	if r.phase == p {
		return
	}
	r.log.Debug("recovery phase", "from", r.phase, "to", p)
	r.phase = p
}

func (r *recoverer) recoverOne(ctx context.Context, c *capture.Capture) (recoveryOutcome, error) {
	switch c.Status {
	case capture.StatusStaged:
		if c.Source == capture.SourceVoice {
			return r.resumeVoice(ctx, c)
		}
		r.enter(phaseResuming)
		return r.bindAndExport(ctx, c, "")
	case capture.StatusTranscribed:
		r.enter(phaseResuming)
		_, err := ExportCapture(ctx, r.database, r.cfg, c.ID)
		return outcomeRecovered, err
	case capture.StatusFailedTranscription:
		r.enter(phaseResuming)
		_, err := ExportPlaceholder(ctx, r.database, r.cfg, c.ID)
		return outcomeRecovered, err
	}
	return outcomeRecovered, errors.NewInternal(fmt.Errorf("capture %s has non-recoverable status %s", c.ID, c.Status))
}

func (r *recoverer) resumeVoice(ctx context.Context, c *capture.Capture) (recoveryOutcome, error) {
	path := c.AudioPath()

	if r.input.Downloader != nil {
		res := r.input.Downloader.DownloadIfNeeded(ctx, path)
		if !res.Success {
			if res.RetryAfter != nil {
				r.log.Info("download deferred", "capture_id", c.ID, "retry_after", res.RetryAfter.String())
				return outcomeDeferred, nil
			}
			return r.quarantine(ctx, c, capture.QuarantineDownloadFailed, res.Err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return r.quarantine(ctx, c, capture.QuarantineMissingFile, err)
		}
		return outcomeRecovered, errors.NewInternal(fmt.Errorf("stat audio %s: %w", path, err))
	}

	r.enter(phaseResuming)
	if r.input.Transcriber == nil {
		return outcomeRecovered, errors.NewInvalidRequest("no transcriber configured for staged voice capture")
	}

	transcript, err := r.input.Transcriber.Transcribe(ctx, path)
	if err != nil {
		failure, recErr := RecordTranscriptionFailure(ctx, r.database, TranscriptionFailureInput{ID: c.ID, Err: err})
		if recErr != nil {
			return outcomeRecovered, recErr
		}
		r.log.Warn("transcription failed",
			"capture_id", c.ID, "error_type", failure.ErrorType,
			"permanent", failure.Permanent, "attempt", failure.AttemptCount)
		if failure.Permanent {
			_, err := ExportPlaceholder(ctx, r.database, r.cfg, c.ID)
			return outcomeRecovered, err
		}
		r.log.Debug("retryable transcription failure",
			"capture_id", c.ID,
			"suggested_backoff", classify.ComputeBackoff(failure.AttemptCount-1).String())
		return outcomeRecovered, nil
	}

	return r.bindAndExport(ctx, c, transcript)
}

// bindAndExport binds the hash of a staged capture and, unless it turned out
// to be a duplicate, exports it.
func (r *recoverer) bindAndExport(ctx context.Context, c *capture.Capture, transcript string) (recoveryOutcome, error) {
	bound, err := CompleteTranscription(ctx, r.database, r.cfg, CompleteTranscriptionInput{ID: c.ID, Transcript: transcript})
	if err != nil {
		return outcomeRecovered, err
	}
	if bound.Status != capture.StatusTranscribed {
		return outcomeRecovered, nil
	}
	_, err = ExportCapture(ctx, r.database, r.cfg, c.ID)
	return outcomeRecovered, err
}

func (r *recoverer) quarantine(ctx context.Context, c *capture.Capture, reason string, cause error) (recoveryOutcome, error) {
	r.enter(phaseQuarantining)
	now := nowUTC()
	meta := c.Meta.WithQuarantine(reason, capture.FormatTimestamp(now))
	if err := db.UpdateMeta(ctx, r.database, c.ID, meta, now); err != nil {
		return outcomeQuarantined, err
	}
	attrs := []any{"capture_id", c.ID, "reason", reason}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	r.log.Warn("capture quarantined", attrs...)
	return outcomeQuarantined, nil
}
