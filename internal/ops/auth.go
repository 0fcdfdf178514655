package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/stash/internal/classify"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// AuthFailuresKey is the sync_state key of the consecutive auth failure counter.
const AuthFailuresKey = "auth_consecutive_failures"

// AuthFailureOutput contains the result of RecordAuthFailure.
type AuthFailureOutput struct {
	ErrorType           classify.APIKind `json:"error_type"`
	Retryable           bool             `json:"retryable"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	PollingHalted       bool             `json:"polling_halted"`

	// Backoff is how long the poller should wait before its next attempt.
	// A server-supplied retry-after wins over the computed schedule.
	Backoff   time.Duration `json:"-"`
	BackoffMS int64         `json:"backoff_ms"`
}

// RecordAuthFailure classifies a mail client failure, logs it and bumps the
// consecutive failure counter.
func RecordAuthFailure(ctx context.Context, database *sql.DB, cause error) (*AuthFailureOutput, error) {
	if cause == nil {
		return nil, errors.NewInvalidRequest("auth error is required")
	}
	cls := classify.ClassifyAPIError(cause)
	now := nowUTC()

	var next classify.AuthState
	err := db.WithTx(ctx, database, func(tx *sql.Tx) error {
		current, err := loadAuthState(ctx, tx)
		if err != nil {
			return err
		}
		next = current.RecordFailure()

		if err := db.InsertErrorLog(ctx, tx, &db.ErrorLogEntry{
			Operation:    db.OpAuth,
			ErrorType:    string(cls.Type),
			Message:      cause.Error(),
			AttemptCount: next.ConsecutiveFailures,
			DLQ:          !cls.Retryable,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		return db.SetSyncState(ctx, tx, AuthFailuresKey, next.String(), now)
	})
	if err != nil {
		return nil, err
	}

	backoff := cls.RetryAfter
	if backoff <= 0 {
		backoff = classify.ComputeBackoff(next.ConsecutiveFailures - 1)
	}

	return &AuthFailureOutput{
		ErrorType:           cls.Type,
		Retryable:           cls.Retryable,
		ConsecutiveFailures: next.ConsecutiveFailures,
		PollingHalted:       next.HaltPolling(),
		Backoff:             backoff,
		BackoffMS:           backoff.Milliseconds(),
	}, nil
}

// RecordAuthSuccess resets the consecutive failure counter.
func RecordAuthSuccess(ctx context.Context, database *sql.DB) error {
	return db.SetSyncState(ctx, database, AuthFailuresKey, classify.AuthState{}.String(), nowUTC())
}

// PollingHalted reports whether repeated auth failures have stopped polling.
func PollingHalted(ctx context.Context, q db.DBTX) (bool, error) {
	s, err := loadAuthState(ctx, q)
	if err != nil {
		return false, err
	}
	return s.HaltPolling(), nil
}

func loadAuthState(ctx context.Context, q db.DBTX) (classify.AuthState, error) {
	raw, _, err := db.GetSyncState(ctx, q, AuthFailuresKey)
	if err != nil {
		return classify.AuthState{}, err
	}
	return classify.ParseAuthState(raw), nil
}
