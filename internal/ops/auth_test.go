package ops

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hpungsan/stash/internal/classify"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

func TestRecordAuthFailure_HaltsAfterFive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cause := classify.APIErrorFromOAuth("invalid_grant", 400)

	for i := 1; i <= 5; i++ {
		out, err := RecordAuthFailure(ctx, env.db, cause)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if out.ConsecutiveFailures != i || out.PollingHalted {
			t.Fatalf("failure %d: out = %+v", i, out)
		}
	}

	out, err := RecordAuthFailure(ctx, env.db, cause)
	if err != nil {
		t.Fatal(err)
	}
	if out.ConsecutiveFailures != 6 || !out.PollingHalted {
		t.Errorf("sixth failure: out = %+v", out)
	}
	if out.ErrorType != classify.KindAuthInvalidGrant || out.Retryable {
		t.Errorf("classification = %s retryable=%v", out.ErrorType, out.Retryable)
	}

	halted, err := PollingHalted(ctx, env.db)
	if err != nil || !halted {
		t.Errorf("PollingHalted = %v, %v", halted, err)
	}

	op := db.OpAuth
	logs, err := db.ListErrorLogs(ctx, env.db, db.ErrorLogFilter{Operation: &op})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 6 {
		t.Fatalf("auth error rows = %d, want 6", len(logs))
	}
	last := logs[len(logs)-1]
	if !last.DLQ || last.AttemptCount != 6 || last.CaptureID != nil {
		t.Errorf("last row = %+v", last)
	}

	if err := RecordAuthSuccess(ctx, env.db); err != nil {
		t.Fatal(err)
	}
	halted, _ = PollingHalted(ctx, env.db)
	if halted {
		t.Error("success should resume polling")
	}
	out, _ = RecordAuthFailure(ctx, env.db, cause)
	if out.ConsecutiveFailures != 1 {
		t.Errorf("counter after reset = %d, want 1", out.ConsecutiveFailures)
	}
}

func TestRecordAuthFailure_Backoff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	limited := &classify.APIError{Kind: classify.KindAPIRateLimited, RetryAfter: 42 * time.Second}
	out, err := RecordAuthFailure(ctx, env.db, limited)
	if err != nil {
		t.Fatal(err)
	}
	if out.Backoff != 42*time.Second || out.BackoffMS != 42000 || !out.Retryable {
		t.Errorf("rate limited out = %+v", out)
	}

	out, err = RecordAuthFailure(ctx, env.db, fmt.Errorf("dial tcp: connection refused"))
	if err != nil {
		t.Fatal(err)
	}
	if out.ErrorType != classify.KindAPINetworkError || !out.Retryable {
		t.Errorf("network out = %+v", out)
	}
	// Second consecutive failure uses the 60s step with jitter.
	if out.Backoff < 42*time.Second || out.Backoff > 78*time.Second {
		t.Errorf("Backoff = %v, want within [42s, 78s]", out.Backoff)
	}
	if out.PollingHalted {
		t.Error("two failures must not halt polling")
	}
}

func TestRecordAuthFailure_NilCause(t *testing.T) {
	env := newTestEnv(t)
	_, err := RecordAuthFailure(context.Background(), env.db, nil)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestCursor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	got, err := GetCursor(ctx, env.db, "email")
	if err != nil || got != "" {
		t.Errorf("initial cursor = %q, %v", got, err)
	}

	if err := SetCursor(ctx, env.db, "email", "history-1"); err != nil {
		t.Fatal(err)
	}
	if err := SetCursor(ctx, env.db, "email", "history-2"); err != nil {
		t.Fatal(err)
	}
	if err := SetCursor(ctx, env.db, "voice", "2025-01-01T00:00:00.000Z"); err != nil {
		t.Fatal(err)
	}

	got, _ = GetCursor(ctx, env.db, "email")
	if got != "history-2" {
		t.Errorf("email cursor = %q, want history-2", got)
	}
	got, _ = GetCursor(ctx, env.db, "voice")
	if got != "2025-01-01T00:00:00.000Z" {
		t.Errorf("voice cursor = %q", got)
	}

	if _, err := GetCursor(ctx, env.db, "fax"); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad source error = %v", err)
	}
	if err := SetCursor(ctx, env.db, "email", ""); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty value error = %v", err)
	}
}
