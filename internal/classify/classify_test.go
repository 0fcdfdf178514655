package classify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"
	"time"
)

func TestTranscriptionErrorFromOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   TranscriptionKind
	}{
		{"deadline", "", context.DeadlineExceeded, KindTimeout},
		{"timed out text", "whisper: inference timed out after 300s", nil, KindTimeout},
		{"oom", "CUDA error: out of memory", nil, KindOOM},
		{"oom word", "process killed (OOM)", nil, KindOOM},
		{"zoom is not oom", "zoom recording", nil, KindUnknown},
		{"corrupt", "Invalid data found when processing input", nil, KindCorruptAudio},
		{"missing file", "", fs.ErrNotExist, KindFileNotFound},
		{"missing text", "open /x.m4a: no such file or directory", nil, KindFileNotFound},
		{"whisper", "whisper model failed to load", nil, KindWhisperError},
		{"unknown", "exit status 3", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TranscriptionErrorFromOutput(tt.output, tt.err)
			if got.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.want)
			}
		})
	}
}

func TestClassifyTranscriptionError_Permanent(t *testing.T) {
	for _, kind := range []TranscriptionKind{KindOOM, KindCorruptAudio} {
		c := ClassifyTranscriptionError(&TranscriptionError{Kind: kind})
		if !c.Permanent || !c.DLQ || c.Retryable {
			t.Errorf("%s: got %+v, want permanent dlq", kind, c)
		}
		if c.EscalationAction != "export_placeholder" {
			t.Errorf("%s: EscalationAction = %q", kind, c.EscalationAction)
		}
		if ShouldRetry(c) {
			t.Errorf("%s: ShouldRetry = true", kind)
		}
	}
}

func TestClassifyTranscriptionError_Retryable(t *testing.T) {
	for _, kind := range []TranscriptionKind{KindTimeout, KindFileNotFound, KindWhisperError, KindUnknown} {
		c := ClassifyTranscriptionError(&TranscriptionError{Kind: kind})
		if c.Permanent || c.DLQ || !c.Retryable || c.EscalationAction != "" {
			t.Errorf("%s: got %+v, want retryable without escalation", kind, c)
		}
		if c.Type != kind {
			t.Errorf("Type = %q, want %q", c.Type, kind)
		}
	}
}

func TestClassifyTranscriptionError_Untyped(t *testing.T) {
	tests := []struct {
		err  error
		want TranscriptionKind
	}{
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), KindTimeout},
		{fmt.Errorf("open: %w", fs.ErrNotExist), KindFileNotFound},
		{errors.New("something odd"), KindUnknown},
		{nil, KindUnknown},
		{fmt.Errorf("engine: %w", &TranscriptionError{Kind: KindOOM}), KindOOM},
	}
	for _, tt := range tests {
		if got := ClassifyTranscriptionError(tt.err).Type; got != tt.want {
			t.Errorf("ClassifyTranscriptionError(%v).Type = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      APIKind
		retryable bool
	}{
		{"invalid grant", APIErrorFromOAuth("invalid_grant", 400), KindAuthInvalidGrant, false},
		{"invalid client", APIErrorFromOAuth("invalid_client", 401), KindAuthInvalidClient, false},
		{"rate limited", APIErrorFromOAuth("", http.StatusTooManyRequests), KindAPIRateLimited, true},
		{"server error", APIErrorFromOAuth("", 503), KindAPINetworkError, true},
		{"untyped", errors.New("connection reset by peer"), KindAPINetworkError, true},
		{"nil", nil, KindAPINetworkError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyAPIError(tt.err)
			if c.Type != tt.want {
				t.Errorf("Type = %q, want %q", c.Type, tt.want)
			}
			if ShouldRetry(c) != tt.retryable {
				t.Errorf("ShouldRetry = %v, want %v", ShouldRetry(c), tt.retryable)
			}
		})
	}
}

func TestClassifyAPIError_KeepsRetryAfter(t *testing.T) {
	c := ClassifyAPIError(&APIError{Kind: KindAPIRateLimited, RetryAfter: 42 * time.Second})
	if c.RetryAfter != 42*time.Second {
		t.Errorf("RetryAfter = %v", c.RetryAfter)
	}
}

func TestComputeBackoff_Schedule(t *testing.T) {
	mid := func() float64 { return 0.5 }
	want := []time.Duration{30 * time.Second, 60 * time.Second, 300 * time.Second, 900 * time.Second, 1800 * time.Second, 1800 * time.Second}
	for attempt, w := range want {
		if got := ComputeBackoffWith(attempt, mid); got != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, w)
		}
	}
	if got := ComputeBackoffWith(-3, mid); got != 30*time.Second {
		t.Errorf("negative attempt: got %v", got)
	}
}

func TestComputeBackoff_JitterBounds(t *testing.T) {
	low := ComputeBackoffWith(0, func() float64 { return 0 })
	high := ComputeBackoffWith(0, func() float64 { return 1 })
	if low != 21*time.Second {
		t.Errorf("low = %v, want 21s", low)
	}
	if high != 39*time.Second {
		t.Errorf("high = %v, want 39s", high)
	}
}

func TestComputeBackoff_BoundBeyondSchedule(t *testing.T) {
	minD := 1260 * time.Second
	maxD := 2340 * time.Second
	for attempt := 4; attempt < 50; attempt++ {
		for i := 0; i < 20; i++ {
			d := ComputeBackoff(attempt)
			if d < minD || d > maxD {
				t.Fatalf("attempt %d: %v outside [%v, %v]", attempt, d, minD, maxD)
			}
		}
	}
}

func TestAuthState_HaltsOnSixthFailure(t *testing.T) {
	var s AuthState
	for i := 1; i <= 5; i++ {
		s = s.RecordFailure()
		if s.HaltPolling() {
			t.Fatalf("halted after %d failures", i)
		}
	}
	s = s.RecordFailure()
	if !s.HaltPolling() {
		t.Fatal("expected halt after 6 failures")
	}
	s = s.RecordSuccess()
	if s.ConsecutiveFailures != 0 || s.HaltPolling() {
		t.Errorf("after success: %+v", s)
	}
}

func TestParseAuthState(t *testing.T) {
	if got := ParseAuthState("4").ConsecutiveFailures; got != 4 {
		t.Errorf("got %d, want 4", got)
	}
	for _, bad := range []string{"", "x", "-2"} {
		if got := ParseAuthState(bad).ConsecutiveFailures; got != 0 {
			t.Errorf("ParseAuthState(%q) = %d, want 0", bad, got)
		}
	}
	if ParseAuthState(AuthState{ConsecutiveFailures: 7}.String()).ConsecutiveFailures != 7 {
		t.Error("String/Parse mismatch")
	}
}
