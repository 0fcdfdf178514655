package ops

import (
	"context"
	"time"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Transcriber turns an audio file into text. Failures should be
// *classify.TranscriptionError values built at the engine boundary;
// anything else is classified as unknown.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// DownloadResult is the outcome of making a voice capture's file local.
type DownloadResult struct {
	Success bool
	Err     error

	// RetryAfter is set when the failure is transient and the capture
	// should be left for a later pass.
	RetryAfter *time.Duration
}

// Downloader makes cloud-backed audio files available locally.
type Downloader interface {
	DownloadIfNeeded(ctx context.Context, audioPath string) DownloadResult
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
