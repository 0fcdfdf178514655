// Package classify maps collaborator failures into closed error kinds and
// decides whether they are retried, dead-lettered, or escalated.
package classify

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"strings"
)

var oomWord = regexp.MustCompile(`\boom\b`)

// TranscriptionKind is the closed set of transcription failure types.
type TranscriptionKind string

const (
	KindTimeout      TranscriptionKind = "timeout"
	KindOOM          TranscriptionKind = "oom"
	KindCorruptAudio TranscriptionKind = "corrupt_audio"
	KindFileNotFound TranscriptionKind = "file_not_found"
	KindWhisperError TranscriptionKind = "whisper_error"
	KindUnknown      TranscriptionKind = "unknown"
)

// EscalationExport is the escalation action recorded for permanent failures.
const EscalationExport = "export_placeholder"

// TranscriptionError is the typed failure a Transcriber returns.
type TranscriptionError struct {
	Kind    TranscriptionKind
	Message string
	Err     error
}

func (e *TranscriptionError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// TranscriptionErrorFromOutput builds a TranscriptionError from raw engine
// output and the process error. It is the only place engine text is inspected.
func TranscriptionErrorFromOutput(output string, err error) *TranscriptionError {
	msg := strings.TrimSpace(output)
	if msg == "" && err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	kind := KindUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"):
		kind = KindTimeout
	case strings.Contains(lower, "out of memory"),
		oomWord.MatchString(lower),
		strings.Contains(lower, "cannot allocate memory"):
		kind = KindOOM
	case strings.Contains(lower, "invalid data found"),
		strings.Contains(lower, "corrupt"),
		strings.Contains(lower, "failed to decode"),
		strings.Contains(lower, "invalid audio"):
		kind = KindCorruptAudio
	case errors.Is(err, fs.ErrNotExist),
		strings.Contains(lower, "no such file"),
		strings.Contains(lower, "enoent"),
		strings.Contains(lower, "file not found"):
		kind = KindFileNotFound
	case strings.Contains(lower, "whisper"):
		kind = KindWhisperError
	}
	return &TranscriptionError{Kind: kind, Message: msg, Err: err}
}

// TranscriptionClassification is the disposition of a transcription failure.
type TranscriptionClassification struct {
	Type             TranscriptionKind
	Permanent        bool
	Retryable        bool
	DLQ              bool
	EscalationAction string
}

// ClassifyTranscriptionError is total: every error maps to exactly one kind.
// Typed errors keep their kind; untyped deadline and not-exist errors map to
// timeout and file_not_found; anything else is unknown.
func ClassifyTranscriptionError(err error) TranscriptionClassification {
	kind := KindUnknown
	var te *TranscriptionError
	switch {
	case errors.As(err, &te):
		kind = te.Kind
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, fs.ErrNotExist):
		kind = KindFileNotFound
	}
	return classificationFor(kind)
}

func classificationFor(kind TranscriptionKind) TranscriptionClassification {
	switch kind {
	case KindOOM, KindCorruptAudio:
		return TranscriptionClassification{
			Type:             kind,
			Permanent:        true,
			DLQ:              true,
			EscalationAction: EscalationExport,
		}
	case KindTimeout, KindFileNotFound, KindWhisperError:
		return TranscriptionClassification{Type: kind, Retryable: true}
	default:
		return TranscriptionClassification{Type: KindUnknown, Retryable: true}
	}
}

// ParseTranscriptionKind converts a stored error_type back to a kind.
func ParseTranscriptionKind(value string) (TranscriptionKind, bool) {
	switch k := TranscriptionKind(value); k {
	case KindTimeout, KindOOM, KindCorruptAudio, KindFileNotFound, KindWhisperError, KindUnknown:
		return k, true
	}
	return "", false
}
