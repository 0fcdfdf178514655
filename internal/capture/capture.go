package capture

import (
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601 form used for every ledger timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Source identifies where a capture originated.
type Source string

const (
	SourceVoice Source = "voice"
	SourceEmail Source = "email"
)

// ParseSource converts a string into a known Source.
func ParseSource(value string) (Source, bool) {
	switch Source(value) {
	case SourceVoice, SourceEmail:
		return Source(value), true
	}
	return "", false
}

// Capture is one ingested item tracked by the ledger.
type Capture struct {
	// ID is a ULID that uniquely identifies this capture
	ID string

	// Source is voice or email
	Source Source

	// RawContent is the original payload reference (audio file path or email body)
	RawContent string

	// ContentHash is bound once on successful transcription (nullable)
	ContentHash *string

	// Status is the lifecycle position, see state.go
	Status Status

	// Meta is the schema-less attribute bag
	Meta Meta

	// CreatedAt is when the capture was staged
	CreatedAt time.Time

	// UpdatedAt is the last mutation time; drives staleness detection
	UpdatedAt time.Time
}

// AudioPath returns the file backing a voice capture.
// meta.file_path takes precedence over raw_content.
func (c *Capture) AudioPath() string {
	if c.Meta.FilePath != "" {
		return c.Meta.FilePath
	}
	if c.Source == SourceVoice {
		return c.RawContent
	}
	return ""
}

// Quarantined reports whether the capture is exempt from recovery.
func (c *Capture) Quarantined() bool {
	return c.Meta.Integrity != nil && c.Meta.Integrity.Quarantine
}

// FormatTimestamp renders t in the ledger's ISO-8601 layout (UTC, millisecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses any RFC 3339 timestamp, including sub-second precision.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
