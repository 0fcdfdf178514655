package capture

import (
	"encoding/json"
	"fmt"
)

// Meta is the capture attribute bag. Known fields are typed; anything else
// lands in Extra and is written back unchanged.
type Meta struct {
	// AttemptCount is the number of recorded transcription failures
	AttemptCount int `json:"attempt_count,omitempty"`

	// FilePath is the audio file for voice captures
	FilePath string `json:"file_path,omitempty"`

	// MessageID is the mail provider's message identifier for email captures
	MessageID string `json:"message_id,omitempty"`

	// Transcript holds the transcribed text (or email body) once bound
	Transcript string `json:"transcript,omitempty"`

	Integrity *Integrity `json:"integrity,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`

	// Extra holds keys this version does not know about
	Extra map[string]json.RawMessage `json:"-"`
}

// Integrity records quarantine state.
type Integrity struct {
	Quarantine       bool   `json:"quarantine"`
	QuarantineReason string `json:"quarantine_reason,omitempty"`
	QuarantinedAt    string `json:"quarantined_at,omitempty"`
}

// ErrorInfo is the last processing error merged into meta.
type ErrorInfo struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Permanent bool   `json:"permanent"`
	Attempt   int    `json:"attempt"`
	At        string `json:"at,omitempty"`
}

// Quarantine reasons.
const (
	QuarantineMissingFile    = "missing_file"
	QuarantineDownloadFailed = "download_failed"
)

var knownMetaKeys = []string{"attempt_count", "file_path", "message_id", "transcript", "integrity", "error"}

type metaAlias Meta

// UnmarshalJSON decodes known fields and keeps the rest in Extra.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var alias metaAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownMetaKeys {
		delete(raw, k)
	}
	*m = Meta(alias)
	if len(raw) > 0 {
		m.Extra = raw
	} else {
		m.Extra = nil
	}
	return nil
}

// MarshalJSON encodes known fields and merges Extra back in.
// Known fields win over an Extra key of the same name.
func (m Meta) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(metaAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(m.Extra)+len(knownMetaKeys))
	for k, v := range m.Extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// ParseMeta decodes a stored meta blob. Empty input yields an empty Meta.
func ParseMeta(raw string) (Meta, error) {
	var m Meta
	if raw == "" || raw == "null" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Meta{}, fmt.Errorf("parse meta: %w", err)
	}
	return m, nil
}

// Encode serializes the meta for storage.
func (m Meta) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode meta: %w", err)
	}
	return string(data), nil
}

// Set stores an arbitrary extra attribute.
func (m *Meta) Set(key string, value any) error {
	for _, k := range knownMetaKeys {
		if k == key {
			return fmt.Errorf("meta key %q is typed; set the field directly", key)
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.Extra == nil {
		m.Extra = make(map[string]json.RawMessage)
	}
	m.Extra[key] = data
	return nil
}

// WithError returns a copy of m with the error sub-object replaced.
// Every other field, including Extra, is carried over.
func (m Meta) WithError(info ErrorInfo) Meta {
	out := m.clone()
	out.Error = &info
	return out
}

// WithQuarantine returns a copy of m marked as quarantined.
func (m Meta) WithQuarantine(reason, at string) Meta {
	out := m.clone()
	out.Integrity = &Integrity{Quarantine: true, QuarantineReason: reason, QuarantinedAt: at}
	return out
}

func (m Meta) clone() Meta {
	out := m
	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	if m.Integrity != nil {
		integrity := *m.Integrity
		out.Integrity = &integrity
	}
	if m.Error != nil {
		info := *m.Error
		out.Error = &info
	}
	return out
}
