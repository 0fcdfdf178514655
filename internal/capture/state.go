package capture

import "strings"

// Status represents the lifecycle of a capture.
type Status string

const (
	StatusStaged              Status = "staged"
	StatusTranscribed         Status = "transcribed"
	StatusFailedTranscription Status = "failed_transcription"
	StatusExported            Status = "exported"
	StatusExportedDuplicate   Status = "exported_duplicate"
	StatusExportedPlaceholder Status = "exported_placeholder"
)

var allStatuses = []Status{
	StatusStaged,
	StatusTranscribed,
	StatusFailedTranscription,
	StatusExported,
	StatusExportedDuplicate,
	StatusExportedPlaceholder,
}

// transitions is the complete transition table. Statuses with an empty
// entry are terminal.
var transitions = map[Status][]Status{
	StatusStaged:              {StatusTranscribed, StatusFailedTranscription, StatusExportedDuplicate},
	StatusTranscribed:         {StatusExported, StatusExportedDuplicate},
	StatusFailedTranscription: {StatusExportedPlaceholder},
	StatusExported:            {},
	StatusExportedDuplicate:   {},
	StatusExportedPlaceholder: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := transitions[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

// ValidTransitions returns the statuses reachable from s in one step.
// Unknown and terminal statuses return an empty slice.
func ValidTransitions(s Status) []Status {
	next := transitions[s]
	cp := make([]Status, len(next))
	copy(cp, next)
	return cp
}

// ValidateTransition reports whether current -> next is allowed.
// Unknown source states fail closed.
func ValidateTransition(current, next Status) bool {
	for _, candidate := range transitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ValidateStatePath checks every consecutive pair of a hypothetical path.
// Paths with fewer than two elements are trivially valid.
func ValidateStatePath(path []Status) bool {
	for i := 1; i < len(path); i++ {
		if !ValidateTransition(path[i-1], path[i]) {
			return false
		}
	}
	return true
}

// IsTerminal reports whether s is a known status with no outgoing transitions.
func IsTerminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// TerminalStatuses returns the exported* statuses.
func TerminalStatuses() []Status {
	var out []Status
	for _, s := range allStatuses {
		if IsTerminal(s) {
			out = append(out, s)
		}
	}
	return out
}

// NonTerminalStatuses returns the statuses crash recovery re-drives.
func NonTerminalStatuses() []Status {
	var out []Status
	for _, s := range allStatuses {
		if !IsTerminal(s) {
			out = append(out, s)
		}
	}
	return out
}

// HoldsContentHash reports whether a capture in status s must carry a content hash.
func HoldsContentHash(s Status) bool {
	switch s {
	case StatusTranscribed, StatusExported, StatusExportedDuplicate:
		return true
	}
	return false
}
