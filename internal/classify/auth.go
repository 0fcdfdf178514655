package classify

import (
	"strconv"
	"strings"
)

// MaxConsecutiveAuthFailures is the last failure count at which polling
// continues. The next failure halts it.
const MaxConsecutiveAuthFailures = 5

// AuthState is a snapshot of the consecutive auth failure counter. Callers
// load it from the ledger, apply one event, and write it back.
type AuthState struct {
	ConsecutiveFailures int
}

// RecordFailure returns the state after one more failure.
func (s AuthState) RecordFailure() AuthState {
	return AuthState{ConsecutiveFailures: s.ConsecutiveFailures + 1}
}

// RecordSuccess returns the reset state.
func (s AuthState) RecordSuccess() AuthState {
	return AuthState{}
}

// HaltPolling reports whether polling must stop.
func (s AuthState) HaltPolling() bool {
	return s.ConsecutiveFailures > MaxConsecutiveAuthFailures
}

// String encodes the counter for sync_state.
func (s AuthState) String() string {
	return strconv.Itoa(s.ConsecutiveFailures)
}

// ParseAuthState decodes a stored counter. Missing or invalid values read as zero.
func ParseAuthState(value string) AuthState {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return AuthState{}
	}
	return AuthState{ConsecutiveFailures: n}
}
