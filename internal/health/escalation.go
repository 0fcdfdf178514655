// Package health tracks backup verification outcomes and derives the
// escalation status that gates destructive maintenance.
package health

import (
	"encoding/json"
	"time"
)

// SyncStateKey is the sync_state key holding the serialized State.
const SyncStateKey = "backup_verification_state"

// Status is the escalation level.
type Status string

const (
	StatusHealthy        Status = "HEALTHY"
	StatusWarn           Status = "WARN"
	StatusDegradedBackup Status = "DEGRADED_BACKUP"
	StatusHaltPruning    Status = "HALT_PRUNING"
)

// StatusFor maps a consecutive failure count to its escalation level.
func StatusFor(consecutiveFailures int) Status {
	switch {
	case consecutiveFailures <= 0:
		return StatusHealthy
	case consecutiveFailures == 1:
		return StatusWarn
	case consecutiveFailures == 2:
		return StatusDegradedBackup
	default:
		return StatusHaltPruning
	}
}

// State is the persisted verification record. Status is always derived from
// ConsecutiveFailures; a stored status is ignored on read.
type State struct {
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	LastSuccessTimestamp *string `json:"last_success_timestamp"`
	LastFailureTimestamp *string `json:"last_failure_timestamp"`
	Status               Status  `json:"status"`
}

// Default is the state of a ledger that has never been verified.
func Default() State {
	return State{Status: StatusHealthy}
}

// RecordSuccess resets the failure streak regardless of its length.
func (s State) RecordSuccess(at time.Time) State {
	ts := formatTime(at)
	s.ConsecutiveFailures = 0
	s.LastSuccessTimestamp = &ts
	s.Status = StatusHealthy
	return s
}

// RecordFailure extends the failure streak by one.
func (s State) RecordFailure(at time.Time) State {
	ts := formatTime(at)
	if s.ConsecutiveFailures < 0 {
		s.ConsecutiveFailures = 0
	}
	s.ConsecutiveFailures++
	s.LastFailureTimestamp = &ts
	s.Status = StatusFor(s.ConsecutiveFailures)
	return s
}

// PruningAllowed reports whether retention cleanup may delete captures.
func (s State) PruningAllowed() bool {
	return StatusFor(s.ConsecutiveFailures) != StatusHaltPruning
}

// Parse decodes a stored blob. An empty or unparsable blob yields Default.
func Parse(raw string) State {
	if raw == "" {
		return Default()
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Default()
	}
	if s.ConsecutiveFailures < 0 {
		s.ConsecutiveFailures = 0
	}
	s.Status = StatusFor(s.ConsecutiveFailures)
	return s
}

// Marshal encodes the state for sync_state.
func (s State) Marshal() (string, error) {
	s.Status = StatusFor(s.ConsecutiveFailures)
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
