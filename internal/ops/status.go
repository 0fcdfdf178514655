package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/health"
)

// StatusOutput summarizes the ledger.
type StatusOutput struct {
	Counts        map[capture.Status]int `json:"counts"`
	Total         int                    `json:"total"`
	Recoverable   int                    `json:"recoverable"`
	Quarantined   int                    `json:"quarantined"`
	DLQErrors     int                    `json:"dlq_errors"`
	ExportAudits  int                    `json:"export_audits"`
	Backup        health.State           `json:"backup"`
	PollingHalted bool                   `json:"polling_halted"`
}

// Status reports capture counts per status, backup health and whether auth
// failures have halted polling.
func Status(ctx context.Context, database *sql.DB) (*StatusOutput, error) {
	counts, err := db.CountByStatus(ctx, database)
	if err != nil {
		return nil, err
	}
	quarantined, err := db.CountQuarantined(ctx, database)
	if err != nil {
		return nil, err
	}
	dlq, err := db.ListErrorLogs(ctx, database, db.ErrorLogFilter{DLQOnly: true})
	if err != nil {
		return nil, err
	}
	audits, err := db.CountExportAudits(ctx, database)
	if err != nil {
		return nil, err
	}
	backup, err := LoadVerificationState(ctx, database)
	if err != nil {
		return nil, err
	}
	halted, err := PollingHalted(ctx, database)
	if err != nil {
		return nil, err
	}

	out := &StatusOutput{
		Counts:        counts,
		Quarantined:   quarantined,
		DLQErrors:     len(dlq),
		ExportAudits:  audits,
		Backup:        backup,
		PollingHalted: halted,
	}
	for status, n := range counts {
		out.Total += n
		if !capture.IsTerminal(status) {
			out.Recoverable += n
		}
	}
	// Quarantined captures are never terminal and never recovered.
	out.Recoverable -= quarantined
	return out, nil
}
