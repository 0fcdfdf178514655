package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// PruneInput contains parameters for the Prune operation.
type PruneInput struct {
	OlderThanDays *int // optional, defaults to the configured retention
	DryRun        bool
}

// PruneOutput contains the result of the Prune operation.
type PruneOutput struct {
	Pruned  int    `json:"pruned"`
	DryRun  bool   `json:"dry_run"`
	Message string `json:"message"`
}

// Prune permanently deletes terminal captures older than the retention
// window. It is refused while backup verification has halted pruning.
// Error log and export audit rows are kept with their capture reference cleared.
func Prune(ctx context.Context, database *sql.DB, cfg *config.Config, input PruneInput) (*PruneOutput, error) {
	days := cfg.RetentionDays
	if input.OlderThanDays != nil {
		days = *input.OlderThanDays
	}
	if days < 0 {
		return nil, errors.NewInvalidRequest("older_than_days must not be negative")
	}
	cutoff := nowUTC().Add(-time.Duration(days) * 24 * time.Hour)

	state, err := LoadVerificationState(ctx, database)
	if err != nil {
		return nil, err
	}
	if !state.PruningAllowed() {
		return nil, errors.NewPruningHalted(string(state.Status), state.ConsecutiveFailures)
	}

	if input.DryRun {
		n, err := db.CountPrunable(ctx, database, cutoff)
		if err != nil {
			return nil, err
		}
		return &PruneOutput{Pruned: n, DryRun: true, Message: formatPruneMessage(n, days, true)}, nil
	}

	var pruned int64
	err = db.WithTx(ctx, database, func(tx *sql.Tx) error {
		// Re-check inside the write transaction.
		current, err := LoadVerificationState(ctx, tx)
		if err != nil {
			return err
		}
		if !current.PruningAllowed() {
			return errors.NewPruningHalted(string(current.Status), current.ConsecutiveFailures)
		}
		pruned, err = db.PruneTerminal(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &PruneOutput{Pruned: int(pruned), Message: formatPruneMessage(int(pruned), days, false)}, nil
}

// formatPruneMessage creates a human-readable message for the prune result.
func formatPruneMessage(count, days int, dryRun bool) string {
	if count == 0 {
		return "No terminal captures to prune"
	}

	captureWord := "capture"
	if count > 1 {
		captureWord = "captures"
	}

	verb := "Permanently deleted"
	if dryRun {
		verb = "Would delete"
	}
	return fmt.Sprintf("%s %d terminal %s (last updated more than %d days ago)", verb, count, captureWord, days)
}
