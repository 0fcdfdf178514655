package ops

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/health"
)

// BackupFilePrefix starts every generated backup file name.
const BackupFilePrefix = "stash-"

// CreateBackupInput contains parameters for the CreateBackup operation.
type CreateBackupInput struct {
	// Path is the destination file. Empty means a timestamped file in the
	// configured backup directory.
	Path string
}

// CreateBackupOutput contains the result of the CreateBackup operation.
type CreateBackupOutput struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
}

// CreateBackup writes a consistent snapshot of the ledger with VACUUM INTO.
// An existing destination is never overwritten.
func CreateBackup(ctx context.Context, database *sql.DB, cfg *config.Config, input CreateBackupInput) (*CreateBackupOutput, error) {
	now := nowUTC()

	path := strings.TrimSpace(input.Path)
	if path == "" {
		if cfg.BackupDir == "" {
			return nil, errors.NewInvalidRequest("backup_dir is not configured")
		}
		if err := os.MkdirAll(cfg.BackupDir, 0700); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("create backup directory: %w", err))
		}
		path = filepath.Join(cfg.BackupDir, BackupFilePrefix+now.Format("20060102T150405.000Z")+".db")
	}

	if err := ValidateBackupPath(path, PathCheckWrite, cfg); err != nil {
		return nil, err
	}
	if _, err := os.Lstat(path); err == nil {
		return nil, errors.NewConflict(fmt.Sprintf("backup already exists: %s", path))
	}

	if _, err := database.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("vacuum into %s: %w", path, err))
	}
	_ = os.Chmod(path, 0600)

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return &CreateBackupOutput{
		Path:      path,
		SizeBytes: info.Size(),
		CreatedAt: now.Format("2006-01-02T15:04:05.000Z"),
	}, nil
}

// LoadVerificationState reads the backup verification state. A missing or
// unparsable record reads as the default state.
func LoadVerificationState(ctx context.Context, q db.DBTX) (health.State, error) {
	raw, _, err := db.GetSyncState(ctx, q, health.SyncStateKey)
	if err != nil {
		return health.Default(), err
	}
	return health.Parse(raw), nil
}

func saveVerificationState(ctx context.Context, q db.DBTX, s health.State) error {
	raw, err := s.Marshal()
	if err != nil {
		return errors.NewInternal(err)
	}
	return db.SetSyncState(ctx, q, health.SyncStateKey, raw, nowUTC())
}

// RecordVerificationSuccess resets the verification failure streak.
func RecordVerificationSuccess(ctx context.Context, database *sql.DB) (health.State, error) {
	return updateVerificationState(ctx, database, func(s health.State) health.State {
		return s.RecordSuccess(nowUTC())
	})
}

// RecordVerificationFailure extends the verification failure streak.
func RecordVerificationFailure(ctx context.Context, database *sql.DB) (health.State, error) {
	return updateVerificationState(ctx, database, func(s health.State) health.State {
		return s.RecordFailure(nowUTC())
	})
}

func updateVerificationState(ctx context.Context, database *sql.DB, apply func(health.State) health.State) (health.State, error) {
	var next health.State
	err := db.WithTx(ctx, database, func(tx *sql.Tx) error {
		current, err := LoadVerificationState(ctx, tx)
		if err != nil {
			return err
		}
		next = apply(current)
		return saveVerificationState(ctx, tx, next)
	})
	if err != nil {
		return health.Default(), err
	}
	return next, nil
}

// VerifyAndRecordOutput pairs a verification with the resulting health state.
type VerifyAndRecordOutput struct {
	Verification *VerifyOutput `json:"verification"`
	Health       health.State  `json:"health"`
}

// VerifyAndRecord verifies the backup at path and records the outcome.
// An empty path verifies the newest backup in the backup directory; an
// empty backup directory is recorded as a failure.
func VerifyAndRecord(ctx context.Context, database *sql.DB, cfg *config.Config, path string) (*VerifyAndRecordOutput, error) {
	var result *VerifyOutput
	if strings.TrimSpace(path) == "" {
		latest, err := LatestBackup(cfg)
		switch {
		case errors.Is(err, errors.ErrFileNotFound):
			// No backup to verify counts as a failed verification.
			result = &VerifyOutput{
				Path:  cfg.BackupDir,
				Error: "backup file not found: no backups in " + cfg.BackupDir,
			}
		case err != nil:
			return nil, err
		default:
			path = latest
		}
	}
	if result == nil {
		result = VerifyBackup(ctx, path, VerifyOptions{SkipRestoreTest: cfg.SkipRestoreSmokeTest})
	}

	var (
		state health.State
		err   error
	)
	if result.Success {
		state, err = RecordVerificationSuccess(ctx, database)
	} else {
		state, err = RecordVerificationFailure(ctx, database)
	}
	if err != nil {
		return nil, err
	}
	return &VerifyAndRecordOutput{Verification: result, Health: state}, nil
}

// LatestBackup returns the newest generated backup in the backup directory.
// Generated names sort chronologically.
func LatestBackup(cfg *config.Config) (string, error) {
	if cfg.BackupDir == "" {
		return "", errors.NewInvalidRequest("backup_dir is not configured")
	}
	matches, err := filepath.Glob(filepath.Join(cfg.BackupDir, BackupFilePrefix+"*.db"))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if len(matches) == 0 {
		return "", errors.NewFileNotFound(filepath.Join(cfg.BackupDir, BackupFilePrefix+"*.db"))
	}
	latest := matches[0]
	for _, m := range matches[1:] {
		if m > latest {
			latest = m
		}
	}
	return latest, nil
}

// BackupStatusOutput contains the result of BackupStatus.
type BackupStatusOutput struct {
	health.State
	PruningAllowed bool `json:"pruning_allowed"`
}

// BackupStatus reports the current backup health.
func BackupStatus(ctx context.Context, database *sql.DB) (*BackupStatusOutput, error) {
	state, err := LoadVerificationState(ctx, database)
	if err != nil {
		return nil, err
	}
	return &BackupStatusOutput{State: state, PruningAllowed: state.PruningAllowed()}, nil
}
