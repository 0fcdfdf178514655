package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/stash/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the ledger file inside the base directory.
const FileName = "stash.db"

// RequiredTables are the tables every ledger (and every backup of one) must contain.
var RequiredTables = []string{"captures", "errors_log", "sync_state", "exports_audit"}

// Init initializes the SQLite ledger at baseDir/stash.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.stash.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	dbPath := filepath.Join(baseDir, FileName)
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// Open opens (creating if needed) a ledger file and migrates it.
func Open(dbPath string) (*sql.DB, error) {
	// Pragmas in the connection string apply to every pooled connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenReadOnly opens an existing database file without write access and
// without running migrations. Used to inspect backups.
func OpenReadOnly(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database read-only: %w", err)
	}
	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS captures (
		  id           TEXT PRIMARY KEY CHECK (length(id) = 26),
		  source       TEXT NOT NULL CHECK (source IN ('voice', 'email')),
		  raw_content  TEXT NOT NULL,
		  content_hash TEXT,
		  status       TEXT NOT NULL CHECK (status IN (
		                 'staged', 'transcribed', 'failed_transcription',
		                 'exported', 'exported_duplicate', 'exported_placeholder')),
		  meta_json    TEXT NOT NULL DEFAULT '{}',
		  created_at   TEXT NOT NULL,
		  updated_at   TEXT NOT NULL,
		  CHECK (CASE
		    WHEN status IN ('staged', 'failed_transcription', 'exported_placeholder')
		      THEN content_hash IS NULL
		    ELSE content_hash IS NOT NULL
		  END)
		);

		CREATE INDEX IF NOT EXISTS idx_captures_status_created
		ON captures(status, created_at);

		CREATE INDEX IF NOT EXISTS idx_captures_content_hash
		ON captures(content_hash)
		WHERE content_hash IS NOT NULL;

		CREATE TRIGGER IF NOT EXISTS trg_captures_terminal_immutable
		BEFORE UPDATE ON captures
		WHEN OLD.status IN ('exported', 'exported_duplicate', 'exported_placeholder')
		BEGIN
		  SELECT RAISE(ABORT, 'terminal capture is immutable');
		END;

		CREATE TRIGGER IF NOT EXISTS trg_captures_hash_write_once
		BEFORE UPDATE OF content_hash ON captures
		WHEN OLD.content_hash IS NOT NULL
		  AND (NEW.content_hash IS NULL OR NEW.content_hash <> OLD.content_hash)
		BEGIN
		  SELECT RAISE(ABORT, 'content_hash is write-once');
		END;

		CREATE TABLE IF NOT EXISTS errors_log (
		  id                TEXT PRIMARY KEY,
		  capture_id        TEXT REFERENCES captures(id) ON DELETE SET NULL,
		  operation         TEXT NOT NULL CHECK (operation IN (
		                      'poll', 'transcribe', 'export', 'auth', 'cursor_bootstrap')),
		  error_type        TEXT NOT NULL,
		  message           TEXT NOT NULL,
		  stack_trace       TEXT,
		  context_json      TEXT,
		  attempt_count     INTEGER NOT NULL DEFAULT 0,
		  escalation_action TEXT,
		  dlq               INTEGER NOT NULL DEFAULT 0 CHECK (dlq IN (0, 1)),
		  created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_errors_log_capture
		ON errors_log(capture_id)
		WHERE capture_id IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_errors_log_dlq
		ON errors_log(created_at)
		WHERE dlq = 1;

		CREATE TABLE IF NOT EXISTS sync_state (
		  key        TEXT PRIMARY KEY,
		  value      TEXT NOT NULL,
		  updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS exports_audit (
		  id           TEXT PRIMARY KEY,
		  capture_id   TEXT REFERENCES captures(id) ON DELETE SET NULL,
		  vault_path   TEXT NOT NULL,
		  content_hash TEXT,
		  mode         TEXT NOT NULL CHECK (mode IN ('initial', 'duplicate_skip', 'placeholder')),
		  exported_at  TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_exports_audit_capture
		ON exports_audit(capture_id)
		WHERE capture_id IS NOT NULL;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
