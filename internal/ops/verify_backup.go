package ops

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/stash/internal/db"
)

// sqliteHeader is the magic string at offset 0 of every SQLite 3 database.
var sqliteHeader = []byte("SQLite format 3\x00")

// VerifyOptions controls VerifyBackup.
type VerifyOptions struct {
	// SkipRestoreTest skips copying the backup and opening the copy.
	SkipRestoreTest bool
}

// VerifyOutput is the result of VerifyBackup.
type VerifyOutput struct {
	Path                 string   `json:"path"`
	Success              bool     `json:"success"`
	IntegrityCheckPassed bool     `json:"integrity_check_passed"`
	TablesPresent        []string `json:"tables_present"`
	MissingTables        []string `json:"missing_tables"`
	RestoreTested        bool     `json:"restore_tested"`
	Error                string   `json:"error,omitempty"`
	DurationMS           int64    `json:"duration_ms"`
}

// VerifyBackup checks that the file at path is a structurally sound ledger
// backup. Bad input is reported in the output, never as an error or panic.
func VerifyBackup(ctx context.Context, path string, opts VerifyOptions) (out *VerifyOutput) {
	start := time.Now()
	out = &VerifyOutput{Path: path, TablesPresent: []string{}, MissingTables: []string{}}
	defer func() {
		if r := recover(); r != nil {
			out.Success = false
			out.Error = fmt.Sprintf("verification aborted: %v", r)
		}
		out.DurationMS = time.Since(start).Milliseconds()
	}()

	if strings.TrimSpace(path) == "" {
		out.Error = "backup path is required"
		return out
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Error = fmt.Sprintf("backup file not found: %s", path)
		} else {
			out.Error = fmt.Sprintf("cannot stat backup: %v", err)
		}
		return out
	}
	if info.IsDir() {
		out.Error = fmt.Sprintf("backup path is a directory, file is not a database: %s", path)
		return out
	}

	if err := checkSQLiteHeader(path); err != nil {
		out.Error = err.Error()
		return out
	}

	integrityOK, present, missing, err := inspectBackup(ctx, path)
	out.IntegrityCheckPassed = integrityOK
	out.TablesPresent = present
	out.MissingTables = missing
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if len(missing) > 0 {
		out.Error = fmt.Sprintf("missing required tables: %s", strings.Join(missing, ", "))
		return out
	}

	if !opts.SkipRestoreTest {
		if err := restoreSmokeTest(ctx, path); err != nil {
			out.Error = fmt.Sprintf("restore test failed: %v", err)
			return out
		}
		out.RestoreTested = true
	}

	out.Success = true
	return out
}

func checkSQLiteHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open backup: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, sqliteHeader) {
		return fmt.Errorf("file is not a database: %s", path)
	}
	return nil
}

// inspectBackup runs the integrity check and looks for the required tables
// over a read-only connection.
func inspectBackup(ctx context.Context, path string) (bool, []string, []string, error) {
	conn, err := db.OpenReadOnly(path)
	if err != nil {
		return false, []string{}, []string{}, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return false, []string{}, []string{}, fmt.Errorf("integrity check failed: %w", err)
	}
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return false, []string{}, []string{}, fmt.Errorf("integrity check failed: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, []string{}, []string{}, fmt.Errorf("integrity check failed: %w", err)
	}
	rows.Close()
	if len(problems) > 0 {
		return false, []string{}, []string{}, fmt.Errorf("integrity check failed: %s", strings.Join(problems, "; "))
	}

	present := []string{}
	missing := []string{}
	for _, table := range db.RequiredTables {
		var name string
		err := conn.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		switch {
		case err == sql.ErrNoRows:
			missing = append(missing, table)
		case err != nil:
			return true, present, missing, fmt.Errorf("table check failed: %w", err)
		default:
			present = append(present, table)
		}
	}
	return true, present, missing, nil
}

// restoreSmokeTest copies the backup into a scratch directory, opens the
// copy and reads from it, leaving the original untouched.
func restoreSmokeTest(ctx context.Context, path string) error {
	dir, err := os.MkdirTemp("", "stash-restore-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	restored := filepath.Join(dir, db.FileName)
	if err := copyFile(path, restored); err != nil {
		return err
	}

	conn, err := db.OpenReadOnly(restored)
	if err != nil {
		return err
	}
	defer conn.Close()

	var n int
	return conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures").Scan(&n)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
