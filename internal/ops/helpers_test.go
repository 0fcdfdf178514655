package ops

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/logging"
)

type testEnv struct {
	db  *sql.DB
	cfg *config.Config
	dir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	database, err := db.Init(filepath.Join(dir, "base"))
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.VaultRoot = filepath.Join(dir, "vault")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.SkipRestoreSmokeTest = false

	return &testEnv{db: database, cfg: cfg, dir: dir}
}

// seed inserts a capture directly, bypassing Stage, so tests control
// timestamps, status and meta.
func (e *testEnv) seed(t *testing.T, c *capture.Capture) *capture.Capture {
	t.Helper()
	if c.ID == "" {
		id, err := capture.NewID(c.CreatedAt)
		if err != nil {
			t.Fatalf("NewID failed: %v", err)
		}
		c.ID = id
	}
	if c.Status == "" {
		c.Status = capture.StatusStaged
	}
	if err := db.Insert(context.Background(), e.db, c); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return c
}

func (e *testEnv) email(t *testing.T, body string, age time.Duration) *capture.Capture {
	t.Helper()
	at := time.Now().UTC().Add(-age)
	return e.seed(t, &capture.Capture{
		Source:     capture.SourceEmail,
		RawContent: body,
		Meta:       capture.Meta{MessageID: "msg-" + body},
		CreatedAt:  at,
		UpdatedAt:  at,
	})
}

func (e *testEnv) voice(t *testing.T, audioPath string, age time.Duration) *capture.Capture {
	t.Helper()
	at := time.Now().UTC().Add(-age)
	return e.seed(t, &capture.Capture{
		Source:     capture.SourceVoice,
		RawContent: audioPath,
		Meta:       capture.Meta{FilePath: audioPath},
		CreatedAt:  at,
		UpdatedAt:  at,
	})
}

func (e *testEnv) get(t *testing.T, id string) *capture.Capture {
	t.Helper()
	c, err := db.GetByID(context.Background(), e.db, id)
	if err != nil {
		t.Fatalf("GetByID(%s) failed: %v", id, err)
	}
	return c
}

func writeAudio(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

type stubTranscriber struct {
	text  string
	err   error
	calls int
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.text, s.err
}

type stubDownloader struct {
	result DownloadResult
}

func (s stubDownloader) DownloadIfNeeded(_ context.Context, _ string) DownloadResult {
	return s.result
}

func quietRecover(input RecoverInput) RecoverInput {
	if input.Logger == nil {
		input.Logger = logging.Discard()
	}
	return input
}

// assertHashInvariant checks that content_hash is NULL exactly for the
// statuses that never bind one.
func assertHashInvariant(t *testing.T, database *sql.DB) {
	t.Helper()
	items, _, err := db.ListCaptures(context.Background(), database, db.ListFilter{})
	if err != nil {
		t.Fatalf("ListCaptures failed: %v", err)
	}
	for _, c := range items {
		if capture.HoldsContentHash(c.Status) != (c.ContentHash != nil) {
			t.Errorf("capture %s: status %s with hash %v", c.ID, c.Status, c.ContentHash)
		}
	}
}

func stringPtr(s string) *string {
	return &s
}
