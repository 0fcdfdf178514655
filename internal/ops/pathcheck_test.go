package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/errors"
)

func backupConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")
	if err := os.MkdirAll(cfg.BackupDir, 0700); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidateBackupPath_TraversalRejected(t *testing.T) {
	cfg := backupConfig(t)

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../backup.db"},
		{"deep traversal", "../../etc/backup.db"},
		{"mid-path traversal", cfg.BackupDir + "/../backup.db"},
		{"hidden in path", cfg.BackupDir + "/sub/../../../etc/shadow.db"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBackupPath(tc.path, PathCheckWrite, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidateBackupPath_ExtensionRequired(t *testing.T) {
	cfg := backupConfig(t)

	for _, name := range []string{"backup", "backup.jsonl", "backup.sqlite", "backup.db.txt"} {
		t.Run(name, func(t *testing.T) {
			err := ValidateBackupPath(filepath.Join(cfg.BackupDir, name), PathCheckWrite, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidateBackupPath_DirectoryRestriction(t *testing.T) {
	cfg := backupConfig(t)

	outside := filepath.Join(t.TempDir(), "backup.db")
	if err := ValidateBackupPath(outside, PathCheckWrite, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("outside backup dir: got %v", err)
	}

	nested := filepath.Join(cfg.BackupDir, "nested", "backup.db")
	if err := ValidateBackupPath(nested, PathCheckWrite, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("subdirectory: got %v", err)
	}

	if err := ValidateBackupPath(filepath.Join(cfg.BackupDir, "backup.db"), PathCheckWrite, cfg); err != nil {
		t.Errorf("direct child rejected: %v", err)
	}
}

func TestValidateBackupPath_ReadMode(t *testing.T) {
	cfg := backupConfig(t)
	path := filepath.Join(cfg.BackupDir, "stash-1.db")

	if err := ValidateBackupPath(path, PathCheckRead, cfg); !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("missing file: got %v, want FILE_NOT_FOUND", err)
	}

	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateBackupPath(path, PathCheckRead, cfg); err != nil {
		t.Errorf("existing file rejected: %v", err)
	}
}

func TestValidateBackupPath_SymlinkFileRejected(t *testing.T) {
	cfg := backupConfig(t)

	target := filepath.Join(t.TempDir(), "real.db")
	if err := os.WriteFile(target, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(cfg.BackupDir, "link.db")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	for _, mode := range []PathCheckMode{PathCheckRead, PathCheckWrite} {
		if err := ValidateBackupPath(link, mode, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("mode %d: got %v, want INVALID_REQUEST", mode, err)
		}
	}
}

func TestValidateBackupPath_SymlinkedBackupDir(t *testing.T) {
	realDir := filepath.Join(t.TempDir(), "real-backups")
	if err := os.MkdirAll(realDir, 0700); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(t.TempDir(), "backups")
	if err := os.Symlink(realDir, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.BackupDir = link

	if err := ValidateBackupPath(filepath.Join(realDir, "b.db"), PathCheckWrite, cfg); err != nil {
		t.Errorf("path in resolved dir rejected: %v", err)
	}
}

func TestValidateBackupPath_Unconfigured(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BackupDir = ""
	if err := ValidateBackupPath("/tmp/b.db", PathCheckWrite, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("got %v", err)
	}
	if err := ValidateBackupPath("", PathCheckWrite, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty path: got %v", err)
	}
}

func TestContainsTraversal(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/b/c.db", false},
		{"/a/..b/c.db", false},
		{"/a/../c.db", true},
		{"..", true},
		{"a/b../c.db", false},
	}
	for _, tc := range tests {
		if got := containsTraversal(tc.path); got != tc.want {
			t.Errorf("containsTraversal(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
