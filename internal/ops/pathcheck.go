package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/errors"
)

// PathCheckMode indicates whether the path check is for reading or writing.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // verifying an existing backup
	PathCheckWrite                      // creating a backup
)

// BackupExt is the required extension of backup files.
const BackupExt = ".db"

// ValidateBackupPath checks a backup destination or source:
// 1. Path traversal (.. sequences)
// 2. Extension (.db required)
// 3. Directory restriction (file must be DIRECTLY in the backup directory)
// 4. Symlink safety (neither the parent directory nor the file may be a symlink)
//
// Requiring the file to sit directly in the backup directory means no
// intermediate component can be swapped for a symlink between check and use.
func ValidateBackupPath(path string, mode PathCheckMode, cfg *config.Config) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}

	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != BackupExt {
		return errors.NewInvalidRequest("path must have " + BackupExt + " extension")
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	backupDir, err := resolvedBackupDir(cfg)
	if err != nil {
		return err
	}

	parentDir := filepath.Dir(absPath)
	if filepath.Clean(parentDir) != backupDir {
		return errors.NewInvalidRequest(
			fmt.Sprintf("file must be directly in the backup directory (no subdirectories); allowed: %s", backupDir))
	}

	if info, err := os.Lstat(parentDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("parent directory must not be a symlink")
	}

	if mode == PathCheckRead {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return errors.NewFileNotFound(path)
		}
	}

	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}

	return nil
}

// resolvedBackupDir returns the configured backup directory, absolute and
// with a symlinked directory resolved to its target.
func resolvedBackupDir(cfg *config.Config) (string, error) {
	if cfg == nil || cfg.BackupDir == "" {
		return "", errors.NewInvalidRequest("backup_dir is not configured")
	}
	abs, err := filepath.Abs(filepath.Clean(cfg.BackupDir))
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid backup_dir: %v", err))
	}
	if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in backup_dir: %v", err))
		}
		abs = resolved
	}
	return abs, nil
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
