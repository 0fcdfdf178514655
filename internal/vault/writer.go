// Package vault writes terminal capture artifacts into a Markdown vault.
// Every artifact lands at {root}/inbox/{id}.md through a temp file and a
// rename, so a reader never observes a partial file under the final name.
package vault

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/errors"
)

// InboxDir is the vault subdirectory that receives artifacts.
const InboxDir = "inbox"

// ArtifactPath returns the final location of id's artifact under root.
func ArtifactPath(root, id string) string {
	return filepath.Join(root, InboxDir, id+".md")
}

func tempPath(root, id string) string {
	return filepath.Join(root, InboxDir, id+".tmp")
}

// ValidateRoot checks that root is a usable vault location.
func ValidateRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return errors.NewInvalidRequest("vault root is required")
	}
	if containsTraversal(root) {
		return errors.NewInvalidRequest("vault root must not contain directory traversal (..)")
	}
	return nil
}

// WriteAtomic writes content to {root}/inbox/{id}.md via {id}.tmp.
// The inbox directory is created if absent. On any failure the temp file is
// removed before the error is returned.
func WriteAtomic(id, content, root string) (string, error) {
	if !capture.ValidID(id) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid capture id: %q", id))
	}
	if err := ValidateRoot(root); err != nil {
		return "", err
	}

	dir := filepath.Join(root, InboxDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to create inbox directory: %w", err))
	}

	finalPath := ArtifactPath(root, id)
	tmp := tempPath(root, id)

	file, err := openFileNoFollow(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if _, ok := err.(*errors.StashError); ok {
			return "", err
		}
		return "", errors.NewInternal(fmt.Errorf("failed to create temp file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tmp)
		}
	}()

	if _, err := io.WriteString(file, content); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to write artifact: %w", err))
	}
	if err := file.Sync(); err != nil {
		return "", errors.NewInternal(err)
	}

	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to close artifact: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination.
	if info, err := os.Lstat(finalPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("artifact path is a symlink")
	}

	if err := os.Rename(tmp, finalPath); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to finalize artifact: %w", err))
	}

	success = true
	return finalPath, nil
}

// ExportResult describes the outcome of Export.
type ExportResult struct {
	Path string
	// Written is false when an identical artifact already existed.
	Written bool
}

// Export writes an artifact unless one already exists. An existing artifact
// with identical bytes is left untouched and reported as success; one with
// different bytes is a CONFLICT, since terminal artifacts are never replaced.
func Export(root, id, content string) (*ExportResult, error) {
	if !capture.ValidID(id) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid capture id: %q", id))
	}
	if err := ValidateRoot(root); err != nil {
		return nil, err
	}

	finalPath := ArtifactPath(root, id)
	existing, err := readExisting(finalPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if bytes.Equal(existing, []byte(content)) {
			return &ExportResult{Path: finalPath}, nil
		}
		return nil, errors.NewConflict(fmt.Sprintf("artifact %s already exists with different content", finalPath))
	}

	path, err := WriteAtomic(id, content, root)
	if err != nil {
		return nil, err
	}
	return &ExportResult{Path: path, Written: true}, nil
}

// readExisting returns the artifact's bytes, or nil if it does not exist.
func readExisting(path string) ([]byte, error) {
	f, err := openFileNoFollowRead(path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) {
			return nil, nil
		}
		if _, ok := err.(*errors.StashError); ok {
			return nil, err
		}
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to read existing artifact: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to read existing artifact: %w", err))
	}
	return data, nil
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
