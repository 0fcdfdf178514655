//go:build windows

package vault

import (
	"os"

	"github.com/hpungsan/stash/internal/errors"
)

// openFileNoFollow opens a file for writing. O_NOFOLLOW does not exist on
// Windows; Export rejects a symlinked destination before renaming.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

// openFileNoFollowRead opens an existing artifact for reading.
func openFileNoFollowRead(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, err
	}
	return f, nil
}
