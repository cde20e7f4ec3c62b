package internal

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
)

// getFileModTime is the always-available fallback timestamp.
func getFileModTime(fs afero.Fs, path string) (time.Time, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if fi.IsDir() {
		return time.Time{}, fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}
	return fi.ModTime(), nil
}
