package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval backs up fsnotify: a mount over an existing directory
// produces no event on the parent.
var pollInterval = 2 * time.Second

var errWatcherClosed = errors.New("file watcher closed")

// WaitForPath blocks until path exists or ctx is done. It watches the nearest
// existing ancestor and follows newly created directories down towards path.
func WaitForPath(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if exists(path) {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(nearestAncestor(path)); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		// The path may have appeared between the first check and Add.
		if exists(path) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// A parent of path appeared; watch it for the next level.
			if event.Name != path && strings.HasPrefix(path, event.Name+string(filepath.Separator)) {
				w.Add(event.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			return err

		case <-ticker.C:
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func nearestAncestor(path string) string {
	dir := filepath.Dir(path)
	for !exists(dir) {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return dir
}
