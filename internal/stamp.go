package internal

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// SafeRename renames oldPath to newPath, appending _1.._9 to the stem when
// newPath is taken. It returns the path actually used.
func SafeRename(fs afero.Fs, oldPath, newPath string) (string, error) {
	ext := filepath.Ext(newPath)
	stem := strings.TrimSuffix(newPath, ext)

	candidate := newPath
	for i := 1; ; i++ {
		exists, err := afero.Exists(fs, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		if i > maxCollisionSuffix {
			return "", fmt.Errorf("%s: %w", filepath.Base(newPath), ErrCollisionOverflow)
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	if err := fs.Rename(oldPath, candidate); err != nil {
		return "", fmt.Errorf("failed to rename %s: %w", filepath.Base(oldPath), err)
	}
	return candidate, nil
}

// Rename is one stamped file.
type Rename struct {
	From string
	To   string
}

// StampResult lists what StampDir did.
type StampResult struct {
	Renamed []Rename
	Skipped []string
	Failed  []string
}

// Stamper prefixes files in place with their resolved capture date.
type Stamper struct {
	Fs        afero.Fs
	Extractor *Extractor
	Resolver  *DateResolver
	Decisions DecisionProvider
	Formats   *Formats
	Logger    logrus.FieldLogger

	// Long stamps with date and time (2006-01-02T150405).
	Long bool
	// OriginalPrefix names camera files; others are confirmed first.
	OriginalPrefix string
	Interactive    bool
}

func (s *Stamper) layout() string {
	if s.Long {
		return DateTimeFormat
	}
	return DateFormat
}

// StampDir renames every media file of dir (not recursive) to
// "<stamp>_<name>" in natural order. Already stamped names and sidecars are
// left alone.
func (s *Stamper) StampDir(dir string) (*StampResult, error) {
	names, err := ListFiles(s.Fs, dir)
	if err != nil {
		return nil, err
	}

	res := &StampResult{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if HasDatePrefix(name) || s.Formats.IsSidecar(name) || !s.Formats.IsMedia(name) {
			res.Skipped = append(res.Skipped, path)
			continue
		}

		if s.OriginalPrefix != "" && !strings.HasPrefix(name, s.OriginalPrefix) {
			ok, err := s.Decisions.Confirm(fmt.Sprintf("%s does not look like a camera file. Stamp it anyway?", name))
			if err != nil {
				return res, err
			}
			if !ok {
				res.Skipped = append(res.Skipped, path)
				continue
			}
		}

		to, err := s.stamp(path)
		switch {
		case errors.Is(err, ErrSkipItem):
			res.Skipped = append(res.Skipped, path)
		case errors.Is(err, ErrAborted), errors.Is(err, ErrCollisionOverflow):
			return res, err
		case err != nil:
			s.Logger.WithField("path", path).Errorf("stamp failed: %v", err)
			res.Failed = append(res.Failed, path)
		default:
			s.Logger.WithField("path", path).Infof("renamed to %s", filepath.Base(to))
			res.Renamed = append(res.Renamed, Rename{From: path, To: to})
		}
	}
	return res, nil
}

func (s *Stamper) stamp(path string) (string, error) {
	bundle, modTime, err := s.Extractor.Extract(path)
	if err != nil {
		return "", err
	}
	r, err := s.Resolver.Resolve(path, FormatOf(path), bundle, modTime, s.Interactive)
	if err != nil {
		return "", err
	}
	if !r.Resolved() {
		return "", ErrSkipItem
	}
	name := r.Time.Format(s.layout()) + "_" + filepath.Base(path)
	return SafeRename(s.Fs, path, filepath.Join(filepath.Dir(path), name))
}
