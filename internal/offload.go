package internal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/maruel/natural"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var offloadDirRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// OffloadResult summarizes one raw offload.
type OffloadResult struct {
	Dir           string
	Previous      string // previous offload directory, "" on the first run
	Overlap       string // capture folder shared with the previous offload
	Copied        int
	Skipped       int
	Bytes         int64
	Failed        []string
	Converted     []string
	ConvertFailed []string
}

// Offloader copies the device into <raw>/<YYYY-MM-DD>/<capture folder>/.
//
// The last capture folder of the previous offload is the overlap folder: the
// phone keeps adding to it, so only files missing from the previous copy are
// taken. Older capture folders were offloaded whole last time and are skipped.
type Offloader struct {
	Source    MediaSource
	Fs        afero.Fs
	RawRoot   string
	Clock     Clock
	Decisions DecisionProvider
	Formats   *Formats
	Logger    logrus.FieldLogger

	// Converter, when set, runs over each copied folder afterwards.
	Converter       Converter
	DeleteConverted bool

	// OnFile is called after each file is handled, copied or not.
	OnFile func(folder, name string)
}

// Run performs the offload. The dated directory is created with the first
// copied file. Aborting at a reconnect prompt returns ErrAborted and leaves
// the files copied so far in place.
func (o *Offloader) Run(ctx context.Context) (*OffloadResult, error) {
	today := o.Clock.Now().Format(DateFormat)
	target := filepath.Join(o.RawRoot, today)
	if ok, err := afero.DirExists(o.Fs, target); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("offload folder for today already exists: %s", target)
	}
	if err := o.Fs.MkdirAll(o.RawRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", o.RawRoot, err)
	}

	res := &OffloadResult{Dir: target}
	prev, err := o.previousOffload(today)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	if prev != "" {
		res.Previous = filepath.Join(o.RawRoot, prev)
		folders, err := ListDirs(o.Fs, res.Previous)
		if err != nil {
			return nil, fmt.Errorf("failed to list previous offload: %w", err)
		}
		if len(folders) > 0 {
			res.Overlap = folders[len(folders)-1]
			names, err := ListFiles(o.Fs, filepath.Join(res.Previous, res.Overlap))
			if err != nil {
				return nil, fmt.Errorf("failed to list overlap folder: %w", err)
			}
			for _, n := range names {
				seen[n] = true
			}
		}
	}
	o.Logger.Infof("offloading into %s (previous %q, overlap %q)", target, prev, res.Overlap)

	var folders []string
	if err := o.withReconnect(func() error {
		var err error
		folders, err = o.Source.ListCaptureFolders()
		return err
	}); err != nil {
		return res, err
	}

	var written []string
	for _, folder := range folders {
		if res.Overlap != "" && natural.Less(folder, res.Overlap) {
			o.Logger.Debugf("skipping %s, offloaded before", folder)
			continue
		}
		n, err := o.offloadFolder(ctx, folder, target, res, func(name string) bool {
			return folder == res.Overlap && seen[name]
		})
		if n > 0 {
			written = append(written, filepath.Join(target, folder))
		}
		if err != nil {
			return res, err
		}
	}

	if o.Converter != nil {
		for _, dir := range written {
			conv, failed, err := ConvertDir(o.Fs, dir, o.Converter, o.Formats, o.DeleteConverted, o.Logger)
			if err != nil {
				o.Logger.Warnf("conversion pass over %s failed: %v", dir, err)
				continue
			}
			res.Converted = append(res.Converted, conv...)
			res.ConvertFailed = append(res.ConvertFailed, failed...)
		}
	}
	return res, nil
}

// offloadFolder copies one capture folder and returns the number of files
// written into it.
func (o *Offloader) offloadFolder(ctx context.Context, folder, target string, res *OffloadResult, skip func(string) bool) (int, error) {
	var names []string
	if err := o.withReconnect(func() error {
		var err error
		names, err = o.Source.ListFiles(folder)
		return err
	}); err != nil {
		return 0, err
	}

	destDir := filepath.Join(target, folder)
	written := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if skip(name) {
			res.Skipped++
			o.notify(folder, name)
			continue
		}
		if written == 0 {
			if err := o.Fs.MkdirAll(destDir, 0755); err != nil {
				return written, fmt.Errorf("failed to create %s: %w", destDir, err)
			}
		}

		dest := filepath.Join(destDir, name)
		err := o.withReconnect(func() error {
			return o.Source.CopyFile(folder, name, o.Fs, dest)
		})
		switch {
		case errors.Is(err, ErrAborted):
			return written, err
		case err != nil:
			o.Logger.WithField("path", filepath.Join(folder, name)).Errorf("copy failed: %v", err)
			res.Failed = append(res.Failed, filepath.Join(folder, name))
		default:
			written++
			res.Copied++
			if fi, err := o.Fs.Stat(dest); err == nil {
				res.Bytes += fi.Size()
			}
		}
		o.notify(folder, name)
	}
	return written, nil
}

// withReconnect retries fn for as long as the device is lost and the user
// asks to retry.
func (o *Offloader) withReconnect(fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, ErrDeviceDisconnected) {
			return err
		}
		o.Logger.Warnf("device lost: %v", err)
		retry, askErr := o.Decisions.AskReconnect(err)
		if askErr != nil {
			return askErr
		}
		if !retry {
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
	}
}

func (o *Offloader) notify(folder, name string) {
	if o.OnFile != nil {
		o.OnFile(folder, name)
	}
}

// previousOffload is the newest dated directory before today that holds at
// least one capture folder.
func (o *Offloader) previousOffload(today string) (string, error) {
	names, err := ListDirs(o.Fs, o.RawRoot)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", o.RawRoot, err)
	}
	var dated []string
	for _, n := range names {
		if !offloadDirRe.MatchString(n) || n >= today {
			continue
		}
		folders, err := ListDirs(o.Fs, filepath.Join(o.RawRoot, n))
		if err != nil {
			return "", fmt.Errorf("failed to list %s: %w", n, err)
		}
		if len(folders) == 0 {
			o.Logger.Debugf("ignoring empty offload %s", n)
			continue
		}
		dated = append(dated, n)
	}
	if len(dated) == 0 {
		return "", nil
	}
	sort.Strings(dated)
	return dated[len(dated)-1], nil
}

// LatestOffload returns the newest dated offload directory, or "" when none.
func LatestOffload(fs afero.Fs, rawRoot string) (string, error) {
	names, err := ListDirs(fs, rawRoot)
	if err != nil {
		return "", err
	}
	latest := ""
	for _, n := range names {
		if offloadDirRe.MatchString(n) && n > latest {
			latest = n
		}
	}
	if latest == "" {
		return "", nil
	}
	return filepath.Join(rawRoot, latest), nil
}
