package internal

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// captionFields are the tags a caption can live in, in reading order.
// File:Comment is what `exiftool -Comment=...` writes.
var captionFields = []string{
	"EXIF:ImageDescription",
	"IPTC:Caption-Abstract",
	"QuickTime:Comment",
	"XMP:Description",
	"PNG:Comment",
	"File:Comment",
}

// maxNameLength is the longest file name ext4 accepts, in bytes.
const maxNameLength = 255

var captionReplacer = strings.NewReplacer("/", "_", " ", "_")

// Captions returns the distinct non-blank captions of b.
func Captions(b MetadataBundle) []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range captionFields {
		v, ok := b.Get(f)
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Captioner appends embedded captions to file names:
// "IMG_0001.JPG" with caption "Beach day" becomes "IMG_0001_Beach_day.JPG".
type Captioner struct {
	Fs        afero.Fs
	Extractor *Extractor
	Decisions DecisionProvider
	Formats   *Formats
	Logger    logrus.FieldLogger

	// Prompt asks before each rename.
	Prompt bool
}

// CaptionDir captions every media file of dir (not recursive).
func (c *Captioner) CaptionDir(dir string) (*StampResult, error) {
	names, err := ListFiles(c.Fs, dir)
	if err != nil {
		return nil, err
	}

	res := &StampResult{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if c.Formats.IsSidecar(name) || !c.Formats.IsMedia(name) {
			res.Skipped = append(res.Skipped, path)
			continue
		}

		to, err := c.Caption(path)
		switch {
		case errors.Is(err, ErrSkipItem):
			res.Skipped = append(res.Skipped, path)
		case errors.Is(err, ErrAborted), errors.Is(err, ErrCollisionOverflow):
			return res, err
		case err != nil:
			c.Logger.WithField("path", path).Errorf("caption failed: %v", err)
			res.Failed = append(res.Failed, path)
		default:
			c.Logger.WithField("path", path).Infof("renamed to %s", filepath.Base(to))
			res.Renamed = append(res.Renamed, Rename{From: path, To: to})
		}
	}
	return res, nil
}

// Caption renames path to carry its caption and returns the new path.
// ErrSkipItem means the name was left alone.
func (c *Captioner) Caption(path string) (string, error) {
	name := filepath.Base(path)
	log := c.Logger.WithField("path", path)

	bundle, _, err := c.Extractor.Extract(path)
	if err != nil {
		return "", err
	}

	captions := Captions(bundle)
	switch len(captions) {
	case 0:
		return "", ErrSkipItem
	case 1:
	default:
		log.Warnf("%d different captions: %q", len(captions), captions)
		if err := c.Decisions.Pause(fmt.Sprintf("Found different captions in several tags of %s. Unhandled case, name left as is.", name)); err != nil {
			return "", err
		}
		return "", ErrSkipItem
	}
	caption := captions[0]

	switch {
	case len(caption) > maxNameLength-len(name)-1:
		log.Warnf("caption %q too long to append to the file name", caption)
		return "", ErrSkipItem
	case strings.Contains(strings.ToLower(caption), "http"):
		log.Warnf("caption %q looks like a URL, not appended", caption)
		return "", ErrSkipItem
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	suffix := "_" + captionReplacer.Replace(caption)
	if strings.HasSuffix(stem, suffix) {
		return "", ErrSkipItem
	}

	if c.Prompt {
		ok, err := c.Decisions.Confirm(fmt.Sprintf("Caption found in %s:\n\t%q\nAppend to file name?", name, caption))
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrSkipItem
		}
	}
	return SafeRename(c.Fs, path, filepath.Join(filepath.Dir(path), stem+suffix+ext))
}
