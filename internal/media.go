package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maruel/natural"
	"github.com/spf13/afero"
)

const (
	// DateFormat is the prefix stamped on every filed item.
	DateFormat = "2006-01-02"
	// DateTimeFormat is the long stamp used by `camroll stamp --long`.
	DateTimeFormat = "2006-01-02T150405"
	// MonthFormat names month directories.
	MonthFormat = "2006-01"
)

// MediaItem is a file being processed. It lives only for the duration of one
// item; the archive path and name are the only lasting record.
type MediaItem struct {
	Path    string
	Ext     string // upper-case, no dot: "JPG", "MOV"
	ModTime time.Time
	// Date is zero until the item is resolved.
	Date Resolution
}

// Name is the base file name.
func (m *MediaItem) Name() string { return filepath.Base(m.Path) }

// FormatOf returns the upper-case extension used as the format discriminator.
func FormatOf(path string) string {
	return strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Formats classifies files by extension according to the config.
type Formats struct {
	image   map[string]bool
	video   map[string]bool
	sidecar map[string]bool
	convert map[string]bool
}

func NewFormats(cfg *Config) *Formats {
	set := func(exts []string) map[string]bool {
		m := make(map[string]bool, len(exts))
		for _, e := range exts {
			m[strings.ToUpper(strings.TrimPrefix(e, "."))] = true
		}
		return m
	}
	return &Formats{
		image:   set(cfg.ImageExt),
		video:   set(cfg.VideoExt),
		sidecar: set(cfg.SidecarExt),
		convert: set(cfg.ConvertExt),
	}
}

func (f *Formats) IsImage(path string) bool   { return f.image[FormatOf(path)] }
func (f *Formats) IsVideo(path string) bool   { return f.video[FormatOf(path)] }
func (f *Formats) IsSidecar(path string) bool { return f.sidecar[FormatOf(path)] }

// NeedsConversion reports whether path is a legacy format handed to the converter.
func (f *Formats) NeedsConversion(path string) bool { return f.convert[FormatOf(path)] }

// IsMedia covers everything the pipeline looks at, sidecars included.
func (f *Formats) IsMedia(path string) bool {
	return f.IsImage(path) || f.IsVideo(path) || f.IsSidecar(path)
}

// SortNatural orders names so that "IMG_999" sorts before "IMG_1000".
func SortNatural(names []string) {
	sort.Slice(names, func(i, j int) bool { return natural.Less(names[i], names[j]) })
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ListDirs returns the visible subdirectory names of dir in natural order.
func ListDirs(fs afero.Fs, dir string) ([]string, error) {
	return listEntries(fs, dir, true)
}

// ListFiles returns the visible regular file names of dir in natural order.
func ListFiles(fs afero.Fs, dir string) ([]string, error) {
	return listEntries(fs, dir, false)
}

func listEntries(fs afero.Fs, dir string, dirs bool) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, fi := range infos {
		if isHidden(fi.Name()) || fi.IsDir() != dirs {
			continue
		}
		names = append(names, fi.Name())
	}
	SortNatural(names)
	return names, nil
}

// ScanMediaFiles walks inputDir and returns media files, ordered by folder
// and then by name.
func ScanMediaFiles(fs afero.Fs, inputDir string, formats *Formats) ([]string, error) {
	var files []string
	err := afero.Walk(fs, inputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != inputDir && isHidden(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(info.Name()) {
			return nil
		}
		if formats.IsMedia(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning files: %w", err)
	}
	sort.SliceStable(files, func(i, j int) bool {
		di, dj := filepath.Dir(files[i]), filepath.Dir(files[j])
		if di != dj {
			return natural.Less(di, dj)
		}
		return natural.Less(filepath.Base(files[i]), filepath.Base(files[j]))
	})
	return files, nil
}

// StampedName prefixes name with the date stamp used in the archive.
func StampedName(ts time.Time, name string) string {
	return ts.Format(DateFormat) + "_" + name
}

// ParseStampedName splits "2019-08-26_IMG_0001.JPG" into its date and the
// original name.
func ParseStampedName(name string) (time.Time, string, bool) {
	if len(name) < len(DateFormat)+2 || name[len(DateFormat)] != '_' {
		return time.Time{}, "", false
	}
	ts, err := time.ParseInLocation(DateFormat, name[:len(DateFormat)], time.Local)
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, name[len(DateFormat)+1:], true
}

// HasDatePrefix reports whether name already starts with a short or long stamp.
func HasDatePrefix(name string) bool {
	if _, _, ok := ParseStampedName(name); ok {
		return true
	}
	if len(name) > len(DateTimeFormat) && name[len(DateTimeFormat)] == '_' {
		_, err := time.Parse(DateTimeFormat, name[:len(DateTimeFormat)])
		return err == nil
	}
	return false
}

// identifierAfter returns the all-digit run that follows prefix in the file's
// stem, e.g. "1234" for ("IMG_E1234.JPG", "IMG_E").
func identifierAfter(name, prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(stem, prefix) {
		return "", false
	}
	id := stem[len(prefix):]
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}
