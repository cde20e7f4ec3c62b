package internal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// MetadataBundle maps "Group:Tag" names to raw values. Absent fields are
// simply absent.
type MetadataBundle map[string]string

// Get returns the trimmed value of key, or false when missing or blank.
func (b MetadataBundle) Get(key string) (string, bool) {
	v, ok := b[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Keys returns every field name, sorted.
func (b MetadataBundle) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TimestampFields lists every field that looks like a date or time, as a
// diagnostic aid when nothing resolves.
func (b MetadataBundle) TimestampFields() []Candidate {
	var out []Candidate
	for _, k := range b.Keys() {
		tag := k
		if i := strings.LastIndex(k, ":"); i >= 0 {
			tag = k[i+1:]
		}
		if strings.Contains(tag, "Date") || strings.Contains(tag, "Time") {
			out = append(out, Candidate{Field: k, Value: b[k]})
		}
	}
	return out
}

// Candidate is one timestamp-looking field shown to the user.
type Candidate struct {
	Field string
	Value string
}

// MetadataBackend reads tags for one file.
type MetadataBackend interface {
	Name() string
	Query(path string) (map[string]string, error)
}

// ExifToolBackend shells out to exiftool. Each query opens and closes its own
// exiftool process so no handle outlives a file.
type ExifToolBackend struct {
	BinaryPath string
}

var _ MetadataBackend = (*ExifToolBackend)(nil)

func (b *ExifToolBackend) Name() string { return "exiftool" }

func (b *ExifToolBackend) options() []func(*exiftool.Exiftool) error {
	opts := []func(*exiftool.Exiftool) error{
		exiftool.PrintGroupNames("0"),
		exiftool.NoPrintConversion(),
	}
	if b.BinaryPath != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(b.BinaryPath))
	}
	return opts
}

// Available starts and stops exiftool once to check the binary works.
func (b *ExifToolBackend) Available() error {
	et, err := exiftool.NewExiftool(b.options()...)
	if err != nil {
		return err
	}
	return et.Close()
}

func (b *ExifToolBackend) Query(path string) (map[string]string, error) {
	et, err := exiftool.NewExiftool(b.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to start exiftool: %w", err)
	}
	defer et.Close()

	infos := et.ExtractMetadata(path)
	if len(infos) == 0 {
		return map[string]string{}, nil
	}
	info := infos[0]
	if info.Err != nil {
		return nil, fmt.Errorf("exiftool failed on %s: %w", path, info.Err)
	}

	out := make(map[string]string, len(info.Fields))
	for k, v := range info.Fields {
		out[k] = stringifyValue(v)
	}
	return out, nil
}

// stringifyValue renders exiftool's JSON values (strings, numbers, lists).
func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = stringifyValue(p)
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// GoExifBackend reads EXIF in-process. It only understands JPEG/TIFF
// containers, which covers camera JPGs when exiftool is unavailable.
type GoExifBackend struct {
	Fs afero.Fs
}

var _ MetadataBackend = (*GoExifBackend)(nil)

func (b *GoExifBackend) Name() string { return "goexif" }

func (b *GoExifBackend) Query(path string) (map[string]string, error) {
	out := map[string]string{}
	switch FormatOf(path) {
	case "JPG", "JPEG", "TIF", "TIFF":
	default:
		return out, nil
	}

	f, err := b.Fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		// No EXIF segment is a normal, field-less file.
		return out, nil
	}
	_ = x.Walk(exifWalker(out))
	return out, nil
}

type exifWalker map[string]string

func (w exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if tag.Format() == tiff.StringVal {
		s, err := tag.StringVal()
		if err == nil {
			w["EXIF:"+string(name)] = strings.TrimRight(s, "\x00")
		}
		return nil
	}
	w["EXIF:"+string(name)] = tag.String()
	return nil
}

// Extractor merges the bundles of every backend; earlier backends win on
// conflicting keys.
type Extractor struct {
	fs       afero.Fs
	backends []MetadataBackend
	logger   logrus.FieldLogger
}

func NewExtractor(fs afero.Fs, logger logrus.FieldLogger, backends ...MetadataBackend) *Extractor {
	return &Extractor{fs: fs, backends: backends, logger: logger}
}

// NewExtractorFromConfig prefers exiftool and falls back to goexif when the
// binary is disabled or missing.
func NewExtractorFromConfig(fs afero.Fs, cfg *Config, logger logrus.FieldLogger) *Extractor {
	var backends []MetadataBackend
	if cfg.UseExifTool {
		et := &ExifToolBackend{BinaryPath: cfg.ExifToolPath}
		if err := et.Available(); err != nil {
			logger.Warnf("exiftool unavailable, using in-process EXIF only: %v", err)
		} else {
			backends = append(backends, et)
		}
	}
	backends = append(backends, &GoExifBackend{Fs: fs})
	return NewExtractor(fs, logger, backends...)
}

// Extract builds the bundle for path and returns the file's mtime. An
// unreadable file is an error; a failing backend is not.
func (e *Extractor) Extract(path string) (MetadataBundle, time.Time, error) {
	modTime, err := getFileModTime(e.fs, path)
	if err != nil {
		return nil, time.Time{}, err
	}
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	f.Close()

	bundle := MetadataBundle{}
	for _, b := range e.backends {
		fields, err := b.Query(path)
		if err != nil {
			e.logger.WithField("path", path).Warnf("%s metadata read failed: %v", b.Name(), err)
			continue
		}
		for k, v := range fields {
			if _, exists := bundle[k]; !exists {
				bundle[k] = v
			}
		}
	}
	return bundle, modTime, nil
}
