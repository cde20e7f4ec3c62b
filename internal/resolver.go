package internal

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	exifLayout   = "2006:01:02 15:04:05"
	offsetLayout = "2006:01:02 15:04:05-0700"
	plistLayout  = "2006:01:02 15:04:05Z"
	zeroDate     = "0000:00:00 00:00:00"
)

type fieldKind int

const (
	plainField fieldKind = iota
	offsetField
	utcField
)

type fieldRule struct {
	field  string
	layout string
	kind   fieldKind
}

// dateFields is the priority list of trusted fields per format. A format
// present with no rules (GIF, WEBP) always falls back; a format missing from
// the table is not handled at all.
var dateFields = map[string][]fieldRule{
	"JPG":  {{field: "EXIF:DateTimeOriginal", layout: exifLayout}},
	"JPEG": {{field: "EXIF:DateTimeOriginal", layout: exifLayout}},
	"HEIC": {{field: "EXIF:DateTimeOriginal", layout: exifLayout}},
	"PNG":  {{field: "XMP:DateCreated", layout: exifLayout}},
	"GIF":  nil,
	"WEBP": nil,
	"MOV":  {{field: "QuickTime:CreationDate", layout: offsetLayout, kind: offsetField}},
	"3GP":  {{field: "QuickTime:DateTimeOriginal", layout: offsetLayout, kind: offsetField}},
	"MP4":  {{field: "QuickTime:CreateDate", layout: exifLayout, kind: utcField}},
	"AAE":  {{field: "PLIST:AdjustmentTimestamp", layout: plistLayout}},
}

// KnownFormat reports whether the resolver has rules for ext.
func KnownFormat(ext string) bool {
	_, ok := dateFields[ext]
	return ok
}

// Resolution is the outcome of resolving one file's date.
type Resolution struct {
	Time   time.Time
	Manual bool
	Source string // metadata field, "manual" or "mtime"
}

// Resolved is false for formats the resolver does not handle.
func (r Resolution) Resolved() bool { return !r.Time.IsZero() }

// DateResolver picks one creation timestamp per file.
type DateResolver struct {
	decisions DecisionProvider
	logger    logrus.FieldLogger
	mp4Offset int
	strictDay bool
}

func NewDateResolver(cfg *Config, decisions DecisionProvider, logger logrus.FieldLogger) *DateResolver {
	return &DateResolver{
		decisions: decisions,
		logger:    logger,
		mp4Offset: cfg.MP4UTCOffsetHours,
		strictDay: cfg.MP4StrictDayBoundary,
	}
}

// FromMetadata returns the first present, parseable field for ext.
func (r *DateResolver) FromMetadata(ext string, bundle MetadataBundle) (time.Time, string, bool) {
	for _, rule := range dateFields[ext] {
		raw, ok := bundle.Get(rule.field)
		if !ok {
			continue
		}
		ts, err := r.parse(rule, raw)
		if err != nil {
			r.logger.Debugf("ignoring %s=%q: %v", rule.field, raw, err)
			continue
		}
		return ts, rule.field, true
	}
	return time.Time{}, "", false
}

func (r *DateResolver) parse(rule fieldRule, raw string) (time.Time, error) {
	switch rule.kind {
	case offsetField:
		// "2019:08:26 19:22:27-04:00" -> "2019:08:26 19:22:27-0400"
		if len(raw) == 25 && raw[22] == ':' {
			raw = raw[:22] + raw[23:]
		}
		return time.Parse(rule.layout, raw)

	case utcField:
		if raw == zeroDate {
			return time.Time{}, fmt.Errorf("zero date")
		}
		utc, err := time.ParseInLocation(rule.layout, raw, time.UTC)
		if err != nil {
			return time.Time{}, err
		}
		if r.strictDay && utc.Hour() <= r.mp4Offset {
			return time.Time{}, fmt.Errorf("hour %d would cross a day boundary", utc.Hour())
		}
		local := utc.Add(-time.Duration(r.mp4Offset) * time.Hour)
		return time.Date(local.Year(), local.Month(), local.Day(),
			local.Hour(), local.Minute(), local.Second(), 0, time.Local), nil
	}
	return time.ParseInLocation(rule.layout, raw, time.Local)
}

// Resolve picks the date for one file. When no field resolves and manual
// entry is allowed the user is asked; otherwise the file time is used and
// flagged as manual. A user skip returns ErrSkipItem. Formats without rules
// return an unresolved Resolution.
func (r *DateResolver) Resolve(path, ext string, bundle MetadataBundle, modTime time.Time, allowManual bool) (Resolution, error) {
	if !KnownFormat(ext) {
		return Resolution{}, nil
	}
	if ts, field, ok := r.FromMetadata(ext, bundle); ok {
		return Resolution{Time: ts, Source: field}, nil
	}

	fallback := Resolution{Time: modTime, Manual: true, Source: "mtime"}
	if !allowManual {
		return fallback, nil
	}

	r.logger.WithField("path", path).Warnf("no reliable %s date field, asking", ext)
	for {
		ans, err := r.decisions.AskDate(DatePrompt{
			Path:       path,
			Reason:     PromptNoDate,
			Candidates: bundle.TimestampFields(),
			ModTime:    modTime,
			Fallback:   modTime,
		})
		if err != nil {
			return Resolution{}, err
		}
		switch ans.Kind {
		case DateSkip:
			return Resolution{}, ErrSkipItem
		case DateManual:
			if ans.Date.IsZero() {
				continue
			}
			return Resolution{Time: ans.Date, Manual: true, Source: "manual"}, nil
		default:
			return fallback, nil
		}
	}
}
