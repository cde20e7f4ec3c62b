package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// SurveyOptions contains configuration for a source survey
type SurveyOptions struct {
	IncludeHidden  bool
	FindDuplicates bool
	Format         string
}

// SurveyResults contains the survey results
type SurveyResults struct {
	Root       string                  `json:"root"`
	TotalFiles int                     `json:"total_files"`
	TotalSize  int64                   `json:"total_size_bytes"`
	Formats    map[string]*FormatStats `json:"formats"`
	Sidecars   int                     `json:"sidecars"`
	Other      int                     `json:"other_files"`

	NeedsConversion []string       `json:"needs_conversion,omitempty"`
	Mismatched      []Mismatch     `json:"mismatched,omitempty"`
	Dates           DateSummary    `json:"dates"`
	Duplicates      []DuplicateSet `json:"duplicates,omitempty"`

	ScanDuration time.Duration `json:"scan_duration"`
}

// FormatStats is the count and size of one extension
type FormatStats struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"total_size_bytes"`
}

// Mismatch is a file whose content disagrees with its extension
type Mismatch struct {
	Path     string `json:"path"`
	Detected string `json:"detected"`
}

// DateSummary describes the capture dates the resolver would use
type DateSummary struct {
	Earliest     time.Time      `json:"earliest,omitempty"`
	Latest       time.Time      `json:"latest,omitempty"`
	FromMetadata int            `json:"from_metadata"`
	Fallback     int            `json:"fallback"`
	ByMonth      map[string]int `json:"by_month"`
}

type DuplicateSet struct {
	Hash  string   `json:"hash"`
	Files []string `json:"files"`
	Size  int64    `json:"size_bytes"`
}

// Survey is a read-only pass over a source tree: what an organize run would
// see, without prompting or writing anything.
type Survey struct {
	Fs        afero.Fs
	Formats   *Formats
	Extractor *Extractor
	Resolver  *DateResolver
}

// Run walks root and collects the report.
func (s *Survey) Run(root string, options *SurveyOptions) (*SurveyResults, error) {
	startTime := time.Now()

	results := &SurveyResults{
		Root:    root,
		Formats: make(map[string]*FormatStats),
		Dates:   DateSummary{ByMonth: make(map[string]int)},
	}
	var hashes map[string][]string
	if options.FindDuplicates {
		hashes = make(map[string][]string)
	}

	err := afero.Walk(s.Fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !options.IncludeHidden && path != root && isHidden(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		s.surveyFile(path, info, results, hashes)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning %s: %w", root, err)
	}

	if options.FindDuplicates {
		results.Duplicates = findDuplicateSets(s.Fs, hashes)
	}
	results.ScanDuration = time.Since(startTime)
	return results, nil
}

// surveyFile analyzes a single file and updates results
func (s *Survey) surveyFile(path string, info os.FileInfo, results *SurveyResults, hashes map[string][]string) {
	results.TotalFiles++
	results.TotalSize += info.Size()

	if !s.Formats.IsMedia(path) {
		results.Other++
		return
	}
	if s.Formats.IsSidecar(path) {
		results.Sidecars++
		return
	}

	ext := FormatOf(path)
	stats, ok := results.Formats[ext]
	if !ok {
		stats = &FormatStats{}
		results.Formats[ext] = stats
	}
	stats.Count++
	stats.TotalSize += info.Size()

	if s.Formats.NeedsConversion(path) {
		results.NeedsConversion = append(results.NeedsConversion, path)
	}
	if detected, ok := s.checkContent(path); !ok {
		results.Mismatched = append(results.Mismatched, Mismatch{Path: path, Detected: detected})
	}

	if bundle, modTime, err := s.Extractor.Extract(path); err == nil {
		if r, err := s.Resolver.Resolve(path, ext, bundle, modTime, false); err == nil && r.Resolved() {
			d := &results.Dates
			if r.Manual {
				d.Fallback++
			} else {
				d.FromMetadata++
			}
			if d.Earliest.IsZero() || r.Time.Before(d.Earliest) {
				d.Earliest = r.Time
			}
			if r.Time.After(d.Latest) {
				d.Latest = r.Time
			}
			d.ByMonth[r.Time.Format(MonthFormat)]++
		}
	}

	if hashes != nil {
		if hash, err := fileHash(s.Fs, path); err == nil {
			hashes[hash] = append(hashes[hash], path)
		}
	}
}

// checkContent sniffs the file and reports whether the detected type, or one
// of its parents, uses the file's extension.
func (s *Survey) checkContent(path string) (string, bool) {
	f, err := s.Fs.Open(path)
	if err != nil {
		return "unreadable", false
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "unreadable", false
	}
	want := "." + strings.ToLower(FormatOf(path))
	if want == ".jpeg" {
		want = ".jpg"
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Extension() == want {
			return mt.String(), true
		}
	}
	return mt.String(), false
}

// findDuplicateSets keeps the hashes shared by more than one file
func findDuplicateSets(fs afero.Fs, hashes map[string][]string) []DuplicateSet {
	var duplicates []DuplicateSet
	for hash, files := range hashes {
		if len(files) < 2 {
			continue
		}
		size := int64(0)
		if info, err := fs.Stat(files[0]); err == nil {
			size = info.Size()
		}
		duplicates = append(duplicates, DuplicateSet{Hash: hash, Files: files, Size: size})
	}
	sort.Slice(duplicates, func(i, j int) bool {
		return duplicates[i].Files[0] < duplicates[j].Files[0]
	})
	return duplicates
}

// DisplaySurvey formats and displays the survey results
func DisplaySurvey(w io.Writer, results *SurveyResults, options *SurveyOptions) error {
	if options.Format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}
	return displayTable(w, results, options)
}

// displayTable outputs results in human-readable table format
func displayTable(w io.Writer, results *SurveyResults, options *SurveyOptions) error {
	fmt.Fprintf(w, "=== camroll survey: %s ===\n\n", results.Root)

	fmt.Fprintf(w, "📊 Overview:\n")
	fmt.Fprintf(w, "  - %d files (%s)\n", results.TotalFiles, humanize.Bytes(uint64(results.TotalSize)))
	fmt.Fprintf(w, "  - %d sidecars, %d other files\n", results.Sidecars, results.Other)
	fmt.Fprintf(w, "  - Scan completed in %v\n\n", results.ScanDuration.Round(time.Millisecond))

	fmt.Fprintf(w, "📁 Formats:\n")
	exts := make([]string, 0, len(results.Formats))
	for ext := range results.Formats {
		exts = append(exts, ext)
	}
	// Sort by count (descending) then by extension name
	sort.Slice(exts, func(i, j int) bool {
		a, b := results.Formats[exts[i]], results.Formats[exts[j]]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return exts[i] < exts[j]
	})
	for _, ext := range exts {
		st := results.Formats[ext]
		fmt.Fprintf(w, "  - %-5s %6d files  %s\n", ext, st.Count, humanize.Bytes(uint64(st.TotalSize)))
	}

	d := results.Dates
	fmt.Fprintf(w, "\n📅 Dates:\n")
	if !d.Earliest.IsZero() {
		fmt.Fprintf(w, "  - Range: %s to %s\n", d.Earliest.Format(DateFormat), d.Latest.Format(DateFormat))
	}
	fmt.Fprintf(w, "  - %d from metadata, %d from file time\n", d.FromMetadata, d.Fallback)
	months := make([]string, 0, len(d.ByMonth))
	for m := range d.ByMonth {
		months = append(months, m)
	}
	sort.Strings(months)
	for _, m := range months {
		fmt.Fprintf(w, "    %s: %d\n", m, d.ByMonth[m])
	}

	if len(results.NeedsConversion) > 0 {
		fmt.Fprintf(w, "\n🔄 Needs conversion (%d):\n", len(results.NeedsConversion))
		for _, p := range results.NeedsConversion[:min(5, len(results.NeedsConversion))] {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		if len(results.NeedsConversion) > 5 {
			fmt.Fprintf(w, "  - ... and %d more\n", len(results.NeedsConversion)-5)
		}
	}

	if len(results.Mismatched) > 0 {
		fmt.Fprintf(w, "\n⚠️  Content does not match extension (%d):\n", len(results.Mismatched))
		for _, m := range results.Mismatched {
			fmt.Fprintf(w, "  - %s (%s)\n", m.Path, m.Detected)
		}
	}

	if options.FindDuplicates && len(results.Duplicates) > 0 {
		fmt.Fprintf(w, "\n🔍 Duplicates Found (%d sets):\n", len(results.Duplicates))
		totalWaste := int64(0)
		for i, dup := range results.Duplicates[:min(5, len(results.Duplicates))] {
			fmt.Fprintf(w, "  - Set %d: %d files (%s each)\n", i+1, len(dup.Files), humanize.Bytes(uint64(dup.Size)))
		}
		for _, dup := range results.Duplicates {
			totalWaste += dup.Size * int64(len(dup.Files)-1)
		}
		if len(results.Duplicates) > 5 {
			fmt.Fprintf(w, "  - ... and %d more sets\n", len(results.Duplicates)-5)
		}
		fmt.Fprintf(w, "  💾 Potential space savings: %s\n", humanize.Bytes(uint64(totalWaste)))
	}
	return nil
}
