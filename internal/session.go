package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Session is one organize or offload run: an append-only JSONL manifest and
// the flat categorization buffer that receives a copy of every filed item.
type Session struct {
	ID         string // Session ID (timestamp: 2025-01-15-103045)
	RunID      string // uuid, repeated on every manifest line
	Kind       string // "organize" or "offload"
	SessionDir string
	BufferDir  string
	SourceDir  string

	fs           afero.Fs
	clock        Clock
	manifestFile afero.File
	bufferNames  map[string]string // archive name -> buffer name
	stats        SessionStats
}

// SessionStats tracks statistics for a run
type SessionStats struct {
	TotalScanned int
	Filed        int
	Duplicates   int
	Superseded   int
	Skipped      int
	Errors       int
	Bytes        int64
}

// ManifestEvent represents a single event in the manifest log
type ManifestEvent struct {
	Event    string `json:"event"`
	Ts       string `json:"ts"`
	Run      string `json:"run"`
	Src      string `json:"src,omitempty"`
	Dest     string `json:"dest,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Buffer   string `json:"buffer,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Existing string `json:"existing,omitempty"`
	Replaced string `json:"replaced,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`

	// Date resolution details for filed items
	DateSource string `json:"date_source,omitempty"`
	Manual     bool   `json:"manual,omitempty"`

	// Error details (for categorized errors)
	ErrorCategory   string `json:"error_category,omitempty"`
	ErrorSeverity   string `json:"error_severity,omitempty"`
	ErrorSuggestion string `json:"error_suggestion,omitempty"`

	// Session start/end fields
	Kind         string `json:"kind,omitempty"`
	SourceDir    string `json:"source_dir,omitempty"`
	TotalFiles   int    `json:"total_files,omitempty"`
	TotalScanned int    `json:"total_scanned,omitempty"`
	Filed        int    `json:"filed,omitempty"`
	Duplicates   int    `json:"duplicates,omitempty"`
	Superseded   int    `json:"superseded,omitempty"`
	Skipped      int    `json:"skipped,omitempty"`
	ErrorCount   int    `json:"errors,omitempty"`
}

// NewSession creates <logDir>/<id>/manifest.jsonl. bufferDir may be empty for
// runs that do not feed the buffer.
func NewSession(fs afero.Fs, kind, logDir, bufferDir, sourceDir string, clock Clock, ids IDGenerator) (*Session, error) {
	sessionID := clock.Now().Format("2006-01-02-150405")
	sessionDir := filepath.Join(logDir, kind+"-"+sessionID)

	if err := fs.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if bufferDir != "" {
		if err := fs.MkdirAll(bufferDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create buffer directory: %w", err)
		}
	}

	manifestPath := filepath.Join(sessionDir, "manifest.jsonl")
	manifestFile, err := fs.OpenFile(manifestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest file: %w", err)
	}

	return &Session{
		ID:           sessionID,
		RunID:        ids.New(),
		Kind:         kind,
		SessionDir:   sessionDir,
		BufferDir:    bufferDir,
		SourceDir:    sourceDir,
		fs:           fs,
		clock:        clock,
		manifestFile: manifestFile,
		bufferNames:  make(map[string]string),
	}, nil
}

// CheckBufferEmpty refuses to mix two runs in the categorization buffer.
func CheckBufferEmpty(fs afero.Fs, dir string) error {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	n := 0
	for _, fi := range infos {
		if !isHidden(fi.Name()) {
			n++
		}
	}
	if n > 0 {
		return fmt.Errorf("%s holds %d entries: %w", dir, n, ErrBufferNotEmpty)
	}
	return nil
}

func (s *Session) now() string {
	return s.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00")
}

// LogSessionStart writes the session start event to manifest
func (s *Session) LogSessionStart(totalFiles int) error {
	s.stats.TotalScanned = totalFiles
	return s.writeEvent(ManifestEvent{
		Event:      "session_start",
		Kind:       s.Kind,
		SourceDir:  s.SourceDir,
		TotalFiles: totalFiles,
	})
}

// LogFiled logs an item placed in the archive
func (s *Session) LogFiled(src string, res PlaceResult, buffer string, date Resolution) error {
	s.stats.Filed++
	s.stats.Bytes += res.Size
	return s.writeEvent(ManifestEvent{
		Event:      "filed",
		Src:        src,
		Dest:       res.Dest,
		Hash:       res.Hash,
		Buffer:     buffer,
		Size:       res.Size,
		DateSource: date.Source,
		Manual:     date.Manual,
	})
}

// LogDuplicate logs an item whose identical copy is already filed
func (s *Session) LogDuplicate(src, existing, hash string) error {
	s.stats.Duplicates++
	return s.writeEvent(ManifestEvent{
		Event:    "duplicate",
		Src:      src,
		Existing: existing,
		Hash:     hash,
	})
}

// LogSuperseded logs an edited variant that replaced its original
func (s *Session) LogSuperseded(src string, res PlaceResult, buffer, replaced string) error {
	s.stats.Superseded++
	s.stats.Bytes += res.Size
	return s.writeEvent(ManifestEvent{
		Event:    "superseded",
		Src:      src,
		Dest:     res.Dest,
		Hash:     res.Hash,
		Buffer:   buffer,
		Size:     res.Size,
		Replaced: replaced,
	})
}

// LogSkipped logs an item left unfiled this run
func (s *Session) LogSkipped(src, reason string) error {
	s.stats.Skipped++
	return s.writeEvent(ManifestEvent{
		Event:  "skipped",
		Src:    src,
		Reason: reason,
	})
}

// LogDetailedError logs a categorized error with full details
func (s *Session) LogDetailedError(src string, procErr *ProcessError) error {
	s.stats.Errors++

	event := ManifestEvent{
		Event:           "error",
		Src:             src,
		Error:           procErr.OriginalErr.Error(),
		ErrorCategory:   string(procErr.Category),
		ErrorSeverity:   string(procErr.Severity),
		ErrorSuggestion: procErr.Suggestion,
	}
	if dest, ok := procErr.Context["dest"]; ok {
		event.Dest = dest
	}
	if hash, ok := procErr.Context["hash"]; ok {
		event.Hash = hash
	}
	return s.writeEvent(event)
}

// LogSessionEnd writes the session end event to manifest
func (s *Session) LogSessionEnd() error {
	return s.writeEvent(ManifestEvent{
		Event:        "session_end",
		TotalScanned: s.stats.TotalScanned,
		Filed:        s.stats.Filed,
		Duplicates:   s.stats.Duplicates,
		Superseded:   s.stats.Superseded,
		Skipped:      s.stats.Skipped,
		ErrorCount:   s.stats.Errors,
	})
}

// CopyToBuffer copies a filed item into the flat buffer and returns the name
// used there (with a _N suffix when the buffer already holds that name).
func (s *Session) CopyToBuffer(archivePath string) (string, error) {
	if s.BufferDir == "" {
		return "", nil
	}
	basename := filepath.Base(archivePath)
	ext := filepath.Ext(basename)
	stem := strings.TrimSuffix(basename, ext)

	finalName := basename
	for i := 1; ; i++ {
		exists, err := afero.Exists(s.fs, filepath.Join(s.BufferDir, finalName))
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		finalName = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}

	if _, _, err := copyFileAtomic(s.fs, archivePath, filepath.Join(s.BufferDir, finalName)); err != nil {
		return "", fmt.Errorf("buffer copy failed: %w", err)
	}
	s.bufferNames[basename] = finalName
	return finalName, nil
}

// RemoveFromBuffer drops the buffer copy of an archive item filed earlier in
// this run. Items from earlier runs were never in this buffer.
func (s *Session) RemoveFromBuffer(archiveName string) error {
	name, ok := s.bufferNames[archiveName]
	if !ok {
		return nil
	}
	delete(s.bufferNames, archiveName)
	err := s.fs.Remove(filepath.Join(s.BufferDir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetStats returns the current session statistics
func (s *Session) GetStats() SessionStats {
	return s.stats
}

// Close closes the manifest file
func (s *Session) Close() error {
	if s.manifestFile != nil {
		err := s.manifestFile.Close()
		s.manifestFile = nil
		return err
	}
	return nil
}

// writeEvent writes a manifest event as a JSON line
func (s *Session) writeEvent(event ManifestEvent) error {
	event.Ts = s.now()
	event.Run = s.RunID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := s.manifestFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to manifest: %w", err)
	}
	return s.manifestFile.Sync()
}
