package internal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSkipItem means the user asked not to file the item this run.
	ErrSkipItem = errors.New("item skipped by user")
	// ErrTreeInvariant means the in-memory archive tree diverged from disk.
	ErrTreeInvariant = errors.New("archive tree invariant violated")
	// ErrCollisionOverflow means more than nine same-named variants exist.
	ErrCollisionOverflow = errors.New("collision suffixes exhausted")
	// ErrDeviceDisconnected marks a transient device I/O failure.
	ErrDeviceDisconnected = errors.New("device disconnected")
	// ErrAborted means the user chose to stop the run.
	ErrAborted = errors.New("aborted by user")
	// ErrBufferNotEmpty guards organize against mixing two runs in the buffer.
	ErrBufferNotEmpty = errors.New("categorization buffer is not empty")
	// ErrUnreadable means the source file could not be opened or read.
	ErrUnreadable = errors.New("source file unreadable")
)

// ErrorCategory represents the type of error encountered
type ErrorCategory string

const (
	ErrorCategoryIO          ErrorCategory = "io_error"           // File system, permissions, disk space
	ErrorCategoryHash        ErrorCategory = "hash_mismatch"      // Corruption during copy
	ErrorCategoryMetadata    ErrorCategory = "metadata_error"     // Metadata extraction failed
	ErrorCategoryUnsupported ErrorCategory = "unsupported_format" // Unrecognized file format
	ErrorCategoryTree        ErrorCategory = "tree_invariant"     // Archive model out of sync with disk
	ErrorCategoryCollision   ErrorCategory = "collision_overflow" // Too many same-named variants
	ErrorCategoryDevice      ErrorCategory = "device_disconnect"  // Phone unplugged or mount dropped
	ErrorCategoryUnknown     ErrorCategory = "unknown_error"      // Unexpected errors
)

// ErrorSeverity indicates how critical the error is
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "critical" // Stop the run
	ErrorSeverityError    ErrorSeverity = "error"    // Give up on this file
	ErrorSeverityWarning  ErrorSeverity = "warning"  // Recovered locally
)

// ProcessError represents a categorized error during file processing
type ProcessError struct {
	FilePath    string
	Category    ErrorCategory
	Severity    ErrorSeverity
	OriginalErr error
	Context     map[string]string // Additional context (hash, destination, etc.)
	Suggestion  string            // User-friendly suggestion to fix
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", e.Severity, e.Category, e.FilePath, e.OriginalErr)
}

func (e *ProcessError) Unwrap() error {
	return e.OriginalErr
}

// IsFatal reports whether err must stop the whole run rather than one file.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTreeInvariant) ||
		errors.Is(err, ErrCollisionOverflow) ||
		errors.Is(err, ErrAborted)
}

// CategorizeError analyzes an error and returns a ProcessError with category and severity
func CategorizeError(filePath string, err error) *ProcessError {
	if err == nil {
		return nil
	}

	procErr := &ProcessError{
		FilePath:    filePath,
		OriginalErr: err,
		Context:     make(map[string]string),
	}

	// Sentinels first; they carry intent the message alone may not.
	switch {
	case errors.Is(err, ErrTreeInvariant):
		procErr.Category = ErrorCategoryTree
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "The archive changed underneath the run - inspect the Organized tree before retrying"
		return procErr

	case errors.Is(err, ErrCollisionOverflow):
		procErr.Category = ErrorCategoryCollision
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "Ten files share this name in one month - inspect that folder by hand"
		return procErr

	case errors.Is(err, ErrAborted):
		procErr.Category = ErrorCategoryDevice
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "Run stopped on request - rerun to resume, copied files are skipped as duplicates"
		return procErr

	case errors.Is(err, ErrDeviceDisconnected):
		procErr.Category = ErrorCategoryDevice
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "Reconnect and unlock the phone, then retry"
		return procErr

	case errors.Is(err, ErrUnreadable):
		procErr.Category = ErrorCategoryIO
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "File could not be read - it was left where it is"
		return procErr
	}

	errStr := strings.ToLower(err.Error())

	// Categorize based on error message
	switch {
	// Disk/Filesystem errors (CRITICAL)
	case strings.Contains(errStr, "no space left"):
		procErr.Category = ErrorCategoryIO
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "Free up disk space on the backup drive and retry"

	case strings.Contains(errStr, "permission denied"):
		procErr.Category = ErrorCategoryIO
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "Check file permissions on both source and destination directories"

	case strings.Contains(errStr, "read-only file system"):
		procErr.Category = ErrorCategoryIO
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "Destination filesystem is read-only - check mount options"

	// Hash/Corruption errors (ERROR)
	case strings.Contains(errStr, "hash mismatch"):
		procErr.Category = ErrorCategoryHash
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "Data corruption detected during copy - check disk health"

	// I/O errors (ERROR)
	case strings.Contains(errStr, "input/output error"):
		procErr.Category = ErrorCategoryDevice
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "I/O error - the device may have disconnected"

	case strings.Contains(errStr, "no such file"):
		procErr.Category = ErrorCategoryIO
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "Source file disappeared - check if the device disconnected"

	// Metadata errors (WARNING - the date falls back)
	case strings.Contains(errStr, "exif") || strings.Contains(errStr, "metadata"):
		procErr.Category = ErrorCategoryMetadata
		procErr.Severity = ErrorSeverityWarning
		procErr.Suggestion = "Metadata could not be read - the date fell back to the file time"

	// Unsupported format
	case strings.Contains(errStr, "unsupported") || strings.Contains(errStr, "unknown format"):
		procErr.Category = ErrorCategoryUnsupported
		procErr.Severity = ErrorSeverityWarning
		procErr.Suggestion = "File format not recognized - will be skipped"

	// Default: unknown error
	default:
		procErr.Category = ErrorCategoryUnknown
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "Unexpected error - check camroll.log for details"
	}

	return procErr
}

// ErrorStats tracks error statistics during a run
type ErrorStats struct {
	Total       int
	Critical    int
	Errors      int
	Warnings    int
	ByCategory  map[ErrorCategory]int
	LastErrors  []*ProcessError // Last 5 errors for quick diagnosis
	Consecutive int             // Consecutive errors (for circuit breaker)
}

func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ByCategory: make(map[ErrorCategory]int),
		LastErrors: make([]*ProcessError, 0, 5),
	}
}

func (s *ErrorStats) Add(err *ProcessError) {
	s.Total++
	s.Consecutive++
	s.ByCategory[err.Category]++

	switch err.Severity {
	case ErrorSeverityCritical:
		s.Critical++
	case ErrorSeverityError:
		s.Errors++
	case ErrorSeverityWarning:
		s.Warnings++
	}

	// Keep last 5 errors
	if len(s.LastErrors) >= 5 {
		s.LastErrors = s.LastErrors[1:]
	}
	s.LastErrors = append(s.LastErrors, err)
}

func (s *ErrorStats) ResetConsecutive() {
	s.Consecutive = 0
}

// ShouldAbort returns true if the run should stop based on error patterns
func (s *ErrorStats) ShouldAbort() (bool, string) {
	if s.Critical > 0 {
		return true, "Critical error detected - stopping before the archive is touched further"
	}

	if s.Consecutive >= 10 {
		return true, "10 consecutive errors detected - likely systemic issue (disk full, device gone, etc.)"
	}

	return false, ""
}

// GenerateReport creates a human-readable error report
func (s *ErrorStats) GenerateReport() string {
	var report strings.Builder

	report.WriteString(fmt.Sprintf("\nRun encountered %d errors:\n\n", s.Total))

	if s.Critical > 0 {
		report.WriteString(fmt.Sprintf("  Critical: %d (run stopped)\n", s.Critical))
	}
	if s.Errors > 0 {
		report.WriteString(fmt.Sprintf("  Errors:   %d (files left in place)\n", s.Errors))
	}
	if s.Warnings > 0 {
		report.WriteString(fmt.Sprintf("  Warnings: %d (recovered)\n", s.Warnings))
	}

	report.WriteString("\nError categories:\n")
	for cat, count := range s.ByCategory {
		report.WriteString(fmt.Sprintf("  - %s: %d\n", cat, count))
	}

	report.WriteString("\nRecent errors:\n")
	for i, err := range s.LastErrors {
		report.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, err.FilePath))
		report.WriteString(fmt.Sprintf("   Category: %s | Severity: %s\n", err.Category, err.Severity))
		report.WriteString(fmt.Sprintf("   Error: %v\n", err.OriginalErr))
		if err.Suggestion != "" {
			report.WriteString(fmt.Sprintf("   Suggestion: %s\n", err.Suggestion))
		}
	}

	report.WriteString("\n")
	report.WriteString(s.generateSuggestions())

	return report.String()
}

func (s *ErrorStats) generateSuggestions() string {
	var suggestions strings.Builder
	suggestions.WriteString("Suggested next steps:\n")

	if s.ByCategory[ErrorCategoryIO] > 0 {
		suggestions.WriteString("  - Check disk space and permissions on the backup root\n")
	}
	if s.ByCategory[ErrorCategoryDevice] > 0 {
		suggestions.WriteString("  - Keep the phone unlocked and connected for the whole offload\n")
	}
	if s.ByCategory[ErrorCategoryTree] > 0 || s.ByCategory[ErrorCategoryCollision] > 0 {
		suggestions.WriteString("  - Inspect the Organized tree by hand before the next run\n")
	}
	if s.ByCategory[ErrorCategoryMetadata] > s.Total/2 {
		suggestions.WriteString("  - Many metadata errors - make sure exiftool is installed and use_exiftool is on\n")
	}

	suggestions.WriteString("  - Check the session manifest for the detailed error log\n")

	return suggestions.String()
}
