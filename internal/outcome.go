package internal

import "fmt"

// OutcomeKind says what happened to one item.
type OutcomeKind int

const (
	OutcomeFiled OutcomeKind = iota
	OutcomeDuplicate
	OutcomeSuperseded
	OutcomeSkipped
	// OutcomeRecoverablePrompt: filed after the user resolved an out-of-order prompt.
	OutcomeRecoverablePrompt
	// OutcomeFailed: this file could not be processed; the run continues.
	OutcomeFailed
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFiled:
		return "filed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRecoverablePrompt:
		return "prompted"
	case OutcomeFailed:
		return "failed"
	case OutcomeFatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the result of filing a single item. Expected skips are not
// errors; Err is set only for Fatal and for per-file failures.
type Outcome struct {
	Kind   OutcomeKind
	Path   string
	Dest   string
	Reason string
	Err    error
}

// IsFatal reports whether the run must stop.
func (o Outcome) IsFatal() bool {
	return o.Kind == OutcomeFatal
}

// Placed reports whether a new file landed in the archive.
func (o Outcome) Placed() bool {
	return o.Kind == OutcomeFiled || o.Kind == OutcomeSuperseded || o.Kind == OutcomeRecoverablePrompt
}

func (o Outcome) String() string {
	s := o.Kind.String() + " " + o.Path
	if o.Dest != "" {
		s += " -> " + o.Dest
	}
	if o.Reason != "" {
		s += " (" + o.Reason + ")"
	}
	return s
}

// errorOutcome classifies err as fatal for the run or only for this file.
func errorOutcome(path string, err error) Outcome {
	kind := OutcomeFailed
	if IsFatal(err) {
		kind = OutcomeFatal
	}
	return Outcome{Kind: kind, Path: path, Err: err, Reason: err.Error()}
}
