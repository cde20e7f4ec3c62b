package internal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
)

// DateAnswerKind is the user's reply to a date prompt.
type DateAnswerKind int

const (
	DateAcceptFallback DateAnswerKind = iota
	DateManual
	DateSkip
)

// DateAnswer carries the manual date when Kind is DateManual.
type DateAnswer struct {
	Kind DateAnswerKind
	Date time.Time
}

// DatePromptReason says why a date is being asked for.
type DatePromptReason int

const (
	// PromptNoDate: no metadata field resolved.
	PromptNoDate DatePromptReason = iota
	// PromptOutOfOrder: the item is older than the archive's active month.
	PromptOutOfOrder
)

// DatePrompt is everything shown to the user before asking for a date.
type DatePrompt struct {
	Path        string
	Reason      DatePromptReason
	Candidates  []Candidate
	ModTime     time.Time
	Fallback    time.Time // used when the user just presses Enter
	ActiveMonth string
}

// CollisionAction resolves a same-name, different-content clash.
type CollisionAction int

const (
	CollisionSkip CollisionAction = iota
	CollisionOverwrite
	CollisionKeepBoth
)

func (a CollisionAction) String() string {
	switch a {
	case CollisionSkip:
		return "skip"
	case CollisionOverwrite:
		return "overwrite"
	case CollisionKeepBoth:
		return "keep-both"
	}
	return fmt.Sprintf("collision(%d)", int(a))
}

// DecisionProvider is every question the pipeline can ask a human.
type DecisionProvider interface {
	AskDate(p DatePrompt) (DateAnswer, error)
	AskCollision(src, dest string) (CollisionAction, error)
	Confirm(question string) (bool, error)
	AskReconnect(cause error) (bool, error)
	Pause(msg string) error
}

// ConsolePrompter asks on a text console. Invalid input is asked again.
type ConsolePrompter struct {
	in     *bufio.Reader
	out    io.Writer
	viewer string
}

var _ DecisionProvider = (*ConsolePrompter)(nil)

func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: bufio.NewReader(in), out: out}
}

// WithViewer sets a command (e.g. "xdg-open") used to show a file before
// asking for its date.
func (p *ConsolePrompter) WithViewer(command string) *ConsolePrompter {
	p.viewer = command
	return p
}

var (
	warnColor   = color.New(color.FgYellow)
	promptColor = color.New(color.FgCyan, color.Bold)
)

func (p *ConsolePrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: input closed", ErrAborted)
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *ConsolePrompter) show(path string) {
	if p.viewer == "" {
		return
	}
	fields := strings.Fields(p.viewer)
	cmd := exec.Command(fields[0], append(fields[1:], path)...)
	if err := cmd.Start(); err != nil {
		warnColor.Fprintf(p.out, "could not open viewer: %v\n", err)
		return
	}
	go cmd.Wait()
}

func (p *ConsolePrompter) AskDate(dp DatePrompt) (DateAnswer, error) {
	fmt.Fprintln(p.out)
	switch dp.Reason {
	case PromptOutOfOrder:
		warnColor.Fprintf(p.out, "%s is dated %s, older than the active month %s\n",
			dp.Path, dp.Fallback.Format(DateFormat), dp.ActiveMonth)
	default:
		warnColor.Fprintf(p.out, "No reliable date found for %s\n", dp.Path)
	}
	for _, c := range dp.Candidates {
		fmt.Fprintf(p.out, "  %-34s %s\n", c.Field, c.Value)
	}
	fmt.Fprintf(p.out, "  %-34s %s\n", "File:ModifyTime", dp.ModTime.Format("2006-01-02 15:04:05"))
	p.show(dp.Path)

	for {
		promptColor.Fprintf(p.out, "Date (YYYY-MM-DD), 's' to skip, Enter for %s: ", dp.Fallback.Format(DateFormat))
		line, err := p.readLine()
		if err != nil {
			return DateAnswer{}, err
		}
		switch strings.ToLower(line) {
		case "":
			return DateAnswer{Kind: DateAcceptFallback}, nil
		case "s":
			return DateAnswer{Kind: DateSkip}, nil
		}
		d, err := time.ParseInLocation(DateFormat, line, time.Local)
		if err != nil {
			warnColor.Fprintf(p.out, "%q is not a YYYY-MM-DD date\n", line)
			continue
		}
		return DateAnswer{Kind: DateManual, Date: d}, nil
	}
}

func (p *ConsolePrompter) AskCollision(src, dest string) (CollisionAction, error) {
	warnColor.Fprintf(p.out, "%s already exists with different content (incoming: %s)\n", dest, src)
	for {
		promptColor.Fprint(p.out, "[s]kip, [o]verwrite, [k]eep both: ")
		line, err := p.readLine()
		if err != nil {
			return CollisionSkip, err
		}
		switch strings.ToLower(line) {
		case "s":
			return CollisionSkip, nil
		case "o":
			return CollisionOverwrite, nil
		case "k":
			return CollisionKeepBoth, nil
		}
	}
}

func (p *ConsolePrompter) Confirm(question string) (bool, error) {
	for {
		promptColor.Fprintf(p.out, "%s [y/n]: ", question)
		line, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(line) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

func (p *ConsolePrompter) AskReconnect(cause error) (bool, error) {
	warnColor.Fprintf(p.out, "Device I/O failed: %v\n", cause)
	for {
		promptColor.Fprint(p.out, "Reconnect the device and press Enter to retry, or 'a' to abort: ")
		line, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(line) {
		case "":
			return true, nil
		case "a":
			return false, nil
		}
	}
}

func (p *ConsolePrompter) Pause(msg string) error {
	warnColor.Fprintln(p.out, msg)
	promptColor.Fprint(p.out, "Press Enter to continue: ")
	_, err := p.readLine()
	return err
}

// AutoDecider answers without a human: dates fall back to file time,
// collisions use a fixed action, and a lost device aborts.
type AutoDecider struct {
	Collision CollisionAction
	Yes       bool
}

var _ DecisionProvider = (*AutoDecider)(nil)

func (a *AutoDecider) AskDate(DatePrompt) (DateAnswer, error) {
	return DateAnswer{Kind: DateAcceptFallback}, nil
}

func (a *AutoDecider) AskCollision(string, string) (CollisionAction, error) {
	return a.Collision, nil
}

func (a *AutoDecider) Confirm(string) (bool, error) { return a.Yes, nil }

func (a *AutoDecider) AskReconnect(error) (bool, error) { return false, nil }

func (a *AutoDecider) Pause(string) error { return nil }
