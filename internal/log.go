package internal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger writes the run log to a file and echoes warnings and errors to stderr.
type Logger struct {
	*logrus.Logger
	mu sync.Mutex
	f  *os.File
}

// NewLogger opens (appending) the log file at path.
func NewLogger(path string, verbose bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	l.AddHook(&stderrHook{out: os.Stderr})

	return &Logger{Logger: l, f: f}, nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// stderrHook mirrors warn-and-above entries on the console.
type stderrHook struct {
	out io.Writer
}

func (h *stderrHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *stderrHook) Fire(e *logrus.Entry) error {
	line := e.Message
	if p, ok := e.Data["path"]; ok {
		line += " (" + filepath.Base(fmt.Sprint(p)) + ")"
	}
	_, err := io.WriteString(h.out, e.Level.String()+": "+line+"\n")
	return err
}

// NopLogger discards everything. Handy for read-only commands and tests.
func NopLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
