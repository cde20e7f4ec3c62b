package internal

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// stubClock returns a fixed time.
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func fixedClock() *stubClock {
	return &stubClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubIDs returns "run-1", "run-2", ...
type stubIDs struct{ n int }

func (g *stubIDs) New() string {
	g.n++
	return fmt.Sprintf("run-%d", g.n)
}

// scriptedDecisions replays canned answers and records every question.
// Running out of answers fails the test.
type scriptedDecisions struct {
	t          *testing.T
	dates      []DateAnswer
	collisions []CollisionAction
	confirms   []bool
	reconnects []bool

	datePrompts []DatePrompt
	collided    []string
	questions   []string
	pauses      []string
}

func newScripted(t *testing.T) *scriptedDecisions {
	return &scriptedDecisions{t: t}
}

func (s *scriptedDecisions) prompts() int {
	return len(s.datePrompts) + len(s.collided) + len(s.questions)
}

func (s *scriptedDecisions) AskDate(p DatePrompt) (DateAnswer, error) {
	s.datePrompts = append(s.datePrompts, p)
	if len(s.dates) == 0 {
		s.t.Fatalf("unexpected date prompt for %s", p.Path)
	}
	a := s.dates[0]
	s.dates = s.dates[1:]
	return a, nil
}

func (s *scriptedDecisions) AskCollision(src, dest string) (CollisionAction, error) {
	s.collided = append(s.collided, dest)
	if len(s.collisions) == 0 {
		s.t.Fatalf("unexpected collision prompt for %s", dest)
	}
	a := s.collisions[0]
	s.collisions = s.collisions[1:]
	return a, nil
}

func (s *scriptedDecisions) Confirm(q string) (bool, error) {
	s.questions = append(s.questions, q)
	if len(s.confirms) == 0 {
		s.t.Fatalf("unexpected confirmation: %s", q)
	}
	a := s.confirms[0]
	s.confirms = s.confirms[1:]
	return a, nil
}

func (s *scriptedDecisions) AskReconnect(error) (bool, error) {
	if len(s.reconnects) == 0 {
		s.t.Fatalf("unexpected reconnect prompt")
	}
	a := s.reconnects[0]
	s.reconnects = s.reconnects[1:]
	return a, nil
}

func (s *scriptedDecisions) Pause(msg string) error {
	s.pauses = append(s.pauses, msg)
	return nil
}

// fakeBackend serves canned metadata per base name.
type fakeBackend struct {
	fields map[string]map[string]string
	err    map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{fields: map[string]map[string]string{}, err: map[string]error{}}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) set(name string, kv ...string) {
	m := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	b.fields[name] = m
}

func (b *fakeBackend) Query(path string) (map[string]string, error) {
	if err := b.err[filepath.Base(path)]; err != nil {
		return nil, err
	}
	out := map[string]string{}
	for k, v := range b.fields[filepath.Base(path)] {
		out[k] = v
	}
	return out, nil
}

// writeFile creates path with content and an optional modification time.
func writeFile(t *testing.T, fs afero.Fs, path, content string, mtime ...time.Time) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if len(mtime) > 0 {
		if err := fs.Chtimes(path, mtime[0], mtime[0]); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
}

func mustExist(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if ok, _ := afero.Exists(fs, path); !ok {
		t.Errorf("Expected %s to exist", path)
	}
}

func mustNotExist(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if ok, _ := afero.Exists(fs, path); ok {
		t.Errorf("Expected %s not to exist", path)
	}
}

func localDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.Local)
}
