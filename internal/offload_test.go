package internal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
)

// fakeConverter writes "<stem>.jpg" next to the input.
type fakeConverter struct {
	fs    afero.Fs
	fail  map[string]bool
	calls []string
}

func (c *fakeConverter) Convert(path string) (string, error) {
	c.calls = append(c.calls, path)
	if c.fail[filepath.Base(path)] {
		return "", errors.New("cannot decode")
	}
	out := convertedPath(path)
	return out, afero.WriteFile(c.fs, out, []byte("jpeg"), 0644)
}

type offloadHarness struct {
	device *flakyFs
	backup afero.Fs
	d      *scriptedDecisions
	logs   *test.Hook
	o      *Offloader
}

func newOffloadHarness(t *testing.T) *offloadHarness {
	device := newFlakyFs(afero.NewMemMapFs())
	backup := afero.NewMemMapFs()
	d := newScripted(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	return &offloadHarness{
		device: device,
		backup: backup,
		d:      d,
		logs:   hook,
		o: &Offloader{
			Source:    NewDirSource(device, "/phone/DCIM"),
			Fs:        backup,
			RawRoot:   "/backup/Raw_Offload",
			Clock:     fixedClock(),
			Decisions: d,
			Formats:   NewFormats(DefaultConfig()),
			Logger:    logger,
		},
	}
}

func (h *offloadHarness) phone(t *testing.T, paths ...string) {
	for _, p := range paths {
		writeFile(t, h.device.Fs, filepath.Join("/phone/DCIM", p), p)
	}
}

func TestOffload_FirstRun(t *testing.T) {
	h := newOffloadHarness(t)
	h.phone(t, "100APPLE/IMG_0001.JPG", "100APPLE/IMG_0002.MOV", "101APPLE/IMG_0100.HEIC")

	var seen []string
	h.o.OnFile = func(folder, name string) { seen = append(seen, folder+"/"+name) }

	res, err := h.o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Dir != "/backup/Raw_Offload/2024-01-15" {
		t.Errorf("Expected dated offload dir, got %s", res.Dir)
	}
	if res.Copied != 3 || res.Skipped != 0 {
		t.Errorf("Expected 3 copied, 0 skipped, got %d/%d", res.Copied, res.Skipped)
	}
	if res.Previous != "" || res.Overlap != "" {
		t.Errorf("Expected no previous offload, got %q %q", res.Previous, res.Overlap)
	}
	mustExist(t, h.backup, "/backup/Raw_Offload/2024-01-15/101APPLE/IMG_0100.HEIC")
	if len(seen) != 3 {
		t.Errorf("Expected progress for 3 files, got %v", seen)
	}
}

func TestOffload_OverlapFolder(t *testing.T) {
	h := newOffloadHarness(t)
	h.phone(t,
		"99APPLE/IMG_0001.JPG",
		"100APPLE/IMG_0100.JPG",
		"100APPLE/IMG_0101.JPG",
		"101APPLE/IMG_0200.JPG",
	)
	writeFile(t, h.backup, "/backup/Raw_Offload/2023-12-01/99APPLE/IMG_0001.JPG", "old")
	writeFile(t, h.backup, "/backup/Raw_Offload/2024-01-10/99APPLE/IMG_0001.JPG", "old")
	writeFile(t, h.backup, "/backup/Raw_Offload/2024-01-10/100APPLE/IMG_0100.JPG", "old")

	res, err := h.o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Overlap != "100APPLE" || res.Previous != "/backup/Raw_Offload/2024-01-10" {
		t.Errorf("Unexpected overlap detection: %q %q", res.Previous, res.Overlap)
	}
	if res.Copied != 2 || res.Skipped != 1 {
		t.Errorf("Expected 2 copied and 1 skipped, got %d/%d", res.Copied, res.Skipped)
	}
	mustNotExist(t, h.backup, "/backup/Raw_Offload/2024-01-15/99APPLE")
	mustNotExist(t, h.backup, "/backup/Raw_Offload/2024-01-15/100APPLE/IMG_0100.JPG")
	mustExist(t, h.backup, "/backup/Raw_Offload/2024-01-15/100APPLE/IMG_0101.JPG")
	mustExist(t, h.backup, "/backup/Raw_Offload/2024-01-15/101APPLE/IMG_0200.JPG")
}

func TestOffload_RefusesSecondRunSameDay(t *testing.T) {
	h := newOffloadHarness(t)
	h.backup.MkdirAll("/backup/Raw_Offload/2024-01-15", 0755)

	_, err := h.o.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected refusal, got %v", err)
	}
}

func TestOffload_ReconnectRetry(t *testing.T) {
	h := newOffloadHarness(t)
	h.phone(t, "100APPLE/IMG_0001.JPG", "100APPLE/IMG_0002.JPG")
	h.device.failOpen["/phone/DCIM/100APPLE/IMG_0002.JPG"] = 2
	h.d.reconnects = []bool{true, true}

	res, err := h.o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Copied != 2 {
		t.Errorf("Expected both files after reconnect, got %d", res.Copied)
	}
	mustExist(t, h.backup, "/backup/Raw_Offload/2024-01-15/100APPLE/IMG_0002.JPG")

	warned := 0
	for _, e := range h.logs.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "device lost") {
			warned++
		}
	}
	if warned != 2 {
		t.Errorf("Expected 2 device-lost warnings, got %d", warned)
	}
}

func TestOffload_ReconnectAbort(t *testing.T) {
	h := newOffloadHarness(t)
	h.phone(t, "100APPLE/IMG_0001.JPG", "100APPLE/IMG_0002.JPG", "100APPLE/IMG_0003.JPG")
	h.device.failOpen["/phone/DCIM/100APPLE/IMG_0002.JPG"] = 1
	h.d.reconnects = []bool{false}

	res, err := h.o.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected ErrAborted, got %v", err)
	}
	if res.Copied != 1 {
		t.Errorf("Expected 1 file copied before abort, got %d", res.Copied)
	}
	mustExist(t, h.backup, "/backup/Raw_Offload/2024-01-15/100APPLE/IMG_0001.JPG")
	mustNotExist(t, h.backup, "/backup/Raw_Offload/2024-01-15/100APPLE/IMG_0003.JPG")
}

func TestOffload_Cancelled(t *testing.T) {
	h := newOffloadHarness(t)
	h.phone(t, "100APPLE/IMG_0001.JPG")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestOffload_ConvertsLegacyFormats(t *testing.T) {
	h := newOffloadHarness(t)
	h.phone(t, "100APPLE/IMG_0001.WEBP", "100APPLE/IMG_0002.WEBP", "100APPLE/IMG_0003.JPG")
	conv := &fakeConverter{fs: h.backup, fail: map[string]bool{"IMG_0002.WEBP": true}}
	h.o.Converter = conv
	h.o.DeleteConverted = true

	res, err := h.o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Converted) != 1 || len(res.ConvertFailed) != 1 {
		t.Errorf("Expected 1 converted and 1 failed, got %v / %v", res.Converted, res.ConvertFailed)
	}
	dir := "/backup/Raw_Offload/2024-01-15/100APPLE"
	mustExist(t, h.backup, dir+"/IMG_0001.jpg")
	mustNotExist(t, h.backup, dir+"/IMG_0001.WEBP")
	mustExist(t, h.backup, dir+"/IMG_0002.WEBP")
}

func TestLatestOffload(t *testing.T) {
	fs := afero.NewMemMapFs()
	if got, err := LatestOffload(fs, "/raw"); err == nil {
		t.Errorf("Expected error for missing raw root, got %q", got)
	}
	fs.MkdirAll("/raw/2024-01-10", 0755)
	fs.MkdirAll("/raw/2024-01-15", 0755)
	fs.MkdirAll("/raw/scratch", 0755)

	got, err := LatestOffload(fs, "/raw")
	if err != nil {
		t.Fatalf("LatestOffload failed: %v", err)
	}
	if got != "/raw/2024-01-15" {
		t.Errorf("Expected /raw/2024-01-15, got %s", got)
	}
}

func TestOffload_AbortBeforeCopyLeavesNoFolder(t *testing.T) {
	h := newOffloadHarness(t)
	h.phone(t, "100APPLE/IMG_0001.JPG")
	h.device.failOpen["/phone/DCIM"] = 1
	h.d.reconnects = []bool{false}

	if _, err := h.o.Run(context.Background()); !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected ErrAborted, got %v", err)
	}
	mustNotExist(t, h.backup, "/backup/Raw_Offload/2024-01-15")

	// The next attempt the same day is not refused.
	res, err := h.o.Run(context.Background())
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if res.Copied != 1 {
		t.Errorf("Expected 1 copied on retry, got %d", res.Copied)
	}
}

func TestOffload_EmptyPreviousOffloadIgnored(t *testing.T) {
	h := newOffloadHarness(t)
	h.phone(t, "100APPLE/IMG_0100.JPG", "100APPLE/IMG_0101.JPG")
	writeFile(t, h.backup, "/backup/Raw_Offload/2024-01-10/100APPLE/IMG_0100.JPG", "old")
	h.backup.MkdirAll("/backup/Raw_Offload/2024-01-12", 0755)

	res, err := h.o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Previous != "/backup/Raw_Offload/2024-01-10" || res.Overlap != "100APPLE" {
		t.Errorf("Expected the non-empty offload as previous, got %q %q", res.Previous, res.Overlap)
	}
	if res.Copied != 1 || res.Skipped != 1 {
		t.Errorf("Expected 1 copied and 1 skipped, got %d/%d", res.Copied, res.Skipped)
	}
}
