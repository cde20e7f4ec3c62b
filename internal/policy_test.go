package internal

import (
	"testing"

	"github.com/spf13/afero"
)

type filerHarness struct {
	fs      afero.Fs
	meta    *fakeBackend
	d       *scriptedDecisions
	tree    *ArchiveTree
	session *Session
	filer   *Filer
}

func newFilerHarness(t *testing.T, fs afero.Fs, meta *fakeBackend, d *scriptedDecisions, opts ...func(*FilerOptions)) *filerHarness {
	t.Helper()
	cfg := DefaultConfig()
	logger := NopLogger()

	fs.MkdirAll("/archive", 0755)
	tree, err := OpenArchiveTree(fs, "/archive", NewPlacer(fs, d, logger), logger)
	if err != nil {
		t.Fatalf("OpenArchiveTree failed: %v", err)
	}
	session, err := NewSession(fs, "organize", "/logs", "/buffer", "/in", fixedClock(), &stubIDs{})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	fo := FilerOptionsFromConfig(cfg, true)
	for _, o := range opts {
		o(&fo)
	}
	filer := NewFiler(tree, NewExtractor(fs, logger, meta), NewDateResolver(cfg, d, logger),
		d, session, NewFormats(cfg), logger, fo)

	return &filerHarness{fs: fs, meta: meta, d: d, tree: tree, session: session, filer: filer}
}

func (h *filerHarness) file(t *testing.T, path string, want OutcomeKind) Outcome {
	t.Helper()
	out := h.filer.File(path)
	if out.Kind != want {
		t.Fatalf("%s: expected %s, got %s", path, want, out)
	}
	return out
}

func TestFiler_ForwardProgressNoPrompts(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-07", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.JPG", "EXIF:DateTimeOriginal", "2019:07:10 12:00:00")
	meta.set("IMG_0002.JPG", "EXIF:DateTimeOriginal", "2019:08:02 12:00:00")
	meta.set("IMG_0003.MOV", "QuickTime:CreationDate", "2019:09:03 12:00:00-04:00")
	meta.set("IMG_0004.JPG", "EXIF:DateTimeOriginal", "2019:08:20 12:00:00")
	writeFile(t, fs, "/in/IMG_0001.JPG", "1")
	writeFile(t, fs, "/in/IMG_0002.JPG", "2")
	writeFile(t, fs, "/in/IMG_0003.MOV", "3")
	writeFile(t, fs, "/in/IMG_0004.JPG", "4")

	d := newScripted(t)
	h := newFilerHarness(t, fs, meta, d)

	h.file(t, "/in/IMG_0001.JPG", OutcomeFiled)
	h.file(t, "/in/IMG_0002.JPG", OutcomeFiled)
	h.file(t, "/in/IMG_0003.MOV", OutcomeFiled)
	// 2019-08 became a no-prompt month when it was created.
	h.file(t, "/in/IMG_0004.JPG", OutcomeFiled)

	if d.prompts() != 0 {
		t.Errorf("Expected zero prompts, got %d", d.prompts())
	}
	mustExist(t, fs, "/archive/2019/2019-07/2019-07-10_IMG_0001.JPG")
	mustExist(t, fs, "/archive/2019/2019-08/2019-08-02_IMG_0002.JPG")
	mustExist(t, fs, "/archive/2019/2019-09/2019-09-03_IMG_0003.MOV")
	mustExist(t, fs, "/archive/2019/2019-08/2019-08-20_IMG_0004.JPG")
	mustExist(t, fs, "/buffer/2019-09-03_IMG_0003.MOV")
	mustExist(t, fs, "/in/IMG_0001.JPG")

	months := h.filer.NoPromptMonths()
	if len(months) != 2 || months[0] != "2019-08" || months[1] != "2019-09" {
		t.Errorf("Expected no-prompt months [2019-08 2019-09], got %v", months)
	}
	if got := h.session.GetStats().Filed; got != 4 {
		t.Errorf("Expected 4 filed in session, got %d", got)
	}
}

func TestFiler_OutOfOrderWhitelist(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.JPG", "EXIF:DateTimeOriginal", "2019:06:01 12:00:00")
	meta.set("IMG_0002.JPG", "EXIF:DateTimeOriginal", "2019:06:15 12:00:00")
	writeFile(t, fs, "/in/IMG_0001.JPG", "1")
	writeFile(t, fs, "/in/IMG_0002.JPG", "2")

	d := newScripted(t)
	d.dates = []DateAnswer{{Kind: DateAcceptFallback}}
	h := newFilerHarness(t, fs, meta, d)

	h.file(t, "/in/IMG_0001.JPG", OutcomeRecoverablePrompt)
	h.file(t, "/in/IMG_0002.JPG", OutcomeFiled)

	if len(d.datePrompts) != 1 {
		t.Fatalf("Expected exactly one prompt, got %d", len(d.datePrompts))
	}
	p := d.datePrompts[0]
	if p.Reason != PromptOutOfOrder || p.ActiveMonth != "2019-08" {
		t.Errorf("Unexpected prompt %+v", p)
	}
	mustExist(t, fs, "/archive/2019/2019-06/2019-06-01_IMG_0001.JPG")
	mustExist(t, fs, "/archive/2019/2019-06/2019-06-15_IMG_0002.JPG")
}

func TestFiler_ConfirmWhitelistDeclined(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.JPG", "EXIF:DateTimeOriginal", "2019:06:01 12:00:00")
	meta.set("IMG_0002.JPG", "EXIF:DateTimeOriginal", "2019:06:15 12:00:00")
	writeFile(t, fs, "/in/IMG_0001.JPG", "1")
	writeFile(t, fs, "/in/IMG_0002.JPG", "2")

	d := newScripted(t)
	d.dates = []DateAnswer{{Kind: DateAcceptFallback}, {Kind: DateAcceptFallback}}
	d.confirms = []bool{false, true}
	h := newFilerHarness(t, fs, meta, d, func(o *FilerOptions) { o.ConfirmWhitelist = true })

	h.file(t, "/in/IMG_0001.JPG", OutcomeRecoverablePrompt)
	h.file(t, "/in/IMG_0002.JPG", OutcomeRecoverablePrompt)

	if len(d.datePrompts) != 2 || len(d.questions) != 2 {
		t.Errorf("Expected 2 date prompts and 2 confirmations, got %d and %d", len(d.datePrompts), len(d.questions))
	}
	months := h.filer.NoPromptMonths()
	if len(months) != 1 || months[0] != "2019-06" {
		t.Errorf("Expected 2019-06 whitelisted after second answer, got %v", months)
	}
}

func TestFiler_ManualOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.JPG", "EXIF:DateTimeOriginal", "2019:06:01 12:00:00")
	meta.set("IMG_0002.JPG", "EXIF:DateTimeOriginal", "2019:07:01 12:00:00")
	writeFile(t, fs, "/in/IMG_0001.JPG", "1")
	writeFile(t, fs, "/in/IMG_0002.JPG", "2")

	d := newScripted(t)
	d.dates = []DateAnswer{
		{Kind: DateManual, Date: localDate(2019, 7, 4)},
	}
	h := newFilerHarness(t, fs, meta, d)

	out := h.file(t, "/in/IMG_0001.JPG", OutcomeRecoverablePrompt)
	if out.Dest != "/archive/2019/2019-07/2019-07-04_IMG_0001.JPG" {
		t.Errorf("Expected manual date to choose the month, got %s", out.Dest)
	}
	mustNotExist(t, fs, "/archive/2019/2019-06")

	// The manual month no longer prompts.
	h.file(t, "/in/IMG_0002.JPG", OutcomeFiled)
	if len(d.datePrompts) != 1 {
		t.Errorf("Expected one prompt, got %d", len(d.datePrompts))
	}
}

func TestFiler_SkipAtPrompt(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.JPG", "EXIF:DateTimeOriginal", "2019:06:01 12:00:00")
	writeFile(t, fs, "/in/IMG_0001.JPG", "1")

	d := newScripted(t)
	d.dates = []DateAnswer{{Kind: DateSkip}}
	h := newFilerHarness(t, fs, meta, d)

	h.file(t, "/in/IMG_0001.JPG", OutcomeSkipped)
	mustNotExist(t, fs, "/archive/2019/2019-06")
	mustExist(t, fs, "/in/IMG_0001.JPG")
	if got := h.session.GetStats().Skipped; got != 1 {
		t.Errorf("Expected 1 skipped in session, got %d", got)
	}
}

func TestFiler_NoDateNonInteractive(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	writeFile(t, fs, "/in/anim.GIF", "gif", localDate(2019, 8, 12))

	d := newScripted(t)
	h := newFilerHarness(t, fs, newFakeBackend(), d, func(o *FilerOptions) { o.Interactive = false })

	h.file(t, "/in/anim.GIF", OutcomeFiled)
	mustExist(t, fs, "/archive/2019/2019-08/2019-08-12_anim.GIF")
	if d.prompts() != 0 {
		t.Errorf("Expected no prompts, got %d", d.prompts())
	}
}

func TestFiler_EditedVariantSupersedes(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.JPG", "EXIF:DateTimeOriginal", "2019:08:26 12:00:00")
	// The edit carries a later date that must be ignored.
	meta.set("IMG_E0001.JPG", "EXIF:DateTimeOriginal", "2020:01:01 12:00:00")
	writeFile(t, fs, "/in/IMG_0001.JPG", "original")
	writeFile(t, fs, "/in/IMG_E0001.JPG", "edited")

	d := newScripted(t)
	h := newFilerHarness(t, fs, meta, d)

	h.file(t, "/in/IMG_0001.JPG", OutcomeFiled)
	mustExist(t, fs, "/buffer/2019-08-26_IMG_0001.JPG")

	out := h.file(t, "/in/IMG_E0001.JPG", OutcomeSuperseded)
	if out.Dest != "/archive/2019/2019-08/2019-08-26_IMG_E0001.JPG" {
		t.Errorf("Expected edit under the original's date, got %s", out.Dest)
	}
	mustNotExist(t, fs, "/archive/2019/2019-08/2019-08-26_IMG_0001.JPG")
	mustNotExist(t, fs, "/buffer/2019-08-26_IMG_0001.JPG")
	mustExist(t, fs, "/buffer/2019-08-26_IMG_E0001.JPG")
	mustNotExist(t, fs, "/archive/2020")

	// Seeing the original again does not bring it back.
	h.file(t, "/in/IMG_0001.JPG", OutcomeSkipped)
	mustNotExist(t, fs, "/archive/2019/2019-08/2019-08-26_IMG_0001.JPG")

	if d.prompts() != 0 {
		t.Errorf("Expected no prompts, got %d", d.prompts())
	}
}

func TestFiler_EditedVariantFromEarlierRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/archive/2019/2019-08/2019-08-26_IMG_0007.HEIC", "original")
	writeFile(t, fs, "/in/IMG_E0007.HEIC", "edited")

	h := newFilerHarness(t, fs, newFakeBackend(), newScripted(t))

	h.file(t, "/in/IMG_E0007.HEIC", OutcomeSuperseded)
	mustExist(t, fs, "/archive/2019/2019-08/2019-08-26_IMG_E0007.HEIC")
	mustNotExist(t, fs, "/archive/2019/2019-08/2019-08-26_IMG_0007.HEIC")
}

func TestFiler_EditedVideoIsNotAVariant(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/archive/2019/2019-08/2019-08-26_IMG_0009.MOV", "original")
	meta := newFakeBackend()
	meta.set("IMG_E0009.MOV", "QuickTime:CreationDate", "2019:08:27 10:00:00-04:00")
	writeFile(t, fs, "/in/IMG_E0009.MOV", "edited")

	h := newFilerHarness(t, fs, meta, newScripted(t))

	h.file(t, "/in/IMG_E0009.MOV", OutcomeFiled)
	mustExist(t, fs, "/archive/2019/2019-08/2019-08-26_IMG_0009.MOV")
	mustExist(t, fs, "/archive/2019/2019-08/2019-08-27_IMG_E0009.MOV")
}

func TestFiler_SidecarNotFiled(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.AAE", "PLIST:AdjustmentTimestamp", "2019:08:26 10:00:00Z")
	writeFile(t, fs, "/in/IMG_0001.AAE", "<plist/>")

	h := newFilerHarness(t, fs, meta, newScripted(t))
	h.file(t, "/in/IMG_0001.AAE", OutcomeSkipped)

	files, _ := afero.ReadDir(fs, "/archive/2019/2019-08")
	if len(files) != 0 {
		t.Errorf("Expected sidecar not to be filed, found %d files", len(files))
	}
}

func TestFiler_UnsupportedAndUnreadable(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	writeFile(t, fs, "/in/scan.TIF", "tif")

	h := newFilerHarness(t, fs, newFakeBackend(), newScripted(t))

	h.file(t, "/in/scan.TIF", OutcomeSkipped)
	out := h.file(t, "/in/gone.JPG", OutcomeFailed)
	if out.IsFatal() {
		t.Error("Expected an unreadable file not to stop the run")
	}
	if got := h.session.GetStats().Errors; got != 1 {
		t.Errorf("Expected 1 error in session, got %d", got)
	}
}

func TestFiler_SecondRunPlacesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.JPG", "EXIF:DateTimeOriginal", "2019:08:10 12:00:00")
	meta.set("IMG_0002.JPG", "EXIF:DateTimeOriginal", "2019:05:01 12:00:00")
	meta.set("IMG_0003.MP4", "QuickTime:CreateDate", "2019:09:02 03:00:00")
	inputs := []string{"/in/IMG_0001.JPG", "/in/IMG_0002.JPG", "/in/IMG_0003.MP4"}
	for i, p := range inputs {
		writeFile(t, fs, p, string(rune('a'+i)))
	}

	first := newScripted(t)
	first.dates = []DateAnswer{{Kind: DateAcceptFallback}}
	h := newFilerHarness(t, fs, meta, first)
	for _, p := range inputs {
		if out := h.filer.File(p); !out.Placed() {
			t.Fatalf("first run: expected %s placed, got %s", p, out)
		}
	}
	mustExist(t, fs, "/archive/2019/2019-09/2019-09-01_IMG_0003.MP4")
	h.session.Close()
	fs.RemoveAll("/buffer")

	second := newScripted(t)
	h = newFilerHarness(t, fs, meta, second)
	for _, p := range inputs {
		h.file(t, p, OutcomeDuplicate)
	}
	if second.prompts() != 0 {
		t.Errorf("Expected no prompts on rerun, got %d", second.prompts())
	}
	names, _ := ListFiles(fs, "/buffer")
	if len(names) != 0 {
		t.Errorf("Expected empty buffer on rerun, got %v", names)
	}
}

func TestFiler_SecondRunWithEditPlacesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/archive/2019/2019-08", 0755)
	meta := newFakeBackend()
	meta.set("IMG_0001.JPG", "EXIF:DateTimeOriginal", "2019:08:26 12:00:00")
	meta.set("IMG_E0001.JPG", "EXIF:DateTimeOriginal", "2019:09:02 12:00:00")
	inputs := []string{"/in/IMG_0001.JPG", "/in/IMG_E0001.JPG"}
	writeFile(t, fs, inputs[0], "original")
	writeFile(t, fs, inputs[1], "edited")

	h := newFilerHarness(t, fs, meta, newScripted(t))
	h.file(t, inputs[0], OutcomeFiled)
	h.file(t, inputs[1], OutcomeSuperseded)
	h.session.Close()
	fs.RemoveAll("/buffer")

	second := newScripted(t)
	h = newFilerHarness(t, fs, meta, second)
	h.file(t, inputs[0], OutcomeSkipped)
	out := h.file(t, inputs[1], OutcomeDuplicate)
	if out.Dest != "/archive/2019/2019-08/2019-08-26_IMG_E0001.JPG" {
		t.Errorf("Expected the filed edit as duplicate target, got %s", out.Dest)
	}

	mustNotExist(t, fs, "/archive/2019/2019-09")
	if second.prompts() != 0 {
		t.Errorf("Expected no prompts on rerun, got %d", second.prompts())
	}
	names, _ := ListFiles(fs, "/buffer")
	if len(names) != 0 {
		t.Errorf("Expected empty buffer on rerun, got %v", names)
	}
}
