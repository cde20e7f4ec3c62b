package internal

import (
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
)

// writeTestImage saves a small PNG at path, whatever its extension.
func writeTestImage(t *testing.T, path string) {
	t.Helper()
	img := imaging.New(8, 8, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		t.Fatal(err)
	}
}

func TestImageConverter(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sticker.webp")
	writeTestImage(t, src)

	out, err := NewImageConverter().Convert(src)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if out != filepath.Join(dir, "sticker.jpg") {
		t.Errorf("Expected sticker.jpg, got %s", out)
	}
	img, err := imaging.Open(out)
	if err != nil {
		t.Fatalf("Converted file does not decode: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("Expected width 8, got %d", img.Bounds().Dx())
	}

	if _, err := NewImageConverter().Convert(src); err == nil {
		t.Error("Expected refusal to overwrite an existing output")
	}
}

func TestImageConverter_NotAnImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fake.webp")
	os.WriteFile(src, []byte("plain text pretending to be an image"), 0644)

	if _, err := NewImageConverter().Convert(src); err == nil {
		t.Error("Expected error for non-image content")
	}
	if _, err := os.Stat(filepath.Join(dir, "fake.jpg")); err == nil {
		t.Error("Expected no output for a failed conversion")
	}
}

func TestExecConverter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses cp and false")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "a.webp")
	os.WriteFile(src, []byte("data"), 0644)

	out, err := (&ExecConverter{Command: "cp {in} {out}"}).Convert(src)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if data, _ := os.ReadFile(out); string(data) != "data" {
		t.Errorf("Expected command output at %s", out)
	}

	other := filepath.Join(dir, "b.webp")
	os.WriteFile(other, []byte("data"), 0644)
	if _, err := (&ExecConverter{Command: "false {in}"}).Convert(other); err == nil {
		t.Error("Expected failing command to report an error")
	}
	if _, err := (&ExecConverter{}).Convert(other); err == nil {
		t.Error("Expected error for empty command")
	}
}

func TestNewConverterFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	if _, ok := NewConverterFromConfig(cfg).(*ImageConverter); !ok {
		t.Error("Expected in-process converter by default")
	}
	cfg.ConvertCommand = "dwebp {in} -o {out}"
	if _, ok := NewConverterFromConfig(cfg).(*ExecConverter); !ok {
		t.Error("Expected exec converter when a command is set")
	}
}

func TestConvertDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, n := range []string{"a.webp", "b.webp", "b.jpg", "c.webp", "d.JPG"} {
		writeFile(t, fs, "/dir/"+n, n)
	}
	conv := &fakeConverter{fs: fs, fail: map[string]bool{"c.webp": true}}

	converted, failed, err := ConvertDir(fs, "/dir", conv, NewFormats(DefaultConfig()), false, NopLogger())
	if err != nil {
		t.Fatalf("ConvertDir failed: %v", err)
	}
	if len(converted) != 1 || converted[0] != "/dir/a.jpg" {
		t.Errorf("Expected [/dir/a.jpg], got %v", converted)
	}
	if len(failed) != 1 || failed[0] != "/dir/c.webp" {
		t.Errorf("Expected [/dir/c.webp], got %v", failed)
	}
	for _, call := range conv.calls {
		if call == "/dir/b.webp" {
			t.Error("Expected b.webp to be skipped because b.jpg exists")
		}
	}
	mustExist(t, fs, "/dir/a.webp")
	mustExist(t, fs, "/dir/b.webp")
}
