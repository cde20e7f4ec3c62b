package internal

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	// WEBP decoding for imaging.Open
	_ "golang.org/x/image/webp"
)

// Converter turns a legacy-format file into one the archive keeps and returns
// the new path. Conversion failures are never fatal to a run.
type Converter interface {
	Convert(path string) (string, error)
}

// convertedPath is "<dir>/<stem>.jpg".
func convertedPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".jpg"
}

// ImageConverter decodes in-process and writes a JPEG next to the source.
type ImageConverter struct {
	Quality int
}

var _ Converter = (*ImageConverter)(nil)

func NewImageConverter() *ImageConverter {
	return &ImageConverter{Quality: 95}
}

func (c *ImageConverter) Convert(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to sniff %s: %w", path, err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%s is %s, not an image", filepath.Base(path), mt.String())
	}

	out := convertedPath(path)
	if _, err := os.Stat(out); err == nil {
		return "", fmt.Errorf("%s already exists", filepath.Base(out))
	}

	img, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	if err := imaging.Save(img, out, imaging.JPEGQuality(c.Quality)); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("failed to write %s: %w", filepath.Base(out), err)
	}
	if fi, err := os.Stat(path); err == nil {
		os.Chtimes(out, fi.ModTime(), fi.ModTime())
	}
	return out, nil
}

// ExecConverter runs an external command, e.g. "dwebp {in} -o {out}".
type ExecConverter struct {
	Command string
}

var _ Converter = (*ExecConverter)(nil)

func (c *ExecConverter) Convert(path string) (string, error) {
	fields := strings.Fields(c.Command)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty convert command")
	}
	out := convertedPath(path)
	if _, err := os.Stat(out); err == nil {
		return "", fmt.Errorf("%s already exists", filepath.Base(out))
	}

	args := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, "{in}", path)
		args[i] = strings.ReplaceAll(f, "{out}", out)
	}
	output, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("%s produced no %s", args[0], filepath.Base(out))
	}
	return out, nil
}

// NewConverterFromConfig uses the external command when one is configured.
func NewConverterFromConfig(cfg *Config) Converter {
	if strings.TrimSpace(cfg.ConvertCommand) != "" {
		return &ExecConverter{Command: cfg.ConvertCommand}
	}
	return NewImageConverter()
}

// ConvertDir converts every legacy-format file in dir. A file is left alone
// when another file with the same stem already sits next to it.
func ConvertDir(fs afero.Fs, dir string, conv Converter, formats *Formats, deleteOriginal bool, logger logrus.FieldLogger) (converted, failed []string, err error) {
	names, err := ListFiles(fs, dir)
	if err != nil {
		return nil, nil, err
	}
	stems := make(map[string]int, len(names))
	for _, n := range names {
		stems[strings.TrimSuffix(n, filepath.Ext(n))]++
	}

	for _, name := range names {
		path := filepath.Join(dir, name)
		if !formats.NeedsConversion(name) {
			continue
		}
		log := logger.WithField("path", path)

		if stems[strings.TrimSuffix(name, filepath.Ext(name))] > 1 {
			log.Infof("skipping conversion, a file with the same name and another extension exists")
		} else {
			out, err := conv.Convert(path)
			if err != nil {
				log.Warnf("conversion failed, keeping original: %v", err)
				failed = append(failed, path)
				continue
			}
			log.Infof("converted to %s", filepath.Base(out))
			converted = append(converted, out)
		}

		if deleteOriginal {
			if err := fs.Remove(path); err != nil {
				log.Warnf("could not delete converted original: %v", err)
			}
		}
	}
	return converted, failed, nil
}
