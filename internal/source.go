package internal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
)

// MediaSource is the phone side of an offload: capture folders (DCIM/100APPLE,
// 101APPLE, ...) holding files, both listed in natural order.
type MediaSource interface {
	ListCaptureFolders() ([]string, error)
	ListFiles(folder string) ([]string, error)
	// CopyFile copies one file into dst. A lost device is reported as
	// ErrDeviceDisconnected so the caller can ask for a reconnect.
	CopyFile(folder, name string, dst afero.Fs, destPath string) error
}

// DirSource reads a device mounted as a directory.
type DirSource struct {
	Fs   afero.Fs
	Root string
}

var _ MediaSource = (*DirSource)(nil)

func NewDirSource(fs afero.Fs, root string) *DirSource {
	return &DirSource{Fs: fs, Root: root}
}

func (s *DirSource) ListCaptureFolders() ([]string, error) {
	names, err := ListDirs(s.Fs, s.Root)
	if err != nil {
		return nil, s.deviceErr(err)
	}
	return names, nil
}

func (s *DirSource) ListFiles(folder string) ([]string, error) {
	names, err := ListFiles(s.Fs, filepath.Join(s.Root, folder))
	if err != nil {
		return nil, s.deviceErr(err)
	}
	return names, nil
}

func (s *DirSource) CopyFile(folder, name string, dst afero.Fs, destPath string) error {
	srcPath := filepath.Join(s.Root, folder, name)

	src, err := s.Fs.Open(srcPath)
	if err != nil {
		return s.deviceErr(err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return s.deviceErr(err)
	}

	tmp := destPath + ".tmp"
	out, err := dst.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		dst.Remove(tmp)
		return s.deviceErr(err)
	}
	if err := out.Close(); err != nil {
		dst.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if got, err := dst.Stat(tmp); err == nil && got.Size() != fi.Size() {
		dst.Remove(tmp)
		return fmt.Errorf("short copy of %s (%d of %d bytes): %w", name, got.Size(), fi.Size(), ErrDeviceDisconnected)
	}
	dst.Chtimes(tmp, fi.ModTime(), fi.ModTime())
	if err := dst.Rename(tmp, destPath); err != nil {
		dst.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", destPath, err)
	}
	return nil
}

// deviceErr maps the errors a dropped USB/MTP mount produces to
// ErrDeviceDisconnected. A missing root means the mount is gone.
func (s *DirSource) deviceErr(err error) error {
	if isDisconnect(err) {
		return fmt.Errorf("%w: %v", ErrDeviceDisconnected, err)
	}
	if os.IsNotExist(err) {
		if ok, _ := afero.DirExists(s.Fs, s.Root); !ok {
			return fmt.Errorf("%w: %s is gone", ErrDeviceDisconnected, s.Root)
		}
	}
	return err
}

func isDisconnect(err error) bool {
	return errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.ENOTCONN) ||
		errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, syscall.ESHUTDOWN)
}
