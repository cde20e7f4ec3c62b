package internal

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// maxCollisionSuffix bounds keep-both renames to _1.._9.
const maxCollisionSuffix = 9

// PlaceAction says what Place did.
type PlaceAction int

const (
	PlaceCopied PlaceAction = iota
	PlaceOverwritten
	PlaceDuplicate
	PlaceSkipped
)

func (a PlaceAction) String() string {
	switch a {
	case PlaceCopied:
		return "copied"
	case PlaceOverwritten:
		return "overwritten"
	case PlaceDuplicate:
		return "duplicate"
	case PlaceSkipped:
		return "skipped"
	}
	return fmt.Sprintf("place(%d)", int(a))
}

// PlaceResult reports where the file ended up. For a duplicate, Dest is the
// existing identical file.
type PlaceResult struct {
	Action PlaceAction
	Dest   string
	Hash   string
	Size   int64
}

// Landed reports whether a new file was written.
func (r PlaceResult) Landed() bool {
	return r.Action == PlaceCopied || r.Action == PlaceOverwritten
}

// Placer copies or moves files without ever silently clobbering a different
// file of the same name.
type Placer struct {
	fs        afero.Fs
	decisions DecisionProvider
	logger    logrus.FieldLogger
}

func NewPlacer(fs afero.Fs, decisions DecisionProvider, logger logrus.FieldLogger) *Placer {
	return &Placer{fs: fs, decisions: decisions, logger: logger}
}

// Place puts src into destDir as newName (or its own name when empty).
// Identical content already at the destination is never copied twice; for a
// move the source is then deleted. Different content is resolved by asking.
func (p *Placer) Place(src, destDir, newName string, move bool) (PlaceResult, error) {
	if newName == "" {
		newName = filepath.Base(src)
	}
	dest := filepath.Join(destDir, newName)

	exists, err := afero.Exists(p.fs, dest)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("failed to stat %s: %w", dest, err)
	}
	if !exists {
		return p.transfer(src, dest, move, PlaceCopied)
	}

	srcHash, same, err := p.sameContent(src, dest)
	if err != nil {
		return PlaceResult{}, err
	}
	if same {
		return p.duplicate(src, dest, srcHash, move)
	}

	action, err := p.decisions.AskCollision(src, dest)
	if err != nil {
		return PlaceResult{}, err
	}
	switch action {
	case CollisionSkip:
		p.logger.WithField("path", src).Infof("collision with %s: skipped", dest)
		return PlaceResult{Action: PlaceSkipped, Dest: dest, Hash: srcHash}, nil

	case CollisionOverwrite:
		p.logger.WithField("path", src).Infof("collision with %s: overwriting", dest)
		return p.transfer(src, dest, move, PlaceOverwritten)
	}

	ext := filepath.Ext(newName)
	stem := strings.TrimSuffix(newName, ext)
	for i := 1; i <= maxCollisionSuffix; i++ {
		candidate := filepath.Join(destDir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		exists, err := afero.Exists(p.fs, candidate)
		if err != nil {
			return PlaceResult{}, fmt.Errorf("failed to stat %s: %w", candidate, err)
		}
		if !exists {
			return p.transfer(src, candidate, move, PlaceCopied)
		}
		if h, err := fileHash(p.fs, candidate); err == nil && h == srcHash {
			return p.duplicate(src, candidate, srcHash, move)
		}
	}
	return PlaceResult{}, fmt.Errorf("%s in %s: %w", newName, destDir, ErrCollisionOverflow)
}

func (p *Placer) duplicate(src, existing, hash string, move bool) (PlaceResult, error) {
	if move {
		if err := p.fs.Remove(src); err != nil {
			return PlaceResult{}, fmt.Errorf("failed to remove moved duplicate %s: %w", src, err)
		}
	}
	p.logger.WithField("path", src).Debugf("identical to %s", existing)
	return PlaceResult{Action: PlaceDuplicate, Dest: existing, Hash: hash}, nil
}

func (p *Placer) sameContent(a, b string) (string, bool, error) {
	ha, err := fileHash(p.fs, a)
	if err != nil {
		return "", false, fmt.Errorf("failed to hash src file %s: %w", a, err)
	}
	hb, err := fileHash(p.fs, b)
	if err != nil {
		return "", false, fmt.Errorf("failed to hash dest file %s: %w", b, err)
	}
	return ha, ha == hb, nil
}

func (p *Placer) transfer(src, dest string, move bool, action PlaceAction) (PlaceResult, error) {
	if move {
		if err := p.fs.Rename(src, dest); err == nil {
			return p.describe(dest, action)
		}
	}
	hash, size, err := copyFileAtomic(p.fs, src, dest)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("failed to copy file %s to %s: %w", src, dest, err)
	}
	if move {
		if err := p.fs.Remove(src); err != nil {
			return PlaceResult{}, fmt.Errorf("copied but failed to remove %s: %w", src, err)
		}
	}
	return PlaceResult{Action: action, Dest: dest, Hash: hash, Size: size}, nil
}

func (p *Placer) describe(dest string, action PlaceAction) (PlaceResult, error) {
	fi, err := p.fs.Stat(dest)
	if err != nil {
		return PlaceResult{}, err
	}
	hash, err := fileHash(p.fs, dest)
	if err != nil {
		return PlaceResult{}, err
	}
	return PlaceResult{Action: action, Dest: dest, Hash: hash, Size: fi.Size()}, nil
}

// fileHash computes SHA256 hash of a file content
func fileHash(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// copyFileAtomic copies to a temp name, verifies the hash, then renames into
// place. The source modification time is preserved.
func copyFileAtomic(fs afero.Fs, src, dest string) (string, int64, error) {
	in, err := fs.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return "", 0, err
	}

	tmp := dest + ".tmp"
	out, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		out.Close()
		fs.Remove(tmp)
		return "", 0, err
	}
	if err := out.Close(); err != nil {
		fs.Remove(tmp)
		return "", 0, err
	}

	srcHash := fmt.Sprintf("%x", h.Sum(nil))
	if written, err := fileHash(fs, tmp); err != nil || written != srcHash {
		fs.Remove(tmp)
		return "", 0, fmt.Errorf("hash mismatch after copy of %s", src)
	}

	if err := fs.Chtimes(tmp, fi.ModTime(), fi.ModTime()); err != nil {
		fs.Remove(tmp)
		return "", 0, err
	}
	if err := fs.Rename(tmp, dest); err != nil {
		fs.Remove(tmp)
		return "", 0, err
	}
	return srcHash, n, nil
}
