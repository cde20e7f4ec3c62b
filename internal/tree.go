package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	yearDirRe  = regexp.MustCompile(`^\d{4}$`)
	monthDirRe = regexp.MustCompile(`^(\d{4})-(0[1-9]|1[0-2])$`)
)

// MonthNode is one "YYYY-MM" directory. Its file set is loaded on first use
// and only grows through ArchiveTree.Insert.
type MonthNode struct {
	Key  string
	Year string
	Path string

	fs     afero.Fs
	files  map[string]bool
	loaded bool
}

func (m *MonthNode) load() error {
	if m.loaded {
		return nil
	}
	names, err := ListFiles(m.fs, m.Path)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", m.Path, err)
	}
	m.files = make(map[string]bool, len(names))
	for _, n := range names {
		m.files[n] = true
	}
	m.loaded = true
	return nil
}

// Contains reports whether name is filed in this month.
func (m *MonthNode) Contains(name string) (bool, error) {
	if err := m.load(); err != nil {
		return false, err
	}
	return m.files[name], nil
}

// Files returns the filed names in natural order.
func (m *MonthNode) Files() ([]string, error) {
	if err := m.load(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.files))
	for n := range m.files {
		names = append(names, n)
	}
	SortNatural(names)
	return names, nil
}

// YearNode is one "YYYY" directory.
type YearNode struct {
	Name string
	Path string
	// ActiveMonth is the newest month of this year when the run started.
	ActiveMonth string

	months map[string]*MonthNode
}

// Months returns the month keys in order.
func (y *YearNode) Months() []string {
	keys := make([]string, 0, len(y.months))
	for k := range y.months {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Month returns the node for key, if known.
func (y *YearNode) Month(key string) (*MonthNode, bool) {
	m, ok := y.months[key]
	return m, ok
}

// Located is a filed item found by search.
type Located struct {
	Month *MonthNode
	Name  string
}

// Path is the file's full path.
func (l Located) Path() string { return filepath.Join(l.Month.Path, l.Name) }

// ArchiveTree models <root>/<YYYY>/<YYYY-MM>/. The disk is the source of
// truth: nodes are created only for directories that exist, and a file is
// recorded only after it has been copied.
type ArchiveTree struct {
	fs     afero.Fs
	root   string
	placer *Placer
	logger logrus.FieldLogger

	years map[string]*YearNode
	front string
}

// OpenArchiveTree discovers the year and month directories under root and
// records the newest month as the run's front.
func OpenArchiveTree(fs afero.Fs, root string, placer *Placer, logger logrus.FieldLogger) (*ArchiveTree, error) {
	fi, err := fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("archive root %s: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("archive root %s is not a directory", root)
	}

	t := &ArchiveTree{
		fs:     fs,
		root:   root,
		placer: placer,
		logger: logger,
		years:  make(map[string]*YearNode),
	}
	if err := t.Refresh(); err != nil {
		return nil, err
	}
	for _, y := range t.years {
		months := y.Months()
		if len(months) == 0 {
			continue
		}
		y.ActiveMonth = months[len(months)-1]
		if y.ActiveMonth > t.front {
			t.front = y.ActiveMonth
		}
	}
	return t, nil
}

// Root is the archive directory.
func (t *ArchiveTree) Root() string { return t.root }

// Front is the newest ActiveMonth across the years, fixed when the tree was
// opened.
func (t *ArchiveTree) Front() string { return t.front }

// Refresh adopts directories that appeared on disk and drops cached file
// listings. Existing nodes are kept, never recreated. A known directory that
// vanished is an invariant violation.
func (t *ArchiveTree) Refresh() error {
	names, err := ListDirs(t.fs, t.root)
	if err != nil {
		return fmt.Errorf("failed to list archive root: %w", err)
	}
	onDisk := make(map[string]bool, len(names))
	for _, name := range names {
		if !yearDirRe.MatchString(name) {
			continue
		}
		onDisk[name] = true
		if _, ok := t.years[name]; !ok {
			t.years[name] = &YearNode{
				Name:   name,
				Path:   filepath.Join(t.root, name),
				months: make(map[string]*MonthNode),
			}
		}
	}
	for name, y := range t.years {
		if !onDisk[name] {
			return fmt.Errorf("year %s no longer on disk: %w", name, ErrTreeInvariant)
		}
		if err := t.refreshYear(y); err != nil {
			return err
		}
	}
	return nil
}

func (t *ArchiveTree) refreshYear(y *YearNode) error {
	names, err := ListDirs(t.fs, y.Path)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", y.Path, err)
	}
	onDisk := make(map[string]bool, len(names))
	for _, name := range names {
		m := monthDirRe.FindStringSubmatch(name)
		if m == nil || m[1] != y.Name {
			continue
		}
		onDisk[name] = true
		if node, ok := y.months[name]; ok {
			node.loaded = false
			continue
		}
		y.months[name] = t.newMonth(y, name)
	}
	for key := range y.months {
		if !onDisk[key] {
			return fmt.Errorf("month %s no longer on disk: %w", key, ErrTreeInvariant)
		}
	}
	return nil
}

func (t *ArchiveTree) newMonth(y *YearNode, key string) *MonthNode {
	return &MonthNode{
		Key:  key,
		Year: y.Name,
		Path: filepath.Join(y.Path, key),
		fs:   t.fs,
	}
}

// Years returns the known years in order.
func (t *ArchiveTree) Years() []string {
	keys := make([]string, 0, len(t.years))
	for k := range t.years {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Year returns the node for year, if known.
func (t *ArchiveTree) Year(year string) (*YearNode, bool) {
	y, ok := t.years[year]
	return y, ok
}

// Month looks up a "YYYY-MM" key.
func (t *ArchiveTree) Month(key string) (*MonthNode, bool) {
	if len(key) < 4 {
		return nil, false
	}
	y, ok := t.years[key[:4]]
	if !ok {
		return nil, false
	}
	return y.Month(key)
}

// LatestMonth is the newest month currently in the tree, or "".
func (t *ArchiveTree) LatestMonth() string {
	latest := ""
	for _, y := range t.years {
		for k := range y.months {
			if k > latest {
				latest = k
			}
		}
	}
	return latest
}

// mkdir creates a directory the tree does not know about. Finding it already
// on disk means the model diverged.
func (t *ArchiveTree) mkdir(path string) error {
	if exists, err := afero.DirExists(t.fs, path); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%s exists on disk but not in the tree: %w", path, ErrTreeInvariant)
	}
	if err := t.fs.Mkdir(path, 0755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s: %w", path, ErrTreeInvariant)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}

// EnsureYear returns the node for year, creating its directory once.
func (t *ArchiveTree) EnsureYear(year string) (*YearNode, error) {
	if !yearDirRe.MatchString(year) {
		return nil, fmt.Errorf("invalid year %q", year)
	}
	if y, ok := t.years[year]; ok {
		return y, nil
	}
	y := &YearNode{
		Name:   year,
		Path:   filepath.Join(t.root, year),
		months: make(map[string]*MonthNode),
	}
	if err := t.mkdir(y.Path); err != nil {
		return nil, err
	}
	t.years[year] = y
	t.logger.Infof("created year %s", year)
	return y, nil
}

// EnsureMonth returns the node for year/month, creating directories once.
func (t *ArchiveTree) EnsureMonth(year string, month time.Month) (*MonthNode, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	y, err := t.EnsureYear(year)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s-%02d", year, int(month))
	if m, ok := y.months[key]; ok {
		return m, nil
	}
	m := t.newMonth(y, key)
	if err := t.mkdir(m.Path); err != nil {
		return nil, err
	}
	m.files = make(map[string]bool)
	m.loaded = true
	y.months[key] = m
	t.logger.Infof("created month %s", key)
	return m, nil
}

// EnsureMonthFor is EnsureMonth for the month containing ts.
func (t *ArchiveTree) EnsureMonthFor(ts time.Time) (*MonthNode, error) {
	return t.EnsureMonth(ts.Format("2006"), ts.Month())
}

// Insert copies src into month as "<date>_<name>" and records it only once
// the file is on disk.
func (t *ArchiveTree) Insert(month *MonthNode, src string, ts time.Time, move bool) (PlaceResult, error) {
	if known, ok := t.Month(month.Key); !ok || known != month {
		return PlaceResult{}, fmt.Errorf("month %s does not belong to this tree: %w", month.Key, ErrTreeInvariant)
	}
	if ts.Format(MonthFormat) != month.Key {
		return PlaceResult{}, fmt.Errorf("%s dated %s cannot go in %s: %w",
			filepath.Base(src), ts.Format(DateFormat), month.Key, ErrTreeInvariant)
	}
	if err := month.load(); err != nil {
		return PlaceResult{}, err
	}

	res, err := t.placer.Place(src, month.Path, StampedName(ts, filepath.Base(src)), move)
	if err != nil {
		return res, err
	}
	if res.Landed() || res.Action == PlaceDuplicate {
		month.files[filepath.Base(res.Dest)] = true
	}
	return res, nil
}

// Remove deletes a filed item from disk and then from the model.
func (t *ArchiveTree) Remove(month *MonthNode, name string) error {
	if err := month.load(); err != nil {
		return err
	}
	if !month.files[name] {
		return fmt.Errorf("%s is not filed in %s", name, month.Key)
	}
	if err := t.fs.Remove(filepath.Join(month.Path, name)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	delete(month.files, name)
	return nil
}

// Find walks every month in order and returns the filed items whose
// original (unstamped) name satisfies match.
func (t *ArchiveTree) Find(match func(original string) bool) ([]Located, error) {
	var found []Located
	for _, yk := range t.Years() {
		y := t.years[yk]
		for _, mk := range y.Months() {
			m := y.months[mk]
			names, err := m.Files()
			if err != nil {
				return nil, err
			}
			for _, n := range names {
				original := n
				if _, rest, ok := ParseStampedName(n); ok {
					original = rest
				}
				if match(original) {
					found = append(found, Located{Month: m, Name: n})
				}
			}
		}
	}
	return found, nil
}
