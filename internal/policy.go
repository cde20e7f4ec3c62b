package internal

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// FilerOptions are the per-run knobs of the filing policy.
type FilerOptions struct {
	OriginalPrefix   string
	EditedPrefix     string
	ConfirmWhitelist bool
	// Interactive allows the resolver to ask for a manual date.
	Interactive bool
	// Move deletes sources once they are safely filed.
	Move bool
}

// FilerOptionsFromConfig fills the options that come from the config file.
func FilerOptionsFromConfig(cfg *Config, interactive bool) FilerOptions {
	return FilerOptions{
		OriginalPrefix:   cfg.OriginalPrefix,
		EditedPrefix:     cfg.EditedPrefix,
		ConfirmWhitelist: cfg.ConfirmWhitelist,
		Interactive:      interactive,
	}
}

// Filer decides, item by item, where a file goes in the archive tree.
//
// An item is inserted without asking when its month is the tree's front at
// run start, is in the no-prompt set, or is newer than every month on disk.
// Anything older is an out-of-order item and goes through the override
// prompt. Edited variants take their original's date and replace it.
// Sidecars are never filed.
type Filer struct {
	tree      *ArchiveTree
	extractor *Extractor
	resolver  *DateResolver
	decisions DecisionProvider
	session   *Session
	formats   *Formats
	logger    logrus.FieldLogger
	opts      FilerOptions

	noPrompt map[string]bool
	index    map[string][]Located
}

func NewFiler(tree *ArchiveTree, extractor *Extractor, resolver *DateResolver, decisions DecisionProvider,
	session *Session, formats *Formats, logger logrus.FieldLogger, opts FilerOptions) *Filer {
	return &Filer{
		tree:      tree,
		extractor: extractor,
		resolver:  resolver,
		decisions: decisions,
		session:   session,
		formats:   formats,
		logger:    logger,
		opts:      opts,
		noPrompt:  make(map[string]bool),
	}
}

// NoPromptMonths lists the months that currently skip the order check.
func (f *Filer) NoPromptMonths() []string {
	keys := make([]string, 0, len(f.noPrompt))
	for k := range f.noPrompt {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// File runs the full policy for one source file. It never panics on user or
// data problems; inspect Outcome.Kind.
func (f *Filer) File(path string) Outcome {
	item := &MediaItem{Path: path, Ext: FormatOf(path)}
	name := item.Name()
	log := f.logger.WithField("path", path)

	if f.formats.IsSidecar(path) {
		return f.skip(path, "sidecar files are not filed")
	}

	if orig, ok, err := f.originalOf(name); err != nil {
		return f.fail(path, err)
	} else if ok {
		return f.supersede(item, orig)
	}

	if filed, ok, err := f.filedEdit(name); err != nil {
		return f.fail(path, err)
	} else if ok {
		return f.refile(item, filed)
	}

	if edit, ok, err := f.editOf(name); err != nil {
		return f.fail(path, err)
	} else if ok {
		return f.skip(path, "superseded by "+edit.Name)
	}

	bundle, modTime, err := f.extractor.Extract(path)
	if err != nil {
		return f.fail(path, err)
	}
	item.ModTime = modTime

	res, err := f.resolver.Resolve(path, item.Ext, bundle, modTime, f.opts.Interactive)
	switch {
	case errors.Is(err, ErrSkipItem):
		return f.skip(path, "skipped at date prompt")
	case err != nil:
		return f.fail(path, err)
	case !res.Resolved():
		log.Warnf("unsupported format %s, not filed", item.Ext)
		return f.skip(path, "unsupported format")
	}
	if res.Manual {
		log.Warnf("no metadata date, using %s (%s)", res.Time.Format(DateFormat), res.Source)
	}
	item.Date = res

	return f.place(item, bundle)
}

// place applies the chronology checks. A manual override or an accepted
// fallback loops back with forced set, so the next pass inserts.
func (f *Filer) place(item *MediaItem, bundle MetadataBundle) Outcome {
	path := item.Path
	kind := OutcomeFiled
	forced := false

	for {
		key := item.Date.Time.Format(MonthFormat)

		if m, ok := f.tree.Month(key); ok {
			has, err := m.Contains(StampedName(item.Date.Time, item.Name()))
			if err != nil {
				return f.fail(path, err)
			}
			if has {
				return f.insert(item, kind, false)
			}
		}

		switch {
		case forced:
			return f.insert(item, kind, item.Date.Source == "manual")
		case key == f.tree.Front() || f.noPrompt[key]:
			return f.insert(item, kind, false)
		case key > f.tree.LatestMonth():
			return f.insert(item, kind, true)
		}

		active := f.tree.LatestMonth()
		f.logger.WithField("path", path).Warnf("dated %s, older than active month %s", item.Date.Time.Format(DateFormat), active)

		ans, err := f.decisions.AskDate(DatePrompt{
			Path:        path,
			Reason:      PromptOutOfOrder,
			Candidates:  bundle.TimestampFields(),
			ModTime:     item.ModTime,
			Fallback:    item.Date.Time,
			ActiveMonth: active,
		})
		if err != nil {
			return f.fail(path, err)
		}
		kind = OutcomeRecoverablePrompt
		forced = true

		switch ans.Kind {
		case DateSkip:
			return f.skip(path, "skipped at out-of-order prompt")

		case DateManual:
			item.Date = Resolution{Time: ans.Date, Manual: true, Source: "manual"}

		default:
			whitelist := true
			if f.opts.ConfirmWhitelist {
				whitelist, err = f.decisions.Confirm(fmt.Sprintf("Stop asking about %s for the rest of this run?", key))
				if err != nil {
					return f.fail(path, err)
				}
			}
			if whitelist {
				f.noPrompt[key] = true
			}
		}
	}
}

// insert places the item and records the outcome. touch adds the month to
// the no-prompt set.
func (f *Filer) insert(item *MediaItem, kind OutcomeKind, touch bool) Outcome {
	path, res := item.Path, item.Date
	month, err := f.tree.EnsureMonthFor(res.Time)
	if err != nil {
		return f.fail(path, err)
	}
	pr, err := f.tree.Insert(month, path, res.Time, f.opts.Move)
	if err != nil {
		return f.fail(path, err)
	}
	if touch {
		f.noPrompt[month.Key] = true
	}

	switch pr.Action {
	case PlaceDuplicate:
		if f.session != nil {
			f.session.LogDuplicate(path, pr.Dest, pr.Hash)
		}
		return Outcome{Kind: OutcomeDuplicate, Path: path, Dest: pr.Dest, Reason: "identical file already filed"}
	case PlaceSkipped:
		return f.skip(path, "kept existing "+filepath.Base(pr.Dest))
	}

	f.indexAdd(Located{Month: month, Name: filepath.Base(pr.Dest)})
	buffer, err := f.toBuffer(pr.Dest)
	if err != nil {
		return f.fail(path, err)
	}
	if f.session != nil {
		f.session.LogFiled(path, pr, buffer, res)
	}
	f.logger.WithField("path", path).Infof("filed as %s (%s)", pr.Dest, res.Source)
	return Outcome{Kind: kind, Path: path, Dest: pr.Dest}
}

// supersede files an edited variant under its original's date and then
// removes the original from the tree and the buffer.
func (f *Filer) supersede(item *MediaItem, orig Located) Outcome {
	path := item.Path
	ts, _, ok := ParseStampedName(orig.Name)
	if !ok {
		return f.fail(path, fmt.Errorf("original %s carries no date stamp: %w", orig.Path(), ErrTreeInvariant))
	}
	item.Date = Resolution{Time: ts, Source: "original " + orig.Name}

	pr, err := f.tree.Insert(orig.Month, path, ts, f.opts.Move)
	if err != nil {
		return f.fail(path, err)
	}
	if pr.Action == PlaceSkipped {
		return f.skip(path, "kept existing "+filepath.Base(pr.Dest))
	}

	if err := f.tree.Remove(orig.Month, orig.Name); err != nil {
		return f.fail(path, err)
	}
	f.indexRemove(orig)
	if f.session != nil {
		if err := f.session.RemoveFromBuffer(orig.Name); err != nil {
			f.logger.WithField("path", path).Warnf("could not drop %s from buffer: %v", orig.Name, err)
		}
	}
	f.logger.WithField("path", path).Infof("edit replaces %s", orig.Path())

	if pr.Action == PlaceDuplicate {
		if f.session != nil {
			f.session.LogDuplicate(path, pr.Dest, pr.Hash)
		}
		return Outcome{Kind: OutcomeDuplicate, Path: path, Dest: pr.Dest, Reason: "edit already filed"}
	}

	f.indexAdd(Located{Month: orig.Month, Name: filepath.Base(pr.Dest)})
	buffer, err := f.toBuffer(pr.Dest)
	if err != nil {
		return f.fail(path, err)
	}
	if f.session != nil {
		f.session.LogSuperseded(path, pr, buffer, orig.Path())
	}
	return Outcome{Kind: OutcomeSuperseded, Path: path, Dest: pr.Dest, Reason: "replaces " + orig.Name}
}

// refile sends an edit that is already in the archive back to the month it
// was filed in. Its own metadata date is ignored: after supersede it sits
// under the original's date.
func (f *Filer) refile(item *MediaItem, filed Located) Outcome {
	ts, _, ok := ParseStampedName(filed.Name)
	if !ok {
		return f.fail(item.Path, fmt.Errorf("filed edit %s carries no date stamp: %w", filed.Path(), ErrTreeInvariant))
	}
	item.Date = Resolution{Time: ts, Source: "filed edit " + filed.Name}
	return f.insert(item, OutcomeFiled, false)
}

func (f *Filer) toBuffer(dest string) (string, error) {
	if f.session == nil {
		return "", nil
	}
	return f.session.CopyToBuffer(dest)
}

func (f *Filer) skip(path, reason string) Outcome {
	if f.session != nil {
		f.session.LogSkipped(path, reason)
	}
	f.logger.WithField("path", path).Infof("skipped: %s", reason)
	return Outcome{Kind: OutcomeSkipped, Path: path, Reason: reason}
}

func (f *Filer) fail(path string, err error) Outcome {
	procErr := CategorizeError(path, err)
	if f.session != nil {
		f.session.LogDetailedError(path, procErr)
	}
	f.logger.WithField("path", path).Errorf("%v", err)
	return errorOutcome(path, err)
}

// Identifier index over filed images: "E<id>" for edited variants, "O<id>"
// for originals. Videos never take part in edit replacement.

func (f *Filer) indexKeys(original string) []string {
	if !f.formats.IsImage(original) {
		return nil
	}
	var keys []string
	if id, ok := identifierAfter(original, f.opts.EditedPrefix); ok {
		keys = append(keys, "E"+id)
	}
	if id, ok := identifierAfter(original, f.opts.OriginalPrefix); ok {
		keys = append(keys, "O"+id)
	}
	return keys
}

func (f *Filer) buildIndex() error {
	if f.index != nil {
		return nil
	}
	found, err := f.tree.Find(func(original string) bool { return len(f.indexKeys(original)) > 0 })
	if err != nil {
		return err
	}
	f.index = make(map[string][]Located)
	for _, l := range found {
		f.indexAdd(l)
	}
	return nil
}

func unstamped(name string) string {
	if _, rest, ok := ParseStampedName(name); ok {
		return rest
	}
	return name
}

func (f *Filer) indexAdd(l Located) {
	if f.index == nil {
		return
	}
	for _, k := range f.indexKeys(unstamped(l.Name)) {
		f.index[k] = append(f.index[k], l)
	}
}

func (f *Filer) indexRemove(l Located) {
	if f.index == nil {
		return
	}
	for _, k := range f.indexKeys(unstamped(l.Name)) {
		list := f.index[k][:0]
		for _, x := range f.index[k] {
			if x.Month != l.Month || x.Name != l.Name {
				list = append(list, x)
			}
		}
		f.index[k] = list
	}
}

// originalOf finds the filed original of an edited variant, preferring one
// with the same extension.
func (f *Filer) originalOf(name string) (Located, bool, error) {
	id, ok := identifierAfter(name, f.opts.EditedPrefix)
	if !ok || !f.formats.IsImage(name) {
		return Located{}, false, nil
	}
	if err := f.buildIndex(); err != nil {
		return Located{}, false, err
	}
	matches := f.index["O"+id]
	if len(matches) == 0 {
		return Located{}, false, nil
	}
	for _, l := range matches {
		if FormatOf(l.Name) == FormatOf(name) {
			return l, true, nil
		}
	}
	return matches[0], true, nil
}

// filedEdit finds an edited variant filed under the same name by an earlier
// run.
func (f *Filer) filedEdit(name string) (Located, bool, error) {
	id, ok := identifierAfter(name, f.opts.EditedPrefix)
	if !ok || !f.formats.IsImage(name) {
		return Located{}, false, nil
	}
	if err := f.buildIndex(); err != nil {
		return Located{}, false, err
	}
	for _, l := range f.index["E"+id] {
		if unstamped(l.Name) == name {
			return l, true, nil
		}
	}
	return Located{}, false, nil
}

// editOf finds an already filed edited variant of an original image.
func (f *Filer) editOf(name string) (Located, bool, error) {
	id, ok := identifierAfter(name, f.opts.OriginalPrefix)
	if !ok || !f.formats.IsImage(name) {
		return Located{}, false, nil
	}
	if err := f.buildIndex(); err != nil {
		return Located{}, false, err
	}
	matches := f.index["E"+id]
	if len(matches) == 0 {
		return Located{}, false, nil
	}
	return matches[0], true, nil
}
