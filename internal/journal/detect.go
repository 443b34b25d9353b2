package journal

import (
	"os"
	"sort"

	"github.com/Aman-CERP/careindex/internal/fsutil"
	"github.com/Aman-CERP/careindex/internal/ignore"
	"github.com/Aman-CERP/careindex/internal/source"
)

// Sources locates the inputs whose content participates in change detection.
type Sources struct {
	// DocxDir holds *.docx office documents.
	DocxDir string
	// WebDir holds normalized *.json web documents.
	WebDir string
	// SitesFile is the trusted-sites config.
	SitesFile string
}

// Dir returns the input directory of kind.
func (s Sources) Dir(kind source.Kind) string {
	if kind == source.KindDocx {
		return s.DocxDir
	}
	return s.WebDir
}

// Ext returns the source file extension of kind.
func Ext(kind source.Kind) string {
	if kind == source.KindDocx {
		return ".docx"
	}
	return ".json"
}

// Change is one classified source file.
type Change struct {
	Kind source.Kind
	ID   string
	Path string
}

// Key returns the journal key of the change.
func (c Change) Key() string { return Key(c.Kind, c.ID) }

// FileError is a per-file I/O failure. The file is treated as unchanged.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

// Snapshot is the hashed state of the sources at one instant.
type Snapshot struct {
	Entries map[string]string
	Paths   map[string]string
	// Carried marks entries whose hash was copied from the journal because
	// the file could not be read.
	Carried         map[string]bool
	SitesConfigHash string
	Errors          []FileError
}

// Journal converts the snapshot into the journal to persist after a rebuild.
func (s *Snapshot) Journal() *Journal {
	j := New()
	for k, v := range s.Entries {
		j.Entries[k] = v
	}
	j.SitesConfigHash = s.SitesConfigHash
	return j
}

// ForKind returns the snapshot entries of one kind keyed by document id.
func (s *Snapshot) ForKind(kind source.Kind) map[string]string {
	return s.Journal().ForKind(kind)
}

// PathsFor returns the sorted source paths of one kind.
func (s *Snapshot) PathsFor(kind source.Kind) []string {
	var out []string
	for key, path := range s.Paths {
		if k, _ := SplitKey(key); k == kind {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// ReplaceKind swaps in other's entries and paths for kind. The pipeline
// uses it after re-scraping the web corpus.
func (s *Snapshot) ReplaceKind(kind source.Kind, other *Snapshot) {
	for _, m := range []map[string]string{s.Entries, s.Paths} {
		for key := range m {
			if k, _ := SplitKey(key); k == kind {
				delete(m, key)
			}
		}
	}
	for key := range s.Carried {
		if k, _ := SplitKey(key); k == kind {
			delete(s.Carried, key)
		}
	}
	for key := range other.Carried {
		if k, _ := SplitKey(key); k == kind {
			if s.Carried == nil {
				s.Carried = map[string]bool{}
			}
			s.Carried[key] = true
		}
	}
	for key, h := range other.Entries {
		if k, _ := SplitKey(key); k == kind {
			s.Entries[key] = h
		}
	}
	for key, p := range other.Paths {
		if k, _ := SplitKey(key); k == kind {
			s.Paths[key] = p
		}
	}
	s.Errors = append(s.Errors, other.Errors...)
}

// Drop removes key from the snapshot so it is not committed.
func (s *Snapshot) Drop(key string) {
	delete(s.Entries, key)
	delete(s.Paths, key)
	delete(s.Carried, key)
}

// ChangeSet classifies the difference between a journal and a snapshot.
type ChangeSet struct {
	Added         []Change
	Modified      []Change
	Deleted       []Change
	ConfigChanged bool
	Errors        []FileError
	// Snapshot is the state detection compared against.
	Snapshot *Snapshot
}

// Empty reports whether nothing changed.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0 && !c.ConfigChanged
}

// Count returns the number of changed documents.
func (c *ChangeSet) Count() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Affects reports whether kind needs a rebuild. A config change makes every
// web document stale.
func (c *ChangeSet) Affects(kind source.Kind) bool {
	if kind == source.KindWeb && c.ConfigChanged {
		return true
	}
	for _, list := range [][]Change{c.Added, c.Modified, c.Deleted} {
		for _, ch := range list {
			if ch.Kind == kind {
				return true
			}
		}
	}
	return false
}

// Scan hashes every source file. A file that cannot be read keeps its
// previous journal hash (so it counts as unchanged) and is reported in
// Errors; a new unreadable file is left out until it can be read.
func Scan(prev *Journal, src Sources) *Snapshot {
	if prev == nil {
		prev = New()
	}
	snap := &Snapshot{Entries: map[string]string{}, Paths: map[string]string{}, Carried: map[string]bool{}}

	for _, kind := range source.Kinds() {
		dir := src.Dir(kind)
		m, err := ignore.LoadDir(dir)
		if err != nil {
			snap.Errors = append(snap.Errors, FileError{Path: dir, Err: err})
			m = ignore.New()
		}
		files, err := source.ListFiles(dir, Ext(kind), m)
		if err != nil {
			// The directory itself is unreadable: keep everything as it was.
			snap.Errors = append(snap.Errors, FileError{Path: dir, Err: err})
			for id, h := range prev.ForKind(kind) {
				snap.Entries[Key(kind, id)] = h
				snap.Carried[Key(kind, id)] = true
			}
			continue
		}

		for _, path := range files {
			id, err := source.DocumentID(dir, path)
			if err != nil {
				snap.Errors = append(snap.Errors, FileError{Path: path, Err: err})
				continue
			}
			key := Key(kind, id)
			snap.Paths[key] = path

			h, err := fsutil.HashFile(path)
			if err != nil {
				snap.Errors = append(snap.Errors, FileError{Path: path, Err: err})
				if old, ok := prev.Entries[key]; ok {
					snap.Entries[key] = old
					snap.Carried[key] = true
				} else {
					delete(snap.Paths, key)
				}
				continue
			}
			snap.Entries[key] = h
		}
	}

	h, err := fsutil.HashFile(src.SitesFile)
	switch {
	case err == nil:
		snap.SitesConfigHash = h
	case os.IsNotExist(err):
		snap.SitesConfigHash = ""
	default:
		snap.Errors = append(snap.Errors, FileError{Path: src.SitesFile, Err: err})
		snap.SitesConfigHash = prev.SitesConfigHash
	}
	return snap
}

// Diff classifies snapshot entries against the journal.
func Diff(prev *Journal, snap *Snapshot) *ChangeSet {
	if prev == nil {
		prev = New()
	}
	cs := &ChangeSet{Snapshot: snap, Errors: snap.Errors}

	for key, h := range snap.Entries {
		kind, id := SplitKey(key)
		ch := Change{Kind: kind, ID: id, Path: snap.Paths[key]}
		old, ok := prev.Entries[key]
		switch {
		case !ok:
			cs.Added = append(cs.Added, ch)
		case old != h:
			cs.Modified = append(cs.Modified, ch)
		}
	}
	for key := range prev.Entries {
		if _, ok := snap.Entries[key]; !ok {
			kind, id := SplitKey(key)
			cs.Deleted = append(cs.Deleted, Change{Kind: kind, ID: id})
		}
	}
	cs.ConfigChanged = prev.SitesConfigHash != snap.SitesConfigHash

	for _, list := range [][]Change{cs.Added, cs.Modified, cs.Deleted} {
		sort.Slice(list, func(a, b int) bool { return list[a].Key() < list[b].Key() })
	}
	return cs
}

// Detect compares the current sources with the journal. It never writes.
func Detect(prev *Journal, src Sources) *ChangeSet {
	return Diff(prev, Scan(prev, src))
}
