package journal

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/careindex/internal/source"
)

type fixture struct {
	src Sources
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{src: Sources{
		DocxDir:   filepath.Join(root, "docx"),
		WebDir:    filepath.Join(root, "web"),
		SitesFile: filepath.Join(root, "sites.yaml"),
	}}
	require.NoError(t, os.MkdirAll(f.src.DocxDir, 0o755))
	require.NoError(t, os.MkdirAll(f.src.WebDir, 0o755))
	return f
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func ids(changes []Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Key())
	}
	return out
}

func TestDetect_EmptyJournalReportsAllAdded(t *testing.T) {
	// Given: three docx files and an empty journal
	f := newFixture(t)
	for _, name := range []string{"a.docx", "b.docx", "c.docx"} {
		f.write(t, filepath.Join(f.src.DocxDir, name), name)
	}

	// When: detecting
	cs := Detect(New(), f.src)

	// Then: all three are added
	assert.Equal(t, []string{"docx/a", "docx/b", "docx/c"}, ids(cs.Added))
	assert.Empty(t, cs.Modified)
	assert.Empty(t, cs.Deleted)
	assert.False(t, cs.ConfigChanged)
	assert.True(t, cs.Affects(source.KindDocx))
	assert.False(t, cs.Affects(source.KindWeb))
	assert.Equal(t, 3, cs.Count())
}

func TestDetect_ClassifiesChanges(t *testing.T) {
	// Given: a journal taken from the current state
	f := newFixture(t)
	f.write(t, filepath.Join(f.src.DocxDir, "keep.docx"), "same")
	f.write(t, filepath.Join(f.src.DocxDir, "edit.docx"), "v1")
	f.write(t, filepath.Join(f.src.DocxDir, "drop.docx"), "bye")
	f.write(t, filepath.Join(f.src.WebDir, "ameli.fr", "chutes.json"), "{}")
	prev := Scan(nil, f.src).Journal()

	// When: editing, deleting and adding files
	f.write(t, filepath.Join(f.src.DocxDir, "edit.docx"), "v2")
	require.NoError(t, os.Remove(filepath.Join(f.src.DocxDir, "drop.docx")))
	f.write(t, filepath.Join(f.src.WebDir, "has.fr", "aidants.json"), "{}")
	cs := Detect(prev, f.src)

	// Then: each change is classified
	assert.Equal(t, []string{"web/has.fr/aidants"}, ids(cs.Added))
	assert.Equal(t, []string{"docx/edit"}, ids(cs.Modified))
	assert.Equal(t, []string{"docx/drop"}, ids(cs.Deleted))
	assert.True(t, cs.Affects(source.KindDocx))
	assert.True(t, cs.Affects(source.KindWeb))
}

func TestDetect_NoChanges(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.src.DocxDir, "a.docx"), "x")
	f.write(t, f.src.SitesFile, "sites: []")
	prev := Scan(nil, f.src).Journal()

	cs := Detect(prev, f.src)

	assert.True(t, cs.Empty())
	assert.Empty(t, cs.Errors)
}

func TestDetect_ConfigChangeMarksWebStale(t *testing.T) {
	// Given: a journal recorded with one sites config
	f := newFixture(t)
	f.write(t, f.src.SitesFile, "sites: []")
	f.write(t, filepath.Join(f.src.WebDir, "p.json"), "{}")
	prev := Scan(nil, f.src).Journal()

	// When: only the sites config changes
	f.write(t, f.src.SitesFile, "sites: [{domain: ameli.fr}]")
	cs := Detect(prev, f.src)

	// Then: config changed, no per-file change, web affected
	assert.True(t, cs.ConfigChanged)
	assert.Equal(t, 0, cs.Count())
	assert.True(t, cs.Affects(source.KindWeb))
	assert.False(t, cs.Affects(source.KindDocx))
	assert.False(t, cs.Empty())
}

func TestDetect_IgnoresOfficeTempFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.src.DocxDir, "~$fiche.docx"), "lock")
	f.write(t, filepath.Join(f.src.DocxDir, "notes.txt"), "not a docx")
	f.write(t, filepath.Join(f.src.DocxDir, "fiche.docx"), "real")

	cs := Detect(New(), f.src)

	assert.Equal(t, []string{"docx/fiche"}, ids(cs.Added))
}

func TestDetect_IsPure(t *testing.T) {
	// Given: a journal and sources
	f := newFixture(t)
	f.write(t, filepath.Join(f.src.DocxDir, "a.docx"), "x")
	prev := New()

	// When: detecting twice
	first := Detect(prev, f.src)
	second := Detect(prev, f.src)

	// Then: the journal is untouched and results agree
	assert.Empty(t, prev.Entries)
	assert.Equal(t, ids(first.Added), ids(second.Added))
}

func TestScan_UnreadableFileCountsAsUnchanged(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}

	// Given: a journaled file that becomes unreadable
	f := newFixture(t)
	path := filepath.Join(f.src.DocxDir, "locked.docx")
	f.write(t, path, "v1")
	prev := Scan(nil, f.src).Journal()
	f.write(t, path, "v2")
	require.NoError(t, os.Chmod(path, 0o000))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	// When: detecting
	cs := Detect(prev, f.src)

	// Then: reported as a file error, not as a change
	assert.True(t, cs.Empty())
	require.Len(t, cs.Errors, 1)
	assert.Equal(t, path, cs.Errors[0].Path)
	assert.Equal(t, prev.Entries["docx/locked"], cs.Snapshot.Entries["docx/locked"])
	assert.True(t, cs.Snapshot.Carried["docx/locked"])
}

func TestScan_DanglingSymlinkIsCarried(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges")
	}

	// Given: two journaled files, one of which becomes a dangling link
	f := newFixture(t)
	keep := filepath.Join(f.src.DocxDir, "a.docx")
	gone := filepath.Join(f.src.DocxDir, "b.docx")
	f.write(t, keep, "a")
	f.write(t, gone, "b")
	prev := Scan(nil, f.src).Journal()
	require.NoError(t, os.Remove(gone))
	require.NoError(t, os.Symlink(filepath.Join(f.src.DocxDir, "missing.docx"), gone))

	// When
	snap := Scan(prev, f.src)

	// Then: the link keeps its journal hash and path, and only it is carried
	assert.Equal(t, prev.Entries["docx/b"], snap.Entries["docx/b"])
	assert.Equal(t, gone, snap.Paths["docx/b"])
	assert.True(t, snap.Carried["docx/b"])
	assert.False(t, snap.Carried["docx/a"])

	// And: dropping it removes every trace
	snap.Drop("docx/b")
	assert.NotContains(t, snap.Entries, "docx/b")
	assert.NotContains(t, snap.Paths, "docx/b")
	assert.NotContains(t, snap.Carried, "docx/b")
}

func TestSnapshot_PathsFor(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.src.DocxDir, "b.docx"), "b")
	f.write(t, filepath.Join(f.src.DocxDir, "a.docx"), "a")
	f.write(t, filepath.Join(f.src.WebDir, "w.json"), "{}")

	snap := Scan(nil, f.src)

	assert.Equal(t, []string{
		filepath.Join(f.src.DocxDir, "a.docx"),
		filepath.Join(f.src.DocxDir, "b.docx"),
	}, snap.PathsFor(source.KindDocx))
	assert.Len(t, snap.ForKind(source.KindWeb), 1)
}

func TestScan_MissingDirsAreEmpty(t *testing.T) {
	src := Sources{
		DocxDir:   filepath.Join(t.TempDir(), "nope"),
		WebDir:    filepath.Join(t.TempDir(), "nope"),
		SitesFile: filepath.Join(t.TempDir(), "nope.yaml"),
	}

	snap := Scan(New(), src)

	assert.Empty(t, snap.Entries)
	assert.Empty(t, snap.Errors)
	assert.Equal(t, "", snap.SitesConfigHash)
}

func TestSnapshot_ReplaceKind(t *testing.T) {
	// Given: a snapshot taken before the web corpus was re-scraped
	f := newFixture(t)
	f.write(t, filepath.Join(f.src.DocxDir, "a.docx"), "a")
	f.write(t, filepath.Join(f.src.WebDir, "old/page.json"), "{}")
	before := Scan(nil, f.src)

	require.NoError(t, os.RemoveAll(f.src.WebDir))
	f.write(t, filepath.Join(f.src.WebDir, "new/page.json"), `{"id":"x"}`)
	after := Scan(nil, f.src)

	// When: replacing only the web part
	before.ReplaceKind(source.KindWeb, after)

	// Then: docx entries are untouched and web entries are the new ones
	assert.Contains(t, before.Entries, "docx/a")
	assert.NotContains(t, before.Entries, "web/old/page")
	assert.Contains(t, before.Entries, "web/new/page")
	assert.Equal(t, filepath.Join(f.src.WebDir, "new/page.json"), before.Paths["web/new/page"])
}
