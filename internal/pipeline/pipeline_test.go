package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/careindex/internal/config"
	"github.com/Aman-CERP/careindex/internal/embed"
	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/journal"
	"github.com/Aman-CERP/careindex/internal/source"
	"github.com/Aman-CERP/careindex/internal/store"
)

// textDocx reads a plain-text stand-in for an office document: blank lines
// separate sections.
type textDocx struct {
	sourceDir, outDir string
	calls             atomic.Int32
	// during runs inside the conversion step.
	during func()
}

func (d *textDocx) MaterializeDocx(_ context.Context, paths []string) ([]source.Document, error) {
	d.calls.Add(1)
	if d.during != nil {
		d.during()
	}
	var docs []source.Document
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		id, err := source.DocumentID(d.sourceDir, path)
		if err != nil {
			return nil, err
		}
		doc := source.Document{ID: id, Kind: source.KindDocx, Title: "Fiche " + id,
			Metadata: source.Metadata{Path: filepath.Base(path)}}
		for _, part := range strings.Split(string(data), "\n\n") {
			doc.Sections = append(doc.Sections, source.Section{Text: part})
		}
		if _, err := source.WriteDocument(d.outDir, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (d *textDocx) Fiche(id string) (*source.Document, error) {
	return source.ReadDocument(d.outDir, id, source.KindDocx)
}

func (d *textDocx) Prune(docs []source.Document) error {
	keep := map[string]bool{}
	for _, doc := range docs {
		keep[doc.ID] = true
	}
	_, err := source.PruneDir(d.outDir, keep)
	return err
}

// fakeWeb writes one page per configured URL.
type fakeWeb struct {
	outDir string
	calls  atomic.Int32
	err    error
}

func (w *fakeWeb) MaterializeWeb(_ context.Context, sites *source.SitesConfig) ([]source.Document, error) {
	w.calls.Add(1)
	if w.err != nil {
		return nil, w.err
	}
	if err := os.RemoveAll(w.outDir); err != nil {
		return nil, err
	}
	var docs []source.Document
	for _, s := range sites.Sites {
		for _, u := range s.URLs {
			doc := source.Document{
				ID: source.WebDocumentID(s.Domain, u), Kind: source.KindWeb, Title: "Page " + u,
				Sections: []source.Section{{Heading: "Conseils", Text: longText("aidant " + u)}},
				Metadata: source.Metadata{SourceURL: u, Domain: s.Domain},
			}
			if _, err := source.WriteDocument(w.outDir, &doc); err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func longText(seed string) string {
	return strings.Repeat(seed+" prévention des chutes et accompagnement au quotidien. ", 8)
}

type env struct {
	cfg    *config.Config
	gate   *gate.Gate
	store  *store.IndexStore
	docx   *textDocx
	web    *fakeWeb
	runner *Runner
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.Paths = config.PathsConfig{
		DocxDir:   filepath.Join(root, "docx"),
		FichesDir: filepath.Join(root, "fiches"),
		WebDir:    filepath.Join(root, "web"),
		SitesFile: filepath.Join(root, "sites.yaml"),
		DataDir:   filepath.Join(root, "data"),
	}
	require.NoError(t, os.MkdirAll(cfg.Paths.DocxDir, 0o755))

	opts := store.DefaultOptions()
	opts.EmbedBatchSize = 4
	s, err := store.Open(cfg.Paths.DataDir, embed.NewStaticEmbedder(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	e := &env{
		cfg:   cfg,
		gate:  gate.New(cfg.Paths.DataDir),
		store: s,
		docx:  &textDocx{sourceDir: cfg.Paths.DocxDir, outDir: cfg.Paths.FichesDir},
		web:   &fakeWeb{outDir: cfg.Paths.WebDir},
	}
	e.runner, err = NewRunner(RunnerDependencies{
		Config: cfg,
		Gate:   e.gate,
		Guard:  gate.NewGuard(cfg.Paths.DataDir, 200*time.Millisecond),
		Store:  s,
		Docx:   e.docx,
		Web:    e.web,
	})
	require.NoError(t, err)
	return e
}

// rewire rebuilds the runner around other materializers.
func (e *env) rewire(t *testing.T, docx DocxMaterializer, web WebMaterializer) {
	t.Helper()
	var err error
	e.runner, err = NewRunner(RunnerDependencies{
		Config: e.cfg,
		Gate:   e.gate,
		Guard:  gate.NewGuard(e.cfg.Paths.DataDir, 200*time.Millisecond),
		Store:  e.store,
		Docx:   docx,
		Web:    web,
	})
	require.NoError(t, err)
}

// writeWordDocx writes a real office document with one paragraph per text.
func writeWordDocx(t *testing.T, path string, texts ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	var body strings.Builder
	for _, text := range texts {
		body.WriteString("<w:p><w:r><w:t>" + text + "</w:t></w:r></w:p>")
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func (e *env) docIDs(t *testing.T, kind source.Kind) []string {
	t.Helper()
	ids, err := e.store.DocumentIDs(context.Background(), kind)
	require.NoError(t, err)
	return ids
}

func (e *env) writeDocx(t *testing.T, id string, sections ...string) {
	t.Helper()
	path := filepath.Join(e.cfg.Paths.DocxDir, id+".docx")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(sections, "\n\n")), 0o644))
}

func (e *env) writeSites(t *testing.T, urls ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("sites:\n  - name: Santé\n    domain: sante.fr\n    urls:\n")
	for _, u := range urls {
		b.WriteString("      - " + u + "\n")
	}
	require.NoError(t, os.WriteFile(e.cfg.Paths.SitesFile, []byte(b.String()), 0o644))
}

func (e *env) journal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Load(filepath.Join(e.cfg.Paths.DataDir, journal.FileName))
	require.NoError(t, err)
	return j
}

func (e *env) seed(t *testing.T) {
	t.Helper()
	e.writeDocx(t, "chutes", longText("a"), longText("b"))
	e.writeDocx(t, "repas", longText("c"), longText("d"))
	e.writeDocx(t, "sommeil/nuit", longText("e"), longText("f"), longText("g"))
	e.writeSites(t, "https://sante.fr/chutes", "https://sante.fr/repas")
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerDependencies{})
	assert.Error(t, err)

	_, err = NewRunner(RunnerDependencies{Config: config.NewConfig()})
	assert.Error(t, err)
}

func TestRunner_FirstRunIndexesEverything(t *testing.T) {
	// Given: an empty journal and three office documents
	e := newEnv(t)
	e.seed(t)

	// When
	res, err := e.runner.Run(context.Background(), TriggerStartup)

	// Then: every document is added and both collections are built
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.True(t, res.Scraped)
	assert.Equal(t, []source.Kind{source.KindDocx, source.KindWeb}, res.Rebuilt)
	assert.Equal(t, 7, res.ChunkCounts[source.KindDocx])
	assert.Equal(t, 2, res.ChunkCounts[source.KindWeb])
	assert.True(t, e.gate.Ready())

	j := e.journal(t)
	assert.Len(t, j.ForKind(source.KindDocx), 3)
	assert.Len(t, j.ForKind(source.KindWeb), 2)
	assert.NotEmpty(t, j.SitesConfigHash)
	assert.FileExists(t, filepath.Join(e.cfg.Paths.FichesDir, "sommeil", "nuit.json"))
}

func TestRunner_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)
	before := e.journal(t)
	count, err := e.store.ChunkCount(context.Background(), source.KindDocx)
	require.NoError(t, err)

	// When: nothing changed
	res, err := e.runner.Run(context.Background(), TriggerWatch)

	// Then
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Rebuilt)
	assert.True(t, before.Equal(e.journal(t)))
	after, err := e.store.ChunkCount(context.Background(), source.KindDocx)
	require.NoError(t, err)
	assert.Equal(t, count, after)
	assert.Equal(t, int32(1), e.web.calls.Load())
}

func TestRunner_DeletedDocumentLeavesNoChunks(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)

	// Given: one fiche removed
	require.NoError(t, os.Remove(filepath.Join(e.cfg.Paths.DocxDir, "repas.docx")))

	// When
	res, err := e.runner.Run(context.Background(), TriggerWatch)

	// Then: only the docx collection is rebuilt and the fiche is gone
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []source.Kind{source.KindDocx}, res.Rebuilt)
	ids, err := e.store.DocumentIDs(context.Background(), source.KindDocx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "repas")
	assert.NoFileExists(t, filepath.Join(e.cfg.Paths.FichesDir, "repas.json"))
	assert.NotContains(t, e.journal(t).ForKind(source.KindDocx), "repas")
	assert.True(t, e.gate.Ready())
}

func TestRunner_SitesConfigChangeRescrapes(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)

	// Given: a page removed from the trusted-sites file
	e.writeSites(t, "https://sante.fr/chutes")

	// When
	res, err := e.runner.Run(context.Background(), TriggerWatch)

	// Then: the web corpus is scraped again and the removed page is gone
	require.NoError(t, err)
	assert.True(t, res.ConfigChanged)
	assert.True(t, res.Scraped)
	assert.Equal(t, []source.Kind{source.KindWeb}, res.Rebuilt)
	assert.Equal(t, int32(2), e.web.calls.Load())
	assert.Equal(t, int32(1), e.docx.calls.Load())
	ids, err := e.store.DocumentIDs(context.Background(), source.KindWeb)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Len(t, e.journal(t).ForKind(source.KindWeb), 1)
}

func TestRunner_ForceRebuildsAllAndClearsMarker(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)

	require.NoError(t, e.gate.RequestForce("operator reset"))

	res, err := e.runner.Run(context.Background(), TriggerForce)

	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Len(t, res.Rebuilt, 2)
	assert.False(t, e.gate.ForceRequested())
	assert.True(t, e.gate.Ready())
}

func TestRunner_FailureKeepsRebuildRequested(t *testing.T) {
	// Given: a first successful run
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)
	before := e.journal(t)

	// When: the scrape fails after the sites file changed
	e.writeSites(t, "https://sante.fr/autre")
	e.web.err = cerrors.New(cerrors.ErrCodeFetchFailed, "site down", errors.New("503"))
	_, err = e.runner.Run(context.Background(), TriggerWatch)

	// Then: the run fails retryably, Ready is withdrawn and the journal is untouched
	require.Error(t, err)
	assert.True(t, cerrors.IsRetryable(err))
	assert.Equal(t, gate.StateRebuildRequested, e.gate.State())
	assert.True(t, before.Equal(e.journal(t)))

	// And: the next run recovers
	e.web.err = nil
	res, err := e.runner.Run(context.Background(), TriggerRetry)
	require.NoError(t, err)
	assert.Contains(t, res.Rebuilt, source.KindWeb)
	assert.True(t, e.gate.Ready())
}

func TestRunner_MalformedSitesConfigIsFatal(t *testing.T) {
	e := newEnv(t)
	e.writeDocx(t, "chutes", longText("a"))
	require.NoError(t, os.WriteFile(e.cfg.Paths.SitesFile, []byte("sites: [{domain: ''}]"), 0o644))

	_, err := e.runner.Run(context.Background(), TriggerStartup)

	require.Error(t, err)
	assert.True(t, cerrors.IsFatal(err))
	assert.False(t, e.gate.Ready())
	assert.NoFileExists(t, filepath.Join(e.cfg.Paths.DataDir, journal.FileName))
}

func TestRunner_CrashAfterRebuildCommitsWithoutRebuilding(t *testing.T) {
	// Given: a collection already rebuilt for an edit whose journal write never happened
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)

	e.writeDocx(t, "chutes", longText("nouveau"), longText("contenu"))
	snap := journal.Scan(e.journal(t), journal.Sources{
		DocxDir: e.cfg.Paths.DocxDir, WebDir: e.cfg.Paths.WebDir, SitesFile: e.cfg.Paths.SitesFile,
	})
	docs, err := e.docx.MaterializeDocx(context.Background(), snap.PathsFor(source.KindDocx))
	require.NoError(t, err)
	_, err = e.store.RebuildCollection(context.Background(), source.KindDocx, docs,
		store.BuildInfo{Sources: snap.ForKind(source.KindDocx)})
	require.NoError(t, err)
	require.NoError(t, e.gate.RequestRebuild("interrupted"))

	// When
	res, err := e.runner.Run(context.Background(), TriggerStartup)

	// Then: the change is detected, nothing is rebuilt, and the journal catches up
	require.NoError(t, err)
	assert.Equal(t, 1, res.Modified)
	assert.Empty(t, res.Rebuilt)
	assert.True(t, snap.Journal().Equal(e.journal(t)))
	assert.True(t, e.gate.Ready())
}

func TestRunner_AbsentFlagWithMatchingCollectionsBecomesReady(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(e.cfg.Paths.DataDir, gate.StateFile)))

	res, err := e.runner.Run(context.Background(), TriggerStartup)

	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Rebuilt)
	assert.True(t, e.gate.Ready())
}

func TestRunner_LockContentionLeavesStateAlone(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	holder, err := gate.NewGuard(e.cfg.Paths.DataDir, time.Second).Acquire(context.Background())
	require.NoError(t, err)
	defer func() { _ = holder.Release() }()

	_, err = e.runner.Run(context.Background(), TriggerWatch)

	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeLockContended))
	assert.Equal(t, gate.StateAbsent, e.gate.State())
	assert.Equal(t, int32(0), e.docx.calls.Load())
}

func TestRunner_ProgressAfterRun(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	res, err := e.runner.Run(context.Background(), TriggerManual)
	require.NoError(t, err)

	snap := e.runner.Progress().Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, res.RunID, snap.RunID)
	assert.Equal(t, string(StageIdle), snap.Stage)
	assert.False(t, snap.LastRunAt.IsZero())
	assert.Empty(t, snap.LastError)
}

func TestProgress_OnEmbed(t *testing.T) {
	p := NewProgress()
	p.start("run-1", TriggerWatch)

	p.OnEmbed(source.KindWeb, 5, 20)

	snap := p.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, string(StageEmbedding), snap.Stage)
	assert.Equal(t, "base_web", snap.Collection)
	assert.InDelta(t, 25.0, snap.ProgressPct, 0.001)

	p.finish(errors.New("boom"))
	assert.Equal(t, "boom", p.Snapshot().LastError)
}

func TestConsistencyChecker(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)
	checker := NewConsistencyChecker(e.gate, e.store, e.runner.JournalPath())

	res, err := checker.Check()
	require.NoError(t, err)
	assert.True(t, res.TrustedReady())

	// When: the collections disappear behind a Ready flag
	require.NoError(t, e.store.Reset())
	res, err = checker.Check()

	// Then: Ready is not trusted
	require.NoError(t, err)
	assert.False(t, res.TrustedReady())
	assert.True(t, res.StorageEmpty())
	require.Len(t, res.Inconsistencies, 2)
	assert.Equal(t, "collection_missing", res.Inconsistencies[0].Type.String())
}

func TestConsistencyChecker_SourceMismatch(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)

	// Given: the journal claims a document the collection never saw
	j := e.journal(t)
	j.Entries[journal.Key(source.KindDocx, "fantome")] = "abc"
	require.NoError(t, j.Save(e.runner.JournalPath()))

	res, err := NewConsistencyChecker(e.gate, e.store, e.runner.JournalPath()).Check()

	require.NoError(t, err)
	assert.False(t, res.StorageEmpty())
	require.Len(t, res.Inconsistencies, 1)
	assert.Equal(t, InconsistencyCollectionMismatch, res.Inconsistencies[0].Type)
	assert.Equal(t, source.KindDocx, res.Inconsistencies[0].Kind)
}

func TestBuildStatus(t *testing.T) {
	e := newEnv(t)

	// Given: nothing built yet
	rep, err := BuildStatus(e.gate, e.store, e.runner.JournalPath(), e.runner.Progress())
	require.NoError(t, err)
	assert.Equal(t, gate.StateAbsent, rep.State)
	assert.False(t, rep.Trusted)
	require.Len(t, rep.Collections, 2)
	assert.False(t, rep.Collections[0].Exists)
	assert.Len(t, rep.Issues, 2)

	// When: a run completes
	e.seed(t)
	_, err = e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)
	rep, err = BuildStatus(e.gate, e.store, e.runner.JournalPath(), e.runner.Progress())

	// Then
	require.NoError(t, err)
	assert.Equal(t, gate.StateReady, rep.State)
	assert.True(t, rep.Trusted)
	assert.Empty(t, rep.Issues)
	assert.Equal(t, 3, rep.JournalEntries[source.KindDocx])
	assert.Equal(t, 2, rep.JournalEntries[source.KindWeb])
	assert.Equal(t, "base_docx", rep.Collections[0].Name)
	assert.Equal(t, 7, rep.Collections[0].ChunkCount)
	assert.Equal(t, 2, rep.Collections[1].ChunkCount)
	assert.True(t, rep.Collections[1].InSync)
	require.NotNil(t, rep.Progress)
	assert.False(t, rep.Progress.Running)
}

func TestRunner_UnreadableIndexedDocxKeepsItsFiche(t *testing.T) {
	// Given: two office documents indexed by the real converter
	e := newEnv(t)
	e.writeSites(t, "https://sante.fr/chutes")
	e.rewire(t, source.NewDocxConverter(e.cfg.Paths.DocxDir, e.cfg.Paths.FichesDir, nil), e.web)
	a := filepath.Join(e.cfg.Paths.DocxDir, "a.docx")
	b := filepath.Join(e.cfg.Paths.DocxDir, "b.docx")
	writeWordDocx(t, a, longText("a"))
	writeWordDocx(t, b, longText("b"))
	original, err := os.ReadFile(b)
	require.NoError(t, err)
	_, err = e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, e.docIDs(t, source.KindDocx))

	// When: b becomes unreadable while a is edited
	require.NoError(t, os.Remove(b))
	require.NoError(t, os.Symlink(filepath.Join(e.cfg.Paths.DocxDir, "absent.docx"), b))
	writeWordDocx(t, a, longText("a modifiée"))
	res, err := e.runner.Run(context.Background(), TriggerWatch)

	// Then: a is rebuilt and b stays indexed from its previous fiche
	require.NoError(t, err)
	assert.Equal(t, 1, res.FileErrors)
	assert.Equal(t, 1, res.KeptFiches)
	assert.Equal(t, []source.Kind{source.KindDocx}, res.Rebuilt)
	assert.ElementsMatch(t, []string{"a", "b"}, e.docIDs(t, source.KindDocx))
	assert.FileExists(t, filepath.Join(e.cfg.Paths.FichesDir, "b.json"))
	assert.True(t, e.gate.Ready())

	// And: once b reads again with the same bytes nothing needs rebuilding
	require.NoError(t, os.Remove(b))
	require.NoError(t, os.WriteFile(b, original, 0o644))
	res, err = e.runner.Run(context.Background(), TriggerWatch)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.ElementsMatch(t, []string{"a", "b"}, e.docIDs(t, source.KindDocx))
}

func TestRunner_UnreadableDocxWithoutFicheIsReaddedLater(t *testing.T) {
	// Given: two indexed documents, one of which loses its fiche and becomes unreadable
	e := newEnv(t)
	e.writeSites(t, "https://sante.fr/chutes")
	e.rewire(t, source.NewDocxConverter(e.cfg.Paths.DocxDir, e.cfg.Paths.FichesDir, nil), e.web)
	a := filepath.Join(e.cfg.Paths.DocxDir, "a.docx")
	b := filepath.Join(e.cfg.Paths.DocxDir, "b.docx")
	writeWordDocx(t, a, longText("a"))
	writeWordDocx(t, b, longText("b"))
	original, err := os.ReadFile(b)
	require.NoError(t, err)
	_, err = e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(e.cfg.Paths.FichesDir, "b.json")))
	require.NoError(t, os.Remove(b))
	require.NoError(t, os.Symlink(filepath.Join(e.cfg.Paths.DocxDir, "absent.docx"), b))
	writeWordDocx(t, a, longText("a modifiée"))

	// When
	_, err = e.runner.Run(context.Background(), TriggerWatch)

	// Then: the journal no longer claims b
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, e.docIDs(t, source.KindDocx))
	assert.NotContains(t, e.journal(t).ForKind(source.KindDocx), "b")
	assert.True(t, e.gate.Ready())

	// And: b is detected as added once readable
	require.NoError(t, os.Remove(b))
	require.NoError(t, os.WriteFile(b, original, 0o644))
	res, err := e.runner.Run(context.Background(), TriggerWatch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.ElementsMatch(t, []string{"a", "b"}, e.docIDs(t, source.KindDocx))
}

func TestRunner_UnreachablePageDoesNotBlockDocx(t *testing.T) {
	// Given: a local site whose /repas page can be taken down
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() && r.URL.Path == "/repas" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("<h1>Page " + r.URL.Path + "</h1><p>" + longText(r.URL.Path) + "</p>"))
	}))
	t.Cleanup(srv.Close)
	e := newEnv(t)
	writeLocalSites := func(paths ...string) {
		var b strings.Builder
		b.WriteString("sites:\n  - name: Local\n    domain: 127.0.0.1\n    urls:\n")
		for _, p := range paths {
			b.WriteString("      - \"" + srv.URL + p + "\"\n")
		}
		require.NoError(t, os.WriteFile(e.cfg.Paths.SitesFile, []byte(b.String()), 0o644))
	}
	e.rewire(t, e.docx, source.NewHTTPScraper(e.cfg.Paths.WebDir,
		source.ScraperOptions{RequestsPerSecond: 1000, Timeout: 5 * time.Second}, nil))
	e.writeDocx(t, "chutes", longText("a"))
	writeLocalSites("/chutes", "/repas")
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)
	require.Len(t, e.docIDs(t, source.KindWeb), 2)

	// When: /repas answers 503 during a re-scrape while a fiche changed
	down.Store(true)
	e.writeDocx(t, "chutes", longText("nouvelle consigne"))
	writeLocalSites("/chutes", "/repas", "/sommeil")
	res, err := e.runner.Run(context.Background(), TriggerWatch)

	// Then: the run commits both collections and the page keeps its previous copy
	require.NoError(t, err)
	assert.True(t, res.Scraped)
	assert.ElementsMatch(t, []source.Kind{source.KindDocx, source.KindWeb}, res.Rebuilt)
	assert.Len(t, e.docIDs(t, source.KindWeb), 3)
	assert.Contains(t, e.docIDs(t, source.KindWeb), "127.0.0.1/repas")
	chunks, err := e.store.DocumentChunks(context.Background(), source.KindDocx, "chutes")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "nouvelle consigne")
	assert.True(t, e.gate.Ready())
}

func TestRunner_ForceRequestedDuringRunSurvives(t *testing.T) {
	// Given: a forced run during which the operator asks for another reset
	e := newEnv(t)
	e.seed(t)
	_, err := e.runner.Run(context.Background(), TriggerStartup)
	require.NoError(t, err)
	require.NoError(t, e.gate.RequestForce("premier reset"))
	e.docx.during = func() {
		e.docx.during = nil
		require.NoError(t, e.gate.RequestForce("second reset"))
	}

	// When
	res, err := e.runner.Run(context.Background(), TriggerForce)

	// Then: the second request is still pending
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.True(t, e.gate.ForceRequested())

	// And: the next run honours it and clears it
	res, err = e.runner.Run(context.Background(), TriggerForce)
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.False(t, e.gate.ForceRequested())
}
