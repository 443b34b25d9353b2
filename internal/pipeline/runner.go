// Package pipeline runs one reconciliation of the sources with the index:
// probe and lock, detect, materialize, rebuild, commit the journal, then
// mark the index ready.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/careindex/internal/config"
	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/journal"
	"github.com/Aman-CERP/careindex/internal/source"
	"github.com/Aman-CERP/careindex/internal/store"
)

// Trigger says what started a run.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerWatch   Trigger = "watch"
	TriggerForce   Trigger = "force"
	TriggerManual  Trigger = "manual"
	TriggerRetry   Trigger = "retry"
)

// DocxMaterializer converts office documents into normalized fiches.
type DocxMaterializer interface {
	MaterializeDocx(ctx context.Context, paths []string) ([]source.Document, error)
	// Fiche returns the fiche last written for id.
	Fiche(id string) (*source.Document, error)
	Prune(docs []source.Document) error
}

// WebMaterializer scrapes the trusted sites into normalized web documents.
type WebMaterializer interface {
	MaterializeWeb(ctx context.Context, sites *source.SitesConfig) ([]source.Document, error)
}

// Indexer is the part of store.IndexStore a run needs.
type Indexer interface {
	RebuildCollection(ctx context.Context, kind source.Kind, docs []source.Document, info store.BuildInfo) (*store.Manifest, error)
	Mismatch(kind source.Kind, j *journal.Journal) (string, error)
}

// Locker serializes runs across processes.
type Locker interface {
	Acquire(ctx context.Context) (*gate.Lease, error)
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Config supplies paths and the rebuild timeout (required).
	Config *config.Config

	// Gate is the readiness flag (required).
	Gate *gate.Gate

	// Guard probes storage and holds the pipeline lock (required).
	Guard Locker

	// Store owns the collections (required).
	Store Indexer

	// Docx converts office documents (required).
	Docx DocxMaterializer

	// Web scrapes trusted sites (required).
	Web WebMaterializer

	Logger   *slog.Logger
	Progress *Progress
}

// Result is the outcome of one run.
type Result struct {
	RunID   string
	Trigger Trigger

	Added, Modified, Deleted int
	ConfigChanged            bool
	// FileErrors counts sources that could not be hashed and were kept as is.
	FileErrors int
	// KeptFiches counts indexed fiches reused because their source could
	// not be converted this run.
	KeptFiches int

	Forced  bool
	Scraped bool
	// Rebuilt lists the kinds whose collection was replaced, in order.
	Rebuilt []source.Kind
	// Reasons explains why each rebuilt kind was stale.
	Reasons     map[source.Kind]string
	ChunkCounts map[source.Kind]int
	// Skipped is set when the index already matched the sources and was Ready.
	Skipped  bool
	Duration time.Duration
}

// Runner executes pipeline runs.
type Runner struct {
	cfg      *config.Config
	gate     *gate.Gate
	guard    Locker
	store    Indexer
	docx     DocxMaterializer
	web      WebMaterializer
	logger   *slog.Logger
	progress *Progress
	sources  journal.Sources
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("readiness gate is required")
	}
	if deps.Guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("index store is required")
	}
	if deps.Docx == nil || deps.Web == nil {
		return nil, fmt.Errorf("docx and web materializers are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	progress := deps.Progress
	if progress == nil {
		progress = NewProgress()
	}

	p := deps.Config.Paths
	return &Runner{
		cfg:      deps.Config,
		gate:     deps.Gate,
		guard:    deps.Guard,
		store:    deps.Store,
		docx:     deps.Docx,
		web:      deps.Web,
		logger:   logger,
		progress: progress,
		sources: journal.Sources{
			DocxDir:   p.DocxDir,
			WebDir:    p.WebDir,
			SitesFile: p.SitesFile,
		},
	}, nil
}

// Progress returns the run tracker.
func (r *Runner) Progress() *Progress { return r.progress }

// JournalPath returns where the journal is kept.
func (r *Runner) JournalPath() string {
	return filepath.Join(r.cfg.Paths.DataDir, journal.FileName)
}

// Run performs one reconciliation. On any failure after the rebuild was
// requested the flag stays RebuildRequested and the journal is untouched,
// so the next run starts over.
func (r *Runner) Run(ctx context.Context, trigger Trigger) (*Result, error) {
	res := &Result{
		RunID:       uuid.NewString(),
		Trigger:     trigger,
		Reasons:     map[source.Kind]string{},
		ChunkCounts: map[source.Kind]int{},
	}
	logger := r.logger.With(slog.String("run_id", res.RunID), slog.String("trigger", string(trigger)))
	start := time.Now()
	r.progress.start(res.RunID, trigger)

	err := r.run(ctx, logger, res)
	res.Duration = time.Since(start)
	r.progress.finish(err)

	if err != nil {
		attrs := append([]any{slog.Duration("duration", res.Duration)}, cerrors.LogAttrs(err)...)
		logger.Error("pipeline_failed", attrs...)
		return res, err
	}
	if res.Skipped {
		logger.Debug("pipeline_skipped", slog.Duration("duration", res.Duration))
		return res, nil
	}
	logger.Info("pipeline_complete",
		slog.Any("rebuilt", res.Rebuilt),
		slog.Int("added", res.Added),
		slog.Int("modified", res.Modified),
		slog.Int("deleted", res.Deleted),
		slog.Bool("forced", res.Forced),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, res *Result) error {
	lease, err := r.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			logger.Warn("lock_release_failed", slog.String("error", err.Error()))
		}
	}()

	if timeout := r.cfg.Index.RebuildTimeout; timeout > 0 {
		var cancel context.CancelFunc
		parent := ctx
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		defer func() {
			if ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
				logger.Warn("pipeline_timeout", slog.Duration("timeout", timeout))
			}
		}()
	}

	r.progress.setStage(StageDetecting)
	prev, err := journal.Load(r.JournalPath())
	if prev == nil {
		return err
	}
	if err != nil {
		logger.Warn("journal_unreadable", cerrors.LogAttrs(err)...)
	}

	force, forced := r.gate.ForceMarker()
	res.Forced = forced
	cs := journal.Detect(prev, r.sources)
	res.Added, res.Modified, res.Deleted = len(cs.Added), len(cs.Modified), len(cs.Deleted)
	res.ConfigChanged = cs.ConfigChanged
	res.FileErrors = len(cs.Errors)
	for _, fe := range cs.Errors {
		logger.Warn("source_unreadable", slog.String("path", fe.Path), slog.String("error", fe.Err.Error()))
	}

	needs, err := r.staleKinds(cs.Snapshot.Journal(), res)
	if err != nil {
		return err
	}

	state := r.gate.State()
	if len(needs) == 0 && state == gate.StateReady && prev.Equal(cs.Snapshot.Journal()) {
		res.Skipped = true
		return nil
	}

	logger.Info("changes_detected",
		slog.Int("added", res.Added),
		slog.Int("modified", res.Modified),
		slog.Int("deleted", res.Deleted),
		slog.Bool("config_changed", cs.ConfigChanged),
		slog.Bool("forced", res.Forced),
		slog.String("state", string(state)))

	if err := r.gate.RequestRebuild(requestReason(res, needs)); err != nil {
		return err
	}

	r.progress.setStage(StageMaterializing)
	docs, err := r.materialize(ctx, logger, prev, cs, needs, res)
	if err != nil {
		return r.contextError(ctx, err)
	}

	snap := cs.Snapshot
	for _, kind := range needs {
		if err := ctx.Err(); err != nil {
			return r.contextError(ctx, err)
		}
		info := store.BuildInfo{Sources: snap.ForKind(kind)}
		if kind == source.KindWeb {
			info.SitesConfigHash = snap.SitesConfigHash
		}
		m, err := r.store.RebuildCollection(ctx, kind, docs[kind], info)
		if err != nil {
			return r.contextError(ctx, err)
		}
		res.Rebuilt = append(res.Rebuilt, kind)
		res.ChunkCounts[kind] = m.ChunkCount
		logger.Info("collection_indexed",
			slog.String("collection", kind.Collection()),
			slog.Int("documents", m.DocumentCount),
			slog.Int("chunks", m.ChunkCount),
			slog.String("reason", res.Reasons[kind]))
	}

	r.progress.setStage(StageCommitting)
	committed := snap.Journal()
	committed.UpdatedAt = time.Now().UTC()
	if err := committed.Save(r.JournalPath()); err != nil {
		return err
	}
	if err := r.gate.MarkReady(); err != nil {
		return err
	}
	if res.Forced {
		cleared, err := r.gate.ClearForce(force)
		switch {
		case err != nil:
			logger.Warn("force_marker_clear_failed", slog.String("error", err.Error()))
		case !cleared:
			logger.Info("force_marker_renewed")
		}
	}
	return nil
}

// staleKinds returns the kinds whose collection does not reflect the
// snapshot. A forced run rebuilds every kind.
func (r *Runner) staleKinds(snapJournal *journal.Journal, res *Result) ([]source.Kind, error) {
	var needs []source.Kind
	for _, kind := range source.Kinds() {
		reason, err := r.store.Mismatch(kind, snapJournal)
		if err != nil {
			return nil, err
		}
		if res.Forced {
			reason = "force rebuild requested"
		}
		if reason != "" {
			needs = append(needs, kind)
			res.Reasons[kind] = reason
		}
	}
	return needs, nil
}

// materialize produces the documents of every stale kind. Docx conversion
// and the web scrape run concurrently. The web corpus is re-scraped only
// when the trusted-sites config changed or the run is forced; its snapshot
// entries are then replaced by a rescan of the fresh corpus.
func (r *Runner) materialize(ctx context.Context, logger *slog.Logger, prev *journal.Journal, cs *journal.ChangeSet, needs []source.Kind, res *Result) (map[source.Kind][]source.Document, error) {
	docs := map[source.Kind][]source.Document{}
	need := map[source.Kind]bool{}
	for _, k := range needs {
		need[k] = true
	}
	scrape := need[source.KindWeb] && (res.Forced || cs.ConfigChanged)

	var docxDocs, webDocs []source.Document
	g, gctx := errgroup.WithContext(ctx)
	if need[source.KindDocx] {
		paths := cs.Snapshot.PathsFor(source.KindDocx)
		g.Go(func() error {
			out, err := r.docx.MaterializeDocx(gctx, paths)
			if err != nil {
				return err
			}
			out = r.keepIndexed(logger, prev, cs.Snapshot, out, res)
			if err := r.docx.Prune(out); err != nil {
				return err
			}
			docxDocs = out
			return nil
		})
	}
	if scrape {
		g.Go(func() error {
			sites, err := source.LoadSites(r.sources.SitesFile)
			if err != nil {
				return err
			}
			_, err = r.web.MaterializeWeb(gctx, sites)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if scrape {
		res.Scraped = true
		cs.Snapshot.ReplaceKind(source.KindWeb, journal.Scan(journal.New(), r.sources))
		logger.Info("web_corpus_scraped", slog.Int("pages", len(cs.Snapshot.ForKind(source.KindWeb))))
	}
	if need[source.KindDocx] {
		docs[source.KindDocx] = docxDocs
	}
	if need[source.KindWeb] {
		var err error
		webDocs, err = source.LoadDir(r.sources.WebDir, source.KindWeb)
		if err != nil {
			return nil, err
		}
		docs[source.KindWeb] = webDocs
	}
	return docs, nil
}

// keepIndexed covers sources the converter could not read this run although
// their content is the one already indexed, so the rebuilt collection still
// holds every document the journal will record. The previous fiche is
// indexed again. Without one, an entry carried over from the journal leaves
// the snapshot so the file is detected as added once readable; a readable
// file whose content never converted stays recorded until it changes.
func (r *Runner) keepIndexed(logger *slog.Logger, prev *journal.Journal, snap *journal.Snapshot, docs []source.Document, res *Result) []source.Document {
	have := make(map[string]bool, len(docs))
	for _, d := range docs {
		have[d.ID] = true
	}
	kept := false
	for id, h := range snap.ForKind(source.KindDocx) {
		key := journal.Key(source.KindDocx, id)
		if have[id] || prev.Entries[key] != h {
			continue
		}
		fiche, err := r.docx.Fiche(id)
		if err != nil {
			if snap.Carried[key] {
				snap.Drop(key)
				logger.Warn("unreadable_source_dropped", slog.String("id", id), slog.String("error", err.Error()))
			}
			continue
		}
		docs = append(docs, *fiche)
		kept = true
		res.KeptFiches++
		logger.Warn("previous_fiche_kept", slog.String("id", id))
	}
	if kept {
		sort.Slice(docs, func(a, b int) bool { return docs[a].ID < docs[b].ID })
	}
	return docs
}

func (r *Runner) contextError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return cerrors.New(cerrors.ErrCodeRebuildTimeout,
			fmt.Sprintf("run exceeded %s", r.cfg.Index.RebuildTimeout), err).
			WithSuggestion("raise index.rebuild_timeout or check the embedding backend")
	}
	return err
}

func requestReason(res *Result, needs []source.Kind) string {
	if res.Forced {
		return "force rebuild requested"
	}
	if len(needs) == 0 {
		return "verifying collections"
	}
	parts := make([]string, 0, len(needs))
	for _, k := range needs {
		parts = append(parts, k.Collection()+": "+res.Reasons[k])
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
