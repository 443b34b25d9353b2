package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aman-CERP/careindex/internal/config"
	"github.com/Aman-CERP/careindex/internal/embed"
	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/pipeline"
	"github.com/Aman-CERP/careindex/internal/retrieval"
	"github.com/Aman-CERP/careindex/internal/scheduler"
	"github.com/Aman-CERP/careindex/internal/source"
	"github.com/Aman-CERP/careindex/internal/store"
	"github.com/Aman-CERP/careindex/internal/telemetry"
	"github.com/Aman-CERP/careindex/internal/watcher"
)

// app wires the components shared by the commands. Every command builds
// its own and closes it before returning.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	embedder embed.Embedder
	store    *store.IndexStore
	gate     *gate.Gate
	guard    *gate.Guard
	runner   *pipeline.Runner
	// metrics is set by retriever when telemetry is enabled.
	metrics *telemetry.Metrics
}

// openApp loads the project config and opens the index store.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(resolvedDir())
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	progress := pipeline.NewProgress()
	opts := store.DefaultOptions()
	opts.ShortDocumentRunes = cfg.Index.ShortDocumentRunes
	opts.EmbedBatchSize = cfg.Index.EmbedBatchSize
	opts.OnProgress = progress.OnEmbed
	opts.Logger = logger

	st, err := store.Open(cfg.Paths.DataDir, embedder, opts)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	g := gate.New(cfg.Paths.DataDir)
	guard := gate.NewGuard(cfg.Paths.DataDir, cfg.Scheduler.LockTimeout)

	runner, err := pipeline.NewRunner(pipeline.RunnerDependencies{
		Config: cfg,
		Gate:   g,
		Guard:  guard,
		Store:  st,
		Docx:   source.NewDocxConverter(cfg.Paths.DocxDir, cfg.Paths.FichesDir, logger),
		Web: source.NewHTTPScraper(cfg.Paths.WebDir, source.ScraperOptions{
			RequestsPerSecond: cfg.Web.RequestsPerSecond,
			UserAgent:         cfg.Web.UserAgent,
			Timeout:           cfg.Web.FetchTimeout,
		}, logger),
		Logger:   logger,
		Progress: progress,
	})
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		embedder: embedder,
		store:    st,
		gate:     g,
		guard:    guard,
		runner:   runner,
	}, nil
}

// Close flushes telemetry and releases the store and the embedder.
func (a *app) Close() error {
	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close())
	}
	return errors.Join(append(errs, a.store.Close(), a.embedder.Close())...)
}

func (a *app) checker() *pipeline.ConsistencyChecker {
	return pipeline.NewConsistencyChecker(a.gate, a.store, a.runner.JournalPath())
}

func (a *app) reporter() pipeline.Reporter {
	return pipeline.Reporter{
		Gate:        a.gate,
		Store:       a.store,
		JournalPath: a.runner.JournalPath(),
		Progress:    a.runner.Progress(),
	}
}

// scheduler builds the watch loop. events may be nil for a single
// reconciliation.
func (a *app) scheduler(events scheduler.EventSource) *scheduler.Scheduler {
	return scheduler.New(a.runner, a.checker(), a.gate, events, scheduler.Options{
		PollInterval:   a.cfg.Scheduler.PollInterval,
		BackoffInitial: a.cfg.Scheduler.BackoffInitial,
		BackoffMax:     a.cfg.Scheduler.BackoffMax,
		Logger:         a.logger,
	})
}

// watcher watches the fiches, the web corpus and the trusted-sites file.
func (a *app) watcher(forcePolling bool) (*watcher.HybridWatcher, error) {
	p := a.cfg.Paths
	return watcher.NewHybridWatcher([]watcher.Target{
		{Name: string(source.KindDocx), Path: p.DocxDir},
		{Name: string(source.KindWeb), Path: p.WebDir},
		{Name: "sites", Path: p.SitesFile, File: true},
	}, watcher.Options{
		DebounceWindow: a.cfg.Scheduler.Debounce,
		PollInterval:   a.cfg.Scheduler.PollInterval,
		ForcePolling:   forcePolling,
		Logger:         a.logger,
	})
}

func (a *app) engine() (*retrieval.Engine, error) {
	return retrieval.NewEngine(a.embedder, a.store, a.gate, retrieval.Options{
		TopKPrimary:         a.cfg.Retrieval.TopKPrimary,
		TopKSecondary:       a.cfg.Retrieval.TopKSecondary,
		CandidateMultiplier: a.cfg.Retrieval.CandidateMultiplier,
		MinNovelty:          a.cfg.Retrieval.MinNovelty,
		Logger:              a.logger,
	})
}

// retriever returns the engine, recorded by telemetry when enabled. A
// telemetry file that cannot be opened only costs the recording.
func (a *app) retriever() (telemetry.Retriever, error) {
	engine, err := a.engine()
	if err != nil {
		return nil, err
	}
	if !a.cfg.Telemetry.Enabled {
		return engine, nil
	}
	st, err := telemetry.OpenSQLiteStore(a.cfg.Paths.DataDir, a.cfg.Telemetry.UnansweredCapacity)
	if err != nil {
		a.logger.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		return engine, nil
	}
	a.metrics = telemetry.New(st, telemetry.Options{
		FlushInterval:      a.cfg.Telemetry.FlushInterval,
		UnansweredCapacity: a.cfg.Telemetry.UnansweredCapacity,
		Logger:             a.logger,
	})
	return telemetry.Track(engine, a.metrics), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
