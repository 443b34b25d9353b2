package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/careindex/internal/ignore"
)

// HybridWatcher watches a set of targets with fsnotify, falling back to
// polling, and emits debounced batches.
type HybridWatcher struct {
	targets        []Target
	fsWatcher      *fsnotify.Watcher
	useFsnotify    bool
	debouncer      *Debouncer
	matchers       map[string]*ignore.Matcher
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	opts           Options
	logger         *slog.Logger
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewHybridWatcher creates a watcher for targets. Paths are made absolute.
func NewHybridWatcher(targets []Target, opts Options) (*HybridWatcher, error) {
	opts = opts.withDefaults()
	if len(targets) == 0 {
		return nil, fmt.Errorf("no watch targets")
	}

	resolved := make([]Target, 0, len(targets))
	for _, t := range targets {
		if err := t.validate(); err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(t.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve absolute path: %w", err)
		}
		t.Path = abs
		resolved = append(resolved, t)
	}

	h := &HybridWatcher{
		targets:   resolved,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.Logger),
		matchers:  make(map[string]*ignore.Matcher),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
		logger:    opts.Logger,
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			h.fsWatcher = fsw
			h.useFsnotify = true
		} else {
			h.logger.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		}
	}
	return h, nil
}

// Start watches until ctx is done or Stop is called.
func (h *HybridWatcher) Start(ctx context.Context) error {
	for _, t := range h.targets {
		if !t.File {
			h.loadIgnore(t)
		}
	}

	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	for _, t := range h.targets {
		if err := os.MkdirAll(t.root(), 0o755); err != nil {
			return fmt.Errorf("create watched dir: %w", err)
		}
		// The parent is watched so a replaced or late-created root is seen.
		if err := h.fsWatcher.Add(filepath.Dir(t.Path)); err != nil {
			return fmt.Errorf("watch %s: %w", filepath.Dir(t.Path), err)
		}
		if !t.File {
			if err := h.addRecursive(t, t.Path); err != nil {
				return fmt.Errorf("add directories to watcher: %w", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) startPolling(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range h.targets {
		p := NewPollingWatcher(t, h.opts.PollInterval, h.logger)
		g.Go(func() error {
			<-h.stopCh
			return p.Stop()
		})
		g.Go(func() error {
			for event := range p.Events() {
				h.accept(t, event)
			}
			return nil
		})
		g.Go(func() error {
			err := p.Start(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Stop()
		case <-h.stopCh:
		}
	}()
	return g.Wait()
}

// accept filters one event and hands it to the debouncer.
func (h *HybridWatcher) accept(t Target, event FileEvent) {
	if !t.File {
		if filepath.Base(event.Path) == ignore.FileName {
			h.loadIgnore(t)
			event.Operation = OpIgnoreChange
			h.debouncer.Add(event)
			return
		}
		if h.shouldIgnore(t, event.Path, event.IsDir) {
			return
		}
	}
	h.debouncer.Add(event)
}

func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	t, rel, ok := h.resolve(event.Name)
	if !ok {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	if !t.File && rel == "" {
		// The root itself was created or swapped out.
		if op == OpCreate && isDir {
			_ = h.addRecursive(t, t.Path)
			h.loadIgnore(t)
			op = OpRootReplaced
		}
		h.debouncer.Add(FileEvent{Target: t.Name, Path: ".", Operation: op, IsDir: true, Timestamp: time.Now()})
		return
	}

	if op == OpCreate && isDir && !t.File && !h.shouldIgnore(t, rel, true) {
		_ = h.addRecursive(t, event.Name)
	}
	h.accept(t, FileEvent{Target: t.Name, Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// resolve maps an absolute path to its target and relative path. Paths
// outside every target (siblings seen through a parent watch) are dropped.
func (h *HybridWatcher) resolve(name string) (Target, string, bool) {
	for _, t := range h.targets {
		if t.File {
			if name == t.Path {
				return t, filepath.Base(name), true
			}
			continue
		}
		if name == t.Path {
			return t, "", true
		}
		if rel, ok := strings.CutPrefix(name, t.Path+string(filepath.Separator)); ok {
			return t, filepath.ToSlash(rel), true
		}
	}
	return Target{}, "", false
}

func (h *HybridWatcher) addRecursive(t Target, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != t.Path {
			rel, _ := filepath.Rel(t.Path, path)
			if h.shouldIgnore(t, rel, true) {
				return filepath.SkipDir
			}
		}
		return h.fsWatcher.Add(path)
	})
}

func (h *HybridWatcher) shouldIgnore(t Target, rel string, isDir bool) bool {
	if rel == "" || rel == "." {
		return true
	}
	h.mu.RLock()
	m := h.matchers[t.Name]
	h.mu.RUnlock()
	if m == nil {
		return false
	}
	return m.Match(rel, isDir)
}

func (h *HybridWatcher) loadIgnore(t Target) {
	m, err := ignore.LoadDir(t.Path)
	if err != nil {
		h.logger.Warn("ignore_file_unreadable",
			slog.String("target", t.Name),
			slog.String("error", err.Error()))
		m = ignore.New()
	}
	h.mu.Lock()
	h.matchers[t.Name] = m
	h.mu.Unlock()
}

func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(events) > 0 {
				h.emitEvents(events)
			}
		}
	}
}

func (h *HybridWatcher) emitEvents(events []FileEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		count := h.droppedBatches.Add(1)
		h.logger.Warn("event_buffer_full",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

// DroppedBatches returns the number of batches dropped on a full buffer.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources. Safe to call multiple times.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.debouncer.Stop()
	if h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of batched file events.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of non-fatal watcher errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// WatcherType returns "fsnotify" or "polling".
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// Targets returns the watched targets with absolute paths.
func (h *HybridWatcher) Targets() []Target {
	return append([]Target(nil), h.targets...)
}
