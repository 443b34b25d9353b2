package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes to one target by periodically scanning it.
// Used as a fallback when fsnotify is not available or fails.
type PollingWatcher struct {
	target    Target
	interval  time.Duration
	logger    *slog.Logger
	fileState map[string]fileSnapshot
	events    chan FileEvent
	stopCh    chan struct{}
	mu        sync.Mutex
	stopped   bool
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher for target.
func NewPollingWatcher(target Target, interval time.Duration, logger *slog.Logger) *PollingWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingWatcher{
		target:    target,
		interval:  interval,
		logger:    logger,
		fileState: make(map[string]fileSnapshot),
		events:    make(chan FileEvent, 256),
		stopCh:    make(chan struct{}),
	}
}

// Start records a baseline and then polls until ctx is done or Stop is
// called. A missing target is simply empty.
func (p *PollingWatcher) Start(ctx context.Context) error {
	p.mu.Lock()
	p.fileState = p.scan()
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.detectChanges()
		}
	}
}

// Stop stops the polling watcher. Safe to call multiple times.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// scan returns the current state of the target keyed by relative path.
func (p *PollingWatcher) scan() map[string]fileSnapshot {
	state := make(map[string]fileSnapshot)

	if p.target.File {
		if info, err := os.Stat(p.target.Path); err == nil {
			state[filepath.Base(p.target.Path)] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		}
		return state
	}

	root := p.target.Path
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[filepath.ToSlash(rel)] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	return state
}

// detectChanges compares the current state with the previous one and emits
// events.
func (p *PollingWatcher) detectChanges() {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.scan()
	now := time.Now()
	for rel, snap := range current {
		prev, ok := p.fileState[rel]
		switch {
		case !ok:
			p.emit(FileEvent{Target: p.target.Name, Path: rel, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !snap.isDir && (prev.modTime != snap.modTime || prev.size != snap.size):
			p.emit(FileEvent{Target: p.target.Name, Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel, snap := range p.fileState {
		if _, ok := current[rel]; !ok {
			p.emit(FileEvent{Target: p.target.Name, Path: rel, Operation: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}
	p.fileState = current
}

// emit must be called with the lock held.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		p.logger.Warn("polling_buffer_full",
			slog.String("target", event.Target),
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}
