package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

// Operation is what happened to a path.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
	// OpIgnoreChange: a .careindexignore file changed and the target's
	// rules are reloaded.
	OpIgnoreChange
	// OpRootReplaced: a watched directory was recreated, as the web
	// scraper does when it swaps in a fresh corpus.
	OpRootReplaced
)

var opNames = [...]string{"create", "modify", "delete", "rename", "ignore_change", "root_replaced"}

func (op Operation) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return fmt.Sprintf("op(%d)", int(op))
	}
	return opNames[op]
}

// Target is one watched location.
type Target struct {
	// Name labels events from this target ("docx", "web", "sites").
	Name string
	// Path is a directory watched recursively, or a single file when File
	// is set.
	Path string
	File bool
}

func (t Target) validate() error {
	if t.Name == "" || t.Path == "" {
		return fmt.Errorf("watch target needs a name and a path")
	}
	return nil
}

// root is the directory the target lives in for walking and relative paths.
func (t Target) root() string {
	if t.File {
		return filepath.Dir(t.Path)
	}
	return t.Path
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Target is the Name of the target the event belongs to.
	Target string

	// Path is relative to the target directory (the file name for a file
	// target).
	Path string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// key identifies the file across targets for coalescing.
func (e FileEvent) key() string { return e.Target + "\x00" + e.Path }

// Options tunes a watcher. Zero values take the defaults below.
type Options struct {
	DebounceWindow  time.Duration // quiet period before a batch is emitted, 2s
	PollInterval    time.Duration // polling fallback interval, 5s
	EventBufferSize int           // batches buffered for the consumer, 100
	ForcePolling    bool          // skip fsnotify
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 100
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
