// Package watcher reports changes under the source directories and the
// trusted-sites file.
//
// It uses fsnotify when available and falls back to polling (network mounts,
// container volumes). Bursts of events are coalesced by a timer-reset
// Debouncer: every event restarts the countdown, and one batch is emitted
// when the window elapses with no further events.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher([]watcher.Target{
//	    {Name: "docx", Path: cfg.Paths.DocxDir},
//	    {Name: "web", Path: cfg.Paths.WebDir},
//	    {Name: "sites", Path: cfg.Paths.SitesFile, File: true},
//	}, watcher.Options{})
//	if err != nil {
//	    return err
//	}
//	go func() { _ = w.Start(ctx) }()
//
//	for batch := range w.Events() {
//	    // one batch per quiet period
//	}
package watcher
