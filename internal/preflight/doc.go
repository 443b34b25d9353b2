// Package preflight checks that a project can be indexed and served before
// anything is rebuilt: configuration, a writable data directory, readable
// sources, a valid trusted-sites file, a reachable embedder and enough file
// descriptors for the watcher.
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
