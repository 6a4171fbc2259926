// Package watcher provides real-time file system watching with automatic
// debouncing and gitignore-aware filtering, feeding indexer.Worker the
// batches of FileEvent it needs to keep a code index in sync with a live
// working tree.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced to coalesce rapid changes from IDEs and git
// operations, and filtered against .gitignore patterns to skip irrelevant
// files. The watcher never infers a file move on its own: a save-as or `mv`
// surfaces as an independent DELETE of the old path and CREATE of the new
// one, and it is indexer.Worker's content-hash comparison that unifies
// such a pair into a single file_move, not this package.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/project"); err != nil {
//	    return err
//	}
//
//	for batch := range w.Events() {
//	    if _, err := worker.ProcessEvents(ctx, batch); err != nil {
//	        log.Warn("indexing failed", "error", err)
//	    }
//	}
package watcher
