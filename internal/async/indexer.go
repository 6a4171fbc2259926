package async

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codescope/codescope/internal/discovery"
)

// IndexFunc is the function signature for the actual indexing work: a full
// rescan of the repository, the same operation `codescope index rebuild`
// drives synchronously from the CLI.
type IndexFunc func(ctx context.Context, progress *IndexProgress) error

// IndexerConfig configures the BackgroundIndexer.
type IndexerConfig struct {
	// DataDir is the index directory; its RebuildLock (the same
	// discovery.RebuildLock `index rebuild` takes) is acquired for the
	// duration of a run, so a periodic background rebuild and a
	// foreground `codescope index rebuild` never race each other.
	DataDir string
}

// BackgroundIndexer runs indexing in a background goroutine with progress tracking.
type BackgroundIndexer struct {
	config   IndexerConfig
	progress *IndexProgress

	// IndexFunc is the actual indexing function to run.
	// This can be injected for testing.
	IndexFunc IndexFunc

	// Lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewBackgroundIndexer creates a new background indexer.
func NewBackgroundIndexer(cfg IndexerConfig) *BackgroundIndexer {
	return &BackgroundIndexer{
		config:   cfg,
		progress: NewIndexProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker for this indexer.
func (b *BackgroundIndexer) Progress() *IndexProgress {
	return b.progress
}

// IsRunning returns true if the indexer is currently running.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins indexing in a background goroutine.
// This is non-blocking and returns immediately.
// Use Wait() to block until completion.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

// run executes the indexing in the background.
func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	// Create merged context that respects both parent and stop channel
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	lock := discovery.NewRebuildLock(b.config.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		b.fail(err)
		return
	}
	if !acquired {
		// A foreground `codescope index rebuild` (or another background
		// run) already holds the rebuild lock; skip this cycle rather
		// than block or race it.
		slog.Info("background index rebuild skipped, rebuild lock held elsewhere")
		b.progress.SetReady()
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("release rebuild lock after background index run", slog.String("error", err.Error()))
		}
	}()

	slog.Info("background index rebuild starting")
	if b.IndexFunc != nil {
		if err := b.IndexFunc(ctx, b.progress); err != nil {
			slog.Warn("background index rebuild failed", slog.String("error", err.Error()))
			b.fail(err)
			return
		}
	}

	slog.Info("background index rebuild complete")
	b.progress.SetReady()
}

func (b *BackgroundIndexer) fail(err error) {
	b.progress.SetError(err.Error())
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Stop signals the indexer to stop and waits for it to finish.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
}

// Wait blocks until the indexer completes and returns any error.
func (b *BackgroundIndexer) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// HasIncompleteLock reports whether a rebuild is currently in progress
// against dataDir, foreground or background: it probes the same
// discovery.RebuildLock a rebuild itself takes, releasing it immediately if
// acquired so the probe never holds the lock past this call.
func HasIncompleteLock(dataDir string) bool {
	lock := discovery.NewRebuildLock(dataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return false
	}
	if !acquired {
		return true
	}
	_ = lock.Unlock()
	return false
}
