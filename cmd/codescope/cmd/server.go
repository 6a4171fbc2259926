package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/async"
	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/dispatcher"
	"github.com/codescope/codescope/internal/discovery"
	"github.com/codescope/codescope/internal/gitignore"
	"github.com/codescope/codescope/internal/indexer"
	"github.com/codescope/codescope/internal/logging"
	"github.com/codescope/codescope/internal/mcpserver"
	"github.com/codescope/codescope/internal/output"
	"github.com/codescope/codescope/internal/storage"
	"github.com/codescope/codescope/internal/watcher"
)

func newServerCmd() *cobra.Command {
	var root, transport string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the MCP server, watching the repository for changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, root, transport)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Repository root to serve (default: detected project root)")
	cmd.Flags().StringVar(&transport, "transport", "", "MCP transport: stdio or sse (default: config value, stdio)")
	return cmd
}

func runServer(cmd *cobra.Command, rootFlag, transportFlag string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := resolveRoot(rootFlag)
	if err != nil {
		return configError("resolve repository root: %v", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return configError("load configuration: %v", err)
	}
	if transportFlag != "" {
		cfg.Server.Transport = transportFlag
	}

	if cfg.Server.Transport == "stdio" || cfg.Server.Transport == "" {
		mcpCleanup, err := logging.SetupMCPModeWithLevel(cfg.Server.LogLevel)
		if err != nil {
			return configError("initialize stdio-safe logging: %v", err)
		}
		defer mcpCleanup()
	}

	discCtx, modelTag := discoveryContext(cfg, root)
	result := discovery.Discover(discCtx, cfg.Discovery.SearchPaths, cfg.Discovery.EnableMultiPath, modelTag)
	var store *storage.Engine
	if result.Engine != nil {
		store = result.Engine
	} else if result.PrimaryRejectionKind() == discovery.RejectionSchemaIncompatible {
		// The primary candidate exists but fails schema validation: refuse
		// rather than silently bootstrap over it, the same distinction
		// `index verify` draws (spec.md §4.5/§6, exit code 3).
		return incompatibleIndexError("primary index candidate %s is schema incompatible: %s",
			result.Rejected[0].Path, result.Rejected[0].Reason)
	} else {
		path := primaryIndexPath(cfg, root)
		store, err = storage.Open(path)
		if err != nil {
			return noIndexError("open index at %s: %v", path, err)
		}
		result.Path = path
	}
	defer store.Close()

	repoID, err := store.EnsureRepository(root, root, "")
	if err != nil {
		return fmt.Errorf("register repository: %w", err)
	}

	registry := buildRegistry(cfg.Plugin)
	disp := dispatcher.New(registry, store,
		dispatcher.WithCeiling(cfg.Search.RequestDeadline),
		dispatcher.WithWeights(dispatcher.Weights{
			Plugin:   cfg.Search.PluginWeight,
			Semantic: cfg.Search.SemanticWeight,
			BM25:     cfg.Search.BM25Weight,
		}))

	indexerConfig := indexer.Config{
		RootPath:        root,
		ExcludePatterns: cfg.Paths.Exclude,
		MaxFileSize:     cfg.Paths.MaxFileSizeBytes,
	}
	worker := indexer.New(store, registry, repoID, indexerConfig)

	background := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: filepath.Dir(result.Path)})
	background.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		_, err := buildIndex(ctx, store, cfg, root, progress)
		return err
	}

	srv := mcpserver.New(disp, worker, background, result)
	defer srv.Close()

	watchErrCh := make(chan error, 1)
	go watchAndIndex(ctx, cfg, root, worker, watchErrCh)

	transport := cfg.Server.Transport
	slog.Info("codescope server starting", slog.String("root", root), slog.String("index", result.Path), slog.String("transport", transport))
	output.New(cmd.ErrOrStderr()).Statusf("🔍", "serving %s via %s (index: %s)", root, transport, result.Path)

	serveErr := srv.Serve(ctx, transport, "")
	background.Stop()
	if serveErr != nil && serveErr != context.Canceled {
		return fmt.Errorf("mcp server: %w", serveErr)
	}
	return nil
}

// watchAndIndex drives the filesystem watcher's debounced event stream
// through the indexing worker for the life of ctx, the incremental
// counterpart to the full scan index build performs.
func watchAndIndex(ctx context.Context, cfg *config.Config, root string, worker *indexer.Worker, errCh chan<- error) {
	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow:  cfg.Watch.DebounceWindow,
		PollInterval:    cfg.Watch.PollInterval,
		EventBufferSize: cfg.Watch.EventBufferSize,
		IgnorePatterns:  cfg.Paths.Exclude,
	})
	if err != nil {
		errCh <- err
		return
	}
	if err := w.Start(ctx, root); err != nil {
		errCh <- err
		return
	}
	defer w.Stop()

	events := w.Events()
	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			if _, err := worker.ProcessEvents(ctx, batch); err != nil {
				slog.Warn("watch-driven indexing failed", slog.Int("batch_size", len(batch)), slog.String("error", err.Error()))
			}
			if needsIgnoreReconciliation(batch) {
				reconcileIgnoreChange(ctx, worker, cfg, root)
			}
		case werr, ok := <-errs:
			if !ok {
				continue
			}
			slog.Warn("watcher error", slog.String("error", werr.Error()))
		}
	}
}

// needsIgnoreReconciliation reports whether batch contains a gitignore or
// config-file change, either of which can make previously-indexed files
// newly excluded.
func needsIgnoreReconciliation(batch []watcher.FileEvent) bool {
	for _, e := range batch {
		if e.Operation == watcher.OpGitignoreChange || e.Operation == watcher.OpConfigChange {
			return true
		}
	}
	return false
}

// reconcileIgnoreChange re-reads the repository's root .gitignore and
// combines it with the configured exclude patterns, then soft-deletes any
// already-indexed file that newly matches (internal/indexer's
// ReconcileIgnoreChange). Newly-includable files are left to the next full
// scan rather than discovered here.
func reconcileIgnoreChange(ctx context.Context, worker *indexer.Worker, cfg *config.Config, root string) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("read .gitignore for reconciliation", slog.String("error", err.Error()))
		return
	}

	patterns := append([]string{}, cfg.Paths.Exclude...)
	patterns = append(patterns, gitignore.ParsePatterns(string(content))...)

	result, err := worker.ReconcileIgnoreChange(ctx, patterns)
	if err != nil {
		slog.Warn("gitignore reconciliation failed", slog.String("error", err.Error()))
		return
	}
	if result.Deleted > 0 || result.Failed > 0 {
		slog.Info("gitignore reconciliation", slog.Int("deleted", result.Deleted), slog.Int("failed", result.Failed))
	}
}
