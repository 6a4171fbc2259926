package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/async"
	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/discovery"
	"github.com/codescope/codescope/internal/indexer"
	"github.com/codescope/codescope/internal/output"
	"github.com/codescope/codescope/internal/scanner"
	"github.com/codescope/codescope/internal/storage"
	"github.com/codescope/codescope/internal/watcher"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build, verify, or rebuild the repository's code index",
	}
	cmd.AddCommand(newIndexBuildCmd())
	cmd.AddCommand(newIndexVerifyCmd())
	cmd.AddCommand(newIndexRebuildCmd())
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Index the repository from scratch at its primary index path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexBuild(cmd.Context(), cmd, root)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Repository root to index (default: detected project root)")
	return cmd
}

func newIndexVerifyCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Discover and validate the repository's index without changing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexVerify(cmd.Context(), cmd, root)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Repository root to verify (default: detected project root)")
	return cmd
}

func newIndexRebuildCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Drop and rebuild the repository's index from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexRebuild(cmd.Context(), cmd, root)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Repository root to rebuild (default: detected project root)")
	return cmd
}

// primaryIndexPath returns the first (highest-priority) search path for
// root, the path build/rebuild write to.
func primaryIndexPath(cfg *config.Config, root string) string {
	ctx, _ := discoveryContext(cfg, root)
	paths := discovery.SearchPaths(ctx, cfg.Discovery.SearchPaths)
	return paths[0]
}

func runIndexVerify(ctx context.Context, cmd *cobra.Command, rootFlag string) error {
	root, err := resolveRoot(rootFlag)
	if err != nil {
		return configError("resolve repository root: %v", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return configError("load configuration: %v", err)
	}

	out := output.New(cmd.OutOrStdout())
	errOut := output.New(cmd.ErrOrStderr())

	discCtx, modelTag := discoveryContext(cfg, root)
	result := discovery.Discover(discCtx, cfg.Discovery.SearchPaths, cfg.Discovery.EnableMultiPath, modelTag)
	if result.Engine == nil {
		for _, r := range result.Rejected {
			errOut.Warningf("rejected %s: %s", r.Path, r.Reason)
		}
		if result.PrimaryRejectionKind() == discovery.RejectionSchemaIncompatible {
			return incompatibleIndexError("primary index candidate %s is schema incompatible: %s",
				result.Rejected[0].Path, result.Rejected[0].Reason)
		}
		return noIndexError("no compatible index found among %d candidates", len(result.Rejected))
	}
	defer result.Engine.Close()

	health := result.Engine.Health()
	if !health.TablesOK {
		return incompatibleIndexError("index at %s failed schema validation", result.Path)
	}

	out.Successf("ok: %s (schema %d, fts=%v, wal=%v, semantic_disqualified=%v)",
		result.Path, health.SchemaVersion, health.FTSAvailable, health.WALEnabled, result.SemanticDisqualified)
	for _, w := range health.Warnings {
		out.Warningf("%s", w)
	}
	return nil
}

func runIndexBuild(ctx context.Context, cmd *cobra.Command, rootFlag string) error {
	root, err := resolveRoot(rootFlag)
	if err != nil {
		return configError("resolve repository root: %v", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return configError("load configuration: %v", err)
	}

	path := primaryIndexPath(cfg, root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return configError("create index directory: %v", err)
	}

	store, err := storage.Open(path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer store.Close()

	result, err := buildIndex(ctx, store, cfg, root, nil)
	if err != nil {
		return err
	}

	output.New(cmd.OutOrStdout()).Successf("indexed %d, moved %d, skipped %d, deleted %d, failed %d (%s)",
		result.Indexed, result.Moved, result.Skipped, result.Deleted, result.Failed, path)
	return nil
}

func runIndexRebuild(ctx context.Context, cmd *cobra.Command, rootFlag string) error {
	root, err := resolveRoot(rootFlag)
	if err != nil {
		return configError("resolve repository root: %v", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return configError("load configuration: %v", err)
	}

	path := primaryIndexPath(cfg, root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return configError("create index directory: %v", err)
	}

	lock := discovery.NewRebuildLock(filepath.Dir(path))
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire rebuild lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another rebuild is already in progress for %s", path)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("drop existing index: %w", err)
	}

	store, err := storage.Open(path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer store.Close()

	result, err := buildIndex(ctx, store, cfg, root, nil)
	if err != nil {
		return err
	}

	output.New(cmd.OutOrStdout()).Successf("rebuilt: indexed %d, moved %d, skipped %d, deleted %d, failed %d (%s)",
		result.Indexed, result.Moved, result.Skipped, result.Deleted, result.Failed, path)
	return nil
}

// buildIndex scans root and drives every discovered file through the
// indexing worker, reusing the same pipeline the watcher drives
// incrementally (spec.md §4.4). progress is optional; BackgroundIndexer
// passes its own tracker, while the synchronous CLI paths pass nil.
func buildIndex(ctx context.Context, store *storage.Engine, cfg *config.Config, root string, progress *async.IndexProgress) (indexer.Result, error) {
	repoID, err := store.EnsureRepository(root, root, "")
	if err != nil {
		return indexer.Result{}, fmt.Errorf("register repository: %w", err)
	}

	registry := buildRegistry(cfg.Plugin)
	worker := indexer.New(store, registry, repoID, indexer.Config{
		RootPath:        root,
		ExcludePatterns: cfg.Paths.Exclude,
		MaxFileSize:     cfg.Paths.MaxFileSizeBytes,
	})

	s, err := scanner.New()
	if err != nil {
		return indexer.Result{}, fmt.Errorf("create scanner: %w", err)
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  cfg.Paths.Include,
		ExcludePatterns:  cfg.Paths.Exclude,
		RespectGitignore: true,
		MaxFileSize:      cfg.Paths.MaxFileSizeBytes,
		Submodules:       &cfg.Submodules,
	})
	if err != nil {
		return indexer.Result{}, fmt.Errorf("scan repository: %w", err)
	}

	var total indexer.Result
	const batchSize = 256
	batch := make([]watcher.FileEvent, 0, batchSize)
	filesSeen := 0
	parsingStarted := false

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		r, err := worker.ProcessEvents(ctx, batch)
		total.Indexed += r.Indexed
		total.Moved += r.Moved
		total.Skipped += r.Skipped
		total.Deleted += r.Deleted
		total.Failed += r.Failed
		batch = batch[:0]
		if progress != nil {
			if !parsingStarted {
				progress.SetStage(async.StageParsing, 0)
				parsingStarted = true
			}
			progress.UpdateFiles(filesSeen)
			progress.AddFilesIndexed(r.Indexed + r.Moved)
		}
		return err
	}

	for res := range results {
		if res.Error != nil {
			total.Failed++
			continue
		}
		filesSeen++
		batch = append(batch, indexer.Touch(res.File.Path))
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	return total, nil
}
