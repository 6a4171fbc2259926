// Package indexer is the single-writer indexing worker that keeps the
// storage engine current with the filesystem: filter, hash, content-hash
// gate, move detection, parse+extract, replace, delete. It is the
// consumer end of the watcher's debounced event queue, processing events
// serially and honoring cancellation only between files, never mid
// transaction.
package indexer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/gitignore"
	"github.com/codescope/codescope/internal/plugin"
	"github.com/codescope/codescope/internal/scanner"
	"github.com/codescope/codescope/internal/storage"
	"github.com/codescope/codescope/internal/watcher"
)

// Config bounds the worker's filter step.
type Config struct {
	// RootPath is the absolute repository root relative paths resolve
	// against.
	RootPath string
	// ExcludePatterns mirrors config.PathsConfig.Exclude.
	ExcludePatterns []string
	// MaxFileSize rejects files above this size at the filter step.
	MaxFileSize int64
}

// Worker is the indexing pipeline's single consumer.
type Worker struct {
	store        *storage.Engine
	registry     *plugin.Registry
	repositoryID int64
	config       Config
}

// New builds a Worker bound to one repository row.
func New(store *storage.Engine, registry *plugin.Registry, repositoryID int64, cfg Config) *Worker {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = scanner.DefaultMaxFileSize
	}
	return &Worker{store: store, registry: registry, repositoryID: repositoryID, config: cfg}
}

// Result tallies one ProcessEvents call's outcome.
type Result struct {
	Indexed int
	Moved   int
	Skipped int
	Deleted int
	Failed  int
}

// ProcessEvents drains events serially, in order, stopping between files
// (never mid-transaction) if ctx is canceled.
func (w *Worker) ProcessEvents(ctx context.Context, events []watcher.FileEvent) (Result, error) {
	var result Result
	for _, event := range events {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if event.IsDir {
			continue
		}

		outcome, err := w.processEvent(ctx, event)
		if err != nil {
			slog.Warn("index event failed",
				slog.String("path", event.Path),
				slog.String("op", event.Operation.String()),
				slog.String("error", err.Error()))
			result.Failed++
			continue
		}

		switch outcome {
		case outcomeIndexed:
			result.Indexed++
		case outcomeMoved:
			result.Moved++
		case outcomeSkipped:
			result.Skipped++
		case outcomeDeleted:
			result.Deleted++
		}
	}
	return result, nil
}

type eventOutcome int

const (
	outcomeSkipped eventOutcome = iota
	outcomeIndexed
	outcomeMoved
	outcomeDeleted
	// outcomeNoop means the event needed no work; it counts toward no tally.
	outcomeNoop
)

func (w *Worker) processEvent(ctx context.Context, event watcher.FileEvent) (eventOutcome, error) {
	switch event.Operation {
	case watcher.OpDelete:
		return w.handleDelete(event.Path)
	case watcher.OpCreate, watcher.OpModify:
		return w.handleUpsert(ctx, event.Path)
	default:
		// Renames arrive as delete+create; OpGitignoreChange/OpConfigChange
		// carry no single path to upsert or delete, so they're no-ops here.
		// A caller that wants to act on one re-reads the changed file and
		// calls ReconcileIgnoreChange directly.
		return outcomeNoop, nil
	}
}

// ReconcileIgnoreChange re-tests every already-indexed file against the
// current ignore pattern set (config excludes plus the repository's
// .gitignore content, as gitignore.ParsePatterns extracts it) and
// soft-deletes any live file that now matches, exactly as if it had been
// deleted on disk. It does not discover newly-includable files — a path
// that was always excluded was never indexed, so there's nothing in
// storage to revive — that direction is handled by a caller re-scanning
// the tree (index rebuild / buildIndex), which content-hash-gates normally
// and simply re-adds anything no longer excluded.
func (w *Worker) ReconcileIgnoreChange(ctx context.Context, patterns []string) (Result, error) {
	var result Result
	if len(patterns) == 0 {
		return result, nil
	}

	paths, err := w.store.ListLivePaths(w.repositoryID)
	if err != nil {
		return result, err
	}

	for _, relPath := range paths {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		if !gitignore.MatchesAnyPattern(relPath, patterns) {
			continue
		}
		outcome, delErr := w.handleDelete(relPath)
		if delErr != nil {
			slog.Warn("gitignore reconciliation delete failed",
				slog.String("path", relPath), slog.String("error", delErr.Error()))
			result.Failed++
			continue
		}
		if outcome == outcomeDeleted {
			result.Deleted++
		}
	}

	return result, nil
}

// handleUpsert runs steps 1-6 of the pipeline for one path: filter, hash,
// content-hash gate, move detection, parse+extract, replace.
func (w *Worker) handleUpsert(ctx context.Context, relPath string) (eventOutcome, error) {
	absPath := filepath.Join(w.config.RootPath, relPath)

	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// The file vanished between the event firing and our read;
			// treat it as a delete rather than an error.
			return w.handleDelete(relPath)
		}
		return outcomeSkipped, errors.Wrap(errors.KindStorageFailure, "stat file", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return outcomeSkipped, nil
	}

	// Step 1: filter.
	if w.isExcluded(relPath) {
		return outcomeSkipped, nil
	}
	if info.Size() > w.config.MaxFileSize {
		return outcomeSkipped, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return outcomeSkipped, errors.Wrap(errors.KindStorageFailure, "read file", err)
	}
	if isBinary(content) {
		return outcomeSkipped, nil
	}

	// Step 2: hash.
	hash := hashContent(content)

	// Step 3: content-hash gate.
	existing, err := w.store.GetFileByPath(w.repositoryID, relPath)
	if err != nil {
		return outcomeSkipped, err
	}
	if existing != nil && existing.ContentHash == hash && !existing.IsDeleted {
		return outcomeSkipped, nil
	}

	// Step 4: move detection. Only applies to a path with no row of its
	// own, live or soft-deleted.
	if existing == nil {
		movedFileID, moved, err := w.store.DetectAndRecordMove(w.repositoryID, hash, relPath)
		if err != nil {
			return outcomeSkipped, err
		}
		if moved {
			_ = movedFileID
			return outcomeMoved, nil
		}
	}

	// Step 5: parse + extract.
	language := scanner.DetectLanguage(relPath)
	var parsed plugin.ParseResult
	if p := w.registry.ForExtension(filepath.Ext(relPath)); p != nil {
		parsed, err = p.ParseGuarded(ctx, relPath, content)
		if err != nil {
			// A parse failure still records the file, with no symbols,
			// so it's visible in BM25/reconciliation; it is not fatal to
			// the pass.
			slog.Warn("plugin parse failed, recording file with no symbols",
				slog.String("path", relPath), slog.String("error", err.Error()))
			parsed = plugin.ParseResult{}
		}
	}

	// Step 6: replace.
	fileID, _, err := w.store.UpsertFile(w.repositoryID, relPath, hash, language, info.Size(), info.ModTime())
	if err != nil {
		return outcomeSkipped, err
	}
	if err := w.store.ReplaceSymbols(fileID, parsed.Symbols, parsed.References, parsed.Imports); err != nil {
		return outcomeSkipped, err
	}
	if err := w.store.IndexFileContent(relPath, string(content)); err != nil {
		return outcomeSkipped, err
	}

	return outcomeIndexed, nil
}

// handleDelete runs step 7: soft-delete the file row. Symbols cascade out
// of query results immediately; the row itself survives the rename grace
// window for move detection until a maintenance pass vacuums it.
func (w *Worker) handleDelete(relPath string) (eventOutcome, error) {
	existing, err := w.store.GetFileByPath(w.repositoryID, relPath)
	if err != nil {
		return outcomeSkipped, err
	}
	if existing == nil || existing.IsDeleted {
		return outcomeNoop, nil
	}
	if err := w.store.MarkFileDeleted(existing.ID); err != nil {
		return outcomeSkipped, err
	}
	return outcomeDeleted, nil
}

func (w *Worker) isExcluded(relPath string) bool {
	base := filepath.Base(relPath)
	for _, pattern := range w.config.ExcludePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		trimmed := strings.Trim(pattern, "*/")
		if trimmed != "" && strings.Contains(relPath, trimmed) {
			return true
		}
	}
	return false
}

// isBinary sniffs the first 512 bytes for a NUL byte, the same heuristic
// git and the teacher's coordinator use to classify content.
func isBinary(content []byte) bool {
	n := len(content)
	if n > 512 {
		n = 512
	}
	return bytes.IndexByte(content[:n], 0) != -1
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Touch is a convenience used by full-repository passes (index build /
// rebuild) to synthesize a create event per discovered path, reusing the
// same single pipeline the watcher drives incrementally.
func Touch(path string) watcher.FileEvent {
	return watcher.FileEvent{Path: path, Operation: watcher.OpCreate, Timestamp: time.Now()}
}

// IndexPath indexes (or, if relPath no longer exists on disk, deletes) one
// file on demand, the synchronous counterpart to ProcessEvents used by the
// index_file MCP tool. indexed is false whenever the file was a no-op for
// any of the filter/gate steps; skippedReason then lists the possible
// causes together and does not name the step that applied.
func (w *Worker) IndexPath(ctx context.Context, relPath string) (indexed bool, skippedReason string, err error) {
	event := watcher.FileEvent{Path: relPath, Operation: watcher.OpCreate, Timestamp: time.Now()}
	if _, statErr := os.Lstat(filepath.Join(w.config.RootPath, relPath)); os.IsNotExist(statErr) {
		event.Operation = watcher.OpDelete
	}

	outcome, err := w.processEvent(ctx, event)
	if err != nil {
		return false, "", err
	}
	switch outcome {
	case outcomeIndexed, outcomeMoved:
		return true, "", nil
	case outcomeDeleted:
		return false, "file no longer exists", nil
	default:
		return false, "unchanged content, excluded path, oversized, or binary", nil
	}
}
