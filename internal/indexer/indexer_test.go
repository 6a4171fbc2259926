package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/plugin"
	"github.com/codescope/codescope/internal/storage"
	"github.com/codescope/codescope/internal/watcher"
)

func setupTestWorker(t *testing.T) (*Worker, *storage.Engine, string) {
	t.Helper()

	root := t.TempDir()
	dataDir := t.TempDir()
	engine, err := storage.Open(filepath.Join(dataDir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	repoID, err := engine.EnsureRepository("test-repo", root, "")
	require.NoError(t, err)

	reg := plugin.NewRegistry()
	reg.Register(plugin.Plugin{
		Extensions: []string{".go"},
		Language:   "go",
		Parse: func(_ context.Context, _ string, content []byte) (plugin.ParseResult, error) {
			return plugin.ParseResult{
				Symbols: []storage.ExtractedSymbol{
					{Name: "hello", Kind: storage.KindFunction, StartLine: 1, EndLine: 3, Signature: "func hello()"},
				},
			}, nil
		},
	})

	w := New(engine, reg, repoID, Config{RootPath: root})
	return w, engine, root
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestProcessEvents_Create_IndexesFileAndSymbols(t *testing.T) {
	// Given: a new .go file on disk and a matching create event
	w, engine, root := setupTestWorker(t)
	writeFile(t, root, "main.go", "package main\n\nfunc hello() {}\n")

	// When: the create event is processed
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})

	// Then: the file is recorded as indexed and its symbol is resolvable
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	sym, err := engine.SymbolByName("hello")
	require.NoError(t, err)
	require.NotNil(t, sym)
}

func TestProcessEvents_UnchangedContent_IsSkippedByContentHashGate(t *testing.T) {
	// Given: a file already indexed at its current content hash
	w, _, root := setupTestWorker(t)
	writeFile(t, root, "main.go", "package main\n\nfunc hello() {}\n")
	_, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	// When: a modify event fires for the same, unchanged content
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpModify, Timestamp: time.Now()},
	})

	// Then: the content-hash gate skips reprocessing
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Indexed)
}

func TestProcessEvents_ChangedContent_Reindexes(t *testing.T) {
	// Given: an indexed file whose content subsequently changes
	w, engine, root := setupTestWorker(t)
	writeFile(t, root, "main.go", "package main\n\nfunc hello() {}\n")
	_, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	writeFile(t, root, "main.go", "package main\n\nfunc hello() {}\n\n// changed\n")

	// When: a modify event fires for the new content
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpModify, Timestamp: time.Now()},
	})

	// Then: the file is reindexed, not skipped
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)

	f, err := engine.GetFileByPath(w.repositoryID, "main.go")
	require.NoError(t, err)
	require.NotNil(t, f)
}

func TestProcessEvents_Delete_SoftDeletesFile(t *testing.T) {
	// Given: an indexed file
	w, engine, root := setupTestWorker(t)
	writeFile(t, root, "main.go", "package main\n\nfunc hello() {}\n")
	_, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	// When: a delete event fires
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpDelete, Timestamp: time.Now()},
	})

	// Then: the file row is soft-deleted
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	f, err := engine.GetFileByPath(w.repositoryID, "main.go")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.IsDeleted)
}

func TestProcessEvents_MoveDetection_RepathsWithoutReparsing(t *testing.T) {
	// Given: an indexed file that is then deleted and an identical-content
	// file appears at a new path
	w, engine, root := setupTestWorker(t)
	writeFile(t, root, "old.go", "package main\n\nfunc hello() {}\n")
	_, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "old.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	_, err = w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "old.go", Operation: watcher.OpDelete, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	writeFile(t, root, "new.go", "package main\n\nfunc hello() {}\n")

	// When: a create event fires for the new path
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "new.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})

	// Then: it is recorded as a move, not a fresh index
	require.NoError(t, err)
	assert.Equal(t, 1, result.Moved)
	f, err := engine.GetFileByPath(w.repositoryID, "new.go")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.False(t, f.IsDeleted)
}

func TestProcessEvents_SizeCeiling_SkipsOversizedFile(t *testing.T) {
	// Given: a worker configured with a tiny max file size
	w, _, root := setupTestWorker(t)
	w.config.MaxFileSize = 4
	writeFile(t, root, "big.go", "package main\n\nfunc hello() {}\n")

	// When: processing a create event for the oversized file
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "big.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})

	// Then: the file is skipped, not indexed
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Indexed)
}

func TestProcessEvents_ExcludedPath_IsSkipped(t *testing.T) {
	// Given: a worker configured to exclude vendor/ paths
	w, _, root := setupTestWorker(t)
	w.config.ExcludePatterns = []string{"vendor"}
	writeFile(t, root, "vendor/lib.go", "package lib\n\nfunc helper() {}\n")

	// When: processing a create event under the excluded directory
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "vendor/lib.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})

	// Then: the file is skipped by the filter step
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
}

func TestProcessEvents_BinaryContent_IsSkipped(t *testing.T) {
	// Given: a file whose content sniffs as binary
	w, _, root := setupTestWorker(t)
	writeFile(t, root, "blob.go", "package main\x00\x01\x02binary")

	// When: processing a create event for it
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "blob.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})

	// Then: it is skipped rather than indexed with garbage symbols
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
}

func TestProcessEvents_DeleteOfUnknownFile_IsNoop(t *testing.T) {
	// Given: a delete event for a path never indexed
	w, _, _ := setupTestWorker(t)

	// When: processing it
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "never-existed.go", Operation: watcher.OpDelete, Timestamp: time.Now()},
	})

	// Then: no error, nothing counted as deleted
	require.NoError(t, err)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 0, result.Skipped)
}

func TestProcessEvents_CancelledContext_StopsBetweenFilesNotMidFile(t *testing.T) {
	// Given: a context already canceled before processing begins
	w, _, root := setupTestWorker(t)
	writeFile(t, root, "main.go", "package main\n\nfunc hello() {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When: processing events against the canceled context
	_, err := w.ProcessEvents(ctx, []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})

	// Then: the cancellation error surfaces rather than silently indexing
	require.Error(t, err)
}

func TestProcessEvents_DirectoryEvents_AreIgnored(t *testing.T) {
	// Given: an event flagged as a directory
	w, _, _ := setupTestWorker(t)

	// When: processing it
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "pkg", Operation: watcher.OpCreate, IsDir: true, Timestamp: time.Now()},
	})

	// Then: it contributes to no counter
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestProcessEvents_GitignoreChange_IsNoopOnItsOwn(t *testing.T) {
	// Given: an OpGitignoreChange event, which carries no single path to
	// upsert or delete
	w, _, _ := setupTestWorker(t)

	// When: processing it through the normal pipeline
	result, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: ".gitignore", Operation: watcher.OpGitignoreChange, Timestamp: time.Now()},
	})

	// Then: nothing happens here; reconciliation is a separate call
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestReconcileIgnoreChange_SoftDeletesNewlyIgnoredFiles(t *testing.T) {
	// Given: two indexed files, one of which a new ignore pattern now covers
	w, engine, root := setupTestWorker(t)
	writeFile(t, root, "main.go", "package main\n\nfunc hello() {}\n")
	writeFile(t, root, "vendor/dep.go", "package vendor\n")
	_, err := w.ProcessEvents(context.Background(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
		{Path: "vendor/dep.go", Operation: watcher.OpCreate, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	// When: reconciling against a pattern set that newly excludes vendor/
	result, err := w.ReconcileIgnoreChange(context.Background(), []string{"vendor/"})
	require.NoError(t, err)

	// Then: only the newly-ignored file is soft-deleted
	assert.Equal(t, 1, result.Deleted)
	live, err := engine.GetFileByPath(w.repositoryID, "main.go")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.False(t, live.IsDeleted)

	gone, err := engine.GetFileByPath(w.repositoryID, "vendor/dep.go")
	require.NoError(t, err)
	require.NotNil(t, gone)
	assert.True(t, gone.IsDeleted)
}

func TestReconcileIgnoreChange_NoPatterns_IsNoop(t *testing.T) {
	w, _, _ := setupTestWorker(t)
	result, err := w.ReconcileIgnoreChange(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}
