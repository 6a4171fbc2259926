package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// cacheFrontSize bounds the in-process LRU layer sitting in front of the
// persisted query_cache table.
const cacheFrontSize = 512

// Engine is the storage engine: one connection (SetMaxOpenConns(1)) shared
// by writes and queries, WAL mode, and the schema migration ladder.
type Engine struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	legacy     *legacyBleveReader // nil unless a sibling .bleve directory exists
	cacheFront *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	result    []byte
	expiresAt time.Time
}

// Open opens (creating if absent) the SQLite database at path, enables WAL
// mode, and runs every migration the ladder has not yet applied. path may
// be ":memory:" for tests.
func Open(path string) (*Engine, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "create data dir", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "open database", err)
	}
	// One writer, matching spec's single-writer-connection ownership model.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "set pragma", err)
		}
	}

	front, err := lru.New[string, cacheEntry](cacheFrontSize)
	if err != nil {
		_ = db.Close()
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "create in-process cache", err)
	}

	e := &Engine{db: db, path: path, cacheFront: front}
	if err := e.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if path != ":memory:" {
		blevePath := bleveSiblingPath(path)
		if dirExists(blevePath) {
			reader, err := openLegacyBleveReader(blevePath)
			if err != nil {
				slog.Warn("legacy_bleve_sidecar_unreadable", slog.String("path", blevePath), slog.String("error", err.Error()))
			} else {
				e.legacy = reader
			}
		}
	}

	return e, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	return path
}

func bleveSiblingPath(sqlitePath string) string {
	return sqlitePath[:len(sqlitePath)-len(filepath.Ext(sqlitePath))] + ".bleve"
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// DB returns the underlying writer handle. Exposed for the indexer, which
// owns transaction boundaries; query paths should prefer the Engine's
// typed methods.
func (e *Engine) DB() *sql.DB { return e.db }

// Close closes the writer connection and any legacy sidecar reader.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.legacy != nil {
		_ = e.legacy.Close()
	}
	_, _ = e.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return e.db.Close()
}

// Health reports the engine's self-check: expected tables present, FTS
// available, WAL enabled, schema version, and any warnings.
func (e *Engine) Health() HealthReport {
	report := HealthReport{}

	var mode string
	if err := e.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err == nil {
		report.WALEnabled = mode == "wal"
	} else {
		report.Warnings = append(report.Warnings, fmt.Sprintf("journal_mode check failed: %v", err))
	}

	v, err := e.schemaVersion()
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("schema_version unreadable: %v", err))
	}
	report.SchemaVersion = v

	required := []string{
		"repositories", "files", "symbols", "symbol_references", "imports",
		"fts_symbols", "fts_code", "symbol_trigrams", "embeddings",
		"query_cache", "migrations", "index_config", "file_moves",
	}
	report.TablesOK = true
	for _, table := range required {
		if !e.tableExists(table) {
			report.TablesOK = false
			report.Warnings = append(report.Warnings, fmt.Sprintf("missing table: %s", table))
		}
	}

	report.FTSAvailable = e.tableExists("fts_symbols") && e.tableExists("fts_code")
	if e.legacy != nil && !report.FTSAvailable {
		report.Warnings = append(report.Warnings, "primary FTS5 corpus absent; falling back to legacy bleve sidecar")
	}

	return report
}

func (e *Engine) tableExists(name string) bool {
	var count int
	err := e.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, name).Scan(&count)
	return err == nil && count > 0
}
