package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// CurrentSchemaVersion is the highest migration this binary knows how to
// apply. Applying migration N requires 1..N-1 to have completed first.
const CurrentSchemaVersion = 3

// MinimumSchemaVersion is the oldest on-disk schema this binary can still
// read. discovery's compatibility check refuses anything older, and
// anything newer than CurrentSchemaVersion, rather than risk a silent
// misread.
const MinimumSchemaVersion = 1

// migrate runs every migration the database has not yet recorded as
// completed, in order. Each step is additive and idempotent: running it
// twice is a no-op, and existing indexes are never dropped.
func (e *Engine) migrate() error {
	if _, err := e.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
		CREATE TABLE IF NOT EXISTS migrations (
			from_version INTEGER NOT NULL,
			to_version   INTEGER NOT NULL,
			completed_at TEXT NOT NULL,
			status       TEXT NOT NULL
		);
	`); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "create migration bookkeeping tables", err)
	}

	current, err := e.schemaVersion()
	if err != nil {
		return err
	}

	steps := []struct {
		version int
		run     func(*sql.Tx) error
	}{
		{1, migrateV1},
		{2, migrateV2},
		{3, migrateV3},
	}

	for _, step := range steps {
		if step.version <= current {
			continue
		}
		tx, err := e.db.Begin()
		if err != nil {
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "begin migration transaction", err)
		}
		if err := step.run(tx); err != nil {
			_ = tx.Rollback()
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, fmt.Sprintf("migration to v%d failed", step.version), err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			_ = tx.Rollback()
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "clear schema_version singleton", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, step.version); err != nil {
			_ = tx.Rollback()
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "write schema_version", err)
		}
		if _, err := tx.Exec(`INSERT INTO migrations (from_version, to_version, completed_at, status) VALUES (?, ?, ?, 'ok')`,
			current, step.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "append migrations log", err)
		}
		if err := tx.Commit(); err != nil {
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "commit migration", err)
		}
		current = step.version
	}

	return nil
}

func (e *Engine) schemaVersion() (int, error) {
	var v int
	err := e.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "read schema_version", err)
	}
	return v, nil
}

// migrateV1 creates every core table plus the FTS5 virtual tables and the
// trigger that keeps fts_symbols in sync with symbols.
func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ident      TEXT NOT NULL UNIQUE,
			root_path  TEXT NOT NULL,
			remote_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			repository_id INTEGER NOT NULL REFERENCES repositories(id),
			relative_path TEXT NOT NULL,
			language      TEXT NOT NULL DEFAULT '',
			size          INTEGER NOT NULL DEFAULT 0,
			mtime         TEXT NOT NULL DEFAULT '',
			hash          TEXT,
			indexed_at    TEXT NOT NULL DEFAULT '',
			UNIQUE(repository_id, relative_path)
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id    INTEGER NOT NULL REFERENCES files(id),
			name       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line   INTEGER NOT NULL,
			start_col  INTEGER NOT NULL DEFAULT 0,
			end_col    INTEGER NOT NULL DEFAULT 0,
			signature  TEXT NOT NULL DEFAULT '',
			doc        TEXT NOT NULL DEFAULT '',
			container  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_file_id ON symbols(file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)`,
		`CREATE TABLE IF NOT EXISTS symbol_references (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol_id INTEGER NOT NULL REFERENCES symbols(id),
			file_id   INTEGER NOT NULL REFERENCES files(id),
			line      INTEGER NOT NULL,
			column    INTEGER NOT NULL DEFAULT 0,
			kind      TEXT NOT NULL DEFAULT 'other'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refs_symbol_id ON symbol_references(symbol_id)`,
		`CREATE TABLE IF NOT EXISTS imports (
			file_id       INTEGER NOT NULL REFERENCES files(id),
			module_path   TEXT NOT NULL,
			imported_name TEXT NOT NULL DEFAULT '',
			alias         TEXT NOT NULL DEFAULT '',
			line          INTEGER NOT NULL,
			is_relative   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_imports_file_id ON imports(file_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_symbols USING fts5(
			name, doc, content='', tokenize='unicode61'
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_code USING fts5(
			path UNINDEXED, content, tokenize='unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS symbol_trigrams (
			symbol_id INTEGER NOT NULL REFERENCES symbols(id),
			trigram   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trigrams_trigram ON symbol_trigrams(trigram)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id     INTEGER NOT NULL REFERENCES files(id),
			symbol_id   INTEGER NOT NULL DEFAULT 0,
			chunk_start INTEGER NOT NULL DEFAULT 0,
			chunk_end   INTEGER NOT NULL DEFAULT 0,
			vector      BLOB NOT NULL,
			model_tag   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS query_cache (
			query_hash TEXT PRIMARY KEY,
			result     BLOB NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS parse_cache (
			file_id    INTEGER PRIMARY KEY REFERENCES files(id),
			content_hash TEXT NOT NULL,
			result     BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS index_config (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		// Trigger keeping fts_symbols aligned with symbols; replace_symbols
		// still deletes+reinserts explicitly inside its own transaction, but
		// the trigger protects any other write path from drifting.
		`CREATE TRIGGER IF NOT EXISTS trg_symbols_ai AFTER INSERT ON symbols BEGIN
			INSERT INTO fts_symbols(rowid, name, doc) VALUES (new.id, new.name, new.doc);
		END`,
		`CREATE TRIGGER IF NOT EXISTS trg_symbols_ad AFTER DELETE ON symbols BEGIN
			INSERT INTO fts_symbols(fts_symbols, rowid, name, doc) VALUES ('delete', old.id, old.name, old.doc);
		END`,
		`CREATE TRIGGER IF NOT EXISTS trg_symbols_au AFTER UPDATE ON symbols BEGIN
			INSERT INTO fts_symbols(fts_symbols, rowid, name, doc) VALUES ('delete', old.id, old.name, old.doc);
			INSERT INTO fts_symbols(rowid, name, doc) VALUES (new.id, new.name, new.doc);
		END`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("%s: %w", firstWords(s, 6), err)
		}
	}
	return nil
}

// migrateV2 adds content-hash-based soft delete and the append-only
// file_moves ledger.
func migrateV2(tx *sql.Tx) error {
	for _, col := range []struct{ name, ddl string }{
		{"content_hash", "ALTER TABLE files ADD COLUMN content_hash TEXT"},
		{"is_deleted", "ALTER TABLE files ADD COLUMN is_deleted INTEGER NOT NULL DEFAULT 0"},
		{"deleted_at", "ALTER TABLE files ADD COLUMN deleted_at TEXT"},
	} {
		if columnExists(tx, "files", col.name) {
			continue
		}
		if _, err := tx.Exec(col.ddl); err != nil {
			return fmt.Errorf("add files.%s: %w", col.name, err)
		}
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS file_moves (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			repository_id INTEGER NOT NULL REFERENCES repositories(id),
			old_path      TEXT NOT NULL,
			new_path      TEXT NOT NULL,
			content_hash  TEXT NOT NULL,
			timestamp     TEXT NOT NULL,
			kind          TEXT NOT NULL DEFAULT 'rename'
		)
	`); err != nil {
		return fmt.Errorf("create file_moves: %w", err)
	}
	return nil
}

// migrateV3 hardens v2: re-asserts its additions with IF NOT EXISTS
// semantics for databases that skipped straight from v1 to v3, backfills
// content_hash from the legacy hash column, deduplicates embeddings on the
// uniqueness scope, creates the uniqueness index, and records the manifest
// format version.
func migrateV3(tx *sql.Tx) error {
	for _, col := range []struct{ name, ddl string }{
		{"content_hash", "ALTER TABLE files ADD COLUMN content_hash TEXT"},
		{"is_deleted", "ALTER TABLE files ADD COLUMN is_deleted INTEGER NOT NULL DEFAULT 0"},
		{"deleted_at", "ALTER TABLE files ADD COLUMN deleted_at TEXT"},
	} {
		if columnExists(tx, "files", col.name) {
			continue
		}
		if _, err := tx.Exec(col.ddl); err != nil {
			return fmt.Errorf("re-assert files.%s: %w", col.name, err)
		}
	}

	if columnExists(tx, "files", "hash") {
		if _, err := tx.Exec(`UPDATE files SET content_hash = hash WHERE content_hash IS NULL`); err != nil {
			return fmt.Errorf("backfill content_hash from hash: %w", err)
		}
	}

	// Deduplicate embeddings on (file_id, symbol_id, chunk_start, chunk_end),
	// keeping the lowest rowid of each group.
	if _, err := tx.Exec(`
		DELETE FROM embeddings
		WHERE id NOT IN (
			SELECT MIN(id) FROM embeddings
			GROUP BY file_id, symbol_id, chunk_start, chunk_end
		)
	`); err != nil {
		return fmt.Errorf("dedupe embeddings: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_embeddings_unique
		ON embeddings(file_id, symbol_id, chunk_start, chunk_end)
	`); err != nil {
		return fmt.Errorf("create embeddings uniqueness index: %w", err)
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO index_config (key, value) VALUES ('manifest_version', '1')`); err != nil {
		return fmt.Errorf("write manifest_version: %w", err)
	}

	return nil
}

// columnExists emulates ADD COLUMN IF NOT EXISTS by checking the catalog,
// since SQLite's ALTER TABLE lacks that clause.
func columnExists(tx *sql.Tx, table, column string) bool {
	rows, err := tx.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func firstWords(s string, n int) string {
	words := 0
	for i, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			words++
			if words >= n {
				return s[:i]
			}
		}
	}
	return s
}

// logMissingColumn logs a warning (not an error) for a column found missing
// at runtime. Nothing in this module calls it.
func logMissingColumn(table, column string) {
	slog.Warn("storage_schema_column_missing", slog.String("table", table), slog.String("column", column))
}
