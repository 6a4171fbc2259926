package storage

import (
	"database/sql"
	"time"

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// EnsureRepository returns the id of the repository identified by ident,
// creating it with rootPath/remoteURL if it does not yet exist. A
// repository is created on first indexing request and never destroyed
// implicitly.
func (e *Engine) EnsureRepository(ident, rootPath, remoteURL string) (int64, error) {
	var id int64
	err := e.db.QueryRow(`SELECT id FROM repositories WHERE ident = ?`, ident).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "look up repository", err)
	}

	res, err := e.db.Exec(
		`INSERT INTO repositories (ident, root_path, remote_url, created_at) VALUES (?, ?, ?, ?)`,
		ident, rootPath, remoteURL, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "create repository", err)
	}
	return res.LastInsertId()
}

// UpsertFile records a file's current content hash, language, size, and
// mtime. If (repository_id, relative_path) already exists, it updates the
// hash/mtime in place; the caller is responsible for calling ReplaceSymbols
// afterward when the returned changed flag is true.
func (e *Engine) UpsertFile(repositoryID int64, relPath, contentHash, language string, size int64, mtime time.Time) (fileID int64, changed bool, err error) {
	var existingID int64
	var existingHash sql.NullString
	err = e.db.QueryRow(
		`SELECT id, content_hash FROM files WHERE repository_id = ? AND relative_path = ?`,
		repositoryID, relPath,
	).Scan(&existingID, &existingHash)

	now := time.Now().UTC().Format(time.RFC3339)

	switch err {
	case sql.ErrNoRows:
		res, insertErr := e.db.Exec(
			`INSERT INTO files (repository_id, relative_path, language, size, mtime, hash, content_hash, indexed_at, is_deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			repositoryID, relPath, language, size, mtime.UTC().Format(time.RFC3339), contentHash, contentHash, now,
		)
		if insertErr != nil {
			return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "insert file", insertErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "read inserted file id", idErr)
		}
		return id, true, nil
	case nil:
		changed = !existingHash.Valid || existingHash.String != contentHash
		_, updErr := e.db.Exec(
			`UPDATE files SET content_hash = ?, hash = ?, language = ?, size = ?, mtime = ?, indexed_at = ?, is_deleted = 0, deleted_at = NULL
			 WHERE id = ?`,
			contentHash, contentHash, language, size, mtime.UTC().Format(time.RFC3339), now, existingID,
		)
		if updErr != nil {
			return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "update file", updErr)
		}
		return existingID, changed, nil
	default:
		return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "look up file", err)
	}
}

// MarkFileDeleted soft-deletes file_id: it is excluded from all query
// paths but retained so a subsequent move can be recorded against it.
func (e *Engine) MarkFileDeleted(fileID int64) error {
	_, err := e.db.Exec(
		`UPDATE files SET is_deleted = 1, deleted_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), fileID,
	)
	if err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "mark file deleted", err)
	}
	return nil
}

// DetectAndRecordMove looks for a soft-deleted
// file under repositoryID with the same content hash but a different,
// now-vanished path, and if found records a file_move row and updates the
// existing file row's path in place rather than creating a duplicate.
// Returns the file id that now represents newRelPath, or 0 if no prior
// file matched (the caller should proceed with a normal UpsertFile).
func (e *Engine) DetectAndRecordMove(repositoryID int64, contentHash, newRelPath string) (fileID int64, moved bool, err error) {
	var oldID int64
	var oldPath string
	err = e.db.QueryRow(
		`SELECT id, relative_path FROM files
		 WHERE repository_id = ? AND content_hash = ? AND is_deleted = 1 AND relative_path != ?
		 ORDER BY deleted_at DESC LIMIT 1`,
		repositoryID, contentHash, newRelPath,
	).Scan(&oldID, &oldPath)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "look up move candidate", err)
	}

	tx, err := e.db.Begin()
	if err != nil {
		return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "begin move transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(
		`UPDATE files SET relative_path = ?, is_deleted = 0, deleted_at = NULL, indexed_at = ? WHERE id = ?`,
		newRelPath, now, oldID,
	); err != nil {
		return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "re-path moved file", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO file_moves (repository_id, old_path, new_path, content_hash, timestamp, kind) VALUES (?, ?, ?, ?, ?, ?)`,
		repositoryID, oldPath, newRelPath, contentHash, now, classifyMove(oldPath, newRelPath),
	); err != nil {
		return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "append file_moves row", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "commit move", err)
	}

	return oldID, true, nil
}

// classifyMove guesses the move's granularity from its path shape: same
// directory is a rename, same basename in a different directory is a
// relocate, anything else is a restructure.
func classifyMove(oldPath, newPath string) MoveKind {
	oldDir, oldBase := splitPath(oldPath)
	newDir, newBase := splitPath(newPath)
	switch {
	case oldDir == newDir:
		return MoveRename
	case oldBase == newBase:
		return MoveRelocate
	default:
		return MoveRestructure
	}
}

func splitPath(p string) (dir, base string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i], p[i+1:]
		}
	}
	return "", p
}

// VacuumDeleted hard-deletes soft-deleted file rows (and their symbols,
// references, imports) whose deletion timestamp is older than ttl. ttl of
// zero means retain for the process lifetime; callers should not invoke
// this path in that configuration.
func (e *Engine) VacuumDeleted(ttl time.Duration) (removed int, err error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-ttl).Format(time.RFC3339)

	rows, err := e.db.Query(`SELECT id FROM files WHERE is_deleted = 1 AND deleted_at <= ?`, cutoff)
	if err != nil {
		return 0, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "select vacuum candidates", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "scan vacuum candidate", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := e.hardDeleteFile(id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (e *Engine) hardDeleteFile(fileID int64) error {
	tx, err := e.db.Begin()
	if err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "begin hard delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM symbol_references WHERE file_id = ?`,
		`DELETE FROM imports WHERE file_id = ?`,
		`DELETE FROM symbol_trigrams WHERE symbol_id IN (SELECT id FROM symbols WHERE file_id = ?)`,
		`DELETE FROM symbols WHERE file_id = ?`,
		`DELETE FROM embeddings WHERE file_id = ?`,
		`DELETE FROM files WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, fileID); err != nil {
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "hard delete file rows", err)
		}
	}
	return tx.Commit()
}

// GetFileByPath returns the file row at relPath, including a soft-deleted
// one (IsDeleted set), or nil if no row exists.
func (e *Engine) GetFileByPath(repositoryID int64, relPath string) (*File, error) {
	row := e.db.QueryRow(
		`SELECT id, repository_id, relative_path, language, size, mtime, content_hash, indexed_at, is_deleted, deleted_at
		 FROM files WHERE repository_id = ? AND relative_path = ?`,
		repositoryID, relPath,
	)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "get file by path", err)
	}
	return f, nil
}

// ListLivePaths returns the relative path of every non-deleted file
// indexed for repositoryID. Used by gitignore-change reconciliation, which
// needs to re-test every already-indexed path against the updated ignore
// rules rather than only the path named in the triggering event.
func (e *Engine) ListLivePaths(repositoryID int64) ([]string, error) {
	rows, err := e.db.Query(`SELECT relative_path FROM files WHERE repository_id = ? AND is_deleted = 0`, repositoryID)
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "list live file paths", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "scan live file path", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// FilePathByID returns the relative path of a live file, or "" if it does
// not exist or has been deleted.
func (e *Engine) FilePathByID(fileID int64) (string, error) {
	var relPath string
	err := e.db.QueryRow(`SELECT relative_path FROM files WHERE id = ? AND is_deleted = 0`, fileID).Scan(&relPath)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "file path by id", err)
	}
	return relPath, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*File, error) {
	var f File
	var mtime, indexedAt string
	var deletedAt sql.NullString
	var isDeleted int
	var contentHash sql.NullString
	if err := row.Scan(&f.ID, &f.RepositoryID, &f.RelPath, &f.Language, &f.Size, &mtime, &contentHash, &indexedAt, &isDeleted, &deletedAt); err != nil {
		return nil, err
	}
	f.ModTime, _ = time.Parse(time.RFC3339, mtime)
	f.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	f.ContentHash = contentHash.String
	f.IsDeleted = isDeleted != 0
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String)
		f.DeletedAt = &t
	}
	return &f, nil
}
