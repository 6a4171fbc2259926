package storage

import (
	"database/sql"
	"strings"

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// ReplaceSymbols deletes all existing symbols, references, imports, and
// trigrams for fileID and inserts the given extracted symbols/references/
// imports, all within one transaction. This is the write side of the
// invariant that a symbol lives and dies with its file's current version.
func (e *Engine) ReplaceSymbols(fileID int64, symbols []ExtractedSymbol, refs []ExtractedReference, imports []ExtractedImport) error {
	tx, err := e.db.Begin()
	if err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "begin replace_symbols", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM symbol_trigrams WHERE symbol_id IN (SELECT id FROM symbols WHERE file_id = ?)`, fileID); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "delete prior trigrams", err)
	}
	if _, err := tx.Exec(`DELETE FROM symbol_references WHERE file_id = ?`, fileID); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "delete prior references", err)
	}
	if _, err := tx.Exec(`DELETE FROM imports WHERE file_id = ?`, fileID); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "delete prior imports", err)
	}
	if _, err := tx.Exec(`DELETE FROM symbols WHERE file_id = ?`, fileID); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "delete prior symbols", err)
	}

	insertSymbol, err := tx.Prepare(`
		INSERT INTO symbols (file_id, name, kind, start_line, end_line, start_col, end_col, signature, doc, container)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "prepare symbol insert", err)
	}
	defer insertSymbol.Close()

	insertTrigram, err := tx.Prepare(`INSERT INTO symbol_trigrams (symbol_id, trigram) VALUES (?, ?)`)
	if err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "prepare trigram insert", err)
	}
	defer insertTrigram.Close()

	nameToID := make(map[string]int64, len(symbols))
	for _, sym := range symbols {
		res, err := insertSymbol.Exec(fileID, sym.Name, string(sym.Kind), sym.StartLine, sym.EndLine, sym.StartCol, sym.EndCol, sym.Signature, sym.Doc, sym.Container)
		if err != nil {
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "insert symbol", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "read inserted symbol id", err)
		}
		nameToID[sym.Name] = id

		for _, tg := range trigrams(strings.ToLower(sym.Name)) {
			if _, err := insertTrigram.Exec(id, tg); err != nil {
				return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "insert trigram", err)
			}
		}
	}

	if len(refs) > 0 {
		insertRef, err := tx.Prepare(`INSERT INTO symbol_references (symbol_id, file_id, line, column, kind) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "prepare reference insert", err)
		}
		defer insertRef.Close()

		for _, ref := range refs {
			symID, ok := nameToID[ref.SymbolName]
			if !ok {
				// A reference whose symbol is not defined in this file
				// (e.g. a call to an imported function) is not resolvable
				// without cross-file lookup; plugins that cannot resolve
				// it are expected to omit it rather than emit a dangling
				// reference. Skip defensively.
				continue
			}
			if _, err := insertRef.Exec(symID, fileID, ref.Line, ref.Column, string(ref.Kind)); err != nil {
				return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "insert reference", err)
			}
		}
	}

	if len(imports) > 0 {
		insertImport, err := tx.Prepare(`INSERT INTO imports (file_id, module_path, imported_name, alias, line, is_relative) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "prepare import insert", err)
		}
		defer insertImport.Close()

		for _, imp := range imports {
			relFlag := 0
			if imp.IsRelative {
				relFlag = 1
			}
			if _, err := insertImport.Exec(fileID, imp.ModulePath, imp.ImportedName, imp.Alias, imp.Line, relFlag); err != nil {
				return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "insert import", err)
			}
		}
	}

	if err := invalidateQueryCache(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "commit replace_symbols", err)
	}
	e.cacheFront.Purge()
	return nil
}

// SymbolByName returns the best definition match for name: the first live
// symbol row found, preferring shorter container scopes (top-level
// definitions) over nested ones, or nil if none exists.
func (e *Engine) SymbolByName(name string) (*Symbol, error) {
	row := e.db.QueryRow(`
		SELECT s.id, s.file_id, s.name, s.kind, s.start_line, s.end_line, s.start_col, s.end_col, s.signature, s.doc, s.container
		FROM symbols s
		JOIN files f ON f.id = s.file_id
		WHERE s.name = ? AND f.is_deleted = 0
		ORDER BY LENGTH(s.container) ASC, s.id ASC
		LIMIT 1
	`, name)

	var sym Symbol
	var kind string
	if err := row.Scan(&sym.ID, &sym.FileID, &sym.Name, &kind, &sym.StartLine, &sym.EndLine, &sym.StartCol, &sym.EndCol, &sym.Signature, &sym.Doc, &sym.Container); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "symbol by name", err)
	}
	sym.Kind = SymbolKind(kind)
	return &sym, nil
}

// SymbolByID returns the symbol row for id, or nil if it does not exist
// or its owning file has been deleted.
func (e *Engine) SymbolByID(id int64) (*Symbol, error) {
	row := e.db.QueryRow(`
		SELECT s.id, s.file_id, s.name, s.kind, s.start_line, s.end_line, s.start_col, s.end_col, s.signature, s.doc, s.container
		FROM symbols s
		JOIN files f ON f.id = s.file_id
		WHERE s.id = ? AND f.is_deleted = 0
	`, id)

	var sym Symbol
	var kind string
	if err := row.Scan(&sym.ID, &sym.FileID, &sym.Name, &kind, &sym.StartLine, &sym.EndLine, &sym.StartCol, &sym.EndCol, &sym.Signature, &sym.Doc, &sym.Container); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "symbol by id", err)
	}
	sym.Kind = SymbolKind(kind)
	return &sym, nil
}

// ReferencesTo returns every reference occurrence of name, joined against
// live files only.
func (e *Engine) ReferencesTo(name string) ([]SymbolReference, error) {
	rows, err := e.db.Query(`
		SELECT r.id, r.symbol_id, r.file_id, r.line, r.column, r.kind
		FROM symbol_references r
		JOIN symbols s ON s.id = r.symbol_id
		JOIN files f ON f.id = r.file_id
		WHERE s.name = ? AND f.is_deleted = 0
		ORDER BY r.file_id, r.line
	`, name)
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "references to symbol", err)
	}
	defer rows.Close()

	var out []SymbolReference
	for rows.Next() {
		var ref SymbolReference
		var kind string
		if err := rows.Scan(&ref.ID, &ref.SymbolID, &ref.FileID, &ref.Line, &ref.Column, &kind); err != nil {
			return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "scan reference", err)
		}
		ref.Kind = ReferenceKind(kind)
		out = append(out, ref)
	}
	return out, rows.Err()
}

// trigrams splits name into overlapping 3-character windows for the
// fuzzy-search candidate table. Names shorter than 3 runes contribute the
// whole name as a single "trigram".
func trigrams(name string) []string {
	runes := []rune(name)
	if len(runes) < 3 {
		if len(runes) == 0 {
			return nil
		}
		return []string{string(runes)}
	}
	seen := make(map[string]struct{}, len(runes)-2)
	var out []string
	for i := 0; i+3 <= len(runes); i++ {
		tg := string(runes[i : i+3])
		if _, dup := seen[tg]; dup {
			continue
		}
		seen[tg] = struct{}{}
		out = append(out, tg)
	}
	return out
}
