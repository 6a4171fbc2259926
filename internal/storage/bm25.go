package storage

import (
	"strings"

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// Corpus selects which FTS5 virtual table SearchBM25 queries.
type Corpus string

const (
	CorpusSymbols Corpus = "symbols"
	CorpusCode    Corpus = "code"
)

// SearchBM25 queries the requested corpus's FTS5 table, ranked by SQLite's
// built-in bm25() weighting. If that table is absent (an older, pre-FTS
// schema) it silently falls back to the legacy bleve sidecar when one was
// discovered at Open time. It never raises: any query-time failure is
// treated as zero results for this tier.
func (e *Engine) SearchBM25(query string, corpus Corpus, limit, offset int) []BM25Hit {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	switch corpus {
	case CorpusSymbols:
		if e.tableExists("fts_symbols") {
			hits, err := e.searchFTSSymbols(query, limit, offset)
			if err == nil {
				return hits
			}
		}
	case CorpusCode:
		if e.tableExists("fts_code") {
			hits, err := e.searchFTSCode(query, limit, offset)
			if err == nil {
				return hits
			}
		}
	}

	if e.legacy != nil {
		hits, err := e.legacy.Search(query, limit)
		if err == nil {
			return hits
		}
	}

	return nil
}

func (e *Engine) searchFTSSymbols(query string, limit, offset int) ([]BM25Hit, error) {
	rows, err := e.db.Query(`
		SELECT f.relative_path, s.name, s.doc, f.language, bm25(fts_symbols) AS score
		FROM fts_symbols
		JOIN symbols s ON s.id = fts_symbols.rowid
		JOIN files f ON f.id = s.file_id
		WHERE fts_symbols MATCH ? AND f.is_deleted = 0
		ORDER BY score
		LIMIT ? OFFSET ?
	`, ftsMatchQuery(query), limit, offset)
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "fts_symbols query", err)
	}
	defer rows.Close()

	var hits []BM25Hit
	for rows.Next() {
		var path, name, doc, lang string
		var score float64
		if err := rows.Scan(&path, &name, &doc, &lang, &score); err != nil {
			return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "scan fts_symbols row", err)
		}
		hits = append(hits, BM25Hit{
			Path:     path,
			Snippet:  snippet(name+" "+doc, 160),
			Score:    -score, // fts5 bm25() is lower-is-better; invert so higher is better.
			Language: lang,
		})
	}
	return hits, rows.Err()
}

func (e *Engine) searchFTSCode(query string, limit, offset int) ([]BM25Hit, error) {
	rows, err := e.db.Query(`
		SELECT fts_code.path, snippet(fts_code, 1, '', '', '...', 20), bm25(fts_code)
		FROM fts_code
		WHERE fts_code MATCH ?
		ORDER BY bm25(fts_code)
		LIMIT ? OFFSET ?
	`, ftsMatchQuery(query), limit, offset)
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "fts_code query", err)
	}
	defer rows.Close()

	var hits []BM25Hit
	for rows.Next() {
		var path, snip string
		var score float64
		if err := rows.Scan(&path, &snip, &score); err != nil {
			return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "scan fts_code row", err)
		}
		hits = append(hits, BM25Hit{Path: path, Snippet: snip, Score: -score})
	}
	return hits, rows.Err()
}

// IndexFileContent upserts a file's full text into the code FTS corpus,
// replacing any prior content for the same path.
func (e *Engine) IndexFileContent(path, content string) error {
	if _, err := e.db.Exec(`DELETE FROM fts_code WHERE path = ?`, path); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "delete prior fts_code row", err)
	}
	if _, err := e.db.Exec(`INSERT INTO fts_code (path, content) VALUES (?, ?)`, path, content); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "insert fts_code row", err)
	}
	return nil
}

// ftsMatchQuery turns a free-text query into an FTS5 MATCH expression.
// Bare terms are ANDed; quoting or NEAR syntax the caller supplies is
// passed through unmodified.
func ftsMatchQuery(query string) string {
	if strings.ContainsAny(query, "\"*^") {
		return query
	}
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}

// snippet truncates s to at most n characters on a rune boundary,
// appending an ellipsis when truncated.
func snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
