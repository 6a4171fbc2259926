package storage

import (
	"database/sql"
	"time"

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// CacheGet returns the cached bytes for queryHash if present and not
// expired. An expired entry is never returned, matching spec.md's query
// cache invariant; the store purges it lazily on the next write. The
// in-process LRU layer is checked first to avoid a round trip to SQLite
// on the hot path; a miss there falls through to the persisted table
// (populated by, for instance, a different process sharing the index).
func (e *Engine) CacheGet(queryHash string) ([]byte, bool) {
	if entry, ok := e.cacheFront.Get(queryHash); ok {
		if time.Now().UTC().After(entry.expiresAt) {
			e.cacheFront.Remove(queryHash)
		} else {
			return entry.result, true
		}
	}

	var result []byte
	var expiresAt string
	err := e.db.QueryRow(`SELECT result, expires_at FROM query_cache WHERE query_hash = ?`, queryHash).Scan(&result, &expiresAt)
	if err != nil {
		return nil, false
	}
	exp, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil || time.Now().UTC().After(exp) {
		return nil, false
	}
	e.cacheFront.Add(queryHash, cacheEntry{result: result, expiresAt: exp})
	return result, true
}

// CachePut stores result under queryHash with the given TTL, in both the
// in-process LRU front and the persisted table.
func (e *Engine) CachePut(queryHash string, result []byte, ttl time.Duration) error {
	exp := time.Now().UTC().Add(ttl)
	e.cacheFront.Add(queryHash, cacheEntry{result: result, expiresAt: exp})

	_, err := e.db.Exec(
		`INSERT INTO query_cache (query_hash, result, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(query_hash) DO UPDATE SET result = excluded.result, expires_at = excluded.expires_at`,
		queryHash, result, exp.Format(time.RFC3339),
	)
	if err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "cache put", err)
	}
	return nil
}

// invalidateQueryCache wholesale-clears the query cache, persisted table
// and in-process front alike. Only ReplaceSymbols calls it, inside its
// transaction; MarkFileDeleted and DetectAndRecordMove commit without
// clearing the cache. The front layer is purged outside the transaction by
// the caller (Engine methods hold no reference to it from inside a
// *sql.Tx-scoped helper), so ReplaceSymbols clears it directly after commit.
func invalidateQueryCache(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM query_cache`); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "invalidate query cache", err)
	}
	return nil
}

// PurgeExpiredCache deletes every cache row whose TTL has elapsed. The
// store is free to call this lazily; it is never required for
// correctness since CacheGet already filters expired rows.
func (e *Engine) PurgeExpiredCache() error {
	_, err := e.db.Exec(`DELETE FROM query_cache WHERE expires_at <= ?`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "purge expired cache", err)
	}
	return nil
}
