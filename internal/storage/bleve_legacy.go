package storage

import (
	"context"
	"strings"

	"github.com/blevesearch/bleve/v2"

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// legacyBleveReader opens a pre-migration Bleve index directory sitting
// next to the SQLite database (a sibling "<name>.bleve" directory) in
// read-only mode. It exists purely as a fallback source for SearchBM25
// when the current schema's FTS5 corpus is unavailable; nothing ever
// writes to it again.
type legacyBleveReader struct {
	index bleve.Index
}

func openLegacyBleveReader(path string) (*legacyBleveReader, error) {
	idx, err := bleve.OpenUsing(path, map[string]any{"read_only": true})
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "open legacy bleve sidecar", err)
	}
	return &legacyBleveReader{index: idx}, nil
}

// Search queries the legacy index's "content" field. The sidecar predates
// the (path, language) columns this spec tracks, so results carry the
// document ID as the path and an empty language tag.
func (r *legacyBleveReader) Search(query string, limit int) ([]BM25Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := r.index.SearchInContext(context.Background(), req)
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "legacy bleve search", err)
	}

	hits := make([]BM25Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, BM25Hit{
			Path:  hit.ID,
			Score: hit.Score,
		})
	}
	return hits, nil
}

func (r *legacyBleveReader) Close() error {
	return r.index.Close()
}
