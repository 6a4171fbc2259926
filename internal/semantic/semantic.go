// Package semantic is the narrow consumer side of vector search: given a
// caller-supplied query embedding, find the nearest stored vectors. It
// does not generate embeddings itself — that responsibility belongs to
// whatever produces the []float32 passed to Search/Index, outside this
// package's scope.
package semantic

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/codescope/codescope/internal/errors"
)

// Hit is one nearest-neighbor match.
type Hit struct {
	SymbolID int64
	FileID   int64
	Score    float64
}

// Searcher is the interface the dispatcher's semantic tier depends on. A
// single implementation (Index, below) satisfies it; the interface exists
// so the dispatcher can be tested against a fake without a real graph.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
	Count() int
}

// Config configures an Index.
type Config struct {
	Dimensions int
	Metric     string // "cos" (default) or "l2"
}

// Index is a coder/hnsw-backed vector index keyed by (symbolID, fileID)
// pairs rather than the teacher's opaque string chunk IDs, matching
// spec.md's embedding model (one optional vector per symbol or per
// file-level chunk).
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	keyToIDs map[uint64]vecID
	idToKey  map[vecID]uint64
	nextKey  uint64
}

type vecID struct {
	SymbolID int64
	FileID   int64
}

// persistedMeta is the gob-encoded sidecar saved alongside the graph export.
type persistedMeta struct {
	KeyToIDs map[uint64]vecID
	NextKey  uint64
	Config   Config
}

// NewIndex builds an empty Index. Dimensions must be fixed up front; every
// vector added or searched against must match it.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New(errors.KindSemanticUnavailable, "semantic index requires positive dimensions")
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	return &Index{
		graph:    graph,
		config:   cfg,
		keyToIDs: make(map[uint64]vecID),
		idToKey:  make(map[vecID]uint64),
	}, nil
}

// Add inserts or replaces the vector for (symbolID, fileID). Replacement
// is lazy: the old graph node is orphaned rather than removed, mirroring
// the teacher's workaround for coder/hnsw's last-node deletion bug.
func (idx *Index) Add(ctx context.Context, symbolID, fileID int64, vector []float32) error {
	if len(vector) != idx.config.Dimensions {
		return errors.New(errors.KindSemanticUnavailable,
			fmt.Sprintf("vector has %d dimensions, index expects %d", len(vector), idx.config.Dimensions))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	id := vecID{SymbolID: symbolID, FileID: fileID}
	if oldKey, exists := idx.idToKey[id]; exists {
		delete(idx.keyToIDs, oldKey)
		delete(idx.idToKey, id)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if idx.config.Metric == "cos" {
		normalize(vec)
	}

	key := idx.nextKey
	idx.nextKey++
	idx.graph.Add(hnsw.MakeNode(key, vec))
	idx.keyToIDs[key] = id
	idx.idToKey[id] = key
	return nil
}

// Delete lazily removes the vector for (symbolID, fileID), if present.
func (idx *Index) Delete(ctx context.Context, symbolID, fileID int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	id := vecID{SymbolID: symbolID, FileID: fileID}
	if key, exists := idx.idToKey[id]; exists {
		delete(idx.keyToIDs, key)
		delete(idx.idToKey, id)
	}
}

// Search returns up to limit nearest neighbors of vector.
func (idx *Index) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(vector) != idx.config.Dimensions {
		return nil, errors.New(errors.KindSemanticUnavailable,
			fmt.Sprintf("query vector has %d dimensions, index expects %d", len(vector), idx.config.Dimensions))
	}
	if idx.graph.Len() == 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	if idx.config.Metric == "cos" {
		normalize(query)
	}

	nodes := idx.graph.Search(query, limit)
	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		id, ok := idx.keyToIDs[n.Key]
		if !ok {
			continue // lazily deleted
		}
		distance := idx.graph.Distance(query, n.Value)
		hits = append(hits, Hit{
			SymbolID: id.SymbolID,
			FileID:   id.FileID,
			Score:    scoreFromDistance(float64(distance), idx.config.Metric),
		})
	}
	return hits, nil
}

// Count returns the number of live (non-orphaned) vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idToKey)
}

// Save persists the graph and ID mappings to path (+".meta"), atomically
// via a temp-file-then-rename, matching the teacher's save idiom.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.KindStorageFailure, "create semantic index directory", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(errors.KindStorageFailure, "create semantic index file", err)
	}
	if err := idx.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(errors.KindStorageFailure, "export semantic graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.KindStorageFailure, "close semantic index file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(errors.KindStorageFailure, "rename semantic index file", err)
	}

	return idx.saveMeta(path + ".meta")
}

func (idx *Index) saveMeta(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(errors.KindStorageFailure, "create semantic meta file", err)
	}
	meta := persistedMeta{KeyToIDs: idx.keyToIDs, NextKey: idx.nextKey, Config: idx.config}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(errors.KindStorageFailure, "encode semantic meta", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.KindStorageFailure, "close semantic meta file", err)
	}
	return os.Rename(tmp, path)
}

// Load restores a previously Saved index from path.
func Load(path string) (*Index, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "open semantic meta file", err)
	}
	defer metaFile.Close()

	var meta persistedMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "decode semantic meta", err)
	}

	idx, err := NewIndex(meta.Config)
	if err != nil {
		return nil, err
	}
	idx.keyToIDs = meta.KeyToIDs
	idx.nextKey = meta.NextKey
	idx.idToKey = make(map[vecID]uint64, len(meta.KeyToIDs))
	for key, id := range meta.KeyToIDs {
		idx.idToKey[id] = key
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "open semantic index file", err)
	}
	defer f.Close()
	if err := idx.graph.Import(bufio.NewReader(f)); err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "import semantic graph", err)
	}
	return idx, nil
}

func normalize(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func scoreFromDistance(distance float64, metric string) float64 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
