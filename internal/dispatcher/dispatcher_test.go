package dispatcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/plugin"
	"github.com/codescope/codescope/internal/semantic"
	"github.com/codescope/codescope/internal/storage"
)

func newTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := storage.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// seedSymbol records a repository/file/symbol triple directly against the
// engine, returning the symbol id, for tests that need BM25/semantic
// lookups to resolve to a real storage row.
func seedSymbol(t *testing.T, e *storage.Engine, relPath, symbolName string) int64 {
	t.Helper()
	repoID, err := e.EnsureRepository("repo", "/src/repo", "")
	require.NoError(t, err)
	fileID, _, err := e.UpsertFile(repoID, relPath, "hash-"+relPath, "go", 100, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.ReplaceSymbols(fileID, []storage.ExtractedSymbol{
		{Name: symbolName, Kind: storage.KindFunction, StartLine: 3, EndLine: 8, Signature: "func " + symbolName + "()"},
	}, nil, nil))
	require.NoError(t, e.IndexFileContent(relPath, "func "+symbolName+"() {}"))
	sym, err := e.SymbolByName(symbolName)
	require.NoError(t, err)
	require.NotNil(t, sym)
	return sym.ID
}

// fakeSearcher is a minimal semantic.Searcher stub for dispatcher tests,
// avoiding a dependency on a real hnsw graph.
type fakeSearcher struct {
	hits []semantic.Hit
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, limit int) ([]semantic.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeSearcher) Count() int { return len(f.hits) }

func constantEmbedder(vec []float32, err error) QueryEmbedder {
	return func(_ context.Context, _ string) ([]float32, error) {
		return vec, err
	}
}

// TestSearch_AllTiersUnavailable_ReturnsEmptyNotError
func TestSearch_AllTiersUnavailable_ReturnsEmptyNotError(t *testing.T) {
	// Given: a dispatcher with an empty registry, no semantic tier, and an
	// engine with nothing indexed
	d := New(plugin.NewRegistry(), newTestEngine(t))

	// When: searching for anything
	hits, err := d.Search(context.Background(), "needle", "", 10)

	// Then: the terminal fallback is an empty result, not an error
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// TestSearch_PluginTierContributes_WhenRegisteredAndHealthy
func TestSearch_PluginTierContributes_WhenRegisteredAndHealthy(t *testing.T) {
	// Given: a registry with one plugin implementing Search
	reg := plugin.NewRegistry()
	reg.Register(plugin.Plugin{
		Extensions: []string{".go"},
		Language:   "go",
		Parse: func(_ context.Context, _ string, _ []byte) (plugin.ParseResult, error) {
			return plugin.ParseResult{}, nil
		},
		Search: func(_ context.Context, _ string, _ int) ([]plugin.Result, error) {
			return []plugin.Result{{FilePath: "a.go", Line: 1, Snippet: "func A()", Score: 1.0}}, nil
		},
	})

	d := New(reg, newTestEngine(t))

	// When: searching restricted to the "go" language
	hits, err := d.Search(context.Background(), "A", "go", 10)

	// Then: the plugin's hit surfaces, tagged as the plugin tier
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, TierPlugin, hits[0].Tier)
	assert.Equal(t, "a.go", hits[0].FilePath)
}

// TestSearch_DegradedPlugin_IsSkipped
func TestSearch_DegradedPlugin_IsSkipped(t *testing.T) {
	// Given: a plugin whose circuit breaker has already tripped
	p := plugin.WithCircuitBreaker(plugin.Plugin{
		Extensions: []string{".go"},
		Language:   "go",
		Parse: func(_ context.Context, _ string, _ []byte) (plugin.ParseResult, error) {
			return plugin.ParseResult{}, assertErr
		},
		Search: func(_ context.Context, _ string, _ int) ([]plugin.Result, error) {
			return []plugin.Result{{FilePath: "a.go", Score: 1.0}}, nil
		},
	}, 1, time.Minute)
	_, _ = p.ParseGuarded(context.Background(), "a.go", nil) // trips the breaker

	reg := plugin.NewRegistry()
	reg.Register(p)
	d := New(reg, newTestEngine(t))

	// When: searching
	hits, err := d.Search(context.Background(), "A", "go", 10)

	// Then: the degraded plugin contributes nothing, and no error surfaces
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// TestSearch_SemanticTierFailure_DoesNotFailTheWholeQuery
func TestSearch_SemanticTierFailure_DoesNotFailTheWholeQuery(t *testing.T) {
	// Given: a BM25 hit exists in storage, and the semantic embedder
	// always errors
	e := newTestEngine(t)
	seedSymbol(t, e, "b.go", "NeedleFunc")

	d := New(plugin.NewRegistry(), e,
		WithSemantic(&fakeSearcher{}, constantEmbedder(nil, assertErr)),
	)

	// When: searching
	hits, err := d.Search(context.Background(), "NeedleFunc", "", 10)

	// Then: the query still succeeds, served by the surviving BM25 tier
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

// TestSearch_SemanticTier_EnrichesHitsFromStorage
func TestSearch_SemanticTier_EnrichesHitsFromStorage(t *testing.T) {
	// Given: a symbol indexed in storage, and a semantic searcher that
	// reports it as the nearest neighbor
	e := newTestEngine(t)
	symID := seedSymbol(t, e, "c.go", "VectorHit")
	repoID, err := e.EnsureRepository("repo", "/src/repo", "")
	require.NoError(t, err)
	fileID, _, err := e.UpsertFile(repoID, "c.go", "hash-c.go", "go", 10, time.Now())
	require.NoError(t, err)

	searcher := &fakeSearcher{hits: []semantic.Hit{{SymbolID: symID, FileID: fileID, Score: 0.9}}}
	d := New(plugin.NewRegistry(), e, WithSemantic(searcher, constantEmbedder([]float32{0.1, 0.2}, nil)))

	// When: searching with a query that BM25 alone would not match
	hits, err := d.Search(context.Background(), "zzz-no-bm25-match-zzz", "", 10)

	// Then: the semantic tier's hit is enriched with the symbol's name
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, TierSemantic, hits[0].Tier)
	assert.Equal(t, "VectorHit", hits[0].SymbolName)
	assert.Equal(t, "c.go", hits[0].FilePath)
}

// TestSearch_RespectsLimit
func TestSearch_RespectsLimit(t *testing.T) {
	// Given: a plugin returning more hits than the requested limit
	reg := plugin.NewRegistry()
	reg.Register(plugin.Plugin{
		Extensions: []string{".go"},
		Language:   "go",
		Parse: func(_ context.Context, _ string, _ []byte) (plugin.ParseResult, error) {
			return plugin.ParseResult{}, nil
		},
		Search: func(_ context.Context, _ string, limit int) ([]plugin.Result, error) {
			out := make([]plugin.Result, 0, 5)
			for i := 0; i < 5; i++ {
				out = append(out, plugin.Result{FilePath: "f.go", Line: i + 1, Score: float64(i + 1)})
			}
			return out, nil
		},
	})
	d := New(reg, newTestEngine(t))

	// When: searching with limit 2
	hits, err := d.Search(context.Background(), "x", "go", 2)

	// Then: only 2 hits are returned
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

// TestSearch_UncooperativePlugin_DoesNotStallPastCeiling
func TestSearch_UncooperativePlugin_DoesNotStallPastCeiling(t *testing.T) {
	// Given: a registered plugin whose Search ignores ctx cancellation and
	// blocks indefinitely (spec.md §4.1's "Parse sleeps 30 seconds" E2E
	// scenario, applied to the Search fast path)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	p := plugin.WithCircuitBreaker(plugin.Plugin{
		Extensions: []string{".go"},
		Language:   "go",
		Parse: func(_ context.Context, _ string, _ []byte) (plugin.ParseResult, error) {
			return plugin.ParseResult{}, nil
		},
		Search: func(_ context.Context, _ string, _ int) ([]plugin.Result, error) {
			close(started)
			<-release
			return []plugin.Result{{FilePath: "never-seen.go", Score: 1}}, nil
		},
	}, 1, time.Minute)

	reg := plugin.NewRegistry()
	reg.Register(p)
	d := New(reg, newTestEngine(t), WithCeiling(30*time.Millisecond))

	// When: searching against a dispatcher with a short ceiling
	start := time.Now()
	hits, err := d.Search(context.Background(), "x", "go", 10)
	elapsed := time.Since(start)

	// Then: the call is unblocked at the ceiling instead of waiting on the
	// plugin, and contributes no hits from the stuck call
	<-started
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Less(t, elapsed, time.Second)

	// And: the watchdog recorded the timeout against the plugin's circuit
	// breaker, so a subsequent query skips it outright
	registered := reg.ForLanguage("go")
	require.NotNil(t, registered)
	assert.True(t, registered.Degraded())
}

// TestLookup_PrefersPluginFastPath
func TestLookup_PrefersPluginFastPath(t *testing.T) {
	// Given: a plugin implementing Lookup
	reg := plugin.NewRegistry()
	reg.Register(plugin.Plugin{
		Extensions: []string{".go"},
		Language:   "go",
		Parse: func(_ context.Context, _ string, _ []byte) (plugin.ParseResult, error) {
			return plugin.ParseResult{}, nil
		},
		Lookup: func(_ context.Context, name string) (*plugin.SymbolDefinition, error) {
			return &plugin.SymbolDefinition{Name: name, Kind: storage.KindFunction, Signature: "from-plugin"}, nil
		},
	})
	d := New(reg, newTestEngine(t))

	// When: looking up a symbol for "go"
	def, err := d.Lookup(context.Background(), "go", "Anything")

	// Then: the plugin's definition wins over any storage fallback
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "from-plugin", def.Signature)
}

// TestLookup_FallsBackToStorage_WhenNoPluginRegistered
func TestLookup_FallsBackToStorage_WhenNoPluginRegistered(t *testing.T) {
	// Given: a symbol only known to storage
	e := newTestEngine(t)
	seedSymbol(t, e, "d.go", "StoredOnly")
	d := New(plugin.NewRegistry(), e)

	// When: looking it up for an unregistered language
	def, err := d.Lookup(context.Background(), "python", "StoredOnly")

	// Then: the storage-backed definition is returned
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "StoredOnly", def.Name)
}

// TestLookup_NotFound_ReturnsNotFoundKind
func TestLookup_NotFound_ReturnsNotFoundKind(t *testing.T) {
	// Given: no plugin and no matching storage row
	d := New(plugin.NewRegistry(), newTestEngine(t))

	// When: looking up a symbol that does not exist anywhere
	_, err := d.Lookup(context.Background(), "go", "Nonexistent")

	// Then: a not-found error surfaces
	require.Error(t, err)
}

// TestHealth_ReportsDegradedPluginsAndSemanticState
func TestHealth_ReportsDegradedPluginsAndSemanticState(t *testing.T) {
	// Given: one healthy plugin, one degraded plugin, and a semantic index
	healthy := plugin.Plugin{Extensions: []string{".py"}, Language: "python", Parse: func(_ context.Context, _ string, _ []byte) (plugin.ParseResult, error) {
		return plugin.ParseResult{}, nil
	}}
	degraded := plugin.WithCircuitBreaker(plugin.Plugin{
		Extensions: []string{".go"}, Language: "go", Parse: func(_ context.Context, _ string, _ []byte) (plugin.ParseResult, error) {
			return plugin.ParseResult{}, assertErr
		},
	}, 1, time.Minute)
	_, _ = degraded.ParseGuarded(context.Background(), "a.go", nil)

	reg := plugin.NewRegistry()
	reg.Register(healthy)
	reg.Register(degraded)

	d := New(reg, newTestEngine(t), WithSemantic(&fakeSearcher{hits: []semantic.Hit{{SymbolID: 1, FileID: 1}}}, constantEmbedder(nil, nil)))

	// When: checking health
	h := d.Health()

	// Then: the degraded plugin is named, and the semantic index is reported enabled
	assert.Contains(t, h.DegradedPlugins, "go")
	assert.NotContains(t, h.DegradedPlugins, "python")
	assert.True(t, h.SemanticEnabled)
	assert.Equal(t, 1, h.SemanticVectors)
}

// assertErr is a stand-in failure used to trip circuit breakers and
// simulate tier errors in tests.
var assertErr = &staticError{"induced test failure"}

type staticError struct{ msg string }

func (e *staticError) Error() string { return e.msg }
