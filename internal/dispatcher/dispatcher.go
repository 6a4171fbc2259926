// Package dispatcher routes a search query across the plugin, semantic,
// and BM25 tiers, fusing whatever each tier manages to return. No tier's
// failure or absence is fatal: a tier that errors, times out, or was
// never configured degrades to an empty contribution rather than
// aborting the query, down to the terminal fallback of an empty result
// set.
package dispatcher

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/plugin"
	"github.com/codescope/codescope/internal/semantic"
	"github.com/codescope/codescope/internal/storage"
)

// defaultCeiling bounds the cumulative wall-clock a single dispatched
// search may spend waiting on plugin/semantic/BM25 tiers, so one slow or
// wedged plugin cannot stall an interactive query indefinitely.
const defaultCeiling = 5 * time.Second

// QueryEmbedder turns a free-text query into the vector the semantic
// tier searches against. Embedding generation is outside this package's
// scope: a nil embedder simply disables the semantic tier.
type QueryEmbedder func(ctx context.Context, query string) ([]float32, error)

// Dispatcher fans a query out across the registered plugins, the
// optional semantic index, and the storage engine's BM25 backend.
type Dispatcher struct {
	registry *plugin.Registry
	store    *storage.Engine
	semantic semantic.Searcher
	embedder QueryEmbedder
	weights  Weights
	ceiling  time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSemantic attaches the semantic tier. Without it, Search never
// contributes semantic hits, which is a supported degraded mode, not an
// error.
func WithSemantic(searcher semantic.Searcher, embedder QueryEmbedder) Option {
	return func(d *Dispatcher) {
		d.semantic = searcher
		d.embedder = embedder
	}
}

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) Option {
	return func(d *Dispatcher) { d.weights = w }
}

// WithCeiling overrides the default 5-second cumulative tier-wait ceiling.
func WithCeiling(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.ceiling = d }
}

// New builds a Dispatcher over registry and store.
func New(registry *plugin.Registry, store *storage.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		store:    store,
		weights:  DefaultWeights,
		ceiling:  defaultCeiling,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type tierStatus string

const (
	tierOK          tierStatus = "ok"
	tierUnavailable tierStatus = "unavailable"
	tierFailed      tierStatus = "failed"
)

// tierResult is the tagged-variant return each tier search produces,
// replacing exception-style control flow: a tier that cannot contribute
// says so in status rather than propagating an error out of Search.
type tierResult struct {
	tier   Tier
	hits   []Hit
	status tierStatus
}

// SearchCallOption adjusts a single Search call without reconfiguring the
// Dispatcher itself.
type SearchCallOption func(*searchCall)

type searchCall struct {
	disableSemantic bool
}

// WithoutSemantic excludes the semantic tier from this call only, for a
// caller that explicitly asked for keyword-only results.
func WithoutSemantic() SearchCallOption {
	return func(c *searchCall) { c.disableSemantic = true }
}

// Search fans query out across all three tiers concurrently, bounded by
// the dispatcher's ceiling, then fuses whatever came back. language, if
// non-empty, restricts the plugin tier to the plugin registered for that
// language; empty means "ask every registered plugin with a Search
// capability."
func (d *Dispatcher) Search(ctx context.Context, query string, language string, limit int, opts ...SearchCallOption) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	var call searchCall
	for _, opt := range opts {
		opt(&call)
	}

	ctx, cancel := context.WithTimeout(ctx, d.ceiling)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	var pluginResult, semanticResult, bm25Result tierResult

	g.Go(func() error {
		pluginResult = d.searchPlugins(gctx, query, language, limit)
		return nil
	})
	g.Go(func() error {
		if call.disableSemantic {
			return nil
		}
		semanticResult = d.searchSemantic(gctx, query, limit)
		return nil
	})
	g.Go(func() error {
		bm25Result = d.searchBM25(gctx, query, limit)
		return nil
	})

	// Tier failures are captured in each tierResult's status, never
	// returned through the group, so Wait only reports context
	// cancellation (the ceiling firing). searchPlugins' own watchdog
	// (watchPluginSearch) guarantees this goroutine returns by the
	// ceiling even when a registered plugin ignores ctx and keeps
	// running, so Wait itself never blocks past d.ceiling.
	_ = g.Wait()

	tierHits := map[Tier][]Hit{
		TierPlugin:   pluginResult.hits,
		TierSemantic: semanticResult.hits,
		TierBM25:     bm25Result.hits,
	}
	fused := Fuse(tierHits, d.weights)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

func (d *Dispatcher) searchPlugins(ctx context.Context, query string, language string, limit int) tierResult {
	if d.registry == nil {
		return tierResult{tier: TierPlugin, status: tierUnavailable}
	}

	var candidates []*plugin.Plugin
	if language != "" {
		if p := d.registry.ForLanguage(language); p != nil {
			candidates = append(candidates, p)
		}
	} else {
		for _, lang := range d.registry.Languages() {
			if p := d.registry.ForLanguage(lang); p != nil {
				candidates = append(candidates, p)
			}
		}
	}

	var hits []Hit
	anyOK := false
	for _, p := range candidates {
		if !p.HasSearch() || p.Degraded() {
			continue
		}
		results, ok := d.watchPluginSearch(ctx, p, query, limit)
		if !ok {
			continue
		}
		anyOK = true
		for _, r := range results {
			hits = append(hits, Hit{
				FilePath: r.FilePath,
				Line:     r.Line,
				Snippet:  r.Snippet,
				Score:    r.Score,
				Tier:     TierPlugin,
			})
		}
	}

	if !anyOK {
		return tierResult{tier: TierPlugin, status: tierUnavailable}
	}
	return tierResult{tier: TierPlugin, hits: hits, status: tierOK}
}

// pluginSearchOutcome carries p.Search's return values through a channel so
// watchPluginSearch's select can distinguish "returned an error" (resolves
// immediately) from "never returned" (resolves only when ctx expires).
type pluginSearchOutcome struct {
	results []plugin.Result
	err     error
}

// watchPluginSearch runs p.Search under a watchdog: spec.md §4.1 requires
// that one registered plugin ignoring ctx and blocking past the request
// ceiling degrade that plugin's contribution to empty rather than stall
// every other tier and candidate. p.Search runs in its own goroutine; if
// ctx expires first, watchPluginSearch records the timeout against p's
// circuit breaker and returns immediately, leaving the goroutine to exit
// on its own whenever (if ever) p.Search finally returns.
func (d *Dispatcher) watchPluginSearch(ctx context.Context, p *plugin.Plugin, query string, limit int) ([]plugin.Result, bool) {
	done := make(chan pluginSearchOutcome, 1)
	go func() {
		results, err := p.Search(ctx, query, limit)
		done <- pluginSearchOutcome{results: results, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, false
		}
		return o.results, true
	case <-ctx.Done():
		p.MarkTimeout()
		return nil, false
	}
}

func (d *Dispatcher) searchSemantic(ctx context.Context, query string, limit int) tierResult {
	if d.semantic == nil || d.embedder == nil {
		return tierResult{tier: TierSemantic, status: tierUnavailable}
	}

	vector, err := d.embedder(ctx, query)
	if err != nil {
		return tierResult{tier: TierSemantic, status: tierFailed}
	}

	semHits, err := d.semantic.Search(ctx, vector, limit)
	if err != nil {
		return tierResult{tier: TierSemantic, status: tierFailed}
	}

	hits := make([]Hit, 0, len(semHits))
	for _, h := range semHits {
		filePath, err := d.store.FilePathByID(h.FileID)
		if err != nil || filePath == "" {
			continue
		}
		hit := Hit{FilePath: filePath, Score: h.Score, Tier: TierSemantic}
		if sym, err := d.store.SymbolByID(h.SymbolID); err == nil && sym != nil {
			hit.SymbolName = sym.Name
			hit.Line = sym.StartLine
			hit.Snippet = sym.Signature
		}
		hits = append(hits, hit)
	}
	return tierResult{tier: TierSemantic, hits: hits, status: tierOK}
}

func (d *Dispatcher) searchBM25(ctx context.Context, query string, limit int) tierResult {
	if d.store == nil {
		return tierResult{tier: TierBM25, status: tierUnavailable}
	}

	bm25Hits := d.store.SearchBM25(query, storage.CorpusCode, limit, 0)
	if len(bm25Hits) == 0 {
		return tierResult{tier: TierBM25, status: tierUnavailable}
	}

	hits := make([]Hit, 0, len(bm25Hits))
	for _, h := range bm25Hits {
		hits = append(hits, Hit{
			FilePath: h.Path,
			Snippet:  h.Snippet,
			Score:    h.Score,
			Tier:     TierBM25,
		})
	}
	return tierResult{tier: TierBM25, hits: hits, status: tierOK}
}

// Lookup resolves a symbol definition, preferring a plugin's Lookup fast
// path when one is registered and not degraded, falling back to the
// storage engine's symbol table.
func (d *Dispatcher) Lookup(ctx context.Context, language, symbolName string) (*plugin.SymbolDefinition, error) {
	if p := d.registry.ForLanguage(language); p != nil && p.HasLookup() && !p.Degraded() {
		if def, err := p.Lookup(ctx, symbolName); err == nil && def != nil {
			return def, nil
		}
	}

	sym, err := d.store.SymbolByName(symbolName)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "lookup symbol", err)
	}
	if sym == nil {
		return nil, errors.New(errors.KindNotFound, "symbol not found: "+symbolName)
	}

	return &plugin.SymbolDefinition{
		Name:      sym.Name,
		Kind:      sym.Kind,
		StartLine: sym.StartLine,
		EndLine:   sym.EndLine,
		Signature: sym.Signature,
		Doc:       sym.Doc,
	}, nil
}

// FindReferences resolves every reference occurrence of symbolName,
// preferring a plugin's References fast path, falling back to the
// storage engine's reference table.
func (d *Dispatcher) FindReferences(ctx context.Context, language, symbolName string) ([]plugin.Reference, error) {
	if p := d.registry.ForLanguage(language); p != nil && p.HasReferences() && !p.Degraded() {
		if refs, err := p.References(ctx, symbolName); err == nil {
			return refs, nil
		}
	}

	storageRefs, err := d.store.ReferencesTo(symbolName)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "find references", err)
	}

	refs := make([]plugin.Reference, 0, len(storageRefs))
	for _, r := range storageRefs {
		refs = append(refs, plugin.Reference{
			Line:   r.Line,
			Column: r.Column,
			Kind:   r.Kind,
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Line < refs[j].Line })
	return refs, nil
}

// Health reports the combined health of the storage engine, the
// registered plugins' circuit-breaker state, and the semantic index.
type Health struct {
	Storage          storage.HealthReport
	DegradedPlugins  []string
	SemanticVectors  int
	SemanticEnabled  bool
}

// Health inspects every dependency without mutating any of them.
func (d *Dispatcher) Health() Health {
	h := Health{Storage: d.store.Health()}

	if d.registry != nil {
		for _, lang := range d.registry.Languages() {
			if p := d.registry.ForLanguage(lang); p != nil && p.Degraded() {
				h.DegradedPlugins = append(h.DegradedPlugins, lang)
			}
		}
	}

	if d.semantic != nil {
		h.SemanticEnabled = true
		h.SemanticVectors = d.semantic.Count()
	}

	return h
}
