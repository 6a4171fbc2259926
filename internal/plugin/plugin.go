// Package plugin defines the uniform contract under which any number of
// language adapters contribute symbols, imports, and (optionally)
// references, lookup, and search to the index. Capabilities are
// expressed as nilable function fields rather than as a sum type or
// interface-assertion duck typing: a Plugin either has a capability
// (non-nil field) or doesn't, and the dispatcher checks that directly.
package plugin

import (
	"context"
	"time"

	"github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/storage"
)

// ParseResult is what Parse yields for one file: extracted symbols, the
// imports/includes the file declares, and any references the plugin was
// able to resolve locally. Parse must be pure with respect to the content
// bytes: identical bytes yield identical output.
type ParseResult struct {
	Symbols    []storage.ExtractedSymbol
	Imports    []storage.ExtractedImport
	References []storage.ExtractedReference
}

// SymbolDefinition is what Lookup returns for a resolved symbol name.
type SymbolDefinition struct {
	FilePath  string
	Name      string
	Kind      storage.SymbolKind
	StartLine int
	EndLine   int
	Signature string
	Doc       string
}

// Reference is what References/find_references returns.
type Reference struct {
	FilePath string
	Line     int
	Column   int
	Kind     storage.ReferenceKind
}

// Result is what a plugin's own Search fast path returns.
type Result struct {
	FilePath string
	Line     int
	Snippet  string
	Score    float64
}

// LookupFunc is a plugin's optional fast path for symbol definition
// lookup; if nil the dispatcher falls back to the storage engine.
type LookupFunc func(ctx context.Context, symbolName string) (*SymbolDefinition, error)

// ReferencesFunc is a plugin's optional fast path for reference search.
type ReferencesFunc func(ctx context.Context, symbolName string) ([]Reference, error)

// SearchFunc is a plugin's optional fast path for free-text/pattern search.
type SearchFunc func(ctx context.Context, query string, limit int) ([]Result, error)

// ParseFunc parses one file's content into a ParseResult.
type ParseFunc func(ctx context.Context, filePath string, content []byte) (ParseResult, error)

// Plugin is one language adapter. Extensions and Language are required;
// Parse is required; Lookup, References, and Search are optional
// capabilities expressed as nilable fields.
type Plugin struct {
	Extensions []string
	Language   string

	Parse      ParseFunc
	Lookup     LookupFunc
	References ReferencesFunc
	Search     SearchFunc

	// breaker isolates repeated Parse failures: after N failures with no
	// success in between, the plugin is marked degraded and skipped until
	// the breaker's reset timeout lets a probe call through. Failures are
	// not aged out by time, and the skip is not tied to an indexing pass.
	// nil means failure isolation is disabled (used by tests).
	breaker *errors.CircuitBreaker
}

// HasLookup reports whether this plugin implements the Lookup fast path.
func (p Plugin) HasLookup() bool { return p.Lookup != nil }

// HasReferences reports whether this plugin implements References.
func (p Plugin) HasReferences() bool { return p.References != nil }

// HasSearch reports whether this plugin implements its own Search.
func (p Plugin) HasSearch() bool { return p.Search != nil }

// Degraded reports whether this plugin's circuit breaker has tripped and
// it should be skipped for the remainder of the current pass.
func (p Plugin) Degraded() bool {
	return p.breaker != nil && !p.breaker.Allow()
}

// MarkTimeout records against this plugin's circuit breaker that a call
// into it was abandoned by a caller's watchdog rather than returning on
// its own. Unlike ParseGuarded's failure path, the call that timed out
// may still be running in the background when this is invoked — the
// breaker only tracks that the plugin failed to honor its deadline, not
// the eventual (discarded) result.
func (p Plugin) MarkTimeout() {
	if p.breaker != nil {
		p.breaker.RecordTimeout()
	}
}

// ParseGuarded invokes Parse, recovering from a panic and recording the
// outcome against the plugin's circuit breaker. On failure (error or
// panic) it returns a zero ParseResult and the file should be recorded
// with a "parse failed" marker rather than aborting the indexing pass.
func (p Plugin) ParseGuarded(ctx context.Context, filePath string, content []byte) (result ParseResult, err error) {
	if p.Degraded() {
		return ParseResult{}, errors.New(errors.KindPluginFailure, "plugin degraded: failure threshold exceeded")
	}

	defer func() {
		if r := recover(); r != nil {
			if p.breaker != nil {
				p.breaker.RecordFailure()
			}
			err = errors.New(errors.KindPluginFailure, "plugin parse panicked")
		}
	}()

	result, err = p.Parse(ctx, filePath, content)
	if err != nil {
		if p.breaker != nil {
			p.breaker.RecordFailure()
		}
		return ParseResult{}, errors.Wrap(errors.KindPluginFailure, "plugin parse failed", err)
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}
	return result, nil
}

// WithCircuitBreaker returns a copy of p with failure isolation enabled:
// maxFailures failures with no success in between degrade the plugin, and
// it is skipped until resetWindow has passed since the last failure, when
// one probe call is let through. resetWindow does not bound the span in
// which failures are counted.
func WithCircuitBreaker(p Plugin, maxFailures int, resetWindow time.Duration) Plugin {
	p.breaker = errors.NewCircuitBreaker(p.Language,
		errors.WithMaxFailures(maxFailures),
		errors.WithResetTimeout(resetWindow),
	)
	return p
}

// Registry maps file extensions and language tags to plugins. Plugins are
// registered in a process-local registry at startup; there is no
// dynamic-code-loading requirement.
type Registry struct {
	byExtension map[string]*Plugin
	byLanguage  map[string]*Plugin
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byExtension: make(map[string]*Plugin),
		byLanguage:  make(map[string]*Plugin),
	}
}

// Register adds p to the registry under its language tag and every
// extension it declares. A later registration for the same extension or
// language tag replaces the earlier one — a file extension maps to at
// most one language, a language tag to at most one primary plugin.
func (r *Registry) Register(p Plugin) {
	r.byLanguage[p.Language] = &p
	for _, ext := range p.Extensions {
		r.byExtension[ext] = &p
	}
}

// ForExtension returns the plugin registered for ext, or nil.
func (r *Registry) ForExtension(ext string) *Plugin {
	return r.byExtension[ext]
}

// ForLanguage returns the plugin registered for language, or nil.
func (r *Registry) ForLanguage(language string) *Plugin {
	return r.byLanguage[language]
}

// Languages returns every registered language tag.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.byLanguage))
	for l := range r.byLanguage {
		langs = append(langs, l)
	}
	return langs
}
