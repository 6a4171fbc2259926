package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codescope/codescope/internal/dispatcher"
	"github.com/codescope/codescope/internal/errors"
)

// SearchCodeInput mirrors spec.md §6's search_code request.
type SearchCodeInput struct {
	Query    string `json:"query" jsonschema:"the search query"`
	Semantic *bool  `json:"semantic,omitempty" jsonschema:"include the semantic tier, default true"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 20"`
	Language string `json:"language,omitempty" jsonschema:"restrict the plugin tier to this language"`
}

// SearchCodeOutput mirrors spec.md §6's search_code response.
type SearchCodeOutput struct {
	Results []HitOutput `json:"results"`
}

// HitOutput is one fused search hit.
type HitOutput struct {
	FilePath   string  `json:"file_path"`
	Line       int     `json:"line,omitempty"`
	SymbolName string  `json:"symbol_name,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score"`
	Tier       string  `json:"tier"`
}

func toHitOutput(h dispatcher.Hit) HitOutput {
	return HitOutput{
		FilePath:   h.FilePath,
		Line:       h.Line,
		SymbolName: h.SymbolName,
		Snippet:    h.Snippet,
		Score:      h.Score,
		Tier:       string(h.Tier),
	}
}

func (s *Server) searchCodeHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchCodeInput) (*mcp.CallToolResult, SearchCodeOutput, error) {
	if input.Query == "" {
		return nil, SearchCodeOutput{}, InvalidParams("query is required")
	}
	if s.dispatcher == nil {
		return nil, SearchCodeOutput{}, MapError(errors.New(errors.KindSchemaIncompatible, "no index discovered"))
	}

	var opts []dispatcher.SearchCallOption
	if input.Semantic != nil && !*input.Semantic {
		opts = append(opts, dispatcher.WithoutSemantic())
	}

	hits, err := s.dispatcher.Search(ctx, input.Query, input.Language, input.Limit, opts...)
	if err != nil {
		return nil, SearchCodeOutput{}, MapError(err)
	}

	out := SearchCodeOutput{Results: make([]HitOutput, 0, len(hits))}
	for _, h := range hits {
		out.Results = append(out.Results, toHitOutput(h))
	}
	return nil, out, nil
}

// SymbolLookupInput mirrors spec.md §6's symbol_lookup request.
type SymbolLookupInput struct {
	Name       string `json:"name" jsonschema:"the symbol name to resolve"`
	Repository string `json:"repository,omitempty" jsonschema:"unused placeholder for future multi-repository disambiguation"`
}

// SymbolLookupOutput mirrors spec.md §6's symbol_lookup response: the
// definition is nil, not an error, when no symbol by that name exists.
type SymbolLookupOutput struct {
	Definition *DefinitionOutput `json:"definition"`
}

// DefinitionOutput is one symbol's definition site.
type DefinitionOutput struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Signature string `json:"signature,omitempty"`
	Doc       string `json:"doc,omitempty"`
}

func (s *Server) symbolLookupHandler(ctx context.Context, _ *mcp.CallToolRequest, input SymbolLookupInput) (*mcp.CallToolResult, SymbolLookupOutput, error) {
	if input.Name == "" {
		return nil, SymbolLookupOutput{}, InvalidParams("name is required")
	}
	if s.dispatcher == nil {
		return nil, SymbolLookupOutput{}, MapError(errors.New(errors.KindSchemaIncompatible, "no index discovered"))
	}

	def, err := s.dispatcher.Lookup(ctx, "", input.Name)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, SymbolLookupOutput{Definition: nil}, nil
		}
		return nil, SymbolLookupOutput{}, MapError(err)
	}

	return nil, SymbolLookupOutput{Definition: &DefinitionOutput{
		Name:      def.Name,
		Kind:      def.Kind,
		StartLine: def.StartLine,
		EndLine:   def.EndLine,
		Signature: def.Signature,
		Doc:       def.Doc,
	}}, nil
}

// FindReferencesInput mirrors spec.md §6's find_references request.
type FindReferencesInput struct {
	Name       string `json:"name" jsonschema:"the symbol name to find references of"`
	Repository string `json:"repository,omitempty" jsonschema:"unused placeholder for future multi-repository disambiguation"`
}

// FindReferencesOutput mirrors spec.md §6's find_references response.
type FindReferencesOutput struct {
	References []ReferenceOutput `json:"references"`
}

// ReferenceOutput is one reference occurrence.
type ReferenceOutput struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Kind   string `json:"kind"`
}

func (s *Server) findReferencesHandler(ctx context.Context, _ *mcp.CallToolRequest, input FindReferencesInput) (*mcp.CallToolResult, FindReferencesOutput, error) {
	if input.Name == "" {
		return nil, FindReferencesOutput{}, InvalidParams("name is required")
	}
	if s.dispatcher == nil {
		return nil, FindReferencesOutput{}, MapError(errors.New(errors.KindSchemaIncompatible, "no index discovered"))
	}

	refs, err := s.dispatcher.FindReferences(ctx, "", input.Name)
	if err != nil {
		return nil, FindReferencesOutput{}, MapError(err)
	}

	out := FindReferencesOutput{References: make([]ReferenceOutput, 0, len(refs))}
	for _, r := range refs {
		out.References = append(out.References, ReferenceOutput{Line: r.Line, Column: r.Column, Kind: string(r.Kind)})
	}
	return nil, out, nil
}

// IndexFileInput mirrors spec.md §6's index_file request.
type IndexFileInput struct {
	Path string `json:"path" jsonschema:"path of the file to index, relative to the repository root"`
}

// IndexFileOutput mirrors spec.md §6's index_file response.
type IndexFileOutput struct {
	Indexed       bool   `json:"indexed"`
	SkippedReason string `json:"skipped_reason,omitempty"`
}

func (s *Server) indexFileHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexFileInput) (*mcp.CallToolResult, IndexFileOutput, error) {
	if input.Path == "" {
		return nil, IndexFileOutput{}, InvalidParams("path is required")
	}
	if s.worker == nil {
		return nil, IndexFileOutput{}, MapError(errors.New(errors.KindConfigurationError, "indexing worker not available"))
	}

	indexed, reason, err := s.worker.IndexPath(ctx, input.Path)
	if err != nil {
		return nil, IndexFileOutput{}, MapError(err)
	}
	return nil, IndexFileOutput{Indexed: indexed, SkippedReason: reason}, nil
}

// ReindexInput mirrors spec.md §6's reindex request.
type ReindexInput struct {
	RepositoryRoot string `json:"repository_root,omitempty" jsonschema:"accepted but ignored; reindex always reruns the server's own repository root"`
}

// ReindexOutput mirrors spec.md §6's reindex response.
type ReindexOutput struct {
	Scheduled bool `json:"scheduled"`
}

func (s *Server) reindexHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ReindexInput) (*mcp.CallToolResult, ReindexOutput, error) {
	if s.background == nil {
		return nil, ReindexOutput{}, MapError(errors.New(errors.KindConfigurationError, "background indexer not available"))
	}
	if s.background.IsRunning() {
		return nil, ReindexOutput{Scheduled: false}, nil
	}
	s.background.Start(ctx)
	return nil, ReindexOutput{Scheduled: true}, nil
}

// StatusInput is empty; status takes no parameters.
type StatusInput struct{}

// StatusOutput mirrors spec.md §6's status response.
type StatusOutput struct {
	HealthReport HealthReportOutput `json:"health_report"`
}

// HealthReportOutput combines storage, plugin, semantic, discovery, and
// background-indexing health into the one report the spec's "no-index
// fallback" testable property checks.
type HealthReportOutput struct {
	IndexPath            string               `json:"index_path,omitempty"`
	SchemaVersion        int                  `json:"schema_version"`
	TablesOK             bool                 `json:"tables_ok"`
	FTSAvailable         bool                 `json:"fts_available"`
	WALEnabled           bool                 `json:"wal_enabled"`
	Warnings             []string             `json:"warnings,omitempty"`
	DegradedPlugins      []string             `json:"degraded_plugins,omitempty"`
	SemanticEnabled      bool                 `json:"semantic_enabled"`
	SemanticDisqualified bool                 `json:"semantic_disqualified"`
	SemanticVectors      int                  `json:"semantic_vectors"`
	RejectedPaths        []RejectedPathOutput `json:"rejected_paths,omitempty"`
	Indexing             *IndexProgressOutput `json:"indexing,omitempty"`
}

// RejectedPathOutput is one discovery candidate that failed validation.
type RejectedPathOutput struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IndexProgressOutput mirrors async.IndexProgressSnapshot for JSON-RPC.
type IndexProgressOutput struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	FilesIndexed   int     `json:"files_indexed"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

func (s *Server) statusHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	report := HealthReportOutput{
		IndexPath:            s.discovery.Path,
		SemanticDisqualified: s.discovery.SemanticDisqualified,
	}
	for _, r := range s.discovery.Rejected {
		report.RejectedPaths = append(report.RejectedPaths, RejectedPathOutput{Path: r.Path, Reason: r.Reason})
	}

	if s.dispatcher != nil {
		h := s.dispatcher.Health()
		report.SchemaVersion = h.Storage.SchemaVersion
		report.TablesOK = h.Storage.TablesOK
		report.FTSAvailable = h.Storage.FTSAvailable
		report.WALEnabled = h.Storage.WALEnabled
		report.Warnings = h.Storage.Warnings
		report.DegradedPlugins = h.DegradedPlugins
		report.SemanticEnabled = h.SemanticEnabled
		report.SemanticVectors = h.SemanticVectors
	}

	if s.background != nil {
		snap := s.background.Progress().Snapshot()
		report.Indexing = &IndexProgressOutput{
			Status:         snap.Status,
			Stage:          snap.Stage,
			FilesTotal:     snap.FilesTotal,
			FilesProcessed: snap.FilesProcessed,
			FilesIndexed:   snap.FilesIndexed,
			ProgressPct:    snap.ProgressPct,
			ElapsedSeconds: snap.ElapsedSeconds,
			ErrorMessage:   snap.ErrorMessage,
		}
	}

	return nil, StatusOutput{HealthReport: report}, nil
}
