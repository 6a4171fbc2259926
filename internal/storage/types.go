// Package storage is the durable, concurrent-read, BM25-capable store of
// files, symbols, references, and optional embeddings behind a
// schema-versioned migration ladder. It owns the database handle
// exclusively; writes and queries alike go through its single pooled
// connection, and plugins never touch the database directly.
package storage

import "time"

// SymbolKind enumerates the symbol kinds a plugin may emit.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindClass     SymbolKind = "class"
	KindMethod    SymbolKind = "method"
	KindVariable  SymbolKind = "variable"
	KindConstant  SymbolKind = "constant"
	KindType      SymbolKind = "type"
	KindInterface SymbolKind = "interface"
	KindModule    SymbolKind = "module"
	KindTrait     SymbolKind = "trait"
	KindEnum      SymbolKind = "enum"
	KindField     SymbolKind = "field"
	KindImport    SymbolKind = "import"
	KindOther     SymbolKind = "other"
)

// ReferenceKind enumerates the ways a reference occurrence can relate to
// its symbol.
type ReferenceKind string

const (
	RefCall   ReferenceKind = "call"
	RefRead   ReferenceKind = "read"
	RefWrite  ReferenceKind = "write"
	RefImport ReferenceKind = "import"
	RefOther  ReferenceKind = "other"
)

// MoveKind enumerates the granularity of a detected content-preserving move.
type MoveKind string

const (
	MoveRename      MoveKind = "rename"
	MoveRelocate    MoveKind = "relocate"
	MoveRestructure MoveKind = "restructure"
)

// Repository is a source tree identified by the canonical form of its
// origin URL, or a deterministic hash of its root path when no remote
// exists.
type Repository struct {
	ID        int64
	Ident     string // repo_hash: hash of canonical origin URL or root path
	RootPath  string
	RemoteURL string
	CreatedAt time.Time
}

// File is a text file belonging to a repository.
type File struct {
	ID           int64
	RepositoryID int64
	RelPath      string
	Language     string
	Size         int64
	ModTime      time.Time
	ContentHash  string
	IndexedAt    time.Time
	IsDeleted    bool
	DeletedAt    *time.Time
}

// Symbol is a named program entity extracted from a file.
type Symbol struct {
	ID         int64
	FileID     int64
	Name       string
	Kind       SymbolKind
	StartLine  int
	EndLine    int
	StartCol   int
	EndCol     int
	Signature  string
	Doc        string
	Container  string
}

// SymbolReference is a non-defining occurrence of a symbol.
type SymbolReference struct {
	ID       int64
	SymbolID int64
	FileID   int64
	Line     int
	Column   int
	Kind     ReferenceKind
}

// ImportEdge is an import/include relation rooted at a file.
type ImportEdge struct {
	FileID       int64
	ModulePath   string
	ImportedName string
	Alias        string
	Line         int
	IsRelative   bool
}

// FileMove is an append-only record of a content-preserving rename.
type FileMove struct {
	ID           int64
	RepositoryID int64
	OldPath      string
	NewPath      string
	ContentHash  string
	Timestamp    time.Time
	Kind         MoveKind
}

// EmbeddingRow is one chunk's opaque vector, keyed uniquely by
// (file_id, symbol_id, chunk_start, chunk_end).
type EmbeddingRow struct {
	ID          int64
	FileID      int64
	SymbolID    int64 // 0 when the embedding covers a file-level chunk, not a symbol
	ChunkStart  int
	ChunkEnd    int
	Vector      []byte
	ModelTag    string
}

// BM25Hit is one result of a BM25 full-text query.
type BM25Hit struct {
	Path     string
	Snippet  string
	Score    float64
	Language string
}

// FuzzyHit is one result of a trigram-gated, edit-distance-rescored fuzzy
// name search.
type FuzzyHit struct {
	SymbolID int64
	Name     string
	Distance int
}

// HealthReport summarizes the storage engine's self-check.
type HealthReport struct {
	SchemaVersion  int
	WALEnabled     bool
	FTSAvailable   bool
	TablesOK       bool
	Warnings       []string
}

// Symbols accepted by ReplaceSymbols alongside their references and
// imports, as handed off by a plugin's ParseResult.
type ExtractedSymbol struct {
	Name      string
	Kind      SymbolKind
	StartLine int
	EndLine   int
	StartCol  int
	EndCol    int
	Signature string
	Doc       string
	Container string
	// References are not carried here: they are passed to ReplaceSymbols
	// separately as ExtractedReference values.
}

// ExtractedReference is a reference emitted by a plugin, resolved against
// a symbol name rather than an ID since the symbol row does not exist yet
// at extraction time.
type ExtractedReference struct {
	SymbolName string
	Line       int
	Column     int
	Kind       ReferenceKind
}

// ExtractedImport is an import/include edge emitted by a plugin.
type ExtractedImport struct {
	ModulePath   string
	ImportedName string
	Alias        string
	Line         int
	IsRelative   bool
}
