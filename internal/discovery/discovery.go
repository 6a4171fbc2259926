// Package discovery locates the right on-disk index for a repository and
// verifies it is safe to use before the dispatcher touches it. It walks a
// configurable, template-expanded search path in priority order and stops
// at the first candidate that passes schema and embedding-model
// validation.
package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/storage"
)

// defaultPathTemplates is the spec's six-entry default search order, in
// priority order. {repo_hash}, {repo}, and {project} are resolved by
// Context before a path is probed.
var defaultPathTemplates = []string{
	"{repo}/.indexes/{repo_hash}/current.db",
	"{repo}/.mcp-index/code_index.db",
	"{repo}/.devcontainer/.codescope/{repo_hash}/current.db",
	"{repo}/.codescope-test-indexes/{repo_hash}/current.db",
	"~/.codescope/indexes/{repo_hash}/current.db",
	"{tmp}/codescope-indexes/{repo_hash}/current.db",
}

// Context carries the template variables a candidate path is resolved
// against.
type Context struct {
	// RepoRoot is the canonical absolute path to the repository's root.
	RepoRoot string
	// RemoteURL is the repository's origin URL, if known. Used
	// preferentially over RepoRoot when hashing the repository identity.
	RemoteURL string
	// Project is a human-chosen project label, used only by the
	// {project} template variable.
	Project string
}

// RepoHash returns the hex identifier the spec says is "stable across
// machines for the same remote and stable across processes for the same
// local path": a SHA256 hash of the remote URL when present, otherwise of
// the canonical absolute repo root.
func (c Context) RepoHash() string {
	basis := c.RemoteURL
	if basis == "" {
		basis = c.RepoRoot
	}
	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:])
}

func (c Context) repoBase() string {
	return filepath.Base(strings.TrimRight(c.RepoRoot, string(filepath.Separator)))
}

// resolveTemplate expands {repo_hash}, {repo}, {project}, {tmp}, and a
// leading ~ against ctx.
func resolveTemplate(template string, ctx Context) string {
	replacer := strings.NewReplacer(
		"{repo_hash}", ctx.RepoHash(),
		"{repo}", ctx.RepoRoot,
		"{project}", firstNonEmpty(ctx.Project, ctx.repoBase()),
		"{tmp}", os.TempDir(),
	)
	resolved := replacer.Replace(template)
	if strings.HasPrefix(resolved, "~"+string(filepath.Separator)) || resolved == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			resolved = filepath.Join(home, strings.TrimPrefix(resolved, "~"))
		}
	}
	return resolved
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// SearchPaths returns the ordered, resolved candidate paths for ctx.
// overrideList, when non-empty (the parsed form of MCP_INDEX_PATHS), fully
// replaces the default templates rather than extending them.
func SearchPaths(ctx Context, overrideList []string) []string {
	templates := defaultPathTemplates
	if len(overrideList) > 0 {
		templates = overrideList
	}
	paths := make([]string, 0, len(templates))
	for _, t := range templates {
		paths = append(paths, resolveTemplate(t, ctx))
	}
	return paths
}

// ParseIndexPathsEnv splits the colon-separated MCP_INDEX_PATHS value into
// template strings, skipping empty segments.
func ParseIndexPathsEnv(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ":") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RejectionKind classifies why a candidate path was not used. It separates
// "nothing is there" from "something is there but unusable" so a caller can
// map a rejected primary candidate to the distinct exit code spec.md §6
// requires: 2 for no index found at all, 3 for a present but incompatible
// one.
type RejectionKind string

const (
	// RejectionMissing: nothing exists at the path, or it isn't readable.
	RejectionMissing RejectionKind = "missing"
	// RejectionNotADatabase: a file exists but isn't a valid storage engine
	// database.
	RejectionNotADatabase RejectionKind = "not_a_database"
	// RejectionManifestUnreadable: the database opened but its index_config
	// manifest could not be read.
	RejectionManifestUnreadable RejectionKind = "manifest_unreadable"
	// RejectionSchemaIncompatible: a valid, readable index exists but its
	// schema version falls outside [MinimumSchemaVersion, CurrentSchemaVersion].
	RejectionSchemaIncompatible RejectionKind = "schema_incompatible"
)

// Rejection records why one candidate path was not used.
type Rejection struct {
	Path   string
	Kind   RejectionKind
	Reason string
}

// Result is the outcome of a Discover call.
type Result struct {
	// Path is the winning candidate's path; empty if none passed.
	Path string
	// Engine is open and ready to use; nil if none passed. The caller
	// owns Close.
	Engine *storage.Engine
	// SemanticDisqualified is true when the winning candidate failed the
	// embedding-model check: BM25 is still usable, semantic is not.
	SemanticDisqualified bool
	// Rejected lists every candidate that did not pass, in probe order,
	// for the structured diagnostic the spec requires on a total miss.
	Rejected []Rejection
}

// ModelTag is the runtime's current embedding model identity, used to
// validate a discovered index's manifest. An empty ModelTag means
// semantic search is not configured for this run, so the model check is
// skipped entirely (BM25-only index shapes still validate).
type ModelTag struct {
	Model string
	Dims  int
}

// Discover probes SearchPaths(ctx, overrides) in order and returns the
// first candidate that passes validation. multiPathEnabled false
// restricts probing to just the first (primary) path, matching
// MCP_ENABLE_MULTI_PATH=false.
func Discover(ctx Context, overrides []string, multiPathEnabled bool, model ModelTag) Result {
	paths := SearchPaths(ctx, overrides)
	if !multiPathEnabled && len(paths) > 0 {
		paths = paths[:1]
	}

	var result Result
	for _, p := range paths {
		engine, semanticOK, kind, reason := validateCandidate(p, model)
		if engine == nil {
			result.Rejected = append(result.Rejected, Rejection{Path: p, Kind: kind, Reason: reason})
			continue
		}
		result.Path = p
		result.Engine = engine
		result.SemanticDisqualified = !semanticOK
		return result
	}
	return result
}

// PrimaryRejectionKind reports the RejectionKind of the first (highest
// priority) candidate Discover probed, or "" if a candidate was found or no
// candidates were probed at all. spec.md §4.5/§6 key the CLI's exit code off
// of this specific candidate: a primary index that exists but is schema
// incompatible must be refused distinctly (exit 3) from one that is simply
// absent (exit 2), even though both end up in Rejected.
func (r Result) PrimaryRejectionKind() RejectionKind {
	if r.Engine != nil || len(r.Rejected) == 0 {
		return ""
	}
	return r.Rejected[0].Kind
}

// validateCandidate runs the spec's four-step validation chain against
// one path. A non-nil *storage.Engine means the candidate passed steps
// 1-3 (exists, valid database, schema in range); semanticOK reflects step
// 4, the embedding-model tag check, which only disqualifies semantic use.
// kind classifies a rejection so callers can distinguish "nothing there"
// from "something there but unusable."
func validateCandidate(path string, model ModelTag) (engine *storage.Engine, semanticOK bool, kind RejectionKind, reason string) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, RejectionMissing, "does not exist or is not readable: " + err.Error()
	}
	if info.IsDir() {
		return nil, false, RejectionMissing, "is a directory, not a database file"
	}

	e, err := storage.Open(path)
	if err != nil {
		return nil, false, RejectionNotADatabase, "not a valid database of the expected engine: " + err.Error()
	}

	manifest, err := e.ReadManifest()
	if err != nil {
		_ = e.Close()
		return nil, false, RejectionManifestUnreadable, "manifest unreadable: " + err.Error()
	}

	if manifest.SchemaVersion < storage.MinimumSchemaVersion || manifest.SchemaVersion > storage.CurrentSchemaVersion {
		_ = e.Close()
		return nil, false, RejectionSchemaIncompatible, "schema version " + strconv.Itoa(manifest.SchemaVersion) + " outside supported range [" +
			strconv.Itoa(storage.MinimumSchemaVersion) + ", " + strconv.Itoa(storage.CurrentSchemaVersion) + "]"
	}

	semanticOK = true
	if model.Model != "" {
		semanticOK = manifest.EmbeddingModel == model.Model && manifest.EmbeddingDims == model.Dims
	}

	return e, semanticOK, "", ""
}

// RefusalError builds the structured diagnostic the spec requires when no
// candidate passes: every attempted path and the reason it was rejected.
func RefusalError(result Result) error {
	if result.Engine != nil {
		return nil
	}
	err := errors.New(errors.KindSchemaIncompatible, "no compatible index found among "+strconv.Itoa(len(result.Rejected))+" candidates")
	for i, r := range result.Rejected {
		err = err.WithDetail("path_"+strconv.Itoa(i), r.Path+": "+r.Reason)
	}
	return err
}
