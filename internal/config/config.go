// Package config loads and validates CodeScope's configuration, merging
// hardcoded defaults, an optional YAML project file, and environment
// variable overrides (highest precedence), mirroring spec.md §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected at the repository root.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config is CodeScope's complete runtime configuration.
type Config struct {
	Version    int             `yaml:"version" json:"version"`
	Paths      PathsConfig     `yaml:"paths" json:"paths"`
	Search     SearchConfig    `yaml:"search" json:"search"`
	Semantic   SemanticConfig  `yaml:"semantic" json:"semantic"`
	Discovery  DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Watch      WatchConfig     `yaml:"watch" json:"watch"`
	Plugin     PluginConfig    `yaml:"plugin" json:"plugin"`
	Retention  RetentionConfig `yaml:"retention" json:"retention"`
	Server     ServerConfig    `yaml:"server" json:"server"`
	Submodules SubmoduleConfig `yaml:"submodules" json:"submodules"`
}

// PathsConfig configures which paths the scanner/watcher consider.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
	// MaxFileSizeBytes is the size ceiling above which files are rejected
	// by the indexing worker's filter step (spec.md §4.4 step 1).
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
}

// SearchConfig configures the dispatcher's fallback chain and fusion weights
// (spec.md §4.1, §4.6).
type SearchConfig struct {
	// PluginWeight, SemanticWeight, BM25Weight are the per-tier weights used
	// in the min-max-normalized weighted sum. Defaults: 0.5 / 0.35 / 0.15.
	PluginWeight   float64 `yaml:"plugin_weight" json:"plugin_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// BM25Backend names a full-text engine: "sqlite" (default FTS5,
	// concurrent WAL) or "bleve" (legacy, read-only). It is loaded and
	// defaulted, but no code reads it, so setting it changes nothing.
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`

	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// PluginLoadTimeout is validated to be positive (default 5s), but no
	// code reads it: plugins are registered eagerly at startup, not loaded
	// lazily per request, and no load ceiling is enforced.
	PluginLoadTimeout time.Duration `yaml:"plugin_load_timeout" json:"plugin_load_timeout"`

	// RequestDeadline bounds a whole search/lookup/find_references request.
	RequestDeadline time.Duration `yaml:"request_deadline" json:"request_deadline"`
}

// SemanticConfig toggles the optional semantic searcher collaborator.
type SemanticConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ModelTag   string `yaml:"model_tag" json:"model_tag"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
}

// DiscoveryConfig configures index discovery (spec.md §4.5).
type DiscoveryConfig struct {
	// SearchPaths overrides the default 6-entry search path list when
	// non-empty; each entry may use {repo_hash}/{repo}/{project} templates.
	// Populated from MCP_INDEX_PATHS (colon-separated) when set.
	SearchPaths []string `yaml:"search_paths" json:"search_paths"`
	// EnableMultiPath mirrors MCP_ENABLE_MULTI_PATH (default true).
	EnableMultiPath bool `yaml:"enable_multi_path" json:"enable_multi_path"`
	// StoragePath is populated from MCP_INDEX_STORAGE_PATH, but no code
	// reads it; discovery does not use it as a storage root.
	StoragePath string `yaml:"storage_path" json:"storage_path"`
	// MinSchemaVersion is not read by any code; discovery checks schema
	// versions against storage.MinimumSchemaVersion instead.
	MinSchemaVersion int `yaml:"min_schema_version" json:"min_schema_version"`
}

// WatchConfig configures the filesystem watcher and indexing pipeline
// (spec.md §4.4).
type WatchConfig struct {
	DebounceWindow  time.Duration `yaml:"debounce_window" json:"debounce_window"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	QueueCapacity   int           `yaml:"queue_capacity" json:"queue_capacity"`
	EventBufferSize int           `yaml:"event_buffer_size" json:"event_buffer_size"`
}

// PluginConfig configures plugin failure isolation (spec.md §4.3).
type PluginConfig struct {
	// FailureThreshold is the number of Parse failures, with no success in
	// between, that degrades a plugin. FailureWindow is how long a degraded
	// plugin is skipped after its last failure before one probe call is let
	// through; it does not limit the span over which failures are counted.
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window" json:"failure_window"`
}

// RetentionConfig resolves spec.md §9's soft-delete retention open question.
type RetentionConfig struct {
	// DeletedFileTTL is a retention TTL for soft-deleted file rows; zero
	// means "process lifetime" (never). No code reads it, and nothing calls
	// storage's VacuumDeleted, so soft-deleted rows are never hard-deleted.
	DeletedFileTTL time.Duration `yaml:"deleted_file_ttl" json:"deleted_file_ttl"`
}

// ServerConfig configures the MCP server transport.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"` // "stdio" (default) or "sse"
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// SubmoduleConfig configures git submodule discovery for the scanner.
type SubmoduleConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Recursive bool     `yaml:"recursive" json:"recursive"`
	Include   []string `yaml:"include" json:"include"`
	Exclude   []string `yaml:"exclude" json:"exclude"`
}

var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/.codescope/**",
	"**/.mcp-index/**",
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include:          []string{},
			Exclude:          defaultExcludePatterns,
			MaxFileSizeBytes: 5 * 1024 * 1024,
		},
		Search: SearchConfig{
			PluginWeight:      0.5,
			SemanticWeight:    0.35,
			BM25Weight:        0.15,
			BM25Backend:       "sqlite",
			DefaultLimit:      20,
			PluginLoadTimeout: 5 * time.Second,
			RequestDeadline:   30 * time.Second,
		},
		Semantic: SemanticConfig{
			Enabled:    false,
			ModelTag:   "",
			Dimensions: 0,
		},
		Discovery: DiscoveryConfig{
			EnableMultiPath:  true,
			MinSchemaVersion: 1,
		},
		Watch: WatchConfig{
			DebounceWindow:  200 * time.Millisecond,
			PollInterval:    2 * time.Second,
			QueueCapacity:   4096,
			EventBufferSize: 256,
		},
		Plugin: PluginConfig{
			FailureThreshold: 5,
			FailureWindow:    time.Minute,
		},
		Retention: RetentionConfig{
			DeletedFileTTL: 0,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Submodules: SubmoduleConfig{
			Enabled:   false,
			Recursive: true,
		},
	}
}

// Load builds the final Config for the given project directory: defaults,
// then an optional `.codescope.yaml`/`.codescope.yml` project file, then
// environment variable overrides (highest precedence).
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".codescope.yaml", ".codescope.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// applyEnvOverrides applies the spec.md §6 recognized environment variables,
// plus a handful of internal tuning knobs carried over in the teacher's
// CODESCOPE_* style for weights/timeouts not named by the spec.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MCP_INDEX_PATHS"); v != "" {
		c.Discovery.SearchPaths = strings.Split(v, ":")
	}
	if v := os.Getenv("MCP_INDEX_STORAGE_PATH"); v != "" {
		c.Discovery.StoragePath = v
	}
	if v := os.Getenv("MCP_ENABLE_MULTI_PATH"); v != "" {
		c.Discovery.EnableMultiPath = parseBoolDefault(v, c.Discovery.EnableMultiPath)
	}
	if v := os.Getenv("MCP_DEBUG"); v != "" && parseBoolDefault(v, false) {
		c.Server.LogLevel = "debug"
	}
	if v := os.Getenv("SEMANTIC_SEARCH_ENABLED"); v != "" {
		c.Semantic.Enabled = parseBoolDefault(v, c.Semantic.Enabled)
	}

	if v := os.Getenv("CODESCOPE_BM25_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.BM25Weight = f
		}
	}
	if v := os.Getenv("CODESCOPE_SEMANTIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.SemanticWeight = f
		}
	}
	if v := os.Getenv("CODESCOPE_PLUGIN_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.PluginWeight = f
		}
	}
	if v := os.Getenv("CODESCOPE_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.DebounceWindow = d
		}
	}
}

func parseBoolDefault(s string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}

// Validate rejects an internally inconsistent configuration.
func (c *Config) Validate() error {
	if c.Search.PluginLoadTimeout <= 0 {
		return fmt.Errorf("search.plugin_load_timeout must be positive")
	}
	if c.Paths.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("paths.max_file_size_bytes must be positive")
	}
	if c.Watch.DebounceWindow < 0 {
		return fmt.Errorf("watch.debounce_window must not be negative")
	}
	return nil
}

// DetectProjectType detects the project type based on marker files.
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) || fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot walks up from startDir looking for a `.git` directory or a
// `.codescope.yaml`/`.yml` marker, falling back to startDir if none is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) {
			return current, nil
		}
		if fileExists(filepath.Join(current, ".codescope.yaml")) || fileExists(filepath.Join(current, ".codescope.yml")) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// DefaultIndexWorkers returns a sensible default worker count for batch scans.
func DefaultIndexWorkers() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
