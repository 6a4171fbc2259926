package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/discovery"
	"github.com/codescope/codescope/internal/plugin"
)

// resolveRoot finds the repository root for root, falling back to the
// current directory when root is empty or no project marker is found.
func resolveRoot(root string) (string, error) {
	if root != "" {
		return filepath.Abs(root)
	}
	found, err := config.FindProjectRoot(".")
	if err == nil {
		return found, nil
	}
	return os.Getwd()
}

// discoveryContext builds the discovery.Context and ModelTag a command
// needs to locate (or place) this repository's index.
func discoveryContext(cfg *config.Config, root string) (discovery.Context, discovery.ModelTag) {
	ctx := discovery.Context{RepoRoot: root}
	var tag discovery.ModelTag
	if cfg.Semantic.Enabled {
		tag = discovery.ModelTag{Model: cfg.Semantic.ModelTag, Dims: cfg.Semantic.Dimensions}
	}
	return ctx, tag
}

// buildRegistry registers every plugin this repository ships: the
// specialized Go adapter plus the generic tree-sitter extractor for
// every other standard grammar, each wrapped in the configured circuit
// breaker.
func buildRegistry(cfg config.PluginConfig) *plugin.Registry {
	registry := plugin.NewRegistry()
	registry.Register(plugin.WithCircuitBreaker(plugin.NewGoPlugin(), cfg.FailureThreshold, cfg.FailureWindow))
	for _, g := range plugin.StandardGrammars() {
		if g.Language == "go" {
			continue
		}
		registry.Register(plugin.WithCircuitBreaker(plugin.NewTreeExtractorPlugin(g), cfg.FailureThreshold, cfg.FailureWindow))
	}
	return registry
}

func configError(format string, args ...any) error {
	return &ExitError{Code: ExitConfigurationError, Err: fmt.Errorf(format, args...)}
}

func noIndexError(format string, args ...any) error {
	return &ExitError{Code: ExitNoIndexFound, Err: fmt.Errorf(format, args...)}
}

func incompatibleIndexError(format string, args ...any) error {
	return &ExitError{Code: ExitIncompatibleIndex, Err: fmt.Errorf(format, args...)}
}
