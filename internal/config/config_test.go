package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "sqlite", cfg.Search.BM25Backend)
	assert.True(t, cfg.Discovery.EnableMultiPath)
	assert.False(t, cfg.Semantic.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromProjectFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
search:
  bm25_weight: 0.3
  semantic_weight: 0.4
semantic:
  enabled: true
  model_tag: test-model
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codescope.yaml"), []byte(yaml), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Search.BM25Weight)
	assert.Equal(t, 0.4, cfg.Search.SemanticWeight)
	assert.True(t, cfg.Semantic.Enabled)
	assert.Equal(t, "test-model", cfg.Semantic.ModelTag)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
search:
  bm25_weight: 0.3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codescope.yaml"), []byte(yaml), 0644))

	t.Setenv("CODESCOPE_BM25_WEIGHT", "0.9")
	t.Setenv("SEMANTIC_SEARCH_ENABLED", "true")
	t.Setenv("MCP_ENABLE_MULTI_PATH", "false")
	t.Setenv("MCP_INDEX_PATHS", "/a/{repo_hash}:/b/{repo_hash}")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Search.BM25Weight)
	assert.True(t, cfg.Semantic.Enabled)
	assert.False(t, cfg.Discovery.EnableMultiPath)
	assert.Equal(t, []string{"/a/{repo_hash}", "/b/{repo_hash}"}, cfg.Discovery.SearchPaths)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.PluginLoadTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Paths.MaxFileSizeBytes = 0
	assert.Error(t, cfg.Validate())
}

func TestFindProjectRootWalksUpToGitDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestDetectProjectType(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, ProjectTypeUnknown, DetectProjectType(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0644))
	assert.Equal(t, ProjectTypeGo, DetectProjectType(dir))
}
