package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/config"
)

func newTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd
}

func TestRunIndexBuild_FreshRepository_IndexesGoFiles(t *testing.T) {
	// Given: a repository root with one Go file and no pre-existing index
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	var out bytes.Buffer
	cmd := newTestCmd(t)
	cmd.SetOut(&out)

	// When: running index build against it
	err := runIndexBuild(context.Background(), cmd, root)

	// Then: it succeeds and reports the file as indexed
	require.NoError(t, err)
	assert.Contains(t, out.String(), "indexed 1")
}

func TestRunIndexVerify_NoIndex_ReturnsNoIndexFoundExitCode(t *testing.T) {
	// Given: a repository root with no index ever built
	root := t.TempDir()

	// When: running index verify
	err := runIndexVerify(context.Background(), newTestCmd(t), root)

	// Then: it fails with the spec's "no index found" exit code
	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, asExitError(err, &exitErr))
	assert.Equal(t, ExitNoIndexFound, exitErr.Code)
}

func TestRunIndexVerify_AfterBuild_Succeeds(t *testing.T) {
	// Given: a repository that has already been indexed
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, runIndexBuild(context.Background(), newTestCmd(t), root))

	var out bytes.Buffer
	cmd := newTestCmd(t)
	cmd.SetOut(&out)

	// When: running index verify
	err := runIndexVerify(context.Background(), cmd, root)

	// Then: it reports the index healthy
	require.NoError(t, err)
	assert.Contains(t, out.String(), "ok:")
}

func TestRunIndexRebuild_DropsAndRebuildsExistingIndex(t *testing.T) {
	// Given: a repository already indexed once
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, runIndexBuild(context.Background(), newTestCmd(t), root))

	cfg, err := config.Load(root)
	require.NoError(t, err)
	path := primaryIndexPath(cfg, root)
	firstModTime := modTime(t, path)

	var out bytes.Buffer
	cmd := newTestCmd(t)
	cmd.SetOut(&out)

	// When: running index rebuild
	err = runIndexRebuild(context.Background(), cmd, root)

	// Then: it succeeds and the database file was recreated
	require.NoError(t, err)
	assert.Contains(t, out.String(), "rebuilt:")
	assert.NotEqual(t, firstModTime, modTime(t, path))
}

func modTime(t *testing.T, path string) any {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.ModTime()
}
