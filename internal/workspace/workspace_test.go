package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/scss-lsp/internal/config"
	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/parser"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

func testConfig(t *testing.T, cache bool) *config.Config {
	t.Helper()
	cfg, err := config.Load(loadOptions(t))
	require.NoError(t, err)
	cfg.Index.Cache = cache
	cfg.Index.DBPath = filepath.Join(t.TempDir(), "index.db")
	cfg.Index.RateLimit = 0
	cfg.Watcher.Enabled = false
	return cfg
}

func loadOptions(t *testing.T) config.LoadOptions {
	return config.LoadOptions{WorkspaceRoot: t.TempDir()}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func openWorkspace(t *testing.T, cfg *config.Config, root string) *Workspace {
	t.Helper()
	ws, err := Open(context.Background(), cfg, root)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.AddRoot(root))
	require.NoError(t, ws.AddRoot(root))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.WaitIdle(ctx))
	return ws
}

func TestWorkspaceIndexesRoot(t *testing.T) {
	for _, cache := range []bool{true, false} {
		t.Run(map[bool]string{true: "cache", false: "memory"}[cache], func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{
				"_vars.scss":         "$brand-primary: #336699;\n$brand-accent: red;\n",
				"mixins/_index.scss": "@mixin brand-button($size) {}\n",
			})

			ws := openWorkspace(t, testConfig(t, cache), root)

			assert.Equal(t, 2, ws.Storage().Len())
			assert.Len(t, ws.Roots(), 1)

			hits, err := ws.Search("brand", 10)
			require.NoError(t, err)
			assert.Len(t, hits, 3)

			hits, err = ws.Search("brand-acc", 10)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "$brand-accent", hits[0].Name)
			assert.Equal(t, symbols.Position{Line: 1}, hits[0].Position)
		})
	}
}

func TestWorkspaceSearchIncludesUnsavedBuffers(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"_vars.scss": "$brand: red;\n"})
	ws := openWorkspace(t, testConfig(t, true), root)

	ws.Storage().Set("untitled:Untitled-1", &symbols.Index{
		Document:  "untitled:Untitled-1",
		Variables: []symbols.Symbol{{Name: "$brand-draft", Kind: symbols.KindVariable}},
	})

	hits, err := ws.Search("brand", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "$brand-draft", hits[1].Name)
}

func TestWorkspaceReindexRestoresDisk(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"_vars.scss": "$disk: 1;\n"})
	ws := openWorkspace(t, testConfig(t, false), root)

	path := filepath.Join(root, "_vars.scss")
	uri := document.FromPath(path)
	ws.Storage().Set(uri, &symbols.Index{Document: uri, Filepath: path,
		Variables: []symbols.Symbol{{Name: "$buffer", Kind: symbols.KindVariable}}})

	ws.Reindex(path)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.WaitIdle(ctx))

	idx, ok := ws.Storage().Get(uri)
	require.True(t, ok)
	assert.Equal(t, "$disk", idx.Variables[0].Name)
}

func TestWorkspaceKeepsOpenBuffers(t *testing.T) {
	for _, cache := range []bool{true, false} {
		t.Run(map[bool]string{true: "cache", false: "memory"}[cache], func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{"_vars.scss": "$disk: 1;\n"})
			cfg := testConfig(t, cache)
			if cache {
				// leaves a warm cache entry for the second workspace
				first, err := Open(context.Background(), cfg, root)
				require.NoError(t, err)
				require.NoError(t, first.AddRoot(root))
				waitIdle(t, first)
				first.Close()
			}

			ws, err := Open(context.Background(), cfg, root)
			require.NoError(t, err)
			t.Cleanup(func() { ws.Close() })

			path := filepath.Join(root, "_vars.scss")
			uri := document.FromPath(path)
			ws.Storage().Overlay(uri, parser.Parse(document.New(uri, document.LanguageSCSS, 1, "$buffer: 1;\n")))

			require.NoError(t, ws.AddRoot(root))
			waitIdle(t, ws)
			assert.Equal(t, "$buffer", firstVariable(t, ws, uri))

			ws.Reindex(path)
			waitIdle(t, ws)
			assert.Equal(t, "$buffer", firstVariable(t, ws, uri))

			require.True(t, ws.Storage().Release(uri))
			ws.Reindex(path)
			waitIdle(t, ws)
			assert.Equal(t, "$disk", firstVariable(t, ws, uri))
		})
	}
}

func waitIdle(t *testing.T, ws *Workspace) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.WaitIdle(ctx))
}

func firstVariable(t *testing.T, ws *Workspace, uri string) string {
	t.Helper()
	idx, ok := ws.Storage().Get(uri)
	require.True(t, ok)
	require.NotEmpty(t, idx.Variables)
	return idx.Variables[0].Name
}

func TestWorkspaceIndexingDisabled(t *testing.T) {
	cfg := testConfig(t, true)
	cfg.Index.Enabled = false
	root := t.TempDir()
	writeTree(t, root, map[string]string{"_vars.scss": "$a: 1;\n"})

	ws := openWorkspace(t, cfg, root)
	assert.Zero(t, ws.Storage().Len())

	uri := document.FromPath(filepath.Join(root, "_vars.scss"))
	ws.Storage().Set(uri, &symbols.Index{Document: uri})
	ws.Reindex(filepath.Join(root, "_vars.scss"))
	_, ok := ws.Storage().Get(uri)
	assert.False(t, ok)

	workerStats, cacheStats := ws.Stats()
	assert.Zero(t, workerStats.Indexed)
	assert.Nil(t, cacheStats)
}

func TestWorkspaceStats(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"_a.scss": "$a: 1;\n", "_b.scss": "$b: 1;\n"})
	ws := openWorkspace(t, testConfig(t, true), root)

	workerStats, cacheStats := ws.Stats()
	assert.Equal(t, int64(2), workerStats.Indexed)
	require.NotNil(t, cacheStats)
	assert.Equal(t, 2, cacheStats.IndexedFiles)
	assert.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
}
