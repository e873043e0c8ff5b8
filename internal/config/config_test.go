package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/scss-lsp/internal/index"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{WorkspaceRoot: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Index.Enabled)
	assert.Equal(t, index.DefaultWorkerConfig().WorkerCount, cfg.Index.WorkerCount)
	assert.Equal(t, []string{".scss", ".css"}, cfg.Index.Extensions)
	assert.Equal(t, 300*time.Millisecond, cfg.Watcher.DebounceWindow)
	assert.True(t, cfg.Definition.CaseSensitive)
	assert.Equal(t, 256, cfg.LSP.MaxOpenDocuments)
	assert.NotEmpty(t, cfg.Daemon.SocketPath)
	assert.Empty(t, cfg.File)
}

func TestLoadProjectFileFromParent(t *testing.T) {
	root := t.TempDir()
	content := `
log:
  level: debug
definition:
  case_sensitive: false
watcher:
  debounce_window: 50ms
index:
  worker_count: 4
  exclude_patterns:
    - "**/legacy/**"
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectFileName), []byte(content), 0o644))
	nested := filepath.Join(root, "src", "styles")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, err := Load(LoadOptions{WorkspaceRoot: nested})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, ProjectFileName), cfg.File)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Definition.CaseSensitive)
	assert.Equal(t, 50*time.Millisecond, cfg.Watcher.DebounceWindow)
	assert.Equal(t, 4, cfg.Index.WorkerCount)
	assert.Equal(t, []string{"**/legacy/**"}, cfg.Index.ExcludePatterns)
	assert.Equal(t, 256, cfg.LSP.MaxOpenDocuments)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log:\n  level: warn\n"), 0o644))

	t.Setenv("SCSSLSP_LOG_LEVEL", "error")
	t.Setenv("SCSSLSP_DEFINITION_CASE_SENSITIVE", "false")

	cfg, err := Load(LoadOptions{ConfigFile: file})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.False(t, cfg.Definition.CaseSensitive)
}

func TestLoadRejectsInvalid(t *testing.T) {
	root := t.TempDir()

	bad := filepath.Join(root, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log:\n  level: loud\n"), 0o644))
	_, err := Load(LoadOptions{ConfigFile: bad})
	assert.Error(t, err)

	_, err = Load(LoadOptions{ConfigFile: filepath.Join(root, "missing.yaml")})
	assert.Error(t, err)
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	assert.Empty(t, FindProjectConfig(""))

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", ProjectFileName), []byte("{}"), 0o644))

	assert.Equal(t, filepath.Join(root, "a", ProjectFileName), FindProjectConfig(nested))
}

func TestIndexDBPath(t *testing.T) {
	cfg := &Config{}
	a := cfg.IndexDBPath("/work/a")
	b := cfg.IndexDBPath("/work/b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, cfg.IndexDBPath("/work/a/"))

	cfg.Index.DBPath = "/tmp/fixed.db"
	assert.Equal(t, "/tmp/fixed.db", cfg.IndexDBPath("/work/a"))
}

func TestWorkerConfig(t *testing.T) {
	cfg, err := Load(LoadOptions{WorkspaceRoot: t.TempDir()})
	require.NoError(t, err)

	wc := cfg.WorkerConfig("/work")
	assert.Equal(t, "/work", wc.Root)
	assert.Equal(t, cfg.Index.ExcludePatterns, wc.ExcludePatterns)
	assert.Equal(t, cfg.Index.MaxFileSize, wc.MaxFileSize)
}

func TestLoggerConfig(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "debug", Format: "json", File: filepath.Join(t.TempDir(), "logs", "lsp.log")}}

	lc, f, err := cfg.Logger()
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, f, lc.Output)
}
