package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

func project(t *testing.T) string {
	t.Helper()
	t.Setenv("SCSSLSP_INDEX_CACHE", "false")
	t.Setenv("SCSSLSP_WATCHER_ENABLED", "false")
	t.Setenv("SCSSLSP_LOG_LEVEL", "error")

	dir := t.TempDir()
	files := map[string]string{
		"_vars.scss": "$brand: teal;\n@mixin card {}\n",
		"main.scss":  "@import \"vars\";\n.a { color: $brand; @include card; }\n",
		"theme.css":  ".b { color: red; }\n",
		"notes.txt":  "$brand: nope;\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDefinitionCommand(t *testing.T) {
	dir := project(t)
	main := filepath.Join(dir, "main.scss")
	vars := filepath.Join(dir, "_vars.scss")

	out, err := run(t, "definition", main, "1:14", "--root", dir)
	require.NoError(t, err)
	assert.Equal(t, vars+":1:1\n", out)

	offset := strings.Index("@import \"vars\";\n.a { color: $brand; @include c", "@include c") + len("@include c")
	out, err = run(t, "definition", main, strconv.Itoa(offset), "--root", dir, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, document.FromPath(vars))
	assert.Contains(t, out, `"line":1`)

	out, err = run(t, "definition", main, "1:2", "--root", dir)
	require.NoError(t, err)
	assert.Equal(t, "no definition found\n", out)

	_, err = run(t, "definition", main, "9:0", "--root", dir)
	assert.ErrorContains(t, err, "offset out of range")
}

func TestSymbolsCommand(t *testing.T) {
	dir := project(t)

	out, err := run(t, "symbols", filepath.Join(dir, "_vars.scss"), "--root", dir)
	require.NoError(t, err)
	var idx symbols.Index
	require.NoError(t, yaml.Unmarshal([]byte(out), &idx))
	require.Len(t, idx.Variables, 1)
	assert.Equal(t, "$brand", idx.Variables[0].Name)
	require.Len(t, idx.Mixins, 1)
	assert.Equal(t, "card", idx.Mixins[0].Name)

	out, err = run(t, "symbols", filepath.Join(dir, "_vars.scss"), "--root", dir, "-f", "json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"name": "$brand"`)

	_, err = run(t, "symbols", filepath.Join(dir, "_vars.scss"), "--root", dir, "-f", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestSearchCommand(t *testing.T) {
	dir := project(t)

	out, err := run(t, "search", "bra", "--root", dir)
	require.NoError(t, err)
	assert.Equal(t, "$brand\tvariable\t_vars.scss:1:1\n", out)

	out, err = run(t, "search", "zzz", "--root", dir)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDaemonStatusWithoutDaemon(t *testing.T) {
	dir := project(t)
	t.Setenv("SCSSLSP_DAEMON_PID_FILE", filepath.Join(dir, "daemon.pid"))
	t.Setenv("SCSSLSP_DAEMON_SOCKET_PATH", filepath.Join(dir, "d.sock"))

	out, err := run(t, "daemon", "status", "--root", dir)
	require.NoError(t, err)
	assert.Equal(t, "not running\n", out)
}

func TestInvalidLogLevel(t *testing.T) {
	dir := project(t)
	_, err := run(t, "symbols", filepath.Join(dir, "_vars.scss"), "--root", dir, "--log-level", "loud")
	assert.Error(t, err)
}

func TestParsePosition(t *testing.T) {
	doc := document.New("file:///a.scss", "", 0, "$a: 1;\n.b { c: $a; }\n")

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"15", 15, false},
		{"1:8", 15, false},
		{"1:99", 20, false},
		{"-1", 0, true},
		{"999", 0, true},
		{"5:0", 0, true},
		{"x:1", 0, true},
		{"1:y", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePosition(doc, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
