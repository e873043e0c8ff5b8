package lsp

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/index"
	"github.com/alucardeht/scss-lsp/internal/storage"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

type fakeWorkspace struct {
	store *storage.Service

	mu            sync.Mutex
	roots         []string
	reindexed     []string
	panicOnSearch bool
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{store: storage.New()}
}

func (f *fakeWorkspace) Storage() *storage.Service { return f.store }

func (f *fakeWorkspace) AddRoot(root string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = append(f.roots, root)
	return nil
}

func (f *fakeWorkspace) Reindex(path string) {
	f.mu.Lock()
	f.reindexed = append(f.reindexed, path)
	f.mu.Unlock()
	f.store.DeleteFromDisk(document.FromPath(path))
}

func (f *fakeWorkspace) Search(query string, limit int) ([]*index.IndexedSymbol, error) {
	if f.panicOnSearch {
		panic("search exploded")
	}
	var hits []*index.IndexedSymbol
	for _, entry := range f.store.All() {
		for _, kind := range symbols.Kinds() {
			for _, sym := range entry.Index.Symbols(kind) {
				if strings.Contains(sym.Name, query) {
					hits = append(hits, &index.IndexedSymbol{Path: entry.Index.Filepath, URI: entry.Index.Document, Name: sym.Name, Kind: kind, Position: sym.Position})
				}
			}
		}
	}
	return hits, nil
}

func (f *fakeWorkspace) reindexedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reindexed...)
}

type session struct {
	client *Client
	server *Server
	done   chan struct{}
}

func startSession(t *testing.T, ws Workspace, opts Options) *session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	srv, err := NewServer(ws, opts)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	s := &session{server: srv, done: make(chan struct{})}
	go func() {
		_ = srv.Serve(ctx, serverConn)
		close(s.done)
	}()

	s.client = NewClient(ctx, clientConn, DefaultClientConfig())
	t.Cleanup(func() {
		_ = s.client.Close()
		cancel()
		<-s.done
	})
	return s
}

func initialized(t *testing.T, ws Workspace, opts Options) *session {
	t.Helper()
	s := startSession(t, ws, opts)
	require.NoError(t, s.client.Initialize(context.Background(), "file:///w", nil))
	return s
}

func rpcCode(t *testing.T, err error) int64 {
	t.Helper()
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr), "want a JSON-RPC error, got %v", err)
	return rpcErr.Code
}

const (
	varsURI = "file:///w/_vars.scss"
	mainURI = "file:///w/main.scss"
)

func TestInitializeAdvertisesCapabilities(t *testing.T) {
	ws := newFakeWorkspace()
	s := initialized(t, ws, Options{})

	caps := s.client.Capabilities()
	assert.True(t, caps.DefinitionProvider)
	assert.True(t, caps.WorkspaceSymbolProvider)
	require.NotNil(t, caps.TextDocumentSync)
	assert.Equal(t, SyncFull, caps.TextDocumentSync.Change)
	assert.Equal(t, []string{"/w"}, ws.roots)
	assert.Equal(t, StateReady, s.server.State())
}

func TestDefinitionAcrossOpenDocuments(t *testing.T) {
	ctx := context.Background()
	s := initialized(t, newFakeWorkspace(), Options{})

	require.NoError(t, s.client.DidOpen(ctx, varsURI, "$primary: red;\n"))
	require.NoError(t, s.client.DidOpen(ctx, mainURI, "@import \"vars\";\n.a { color: $primary; }\n"))

	loc, err := s.client.Definition(ctx, mainURI, Position{Line: 1, Character: 14})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, varsURI, loc.URI)
	assert.Equal(t, Range{Start: Position{Line: 0, Character: 0}, End: Position{Line: 0, Character: 8}}, loc.Range)

	loc, err = s.client.Definition(ctx, varsURI, Position{Line: 0, Character: 3})
	require.NoError(t, err)
	assert.Nil(t, loc, "declaration sites resolve to nothing")

	loc, err = s.client.Definition(ctx, mainURI, Position{Line: 1, Character: 7})
	require.NoError(t, err)
	assert.Nil(t, loc, "property names are not symbols")
}

func TestDidChangeReplacesBuffer(t *testing.T) {
	ctx := context.Background()
	s := initialized(t, newFakeWorkspace(), Options{})

	require.NoError(t, s.client.DidOpen(ctx, varsURI, "$primary: red;\n"))
	require.NoError(t, s.client.DidOpen(ctx, mainURI, ".a { color: $primary; }\n"))
	require.NoError(t, s.client.DidChange(ctx, varsURI, 2, "$other: 1;\n$primary: blue;\n"))

	loc, err := s.client.Definition(ctx, mainURI, Position{Line: 0, Character: 14})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 1, loc.Range.Start.Line)

	// older versions are ignored
	require.NoError(t, s.client.DidChange(ctx, varsURI, 1, "$primary: stale;\n"))
	loc, err = s.client.Definition(ctx, mainURI, Position{Line: 0, Character: 14})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 1, loc.Range.Start.Line)
}

func TestDefinitionOutOfRange(t *testing.T) {
	ctx := context.Background()
	s := initialized(t, newFakeWorkspace(), Options{})
	require.NoError(t, s.client.DidOpen(ctx, mainURI, "$a: 1;\n"))

	_, err := s.client.Definition(ctx, mainURI, Position{Line: 5, Character: 0})
	require.Error(t, err)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))

	_, err = s.client.Definition(ctx, mainURI, Position{Line: -1, Character: 0})
	require.Error(t, err)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))

	// the session survives the fault
	loc, err := s.client.Definition(ctx, mainURI, Position{Line: 0, Character: 1})
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestConfigurationTogglesCaseSensitivity(t *testing.T) {
	ctx := context.Background()
	s := initialized(t, newFakeWorkspace(), Options{Settings: DefaultOptions().Settings})

	require.NoError(t, s.client.DidOpen(ctx, varsURI, "@mixin Button {}\n"))
	require.NoError(t, s.client.DidOpen(ctx, mainURI, ".a { @include button; }\n"))
	pos := Position{Line: 0, Character: 16}

	loc, err := s.client.Definition(ctx, mainURI, pos)
	require.NoError(t, err)
	assert.Nil(t, loc)

	require.NoError(t, s.client.Configure(ctx, map[string]any{"caseSensitive": false}))
	loc, err = s.client.Definition(ctx, mainURI, pos)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, varsURI, loc.URI)
	assert.Equal(t, Position{Line: 0, Character: 7}, loc.Range.Start)
	assert.False(t, s.server.Settings().CaseSensitive)

	require.NoError(t, s.client.Configure(ctx, map[string]any{"unrelated": 1}))
	loc, err = s.client.Definition(ctx, mainURI, pos)
	require.NoError(t, err)
	assert.NotNil(t, loc, "unknown keys leave the setting alone")
}

func TestInitializationOptionsApplySettings(t *testing.T) {
	s := startSession(t, newFakeWorkspace(), Options{Settings: DefaultOptions().Settings})
	opts := map[string]any{"scss": map[string]any{"caseSensitive": false}}
	require.NoError(t, s.client.Initialize(context.Background(), "file:///w", opts))
	assert.False(t, s.server.Settings().CaseSensitive)
}

func TestCloseAndEvictionReindexFromDisk(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	s := initialized(t, ws, Options{MaxOpenDocuments: 2})

	require.NoError(t, s.client.DidOpen(ctx, "file:///w/a.scss", "$a: 1;"))
	require.NoError(t, s.client.DidOpen(ctx, "file:///w/b.scss", "$b: 1;"))
	require.NoError(t, s.client.DidClose(ctx, "file:///w/a.scss"))
	require.NoError(t, s.client.DidOpen(ctx, "file:///w/c.scss", "$c: 1;"))
	require.NoError(t, s.client.DidOpen(ctx, "file:///w/d.scss", "$d: 1;"))
	require.NoError(t, s.client.DidOpen(ctx, "untitled:Untitled-1", "$u: 1;"))

	// a request round trip orders the notifications above before the checks
	_, err := s.client.WorkspaceSymbols(ctx, "$")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.FromSlash("/w/a.scss"),
		filepath.FromSlash("/w/b.scss"),
		filepath.FromSlash("/w/c.scss"),
	}, ws.reindexedPaths())
	assert.Equal(t, 2, s.server.Stats().OpenDocuments)

	require.NoError(t, s.client.DidClose(ctx, "untitled:Untitled-1"))
	_, err = s.client.WorkspaceSymbols(ctx, "$")
	require.NoError(t, err)
	_, ok := ws.store.Get("untitled:Untitled-1")
	assert.False(t, ok)
}

func TestBufferHeldUntilLastSessionCloses(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	first := initialized(t, ws, Options{})
	second := initialized(t, ws, Options{})

	require.NoError(t, first.client.DidOpen(ctx, varsURI, "$first: 1;\n"))
	require.NoError(t, second.client.DidOpen(ctx, varsURI, "$second: 1;\n"))
	require.NoError(t, first.client.DidClose(ctx, varsURI))
	_, err := first.client.WorkspaceSymbols(ctx, "$")
	require.NoError(t, err)
	_, err = second.client.WorkspaceSymbols(ctx, "$")
	require.NoError(t, err)

	assert.Empty(t, ws.reindexedPaths())
	idx, ok := ws.store.Get(varsURI)
	require.True(t, ok)
	vars := idx.Symbols(symbols.KindVariable)
	require.Len(t, vars, 1)
	assert.Equal(t, "$second", vars[0].Name)

	require.NoError(t, second.client.DidClose(ctx, varsURI))
	_, err = second.client.WorkspaceSymbols(ctx, "$")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.FromSlash("/w/_vars.scss")}, ws.reindexedPaths())
	assert.False(t, ws.store.Overlaid(varsURI))
}

func TestDefinitionInUnopenedFile(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	s := initialized(t, ws, Options{})

	path := filepath.Join(t.TempDir(), "_local.scss")
	require.NoError(t, os.WriteFile(path, []byte("$a: 1;\n.x { width: $a; }\n"), 0o644))
	uri := document.FromPath(path)

	loc, err := s.client.Definition(ctx, uri, Position{Line: 1, Character: 13})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, uri, loc.URI)
	assert.Equal(t, Position{Line: 0, Character: 0}, loc.Range.Start)

	loc, err = s.client.Definition(ctx, "file:///does/not/exist.scss", Position{})
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestWorkspaceSymbol(t *testing.T) {
	ctx := context.Background()
	s := initialized(t, newFakeWorkspace(), Options{})
	require.NoError(t, s.client.DidOpen(ctx, varsURI, "$größe: 1;\n@mixin grid-row {}\n@function grid-width($n) { @return $n; }\n"))

	syms, err := s.client.WorkspaceSymbols(ctx, "grid")
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, SymbolKindMethod, syms[0].Kind)
	assert.Equal(t, "_vars.scss", syms[0].ContainerName)
	assert.Equal(t, SymbolKindFunction, syms[1].Kind)

	syms, err = s.client.WorkspaceSymbols(ctx, "größe")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, SymbolKindVariable, syms[0].Kind)
	assert.Equal(t, Range{End: Position{Character: 6}}, syms[0].Location.Range)
}

func TestRequestsBeforeInitialize(t *testing.T) {
	ws := newFakeWorkspace()
	srv, err := NewServer(ws, Options{})
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, serverConn)

	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(clientConn, jsonrpc2.VSCodeObjectCodec{}), &clientHandler{})
	defer conn.Close()

	var loc *Location
	err = conn.Call(ctx, "textDocument/definition", TextDocumentPositionParams{}, &loc)
	require.Error(t, err)
	assert.Equal(t, CodeServerNotInitialized, rpcCode(t, err))

	var result InitializeResult
	require.NoError(t, conn.Call(ctx, "initialize", InitializeParams{RootPath: "/w"}, &result))
	err = conn.Call(ctx, "initialize", InitializeParams{}, &result)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidRequest), rpcCode(t, err))

	err = conn.Call(ctx, "textDocument/hover", TextDocumentPositionParams{}, &loc)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcCode(t, err))

	err = conn.Call(ctx, "textDocument/definition", nil, &loc)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))
}

func TestPanicIsRecovered(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	ws.panicOnSearch = true
	s := initialized(t, ws, Options{})

	_, err := s.client.WorkspaceSymbols(ctx, "x")
	require.Error(t, err)
	assert.Equal(t, int64(jsonrpc2.CodeInternalError), rpcCode(t, err))

	require.NoError(t, s.client.DidOpen(ctx, mainURI, "$a: 1;\n"))
	_, err = s.client.Definition(ctx, mainURI, Position{})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), s.server.Stats().ErrorCount)
}

func TestShutdownAndExit(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	s := initialized(t, ws, Options{})
	require.NoError(t, s.client.DidOpen(ctx, varsURI, "$a: 1;"))

	require.NoError(t, s.client.Shutdown(ctx))

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after exit")
	}
	assert.Equal(t, StateStopped, s.server.State())
	assert.Equal(t, []string{filepath.FromSlash("/w/_vars.scss")}, ws.reindexedPaths())
}

func TestRoots(t *testing.T) {
	assert.Equal(t, []string{filepath.FromSlash("/a"), filepath.FromSlash("/b")}, roots(InitializeParams{
		RootURI:          "file:///ignored",
		WorkspaceFolders: []WorkspaceFolder{{URI: "file:///a"}, {URI: "file:///b"}},
	}))
	assert.Equal(t, []string{filepath.FromSlash("/r")}, roots(InitializeParams{RootURI: "file:///r"}))
	assert.Equal(t, []string{"/p"}, roots(InitializeParams{RootPath: "/p"}))
	assert.Empty(t, roots(InitializeParams{}))
}

func TestSymbolKindOf(t *testing.T) {
	assert.Equal(t, SymbolKindVariable, SymbolKindOf(symbols.KindVariable))
	assert.Equal(t, SymbolKindMethod, SymbolKindOf(symbols.KindMixin))
	assert.Equal(t, SymbolKindFunction, SymbolKindOf(symbols.KindFunction))
	assert.Equal(t, "method", SymbolKindMethod.String())
}
