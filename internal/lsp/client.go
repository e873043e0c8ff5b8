package lsp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/jsonrpc2"
)

var (
	ErrNotInitialized = errors.New("lsp client not initialized")
	ErrAlreadyClosed  = errors.New("lsp client already closed")
)

// Client speaks to a running server, over a daemon socket or an in-process
// pipe.
type Client struct {
	conn         *jsonrpc2.Conn
	config       ClientConfig
	state        atomic.Value
	capabilities ServerCapabilities
	requestCount int64
	errorCount   int64
	lastRequest  time.Time
	mu           sync.RWMutex
	closedCh     chan struct{}
}

type ClientConfig struct {
	InitTimeout    time.Duration
	RequestTimeout time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		InitTimeout:    30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

func NewClient(ctx context.Context, rwc io.ReadWriteCloser, config ClientConfig) *Client {
	c := &Client{
		config:   config,
		closedCh: make(chan struct{}),
	}
	c.state.Store(StateStarting)

	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, &clientHandler{})
	return c
}

// clientHandler drops server-initiated messages; the server sends none.
type clientHandler struct{}

func (h *clientHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {}

// Initialize performs the handshake. options is sent as initializationOptions
// and may be nil.
func (c *Client) Initialize(ctx context.Context, rootURI string, options any) error {
	c.mu.Lock()
	if c.getState() != StateStarting {
		c.mu.Unlock()
		return errors.Newf("cannot initialize: client in state %s", c.getState())
	}
	c.state.Store(StateInitializing)
	c.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, c.config.InitTimeout)
	defer cancel()

	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   rootURI,
	}
	if options != nil {
		raw, err := json.Marshal(options)
		if err != nil {
			return errors.Wrap(err, "encode initialization options")
		}
		params.InitializationOptions = raw
	}

	var result InitializeResult
	if err := c.conn.Call(initCtx, "initialize", params, &result); err != nil {
		c.state.Store(StateStopped)
		return errors.Wrap(err, "initialize failed")
	}

	c.mu.Lock()
	c.capabilities = result.Capabilities
	c.mu.Unlock()

	if err := c.conn.Notify(initCtx, "initialized", struct{}{}); err != nil {
		c.state.Store(StateStopped)
		return errors.Wrap(err, "initialized notification failed")
	}

	c.state.Store(StateReady)
	return nil
}

func (c *Client) Capabilities() ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	if !c.IsReady() {
		return ErrNotInitialized
	}
	c.recordRequest()
	if err := c.conn.Notify(ctx, method, params); err != nil {
		c.recordError()
		return errors.Wrapf(err, "%s failed", method)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	if !c.IsReady() {
		return ErrNotInitialized
	}
	c.recordRequest()

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if err := c.conn.Call(timeoutCtx, method, params, result); err != nil {
		c.recordError()
		return errors.Wrapf(err, "%s request failed", method)
	}
	return nil
}

func (c *Client) DidOpen(ctx context.Context, uri, text string) error {
	return c.notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: "scss", Version: 1, Text: text},
	})
}

func (c *Client) DidChange(ctx context.Context, uri string, version int32, text string) error {
	return c.notify(ctx, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{URI: uri, Version: version},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	})
}

func (c *Client) DidClose(ctx context.Context, uri string) error {
	return c.notify(ctx, "textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// Configure sends settings as the "scss" section of a configuration change.
func (c *Client) Configure(ctx context.Context, settings any) error {
	raw, err := json.Marshal(map[string]any{"scss": settings})
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	return c.notify(ctx, "workspace/didChangeConfiguration", DidChangeConfigurationParams{Settings: raw})
}

// Definition returns the declaration behind the symbol at pos, or nil.
func (c *Client) Definition(ctx context.Context, uri string, pos Position) (*Location, error) {
	var loc *Location
	err := c.call(ctx, "textDocument/definition", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}, &loc)
	return loc, err
}

func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	var out []SymbolInformation
	err := c.call(ctx, "workspace/symbol", WorkspaceSymbolParams{Query: query}, &out)
	return out, err
}

func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.call(ctx, "shutdown", nil, nil); err != nil {
		return err
	}
	c.state.Store(StateShutdown)

	if err := c.conn.Notify(ctx, "exit", nil); err != nil {
		return errors.Wrap(err, "exit notification failed")
	}
	return nil
}

func (c *Client) Close() error {
	select {
	case <-c.closedCh:
		return ErrAlreadyClosed
	default:
		close(c.closedCh)
	}

	c.state.Store(StateStopped)
	return c.conn.Close()
}

// Done is closed once the connection to the server is gone.
func (c *Client) Done() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

func (c *Client) IsReady() bool {
	return c.getState() == StateReady
}

func (c *Client) getState() LSPState {
	return c.state.Load().(LSPState)
}

func (c *Client) GetState() LSPState {
	return c.getState()
}

type ClientStats struct {
	State        LSPState  `json:"state"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	LastRequest  time.Time `json:"last_request,omitempty"`
}

func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientStats{
		State:        c.getState(),
		RequestCount: atomic.LoadInt64(&c.requestCount),
		ErrorCount:   atomic.LoadInt64(&c.errorCount),
		LastRequest:  c.lastRequest,
	}
}

func (c *Client) recordRequest() {
	atomic.AddInt64(&c.requestCount, 1)
	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func (c *Client) recordError() {
	atomic.AddInt64(&c.errorCount, 1)
}
