package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/scss-lsp/internal/definition"
	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/index"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/parser"
	"github.com/alucardeht/scss-lsp/internal/storage"
)

var log = logger.ForComponent("lsp")

const ServerName = "scss-lsp"

// Workspace is the state shared by every session of one process.
type Workspace interface {
	Storage() *storage.Service
	AddRoot(root string) error
	Reindex(path string)
	Search(query string, limit int) ([]*index.IndexedSymbol, error)
}

type Options struct {
	Settings         definition.Settings
	MaxOpenDocuments int
	SymbolLimit      int
	Version          string
}

func DefaultOptions() Options {
	return Options{
		Settings:         definition.DefaultSettings(),
		MaxOpenDocuments: 256,
		SymbolLimit:      200,
		Version:          "dev",
	}
}

// Server is one editor session. Open buffers override the disk index for
// their URI until they are closed or pushed out of the open-document cache,
// at which point the file is indexed from disk again.
type Server struct {
	ws   Workspace
	opts Options

	mu       sync.RWMutex
	state    LSPState
	settings definition.Settings

	docs *lru.Cache[string, *document.Document]

	requestCount int64
	errorCount   int64
	startedAt    time.Time
}

func NewServer(ws Workspace, opts Options) (*Server, error) {
	if ws == nil {
		return nil, errors.New("lsp server needs a workspace")
	}
	defaults := DefaultOptions()
	if opts.MaxOpenDocuments <= 0 {
		opts.MaxOpenDocuments = defaults.MaxOpenDocuments
	}
	if opts.SymbolLimit <= 0 {
		opts.SymbolLimit = defaults.SymbolLimit
	}
	if opts.Version == "" {
		opts.Version = defaults.Version
	}

	s := &Server{
		ws:        ws,
		opts:      opts,
		state:     StateStarting,
		settings:  opts.Settings,
		startedAt: time.Now(),
	}

	docs, err := lru.NewWithEvict(opts.MaxOpenDocuments, s.onEvict)
	if err != nil {
		return nil, errors.Wrap(err, "create document cache")
	}
	s.docs = docs
	return s, nil
}

type stdioReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *stdioReadWriteCloser) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

func (s *stdioReadWriteCloser) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// StdioConn joins a reader and a writer, such as stdin and stdout, into one
// stream.
func StdioConn(in io.ReadCloser, out io.WriteCloser) io.ReadWriteCloser {
	return &stdioReadWriteCloser{reader: in, writer: out}
}

// Serve runs the session over rwc until the client disconnects, sends exit,
// or ctx is cancelled. Open documents are handed back to the indexer on
// return.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(s.handle))

	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		conn.Close()
		<-conn.DisconnectNotify()
	}

	s.docs.Purge()
	s.setState(StateStopped)
	log.Info("session ended", "requests", atomic.LoadInt64(&s.requestCount), "errors", atomic.LoadInt64(&s.errorCount))
	return nil
}

func (s *Server) State() LSPState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Server) setState(state LSPState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Server) Settings() definition.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result interface{}, err error) {
	atomic.AddInt64(&s.requestCount, 1)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in handler", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: fmt.Sprintf("internal error in %s", req.Method)}
		}
		if err != nil {
			atomic.AddInt64(&s.errorCount, 1)
			if req.Notif {
				log.Warn("notification failed", "method", req.Method, "error", err)
				result, err = nil, nil
			}
		}
	}()

	log.Debug("request", "method", req.Method, "notification", req.Notif)

	if req.Method == "exit" {
		s.setState(StateStopped)
		go conn.Close()
		return nil, nil
	}

	switch state := s.State(); {
	case state == StateShutdown:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server is shutting down"}
	case state != StateReady && req.Method != "initialize":
		return nil, &jsonrpc2.Error{Code: CodeServerNotInitialized, Message: "server not initialized"}
	case state == StateReady && req.Method == "initialize":
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server already initialized"}
	}

	switch req.Method {
	case "initialize":
		return s.initialize(req)
	case "initialized", "$/cancelRequest", "$/setTrace":
		return nil, nil
	case "shutdown":
		s.setState(StateShutdown)
		return nil, nil
	case "textDocument/didOpen":
		return nil, s.didOpen(req)
	case "textDocument/didChange":
		return nil, s.didChange(req)
	case "textDocument/didClose":
		return nil, s.didClose(req)
	case "textDocument/didSave":
		return nil, nil
	case "textDocument/definition":
		return s.definition(req)
	case "workspace/symbol":
		return s.workspaceSymbol(req)
	case "workspace/didChangeConfiguration":
		return nil, s.didChangeConfiguration(req)
	}

	if req.Notif || strings.HasPrefix(req.Method, "$/") {
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not supported: " + req.Method}
}

func decode(req *jsonrpc2.Request, v any) error {
	if req.Params == nil || string(*req.Params) == "null" {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (s *Server) initialize(req *jsonrpc2.Request) (*InitializeResult, error) {
	var params InitializeParams
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	s.setState(StateInitializing)

	if err := s.configure(params.InitializationOptions); err != nil {
		log.Warn("ignoring initialization options", "error", err)
	}

	for _, root := range roots(params) {
		if err := s.ws.AddRoot(root); err != nil {
			log.Warn("failed to add workspace root", "root", root, "error", err)
		}
	}

	s.setState(StateReady)
	log.Info("session initialized", "process_id", params.ProcessID, "roots", len(roots(params)))

	return &InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync:        &TextDocumentSyncOptions{OpenClose: true, Change: SyncFull},
			DefinitionProvider:      true,
			WorkspaceSymbolProvider: true,
		},
		ServerInfo: &ServerInfo{Name: ServerName, Version: s.opts.Version},
	}, nil
}

// roots lists the workspace folders of params as paths, falling back to the
// deprecated rootUri and rootPath fields.
func roots(params InitializeParams) []string {
	var out []string
	for _, folder := range params.WorkspaceFolders {
		if p, err := document.ToPath(folder.URI); err == nil {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		return out
	}
	if params.RootURI != "" {
		if p, err := document.ToPath(params.RootURI); err == nil {
			return []string{p}
		}
	}
	if params.RootPath != "" {
		return []string{params.RootPath}
	}
	return nil
}

// configure applies the "scss" section of a settings payload.
func (s *Server) configure(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var section struct {
		SCSS json.RawMessage `json:"scss"`
	}
	if err := json.Unmarshal(raw, &section); err != nil {
		return errors.Wrap(err, "decode settings payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	merged, err := s.settings.Merge(section.SCSS)
	if err != nil {
		return err
	}
	s.settings = merged
	return nil
}

func (s *Server) didChangeConfiguration(req *jsonrpc2.Request) error {
	var params DidChangeConfigurationParams
	if err := decode(req, &params); err != nil {
		return err
	}
	if err := s.configure(params.Settings); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	log.Debug("settings updated", "case_sensitive", s.Settings().CaseSensitive)
	return nil
}

func (s *Server) didOpen(req *jsonrpc2.Request) error {
	var params DidOpenTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}
	item := params.TextDocument
	s.open(document.New(item.URI, item.LanguageID, item.Version, item.Text))
	return nil
}

func (s *Server) didChange(req *jsonrpc2.Request) error {
	var params DidChangeTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}
	if len(params.ContentChanges) == 0 {
		return nil
	}

	uri := params.TextDocument.URI
	lang := document.LanguageSCSS
	if prev, ok := s.docs.Peek(uri); ok {
		if prev.Version() > params.TextDocument.Version {
			log.Debug("dropping stale change", "uri", uri, "version", params.TextDocument.Version)
			return nil
		}
		lang = prev.LanguageID()
	}

	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	s.open(document.New(uri, lang, params.TextDocument.Version, text))
	return nil
}

// open stores doc as this session's buffer. Each session holds one overlay per
// open URI so the indexer and other sessions leave it alone until released.
func (s *Server) open(doc *document.Document) {
	idx := parser.Parse(doc)
	if s.docs.Contains(doc.URI()) {
		s.ws.Storage().Set(doc.URI(), idx)
	} else {
		s.ws.Storage().Overlay(doc.URI(), idx)
	}
	s.docs.Add(doc.URI(), doc)
}

func (s *Server) didClose(req *jsonrpc2.Request) error {
	var params DidCloseTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}
	s.docs.Remove(params.TextDocument.URI)
	return nil
}

// onEvict hands a document that is no longer open back to the disk index.
func (s *Server) onEvict(uri string, _ *document.Document) {
	if !s.ws.Storage().Release(uri) {
		return
	}
	if path, err := document.ToPath(uri); err == nil {
		s.ws.Reindex(path)
		return
	}
	s.ws.Storage().DeleteFromDisk(uri)
}

// document returns the open buffer for uri, or the file behind it read from
// disk. A file nothing has indexed yet is indexed on the way.
func (s *Server) document(uri string) (*document.Document, error) {
	if doc, ok := s.docs.Get(uri); ok {
		return doc, nil
	}

	path, err := document.ToPath(uri)
	if err != nil {
		return nil, err
	}
	content, _, _, err := index.ReadFileAsUTF8(path)
	if err != nil {
		return nil, err
	}

	lang := document.LanguageSCSS
	if strings.EqualFold(filepath.Ext(path), ".css") {
		lang = "css"
	}
	doc := document.New(uri, lang, 0, content)

	store := s.ws.Storage()
	if _, ok := store.Get(uri); !ok {
		if _, ok := store.FindByPath(path); !ok {
			store.SetFromDisk(uri, parser.Parse(doc))
		}
	}
	return doc, nil
}

func (s *Server) definition(req *jsonrpc2.Request) (*Location, error) {
	var params TextDocumentPositionParams
	if err := decode(req, &params); err != nil {
		return nil, err
	}

	doc, err := s.document(params.TextDocument.URI)
	if err != nil {
		log.Debug("definition on unknown document", "uri", params.TextDocument.URI, "error", err)
		return nil, nil
	}

	offset, err := offsetOf(doc, params.Position)
	if err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}

	loc, err := definition.GoDefinition(doc, offset, s.ws.Storage(), s.Settings())
	if errors.Is(err, definition.ErrOffsetOutOfRange) {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	if err != nil {
		return nil, &jsonrpc2.Error{Code: CodeRequestFailed, Message: err.Error()}
	}
	return loc, nil
}

// offsetOf converts pos to a byte offset. Characters past the end of a line
// clamp to it; a line outside the document is an error.
func offsetOf(doc *document.Document, pos Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 || pos.Line >= doc.LineCount() {
		return 0, errors.Wrapf(definition.ErrOffsetOutOfRange, "position %d:%d, %d lines", pos.Line, pos.Character, doc.LineCount())
	}
	return doc.OffsetAt(pos), nil
}

func (s *Server) workspaceSymbol(req *jsonrpc2.Request) ([]SymbolInformation, error) {
	var params WorkspaceSymbolParams
	if err := decode(req, &params); err != nil {
		return nil, err
	}

	hits, err := s.ws.Search(params.Query, s.opts.SymbolLimit)
	if err != nil {
		return nil, &jsonrpc2.Error{Code: CodeRequestFailed, Message: err.Error()}
	}

	out := make([]SymbolInformation, 0, len(hits))
	for _, hit := range hits {
		end := hit.Position
		end.Character += document.UTF16Len(hit.Name)
		info := SymbolInformation{
			Name:     hit.Name,
			Kind:     SymbolKindOf(hit.Kind),
			Location: Location{URI: document.Addressable(hit.URI), Range: Range{Start: hit.Position, End: end}},
		}
		if hit.Path != "" {
			info.ContainerName = filepath.Base(hit.Path)
		}
		out = append(out, info)
	}
	return out, nil
}

type ServerStats struct {
	State         LSPState      `json:"state"`
	OpenDocuments int           `json:"open_documents"`
	RequestCount  int64         `json:"request_count"`
	ErrorCount    int64         `json:"error_count"`
	Uptime        time.Duration `json:"uptime"`
}

func (s *Server) Stats() ServerStats {
	return ServerStats{
		State:         s.State(),
		OpenDocuments: s.docs.Len(),
		RequestCount:  atomic.LoadInt64(&s.requestCount),
		ErrorCount:    atomic.LoadInt64(&s.errorCount),
		Uptime:        time.Since(s.startedAt),
	}
}
