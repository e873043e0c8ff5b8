package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/errors"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/alucardeht/scss-lsp/internal/definition"
	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/index"
	"github.com/alucardeht/scss-lsp/internal/parser"
	"github.com/alucardeht/scss-lsp/internal/storage"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

const defaultSearchLimit = 50

type Workspace interface {
	Storage() *storage.Service
	Search(query string, limit int) ([]*index.IndexedSymbol, error)
}

// statsSource is implemented by workspaces that run an indexer.
type statsSource interface {
	Stats() (index.WorkerStats, *index.IndexStats)
}

type Status struct {
	Documents int                `json:"documents"`
	Worker    *index.WorkerStats `json:"worker,omitempty"`
	Cache     *index.IndexStats  `json:"cache,omitempty"`
}

// Handler turns tool calls into lookups against the workspace. Files named in
// a call are always re-read from disk.
type Handler struct {
	ws       Workspace
	settings definition.Settings
}

func NewHandler(ws Workspace, settings definition.Settings) *Handler {
	return &Handler{ws: ws, settings: settings}
}

func (h *Handler) Definition(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	doc, idx, err := h.load(req)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	h.ws.Storage().SetFromDisk(doc.URI(), idx)

	offset, err := cursor(req, doc)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	loc, err := definition.GoDefinition(doc, offset, h.ws.Storage(), h.settings)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if loc == nil {
		return mcpgo.NewToolResultText("no definition found"), nil
	}

	log.Debug("definition resolved", "path", doc.Path(), "offset", offset, "target", loc.URI)
	return jsonResult(loc)
}

// cursor reads the position of a definition call, preferring an explicit
// offset over a line and character.
func cursor(req mcpgo.CallToolRequest, doc *document.Document) (int, error) {
	if offset := req.GetInt("offset", -1); offset >= 0 {
		if offset > doc.Len() {
			return 0, errors.Wrapf(definition.ErrOffsetOutOfRange, "offset %d, document length %d", offset, doc.Len())
		}
		return offset, nil
	}

	line := req.GetInt("line", -1)
	if line < 0 {
		return 0, errors.New("either offset or line is required")
	}
	if line >= doc.LineCount() {
		return 0, errors.Wrapf(definition.ErrOffsetOutOfRange, "line %d, %d lines", line, doc.LineCount())
	}
	char := req.GetInt("character", 0)
	if char < 0 {
		return 0, errors.Newf("invalid character %d", char)
	}
	return doc.OffsetAt(symbols.Position{Line: line, Character: char}), nil
}

func (h *Handler) Symbols(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	_, idx, err := h.load(req)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	switch format := req.GetString("format", "json"); format {
	case "json":
		return jsonResult(idx)
	case "yaml":
		out, err := yaml.Marshal(idx)
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("encode symbols: %v", err)), nil
		}
		return mcpgo.NewToolResultText(string(out)), nil
	default:
		return mcpgo.NewToolResultError(fmt.Sprintf("unknown format %q", format)), nil
	}
}

func (h *Handler) Search(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcpgo.NewToolResultError("query is required"), nil
	}
	limit := req.GetInt("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	hits, err := h.ws.Search(query, limit)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if hits == nil {
		hits = []*index.IndexedSymbol{}
	}
	return jsonResult(hits)
}

func (h *Handler) Status(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	status := Status{Documents: h.ws.Storage().Len()}
	if src, ok := h.ws.(statsSource); ok {
		worker, cache := src.Stats()
		status.Worker = &worker
		status.Cache = cache
	}
	return jsonResult(status)
}

func (h *Handler) load(req mcpgo.CallToolRequest) (*document.Document, *symbols.Index, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return nil, nil, errors.New("path is required")
	}
	path, err := filepath.Abs(raw)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid path %q", raw)
	}

	content, _, _, err := index.ReadFileAsUTF8(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", path)
	}

	lang := document.LanguageSCSS
	if filepath.Ext(path) == ".css" {
		lang = "css"
	}
	doc := document.New(document.FromPath(path), lang, 0, content)
	return doc, parser.Parse(doc), nil
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(out)), nil
}
