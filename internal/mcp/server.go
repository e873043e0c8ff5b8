// Package mcp exposes definition lookups and the symbol index as MCP tools, so
// agents can navigate stylesheets without an editor session.
package mcp

import (
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alucardeht/scss-lsp/internal/definition"
	"github.com/alucardeht/scss-lsp/internal/logger"
)

var log = logger.ForComponent("mcp")

const (
	ToolDefinition = "scss_definition"
	ToolSymbols    = "scss_symbols"
	ToolSearch     = "scss_search"
	ToolStatus     = "scss_status"
)

// NewServer registers the stylesheet tools on a fresh MCP server.
func NewServer(ws Workspace, settings definition.Settings, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"scss-lsp",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	h := NewHandler(ws, settings)

	s.AddTool(mcpgo.NewTool(ToolDefinition,
		mcpgo.WithDescription("Find where the SCSS variable, mixin or function used at a position is declared. Give either a byte offset or a zero-based line and character."),
		mcpgo.WithString("path",
			mcpgo.Required(),
			mcpgo.Description("Path of the stylesheet containing the use"),
		),
		mcpgo.WithNumber("offset",
			mcpgo.Description("Byte offset of the cursor"),
		),
		mcpgo.WithNumber("line",
			mcpgo.Description("Zero-based line of the cursor"),
		),
		mcpgo.WithNumber("character",
			mcpgo.Description("Zero-based UTF-16 character of the cursor within the line"),
		),
	), h.Definition)

	s.AddTool(mcpgo.NewTool(ToolSymbols,
		mcpgo.WithDescription("List the variables, mixins, functions and imports a stylesheet declares."),
		mcpgo.WithString("path",
			mcpgo.Required(),
			mcpgo.Description("Path of the stylesheet"),
		),
		mcpgo.WithString("format",
			mcpgo.Description("Output format: json (default) or yaml"),
			mcpgo.Enum("json", "yaml"),
		),
	), h.Symbols)

	s.AddTool(mcpgo.NewTool(ToolSearch,
		mcpgo.WithDescription("Search declarations across the indexed workspace by name."),
		mcpgo.WithString("query",
			mcpgo.Required(),
			mcpgo.Description("Name or name prefix, with or without the leading $"),
		),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of results, default 50"),
		),
	), h.Search)

	s.AddTool(mcpgo.NewTool(ToolStatus,
		mcpgo.WithDescription("Report how many stylesheets are indexed and the state of the indexer."),
	), h.Status)

	return s
}

// ServeStdio runs s over stdin and stdout until the client goes away.
func ServeStdio(s *server.MCPServer) error {
	log.Info("serving mcp over stdio")
	return server.ServeStdio(s)
}
