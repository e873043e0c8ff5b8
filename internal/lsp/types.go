package lsp

import (
	"encoding/json"

	"github.com/alucardeht/scss-lsp/internal/symbols"
)

type LSPState string

const (
	StateStarting     LSPState = "starting"
	StateInitializing LSPState = "initializing"
	StateReady        LSPState = "ready"
	StateShutdown     LSPState = "shutdown"
	StateStopped      LSPState = "stopped"
)

// Error codes beyond the JSON-RPC ones, as the editor protocol defines them.
const (
	CodeServerNotInitialized int64 = -32002
	CodeRequestFailed        int64 = -32803
)

type (
	Position = symbols.Position
	Range    = symbols.Range
	Location = symbols.Location
)

type SymbolKind int

const (
	SymbolKindMethod   SymbolKind = 6
	SymbolKindFunction SymbolKind = 12
	SymbolKindVariable SymbolKind = 13
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolKindMethod:
		return "method"
	case SymbolKindFunction:
		return "function"
	case SymbolKindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// SymbolKindOf maps a declaration kind to the closest protocol kind. Mixins
// have no counterpart and are reported as methods.
func SymbolKindOf(kind symbols.Kind) SymbolKind {
	switch kind {
	case symbols.KindVariable:
		return SymbolKindVariable
	case symbols.KindMixin:
		return SymbolKindMethod
	default:
		return SymbolKindFunction
	}
}

type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type InitializeParams struct {
	ProcessID             int               `json:"processId"`
	RootURI               string            `json:"rootUri,omitempty"`
	RootPath              string            `json:"rootPath,omitempty"`
	WorkspaceFolders      []WorkspaceFolder `json:"workspaceFolders,omitempty"`
	InitializationOptions json.RawMessage   `json:"initializationOptions,omitempty"`
	Capabilities          json.RawMessage   `json:"capabilities,omitempty"`
}

type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type TextDocumentSyncKind int

const (
	SyncNone TextDocumentSyncKind = iota
	SyncFull
	SyncIncremental
)

type TextDocumentSyncOptions struct {
	OpenClose bool                 `json:"openClose"`
	Change    TextDocumentSyncKind `json:"change"`
}

type ServerCapabilities struct {
	TextDocumentSync        *TextDocumentSyncOptions `json:"textDocumentSync,omitempty"`
	DefinitionProvider      bool                     `json:"definitionProvider,omitempty"`
	WorkspaceSymbolProvider bool                     `json:"workspaceSymbolProvider,omitempty"`
}

type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int32  `json:"version"`
}

type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int32  `json:"version"`
	Text       string `json:"text"`
}

type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// TextDocumentContentChangeEvent carries the whole new text; the server only
// offers full sync.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

type DidChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings"`
}

type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}
