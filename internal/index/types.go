package index

import (
	"time"

	"github.com/alucardeht/scss-lsp/internal/symbols"
)

type FileStatus string

const (
	StatusPending FileStatus = "pending"
	StatusIndexed FileStatus = "indexed"
	StatusFailed  FileStatus = "failed"
	StatusSkipped FileStatus = "skipped"
)

type IndexedFile struct {
	ID           int64      `json:"id"`
	Path         string     `json:"path"`
	URI          string     `json:"uri"`
	ContentHash  string     `json:"content_hash"`
	Encoding     string     `json:"encoding"`
	Status       FileStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	IndexedAt    time.Time  `json:"indexed_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IndexedSymbol is a search hit: one declaration and the file declaring it.
type IndexedSymbol struct {
	Path     string           `json:"path"`
	URI      string           `json:"uri"`
	Name     string           `json:"name"`
	Kind     symbols.Kind     `json:"kind"`
	Position symbols.Position `json:"position"`
}

type IndexStats struct {
	TotalFiles    int       `json:"total_files"`
	IndexedFiles  int       `json:"indexed_files"`
	FailedFiles   int       `json:"failed_files"`
	SkippedFiles  int       `json:"skipped_files"`
	TotalSymbols  int       `json:"total_symbols"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
}

// IndexJob asks a worker to (re)index Path, or to forget it when Remove is
// set or the file no longer exists. Force re-parses even when the content
// hash is unchanged.
type IndexJob struct {
	Path     string
	Priority JobPriority
	Remove   bool
	Force    bool
}

type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
)
