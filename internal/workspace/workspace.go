// Package workspace owns the process-wide symbol storage together with the
// indexer, cache and watcher that keep it in step with the disk.
package workspace

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/alucardeht/scss-lsp/internal/config"
	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/index"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/storage"
	"github.com/alucardeht/scss-lsp/internal/symbols"
	"github.com/alucardeht/scss-lsp/internal/watcher"
)

var log = logger.ForComponent("workspace")

type Workspace struct {
	cfg     *config.Config
	storage *storage.Service
	store   *index.IndexStore
	worker  *index.IndexWorker
	watcher *watcher.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	roots  map[string]bool
	closed bool
}

// Open starts the indexer for a workspace whose cache is keyed by root. Roots
// are only scanned once added with AddRoot.
func Open(ctx context.Context, cfg *config.Config, root string) (*Workspace, error) {
	ctx, cancel := context.WithCancel(ctx)
	ws := &Workspace{
		cfg:     cfg,
		storage: storage.New(),
		ctx:     ctx,
		cancel:  cancel,
		roots:   make(map[string]bool),
	}

	if !cfg.Index.Enabled {
		log.Info("workspace indexing disabled")
		return ws, nil
	}

	if cfg.Index.Cache {
		dbPath := cfg.IndexDBPath(root)
		store, err := index.NewIndexStore(dbPath)
		if err != nil {
			// the cache is an optimisation; run without it
			log.Warn("index cache unavailable", "path", dbPath, "error", err)
		} else {
			ws.store = store
		}
	}

	ws.worker = index.NewIndexWorker(ws.store, ws.storage, cfg.WorkerConfig(root))
	ws.worker.Start()

	if cfg.Watcher.Enabled {
		w, err := watcher.New(cfg.Watcher, ws.worker)
		if err != nil {
			log.Warn("file watcher unavailable", "error", err)
		} else if err := w.Start(ctx); err != nil {
			log.Warn("file watcher failed to start", "error", err)
		} else {
			ws.watcher = w
		}
	}

	return ws, nil
}

func (ws *Workspace) Storage() *storage.Service {
	return ws.storage
}

// AddRoot restores the cached indexes below root, queues a scan of it and
// starts watching it. Adding a root twice is a no-op.
func (ws *Workspace) AddRoot(root string) error {
	if root == "" {
		return nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrapf(err, "resolve root %s", root)
	}

	ws.mu.Lock()
	if ws.closed || ws.roots[abs] {
		ws.mu.Unlock()
		return nil
	}
	ws.roots[abs] = true
	ws.mu.Unlock()

	if ws.worker == nil {
		return nil
	}

	log.Info("adding workspace root", "root", abs)

	if _, err := ws.worker.WarmFromCache(abs); err != nil {
		log.Warn("failed to restore cached indexes", "root", abs, "error", err)
	}
	if _, err := ws.worker.EnqueueWorkspace(abs, index.PriorityLow); err != nil {
		return err
	}
	if ws.watcher != nil {
		if err := ws.watcher.AddRoot(abs); err != nil {
			log.Warn("failed to watch root", "root", abs, "error", err)
		}
	}
	return nil
}

func (ws *Workspace) Roots() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	roots := make([]string, 0, len(ws.roots))
	for root := range ws.roots {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Reindex replaces whatever storage holds for path with the file on disk.
// Without an indexer the entry is dropped instead.
func (ws *Workspace) Reindex(path string) {
	if ws.worker == nil || !ws.worker.Enqueue(index.IndexJob{Path: path, Priority: index.PriorityHigh, Force: true}) {
		ws.storage.DeleteFromDisk(document.FromPath(path))
	}
}

// WaitIdle blocks until every queued index job has finished.
func (ws *Workspace) WaitIdle(ctx context.Context) error {
	if ws.worker == nil {
		return nil
	}
	return ws.worker.WaitIdle(ctx)
}

// Search finds declarations whose name starts with query. The cache answers
// when there is one; otherwise storage is scanned.
func (ws *Workspace) Search(query string, limit int) ([]*index.IndexedSymbol, error) {
	if limit <= 0 {
		limit = 100
	}
	if ws.store != nil {
		hits, err := ws.store.SearchSymbols(query, limit)
		if err == nil {
			return ws.withOpenBuffers(hits, query, limit), nil
		}
		log.Warn("cache search failed, scanning storage", "error", err)
	}
	return scan(ws.storage.All(), query, limit), nil
}

// withOpenBuffers adds matches from documents that only live in storage,
// such as unsaved editor buffers.
func (ws *Workspace) withOpenBuffers(hits []*index.IndexedSymbol, query string, limit int) []*index.IndexedSymbol {
	seen := make(map[string]bool, len(hits))
	for _, hit := range hits {
		seen[hit.URI] = true
	}
	var extra []storage.Entry
	for _, entry := range ws.storage.All() {
		if seen[entry.Index.Document] {
			continue
		}
		if _, err := document.ToPath(entry.Index.Document); err != nil {
			extra = append(extra, entry)
		}
	}
	if len(extra) == 0 || len(hits) >= limit {
		return hits
	}
	return append(hits, scan(extra, query, limit-len(hits))...)
}

func scan(entries []storage.Entry, query string, limit int) []*index.IndexedSymbol {
	needle := strings.ToLower(strings.TrimLeft(strings.TrimSpace(query), "$"))
	var hits []*index.IndexedSymbol
	for _, entry := range entries {
		for _, kind := range symbols.Kinds() {
			for _, sym := range entry.Index.Symbols(kind) {
				name := strings.ToLower(strings.TrimLeft(sym.Name, "$"))
				if !strings.HasPrefix(name, needle) {
					continue
				}
				hits = append(hits, &index.IndexedSymbol{
					Path:     entry.Index.Filepath,
					URI:      entry.Index.Document,
					Name:     sym.Name,
					Kind:     kind,
					Position: sym.Position,
				})
				if len(hits) >= limit {
					return hits
				}
			}
		}
	}
	return hits
}

func (ws *Workspace) Stats() (index.WorkerStats, *index.IndexStats) {
	var workerStats index.WorkerStats
	if ws.worker != nil {
		workerStats = ws.worker.GetStats()
	}
	if ws.store == nil {
		return workerStats, nil
	}
	stats, err := ws.store.GetStats()
	if err != nil {
		log.Warn("failed to read cache stats", "error", err)
		return workerStats, nil
	}
	return workerStats, stats
}

func (ws *Workspace) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	ws.mu.Unlock()

	var errs error
	if ws.watcher != nil {
		errs = errors.CombineErrors(errs, ws.watcher.Stop())
	}
	if ws.worker != nil {
		ws.worker.Stop()
	}
	ws.cancel()
	if ws.store != nil {
		errs = errors.CombineErrors(errs, ws.store.Close())
	}
	return errs
}
