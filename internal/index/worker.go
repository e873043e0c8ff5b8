package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/parser"
	"github.com/alucardeht/scss-lsp/internal/storage"
)

var log = logger.ForComponent("indexer")

type WorkerConfig struct {
	Root            string
	WorkerCount     int
	MaxQueueSize    int
	RateLimit       int
	MaxFileSize     int64
	Extensions      []string
	ExcludePatterns []string
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerCount:  2,
		MaxQueueSize: 1000,
		RateLimit:    200,
		MaxFileSize:  2 * 1024 * 1024,
		Extensions:   []string{".scss", ".css"},
		ExcludePatterns: []string{
			"**/node_modules/**",
			"**/.git/**",
			"**/vendor/**",
			"**/dist/**",
			"**/build/**",
		},
	}
}

type WorkerStats struct {
	Indexed     int64     `json:"indexed"`
	Restored    int64     `json:"restored"`
	Removed     int64     `json:"removed"`
	Failed      int64     `json:"failed"`
	Skipped     int64     `json:"skipped"`
	InQueue     int64     `json:"in_queue"`
	IsRunning   bool      `json:"is_running"`
	StartedAt   time.Time `json:"started_at"`
	LastIndexed time.Time `json:"last_indexed"`
}

// IndexWorker keeps a storage service in sync with the stylesheets on disk.
// Jobs are drained by a fixed pool of goroutines, highest priority first.
type IndexWorker struct {
	store  *IndexStore
	docs   *storage.Service
	config WorkerConfig

	highQueue   chan IndexJob
	normalQueue chan IndexJob
	lowQueue    chan IndexJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	limiter *rate.Limiter
	breaker *CircuitBreaker
	active  atomic.Int64

	hashesMu sync.Mutex
	hashes   map[string]string

	stats   WorkerStats
	statsMu sync.RWMutex
}

// NewIndexWorker returns a stopped worker feeding docs. store may be nil, in
// which case nothing is cached between runs.
func NewIndexWorker(store *IndexStore, docs *storage.Service, config WorkerConfig) *IndexWorker {
	ctx, cancel := context.WithCancel(context.Background())

	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = DefaultWorkerConfig().MaxQueueSize
	}
	if len(config.Extensions) == 0 {
		config.Extensions = DefaultWorkerConfig().Extensions
	}

	w := &IndexWorker{
		store:       store,
		docs:        docs,
		config:      config,
		highQueue:   make(chan IndexJob, 100),
		normalQueue: make(chan IndexJob, config.MaxQueueSize),
		lowQueue:    make(chan IndexJob, config.MaxQueueSize*2),
		ctx:         ctx,
		cancel:      cancel,
		hashes:      make(map[string]string),
		breaker:     NewCircuitBreaker(DefaultCircuitConfig()),
	}

	if config.RateLimit > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit)
	}

	return w
}

func (w *IndexWorker) Start() {
	w.statsMu.Lock()
	w.stats.IsRunning = true
	w.stats.StartedAt = time.Now()
	w.statsMu.Unlock()

	log.Info("index worker started", "workers", w.config.WorkerCount)

	for i := 0; i < w.config.WorkerCount; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
}

func (w *IndexWorker) Stop() {
	log.Info("index worker stopping")

	w.cancel()
	w.wg.Wait()

	w.statsMu.Lock()
	w.stats.IsRunning = false
	w.statsMu.Unlock()

	log.Info("index worker stopped")
}

func (w *IndexWorker) Enqueue(job IndexJob) bool {
	var queue chan IndexJob
	switch job.Priority {
	case PriorityHigh:
		queue = w.highQueue
	case PriorityLow:
		queue = w.lowQueue
	default:
		queue = w.normalQueue
	}

	atomic.AddInt64(&w.stats.InQueue, 1)
	select {
	case queue <- job:
		return true
	default:
		atomic.AddInt64(&w.stats.InQueue, -1)
		log.Warn("job enqueue failed - queue full", "path", job.Path, "priority", job.Priority)
		return false
	}
}

func (w *IndexWorker) EnqueueBatch(paths []string, priority JobPriority) int {
	count := 0
	for _, path := range paths {
		if w.Enqueue(IndexJob{Path: path, Priority: priority}) {
			count++
		}
	}
	return count
}

// EnqueueWorkspace queues every stylesheet under root that is not excluded.
func (w *IndexWorker) EnqueueWorkspace(root string, priority JobPriority) (int, error) {
	pattern := "**/*" + extensionGlob(w.config.Extensions)

	var paths []string
	err := doublestar.GlobWalk(os.DirFS(root), pattern, func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		path := filepath.Join(root, filepath.FromSlash(rel))
		if !w.shouldExclude(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "scan workspace %s", root)
	}

	n := w.EnqueueBatch(paths, priority)
	log.Info("workspace scan queued", "root", root, "files", len(paths), "queued", n)
	return n, nil
}

func extensionGlob(exts []string) string {
	if len(exts) == 1 {
		return exts[0]
	}
	trimmed := make([]string, 0, len(exts))
	for _, ext := range exts {
		trimmed = append(trimmed, strings.TrimPrefix(ext, "."))
	}
	return ".{" + strings.Join(trimmed, ",") + "}"
}

// WarmFromCache loads every cached index below root whose file still exists
// into the storage service, before any file has been re-read. An empty root
// restores everything.
func (w *IndexWorker) WarmFromCache(root string) (int, error) {
	if w.store == nil {
		return 0, nil
	}

	files, err := w.store.ListFiles(StatusIndexed)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, file := range files {
		if !within(root, file.Path) {
			continue
		}
		if _, err := os.Stat(file.Path); err != nil {
			continue
		}
		idx, err := w.store.LoadIndex(file.Path)
		if err != nil || idx == nil {
			log.Warn("failed to restore cached index", "path", file.Path, "error", err)
			continue
		}
		if w.docs.SetFromDisk(file.URI, idx) {
			restored++
		}
	}
	atomic.AddInt64(&w.stats.Restored, int64(restored))
	log.Info("restored cached indexes", "files", restored)
	return restored, nil
}

func within(root, path string) bool {
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *IndexWorker) GetStats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	stats := w.stats
	stats.Indexed = atomic.LoadInt64(&w.stats.Indexed)
	stats.Restored = atomic.LoadInt64(&w.stats.Restored)
	stats.Removed = atomic.LoadInt64(&w.stats.Removed)
	stats.Failed = atomic.LoadInt64(&w.stats.Failed)
	stats.Skipped = atomic.LoadInt64(&w.stats.Skipped)
	stats.InQueue = atomic.LoadInt64(&w.stats.InQueue)
	return stats
}

// WaitIdle blocks until every queued job has been processed.
func (w *IndexWorker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&w.stats.InQueue) == 0 && w.active.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *IndexWorker) worker(id int) {
	defer w.wg.Done()

	for {
		job, ok := w.next()
		if !ok {
			return
		}

		w.active.Add(1)
		atomic.AddInt64(&w.stats.InQueue, -1)

		if w.limiter != nil {
			if err := w.limiter.Wait(w.ctx); err != nil {
				w.active.Add(-1)
				return
			}
		}

		log.Debug("worker processing job", "worker_id", id, "path", job.Path)
		w.processJob(job)
		w.active.Add(-1)
	}
}

// next returns the highest-priority pending job, blocking until one arrives
// or the worker stops.
func (w *IndexWorker) next() (IndexJob, bool) {
	select {
	case job := <-w.highQueue:
		return job, true
	default:
	}

	select {
	case job := <-w.highQueue:
		return job, true
	case job := <-w.normalQueue:
		return job, true
	default:
	}

	select {
	case <-w.ctx.Done():
		return IndexJob{}, false
	case job := <-w.highQueue:
		return job, true
	case job := <-w.normalQueue:
		return job, true
	case job := <-w.lowQueue:
		return job, true
	}
}

func (w *IndexWorker) processJob(job IndexJob) {
	path := filepath.Clean(job.Path)
	uri := document.FromPath(path)

	if job.Remove {
		w.forget(path, uri)
		return
	}

	if !w.accepts(path) || w.shouldExclude(path) {
		w.recordSkipped()
		log.Debug("skipped file", "path", path, "reason", "excluded")
		return
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		w.forget(path, uri)
		return
	}
	if err != nil {
		w.recordFailed(path, uri, err)
		return
	}
	if info.IsDir() {
		return
	}

	if w.config.MaxFileSize > 0 && info.Size() > w.config.MaxFileSize {
		w.recordSkipped()
		w.docs.DeleteFromDisk(uri)
		w.setHash(path, "")
		w.cached("mark", path, func(store *IndexStore) error {
			return store.MarkFile(&IndexedFile{Path: path, URI: uri, Status: StatusSkipped, ErrorMessage: "file too large"})
		})
		log.Debug("skipped file", "path", path, "reason", "file too large")
		return
	}

	content, raw, encoding, err := ReadFileAsUTF8(path)
	if err != nil {
		w.recordFailed(path, uri, err)
		return
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	if !job.Force && w.restore(path, uri, hash) {
		return
	}

	doc := document.New(uri, languageFor(path), 0, content)
	idx := parser.Parse(doc)
	if w.docs.SetFromDisk(uri, idx) {
		w.setHash(path, hash)
	} else {
		w.setHash(path, "")
		log.Debug("kept open buffer", "path", path)
	}

	w.cached("save", path, func(store *IndexStore) error {
		return store.SaveIndex(&IndexedFile{Path: path, URI: uri, ContentHash: hash, Encoding: encoding.Encoding}, idx)
	})

	w.recordIndexed()
	log.Debug("file indexed", "path", path, "symbols", idx.Count(), "imports", len(idx.Imports))

	if n := atomic.LoadInt64(&w.stats.Indexed); n%100 == 0 {
		log.Info("indexing progress", "indexed", n, "pending", atomic.LoadInt64(&w.stats.InQueue))
	}
}

// restore reports whether the current index of path already matches hash,
// loading it from the cache into storage when only the cache has it. An id
// held open by an editor never matches.
func (w *IndexWorker) restore(path, uri, hash string) bool {
	if w.docs.Overlaid(uri) {
		return false
	}
	_, stored := w.docs.Get(uri)
	if stored && w.hash(path) == hash {
		log.Debug("skipped file", "path", path, "reason", "content unchanged")
		return true
	}
	if w.store == nil {
		return false
	}

	existing, err := w.store.GetFile(path)
	if err != nil || existing == nil || existing.Status != StatusIndexed || existing.ContentHash != hash {
		return false
	}
	if !stored {
		idx, err := w.store.LoadIndex(path)
		if err != nil || idx == nil {
			return false
		}
		if !w.docs.SetFromDisk(uri, idx) {
			return false
		}
		atomic.AddInt64(&w.stats.Restored, 1)
	}
	w.setHash(path, hash)
	log.Debug("restored file from cache", "path", path)
	return true
}

func (w *IndexWorker) forget(path, uri string) {
	w.docs.DeleteFromDisk(uri)
	w.setHash(path, "")
	w.cached("delete", path, func(store *IndexStore) error {
		return store.DeleteFile(path)
	})
	atomic.AddInt64(&w.stats.Removed, 1)
	log.Debug("removed file", "path", path)
}

func (w *IndexWorker) hash(path string) string {
	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()
	return w.hashes[path]
}

func (w *IndexWorker) setHash(path, hash string) {
	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()
	if hash == "" {
		delete(w.hashes, path)
		return
	}
	w.hashes[path] = hash
}

func (w *IndexWorker) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range w.config.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (w *IndexWorker) shouldExclude(path string) bool {
	return MatchesAny(w.config.ExcludePatterns, w.config.Root, path)
}

// MatchesAny reports whether path, taken relative to root when it lies inside
// it, matches one of the doublestar patterns.
func MatchesAny(patterns []string, root, path string) bool {
	rel := path
	if root != "" {
		if within(root, path) {
			rel, _ = filepath.Rel(root, path)
		}
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")

	for _, pattern := range patterns {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func (w *IndexWorker) recordIndexed() {
	atomic.AddInt64(&w.stats.Indexed, 1)
	w.statsMu.Lock()
	w.stats.LastIndexed = time.Now()
	w.statsMu.Unlock()
}

func (w *IndexWorker) recordFailed(path, uri string, err error) {
	atomic.AddInt64(&w.stats.Failed, 1)
	log.Warn("failed to index", "path", path, "error", err)
	w.cached("mark", path, func(store *IndexStore) error {
		return store.MarkFile(&IndexedFile{Path: path, URI: uri, Status: StatusFailed, ErrorMessage: err.Error()})
	})
}

// cached runs op against the cache unless repeated failures opened the
// breaker.
func (w *IndexWorker) cached(op, path string, fn func(*IndexStore) error) {
	if w.store == nil || !w.breaker.Allow() {
		return
	}
	if err := fn(w.store); err != nil {
		w.breaker.RecordFailure()
		log.Warn("index cache write failed", "op", op, "path", path, "error", err, "breaker", w.breaker.State())
		return
	}
	w.breaker.RecordSuccess()
}

func (w *IndexWorker) recordSkipped() {
	atomic.AddInt64(&w.stats.Skipped, 1)
}

func languageFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".css") {
		return "css"
	}
	return document.LanguageSCSS
}
