package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/alucardeht/scss-lsp/internal/index"
	"github.com/alucardeht/scss-lsp/internal/logger"
)

var log = logger.ForComponent("watcher")

// Indexer receives the jobs produced by file events.
type Indexer interface {
	Enqueue(job index.IndexJob) bool
}

// Watcher turns filesystem events under the workspace roots into index jobs,
// so documents that are not open in the editor stay current.
type Watcher struct {
	config      WatcherConfig
	fsWatcher   *fsnotify.Watcher
	fsWatcherMu sync.Mutex
	debouncer   *Debouncer
	indexer     Indexer
	roots       []string
	mu          sync.RWMutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

func New(config WatcherConfig, indexer Indexer) (*Watcher, error) {
	if indexer == nil {
		return nil, errors.New("watcher needs an indexer")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}

	if len(config.Extensions) == 0 {
		config.Extensions = DefaultWatcherConfig().Extensions
	}

	w := &Watcher{
		config:    config,
		fsWatcher: fsWatcher,
		indexer:   indexer,
	}

	w.debouncer = NewDebouncer(config.DebounceWindow, config.MaxBatchSize, w.onFlush)

	return w, nil
}

func (w *Watcher) addToWatcher(path string) error {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	return w.fsWatcher.Add(path)
}

func (w *Watcher) removeFromWatcher(path string) {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	_ = w.fsWatcher.Remove(path)
}

// AddRoot watches root and every directory below it that is not ignored.
// Files already present are left to the initial workspace scan.
func (w *Watcher) AddRoot(root string) error {
	root = filepath.Clean(root)
	log.Info("adding root to watch", "path", root)

	if err := w.addToWatcher(root); err != nil {
		return errors.Wrapf(err, "watch %s", root)
	}

	w.mu.Lock()
	w.roots = append(w.roots, root)
	w.mu.Unlock()

	w.walk(root, false)

	log.Info("root added successfully", "path", root)
	return nil
}

// walk adds the directories below path to the watcher. With enqueue set it
// also queues the stylesheets it finds, for directories that appeared after
// the initial scan.
func (w *Watcher) walk(path string, enqueue bool) {
	entries, err := os.ReadDir(path)
	if err != nil {
		log.Debug("failed to read directory", "path", path, "error", err)
		return
	}

	for _, entry := range entries {
		fullPath := filepath.Join(path, entry.Name())

		if w.shouldIgnore(fullPath) {
			continue
		}

		if entry.IsDir() {
			if err := w.addToWatcher(fullPath); err != nil {
				log.Debug("failed to watch directory", "path", fullPath, "error", err)
				continue
			}
			log.Debug("watching directory", "path", fullPath)
			w.walk(fullPath, enqueue)
			continue
		}

		if enqueue && w.isStylesheet(fullPath) {
			w.indexer.Enqueue(index.IndexJob{Path: fullPath, Priority: index.PriorityNormal})
			log.Debug("enqueued file for indexing", "path", fullPath)
		}
	}
}

func (w *Watcher) RemoveRoot(path string) error {
	path = filepath.Clean(path)
	w.removeFromWatcher(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, root := range w.roots {
		if root == path {
			w.roots = append(w.roots[:i], w.roots[i+1:]...)
			break
		}
	}

	return nil
}

func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.roots...)
}

func (w *Watcher) Start(ctx context.Context) error {
	log.Info("starting file watcher")

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	go w.handleEvents()

	return nil
}

func (w *Watcher) handleEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			log.Debug("file event", "path", event.Name, "op", event.Op.String())

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !w.shouldIgnore(event.Name) {
						if err := w.addToWatcher(event.Name); err == nil {
							w.walk(event.Name, true)
						}
					}
					continue
				}
			}

			if fileEvent := w.convertEvent(event); fileEvent != nil {
				w.debouncer.Add(*fileEvent)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) convertEvent(event fsnotify.Event) *FileEvent {
	if w.shouldIgnore(event.Name) || !w.isStylesheet(event.Name) {
		return nil
	}

	var eventType EventType

	switch {
	case event.Has(fsnotify.Create):
		eventType = EventCreate
	case event.Has(fsnotify.Write):
		eventType = EventModify
	case event.Has(fsnotify.Remove):
		eventType = EventDelete
	case event.Has(fsnotify.Rename):
		eventType = EventRename
	default:
		return nil
	}

	return &FileEvent{
		Path:      event.Name,
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

func (w *Watcher) onFlush(events []FileEvent) {
	log.Info("flushing events", "count", len(events))

	priority := ClassifyBatch(events)

	for _, event := range events {
		// a renamed path no longer exists; the worker forgets it on stat
		w.indexer.Enqueue(index.IndexJob{
			Path:     event.Path,
			Priority: priority,
			Remove:   event.Type == EventDelete,
		})
	}
}

func (w *Watcher) isStylesheet(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range w.config.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (w *Watcher) shouldIgnore(path string) bool {
	basename := filepath.Base(path)

	if !w.config.WatchHidden && strings.HasPrefix(basename, ".") {
		return true
	}

	return index.MatchesAny(w.config.IgnorePatterns, w.rootOf(path), path)
}

func (w *Watcher) rootOf(path string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}

func (w *Watcher) Stop() error {
	log.Info("stopping file watcher")

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.fsWatcherMu.Lock()
		defer w.fsWatcherMu.Unlock()
		return w.fsWatcher.Close()
	}

	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.debouncer.Stop()

	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	return w.fsWatcher.Close()
}
