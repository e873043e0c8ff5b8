// Package storage is the registry of symbol indexes for every known document.
// It is created once per workspace and passed to whatever needs it; nothing
// reaches it through package state.
package storage

import (
	"path/filepath"
	"sync"

	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

type Entry struct {
	ID    string
	Index *symbols.Index
}

// Service maps document identifiers to their current Index. Stored indexes are
// never mutated; Set swaps in a fresh copy so concurrent readers always see a
// whole snapshot.
//
// An id may be held as an overlay by one or more editor sessions. While held,
// the indexer's SetFromDisk and DeleteFromDisk leave it alone.
type Service struct {
	mu       sync.RWMutex
	entries  map[string]*symbols.Index
	order    []string
	paths    map[string]string
	overlays map[string]int
}

func New() *Service {
	return &Service{
		entries:  make(map[string]*symbols.Index),
		paths:    make(map[string]string),
		overlays: make(map[string]int),
	}
}

// Set stores a copy of idx under id, replacing any previous index. A replaced
// id keeps its original registration slot.
func (s *Service) Set(id string, idx *symbols.Index) {
	if idx == nil {
		s.Delete(id)
		return
	}
	stored := snapshot(id, idx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(id, stored)
}

// Overlay stores idx as the editor buffer for id and takes one hold on it.
func (s *Service) Overlay(id string, idx *symbols.Index) {
	stored := snapshot(id, idx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays[id]++
	s.put(id, stored)
}

// Release drops one overlay hold on id and reports whether none remain. The
// stored index is kept; the caller decides whether to reload it from disk.
func (s *Service) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlays[id] <= 1 {
		delete(s.overlays, id)
		return true
	}
	s.overlays[id]--
	return false
}

func (s *Service) Overlaid(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overlays[id] > 0
}

// SetFromDisk stores idx unless id is held as an overlay, and reports whether
// it did.
func (s *Service) SetFromDisk(id string, idx *symbols.Index) bool {
	if idx == nil {
		return s.DeleteFromDisk(id)
	}
	stored := snapshot(id, idx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlays[id] > 0 {
		return false
	}
	s.put(id, stored)
	return true
}

// DeleteFromDisk removes id unless it is held as an overlay, and reports
// whether it did.
func (s *Service) DeleteFromDisk(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlays[id] > 0 {
		return false
	}
	s.remove(id)
	return true
}

func snapshot(id string, idx *symbols.Index) *symbols.Index {
	stored := idx.Clone()
	if stored.Document == "" {
		stored.Document = id
	}
	return stored
}

func (s *Service) put(id string, stored *symbols.Index) {
	if prev, ok := s.entries[id]; ok {
		s.forgetPath(id, prev)
	} else {
		s.order = append(s.order, id)
	}
	s.entries[id] = stored
	if key := pathKey(stored); key != "" {
		s.paths[key] = id
	}
}

// Get returns the stored index for id. Callers must treat it as read-only.
func (s *Service) Get(id string) (*symbols.Index, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.entries[id]
	return idx, ok
}

func (s *Service) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
}

func (s *Service) remove(id string) {
	prev, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	s.forgetPath(id, prev)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// All returns every entry in registration order.
func (s *Service) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, Entry{ID: id, Index: s.entries[id]})
	}
	return out
}

func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// FindByPath returns the id of the document whose index was built from path.
func (s *Service) FindByPath(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.paths[cleanPath(path)]
	return id, ok
}

func (s *Service) forgetPath(id string, idx *symbols.Index) {
	key := pathKey(idx)
	if owner, ok := s.paths[key]; ok && owner == id {
		delete(s.paths, key)
	}
}

func pathKey(idx *symbols.Index) string {
	if idx.Filepath != "" {
		return cleanPath(idx.Filepath)
	}
	if p, err := document.ToPath(idx.Document); err == nil {
		return cleanPath(p)
	}
	return ""
}

func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
