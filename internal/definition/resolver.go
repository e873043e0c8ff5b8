// Package definition answers go-to-definition requests: it classifies the
// token under the cursor and resolves uses against the stored symbol indexes.
package definition

import (
	"path/filepath"
	"strings"

	"github.com/alucardeht/scss-lsp/internal/classifier"
	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/storage"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

var log = logger.ForComponent("definition")

// Resolver looks declarations up in a storage service. It only reads.
//
// Documents are searched in a fixed order and the first match wins: the
// current document, then the documents it imports breadth-first, then every
// other stored document in registration order. A namespaced use such as
// ns.$x or ns.button() searches only the module the current document binds
// to ns with @use, and what that module imports, when that module is stored.
type Resolver struct {
	store    *storage.Service
	settings Settings
}

func NewResolver(store *storage.Service, settings Settings) *Resolver {
	return &Resolver{store: store, settings: settings}
}

// Resolve returns the declaration of the used symbol described by tc, or nil
// when tc is not a use or nothing declares the name. current identifies the
// document the cursor is in.
func (r *Resolver) Resolve(tc classifier.TokenContext, current string) *symbols.Location {
	if !tc.Resolvable() {
		return nil
	}

	order, narrowed := r.moduleOrder(current, tc.Namespace)
	if !narrowed {
		order = r.searchOrder(current)
	}
	for _, entry := range order {
		for _, sym := range entry.Index.Symbols(tc.Kind) {
			if r.matches(tc.Kind, sym.Name, tc.Name) {
				log.Debug("resolved symbol", "name", tc.Name, "kind", tc.Kind, "document", entry.ID)
				return location(entry, sym)
			}
		}
	}

	log.Debug("symbol not found", "name", tc.Name, "kind", tc.Kind, "documents", r.store.Len())
	return nil
}

func (r *Resolver) matches(kind symbols.Kind, declared, used string) bool {
	switch kind {
	case symbols.KindVariable:
		return declared == used
	case symbols.KindMixin, symbols.KindFunction:
		if r.settings.CaseSensitive {
			return declared == used
		}
		return strings.EqualFold(declared, used)
	default:
		return false
	}
}

func (r *Resolver) searchOrder(current string) []storage.Entry {
	var order []storage.Entry
	seen := make(map[string]bool)

	if id, ok := r.currentID(current); ok {
		order = r.reachable(id, seen)
	}

	for _, entry := range r.store.All() {
		if !seen[entry.ID] {
			seen[entry.ID] = true
			order = append(order, entry)
		}
	}
	return order
}

// moduleOrder returns the documents a namespaced use may resolve to. It
// reports false when namespace is empty or names no stored @use module.
func (r *Resolver) moduleOrder(current, namespace string) ([]storage.Entry, bool) {
	if namespace == "" {
		return nil, false
	}
	id, ok := r.currentID(current)
	if !ok {
		return nil, false
	}
	idx, _ := r.store.Get(id)
	for _, imp := range idx.Imports {
		if imp.Namespace != namespace {
			continue
		}
		module, ok := r.findImport(idx, imp.Target)
		if !ok {
			break
		}
		log.Debug("narrowed to module", "namespace", namespace, "module", module)
		return r.reachable(module, make(map[string]bool)), true
	}
	return nil, false
}

// reachable lists id and the stored documents its imports reach,
// breadth-first, skipping ids already in seen and marking the rest.
func (r *Resolver) reachable(id string, seen map[string]bool) []storage.Entry {
	var order []storage.Entry
	var queue []*symbols.Index

	add := func(id string) {
		if seen[id] {
			return
		}
		idx, ok := r.store.Get(id)
		if !ok {
			return
		}
		seen[id] = true
		order = append(order, storage.Entry{ID: id, Index: idx})
		queue = append(queue, idx)
	}

	add(id)
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		for _, imp := range idx.Imports {
			if target, ok := r.findImport(idx, imp.Target); ok {
				add(target)
			}
		}
	}
	return order
}

func (r *Resolver) currentID(current string) (string, bool) {
	if current == "" {
		return "", false
	}
	if _, ok := r.store.Get(current); ok {
		return current, true
	}
	if p, err := document.ToPath(current); err == nil {
		return r.store.FindByPath(p)
	}
	return r.store.FindByPath(current)
}

func (r *Resolver) findImport(from *symbols.Index, target string) (string, bool) {
	base := from.Filepath
	if base == "" {
		p, err := document.ToPath(from.Document)
		if err != nil {
			return "", false
		}
		base = p
	}
	dir := filepath.Dir(base)

	for _, candidate := range ImportCandidates(target) {
		if id, ok := r.store.FindByPath(filepath.Join(dir, candidate)); ok {
			return id, true
		}
	}
	return "", false
}

// ImportCandidates lists the relative paths an import target may refer to, in
// the order they are tried: the target as written, with a stylesheet
// extension, as a partial, and as a directory index.
func ImportCandidates(target string) []string {
	target = filepath.FromSlash(target)
	dir, name := filepath.Split(target)

	var out []string
	if ext := filepath.Ext(name); ext == ".scss" || ext == ".css" || ext == ".sass" {
		out = append(out, target)
		if !strings.HasPrefix(name, "_") {
			out = append(out, filepath.Join(dir, "_"+name))
		}
		return out
	}

	out = append(out,
		target,
		target+".scss",
		filepath.Join(dir, "_"+name+".scss"),
		target+".css",
		filepath.Join(target, "_index.scss"),
		filepath.Join(target, "index.scss"),
	)
	return out
}

func location(entry storage.Entry, sym symbols.Symbol) *symbols.Location {
	uri := entry.Index.Document
	if !document.IsURI(uri) {
		if entry.Index.Filepath != "" {
			uri = document.FromPath(entry.Index.Filepath)
		} else {
			uri = document.Addressable(entry.ID)
		}
	}

	end := sym.Position
	end.Character += document.UTF16Len(sym.Name)

	return &symbols.Location{
		URI:   uri,
		Range: symbols.Range{Start: sym.Position, End: end},
	}
}
