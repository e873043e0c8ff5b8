// Package symbols holds the per-document symbol table that definition lookups
// resolve against.
package symbols

import "fmt"

// Kind is the closed set of symbol kinds a stylesheet can declare.
type Kind int

const (
	KindVariable Kind = iota + 1
	KindMixin
	KindFunction
)

// Kinds lists every Kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindVariable, KindMixin, KindFunction}
}

func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindMixin:
		return "mixin"
	case KindFunction:
		return "function"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid symbol kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown symbol kind %q", string(text))
	}
	*k = parsed
	return nil
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindVariable, KindMixin, KindFunction:
		return true
	default:
		return false
	}
}

type Position struct {
	Line      int `json:"line" yaml:"line"`
	Character int `json:"character" yaml:"character"`
}

type Range struct {
	Start Position `json:"start" yaml:"start"`
	End   Position `json:"end" yaml:"end"`
}

type Location struct {
	URI   string `json:"uri" yaml:"uri"`
	Range Range  `json:"range" yaml:"range"`
}

// Symbol is one declaration. Offset and Position address the first character
// of the name token.
type Symbol struct {
	Name       string   `json:"name" yaml:"name"`
	Kind       Kind     `json:"kind" yaml:"kind"`
	Offset     int      `json:"offset" yaml:"offset"`
	Position   Position `json:"position" yaml:"position"`
	Value      string   `json:"value,omitempty" yaml:"value,omitempty"`
	Parameters []string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Import is one @import, @use or @forward target. Namespace is set for @use
// only: the "as" name, "*" for a global use, or the target's basename.
type Import struct {
	Target    string   `json:"target" yaml:"target"`
	Namespace string   `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Offset    int      `json:"offset" yaml:"offset"`
	Position  Position `json:"position" yaml:"position"`
}

// Index is an immutable snapshot of one document's declarations, in source order.
type Index struct {
	Document  string   `json:"document" yaml:"document"`
	Filepath  string   `json:"filepath" yaml:"filepath"`
	Variables []Symbol `json:"variables" yaml:"variables"`
	Mixins    []Symbol `json:"mixins" yaml:"mixins"`
	Functions []Symbol `json:"functions" yaml:"functions"`
	Imports   []Import `json:"imports" yaml:"imports"`
}

// Symbols returns the declarations of the given kind.
func (idx *Index) Symbols(kind Kind) []Symbol {
	if idx == nil {
		return nil
	}
	switch kind {
	case KindVariable:
		return idx.Variables
	case KindMixin:
		return idx.Mixins
	case KindFunction:
		return idx.Functions
	default:
		return nil
	}
}

// Count returns the number of declarations across all kinds.
func (idx *Index) Count() int {
	if idx == nil {
		return 0
	}
	return len(idx.Variables) + len(idx.Mixins) + len(idx.Functions)
}

// Clone returns a deep copy, so the original may be handed out read-only.
func (idx *Index) Clone() *Index {
	if idx == nil {
		return nil
	}
	out := &Index{
		Document:  idx.Document,
		Filepath:  idx.Filepath,
		Variables: cloneSymbols(idx.Variables),
		Mixins:    cloneSymbols(idx.Mixins),
		Functions: cloneSymbols(idx.Functions),
	}
	if idx.Imports != nil {
		out.Imports = append([]Import(nil), idx.Imports...)
	}
	return out
}

func cloneSymbols(in []Symbol) []Symbol {
	if in == nil {
		return nil
	}
	out := make([]Symbol, len(in))
	for i, s := range in {
		out[i] = s
		if s.Parameters != nil {
			out[i].Parameters = append([]string(nil), s.Parameters...)
		}
	}
	return out
}
