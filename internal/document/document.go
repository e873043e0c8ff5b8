// Package document provides the immutable text snapshot that providers read:
// raw text, a stable URI, and offset/position conversion.
package document

import (
	"sort"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/alucardeht/scss-lsp/internal/symbols"
)

var ErrOffsetOutOfRange = errors.New("offset out of range")

const LanguageSCSS = "scss"

// Document is safe for concurrent reads. Positions are zero-based, with
// characters counted in UTF-16 code units as the editor protocol expects.
type Document struct {
	uri        string
	languageID string
	version    int32
	text       string
	lineStarts []int
}

func New(uri, languageID string, version int32, text string) *Document {
	if languageID == "" {
		languageID = LanguageSCSS
	}
	return &Document{
		uri:        uri,
		languageID: languageID,
		version:    version,
		text:       text,
		lineStarts: computeLineStarts(text),
	}
}

func (d *Document) URI() string        { return d.uri }
func (d *Document) LanguageID() string { return d.languageID }
func (d *Document) Version() int32     { return d.version }
func (d *Document) Text() string       { return d.text }
func (d *Document) Len() int           { return len(d.text) }
func (d *Document) LineCount() int     { return len(d.lineStarts) }

// Path returns the filesystem path behind the URI, or the URI itself when it
// does not use the file scheme.
func (d *Document) Path() string {
	if p, err := ToPath(d.uri); err == nil {
		return p
	}
	return d.uri
}

// PositionAt converts a byte offset into a line/character position.
func (d *Document) PositionAt(offset int) (symbols.Position, error) {
	if offset < 0 || offset > len(d.text) {
		return symbols.Position{}, errors.Wrapf(ErrOffsetOutOfRange, "offset %d, length %d", offset, len(d.text))
	}

	line := sort.Search(len(d.lineStarts), func(i int) bool {
		return d.lineStarts[i] > offset
	}) - 1

	start := d.lineStarts[line]
	return symbols.Position{
		Line:      line,
		Character: UTF16Len(d.text[start:offset]),
	}, nil
}

// OffsetAt converts a position into a byte offset. Positions past the end of a
// line clamp to the line end; lines past the end clamp to the document end.
func (d *Document) OffsetAt(pos symbols.Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(d.lineStarts) {
		return len(d.text)
	}

	start := d.lineStarts[pos.Line]
	end := len(d.text)
	if pos.Line+1 < len(d.lineStarts) {
		end = d.lineStarts[pos.Line+1] - 1
		if end > start && d.text[end-1] == '\r' {
			end--
		}
	}

	units := 0
	for i, r := range d.text[start:end] {
		if units >= pos.Character {
			return start + i
		}
		if r >= 0x10000 {
			units += 2
		} else {
			units++
		}
	}
	return end
}

// UTF16Len counts the UTF-16 code units needed to encode s.
func UTF16Len(s string) int {
	n := 0
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func computeLineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}
