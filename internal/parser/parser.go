// Package parser builds the symbol index of a stylesheet: its variables,
// mixins, functions and imported files.
package parser

import (
	"path"
	"regexp"
	"strings"

	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/scss"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

var log = logger.ForComponent("parser")

const nameClass = `[A-Za-z0-9_\-\x{80}-\x{10FFFF}]`

var (
	variablePattern  = regexp.MustCompile(`\$(` + nameClass + `+)\s*:`)
	mixinPattern     = regexp.MustCompile(`@mixin\s+(` + nameClass + `+)`)
	functionPattern  = regexp.MustCompile(`@function\s+(` + nameClass + `+)`)
	importPattern    = regexp.MustCompile(`@(import|use|forward)\s`)
	asClause         = regexp.MustCompile(`^\s+as\s+(\*|` + nameClass + `+)`)
	globalFlag       = regexp.MustCompile(`!global\b`)
	trailingFlags    = regexp.MustCompile(`(\s*!(default|global))+\s*$`)
	schemeOrProtocol = regexp.MustCompile(`^([a-z]+:|//)`)
)

// Parse returns the index of doc. Only variables declared at the top level,
// or marked !global, are indexed; locals never leave their block.
func Parse(doc *document.Document) *symbols.Index {
	idx := &symbols.Index{Document: doc.URI()}
	if p, err := document.ToPath(doc.URI()); err == nil {
		idx.Filepath = p
	}

	text := doc.Text()
	masked := scss.Mask(text)
	depths := braceDepths(masked)

	for _, m := range variablePattern.FindAllStringSubmatchIndex(masked, -1) {
		start, colon := m[0], m[1]
		if !atStatementStart(masked, start) {
			continue
		}
		valueEnd := statementEnd(masked, colon)
		value := strings.TrimSpace(text[colon:valueEnd])
		if depths[start] > 0 && !globalFlag.MatchString(masked[colon:valueEnd]) {
			continue
		}
		idx.Variables = append(idx.Variables, symbols.Symbol{
			Name:     text[start:m[3]],
			Kind:     symbols.KindVariable,
			Offset:   start,
			Position: position(doc, start),
			Value:    trailingFlags.ReplaceAllString(value, ""),
		})
	}

	idx.Mixins = callables(doc, masked, mixinPattern, symbols.KindMixin)
	idx.Functions = callables(doc, masked, functionPattern, symbols.KindFunction)
	idx.Imports = imports(doc, masked)

	log.Debug("parsed document",
		"uri", doc.URI(),
		"variables", len(idx.Variables),
		"mixins", len(idx.Mixins),
		"functions", len(idx.Functions),
		"imports", len(idx.Imports))

	return idx
}

func callables(doc *document.Document, masked string, pattern *regexp.Regexp, kind symbols.Kind) []symbols.Symbol {
	text := doc.Text()
	var out []symbols.Symbol
	for _, m := range pattern.FindAllStringSubmatchIndex(masked, -1) {
		if !atStatementStart(masked, m[0]) {
			continue
		}
		nameStart, nameEnd := m[2], m[3]
		if !scss.IsNameStart(masked[nameStart:nameEnd]) {
			continue
		}
		sym := symbols.Symbol{
			Name:     text[nameStart:nameEnd],
			Kind:     kind,
			Offset:   nameStart,
			Position: position(doc, nameStart),
		}
		if open := scss.SkipSpace(masked, nameEnd); open < len(masked) && masked[open] == '(' {
			sym.Parameters = scss.Parameters(masked, open)
		}
		out = append(out, sym)
	}
	return out
}

func imports(doc *document.Document, masked string) []symbols.Import {
	text := doc.Text()
	var out []symbols.Import
	for _, m := range importPattern.FindAllStringSubmatchIndex(masked, -1) {
		if !atStatementStart(masked, m[0]) {
			continue
		}
		directive := masked[m[2]:m[3]]
		end := statementEnd(masked, m[1])

		for i := m[1]; i < end; i++ {
			q := masked[i]
			if q != '"' && q != '\'' {
				if directive != "import" && !scss.IsSpace(q) {
					// @use and @forward take one url, then modifiers
					break
				}
				continue
			}
			closing := strings.IndexByte(masked[i+1:end], q)
			if closing < 0 {
				break
			}
			targetStart, targetEnd := i+1, i+1+closing
			target := text[targetStart:targetEnd]
			inURL := i >= 4 && masked[i-4:i] == "url("
			i = targetEnd

			if target == "" || inURL || schemeOrProtocol.MatchString(target) {
				continue
			}
			imp := symbols.Import{
				Target:   target,
				Offset:   targetStart,
				Position: position(doc, targetStart),
			}
			if directive == "use" {
				imp.Namespace = namespace(target, masked[targetEnd+1:end])
			}
			out = append(out, imp)
			if directive != "import" {
				break
			}
		}
	}
	return out
}

// namespace returns the name a @use binds: the "as" clause when present,
// otherwise the target's basename up to its first dot.
func namespace(target, rest string) string {
	if m := asClause.FindStringSubmatch(rest); m != nil {
		return m[1]
	}
	base := path.Base(target)
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}
	return base
}

func position(doc *document.Document, offset int) symbols.Position {
	pos, err := doc.PositionAt(offset)
	if err != nil {
		log.Warn("position out of range", "uri", doc.URI(), "offset", offset, "error", err)
	}
	return pos
}

// atStatementStart reports whether only whitespace separates i from the
// previous statement boundary.
func atStatementStart(m string, i int) bool {
	k := scss.SkipSpaceBack(m, i-1)
	if k < 0 {
		return true
	}
	switch m[k] {
	case ';', '{', '}':
		return true
	}
	return false
}

// statementEnd returns the offset of the ';' or block boundary ending the
// statement that continues at i, ignoring anything nested in parentheses.
func statementEnd(m string, i int) int {
	depth := 0
	for ; i < len(m); i++ {
		switch m[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				return i
			}
		case '{':
			if i > 0 && m[i-1] == '#' {
				continue
			}
			if depth == 0 {
				return i
			}
		case '}':
			if depth == 0 && !closesInterpolation(m, i) {
				return i
			}
		}
	}
	return len(m)
}

func closesInterpolation(m string, end int) bool {
	depth := 0
	for k := end; k >= 0; k-- {
		switch m[k] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return k > 0 && m[k-1] == '#'
			}
		}
	}
	return false
}

// braceDepths returns the block nesting depth at every offset of m.
// Interpolation braces do not open blocks.
func braceDepths(m string) []int {
	depths := make([]int, len(m)+1)
	var interp []bool
	depth := 0
	for i := 0; i < len(m); i++ {
		depths[i] = depth
		switch m[i] {
		case '{':
			isInterp := i > 0 && m[i-1] == '#'
			interp = append(interp, isInterp)
			if !isInterp {
				depth++
			}
		case '}':
			if n := len(interp); n > 0 {
				if !interp[n-1] && depth > 0 {
					depth--
				}
				interp = interp[:n-1]
			}
		}
	}
	depths[len(m)] = depth
	return depths
}
