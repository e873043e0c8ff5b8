// Package classifier decides what the identifier under a cursor is: a
// declaration, a parameter, a use of some symbol, or nothing resolvable.
//
// Classification is a backward scan from the token to the start of its
// statement, driven by a small state machine:
//
//	stateBeforeName            walk back over the statement, noting unmatched
//	                           parentheses. Leaves for stateInDeclarationKeyword
//	                           when the statement opens with an @-directive,
//	                           for stateAfterOpenParen when the token sits
//	                           inside parentheses, and finishes otherwise.
//	stateInDeclarationKeyword  read the directive keyword. Leaves for
//	                           stateInParameterList when the token is inside
//	                           the parameter list of @mixin or @function, for
//	                           stateAfterOpenParen when it is inside any other
//	                           parentheses, and finishes otherwise.
//	stateInParameterList       decide between parameter and default value.
//	                           Always finishes.
//	stateAfterOpenParen        decide between keyword argument and use.
//	                           Always finishes.
package classifier

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/scss"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

// ErrOffsetOutOfRange is returned for offsets outside [0, len(text)].
var ErrOffsetOutOfRange = document.ErrOffsetOutOfRange

type Role int

const (
	RoleNone Role = iota
	RoleDeclaration
	RoleParameter
	RoleUse
)

func (r Role) String() string {
	switch r {
	case RoleDeclaration:
		return "declaration"
	case RoleParameter:
		return "parameter"
	case RoleUse:
		return "use"
	default:
		return "none"
	}
}

// TokenContext describes the token under the cursor. Kind and Name are set
// whenever Role is not RoleNone. Variable names keep their leading '$'.
// Start and End are the byte span of the name.
type TokenContext struct {
	Role      Role
	Kind      symbols.Kind
	Name      string
	Namespace string
	Start     int
	End       int
}

// Resolvable reports whether the token is a use that a definition lookup
// should chase.
func (c TokenContext) Resolvable() bool {
	return c.Role == RoleUse && c.Kind.Valid() && c.Name != ""
}

type state int

const (
	stateBeforeName state = iota
	stateInDeclarationKeyword
	stateInParameterList
	stateAfterOpenParen
	stateDone
)

// pseudo-class functions that look like calls in selectors
var pseudoFunctions = map[string]bool{
	"not": true, "is": true, "where": true, "has": true, "matches": true,
	"nth-child": true, "nth-last-child": true, "nth-of-type": true, "nth-last-of-type": true,
	"lang": true, "dir": true, "host": true, "host-context": true,
	"slotted": true, "part": true, "cue": true, "state": true,
	"global": true, "local": true, "-moz-any": true, "-webkit-any": true,
}

// words that read like identifiers inside directives but never name a symbol
var reserved = map[string]bool{
	"if": true, "and": true, "or": true, "not": true, "in": true,
	"from": true, "through": true, "to": true, "using": true, "as": true,
	"with": true, "show": true, "hide": true,
}

type token struct {
	start     int // first byte of the name, including '$'
	end       int
	lead      int // first byte of the namespace prefix, or start
	variable  bool
	namespace string
}

type scan struct {
	text      string // masked
	tok       token
	name      string
	nextParen bool
	nextColon bool
	prev      byte // first non-space byte before lead, 0 at text start

	stmtStart  int
	openParen  int // innermost unmatched '(' before the token
	outerParen int // outermost unmatched '(' in the statement
	keyword    string
	keywordEnd int
}

// Classify reports the role of the identifier at offset in text. An offset
// just past the end of a token still addresses it, as does an offset on the
// '$' of a variable.
func Classify(text string, offset int) (TokenContext, error) {
	if offset < 0 || offset > len(text) {
		return TokenContext{}, errors.Wrapf(ErrOffsetOutOfRange, "offset %d, length %d", offset, len(text))
	}

	masked := scss.Mask(text)
	tok, ok := tokenAt(masked, offset)
	if !ok {
		return TokenContext{}, nil
	}

	s := &scan{
		text:       masked,
		tok:        tok,
		name:       text[tok.start:tok.end],
		openParen:  -1,
		outerParen: -1,
	}
	s.peek()

	role, kind := s.run()
	if role == RoleNone {
		return TokenContext{}, nil
	}
	return TokenContext{
		Role:      role,
		Kind:      kind,
		Name:      s.name,
		Namespace: tok.namespace,
		Start:     tok.start,
		End:       tok.end,
	}, nil
}

func tokenAt(m string, offset int) (token, bool) {
	pos := offset
	if pos < len(m) && m[pos] == '$' {
		pos++
	}

	start := pos
	for start > 0 && scss.IsNameByte(m[start-1]) {
		start--
	}
	end := pos
	for end < len(m) && scss.IsNameByte(m[end]) {
		end++
	}
	if start == end || !scss.IsNameStart(m[start:end]) {
		return token{}, false
	}

	t := token{start: start, end: end}
	if start > 0 {
		switch m[start-1] {
		case '$':
			t.start--
			t.variable = true
		case '@', '%', '#', '!':
			// directive keyword, placeholder, hex colour or id, flag
			return token{}, false
		}
	}

	t.lead = t.start
	if t.start > 1 && m[t.start-1] == '.' && scss.IsNameByte(m[t.start-2]) {
		nsStart := t.start - 1
		for nsStart > 0 && scss.IsNameByte(m[nsStart-1]) {
			nsStart--
		}
		if nsStart == 0 || !strings.ContainsRune(".$#%@", rune(m[nsStart-1])) {
			t.namespace = m[nsStart : t.start-1]
			t.lead = nsStart
		}
	}
	return t, true
}

func (s *scan) peek() {
	m := s.text
	j := s.tok.end
	if strings.HasPrefix(m[j:], "...") {
		j += 3
	}
	j = scss.SkipSpace(m, j)
	if j < len(m) {
		s.nextParen = m[j] == '('
		s.nextColon = m[j] == ':' && !(j+1 < len(m) && m[j+1] == ':')
	}
	if k := scss.SkipSpaceBack(m, s.tok.lead-1); k >= 0 {
		s.prev = m[k]
	}
}

func (s *scan) run() (Role, symbols.Kind) {
	var (
		role Role
		kind symbols.Kind
	)
	st := stateBeforeName
	for st != stateDone {
		switch st {
		case stateBeforeName:
			s.findStatement()
			switch {
			case s.readKeyword():
				st = stateInDeclarationKeyword
			case s.openParen >= 0:
				st = stateAfterOpenParen
			default:
				role, kind = s.plainStatement()
				st = stateDone
			}

		case stateInDeclarationKeyword:
			switch {
			case s.inDeclarationHeader():
				st = stateInParameterList
			case s.openParen >= 0:
				st = stateAfterOpenParen
			default:
				role, kind = s.directive()
				st = stateDone
			}

		case stateInParameterList:
			role, kind = s.parameterList()
			st = stateDone

		case stateAfterOpenParen:
			role, kind = s.arguments()
			st = stateDone
		}
	}
	if role == RoleUse && kind == symbols.KindVariable && s.boundParameter() {
		role = RoleParameter
	}
	return role, kind
}

// boundParameter reports whether the token is a variable named in the
// parameter list of a @mixin or @function whose body encloses it.
func (s *scan) boundParameter() bool {
	if s.tok.namespace != "" {
		return false
	}
	m := s.text
	depth := 0
	for i := s.tok.lead - 1; i >= 0; i-- {
		switch m[i] {
		case '}':
			depth++
		case '{':
			if depth > 0 {
				depth--
				continue
			}
			if i > 0 && m[i-1] == '#' {
				continue
			}
			for _, p := range headerParameters(m, i) {
				if p == s.name {
					return true
				}
			}
		}
	}
	return false
}

// headerParameters returns the parameters of the @mixin or @function
// declaration whose body opens at brace, or nil for any other block.
func headerParameters(m string, brace int) []string {
	start := brace - 1
	for start >= 0 && m[start] != ';' && m[start] != '{' && m[start] != '}' {
		start--
	}
	k := scss.SkipSpace(m, start+1)
	if k >= brace || m[k] != '@' {
		return nil
	}
	end := scss.ReadIdent(m, k+1)
	if kw := strings.ToLower(m[k+1 : end]); kw != "mixin" && kw != "function" {
		return nil
	}
	open := scss.SkipSpace(m, scss.ReadIdent(m, scss.SkipSpace(m, end)))
	if open >= brace || m[open] != '(' {
		return nil
	}
	return scss.Parameters(m, open)
}

// findStatement walks back from the token to the nearest statement boundary,
// skipping over #{...} interpolation and recording unmatched parentheses.
func (s *scan) findStatement() {
	m := s.text
	depth := 0
	i := s.tok.lead - 1
	for ; i >= 0; i-- {
		switch m[i] {
		case ')':
			depth++
		case '(':
			if depth > 0 {
				depth--
				continue
			}
			if s.openParen < 0 {
				s.openParen = i
			}
			s.outerParen = i
		case ';':
			s.stmtStart = i + 1
			return
		case '{':
			if i > 0 && m[i-1] == '#' {
				i--
				continue
			}
			s.stmtStart = i + 1
			return
		case '}':
			if open := matchingBrace(m, i); open > 0 && m[open-1] == '#' {
				i = open - 1
				continue
			}
			s.stmtStart = i + 1
			return
		}
	}
	s.stmtStart = 0
}

func matchingBrace(m string, close int) int {
	depth := 0
	for k := close; k >= 0; k-- {
		switch m[k] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return k
			}
		case ';':
			return -1
		}
	}
	return -1
}

func (s *scan) readKeyword() bool {
	k := scss.SkipSpace(s.text, s.stmtStart)
	if k >= s.tok.lead || s.text[k] != '@' {
		return false
	}
	end := scss.ReadIdent(s.text, k+1)
	s.keyword = strings.ToLower(s.text[k+1 : end])
	s.keywordEnd = end
	return true
}

// inDeclarationHeader reports whether the token sits in the parameter list of
// a @mixin or @function declaration.
func (s *scan) inDeclarationHeader() bool {
	if s.keyword != "mixin" && s.keyword != "function" {
		return false
	}
	if s.outerParen < 0 {
		return false
	}
	name := strings.TrimSpace(s.text[s.keywordEnd:s.outerParen])
	return name != "" && scss.ReadIdent(name, 0) == len(name)
}

func (s *scan) plainStatement() (Role, symbols.Kind) {
	if s.tok.variable {
		if s.nextColon && s.startsLine() {
			return RoleDeclaration, symbols.KindVariable
		}
		return RoleUse, symbols.KindVariable
	}
	return s.call()
}

// startsLine reports whether only whitespace precedes the token in its
// statement, or, for statements missing their terminator, on its own line.
func (s *scan) startsLine() bool {
	prefix := s.text[s.stmtStart:s.tok.lead]
	if strings.TrimSpace(prefix) == "" {
		return true
	}
	if i := strings.LastIndexByte(prefix, '\n'); i >= 0 {
		return strings.TrimSpace(prefix[i+1:]) == ""
	}
	return false
}

// call classifies a bare identifier: a function use when followed by '('.
func (s *scan) call() (Role, symbols.Kind) {
	if !s.nextParen || reserved[s.name] {
		return RoleNone, 0
	}
	if s.tok.lead > 0 && s.text[s.tok.lead-1] == ':' && pseudoFunctions[strings.ToLower(s.name)] {
		return RoleNone, 0
	}
	return RoleUse, symbols.KindFunction
}

func (s *scan) directive() (Role, symbols.Kind) {
	rest := s.text[s.keywordEnd:s.tok.lead]
	first := strings.TrimSpace(rest) == "" && rest != ""

	switch s.keyword {
	case "mixin", "function":
		if s.tok.variable {
			// @content arguments after the parameter list
			return RoleParameter, symbols.KindVariable
		}
		if first {
			if s.keyword == "mixin" {
				return RoleDeclaration, symbols.KindMixin
			}
			return RoleDeclaration, symbols.KindFunction
		}
		return RoleNone, 0

	case "include":
		if s.tok.variable {
			return RoleUse, symbols.KindVariable
		}
		if first {
			return RoleUse, symbols.KindMixin
		}
		return RoleNone, 0

	case "each", "for":
		if s.tok.variable && !hasWord(rest, "in", "from") {
			return RoleDeclaration, symbols.KindVariable
		}
	}

	if s.tok.variable {
		return RoleUse, symbols.KindVariable
	}
	return s.call()
}

func (s *scan) parameterList() (Role, symbols.Kind) {
	if !s.tok.variable {
		return s.call()
	}
	if s.openParen == s.outerParen && (s.prev == '(' || s.prev == ',') {
		return RoleParameter, symbols.KindVariable
	}
	for _, p := range scss.Parameters(s.text, s.outerParen) {
		if p == s.name {
			return RoleParameter, symbols.KindVariable
		}
	}
	return RoleUse, symbols.KindVariable
}

func (s *scan) arguments() (Role, symbols.Kind) {
	if s.tok.variable {
		if s.nextColon && (s.prev == '(' || s.prev == ',') {
			return RoleParameter, symbols.KindVariable
		}
		return RoleUse, symbols.KindVariable
	}
	return s.call()
}

func hasWord(s string, words ...string) bool {
	for _, f := range strings.Fields(s) {
		for _, w := range words {
			if strings.EqualFold(f, w) {
				return true
			}
		}
	}
	return false
}
