// Package scss holds the lexical helpers shared by the symbol parser and the
// cursor classifier.
package scss

// Mask returns a copy of text of identical byte length in which comments and
// the contents of string literals are blanked out with spaces. Newlines, quote
// characters and #{...} interpolations inside strings are kept, so every
// offset into the mask is also an offset into text. Unterminated comments and
// strings are masked up to the end of the text or line respectively.
func Mask(text string) string {
	out := []byte(text)

	const (
		modeCode = iota
		modeString
		modeInterp
	)
	type frame struct {
		mode  int
		quote byte
		depth int
	}
	stack := []frame{{mode: modeCode}}

	blank := func(from, to int) {
		for k := from; k < to && k < len(out); k++ {
			if out[k] != '\n' {
				out[k] = ' '
			}
		}
	}

	for i := 0; i < len(out); {
		top := &stack[len(stack)-1]
		c := out[i]

		switch top.mode {
		case modeCode, modeInterp:
			switch {
			case c == '/' && i+1 < len(out) && out[i+1] == '/' && !inURL(out, i):
				end := i
				for end < len(out) && out[end] != '\n' {
					end++
				}
				blank(i, end)
				i = end
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				end := i + 2
				for end < len(out) && !(out[end] == '*' && end+1 < len(out) && out[end+1] == '/') {
					end++
				}
				end += 2
				if end > len(out) {
					end = len(out)
				}
				blank(i, end)
				i = end
			case c == '"' || c == '\'':
				stack = append(stack, frame{mode: modeString, quote: c})
				i++
			case top.mode == modeInterp && c == '{':
				top.depth++
				i++
			case top.mode == modeInterp && c == '}':
				if top.depth == 0 {
					stack = stack[:len(stack)-1]
				} else {
					top.depth--
				}
				i++
			default:
				i++
			}

		case modeString:
			switch {
			case c == '\\' && i+1 < len(out) && out[i+1] != '\n':
				blank(i, i+2)
				i += 2
			case c == top.quote:
				stack = stack[:len(stack)-1]
				i++
			case c == '\n':
				stack = stack[:len(stack)-1]
				i++
			case c == '#' && i+1 < len(out) && out[i+1] == '{':
				stack = append(stack, frame{mode: modeInterp})
				i += 2
			default:
				out[i] = ' '
				i++
			}
		}
	}

	return string(out)
}

// inURL reports whether position i sits inside an unquoted url( ... ) token,
// where // is part of the address rather than a comment.
func inURL(b []byte, i int) bool {
	for k := i - 1; k >= 0; k-- {
		switch b[k] {
		case ')', ';', '{', '}', '\n':
			return false
		case '(':
			return k >= 3 && string(b[k-3:k]) == "url"
		}
	}
	return false
}

// IsNameByte reports whether c may appear inside an identifier. Bytes of
// multi-byte runes are accepted so non-ASCII names stay whole.
func IsNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c >= 0x80
}

// IsNameStart reports whether name is a plausible identifier rather than a
// number or dimension such as 10px or -2em.
func IsNameStart(name string) bool {
	if name == "" {
		return false
	}
	c := name[0]
	if c >= '0' && c <= '9' {
		return false
	}
	if c == '-' {
		if len(name) == 1 {
			return false
		}
		if d := name[1]; d >= '0' && d <= '9' || d == '.' {
			return false
		}
	}
	return true
}

func IsSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// ReadIdent returns the end of the identifier starting at i.
func ReadIdent(s string, i int) int {
	for i < len(s) && IsNameByte(s[i]) {
		i++
	}
	return i
}

// SkipSpace returns the first index at or after i that is not whitespace.
func SkipSpace(s string, i int) int {
	for i < len(s) && IsSpace(s[i]) {
		i++
	}
	return i
}

// SkipSpaceBack returns the last index at or before i that is not whitespace,
// or -1.
func SkipSpaceBack(s string, i int) int {
	for i >= 0 && IsSpace(s[i]) {
		i--
	}
	return i
}

// Parameters lists the $-prefixed parameter names of the parameter list
// whose opening parenthesis is at open in the masked text m.
func Parameters(m string, open int) []string {
	var params []string
	depth := 0
	expectName := true
	for i := open + 1; i < len(m); i++ {
		c := m[i]
		switch {
		case c == '(':
			depth++
		case c == ')':
			if depth == 0 {
				return params
			}
			depth--
		case c == ',' && depth == 0:
			expectName = true
		case c == '{' || c == ';':
			return params
		case c == '$' && depth == 0 && expectName:
			end := ReadIdent(m, i+1)
			if end > i+1 {
				params = append(params, m[i:end])
			}
			expectName = false
			i = end - 1
		case !IsSpace(c):
			expectName = false
		}
	}
	return params
}
