package document

import (
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
)

const fileScheme = "file"

var ErrNotFileURI = errors.New("not a file uri")

// IsURI reports whether s carries a scheme such as file:// or untitled:.
func IsURI(s string) bool {
	i := strings.Index(s, ":")
	if i <= 1 {
		// a single letter before the colon is a windows drive, not a scheme
		return false
	}
	for _, c := range s[:i] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

// FromPath returns the file URI for path. Relative paths are made absolute.
func FromPath(path string) string {
	if IsURI(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	slashed := filepath.ToSlash(abs)
	if runtime.GOOS == "windows" || !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: fileScheme, Path: slashed}
	return u.String()
}

// ToPath converts a file URI back to a native path.
func ToPath(uri string) (string, error) {
	if !IsURI(uri) {
		return "", errors.Wrapf(ErrNotFileURI, "%q", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "parse uri %q", uri)
	}
	if u.Scheme != fileScheme {
		return "", errors.Wrapf(ErrNotFileURI, "%q", uri)
	}

	p := u.Path
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		// file:///C:/x
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

// Addressable returns id unchanged when it is already a URI, and the file
// URI for it otherwise.
func Addressable(id string) string {
	if IsURI(id) {
		return id
	}
	return FromPath(id)
}
