package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectEncoding(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantBOM bool
	}{
		{"empty", nil, "utf-8", false},
		{"ascii", []byte("$a: 1;"), "utf-8", false},
		{"utf8 multibyte", []byte("$größe: 1;"), "utf-8", false},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "$a: 1;"...), "utf-8", true},
		{"utf16le bom", []byte{0xFF, 0xFE, '$', 0, 'a', 0}, "utf-16le", true},
		{"utf16be bom", []byte{0xFE, 0xFF, 0, '$', 0, 'a'}, "utf-16be", true},
		{"utf16le without bom", []byte{'a', 0, '{', 0, '}', 0}, "utf-16le", false},
		{"utf16be without bom", []byte{0, 'a', 0, '{', 0, '}'}, "utf-16be", false},
		{"charset rule", []byte("@charset \"ISO-8859-15\";\n$a: 1;"), "iso-8859-15", false},
		{"charset utf-8 ignored", []byte("@charset \"UTF-8\";\n$a: 1;"), "utf-8", false},
		{"windows-1252 quotes", []byte("$q: \x93x\x94;"), "windows-1252", false},
		{"latin1", []byte("$w: caf\xe9;"), "iso-8859-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectEncoding(tt.data)
			assert.Equal(t, tt.want, got.Encoding)
			assert.Equal(t, tt.wantBOM, got.HasBOM)
		})
	}
}

func TestNormalizeToUTF8(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"utf8 bom stripped", append([]byte{0xEF, 0xBB, 0xBF}, "$a: 1;"...), "$a: 1;"},
		{"utf16le", []byte{0xFF, 0xFE, '$', 0, 'a', 0}, "$a"},
		{"utf16be", []byte{0xFE, 0xFF, 0, '$', 0, 'a'}, "$a"},
		{"latin1", []byte("caf\xe9"), "café"},
		{"windows-1252", []byte("\x93x\x94"), "“x”"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeToUTF8(tt.data, DetectEncoding(tt.data)))
		})
	}
}

func TestNormalizeInvalidUTF8(t *testing.T) {
	got := NormalizeToUTF8([]byte("a\xffb"), EncodingResult{Encoding: "utf-8"})
	assert.Equal(t, "a\uFFFDb", got)
}

func TestReadFileAsUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latin.scss")
	raw := []byte("$w: caf\xe9;")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	content, gotRaw, detected, err := ReadFileAsUTF8(path)
	require.NoError(t, err)
	assert.Equal(t, "$w: café;", content)
	assert.Equal(t, raw, gotRaw)
	assert.Equal(t, "iso-8859-1", detected.Encoding)

	_, _, _, err = ReadFileAsUTF8(filepath.Join(t.TempDir(), "missing.scss"))
	assert.Error(t, err)
}
