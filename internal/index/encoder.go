package index

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type EncodingResult struct {
	Encoding   string  `json:"encoding"`
	Confidence float64 `json:"confidence"`
	HasBOM     bool    `json:"has_bom"`
}

const maxSampleSize = 8192

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}

	// @charset must be the very first bytes of a stylesheet
	charsetRule = regexp.MustCompile(`^@charset "([A-Za-z0-9_.:\-]+)";`)
)

// DetectEncoding guesses the encoding of a stylesheet: a byte order mark wins,
// then an @charset rule, then UTF-16 without a mark, then valid UTF-8, then
// single-byte statistics.
func DetectEncoding(data []byte) EncodingResult {
	if len(data) == 0 {
		return EncodingResult{Encoding: "utf-8", Confidence: 1.0}
	}

	if result, ok := detectBOM(data); ok {
		return result
	}

	sample := data
	if len(sample) > maxSampleSize {
		sample = sample[:maxSampleSize]
	}

	if m := charsetRule.FindSubmatch(sample); m != nil {
		name := strings.ToLower(string(m[1]))
		if _, err := htmlindex.Get(name); err == nil && name != "utf-8" {
			return EncodingResult{Encoding: name, Confidence: 0.9}
		}
	}

	if scoreUTF16(sample, 1) > 0.75 {
		return EncodingResult{Encoding: "utf-16le", Confidence: 0.8}
	}
	if scoreUTF16(sample, 0) > 0.75 {
		return EncodingResult{Encoding: "utf-16be", Confidence: 0.8}
	}

	if validUTF8Prefix(sample, len(data) > len(sample)) {
		return EncodingResult{Encoding: "utf-8", Confidence: 0.95}
	}

	return detectSingleByte(sample)
}

func detectBOM(data []byte) (EncodingResult, bool) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return EncodingResult{Encoding: "utf-8", Confidence: 1.0, HasBOM: true}, true
	case bytes.HasPrefix(data, bomUTF16LE):
		return EncodingResult{Encoding: "utf-16le", Confidence: 1.0, HasBOM: true}, true
	case bytes.HasPrefix(data, bomUTF16BE):
		return EncodingResult{Encoding: "utf-16be", Confidence: 1.0, HasBOM: true}, true
	}
	return EncodingResult{}, false
}

// validUTF8Prefix is utf8.Valid that tolerates a rune cut off by sampling.
func validUTF8Prefix(sample []byte, truncated bool) bool {
	if utf8.Valid(sample) {
		return true
	}
	if !truncated {
		return false
	}
	for i := 1; i < utf8.UTFMax && i < len(sample); i++ {
		head, tail := sample[:len(sample)-i], sample[len(sample)-i:]
		if utf8.Valid(head) && !utf8.FullRune(tail) {
			return true
		}
	}
	return false
}

func detectSingleByte(sample []byte) EncodingResult {
	// C1 control bytes never appear in latin-1 text, but are printable
	// punctuation in windows-1252.
	for _, b := range sample {
		if b >= 0x80 && b <= 0x9F {
			return EncodingResult{Encoding: "windows-1252", Confidence: 0.6}
		}
	}
	return EncodingResult{Encoding: "iso-8859-1", Confidence: 0.5}
}

// scoreUTF16 returns the share of code units whose byte at position parity is
// zero, which is high for mostly-ASCII UTF-16 text.
func scoreUTF16(data []byte, parity int) float64 {
	if len(data) < 2 || len(data)%2 != 0 {
		return 0
	}
	zeros := 0
	for i := parity; i < len(data); i += 2 {
		if data[i] == 0 {
			zeros++
		}
	}
	return float64(zeros) / float64(len(data)/2)
}

// NormalizeToUTF8 decodes data from the detected encoding. Bytes that do not
// decode become U+FFFD.
func NormalizeToUTF8(data []byte, detected EncodingResult) string {
	data = stripBOM(data, detected)

	var enc encoding.Encoding
	switch detected.Encoding {
	case "", "utf-8", "ascii":
		return string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
	case "utf-16le":
		enc = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case "utf-16be":
		enc = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case "windows-1252":
		enc = charmap.Windows1252
	case "iso-8859-1":
		enc = charmap.ISO8859_1
	default:
		found, err := htmlindex.Get(detected.Encoding)
		if err != nil {
			return string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
		}
		enc = found
	}
	return decodeWithFallback(data, enc.NewDecoder())
}

func stripBOM(data []byte, detected EncodingResult) []byte {
	if !detected.HasBOM {
		return data
	}
	for _, bom := range [][]byte{bomUTF8, bomUTF16LE, bomUTF16BE} {
		if bytes.HasPrefix(data, bom) {
			return data[len(bom):]
		}
	}
	return data
}

func decodeWithFallback(data []byte, decoder *encoding.Decoder) string {
	if len(data) == 0 {
		return ""
	}

	result, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), decoder))
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
	}
	return string(bytes.ToValidUTF8(result, []byte("\uFFFD")))
}

// ReadFileAsUTF8 reads path and returns its text as UTF-8 together with the
// raw bytes, which the indexer hashes.
func ReadFileAsUTF8(path string) (content string, raw []byte, detected EncodingResult, err error) {
	raw, err = os.ReadFile(path)
	if err != nil {
		return "", nil, EncodingResult{}, errors.Wrapf(err, "read %s", path)
	}

	detected = DetectEncoding(raw)
	return NormalizeToUTF8(raw, detected), raw, detected, nil
}
