// Package textutil holds the string helpers shared by the adapters, the lyric parser and
// the token codec. Everything here is a pure function.
package textutil

import (
	"bytes"
	"encoding/base64"
	"html"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/grafana/regexp"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	tagRegex   = regexp.MustCompile(`<[^>]*>`)
	spaceRegex = regexp.MustCompile(`\s+`)
)

// CleanText strips markup from a scraped fragment, decodes HTML entities and
// collapses whitespace.
func CleanText(s string) string {
	s = tagRegex.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// UnescapeJSONSlashes turns `\/` sequences found in inline scripts back into `/`.
func UnescapeJSONSlashes(s string) string {
	return strings.ReplaceAll(s, `\/`, "/")
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ParseDuration converts "mm:ss", "mm:ss.fff" or "hh:mm:ss.fff" into seconds rounded
// to two decimals. ok is false when the input is not a timestamp.
func ParseDuration(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || seconds < 0 {
		return 0, false
	}

	total := seconds
	mult := 60.0
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, false
		}
		total += float64(n) * mult
		mult *= 60
	}

	return Round2(total), true
}

// ResolveURL resolves ref against base. Absolute refs are returned untouched and an
// unparsable base yields ref as-is.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return base
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// EncodeBase64 encodes text with the URL-safe alphabet and no padding.
func EncodeBase64(text string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(text))
}

// DecodeBase64 decodes URL-safe or standard base64 with or without padding.
// Padding is restored as (4 - len%4) % 4 '=' characters before decoding.
func DecodeBase64(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	token = strings.TrimRight(token, "=")
	if len(token)%4 == 1 {
		return "", false
	}
	padded := token + strings.Repeat("=", (4-len(token)%4)%4)

	data, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		data, err = base64.StdEncoding.DecodeString(padded)
		if err != nil {
			return "", false
		}
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// FixLatin1Mojibake repairs a string whose UTF-8 bytes were decoded as Latin-1 by the
// sender and re-encoded, e.g. "æ­\u008c" for "歌". Each rune is mapped back to the
// byte it came from; the result is used only when those bytes form valid UTF-8 that
// differs from the input. Anything else is returned unchanged.
//
// This corrects one upstream's broken Location header and is not a general purpose
// charset converter.
func FixLatin1Mojibake(s string) string {
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil || raw == s || !utf8.ValidString(raw) {
		return s
	}
	return raw
}

// DecodeText converts a downloaded text file to UTF-8. UTF-16 files must carry a BOM;
// a UTF-8 BOM is stripped.
func DecodeText(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte{0xFF, 0xFE}), bytes.HasPrefix(b, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, b)
		if err == nil {
			return string(out)
		}
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return string(b[3:])
	}
	return string(b)
}
