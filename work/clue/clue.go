// Package clue turns identifiers and upstream URLs into opaque URL-safe tokens so that
// public links never expose what they point at.
package clue

import (
	"strings"

	"media-relay/work/textutil"
)

const separator = "|"

// Clue is a decoded token addressing one item of one API (a music source, a video site).
type Clue struct {
	API string
	ID  string
}

// CreateParams encodes arbitrary text (usually an upstream URL) into a token: URL-safe
// base64 with the '=' padding stripped.
func CreateParams(text string) string {
	return textutil.EncodeBase64(text)
}

// ParseParams reverses CreateParams. Malformed tokens yield ok=false, never a panic.
func ParseParams(token string) (string, bool) {
	return textutil.DecodeBase64(token)
}

// Create builds the token of an api/id pair. api must not contain '|'.
func Create(api, id string) string {
	return CreateParams(api + separator + id)
}

// Parse decodes a token made by Create. The id keeps any '|' it contained.
func Parse(token string) (Clue, bool) {
	text, ok := ParseParams(token)
	if !ok {
		return Clue{}, false
	}
	api, id, found := strings.Cut(text, separator)
	if !found || api == "" {
		return Clue{}, false
	}
	return Clue{API: api, ID: id}, true
}

// String renders the token of c.
func (c Clue) String() string {
	return Create(c.API, c.ID)
}
