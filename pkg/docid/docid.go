// Package docid derives engine document identifiers from page URLs.
//
// The same encoding is applied when a document is written to the index and
// when a search hit is projected for clients, so both sides always agree on
// the identifier of a given URL.
package docid

import "strings"

// Replacement is substituted for every character outside the kept set.
const Replacement = '-'

// Encode replaces every character that is not an ASCII letter, an ASCII digit
// or whitespace with '-'. Whitespace is the set space, \t, \n, \v, \f and \r.
//
// Encode works on runes: a multi-byte character becomes a single '-', and each
// byte of an invalid UTF-8 sequence becomes its own '-'. Encode is total and
// idempotent: Encode(Encode(s)) == Encode(s).
func Encode(url string) string {
	return strings.Map(mapRune, url)
}

func mapRune(r rune) rune {
	if Keeps(r) {
		return r
	}
	return Replacement
}

// Keeps reports whether r survives Encode unchanged.
func Keeps(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '\t', r == '\n', r == '\v', r == '\f', r == '\r':
		return true
	}
	return false
}
