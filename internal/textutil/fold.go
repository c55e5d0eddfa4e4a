// Package textutil provides the text folding used for document search.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns s lower-cased with diacritics removed, so "État" and
// "etat" compare equal. Transformers are not safe for concurrent use,
// so a fresh chain is built per call.
func Fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	return cases.Fold().String(stripped)
}

// Contains reports whether the folded form of s contains the folded query.
// An empty query matches everything.
func Contains(s, query string) bool {
	q := Fold(query)
	if q == "" {
		return true
	}
	return strings.Contains(Fold(s), q)
}
