package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// textyKeywords mark queries that are about text inside the image.
var textyKeywords = []string{
	"error", "code", "http", "forbidden", "denied",
	"invoice", "receipt", "total", "$", "usd", "cad",
}

func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// Tokenize splits q into case-folded alphanumeric runs. A run is kept if it
// has at least three characters or is all digits. Duplicates are dropped.
func Tokenize(q string) []string {
	q = fold(q)
	parts := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if utf8.RuneCountInString(p) < 3 && !isDigits(p) {
			continue
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// LooksTexty reports whether q contains a digit or a texty keyword.
func LooksTexty(q string) bool {
	for _, r := range q {
		if unicode.IsDigit(r) {
			return true
		}
	}
	lq := fold(q)
	for _, k := range textyKeywords {
		if strings.Contains(lq, k) {
			return true
		}
	}
	return false
}

// MatchedTokens returns the tokens contained in text, case-insensitively.
func MatchedTokens(tokens []string, text string) []string {
	out := []string{}
	if text == "" {
		return out
	}
	ft := fold(text)
	for _, t := range tokens {
		if strings.Contains(ft, t) {
			out = append(out, t)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
