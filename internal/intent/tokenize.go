// Package intent derives structural signals from chunk source and
// queries: HTTP route detection, intent tags from a closed vocabulary,
// and the shared keyword tokenization used by the scorer.
package intent

import (
	"regexp"
	"sort"
	"strings"
)

var identifierRE = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// stopTerms are dropped from keyword sets. They carry no discriminating
// signal for code retrieval.
var stopTerms = map[string]bool{
	"the": true, "this": true, "that": true, "with": true,
	"from": true, "into": true, "where": true, "when": true,
	"which": true, "what": true, "does": true, "should": true,
	"route": true, "endpoint": true, "http": true, "api": true,
	"resource": true,
}

// Tokenize extracts identifier tokens from text, splitting camelCase and
// snake_case, lowercased. Multi-part identifiers contribute both the
// whole identifier and its parts. Single-character tokens are dropped.
func Tokenize(text string) []string {
	var out []string
	for _, ident := range identifierRE.FindAllString(text, -1) {
		parts := splitIdentifier(ident)
		whole := strings.ToLower(ident)
		if len(whole) > 1 {
			out = append(out, whole)
		}
		if len(parts) > 1 {
			for _, p := range parts {
				if len(p) > 1 {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// Keywords tokenizes text and returns the deduplicated, stop-filtered,
// sorted keyword set.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		if stopTerms[tok] {
			continue
		}
		seen[tok] = true
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// KeywordSet returns Keywords as a membership map.
func KeywordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, kw := range Keywords(text) {
		set[kw] = true
	}
	return set
}

// splitIdentifier breaks an identifier on underscores and camelCase
// boundaries, lowercasing each part.
func splitIdentifier(ident string) []string {
	var parts []string
	for _, seg := range strings.Split(ident, "_") {
		if seg == "" {
			continue
		}
		start := 0
		runes := []rune(seg)
		for i := 1; i < len(runes); i++ {
			prev, cur := runes[i-1], runes[i]
			boundary := false
			switch {
			case isLower(prev) && isUpper(cur):
				// fooBar -> foo | Bar
				boundary = true
			case isUpper(prev) && isUpper(cur) && i+1 < len(runes) && isLower(runes[i+1]):
				// HTTPServer -> HTTP | Server
				boundary = true
			case isDigit(prev) != isDigit(cur):
				boundary = true
			}
			if boundary {
				parts = append(parts, strings.ToLower(string(runes[start:i])))
				start = i
			}
		}
		parts = append(parts, strings.ToLower(string(runes[start:])))
	}
	return parts
}

func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }
