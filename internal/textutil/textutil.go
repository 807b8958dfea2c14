// Package textutil provides text normalization, tokenization, and
// word-boundary matching shared by every stage of the selection pipeline.
package textutil

import (
	"strings"
	"unicode"
)

// stopwords are dropped during tokenization. Query-side words like "me" or
// "some" carry no ranking signal for catalog text.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "it": true, "this": true, "that": true,
	"i": true, "me": true, "my": true, "we": true, "you": true, "your": true,
	"some": true, "any": true, "want": true, "need": true, "looking": true,
	"please": true, "get": true, "give": true, "show": true, "find": true,
}

// falsePositiveDenylist maps a term to containing words that must never
// count as a match for it. Containment matching at the loosest gate stage
// would otherwise match "top" inside "laptop".
var falsePositiveDenylist = map[string][]string{
	"top":   {"laptop", "desktop", "stopwatch", "topcoat"},
	"ring":  {"earring", "earrings", "keyring", "string", "spring"},
	"cap":   {"capri", "capris", "escape", "capsule"},
	"tank":  {"tankini"},
	"tie":   {"tiered", "necktie-dye"},
	"short": {"shortbread"},
	"pant":  {"pantry"},
	"hat":   {"hatch", "hatchback"},
}

// Normalize lowercases text and replaces punctuation with spaces, collapsing
// runs of whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// Tokenize normalizes text and splits it into tokens, dropping stopwords and
// single-character fragments.
func Tokenize(text string) []string {
	fields := strings.Fields(Normalize(text))

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TokenizeAll is Tokenize without stopword filtering. Phrase matching needs
// the stopwords kept so "set of plates" still matches as a phrase.
func TokenizeAll(text string) []string {
	return strings.Fields(Normalize(text))
}

// IsStopword reports whether the token is a stopword.
func IsStopword(token string) bool {
	return stopwords[token]
}

// ContainsPhrase reports whether the normalized haystack contains the
// normalized phrase with word boundaries on both sides.
func ContainsPhrase(haystack, phrase string) bool {
	h := " " + Normalize(haystack) + " "
	p := " " + Normalize(phrase) + " "
	if strings.TrimSpace(p) == "" {
		return false
	}
	return strings.Contains(h, p)
}

// ContainsToken reports whether the normalized haystack contains the token
// as a whole word.
func ContainsToken(haystack, token string) bool {
	return ContainsPhrase(haystack, token)
}

// ContainsTokenLoose reports whether any word in the haystack contains the
// token as a substring, excluding known false-positive containers. This is
// the loosest matcher and is only used by the token-containment gate stage.
func ContainsTokenLoose(haystack, token string) bool {
	token = Normalize(token)
	if token == "" {
		return false
	}

	denied := falsePositiveDenylist[token]
	for _, word := range strings.Fields(Normalize(haystack)) {
		if !strings.Contains(word, token) {
			continue
		}
		if isDenied(word, denied) {
			continue
		}
		return true
	}
	return false
}

func isDenied(word string, denied []string) bool {
	for _, d := range denied {
		if word == d {
			return true
		}
	}
	return false
}
