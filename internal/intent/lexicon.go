package intent

import (
	"strings"

	"github.com/curatelabs/selection-engine/internal/textutil"
)

// Lexicon is the catalog-derived vocabulary the parser classifies spans
// against: item-type terms discovered from type/tag/collection labels, and
// the observed facet value sets.
type Lexicon struct {
	typeTerms  map[string]struct{}
	facetVals  map[string]map[string]struct{}
	maxSpanLen int
}

// NewLexicon builds a lexicon from catalog type labels and the discovered
// facet vocabulary.
func NewLexicon(typeLabels []string, facetVocab map[string][]string) *Lexicon {
	lex := &Lexicon{
		typeTerms:  make(map[string]struct{}, len(typeLabels)),
		facetVals:  make(map[string]map[string]struct{}, len(facetVocab)),
		maxSpanLen: 1,
	}

	for _, label := range typeLabels {
		label = textutil.Normalize(label)
		if label == "" {
			continue
		}
		lex.typeTerms[label] = struct{}{}
		if n := len(strings.Fields(label)); n > lex.maxSpanLen {
			lex.maxSpanLen = n
		}
		// Index singular/plural counterparts so "suits" finds a "suit" label.
		for _, variant := range textutil.Variants(label, nil) {
			lex.typeTerms[variant] = struct{}{}
		}
	}
	if lex.maxSpanLen > 3 {
		lex.maxSpanLen = 3
	}

	for attr, vals := range facetVocab {
		set := make(map[string]struct{}, len(vals))
		for _, v := range vals {
			set[strings.ToLower(v)] = struct{}{}
		}
		lex.facetVals[attr] = set
	}

	return lex
}

// IsTypeTerm reports whether the span names a concrete catalog item type.
func (l *Lexicon) IsTypeTerm(span string) bool {
	_, ok := l.typeTerms[textutil.Normalize(span)]
	return ok
}

// MaxSpanLen returns the longest type-term span length, capped at three.
func (l *Lexicon) MaxSpanLen() int {
	return l.maxSpanLen
}

// FacetAttribute returns the attribute whose observed value set contains the
// token, preferring the well-known attributes, plus whether one was found.
func (l *Lexicon) FacetAttribute(token string) (string, bool) {
	token = strings.ToLower(token)

	for _, attr := range []string{"color", "size", "material"} {
		if set, ok := l.facetVals[attr]; ok {
			if _, hit := set[token]; hit {
				return attr, true
			}
		}
	}
	for attr, set := range l.facetVals {
		if _, hit := set[token]; hit {
			return attr, true
		}
	}

	// Universal color/size/material words count even when the catalog has
	// not exposed them as structured values yet.
	if knownColors[token] {
		return "color", true
	}
	if knownSizes[token] {
		return "size", true
	}
	if knownMaterials[token] {
		return "material", true
	}

	return "", false
}

// knownColors are always treated as hard color facets.
var knownColors = map[string]bool{
	"black": true, "white": true, "navy": true, "blue": true, "red": true,
	"green": true, "grey": true, "gray": true, "brown": true, "beige": true,
	"pink": true, "purple": true, "yellow": true, "orange": true,
	"cream": true, "khaki": true, "burgundy": true, "olive": true,
	"tan": true, "gold": true, "silver": true, "ivory": true,
}

// knownSizes are always treated as hard size facets.
var knownSizes = map[string]bool{
	"xs": true, "small": true, "medium": true, "large": true, "xl": true,
	"xxl": true, "petite": true, "tall": true, "oversized": true,
}

// knownMaterials are always treated as hard material facets.
var knownMaterials = map[string]bool{
	"cotton": true, "linen": true, "wool": true, "silk": true, "leather": true,
	"denim": true, "cashmere": true, "polyester": true, "suede": true,
	"velvet": true, "satin": true, "canvas": true, "nylon": true,
}

// softWords never gate: occasion and context words, price words, and
// generic collection nouns only influence ranking.
var softWords = map[string]bool{
	"wedding": true, "party": true, "work": true, "office": true,
	"casual": true, "formal": true, "summer": true, "winter": true,
	"spring": true, "autumn": true, "fall": true, "holiday": true,
	"vacation": true, "beach": true, "gym": true, "travel": true,
	"gift": true, "present": true, "everyday": true, "weekend": true,
	"cheap": true, "affordable": true, "premium": true, "luxury": true,
	"quality": true, "stylish": true, "trendy": true, "classic": true,
	"modern": true, "comfortable": true, "cozy": true, "elegant": true,
	"outfit": true, "look": true, "style": true, "collection": true,
	"assortment": true, "selection": true, "wardrobe": true, "essentials": true,
	"set": true, "pieces": true, "items": true, "things": true, "stuff": true,
	"options": true, "ideas": true, "nice": true, "good": true, "great": true,
	"new": true, "date": true, "night": true, "occasion": true,
}

// openEndedWords mark assortment-style requests that should be diversified
// across item families.
var openEndedWords = map[string]bool{
	"assortment": true, "variety": true, "selection": true, "mix": true,
	"essentials": true, "wardrobe": true, "options": true, "ideas": true,
}

// IsSoftWord reports whether the token is an occasion/context/collection
// word that must never gate.
func IsSoftWord(token string) bool {
	return softWords[strings.ToLower(token)]
}
