// Package catalog provides the candidate item model and access to catalog
// sources. Candidates are normalized exactly once at ingestion; downstream
// stages never branch on raw field presence.
package catalog

import (
	"sort"
	"strings"

	"github.com/curatelabs/selection-engine/internal/textutil"
)

// Candidate is one catalog item snapshot used for the duration of a request.
// It is constructed from source data by Normalize, optionally enriched with
// a long-form description for items inside the final ranking window, and
// immutable thereafter.
type Candidate struct {
	ID          string              `json:"id"`
	Handle      string              `json:"handle"`
	Title       string              `json:"title"`
	TypeLabel   string              `json:"type"`
	Tags        []string            `json:"tags"`
	Vendor      string              `json:"vendor"`
	Collections []string            `json:"collections"`
	Price       float64             `json:"price"`
	PriceMin    *float64            `json:"priceMin,omitempty"`
	PriceMax    *float64            `json:"priceMax,omitempty"`
	Available   bool                `json:"available"`
	Facets      map[string][]string `json:"facets"`
	Options     map[string]string   `json:"options"`
	Description string              `json:"description,omitempty"`

	// SearchText is the normalized haystack derived once at ingestion:
	// title + type + tags + vendor + collections + option values.
	SearchText string `json:"-"`
}

// Known facet attribute names. The facet map is extendable; these are the
// attributes the intent parser recognizes from free text.
const (
	FacetColor    = "color"
	FacetSize     = "size"
	FacetMaterial = "material"
)

// Normalize derives the search-text blob and canonicalizes facet values.
// It must be called exactly once per candidate, at ingestion.
func Normalize(c *Candidate) {
	if c.Facets == nil {
		c.Facets = map[string][]string{}
	}
	for attr, vals := range c.Facets {
		lowered := make([]string, 0, len(vals))
		for _, v := range vals {
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" {
				lowered = append(lowered, v)
			}
		}
		c.Facets[attr] = lowered
	}

	parts := []string{c.Title, c.TypeLabel, c.Vendor}
	parts = append(parts, c.Tags...)
	parts = append(parts, c.Collections...)
	for _, v := range c.Options {
		parts = append(parts, v)
	}
	c.SearchText = textutil.Normalize(strings.Join(parts, " "))
}

// NormalizeAll normalizes a pool in place and returns it.
func NormalizeAll(pool []Candidate) []Candidate {
	for i := range pool {
		Normalize(&pool[i])
	}
	return pool
}

// Haystack returns the full matchable text for a candidate, including any
// lazily fetched description.
func (c *Candidate) Haystack() string {
	if c.Description == "" {
		return c.SearchText
	}
	return c.SearchText + " " + textutil.Normalize(c.Description)
}

// EffectivePrice returns the price used for budget decisions. When a price
// range is present the minimum is used; budget checks should never reject a
// candidate that has a variant fitting the budget.
func (c *Candidate) EffectivePrice() float64 {
	if c.PriceMin != nil {
		return *c.PriceMin
	}
	return c.Price
}

// HasFacetValue reports whether the candidate carries the value for the
// attribute, by exact or substring match on structured facet values.
func (c *Candidate) HasFacetValue(attr, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, v := range c.Facets[attr] {
		if v == value || strings.Contains(v, value) || strings.Contains(value, v) {
			return true
		}
	}
	return false
}

// FacetVocabulary returns the observed attribute → value-set map for a pool.
// The intent parser uses it to decide which free-text words are facet values.
func FacetVocabulary(pool []Candidate) map[string][]string {
	seen := map[string]map[string]struct{}{}
	for i := range pool {
		for attr, vals := range pool[i].Facets {
			if seen[attr] == nil {
				seen[attr] = map[string]struct{}{}
			}
			for _, v := range vals {
				seen[attr][v] = struct{}{}
			}
		}
	}

	vocab := make(map[string][]string, len(seen))
	for attr, set := range seen {
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		vocab[attr] = vals
	}
	return vocab
}

// TypeLexicon returns the distinct normalized type, tag, and collection
// labels of a pool. It seeds the intent parser's item-term lexicon.
func TypeLexicon(pool []Candidate) []string {
	set := map[string]struct{}{}
	add := func(label string) {
		label = textutil.Normalize(label)
		if label != "" {
			set[label] = struct{}{}
		}
	}

	for i := range pool {
		add(pool[i].TypeLabel)
		for _, t := range pool[i].Tags {
			add(t)
		}
		for _, col := range pool[i].Collections {
			add(col)
		}
	}

	out := make([]string, 0, len(set))
	for label := range set {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// PoolVocabulary returns the token vocabulary of a pool's search text, used
// to bound decompounding during gating.
func PoolVocabulary(pool []Candidate) map[string]struct{} {
	docs := make([]string, len(pool))
	for i := range pool {
		docs[i] = pool[i].SearchText
	}
	return textutil.Vocabulary(docs)
}
