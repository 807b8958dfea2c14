package rank

import (
	"strings"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/textutil"
)

// FamilyOf derives a diversity family for a candidate. The family is the
// coarsest grouping that still separates product kinds: type label first,
// then the first collection, then vendor, then the last meaningful title
// token. Families are canonicalized so that trivial variants ("Shirts",
// "shirt") collapse together.
func FamilyOf(c catalog.Candidate) string {
	if c.TypeLabel != "" {
		return canonicalFamily(c.TypeLabel)
	}
	if len(c.Collections) > 0 && c.Collections[0] != "" {
		return canonicalFamily(c.Collections[0])
	}
	if c.Vendor != "" {
		return canonicalFamily(c.Vendor)
	}
	tokens := textutil.Tokenize(c.Title)
	if len(tokens) > 0 {
		return canonicalFamily(tokens[len(tokens)-1])
	}
	return ""
}

// canonicalFamily normalizes a family label: lowercase, trimmed, last word
// singularized so plural and singular type labels share a family.
func canonicalFamily(label string) string {
	norm := textutil.Normalize(label)
	words := strings.Fields(norm)
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = singularize(words[len(words)-1])
	return strings.Join(words, " ")
}

func singularize(word string) string {
	switch {
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 4 && strings.HasSuffix(word, "sses"):
		return word[:len(word)-2]
	case len(word) > 3 && strings.HasSuffix(word, "es") && !strings.HasSuffix(word, "ses"):
		return word[:len(word)-1]
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	}
	return word
}

// Diversify reorders a ranked list so that distinct families interleave:
// candidates are grouped by family in rank order, then drawn round-robin
// across families ordered by their best-ranked member. Within a family the
// original rank order is preserved.
func Diversify(scored []Scored) []Scored {
	if len(scored) <= 2 {
		return scored
	}

	var order []string
	groups := make(map[string][]Scored)
	for _, s := range scored {
		fam := FamilyOf(s.Candidate)
		if _, seen := groups[fam]; !seen {
			order = append(order, fam)
		}
		groups[fam] = append(groups[fam], s)
	}
	if len(order) <= 1 {
		return scored
	}

	out := make([]Scored, 0, len(scored))
	for round := 0; len(out) < len(scored); round++ {
		for _, fam := range order {
			if round < len(groups[fam]) {
				out = append(out, groups[fam][round])
			}
		}
	}
	return out
}

// DiversifiedWindow builds a reranking window that mixes families: the
// ranked list is diversified first, then truncated to k.
func DiversifiedWindow(scored []Scored, k int) []Scored {
	return Window(Diversify(scored), k)
}
