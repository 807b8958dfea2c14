// Package gate applies facet and hard-term constraints to a candidate pool
// through a staged relaxation ladder.
package gate

import (
	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/intent"
	"github.com/curatelabs/selection-engine/internal/textutil"
)

// Stage identifies the relaxation stage a gated pool settled at.
type Stage string

const (
	StageStrict           Stage = "strict"
	StageFacetRelaxed     Stage = "facet-relaxed"
	StageTermRelaxed      Stage = "term-relaxed"
	StageTokenContainment Stage = "token-containment"
	StageTrustFallback    Stage = "trust-fallback"
)

// FacetDemotion records a facet excluded from strict filtering because too
// little of the pool carries the attribute.
type FacetDemotion struct {
	Attribute string
	Coverage  float64
}

// GatedPool is the candidate subset that survived gating, tagged with the
// stage it settled at. When TrustFallback is false, every member satisfies
// every enforced hard term and facet at the settled stage's match level.
type GatedPool struct {
	Candidates    []catalog.Candidate
	Stage         Stage
	TrustFallback bool

	// EnforcedFacets are the facets that were actually filtered on; demoted
	// facets are absent here and listed in Demotions.
	EnforcedFacets map[string]intent.Facet
	Demotions      []FacetDemotion

	// hardVariants maps each hard term to its expanded variant list, so the
	// validator can re-run the exact matcher gating used.
	hardVariants map[string][]string
}

// Satisfies re-checks a single candidate against the pool's enforced
// constraints using the same matcher the settled stage used. The validator
// relies on this to audit externally sourced selections.
func (gp *GatedPool) Satisfies(c *catalog.Candidate) bool {
	if gp.TrustFallback {
		return true
	}

	for attr, facet := range gp.EnforcedFacets {
		if !matchesFacet(c, attr, facet) {
			return false
		}
	}

	switch gp.Stage {
	case StageStrict, StageFacetRelaxed:
		return matchesAllHardTerms(c, gp.hardVariants)
	case StageTermRelaxed:
		return matchesAnyHardToken(c, gp.hardVariants)
	case StageTokenContainment:
		return containsAnyHardToken(c, gp.hardVariants)
	default:
		return true
	}
}

// SatisfiesAnchor checks only that the candidate contains at least one hard
// term token. Used for the anchor-token-only validation retry.
func (gp *GatedPool) SatisfiesAnchor(c *catalog.Candidate) bool {
	if len(gp.hardVariants) == 0 {
		return true
	}
	return containsAnyHardToken(c, gp.hardVariants)
}

// Contains reports whether the pool holds the candidate identifier.
func (gp *GatedPool) Contains(id string) bool {
	for i := range gp.Candidates {
		if gp.Candidates[i].ID == id {
			return true
		}
	}
	return false
}

// matchesFacet checks a candidate against one facet constraint, accepting
// any value from the OR allow-list.
func matchesFacet(c *catalog.Candidate, attr string, facet intent.Facet) bool {
	for _, v := range facet.Values() {
		if c.HasFacetValue(attr, v) {
			return true
		}
	}
	return false
}

// matchesAllHardTerms requires a word-boundary phrase match for every hard
// term, through any of its variants.
func matchesAllHardTerms(c *catalog.Candidate, variants map[string][]string) bool {
	haystack := c.Haystack()
	for _, vars := range variants {
		if !matchesAnyPhrase(haystack, vars) {
			return false
		}
	}
	return true
}

// matchesAnyHardToken requires a word-boundary match of any single token
// drawn from any hard term.
func matchesAnyHardToken(c *catalog.Candidate, variants map[string][]string) bool {
	haystack := c.Haystack()
	for _, vars := range variants {
		for _, v := range vars {
			for _, tok := range textutil.Tokenize(v) {
				if textutil.ContainsToken(haystack, tok) {
					return true
				}
			}
		}
	}
	return false
}

// containsAnyHardToken is the loosest matcher: substring containment with
// the false-positive denylist applied.
func containsAnyHardToken(c *catalog.Candidate, variants map[string][]string) bool {
	haystack := c.Haystack()
	for _, vars := range variants {
		for _, v := range vars {
			for _, tok := range textutil.Tokenize(v) {
				if textutil.ContainsTokenLoose(haystack, tok) {
					return true
				}
			}
		}
	}
	return false
}

func matchesAnyPhrase(haystack string, phrases []string) bool {
	for _, p := range phrases {
		if textutil.ContainsPhrase(haystack, p) {
			return true
		}
	}
	return false
}
