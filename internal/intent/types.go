// Package intent turns a shopper's free-text request into a structured
// Intent: hard terms, soft terms, avoid terms, facet constraints, a price
// ceiling, and an optional bundle composition.
package intent

import "github.com/curatelabs/selection-engine/internal/textutil"

// Facet is a structured attribute constraint with one primary value and an
// optional OR allow-list of alternative values.
type Facet struct {
	Value     string   `json:"value"`
	AllowList []string `json:"allowList,omitempty"`
}

// Values returns the full set of acceptable values for the facet.
func (f Facet) Values() []string {
	if len(f.AllowList) > 0 {
		return f.AllowList
	}
	return []string{f.Value}
}

// Intent is the parsed request. It is created once per request and never
// mutated after parsing; the gate may only demote a facet to a soft term.
type Intent struct {
	// HardTerms must match for eligibility. AND-matched when there are two
	// or more, OR-matched when there is exactly one.
	HardTerms []string `json:"hardTerms"`

	// SoftTerms influence ranking only, never eligibility.
	SoftTerms []string `json:"softTerms"`

	// AvoidTerms penalize candidates whose text contains them.
	AvoidTerms []string `json:"avoidTerms"`

	// Facets maps attribute name to the required value constraint.
	Facets map[string]Facet `json:"facets"`

	// PriceCeiling is the single numeric budget extracted from the request,
	// in the currency recorded below.
	PriceCeiling *float64 `json:"priceCeiling,omitempty"`

	// Currency is the symbol or code detected alongside the ceiling. It may
	// differ from the catalog currency; conversion is an external concern.
	Currency string `json:"currency,omitempty"`

	// Bundle is present when the request names two or more distinct item
	// groups.
	Bundle *BundleIntent `json:"bundle,omitempty"`

	// OpenEnded marks assortment-style requests ("show me an assortment")
	// that should be diversified across item families.
	OpenEnded bool `json:"openEnded,omitempty"`
}

// BundleIntent describes a multi-item request.
type BundleIntent struct {
	Items       []BundleItem `json:"items"`
	TotalBudget *float64     `json:"totalBudget,omitempty"`
	Currency    string       `json:"currency,omitempty"`
}

// BundleItem is one requested item group within a bundle.
type BundleItem struct {
	HardTerms    []string         `json:"hardTerms"`
	Quantity     int              `json:"quantity"`
	Facets       map[string]Facet `json:"facets,omitempty"`
	PriceCeiling *float64         `json:"priceCeiling,omitempty"`

	// BudgetShare is the fraction of the total budget allocated to this
	// item. Computed once at parse time, front-loaded toward earlier items.
	BudgetShare float64 `json:"budgetShare"`
}

// QueryTokens returns the tokenized hard and soft terms, the query side of
// every BM25 scoring call.
func (it *Intent) QueryTokens() []string {
	var tokens []string
	for _, term := range it.HardTerms {
		tokens = append(tokens, textutil.Tokenize(term)...)
	}
	for _, term := range it.SoftTerms {
		tokens = append(tokens, textutil.Tokenize(term)...)
	}
	return tokens
}

// HardTokens returns the tokens of all hard terms.
func (it *Intent) HardTokens() []string {
	var tokens []string
	for _, term := range it.HardTerms {
		tokens = append(tokens, textutil.Tokenize(term)...)
	}
	return tokens
}

// IsBundle reports whether the intent carries a bundle composition.
func (it *Intent) IsBundle() bool {
	return it.Bundle != nil && len(it.Bundle.Items) >= 2
}

// ItemIntent projects a bundle item into a standalone Intent so the gate
// and ranker can treat each item group independently. The item's own facets
// and ceiling apply; the global soft and avoid terms carry over.
func (it *Intent) ItemIntent(i int) Intent {
	item := it.Bundle.Items[i]

	facets := item.Facets
	if facets == nil {
		facets = map[string]Facet{}
	}

	ceiling := item.PriceCeiling
	if ceiling == nil && it.Bundle.TotalBudget != nil && item.BudgetShare > 0 {
		share := *it.Bundle.TotalBudget * item.BudgetShare
		ceiling = &share
	}

	return Intent{
		HardTerms:    item.HardTerms,
		SoftTerms:    it.SoftTerms,
		AvoidTerms:   it.AvoidTerms,
		Facets:       facets,
		PriceCeiling: ceiling,
		Currency:     it.Currency,
	}
}

// Answers carries explicit structured selections the shopper made outside
// free text. They always take precedence over values inferred from text.
type Answers struct {
	Facets map[string]string `json:"facets,omitempty"`
	Budget *float64          `json:"budget,omitempty"`
	// Currency of the structured budget, when supplied.
	Currency string `json:"currency,omitempty"`
}
