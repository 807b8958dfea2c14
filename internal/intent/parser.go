package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/textutil"
)

// ParserConfig holds the empirically chosen parsing parameters.
type ParserConfig struct {
	// PrimaryBudgetShare is the budget fraction for the first item of a
	// two-item bundle.
	PrimaryBudgetShare float64
	// TaperBudgetShare is the budget fraction for the first item of a
	// three-or-more item bundle; the remainder splits evenly.
	TaperBudgetShare float64
}

// DefaultParserConfig returns the default parser parameters.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		PrimaryBudgetShare: 0.70,
		TaperBudgetShare:   0.60,
	}
}

// Parser is the pattern-based intent parser. It is also the fallback path
// when the semantic parser is unavailable; both produce the same Intent
// shape.
type Parser struct {
	lexicon *Lexicon
	config  ParserConfig
	logger  *observability.Logger
}

// NewParser creates a parser over the given catalog lexicon.
func NewParser(lexicon *Lexicon, cfg ParserConfig, logger *observability.Logger) *Parser {
	if cfg.PrimaryBudgetShare <= 0 || cfg.PrimaryBudgetShare > 1 {
		cfg.PrimaryBudgetShare = 0.70
	}
	if cfg.TaperBudgetShare <= 0 || cfg.TaperBudgetShare > 1 {
		cfg.TaperBudgetShare = 0.60
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Parser{lexicon: lexicon, config: cfg, logger: logger}
}

// pricePatterns are tried in order against the lowercased raw text; the
// first match wins. Each pattern captures an optional currency symbol and
// the amount.
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`budget\s+(?:is|of)?\s*(?:around|about)?\s*([$€£]?)\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`under\s+([$€£]?)\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`up\s+to\s+([$€£]?)\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`below\s+([$€£]?)\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`less\s+than\s+([$€£]?)\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`max(?:imum)?\s+(?:of\s+)?([$€£]?)\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?:around|about)\s+([$€£]?)\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`for\s+([$€£])\s*(\d+(?:\.\d+)?)`),
}

// negationMarkers introduce an avoid span.
var negationMarkers = map[string]bool{
	"no": true, "without": true, "avoid": true, "not": true, "skip": true,
}

// bundleSeparators joins distinct item groups.
var bundleSeparatorWords = map[string]bool{
	"and": true, "plus": true, "with": true,
}

// numberWords maps small spelled-out quantities.
var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// itemSpan is a classified type-term occurrence during parsing.
type itemSpan struct {
	term     string
	quantity int
	facets   map[string]Facet
	negated  bool
}

// Parse turns free text plus optional structured answers into an Intent.
func (p *Parser) Parse(text string, answers *Answers) *Intent {
	it := &Intent{Facets: map[string]Facet{}}

	rawLower := strings.ToLower(text)
	p.extractPrice(rawLower, it)

	words := textutil.TokenizeAll(text)
	spans, leftovers := p.classifySpans(words)

	hasSeparator := strings.ContainsAny(text, ",+") || containsSeparatorWord(words)

	facetHits := map[string][]string{}
	negatePending := false

	for _, lv := range leftovers {
		tok := lv.token

		if negationMarkers[tok] {
			negatePending = true
			continue
		}

		if attr, ok := p.lexicon.FacetAttribute(tok); ok {
			if negatePending {
				it.AvoidTerms = append(it.AvoidTerms, tok)
				negatePending = false
				continue
			}
			facetHits[attr] = append(facetHits[attr], tok)
			// Bind the facet to the next item span for bundles.
			if lv.nextSpan >= 0 && lv.nextSpan < len(spans) {
				addFacet(spans[lv.nextSpan].facets, attr, tok)
			}
			continue
		}

		if negatePending {
			if !textutil.IsStopword(tok) && len(tok) >= 2 {
				it.AvoidTerms = append(it.AvoidTerms, tok)
			}
			negatePending = false
			continue
		}

		if openEndedWords[tok] {
			it.OpenEnded = true
		}

		if IsSoftWord(tok) {
			it.SoftTerms = appendUnique(it.SoftTerms, tok)
			continue
		}

		if !textutil.IsStopword(tok) && len(tok) >= 3 && !isNumeric(tok) {
			it.SoftTerms = appendUnique(it.SoftTerms, tok)
		}
	}

	// Global facets: first hit is the primary value, multiple hits on the
	// same attribute form an OR allow-list.
	for attr, vals := range facetHits {
		it.Facets[attr] = Facet{Value: vals[0], AllowList: dedupe(vals)}
	}
	for attr, f := range it.Facets {
		if len(f.AllowList) == 1 {
			f.AllowList = nil
			it.Facets[attr] = f
		}
	}

	// Hard terms and bundle composition from the item spans.
	active := make([]itemSpan, 0, len(spans))
	for _, s := range spans {
		if s.negated {
			it.AvoidTerms = append(it.AvoidTerms, s.term)
			continue
		}
		active = append(active, s)
	}

	distinct := distinctSpans(active)
	repeated := len(active) > len(distinct)

	switch {
	case len(distinct) >= 2 && (hasSeparator || repeated):
		// A single item with a modifying adjective is never a bundle; that
		// case never reaches here because adjectives are not type terms.
		it.Bundle = p.buildBundle(distinct, it)
		for _, s := range distinct {
			it.HardTerms = appendUnique(it.HardTerms, s.term)
		}
	case len(distinct) >= 1:
		for _, s := range distinct {
			it.HardTerms = appendUnique(it.HardTerms, s.term)
		}
	default:
		// No concrete item term. Promote the first meaningful soft term so
		// gating has an anchor.
		if len(it.SoftTerms) > 0 {
			it.HardTerms = []string{it.SoftTerms[0]}
			it.SoftTerms = it.SoftTerms[1:]
		}
	}

	p.applyAnswers(it, answers)

	p.logger.Debug().
		Strs("hard_terms", it.HardTerms).
		Strs("soft_terms", it.SoftTerms).
		Strs("avoid_terms", it.AvoidTerms).
		Bool("bundle", it.IsBundle()).
		Msg("Parsed intent")

	return it
}

// leftover is an unconsumed token plus the index of the next item span
// after it, used to bind facet modifiers to their item.
type leftover struct {
	token    string
	nextSpan int
}

// classifySpans scans the word list longest-match-first (3, 2, then 1 word
// spans) for type terms, consuming matched words. It returns the item spans
// in order plus the unconsumed tokens.
func (p *Parser) classifySpans(words []string) ([]itemSpan, []leftover) {
	consumed := make([]bool, len(words))
	type located struct {
		span itemSpan
		pos  int
	}
	var found []located

	maxSpan := p.lexicon.MaxSpanLen()
	for size := maxSpan; size >= 1; size-- {
		for i := 0; i+size <= len(words); i++ {
			if anyConsumed(consumed, i, size) {
				continue
			}
			span := strings.Join(words[i:i+size], " ")
			if !p.lexicon.IsTypeTerm(span) {
				continue
			}
			if size == 1 && IsSoftWord(span) {
				// Generic collection nouns stay soft even when the catalog
				// uses them as labels.
				continue
			}

			s := itemSpan{term: span, quantity: 1, facets: map[string]Facet{}}

			if i > 0 && !consumed[i-1] {
				if q, ok := parseQuantity(words[i-1]); ok {
					s.quantity = q
					consumed[i-1] = true
				}
			}
			if i > 0 {
				prev := i - 1
				for prev >= 0 && consumed[prev] {
					prev--
				}
				if prev >= 0 && negationMarkers[words[prev]] {
					s.negated = true
					consumed[prev] = true
				}
			}

			for j := i; j < i+size; j++ {
				consumed[j] = true
			}
			found = append(found, located{span: s, pos: i})
		}
	}

	// Restore textual order.
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j-1].pos > found[j].pos; j-- {
			found[j-1], found[j] = found[j], found[j-1]
		}
	}

	spans := make([]itemSpan, len(found))
	for i, f := range found {
		spans[i] = f.span
	}

	var leftovers []leftover
	for i, w := range words {
		if consumed[i] {
			continue
		}
		next := -1
		for j, f := range found {
			if f.pos > i {
				next = j
				break
			}
		}
		leftovers = append(leftovers, leftover{token: w, nextSpan: next})
	}

	return spans, leftovers
}

// buildBundle creates the bundle intent with front-loaded budget shares.
func (p *Parser) buildBundle(spans []itemSpan, it *Intent) *BundleIntent {
	bundle := &BundleIntent{Currency: it.Currency}

	for _, s := range spans {
		bundle.Items = append(bundle.Items, BundleItem{
			HardTerms: []string{s.term},
			Quantity:  s.quantity,
			Facets:    s.facets,
		})
	}

	if it.PriceCeiling != nil {
		// The single extracted ceiling becomes the bundle total; per-item
		// ceilings come only from structured answers.
		bundle.TotalBudget = it.PriceCeiling
	}

	p.assignBudgetShares(bundle)
	return bundle
}

// assignBudgetShares front-loads the budget: the first item gets the largest
// share and the remainder splits evenly across the rest.
func (p *Parser) assignBudgetShares(bundle *BundleIntent) {
	n := len(bundle.Items)
	switch {
	case n == 1:
		bundle.Items[0].BudgetShare = 1.0
	case n == 2:
		bundle.Items[0].BudgetShare = p.config.PrimaryBudgetShare
		bundle.Items[1].BudgetShare = 1 - p.config.PrimaryBudgetShare
	case n >= 3:
		bundle.Items[0].BudgetShare = p.config.TaperBudgetShare
		rest := (1 - p.config.TaperBudgetShare) / float64(n-1)
		for i := 1; i < n; i++ {
			bundle.Items[i].BudgetShare = rest
		}
	}
}

// extractPrice applies the ordered price patterns; the first match wins.
func (p *Parser) extractPrice(rawLower string, it *Intent) {
	for _, pat := range pricePatterns {
		m := pat.FindStringSubmatch(rawLower)
		if m == nil {
			continue
		}
		amount, err := strconv.ParseFloat(m[2], 64)
		if err != nil || amount <= 0 {
			continue
		}
		it.PriceCeiling = &amount
		it.Currency = m[1]
		return
	}
}

// applyAnswers overlays structured answer selections; they always take
// precedence over values inferred from free text.
func (p *Parser) applyAnswers(it *Intent, answers *Answers) {
	if answers == nil {
		return
	}

	for attr, val := range answers.Facets {
		attr = strings.ToLower(strings.TrimSpace(attr))
		val = strings.ToLower(strings.TrimSpace(val))
		if attr == "" || val == "" {
			continue
		}
		it.Facets[attr] = Facet{Value: val}
	}

	if answers.Budget != nil && *answers.Budget > 0 {
		it.PriceCeiling = answers.Budget
		if answers.Currency != "" {
			it.Currency = answers.Currency
		}
		if it.Bundle != nil {
			it.Bundle.TotalBudget = answers.Budget
			p.assignBudgetShares(it.Bundle)
		}
	}
}

func addFacet(facets map[string]Facet, attr, val string) {
	f, ok := facets[attr]
	if !ok {
		facets[attr] = Facet{Value: val}
		return
	}
	if f.Value == val {
		return
	}
	if len(f.AllowList) == 0 {
		f.AllowList = []string{f.Value}
	}
	f.AllowList = append(f.AllowList, val)
	facets[attr] = f
}

func containsSeparatorWord(words []string) bool {
	for _, w := range words {
		if bundleSeparatorWords[w] {
			return true
		}
	}
	return false
}

func parseQuantity(word string) (int, bool) {
	if q, ok := numberWords[word]; ok {
		return q, true
	}
	if n, err := strconv.Atoi(word); err == nil && n > 0 && n < 100 {
		return n, true
	}
	return 0, false
}

func distinctSpans(spans []itemSpan) []itemSpan {
	var out []itemSpan
	index := map[string]int{}
	for _, s := range spans {
		if i, ok := index[s.term]; ok {
			out[i].quantity += s.quantity
			for attr, f := range s.facets {
				out[i].facets[attr] = f
			}
			continue
		}
		index[s.term] = len(out)
		out = append(out, s)
	}
	return out
}

func anyConsumed(consumed []bool, start, size int) bool {
	for i := start; i < start+size; i++ {
		if consumed[i] {
			return true
		}
	}
	return false
}

func appendUnique(list []string, val string) []string {
	for _, v := range list {
		if v == val {
			return list
		}
	}
	return append(list, val)
}

func dedupe(vals []string) []string {
	var out []string
	for _, v := range vals {
		out = appendUnique(out, v)
	}
	return out
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
