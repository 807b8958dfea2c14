package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSemantic struct{}

func (failingSemantic) ParseIntent(ctx context.Context, text string, answers *Answers) (*Intent, error) {
	return nil, errors.New("semantic parser unavailable")
}

type emptySemantic struct{}

func (emptySemantic) ParseIntent(ctx context.Context, text string, answers *Answers) (*Intent, error) {
	return &Intent{}, nil
}

func testLexicon() *Lexicon {
	return NewLexicon(
		[]string{"suit", "shirt", "dress", "tie", "sneakers", "dress shirt"},
		map[string][]string{
			"color": {"navy", "white", "black"},
			"size":  {"small", "medium", "large"},
		},
	)
}

func newTestParser() *Parser {
	return NewParser(testLexicon(), DefaultParserConfig(), nil)
}

func TestParseHardTermAndFacet(t *testing.T) {
	it := newTestParser().Parse("I want a navy suit for the office", nil)

	assert.Equal(t, []string{"suit"}, it.HardTerms)
	require.Contains(t, it.Facets, "color")
	assert.Equal(t, "navy", it.Facets["color"].Value)
	assert.Contains(t, it.SoftTerms, "office")
	assert.False(t, it.IsBundle())
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected float64
		currency string
	}{
		{"budget is", "a suit, budget is 300", 300, ""},
		{"under with symbol", "a suit under $250", 250, "$"},
		{"up to", "a suit up to 180", 180, ""},
		{"less than", "a suit less than €90.50", 90.50, "€"},
		{"first pattern wins", "budget is 200 but under 100 would be better", 200, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := newTestParser().Parse(tt.text, nil)
			require.NotNil(t, it.PriceCeiling)
			assert.Equal(t, tt.expected, *it.PriceCeiling)
			assert.Equal(t, tt.currency, it.Currency)
		})
	}
}

func TestParseNoPrice(t *testing.T) {
	it := newTestParser().Parse("a navy suit", nil)
	assert.Nil(t, it.PriceCeiling)
}

func TestParseNegation(t *testing.T) {
	it := newTestParser().Parse("a suit but no tie", nil)

	assert.Equal(t, []string{"suit"}, it.HardTerms)
	assert.Contains(t, it.AvoidTerms, "tie")
}

func TestParseAvoidFacetValue(t *testing.T) {
	it := newTestParser().Parse("a suit, not black", nil)

	assert.Contains(t, it.AvoidTerms, "black")
	assert.NotContains(t, it.Facets, "color")
}

func TestParseBundle(t *testing.T) {
	it := newTestParser().Parse("a suit and a white shirt, budget is 200", nil)

	require.True(t, it.IsBundle())
	require.Len(t, it.Bundle.Items, 2)
	assert.Equal(t, []string{"suit"}, it.Bundle.Items[0].HardTerms)
	assert.Equal(t, []string{"shirt"}, it.Bundle.Items[1].HardTerms)

	require.NotNil(t, it.Bundle.TotalBudget)
	assert.Equal(t, 200.0, *it.Bundle.TotalBudget)

	// Two items front-load 70/30.
	assert.InDelta(t, 0.70, it.Bundle.Items[0].BudgetShare, 1e-9)
	assert.InDelta(t, 0.30, it.Bundle.Items[1].BudgetShare, 1e-9)

	// The shirt's color binds to the shirt, not the suit.
	require.Contains(t, it.Bundle.Items[1].Facets, "color")
	assert.Equal(t, "white", it.Bundle.Items[1].Facets["color"].Value)
	assert.NotContains(t, it.Bundle.Items[0].Facets, "color")
}

func TestParseBundleThreeItemsTaper(t *testing.T) {
	it := newTestParser().Parse("a suit, a shirt and a tie", nil)

	require.True(t, it.IsBundle())
	require.Len(t, it.Bundle.Items, 3)
	assert.InDelta(t, 0.60, it.Bundle.Items[0].BudgetShare, 1e-9)
	assert.InDelta(t, 0.20, it.Bundle.Items[1].BudgetShare, 1e-9)
	assert.InDelta(t, 0.20, it.Bundle.Items[2].BudgetShare, 1e-9)
}

func TestParseQuantities(t *testing.T) {
	it := newTestParser().Parse("two shirts and a tie", nil)

	require.True(t, it.IsBundle())
	assert.Equal(t, 2, it.Bundle.Items[0].Quantity)
	assert.Equal(t, 1, it.Bundle.Items[1].Quantity)
}

func TestParseRepeatedTermIsNotABundle(t *testing.T) {
	it := newTestParser().Parse("show me a nice suit, a really nice suit", nil)

	assert.Equal(t, []string{"suit"}, it.HardTerms)
	assert.False(t, it.IsBundle())
}

func TestParseMultiWordTypeTerm(t *testing.T) {
	it := newTestParser().Parse("a white dress shirt", nil)

	// Longest span wins: "dress shirt" is one item, not a dress plus a shirt.
	assert.Equal(t, []string{"dress shirt"}, it.HardTerms)
	assert.False(t, it.IsBundle())
}

func TestParseOpenEnded(t *testing.T) {
	it := newTestParser().Parse("give me a summer wardrobe assortment", nil)

	assert.True(t, it.OpenEnded)
	// No type term: the first soft term becomes the gating anchor.
	assert.NotEmpty(t, it.HardTerms)
}

func TestAnswersOverrideText(t *testing.T) {
	budget := 150.0
	it := newTestParser().Parse("a navy suit under 300", &Answers{
		Facets:   map[string]string{"color": "black"},
		Budget:   &budget,
		Currency: "USD",
	})

	assert.Equal(t, "black", it.Facets["color"].Value)
	require.NotNil(t, it.PriceCeiling)
	assert.Equal(t, 150.0, *it.PriceCeiling)
	assert.Equal(t, "USD", it.Currency)
}

func TestAnswersRecomputeBundleShares(t *testing.T) {
	budget := 400.0
	it := newTestParser().Parse("a suit and a shirt", &Answers{Budget: &budget})

	require.True(t, it.IsBundle())
	require.NotNil(t, it.Bundle.TotalBudget)
	assert.Equal(t, 400.0, *it.Bundle.TotalBudget)

	item := it.ItemIntent(0)
	require.NotNil(t, item.PriceCeiling)
	assert.InDelta(t, 280.0, *item.PriceCeiling, 1e-9)
}

func TestResilientParserFallsBack(t *testing.T) {
	pattern := newTestParser()

	t.Run("nil semantic uses pattern", func(t *testing.T) {
		rp := NewResilientParser(nil, pattern, nil)
		it := rp.Parse(context.Background(), "a navy suit", nil)
		assert.Equal(t, []string{"suit"}, it.HardTerms)
	})

	t.Run("semantic error falls back", func(t *testing.T) {
		rp := NewResilientParser(failingSemantic{}, pattern, nil)
		it := rp.Parse(context.Background(), "a navy suit", nil)
		assert.Equal(t, []string{"suit"}, it.HardTerms)
	})

	t.Run("invalid shape falls back", func(t *testing.T) {
		rp := NewResilientParser(emptySemantic{}, pattern, nil)
		it := rp.Parse(context.Background(), "a navy suit", nil)
		assert.Equal(t, []string{"suit"}, it.HardTerms)
	})
}
