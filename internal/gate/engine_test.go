package gate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/intent"
)

func makeCandidate(id, title, typeLabel string, facets map[string][]string, available bool) catalog.Candidate {
	c := catalog.Candidate{
		ID:        id,
		Handle:    id,
		Title:     title,
		TypeLabel: typeLabel,
		Price:     100,
		Available: available,
		Facets:    facets,
	}
	catalog.Normalize(&c)
	return c
}

// suitPool builds a pool of suits where the first `navy` items carry the
// navy color facet in their title and facet map.
func suitPool(total, navy int) []catalog.Candidate {
	pool := make([]catalog.Candidate, 0, total)
	for i := 0; i < total; i++ {
		color := "charcoal"
		if i < navy {
			color = "navy"
		}
		pool = append(pool, makeCandidate(
			fmt.Sprintf("suit-%02d", i),
			fmt.Sprintf("%s wool suit", color),
			"Suit",
			map[string][]string{"color": {color}},
			true,
		))
	}
	return pool
}

func TestGateEmptyPoolIsNoMatch(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	gp, err := e.Gate(nil, intent.Intent{HardTerms: []string{"suit"}}, 8)

	assert.Nil(t, gp)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestGateStrictStage(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(40, 15)
	it := intent.Intent{
		HardTerms: []string{"suit"},
		Facets:    map[string]intent.Facet{"color": {Value: "navy"}},
	}

	gp, err := e.Gate(pool, it, 8)
	require.NoError(t, err)

	assert.Equal(t, StageStrict, gp.Stage)
	assert.False(t, gp.TrustFallback)
	assert.Len(t, gp.Candidates, 15)
	for _, c := range gp.Candidates {
		assert.True(t, c.HasFacetValue("color", "navy"), c.ID)
	}
	assert.Contains(t, gp.EnforcedFacets, "color")
	assert.Empty(t, gp.Demotions)
}

func TestGateEscalatesToFacetRelaxed(t *testing.T) {
	// Three navy suits cannot fill a request for eight plus buffer, so the
	// facet filter is relaxed and the full suit pool comes back.
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(40, 3)
	it := intent.Intent{
		HardTerms: []string{"suit"},
		Facets:    map[string]intent.Facet{"color": {Value: "navy"}},
	}

	gp, err := e.Gate(pool, it, 8)
	require.NoError(t, err)

	assert.Equal(t, StageFacetRelaxed, gp.Stage)
	assert.False(t, gp.TrustFallback)
	assert.Len(t, gp.Candidates, 40)
}

func TestGateEscalatesToTermRelaxed(t *testing.T) {
	// Two AND-matched hard terms that no single item satisfies together.
	e := NewEngine(DefaultConfig(), nil)
	var pool []catalog.Candidate
	for i := 0; i < 3; i++ {
		pool = append(pool, makeCandidate(fmt.Sprintf("suit-%d", i), "wool suit", "Suit", nil, true))
	}
	for i := 0; i < 4; i++ {
		pool = append(pool, makeCandidate(fmt.Sprintf("shirt-%d", i), "dress shirt", "Shirt", nil, true))
	}
	it := intent.Intent{HardTerms: []string{"suit", "shirt"}}

	gp, err := e.Gate(pool, it, 1)
	require.NoError(t, err)

	assert.Equal(t, StageTermRelaxed, gp.Stage)
	assert.False(t, gp.TrustFallback)
	assert.Len(t, gp.Candidates, 7)
}

func TestGateTokenContainmentStage(t *testing.T) {
	// "pant" never appears as a whole word, only inside "sweatpants", so
	// the ladder falls through to loose containment.
	e := NewEngine(DefaultConfig(), nil)
	var pool []catalog.Candidate
	for i := 0; i < 6; i++ {
		pool = append(pool, makeCandidate(fmt.Sprintf("sw-%d", i), "fleece sweatpants", "Loungewear", nil, true))
	}
	it := intent.Intent{HardTerms: []string{"pant"}}

	gp, err := e.Gate(pool, it, 1)
	require.NoError(t, err)

	assert.Equal(t, StageTokenContainment, gp.Stage)
	assert.False(t, gp.TrustFallback)
	assert.Len(t, gp.Candidates, 6)
}

func TestGateTrustFallback(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(10, 2)
	it := intent.Intent{HardTerms: []string{"hoodie"}}

	gp, err := e.Gate(pool, it, 2)
	require.NoError(t, err)

	assert.Equal(t, StageTrustFallback, gp.Stage)
	assert.True(t, gp.TrustFallback)
	assert.Len(t, gp.Candidates, 10)

	// The trust-fallback pool waives per-candidate auditing.
	assert.True(t, gp.Satisfies(&pool[0]))
}

func TestGateLadderMonotonicity(t *testing.T) {
	// One fixed intent against one pool, with the requested count driving
	// the ladder one stage deeper each time. Every stage's pool must hold
	// everything the previous stage held.
	var pool []catalog.Candidate
	for i := 0; i < 6; i++ {
		pool = append(pool, makeCandidate(fmt.Sprintf("set-navy-%d", i), "navy suit tie set", "Suit",
			map[string][]string{"color": {"navy"}}, true))
	}
	for i := 0; i < 6; i++ {
		pool = append(pool, makeCandidate(fmt.Sprintf("set-char-%d", i), "charcoal suit tie set", "Suit",
			map[string][]string{"color": {"charcoal"}}, true))
	}
	for i := 0; i < 6; i++ {
		pool = append(pool, makeCandidate(fmt.Sprintf("suit-only-%d", i), "navy wool suit", "Suit",
			map[string][]string{"color": {"navy"}}, true))
	}
	for i := 0; i < 6; i++ {
		// "suit" only inside "swimsuit": reachable at loose containment,
		// never at a word-boundary stage.
		pool = append(pool, makeCandidate(fmt.Sprintf("swim-%d", i), "striped swimsuit", "Swimwear", nil, true))
	}
	it := intent.Intent{
		HardTerms: []string{"suit", "tie"},
		Facets:    map[string]intent.Facet{"color": {Value: "navy"}},
	}

	e := NewEngine(DefaultConfig(), nil)
	ladder := []struct {
		count     int
		wantStage Stage
		wantSize  int
	}{
		{count: 1, wantStage: StageStrict, wantSize: 6},
		{count: 8, wantStage: StageFacetRelaxed, wantSize: 12},
		{count: 14, wantStage: StageTermRelaxed, wantSize: 18},
		{count: 20, wantStage: StageTokenContainment, wantSize: 24},
	}

	var previous map[string]bool
	for _, step := range ladder {
		t.Run(string(step.wantStage), func(t *testing.T) {
			gp, err := e.Gate(pool, it, step.count)
			require.NoError(t, err)

			assert.Equal(t, step.wantStage, gp.Stage)
			assert.Len(t, gp.Candidates, step.wantSize)

			ids := make(map[string]bool, len(gp.Candidates))
			for _, c := range gp.Candidates {
				ids[c.ID] = true
			}
			for id := range previous {
				assert.True(t, ids[id], "stage %s lost %s from the previous stage", gp.Stage, id)
			}
			previous = ids
		})
	}
}

func TestGateSettlesOnLastNonEmptyStage(t *testing.T) {
	// Two suits exist but the threshold needs nine. No stage reaches the
	// threshold, so the widest stage that still matched wins over trust
	// fallback.
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(2, 0)
	pool = append(pool, makeCandidate("tie-0", "silk tie", "Tie", nil, true))
	it := intent.Intent{HardTerms: []string{"suit"}}

	gp, err := e.Gate(pool, it, 5)
	require.NoError(t, err)

	assert.False(t, gp.TrustFallback)
	assert.Len(t, gp.Candidates, 2)
	for _, c := range gp.Candidates {
		assert.Contains(t, c.SearchText, "suit")
	}
}

func TestGateFacetDemotion(t *testing.T) {
	// Only one of forty items carries the color attribute at all, so the
	// facet is demoted instead of filtering the pool down to near-nothing.
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(40, 0)
	for i := range pool {
		if i != 0 {
			pool[i].Facets = map[string][]string{}
		}
	}
	it := intent.Intent{
		HardTerms: []string{"suit"},
		Facets:    map[string]intent.Facet{"color": {Value: "navy"}},
	}

	gp, err := e.Gate(pool, it, 8)
	require.NoError(t, err)

	assert.Equal(t, StageStrict, gp.Stage)
	assert.Len(t, gp.Candidates, 40)
	assert.NotContains(t, gp.EnforcedFacets, "color")
	require.Len(t, gp.Demotions, 1)
	assert.Equal(t, "color", gp.Demotions[0].Attribute)
	assert.InDelta(t, 1.0/40.0, gp.Demotions[0].Coverage, 1e-9)
}

func TestGateHardTermVariantExpansion(t *testing.T) {
	// Plural request term matches singular catalog text.
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(12, 0)
	it := intent.Intent{HardTerms: []string{"suits"}}

	gp, err := e.Gate(pool, it, 2)
	require.NoError(t, err)

	assert.Equal(t, StageStrict, gp.Stage)
	assert.Len(t, gp.Candidates, 12)
}

func TestGateFacetAllowList(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(40, 6)
	it := intent.Intent{
		HardTerms: []string{"suit"},
		Facets: map[string]intent.Facet{
			"color": {Value: "navy", AllowList: []string{"navy", "charcoal"}},
		},
	}

	gp, err := e.Gate(pool, it, 8)
	require.NoError(t, err)

	// Every pool member satisfies one of the OR-listed values, so strict
	// succeeds with the full pool.
	assert.Equal(t, StageStrict, gp.Stage)
	assert.Len(t, gp.Candidates, 40)
}

func TestGatedPoolSatisfies(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(40, 15)
	it := intent.Intent{
		HardTerms: []string{"suit"},
		Facets:    map[string]intent.Facet{"color": {Value: "navy"}},
	}

	gp, err := e.Gate(pool, it, 8)
	require.NoError(t, err)
	require.Equal(t, StageStrict, gp.Stage)

	navy := makeCandidate("x-navy", "navy linen suit", "Suit", map[string][]string{"color": {"navy"}}, true)
	charcoal := makeCandidate("x-char", "charcoal suit", "Suit", map[string][]string{"color": {"charcoal"}}, true)
	offTopic := makeCandidate("x-tie", "navy silk tie", "Tie", map[string][]string{"color": {"navy"}}, true)

	assert.True(t, gp.Satisfies(&navy))
	assert.False(t, gp.Satisfies(&charcoal), "fails the enforced facet")
	assert.False(t, gp.Satisfies(&offTopic), "fails the hard term")
}

func TestGatedPoolSatisfiesAnchor(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	pool := suitPool(40, 15)
	it := intent.Intent{
		HardTerms: []string{"suit"},
		Facets:    map[string]intent.Facet{"color": {Value: "navy"}},
	}

	gp, err := e.Gate(pool, it, 8)
	require.NoError(t, err)

	charcoal := makeCandidate("x-char", "charcoal suit", "Suit", map[string][]string{"color": {"charcoal"}}, true)
	offTopic := makeCandidate("x-tie", "navy silk tie", "Tie", map[string][]string{"color": {"navy"}}, true)

	// Anchor check only requires the hard-term token, not the facet.
	assert.True(t, gp.SatisfiesAnchor(&charcoal))
	assert.False(t, gp.SatisfiesAnchor(&offTopic))
}

func TestGatedPoolContains(t *testing.T) {
	gp := &GatedPool{Candidates: suitPool(3, 0)}

	assert.True(t, gp.Contains("suit-01"))
	assert.False(t, gp.Contains("missing"))
}
