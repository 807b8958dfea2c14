package validate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/gate"
	"github.com/curatelabs/selection-engine/internal/intent"
)

func item(id, title string, facets map[string][]string, available bool) catalog.Candidate {
	c := catalog.Candidate{
		ID:        id,
		Handle:    id,
		Title:     title,
		TypeLabel: "Apparel",
		Price:     50,
		Available: available,
		Facets:    facets,
	}
	catalog.Normalize(&c)
	return c
}

func gatePool(t *testing.T, pool []catalog.Candidate, it intent.Intent, count int) *gate.GatedPool {
	t.Helper()
	gp, err := gate.NewEngine(gate.DefaultConfig(), nil).Gate(pool, it, count)
	require.NoError(t, err)
	return gp
}

func suitItems(n int) []catalog.Candidate {
	out := make([]catalog.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, item(fmt.Sprintf("suit-%02d", i), "navy wool suit", map[string][]string{"color": {"navy"}}, true))
	}
	return out
}

func keptIDs(r Result) []string {
	ids := make([]string, len(r.Kept))
	for i, c := range r.Kept {
		ids[i] = c.ID
	}
	return ids
}

func TestValidateKeepsGateConsistentWindow(t *testing.T) {
	pool := suitItems(10)
	gp := gatePool(t, pool, intent.Intent{HardTerms: []string{"suit"}}, 2)
	v := NewValidator(true, nil)

	res := v.Validate(gp, pool[:4])

	assert.Equal(t, []string{"suit-00", "suit-01", "suit-02", "suit-03"}, keptIDs(res))
	assert.Empty(t, res.Dropped)
	assert.False(t, res.AnchorRetry)
	assert.False(t, res.Emptied)
}

func TestValidateDropReasons(t *testing.T) {
	pool := suitItems(10)
	pool[3].Available = false
	gp := gatePool(t, pool, intent.Intent{HardTerms: []string{"suit"}}, 2)
	v := NewValidator(true, nil)

	intruder := item("tie-00", "silk tie", nil, true)
	window := []catalog.Candidate{pool[0], pool[3], intruder, pool[5]}

	res := v.Validate(gp, window)

	assert.Equal(t, []string{"suit-00", "suit-05"}, keptIDs(res))
	assert.Equal(t, "out of stock", res.Dropped["suit-03"])
	assert.Equal(t, "not in gated pool", res.Dropped["tie-00"])
}

func TestValidateStockFilterDisabled(t *testing.T) {
	pool := suitItems(10)
	pool[3].Available = false
	gp := gatePool(t, pool, intent.Intent{HardTerms: []string{"suit"}}, 2)
	v := NewValidator(false, nil)

	res := v.Validate(gp, []catalog.Candidate{pool[3]})

	assert.Equal(t, []string{"suit-03"}, keptIDs(res))
}

func TestValidateTrustFallbackSkipsMatcher(t *testing.T) {
	// Nothing in the pool matches "hoodie", so the gate concedes to trust
	// fallback; validation must not re-reject what the gate let through.
	pool := suitItems(10)
	gp := gatePool(t, pool, intent.Intent{HardTerms: []string{"hoodie"}}, 2)
	require.True(t, gp.TrustFallback)
	v := NewValidator(true, nil)

	res := v.Validate(gp, pool[:3])

	assert.Len(t, res.Kept, 3)
	assert.Empty(t, res.Dropped)
}

func TestValidateEmptiedWindow(t *testing.T) {
	pool := suitItems(10)
	gp := gatePool(t, pool, intent.Intent{HardTerms: []string{"suit"}}, 2)
	v := NewValidator(true, nil)

	intruders := []catalog.Candidate{
		item("tie-00", "silk tie", nil, true),
		item("tie-01", "knit tie", nil, true),
	}

	res := v.Validate(gp, intruders)

	assert.True(t, res.AnchorRetry)
	assert.True(t, res.Emptied)
	assert.Empty(t, res.Kept)
	assert.Len(t, res.Dropped, 2)
}

func TestValidateEmptyWindowIsNotEmptied(t *testing.T) {
	pool := suitItems(10)
	gp := gatePool(t, pool, intent.Intent{HardTerms: []string{"suit"}}, 2)
	v := NewValidator(true, nil)

	res := v.Validate(gp, nil)

	assert.False(t, res.Emptied)
	assert.False(t, res.AnchorRetry)
	assert.Empty(t, res.Kept)
}

func TestValidateBundleKeysByItemIndex(t *testing.T) {
	suits := suitItems(10)
	shirts := make([]catalog.Candidate, 0, 10)
	for i := 0; i < 10; i++ {
		shirts = append(shirts, item(fmt.Sprintf("shirt-%02d", i), "white dress shirt", nil, true))
	}

	suitPool := gatePool(t, suits, intent.Intent{HardTerms: []string{"suit"}}, 1)
	shirtPool := gatePool(t, shirts, intent.Intent{HardTerms: []string{"shirt"}}, 1)
	v := NewValidator(true, nil)

	// The shirt window holds a suit: valid for item 0, not for item 1.
	results := v.ValidateBundle(
		[]*gate.GatedPool{suitPool, shirtPool},
		[][]catalog.Candidate{
			{suits[0], suits[1]},
			{shirts[0], suits[2]},
		},
	)

	require.Len(t, results, 2)
	assert.Equal(t, []string{"suit-00", "suit-01"}, keptIDs(results[0]))
	assert.Equal(t, []string{"shirt-00"}, keptIDs(results[1]))
	assert.Equal(t, "not in gated pool", results[1].Dropped["suit-02"])
}

func TestValidateBundleMissingPool(t *testing.T) {
	v := NewValidator(true, nil)

	results := v.ValidateBundle(nil, [][]catalog.Candidate{{item("a", "thing", nil, true)}})

	require.Len(t, results, 1)
	assert.True(t, results[0].Emptied)
	assert.Empty(t, results[0].Kept)
}
