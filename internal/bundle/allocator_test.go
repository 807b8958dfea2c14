package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/gate"
	"github.com/curatelabs/selection-engine/internal/reason"
)

func priced(id string, price float64, available bool) catalog.Candidate {
	return catalog.Candidate{ID: id, Handle: id, Title: id, Price: price, Available: available}
}

func ptr(v float64) *float64 { return &v }

func pickIDs(picks []Pick) []string {
	ids := make([]string, len(picks))
	for i, p := range picks {
		ids[i] = p.Candidate.ID
	}
	return ids
}

func TestPlanSlots(t *testing.T) {
	tests := []struct {
		name      string
		items     []Item
		requested int
		want      []int
	}{
		{
			name:      "even split across two types",
			items:     []Item{{Quantity: 1}, {Quantity: 1}},
			requested: 8,
			want:      []int{4, 4},
		},
		{
			name:      "quantity weights the remainder",
			items:     []Item{{Quantity: 2}, {Quantity: 1}},
			requested: 6,
			want:      []int{4, 2},
		},
		{
			name:      "minimum one per type",
			items:     []Item{{Quantity: 10}, {Quantity: 1}, {Quantity: 1}},
			requested: 3,
			want:      []int{1, 1, 1},
		},
		{
			name:      "fewer slots than types",
			items:     []Item{{Quantity: 1}, {Quantity: 1}, {Quantity: 1}},
			requested: 2,
			want:      []int{1, 1, 0},
		},
		{
			name:      "zero requested",
			items:     []Item{{Quantity: 1}},
			requested: 0,
			want:      []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, planSlots(tt.items, tt.requested))
		})
	}
}

func TestAllocateWithinBudget(t *testing.T) {
	// A 200 budget split 70/30: the cheapest suit breaches its 140 share,
	// so it is taken anyway with the budget share relaxed; the shirt fits
	// its 60 share. The 190 total stays under budget.
	a := NewAllocator(nil)
	trail := reason.NewTrail()
	items := []Item{
		{
			Index: 0, Label: "suit", Quantity: 1, Ceiling: ptr(140),
			Candidates: []catalog.Candidate{priced("suit-a", 150, true), priced("suit-b", 180, true)},
		},
		{
			Index: 1, Label: "shirt", Quantity: 1, Ceiling: ptr(60),
			Candidates: []catalog.Candidate{priced("shirt-a", 40, true), priced("shirt-b", 60, true)},
		},
	}

	alloc := a.Allocate(items, 2, ptr(200), trail)

	assert.Equal(t, []string{"suit-a", "shirt-a"}, pickIDs(alloc.Picks))
	assert.InDelta(t, 190, alloc.TotalPrice, 1e-9)
	require.NotNil(t, alloc.BudgetExceeded)
	assert.False(t, *alloc.BudgetExceeded)
	assert.True(t, alloc.TrustFallback)
	assert.True(t, trail.Has(reason.KindRelaxedBudget))
	assert.False(t, trail.Has(reason.KindBudgetExceeded))
}

func TestAllocateBudgetExceeded(t *testing.T) {
	// Primaries are never skipped: when even the cheapest pair overshoots
	// the total, both are still picked and the overshoot is flagged.
	a := NewAllocator(nil)
	trail := reason.NewTrail()
	items := []Item{
		{
			Index: 0, Label: "suit", Quantity: 1, Ceiling: ptr(140),
			Candidates: []catalog.Candidate{priced("suit-a", 180, true)},
		},
		{
			Index: 1, Label: "shirt", Quantity: 1, Ceiling: ptr(60),
			Candidates: []catalog.Candidate{priced("shirt-a", 40, true)},
		},
	}

	alloc := a.Allocate(items, 2, ptr(200), trail)

	assert.Len(t, alloc.Picks, 2)
	assert.InDelta(t, 220, alloc.TotalPrice, 1e-9)
	require.NotNil(t, alloc.BudgetExceeded)
	assert.True(t, *alloc.BudgetExceeded)
	assert.True(t, trail.Has(reason.KindBudgetExceeded))
}

func TestAllocateNoBudgetLeavesFlagNil(t *testing.T) {
	a := NewAllocator(nil)
	items := []Item{
		{Index: 0, Label: "mug", Quantity: 1, Candidates: []catalog.Candidate{priced("mug-a", 15, true)}},
	}

	alloc := a.Allocate(items, 1, nil, reason.NewTrail())

	assert.Nil(t, alloc.BudgetExceeded)
	assert.False(t, alloc.TrustFallback)
}

func TestAllocateMissingItemType(t *testing.T) {
	a := NewAllocator(nil)
	trail := reason.NewTrail()
	items := []Item{
		{Index: 0, Label: "suit", Quantity: 1, Candidates: []catalog.Candidate{priced("suit-a", 150, true)}},
		{Index: 1, Label: "lightsaber", Quantity: 1},
	}

	alloc := a.Allocate(items, 2, nil, trail)

	assert.Equal(t, []string{"suit-a"}, pickIDs(alloc.Picks))
	assert.Equal(t, []string{"lightsaber"}, alloc.MissingLabels)
	assert.True(t, trail.Has(reason.KindMissingItemType))
}

func TestAllocateOverlappingItemPools(t *testing.T) {
	// Both item gates draw from the same catalog pool, so one product can
	// sit in two candidate lists ("suit blazer set" matches suit and
	// blazer). Once the first item takes it, the second must end up in
	// MissingLabels instead of allocating a zero-value candidate.
	set := priced("suit-blazer-set", 180, true)

	tests := []struct {
		name    string
		ceiling *float64
	}{
		{name: "without ceiling", ceiling: nil},
		{name: "with ceiling", ceiling: ptr(200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAllocator(nil)
			trail := reason.NewTrail()
			items := []Item{
				{Index: 0, Label: "suit", Quantity: 1, Candidates: []catalog.Candidate{set}},
				{Index: 1, Label: "blazer", Quantity: 1, Ceiling: tt.ceiling, Candidates: []catalog.Candidate{set}},
			}

			alloc := a.Allocate(items, 2, nil, trail)

			assert.Equal(t, []string{"suit-blazer-set"}, pickIDs(alloc.Picks))
			for _, p := range alloc.Picks {
				assert.NotEmpty(t, p.Candidate.ID)
			}
			assert.Equal(t, []string{"blazer"}, alloc.MissingLabels)
			assert.True(t, trail.Has(reason.KindMissingItemType))
			assert.InDelta(t, 180, alloc.TotalPrice, 1e-9)
		})
	}
}

func TestAllocateDropsCandidatesOutsideTheirPool(t *testing.T) {
	a := NewAllocator(nil)
	pool := &gate.GatedPool{Candidates: []catalog.Candidate{priced("suit-a", 150, true)}}
	items := []Item{
		{
			Index: 0, Label: "suit", Quantity: 1, Pool: pool,
			Candidates: []catalog.Candidate{priced("intruder", 10, true), priced("suit-a", 150, true)},
		},
	}

	alloc := a.Allocate(items, 1, nil, reason.NewTrail())

	assert.Equal(t, []string{"suit-a"}, pickIDs(alloc.Picks))
}

func TestAllocateTopUpFillsFromOtherItems(t *testing.T) {
	// The shirt pool runs dry at one pick, so the remaining slot is filled
	// from the other item's pool, cheapest first.
	a := NewAllocator(nil)
	trail := reason.NewTrail()
	items := []Item{
		{
			Index: 0, Label: "suit", Quantity: 1,
			Candidates: []catalog.Candidate{
				priced("suit-a", 150, true),
				priced("suit-b", 120, true),
				priced("suit-c", 90, true),
			},
		},
		{
			Index: 1, Label: "shirt", Quantity: 1,
			Candidates: []catalog.Candidate{priced("shirt-a", 40, true)},
		},
	}

	alloc := a.Allocate(items, 4, nil, trail)

	require.Len(t, alloc.Picks, 4)
	assert.ElementsMatch(t, []string{"suit-a", "suit-b", "suit-c", "shirt-a"}, pickIDs(alloc.Picks))
	assert.True(t, trail.Has(reason.KindToppedUp))

	// The topped-up pick keeps its own item index.
	for _, p := range alloc.Picks {
		if p.Candidate.ID == "shirt-a" {
			assert.Equal(t, 1, p.ItemIndex)
		} else {
			assert.Equal(t, 0, p.ItemIndex)
		}
	}
}

func TestAllocateTopUpPrefersInStock(t *testing.T) {
	a := NewAllocator(nil)
	items := []Item{
		{
			Index: 0, Label: "mug", Quantity: 1,
			Candidates: []catalog.Candidate{
				priced("mug-a", 20, true),
				priced("mug-c", 30, true),
				priced("mug-b", 5, false),
				priced("mug-d", 50, true),
			},
		},
		{
			Index: 1, Label: "plate", Quantity: 1,
			Candidates: []catalog.Candidate{priced("plate-a", 10, true)},
		},
	}

	// Plan is [2, 2]; the plate pool only fills one, and the remaining
	// top-up slot goes to the in-stock leftover even though the
	// out-of-stock one is cheaper.
	alloc := a.Allocate(items, 4, nil, reason.NewTrail())

	require.Len(t, alloc.Picks, 4)
	assert.NotContains(t, pickIDs(alloc.Picks), "mug-b")
	assert.Contains(t, pickIDs(alloc.Picks), "mug-d")
}

func TestAllocateTopUpRespectsTotalHeadroom(t *testing.T) {
	a := NewAllocator(nil)
	items := []Item{
		{
			Index: 0, Label: "mug", Quantity: 1,
			Candidates: []catalog.Candidate{
				priced("mug-a", 20, true),
				priced("mug-x", 15, true),
				priced("mug-b", 90, true),
			},
		},
		{
			Index: 1, Label: "plate", Quantity: 1,
			Candidates: []catalog.Candidate{priced("plate-a", 10, true)},
		},
	}

	// Budget 50: the planned slots fill for 45, leaving 5 of headroom, so
	// the 90 mug can never top up and the bundle stays one short.
	alloc := a.Allocate(items, 4, ptr(50), reason.NewTrail())

	assert.Len(t, alloc.Picks, 3)
	assert.NotContains(t, pickIDs(alloc.Picks), "mug-b")
	require.NotNil(t, alloc.BudgetExceeded)
	assert.False(t, *alloc.BudgetExceeded)
}
