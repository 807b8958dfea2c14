// Package bundle composes multi-item selections: it plans slots per item
// type, allocates a shared budget, and fills slots through a fixed sequence
// of passes so a bundle is never silently short or silently over budget.
package bundle

import (
	"sort"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/gate"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/reason"
)

// Item is one bundle item type ready for allocation: its validated
// candidates in preference order, its own gated pool, and its budget cap.
type Item struct {
	Index      int
	Label      string
	Quantity   int
	Ceiling    *float64
	Candidates []catalog.Candidate
	Pool       *gate.GatedPool
}

// Pick is one allocated candidate tagged with the item index it fills.
type Pick struct {
	Candidate catalog.Candidate
	ItemIndex int
}

// Allocation is the allocator's terminal state.
type Allocation struct {
	Picks      []Pick
	TotalPrice float64
	// BudgetExceeded is nil when no total budget was given.
	BudgetExceeded *bool
	TrustFallback  bool
	// MissingLabels names item types that ended with zero picks.
	MissingLabels []string
}

// Allocator runs the slot-planning / budget / fill state machine.
type Allocator struct {
	logger *observability.Logger
}

// NewAllocator creates an allocator.
func NewAllocator(logger *observability.Logger) *Allocator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Allocator{logger: logger}
}

// Allocate fills requestedCount slots across the bundle items. Candidates
// not present in their own item's gated pool are dropped before anything
// else: an identifier can only ever fill the item index it was gated for.
func (a *Allocator) Allocate(items []Item, requestedCount int, totalBudget *float64, trail *reason.Trail) Allocation {
	items = a.assertInPool(items)

	plan := planSlots(items, requestedCount)
	used := make(map[string]bool)

	var picks []Pick
	total := 0.0
	trustFallback := false

	// Primary selection. Every item type with a non-empty pool gets its
	// best affordable candidate, or its cheapest one when nothing fits the
	// item's allocation.
	for i, item := range items {
		if plan[i] == 0 || len(item.Candidates) == 0 {
			continue
		}
		pick, withinBudget, ok := primaryFor(item, used)
		if !ok {
			continue
		}
		if !withinBudget {
			trustFallback = true
			trail.Add(reason.KindRelaxedBudget,
				"No %s fits its budget share, picked the cheapest instead", itemName(item))
		}
		used[pick.ID] = true
		picks = append(picks, Pick{Candidate: pick, ItemIndex: item.Index})
		total += pick.EffectivePrice()
	}

	// Fill toward the slot plan. Budget-respecting candidates first, then
	// cheapest available so planned slot counts hold.
	for i, item := range items {
		for countFor(picks, item.Index) < plan[i] {
			next, ok := nextFill(item, used, total, totalBudget)
			if !ok {
				break
			}
			used[next.ID] = true
			picks = append(picks, Pick{Candidate: next, ItemIndex: item.Index})
			total += next.EffectivePrice()
		}
	}

	// Three-pass top-up when the plan could not be met.
	if len(picks) < requestedCount {
		picks, total = a.topUp(items, picks, used, total, requestedCount, totalBudget, trail)
	}

	alloc := Allocation{
		Picks:         picks,
		TotalPrice:    total,
		TrustFallback: trustFallback,
	}
	if totalBudget != nil {
		exceeded := total > *totalBudget
		alloc.BudgetExceeded = &exceeded
		if exceeded {
			trail.Add(reason.KindBudgetExceeded,
				"The cheapest workable combination totals %.2f, above the %.2f budget", total, *totalBudget)
		}
	}
	for _, item := range items {
		if countFor(picks, item.Index) == 0 {
			alloc.MissingLabels = append(alloc.MissingLabels, itemName(item))
			trail.Add(reason.KindMissingItemType, "No match found for %s", itemName(item))
		}
	}
	return alloc
}

// assertInPool drops any candidate that is not a member of its own item's
// gated pool, logging each drop.
func (a *Allocator) assertInPool(items []Item) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = item
		if item.Pool == nil {
			continue
		}
		kept := item.Candidates[:0:0]
		for _, c := range item.Candidates {
			if item.Pool.Contains(c.ID) {
				kept = append(kept, c)
			} else {
				a.logger.Warn().
					Str("candidate", c.ID).
					Int("item_index", item.Index).
					Msg("Dropping candidate outside its item pool")
			}
		}
		out[i].Candidates = kept
	}
	return out
}

// primaryFor picks the best-ranked unused candidate within the item's
// ceiling, or the cheapest unused one when nothing fits its allocation.
// Item pools may overlap, so every candidate can already be taken by an
// earlier item; ok is false then and the item stays unfilled. withinBudget
// is false when the ceiling was breached.
func primaryFor(item Item, used map[string]bool) (pick catalog.Candidate, withinBudget, ok bool) {
	if item.Ceiling != nil {
		for _, c := range item.Candidates {
			if used[c.ID] {
				continue
			}
			if c.EffectivePrice() <= *item.Ceiling {
				return c, true, true
			}
		}
		cheapest := cheapestUnused(item.Candidates, used)
		if cheapest.ID == "" {
			return catalog.Candidate{}, true, false
		}
		return cheapest, false, true
	}
	for _, c := range item.Candidates {
		if !used[c.ID] {
			return c, true, true
		}
	}
	return catalog.Candidate{}, true, false
}

// nextFill finds the next candidate for a slot: best-ranked within the
// item ceiling and total headroom first, else the cheapest available so the
// slot plan is still met.
func nextFill(item Item, used map[string]bool, runningTotal float64, totalBudget *float64) (catalog.Candidate, bool) {
	for _, c := range item.Candidates {
		if used[c.ID] {
			continue
		}
		if item.Ceiling != nil && c.EffectivePrice() > *item.Ceiling {
			continue
		}
		if totalBudget != nil && runningTotal+c.EffectivePrice() > *totalBudget {
			continue
		}
		return c, true
	}
	cheapest := cheapestUnused(item.Candidates, used)
	if cheapest.ID == "" {
		return catalog.Candidate{}, false
	}
	return cheapest, true
}

// topUp runs the three-pass ladder: strict (per-item and total caps,
// in-stock, cheapest first), relaxed (total cap only), then substitutes
// that fit the remaining headroom without knowingly exceeding it.
func (a *Allocator) topUp(items []Item, picks []Pick, used map[string]bool, total float64, requestedCount int, totalBudget *float64, trail *reason.Trail) ([]Pick, float64) {
	before := len(picks)

	type slotted struct {
		c    catalog.Candidate
		item Item
	}
	remaining := func(pass int) []slotted {
		var out []slotted
		for _, item := range items {
			for _, c := range item.Candidates {
				if used[c.ID] {
					continue
				}
				switch pass {
				case 1:
					if !c.Available {
						continue
					}
					if item.Ceiling != nil && c.EffectivePrice() > *item.Ceiling {
						continue
					}
				case 2:
					if !c.Available {
						continue
					}
				}
				out = append(out, slotted{c: c, item: item})
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].c.EffectivePrice() != out[j].c.EffectivePrice() {
				return out[i].c.EffectivePrice() < out[j].c.EffectivePrice()
			}
			return out[i].c.ID < out[j].c.ID
		})
		return out
	}

	for pass := 1; pass <= 3 && len(picks) < requestedCount; pass++ {
		for _, s := range remaining(pass) {
			if len(picks) >= requestedCount {
				break
			}
			if totalBudget != nil && total+s.c.EffectivePrice() > *totalBudget {
				continue
			}
			used[s.c.ID] = true
			picks = append(picks, Pick{Candidate: s.c, ItemIndex: s.item.Index})
			total += s.c.EffectivePrice()
		}
	}

	if added := len(picks) - before; added > 0 {
		trail.Add(reason.KindToppedUp, "Filled %d remaining slots from the wider item pools", added)
	}
	return picks, total
}

// planSlots distributes requestedCount slots across items: minimum one per
// type, remainder weighted by requested quantity using largest remainders.
func planSlots(items []Item, requestedCount int) []int {
	n := len(items)
	plan := make([]int, n)
	if requestedCount <= 0 || n == 0 {
		return plan
	}

	base := 0
	for i := 0; i < n && base < requestedCount; i++ {
		plan[i] = 1
		base++
	}
	left := requestedCount - base
	if left == 0 {
		return plan
	}

	totalQ := 0
	for _, item := range items {
		totalQ += maxInt(1, item.Quantity)
	}

	type frac struct {
		index int
		rem   float64
	}
	fracs := make([]frac, n)
	assigned := 0
	for i, item := range items {
		q := maxInt(1, item.Quantity)
		exact := float64(left) * float64(q) / float64(totalQ)
		whole := int(exact)
		plan[i] += whole
		assigned += whole
		fracs[i] = frac{index: i, rem: exact - float64(whole)}
	}
	sort.SliceStable(fracs, func(a, b int) bool {
		if fracs[a].rem != fracs[b].rem {
			return fracs[a].rem > fracs[b].rem
		}
		return fracs[a].index < fracs[b].index
	})
	for i := 0; assigned < left; i++ {
		plan[fracs[i%n].index]++
		assigned++
	}
	return plan
}

func cheapestUnused(candidates []catalog.Candidate, used map[string]bool) catalog.Candidate {
	var best catalog.Candidate
	found := false
	for _, c := range candidates {
		if used[c.ID] {
			continue
		}
		if !found || c.EffectivePrice() < best.EffectivePrice() ||
			(c.EffectivePrice() == best.EffectivePrice() && c.ID < best.ID) {
			best = c
			found = true
		}
	}
	return best
}

func countFor(picks []Pick, itemIndex int) int {
	n := 0
	for _, p := range picks {
		if p.ItemIndex == itemIndex {
			n++
		}
	}
	return n
}

func itemName(item Item) string {
	if item.Label != "" {
		return item.Label
	}
	return "requested item"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
