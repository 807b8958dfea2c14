package pipeline

import (
	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/reason"
)

// guarantor fills a short selection up to the requested count from
// progressively wider pools, and produces the single emergency pick when
// every pool is empty.
type guarantor struct {
	stockOnly bool
	logger    *observability.Logger
}

// topUp adds candidates until the selection reaches want, drawing from the
// given pools in order (narrowest first: gated pool, full fetched pool,
// then the unfiltered base pool when the gate fell through to trust
// fallback). Candidates are filtered for availability, per-item ceiling and
// total budget headroom where those still apply.
func (g *guarantor) topUp(selected []catalog.Candidate, want int, pools [][]catalog.Candidate, total float64, totalBudget, itemCeiling *float64, trail *reason.Trail) ([]catalog.Candidate, float64) {
	if len(selected) >= want {
		return selected, total
	}

	used := make(map[string]bool, len(selected))
	for _, c := range selected {
		used[c.ID] = true
	}

	added := 0
	for _, pool := range pools {
		for _, c := range pool {
			if len(selected) >= want {
				break
			}
			if used[c.ID] {
				continue
			}
			if g.stockOnly && !c.Available {
				continue
			}
			if itemCeiling != nil && c.EffectivePrice() > *itemCeiling {
				continue
			}
			if totalBudget != nil && total+c.EffectivePrice() > *totalBudget {
				continue
			}
			used[c.ID] = true
			selected = append(selected, c)
			total += c.EffectivePrice()
			added++
		}
	}

	if added > 0 {
		trail.Add(reason.KindToppedUp, "Added %d more items from the wider catalog pool", added)
		g.logger.Debug().Int("added", added).Int("final", len(selected)).Msg("Guarantor topped up selection")
	}
	return selected, total
}

// emergencyPick returns a single best-effort candidate from whichever pool
// has anything at all, preferring in-stock items. It only runs when the
// selection is otherwise empty.
func (g *guarantor) emergencyPick(pools [][]catalog.Candidate, trail *reason.Trail) (catalog.Candidate, bool) {
	for _, pool := range pools {
		var fallback *catalog.Candidate
		for i := range pool {
			if pool[i].Available {
				trail.Add(reason.KindEmergencyPick,
					"Nothing matched the request, returning one best-effort item")
				return pool[i], true
			}
			if fallback == nil {
				fallback = &pool[i]
			}
		}
		if fallback != nil {
			trail.Add(reason.KindEmergencyPick,
				"Nothing matched the request, returning one best-effort item")
			return *fallback, true
		}
	}
	return catalog.Candidate{}, false
}
