// Package validate re-checks reranked windows against the settled gate
// before anything is allocated, so external ordering can never smuggle in a
// candidate the gate would have rejected.
package validate

import (
	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/gate"
	"github.com/curatelabs/selection-engine/internal/observability"
)

// Result reports what survived validation for one window.
type Result struct {
	Kept []catalog.Candidate
	// Dropped lists identifiers removed with the reason they were removed.
	Dropped map[string]string
	// AnchorRetry is true when strict validation emptied the window and the
	// anchor-token pass recovered it.
	AnchorRetry bool
	// Emptied is true when even the anchor-token pass kept nothing.
	Emptied bool
}

// Validator applies gate-consistent validation to reranked windows.
type Validator struct {
	stockOnly bool
	logger    *observability.Logger
}

// NewValidator creates a validator. stockOnly drops unavailable candidates.
func NewValidator(stockOnly bool, logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Validator{stockOnly: stockOnly, logger: logger}
}

// Validate checks each candidate in window order against the gated pool it
// came from. A candidate survives when it exists in the pool, is available
// (when stock filtering is on), and still satisfies the gate's settled
// matcher. Trust-fallback pools skip the matcher: the gate already conceded
// that nothing matches, so only existence and stock apply. When strict
// validation keeps nothing, a second pass keeps any candidate containing an
// anchor token of the request, which saves windows emptied by over-strict
// phrase matching.
func (v *Validator) Validate(gp *gate.GatedPool, window []catalog.Candidate) Result {
	res := Result{Dropped: make(map[string]string)}

	for i := range window {
		c := window[i]
		switch {
		case !gp.Contains(c.ID):
			res.Dropped[c.ID] = "not in gated pool"
		case v.stockOnly && !c.Available:
			res.Dropped[c.ID] = "out of stock"
		case !gp.TrustFallback && !gp.Satisfies(&window[i]):
			res.Dropped[c.ID] = "fails gate match"
		default:
			res.Kept = append(res.Kept, c)
		}
	}

	if len(res.Kept) > 0 || len(window) == 0 {
		return res
	}

	// Anchor-token retry: keep anything in the pool holding at least one
	// hard token, even loosely.
	res.AnchorRetry = true
	for i := range window {
		c := window[i]
		if !gp.Contains(c.ID) {
			continue
		}
		if v.stockOnly && !c.Available {
			continue
		}
		if gp.SatisfiesAnchor(&window[i]) {
			delete(res.Dropped, c.ID)
			res.Kept = append(res.Kept, c)
		}
	}

	if len(res.Kept) == 0 {
		res.Emptied = true
		v.logger.Warn().
			Int("window", len(window)).
			Str("stage", string(gp.Stage)).
			Msg("Validation emptied the window")
	} else {
		v.logger.Debug().
			Int("recovered", len(res.Kept)).
			Msg("Anchor-token retry recovered candidates")
	}
	return res
}

// ValidateBundle validates each bundle item's window against that item's
// own gated pool, keyed by item index so a candidate valid for one item is
// never credited to another.
func (v *Validator) ValidateBundle(pools []*gate.GatedPool, windows [][]catalog.Candidate) map[int]Result {
	out := make(map[int]Result, len(windows))
	for i := range windows {
		if i >= len(pools) || pools[i] == nil {
			out[i] = Result{Emptied: len(windows[i]) > 0, Dropped: map[string]string{}}
			continue
		}
		out[i] = v.Validate(pools[i], windows[i])
	}
	return out
}
