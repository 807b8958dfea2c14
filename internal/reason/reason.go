// Package reason collects typed reasoning events during a selection run and
// renders them to a single human-readable string at the end, instead of
// string concatenation scattered across stages.
package reason

import (
	"fmt"
	"strings"
)

// Kind identifies a reasoning event type.
type Kind string

const (
	KindMatchedFacet     Kind = "matched_facet"
	KindDemotedFacet     Kind = "demoted_facet"
	KindRelaxedStage     Kind = "relaxed_stage"
	KindRelaxedBudget    Kind = "relaxed_budget"
	KindBudgetExceeded   Kind = "budget_exceeded"
	KindMissingItemType  Kind = "missing_item_type"
	KindRerankFallback   Kind = "rerank_fallback"
	KindAnchorRetry      Kind = "anchor_retry"
	KindToppedUp         Kind = "topped_up"
	KindSwappedDiversity Kind = "swapped_for_diversity"
	KindEmergencyPick    Kind = "emergency_pick"
	KindNoMatch          Kind = "no_match"
)

// Event is one recorded reasoning event.
type Event struct {
	Kind   Kind
	Detail string
}

// Trail is an ordered list of events for one selection run. Not safe for
// concurrent use; a run owns its trail.
type Trail struct {
	events []Event
}

// NewTrail creates an empty trail.
func NewTrail() *Trail {
	return &Trail{}
}

// Add appends an event with a formatted detail string.
func (t *Trail) Add(kind Kind, format string, args ...interface{}) {
	t.events = append(t.events, Event{Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// Events returns the recorded events in order.
func (t *Trail) Events() []Event {
	return t.events
}

// Has reports whether any event of the given kind was recorded.
func (t *Trail) Has(kind Kind) bool {
	for _, e := range t.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Render joins all event details into the final reasoning text. This is the
// only place events become prose.
func (t *Trail) Render() string {
	if len(t.events) == 0 {
		return ""
	}
	parts := make([]string, 0, len(t.events))
	for _, e := range t.events {
		parts = append(parts, e.Detail)
	}
	return strings.Join(parts, ". ")
}
