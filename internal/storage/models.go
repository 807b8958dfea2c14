// Package storage persists selection sessions, terminal results and billing
// entries in SQLite or Postgres.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// Session is one inbound selection request tracked to a terminal state.
type Session struct {
	Key            string    `json:"key"`
	ShopRef        string    `json:"shop_ref"`
	RequestText    string    `json:"request_text"`
	RequestedCount int       `json:"requested_count"`
	Status         string    `json:"status"` // PROCESSING, COMPLETE or FAILED
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SelectionRecord is the persisted terminal result of a session.
type SelectionRecord struct {
	SessionKey     string    `json:"session_key"`
	Identifiers    []string  `json:"identifiers"`
	Source         string    `json:"source"`
	BudgetExceeded *bool     `json:"budget_exceeded,omitempty"`
	TotalPrice     float64   `json:"total_price"`
	Reasoning      string    `json:"reasoning"`
	Status         string    `json:"status"`
	ErrorCode      string    `json:"error_code"`
	RerankMillis   int64     `json:"rerank_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// BillingEntry is one charge settled against a session.
type BillingEntry struct {
	ID             uuid.UUID `json:"id"`
	SessionKey     string    `json:"session_key"`
	DeliveredCount int       `json:"delivered_count"`
	CreditsCharged int       `json:"credits_charged"`
	OverageDelta   int       `json:"overage_delta"`
	CreatedAt      time.Time `json:"created_at"`
}
