// Package pipeline orchestrates a full selection run: retrieval, gating,
// ranking, external reranking, validation, bundle allocation, diversity and
// the delivery guarantee, ending in a persisted terminal result.
package pipeline

import (
	"time"

	"github.com/curatelabs/selection-engine/internal/intent"
)

// ResultSource tells the caller which path produced the selection.
type ResultSource string

const (
	SourceReranked  ResultSource = "reranked"
	SourceFallback  ResultSource = "deterministic-fallback"
	SourceEmergency ResultSource = "emergency-unmatched"
)

// Status is the terminal state of a session.
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

// ErrorCode classifies degraded or failed outcomes. Recoverable codes still
// produce a COMPLETE result; only upstream failures mark a session FAILED.
type ErrorCode string

const (
	ErrCodeNone              ErrorCode = ""
	ErrCodeNoMatch           ErrorCode = "NO_MATCH"
	ErrCodePartialBundle     ErrorCode = "PARTIAL_BUNDLE"
	ErrCodeBudgetUnattain    ErrorCode = "BUDGET_UNATTAINABLE"
	ErrCodeRerankFailure     ErrorCode = "RERANK_FAILURE"
	ErrCodeValidationEmptied ErrorCode = "VALIDATION_EMPTIED"
	ErrCodeEmergency         ErrorCode = "EMERGENCY_UNMATCHED"
)

// Request is one inbound selection request.
type Request struct {
	SessionKey     string
	ShopRef        string
	Text           string
	Answers        *intent.Answers
	RequestedCount int
}

// SelectionResult is the terminal output of a run.
type SelectionResult struct {
	SessionKey  string       `json:"session_key"`
	Identifiers []string     `json:"identifiers"`
	Source      ResultSource `json:"source"`
	// BudgetExceeded is nil when no budget was given.
	BudgetExceeded *bool     `json:"budget_exceeded,omitempty"`
	TotalPrice     float64   `json:"total_price"`
	Reasoning      string    `json:"reasoning"`
	Status         Status    `json:"status"`
	ErrorCode      ErrorCode `json:"error_code,omitempty"`
	// RerankDuration clamps the reported time spent in external reranking.
	RerankDuration time.Duration `json:"rerank_duration_ms"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Delivered returns how many items the run should be billed for. Emergency
// picks are never billable.
func (r *SelectionResult) Delivered() int {
	if r.Source == SourceEmergency {
		return 0
	}
	return len(r.Identifiers)
}
