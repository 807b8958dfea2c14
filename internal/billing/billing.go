// Package billing settles usage charges for delivered selections.
package billing

import (
	"context"
	"fmt"

	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/storage"
)

// Plan describes the credit plan charges are settled against.
type Plan struct {
	// CreditsPerItem is charged for each delivered item.
	CreditsPerItem int
	// IncludedCredits is the allowance before overage accrues.
	IncludedCredits int
}

// DefaultPlan returns the standard plan.
func DefaultPlan() Plan {
	return Plan{CreditsPerItem: 1, IncludedCredits: 1000}
}

// Service charges sessions for delivered items. A zero delivered count is a
// recorded no-charge entry, which is how emergency picks stay free.
type Service struct {
	repo   *storage.BillingRepository
	plan   Plan
	logger *observability.Logger
}

// NewService creates a billing service.
func NewService(repo *storage.BillingRepository, plan Plan, logger *observability.Logger) *Service {
	if plan.CreditsPerItem <= 0 {
		plan.CreditsPerItem = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{repo: repo, plan: plan, logger: logger}
}

// ChargeForDelivered settles the charge for one session and returns the
// credits charged plus any overage this charge pushed past the allowance.
func (s *Service) ChargeForDelivered(ctx context.Context, sessionKey string, delivered int) (int, int, error) {
	credits := delivered * s.plan.CreditsPerItem

	usedBefore, err := s.repo.TotalCredits(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read credit usage: %w", err)
	}
	overage := overageDelta(usedBefore, credits, s.plan.IncludedCredits)

	entry := &storage.BillingEntry{
		SessionKey:     sessionKey,
		DeliveredCount: delivered,
		CreditsCharged: credits,
		OverageDelta:   overage,
	}
	if err := s.repo.Record(ctx, entry); err != nil {
		return 0, 0, err
	}

	s.logger.Info().
		Str("session", sessionKey).
		Int("delivered", delivered).
		Int("credits", credits).
		Int("overage", overage).
		Msg("Charge settled")
	return credits, overage, nil
}

// overageDelta is the part of this charge that lands beyond the allowance.
func overageDelta(usedBefore, charge, included int) int {
	if included <= 0 {
		return charge
	}
	afterTotal := usedBefore + charge
	if afterTotal <= included {
		return 0
	}
	over := afterTotal - included
	if over > charge {
		over = charge
	}
	return over
}
