package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// SessionRepository stores sessions.
type SessionRepository struct {
	db     *sql.DB
	driver string
}

// NewSessionRepository creates a session repository for the given driver
// ("sqlite" or "postgres").
func NewSessionRepository(db *sql.DB, driver string) *SessionRepository {
	return &SessionRepository{db: db, driver: driver}
}

// Create inserts a new session in PROCESSING state.
func (r *SessionRepository) Create(ctx context.Context, s *Session) error {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = "PROCESSING"
	}
	query := rebind(r.driver, `INSERT INTO sessions
		(key, shop_ref, request_text, requested_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		s.Key, s.ShopRef, s.RequestText, s.RequestedCount, s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get fetches a session by key.
func (r *SessionRepository) Get(ctx context.Context, key string) (*Session, error) {
	query := rebind(r.driver, `SELECT key, shop_ref, request_text, requested_count, status, created_at, updated_at
		FROM sessions WHERE key = ?`)
	var s Session
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&s.Key, &s.ShopRef, &s.RequestText, &s.RequestedCount, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// UpdateStatus moves a session to a new status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, key, status string) error {
	query := rebind(r.driver, `UPDATE sessions SET status = ?, updated_at = ? WHERE key = ?`)
	res, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResultRepository stores terminal selection results.
type ResultRepository struct {
	db     *sql.DB
	driver string
}

// NewResultRepository creates a result repository.
func NewResultRepository(db *sql.DB, driver string) *ResultRepository {
	return &ResultRepository{db: db, driver: driver}
}

// Save upserts the terminal result for a session.
func (r *ResultRepository) Save(ctx context.Context, rec *SelectionRecord) error {
	ids, err := json.Marshal(rec.Identifiers)
	if err != nil {
		return fmt.Errorf("failed to encode identifiers: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var query string
	if r.driver == "postgres" {
		query = rebind(r.driver, `INSERT INTO selection_results
			(session_key, identifiers, source, budget_exceeded, total_price, reasoning, status, error_code, rerank_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_key) DO UPDATE SET
				identifiers = EXCLUDED.identifiers,
				source = EXCLUDED.source,
				budget_exceeded = EXCLUDED.budget_exceeded,
				total_price = EXCLUDED.total_price,
				reasoning = EXCLUDED.reasoning,
				status = EXCLUDED.status,
				error_code = EXCLUDED.error_code,
				rerank_ms = EXCLUDED.rerank_ms`)
	} else {
		query = `INSERT OR REPLACE INTO selection_results
			(session_key, identifiers, source, budget_exceeded, total_price, reasoning, status, error_code, rerank_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}
	_, err = r.db.ExecContext(ctx, query,
		rec.SessionKey, string(ids), rec.Source, rec.BudgetExceeded, rec.TotalPrice,
		rec.Reasoning, rec.Status, rec.ErrorCode, rec.RerankMillis, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save selection result: %w", err)
	}
	return nil
}

// Find fetches the terminal result for a session, or ErrNotFound.
func (r *ResultRepository) Find(ctx context.Context, sessionKey string) (*SelectionRecord, error) {
	query := rebind(r.driver, `SELECT session_key, identifiers, source, budget_exceeded, total_price, reasoning, status, error_code, rerank_ms, created_at
		FROM selection_results WHERE session_key = ?`)
	var (
		rec SelectionRecord
		ids string
	)
	err := r.db.QueryRowContext(ctx, query, sessionKey).Scan(
		&rec.SessionKey, &ids, &rec.Source, &rec.BudgetExceeded, &rec.TotalPrice,
		&rec.Reasoning, &rec.Status, &rec.ErrorCode, &rec.RerankMillis, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find selection result: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &rec.Identifiers); err != nil {
		return nil, fmt.Errorf("failed to decode identifiers: %w", err)
	}
	return &rec, nil
}

// BillingRepository stores settled charges.
type BillingRepository struct {
	db     *sql.DB
	driver string
}

// NewBillingRepository creates a billing repository.
func NewBillingRepository(db *sql.DB, driver string) *BillingRepository {
	return &BillingRepository{db: db, driver: driver}
}

// Record inserts one billing entry.
func (r *BillingRepository) Record(ctx context.Context, e *BillingEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := rebind(r.driver, `INSERT INTO billing_entries
		(id, session_key, delivered_count, credits_charged, overage_delta, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		e.ID.String(), e.SessionKey, e.DeliveredCount, e.CreditsCharged, e.OverageDelta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record billing entry: %w", err)
	}
	return nil
}

// TotalCredits sums all credits ever charged.
func (r *BillingRepository) TotalCredits(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(credits_charged), 0) FROM billing_entries`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum credits: %w", err)
	}
	return total, nil
}

// TotalsForSession sums what a session has been charged.
func (r *BillingRepository) TotalsForSession(ctx context.Context, sessionKey string) (credits, overage int, err error) {
	query := rebind(r.driver, `SELECT COALESCE(SUM(credits_charged), 0), COALESCE(SUM(overage_delta), 0)
		FROM billing_entries WHERE session_key = ?`)
	err = r.db.QueryRowContext(ctx, query, sessionKey).Scan(&credits, &overage)
	if err != nil {
		err = fmt.Errorf("failed to sum billing entries: %w", err)
	}
	return credits, overage, err
}
