package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/curatelabs/selection-engine/internal/pipeline"
)

// SelectionStore adapts the repositories to the pipeline's persistence
// contract.
type SelectionStore struct {
	sessions *SessionRepository
	results  *ResultRepository
}

// NewSelectionStore creates the adapter over one database handle.
func NewSelectionStore(db *sql.DB, driver string) *SelectionStore {
	return &SelectionStore{
		sessions: NewSessionRepository(db, driver),
		results:  NewResultRepository(db, driver),
	}
}

// Sessions exposes the underlying session repository.
func (s *SelectionStore) Sessions() *SessionRepository {
	return s.sessions
}

// FindResult returns the prior terminal result for a session key, or nil
// when none exists.
func (s *SelectionStore) FindResult(ctx context.Context, sessionKey string) (*pipeline.SelectionResult, error) {
	rec, err := s.results.Find(ctx, sessionKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pipeline.SelectionResult{
		SessionKey:     rec.SessionKey,
		Identifiers:    rec.Identifiers,
		Source:         pipeline.ResultSource(rec.Source),
		BudgetExceeded: rec.BudgetExceeded,
		TotalPrice:     rec.TotalPrice,
		Reasoning:      rec.Reasoning,
		Status:         pipeline.Status(rec.Status),
		ErrorCode:      pipeline.ErrorCode(rec.ErrorCode),
		RerankDuration: time.Duration(rec.RerankMillis) * time.Millisecond,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

// SaveResult persists a terminal result.
func (s *SelectionStore) SaveResult(ctx context.Context, res *pipeline.SelectionResult) error {
	return s.results.Save(ctx, &SelectionRecord{
		SessionKey:     res.SessionKey,
		Identifiers:    res.Identifiers,
		Source:         string(res.Source),
		BudgetExceeded: res.BudgetExceeded,
		TotalPrice:     res.TotalPrice,
		Reasoning:      res.Reasoning,
		Status:         string(res.Status),
		ErrorCode:      string(res.ErrorCode),
		RerankMillis:   res.RerankDuration.Milliseconds(),
		CreatedAt:      res.CreatedAt,
	})
}

// MarkTerminal moves the session row to its terminal status, creating the
// row when the run came in without one.
func (s *SelectionStore) MarkTerminal(ctx context.Context, sessionKey string, status pipeline.Status) error {
	err := s.sessions.UpdateStatus(ctx, sessionKey, string(status))
	if errors.Is(err, ErrNotFound) {
		return s.sessions.Create(ctx, &Session{Key: sessionKey, Status: string(status)})
	}
	return err
}
