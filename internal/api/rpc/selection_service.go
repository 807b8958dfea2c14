// Package rpc provides the Connect service implementation for the selection
// engine, mirroring the REST surface for RPC clients.
package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/curatelabs/selection-engine/internal/intent"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/pipeline"
)

// SelectionService implements the Connect selection service.
type SelectionService struct {
	logger *observability.Logger
	pipe   *pipeline.Pipeline
	store  pipeline.ResultStore
}

// NewSelectionService creates a new selection service.
func NewSelectionService(logger *observability.Logger, pipe *pipeline.Pipeline, store pipeline.ResultStore) *SelectionService {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SelectionService{logger: logger, pipe: pipe, store: store}
}

// SelectRequest represents the RPC request message.
type SelectRequest struct {
	SessionKey     string            `json:"session_key,omitempty"`
	ShopRef        string            `json:"shop_ref,omitempty"`
	Request        string            `json:"request"`
	RequestedCount int32             `json:"requested_count,omitempty"`
	Budget         *float64          `json:"budget,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	Facets         map[string]string `json:"facets,omitempty"`
}

// SelectResponse represents the RPC response message.
type SelectResponse struct {
	SessionKey     string   `json:"session_key"`
	Identifiers    []string `json:"identifiers"`
	Source         string   `json:"source"`
	BudgetExceeded *bool    `json:"budget_exceeded,omitempty"`
	TotalPrice     float64  `json:"total_price"`
	Reasoning      string   `json:"reasoning"`
	Status         string   `json:"status"`
	ErrorCode      string   `json:"error_code,omitempty"`
}

// GetRequest represents the RPC lookup message.
type GetRequest struct {
	SessionKey string `json:"session_key"`
}

// Select runs a selection synchronously and returns the terminal result.
// The session key is the idempotency key: repeating it replays the stored
// result instead of running again.
func (s *SelectionService) Select(ctx context.Context, req *connect.Request[SelectRequest]) (*connect.Response[SelectResponse], error) {
	msg := req.Msg

	if msg.Request == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("request text is required"))
	}

	sessionKey := msg.SessionKey
	if sessionKey == "" {
		sessionKey = uuid.New().String()
	}

	count := int(msg.RequestedCount)
	if count <= 0 {
		count = 1
	}

	preq := pipeline.Request{
		SessionKey:     sessionKey,
		ShopRef:        msg.ShopRef,
		Text:           msg.Request,
		RequestedCount: count,
	}
	if msg.Budget != nil || len(msg.Facets) > 0 {
		preq.Answers = answersFrom(msg)
	}

	result, err := s.pipe.Run(ctx, preq)
	if err != nil {
		s.logger.Error().Err(err).Msg("Selection run failed")
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(toSelectResponse(result)), nil
}

// Get returns the terminal result for a session key.
func (s *SelectionService) Get(ctx context.Context, req *connect.Request[GetRequest]) (*connect.Response[SelectResponse], error) {
	if req.Msg.SessionKey == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_key is required"))
	}
	if s.store == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("result store not configured"))
	}

	result, err := s.store.FindResult(ctx, req.Msg.SessionKey)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if result == nil {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("no result for session"))
	}
	return connect.NewResponse(toSelectResponse(result)), nil
}

func answersFrom(msg *SelectRequest) *intent.Answers {
	return &intent.Answers{
		Facets:   msg.Facets,
		Budget:   msg.Budget,
		Currency: msg.Currency,
	}
}

func toSelectResponse(r *pipeline.SelectionResult) *SelectResponse {
	return &SelectResponse{
		SessionKey:     r.SessionKey,
		Identifiers:    r.Identifiers,
		Source:         string(r.Source),
		BudgetExceeded: r.BudgetExceeded,
		TotalPrice:     r.TotalPrice,
		Reasoning:      r.Reasoning,
		Status:         string(r.Status),
		ErrorCode:      string(r.ErrorCode),
	}
}
