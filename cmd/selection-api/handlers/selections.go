// Package handlers provides HTTP handlers for the Selection API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/curatelabs/selection-engine/internal/intent"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/pipeline"
	"github.com/curatelabs/selection-engine/internal/storage"
)

// SelectionsHandler serves selection submission and polling.
type SelectionsHandler struct {
	logger   *observability.Logger
	pipeline *pipeline.Pipeline
	store    *storage.SelectionStore
}

// NewSelectionsHandler creates a selections handler.
func NewSelectionsHandler(logger *observability.Logger, p *pipeline.Pipeline, store *storage.SelectionStore) *SelectionsHandler {
	return &SelectionsHandler{logger: logger, pipeline: p, store: store}
}

// SelectionRequestDTO is the submission payload.
type SelectionRequestDTO struct {
	SessionKey     string             `json:"sessionKey,omitempty"`
	ShopRef        string             `json:"shopRef"`
	Request        string             `json:"request"`
	RequestedCount int                `json:"requestedCount"`
	Answers        *AnswersDTO        `json:"answers,omitempty"`
}

// AnswersDTO carries explicit structured selections alongside free text.
type AnswersDTO struct {
	Facets   map[string]string `json:"facets,omitempty"`
	Budget   *float64          `json:"budget,omitempty"`
	Currency string            `json:"currency,omitempty"`
}

// SubmitResponseDTO acknowledges a submission.
type SubmitResponseDTO struct {
	SessionKey string                    `json:"sessionKey"`
	Status     string                    `json:"status"`
	Result     *pipeline.SelectionResult `json:"result,omitempty"`
}

// Submit handles POST /v1/selections: it acknowledges immediately and runs
// the pipeline as a detached background task. A session key that already
// reached a terminal result returns that result instead of re-running.
func (h *SelectionsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var dto SelectionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if dto.ShopRef == "" || dto.Request == "" {
		writeError(w, http.StatusBadRequest, "shopRef and request are required")
		return
	}
	if dto.RequestedCount <= 0 {
		dto.RequestedCount = 1
	}
	if dto.SessionKey == "" {
		dto.SessionKey = uuid.NewString()
	}

	req := pipeline.Request{
		SessionKey:     dto.SessionKey,
		ShopRef:        dto.ShopRef,
		Text:           dto.Request,
		RequestedCount: dto.RequestedCount,
	}
	if dto.Answers != nil {
		req.Answers = &intent.Answers{
			Facets:   dto.Answers.Facets,
			Budget:   dto.Answers.Budget,
			Currency: dto.Answers.Currency,
		}
	}

	prior, found, err := h.pipeline.Submit(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to submit selection request")
		writeError(w, http.StatusInternalServerError, "failed to submit request")
		return
	}
	if found {
		writeJSON(w, http.StatusOK, SubmitResponseDTO{
			SessionKey: dto.SessionKey,
			Status:     string(prior.Status),
			Result:     prior,
		})
		return
	}

	if err := h.store.Sessions().Create(r.Context(), &storage.Session{
		Key:            dto.SessionKey,
		ShopRef:        dto.ShopRef,
		RequestText:    dto.Request,
		RequestedCount: dto.RequestedCount,
	}); err != nil {
		// The run is already detached; an audit row failure should not turn
		// the acknowledgment into an error.
		h.logger.Error().Err(err).Msg("Failed to create session row")
	}

	writeJSON(w, http.StatusAccepted, SubmitResponseDTO{
		SessionKey: dto.SessionKey,
		Status:     "PROCESSING",
	})
}

// Get handles GET /v1/selections/{key}: terminal results return the stored
// record, known non-terminal sessions report processing, everything else is
// a 404.
func (h *SelectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "session key is required")
		return
	}

	result, err := h.store.FindResult(r.Context(), key)
	if err != nil {
		h.logger.Error().Err(err).Str("session", key).Msg("Failed to look up result")
		writeError(w, http.StatusInternalServerError, "failed to look up result")
		return
	}
	if result != nil {
		writeJSON(w, http.StatusOK, SubmitResponseDTO{
			SessionKey: key,
			Status:     string(result.Status),
			Result:     result,
		})
		return
	}

	session, err := h.store.Sessions().Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown session key")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session", key).Msg("Failed to look up session")
		writeError(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponseDTO{
		SessionKey: key,
		Status:     session.Status,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
