// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/curatelabs/selection-engine/cmd/selection-api/handlers"
	"github.com/curatelabs/selection-engine/cmd/selection-api/middleware"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/pipeline"
	"github.com/curatelabs/selection-engine/internal/storage"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, p *pipeline.Pipeline, store *storage.SelectionStore, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"selection-engine"}`))
	})

	selections := handlers.NewSelectionsHandler(logger, p, store)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/selections", selections.Submit)
		r.Get("/selections/{key}", selections.Get)
	})

	return r
}
