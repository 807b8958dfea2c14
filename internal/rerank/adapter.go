package rerank

import (
	"context"
	"sync"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/rank"
)

// Source records which ordering a result came from.
type Source string

const (
	// SourceExternal means the external reranker ordered the window.
	SourceExternal Source = "external"
	// SourceLocal means the local ranking order was kept, either because no
	// service is configured or because the session already spent its call.
	SourceLocal Source = "local"
	// SourceFallback means the external call failed and the local order was
	// kept as a deterministic fallback.
	SourceFallback Source = "local_fallback"
)

// Adapter wraps a rerank service with the session call budget: a session
// gets at most one external rerank call, and every failure degrades to the
// local order instead of failing the selection.
type Adapter struct {
	service Service
	logger  *observability.Logger

	mu    sync.Mutex
	spent bool
}

// NewAdapter creates an adapter. A nil service means local ordering only.
func NewAdapter(service Service, logger *observability.Logger) *Adapter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Adapter{service: service, logger: logger}
}

// Spent reports whether the session's external call budget is used.
func (a *Adapter) Spent() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spent
}

// Rerank reorders the window by external relevance. The first call per
// adapter reaches the service; any later call, a missing service, or a
// service failure all return the window unchanged with the source telling
// the caller which path was taken. The returned error is advisory: the
// window is always usable.
func (a *Adapter) Rerank(ctx context.Context, query string, window []rank.Scored) ([]rank.Scored, Source, error) {
	if len(window) == 0 {
		return window, SourceLocal, nil
	}
	if a.service == nil {
		return window, SourceLocal, nil
	}

	a.mu.Lock()
	if a.spent {
		a.mu.Unlock()
		return window, SourceLocal, nil
	}
	a.spent = true
	a.mu.Unlock()

	docs := make([]string, len(window))
	for i := range window {
		docs[i] = rerankDocument(window[i].Candidate)
	}

	order, err := a.service.Rerank(ctx, query, docs)
	if err != nil {
		a.logger.Warn().Err(err).Msg("External rerank failed, keeping local order")
		return window, SourceFallback, err
	}

	reordered := make([]rank.Scored, 0, len(window))
	for _, idx := range order {
		reordered = append(reordered, window[idx])
	}
	return reordered, SourceExternal, nil
}

// rerankDocument builds the text shown to the reranker for one candidate:
// title, type and description, which is all the relevance signal the service
// needs.
func rerankDocument(c catalog.Candidate) string {
	doc := c.Title
	if c.TypeLabel != "" {
		doc += ". " + c.TypeLabel
	}
	if c.Description != "" {
		doc += ". " + c.Description
	}
	return doc
}
