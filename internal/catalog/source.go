package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/curatelabs/selection-engine/internal/cache"
	"github.com/curatelabs/selection-engine/internal/observability"
)

// Source is the catalog collaborator consumed by the pipeline. Fetches are
// best-effort and paginated on the implementation side.
type Source interface {
	// FetchByFilter returns up to limit candidates, optionally restricted to
	// a collection.
	FetchByFilter(ctx context.Context, shopRef string, limit int, collection string) ([]Candidate, error)

	// FetchByQuery returns candidates matching a free-text query, aiming for
	// targetCount results.
	FetchByQuery(ctx context.Context, shopRef, query string, targetCount int) ([]Candidate, error)

	// FetchDescriptions returns long-form descriptions keyed by handle. It is
	// called lazily, only for candidates inside the final ranking window.
	FetchDescriptions(ctx context.Context, handles []string) (map[string]string, error)
}

// CachedSource wraps a Source with a read-through cache for search-by-query
// results, keyed by shop and term and time-boxed.
type CachedSource struct {
	inner  Source
	cache  cache.Client
	logger *observability.Logger
	ttl    time.Duration
}

// NewCachedSource creates a caching wrapper around a catalog source.
func NewCachedSource(inner Source, c cache.Client, logger *observability.Logger, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedSource{inner: inner, cache: c, logger: logger, ttl: ttl}
}

// FetchByFilter delegates to the inner source. Filter fetches are the bulk
// pool load and are not worth caching per request.
func (s *CachedSource) FetchByFilter(ctx context.Context, shopRef string, limit int, collection string) ([]Candidate, error) {
	return s.inner.FetchByFilter(ctx, shopRef, limit, collection)
}

// FetchByQuery checks the cache before hitting the inner source.
func (s *CachedSource) FetchByQuery(ctx context.Context, shopRef, query string, targetCount int) ([]Candidate, error) {
	key := cache.SearchKey(shopRef, query)

	if data, err := s.cache.Get(ctx, key); err == nil {
		var cached []Candidate
		if err := json.Unmarshal(data, &cached); err == nil {
			s.logger.Debug().Str("query", query).Int("count", len(cached)).Msg("Search cache hit")
			return NormalizeAll(cached), nil
		}
	}

	result, err := s.inner.FetchByQuery(ctx, shopRef, query, targetCount)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Debug().Err(err).Str("query", query).Msg("Search cache write failed")
		}
	}

	return result, nil
}

// FetchDescriptions delegates to the inner source.
func (s *CachedSource) FetchDescriptions(ctx context.Context, handles []string) (map[string]string, error) {
	return s.inner.FetchDescriptions(ctx, handles)
}
