package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatelabs/selection-engine/internal/cache"
)

// countingSource tracks how many query fetches reach the inner source.
type countingSource struct {
	pool    []Candidate
	queries int
	err     error
}

func (s *countingSource) FetchByFilter(ctx context.Context, shopRef string, limit int, collection string) ([]Candidate, error) {
	return s.pool, nil
}

func (s *countingSource) FetchByQuery(ctx context.Context, shopRef, query string, targetCount int) ([]Candidate, error) {
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	return s.pool, nil
}

func (s *countingSource) FetchDescriptions(ctx context.Context, handles []string) (map[string]string, error) {
	return nil, nil
}

func TestCachedSourceReadThrough(t *testing.T) {
	inner := &countingSource{pool: NormalizeAll(snapshotPool())}
	src := NewCachedSource(inner, cache.NewMemoryClient(16), nil, time.Minute)
	ctx := context.Background()

	first, err := src.FetchByQuery(ctx, "shop-1", "navy suit", 10)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 1, inner.queries)

	second, err := src.FetchByQuery(ctx, "shop-1", "navy suit", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.queries, "second fetch should be served from cache")
	assert.Equal(t, idsOfCandidates(first), idsOfCandidates(second))
	// Cached candidates come back normalized, ready for gating.
	assert.NotEmpty(t, second[0].SearchText)

	// A different term misses the cache.
	_, err = src.FetchByQuery(ctx, "shop-1", "red dress", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.queries)
}

func TestCachedSourceScopesByShop(t *testing.T) {
	inner := &countingSource{pool: NormalizeAll(snapshotPool())}
	src := NewCachedSource(inner, cache.NewMemoryClient(16), nil, time.Minute)
	ctx := context.Background()

	_, err := src.FetchByQuery(ctx, "shop-1", "suit", 10)
	require.NoError(t, err)
	_, err = src.FetchByQuery(ctx, "shop-2", "suit", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.queries)
}

func TestCachedSourceErrorNotCached(t *testing.T) {
	inner := &countingSource{err: errors.New("catalog down")}
	src := NewCachedSource(inner, cache.NewMemoryClient(16), nil, time.Minute)
	ctx := context.Background()

	_, err := src.FetchByQuery(ctx, "shop-1", "suit", 10)
	require.Error(t, err)

	inner.err = nil
	inner.pool = NormalizeAll(snapshotPool())
	got, err := src.FetchByQuery(ctx, "shop-1", "suit", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, inner.queries)
}

func TestCachedSourceDelegatesFilter(t *testing.T) {
	inner := &countingSource{pool: NormalizeAll(snapshotPool())}
	src := NewCachedSource(inner, cache.NewMemoryClient(16), nil, 0)

	got, err := src.FetchByFilter(context.Background(), "shop-1", 0, "")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 0, inner.queries)
}

func idsOfCandidates(cands []Candidate) []string {
	ids := make([]string, len(cands))
	for i := range cands {
		ids[i] = cands[i].ID
	}
	return ids
}
