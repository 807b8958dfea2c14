package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/rank"
)

// fakeService records calls and replays a canned order or error.
type fakeService struct {
	calls int
	order []int
	err   error
}

func (f *fakeService) Rerank(_ context.Context, _ string, documents []string) ([]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.order != nil {
		return f.order, nil
	}
	order := make([]int, len(documents))
	for i := range order {
		order[i] = i
	}
	return order, nil
}

func testWindow(ids ...string) []rank.Scored {
	window := make([]rank.Scored, len(ids))
	for i, id := range ids {
		window[i] = rank.Scored{
			Candidate: catalog.Candidate{ID: id, Title: id + " title", TypeLabel: "Suit"},
			Score:     float64(len(ids) - i),
		}
	}
	return window
}

func windowIDs(window []rank.Scored) []string {
	ids := make([]string, len(window))
	for i := range window {
		ids[i] = window[i].Candidate.ID
	}
	return ids
}

func TestAdapterReordersByExternalRelevance(t *testing.T) {
	svc := &fakeService{order: []int{2, 0, 1}}
	a := NewAdapter(svc, nil)

	out, source, err := a.Rerank(context.Background(), "navy suit", testWindow("a", "b", "c"))

	require.NoError(t, err)
	assert.Equal(t, SourceExternal, source)
	assert.Equal(t, []string{"c", "a", "b"}, windowIDs(out))
	assert.Equal(t, 1, svc.calls)
	assert.True(t, a.Spent())
}

func TestAdapterCallsServiceAtMostOnce(t *testing.T) {
	svc := &fakeService{}
	a := NewAdapter(svc, nil)

	_, first, err := a.Rerank(context.Background(), "q", testWindow("a", "b"))
	require.NoError(t, err)
	out, second, err := a.Rerank(context.Background(), "q", testWindow("b", "a"))
	require.NoError(t, err)

	assert.Equal(t, SourceExternal, first)
	assert.Equal(t, SourceLocal, second)
	assert.Equal(t, []string{"b", "a"}, windowIDs(out), "second call keeps local order")
	assert.Equal(t, 1, svc.calls)
}

func TestAdapterFallsBackOnServiceError(t *testing.T) {
	svc := &fakeService{err: errors.New("upstream timeout")}
	a := NewAdapter(svc, nil)

	out, source, err := a.Rerank(context.Background(), "q", testWindow("a", "b", "c"))

	// The error is advisory: the local order is still returned and the call
	// budget is spent so a retry cannot double-bill the session.
	assert.Error(t, err)
	assert.Equal(t, SourceFallback, source)
	assert.Equal(t, []string{"a", "b", "c"}, windowIDs(out))
	assert.True(t, a.Spent())
}

func TestAdapterWithoutService(t *testing.T) {
	a := NewAdapter(nil, nil)

	out, source, err := a.Rerank(context.Background(), "q", testWindow("a", "b"))

	require.NoError(t, err)
	assert.Equal(t, SourceLocal, source)
	assert.Equal(t, []string{"a", "b"}, windowIDs(out))
	assert.False(t, a.Spent(), "no service means no budget spent")
}

func TestAdapterEmptyWindow(t *testing.T) {
	svc := &fakeService{}
	a := NewAdapter(svc, nil)

	out, source, err := a.Rerank(context.Background(), "q", nil)

	require.NoError(t, err)
	assert.Equal(t, SourceLocal, source)
	assert.Empty(t, out)
	assert.Equal(t, 0, svc.calls)
}

func TestRerankDocument(t *testing.T) {
	full := catalog.Candidate{Title: "Navy Suit", TypeLabel: "Suit", Description: "Two-piece wool."}
	bare := catalog.Candidate{Title: "Navy Suit"}

	assert.Equal(t, "Navy Suit. Suit. Two-piece wool.", rerankDocument(full))
	assert.Equal(t, "Navy Suit", rerankDocument(bare))
}
