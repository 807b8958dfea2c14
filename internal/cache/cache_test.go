package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientSetGet(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryClientMiss(t *testing.T) {
	c := NewMemoryClient(10)

	_, err := c.Get(context.Background(), "absent")

	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientExpiry(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientDelete(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientEvictsOldest(t *testing.T) {
	c := NewMemoryClient(2)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "old", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "new", []byte("2"), 2*time.Minute))
	require.NoError(t, c.Set(ctx, "newer", []byte("3"), 3*time.Minute))

	_, err := c.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err := c.Get(ctx, "newer")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "a:b:c", Key("a", "b", "c"))
	assert.Equal(t, "shop:s1:search:navy suit", SearchKey("s1", "navy suit"))
	assert.Equal(t, "shop:s1:syn:suit", SynonymKey("s1", "suit"))
}
