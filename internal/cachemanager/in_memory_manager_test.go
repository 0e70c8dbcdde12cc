package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type statusKey string

func TestInMemoryCacheManager_SetAndGet(t *testing.T) {
	cache := NewInMemoryCacheManager[statusKey, string]("status", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "worker|phase|1", "running", DefaultExpiration)

	got, ok := cache.Get(context.Background(), "worker|phase|1")
	require.True(t, ok)
	require.Equal(t, "running", got)
}

func TestInMemoryCacheManager_GetMissing(t *testing.T) {
	cache := NewInMemoryCacheManager[statusKey, string]("status", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "missing")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWrongType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("status", DefaultExpiration, DefaultCleanupInterval)
	cache.cache.Set("phase", 123, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "phase")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_AddOnlyOnce(t *testing.T) {
	cache := NewInMemoryCacheManager[statusKey, struct{}]("dedupe", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	require.True(t, cache.Add(ctx, "a|b|1", struct{}{}, time.Minute))
	require.False(t, cache.Add(ctx, "a|b|1", struct{}{}, time.Minute))
	require.True(t, cache.Add(ctx, "a|b|2", struct{}{}, time.Minute))
	require.Equal(t, 2, cache.Len())
}

func TestInMemoryCacheManager_AddAfterExpiry(t *testing.T) {
	cache := NewInMemoryCacheManager[statusKey, struct{}]("dedupe", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	require.True(t, cache.Add(ctx, "k", struct{}{}, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	require.True(t, cache.Add(ctx, "k", struct{}{}, time.Minute), "expired keys can be added again")
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	cache := NewInMemoryCacheManager[statusKey, string]("status", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()
	cache.Set(ctx, "a", "1", DefaultExpiration)
	cache.Set(ctx, "b", "2", DefaultExpiration)

	require.NoError(t, cache.Delete(ctx))
	require.NoError(t, cache.Delete(ctx, "a"))
	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)

	require.NoError(t, cache.Flush(ctx))
	require.Zero(t, cache.Len())
}
