package proxy

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, minCount, maxCount int, perProxyRPS float64) *Pool {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "engine", minCount, maxCount, perProxyRPS)
}

func TestPoolGetRefillsFromRedisWhenCacheEmpty(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1, 10, 0)

	require.NoError(t, p.Seed(ctx, []string{"http://proxy-a:8080", "http://proxy-b:8080"}))

	got, err := p.Get(ctx)
	require.NoError(t, err)
	require.Contains(t, []string{"http://proxy-a:8080", "http://proxy-b:8080"}, got)
}

func TestPoolGetErrorsWithNoProxiesSeeded(t *testing.T) {
	p := newTestPool(t, 1, 10, 0)
	_, err := p.Get(context.Background())
	require.Error(t, err)
}

func TestPoolGetRoundRobinsOverCache(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1, 10, 0)
	require.NoError(t, p.Seed(ctx, []string{"http://a", "http://b"}))
	require.NoError(t, p.Refill(ctx))

	first, err := p.Get(ctx)
	require.NoError(t, err)
	second, err := p.Get(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second, "two consecutive Gets should round-robin to different proxies")

	third, err := p.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, first, third, "round-robin should wrap back to the first proxy")
}

func TestPoolInvalidateRemovesFromCacheAndCanonicalSet(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1, 10, 0)
	require.NoError(t, p.Seed(ctx, []string{"http://a", "http://b"}))
	require.NoError(t, p.Refill(ctx))

	require.NoError(t, p.Invalidate(ctx, "http://a", "banned"))

	size, err := p.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)

	for i := 0; i < 5; i++ {
		got, err := p.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, "http://b", got)
	}
}

func TestPoolSizeReflectsCanonicalSet(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1, 10, 0)

	size, err := p.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, size)

	require.NoError(t, p.Seed(ctx, []string{"http://a", "http://b", "http://c"}))

	size, err = p.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, size)
}
