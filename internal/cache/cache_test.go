package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolvePayload struct {
	UKN  string `json:"ukn"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, ttl), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	key := ResolveKey("inst-1", "KYC-1111-2222-3333", "account_opening")
	require.NoError(t, c.Set(ctx, key, resolvePayload{UKN: "KYC-1111-2222-3333", Name: "Jane Roe"}))

	var got resolvePayload
	hit, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Jane Roe", got.Name)
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	var got resolvePayload
	hit, err := c.Get(context.Background(), "resolve:none", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestEntryExpires(t *testing.T) {
	c, mr := newTestCache(t, time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", resolvePayload{Name: "x"}))
	mr.FastForward(2 * time.Second)

	var got resolvePayload
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", resolvePayload{Name: "x"}))
	require.NoError(t, c.Delete(ctx, "k"))

	var got resolvePayload
	hit, _ := c.Get(ctx, "k", &got)
	assert.False(t, hit)
}

func TestNilCacheIsMissAndNoop(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	var got resolvePayload
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, c.Set(ctx, "k", got))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Close())
}
