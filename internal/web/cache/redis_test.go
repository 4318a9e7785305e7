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

func testCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client, Config{DefaultTTL: time.Minute, Prefix: "strata:"})
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestGetMiss(t *testing.T) {
	c, _ := testCache(t)

	_, ok, err := c.Get(context.Background(), "user|/articles")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetAndGet(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "user|/articles", []string{"articles"}, []byte(`{"data":[]}`)))

	body, ok, err := c.Get(ctx, "user|/articles")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"data":[]}`, string(body))
}

func TestInvalidateDropsEveryKeyOfType(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	// A compound document registers under every type it included.
	require.NoError(t, c.Set(ctx, "a|/articles?include=author", []string{"articles", "people"}, []byte("one")))
	require.NoError(t, c.Set(ctx, "a|/articles/1", []string{"articles"}, []byte("two")))
	require.NoError(t, c.Set(ctx, "a|/tags", []string{"tags"}, []byte("three")))

	// Writing a person invalidates the compound response but not the others.
	require.NoError(t, c.Invalidate(ctx, "people"))

	_, ok, err := c.Get(ctx, "a|/articles?include=author")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, "a|/articles/1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, "articles"))
	_, ok, err = c.Get(ctx, "a|/articles/1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, "a|/tags")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidateUnknownType(t *testing.T) {
	c, _ := testCache(t)
	require.NoError(t, c.Invalidate(context.Background(), "ghosts"))
}

func TestEntriesExpire(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a|/articles", []string{"articles"}, []byte("body")))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "a|/articles")
	require.NoError(t, err)
	assert.False(t, ok)
}
