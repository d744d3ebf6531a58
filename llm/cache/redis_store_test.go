package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigate/llm"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	e := &Entry{
		ID:        "abc",
		Scope:     "scope",
		Embedding: []float64{0.1, 0.2},
		Request:   &llm.Request{Feature: llm.FeatureClarity, Prompt: "p", UserID: "u"},
		Response:  &llm.Response{Text: "t", ProviderName: "openai"},
		CreatedAt: time.Now(),
		TTL:       time.Hour,
	}
	require.NoError(t, s.Put(ctx, e))
	assert.True(t, mr.Exists(redisKeyPrefix+"abc"))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL(redisKeyPrefix+"abc").Seconds(), 2)

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "t", got.Response.Text)
	assert.Equal(t, time.Hour, got.TTL)

	require.NoError(t, s.Delete(ctx, "abc"))
	_, err = s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRedisStore_ExpiresNatively(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Entry{ID: "x", CreatedAt: time.Now(), TTL: time.Minute}))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRedisStore_SkipsAlreadyExpired(t *testing.T) {
	s, mr := newRedisStore(t)
	require.NoError(t, s.Put(context.Background(), &Entry{ID: "old", CreatedAt: time.Now().Add(-time.Hour), TTL: time.Minute}))
	assert.False(t, mr.Exists(redisKeyPrefix+"old"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, err = NewRedisStore(rdb).Get(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEntryNotFound)
}
