package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64) *RedisTokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	return &RedisTokenBucket{
		Redis:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Prefix:     "ledger_api",
		Capacity:   capacity,
		RefillRate: refill,
	}
}

func TestTokenBucketExhausts(t *testing.T) {
	bucket := newBucket(t, 2, 0.001)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := bucket.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i)
	}

	allowed, err := bucket.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different key has its own bucket.
	allowed, err = bucket.Allow(ctx, "ip:10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestTokenBucketDisabledWithoutRedis(t *testing.T) {
	bucket := &RedisTokenBucket{}
	allowed, err := bucket.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	bucket := newBucket(t, 1, 0.001)

	handler := RateLimitMiddleware(bucket, func(r *http.Request) string {
		return "ip:test"
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	bucket := &RedisTokenBucket{
		Redis:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Capacity:   1,
		RefillRate: 1,
	}
	mr.Close()

	handler := RateLimitMiddleware(bucket, func(r *http.Request) string {
		return "ip:test"
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
