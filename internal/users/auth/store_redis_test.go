// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/kotoba/internal/users/auth"
)

func newRedisLimiter(t *testing.T, maxAttempts int, window time.Duration) (*auth.RedisLoginLimiter, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return auth.NewLoginLimiter(client, maxAttempts, window), server
}

func TestRedisLoginLimiter_LocksOutAfterMaxAttempts(t *testing.T) {
	limiter, server := newRedisLimiter(t, 3, 15*time.Minute)
	ctx := context.Background()
	key := "203.0.113.10:alice"

	for range 2 {
		require.NoError(t, limiter.RecordFailure(ctx, key))
	}
	retryAfter, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, retryAfter)

	require.NoError(t, limiter.RecordFailure(ctx, key))
	retryAfter, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, retryAfter)

	// Other keys are unaffected.
	retryAfter, err = limiter.Allow(ctx, "203.0.113.10:bob")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)

	server.FastForward(16 * time.Minute)

	retryAfter, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, retryAfter)
}

func TestRedisLoginLimiter_FailureExtendsWindow(t *testing.T) {
	limiter, server := newRedisLimiter(t, 5, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.RecordFailure(ctx, "k"))
	server.FastForward(6 * time.Minute)
	require.NoError(t, limiter.RecordFailure(ctx, "k"))

	assert.Equal(t, 10*time.Minute, server.TTL("auth:login_attempts:k"))
}

func TestRedisLoginLimiter_Reset(t *testing.T) {
	limiter, server := newRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.RecordFailure(ctx, "k"))
	retryAfter, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.Positive(t, retryAfter)

	require.NoError(t, limiter.Reset(ctx, "k"))
	assert.False(t, server.Exists("auth:login_attempts:k"))

	retryAfter, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)
}

func TestRedisLoginLimiter_BackendDown(t *testing.T) {
	limiter, server := newRedisLimiter(t, 1, time.Minute)
	server.Close()

	_, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, limiter.RecordFailure(context.Background(), "k"))
}
