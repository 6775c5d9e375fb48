// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/kotoba/internal/platform/constants"
)

// RedisLoginLimiter implements LoginLimiter with a counter per key.
//
// Each failure increments the counter and pushes its expiry out to the full
// window, so a steady trickle of guesses keeps the key locked.
type RedisLoginLimiter struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
}

// NewLoginLimiter creates a Redis-backed LoginLimiter.
func NewLoginLimiter(client *redis.Client, maxAttempts int, window time.Duration) *RedisLoginLimiter {
	return &RedisLoginLimiter{
		client:      client,
		maxAttempts: int64(maxAttempts),
		window:      window,
	}
}

/*
Allow returns the remaining lockout for the key, or zero when attempts remain.

Returns:
  - time.Duration: Remaining lockout
  - error: Connectivity errors
*/
func (limiter *RedisLoginLimiter) Allow(ctx context.Context, key string) (time.Duration, error) {
	redisKey := constants.RedisPrefixLoginAttempts + key

	attempts, err := limiter.client.Get(ctx, redisKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis_login_limiter_get_failed: %w", err)
	}

	if attempts < limiter.maxAttempts {
		return 0, nil
	}

	remaining, err := limiter.client.TTL(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis_login_limiter_ttl_failed: %w", err)
	}

	// A key without expiry should not exist; fall back to the full window.
	if remaining <= 0 {
		return limiter.window, nil
	}

	return remaining, nil
}

/*
RecordFailure counts one failed attempt and restarts the window.
*/
func (limiter *RedisLoginLimiter) RecordFailure(ctx context.Context, key string) error {
	redisKey := constants.RedisPrefixLoginAttempts + key

	_, err := limiter.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, limiter.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis_login_limiter_incr_failed: %w", err)
	}

	return nil
}

/*
Reset clears the counter after a successful login.
*/
func (limiter *RedisLoginLimiter) Reset(ctx context.Context, key string) error {
	redisKey := constants.RedisPrefixLoginAttempts + key

	if err := limiter.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("redis_login_limiter_del_failed: %w", err)
	}

	return nil
}
