// Package ratelimit bounds concurrent job executions per destination
// across the worker cluster using Redis sets.
package ratelimit

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const defaultLimit = 10

// ClaimInflight records an execution id in the per-destination inflight
// SET. Using a SET (not a counter) means release is idempotent — a
// crashed worker or double-release can never push the count negative.
func ClaimInflight(ctx context.Context, rc *redis.Client, destination, execID string) error {
	return rc.SAdd(ctx, InflightSetKey(destination), execID).Err()
}

// ReleaseInflight removes an execution id from the inflight SET. Safe
// to call multiple times.
func ReleaseInflight(ctx context.Context, rc *redis.Client, destination, execID string) error {
	return rc.SRem(ctx, InflightSetKey(destination), execID).Err()
}

func InflightCount(ctx context.Context, rc *redis.Client, destination string) (int64, error) {
	return rc.SCard(ctx, InflightSetKey(destination)).Result()
}

// ConcurrencyLimit returns the configured limit for a destination, or
// the default when none is set.
func ConcurrencyLimit(ctx context.Context, rc *redis.Client, destination string) (int64, error) {
	v, err := rc.Get(ctx, ConcurrencyLimitKey(destination)).Int64()
	if err == redis.Nil {
		return defaultLimit, nil
	}
	return v, err
}

// SetConcurrencyLimit lets operators tune a destination at runtime.
func SetConcurrencyLimit(ctx context.Context, rc *redis.Client, destination string, limit int64) error {
	return rc.Set(ctx, ConcurrencyLimitKey(destination), limit, 0).Err()
}

// CanClaim reports whether the destination has capacity for one more
// execution. There is a TOCTOU window between this check and the SADD
// in ClaimInflight; overshoot is bounded by worker count and accepted.
func CanClaim(ctx context.Context, rc *redis.Client, destination string) (bool, error) {
	limit, err := ConcurrencyLimit(ctx, rc, destination)
	if err != nil {
		return false, err
	}
	inflight, err := InflightCount(ctx, rc, destination)
	if err != nil {
		return false, err
	}
	return inflight < limit, nil
}
