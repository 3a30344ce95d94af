// Package ratelimit implements the Rate Limiter (C6): a per-user rolling
// window admission cap backed by a Redis sorted set, one member per
// accepted submission scored by its timestamp.
//
// Grounded on the teacher's internal/quota/quota.go CheckAndConsume shape,
// with the check and the record done together in one atomic script and
// Release to hand a slot back if the caller's write fails, retargeted from its Postgres per-API-key quota row to the rolling-
// window sorted-set pattern used for admission control elsewhere in the
// pack.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snappy-loop/videosynth/internal/apperr"
)

const keyPrefix = "ratelimit:"

// Limiter caps submissions per user within a rolling window.
type Limiter struct {
	rdb    redis.UniversalClient
	window time.Duration
	limit  int
}

// New creates a Limiter allowing up to limit submissions per window,
// per user.
func New(rdb redis.UniversalClient, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, window: window, limit: limit}
}

func key(user string) string { return keyPrefix + user }

// checkScript evicts entries older than the window, counts what remains,
// and — only if under the limit — records this attempt, all atomically
// so concurrent submissions from the same user can't both slip through
// between a separate check and record.
const checkScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, ttl)
return 1
`

// Allow records one submission attempt for user, returning
// apperr.ErrRateLimited if the user is already at the window's cap. The
// returned token identifies the slot just consumed; pass it to Release if
// the caller fails to actually create the job so the attempt isn't
// counted against the user's window.
func (l *Limiter) Allow(ctx context.Context, user string) (string, error) {
	now := time.Now()
	windowStart := now.Add(-l.window).UnixNano()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), user)

	res, err := l.rdb.Eval(ctx, checkScript,
		[]string{key(user)},
		now.UnixNano(), windowStart, l.limit, member, int(l.window.Seconds())+1,
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}

	allowed, _ := res.(int64)
	if allowed == 0 {
		return "", apperr.ErrRateLimited
	}
	return member, nil
}

// Release undoes a slot previously consumed by Allow, for callers that
// reserve a slot before an operation that can still fail (e.g. the job
// record failing to persist) and want that failed attempt to not count
// against the user's window.
func (l *Limiter) Release(ctx context.Context, user, token string) error {
	if token == "" {
		return nil
	}
	if err := l.rdb.ZRem(ctx, key(user), token).Err(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

// Remaining reports how many submissions the user has left in the
// current window, for surfacing in API responses.
func (l *Limiter) Remaining(ctx context.Context, user string) (int, error) {
	windowStart := time.Now().Add(-l.window).UnixNano()
	if err := l.rdb.ZRemRangeByScore(ctx, key(user), "-inf", fmt.Sprintf("%d", windowStart)).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	count, err := l.rdb.ZCard(ctx, key(user)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
