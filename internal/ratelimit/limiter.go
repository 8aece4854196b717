// Package ratelimit implements a fixed-window request limiter backed by Redis.
//
// Each key gets a counter that expires at the end of its window. The first
// hit in a window sets the expiry, so the window starts at that hit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var (
	// ErrLimited is returned by Allow when the caller is over budget.
	ErrLimited = errors.New("ratelimit: too many requests")

	// ErrUnavailable wraps Redis failures. Callers decide whether to fail open.
	ErrUnavailable = errors.New("ratelimit: limiter unavailable")
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows.
type Limiter struct {
	rdb    goredis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// New returns a limiter allowing limit hits per window for each key.
func New(rdb goredis.UniversalClient, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Allow records a hit for key and reports whether it fits in the window.
// A denied hit returns ErrLimited together with the decision.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + ":" + key

	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	if count > int64(l.limit) {
		ttl, err := l.rdb.TTL(ctx, k).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if ttl <= 0 {
			// Expiry lost (e.g. the EXPIRE after INCR failed earlier); repair it.
			ttl = l.window
			l.rdb.Expire(ctx, k, ttl) //nolint:errcheck // repaired on the next hit otherwise
		}
		return Decision{RetryAfter: ttl}, ErrLimited
	}

	return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
}
