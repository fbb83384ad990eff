// Package ratelimit provides Redis-based rate limiting for the upload and
// download endpoints, per IP address, using a fixed-window INCR/EXPIRE
// counter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when an identifier has exceeded its window limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter rate-limits requests using Redis. A nil *redis.Client (Redis
// unreachable or not configured) makes every check fail-open, trading rate
// limiting for availability rather than rejecting traffic because an
// ancillary dependency is down.
type Limiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// NewLimiter returns a Limiter allowing up to limit requests per window per
// identifier (endpoint, IP). redis may be nil.
func NewLimiter(redis *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{redis: redis, limit: limit, window: window}
}

// Allow checks and increments the request counter for (endpoint, ip).
// Returns ErrRateLimited if the window's limit has been exceeded.
func (l *Limiter) Allow(ctx context.Context, endpoint, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s", endpoint, ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[RateLimit] redis unavailable, failing open: %v", err)
		return nil
	}
	if count == 1 {
		l.redis.Expire(ctx, key, l.window)
	}
	if int(count) > l.limit {
		return ErrRateLimited
	}
	return nil
}

// RetryAfter returns the Retry-After header value (seconds) to report
// alongside a 429 response.
func (l *Limiter) RetryAfter() int {
	return int(l.window.Seconds())
}
