package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter throttles message posting per user with a fixed-window
// counter in Redis. When the cache backend is down the limiter allows
// everything: throttling is an optimization with the same propagation
// policy as the rest of the cache path.
type RateLimiter struct {
	backend *Backend
	logger  zerolog.Logger
	limit   int
	window  time.Duration
}

// NewRateLimiter creates a per-user rate limiter.
func NewRateLimiter(backend *Backend, limit int, window time.Duration, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		backend: backend,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		limit:   limit,
		window:  window,
	}
}

func rateLimitKey(userID int64) string {
	return fmt.Sprintf("ratelimit:msg:%d", userID)
}

// Allow increments the user's counter and reports whether the post is
// within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, userID int64) bool {
	if !rl.backend.Available() {
		return true
	}

	key := rateLimitKey(userID)

	pipe := rl.backend.Client().Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.backend.Fail(err)
		return true
	}

	return incr.Val() <= int64(rl.limit)
}
