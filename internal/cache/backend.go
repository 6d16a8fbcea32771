package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// maxReconnectAttempts bounds the reconnection policy. Once exceeded the
// backend is marked permanently unavailable for the process lifetime and
// every cache operation becomes a no-op/miss.
const maxReconnectAttempts = 10

// Backend wraps the Redis connection with an availability flag. The cache
// is an optimization, never a dependency for correctness: callers check
// Available() and treat a false result as a miss.
type Backend struct {
	client *redis.Client
	logger zerolog.Logger

	available    atomic.Bool
	permanent    atomic.Bool
	reconnecting atomic.Bool
}

// NewBackend connects to Redis. A failed initial connection does not
// return an error; the backend starts degraded and the reconnect loop
// takes over.
func NewBackend(ctx context.Context, redisURL string, logger zerolog.Logger) (*Backend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		client: redis.NewClient(opts),
		logger: logger.With().Str("component", "cache").Logger(),
	}

	if err := b.client.Ping(ctx).Err(); err != nil {
		b.logger.Warn().Err(err).Msg("redis unreachable at startup, degrading to store-only reads")
		b.Fail(err)
	} else {
		b.available.Store(true)
	}

	return b, nil
}

// NewBackendFromClient wraps an existing client, marked available. Used by
// tests and by callers that manage the client themselves.
func NewBackendFromClient(client *redis.Client, logger zerolog.Logger) *Backend {
	b := &Backend{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
	}
	b.available.Store(true)
	return b
}

// Available reports whether cache operations should be attempted.
func (b *Backend) Available() bool {
	return b != nil && b.available.Load() && !b.permanent.Load()
}

// Client returns the underlying Redis client.
func (b *Backend) Client() *redis.Client {
	return b.client
}

// Ping checks the Redis connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Fail records an operation failure, takes the backend offline and starts
// a single bounded reconnect loop. Safe to call from any goroutine.
func (b *Backend) Fail(err error) {
	if b.permanent.Load() {
		return
	}
	b.available.Store(false)
	if !b.reconnecting.CompareAndSwap(false, true) {
		return
	}

	b.logger.Warn().Err(err).Msg("cache backend failure, attempting reconnect")
	go b.reconnect()
}

func (b *Backend) reconnect() {
	defer b.reconnecting.Store(false)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 3 * time.Second

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return b.client.Ping(ctx).Err()
	}

	err := backoff.Retry(ping, backoff.WithMaxRetries(bo, maxReconnectAttempts))
	if err != nil {
		b.permanent.Store(true)
		b.logger.Error().Err(err).Msg("too many reconnection attempts, cache disabled for process lifetime")
		return
	}

	b.available.Store(true)
	b.logger.Info().Msg("cache backend reconnected")
}
