package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix     = "carrierbridge:lock:"
	defaultLockTTL     = 2 * time.Minute
	defaultRetryPeriod = 50 * time.Millisecond
	releaseTimeout     = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-taken by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared between processes. A lock is a key set with
// NX and a TTL; the TTL must outlast the longest carrier call it guards.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	logger *otelzap.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets how long an unreleased lock survives.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

// WithRetryPeriod sets how often a waiter polls for a held lock.
func WithRetryPeriod(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.retry = d }
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, logger *otelzap.Logger, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		ttl:    defaultLockTTL,
		retry:  defaultRetryPeriod,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock takes the lock for key, polling until it is free or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return l.release(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(redisKey, token) })
	}
}

func (l *RedisLocker) unlock(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.logger.Warn("Failed to release idempotency lock",
			zap.String("key", redisKey),
			zap.Error(err),
		)
	}
}

var _ Locker = (*RedisLocker)(nil)
