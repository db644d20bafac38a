package balance

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisLocker serializes sheet generation across processes using redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewRedisLocker constructs a locker. ttl bounds how long a crashed generator
// can hold a key before another worker may proceed; it must cover the longest
// expected generation run, since the lock is not refreshed mid-run.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl}
}

// TTL reports the expiry applied to acquired locks.
func (l *RedisLocker) TTL() time.Duration {
	return l.ttl
}

// Acquire blocks with linear backoff until the key lock is obtained or the
// context expires.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), 240),
	})
	if err != nil {
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}
