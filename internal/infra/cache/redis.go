package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock реализует domain.RunLocker через SET NX.
type RedisLock struct {
	client *redis.Client
}

// NewRedisLock создаёт блокировку.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

// Acquire пытается занять ключ. TTL страхует от процесса, упавшего
// без Release.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, "1", ttl).Result()
}

// Release снимает блокировку.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}
