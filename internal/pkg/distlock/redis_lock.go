package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock provides distributed locking via Redis using SET NX with TTL.
// The random ownership value keeps one process from releasing another's lock.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// NewRedisLock creates a new distributed lock backed by Redis.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to acquire the lock. Returns true if successful.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release releases the lock only if we still own it.
func (l *RedisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
