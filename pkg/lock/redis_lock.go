// Package lock provides a Redis lock that lets only one replica run a periodic job tick.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"opswatch/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	keyPrefix          = "opswatch:lock:"
	lockAcquireTimeout = 5 * time.Second
)

// only delete or extend the lock while we still own it
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

const extendScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// Locker is a mutual exclusion lock shared across replicas
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisLock implements Locker with SET NX PX. A nil client means single-instance
// mode where TryLock always succeeds.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration

	mu     sync.Mutex
	isHeld bool
}

// NewRedisLock creates a lock named name whose ownership expires after ttl unless extended
func NewRedisLock(client *redis.Client, name string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    keyPrefix + name,
		value:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Key returns the Redis key guarding the lock
func (l *RedisLock) Key() string {
	return l.key
}

// TryLock attempts to acquire the lock without waiting for it
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		l.setHeld(true)
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.setHeld(acquired)
	if !acquired {
		logger.DebugCtx(ctx, "lock %s already held by another instance", l.key)
	}
	return acquired, nil
}

// Extend pushes the expiry of a held lock out by another ttl
func (l *RedisLock) Extend(ctx context.Context) (bool, error) {
	if l.client == nil {
		return l.IsHeld(), nil
	}
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock %s: %w", l.key, err)
	}
	if result == 0 {
		l.setHeld(false)
		return false, nil
	}
	return true, nil
}

// Unlock releases the lock if this instance still owns it
func (l *RedisLock) Unlock(ctx context.Context) error {
	if !l.IsHeld() {
		return nil
	}
	l.setHeld(false)
	if l.client == nil {
		return nil
	}

	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if result == 0 {
		logger.WarnCtx(ctx, "lock %s was already released or held by another instance", l.key)
	}
	return nil
}

// IsHeld reports whether this instance believes it owns the lock
func (l *RedisLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isHeld
}

func (l *RedisLock) setHeld(held bool) {
	l.mu.Lock()
	l.isHeld = held
	l.mu.Unlock()
}
