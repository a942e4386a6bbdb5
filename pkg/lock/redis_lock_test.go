package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLock_SingleInstance(t *testing.T) {
	_, client := newClient(t)
	lock := NewRedisLock(client, "evaluator", time.Minute)
	ctx := context.Background()

	acquired, err := lock.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.IsHeld())

	require.NoError(t, lock.Unlock(ctx))
	assert.False(t, lock.IsHeld())
}

func TestRedisLock_MultipleInstances(t *testing.T) {
	_, client := newClient(t)
	lock1 := NewRedisLock(client, "prober", time.Minute)
	lock2 := NewRedisLock(client, "prober", time.Minute)
	ctx := context.Background()

	acquired1, err := lock1.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired1)

	acquired2, err := lock2.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired2, "second lock should not be acquired")

	// unlocking a lock we never got must not release the owner's key
	require.NoError(t, lock2.Unlock(ctx))
	acquired2, err = lock2.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired2)

	require.NoError(t, lock1.Unlock(ctx))
	acquired2, err = lock2.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired2, "second lock should be acquired after first release")
	require.NoError(t, lock2.Unlock(ctx))
}

func TestRedisLock_AutoExpire(t *testing.T) {
	mr, client := newClient(t)
	lock1 := NewRedisLock(client, "sampler", 2*time.Second)
	lock2 := NewRedisLock(client, "sampler", 2*time.Second)
	ctx := context.Background()

	acquired, err := lock1.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	mr.FastForward(3 * time.Second)

	acquired, err = lock2.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired, "expired lock should be acquirable")

	ok, err := lock1.Extend(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "lost lock cannot be extended")
	assert.False(t, lock1.IsHeld())
}

func TestRedisLock_Extend(t *testing.T) {
	mr, client := newClient(t)
	lock := NewRedisLock(client, "evaluator", 2*time.Second)
	ctx := context.Background()

	_, err := lock.TryLock(ctx)
	require.NoError(t, err)

	mr.FastForward(time.Second)
	ok, err := lock.Extend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(1500 * time.Millisecond)
	assert.True(t, mr.Exists(lock.Key()))
}

func TestRedisLock_NilClient(t *testing.T) {
	lock := NewRedisLock(nil, "evaluator", time.Minute)
	ctx := context.Background()

	acquired, err := lock.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, lock.Unlock(ctx))
	assert.False(t, lock.IsHeld())
}
