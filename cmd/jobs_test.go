package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"opswatch/pkg/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLocked_WithoutLockRunsTick(t *testing.T) {
	called := false
	err := runLocked(context.Background(), nil, "tick", func(context.Context) error {
		called = true
		return errors.New("boom")
	})
	assert.True(t, called)
	assert.EqualError(t, err, "boom")
}

func TestRunLocked_SkipsWhileAnotherReplicaHoldsLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	holder := lock.NewRedisLock(client, "alert-evaluation", time.Minute)
	acquired, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	contender := lock.NewRedisLock(client, "alert-evaluation", time.Minute)
	called := false
	require.NoError(t, runLocked(ctx, contender, "alert-evaluation", func(context.Context) error {
		called = true
		return nil
	}))
	assert.False(t, called)

	require.NoError(t, holder.Unlock(ctx))
	require.NoError(t, runLocked(ctx, contender, "alert-evaluation", func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.False(t, contender.IsHeld(), "lock released after the tick")
	assert.False(t, mr.Exists(contender.Key()))
}

func TestJobs_RequireTheirComponent(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, newProberJob(time.Second, nil, nil).Run(ctx))
	assert.Error(t, newSamplerJob(time.Second, nil).Run(ctx))
	assert.Error(t, newEvaluatorJob(time.Second, nil, nil).Run(ctx))

	assert.Equal(t, "health-probe", newProberJob(time.Second, nil, nil).Name())
	assert.Equal(t, 2*time.Second, newSamplerJob(2*time.Second, nil).Interval())
}
