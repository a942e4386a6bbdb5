package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"opswatch/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type funcJob struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Interval() time.Duration       { return j.interval }
func (j *funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestManagerRunsImmediatelyThenOnInterval(t *testing.T) {
	var runs atomic.Int32
	m := NewManager(context.Background(), nil)
	m.Register(&funcJob{name: "count", interval: 10 * time.Millisecond, run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	m.Register(nil)
	assert.Equal(t, []string{"count"}, m.Jobs())

	m.Start()
	m.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Wait()
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no runs after stop")
}

func TestManagerSurvivesPanicsAndErrors(t *testing.T) {
	var runs atomic.Int32
	reg := metrics.NewRegistry()
	m := NewManager(context.Background(), reg)
	m.panicBackoff = time.Millisecond

	m.Register(&funcJob{name: "flaky", interval: 5 * time.Millisecond, run: func(context.Context) error {
		n := runs.Add(1)
		switch n {
		case 1:
			panic("first tick blows up")
		case 2:
			return errors.New("second tick fails")
		}
		return nil
	}})

	m.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 4 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Wait()

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.JobRunsTotal.WithLabelValues("flaky", "panic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.JobRunsTotal.WithLabelValues("flaky", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(reg.JobRunsTotal.WithLabelValues("flaky", "success")), 2.0)
}

func TestManagerStopCancelsRunningJob(t *testing.T) {
	m := NewManager(context.Background(), nil)
	started := make(chan struct{})
	m.Register(&funcJob{name: "block", interval: time.Hour, run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})

	m.Start()
	<-started
	m.Stop()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}
