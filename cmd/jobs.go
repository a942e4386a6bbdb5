package main

import (
	"context"
	"fmt"
	"time"

	"opswatch/internal/jobs"
	"opswatch/pkg/lock"
	"opswatch/pkg/logger"
	"opswatch/pkg/monitoring/alert"
	"opswatch/pkg/monitoring/health"
	"opswatch/pkg/monitoring/resource"

	"github.com/go-redis/redis/v8"
)

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx, app.metrics)
	mon := app.config.Monitoring

	// Probing and evaluation write shared rows, so with several replicas only one
	// of them should run each tick. Without Redis the locks are skipped entirely.
	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}
	newLock := func(name string, ttl time.Duration) lock.Locker {
		if !mon.UseDistributedJobLocking || redisClient == nil {
			return nil
		}
		return lock.NewRedisLock(redisClient, name, ttl)
	}

	manager.Register(newProberJob(mon.HealthCheckInterval, app.prober, newLock("health-probe", mon.HealthCheckInterval)))
	// every host samples itself
	manager.Register(newSamplerJob(mon.MetricsInterval, app.sampler))
	manager.Register(newEvaluatorJob(mon.AlertCheckInterval, app.evaluator, newLock("alert-evaluation", mon.AlertCheckInterval)))

	app.jobsManager = manager
	return nil
}

// runLocked runs fn while holding l. A tick whose lock is held elsewhere is skipped.
func runLocked(ctx context.Context, l lock.Locker, name string, fn func(context.Context) error) error {
	if l != nil {
		acquired, err := l.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running %s, skipping this cycle", name)
			return nil
		}
		defer func() {
			if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
				logger.WarnCtx(ctx, "failed to release %s lock: %v", name, err)
			}
		}()
	}
	return fn(ctx)
}

// proberJob checks every configured service.
type proberJob struct {
	interval        time.Duration
	prober          *health.Prober
	distributedLock lock.Locker
}

func newProberJob(interval time.Duration, prober *health.Prober, l lock.Locker) jobs.Job {
	return &proberJob{
		interval:        interval,
		prober:          prober,
		distributedLock: l,
	}
}

func (j *proberJob) Name() string {
	return "health-probe"
}

func (j *proberJob) Interval() time.Duration {
	return j.interval
}

func (j *proberJob) Run(ctx context.Context) error {
	if j.prober == nil {
		return fmt.Errorf("health prober not configured")
	}
	return runLocked(ctx, j.distributedLock, j.Name(), j.prober.Tick)
}

// samplerJob records one resource sample for this host.
type samplerJob struct {
	interval time.Duration
	sampler  *resource.Sampler
}

func newSamplerJob(interval time.Duration, sampler *resource.Sampler) jobs.Job {
	return &samplerJob{interval: interval, sampler: sampler}
}

func (j *samplerJob) Name() string {
	return "resource-sample"
}

func (j *samplerJob) Interval() time.Duration {
	return j.interval
}

func (j *samplerJob) Run(ctx context.Context) error {
	if j.sampler == nil {
		return fmt.Errorf("resource sampler not configured")
	}
	return j.sampler.Tick(ctx)
}

// evaluatorJob runs the alert rules and auto-resolution.
type evaluatorJob struct {
	interval        time.Duration
	evaluator       *alert.Evaluator
	distributedLock lock.Locker
}

func newEvaluatorJob(interval time.Duration, evaluator *alert.Evaluator, l lock.Locker) jobs.Job {
	return &evaluatorJob{
		interval:        interval,
		evaluator:       evaluator,
		distributedLock: l,
	}
}

func (j *evaluatorJob) Name() string {
	return "alert-evaluation"
}

func (j *evaluatorJob) Interval() time.Duration {
	return j.interval
}

func (j *evaluatorJob) Run(ctx context.Context) error {
	if j.evaluator == nil {
		return fmt.Errorf("alert evaluator not configured")
	}
	return runLocked(ctx, j.distributedLock, j.Name(), j.evaluator.Tick)
}
