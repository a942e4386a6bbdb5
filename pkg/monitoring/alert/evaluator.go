// Package alert turns stored telemetry into deduplicated alerts and retires
// alerts whose cause has cleared.
package alert

import (
	"context"
	"runtime/debug"
	"strconv"
	"time"

	"opswatch/pkg/config"
	"opswatch/pkg/logger"
	"opswatch/pkg/metrics"
	"opswatch/pkg/store/mysql"
	"opswatch/pkg/store/mysql/model"

	"golang.org/x/sync/errgroup"
)

// Candidate is an alert a rule wants to raise
type Candidate struct {
	Key           string
	Component     string
	ComponentName string
	Title         string
	Message       string
	Severity      int
	Metadata      map[string]interface{}
}

type rule struct {
	name string
	eval func(ctx context.Context, now time.Time) error
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithClock replaces the evaluation clock
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// Evaluator runs the rule battery and the auto-resolution pass once per tick
type Evaluator struct {
	repo       *mysql.Repository
	thresholds config.ThresholdConfig
	monitoring config.MonitoringConfig
	cooldown   *Cooldown
	metrics    *metrics.Registry
	now        func() time.Time
}

// NewEvaluator creates an evaluator sharing cooldown across ticks
func NewEvaluator(repo *mysql.Repository, thresholds config.ThresholdConfig, monitoring config.MonitoringConfig, cooldown *Cooldown, reg *metrics.Registry, opts ...Option) *Evaluator {
	e := &Evaluator{
		repo:       repo,
		thresholds: thresholds,
		monitoring: monitoring,
		cooldown:   cooldown,
		metrics:    reg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cooldown returns the evaluator's cooldown cache
func (e *Evaluator) Cooldown() *Cooldown {
	return e.cooldown
}

// Tick evaluates every rule concurrently, then auto-resolves recovered model alerts.
// A failing rule is logged and never stops the others.
func (e *Evaluator) Tick(ctx context.Context) error {
	now := e.now()
	e.runRules(ctx, now, e.rules())

	if err := e.autoResolve(ctx, now); err != nil {
		logger.ErrorCtx(ctx, "alert auto-resolution failed: %v", err)
	}
	e.cooldown.Prune(now)
	return ctx.Err()
}

func (e *Evaluator) rules() []rule {
	return []rule{
		{name: "service_health", eval: e.checkServiceHealth},
		{name: "api_error_rate", eval: e.checkErrorRates},
		{name: "system_resources", eval: e.checkResources},
		{name: "slow_functionality", eval: e.checkSlowFunctionality},
		{name: "consecutive_errors", eval: e.checkConsecutiveErrors},
	}
}

func (e *Evaluator) runRules(ctx context.Context, now time.Time, rules []rule) {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range rules {
		r := r
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					logger.ErrorCtx(gctx, "alert rule %s panicked: %v\nstack:\n%s", r.name, p, string(debug.Stack()))
				}
			}()
			if err := r.eval(gctx, now); err != nil {
				logger.ErrorCtx(gctx, "alert rule %s failed: %v", r.name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// raise persists c unless its signature is cooling down. The cooldown is only
// marked once the insert succeeded.
func (e *Evaluator) raise(ctx context.Context, c Candidate, now time.Time) (bool, error) {
	if e.cooldown.Active(c.Key, now) {
		logger.DebugCtx(ctx, "alert %s suppressed by cooldown", c.Key)
		return false, nil
	}

	metadata := model.JSONMap{}
	for k, v := range c.Metadata {
		metadata[k] = v
	}
	metadata["created_at"] = now.Format(time.RFC3339)

	alert := &model.Alert{
		AlertType:     model.AlertTypeForSeverity(c.Severity),
		Component:     c.Component,
		ComponentName: c.ComponentName,
		AlertKey:      c.Key,
		Title:         c.Title,
		Message:       c.Message,
		Severity:      c.Severity,
		Metadata:      metadata,
		CreatedAt:     now,
	}
	if err := e.repo.Alert.Create(ctx, alert); err != nil {
		return false, err
	}
	e.cooldown.Mark(c.Key, now)

	if e.metrics != nil {
		e.metrics.AlertsRaisedTotal.WithLabelValues(c.Component, strconv.Itoa(c.Severity)).Inc()
	}
	logger.WarnCtx(ctx, "alert raised [%s] severity=%d: %s", c.Key, c.Severity, c.Title)
	return true, nil
}

// raiseAll raises every candidate and returns the first insert error
func (e *Evaluator) raiseAll(ctx context.Context, candidates []Candidate, now time.Time) error {
	var firstErr error
	for _, c := range candidates {
		if _, err := e.raise(ctx, c, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Evaluator) autoResolve(ctx context.Context, now time.Time) error {
	n, err := e.repo.Alert.AutoResolveModelAlerts(ctx, now.Add(-e.monitoring.AutoResolveFreshness), now)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.InfoCtx(ctx, "auto-resolved %d model alerts", n)
		if e.metrics != nil {
			e.metrics.AlertsAutoResolved.Add(float64(n))
		}
	}
	return nil
}
