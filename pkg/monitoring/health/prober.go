// Package health probes every configured backend service over HTTP and keeps one
// rolling health record per service.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"opswatch/pkg/config"
	"opswatch/pkg/logger"
	"opswatch/pkg/metrics"
	"opswatch/pkg/store/mysql/model"

	"golang.org/x/sync/errgroup"
)

// Store persists service health records
type Store interface {
	Get(ctx context.Context, serviceName string) (*model.ServiceHealth, error)
	Upsert(ctx context.Context, rec *model.ServiceHealth) error
}

// Result is the outcome of probing one service once
type Result struct {
	Healthy      bool
	StatusCode   int
	ResponseTime float64 // seconds
	TimedOut     bool
	Err          string
}

// Option configures a Prober
type Option func(*Prober)

// WithInspector replaces the process inspector
func WithInspector(i ProcessInspector) Option {
	return func(p *Prober) { p.inspector = i }
}

// WithClock replaces the clock used for check timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Prober) { p.now = now }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// Prober checks all services concurrently once per tick
type Prober struct {
	services  []config.ServiceConfig
	store     Store
	metrics   *metrics.Registry
	client    *http.Client
	inspector ProcessInspector
	now       func() time.Time
}

// NewProber creates a prober for services
func NewProber(services []config.ServiceConfig, store Store, reg *metrics.Registry, opts ...Option) *Prober {
	p := &Prober{
		services:  services,
		store:     store,
		metrics:   reg,
		client:    &http.Client{},
		inspector: NewProcessInspector(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tick probes every service once and records each outcome. Failures are recorded
// per service; Tick itself only fails when ctx is cancelled.
func (p *Prober) Tick(ctx context.Context) error {
	if len(p.services) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(p.services))
	for _, svc := range p.services {
		svc := svc
		g.Go(func() error {
			p.checkService(gctx, svc)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (p *Prober) checkService(ctx context.Context, svc config.ServiceConfig) {
	var result Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorCtx(ctx, "health probe for %s panicked: %v", svc.Name, r)
				result = Result{Err: fmt.Sprintf("probe panic: %v", r)}
			}
		}()
		result = p.Probe(ctx, svc)
	}()

	if ctx.Err() != nil {
		// shutting down; a cancelled probe says nothing about the service
		return
	}

	var stats ProcessStats
	if result.Healthy {
		stats = p.inspectSafely(ctx, svc)
	}

	if err := p.record(ctx, svc, result, stats); err != nil {
		logger.ErrorCtx(ctx, "failed to record health of %s: %v", svc.Name, err)
	}
	if p.metrics != nil {
		status := model.HealthStatusHealthy
		if !result.Healthy {
			status = model.HealthStatusError
		}
		p.metrics.HealthProbeDuration.WithLabelValues(svc.Name, status).Observe(result.ResponseTime)
	}
}

// Probe checks the health path and, if it does not answer 200, the fallback path
func (p *Prober) Probe(ctx context.Context, svc config.ServiceConfig) Result {
	start := time.Now()

	code, err := p.get(ctx, svc.URL+svc.HealthPath, svc.Timeout)
	if code != http.StatusOK && svc.FallbackPath != "" && svc.FallbackPath != svc.HealthPath {
		code, err = p.get(ctx, svc.URL+svc.FallbackPath, svc.Timeout)
	}

	result := Result{
		StatusCode:   code,
		ResponseTime: time.Since(start).Seconds(),
	}
	switch {
	case code == http.StatusOK:
		result.Healthy = true
	case err != nil:
		result.Err = err.Error()
		if isTimeout(err) {
			result.TimedOut = true
			result.ResponseTime = svc.Timeout.Seconds()
			result.Err = fmt.Sprintf("health check timed out after %s", svc.Timeout)
		}
	default:
		result.Err = fmt.Sprintf("health check returned HTTP %d", code)
	}
	return result
}

func (p *Prober) get(ctx context.Context, url string, timeout time.Duration) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (p *Prober) inspectSafely(ctx context.Context, svc config.ServiceConfig) (stats ProcessStats) {
	defer func() {
		if r := recover(); r != nil {
			logger.WarnCtx(ctx, "process inspection for %s panicked: %v", svc.Name, r)
			stats = ProcessStats{}
		}
	}()
	port := PortOf(svc.URL)
	if port == 0 {
		return ProcessStats{}
	}
	return p.inspector.Inspect(ctx, port)
}

// record folds result into the service's rolling statistics
func (p *Prober) record(ctx context.Context, svc config.ServiceConfig, result Result, stats ProcessStats) error {
	prev, err := p.store.Get(ctx, svc.Name)
	if err != nil {
		return err
	}
	now := p.now()

	rec := &model.ServiceHealth{
		ServiceName:      svc.Name,
		ServiceType:      svc.Type,
		EndpointURL:      svc.URL,
		LastHealthCheck:  &now,
		LastResponseTime: result.ResponseTime,
		MemoryUsageMB:    stats.MemoryMB,
		CPUUsagePercent:  stats.CPUPercent,
	}
	if prev == nil {
		prev = &model.ServiceHealth{}
	}
	applyProbe(rec, prev, result.Healthy, result.ResponseTime, now)
	if !result.Healthy {
		rec.LastError = result.Err
		logger.WarnCtx(ctx, "service %s unhealthy: %s", svc.Name, result.Err)
	} else {
		logger.DebugCtx(ctx, "service %s healthy in %.3fs", svc.Name, result.ResponseTime)
	}

	return p.store.Upsert(ctx, rec)
}
