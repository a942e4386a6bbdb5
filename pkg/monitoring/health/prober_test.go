package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"opswatch/pkg/config"
	"opswatch/pkg/metrics"
	"opswatch/pkg/store/mysql/model"
	"opswatch/pkg/store/mysql/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedInspector struct{ stats ProcessStats }

func (f fixedInspector) Inspect(context.Context, int) ProcessStats { return f.stats }

type panicInspector struct{}

func (panicInspector) Inspect(context.Context, int) ProcessStats { panic("boom") }

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func service(name, typ, url string) config.ServiceConfig {
	fallback := "/"
	if typ == model.ServiceTypeLLM {
		fallback = "/v1/models"
	}
	return config.ServiceConfig{
		Name: name, Type: typ, URL: url,
		HealthPath: "/health", FallbackPath: fallback, Timeout: time.Second,
	}
}

func TestProberRecordsHealthyAndFallback(t *testing.T) {
	repo := storetest.NewRepository(t)
	ctx := context.Background()

	direct := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	fallback := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	broken := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	p := NewProber([]config.ServiceConfig{
		service("direct", model.ServiceTypeAPI, direct.URL),
		service("llm", model.ServiceTypeLLM, fallback.URL),
		service("broken", model.ServiceTypeAPI, broken.URL),
	}, repo.ServiceHealth, metrics.NewRegistry(), WithInspector(fixedInspector{ProcessStats{MemoryMB: 128, CPUPercent: 3}}))

	require.NoError(t, p.Tick(ctx))

	for _, name := range []string{"direct", "llm"} {
		rec, err := repo.ServiceHealth.Get(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, rec, name)
		assert.Equal(t, model.HealthStatusHealthy, rec.Status, name)
		assert.Equal(t, int64(1), rec.CheckCount)
		assert.Equal(t, int64(0), rec.ErrorCount)
		assert.Equal(t, 128.0, rec.MemoryUsageMB)
		assert.NotNil(t, rec.LastHealthCheck)
	}

	rec, err := repo.ServiceHealth.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusError, rec.Status)
	assert.Equal(t, int64(1), rec.ErrorCount)
	assert.Contains(t, rec.LastError, "500")
	assert.Equal(t, 0.0, rec.MemoryUsageMB)
}

func TestProberTimeoutRecordsConfiguredTimeout(t *testing.T) {
	repo := storetest.NewRepository(t)
	release := make(chan struct{})
	slow := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	svc := service("slow", model.ServiceTypeLLM, slow.URL)
	svc.Timeout = 50 * time.Millisecond
	p := NewProber([]config.ServiceConfig{svc}, repo.ServiceHealth, nil, WithInspector(fixedInspector{}))

	require.NoError(t, p.Tick(context.Background()))

	rec, err := repo.ServiceHealth.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusError, rec.Status)
	assert.Equal(t, 0.05, rec.LastResponseTime)
	assert.Contains(t, rec.LastError, "timed out")
}

func TestProberUnreachableService(t *testing.T) {
	repo := storetest.NewRepository(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProber([]config.ServiceConfig{service("gone", model.ServiceTypeAPI, url)}, repo.ServiceHealth, nil)
	require.NoError(t, p.Tick(context.Background()))

	rec, err := repo.ServiceHealth.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusError, rec.Status)
	assert.NotEmpty(t, rec.LastError)
}

func TestProberTicksKeepOneRowAndRollStats(t *testing.T) {
	repo := storetest.NewRepository(t)
	ctx := context.Background()
	var unhealthy atomic.Bool
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !unhealthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	clock := &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := NewProber([]config.ServiceConfig{service("api", model.ServiceTypeAPI, srv.URL)},
		repo.ServiceHealth, nil, WithInspector(fixedInspector{}), WithClock(clock.now))

	require.NoError(t, p.Tick(ctx))
	clock.t = clock.t.Add(30 * time.Second)
	require.NoError(t, p.Tick(ctx))

	n, err := repo.ServiceHealth.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := repo.ServiceHealth.Get(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.CheckCount)
	assert.Equal(t, int64(30), rec.UptimeSeconds)
	assert.LessOrEqual(t, rec.MinResponseTime, rec.AvgResponseTime)
	assert.LessOrEqual(t, rec.AvgResponseTime, rec.MaxResponseTime)

	unhealthy.Store(true)
	clock.t = clock.t.Add(30 * time.Second)
	require.NoError(t, p.Tick(ctx))

	rec, err = repo.ServiceHealth.Get(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.CheckCount)
	assert.Equal(t, int64(1), rec.ErrorCount)
	assert.Equal(t, int64(0), rec.UptimeSeconds)
}

func TestProberRecoversPanicPerService(t *testing.T) {
	repo := storetest.NewRepository(t)
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	p := NewProber([]config.ServiceConfig{service("api", model.ServiceTypeAPI, srv.URL)},
		repo.ServiceHealth, nil, WithInspector(panicInspector{}))
	require.NoError(t, p.Tick(context.Background()))

	rec, err := repo.ServiceHealth.Get(context.Background(), "api")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.HealthStatusHealthy, rec.Status)
	assert.Equal(t, 0.0, rec.MemoryUsageMB)
}

func TestApplyProbe(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	prev := &model.ServiceHealth{
		Status: model.HealthStatusHealthy, LastHealthCheck: &t0, CheckCount: 3,
		AvgResponseTime: 2, MinResponseTime: 1, MaxResponseTime: 3, UptimeSeconds: 100, ErrorCount: 2,
	}

	rec := &model.ServiceHealth{}
	applyProbe(rec, prev, true, 6, t0.Add(time.Minute))
	assert.Equal(t, int64(4), rec.CheckCount)
	assert.Equal(t, 3.0, rec.AvgResponseTime)
	assert.Equal(t, 1.0, rec.MinResponseTime)
	assert.Equal(t, 6.0, rec.MaxResponseTime)
	assert.Equal(t, int64(160), rec.UptimeSeconds)
	assert.Equal(t, int64(2), rec.ErrorCount)

	rec = &model.ServiceHealth{}
	applyProbe(rec, &model.ServiceHealth{}, false, 0.5, t0)
	assert.Equal(t, int64(1), rec.CheckCount)
	assert.Equal(t, 0.5, rec.MinResponseTime)
	assert.Equal(t, int64(1), rec.ErrorCount)
	assert.Equal(t, model.HealthStatusError, rec.Status)
}

func TestPortOf(t *testing.T) {
	assert.Equal(t, 8000, PortOf("http://localhost:8000"))
	assert.Equal(t, 80, PortOf("http://example.com"))
	assert.Equal(t, 443, PortOf("https://example.com/x"))
	assert.Equal(t, 0, PortOf("::bad"))
}
