package mysql_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"opswatch/pkg/store/mysql"
	"opswatch/pkg/store/mysql/model"
	"opswatch/pkg/store/mysql/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceHealthUpsertKeepsOneRowPerService(t *testing.T) {
	repo := storetest.NewRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.ServiceHealth.EnsureServices(ctx, []*model.ServiceHealth{
		{ServiceName: "llama", ServiceType: model.ServiceTypeLLM, EndpointURL: "http://localhost:11434"},
	}))

	rec, err := repo.ServiceHealth.Get(ctx, "llama")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.HealthStatusInactive, rec.Status)
	assert.Nil(t, rec.LastHealthCheck)

	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		rec.Status = model.HealthStatusHealthy
		rec.LastHealthCheck = &now
		rec.CheckCount = int64(i + 1)
		require.NoError(t, repo.ServiceHealth.Upsert(ctx, &model.ServiceHealth{
			ServiceName:     rec.ServiceName,
			ServiceType:     rec.ServiceType,
			EndpointURL:     rec.EndpointURL,
			Status:          rec.Status,
			LastHealthCheck: rec.LastHealthCheck,
			CheckCount:      rec.CheckCount,
		}))
	}

	n, err := repo.ServiceHealth.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.ServiceHealth.Get(ctx, "llama")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusHealthy, got.Status)
	assert.Equal(t, int64(2), got.CheckCount)

	// ensuring again must not reset the probe state
	require.NoError(t, repo.ServiceHealth.EnsureServices(ctx, []*model.ServiceHealth{
		{ServiceName: "llama", ServiceType: model.ServiceTypeLLM, EndpointURL: "http://localhost:11434"},
	}))
	got, err = repo.ServiceHealth.Get(ctx, "llama")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusHealthy, got.Status)
}

func TestServiceHealthUpsertLeavesRequestCounters(t *testing.T) {
	repo := storetest.NewRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.ServiceHealth.Upsert(ctx, &model.ServiceHealth{
		ServiceName: "api", ServiceType: model.ServiceTypeAPI, Status: model.HealthStatusHealthy,
	}))
	require.NoError(t, repo.GetDatastore().DB(ctx).Model(&model.ServiceHealth{}).
		Where("service_name = ?", "api").Update("total_requests", 42).Error)

	require.NoError(t, repo.ServiceHealth.Upsert(ctx, &model.ServiceHealth{
		ServiceName: "api", ServiceType: model.ServiceTypeAPI, Status: model.HealthStatusError, TotalRequests: 0,
	}))

	got, err := repo.ServiceHealth.Get(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TotalRequests)
	assert.Equal(t, model.HealthStatusError, got.Status)
}

func TestResourceSampleLatestPerServer(t *testing.T) {
	repo := storetest.NewRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	samples := []*model.SystemResourceSample{
		{ServerID: "a", MemoryUsagePercent: 10, SampledAt: now.Add(-3 * time.Minute)},
		{ServerID: "a", MemoryUsagePercent: 20, SampledAt: now.Add(-1 * time.Minute)},
		{ServerID: "b", MemoryUsagePercent: 30, SampledAt: now.Add(-2 * time.Minute)},
		{ServerID: "c", MemoryUsagePercent: 99, SampledAt: now.Add(-20 * time.Minute)},
	}
	for _, s := range samples {
		require.NoError(t, repo.ResourceSample.Insert(ctx, s))
	}

	latest, err := repo.ResourceSample.LatestPerServer(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "a", latest[0].ServerID)
	assert.Equal(t, 20.0, latest[0].MemoryUsagePercent)
	assert.Equal(t, "b", latest[1].ServerID)

	recent, err := repo.ResourceSample.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 20.0, recent[0].MemoryUsagePercent)
}

func TestRequestLogAggregates(t *testing.T) {
	repo := storetest.NewRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var recs []*model.RequestLog
	for i := 0; i < 20; i++ {
		status := 200
		if i < 12 {
			status = 404
		}
		recs = append(recs, &model.RequestLog{
			RequestID:     fmt.Sprintf("req-%d", i),
			Endpoint:      "/api/fraud/predict",
			EndpointBase:  "/api/fraud/predict",
			Method:        "POST",
			Functionality: "fraud_detection",
			ResponseTime:  float64(i + 1),
			StatusCode:    status,
			CreatedAt:     now.Add(-time.Duration(20-i) * time.Second),
		})
	}
	require.NoError(t, repo.RequestLog.CreateBatch(ctx, recs))

	stats, err := repo.RequestLog.ErrorStatsSince(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(20), stats[0].Total)
	assert.Equal(t, int64(12), stats[0].Errors)
	assert.Equal(t, int64(0), stats[0].ServerErrors)

	stats, err = repo.RequestLog.ErrorStatsSince(ctx, now.Add(-time.Hour), 21)
	require.NoError(t, err)
	assert.Empty(t, stats)

	lat, err := repo.RequestLog.LatencySince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, lat, 1)
	assert.Equal(t, int64(8), lat[0].Count)
	assert.InDelta(t, 16.5, lat[0].AvgSeconds, 0.001)

	p95, err := repo.RequestLog.PercentileSince(ctx, "fraud_detection", now.Add(-time.Hour), 0.95, lat[0].Count)
	require.NoError(t, err)
	assert.Equal(t, 20.0, p95)

	// the 8 newest are successes
	window, err := repo.RequestLog.RecentWindowSince(ctx, now.Add(-time.Hour), 5)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, int64(0), window[0].Failures)

	n, err := repo.RequestLog.CountByRequestID(ctx, "req-3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAlertResolve(t *testing.T) {
	repo := storetest.NewRepository(t)
	ctx := context.Background()

	alert := &model.Alert{
		AlertType: model.AlertTypeError, Component: model.ComponentAPI, ComponentName: "x",
		AlertKey: "api_error_rate_x_/x", Title: "t", Severity: 4, CreatedAt: time.Now().UTC(),
		Metadata: model.JSONMap{"error_rate": 60.0},
	}
	require.NoError(t, repo.Alert.Create(ctx, alert))

	require.NoError(t, repo.Alert.Resolve(ctx, alert.ID, "ops", time.Now().UTC()))
	assert.ErrorIs(t, repo.Alert.Resolve(ctx, alert.ID, "someone-else", time.Now().UTC()), mysql.ErrAlertAlreadyResolved)
	assert.ErrorIs(t, repo.Alert.Resolve(ctx, alert.ID+100, "ops", time.Now().UTC()), mysql.ErrAlertNotFound)

	got, err := repo.Alert.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, "ops", got.ResolvedBy)
	assert.Equal(t, 60.0, got.Metadata["error_rate"])
}

func TestAutoResolveModelAlerts(t *testing.T) {
	repo := storetest.NewRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	stale := now.Add(-time.Hour)

	require.NoError(t, repo.ServiceHealth.Upsert(ctx, &model.ServiceHealth{
		ServiceName: "fresh", ServiceType: model.ServiceTypeLLM, Status: model.HealthStatusHealthy, LastHealthCheck: &now,
	}))
	require.NoError(t, repo.ServiceHealth.Upsert(ctx, &model.ServiceHealth{
		ServiceName: "old", ServiceType: model.ServiceTypeLLM, Status: model.HealthStatusHealthy, LastHealthCheck: &stale,
	}))

	mk := func(name, component string) *model.Alert {
		a := &model.Alert{
			AlertType: model.AlertTypeError, Component: component, ComponentName: name,
			AlertKey: component + "_unresponsive_" + name, Title: "down", Severity: 4, CreatedAt: now,
		}
		require.NoError(t, repo.Alert.Create(ctx, a))
		return a
	}
	fresh := mk("fresh", model.ComponentModel)
	old := mk("old", model.ComponentModel)
	api := mk("fresh", model.ComponentAPI)

	n, err := repo.Alert.AutoResolveModelAlerts(ctx, now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for _, tc := range []struct {
		id       int64
		resolved bool
	}{{fresh.ID, true}, {old.ID, false}, {api.ID, false}} {
		got, err := repo.Alert.Get(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.resolved, got.Resolved, "alert %d", tc.id)
		if tc.resolved {
			assert.Equal(t, model.ResolvedByAutoSystem, got.ResolvedBy)
		}
	}

	last, err := repo.Alert.LastRaisedSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, last, 3)
}
