package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"opswatch/app/handler"
	"opswatch/internal/service"
	"opswatch/pkg/metrics"
	"opswatch/pkg/store/mysql"
	"opswatch/pkg/store/mysql/model"
	"opswatch/pkg/store/mysql/storetest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu   sync.Mutex
	recs []*model.RequestLog
}

func (s *sink) Submit(rec *model.RequestLog) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return true
}

func setup(t *testing.T) (*gin.Engine, *mysql.Repository, *sink) {
	gin.SetMode(gin.TestMode)
	repo := storetest.NewRepository(t)
	logs := &sink{}
	engine := gin.New()
	NewRouter(handler.NewMonitoringHandler(service.NewMonitoringService(repo)), logs, metrics.NewRegistry()).Setup(engine)
	return engine, repo, logs
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func seedAlert(t *testing.T, repo *mysql.Repository, key string, severity int) *model.Alert {
	a := &model.Alert{
		AlertType: model.AlertTypeForSeverity(severity), Component: model.ComponentAPI, ComponentName: "x",
		AlertKey: key, Title: key, Severity: severity, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Alert.Create(context.Background(), a))
	return a
}

func TestAlertsEndpointFiltersBySeverity(t *testing.T) {
	engine, repo, _ := setup(t)
	seedAlert(t, repo, "low", 2)
	seedAlert(t, repo, "high", 4)

	w := do(engine, http.MethodGet, "/api/monitoring/alerts?min_severity=3", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Alerts []model.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "high", resp.Alerts[0].AlertKey)

	assert.Equal(t, http.StatusBadRequest, do(engine, http.MethodGet, "/api/monitoring/alerts?min_severity=abc", "").Code)
}

func TestResolveAlertEndpoint(t *testing.T) {
	engine, repo, _ := setup(t)
	a := seedAlert(t, repo, "k", 4)
	path := "/api/monitoring/alerts/" + strconv.FormatInt(a.ID, 10) + "/resolve"

	w := do(engine, http.MethodPost, path, `{"resolved_by":"oncall"}`)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := repo.Alert.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, "oncall", got.ResolvedBy)

	assert.Equal(t, http.StatusConflict, do(engine, http.MethodPost, path, "").Code)
	assert.Equal(t, http.StatusNotFound, do(engine, http.MethodPost, "/api/monitoring/alerts/9999/resolve", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(engine, http.MethodPost, "/api/monitoring/alerts/abc/resolve", "").Code)
}

func TestResolveAlertDefaultsToManual(t *testing.T) {
	engine, repo, _ := setup(t)
	a := seedAlert(t, repo, "k", 3)

	require.Equal(t, http.StatusOK, do(engine, http.MethodPost, "/api/monitoring/alerts/"+strconv.FormatInt(a.ID, 10)+"/resolve", "").Code)
	got, err := repo.Alert.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual", got.ResolvedBy)
}

func TestHealthAndResourcesEndpoints(t *testing.T) {
	engine, repo, logs := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.ServiceHealth.Upsert(ctx, &model.ServiceHealth{
		ServiceName: "llama", ServiceType: model.ServiceTypeLLM, Status: model.HealthStatusHealthy, LastHealthCheck: &now,
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.ResourceSample.Insert(ctx, &model.SystemResourceSample{
			ServerID: "n", MemoryUsagePercent: float64(i), SampledAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	w := do(engine, http.MethodGet, "/api/monitoring/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service_name":"llama"`)

	w = do(engine, http.MethodGet, "/api/monitoring/resources?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Samples []model.SystemResourceSample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Samples, 2)
	assert.Equal(t, 2.0, resp.Samples[0].MemoryUsagePercent)

	// every request, monitoring API included, is recorded
	assert.Len(t, logs.recs, 2)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestSummaryEndpoint(t *testing.T) {
	engine, repo, _ := setup(t)
	require.NoError(t, repo.RequestLog.Create(context.Background(), &model.RequestLog{
		RequestID: "r1", Endpoint: "/api/chat", EndpointBase: "/api/chat", Method: "POST",
		Functionality: "chat", ResponseTime: 1, StatusCode: 200, IsAIQuery: true, CreatedAt: time.Now().UTC(),
	}))

	w := do(engine, http.MethodGet, "/api/monitoring/requests/summary?window=2h", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Window        string                       `json:"window"`
		Functionality []mysql.FunctionalitySummary `json:"functionality"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2h0m0s", resp.Window)
	require.Len(t, resp.Functionality, 1)
	assert.Equal(t, int64(1), resp.Functionality[0].AIQueries)

	assert.Equal(t, http.StatusBadRequest, do(engine, http.MethodGet, "/api/monitoring/requests/summary?window=-1h", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(engine, http.MethodGet, "/api/monitoring/requests/summary?window=soon", "").Code)
}

func TestMetricsAndLiveness(t *testing.T) {
	engine, _, _ := setup(t)

	require.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/health", "").Code)

	w := do(engine, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "opswatch_http_requests_total")
}
