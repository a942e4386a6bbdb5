package mysql

import (
	"context"
	"fmt"
	"math"
	"time"

	"opswatch/pkg/store/mysql/model"
)

// EndpointErrorStats is the error breakdown of one functionality+endpoint group
type EndpointErrorStats struct {
	Functionality string `gorm:"column:functionality"`
	EndpointBase  string `gorm:"column:endpoint_base"`
	Total         int64  `gorm:"column:total"`
	Errors        int64  `gorm:"column:errors"`
	ServerErrors  int64  `gorm:"column:server_errors"`
}

// FunctionalityLatency is the latency aggregate of one functionality
type FunctionalityLatency struct {
	Functionality string  `gorm:"column:functionality"`
	Count         int64   `gorm:"column:cnt"`
	AvgSeconds    float64 `gorm:"column:avg_time"`
	MaxSeconds    float64 `gorm:"column:max_time"`
}

// RecentWindowStats describes the N most recent requests of one group
type RecentWindowStats struct {
	Functionality string `gorm:"column:functionality"`
	EndpointBase  string `gorm:"column:endpoint_base"`
	Total         int64  `gorm:"column:total"`
	Failures      int64  `gorm:"column:failures"`
}

// FunctionalitySummary is the per-functionality traffic summary exposed to dashboards
type FunctionalitySummary struct {
	Functionality string  `gorm:"column:functionality" json:"functionality"`
	Requests      int64   `gorm:"column:requests" json:"requests"`
	Errors        int64   `gorm:"column:errors" json:"errors"`
	AIQueries     int64   `gorm:"column:ai_queries" json:"ai_queries"`
	AvgSeconds    float64 `gorm:"column:avg_time" json:"avg_response_time"`
}

// RequestLogRepository handles per-request telemetry rows
type RequestLogRepository struct {
	ds *Datastore
}

// NewRequestLogRepository creates a new request log repository
func NewRequestLogRepository(ds *Datastore) *RequestLogRepository {
	return &RequestLogRepository{ds: ds}
}

// Create inserts one request log
func (r *RequestLogRepository) Create(ctx context.Context, rec *model.RequestLog) error {
	return r.ds.DB(ctx).Create(rec).Error
}

// CreateBatch inserts request logs in a single statement per batch
func (r *RequestLogRepository) CreateBatch(ctx context.Context, recs []*model.RequestLog) error {
	if len(recs) == 0 {
		return nil
	}
	return r.ds.DB(ctx).CreateInBatches(recs, 100).Error
}

// CountByRequestID returns how many rows carry the request id
func (r *RequestLogRepository) CountByRequestID(ctx context.Context, requestID string) (int64, error) {
	var n int64
	err := r.ds.DB(ctx).Model(&model.RequestLog{}).Where("request_id = ?", requestID).Count(&n).Error
	return n, err
}

// ErrorStatsSince groups requests since the given time by functionality and endpoint
func (r *RequestLogRepository) ErrorStatsSince(ctx context.Context, since time.Time, minRequests int) ([]EndpointErrorStats, error) {
	var stats []EndpointErrorStats
	err := r.ds.DB(ctx).Raw(`
		SELECT
			functionality,
			endpoint_base,
			COUNT(*) AS total,
			SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS errors,
			SUM(CASE WHEN status_code >= 500 THEN 1 ELSE 0 END) AS server_errors
		FROM request_logs
		WHERE created_at >= ?
		GROUP BY functionality, endpoint_base
		HAVING COUNT(*) >= ?
	`, since, minRequests).Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate request errors: %w", err)
	}
	return stats, nil
}

// LatencySince aggregates successful request latency per functionality
func (r *RequestLogRepository) LatencySince(ctx context.Context, since time.Time) ([]FunctionalityLatency, error) {
	var stats []FunctionalityLatency
	err := r.ds.DB(ctx).Raw(`
		SELECT
			functionality,
			COUNT(*) AS cnt,
			AVG(response_time) AS avg_time,
			MAX(response_time) AS max_time
		FROM request_logs
		WHERE created_at >= ? AND status_code < 400
		GROUP BY functionality
	`, since).Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate request latency: %w", err)
	}
	return stats, nil
}

// PercentileSince returns the nearest-rank percentile (0 < p <= 1) of successful
// response times for a functionality; count is the group size already known to the caller.
func (r *RequestLogRepository) PercentileSince(ctx context.Context, functionality string, since time.Time, p float64, count int64) (float64, error) {
	if count <= 0 {
		return 0, nil
	}
	rank := int(math.Ceil(p*float64(count))) - 1
	if rank < 0 {
		rank = 0
	}

	var values []float64
	err := r.ds.DB(ctx).Model(&model.RequestLog{}).
		Where("functionality = ? AND created_at >= ? AND status_code < 400", functionality, since).
		Order("response_time ASC").
		Offset(rank).
		Limit(1).
		Pluck("response_time", &values).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute response time percentile: %w", err)
	}
	if len(values) == 0 {
		return 0, nil
	}
	return values[0], nil
}

// RecentWindowSince inspects the n most recent requests of each functionality+endpoint
// group since the given time. Only groups with at least n requests are returned.
func (r *RequestLogRepository) RecentWindowSince(ctx context.Context, since time.Time, n int) ([]RecentWindowStats, error) {
	var stats []RecentWindowStats
	err := r.ds.DB(ctx).Raw(`
		SELECT
			functionality,
			endpoint_base,
			COUNT(*) AS total,
			SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS failures
		FROM (
			SELECT functionality, endpoint_base, status_code,
				ROW_NUMBER() OVER (PARTITION BY functionality, endpoint_base ORDER BY created_at DESC, id DESC) AS rn
			FROM request_logs
			WHERE created_at >= ?
		) ranked
		WHERE rn <= ?
		GROUP BY functionality, endpoint_base
		HAVING COUNT(*) >= ?
	`, since, n, n).Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to inspect recent requests: %w", err)
	}
	return stats, nil
}

// SummarySince summarizes traffic per functionality
func (r *RequestLogRepository) SummarySince(ctx context.Context, since time.Time) ([]FunctionalitySummary, error) {
	var out []FunctionalitySummary
	err := r.ds.DB(ctx).Raw(`
		SELECT
			functionality,
			COUNT(*) AS requests,
			SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS errors,
			SUM(CASE WHEN is_ai_query THEN 1 ELSE 0 END) AS ai_queries,
			AVG(response_time) AS avg_time
		FROM request_logs
		WHERE created_at >= ?
		GROUP BY functionality
		ORDER BY requests DESC
	`, since).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize requests: %w", err)
	}
	return out, nil
}
