package alert

import (
	"context"
	"fmt"
	"time"

	"opswatch/pkg/store/mysql/model"
)

// ComponentForService maps a service type onto the alert component vocabulary
func ComponentForService(serviceType string) string {
	if serviceType == model.ServiceTypeLLM {
		return model.ComponentModel
	}
	return model.ComponentAPI
}

// checkServiceHealth raises at most one alert per service, first matching condition wins
func (e *Evaluator) checkServiceHealth(ctx context.Context, now time.Time) error {
	records, err := e.repo.ServiceHealth.List(ctx)
	if err != nil {
		return err
	}

	var candidates []Candidate
	for _, rec := range records {
		if c, ok := e.serviceHealthCandidate(rec, now); ok {
			candidates = append(candidates, c)
		}
	}
	return e.raiseAll(ctx, candidates, now)
}

func (e *Evaluator) serviceHealthCandidate(rec *model.ServiceHealth, now time.Time) (Candidate, bool) {
	if rec.Status == model.HealthStatusMaintenance {
		return Candidate{}, false
	}
	if rec.Status == model.HealthStatusInactive && rec.LastHealthCheck == nil {
		return Candidate{}, false
	}

	component := ComponentForService(rec.ServiceType)
	meta := map[string]interface{}{
		"service_type":      rec.ServiceType,
		"status":            rec.Status,
		"endpoint_url":      rec.EndpointURL,
		"avg_response_time": rec.AvgResponseTime,
		"error_count":       rec.ErrorCount,
	}
	if rec.LastHealthCheck != nil {
		meta["last_health_check"] = rec.LastHealthCheck.UTC().Format(time.RFC3339)
	}

	switch {
	case rec.Status == model.HealthStatusError && rec.LastError != "":
		meta["last_error"] = rec.LastError
		return Candidate{
			Key:           fmt.Sprintf("%s_unresponsive_%s", component, rec.ServiceName),
			Component:     component,
			ComponentName: rec.ServiceName,
			Title:         fmt.Sprintf("%s reports error", rec.ServiceName),
			Message:       rec.LastError,
			Severity:      4,
			Metadata:      meta,
		}, true

	case rec.LastHealthCheck == nil || now.Sub(*rec.LastHealthCheck) > e.monitoring.StaleHealthCheckAfter:
		return Candidate{
			Key:           fmt.Sprintf("%s_unresponsive_%s", component, rec.ServiceName),
			Component:     component,
			ComponentName: rec.ServiceName,
			Title:         fmt.Sprintf("No recent health check for %s", rec.ServiceName),
			Message:       fmt.Sprintf("%s has not been checked for more than %s", rec.ServiceName, e.monitoring.StaleHealthCheckAfter),
			Severity:      3,
			Metadata:      meta,
		}, true

	case rec.Status == model.HealthStatusHealthy && rec.AvgResponseTime > e.thresholds.ResponseTimeSeconds:
		meta["threshold"] = e.thresholds.ResponseTimeSeconds
		return Candidate{
			Key:           fmt.Sprintf("%s_slow_%s", component, rec.ServiceName),
			Component:     component,
			ComponentName: rec.ServiceName,
			Title:         fmt.Sprintf("Slow response from %s", rec.ServiceName),
			Message: fmt.Sprintf("average response time %.2fs exceeds %.2fs",
				rec.AvgResponseTime, e.thresholds.ResponseTimeSeconds),
			Severity: 2,
			Metadata: meta,
		}, true
	}
	return Candidate{}, false
}

// checkErrorRates raises for endpoint groups whose 4xx+5xx share exceeds the threshold
func (e *Evaluator) checkErrorRates(ctx context.Context, now time.Time) error {
	stats, err := e.repo.RequestLog.ErrorStatsSince(ctx, now.Add(-e.monitoring.ErrorRateWindow), e.monitoring.ErrorRateMinRequests)
	if err != nil {
		return err
	}

	var candidates []Candidate
	for _, s := range stats {
		if s.Total == 0 {
			continue
		}
		rate := float64(s.Errors) / float64(s.Total) * 100
		if rate <= e.thresholds.APIErrorRatePercent {
			continue
		}
		serverRate := float64(s.ServerErrors) / float64(s.Total) * 100
		severity := 3
		if serverRate > 50 {
			severity = 4
		}
		candidates = append(candidates, Candidate{
			Key:           fmt.Sprintf("api_error_rate_%s_%s", s.Functionality, s.EndpointBase),
			Component:     model.ComponentAPI,
			ComponentName: s.EndpointBase,
			Title:         fmt.Sprintf("High error rate on %s", s.EndpointBase),
			Message: fmt.Sprintf("%.1f%% of %d requests failed in the last %s",
				rate, s.Total, e.monitoring.ErrorRateWindow),
			Severity: severity,
			Metadata: map[string]interface{}{
				"functionality":     s.Functionality,
				"endpoint":          s.EndpointBase,
				"total_requests":    s.Total,
				"error_requests":    s.Errors,
				"server_errors":     s.ServerErrors,
				"error_rate":        rate,
				"server_error_rate": serverRate,
				"threshold":         e.thresholds.APIErrorRatePercent,
			},
		})
	}
	return e.raiseAll(ctx, candidates, now)
}

type resourceCheck struct {
	name         string
	usage        float64
	threshold    float64
	baseSeverity int
}

// checkResources raises one alert per exhausted resource of each fresh sample
func (e *Evaluator) checkResources(ctx context.Context, now time.Time) error {
	samples, err := e.repo.ResourceSample.LatestPerServer(ctx, now.Add(-e.monitoring.ResourceSampleMaxAge))
	if err != nil {
		return err
	}

	var candidates []Candidate
	for _, s := range samples {
		candidates = append(candidates, e.resourceCandidates(s)...)
	}
	return e.raiseAll(ctx, candidates, now)
}

func (e *Evaluator) resourceCandidates(s *model.SystemResourceSample) []Candidate {
	checks := []resourceCheck{
		{"memory", s.MemoryUsagePercent, e.thresholds.MemoryPercent, 4},
		{"cpu", s.CPUUsagePercent, e.thresholds.CPUPercent, 3},
		{"disk", s.DiskUsagePercent, e.thresholds.DiskPercent, 4},
	}

	var out []Candidate
	for _, c := range checks {
		if c.usage <= c.threshold {
			continue
		}
		severity := c.baseSeverity
		if c.usage > e.thresholds.ResourceCeilingPercent && severity < 5 {
			severity++
		}
		out = append(out, Candidate{
			Key:           fmt.Sprintf("system_%s_%s", c.name, s.ServerID),
			Component:     model.ComponentSystem,
			ComponentName: s.ServerID,
			Title:         fmt.Sprintf("High %s usage on %s", c.name, s.ServerID),
			Message:       fmt.Sprintf("%s usage %.1f%% exceeds %.1f%%", c.name, c.usage, c.threshold),
			Severity:      severity,
			Metadata: map[string]interface{}{
				"resource":      c.name,
				"usage_percent": c.usage,
				"threshold":     c.threshold,
				"server_id":     s.ServerID,
				"sampled_at":    s.SampledAt.UTC().Format(time.RFC3339),
			},
		})
	}
	return out
}

// checkSlowFunctionality compares mean and p95 latency of successful requests
func (e *Evaluator) checkSlowFunctionality(ctx context.Context, now time.Time) error {
	since := now.Add(-e.monitoring.SlowWindow)
	latencies, err := e.repo.RequestLog.LatencySince(ctx, since)
	if err != nil {
		return err
	}

	threshold := e.thresholds.ResponseTimeSeconds
	var candidates []Candidate
	for _, l := range latencies {
		p95, err := e.repo.RequestLog.PercentileSince(ctx, l.Functionality, since, 0.95, l.Count)
		if err != nil {
			return err
		}
		if l.AvgSeconds <= threshold && p95 <= 2*threshold {
			continue
		}
		severity := 2
		if l.AvgSeconds > e.thresholds.SlowMeanEscalationSeconds {
			severity = 3
		}
		candidates = append(candidates, Candidate{
			Key:           fmt.Sprintf("slow_functionality_%s", l.Functionality),
			Component:     model.ComponentAPI,
			ComponentName: l.Functionality,
			Title:         fmt.Sprintf("Slow %s requests", l.Functionality),
			Message: fmt.Sprintf("mean %.2fs, p95 %.2fs over %d requests (threshold %.2fs)",
				l.AvgSeconds, p95, l.Count, threshold),
			Severity: severity,
			Metadata: map[string]interface{}{
				"functionality":     l.Functionality,
				"request_count":     l.Count,
				"avg_response_time": l.AvgSeconds,
				"p95_response_time": p95,
				"max_response_time": l.MaxSeconds,
				"threshold":         threshold,
			},
		})
	}
	return e.raiseAll(ctx, candidates, now)
}

// checkConsecutiveErrors raises when the N newest requests of a group all failed
func (e *Evaluator) checkConsecutiveErrors(ctx context.Context, now time.Time) error {
	n := e.thresholds.ConsecutiveErrors
	if n <= 0 {
		return nil
	}
	windows, err := e.repo.RequestLog.RecentWindowSince(ctx, now.Add(-e.monitoring.ConsecutiveErrorWindow), n)
	if err != nil {
		return err
	}

	var candidates []Candidate
	for _, w := range windows {
		if w.Failures < int64(n) {
			continue
		}
		candidates = append(candidates, Candidate{
			Key:           fmt.Sprintf("consecutive_errors_%s_%s", w.Functionality, w.EndpointBase),
			Component:     model.ComponentAPI,
			ComponentName: w.EndpointBase,
			Title:         fmt.Sprintf("Consecutive failures on %s", w.EndpointBase),
			Message:       fmt.Sprintf("the last %d requests to %s all failed", n, w.EndpointBase),
			Severity:      4,
			Metadata: map[string]interface{}{
				"functionality":        w.Functionality,
				"endpoint":             w.EndpointBase,
				"consecutive_failures": w.Failures,
				"threshold":            n,
			},
		})
	}
	return e.raiseAll(ctx, candidates, now)
}
