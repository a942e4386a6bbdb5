package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the collectors exported on /metrics
type Registry struct {
	reg *prometheus.Registry

	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	RequestLogsDropped    prometheus.Counter
	RequestLogWriteErrors prometheus.Counter
	JobRunsTotal          *prometheus.CounterVec
	JobDuration           *prometheus.HistogramVec
	AlertsRaisedTotal     *prometheus.CounterVec
	AlertsAutoResolved    prometheus.Counter
	HealthProbeDuration   *prometheus.HistogramVec
}

// NewRegistry creates collectors on a private prometheus registry
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opswatch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opswatch_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		RequestLogsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "opswatch_request_logs_dropped_total",
				Help: "Request logs dropped because the write queue was full or closed",
			},
		),
		RequestLogWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "opswatch_request_log_write_errors_total",
				Help: "Request log batches that failed to persist",
			},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opswatch_job_runs_total",
				Help: "Periodic job runs by outcome",
			},
			[]string{"job", "outcome"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opswatch_job_duration_seconds",
				Help:    "Duration of periodic job runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		AlertsRaisedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opswatch_alerts_raised_total",
				Help: "Alerts raised by component and severity",
			},
			[]string{"component", "severity"},
		),
		AlertsAutoResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "opswatch_alerts_auto_resolved_total",
				Help: "Alerts resolved by the auto-resolution pass",
			},
		),
		HealthProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opswatch_health_probe_duration_seconds",
				Help:    "Health probe duration by service and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "status"},
		),
	}

	r.reg.MustRegister(
		r.HTTPRequestsTotal,
		r.HTTPRequestDuration,
		r.RequestLogsDropped,
		r.RequestLogWriteErrors,
		r.JobRunsTotal,
		r.JobDuration,
		r.AlertsRaisedTotal,
		r.AlertsAutoResolved,
		r.HealthProbeDuration,
	)
	return r
}

// Gatherer exposes the underlying registry for the HTTP handler
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
