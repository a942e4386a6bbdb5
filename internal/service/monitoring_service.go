package service

import (
	"context"
	"errors"
	"time"

	"opswatch/pkg/store/mysql"
	"opswatch/pkg/store/mysql/model"
)

const (
	DefaultResourceLimit = 60
	MaxResourceLimit     = 1000
	DefaultAlertLimit    = 100
	MaxSummaryWindow     = 7 * 24 * time.Hour
)

// ErrInvalidWindow is returned for summary windows outside (0, MaxSummaryWindow]
var ErrInvalidWindow = errors.New("window must be positive and at most 168h")

// MonitoringService exposes health, resource, alert and traffic views for presentation
type MonitoringService struct {
	repo *mysql.Repository
	now  func() time.Time
}

// NewMonitoringService creates a new monitoring service
func NewMonitoringService(repo *mysql.Repository) *MonitoringService {
	return &MonitoringService{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// ServiceHealth returns the current health record of every service
func (s *MonitoringService) ServiceHealth(ctx context.Context) ([]*model.ServiceHealth, error) {
	return s.repo.ServiceHealth.List(ctx)
}

// RecentResources returns the newest resource samples; limit is clamped to [1, MaxResourceLimit]
func (s *MonitoringService) RecentResources(ctx context.Context, limit int) ([]*model.SystemResourceSample, error) {
	if limit <= 0 {
		limit = DefaultResourceLimit
	}
	if limit > MaxResourceLimit {
		limit = MaxResourceLimit
	}
	return s.repo.ResourceSample.Recent(ctx, limit)
}

// UnresolvedAlerts returns unresolved alerts with severity >= minSeverity, most severe first
func (s *MonitoringService) UnresolvedAlerts(ctx context.Context, minSeverity, limit int) ([]*model.Alert, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	return s.repo.Alert.ListUnresolved(ctx, minSeverity, limit)
}

// ResolveAlert manually resolves an alert. It returns mysql.ErrAlertNotFound or
// mysql.ErrAlertAlreadyResolved when the alert cannot be resolved.
func (s *MonitoringService) ResolveAlert(ctx context.Context, id int64, resolvedBy string) error {
	if resolvedBy == "" {
		resolvedBy = "manual"
	}
	return s.repo.Alert.Resolve(ctx, id, resolvedBy, s.now())
}

// RequestSummary summarizes traffic per functionality over the trailing window
func (s *MonitoringService) RequestSummary(ctx context.Context, window time.Duration) ([]mysql.FunctionalitySummary, error) {
	if window <= 0 || window > MaxSummaryWindow {
		return nil, ErrInvalidWindow
	}
	return s.repo.RequestLog.SummarySince(ctx, s.now().Add(-window))
}
