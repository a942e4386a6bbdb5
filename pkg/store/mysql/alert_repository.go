package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"opswatch/pkg/store/mysql/model"

	"gorm.io/gorm"
)

// AlertRepository handles alert persistence
type AlertRepository struct {
	ds *Datastore
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(ds *Datastore) *AlertRepository {
	return &AlertRepository{ds: ds}
}

// Create inserts a new alert
func (r *AlertRepository) Create(ctx context.Context, alert *model.Alert) error {
	if err := r.ds.DB(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create alert %s: %w", alert.AlertKey, err)
	}
	return nil
}

// Get retrieves an alert by id, nil when absent
func (r *AlertRepository) Get(ctx context.Context, id int64) (*model.Alert, error) {
	var alert model.Alert
	err := r.ds.DB(ctx).Where("id = ?", id).First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

// ListUnresolved returns unresolved alerts with severity >= minSeverity, most severe first
func (r *AlertRepository) ListUnresolved(ctx context.Context, minSeverity, limit int) ([]*model.Alert, error) {
	var alerts []*model.Alert
	query := r.ds.DB(ctx).Where("resolved = ?", false)
	if minSeverity > 0 {
		query = query.Where("severity >= ?", minSeverity)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("severity DESC").Order("created_at DESC").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list unresolved alerts: %w", err)
	}
	return alerts, nil
}

// ListByKey returns every alert raised for a signature, newest first
func (r *AlertRepository) ListByKey(ctx context.Context, alertKey string) ([]*model.Alert, error) {
	var alerts []*model.Alert
	err := r.ds.DB(ctx).Where("alert_key = ?", alertKey).Order("created_at DESC").Find(&alerts).Error
	return alerts, err
}

// LastRaisedSince maps each signature raised at or after since to its newest creation time
func (r *AlertRepository) LastRaisedSince(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	var rows []*model.Alert
	err := r.ds.DB(ctx).Select("alert_key", "created_at").
		Where("created_at >= ?", since).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent alert keys: %w", err)
	}
	last := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		if prev, ok := last[row.AlertKey]; !ok || row.CreatedAt.After(prev) {
			last[row.AlertKey] = row.CreatedAt
		}
	}
	return last, nil
}

// Resolve marks an unresolved alert as resolved. Resolved alerts are never rewritten.
func (r *AlertRepository) Resolve(ctx context.Context, id int64, resolvedBy string, at time.Time) error {
	result := r.ds.DB(ctx).Model(&model.Alert{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": at,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve alert %d: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrAlertNotFound
	}
	return ErrAlertAlreadyResolved
}

// AutoResolveModelAlerts resolves every unresolved model alert whose service now
// reports healthy with a health check at or after healthySince.
func (r *AlertRepository) AutoResolveModelAlerts(ctx context.Context, healthySince, at time.Time) (int64, error) {
	db := r.ds.DB(ctx)
	healthy := db.Model(&model.ServiceHealth{}).
		Select("service_name").
		Where("status = ? AND last_health_check >= ?", model.HealthStatusHealthy, healthySince)

	result := db.Model(&model.Alert{}).
		Where("component = ? AND resolved = ? AND component_name IN (?)", model.ComponentModel, false, healthy).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": at,
			"resolved_by": model.ResolvedByAutoSystem,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to auto-resolve model alerts: %w", result.Error)
	}
	return result.RowsAffected, nil
}
