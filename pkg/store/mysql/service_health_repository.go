package mysql

import (
	"context"
	"fmt"

	"opswatch/pkg/store/mysql/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// probeColumns are the columns owned by the health prober; request counters
// belong to other subsystems and are left out of every upsert.
var probeColumns = []string{
	"service_type", "endpoint_url", "status", "last_health_check",
	"error_count", "check_count", "avg_response_time", "min_response_time",
	"max_response_time", "last_response_time", "memory_usage_mb",
	"cpu_usage_percent", "uptime_seconds", "last_error", "updated_at",
}

// ServiceHealthRepository handles service health records, one row per service name
type ServiceHealthRepository struct {
	ds *Datastore
}

// NewServiceHealthRepository creates a new service health repository
func NewServiceHealthRepository(ds *Datastore) *ServiceHealthRepository {
	return &ServiceHealthRepository{ds: ds}
}

// EnsureServices creates a record with status inactive for every service that has
// none yet. Existing rows keep their status and only refresh type and address.
func (r *ServiceHealthRepository) EnsureServices(ctx context.Context, services []*model.ServiceHealth) error {
	if len(services) == 0 {
		return nil
	}
	for _, svc := range services {
		if svc.Status == "" {
			svc.Status = model.HealthStatusInactive
		}
	}
	err := r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"service_type", "endpoint_url", "updated_at"}),
	}).Create(&services).Error
	if err != nil {
		return fmt.Errorf("failed to ensure service health records: %w", err)
	}
	return nil
}

// Get retrieves the record for a service, nil when absent
func (r *ServiceHealthRepository) Get(ctx context.Context, serviceName string) (*model.ServiceHealth, error) {
	var rec model.ServiceHealth
	err := r.ds.DB(ctx).Where("service_name = ?", serviceName).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get service health: %w", err)
	}
	return &rec, nil
}

// Upsert inserts or updates the record keyed by service name
func (r *ServiceHealthRepository) Upsert(ctx context.Context, rec *model.ServiceHealth) error {
	err := r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service_name"}},
		DoUpdates: clause.AssignmentColumns(probeColumns),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert service health %s: %w", rec.ServiceName, err)
	}
	return nil
}

// List returns every service health record ordered by name
func (r *ServiceHealthRepository) List(ctx context.Context) ([]*model.ServiceHealth, error) {
	var records []*model.ServiceHealth
	if err := r.ds.DB(ctx).Order("service_name ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list service health: %w", err)
	}
	return records, nil
}

// Count returns the number of service health rows
func (r *ServiceHealthRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.ds.DB(ctx).Model(&model.ServiceHealth{}).Count(&n).Error
	return n, err
}
