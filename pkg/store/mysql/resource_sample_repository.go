package mysql

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"opswatch/pkg/store/mysql/model"
)

// ResourceSampleRepository handles the append-only system resource time series
type ResourceSampleRepository struct {
	ds *Datastore
}

// NewResourceSampleRepository creates a new resource sample repository
func NewResourceSampleRepository(ds *Datastore) *ResourceSampleRepository {
	return &ResourceSampleRepository{ds: ds}
}

// Insert appends one sample
func (r *ResourceSampleRepository) Insert(ctx context.Context, sample *model.SystemResourceSample) error {
	return r.ds.DB(ctx).Create(sample).Error
}

// LatestPerServer returns the newest sample of every server sampled at or after since
func (r *ResourceSampleRepository) LatestPerServer(ctx context.Context, since time.Time) ([]*model.SystemResourceSample, error) {
	var samples []*model.SystemResourceSample
	err := r.ds.DB(ctx).Raw(`
		SELECT * FROM (
			SELECT s.*, ROW_NUMBER() OVER (PARTITION BY server_id ORDER BY sampled_at DESC, id DESC) AS rn
			FROM system_resource_samples s
			WHERE sampled_at >= ?
		) ranked
		WHERE rn = 1
		ORDER BY server_id ASC
	`, since).Scan(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest resource samples: %w", err)
	}
	return samples, nil
}

// Recent returns the newest samples first
func (r *ResourceSampleRepository) Recent(ctx context.Context, limit int) ([]*model.SystemResourceSample, error) {
	var samples []*model.SystemResourceSample
	err := r.ds.DB(ctx).Order("sampled_at DESC").Order("id DESC").Limit(limit).Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list resource samples: %w", err)
	}
	return samples, nil
}

// ActiveConnections counts connections currently open against the store. MySQL
// reports server-wide threads; other dialects fall back to this pool's count.
func (r *ResourceSampleRepository) ActiveConnections(ctx context.Context) (int, error) {
	if r.ds.Dialect() != "mysql" {
		return r.ds.OpenConnections(), nil
	}

	var row struct {
		VariableName string `gorm:"column:Variable_name"`
		Value        string `gorm:"column:Value"`
	}
	if err := r.ds.DB(ctx).Raw("SHOW STATUS LIKE 'Threads_connected'").Scan(&row).Error; err != nil {
		return 0, fmt.Errorf("failed to count active connections: %w", err)
	}
	n, err := strconv.Atoi(row.Value)
	if err != nil {
		return 0, fmt.Errorf("unexpected Threads_connected value %q: %w", row.Value, err)
	}
	return n, nil
}
