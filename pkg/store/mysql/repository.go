package mysql

import (
	"context"

	"opswatch/pkg/config"
)

// Repository aggregates all telemetry store repositories
type Repository struct {
	ds *Datastore

	ServiceHealth  *ServiceHealthRepository
	ResourceSample *ResourceSampleRepository
	RequestLog     *RequestLogRepository
	Alert          *AlertRepository
}

// NewRepository opens the store and creates every sub-repository
func NewRepository(cfg config.DatabaseConfig) (*Repository, error) {
	ds, err := NewDatastore(cfg)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFromDatastore(ds), nil
}

// NewRepositoryFromDatastore wires repositories onto an already opened datastore
func NewRepositoryFromDatastore(ds *Datastore) *Repository {
	return &Repository{
		ds:             ds,
		ServiceHealth:  NewServiceHealthRepository(ds),
		ResourceSample: NewResourceSampleRepository(ds),
		RequestLog:     NewRequestLogRepository(ds),
		Alert:          NewAlertRepository(ds),
	}
}

// GetDatastore returns the underlying datastore
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Migrate creates or updates the schema
func (r *Repository) Migrate(ctx context.Context) error {
	return r.ds.Migrate(ctx)
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
