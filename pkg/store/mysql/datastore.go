package mysql

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"opswatch/pkg/config"
	"opswatch/pkg/store/mysql/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Datastore wraps GORM DB and owns the connection pool shared by every component
type Datastore struct {
	db      *gorm.DB
	dialect string
}

// NewDatastore opens the telemetry store described by cfg and configures its pool
func NewDatastore(cfg config.DatabaseConfig) (*Datastore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q (use 'mysql' or 'sqlite')", cfg.Driver)
	}

	ds, err := Open(dialector)
	if err != nil {
		return nil, err
	}

	sqlDB, err := ds.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return ds, nil
}

// Open wraps an arbitrary dialector, used directly by tests
func Open(dialector gorm.Dialector) (*Datastore, error) {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newLogger,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Datastore{db: db, dialect: dialector.Name()}, nil
}

// Migrate creates or updates every telemetry table
func (ds *Datastore) Migrate(ctx context.Context) error {
	if err := ds.db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Dialect returns the gorm dialector name ("mysql", "sqlite")
func (ds *Datastore) Dialect() string {
	return ds.dialect
}

// Close closes the database connection
func (ds *Datastore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the GORM DB instance bound to ctx
func (ds *Datastore) DB(ctx context.Context) *gorm.DB {
	return ds.db.WithContext(ctx)
}

// OpenConnections reports the pool's currently open connections
func (ds *Datastore) OpenConnections() int {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return 0
	}
	return sqlDB.Stats().OpenConnections
}
