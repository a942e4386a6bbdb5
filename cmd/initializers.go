package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"opswatch/app/handler"
	"opswatch/app/router"
	"opswatch/internal/service"
	"opswatch/pkg/config"
	"opswatch/pkg/logger"
	"opswatch/pkg/metrics"
	"opswatch/pkg/monitoring/alert"
	"opswatch/pkg/monitoring/health"
	"opswatch/pkg/monitoring/resource"
	"opswatch/pkg/monitoring/telemetry"
	mysqlstore "opswatch/pkg/store/mysql"
	"opswatch/pkg/store/mysql/model"
	redisstore "opswatch/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

const (
	cpuSampleInterval = time.Second
	drainTimeout      = 10 * time.Second
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logger
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	logger.InfoCtx(app.ctx, "Server ID: %s, %d monitored services", app.config.Monitoring.ServerID, len(app.config.Services))
	return nil
}

func (app *Application) initMetrics() error {
	app.metrics = metrics.NewRegistry()
	return nil
}

// initStore opens the telemetry store, migrates it and registers the configured services
func (app *Application) initStore() error {
	repo, err := mysqlstore.NewRepository(app.config.Database)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
	defer cancel()

	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return err
	}

	services := make([]*model.ServiceHealth, 0, len(app.config.Services))
	for _, svc := range app.config.Services {
		services = append(services, &model.ServiceHealth{
			ServiceName: svc.Name,
			ServiceType: svc.Type,
			EndpointURL: svc.URL,
		})
	}
	if err := repo.ServiceHealth.EnsureServices(ctx, services); err != nil {
		_ = repo.Close()
		return fmt.Errorf("failed to register services: %w", err)
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		if err := repo.Close(); err != nil {
			logger.ErrorCtx(app.ctx, "Failed to close store: %v", err)
			return
		}
		logger.InfoCtx(app.ctx, "Store connection has been closed")
	})

	logger.InfoCtx(app.ctx, "Store ready (driver: %s)", repo.GetDatastore().Dialect())
	return nil
}

// initRedis connects to Redis when an address is configured
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		logger.InfoCtx(app.ctx, "Redis not configured, background jobs run without distributed locks")
		return nil
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initTelemetry starts the asynchronous request log writer
func (app *Application) initTelemetry() error {
	writer := telemetry.NewWriter(app.mysqlRepo.RequestLog, app.config.Telemetry, app.metrics)
	writer.Start()

	app.logWriter = writer
	app.registerCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := writer.Close(ctx); err != nil {
			logger.WarnCtx(app.ctx, "Request log writer did not drain (%d pending): %v", writer.Pending(), err)
			return
		}
		logger.InfoCtx(app.ctx, "Request log writer drained")
	})
	return nil
}

// initMonitors builds the health prober, the resource sampler and the alert evaluator
func (app *Application) initMonitors() error {
	app.prober = health.NewProber(app.config.Services, app.mysqlRepo.ServiceHealth, app.metrics)

	runner := resource.NewExecRunner()
	opts := []resource.SamplerOption{
		resource.WithGPUProbe(resource.NewNvidiaSMIProbe(runner)),
	}
	containers, err := resource.NewContainerProbe(app.config.Containers, runner)
	if err != nil {
		// container counting is optional; the sampler records zero instead
		logger.WarnCtx(app.ctx, "Container counting disabled: %v", err)
	} else if containers != nil {
		opts = append(opts, resource.WithContainerProbe(containers))
	}

	app.sampler = resource.NewSampler(
		app.config.Monitoring.ServerID,
		app.config.Monitoring.DiskPath,
		app.mysqlRepo.ResourceSample,
		resource.NewHostCollector(cpuSampleInterval),
		opts...,
	)

	return app.initEvaluator()
}

// initEvaluator builds the alert evaluator with a cooldown seeded from the store
func (app *Application) initEvaluator() error {
	cooldown := alert.NewCooldown(app.config.Monitoring.AlertCooldown)

	ctx, cancel := context.WithTimeout(app.ctx, 10*time.Second)
	defer cancel()
	if err := cooldown.Seed(ctx, app.mysqlRepo.Alert, time.Now().UTC()); err != nil {
		// an empty cooldown only risks one duplicate alert per signature
		logger.WarnCtx(app.ctx, "Failed to seed alert cooldown: %v", err)
	}

	app.evaluator = alert.NewEvaluator(
		app.mysqlRepo,
		app.config.Thresholds,
		app.config.Monitoring,
		cooldown,
		app.metrics,
	)
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.monitoringService = service.NewMonitoringService(app.mysqlRepo)
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.monitoringHandler = handler.NewMonitoringHandler(app.monitoringService)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	// Initialize router
	r := router.NewRouter(app.monitoringHandler, app.logWriter, app.metrics)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine; panics are recovered by the telemetry middleware
	app.ginEngine = gin.New()

	// Setup routes
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}
