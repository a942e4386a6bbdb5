package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"opswatch/app/handler"
	"opswatch/internal/jobs"
	"opswatch/internal/service"
	"opswatch/pkg/config"
	"opswatch/pkg/logger"
	"opswatch/pkg/metrics"
	"opswatch/pkg/monitoring/alert"
	"opswatch/pkg/monitoring/health"
	"opswatch/pkg/monitoring/resource"
	"opswatch/pkg/monitoring/telemetry"
	mysqlstore "opswatch/pkg/store/mysql"
	redisstore "opswatch/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient
	metrics     *metrics.Registry

	// Request telemetry
	logWriter *telemetry.Writer

	// Monitors
	prober    *health.Prober
	sampler   *resource.Sampler
	evaluator *alert.Evaluator

	// Service layer
	monitoringService *service.MonitoringService

	// Handler layer
	monitoringHandler *handler.MonitoringHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Cleanup functions, run in reverse registration order
	cleanupFuncs []func()
}

type initStep struct {
	name string
	fn   func() error
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// serveSteps builds everything needed by the long-running server
func (app *Application) serveSteps() []initStep {
	return []initStep{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Metrics", app.initMetrics},
		{"Store", app.initStore},
		{"Redis", app.initRedis},
		{"Request Telemetry", app.initTelemetry},
		{"Monitors", app.initMonitors},
		{"Service Layer", app.initServices},
		{"Handler Layer", app.initHandlers},
		{"Background Tasks", app.initJobs},
		{"HTTP Server", app.initHTTPServer},
	}
}

// evaluateSteps builds only what a single evaluation pass reads and writes
func (app *Application) evaluateSteps() []initStep {
	return []initStep{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Metrics", app.initMetrics},
		{"Store", app.initStore},
		{"Alert Evaluator", app.initEvaluator},
	}
}

// Initialize runs the given initialization steps in order
func (app *Application) Initialize(steps []initStep) error {
	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start background tasks
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager (%v)", app.jobsManager.Jobs())
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 2. Start HTTP server
	if app.httpServer != nil {
		go func() {
			logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
			if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
			}
		}()
	}

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown stops the jobs first, then the HTTP server, then drains the request
// log writer and finally releases Redis and the store.
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Cancel all background tasks and wait for in-flight ticks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(shutdownCtx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(shutdownCtx, "Shutdown timeout, some tasks may not have completed")
	}

	// 2. Stop HTTP server (stop accepting new requests)
	var shutdownErr error
	if app.httpServer != nil {
		logger.InfoCtx(shutdownCtx, "Shutting down HTTP server...")
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorCtx(shutdownCtx, "HTTP server shutdown error: %v", err)
			shutdownErr = err
		}
	}

	// 3. Execute all cleanup functions (in reverse registration order)
	logger.InfoCtx(shutdownCtx, "Executing cleanup functions...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	// 4. Sync logs
	_ = logger.Sync()

	logger.InfoCtx(shutdownCtx, "Graceful shutdown completed")
	return shutdownErr
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
