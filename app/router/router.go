package router

import (
	"net/http"

	"opswatch/app/handler"
	"opswatch/app/middleware"
	"opswatch/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router Router
type Router struct {
	monitoringHandler *handler.MonitoringHandler
	logSink           middleware.LogSink
	metrics           *metrics.Registry
}

// NewRouter creates a new Router
func NewRouter(monitoringHandler *handler.MonitoringHandler, logSink middleware.LogSink, reg *metrics.Registry) *Router {
	return &Router{
		monitoringHandler: monitoringHandler,
		logSink:           logSink,
		metrics:           reg,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	// telemetry first so it sees every request, including panicking ones
	engine.Use(middleware.Telemetry(r.logSink, r.metrics))
	engine.Use(middleware.Logger("/health", "/metrics"))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if r.metrics != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.metrics.Gatherer(), promhttp.HandlerOpts{})))
	}

	monitoring := engine.Group("/api/monitoring")
	{
		monitoring.GET("/health", r.monitoringHandler.GetServiceHealth)
		monitoring.GET("/resources", r.monitoringHandler.GetResources)
		monitoring.GET("/alerts", r.monitoringHandler.GetAlerts)
		monitoring.POST("/alerts/:id/resolve", r.monitoringHandler.ResolveAlert)
		monitoring.GET("/requests/summary", r.monitoringHandler.GetRequestSummary)
	}
}
