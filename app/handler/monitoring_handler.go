package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"opswatch/internal/service"
	"opswatch/pkg/logger"
	"opswatch/pkg/store/mysql"

	"github.com/gin-gonic/gin"
)

// MonitoringHandler handles monitoring API requests
type MonitoringHandler struct {
	monitoringService *service.MonitoringService
}

// NewMonitoringHandler creates a new monitoring handler
func NewMonitoringHandler(monitoringService *service.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{monitoringService: monitoringService}
}

// GetServiceHealth returns the health record of every monitored service
// GET /api/monitoring/health
func (h *MonitoringHandler) GetServiceHealth(c *gin.Context) {
	services, err := h.monitoringService.ServiceHealth(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list service health: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().UTC(),
		"services":  services,
		"count":     len(services),
	})
}

// GetResources returns the newest resource samples
// GET /api/monitoring/resources?limit=60
func (h *MonitoringHandler) GetResources(c *gin.Context) {
	limit, err := queryInt(c, "limit", service.DefaultResourceLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	samples, err := h.monitoringService.RecentResources(c.Request.Context(), limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list resource samples: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"samples": samples,
		"count":   len(samples),
	})
}

// GetAlerts returns unresolved alerts
// GET /api/monitoring/alerts?min_severity=3&limit=100
func (h *MonitoringHandler) GetAlerts(c *gin.Context) {
	minSeverity, err := queryInt(c, "min_severity", 0)
	if err != nil || minSeverity < 0 || minSeverity > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_severity must be between 1 and 5"})
		return
	}
	limit, err := queryInt(c, "limit", service.DefaultAlertLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	alerts, err := h.monitoringService.UnresolvedAlerts(c.Request.Context(), minSeverity, limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list alerts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ResolveAlertRequest is the body of a manual resolution
type ResolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// ResolveAlert manually resolves an alert
// POST /api/monitoring/alerts/:id/resolve
func (h *MonitoringHandler) ResolveAlert(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	var req ResolveAlertRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	err = h.monitoringService.ResolveAlert(c.Request.Context(), id, req.ResolvedBy)
	switch {
	case errors.Is(err, mysql.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, mysql.ErrAlertAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.ErrorCtx(c.Request.Context(), "failed to resolve alert %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}

// GetRequestSummary returns per-functionality traffic over a trailing window
// GET /api/monitoring/requests/summary?window=1h
func (h *MonitoringHandler) GetRequestSummary(c *gin.Context) {
	window := time.Hour
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
			return
		}
		window = d
	}

	summary, err := h.monitoringService.RequestSummary(c.Request.Context(), window)
	if errors.Is(err, service.ErrInvalidWindow) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to summarize requests: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window":        window.String(),
		"functionality": summary,
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
