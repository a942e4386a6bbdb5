package model

import "time"

// Service kinds
const (
	ServiceTypeLLM = "llm"
	ServiceTypeAPI = "api"
)

// Service health statuses
const (
	HealthStatusHealthy     = "healthy"
	HealthStatusDegraded    = "degraded"
	HealthStatusDown        = "down"
	HealthStatusInactive    = "inactive"
	HealthStatusError       = "error"
	HealthStatusMaintenance = "maintenance"
)

// ServiceHealth is the current health record of one monitored service.
// TotalRequests, SuccessfulRequests and ErrorRequests are maintained by other
// subsystems and are never written by the prober.
type ServiceHealth struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ServiceName        string     `gorm:"size:128;not null;uniqueIndex:uk_service_name" json:"service_name"`
	ServiceType        string     `gorm:"size:32;not null" json:"service_type"`
	EndpointURL        string     `gorm:"size:512" json:"endpoint_url"`
	Status             string     `gorm:"size:32;not null;default:inactive;index:idx_health_status" json:"status"`
	LastHealthCheck    *time.Time `json:"last_health_check"`
	TotalRequests      int64      `gorm:"default:0" json:"total_requests"`
	SuccessfulRequests int64      `gorm:"default:0" json:"successful_requests"`
	ErrorRequests      int64      `gorm:"default:0" json:"error_requests"`
	ErrorCount         int64      `gorm:"default:0" json:"error_count"`
	CheckCount         int64      `gorm:"default:0" json:"check_count"`
	AvgResponseTime    float64    `gorm:"default:0" json:"avg_response_time"`
	MinResponseTime    float64    `gorm:"default:0" json:"min_response_time"`
	MaxResponseTime    float64    `gorm:"default:0" json:"max_response_time"`
	LastResponseTime   float64    `gorm:"default:0" json:"last_response_time"`
	MemoryUsageMB      float64    `gorm:"default:0" json:"memory_usage_mb"`
	CPUUsagePercent    float64    `gorm:"default:0" json:"cpu_usage_percent"`
	UptimeSeconds      int64      `gorm:"default:0" json:"uptime_seconds"`
	LastError          string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ServiceHealth) TableName() string { return "service_health" }
