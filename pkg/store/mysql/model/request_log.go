package model

import "time"

// Request error types
const (
	ErrorTypeClient   = "client_error"
	ErrorTypeServer   = "server_error"
	ErrorTypeTimeout  = "timeout"
	ErrorTypeInternal = "internal_error"
)

// RequestLog is written exactly once per inbound HTTP request
type RequestLog struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID         string    `gorm:"size:64;not null;uniqueIndex:uk_request_id" json:"request_id"`
	Endpoint          string    `gorm:"size:512;not null" json:"endpoint"`
	EndpointBase      string    `gorm:"size:255;not null;index:idx_fn_endpoint_time,priority:2" json:"endpoint_base"`
	Method            string    `gorm:"size:16;not null" json:"method"`
	Functionality     string    `gorm:"size:64;not null;index:idx_fn_endpoint_time,priority:1" json:"functionality"`
	ModelUsed         string    `gorm:"size:128" json:"model_used,omitempty"`
	RequestSizeBytes  int64     `json:"request_size_bytes"`
	ResponseSizeBytes int64     `json:"response_size_bytes"`
	ResponseTime      float64   `gorm:"not null" json:"response_time"`
	StatusCode        int       `gorm:"not null" json:"status_code"`
	ErrorType         string    `gorm:"size:32" json:"error_type,omitempty"`
	ErrorMessage      string    `gorm:"type:text" json:"error_message,omitempty"`
	ClientIP          string    `gorm:"size:64" json:"client_ip"`
	UserAgent         string    `gorm:"size:512" json:"user_agent"`
	IsAIQuery         bool      `gorm:"default:false" json:"is_ai_query"`
	ComplexityScore   *float64  `json:"complexity_score,omitempty"`
	RiskScore         *float64  `json:"risk_score,omitempty"`
	ExecutionTime     *float64  `json:"execution_time,omitempty"`
	DatabaseName      string    `gorm:"size:128" json:"database_name,omitempty"`
	CreatedAt         time.Time `gorm:"not null;index:idx_fn_endpoint_time,priority:3;index:idx_request_created" json:"created_at"`
}

func (RequestLog) TableName() string { return "request_logs" }
