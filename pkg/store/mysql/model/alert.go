package model

import "time"

// Alert types
const (
	AlertTypeWarning  = "warning"
	AlertTypeError    = "error"
	AlertTypeCritical = "critical"
)

// Alert components
const (
	ComponentModel  = "model"
	ComponentAPI    = "api"
	ComponentSystem = "system"
)

// ResolvedByAutoSystem marks alerts closed by the auto-resolution pass
const ResolvedByAutoSystem = "auto_system"

// Alert is an operational alert. Severity is fixed at creation; once Resolved is
// true only the resolution fields are ever written.
type Alert struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AlertType     string     `gorm:"size:16;not null" json:"alert_type"`
	Component     string     `gorm:"size:16;not null;index:idx_alert_component,priority:1" json:"component"`
	ComponentName string     `gorm:"size:255;not null;index:idx_alert_component,priority:2" json:"component_name"`
	AlertKey      string     `gorm:"size:255;not null;index:idx_alert_key" json:"alert_key"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	Message       string     `gorm:"type:text" json:"message"`
	Severity      int        `gorm:"not null" json:"severity"`
	Metadata      JSONMap    `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time  `gorm:"not null;index:idx_alert_created" json:"created_at"`
	Resolved      bool       `gorm:"not null;default:false;index:idx_alert_resolved" json:"resolved"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    string     `gorm:"size:128" json:"resolved_by,omitempty"`
}

func (Alert) TableName() string { return "alerts" }

// AlertTypeForSeverity maps a 1-5 severity onto the alert type vocabulary
func AlertTypeForSeverity(severity int) string {
	switch {
	case severity >= 5:
		return AlertTypeCritical
	case severity == 4:
		return AlertTypeError
	default:
		return AlertTypeWarning
	}
}
