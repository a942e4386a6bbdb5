package model

import "time"

// SystemResourceSample is an append-only point-in-time snapshot of host resources
type SystemResourceSample struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID            string    `gorm:"size:128;not null;index:idx_server_sampled,priority:1" json:"server_id"`
	MemoryTotalMB       float64   `json:"memory_total_mb"`
	MemoryUsedMB        float64   `json:"memory_used_mb"`
	MemoryUsagePercent  float64   `json:"memory_usage_percent"`
	CPUUsagePercent     float64   `json:"cpu_usage_percent"`
	CPUCount            int       `json:"cpu_count"`
	DiskTotalGB         float64   `json:"disk_total_gb"`
	DiskUsedGB          float64   `json:"disk_used_gb"`
	DiskUsagePercent    float64   `json:"disk_usage_percent"`
	GPUCount            int       `gorm:"default:0" json:"gpu_count"`
	GPUMemoryTotalMB    float64   `gorm:"default:0" json:"gpu_memory_total_mb"`
	GPUMemoryUsedMB     float64   `gorm:"default:0" json:"gpu_memory_used_mb"`
	NetworkBytesSent    uint64    `json:"network_bytes_sent"`
	NetworkBytesRecv    uint64    `json:"network_bytes_recv"`
	ActiveDBConnections int       `gorm:"default:0" json:"active_db_connections"`
	RunningContainers   int       `gorm:"default:0" json:"running_containers"`
	SampledAt           time.Time `gorm:"not null;index:idx_server_sampled,priority:2;index:idx_sampled_at" json:"sampled_at"`
}

func (SystemResourceSample) TableName() string { return "system_resource_samples" }
