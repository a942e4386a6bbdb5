package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
)

const bytesPerMB = 1024 * 1024
const bytesPerGB = 1024 * 1024 * 1024

// HostSnapshot holds host-wide resource usage
type HostSnapshot struct {
	MemoryTotalMB      float64
	MemoryUsedMB       float64
	MemoryUsagePercent float64
	CPUUsagePercent    float64
	CPUCount           int
	DiskTotalGB        float64
	DiskUsedGB         float64
	DiskUsagePercent   float64
	NetworkBytesSent   uint64
	NetworkBytesRecv   uint64
}

// HostCollector reads host resource usage
type HostCollector interface {
	Collect(ctx context.Context, diskPath string) (*HostSnapshot, error)
}

type gopsutilHost struct {
	cpuInterval time.Duration
}

// NewHostCollector reads host usage through gopsutil. CPU usage is measured over cpuInterval.
func NewHostCollector(cpuInterval time.Duration) HostCollector {
	return &gopsutilHost{cpuInterval: cpuInterval}
}

func (h *gopsutilHost) Collect(ctx context.Context, diskPath string) (*HostSnapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory usage: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return nil, fmt.Errorf("read disk usage of %s: %w", diskPath, err)
	}
	percents, err := cpu.PercentWithContext(ctx, h.cpuInterval, false)
	if err != nil {
		return nil, fmt.Errorf("read cpu usage: %w", err)
	}

	snap := &HostSnapshot{
		MemoryTotalMB:      float64(vm.Total) / bytesPerMB,
		MemoryUsedMB:       float64(vm.Used) / bytesPerMB,
		MemoryUsagePercent: vm.UsedPercent,
		DiskTotalGB:        float64(du.Total) / bytesPerGB,
		DiskUsedGB:         float64(du.Used) / bytesPerGB,
		DiskUsagePercent:   du.UsedPercent,
	}
	if len(percents) > 0 {
		snap.CPUUsagePercent = percents[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCount = n
	}
	if io, err := gnet.IOCountersWithContext(ctx, false); err == nil && len(io) > 0 {
		snap.NetworkBytesSent = io[0].BytesSent
		snap.NetworkBytesRecv = io[0].BytesRecv
	}
	return snap, nil
}
