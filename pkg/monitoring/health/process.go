package health

import (
	"context"
	"net/url"
	"strconv"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is the resource usage of the process serving a port
type ProcessStats struct {
	MemoryMB   float64
	CPUPercent float64
}

// ProcessInspector finds the process listening on a local port
type ProcessInspector interface {
	Inspect(ctx context.Context, port int) ProcessStats
}

type gopsutilInspector struct{}

// NewProcessInspector inspects local processes through gopsutil
func NewProcessInspector() ProcessInspector {
	return gopsutilInspector{}
}

// Inspect returns zero stats when no local process listens on port
func (gopsutilInspector) Inspect(ctx context.Context, port int) ProcessStats {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return ProcessStats{}
	}
	for _, conn := range conns {
		if conn.Status != "LISTEN" || int(conn.Laddr.Port) != port || conn.Pid <= 0 {
			continue
		}
		proc, err := process.NewProcessWithContext(ctx, conn.Pid)
		if err != nil {
			return ProcessStats{}
		}
		var stats ProcessStats
		if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			stats.MemoryMB = float64(mem.RSS) / 1024 / 1024
		}
		if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
			stats.CPUPercent = cpu
		}
		return stats
	}
	return ProcessStats{}
}

// PortOf returns the TCP port of a service URL, 0 when it cannot be determined
func PortOf(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		return n
	}
	switch u.Scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}
