// Package resource samples host resource usage into an append-only time series.
package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"opswatch/pkg/logger"
	"opswatch/pkg/store/mysql/model"
)

// Store persists resource samples
type Store interface {
	Insert(ctx context.Context, sample *model.SystemResourceSample) error
	ActiveConnections(ctx context.Context) (int, error)
}

// Sampler takes one host snapshot per tick
type Sampler struct {
	serverID   string
	diskPath   string
	store      Store
	host       HostCollector
	gpu        GPUProbe
	containers ContainerProbe
	now        func() time.Time

	mu   sync.Mutex
	last time.Time
}

// SamplerOption configures a Sampler
type SamplerOption func(*Sampler)

// WithGPUProbe enables GPU sampling
func WithGPUProbe(p GPUProbe) SamplerOption {
	return func(s *Sampler) { s.gpu = p }
}

// WithContainerProbe enables container counting
func WithContainerProbe(p ContainerProbe) SamplerOption {
	return func(s *Sampler) { s.containers = p }
}

// WithSampleClock replaces the clock used for sample timestamps
func WithSampleClock(now func() time.Time) SamplerOption {
	return func(s *Sampler) { s.now = now }
}

// NewSampler creates a sampler identified by serverID
func NewSampler(serverID, diskPath string, store Store, host HostCollector, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		serverID: serverID,
		diskPath: diskPath,
		store:    store,
		host:     host,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick samples the host and appends the sample
func (s *Sampler) Tick(ctx context.Context) error {
	sample, err := s.Sample(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to sample system resources: %v", err)
		return err
	}
	if err := s.store.Insert(ctx, sample); err != nil {
		logger.ErrorCtx(ctx, "failed to store resource sample: %v", err)
		return fmt.Errorf("insert resource sample: %w", err)
	}
	logger.DebugCtx(ctx, "resource sample stored: mem=%.1f%% cpu=%.1f%% disk=%.1f%%",
		sample.MemoryUsagePercent, sample.CPUUsagePercent, sample.DiskUsagePercent)
	return nil
}

// Sample assembles one snapshot without storing it. Optional probes that have no
// data leave their fields at zero.
func (s *Sampler) Sample(ctx context.Context) (*model.SystemResourceSample, error) {
	snap, err := s.host.Collect(ctx, s.diskPath)
	if err != nil {
		return nil, err
	}

	sample := &model.SystemResourceSample{
		ServerID:           s.serverID,
		MemoryTotalMB:      snap.MemoryTotalMB,
		MemoryUsedMB:       snap.MemoryUsedMB,
		MemoryUsagePercent: snap.MemoryUsagePercent,
		CPUUsagePercent:    snap.CPUUsagePercent,
		CPUCount:           snap.CPUCount,
		DiskTotalGB:        snap.DiskTotalGB,
		DiskUsedGB:         snap.DiskUsedGB,
		DiskUsagePercent:   snap.DiskUsagePercent,
		NetworkBytesSent:   snap.NetworkBytesSent,
		NetworkBytesRecv:   snap.NetworkBytesRecv,
	}

	if s.gpu != nil {
		if gpu, ok := s.gpu.GPU(ctx); ok {
			sample.GPUCount = gpu.Count
			sample.GPUMemoryTotalMB = gpu.MemoryTotalMB
			sample.GPUMemoryUsedMB = gpu.MemoryUsedMB
		}
	}
	if s.containers != nil {
		if n, ok := s.containers.RunningContainers(ctx); ok {
			sample.RunningContainers = n
		}
	}
	if n, err := s.store.ActiveConnections(ctx); err == nil {
		sample.ActiveDBConnections = n
	} else {
		logger.DebugCtx(ctx, "active connection count unavailable: %v", err)
	}

	sample.SampledAt = s.nextTimestamp()
	return sample, nil
}

// nextTimestamp keeps sample times strictly increasing for this server
func (s *Sampler) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().Truncate(time.Millisecond)
	if !ts.After(s.last) {
		ts = s.last.Add(time.Millisecond)
	}
	s.last = ts
	return ts
}
