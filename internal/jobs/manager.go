package jobs

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"opswatch/pkg/logger"
	"opswatch/pkg/metrics"
)

const defaultPanicBackoff = 5 * time.Second

// Job represents a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Manager orchestrates the lifecycle of background jobs.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	jobs         []Job
	started      bool
	metrics      *metrics.Registry
	panicBackoff time.Duration

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context, reg *metrics.Registry) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:          ctx,
		cancel:       cancel,
		jobs:         make([]Job, 0),
		metrics:      reg,
		panicBackoff: defaultPanicBackoff,
	}
}

// Register adds a job to the manager.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

// Jobs returns the registered job names.
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for _, job := range m.jobs {
		names = append(names, job.Name())
	}
	return names
}

// Start launches all registered jobs.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.runJob(job)
	}
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runJob(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	// Run immediately once.
	m.executeJob(job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.executeJob(job)
		}
	}
}

// executeJob runs one tick. A panicking tick is logged and followed by a short
// backoff; the job keeps its schedule afterwards.
func (m *Manager) executeJob(job Job) {
	if m.ctx.Err() != nil {
		return
	}
	start := time.Now()
	outcome := "success"

	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			logger.ErrorCtx(m.ctx, "background job %s panicked: %v\nstack:\n%s", job.Name(), r, string(debug.Stack()))
		}
		if m.metrics != nil {
			m.metrics.JobRunsTotal.WithLabelValues(job.Name(), outcome).Inc()
			m.metrics.JobDuration.WithLabelValues(job.Name()).Observe(time.Since(start).Seconds())
		}
		if outcome == "panic" {
			select {
			case <-m.ctx.Done():
			case <-time.After(m.panicBackoff):
			}
		}
	}()

	if err := job.Run(m.ctx); err != nil {
		outcome = "error"
		logger.WarnCtx(m.ctx, "background job %s failed: %v", job.Name(), err)
	}
}
