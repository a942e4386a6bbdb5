package telemetry

import (
	"context"
	"sync"
	"time"

	"opswatch/pkg/config"
	"opswatch/pkg/logger"
	"opswatch/pkg/metrics"
	"opswatch/pkg/store/mysql/model"
)

const writeTimeout = 10 * time.Second

// LogStore persists request logs
type LogStore interface {
	CreateBatch(ctx context.Context, recs []*model.RequestLog) error
}

// Writer accepts request logs without blocking and persists them in batches from
// a single background goroutine. A full queue drops the record.
type Writer struct {
	store         LogStore
	metrics       *metrics.Registry
	queue         chan *model.RequestLog
	batchSize     int
	flushInterval time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewWriter creates a writer; call Start before submitting
func NewWriter(store LogStore, cfg config.TelemetryConfig, m *metrics.Registry) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Writer{
		store:         store,
		metrics:       m,
		queue:         make(chan *model.RequestLog, cfg.QueueSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		done:          make(chan struct{}),
	}
}

// Start launches the background writer
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Submit enqueues rec and returns immediately. It reports false when the record
// was dropped because the queue is full or the writer is closed.
func (w *Writer) Submit(rec *model.RequestLog) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped(rec, "writer closed")
		return false
	}
	select {
	case w.queue <- rec:
		return true
	default:
		w.dropped(rec, "queue full")
		return false
	}
}

// Pending returns the number of queued records not yet written
func (w *Writer) Pending() int {
	return len(w.queue)
}

// Close stops intake and waits until queued records are written or ctx expires
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	started := w.started
	w.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]*model.RequestLog, 0, w.batchSize)
	for {
		select {
		case rec, ok := <-w.queue:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]*model.RequestLog, 0, w.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]*model.RequestLog, 0, w.batchSize)
			}
		}
	}
}

func (w *Writer) flush(batch []*model.RequestLog) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.store.CreateBatch(ctx, batch); err != nil {
		logger.ErrorCtx(ctx, "failed to persist %d request logs: %v", len(batch), err)
		if w.metrics != nil {
			w.metrics.RequestLogWriteErrors.Inc()
		}
	}
}

func (w *Writer) dropped(rec *model.RequestLog, reason string) {
	logger.WarnCtx(logger.WithRequestID(context.Background(), rec.RequestID), "request log dropped: %s", reason)
	if w.metrics != nil {
		w.metrics.RequestLogsDropped.Inc()
	}
}
