package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleetdesk.org/internal/obs"
)

const (
	defaultQueueSize    = 1024
	defaultWorkers      = 2
	defaultWriteTimeout = 5 * time.Second
)

type job struct {
	ctx context.Context
	rec Record
}

// Writer persists records asynchronously through a bounded queue. Failures
// and drops are logged and counted, never returned to the request path.
type Writer struct {
	store   Store
	queue   chan job
	workers int
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// WriterOption configures Writer.
type WriterOption func(*Writer)

func WithQueueSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.queue = make(chan job, n)
		}
	}
}

func WithWorkers(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.workers = n
		}
	}
}

func WithWriteTimeout(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithWriterLogger(l *zap.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter starts the worker goroutines. Call Close to drain them.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:   store,
		queue:   make(chan job, defaultQueueSize),
		workers: defaultWorkers,
		timeout: defaultWriteTimeout,
		logger:  obs.Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Enqueue schedules rec for persistence without blocking. The request
// context only contributes values; its cancellation does not reach the write.
func (w *Writer) Enqueue(ctx context.Context, rec Record) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(rec, "writer closed")
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case w.queue <- job{ctx: context.WithoutCancel(ctx), rec: rec}:
		obs.SetAuditQueueDepth(len(w.queue))
		return true
	default:
		w.drop(rec, "queue full")
		return false
	}
}

func (w *Writer) drop(rec Record, reason string) {
	obs.ObserveAuditRecord("dropped")
	w.logger.Warn("audit record dropped",
		zap.String("reason", reason),
		zap.String("action", rec.Action),
		zap.String("request_id", rec.RequestID),
	)
}

func (w *Writer) run() {
	defer w.wg.Done()
	for j := range w.queue {
		obs.SetAuditQueueDepth(len(w.queue))
		w.write(j)
	}
}

func (w *Writer) write(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, w.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			obs.ObserveAuditRecord("failed")
			w.logger.Error("audit write panicked", zap.Any("panic", p), zap.String("action", j.rec.Action))
		}
	}()
	if _, err := w.store.AppendAudit(ctx, j.rec); err != nil {
		obs.ObserveAuditRecord("failed")
		w.logger.Error("audit write failed",
			zap.Error(err),
			zap.String("action", j.rec.Action),
			zap.String("request_id", j.rec.RequestID),
		)
		return
	}
	obs.ObserveAuditRecord("written")
}

// Close stops accepting records and waits for queued ones to be written or
// for ctx to end.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
