// Package usagelog persists completion outcomes without putting the database on
// the request path. Completions are queued in memory and written in batches.
package usagelog

import (
	"context"
	"sync"
	"time"

	"github.com/upb/tavern-oracle/models"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize     = 1024
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
)

// BatchWriter persists a batch of completion logs
type BatchWriter interface {
	InsertBatch(ctx context.Context, logs []*models.CompletionLog) error
}

// Recorder queues completion logs and flushes them through a BatchWriter.
// When the queue is full new records are dropped and counted.
type Recorder struct {
	writer        BatchWriter
	logger        *zap.Logger
	queue         chan *models.CompletionLog
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	dropped int64
	written int64
}

// Option configures a Recorder
type Option func(*Recorder)

// WithBatchSize sets how many rows are written per flush
func WithBatchSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval sets how long a partial batch may wait
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithQueueSize sets the in-memory queue capacity
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan *models.CompletionLog, n)
		}
	}
}

// NewRecorder creates a recorder. Call Run to start flushing.
func NewRecorder(writer BatchWriter, logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		writer:        writer,
		logger:        logger,
		queue:         make(chan *models.CompletionLog, DefaultQueueSize),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordCompletion queues one completion. It never blocks.
func (r *Recorder) RecordCompletion(ctx context.Context, fingerprint string, result models.CompletionResult) error {
	log := models.NewCompletionLog(fingerprint, result)
	select {
	case r.queue <- log:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("usage log queue full, dropping record", zap.String("request_id", result.RequestID))
	}
	return nil
}

// Run flushes queued records until ctx is cancelled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.CompletionLog, 0, r.batchSize)
	for {
		select {
		case log := <-r.queue:
			batch = append(batch, log)
			if len(batch) >= r.batchSize {
				batch = r.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = r.flush(ctx, batch)
		case <-ctx.Done():
			r.drain(batch)
			return
		}
	}
}

func (r *Recorder) drain(batch []*models.CompletionLog) {
	for {
		select {
		case log := <-r.queue:
			batch = append(batch, log)
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.flush(ctx, batch)
			return
		}
	}
}

// flush writes the batch and returns a fresh one
func (r *Recorder) flush(ctx context.Context, batch []*models.CompletionLog) []*models.CompletionLog {
	if len(batch) == 0 {
		return batch
	}

	if err := r.writer.InsertBatch(ctx, batch); err != nil {
		r.logger.Error("failed to write usage log batch", zap.Int("rows", len(batch)), zap.Error(err))
		r.mu.Lock()
		r.dropped += int64(len(batch))
		r.mu.Unlock()
	} else {
		r.mu.Lock()
		r.written += int64(len(batch))
		r.mu.Unlock()
	}

	return make([]*models.CompletionLog, 0, r.batchSize)
}

// Stats returns how many rows were written and dropped so far
func (r *Recorder) Stats() (written, dropped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.dropped
}
