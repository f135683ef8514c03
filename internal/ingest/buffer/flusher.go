package buffer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// FlushThreshold is the record count that triggers an early flush.
	FlushThreshold = 100
	// FlushInterval is the maximum time between flushes of one buffer.
	FlushInterval = time.Second

	retryDelay           = 500 * time.Millisecond
	shutdownFlushTimeout = 10 * time.Second
)

// FlushFunc persists one drained batch. It must be atomic from the caller's
// perspective: either the whole batch becomes visible or an error is
// returned and the identical batch is retried.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Flusher drains one signal's write buffer on a size-or-time trigger. Exactly
// one Flusher goroutine runs per buffer, which is what keeps two flushes of
// the same buffer from interleaving.
type Flusher[T any] struct {
	name       string
	buffer     *WriteBuffer[T]
	flush      FlushFunc[T]
	afterFlush func(batch []T)
	interval   time.Duration
	logger     *zap.Logger
}

// NewFlusher wires a buffer to its persistence function. afterFlush, when
// non-nil, receives each batch after it is durable (the live-tail hand-off
// for logs); it is never called for a batch that failed to persist.
func NewFlusher[T any](
	name string,
	buf *WriteBuffer[T],
	flush FlushFunc[T],
	afterFlush func(batch []T),
	logger *zap.Logger,
) *Flusher[T] {
	return &Flusher[T]{
		name:       name,
		buffer:     buf,
		flush:      flush,
		afterFlush: afterFlush,
		interval:   FlushInterval,
		logger:     logger,
	}
}

// WithInterval overrides the time-based flush trigger.
func (f *Flusher[T]) WithInterval(interval time.Duration) *Flusher[T] {
	if interval > 0 {
		f.interval = interval
	}
	return f
}

// Run flushes until ctx is cancelled, then performs one final drain so
// accepted records are not lost on shutdown. Callers must stop ingestion
// before cancelling.
func (f *Flusher[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
			f.flushPending(drainCtx)
			cancel()
			return
		case <-ticker.C:
		case <-f.buffer.Notify():
			ticker.Reset(f.interval)
		}
		f.flushPending(ctx)
	}
}

// flushPending drains the buffer and retries the snapshot as a unit until it
// persists or the context is cancelled. Appends continue into the fresh
// buffer while this runs.
func (f *Flusher[T]) flushPending(ctx context.Context) {
	batch := f.buffer.Drain()
	if len(batch) == 0 {
		return
	}
	for {
		err := f.flush(ctx, batch)
		if err == nil {
			if f.afterFlush != nil {
				f.afterFlush(batch)
			}
			return
		}
		f.logger.Error("flush failed, retrying batch",
			zap.String("buffer", f.name),
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			f.logger.Error("abandoning unflushed batch on shutdown",
				zap.String("buffer", f.name),
				zap.Int("batch_size", len(batch)),
			)
			return
		case <-time.After(retryDelay):
		}
	}
}
