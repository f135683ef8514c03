package buffer

import (
	"errors"
	"sync"
)

// ErrBufferFull signals backpressure: the buffer is at capacity and the
// record was not enqueued. Callers map this to a resource-exhausted status.
var ErrBufferFull = errors.New("write buffer at capacity")

// WriteBuffer is the bounded per-signal accumulator on the write path. It is
// the only mutable structure shared between ingest callers and the flusher.
type WriteBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	notifyAt int
	notify   chan struct{}
	onReject func(rejected int)
}

// NewWriteBuffer returns a buffer holding at most capacity records. Once the
// length reaches notifyAt, a signal is emitted on Notify so the flusher can
// drain without waiting for its timer.
func NewWriteBuffer[T any](capacity, notifyAt int) *WriteBuffer[T] {
	return &WriteBuffer[T]{
		items:    make([]T, 0, notifyAt),
		capacity: capacity,
		notifyAt: notifyAt,
		notify:   make(chan struct{}, 1),
	}
}

// WithRejectHook registers a callback receiving the number of records turned
// away each time an append fails with ErrBufferFull. Set it before the buffer
// is shared.
func (wb *WriteBuffer[T]) WithRejectHook(hook func(rejected int)) *WriteBuffer[T] {
	wb.onReject = hook
	return wb
}

// Append enqueues one record or fails with ErrBufferFull. It never blocks on
// capacity.
func (wb *WriteBuffer[T]) Append(item T) error {
	wb.mu.Lock()
	if len(wb.items) >= wb.capacity {
		wb.mu.Unlock()
		if wb.onReject != nil {
			wb.onReject(1)
		}
		return ErrBufferFull
	}
	wb.items = append(wb.items, item)
	length := len(wb.items)
	wb.mu.Unlock()

	wb.maybeNotify(length)
	return nil
}

// AppendAll enqueues the whole batch or none of it. A batch that does not fit
// in the remaining capacity fails with ErrBufferFull without buffering any
// records, so a caller that retries the same batch never duplicates a prefix
// of it.
func (wb *WriteBuffer[T]) AppendAll(items []T) error {
	if len(items) == 0 {
		return nil
	}
	wb.mu.Lock()
	if len(wb.items)+len(items) > wb.capacity {
		wb.mu.Unlock()
		if wb.onReject != nil {
			wb.onReject(len(items))
		}
		return ErrBufferFull
	}
	wb.items = append(wb.items, items...)
	length := len(wb.items)
	wb.mu.Unlock()

	wb.maybeNotify(length)
	return nil
}

func (wb *WriteBuffer[T]) maybeNotify(length int) {
	if length >= wb.notifyAt {
		select {
		case wb.notify <- struct{}{}:
		default:
		}
	}
}

// Drain hands off the current contents and installs a fresh empty slice, so
// appends resume immediately while the snapshot is being flushed.
func (wb *WriteBuffer[T]) Drain() []T {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if len(wb.items) == 0 {
		return nil
	}
	snapshot := wb.items
	wb.items = make([]T, 0, wb.notifyAt)
	return snapshot
}

func (wb *WriteBuffer[T]) Len() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return len(wb.items)
}

// Notify fires when the buffer reaches its flush threshold.
func (wb *WriteBuffer[T]) Notify() <-chan struct{} {
	return wb.notify
}
