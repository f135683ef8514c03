package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pharos-dev/pharos/internal/coldstore"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is the rotation cadence.
	DefaultInterval = 15 * time.Minute

	// batchLimit caps how many rows one cycle migrates per signal. Anything
	// beyond the cap remains eligible and is picked up next cycle.
	batchLimit = 10000
)

// HotSource is the slice of the hot store the rotator needs: candidate
// selection, batch linking, and post-durability deletion.
type HotSource interface {
	SelectLogsBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.LogEntry, error)
	DeleteLogs(ctx context.Context, ids []string) error
	SelectSpansBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Span, error)
	DeleteSpans(ctx context.Context, ids []string) error
	SelectSamplesBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.MetricSample, error)
	DeleteSamples(ctx context.Context, ids []int64) error
	InsertRotationBatch(ctx context.Context, batch model.RotationBatch) error
}

// Rotator migrates aged hot rows into immutable columnar batches. Each cycle
// runs the three signals independently: a failure for one signal never
// blocks the others, and a failed object write leaves the candidate rows in
// place for the next cycle.
type Rotator struct {
	hot      HotSource
	objects  coldstore.ObjectStore
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	onBatch  func(model.RotationBatch)
}

func NewRotator(
	hot HotSource,
	objects coldstore.ObjectStore,
	interval time.Duration,
	logger *zap.Logger,
) *Rotator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Rotator{
		hot:      hot,
		objects:  objects,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// WithBatchHook registers a callback invoked once per batch after it has been
// written, linked, and its hot rows deleted.
func (r *Rotator) WithBatchHook(hook func(model.RotationBatch)) *Rotator {
	r.onBatch = hook
	return r
}

// Run rotates on a fixed interval until ctx is cancelled. Cycles never
// overlap: the next tick is not serviced until the current cycle returns.
func (r *Rotator) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RotateAll(ctx)
		}
	}
}

// RotateAll runs one cycle across all three signals.
func (r *Rotator) RotateAll(ctx context.Context) {
	now := r.now()
	for _, signal := range []model.Signal{model.SignalLogs, model.SignalSpans, model.SignalMetrics} {
		if ctx.Err() != nil {
			return
		}
		if err := r.rotateSignal(ctx, signal, now); err != nil {
			r.logger.Error("rotation cycle failed for signal",
				zap.String("signal", string(signal)),
				zap.Error(err),
			)
		}
	}
}

func (r *Rotator) rotateSignal(ctx context.Context, signal model.Signal, now time.Time) error {
	cutoff := model.Cutoff(signal, now)
	switch signal {
	case model.SignalLogs:
		return r.rotateLogs(ctx, cutoff, now)
	case model.SignalSpans:
		return r.rotateSpans(ctx, cutoff, now)
	case model.SignalMetrics:
		return r.rotateSamples(ctx, cutoff, now)
	default:
		return fmt.Errorf("unknown signal %q", signal)
	}
}

func (r *Rotator) rotateLogs(ctx context.Context, cutoff, now time.Time) error {
	entries, err := r.hot.SelectLogsBefore(ctx, cutoff, batchLimit)
	if err != nil {
		return fmt.Errorf("failed to select candidate logs: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	data, err := coldstore.EncodeLogs(entries)
	if err != nil {
		return fmt.Errorf("failed to encode log batch: %w", err)
	}
	batch := r.newBatch(model.SignalLogs, entries[0].Timestamp, entries[len(entries)-1].Timestamp, len(entries), now)
	if err := r.publish(ctx, batch, data); err != nil {
		return err
	}
	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.Id
	}
	if err := r.hot.DeleteLogs(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete rotated logs: %w", err)
	}
	r.logBatch(batch)
	return nil
}

func (r *Rotator) rotateSpans(ctx context.Context, cutoff, now time.Time) error {
	spans, err := r.hot.SelectSpansBefore(ctx, cutoff, batchLimit)
	if err != nil {
		return fmt.Errorf("failed to select candidate spans: %w", err)
	}
	if len(spans) == 0 {
		return nil
	}
	data, err := coldstore.EncodeSpans(spans)
	if err != nil {
		return fmt.Errorf("failed to encode span batch: %w", err)
	}
	batch := r.newBatch(model.SignalSpans, spans[0].StartTime, spans[len(spans)-1].StartTime, len(spans), now)
	if err := r.publish(ctx, batch, data); err != nil {
		return err
	}
	ids := make([]string, len(spans))
	for i, span := range spans {
		ids[i] = span.Id
	}
	if err := r.hot.DeleteSpans(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete rotated spans: %w", err)
	}
	r.logBatch(batch)
	return nil
}

func (r *Rotator) rotateSamples(ctx context.Context, cutoff, now time.Time) error {
	samples, err := r.hot.SelectSamplesBefore(ctx, cutoff, batchLimit)
	if err != nil {
		return fmt.Errorf("failed to select candidate samples: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}
	data, err := coldstore.EncodeSamples(samples)
	if err != nil {
		return fmt.Errorf("failed to encode sample batch: %w", err)
	}
	batch := r.newBatch(model.SignalMetrics, samples[0].Timestamp, samples[len(samples)-1].Timestamp, len(samples), now)
	if err := r.publish(ctx, batch, data); err != nil {
		return err
	}
	ids := make([]int64, len(samples))
	for i, sample := range samples {
		ids[i] = sample.Id
	}
	if err := r.hot.DeleteSamples(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete rotated samples: %w", err)
	}
	r.logBatch(batch)
	return nil
}

// newBatch builds the batch descriptor. The batch id comes from a generated
// UUID, never from record content.
func (r *Rotator) newBatch(signal model.Signal, start, end time.Time, count int, now time.Time) model.RotationBatch {
	id := uuid.NewString()
	return model.RotationBatch{
		Id:          id,
		Signal:      signal,
		Start:       start,
		End:         end,
		ObjectPath:  coldstore.BatchPath(signal, start, id),
		RecordCount: count,
		CreatedAt:   now,
	}
}

// publish writes the object and, only after the durable write, links the
// batch from the hot store. An object that was written but never linked is
// simply an orphan; the rows stay hot and are rotated again next cycle.
func (r *Rotator) publish(ctx context.Context, batch model.RotationBatch, data []byte) error {
	if err := r.objects.Put(ctx, batch.ObjectPath, data); err != nil {
		return fmt.Errorf("failed to write cold batch %s: %w", batch.Id, err)
	}
	if err := r.hot.InsertRotationBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to link cold batch %s: %w", batch.Id, err)
	}
	return nil
}

func (r *Rotator) logBatch(batch model.RotationBatch) {
	if r.onBatch != nil {
		r.onBatch(batch)
	}
	r.logger.Info("rotated batch to cold storage",
		zap.String("batch_id", batch.Id),
		zap.String("signal", string(batch.Signal)),
		zap.Int("records", batch.RecordCount),
		zap.String("path", batch.ObjectPath),
	)
}
