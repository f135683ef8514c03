package coldstore

import (
	"context"
	"fmt"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

// Reader materializes rotation batches back into typed records for the query
// engine.
type Reader struct {
	store  ObjectStore
	logger *zap.Logger
}

func NewReader(store ObjectStore, logger *zap.Logger) *Reader {
	return &Reader{store: store, logger: logger}
}

func (r *Reader) ReadLogs(ctx context.Context, batch model.RotationBatch) ([]model.LogEntry, error) {
	data, err := r.fetch(ctx, batch, model.SignalLogs)
	if err != nil {
		return nil, err
	}
	return DecodeLogs(data)
}

func (r *Reader) ReadSpans(ctx context.Context, batch model.RotationBatch) ([]model.Span, error) {
	data, err := r.fetch(ctx, batch, model.SignalSpans)
	if err != nil {
		return nil, err
	}
	return DecodeSpans(data)
}

func (r *Reader) ReadSamples(ctx context.Context, batch model.RotationBatch) ([]model.MetricSample, error) {
	data, err := r.fetch(ctx, batch, model.SignalMetrics)
	if err != nil {
		return nil, err
	}
	return DecodeSamples(data)
}

func (r *Reader) fetch(ctx context.Context, batch model.RotationBatch, signal model.Signal) ([]byte, error) {
	if batch.Signal != signal {
		return nil, fmt.Errorf("%w: batch %s holds %s", ErrSignalMismatch, batch.Id, batch.Signal)
	}
	data, err := r.store.Get(ctx, batch.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch %s: %w", batch.Id, err)
	}
	return data, nil
}
