// Package service implements the federated query engine. Every query family
// follows the same merge rule: serve from the hot store alone while the
// requested range sits inside the signal's retention window, otherwise also
// scan intersecting cold batches, filter them with the same predicate, and
// merge-sort by timestamp before paging.
package service

import (
	"context"
	"time"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

// HotReader is the read-only slice of the hot store the engine consumes.
type HotReader interface {
	SearchLogs(ctx context.Context, filter model.LogFilter, limit int) ([]model.LogEntry, error)
	CountLogs(ctx context.Context, filter model.LogFilter) (int64, error)
	LogsForSession(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]model.LogEntry, error)
	SpansForTrace(ctx context.Context, traceID string) ([]model.Span, error)
	SearchSpans(ctx context.Context, filter model.TraceFilter, limit int) ([]model.Span, error)
	SpansForSession(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]model.Span, error)
	FindSeries(ctx context.Context, name string, labels map[string]string) (model.MetricSeries, error)
	ListSeries(ctx context.Context, name string) ([]model.MetricSeries, error)
	SamplesForSeries(ctx context.Context, seriesID int64, timeRange model.TimeRange) ([]model.MetricSample, error)
	BatchesInRange(ctx context.Context, signal model.Signal, timeRange model.TimeRange) ([]model.RotationBatch, error)
}

// ColdReader materializes cold batches back into typed records.
type ColdReader interface {
	ReadLogs(ctx context.Context, batch model.RotationBatch) ([]model.LogEntry, error)
	ReadSpans(ctx context.Context, batch model.RotationBatch) ([]model.Span, error)
	ReadSamples(ctx context.Context, batch model.RotationBatch) ([]model.MetricSample, error)
}

type Engine struct {
	hot    HotReader
	cold   ColdReader
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(hot HotReader, cold ColdReader, logger *zap.Logger) *Engine {
	return &Engine{
		hot:    hot,
		cold:   cold,
		logger: logger,
		now:    time.Now,
	}
}

// needsCold reports whether the range's lower bound reaches past the hot
// retention window of the signal.
func (e *Engine) needsCold(signal model.Signal, timeRange model.TimeRange) bool {
	return timeRange.Start.Before(model.Cutoff(signal, e.now()))
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
