package server

import (
	"context"
	"errors"
	"time"

	"github.com/pharos-dev/pharos/internal/correlation/service"
	"github.com/pharos-dev/pharos/internal/ingest/buffer"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	protoMetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	v1 "go.opentelemetry.io/proto/otlp/metrics/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SeriesUpserter resolves a (name, labels) identity to its series id,
// creating the series on first sight.
type SeriesUpserter interface {
	UpsertSeries(ctx context.Context, name string, labels map[string]string) (int64, error)
}

type MetricServiceServerImpl struct {
	protoMetrics.UnimplementedMetricsServiceServer
	writeBuffer Appender[model.MetricSample]
	series      SeriesUpserter
	seriesCache *SeriesCache
	resolver    service.Resolver
	logger      *zap.Logger
}

func NewMetricServiceServerImpl(
	logger *zap.Logger,
	writeBuffer Appender[model.MetricSample],
	series SeriesUpserter,
	seriesCache *SeriesCache,
	resolver service.Resolver,
) *MetricServiceServerImpl {
	logger.Info("Creating new MetricServiceServerImpl")
	return &MetricServiceServerImpl{
		logger:      logger,
		writeBuffer: writeBuffer,
		series:      series,
		seriesCache: seriesCache,
		resolver:    resolver,
	}
}

func (mss *MetricServiceServerImpl) Export(
	ctx context.Context,
	req *protoMetrics.ExportMetricsServiceRequest,
) (*protoMetrics.ExportMetricsServiceResponse, error) {
	var samples []model.MetricSample
	for _, resourceMetrics := range req.ResourceMetrics {
		var resourceAttributes map[string]string
		if resourceMetrics.Resource != nil {
			resourceAttributes = attributeMap(resourceMetrics.Resource.Attributes)
		}
		for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
			for _, metric := range scopeMetrics.Metrics {
				typed, err := mss.typeMetric(ctx, metric, resourceAttributes)
				if err != nil {
					return nil, err
				}
				samples = append(samples, typed...)
			}
		}
	}
	if err := mss.writeBuffer.AppendAll(samples); err != nil {
		if errors.Is(err, buffer.ErrBufferFull) {
			return nil, status.Error(codes.ResourceExhausted, "metric buffer at capacity")
		}
		mss.logger.Error("failed to buffer metric batch", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to accept metric samples")
	}
	return &protoMetrics.ExportMetricsServiceResponse{}, nil
}

func (mss *MetricServiceServerImpl) typeMetric(
	ctx context.Context,
	metric *v1.Metric,
	resourceAttributes map[string]string,
) ([]model.MetricSample, error) {
	var samples []model.MetricSample
	for _, point := range numberDataPoints(metric) {
		labels := attributeMap(point.Attributes)
		seriesID, err := mss.resolveSeries(ctx, metric.Name, labels)
		if err != nil {
			mss.logger.Error("failed to upsert metric series",
				zap.String("metric_name", metric.Name),
				zap.Error(err),
			)
			return nil, status.Error(codes.Internal, "failed to resolve metric series")
		}
		envelope := mss.resolver.Resolve(ctx, mergedAttributes(resourceAttributes, labels))
		samples = append(samples, model.MetricSample{
			SeriesId:  seriesID,
			Timestamp: time.Unix(0, int64(point.TimeUnixNano)).UTC(),
			Value:     pointValue(point),
			Envelope:  envelope,
		})
	}
	return samples, nil
}

// resolveSeries consults the cache before touching the store. Identity is
// the canonical series key, so label order never splits a series.
func (mss *MetricServiceServerImpl) resolveSeries(
	ctx context.Context,
	name string,
	labels map[string]string,
) (int64, error) {
	key := model.SeriesKey(name, labels)
	if id, found := mss.seriesCache.Get(key); found {
		return id, nil
	}
	id, err := mss.series.UpsertSeries(ctx, name, labels)
	if err != nil {
		return 0, err
	}
	mss.seriesCache.Put(key, id)
	return id, nil
}

// numberDataPoints flattens the scalar point families. Histogram and
// summary points are not stored.
func numberDataPoints(metric *v1.Metric) []*v1.NumberDataPoint {
	switch data := metric.Data.(type) {
	case *v1.Metric_Gauge:
		return data.Gauge.DataPoints
	case *v1.Metric_Sum:
		return data.Sum.DataPoints
	default:
		return nil
	}
}

func pointValue(point *v1.NumberDataPoint) float64 {
	switch value := point.Value.(type) {
	case *v1.NumberDataPoint_AsDouble:
		return value.AsDouble
	case *v1.NumberDataPoint_AsInt:
		return float64(value.AsInt)
	default:
		return 0
	}
}
