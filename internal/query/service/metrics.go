package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/pharos-dev/pharos/internal/hotstore"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// MetricQuery aggregates one named series into fixed-width time buckets.
type MetricQuery struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	Aggregation model.Aggregation `json:"aggregation"`
	Range       model.TimeRange   `json:"range"`
	StepSeconds int               `json:"step_seconds"`
}

// QueryMetric returns one bucket per step across the range. Buckets with no
// samples carry Count 0 and Value 0.
func (e *Engine) QueryMetric(ctx context.Context, query MetricQuery) ([]model.MetricBucket, error) {
	if query.Name == "" {
		return nil, invalidQuery("metric name is required")
	}
	if !query.Aggregation.Valid() {
		return nil, invalidQuery("unknown aggregation %q", query.Aggregation)
	}
	if err := validateRange(query.Range); err != nil {
		return nil, err
	}
	if query.StepSeconds <= 0 {
		return nil, invalidQuery("step must be positive")
	}
	step := time.Duration(query.StepSeconds) * time.Second
	bucketCount := int(query.Range.End.Sub(query.Range.Start)/step) + 1
	if bucketCount > maxMetricBuckets {
		return nil, invalidQuery("range/step yields %d buckets, maximum is %d", bucketCount, maxMetricBuckets)
	}

	series, err := e.hot.FindSeries(ctx, query.Name, query.Labels)
	if err != nil {
		return nil, err
	}
	samples, err := e.samplesAcrossTiers(ctx, series.Id, query.Range)
	if err != nil {
		return nil, err
	}
	return bucketize(samples, query.Range.Start, step, bucketCount, query.Aggregation), nil
}

// ListSeries enumerates distinct series, optionally restricted to one name.
func (e *Engine) ListSeries(ctx context.Context, name string) ([]model.MetricSeries, error) {
	return e.hot.ListSeries(ctx, name)
}

// samplesAcrossTiers merges hot samples with intersecting cold batches,
// de-duplicated by sample id with the hot copy authoritative.
func (e *Engine) samplesAcrossTiers(ctx context.Context, seriesID int64, timeRange model.TimeRange) ([]model.MetricSample, error) {
	samples, err := e.hot.SamplesForSeries(ctx, seriesID, timeRange)
	if err != nil {
		return nil, err
	}
	if !e.needsCold(model.SignalMetrics, timeRange) {
		return samples, nil
	}
	batches, err := e.hot.BatchesInRange(ctx, model.SignalMetrics, timeRange)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(samples))
	for _, sample := range samples {
		seen[sample.Id] = struct{}{}
	}
	for _, batch := range batches {
		cold, err := e.cold.ReadSamples(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, sample := range cold {
			if sample.SeriesId != seriesID || !timeRange.Contains(sample.Timestamp) {
				continue
			}
			if _, dup := seen[sample.Id]; dup {
				continue
			}
			samples = append(samples, sample)
		}
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

func bucketize(samples []model.MetricSample, start time.Time, step time.Duration, count int, agg model.Aggregation) []model.MetricBucket {
	buckets := make([]model.MetricBucket, count)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * step)
	}
	sums := make([]float64, count)
	for _, sample := range samples {
		index := int(sample.Timestamp.Sub(start) / step)
		if index < 0 || index >= count {
			continue
		}
		bucket := &buckets[index]
		switch agg {
		case model.AggSum, model.AggAvg:
			sums[index] += sample.Value
		case model.AggMax:
			if bucket.Count == 0 || sample.Value > bucket.Value {
				bucket.Value = sample.Value
			}
		case model.AggMin:
			if bucket.Count == 0 || sample.Value < bucket.Value {
				bucket.Value = sample.Value
			}
		case model.AggCount:
		}
		bucket.Count++
	}
	for i := range buckets {
		if buckets[i].Count == 0 {
			continue
		}
		switch agg {
		case model.AggSum:
			buckets[i].Value = sums[i]
		case model.AggAvg:
			buckets[i].Value = sums[i] / float64(buckets[i].Count)
		case model.AggCount:
			buckets[i].Value = float64(buckets[i].Count)
		}
	}
	return buckets
}

// aggregateScalar folds samples into one scalar for alert evaluation.
func aggregateScalar(samples []model.MetricSample, agg model.Aggregation) float64 {
	if len(samples) == 0 {
		return 0
	}
	switch agg {
	case model.AggCount:
		return float64(len(samples))
	case model.AggSum:
		var sum float64
		for _, sample := range samples {
			sum += sample.Value
		}
		return sum
	case model.AggAvg:
		var sum float64
		for _, sample := range samples {
			sum += sample.Value
		}
		return sum / float64(len(samples))
	case model.AggMax:
		max := math.Inf(-1)
		for _, sample := range samples {
			if sample.Value > max {
				max = sample.Value
			}
		}
		return max
	case model.AggMin:
		min := math.Inf(1)
		for _, sample := range samples {
			if sample.Value < min {
				min = sample.Value
			}
		}
		return min
	default:
		return 0
	}
}

// IsSeriesNotFound reports whether an error denotes a series that has never
// been ingested.
func IsSeriesNotFound(err error) bool {
	return errors.Is(err, hotstore.ErrSeriesNotFound)
}
