package service

import (
	"context"
	"time"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// QueryScalar evaluates a parameterized alert query into a single value.
// present is false when the query's series has never been seen or the window
// holds no samples; the absent condition keys off it.
func (e *Engine) QueryScalar(ctx context.Context, query model.AlertQuery, now time.Time) (value float64, present bool, err error) {
	window := time.Duration(query.WindowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}
	timeRange := model.TimeRange{Start: now.Add(-window), End: now}

	switch query.Kind {
	case model.AlertQueryLogs:
		filter := model.LogFilter{
			ProjectID: query.ProjectID,
			Level:     query.Level,
			Service:   query.Service,
			Contains:  query.Contains,
			Range:     timeRange,
		}
		count, err := e.hot.CountLogs(ctx, filter)
		if err != nil {
			return 0, false, err
		}
		return float64(count), true, nil

	case model.AlertQueryMetric:
		agg := query.Aggregation
		if !agg.Valid() {
			agg = model.AggAvg
		}
		series, err := e.hot.FindSeries(ctx, query.MetricName, query.MetricLabels)
		if err != nil {
			if IsSeriesNotFound(err) {
				return 0, false, nil
			}
			return 0, false, err
		}
		samples, err := e.hot.SamplesForSeries(ctx, series.Id, timeRange)
		if err != nil {
			return 0, false, err
		}
		if len(samples) == 0 {
			return 0, false, nil
		}
		return aggregateScalar(samples, agg), true, nil

	default:
		return 0, false, invalidQuery("unknown alert query kind %q", query.Kind)
	}
}
