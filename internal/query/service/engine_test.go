package service

import (
	"context"
	"testing"
	"time"

	"github.com/pharos-dev/pharos/internal/hotstore"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeHot serves canned hot rows through the same predicates the engine
// applies to cold rows, so both tiers behave identically in tests.
type fakeHot struct {
	logs       []model.LogEntry
	spans      []model.Span
	series     []model.MetricSeries
	samples    []model.MetricSample
	batches    []model.RotationBatch
	batchCalls int
}

func (f *fakeHot) SearchLogs(ctx context.Context, filter model.LogFilter, limit int) ([]model.LogEntry, error) {
	var out []model.LogEntry
	for _, entry := range f.logs {
		if matchesLogFilter(entry, filter) {
			out = append(out, entry)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeHot) CountLogs(ctx context.Context, filter model.LogFilter) (int64, error) {
	var count int64
	for _, entry := range f.logs {
		if matchesLogFilter(entry, filter) {
			count++
		}
	}
	return count, nil
}

func (f *fakeHot) LogsForSession(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]model.LogEntry, error) {
	return f.SearchLogs(ctx, model.LogFilter{SessionID: sessionID, Range: timeRange}, 10000)
}

func (f *fakeHot) SpansForTrace(ctx context.Context, traceID string) ([]model.Span, error) {
	var out []model.Span
	for _, span := range f.spans {
		if span.TraceID == traceID {
			out = append(out, span)
		}
	}
	return out, nil
}

func (f *fakeHot) SearchSpans(ctx context.Context, filter model.TraceFilter, limit int) ([]model.Span, error) {
	var out []model.Span
	for _, span := range f.spans {
		if filter.Range.Contains(span.StartTime) && matchesTraceFilter(span, filter) {
			out = append(out, span)
		}
	}
	return out, nil
}

func (f *fakeHot) SpansForSession(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]model.Span, error) {
	var out []model.Span
	for _, span := range f.spans {
		if span.Envelope.SessionID == sessionID && timeRange.Contains(span.StartTime) {
			out = append(out, span)
		}
	}
	return out, nil
}

func (f *fakeHot) FindSeries(ctx context.Context, name string, labels map[string]string) (model.MetricSeries, error) {
	key := model.SeriesKey(name, labels)
	for _, series := range f.series {
		if model.SeriesKey(series.Name, series.Labels) == key {
			return series, nil
		}
	}
	return model.MetricSeries{}, hotstore.ErrSeriesNotFound
}

func (f *fakeHot) ListSeries(ctx context.Context, name string) ([]model.MetricSeries, error) {
	if name == "" {
		return f.series, nil
	}
	var out []model.MetricSeries
	for _, series := range f.series {
		if series.Name == name {
			out = append(out, series)
		}
	}
	return out, nil
}

func (f *fakeHot) SamplesForSeries(ctx context.Context, seriesID int64, timeRange model.TimeRange) ([]model.MetricSample, error) {
	var out []model.MetricSample
	for _, sample := range f.samples {
		if sample.SeriesId == seriesID && timeRange.Contains(sample.Timestamp) {
			out = append(out, sample)
		}
	}
	return out, nil
}

func (f *fakeHot) BatchesInRange(ctx context.Context, signal model.Signal, timeRange model.TimeRange) ([]model.RotationBatch, error) {
	f.batchCalls++
	var out []model.RotationBatch
	for _, batch := range f.batches {
		if batch.Signal == signal && timeRange.Intersects(model.TimeRange{Start: batch.Start, End: batch.End}) {
			out = append(out, batch)
		}
	}
	return out, nil
}

type fakeCold struct {
	logs    map[string][]model.LogEntry
	spans   map[string][]model.Span
	samples map[string][]model.MetricSample
}

func (f *fakeCold) ReadLogs(ctx context.Context, batch model.RotationBatch) ([]model.LogEntry, error) {
	return f.logs[batch.Id], nil
}

func (f *fakeCold) ReadSpans(ctx context.Context, batch model.RotationBatch) ([]model.Span, error) {
	return f.spans[batch.Id], nil
}

func (f *fakeCold) ReadSamples(ctx context.Context, batch model.RotationBatch) ([]model.MetricSample, error) {
	return f.samples[batch.Id], nil
}

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestEngine(hot *fakeHot, cold *fakeCold) *Engine {
	if cold == nil {
		cold = &fakeCold{}
	}
	engine := NewEngine(hot, cold, zap.NewNop())
	engine.now = func() time.Time { return testNow }
	return engine
}

func hotLog(id string, age time.Duration, level model.Level, project string) model.LogEntry {
	return model.LogEntry{
		Id:        id,
		Timestamp: testNow.Add(-age),
		Level:     level,
		Message:   "message " + id,
		Envelope:  model.Envelope{ProjectID: project, Service: "api"},
	}
}

func TestEngine_SearchLogs(t *testing.T) {
	ctx := context.Background()

	t.Run("hot-only query filters by project and level", func(t *testing.T) {
		hot := &fakeHot{logs: []model.LogEntry{
			hotLog("a", time.Hour, model.ErrorLevel, "p1"),
			hotLog("b", time.Hour, model.InfoLevel, "p1"),
			hotLog("c", time.Hour, model.ErrorLevel, "p2"),
		}}
		engine := newTestEngine(hot, nil)
		entries, err := engine.SearchLogs(ctx, LogQuery{Filter: model.LogFilter{
			ProjectID: "p1",
			Level:     model.ErrorLevel,
			Range:     model.TimeRange{Start: testNow.Add(-2 * time.Hour), End: testNow},
		}})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "a", entries[0].Id)
		// The range never left the hot window, so cold was not consulted.
		assert.Equal(t, 0, hot.batchCalls)
	})

	t.Run("returns the union of both tiers sorted by timestamp", func(t *testing.T) {
		batch := model.RotationBatch{
			Id:     "b1",
			Signal: model.SignalLogs,
			Start:  testNow.Add(-80 * time.Hour),
			End:    testNow.Add(-50 * time.Hour),
		}
		hot := &fakeHot{
			logs: []model.LogEntry{
				hotLog("hot-1", 2*time.Hour, model.InfoLevel, "p1"),
				hotLog("hot-2", time.Hour, model.InfoLevel, "p1"),
			},
			batches: []model.RotationBatch{batch},
		}
		cold := &fakeCold{logs: map[string][]model.LogEntry{
			"b1": {
				hotLog("cold-1", 60*time.Hour, model.InfoLevel, "p1"),
				hotLog("cold-2", 55*time.Hour, model.InfoLevel, "p1"),
			},
		}}
		engine := newTestEngine(hot, cold)
		entries, err := engine.SearchLogs(ctx, LogQuery{Filter: model.LogFilter{
			ProjectID: "p1",
			Range:     model.TimeRange{Start: testNow.Add(-72 * time.Hour), End: testNow},
		}})
		require.NoError(t, err)
		require.Len(t, entries, 4)
		ids := []string{entries[0].Id, entries[1].Id, entries[2].Id, entries[3].Id}
		assert.Equal(t, []string{"cold-1", "cold-2", "hot-1", "hot-2"}, ids)
	})

	t.Run("de-duplicates by id with the hot copy authoritative", func(t *testing.T) {
		shared := hotLog("dup", 50*time.Hour, model.InfoLevel, "p1")
		coldCopy := shared
		coldCopy.Message = "stale cold copy"
		batch := model.RotationBatch{
			Id: "b1", Signal: model.SignalLogs,
			Start: testNow.Add(-60 * time.Hour), End: testNow.Add(-40 * time.Hour),
		}
		hot := &fakeHot{logs: []model.LogEntry{shared}, batches: []model.RotationBatch{batch}}
		cold := &fakeCold{logs: map[string][]model.LogEntry{"b1": {coldCopy}}}
		engine := newTestEngine(hot, cold)
		entries, err := engine.SearchLogs(ctx, LogQuery{Filter: model.LogFilter{
			ProjectID: "p1",
			Range:     model.TimeRange{Start: testNow.Add(-72 * time.Hour), End: testNow},
		}})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "message dup", entries[0].Message)
	})

	t.Run("applies limit and offset after the merge", func(t *testing.T) {
		hot := &fakeHot{logs: []model.LogEntry{
			hotLog("a", 3*time.Hour, model.InfoLevel, "p1"),
			hotLog("b", 2*time.Hour, model.InfoLevel, "p1"),
			hotLog("c", time.Hour, model.InfoLevel, "p1"),
		}}
		engine := newTestEngine(hot, nil)
		entries, err := engine.SearchLogs(ctx, LogQuery{
			Filter: model.LogFilter{Range: model.TimeRange{Start: testNow.Add(-4 * time.Hour), End: testNow}},
			Limit:  1,
			Offset: 1,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "b", entries[0].Id)
	})

	t.Run("rejects out-of-range parameters before storage access", func(t *testing.T) {
		engine := newTestEngine(&fakeHot{}, nil)
		okRange := model.TimeRange{Start: testNow.Add(-time.Hour), End: testNow}

		_, err := engine.SearchLogs(ctx, LogQuery{})
		assert.ErrorIs(t, err, ErrInvalidQuery)

		_, err = engine.SearchLogs(ctx, LogQuery{Filter: model.LogFilter{
			Range: model.TimeRange{Start: testNow, End: testNow.Add(-time.Hour)},
		}})
		assert.ErrorIs(t, err, ErrInvalidQuery)

		_, err = engine.SearchLogs(ctx, LogQuery{Filter: model.LogFilter{Range: okRange}, Limit: MaxLimit + 1})
		assert.ErrorIs(t, err, ErrInvalidQuery)

		_, err = engine.SearchLogs(ctx, LogQuery{Filter: model.LogFilter{Range: okRange}, Offset: -1})
		assert.ErrorIs(t, err, ErrInvalidQuery)

		long := make([]byte, MaxContainsLength+1)
		for i := range long {
			long[i] = 'x'
		}
		_, err = engine.SearchLogs(ctx, LogQuery{Filter: model.LogFilter{Range: okRange, Contains: string(long)}})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func testSpan(id, traceID, spanID, parentID string, start time.Time, status model.SpanStatus) model.Span {
	return model.Span{
		Id:           id,
		TraceID:      traceID,
		SpanID:       spanID,
		ParentSpanID: parentID,
		Operation:    "op-" + spanID,
		StartTime:    start,
		EndTime:      start.Add(100 * time.Millisecond),
		Status:       status,
		Envelope: model.Envelope{
			TraceID:   traceID,
			SpanID:    spanID,
			ProjectID: "p1",
			Service:   "api",
		},
	}
}

func TestEngine_Traces(t *testing.T) {
	ctx := context.Background()

	t.Run("summaries report root span, duration, and error status", func(t *testing.T) {
		root := testSpan("1", "t1", "s1", "", testNow.Add(-time.Hour), model.StatusOk)
		child := testSpan("2", "t1", "s2", "s1", testNow.Add(-time.Hour).Add(10*time.Millisecond), model.StatusError)
		child.EndTime = root.StartTime.Add(300 * time.Millisecond)
		hot := &fakeHot{spans: []model.Span{root, child}}
		engine := newTestEngine(hot, nil)

		summaries, err := engine.TraceSummaries(ctx, TraceQuery{Filter: model.TraceFilter{
			ProjectID: "p1",
			Range:     model.TimeRange{Start: testNow.Add(-2 * time.Hour), End: testNow},
		}})
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		summary := summaries[0]
		assert.Equal(t, "t1", summary.TraceID)
		assert.Equal(t, "op-s1", summary.RootOperation)
		assert.Equal(t, model.StatusError, summary.Status)
		assert.Equal(t, 2, summary.SpanCount)
		assert.Equal(t, 300*time.Millisecond, summary.Duration)
	})

	t.Run("span tree reconstructs parent/child relations", func(t *testing.T) {
		root := testSpan("1", "t1", "s1", "", testNow.Add(-time.Hour), model.StatusOk)
		childA := testSpan("2", "t1", "s2", "s1", testNow.Add(-time.Hour).Add(5*time.Millisecond), model.StatusOk)
		childB := testSpan("3", "t1", "s3", "s1", testNow.Add(-time.Hour).Add(2*time.Millisecond), model.StatusOk)
		grandchild := testSpan("4", "t1", "s4", "s2", testNow.Add(-time.Hour).Add(8*time.Millisecond), model.StatusOk)
		hot := &fakeHot{spans: []model.Span{childA, grandchild, root, childB}}
		engine := newTestEngine(hot, nil)

		roots, err := engine.GetTrace(ctx, "t1", model.TimeRange{Start: testNow.Add(-2 * time.Hour), End: testNow})
		require.NoError(t, err)
		require.Len(t, roots, 1)
		require.Len(t, roots[0].Children, 2)
		// Children sorted by start time.
		assert.Equal(t, "s3", roots[0].Children[0].Span.SpanID)
		assert.Equal(t, "s2", roots[0].Children[1].Span.SpanID)
		require.Len(t, roots[0].Children[1].Children, 1)
		assert.Equal(t, "s4", roots[0].Children[1].Children[0].Span.SpanID)
	})

	t.Run("unknown trace id yields ErrTraceNotFound", func(t *testing.T) {
		engine := newTestEngine(&fakeHot{}, nil)
		_, err := engine.GetTrace(ctx, "missing", model.TimeRange{Start: testNow.Add(-time.Hour), End: testNow})
		assert.ErrorIs(t, err, ErrTraceNotFound)
	})

	t.Run("trace older than the hot window is read from cold", func(t *testing.T) {
		old := testSpan("1", "t1", "s1", "", testNow.Add(-60*time.Hour), model.StatusOk)
		batch := model.RotationBatch{
			Id: "b1", Signal: model.SignalSpans,
			Start: testNow.Add(-70 * time.Hour), End: testNow.Add(-50 * time.Hour),
		}
		hot := &fakeHot{batches: []model.RotationBatch{batch}}
		cold := &fakeCold{spans: map[string][]model.Span{"b1": {old}}}
		engine := newTestEngine(hot, cold)

		roots, err := engine.GetTrace(ctx, "t1", model.TimeRange{Start: testNow.Add(-72 * time.Hour), End: testNow})
		require.NoError(t, err)
		require.Len(t, roots, 1)
		assert.Equal(t, "s1", roots[0].Span.SpanID)
	})
}

func TestEngine_QueryMetric(t *testing.T) {
	ctx := context.Background()
	series := model.MetricSeries{Id: 7, Name: "cpu_usage", Labels: map[string]string{"host": "a"}}

	sample := func(id int64, age time.Duration, value float64) model.MetricSample {
		return model.MetricSample{Id: id, SeriesId: 7, Timestamp: testNow.Add(-age), Value: value}
	}

	t.Run("aggregates into fixed-width buckets", func(t *testing.T) {
		hot := &fakeHot{
			series: []model.MetricSeries{series},
			samples: []model.MetricSample{
				sample(1, 50*time.Minute, 10),
				sample(2, 49*time.Minute, 30),
				sample(3, 10*time.Minute, 5),
			},
		}
		engine := newTestEngine(hot, nil)
		buckets, err := engine.QueryMetric(ctx, MetricQuery{
			Name:        "cpu_usage",
			Labels:      map[string]string{"host": "a"},
			Aggregation: model.AggAvg,
			Range:       model.TimeRange{Start: testNow.Add(-time.Hour), End: testNow},
			StepSeconds: 1200,
		})
		require.NoError(t, err)
		require.Len(t, buckets, 4)
		assert.Equal(t, 20.0, buckets[0].Value)
		assert.Equal(t, 2, buckets[0].Count)
		assert.Equal(t, 0, buckets[1].Count)
		assert.Equal(t, 5.0, buckets[2].Value)
	})

	t.Run("count aggregation reports sample counts", func(t *testing.T) {
		hot := &fakeHot{
			series:  []model.MetricSeries{series},
			samples: []model.MetricSample{sample(1, 30*time.Minute, 10), sample(2, 29*time.Minute, 20)},
		}
		engine := newTestEngine(hot, nil)
		buckets, err := engine.QueryMetric(ctx, MetricQuery{
			Name:        "cpu_usage",
			Labels:      map[string]string{"host": "a"},
			Aggregation: model.AggCount,
			Range:       model.TimeRange{Start: testNow.Add(-time.Hour), End: testNow},
			StepSeconds: 3600,
		})
		require.NoError(t, err)
		assert.Equal(t, 2.0, buckets[0].Value)
	})

	t.Run("merges cold samples past the metric retention window", func(t *testing.T) {
		batch := model.RotationBatch{
			Id: "b1", Signal: model.SignalMetrics,
			Start: testNow.Add(-3 * time.Hour), End: testNow.Add(-90 * time.Minute),
		}
		hot := &fakeHot{
			series:  []model.MetricSeries{series},
			samples: []model.MetricSample{sample(10, 30*time.Minute, 4)},
			batches: []model.RotationBatch{batch},
		}
		cold := &fakeCold{samples: map[string][]model.MetricSample{
			"b1": {sample(1, 2*time.Hour, 8)},
		}}
		engine := newTestEngine(hot, cold)
		buckets, err := engine.QueryMetric(ctx, MetricQuery{
			Name:        "cpu_usage",
			Labels:      map[string]string{"host": "a"},
			Aggregation: model.AggSum,
			Range:       model.TimeRange{Start: testNow.Add(-4 * time.Hour), End: testNow},
			StepSeconds: 4 * 3600,
		})
		require.NoError(t, err)
		assert.Equal(t, 12.0, buckets[0].Value)
	})

	t.Run("unknown series surfaces the not-found error", func(t *testing.T) {
		engine := newTestEngine(&fakeHot{}, nil)
		_, err := engine.QueryMetric(ctx, MetricQuery{
			Name:        "missing",
			Aggregation: model.AggAvg,
			Range:       model.TimeRange{Start: testNow.Add(-time.Hour), End: testNow},
			StepSeconds: 60,
		})
		assert.True(t, IsSeriesNotFound(err))
	})

	t.Run("rejects invalid step and aggregation", func(t *testing.T) {
		engine := newTestEngine(&fakeHot{}, nil)
		okRange := model.TimeRange{Start: testNow.Add(-time.Hour), End: testNow}
		_, err := engine.QueryMetric(ctx, MetricQuery{Name: "x", Aggregation: "median", Range: okRange, StepSeconds: 60})
		assert.ErrorIs(t, err, ErrInvalidQuery)
		_, err = engine.QueryMetric(ctx, MetricQuery{Name: "x", Aggregation: model.AggAvg, Range: okRange, StepSeconds: 0})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestEngine_SessionTimeline(t *testing.T) {
	ctx := context.Background()
	logEntry := hotLog("l1", 30*time.Minute, model.InfoLevel, "p1")
	logEntry.Envelope.SessionID = "sess-1"
	span := testSpan("sp1", "t1", "s1", "", testNow.Add(-45*time.Minute), model.StatusOk)
	span.Envelope.SessionID = "sess-1"

	hot := &fakeHot{logs: []model.LogEntry{logEntry}, spans: []model.Span{span}}
	engine := newTestEngine(hot, nil)

	items, err := engine.SessionTimeline(ctx, "sess-1", model.TimeRange{
		Start: testNow.Add(-2 * time.Hour), End: testNow,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.SignalSpans, items[0].Kind)
	assert.Equal(t, model.SignalLogs, items[1].Kind)
	assert.True(t, items[0].Timestamp.Before(items[1].Timestamp))
}

func TestEngine_QueryScalar(t *testing.T) {
	ctx := context.Background()
	series := model.MetricSeries{Id: 3, Name: "error_rate"}

	t.Run("metric scalar aggregates the trailing window", func(t *testing.T) {
		hot := &fakeHot{
			series: []model.MetricSeries{series},
			samples: []model.MetricSample{
				{Id: 1, SeriesId: 3, Timestamp: testNow.Add(-time.Minute), Value: 4},
				{Id: 2, SeriesId: 3, Timestamp: testNow.Add(-2 * time.Minute), Value: 6},
			},
		}
		engine := newTestEngine(hot, nil)
		value, present, err := engine.QueryScalar(ctx, model.AlertQuery{
			Kind:          model.AlertQueryMetric,
			MetricName:    "error_rate",
			Aggregation:   model.AggAvg,
			WindowSeconds: 300,
		}, testNow)
		require.NoError(t, err)
		assert.True(t, present)
		assert.Equal(t, 5.0, value)
	})

	t.Run("missing series reports absent without error", func(t *testing.T) {
		engine := newTestEngine(&fakeHot{}, nil)
		_, present, err := engine.QueryScalar(ctx, model.AlertQuery{
			Kind:       model.AlertQueryMetric,
			MetricName: "missing",
		}, testNow)
		require.NoError(t, err)
		assert.False(t, present)
	})

	t.Run("log scalar counts matching rows", func(t *testing.T) {
		entry := hotLog("l1", time.Minute, model.ErrorLevel, "p1")
		hot := &fakeHot{logs: []model.LogEntry{entry}}
		engine := newTestEngine(hot, nil)
		value, present, err := engine.QueryScalar(ctx, model.AlertQuery{
			Kind:          model.AlertQueryLogs,
			ProjectID:     "p1",
			Level:         model.ErrorLevel,
			WindowSeconds: 300,
		}, testNow)
		require.NoError(t, err)
		assert.True(t, present)
		assert.Equal(t, 1.0, value)
	})
}
