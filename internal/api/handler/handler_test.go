package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	alerting "github.com/pharos-dev/pharos/internal/alerting/service"
	"github.com/pharos-dev/pharos/internal/auth"
	"github.com/pharos-dev/pharos/internal/hotstore"
	query "github.com/pharos-dev/pharos/internal/query/service"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubHot returns fixed rows for the handlers under test.
type stubHot struct {
	logs []model.LogEntry
}

func (s *stubHot) SearchLogs(ctx context.Context, filter model.LogFilter, limit int) ([]model.LogEntry, error) {
	return s.logs, nil
}

func (s *stubHot) CountLogs(ctx context.Context, filter model.LogFilter) (int64, error) {
	return int64(len(s.logs)), nil
}

func (s *stubHot) LogsForSession(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]model.LogEntry, error) {
	return s.logs, nil
}

func (s *stubHot) SpansForTrace(ctx context.Context, traceID string) ([]model.Span, error) {
	return nil, nil
}

func (s *stubHot) SearchSpans(ctx context.Context, filter model.TraceFilter, limit int) ([]model.Span, error) {
	return nil, nil
}

func (s *stubHot) SpansForSession(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]model.Span, error) {
	return nil, nil
}

func (s *stubHot) FindSeries(ctx context.Context, name string, labels map[string]string) (model.MetricSeries, error) {
	return model.MetricSeries{}, hotstore.ErrSeriesNotFound
}

func (s *stubHot) ListSeries(ctx context.Context, name string) ([]model.MetricSeries, error) {
	return nil, nil
}

func (s *stubHot) SamplesForSeries(ctx context.Context, seriesID int64, timeRange model.TimeRange) ([]model.MetricSample, error) {
	return nil, nil
}

func (s *stubHot) BatchesInRange(ctx context.Context, signal model.Signal, timeRange model.TimeRange) ([]model.RotationBatch, error) {
	return nil, nil
}

type stubCold struct{}

func (stubCold) ReadLogs(ctx context.Context, batch model.RotationBatch) ([]model.LogEntry, error) {
	return nil, nil
}

func (stubCold) ReadSpans(ctx context.Context, batch model.RotationBatch) ([]model.Span, error) {
	return nil, nil
}

func (stubCold) ReadSamples(ctx context.Context, batch model.RotationBatch) ([]model.MetricSample, error) {
	return nil, nil
}

type staticChecker struct{ err error }

func (s staticChecker) Check(ctx context.Context, token string, capability auth.Capability, projectID string) error {
	return s.err
}

func recentRange() model.TimeRange {
	now := time.Now().UTC()
	return model.TimeRange{Start: now.Add(-time.Hour), End: now}
}

func TestLogSearchHandler(t *testing.T) {
	logger := zap.NewNop()
	entry := model.LogEntry{
		Id:        "l1",
		Timestamp: time.Now().UTC().Add(-time.Minute),
		Level:     model.InfoLevel,
		Message:   "hello",
		Envelope:  model.Envelope{Service: "api"},
	}
	engine := query.NewEngine(&stubHot{logs: []model.LogEntry{entry}}, stubCold{}, logger)

	post := func(h http.HandlerFunc, payload any) *httptest.ResponseRecorder {
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/query/logs", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer reader")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("returns matched entries as JSON", func(t *testing.T) {
		h := LogSearchHandler(engine, staticChecker{}, logger)
		rec := post(h, query.LogQuery{Filter: model.LogFilter{Range: recentRange()}})
		require.Equal(t, http.StatusOK, rec.Code)

		var entries []model.LogEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, "l1", entries[0].Id)
	})

	t.Run("invalid query maps to 400", func(t *testing.T) {
		h := LogSearchHandler(engine, staticChecker{}, logger)
		rec := post(h, query.LogQuery{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed JSON maps to 400", func(t *testing.T) {
		h := LogSearchHandler(engine, staticChecker{}, logger)
		req := httptest.NewRequest(http.MethodPost, "/query/logs", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing credential maps to 401", func(t *testing.T) {
		h := LogSearchHandler(engine, staticChecker{err: auth.ErrUnauthorized}, logger)
		rec := post(h, query.LogQuery{Filter: model.LogFilter{Range: recentRange()}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("denied capability maps to 403", func(t *testing.T) {
		h := LogSearchHandler(engine, staticChecker{err: auth.ErrDenied}, logger)
		rec := post(h, query.LogQuery{Filter: model.LogFilter{Range: recentRange()}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestMetricQueryHandler_NotFound(t *testing.T) {
	logger := zap.NewNop()
	engine := query.NewEngine(&stubHot{}, stubCold{}, logger)
	h := MetricQueryHandler(engine, staticChecker{}, logger)

	body, err := json.Marshal(query.MetricQuery{
		Name:        "missing",
		Aggregation: model.AggAvg,
		Range:       recentRange(),
		StepSeconds: 60,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/query/metrics", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(req))

	req.Header.Set("Authorization", "bearer lower")
	assert.Equal(t, "lower", bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", bearerToken(req))
}

func TestServiceErrorMapping(t *testing.T) {
	logger := zap.NewNop()
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid query", query.ErrInvalidQuery, http.StatusBadRequest},
		{"invalid rule", alerting.ErrInvalidRule, http.StatusBadRequest},
		{"unauthorized", auth.ErrUnauthorized, http.StatusUnauthorized},
		{"denied", auth.ErrDenied, http.StatusForbidden},
		{"trace not found", query.ErrTraceNotFound, http.StatusNotFound},
		{"rule not found", hotstore.ErrRuleNotFound, http.StatusNotFound},
		{"unexpected", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			serviceError(rec, tc.err, logger)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}
