package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pharos-dev/pharos/internal/auth"
	query "github.com/pharos-dev/pharos/internal/query/service"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

// LogSearchHandler serves POST /query/logs.
func LogSearchHandler(engine *query.Engine, checker auth.Checker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req query.LogQuery
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Error encountered when decoding request body", zap.Error(err))
			HttpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		if err := checker.Check(r.Context(), bearerToken(r), auth.CapabilityRead, req.Filter.ProjectID); err != nil {
			serviceError(w, err, logger)
			return
		}
		entries, err := engine.SearchLogs(r.Context(), req)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, entries, logger)
	}
}

// TraceSearchHandler serves POST /query/traces.
func TraceSearchHandler(engine *query.Engine, checker auth.Checker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req query.TraceQuery
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Error encountered when decoding request body", zap.Error(err))
			HttpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		if err := checker.Check(r.Context(), bearerToken(r), auth.CapabilityRead, req.Filter.ProjectID); err != nil {
			serviceError(w, err, logger)
			return
		}
		summaries, err := engine.TraceSummaries(r.Context(), req)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, summaries, logger)
	}
}

// TraceGetHandler serves GET /query/traces/{id}. The range bounds which cold
// batches are consulted; it defaults to the trailing hot window.
func TraceGetHandler(engine *query.Engine, checker auth.Checker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.Check(r.Context(), bearerToken(r), auth.CapabilityRead, r.URL.Query().Get("project_id")); err != nil {
			serviceError(w, err, logger)
			return
		}
		traceID := mux.Vars(r)["id"]
		timeRange, err := rangeFromQuery(r, model.LogSpanRetention)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		roots, err := engine.GetTrace(r.Context(), traceID, timeRange)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, roots, logger)
	}
}

// MetricQueryHandler serves POST /query/metrics.
func MetricQueryHandler(engine *query.Engine, checker auth.Checker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req query.MetricQuery
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Error encountered when decoding request body", zap.Error(err))
			HttpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		if err := checker.Check(r.Context(), bearerToken(r), auth.CapabilityRead, ""); err != nil {
			serviceError(w, err, logger)
			return
		}
		buckets, err := engine.QueryMetric(r.Context(), req)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, buckets, logger)
	}
}

// SeriesListHandler serves GET /query/metrics/series.
func SeriesListHandler(engine *query.Engine, checker auth.Checker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.Check(r.Context(), bearerToken(r), auth.CapabilityRead, ""); err != nil {
			serviceError(w, err, logger)
			return
		}
		series, err := engine.ListSeries(r.Context(), r.URL.Query().Get("name"))
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, series, logger)
	}
}

// TimelineHandler serves GET /query/sessions/{id}/timeline.
func TimelineHandler(engine *query.Engine, checker auth.Checker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.Check(r.Context(), bearerToken(r), auth.CapabilityRead, r.URL.Query().Get("project_id")); err != nil {
			serviceError(w, err, logger)
			return
		}
		sessionID := mux.Vars(r)["id"]
		timeRange, err := rangeFromQuery(r, model.LogSpanRetention)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		items, err := engine.SessionTimeline(r.Context(), sessionID, timeRange)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, items, logger)
	}
}

// rangeFromQuery parses RFC 3339 start/end query parameters, defaulting to
// the trailing window when absent.
func rangeFromQuery(r *http.Request, window time.Duration) (model.TimeRange, error) {
	now := time.Now().UTC()
	timeRange := model.TimeRange{Start: now.Add(-window), End: now}
	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return model.TimeRange{}, query.ErrInvalidQuery
		}
		timeRange.Start = start
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return model.TimeRange{}, query.ErrInvalidQuery
		}
		timeRange.End = end
	}
	return timeRange, nil
}
