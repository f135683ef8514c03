package service

import (
	"context"
	"sort"
	"time"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// TimelineItem is one entry of a session timeline: either a log or a span,
// positioned by its timestamp.
type TimelineItem struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      model.Signal    `json:"kind"`
	Log       *model.LogEntry `json:"log,omitempty"`
	Span      *model.Span     `json:"span,omitempty"`
}

// SessionTimeline merges logs and spans of one session into a single
// timestamp-ordered sequence.
func (e *Engine) SessionTimeline(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]TimelineItem, error) {
	if sessionID == "" {
		return nil, invalidQuery("session id is required")
	}
	if err := validateRange(timeRange); err != nil {
		return nil, err
	}

	logs, err := e.hot.LogsForSession(ctx, sessionID, timeRange)
	if err != nil {
		return nil, err
	}
	spans, err := e.hot.SpansForSession(ctx, sessionID, timeRange)
	if err != nil {
		return nil, err
	}
	if e.needsCold(model.SignalLogs, timeRange) {
		coldLogs, err := e.coldLogs(ctx, model.LogFilter{SessionID: sessionID, Range: timeRange})
		if err != nil {
			return nil, err
		}
		logs = mergeLogs(logs, coldLogs)
		coldSpans, err := e.coldSpans(ctx, timeRange, func(span model.Span) bool {
			return span.Envelope.SessionID == sessionID
		})
		if err != nil {
			return nil, err
		}
		spans = mergeSpans(spans, coldSpans)
	}

	items := make([]TimelineItem, 0, len(logs)+len(spans))
	for i := range logs {
		items = append(items, TimelineItem{
			Timestamp: logs[i].Timestamp,
			Kind:      model.SignalLogs,
			Log:       &logs[i],
		})
	}
	for i := range spans {
		items = append(items, TimelineItem{
			Timestamp: spans[i].StartTime,
			Kind:      model.SignalSpans,
			Span:      &spans[i],
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	return items, nil
}
