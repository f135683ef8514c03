package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// ErrTraceNotFound is returned when a trace id matches no span in either
// tier.
var ErrTraceNotFound = errors.New("trace not found")

// TraceQuery selects ranked trace summaries.
type TraceQuery struct {
	Filter model.TraceFilter `json:"filter"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// TraceSummary condenses one trace: its root span, total duration, and
// whether any span errored.
type TraceSummary struct {
	TraceID       string           `json:"trace_id"`
	RootOperation string           `json:"root_operation"`
	RootService   string           `json:"root_service"`
	StartTime     time.Time        `json:"start_time"`
	Duration      time.Duration    `json:"duration"`
	Status        model.SpanStatus `json:"status"`
	SpanCount     int              `json:"span_count"`
}

// SpanNode is one node of a reconstructed span tree.
type SpanNode struct {
	Span     model.Span  `json:"span"`
	Children []*SpanNode `json:"children,omitempty"`
}

// spanScanLimit bounds how many hot spans one summary query may group.
const spanScanLimit = 10000

// TraceSummaries returns summaries of traces matching the filter, most
// recent first.
func (e *Engine) TraceSummaries(ctx context.Context, query TraceQuery) ([]TraceSummary, error) {
	if err := validateRange(query.Filter.Range); err != nil {
		return nil, err
	}
	limit, err := normalizePage(query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}

	spans, err := e.hot.SearchSpans(ctx, query.Filter, spanScanLimit)
	if err != nil {
		return nil, err
	}
	if e.needsCold(model.SignalSpans, query.Filter.Range) {
		cold, err := e.coldSpans(ctx, query.Filter.Range, func(span model.Span) bool {
			return matchesTraceFilter(span, query.Filter)
		})
		if err != nil {
			return nil, err
		}
		spans = mergeSpans(spans, cold)
	}

	summaries := summarize(spans)
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return paginate(summaries, limit, query.Offset), nil
}

// GetTrace reconstructs one trace's span tree from parent/child identifiers,
// consulting cold batches when the range reaches past the hot window.
func (e *Engine) GetTrace(ctx context.Context, traceID string, timeRange model.TimeRange) ([]*SpanNode, error) {
	if traceID == "" {
		return nil, invalidQuery("trace id is required")
	}
	if err := validateRange(timeRange); err != nil {
		return nil, err
	}

	spans, err := e.hot.SpansForTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if e.needsCold(model.SignalSpans, timeRange) {
		cold, err := e.coldSpans(ctx, timeRange, func(span model.Span) bool {
			return span.TraceID == traceID
		})
		if err != nil {
			return nil, err
		}
		spans = mergeSpans(spans, cold)
	}
	if len(spans) == 0 {
		return nil, ErrTraceNotFound
	}
	return buildSpanTree(spans), nil
}

func (e *Engine) coldSpans(ctx context.Context, timeRange model.TimeRange, match func(model.Span) bool) ([]model.Span, error) {
	batches, err := e.hot.BatchesInRange(ctx, model.SignalSpans, timeRange)
	if err != nil {
		return nil, err
	}
	var matched []model.Span
	for _, batch := range batches {
		spans, err := e.cold.ReadSpans(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, span := range spans {
			if timeRange.Contains(span.StartTime) && match(span) {
				matched = append(matched, span)
			}
		}
	}
	return matched, nil
}

func matchesTraceFilter(span model.Span, filter model.TraceFilter) bool {
	if filter.ProjectID != "" && span.Envelope.ProjectID != filter.ProjectID {
		return false
	}
	if filter.Service != "" && span.Envelope.Service != filter.Service {
		return false
	}
	return true
}

func mergeSpans(hot, cold []model.Span) []model.Span {
	seen := make(map[string]struct{}, len(hot))
	for _, span := range hot {
		seen[span.Id] = struct{}{}
	}
	merged := hot
	for _, span := range cold {
		if _, dup := seen[span.Id]; dup {
			continue
		}
		merged = append(merged, span)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartTime.Before(merged[j].StartTime)
	})
	return merged
}

func summarize(spans []model.Span) []TraceSummary {
	byTrace := make(map[string][]model.Span)
	for _, span := range spans {
		byTrace[span.TraceID] = append(byTrace[span.TraceID], span)
	}
	summaries := make([]TraceSummary, 0, len(byTrace))
	for traceID, group := range byTrace {
		summary := TraceSummary{
			TraceID:   traceID,
			StartTime: group[0].StartTime,
			Status:    model.StatusOk,
			SpanCount: len(group),
		}
		var latestEnd time.Time
		for _, span := range group {
			if span.StartTime.Before(summary.StartTime) {
				summary.StartTime = span.StartTime
			}
			if span.EndTime.After(latestEnd) {
				latestEnd = span.EndTime
			}
			if span.IsRoot() {
				summary.RootOperation = span.Operation
				summary.RootService = span.Envelope.Service
			}
			if span.Status == model.StatusError {
				summary.Status = model.StatusError
			}
		}
		summary.Duration = latestEnd.Sub(summary.StartTime)
		summaries = append(summaries, summary)
	}
	return summaries
}

// buildSpanTree links spans by parent id. Spans whose parent is absent from
// the set become roots, so a partially rotated or sampled trace still
// renders.
func buildSpanTree(spans []model.Span) []*SpanNode {
	nodes := make(map[string]*SpanNode, len(spans))
	for _, span := range spans {
		nodes[span.SpanID] = &SpanNode{Span: span}
	}
	var roots []*SpanNode
	for _, node := range nodes {
		parent, ok := nodes[node.Span.ParentSpanID]
		if node.Span.IsRoot() || !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	sortNodes(roots)
	for _, node := range nodes {
		sortNodes(node.Children)
	}
	return roots
}

func sortNodes(nodes []*SpanNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Span.StartTime.Before(nodes[j].Span.StartTime)
	})
}
