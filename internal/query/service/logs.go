package service

import (
	"context"
	"sort"
	"strings"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// LogQuery is one page of a log search.
type LogQuery struct {
	Filter model.LogFilter `json:"filter"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// SearchLogs serves a log search across both tiers.
func (e *Engine) SearchLogs(ctx context.Context, query LogQuery) ([]model.LogEntry, error) {
	if err := validateRange(query.Filter.Range); err != nil {
		return nil, err
	}
	if len(query.Filter.Contains) > MaxContainsLength {
		return nil, invalidQuery("free-text term exceeds %d bytes", MaxContainsLength)
	}
	limit, err := normalizePage(query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}

	entries, err := e.hot.SearchLogs(ctx, query.Filter, limit+query.Offset)
	if err != nil {
		return nil, err
	}
	if e.needsCold(model.SignalLogs, query.Filter.Range) {
		cold, err := e.coldLogs(ctx, query.Filter)
		if err != nil {
			return nil, err
		}
		entries = mergeLogs(entries, cold)
	}
	return paginate(entries, limit, query.Offset), nil
}

// coldLogs scans intersecting cold batches and applies the hot predicate
// in-memory.
func (e *Engine) coldLogs(ctx context.Context, filter model.LogFilter) ([]model.LogEntry, error) {
	batches, err := e.hot.BatchesInRange(ctx, model.SignalLogs, filter.Range)
	if err != nil {
		return nil, err
	}
	var matched []model.LogEntry
	for _, batch := range batches {
		entries, err := e.cold.ReadLogs(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if matchesLogFilter(entry, filter) {
				matched = append(matched, entry)
			}
		}
	}
	return matched, nil
}

// mergeLogs combines both tiers, de-duplicating by record id with the hot
// copy authoritative, and returns the union sorted by timestamp.
func mergeLogs(hot, cold []model.LogEntry) []model.LogEntry {
	seen := make(map[string]struct{}, len(hot))
	for _, entry := range hot {
		seen[entry.Id] = struct{}{}
	}
	merged := hot
	for _, entry := range cold {
		if _, dup := seen[entry.Id]; dup {
			continue
		}
		merged = append(merged, entry)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// matchesLogFilter mirrors the hot store's SQL predicate for in-memory
// filtering of cold rows.
func matchesLogFilter(entry model.LogEntry, filter model.LogFilter) bool {
	if !filter.Range.Contains(entry.Timestamp) {
		return false
	}
	if filter.ProjectID != "" && entry.Envelope.ProjectID != filter.ProjectID {
		return false
	}
	if filter.SessionID != "" && entry.Envelope.SessionID != filter.SessionID {
		return false
	}
	if filter.TraceID != "" && entry.Envelope.TraceID != filter.TraceID {
		return false
	}
	if filter.Level != "" && entry.Level != filter.Level {
		return false
	}
	if filter.Service != "" && entry.Envelope.Service != filter.Service {
		return false
	}
	if filter.Contains != "" &&
		!strings.Contains(strings.ToLower(entry.Message), strings.ToLower(filter.Contains)) {
		return false
	}
	return true
}
