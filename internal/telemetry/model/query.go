package model

import "time"

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// Intersects reports whether two closed ranges overlap.
func (tr TimeRange) Intersects(other TimeRange) bool {
	return !tr.Start.After(other.End) && !other.Start.After(tr.End)
}

// LogFilter is the parameterized predicate shared by hot-store log queries
// and in-memory filtering of cold batches.
type LogFilter struct {
	ProjectID string    `json:"project_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Level     Level     `json:"level,omitempty"`
	Service   string    `json:"service,omitempty"`
	Contains  string    `json:"contains,omitempty"`
	Range     TimeRange `json:"range"`
}

// TraceFilter selects traces for ranked summaries.
type TraceFilter struct {
	ProjectID string    `json:"project_id,omitempty"`
	Service   string    `json:"service,omitempty"`
	Range     TimeRange `json:"range"`
}
