package model

import "time"

type Span struct {
	Id           string            `json:"id"`
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Operation    string            `json:"operation"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Status       SpanStatus        `json:"status"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Events       []SpanEvent       `json:"events,omitempty"`
	Envelope     Envelope          `json:"envelope"`
}

type SpanEvent struct {
	Name       string            `json:"name"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type SpanStatus string

const (
	StatusUnset SpanStatus = "unset"
	StatusOk    SpanStatus = "ok"
	StatusError SpanStatus = "error"
)

func (s Span) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// IsRoot reports whether the span has no parent within its trace.
func (s Span) IsRoot() bool {
	return s.ParentSpanID == ""
}
