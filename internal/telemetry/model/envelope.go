package model

// Envelope is the resolved correlation identity attached to every stored
// record. All fields except Service may be empty after resolution.
type Envelope struct {
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Service   string `json:"service"`
}
