package model

// Signal identifies one of the three telemetry record variants. Every
// component that branches on it must handle all three cases.
type Signal string

const (
	SignalLogs    Signal = "logs"
	SignalSpans   Signal = "spans"
	SignalMetrics Signal = "metrics"
)

func (s Signal) Valid() bool {
	switch s {
	case SignalLogs, SignalSpans, SignalMetrics:
		return true
	default:
		return false
	}
}
