package model

import "time"

// Hot-tier retention thresholds. Records older than their signal's threshold
// are eligible for rotation into cold storage; queries whose range reaches
// past the threshold consult cold batches as well.
const (
	LogSpanRetention = 48 * time.Hour
	MetricRetention  = time.Hour
)

// HotRetention returns the retention window of a signal.
func HotRetention(signal Signal) time.Duration {
	switch signal {
	case SignalMetrics:
		return MetricRetention
	case SignalLogs, SignalSpans:
		return LogSpanRetention
	default:
		return LogSpanRetention
	}
}

// Cutoff is the hot-retention boundary of a signal relative to now.
func Cutoff(signal Signal, now time.Time) time.Time {
	return now.Add(-HotRetention(signal))
}
