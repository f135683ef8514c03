// Package metrics exposes the server's own operational counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RecordsIngested  *prometheus.CounterVec
	RecordsDropped   *prometheus.CounterVec
	FlushFailures    *prometheus.CounterVec
	BatchesRotated   *prometheus.CounterVec
	AlertEventsFired prometheus.Counter
	TailRecordsSent  prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		RecordsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pharos_records_ingested_total",
			Help: "Telemetry records accepted into the write buffer, by signal.",
		}, []string{"signal"}),
		RecordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pharos_records_dropped_total",
			Help: "Telemetry records rejected because the write buffer was full, by signal.",
		}, []string{"signal"}),
		FlushFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pharos_flush_failures_total",
			Help: "Hot store flush attempts that failed and will be retried, by signal.",
		}, []string{"signal"}),
		BatchesRotated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pharos_batches_rotated_total",
			Help: "Cold batches written and linked by the rotation worker, by signal.",
		}, []string{"signal"}),
		AlertEventsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "pharos_alert_events_fired_total",
			Help: "Alert events created by the evaluator.",
		}),
		TailRecordsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "pharos_tail_records_sent_total",
			Help: "Log records delivered to live tail subscribers.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
