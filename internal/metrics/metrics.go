// Package metrics registers and exposes mercury-stream's Prometheus metrics,
// matching the names in SPEC_FULL.md §6 exactly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mercurystream_events_total",
		Help: "Total number of decoded events processed.",
	})

	EventsPerSecond = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mercurystream_events_per_second",
		Help: "Most recently sampled event throughput.",
	})

	LatencyMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mercurystream_latency_ms",
		Help:    "Pipeline age latency (recv_ts_ms - ingest_ts_ms) in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	AnomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mercurystream_anomalies_total",
		Help: "Total anomalies detected by type.",
	}, []string{"type"})

	IncidentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mercurystream_incidents_total",
		Help: "Total incident bundles finalized.",
	})

	IncidentCaptureFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mercurystream_incident_capture_failures_total",
		Help: "Total incident bundles abandoned due to a filesystem error.",
	})

	DropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mercurystream_drops_total",
		Help: "Total events dropped by the Bus across all subscriptions.",
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mercurystream_queue_depth",
		Help: "Current queue depth per subscriber.",
	}, []string{"sub"})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		EventsPerSecond,
		LatencyMs,
		AnomaliesTotal,
		IncidentsTotal,
		IncidentCaptureFailuresTotal,
		DropsTotal,
		QueueDepth,
	)
}

// Anomaly types, matching the {drift,dup,ooo,gaps,spikes} label values.
const (
	AnomalyDrift  = "drift"
	AnomalyDup    = "dup"
	AnomalyOOO    = "ooo"
	AnomalyGaps   = "gaps"
	AnomalySpikes = "spikes"
)

// IncrAnomaly increments the anomalies_total counter for the given type.
func IncrAnomaly(anomalyType string) {
	AnomaliesTotal.WithLabelValues(anomalyType).Inc()
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
