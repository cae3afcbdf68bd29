// Package metrics registers the Prometheus instruments shared across the
// pipeline and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	EventsReceived     prometheus.Counter
	EventsDeduplicated prometheus.Counter
	ExtractionAttempts *prometheus.CounterVec
	RecordsTerminal    *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	TokensIssued       prometheus.Counter
	HTTPDuration       *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certvault_events_received_total",
			Help: "Total ingestion events accepted onto the queue",
		}),
		EventsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certvault_events_deduplicated_total",
			Help: "Total ingestion events dropped as duplicates",
		}),
		ExtractionAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certvault_extraction_attempts_total",
			Help: "Extraction attempts by outcome",
		}, []string{"outcome"}),
		RecordsTerminal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certvault_records_terminal_total",
			Help: "Certificate records reaching a terminal status",
		}, []string{"status"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "certvault_ingest_queue_depth",
			Help: "Current depth of the ingestion queue",
		}),
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certvault_download_tokens_issued_total",
			Help: "Download tokens minted",
		}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// NewForTest creates metrics on a private registry so parallel tests do not
// collide on the default registerer.
func NewForTest() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "certvault_events_received_total",
		}),
		EventsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "certvault_events_deduplicated_total",
		}),
		ExtractionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certvault_extraction_attempts_total",
		}, []string{"outcome"}),
		RecordsTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certvault_records_terminal_total",
		}, []string{"status"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certvault_ingest_queue_depth",
		}),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "certvault_download_tokens_issued_total",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certvault_http_request_duration_seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}
