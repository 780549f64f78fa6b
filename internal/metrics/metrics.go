// Package metrics defines the Prometheus instruments of the service. All
// of them live in the default registry under the wer_engine namespace.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wer_engine"

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
}

// HTTP, labelled by chi route pattern.
var (
	HTTPRequestsTotal   = counter("http_requests_total", "Total HTTP requests processed.", "method", "path_pattern", "status_code")
	HTTPRequestDuration = histogram("http_request_duration_seconds", "HTTP request duration in seconds.",
		prometheus.DefBuckets, "method", "path_pattern")
	HTTPResponseSize = histogram("http_response_size_bytes", "HTTP response size in bytes.",
		prometheus.ExponentialBuckets(100, 10, 7), "method", "path_pattern")
)

// Engine.
var (
	EvaluationsTotal   = counter("evaluations_total", "Evaluations processed, by source and outcome.", "source", "outcome")
	HypothesesTotal    = counter("hypotheses_total", "Hypotheses scored, by outcome (improved, unchanged, worse, failed).", "outcome")
	TrustDecisionsTotal = counter("trust_decisions_total", "Per-slot trust decisions.", "decision")

	// 0.5ms to about 2m.
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evaluation_duration_seconds",
		Help:      "Time spent in the evaluation engine per request.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	})
)

// Ingest and delivery.
var (
	MQTTMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_messages_total",
		Help:      "Total MQTT messages received.",
	})
	DatasetFilesTotal    = counter("dataset_files_total", "Dataset files picked up, by origin (watch, upload, mqtt).", "origin")
	EventsPublishedTotal = counter("events_published_total", "Evaluation events published, by outcome.", "outcome")
)

// InstrumentHandler records request count, latency and response size per
// route pattern. Unmatched requests are labelled "unknown".
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		HTTPResponseSize.WithLabelValues(r.Method, pattern).Observe(float64(ww.BytesWritten()))
	})
}
