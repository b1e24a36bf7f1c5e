package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "message_search"

// Ingestion outcomes used as the "outcome" label
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeInProgress = "rejected_in_progress"
)

// Metrics owns a private Prometheus registry and the collectors recorded by
// the HTTP layer, the query executor and the ingestion service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram
	searchErrors   *prometheus.CounterVec

	ingestionRuns     *prometheus.CounterVec
	ingestionMessages prometheus.Counter
	ingestionRunning  prometheus.Gauge
	ingestionDuration prometheus.Histogram
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Latency of ranked search queries against the store.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_total_matches",
			Help:      "Size of the matching set reported by search queries.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		searchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_errors_total",
			Help:      "Failed search queries by error code.",
		}, []string{"code"}),
		ingestionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"outcome"}),
		ingestionMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_messages_total",
			Help:      "Messages committed to the store by ingestion runs.",
		}),
		ingestionRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestion_running",
			Help:      "1 while an ingestion run is active.",
		}),
		ingestionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Wall time of completed ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.searchDuration,
		m.searchResults,
		m.searchErrors,
		m.ingestionRuns,
		m.ingestionMessages,
		m.ingestionRunning,
		m.ingestionDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveSearch records a successful query and the size of its matching set
func (m *Metrics) ObserveSearch(d time.Duration, total int) {
	if m == nil {
		return
	}
	m.searchDuration.Observe(d.Seconds())
	m.searchResults.Observe(float64(total))
}

// SearchFailed counts a failed query
func (m *Metrics) SearchFailed(code string) {
	if m == nil {
		return
	}
	m.searchErrors.WithLabelValues(code).Inc()
}

// IngestionStarted marks a run as active
func (m *Metrics) IngestionStarted() {
	if m == nil {
		return
	}
	m.ingestionRunning.Set(1)
}

// IngestionFinished records the outcome of a run and the messages it committed
func (m *Metrics) IngestionFinished(outcome string, processed int, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestionRunning.Set(0)
	m.ingestionRuns.WithLabelValues(outcome).Inc()
	m.ingestionMessages.Add(float64(processed))
	m.ingestionDuration.Observe(d.Seconds())
}

// IngestionRejected counts a run refused because another was active
func (m *Metrics) IngestionRejected() {
	if m == nil {
		return
	}
	m.ingestionRuns.WithLabelValues(OutcomeInProgress).Inc()
}
