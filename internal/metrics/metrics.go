// Package metrics holds the Prometheus collectors for the pipeline and the
// HTTP API, registered on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/requirements-intake/constants"
)

type Metrics struct {
	registry *prometheus.Registry

	BatchesTotal         *prometheus.CounterVec
	BatchDuration        *prometheus.HistogramVec
	PagesProcessedTotal  *prometheus.CounterVec
	CandidatesTotal      prometheus.Counter
	TicksTotal           *prometheus.CounterVec
	TickDuration         prometheus.Histogram
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_batches_total",
			Help: "Extraction batches by outcome.",
		}, []string{"status"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_batch_duration_seconds",
			Help:    "Wall time of one batch, download to insert.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"status"}),
		PagesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_pages_total",
			Help: "Pages that left the queue, by outcome.",
		}, []string{"status"}),
		CandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_candidates_inserted_total",
			Help: "Candidate requirements inserted.",
		}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_ticks_total",
			Help: "Processing ticks by result.",
		}, []string{"status"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_tick_duration_seconds",
			Help:    "Wall time of one tick.",
			Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BatchesTotal,
		m.BatchDuration,
		m.PagesProcessedTotal,
		m.CandidatesTotal,
		m.TicksTotal,
		m.TickDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// BatchFinished and TickFinished make Metrics a pipeline observer.
func (m *Metrics) BatchFinished(status constants.EventStatus, pages, candidates int, elapsed time.Duration) {
	s := string(status)
	m.BatchesTotal.WithLabelValues(s).Inc()
	m.BatchDuration.WithLabelValues(s).Observe(elapsed.Seconds())
	pageStatus := string(constants.PageProcessed)
	if status == constants.EventFailed {
		pageStatus = string(constants.PageFailed)
	}
	m.PagesProcessedTotal.WithLabelValues(pageStatus).Add(float64(pages))
	m.CandidatesTotal.Add(float64(candidates))
}

func (m *Metrics) TickFinished(status constants.TickStatus, _ int, elapsed time.Duration) {
	m.TicksTotal.WithLabelValues(string(status)).Inc()
	m.TickDuration.Observe(elapsed.Seconds())
}

// Middleware records request count, latency and the in-flight gauge. Routes
// are labelled by their mux pattern so path ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}
