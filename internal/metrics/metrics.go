// Package metrics exposes Prometheus instrumentation for the service. A
// nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. Create with New.
type Metrics struct {
	registry *prometheus.Registry
	start    time.Time

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	detections    *prometheus.CounterVec
	detectionTime prometheus.Histogram
	opsTotal      *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	annsAdded     *prometheus.CounterVec
	annsRemoved   *prometheus.CounterVec
	zeroMatches   prometheus.Counter
	jobsCreated   *prometheus.CounterVec
	jobsLive      prometheus.Gauge
	queueDepth    prometheus.Gauge
	wsClients     prometheus.Gauge
	uptime        prometheus.Gauge
}

// New creates the collectors on a private registry and starts the uptime
// updater.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		start:    time.Now(),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsentinel_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsentinel_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		detections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsentinel_detection_requests_total",
			Help: "Detection service calls by outcome",
		}, []string{"outcome"}),

		detectionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsentinel_detection_duration_seconds",
			Help:    "Detection service call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		opsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsentinel_reconcile_ops_total",
			Help: "Reconciliation operations by name and outcome",
		}, []string{"op", "outcome"}),

		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsentinel_reconcile_op_duration_seconds",
			Help:    "Reconciliation operation duration by name",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"op"}),

		annsAdded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsentinel_annotations_added_total",
			Help: "Annotations added by kind",
		}, []string{"kind"}),

		annsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsentinel_annotations_removed_total",
			Help: "Annotations removed by kind",
		}, []string{"kind"}),

		zeroMatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsentinel_zero_match_redactions_total",
			Help: "Redaction requests whose entity text was not found",
		}),

		jobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsentinel_jobs_created_total",
			Help: "Redaction jobs created by source",
		}, []string{"source"}),

		jobsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docsentinel_jobs_live",
			Help: "Jobs currently held in memory",
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docsentinel_queue_depth",
			Help: "Operations admitted but not yet settled, across all jobs",
		}),

		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docsentinel_websocket_clients",
			Help: "Connected WebSocket clients",
		}),

		uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docsentinel_uptime_seconds",
			Help: "Seconds since process start",
		}),
	}

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.uptime.Set(time.Since(m.start).Seconds())
	}
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTP records one served request.
func (m *Metrics) RecordHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordDetection records one detection service call.
func (m *Metrics) RecordDetection(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(outcome).Inc()
	m.detectionTime.Observe(d.Seconds())
}

// RecordOp records one settled reconciliation operation.
func (m *Metrics) RecordOp(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.opsTotal.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordAnnotations records annotation churn for one kind.
func (m *Metrics) RecordAnnotations(kind string, added, removed int) {
	if m == nil {
		return
	}
	if added > 0 {
		m.annsAdded.WithLabelValues(kind).Add(float64(added))
	}
	if removed > 0 {
		m.annsRemoved.WithLabelValues(kind).Add(float64(removed))
	}
}

// RecordZeroMatch counts a redaction request that located nothing.
func (m *Metrics) RecordZeroMatch() {
	if m == nil {
		return
	}
	m.zeroMatches.Inc()
}

// RecordJobCreated counts a new job by source ("text" or "pdf").
func (m *Metrics) RecordJobCreated(source string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(source).Inc()
}

// SetJobsLive updates the live job gauge.
func (m *Metrics) SetJobsLive(n int) {
	if m == nil {
		return
	}
	m.jobsLive.Set(float64(n))
}

// SetQueueDepth updates the aggregate queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// AddWSClient adjusts the connected client gauge by delta.
func (m *Metrics) AddWSClient(delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(float64(delta))
}
