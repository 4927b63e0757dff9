package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "museum_guide"

// Metrics owns a private Prometheus registry. All methods are safe on a
// nil receiver so components can run without instrumentation.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamAttempts *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
	markersDropped   *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.upstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Model provider call attempts by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	m.streamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Caller-facing stream events written, by type",
		},
		[]string{"type"},
	)
	m.markersDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markers_dropped_total",
			Help:      "Artifact card markers removed from answers, by reason",
		},
		[]string{"reason"},
	)
	m.fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Deterministic fallbacks taken instead of a model reply",
		},
		[]string{"feature"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.upstreamAttempts,
		m.streamEvents,
		m.markersDropped,
		m.fallbacks,
	)
	return m
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) UpstreamAttempt(mode, outcome string) {
	if m == nil {
		return
	}
	m.upstreamAttempts.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) StreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) MarkersDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.markersDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Fallback(feature string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(feature).Inc()
}
