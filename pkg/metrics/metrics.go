// Package metrics exposes the simulated backend's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contractdesk"

// Backend groups the collectors of one backend instance. A nil *Backend
// records nothing, so instrumented code does not need to check for it.
type Backend struct {
	registry *prometheus.Registry

	uploads          *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	pushClients      prometheus.Gauge
	pushPublished    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewBackend creates the collectors on a private registry.
func NewBackend() *Backend {
	m := &Backend{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Accepted contract uploads by workflow.",
		}, []string{"workflow"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Finished analysis pipelines by final status.",
		}, []string{"status"}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from upload to a terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		pushClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "clients",
			Help:      "Connected push clients.",
		}),
		pushPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "published_total",
			Help:      "Push events published by event name.",
		}, []string{"event"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.uploads,
		m.outcomes,
		m.pipelineDuration,
		m.pushClients,
		m.pushPublished,
		m.requestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Backend) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Backend) RecordUpload(workflow string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(workflow).Inc()
}

// RecordOutcome counts a finished pipeline and how long it ran.
func (m *Backend) RecordOutcome(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
	m.pipelineDuration.Observe(elapsed.Seconds())
}

func (m *Backend) PushClientConnected() {
	if m == nil {
		return
	}
	m.pushClients.Inc()
}

func (m *Backend) PushClientDisconnected() {
	if m == nil {
		return
	}
	m.pushClients.Dec()
}

func (m *Backend) RecordPublish(event string) {
	if m == nil {
		return
	}
	m.pushPublished.WithLabelValues(event).Inc()
}

// ObserveRequest records one served request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Backend) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
