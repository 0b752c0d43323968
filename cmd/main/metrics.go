package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "babbler"

// Reply outcomes recorded by Metrics.RecordReply.
const (
	outcomeReplied = "replied"
	outcomeSkipped = "skipped"
	outcomeNoSeed  = "no_seed"
	outcomeFailed  = "failed"
)

// Metrics holds the Prometheus collectors of the HTTP server. Every Server gets
// its own registry so several servers can live in one process.
type Metrics struct {
	registry           *prometheus.Registry
	requests           *prometheus.CounterVec
	replies            *prometheus.CounterVec
	generationDuration prometheus.Histogram
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Count of HTTP requests by handler, method and status code.",
			},
			[]string{"handler", "code", "method"},
		),
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "replies_total",
				Help:      "Count of inbound messages by reply outcome.",
			},
			[]string{"outcome"},
		),
		generationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "generation_duration_seconds",
				Help:      "Time spent generating one sentence.",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.replies,
		m.generationDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Instrument wraps a handler so its requests are counted under name.
func (m *Metrics) Instrument(name string, next http.HandlerFunc) http.Handler {
	return promhttp.InstrumentHandlerCounter(
		m.requests.MustCurryWith(prometheus.Labels{"handler": name}),
		next,
	)
}

// RecordReply records the outcome of one inbound message.
func (m *Metrics) RecordReply(outcome string) {
	m.replies.WithLabelValues(outcome).Inc()
}

// ObserveGeneration records how long a generation took.
func (m *Metrics) ObserveGeneration(start time.Time) {
	m.generationDuration.Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
