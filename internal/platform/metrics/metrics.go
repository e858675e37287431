package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the blink-detector pipeline.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	eventsDetectedTotal  *prometheus.CounterVec
	segmentsOpenedTotal  prometheus.Counter
	segmentsKeptTotal    prometheus.Counter
	segmentsDeletedTotal prometheus.Counter
	readErrorsTotal      prometheus.Counter
	linkReopensTotal     prometheus.Counter
	pendingSegments      prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the pipeline.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blink_requests_total",
		Help: "Total number of HTTP requests received",
	})
	eventsDetectedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blink_events_detected_total",
		Help: "Total number of rising-edge events detected, per channel",
	}, []string{"channel"})
	segmentsOpenedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blink_segments_opened_total",
		Help: "Total number of video segments opened by the encoder",
	})
	segmentsKeptTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blink_segments_kept_total",
		Help: "Total number of segments marked must-keep and retained",
	})
	segmentsDeletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blink_segments_deleted_total",
		Help: "Total number of segments deleted by cleanup or the final sweep",
	})
	readErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blink_sensor_read_errors_total",
		Help: "Total number of failed sensor reads (timeout, format, transport)",
	})
	linkReopensTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blink_link_reopens_total",
		Help: "Total number of serial link reopen attempts",
	})
	pendingSegments := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blink_retention_pending_segments",
		Help: "Number of closed segments awaiting a cleanup decision",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blink_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		eventsDetectedTotal,
		segmentsOpenedTotal,
		segmentsKeptTotal,
		segmentsDeletedTotal,
		readErrorsTotal,
		linkReopensTotal,
		pendingSegments,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		eventsDetectedTotal:  eventsDetectedTotal,
		segmentsOpenedTotal:  segmentsOpenedTotal,
		segmentsKeptTotal:    segmentsKeptTotal,
		segmentsDeletedTotal: segmentsDeletedTotal,
		readErrorsTotal:      readErrorsTotal,
		linkReopensTotal:     linkReopensTotal,
		pendingSegments:      pendingSegments,
		errorsTotal:          errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncEventsDetected increments the detected-event counter for the given channel.
func (m *Metrics) IncEventsDetected(channel string) {
	m.eventsDetectedTotal.WithLabelValues(channel).Inc()
}

// IncSegmentsOpened increments the segments opened counter.
func (m *Metrics) IncSegmentsOpened() {
	m.segmentsOpenedTotal.Inc()
}

// IncSegmentsKept increments the segments kept counter.
func (m *Metrics) IncSegmentsKept() {
	m.segmentsKeptTotal.Inc()
}

// IncSegmentsDeleted increments the segments deleted counter.
func (m *Metrics) IncSegmentsDeleted() {
	m.segmentsDeletedTotal.Inc()
}

// IncReadErrors increments the failed sensor read counter.
func (m *Metrics) IncReadErrors() {
	m.readErrorsTotal.Inc()
}

// IncLinkReopens increments the link reopen counter.
func (m *Metrics) IncLinkReopens() {
	m.linkReopensTotal.Inc()
}

// SetPendingSegments sets the retention-window backlog gauge.
func (m *Metrics) SetPendingSegments(n int) {
	m.pendingSegments.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. the retention-window backlog).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
