// Package transport assembles the HTTP(S) server that carries the HTTP
// API router, the WS listener, Prometheus metrics, and the health check
// onto one mux, the way the teacher's internal/adapter/inbound/http
// package wires the MCP transport.
package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments SPEC_FULL's DOMAIN STACK names:
// save activity, session/subscription gauges, WS auth outcomes, and
// projection latency.
type Metrics struct {
	SavesTotal          *prometheus.CounterVec
	SaveDuration        prometheus.Histogram
	ActiveSessions      prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
	WSAuthTotal         *prometheus.CounterVec
	ProjectionDuration  prometheus.Histogram
}

// NewMetrics creates and registers every instrument with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SavesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alfred",
				Name:      "saves_total",
				Help:      "Total number of document saves attempted, by outcome.",
			},
			[]string{"outcome"}, // outcome=ok/error
		),
		SaveDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "alfred",
				Name:      "save_duration_seconds",
				Help:      "Duration of a document save.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "alfred",
				Name:      "active_sessions",
				Help:      "Number of registered WebSocket sessions.",
			},
		),
		ActiveSubscriptions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "alfred",
				Name:      "active_subscriptions",
				Help:      "Number of live Store subscriptions.",
			},
		),
		WSAuthTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alfred",
				Name:      "ws_auth_total",
				Help:      "Total WebSocket authentication attempts, by outcome.",
			},
			[]string{"outcome"}, // outcome=ok/error/timeout
		),
		ProjectionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "alfred",
				Name:      "projection_duration_seconds",
				Help:      "Duration of an AccessEngine projection over Store.Get.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}
