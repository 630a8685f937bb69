// Package metrics provides process-wide Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric exported by the relay.
const Namespace = "mentionrelay"

var (
	// HTTPRequestDuration tracks ops HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status_code"},
	)

	// DBPoolConnections tracks the subscription database pool.
	DBPoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "db",
			Name:      "pool_connections",
			Help:      "Number of database connections by state",
		},
		[]string{"state"},
	)

	// GatewayEvents counts inbound Discord gateway events by outcome.
	GatewayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "discord",
			Name:      "gateway_events_total",
			Help:      "Discord message events received, by outcome",
		},
		[]string{"outcome"},
	)

	// TelegramUpdates counts Telegram updates handled by the dialogue.
	TelegramUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "telegram",
			Name:      "updates_total",
			Help:      "Telegram updates processed, by result",
		},
		[]string{"result"},
	)
)
