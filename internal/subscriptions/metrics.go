package subscriptions

import (
	"time"

	"github.com/bissquit/mention-relay/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "subscriptions",
			Name:      "refreshes_total",
			Help:      "Total store refreshes by kind and result",
		},
		[]string{"kind", "result"},
	)

	refreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "subscriptions",
			Name:      "refresh_duration_seconds",
			Help:      "Time to flush, reload and rebuild the index, grace period included",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 3, 5, 10},
		},
		[]string{"kind"},
	)

	indexSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "subscriptions",
			Name:      "index_size",
			Help:      "Number of records and indexed trigger keys after the last rebuild",
		},
		[]string{"kind"},
	)
)

func recordRefresh(kind, result string, d time.Duration) {
	refreshesTotal.WithLabelValues(kind, result).Inc()
	refreshDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func recordIndexSize(records, handles, roles int) {
	indexSize.WithLabelValues("records").Set(float64(records))
	indexSize.WithLabelValues("handles").Set(float64(handles))
	indexSize.WithLabelValues("roles").Set(float64(roles))
}
