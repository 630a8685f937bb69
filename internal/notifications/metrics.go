package notifications

import (
	"time"

	"github.com/bissquit/mention-relay/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "events_total",
			Help:      "Total message events routed",
		},
	)

	candidatesMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "candidates_total",
			Help:      "Admitted candidates by match kind",
		},
		[]string{"kind"},
	)

	candidatesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "rejections_total",
			Help:      "Candidates dropped by the admission filter, by reason",
		},
		[]string{"reason"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total notifications processed",
		},
		[]string{"kind", "status"},
	)

	notificationSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to send notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

func recordMatch(result MatchResult) {
	eventsProcessed.Inc()
	for _, c := range result.Admitted {
		candidatesMatched.WithLabelValues(string(c.Kind)).Inc()
	}
	for _, r := range result.Rejected {
		candidatesRejected.WithLabelValues(string(r.Reason)).Inc()
	}
}

func recordNotificationSent(kind MatchKind, status string, duration time.Duration) {
	notificationsSent.WithLabelValues(string(kind), status).Inc()
	notificationSendDuration.Observe(duration.Seconds())
}
