package dialogue

import (
	"github.com/bissquit/mention-relay/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "dialogue",
			Name:      "turns_total",
			Help:      "Dialogue turns by state before and after",
		},
		[]string{"from", "input", "to"},
	)

	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "dialogue",
			Name:      "mutations_total",
			Help:      "Subscription changes made through the dialogue",
		},
		[]string{"field", "result"},
	)
)

func recordTurn(from State, input Input, to State) {
	turnsTotal.WithLabelValues(string(from), string(input), string(to)).Inc()
}

func recordMutation(field Field, result string) {
	mutationsTotal.WithLabelValues(string(field), result).Inc()
}
