package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker metrics are labelled by target (matrix-store, webhook-delivery).
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pricing",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Breaker state per target: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricing",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Breaker state changes by origin and destination state.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricing",
		Subsystem: "breaker",
		Name:      "opened_total",
		Help:      "Times a breaker tripped open.",
	}, []string{"target"})
)
