package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	QueueDepth          *prometheus.GaugeVec
	QueueProcessedTotal *prometheus.CounterVec
	QueueDLQSize        *prometheus.GaugeVec
)

// MustRegisterMetrics registers the queue collectors once. Until then the queue records nothing.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Approximate number of ready tasks per kind",
		}, []string{"kind"})
		QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Total tasks processed grouped by status (ok, retry, dead)",
		}, []string{"kind", "status"})
		QueueDLQSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_dlq_size",
			Help:      "Number of tasks stored in DLQ",
		}, []string{"kind"})
		reg.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize)
	})
}

func setDepth(kind string, n int64) {
	if QueueDepth != nil {
		QueueDepth.WithLabelValues(kind).Set(float64(n))
	}
}

func setDLQSize(kind string, n int64) {
	if QueueDLQSize != nil {
		QueueDLQSize.WithLabelValues(kind).Set(float64(n))
	}
}

func countProcessed(kind, status string) {
	if QueueProcessedTotal != nil {
		QueueProcessedTotal.WithLabelValues(kind, status).Inc()
	}
}
