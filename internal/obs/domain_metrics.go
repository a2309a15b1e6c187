package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// MatrixIngestTotal counts ingestion outcomes per scope (ingested, skipped, removed, malformed, failed).
	MatrixIngestTotal *prometheus.CounterVec
	// MatrixIngestCells records how many priced cells an ingestion wrote.
	MatrixIngestCells prometheus.Histogram
	// MatrixIngestDuration records ingestion latency in milliseconds.
	MatrixIngestDuration prometheus.Histogram
	// MatrixLookupTotal counts nearest-fit resolutions by tier and result (hit, miss, error).
	MatrixLookupTotal *prometheus.CounterVec
	// MatrixCacheTotal counts resolution cache hits and misses.
	MatrixCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		MatrixIngestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matrix_ingest_total",
			Help:      "Count of pricing matrix ingestion outcomes.",
		}, []string{"result"})
		MatrixIngestCells = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matrix_ingest_cells",
			Help:      "Number of price cells written per ingestion.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		})
		MatrixIngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matrix_ingest_duration_ms",
			Help:      "Latency of pricing matrix ingestion in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		})
		MatrixLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matrix_lookup_total",
			Help:      "Count of nearest-fit price lookups by tier and result.",
		}, []string{"tier", "result"})
		MatrixCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matrix_cache_total",
			Help:      "Count of price resolution cache lookups by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, MatrixIngestTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				MatrixIngestTotal = v
			}
		})
		mustRegisterCollector(reg, MatrixIngestCells, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				MatrixIngestCells = v
			}
		})
		mustRegisterCollector(reg, MatrixIngestDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				MatrixIngestDuration = v
			}
		})
		mustRegisterCollector(reg, MatrixLookupTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				MatrixLookupTotal = v
			}
		})
		mustRegisterCollector(reg, MatrixCacheTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				MatrixCacheTotal = v
			}
		})
	})
}

// ObserveIngest records the outcome of a single scope ingestion. It is a no-op until the domain
// metrics are registered.
func ObserveIngest(result string, cells int, durationMs float64) {
	if MatrixIngestTotal == nil {
		return
	}
	MatrixIngestTotal.WithLabelValues(result).Inc()
	if result == "ingested" {
		MatrixIngestCells.Observe(float64(cells))
	}
	MatrixIngestDuration.Observe(durationMs)
}

// ObserveLookup records a price resolution outcome.
func ObserveLookup(tier, result string) {
	if MatrixLookupTotal == nil {
		return
	}
	MatrixLookupTotal.WithLabelValues(tier, result).Inc()
}

// ObserveCache records a resolution cache hit or miss.
func ObserveCache(result string) {
	if MatrixCacheTotal == nil {
		return
	}
	MatrixCacheTotal.WithLabelValues(result).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
