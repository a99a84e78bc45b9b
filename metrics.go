package noncepool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolMetrics holds the nonce pool counters. The registry is injected so a
// process shares one registry instance between the pool, the RPC layer and
// anything else that exports metrics.
type PoolMetrics struct {
	LeasesAcquired  prometheus.Counter
	LeasesReleased  prometheus.Counter
	LeasesReclaimed prometheus.Counter
	PermitsInUse    prometheus.Gauge
	AcquireLatency  prometheus.Histogram
}

// NewPoolMetrics creates and registers the pool metrics. A nil registerer
// falls back to the process default registry.
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PoolMetrics{
		LeasesAcquired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "noncepool_leases_acquired_total",
				Help: "Total nonce leases handed out",
			},
		),
		LeasesReleased: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "noncepool_leases_released_total",
				Help: "Total nonce leases returned by their holders",
			},
		),
		LeasesReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "noncepool_leases_reclaimed_total",
				Help: "Total nonce leases force-reclaimed by the watchdog",
			},
		),
		PermitsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "noncepool_permits_in_use",
				Help: "Nonce pool permits currently held",
			},
		),
		AcquireLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "noncepool_acquire_latency_seconds",
				Help:    "Latency of nonce lease acquisition including the state fetch",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
	}
}
