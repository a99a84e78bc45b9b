package rpcpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UniverseMetrics holds the process-wide routing counters read by external
// observability. One instance is shared by every component in a process; the
// registry is injected rather than hidden behind a package-level singleton.
type UniverseMetrics struct {
	RequestsTotal      *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	PredictiveSwitches prometheus.Counter
	RateLimitHits      prometheus.Counter
	SheddedRequests    prometheus.Counter
	InFlight           prometheus.Gauge
	EndpointScore      *prometheus.GaugeVec
	CallLatency        *prometheus.HistogramVec
}

// NewUniverseMetrics creates and registers the routing metrics. A nil
// registerer falls back to the process default registry.
func NewUniverseMetrics(reg prometheus.Registerer) *UniverseMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &UniverseMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcpool_requests_total",
				Help: "Total RPC requests routed, by endpoint tier",
			},
			[]string{"tier"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcpool_errors_total",
				Help: "Total RPC request failures, by endpoint tier and error kind",
			},
			[]string{"tier", "kind"},
		),
		PredictiveSwitches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rpcpool_predictive_switches_total",
				Help: "Times an endpoint was skipped because its predicted failure probability crossed the switch threshold",
			},
		),
		RateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rpcpool_rate_limit_hits_total",
				Help: "Requests rejected by the pool-level rate limiter",
			},
		),
		SheddedRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rpcpool_shedded_requests_total",
				Help: "Requests rejected because the in-flight ceiling was reached",
			},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rpcpool_inflight_requests",
				Help: "Concurrent RPC requests currently in flight",
			},
		),
		EndpointScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rpcpool_endpoint_score",
				Help: "Current selection score per endpoint",
			},
			[]string{"endpoint"},
		),
		CallLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcpool_call_latency_seconds",
				Help:    "RPC call latency by endpoint tier",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"tier"},
		),
	}
}
