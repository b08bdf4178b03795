// Package metrics provides Prometheus metrics collection for the gateway.
// It tracks cache effectiveness, upstream latencies, rate-limit pressure,
// and processor throughput per upstream client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apicache"

// LatencyBuckets defines histogram buckets for upstream latency (in seconds).
var LatencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
}

var (
	// CacheHits counts lookups served from the response cache.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"client"},
	)

	// CacheMisses counts lookups that fell through to the upstream.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"client"},
	)

	// CacheStores counts responses written to the cache.
	CacheStores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stores_total",
			Help:      "Total number of responses stored in the cache",
		},
		[]string{"client"},
	)

	// CacheRejected counts cached rows discarded as unreadable.
	CacheRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rejected_total",
			Help:      "Total number of cached rows rejected on read",
		},
		[]string{"client"},
	)

	// UpstreamRequests counts dispatched upstream HTTP requests.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream HTTP requests",
		},
		[]string{"client", "status_code"},
	)

	// UpstreamLatency tracks upstream call latency.
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Upstream HTTP call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"client", "endpoint"},
	)

	// RateLimitRejections counts requests refused by the credit bucket.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of requests refused by the rate limiter",
		},
		[]string{"client"},
	)

	// CreditsConsumed counts rate-limit credits consumed.
	CreditsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_consumed_total",
			Help:      "Total rate-limit credits consumed",
		},
		[]string{"client"},
	)

	// ProcessorRows counts rows extracted into destination tables.
	ProcessorRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_rows_total",
			Help:      "Total rows extracted by response processors",
		},
		[]string{"processor"},
	)

	// ProcessorErrors counts responses marked ERROR-processed.
	ProcessorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_errors_total",
			Help:      "Total responses marked ERROR during processing",
		},
		[]string{"processor"},
	)
)
