// Package metrics holds the proxy's Prometheus instrumentation: fan-out
// latency, backend errors, and mapping-cache effectiveness. None of
// these feed spec-mandated behavior; they are exposed at /metrics purely
// as an operational surface for a production reverse proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FanOutDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jellyswarrm_fanout_duration_seconds",
			Help:    "Duration of a federated engine fan-out call, per operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jellyswarrm_backend_errors_total",
			Help: "Backend call failures, by server and error kind.",
		},
		[]string{"server", "kind"},
	)

	MappingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jellyswarrm_mapping_cache_total",
			Help: "ID Mapper read-through cache lookups, by outcome.",
		},
		[]string{"outcome"},
	)

	BackendsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jellyswarrm_backends_online",
			Help: "Number of backends currently marked online in the registry.",
		},
	)
)
