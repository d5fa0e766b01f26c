// Package metrics registers the latency layer's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DelayedCalls counts transfer calls that slept before delegating,
	// labelled by operation (read, write, read_from, write_to).
	DelayedCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preload_latency_delayed_calls_total",
		Help: "Transfer calls that had the configured delay injected.",
	}, []string{"op"})

	// PassthroughCalls counts transfer calls forwarded with no added delay.
	PassthroughCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preload_latency_passthrough_calls_total",
		Help: "Transfer calls forwarded to the real implementation untouched.",
	}, []string{"op"})

	// TrackedSockets is the number of live descriptors in the socket registry.
	TrackedSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "preload_latency_tracked_sockets",
		Help: "Live socket descriptors currently classified by the registry.",
	})

	// MatchedAddrs is the size of the matched address table.
	MatchedAddrs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "preload_latency_matched_addrs",
		Help: "Resolved addresses known to belong to target hosts.",
	})

	// ForwardedConns counts connections accepted by the forward proxy.
	ForwardedConns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preload_latency_forwarded_connections_total",
		Help: "Connections accepted and piped to an upstream.",
	})

	// ResolveFailures counts hostname resolutions that failed during the
	// eager pre-resolution pass.
	ResolveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preload_latency_resolve_failures_total",
		Help: "Allow-list hostnames that failed eager resolution.",
	})
)
