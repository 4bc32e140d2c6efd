// Package metrics exposes the counters and histograms spec.md §6 implies
// for both binaries' HTTP debug listener: session counts, voice packet
// rates, and RPC latencies, grounded on the DMRHub pack example's
// prometheus/client_golang wiring for a voice-routing server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grumble",
		Name:      "sessions_active",
		Help:      "Number of currently connected client sessions.",
	})

	VoicePacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grumble",
		Name:      "voice_packets_total",
		Help:      "Voice packets routed, by direction.",
	}, []string{"direction"})

	VoicePacketsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grumble",
		Name:      "voice_packets_dropped_total",
		Help:      "Voice packets dropped, by reason.",
	}, []string{"reason"})

	RPCLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grumble",
		Name:      "rpc_latency_seconds",
		Help:      "Edge<->Hub RPC round-trip latency, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	RPCErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grumble",
		Name:      "rpc_errors_total",
		Help:      "Edge<->Hub RPC errors, by method.",
	}, []string{"method"})

	EdgesConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grumble",
		Name:      "edges_connected",
		Help:      "Number of Edge instances currently registered with the Hub.",
	})
)

// Handler returns the HTTP handler to mount on the debug listener's
// /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
