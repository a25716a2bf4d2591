// Package metrics exposes Prometheus counters and gauges for stream and
// data-plane activity, using github.com/prometheus/client_golang the way
// the rest of the retrieved pack does (promauto package-level collectors),
// rather than a hand-rolled text exposition writer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamBytesTotal counts bytes sent or received by stream workers,
	// labeled by transport and direction.
	StreamBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goiperf_stream_bytes_total",
			Help: "Total bytes transferred by stream workers.",
		},
		[]string{"transport", "direction"},
	)

	// StreamPacketsTotal counts UDP packets sent or received.
	StreamPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goiperf_stream_packets_total",
			Help: "Total UDP packets transferred by stream workers.",
		},
		[]string{"direction"},
	)

	// StreamErrorsTotal accumulates each stream's final cnt_error (loss
	// net of later out-of-order decrements), added when its worker stops.
	StreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goiperf_stream_errors_total",
			Help: "Total packet loss events accounted by the receive-side counters.",
		},
		[]string{"stream_id"},
	)

	// OutOfOrderPacketsTotal counts reordered/duplicate UDP arrivals.
	OutOfOrderPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goiperf_out_of_order_packets_total",
			Help: "Total out-of-order or duplicate UDP packets observed.",
		},
		[]string{"stream_id"},
	)

	// JitterSeconds reports the last-observed smoothed jitter per stream.
	JitterSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goiperf_jitter_seconds",
			Help: "RFC 3550 smoothed jitter estimate, in seconds.",
		},
		[]string{"stream_id"},
	)

	// ActiveStreams reports the number of currently running stream
	// workers.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goiperf_active_streams",
			Help: "Number of stream workers currently running.",
		},
	)

	// ActiveDataplanePeers reports the number of distinct peers the
	// data-plane server currently has Counters allocated for.
	ActiveDataplanePeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goiperf_active_dataplane_peers",
			Help: "Number of distinct peers tracked by the data-plane server.",
		},
	)

	// RateLimiterSkipsTotal counts iterations the sender's rate limiter
	// busy-skipped because average throughput exceeded the configured cap.
	RateLimiterSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goiperf_rate_limiter_skips_total",
			Help: "Total sender iterations skipped by the rate limiter.",
		},
	)
)
