// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the tunnel.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: packets, bursts, files.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueCount tracks the current occupancy of each named queue.
	QueueCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "acktun_queue_count",
			Help: "Number of packets currently queued.",
		}, []string{"queue"})

	// QueueBytes tracks the current byte occupancy of each named queue.
	QueueBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "acktun_queue_bytes",
			Help: "Sum of packet lengths currently queued.",
		}, []string{"queue"})

	// QueueSmoothedCount tracks the EWMA-smoothed occupancy of each queue.
	QueueSmoothedCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "acktun_queue_smoothed_count",
			Help: "Exponentially weighted moving average of queue occupancy.",
		}, []string{"queue"})

	// QueueOverflowTotal counts packets dropped because a queue was full.
	QueueOverflowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acktun_queue_overflow_total",
			Help: "Number of packets dropped due to queue overflow.",
		}, []string{"queue"})

	// PollingIntervalHistogram tracks the wall-clock time spent in one
	// pacer tick, from the readiness wait through the optional write check.
	PollingIntervalHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acktun_pacing_tick_seconds",
			Help:    "Wall-clock duration of one pacer tick.",
			Buckets: prometheus.LinearBuckets(0, .005, 20),
		},
	)

	// SpoofEpisodesTotal counts completed ARMED->...->IDLE episodes.
	SpoofEpisodesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acktun_spoof_episodes_total",
			Help: "Number of backward-congestion-signaling episodes completed.",
		},
	)

	// SpoofDupAcksTotal counts individual fabricated duplicate ACKs written
	// to the tap device.
	SpoofDupAcksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acktun_spoof_dupacks_total",
			Help: "Number of fabricated duplicate ACKs written to the tap device.",
		},
	)

	// SpoofSuppressedTotal counts tap-side retransmissions suppressed while
	// an episode's trigger sequence is armed.
	SpoofSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acktun_spoof_suppressed_total",
			Help: "Number of tap packets dropped as the retransmission of a trigger sequence.",
		},
	)

	// ErrorCount measures the number of errors, labeled by a short type.
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acktun_error_total",
			Help: "The total number of errors encountered.",
		}, []string{"type"})

	// CaptureFileCount counts rotated capture files created.
	CaptureFileCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acktun_capture_file_total",
			Help: "Number of capture files created.",
		},
	)

	// EventsDroppedTotal counts events dropped because a connected events
	// client's outbox was full.
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acktun_events_dropped_total",
			Help: "Number of spoof/queue events dropped for a slow events client.",
		},
	)
)

// init prints a log message to let the operator know that the package has
// been loaded and the metrics registered. The metrics are auto-registered,
// which means they are registered as soon as this package is loaded, and
// the exact time this occurs (and whether it occurs at all in a given
// context) can be opaque.
func init() {
	log.Println("Prometheus metrics in acktun.metrics are registered.")
}
