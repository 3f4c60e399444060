package metrics

import "github.com/prometheus/client_golang/prometheus"

// Queue metrics are labeled by backend ("broker" or "memory") so
// dashboards keep working across a fallback activation.
var (
	QueueMessagesProduced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docexport",
			Subsystem: "queue",
			Name:      "messages_produced_total",
			Help:      "Total number of export task messages sent",
		},
		[]string{"backend", "status"},
	)

	QueueMessagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docexport",
			Subsystem: "queue",
			Name:      "messages_consumed_total",
			Help:      "Total number of export task messages processed",
		},
		[]string{"backend", "status"},
	)

	QueueProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docexport",
			Subsystem: "queue",
			Name:      "message_processing_duration_seconds",
			Help:      "Export task processing duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "status"},
	)

	QueueConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docexport",
			Subsystem: "queue",
			Name:      "consumer_lag",
			Help:      "Messages between the committed offset and the partition head",
		},
		[]string{"topic", "consumer_group", "partition"},
	)

	MemoryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docexport",
			Subsystem: "queue",
			Name:      "memory_queue_depth",
			Help:      "Messages currently buffered in the in-process fallback queue",
		},
	)
)

func init() {
	Registry.MustRegister(
		QueueMessagesProduced,
		QueueMessagesConsumed,
		QueueProcessingDuration,
		QueueConsumerLag,
		MemoryQueueDepth,
	)
}
