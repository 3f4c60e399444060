package queue

import "time"

// HealthStatus is a point-in-time health snapshot. Computed on demand,
// never persisted.
type HealthStatus struct {
	Healthy          bool      `json:"healthy"`
	ConnectionStatus bool      `json:"connection_status"`
	TotalLag         int64     `json:"total_lag"`
	Topic            string    `json:"topic,omitempty"`
	ConsumerGroup    string    `json:"consumer_group,omitempty"`
	LastCheck        time.Time `json:"last_check"`
	Error            string    `json:"error,omitempty"`

	Details HealthDetails `json:"details"`
}

type HealthDetails struct {
	ActiveQueues  int      `json:"active_queues"`
	TotalMessages int64    `json:"total_messages"`
	Brokers       []string `json:"brokers,omitempty"`
}

// QueueStatus is the backend-agnostic status contract exposed by the
// Manager; both backends produce the same shape.
type QueueStatus struct {
	Topic         string           `json:"topic"`
	ConsumerGroup string           `json:"consumer_group"`
	Health        HealthStatus     `json:"health"`
	Metrics       QueueMetrics     `json:"metrics"`
	Connection    ConnectionStatus `json:"connection"`
	Components    ComponentStatus  `json:"components"`
}

type QueueMetrics struct {
	TotalMessages int64         `json:"total_messages"`
	ActiveQueues  int           `json:"active_queues"`
	ConsumerLag   map[int]int64 `json:"consumer_lag"`
	TotalLag      int64         `json:"total_lag"`
}

type ConnectionStatus struct {
	Brokers   []string `json:"brokers"`
	Connected bool     `json:"connected"`
}

type ComponentStatus struct {
	ProducerStarted   bool `json:"producer_started"`
	ConsumerStarted   bool `json:"consumer_started"`
	ConsumerConsuming bool `json:"consumer_consuming"`
}

// ConsumerStats is the per-consumer snapshot used by QueueStatus.
type ConsumerStats struct {
	Started       bool   `json:"is_started"`
	Consuming     bool   `json:"is_consuming"`
	QueueSize     int    `json:"queue_size"`
	ConsumerGroup string `json:"consumer_group"`
	Topic         string `json:"topic"`
	Tag           string `json:"tag"`
}

// PerformanceMetrics summarizes throughput, latency and error rates over
// a recent time range.
type PerformanceMetrics struct {
	Throughput Throughput `json:"message_throughput"`
	Latency    Latency    `json:"latency"`
	ErrorRate  ErrorRate  `json:"error_rate"`
	TimeRange  TimeRange  `json:"time_range"`
	QueueSize  int        `json:"queue_size,omitempty"`
}

type Throughput struct {
	ProducedPerSecond float64 `json:"produced_per_second"`
	ConsumedPerSecond float64 `json:"consumed_per_second"`
}

type Latency struct {
	AverageMs float64 `json:"average_ms"`
	P95Ms     float64 `json:"p95_ms"`
	P99Ms     float64 `json:"p99_ms"`
}

type ErrorRate struct {
	SendErrorRate    float64 `json:"send_error_rate"`
	ConsumeErrorRate float64 `json:"consume_error_rate"`
}

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
