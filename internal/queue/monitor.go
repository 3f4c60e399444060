package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"docexport/pkg/metrics"
)

// QueueStats describes one partition of the topic.
type QueueStats struct {
	Topic      string    `json:"topic"`
	QueueID    int       `json:"queue_id"`
	BrokerName string    `json:"broker_name"`
	MinOffset  int64     `json:"min_offset"`
	MaxOffset  int64     `json:"max_offset"`
	LastUpdate time.Time `json:"last_update"`
}

// MessageCount is the number of retained messages, never negative.
func (s QueueStats) MessageCount() int64 {
	if s.MaxOffset < s.MinOffset {
		return 0
	}
	return s.MaxOffset - s.MinOffset
}

// ConsumerProgress describes a consumer group's committed position on
// one partition.
type ConsumerProgress struct {
	ConsumerGroup string    `json:"consumer_group"`
	Topic         string    `json:"topic"`
	QueueID       int       `json:"queue_id"`
	BrokerName    string    `json:"broker_name"`
	ClientID      string    `json:"client_id"`
	ConsumeOffset int64     `json:"consume_offset"`
	LastUpdate    time.Time `json:"last_update"`
}

// Lag is the number of unprocessed messages relative to the partition's
// max offset. Never negative; an uncommitted group counts from the
// partition's min offset.
func (p ConsumerProgress) Lag(stats QueueStats) int64 {
	committed := p.ConsumeOffset
	if committed < 0 {
		committed = stats.MinOffset
	}
	if stats.MaxOffset <= committed {
		return 0
	}
	return stats.MaxOffset - committed
}

// TopicStats aggregates the topic-level view.
type TopicStats struct {
	Topic          string    `json:"topic"`
	TotalMessages  int64     `json:"total_messages"`
	TotalQueues    int       `json:"total_queues"`
	ConsumerGroups []string  `json:"consumer_groups"`
	LastUpdate     time.Time `json:"last_update"`
}

// SystemMetrics carries the connection-level figures of a monitor
// snapshot.
type SystemMetrics struct {
	Brokers      []string  `json:"brokers"`
	Connected    bool      `json:"connected"`
	TotalLag     int64     `json:"total_lag"`
	ActiveQueues int       `json:"active_queues"`
	Timestamp    time.Time `json:"timestamp"`
}

// MonitorMetrics is the full monitoring snapshot serialized by
// ExportMetricsJSON.
type MonitorMetrics struct {
	Timestamp        time.Time          `json:"timestamp"`
	TopicStats       []TopicStats       `json:"topic_stats"`
	QueueStats       []QueueStats       `json:"queue_stats"`
	ConsumerProgress []ConsumerProgress `json:"consumer_progress"`
	System           SystemMetrics      `json:"system_metrics"`
}

// Monitor translates broker-native statistics into the uniform status
// shapes. Only instantiated against the broker backend; a broker that
// stops answering yields zeroed structures, not errors.
type Monitor struct {
	conn  *Connection
	stats *statsRecorder

	mu          sync.Mutex
	client      *kafka.Client
	initialized bool
}

func NewMonitor(conn *Connection, stats *statsRecorder) *Monitor {
	return &Monitor{conn: conn, stats: stats}
}

// Initialize builds the admin client. Requires an established
// connection.
func (m *Monitor) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if !m.conn.IsConnected() {
		return &ConnectionError{Brokers: m.conn.Info().Brokers, Err: ErrNotInitialized}
	}

	m.client = &kafka.Client{
		Addr:    kafka.TCP(m.conn.Info().Brokers...),
		Timeout: m.conn.cfg.DialTimeout,
	}
	m.initialized = true
	slog.Info("Queue monitor initialized")
	return nil
}

func (m *Monitor) adminClient() *kafka.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// partitions lists the topic's partition ids with their leader names.
func (m *Monitor) partitions(ctx context.Context, topic string) (map[int]string, error) {
	client := m.adminClient()
	if client == nil {
		return nil, &ConsumeError{Reason: "monitor is not initialized"}
	}

	resp, err := client.Metadata(ctx, &kafka.MetadataRequest{
		Addr:   client.Addr,
		Topics: []string{topic},
	})
	if err != nil {
		return nil, err
	}

	leaders := make(map[int]string)
	for _, t := range resp.Topics {
		if t.Name != topic || t.Error != nil {
			continue
		}
		for _, p := range t.Partitions {
			leaders[p.ID] = fmt.Sprintf("%s:%d", p.Leader.Host, p.Leader.Port)
		}
	}
	return leaders, nil
}

// GetTopicStats aggregates the topic view. Broker errors degrade to a
// zeroed struct.
func (m *Monitor) GetTopicStats(ctx context.Context, topic string) TopicStats {
	info := m.conn.Info()
	stats := TopicStats{
		Topic:          topic,
		ConsumerGroups: []string{info.ConsumerGroup},
		LastUpdate:     time.Now().UTC(),
	}

	queueStats := m.GetQueueStats(ctx, topic)
	stats.TotalQueues = len(queueStats)
	for _, qs := range queueStats {
		stats.TotalMessages += qs.MessageCount()
	}
	return stats
}

// GetQueueStats lists per-partition offset ranges. Broker errors degrade
// to an empty slice.
func (m *Monitor) GetQueueStats(ctx context.Context, topic string) []QueueStats {
	client := m.adminClient()
	if client == nil {
		return nil
	}

	leaders, err := m.partitions(ctx, topic)
	if err != nil {
		slog.Warn("Failed to fetch topic metadata", "topic", topic, slog.Any("error", err))
		return nil
	}

	reqs := make([]kafka.OffsetRequest, 0, len(leaders)*2)
	for id := range leaders {
		reqs = append(reqs, kafka.FirstOffsetOf(id), kafka.LastOffsetOf(id))
	}
	resp, err := client.ListOffsets(ctx, &kafka.ListOffsetsRequest{
		Addr:   client.Addr,
		Topics: map[string][]kafka.OffsetRequest{topic: reqs},
	})
	if err != nil {
		slog.Warn("Failed to list offsets", "topic", topic, slog.Any("error", err))
		return nil
	}

	now := time.Now().UTC()
	out := make([]QueueStats, 0, len(leaders))
	for _, po := range resp.Topics[topic] {
		if po.Error != nil {
			continue
		}
		out = append(out, QueueStats{
			Topic:      topic,
			QueueID:    po.Partition,
			BrokerName: leaders[po.Partition],
			MinOffset:  po.FirstOffset,
			MaxOffset:  po.LastOffset,
			LastUpdate: now,
		})
	}
	return out
}

// GetConsumerProgress lists the group's committed offsets. Broker errors
// degrade to an empty slice.
func (m *Monitor) GetConsumerProgress(ctx context.Context, group, topic string) []ConsumerProgress {
	client := m.adminClient()
	if client == nil {
		return nil
	}

	leaders, err := m.partitions(ctx, topic)
	if err != nil {
		slog.Warn("Failed to fetch topic metadata", "topic", topic, slog.Any("error", err))
		return nil
	}
	ids := make([]int, 0, len(leaders))
	for id := range leaders {
		ids = append(ids, id)
	}

	resp, err := client.OffsetFetch(ctx, &kafka.OffsetFetchRequest{
		Addr:    client.Addr,
		GroupID: group,
		Topics:  map[string][]int{topic: ids},
	})
	if err != nil {
		slog.Warn("Failed to fetch consumer offsets", "group", group, slog.Any("error", err))
		return nil
	}

	now := time.Now().UTC()
	out := make([]ConsumerProgress, 0, len(ids))
	for _, ofp := range resp.Topics[topic] {
		if ofp.Error != nil {
			continue
		}
		out = append(out, ConsumerProgress{
			ConsumerGroup: group,
			Topic:         topic,
			QueueID:       ofp.Partition,
			BrokerName:    leaders[ofp.Partition],
			ConsumeOffset: ofp.CommittedOffset,
			LastUpdate:    now,
		})
	}
	return out
}

// GetConsumerLag computes per-partition lag and refreshes the lag gauge.
func (m *Monitor) GetConsumerLag(ctx context.Context, group, topic string) map[int]int64 {
	queueStats := m.GetQueueStats(ctx, topic)
	progress := m.GetConsumerProgress(ctx, group, topic)

	byPartition := make(map[int]QueueStats, len(queueStats))
	for _, qs := range queueStats {
		byPartition[qs.QueueID] = qs
	}

	lag := make(map[int]int64)
	for _, p := range progress {
		qs, ok := byPartition[p.QueueID]
		if !ok {
			continue
		}
		lag[p.QueueID] = p.Lag(qs)
		metrics.QueueConsumerLag.
			WithLabelValues(topic, group, strconv.Itoa(p.QueueID)).
			Set(float64(lag[p.QueueID]))
	}
	return lag
}

// GetTotalLag sums the per-partition lag.
func (m *Monitor) GetTotalLag(ctx context.Context, group, topic string) int64 {
	var total int64
	for _, l := range m.GetConsumerLag(ctx, group, topic) {
		total += l
	}
	return total
}

// GetMonitorMetrics assembles the full snapshot.
func (m *Monitor) GetMonitorMetrics(ctx context.Context) MonitorMetrics {
	info := m.conn.Info()
	queueStats := m.GetQueueStats(ctx, info.Topic)

	return MonitorMetrics{
		Timestamp:        time.Now().UTC(),
		TopicStats:       []TopicStats{m.GetTopicStats(ctx, info.Topic)},
		QueueStats:       queueStats,
		ConsumerProgress: m.GetConsumerProgress(ctx, info.ConsumerGroup, info.Topic),
		System: SystemMetrics{
			Brokers:      info.Brokers,
			Connected:    m.conn.IsConnected(),
			TotalLag:     m.GetTotalLag(ctx, info.ConsumerGroup, info.Topic),
			ActiveQueues: len(queueStats),
			Timestamp:    time.Now().UTC(),
		},
	}
}

// GetHealthStatus reports aggregate health: connected and total lag
// under the threshold. It never fails; trouble shows up as unhealthy.
func (m *Monitor) GetHealthStatus(ctx context.Context) HealthStatus {
	info := m.conn.Info()
	totalLag := m.GetTotalLag(ctx, info.ConsumerGroup, info.Topic)
	queueStats := m.GetQueueStats(ctx, info.Topic)

	var totalMessages int64
	for _, qs := range queueStats {
		totalMessages += qs.MessageCount()
	}

	return HealthStatus{
		Healthy:          m.conn.IsConnected() && totalLag < m.conn.cfg.MaxHealthyLag,
		ConnectionStatus: m.conn.IsConnected(),
		TotalLag:         totalLag,
		Topic:            info.Topic,
		ConsumerGroup:    info.ConsumerGroup,
		LastCheck:        time.Now().UTC(),
		Details: HealthDetails{
			ActiveQueues:  len(queueStats),
			TotalMessages: totalMessages,
			Brokers:       info.Brokers,
		},
	}
}

// GetPerformanceMetrics snapshots the live recorder.
func (m *Monitor) GetPerformanceMetrics() PerformanceMetrics {
	return m.stats.Snapshot()
}

// ExportMetricsJSON serializes the full snapshot as a canonical JSON
// document for external consumption.
func (m *Monitor) ExportMetricsJSON(ctx context.Context) (string, error) {
	out, err := json.MarshalIndent(m.GetMonitorMetrics(ctx), "", "  ")
	if err != nil {
		return "", wrapOp("export monitor metrics", err)
	}
	return string(out), nil
}
