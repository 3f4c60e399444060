package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"docexport/pkg/metrics"
)

// MemoryQueue is the in-process FIFO shared by the fallback producer and
// consumer. Safe for concurrent push and single-consumer pop. Contents
// are best-effort: non-persistent and lost on process exit.
type MemoryQueue struct {
	ch chan QueueMessage
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryQueue{ch: make(chan QueueMessage, capacity)}
}

// Push enqueues without blocking. A saturated queue is a send failure,
// not a stall.
func (q *MemoryQueue) Push(msg QueueMessage) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return &SendError{TaskID: msg.Keys, Reason: "memory queue is full"}
	}
}

// Pop blocks for at most timeout. The bound keeps the consumer loop
// responsive to its stop signal.
func (q *MemoryQueue) Pop(timeout time.Duration) (QueueMessage, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	case <-time.After(timeout):
		return QueueMessage{}, false
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// MemoryProducer mirrors the broker producer contract over the
// in-process queue.
type MemoryProducer struct {
	conn  *Connection
	stats *statsRecorder

	mu      sync.Mutex
	queue   *MemoryQueue
	started bool
}

func NewMemoryProducer(conn *Connection, stats *statsRecorder) *MemoryProducer {
	return &MemoryProducer{conn: conn, stats: stats}
}

// Start binds the producer to the shared queue, creating a private one
// when none is supplied. Re-binding a started producer to a different
// shared queue is allowed.
func (p *MemoryProducer) Start(q *MemoryQueue) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		if q == nil {
			q = NewMemoryQueue(p.conn.cfg.MemoryCapacity)
		}
		p.queue = q
		p.started = true
		slog.Info("Memory queue producer started")
		return
	}
	if q != nil && p.queue != q {
		p.queue = q
		slog.Debug("Memory queue producer bound to external queue")
	}
}

func (p *MemoryProducer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.started = false
	p.queue = nil
	slog.Info("Memory queue producer stopped")
}

func (p *MemoryProducer) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// SendExportTask wraps the task into a queue envelope and enqueues it.
func (p *MemoryProducer) SendExportTask(_ context.Context, task ExportTask) (string, error) {
	p.mu.Lock()
	q := p.queue
	started := p.started
	p.mu.Unlock()

	if !started {
		return "", &SendError{Reason: "memory queue producer is not started"}
	}

	info := p.conn.Info()
	msg := newTaskMessage(task)
	env, err := newQueueMessage(info.Topic, info.Tag, msg)
	if err != nil {
		return "", &SendError{TaskID: msg.TaskID, Reason: "marshal message", Err: err}
	}

	err = q.Push(env)
	p.stats.RecordSend(err)
	if err != nil {
		metrics.QueueMessagesProduced.WithLabelValues("memory", "error").Inc()
		return "", err
	}

	metrics.QueueMessagesProduced.WithLabelValues("memory", "success").Inc()
	metrics.MemoryQueueDepth.Set(float64(q.Len()))
	slog.Debug("Export task sent to memory queue", "task_id", msg.TaskID)
	return msg.TaskID, nil
}

// SendBatchExportTasks sends each payload independently, like the broker
// producer.
func (p *MemoryProducer) SendBatchExportTasks(ctx context.Context, batch BatchExportTask) ([]string, error) {
	taskIDs := make([]string, 0, len(batch.DataList))
	for _, data := range batch.DataList {
		id, err := p.SendExportTask(ctx, ExportTask{
			TemplateID:      batch.TemplateID,
			TemplateVersion: batch.TemplateVersion,
			Data:            data,
			OutputFormat:    batch.OutputFormat,
			Priority:        batch.Priority,
		})
		if err != nil {
			return taskIDs, err
		}
		taskIDs = append(taskIDs, id)
	}

	slog.Info("Batch export tasks sent to memory queue", "count", len(taskIDs))
	return taskIDs, nil
}

// MemoryConsumer drains the shared queue on one dedicated worker. There
// is no acknowledgment protocol: once popped, a message is gone
// regardless of handler outcome.
type MemoryConsumer struct {
	conn  *Connection
	stats *statsRecorder

	mu        sync.Mutex
	handler   Handler
	queue     *MemoryQueue
	started   bool
	consuming bool
	stopCh    chan struct{}
	done      chan struct{}

	// observation hook for tests
	onResult func(ConsumeResult)
}

func NewMemoryConsumer(conn *Connection, stats *statsRecorder) *MemoryConsumer {
	return &MemoryConsumer{conn: conn, stats: stats}
}

// SetMessageHandler installs or replaces the handler in place; the next
// dispatch observes it.
func (c *MemoryConsumer) SetMessageHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Start binds the consumer to the shared queue.
func (c *MemoryConsumer) Start(q *MemoryQueue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		if q == nil {
			q = NewMemoryQueue(c.conn.cfg.MemoryCapacity)
		}
		c.queue = q
		c.started = true
		slog.Info("Memory queue consumer started")
		return
	}
	if q != nil && c.queue != q {
		c.queue = q
		slog.Debug("Memory queue consumer bound to external queue")
	}
}

// StartConsuming launches the worker loop.
func (c *MemoryConsumer) StartConsuming() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return &ConsumeError{Reason: "memory queue consumer is not started"}
	}
	if c.handler == nil {
		return &ConsumeError{Reason: "message handler is not set"}
	}
	if c.consuming {
		return nil
	}

	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.consuming = true

	go c.consumeLoop(c.queue, c.stopCh, c.done)

	slog.Info("Started consuming messages from memory queue")
	return nil
}

func (c *MemoryConsumer) consumeLoop(q *MemoryQueue, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	pollInterval := c.conn.cfg.PollInterval
	for {
		select {
		case <-stop:
			slog.Info("Memory queue consumer loop stopped")
			return
		default:
		}

		env, ok := q.Pop(pollInterval)
		if !ok {
			continue
		}
		c.processMessage(env)
		metrics.MemoryQueueDepth.Set(float64(q.Len()))
	}
}

// processMessage unwraps the envelope and dispatches the handler. The
// result is recorded and logged only; the fallback path has no
// redelivery.
func (c *MemoryConsumer) processMessage(env QueueMessage) {
	c.mu.Lock()
	handler := c.handler
	hook := c.onResult
	c.mu.Unlock()

	msg, err := ParseExportTaskMessage(env.Body)
	if err != nil {
		taskID := env.Keys
		if taskID == "" {
			taskID = env.Properties["TASK_ID"]
		}
		res := ConsumeResult{Success: false, TaskID: taskID, ErrorMessage: "parse message: " + err.Error()}
		slog.Error("Failed to parse message from memory queue",
			"task_id", taskID,
			slog.Any("error", err))
		if c.stats != nil {
			c.stats.RecordConsume(res)
		}
		if hook != nil {
			hook(res)
		}
		return
	}

	res := dispatch(context.Background(), handler, msg, "memory", c.stats)
	if res.Success {
		slog.Debug("Export task processed from memory queue",
			"task_id", res.TaskID,
			"processing_time", res.ProcessingTime)
	} else {
		slog.Error("Export task failed in memory queue",
			"task_id", res.TaskID,
			"error_message", res.ErrorMessage)
	}
	if hook != nil {
		hook(res)
	}
}

// StopConsuming signals the worker; observed within one poll interval.
func (c *MemoryConsumer) StopConsuming() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.consuming {
		return
	}
	c.consuming = false
	close(c.stopCh)
	c.stopCh = nil
	slog.Info("Stopped consuming messages from memory queue")
}

// Stop halts consumption and joins the worker with a bounded wait.
func (c *MemoryConsumer) Stop() {
	c.StopConsuming()

	c.mu.Lock()
	done := c.done
	c.done = nil
	c.queue = nil
	c.started = false
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(c.conn.cfg.StopTimeout):
			slog.Warn("Memory consumer worker did not stop within bound, proceeding")
		}
	}
	slog.Info("Memory queue consumer stopped")
}

// Stats reports the consumer snapshot, including the live queue depth.
func (c *MemoryConsumer) Stats() ConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := c.conn.Info()
	s := ConsumerStats{
		Started:       c.started,
		Consuming:     c.consuming,
		ConsumerGroup: info.ConsumerGroup,
		Topic:         info.Topic,
		Tag:           info.Tag,
	}
	if c.queue != nil {
		s.QueueSize = c.queue.Len()
	}
	return s
}

// MemoryBackend bundles the fallback producer/consumer pair around one
// shared queue. It mirrors the Manager-facing surface of the broker
// backend with degenerate but well-formed monitoring shapes.
type MemoryBackend struct {
	conn  *Connection
	stats *statsRecorder

	Producer *MemoryProducer
	Consumer *MemoryConsumer

	mu      sync.Mutex
	queue   *MemoryQueue
	handler Handler
	started bool
}

func NewMemoryBackend(conn *Connection, stats *statsRecorder) *MemoryBackend {
	return &MemoryBackend{
		conn:     conn,
		stats:    stats,
		Producer: NewMemoryProducer(conn, stats),
		Consumer: NewMemoryConsumer(conn, stats),
	}
}

// Start binds both ends to a fresh shared queue.
func (b *MemoryBackend) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return
	}
	b.queue = NewMemoryQueue(b.conn.cfg.MemoryCapacity)
	b.Producer.Start(b.queue)
	if b.handler != nil {
		b.Consumer.SetMessageHandler(b.handler)
	}
	b.Consumer.Start(b.queue)
	b.started = true
	slog.Info("Memory queue backend started")
}

func (b *MemoryBackend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}
	b.Consumer.Stop()
	b.Producer.Stop()
	b.queue = nil
	b.started = false
	slog.Info("Memory queue backend stopped")
}

func (b *MemoryBackend) SetMessageHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
	b.Consumer.SetMessageHandler(h)
}

func (b *MemoryBackend) StartConsuming() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return &ConsumeError{Reason: "memory queue backend is not started"}
	}
	return b.Consumer.StartConsuming()
}

func (b *MemoryBackend) SendExportTask(ctx context.Context, task ExportTask) (string, error) {
	return b.Producer.SendExportTask(ctx, task)
}

func (b *MemoryBackend) SendBatchExportTasks(ctx context.Context, batch BatchExportTask) ([]string, error) {
	return b.Producer.SendBatchExportTasks(ctx, batch)
}

// IsHealthy: the fallback is healthy exactly while it is started.
func (b *MemoryBackend) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// QueueStatus reports the fallback-side status in the backend-agnostic
// shape. Lag degenerates to the live queue depth.
func (b *MemoryBackend) QueueStatus() QueueStatus {
	info := b.conn.Info()
	cs := b.Consumer.Stats()

	return QueueStatus{
		Topic:         info.Topic,
		ConsumerGroup: info.ConsumerGroup,
		Health: HealthStatus{
			Healthy:          b.IsHealthy(),
			ConnectionStatus: true,
			TotalLag:         int64(cs.QueueSize),
			Topic:            info.Topic,
			ConsumerGroup:    info.ConsumerGroup,
			LastCheck:        time.Now().UTC(),
			Details: HealthDetails{
				ActiveQueues:  1,
				TotalMessages: int64(cs.QueueSize),
			},
		},
		Metrics: QueueMetrics{
			TotalMessages: int64(cs.QueueSize),
			ActiveQueues:  1,
			ConsumerLag:   map[int]int64{0: int64(cs.QueueSize)},
			TotalLag:      int64(cs.QueueSize),
		},
		Connection: ConnectionStatus{
			Brokers:   []string{"memory"},
			Connected: true,
		},
		Components: ComponentStatus{
			ProducerStarted:   b.Producer.IsStarted(),
			ConsumerStarted:   cs.Started,
			ConsumerConsuming: cs.Consuming,
		},
	}
}

// PerformanceMetrics snapshots the live recorder plus the queue depth.
func (b *MemoryBackend) PerformanceMetrics() PerformanceMetrics {
	m := b.stats.Snapshot()
	m.QueueSize = b.Consumer.Stats().QueueSize
	return m
}

// ExportMetricsJSON serializes the fallback monitoring snapshot in the
// same shape the broker monitor produces.
func (b *MemoryBackend) ExportMetricsJSON() (string, error) {
	info := b.conn.Info()
	cs := b.Consumer.Stats()

	now := time.Now().UTC()
	snapshot := MonitorMetrics{
		Timestamp: now,
		TopicStats: []TopicStats{{
			Topic:          info.Topic,
			TotalMessages:  int64(cs.QueueSize),
			TotalQueues:    1,
			ConsumerGroups: []string{info.ConsumerGroup},
			LastUpdate:     now,
		}},
		QueueStats: []QueueStats{{
			Topic:      info.Topic,
			QueueID:    0,
			BrokerName: "memory",
			MinOffset:  0,
			MaxOffset:  int64(cs.QueueSize),
			LastUpdate: now,
		}},
		System: SystemMetrics{
			Brokers:      []string{"memory"},
			Connected:    true,
			TotalLag:     int64(cs.QueueSize),
			ActiveQueues: 1,
			Timestamp:    now,
		},
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", &QueueError{Op: "export memory metrics", Err: err}
	}
	return string(data), nil
}
