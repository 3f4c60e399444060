package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager is the single facade over both backends. It owns the
// lifecycle, makes the fallback decision at Start, and routes every
// data-moving operation to whichever backend is active. Construct it
// once at process startup and inject the reference; there is no global
// instance.
type Manager struct {
	cfg   Config
	stats *statsRecorder

	mu          sync.Mutex
	initialized bool
	useFallback bool

	conn     *Connection
	producer *Producer
	consumer *Consumer
	monitor  *Monitor
	memory   *MemoryBackend
	handler  Handler
}

// NewManager validates the configuration up front. A ConfigError aborts
// construction entirely; no partial state is left behind.
func NewManager(cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		cfg:   cfg,
		stats: newStatsRecorder(),
	}, nil
}

// Initialize constructs the connection, the broker pair and the
// monitor. The fallback pair is built lazily on first fallback
// activation.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked()
}

func (m *Manager) initializeLocked() error {
	if m.initialized {
		return nil
	}

	slog.Info("Initializing queue manager")

	conn, err := NewConnection(m.cfg)
	if err != nil {
		return err
	}
	m.conn = conn
	m.producer = NewProducer(conn, m.stats)
	m.consumer = NewConsumer(conn, m.stats)
	if m.handler != nil {
		m.consumer.SetMessageHandler(m.handler)
	}
	m.monitor = NewMonitor(conn, m.stats)
	m.initialized = true

	slog.Info("Queue manager initialized")
	return nil
}

// Start connects to the broker and activates a backend. A failed
// connect, or an established connection without a usable broker
// session, permanently (for this run) selects the in-process fallback.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initializeLocked(); err != nil {
		return wrapOp("start queue manager", err)
	}

	slog.Info("Starting queue manager")

	connectErr := m.conn.Connect(ctx)
	if connectErr != nil || !m.conn.IsClientAvailable() {
		if connectErr != nil {
			slog.Warn("Broker unreachable, falling back to memory queue", slog.Any("error", connectErr))
		} else {
			slog.Warn("Broker client unavailable, falling back to memory queue")
		}
		// Status checks read connected as "facade operational".
		m.conn.forceConnected()
		m.useFallback = true
		if err := m.startFallbackLocked(); err != nil {
			return wrapOp("start memory queue fallback", err)
		}
		return nil
	}

	m.useFallback = false
	if err := m.producer.Start(); err != nil {
		return wrapOp("start producer", err)
	}
	if m.handler != nil {
		m.consumer.SetMessageHandler(m.handler)
		if err := m.consumer.Start(); err != nil {
			return wrapOp("start consumer", err)
		}
		if err := m.consumer.StartConsuming(); err != nil {
			return wrapOp("start consuming", err)
		}
	}
	if err := m.monitor.Initialize(); err != nil {
		return wrapOp("initialize monitor", err)
	}

	slog.Info("Queue manager started", "backend", "broker")
	return nil
}

func (m *Manager) startFallbackLocked() error {
	if m.memory == nil {
		m.memory = NewMemoryBackend(m.conn, m.stats)
	}
	m.memory.Start()
	if m.handler != nil {
		m.memory.SetMessageHandler(m.handler)
		if err := m.memory.StartConsuming(); err != nil {
			return err
		}
	}
	slog.Info("Queue manager started", "backend", "memory")
	return nil
}

// Stop tears down the active backend and clears the initialized flag so
// a subsequent Start re-initializes from scratch. Idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}

	slog.Info("Stopping queue manager")

	if m.useFallback {
		if m.memory != nil {
			m.memory.Stop()
		}
		m.memory = nil
		m.conn.Disconnect()
		m.useFallback = false
	} else {
		if m.consumer != nil {
			m.consumer.StopConsuming()
			if err := m.consumer.Stop(); err != nil {
				slog.Error("Error stopping consumer", slog.Any("error", err))
			}
		}
		if m.producer != nil {
			if err := m.producer.Stop(); err != nil {
				slog.Error("Error stopping producer", slog.Any("error", err))
			}
		}
		m.conn.Disconnect()
	}

	m.initialized = false
	slog.Info("Queue manager stopped")
	return nil
}

// SetMessageHandler registers the rendering callback. Legal before or
// after Start; an already active fallback consumer is updated in place.
func (m *Manager) SetMessageHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = h
	if m.consumer != nil {
		m.consumer.SetMessageHandler(h)
	}
	if m.memory != nil {
		m.memory.SetMessageHandler(h)
		// A handler arriving after a fallback Start also has to start
		// the drain loop; StartConsuming is idempotent.
		if m.useFallback {
			if err := m.memory.StartConsuming(); err != nil {
				slog.Warn("Failed to start fallback consumption", slog.Any("error", err))
			}
		}
	}
}

// UsingFallback reports whether the in-process backend is active.
func (m *Manager) UsingFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.useFallback
}

// backend snapshots the routing state under the lock; data-plane calls
// then proceed without holding it.
func (m *Manager) backend() (fallback bool, mem *MemoryBackend, prod *Producer, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, nil, nil, &QueueError{Op: "queue manager", Err: ErrNotInitialized}
	}
	return m.useFallback, m.memory, m.producer, nil
}

// SendExportTask dispatches one export job through the active backend
// and returns its task id. It either returns an id or an error, never
// both empty.
func (m *Manager) SendExportTask(ctx context.Context, task ExportTask) (string, error) {
	fallback, mem, prod, err := m.backend()
	if err != nil {
		return "", err
	}

	if fallback {
		if mem == nil {
			return "", &QueueError{Op: "send export task", Err: ErrNotInitialized}
		}
		return mem.SendExportTask(ctx, task)
	}
	return prod.SendExportTask(ctx, task)
}

// SendBatchExportTasks dispatches one message per payload through the
// active backend.
func (m *Manager) SendBatchExportTasks(ctx context.Context, batch BatchExportTask) ([]string, error) {
	fallback, mem, prod, err := m.backend()
	if err != nil {
		return nil, err
	}

	if fallback {
		if mem == nil {
			return nil, &QueueError{Op: "send batch export tasks", Err: ErrNotInitialized}
		}
		return mem.SendBatchExportTasks(ctx, batch)
	}
	return prod.SendBatchExportTasks(ctx, batch)
}

// GetQueueStatus assembles the backend-agnostic status snapshot.
func (m *Manager) GetQueueStatus(ctx context.Context) (QueueStatus, error) {
	fallback, mem, _, err := m.backend()
	if err != nil {
		return QueueStatus{}, err
	}

	if fallback {
		if mem == nil {
			return QueueStatus{}, &QueueError{Op: "get queue status", Err: ErrNotInitialized}
		}
		return mem.QueueStatus(), nil
	}

	info := m.conn.Info()
	health := m.monitor.GetHealthStatus(ctx)
	lag := m.monitor.GetConsumerLag(ctx, info.ConsumerGroup, info.Topic)
	cs := m.consumer.Stats()

	var totalLag int64
	for _, l := range lag {
		totalLag += l
	}

	return QueueStatus{
		Topic:         info.Topic,
		ConsumerGroup: info.ConsumerGroup,
		Health:        health,
		Metrics: QueueMetrics{
			TotalMessages: health.Details.TotalMessages,
			ActiveQueues:  health.Details.ActiveQueues,
			ConsumerLag:   lag,
			TotalLag:      totalLag,
		},
		Connection: ConnectionStatus{
			Brokers:   info.Brokers,
			Connected: m.conn.IsConnected(),
		},
		Components: ComponentStatus{
			ProducerStarted:   m.producer.IsStarted(),
			ConsumerStarted:   cs.Started,
			ConsumerConsuming: cs.Consuming,
		},
	}, nil
}

// GetPerformanceMetrics reports throughput/latency/error-rate for the
// active backend since it started.
func (m *Manager) GetPerformanceMetrics(ctx context.Context) (PerformanceMetrics, error) {
	fallback, mem, _, err := m.backend()
	if err != nil {
		return PerformanceMetrics{}, err
	}

	if fallback {
		if mem == nil {
			return PerformanceMetrics{}, &QueueError{Op: "get performance metrics", Err: ErrNotInitialized}
		}
		return mem.PerformanceMetrics(), nil
	}
	return m.monitor.GetPerformanceMetrics(), nil
}

// GetTopicStats reports aggregate per-topic figures from the active
// backend.
func (m *Manager) GetTopicStats(ctx context.Context) (TopicStats, error) {
	fallback, mem, _, err := m.backend()
	if err != nil {
		return TopicStats{}, err
	}

	if fallback {
		if mem == nil {
			return TopicStats{}, &QueueError{Op: "get topic stats", Err: ErrNotInitialized}
		}
		info := m.conn.Info()
		cs := mem.Consumer.Stats()
		return TopicStats{
			Topic:          info.Topic,
			TotalMessages:  int64(cs.QueueSize),
			TotalQueues:    1,
			ConsumerGroups: []string{info.ConsumerGroup},
			LastUpdate:     time.Now().UTC(),
		}, nil
	}
	return m.monitor.GetTopicStats(ctx, m.conn.Info().Topic), nil
}

// ExportMonitoringData serializes the monitoring snapshot of the active
// backend as JSON.
func (m *Manager) ExportMonitoringData(ctx context.Context) (string, error) {
	fallback, mem, _, err := m.backend()
	if err != nil {
		return "", err
	}

	if fallback {
		if mem == nil {
			return "", &QueueError{Op: "export monitoring data", Err: ErrNotInitialized}
		}
		return mem.ExportMetricsJSON()
	}
	return m.monitor.ExportMetricsJSON(ctx)
}

// IsHealthy reports aggregate health of the active backend. False for a
// manager that is not initialized or has been stopped.
func (m *Manager) IsHealthy(ctx context.Context) bool {
	fallback, mem, _, err := m.backend()
	if err != nil {
		return false
	}

	if fallback {
		return mem != nil && mem.IsHealthy()
	}
	return m.monitor.GetHealthStatus(ctx).Healthy
}

// RestartConsumer bounces the broker consumer. A warn-and-noop while
// the fallback is active: that backend does not model independent
// restarts.
func (m *Manager) RestartConsumer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return &QueueError{Op: "restart consumer", Err: ErrNotInitialized}
	}
	if m.useFallback {
		slog.Warn("Memory queue does not support consumer restart")
		return nil
	}

	slog.Info("Restarting consumer")
	m.consumer.StopConsuming()
	if err := m.consumer.Stop(); err != nil {
		slog.Error("Error stopping consumer during restart", slog.Any("error", err))
	}

	if m.handler == nil {
		slog.Warn("Cannot restart consumer: no message handler set")
		return nil
	}
	m.consumer.SetMessageHandler(m.handler)
	if err := m.consumer.Start(); err != nil {
		return wrapOp("restart consumer", err)
	}
	if err := m.consumer.StartConsuming(); err != nil {
		return wrapOp("restart consumer", err)
	}
	slog.Info("Consumer restarted")
	return nil
}

// RestartProducer bounces the broker producer; warn-and-noop in
// fallback mode.
func (m *Manager) RestartProducer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return &QueueError{Op: "restart producer", Err: ErrNotInitialized}
	}
	if m.useFallback {
		slog.Warn("Memory queue does not support producer restart")
		return nil
	}

	slog.Info("Restarting producer")
	if err := m.producer.Stop(); err != nil {
		slog.Error("Error stopping producer during restart", slog.Any("error", err))
	}
	if err := m.producer.Start(); err != nil {
		return wrapOp("restart producer", err)
	}
	slog.Info("Producer restarted")
	return nil
}

// Run is the scoped lifecycle wrapper: start, serve until the context
// is cancelled, then stop. Intended for server startup/shutdown hooks.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return m.Stop()
}
