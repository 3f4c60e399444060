package queue

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"

	"docexport/pkg/metrics"
)

// SendCallback is invoked after an async send attempt completes. The
// invocation is inline with respect to the caller's request; no
// out-of-band asynchrony is guaranteed.
type SendCallback func(taskID string, success bool, errorMessage string)

// Producer is the broker-backed producer. It shares its contract with
// MemoryProducer so the Manager can swap them freely.
type Producer struct {
	conn  *Connection
	stats *statsRecorder

	mu      sync.Mutex
	writer  *kafka.Writer
	started bool
}

func NewProducer(conn *Connection, stats *statsRecorder) *Producer {
	return &Producer{conn: conn, stats: stats}
}

// Start builds the underlying writer. Fails when the connection is not
// established.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	if !p.conn.IsConnected() {
		return &ConnectionError{Brokers: p.conn.Info().Brokers, Err: ErrNotInitialized}
	}

	cfg := p.conn.ProducerConfig()
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.SendTimeout,
		MaxAttempts:  cfg.SendRetries,
		BatchBytes:   int64(cfg.MaxMessageSize),
	}
	p.started = true

	slog.Info("Producer started", "topic", cfg.Topic, "group", cfg.Group)
	return nil
}

// Stop closes the writer. Safe to call when not started.
func (p *Producer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false
	err := p.writer.Close()
	p.writer = nil
	slog.Info("Producer stopped")
	return err
}

func (p *Producer) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// SendExportTask dispatches one export task and returns its id. The id
// is generated before the send so it is known even for fire-and-forget
// transports.
func (p *Producer) SendExportTask(ctx context.Context, task ExportTask) (string, error) {
	p.mu.Lock()
	writer := p.writer
	started := p.started
	p.mu.Unlock()

	if !started {
		return "", &SendError{Reason: "producer is not started"}
	}

	msg := newTaskMessage(task)
	body, err := msg.Marshal()
	if err != nil {
		return "", &SendError{TaskID: msg.TaskID, Reason: "marshal message", Err: err}
	}

	kmsg := kafka.Message{
		Key:   []byte(msg.TaskID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "tag", Value: []byte(p.conn.Info().Tag)},
			{Key: "task_id", Value: []byte(msg.TaskID)},
			{Key: "template_id", Value: []byte(msg.TemplateID)},
			{Key: "output_format", Value: []byte(msg.OutputFormat)},
			{Key: "priority", Value: []byte(strconv.Itoa(msg.Priority))},
		},
	}

	err = writer.WriteMessages(ctx, kmsg)
	p.stats.RecordSend(err)
	if err != nil {
		metrics.QueueMessagesProduced.WithLabelValues("broker", "error").Inc()
		slog.Error("Failed to send export task",
			"task_id", msg.TaskID,
			"topic", writer.Topic,
			slog.Any("error", err))
		return "", &SendError{TaskID: msg.TaskID, Reason: "write message", Err: err}
	}

	metrics.QueueMessagesProduced.WithLabelValues("broker", "success").Inc()
	slog.Debug("Export task sent", "task_id", msg.TaskID, "topic", writer.Topic)
	return msg.TaskID, nil
}

// SendBatchExportTasks sends each payload as an independent message.
// No cross-message atomicity: a failure mid-batch leaves the earlier
// messages dispatched.
func (p *Producer) SendBatchExportTasks(ctx context.Context, batch BatchExportTask) ([]string, error) {
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

	slog.Info("Batch export tasks sent", "count", len(taskIDs))
	return taskIDs, nil
}

// SendExportTaskAsync sends the task and invokes the callback once the
// attempt completes. Equivalent to a synchronous send followed by an
// inline callback invocation.
func (p *Producer) SendExportTaskAsync(ctx context.Context, task ExportTask, cb SendCallback) (string, error) {
	taskID, err := p.SendExportTask(ctx, task)
	if cb != nil {
		if err != nil {
			id := task.TaskID
			if taskID != "" {
				id = taskID
			}
			cb(id, false, err.Error())
		} else {
			cb(taskID, true, "")
		}
	}
	return taskID, err
}
