package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"docexport/pkg/metrics"
)

const commitTimeout = 5 * time.Second

// dispatch invokes the handler for one message and always produces
// exactly one ConsumeResult. Handler panics and errors are converted to
// a failed result here and never escape the consumption loop.
func dispatch(ctx context.Context, handler Handler, msg ExportTaskMessage, backend string, stats *statsRecorder) (res ConsumeResult) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			res = ConsumeResult{
				Success:      false,
				TaskID:       msg.TaskID,
				ErrorMessage: fmt.Sprintf("handler panic: %v", rec),
			}
		}
		res.TaskID = msg.TaskID
		res.ProcessingTime = time.Since(start)

		status := "success"
		if !res.Success {
			status = "error"
		}
		metrics.QueueMessagesConsumed.WithLabelValues(backend, status).Inc()
		metrics.QueueProcessingDuration.WithLabelValues(backend, status).Observe(res.ProcessingTime.Seconds())
		if stats != nil {
			stats.RecordConsume(res)
		}
	}()

	res, err := handler(ctx, msg)
	if err != nil {
		res.Success = false
		if res.ErrorMessage == "" {
			res.ErrorMessage = err.Error()
		}
	}
	return res
}

// messageFetcher is the slice of kafka.Reader the consume loop needs.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer is the broker-backed consumer. Delivery, redelivery and
// batching belong to the broker; this type unmarshals payloads, invokes
// the handler, and acknowledges only successful results so the broker
// redelivers the rest.
type Consumer struct {
	conn  *Connection
	stats *statsRecorder

	mu        sync.Mutex
	handler   Handler
	reader    *kafka.Reader
	started   bool
	consuming bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewConsumer(conn *Connection, stats *statsRecorder) *Consumer {
	return &Consumer{conn: conn, stats: stats}
}

// SetMessageHandler installs or replaces the handler. Legal at any time;
// the next dispatch observes the new handler.
func (c *Consumer) SetMessageHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Start prepares the consumer. Fails when the connection is not
// established or no handler is set.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	if !c.conn.IsConnected() {
		return &ConsumeError{Reason: "connection is not established"}
	}
	if c.handler == nil {
		return &ConsumeError{Reason: "message handler is not set"}
	}

	cfg := c.conn.ConsumerConfig()
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		GroupID:          cfg.Group,
		MinBytes:         cfg.MinBytes,
		MaxBytes:         cfg.MaxBytes,
		MaxWait:          cfg.MaxWait,
		CommitInterval:   0, // commit synchronously, ack is the redelivery decision
		StartOffset:      kafka.FirstOffset,
		RebalanceTimeout: 5 * time.Second,
	})
	c.started = true

	slog.Info("Consumer started", "topic", cfg.Topic, "group", cfg.Group)
	return nil
}

// StartConsuming launches the background dispatch worker.
func (c *Consumer) StartConsuming() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return &ConsumeError{Reason: "consumer is not started"}
	}
	if c.consuming {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.consuming = true

	go c.consumeLoop(ctx, c.reader, c.done)

	slog.Info("Started consuming messages")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, reader messageFetcher, done chan struct{}) {
	defer func() {
		// The loop may die on its own (fatal fetch error); clear the
		// consuming flag so QueueStatus does not report a dead worker.
		c.mu.Lock()
		if c.done == done {
			c.consuming = false
			if c.cancel != nil {
				c.cancel()
				c.cancel = nil
			}
		}
		c.mu.Unlock()
		close(done)
	}()

	for {
		kmsg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Consumer loop stopped")
				return
			}
			slog.Error("Failed to fetch message, consumer loop terminated", slog.Any("error", err))
			return
		}

		msg, err := ParseExportTaskMessage(kmsg.Value)
		if err != nil {
			slog.Error("Failed to parse export task message",
				"partition", kmsg.Partition,
				"offset", kmsg.Offset,
				slog.Any("error", err))
			// A poison message cannot succeed on redelivery; ack it.
			c.commit(reader, kmsg)
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()

		res := dispatch(ctx, handler, msg, "broker", c.stats)
		if !res.Success {
			slog.Error("Export task failed, leaving for redelivery",
				"task_id", res.TaskID,
				"error_message", res.ErrorMessage)
			// No commit: the broker redelivers the message.
			continue
		}

		slog.Debug("Export task processed",
			"task_id", res.TaskID,
			"processing_time", res.ProcessingTime)
		c.commit(reader, kmsg)
	}
}

func (c *Consumer) commit(reader messageFetcher, kmsg kafka.Message) {
	// Separate context so a shutdown does not lose the ack of an
	// already processed message.
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	if err := reader.CommitMessages(ctx, kmsg); err != nil {
		slog.Error("Failed to commit message",
			"partition", kmsg.Partition,
			"offset", kmsg.Offset,
			slog.Any("error", err))
	}
}

// StopConsuming signals the worker; it is observed at the next poll
// boundary.
func (c *Consumer) StopConsuming() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.consuming {
		return
	}
	c.consuming = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	slog.Info("Stopped consuming messages")
}

// Stop halts consumption and joins the worker with a bounded wait. If
// the worker does not stop within the bound, Stop proceeds anyway.
func (c *Consumer) Stop() error {
	c.StopConsuming()

	c.mu.Lock()
	done := c.done
	reader := c.reader
	stopTimeout := c.conn.ConsumerConfig().StopTimeout
	c.reader = nil
	c.done = nil
	c.started = false
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(stopTimeout):
			slog.Warn("Consumer worker did not stop within bound, proceeding")
		}
	}

	if reader != nil {
		if err := reader.Close(); err != nil {
			return err
		}
	}
	slog.Info("Consumer stopped")
	return nil
}

// Stats reports the consumer snapshot used by QueueStatus.
func (c *Consumer) Stats() ConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := c.conn.Info()
	return ConsumerStats{
		Started:       c.started,
		Consuming:     c.consuming,
		ConsumerGroup: info.ConsumerGroup,
		Topic:         info.Topic,
		Tag:           info.Tag,
	}
}
