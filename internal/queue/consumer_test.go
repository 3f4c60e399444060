package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingFetcher fails every fetch with a non-cancellation error, the
// way a broker session does when it dies under the consume loop.
type failingFetcher struct{ err error }

func (f failingFetcher) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, f.err
}

func (f failingFetcher) CommitMessages(context.Context, ...kafka.Message) error { return nil }

func TestDispatch(t *testing.T) {
	t.Parallel()

	msg := ExportTaskMessage{TaskID: "task-1", TemplateID: "invoice"}

	t.Run("successful handler", func(t *testing.T) {
		res := dispatch(context.Background(), func(_ context.Context, m ExportTaskMessage) (ConsumeResult, error) {
			return ConsumeResult{Success: true}, nil
		}, msg, "broker", newStatsRecorder())

		assert.True(t, res.Success)
		assert.Equal(t, "task-1", res.TaskID)
		assert.Greater(t, res.ProcessingTime, time.Duration(0))
	})

	t.Run("handler error overrides a success result", func(t *testing.T) {
		res := dispatch(context.Background(), func(_ context.Context, m ExportTaskMessage) (ConsumeResult, error) {
			return ConsumeResult{Success: true}, errors.New("render failed")
		}, msg, "broker", newStatsRecorder())

		assert.False(t, res.Success)
		assert.Equal(t, "render failed", res.ErrorMessage)
	})

	t.Run("handler error keeps an explicit message", func(t *testing.T) {
		res := dispatch(context.Background(), func(_ context.Context, m ExportTaskMessage) (ConsumeResult, error) {
			return ConsumeResult{ErrorMessage: "template not found"}, errors.New("render failed")
		}, msg, "broker", newStatsRecorder())

		assert.False(t, res.Success)
		assert.Equal(t, "template not found", res.ErrorMessage)
	})

	t.Run("handler panic becomes a failed result", func(t *testing.T) {
		res := dispatch(context.Background(), func(_ context.Context, m ExportTaskMessage) (ConsumeResult, error) {
			panic("renderer exploded")
		}, msg, "broker", newStatsRecorder())

		assert.False(t, res.Success)
		assert.Equal(t, "task-1", res.TaskID)
		assert.Contains(t, res.ErrorMessage, "renderer exploded")
	})

	t.Run("results feed the stats recorder", func(t *testing.T) {
		stats := newStatsRecorder()
		dispatch(context.Background(), func(_ context.Context, m ExportTaskMessage) (ConsumeResult, error) {
			return ConsumeResult{Success: true}, nil
		}, msg, "broker", stats)
		dispatch(context.Background(), func(_ context.Context, m ExportTaskMessage) (ConsumeResult, error) {
			return ConsumeResult{}, errors.New("boom")
		}, msg, "broker", stats)

		m := stats.Snapshot()
		assert.InDelta(t, 0.5, m.ErrorRate.ConsumeErrorRate, 1e-9)
	})
}

func TestConsumer_StartPreconditions(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	c := NewConsumer(conn, newStatsRecorder())

	var consumeErr *ConsumeError
	require.ErrorAs(t, c.Start(), &consumeErr, "no connection")

	// Even with a facade-operational connection, a missing handler
	// blocks the start.
	conn.forceConnected()
	require.ErrorAs(t, c.Start(), &consumeErr, "no handler")

	require.ErrorAs(t, c.StartConsuming(), &consumeErr, "not started")
}

func TestConsumer_LoopDeathClearsConsumingFlag(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	conn.forceConnected()

	c := NewConsumer(conn, newStatsRecorder())
	c.SetMessageHandler(func(_ context.Context, m ExportTaskMessage) (ConsumeResult, error) {
		return ConsumeResult{Success: true}, nil
	})

	done := make(chan struct{})
	c.mu.Lock()
	c.started = true
	c.consuming = true
	c.done = done
	c.mu.Unlock()

	go c.consumeLoop(context.Background(), failingFetcher{err: errors.New("broker session lost")}, done)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume loop did not terminate on a fatal fetch error")
	}

	// A dead worker must not be reported as consuming.
	stats := c.Stats()
	assert.True(t, stats.Started)
	assert.False(t, stats.Consuming)
}

func TestConsumer_StopWithoutStart(t *testing.T) {
	t.Parallel()

	c := NewConsumer(testConnection(t), newStatsRecorder())
	c.StopConsuming()
	assert.NoError(t, c.Stop())
}
