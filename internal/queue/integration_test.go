//go:build integration
// +build integration

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docexport/internal/testinfra"
)

// brokerManager spins up a real Kafka container and starts a manager
// against it.
func brokerManager(t *testing.T, handler Handler) *Manager {
	t.Helper()

	ctx := context.Background()
	kc, err := testinfra.NewKafka(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { kc.Cleanup(context.Background()) })

	m, err := NewManager(Config{
		Enabled:       true,
		Brokers:       kc.Brokers,
		Topic:         kc.ExportTopic,
		ProducerGroup: kc.ProducerGroup,
		ConsumerGroup: kc.ConsumerGroup,
		DialTimeout:   10 * time.Second,
		SendTimeout:   10 * time.Second,
		StopTimeout:   10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })

	if handler != nil {
		m.SetMessageHandler(handler)
	}
	require.NoError(t, m.Start(ctx))
	return m
}

func TestIntegration_BrokerRoundTrip(t *testing.T) {
	handled := make(chan ExportTaskMessage, 16)
	m := brokerManager(t, func(_ context.Context, msg ExportTaskMessage) (ConsumeResult, error) {
		handled <- msg
		return ConsumeResult{Success: true, TaskID: msg.TaskID}, nil
	})

	require.False(t, m.UsingFallback(), "reachable broker must not trigger the fallback")

	taskID, err := m.SendExportTask(context.Background(), ExportTask{
		TemplateID:   "invoice-v2",
		Data:         map[string]any{"total": 99.5},
		OutputFormat: "pdf",
	})
	require.NoError(t, err)

	select {
	case msg := <-handled:
		assert.Equal(t, taskID, msg.TaskID)
		assert.Equal(t, "invoice-v2", msg.TemplateID)
	case <-time.After(60 * time.Second):
		t.Fatal("message was not consumed from the broker")
	}
}

func TestIntegration_StatusAndLag(t *testing.T) {
	m := brokerManager(t, func(_ context.Context, msg ExportTaskMessage) (ConsumeResult, error) {
		return ConsumeResult{Success: true, TaskID: msg.TaskID}, nil
	})

	ctx := context.Background()
	_, err := m.SendBatchExportTasks(ctx, BatchExportTask{
		TemplateID: "report",
		DataList:   []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}},
	})
	require.NoError(t, err)

	// Wait until everything is consumed and committed.
	require.Eventually(t, func() bool {
		status, err := m.GetQueueStatus(ctx)
		return err == nil && status.Health.Healthy && status.Metrics.TotalLag == 0
	}, 60*time.Second, time.Second)

	status, err := m.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Connection.Connected)
	assert.True(t, status.Components.ProducerStarted)
	assert.True(t, status.Components.ConsumerConsuming)
	assert.GreaterOrEqual(t, status.Metrics.ActiveQueues, 1)
}

func TestIntegration_FailedTasksAreRedelivered(t *testing.T) {
	attempts := make(chan string, 16)
	failedOnce := make(map[string]bool)
	m := brokerManager(t, func(_ context.Context, msg ExportTaskMessage) (ConsumeResult, error) {
		attempts <- msg.TaskID
		if !failedOnce[msg.TaskID] {
			failedOnce[msg.TaskID] = true
			return ConsumeResult{Success: false, TaskID: msg.TaskID, ErrorMessage: "transient"}, nil
		}
		return ConsumeResult{Success: true, TaskID: msg.TaskID}, nil
	})

	taskID, err := m.SendExportTask(context.Background(), ExportTask{TemplateID: "invoice"})
	require.NoError(t, err)

	// The first delivery fails and is not committed; a restart of the
	// consumer replays it.
	select {
	case got := <-attempts:
		require.Equal(t, taskID, got)
	case <-time.After(60 * time.Second):
		t.Fatal("first delivery did not happen")
	}

	require.NoError(t, m.RestartConsumer())

	select {
	case got := <-attempts:
		assert.Equal(t, taskID, got)
	case <-time.After(60 * time.Second):
		t.Fatal("failed task was not redelivered")
	}
}
