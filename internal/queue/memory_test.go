package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnection(t *testing.T) *Connection {
	t.Helper()

	conn, err := NewConnection(testConfig())
	require.NoError(t, err)
	return conn
}

func TestMemoryQueue_PushPop(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(2)

	require.NoError(t, q.Push(QueueMessage{MessageID: "a"}))
	require.NoError(t, q.Push(QueueMessage{MessageID: "b"}))
	assert.Equal(t, 2, q.Len())

	// FIFO order
	first, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "a", first.MessageID)

	second, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "b", second.MessageID)

	_, ok = q.Pop(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestMemoryQueue_Saturation(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(1)
	require.NoError(t, q.Push(QueueMessage{MessageID: "a"}))

	err := q.Push(QueueMessage{MessageID: "b", Keys: "task-b"})

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "task-b", sendErr.TaskID)
	assert.Equal(t, 1, q.Len(), "a full queue must not grow")
}

func TestMemoryProducer_RequiresStart(t *testing.T) {
	t.Parallel()

	p := NewMemoryProducer(testConnection(t), newStatsRecorder())

	_, err := p.SendExportTask(context.Background(), ExportTask{TemplateID: "invoice"})

	var sendErr *SendError
	assert.ErrorAs(t, err, &sendErr)
}

func TestMemoryProducer_Send(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	p := NewMemoryProducer(conn, newStatsRecorder())
	q := NewMemoryQueue(4)
	p.Start(q)

	taskID, err := p.SendExportTask(context.Background(), ExportTask{TemplateID: "invoice", OutputFormat: "pdf"})

	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
	require.Equal(t, 1, q.Len())

	env, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, conn.Info().Topic, env.Topic)
	assert.Equal(t, taskID, env.Keys)

	msg, err := ParseExportTaskMessage(env.Body)
	require.NoError(t, err)
	assert.Equal(t, taskID, msg.TaskID)
	assert.Equal(t, "invoice", msg.TemplateID)
}

func TestMemoryConsumer_ProcessesTasks(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	stats := newStatsRecorder()
	q := NewMemoryQueue(8)

	p := NewMemoryProducer(conn, stats)
	p.Start(q)

	received := make(chan ExportTaskMessage, 8)
	c := NewMemoryConsumer(conn, stats)
	c.SetMessageHandler(func(_ context.Context, msg ExportTaskMessage) (ConsumeResult, error) {
		received <- msg
		return ConsumeResult{Success: true, TaskID: msg.TaskID}, nil
	})
	c.Start(q)
	require.NoError(t, c.StartConsuming())
	defer c.Stop()

	taskID, err := p.SendExportTask(context.Background(), ExportTask{TemplateID: "invoice"})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, taskID, msg.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestMemoryConsumer_HandlerFailuresAreContained(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	stats := newStatsRecorder()
	q := NewMemoryQueue(8)

	p := NewMemoryProducer(conn, stats)
	p.Start(q)

	results := make(chan ConsumeResult, 8)
	c := NewMemoryConsumer(conn, stats)
	c.onResult = func(res ConsumeResult) { results <- res }
	c.SetMessageHandler(func(_ context.Context, msg ExportTaskMessage) (ConsumeResult, error) {
		switch msg.TemplateID {
		case "panics":
			panic("renderer exploded")
		case "fails":
			return ConsumeResult{}, errors.New("render failed")
		}
		return ConsumeResult{Success: true, TaskID: msg.TaskID}, nil
	})
	c.Start(q)
	require.NoError(t, c.StartConsuming())
	defer c.Stop()

	waitResult := func() ConsumeResult {
		t.Helper()
		select {
		case res := <-results:
			return res
		case <-time.After(2 * time.Second):
			t.Fatal("no consume result produced")
			return ConsumeResult{}
		}
	}

	// A panicking handler yields a failed result, not a dead worker.
	panicID, err := p.SendExportTask(context.Background(), ExportTask{TemplateID: "panics"})
	require.NoError(t, err)
	res := waitResult()
	assert.False(t, res.Success)
	assert.Equal(t, panicID, res.TaskID)
	assert.Contains(t, res.ErrorMessage, "renderer exploded")

	// An erroring handler likewise.
	failID, err := p.SendExportTask(context.Background(), ExportTask{TemplateID: "fails"})
	require.NoError(t, err)
	res = waitResult()
	assert.False(t, res.Success)
	assert.Equal(t, failID, res.TaskID)

	// The worker survives both and keeps processing.
	okID, err := p.SendExportTask(context.Background(), ExportTask{TemplateID: "report"})
	require.NoError(t, err)
	res = waitResult()
	assert.True(t, res.Success)
	assert.Equal(t, okID, res.TaskID)
}

func TestMemoryConsumer_ParseFailure(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	stats := newStatsRecorder()
	q := NewMemoryQueue(4)

	results := make(chan ConsumeResult, 4)
	c := NewMemoryConsumer(conn, stats)
	c.onResult = func(res ConsumeResult) { results <- res }
	c.SetMessageHandler(func(_ context.Context, msg ExportTaskMessage) (ConsumeResult, error) {
		t.Error("handler must not run for an unparseable message")
		return ConsumeResult{}, nil
	})
	c.Start(q)
	require.NoError(t, c.StartConsuming())
	defer c.Stop()

	require.NoError(t, q.Push(QueueMessage{MessageID: "m1", Keys: "task-bad", Body: []byte("{broken")}))

	select {
	case res := <-results:
		assert.False(t, res.Success)
		assert.Equal(t, "task-bad", res.TaskID)
		assert.Contains(t, res.ErrorMessage, "parse message")
	case <-time.After(2 * time.Second):
		t.Fatal("no result for the malformed message")
	}
}

func TestMemoryConsumer_StartConsumingPreconditions(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	c := NewMemoryConsumer(conn, newStatsRecorder())

	var consumeErr *ConsumeError
	assert.ErrorAs(t, c.StartConsuming(), &consumeErr)

	c.Start(nil)
	assert.ErrorAs(t, c.StartConsuming(), &consumeErr, "missing handler")
}

func TestMemoryConsumer_StopIsPrompt(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	c := NewMemoryConsumer(conn, newStatsRecorder())
	c.SetMessageHandler(func(_ context.Context, msg ExportTaskMessage) (ConsumeResult, error) {
		return ConsumeResult{Success: true}, nil
	})
	c.Start(nil)
	require.NoError(t, c.StartConsuming())

	start := time.Now()
	c.Stop()

	assert.Less(t, time.Since(start), time.Second, "stop must not hang on an idle queue")
	assert.False(t, c.Stats().Started)
	assert.False(t, c.Stats().Consuming)
}

func TestMemoryBackend_Lifecycle(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	b := NewMemoryBackend(conn, newStatsRecorder())

	handled := make(chan string, 4)
	b.SetMessageHandler(func(_ context.Context, msg ExportTaskMessage) (ConsumeResult, error) {
		handled <- msg.TaskID
		return ConsumeResult{Success: true, TaskID: msg.TaskID}, nil
	})

	b.Start()
	require.NoError(t, b.StartConsuming())
	assert.True(t, b.IsHealthy())

	taskID, err := b.SendExportTask(context.Background(), ExportTask{TemplateID: "invoice"})
	require.NoError(t, err)

	select {
	case got := <-handled:
		assert.Equal(t, taskID, got)
	case <-time.After(2 * time.Second):
		t.Fatal("backend did not dispatch the task")
	}

	status := b.QueueStatus()
	assert.True(t, status.Health.Healthy)
	assert.Equal(t, []string{"memory"}, status.Connection.Brokers)
	assert.True(t, status.Components.ProducerStarted)
	assert.True(t, status.Components.ConsumerConsuming)

	b.Stop()
	assert.False(t, b.IsHealthy())
}
