package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueStats_MessageCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(90), QueueStats{MinOffset: 10, MaxOffset: 100}.MessageCount())
	assert.Equal(t, int64(0), QueueStats{MinOffset: 100, MaxOffset: 10}.MessageCount())
	assert.Equal(t, int64(0), QueueStats{}.MessageCount())
}

func TestConsumerProgress_Lag(t *testing.T) {
	t.Parallel()

	stats := QueueStats{MinOffset: 10, MaxOffset: 100}

	testCases := []struct {
		name      string
		committed int64
		want      int64
	}{
		{name: "behind the head", committed: 40, want: 60},
		{name: "caught up", committed: 100, want: 0},
		{name: "ahead of the head", committed: 130, want: 0},
		{name: "uncommitted group counts from min offset", committed: -1, want: 90},
		{name: "at min offset", committed: 10, want: 90},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := ConsumerProgress{ConsumeOffset: tc.committed}
			assert.Equal(t, tc.want, p.Lag(stats))
		})
	}
}

func TestMonitor_InitializeRequiresConnection(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	m := NewMonitor(conn, newStatsRecorder())

	var connErr *ConnectionError
	require.ErrorAs(t, m.Initialize(), &connErr)
}

func TestMonitor_HealthStatusWhenDisconnected(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	m := NewMonitor(conn, newStatsRecorder())

	// Never errors; an unreachable broker surfaces as unhealthy with
	// zeroed figures.
	hs := m.GetHealthStatus(context.Background())

	assert.False(t, hs.Healthy)
	assert.False(t, hs.ConnectionStatus)
	assert.Zero(t, hs.TotalLag)
	assert.Equal(t, "export.tasks", hs.Topic)
	assert.Equal(t, "doc-export-workers", hs.ConsumerGroup)
}

func TestMonitor_DegradedQueriesReturnEmpty(t *testing.T) {
	t.Parallel()

	conn := testConnection(t)
	m := NewMonitor(conn, newStatsRecorder())
	ctx := context.Background()

	assert.Empty(t, m.GetQueueStats(ctx, "export.tasks"))
	assert.Empty(t, m.GetConsumerProgress(ctx, "doc-export-workers", "export.tasks"))
	assert.Empty(t, m.GetConsumerLag(ctx, "doc-export-workers", "export.tasks"))
	assert.Zero(t, m.GetTotalLag(ctx, "doc-export-workers", "export.tasks"))

	ts := m.GetTopicStats(ctx, "export.tasks")
	assert.Zero(t, ts.TotalMessages)
	assert.Zero(t, ts.TotalQueues)
}
