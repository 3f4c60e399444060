package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubReporter struct {
	healthy  bool
	fallback bool
}

func (s stubReporter) IsHealthy(context.Context) bool { return s.healthy }
func (s stubReporter) UsingFallback() bool            { return s.fallback }

func TestQueueChecker(t *testing.T) {
	t.Parallel()

	t.Run("healthy broker mode", func(t *testing.T) {
		res := NewQueueChecker(stubReporter{healthy: true}).Check(context.Background())
		assert.Equal(t, StatusUp, res.Status)
		assert.Empty(t, res.Message)
	})

	t.Run("fallback mode is up but flagged", func(t *testing.T) {
		res := NewQueueChecker(stubReporter{healthy: true, fallback: true}).Check(context.Background())
		assert.Equal(t, StatusUp, res.Status)
		assert.Contains(t, res.Message, "fallback")
	})

	t.Run("unhealthy manager is down", func(t *testing.T) {
		res := NewQueueChecker(stubReporter{}).Check(context.Background())
		assert.Equal(t, StatusDown, res.Status)
	})
}

func TestRegistry_CheckAll(t *testing.T) {
	t.Parallel()

	up := NewQueueChecker(stubReporter{healthy: true})
	down := NewQueueChecker(stubReporter{})

	t.Run("all up", func(t *testing.T) {
		resp := NewRegistry(up).CheckAll(context.Background())
		assert.Equal(t, StatusUp, resp.Status)
	})

	t.Run("one down takes the aggregate down", func(t *testing.T) {
		resp := NewRegistry(up, down).CheckAll(context.Background())
		assert.Equal(t, StatusDown, resp.Status)
	})

	t.Run("empty registry is up", func(t *testing.T) {
		resp := NewRegistry().CheckAll(context.Background())
		assert.Equal(t, StatusUp, resp.Status)
	})
}
