package health

import "context"

// QueueHealthReporter is implemented by the queue manager.
type QueueHealthReporter interface {
	IsHealthy(ctx context.Context) bool
	UsingFallback() bool
}

// QueueChecker reports the aggregate health of the export task queue.
// The fallback backend counts as up; degraded mode is surfaced in the
// message so probes keep passing while operators still see it.
type QueueChecker struct {
	reporter QueueHealthReporter
}

// NewQueueChecker creates a health checker over the queue manager.
func NewQueueChecker(reporter QueueHealthReporter) *QueueChecker {
	return &QueueChecker{reporter: reporter}
}

// Name returns "queue".
func (c *QueueChecker) Name() string {
	return "queue"
}

// Check reports queue health and fallback status.
func (c *QueueChecker) Check(ctx context.Context) Result {
	if !c.reporter.IsHealthy(ctx) {
		return Result{Status: StatusDown, Message: "queue manager unhealthy"}
	}
	if c.reporter.UsingFallback() {
		return Result{Status: StatusUp, Message: "degraded: in-process fallback active"}
	}
	return Result{Status: StatusUp}
}
