package queue

import (
	"sort"
	"sync"
	"time"
)

const latencyRingSize = 1024

// statsRecorder accumulates live send/consume counters and a bounded
// ring of processing latencies. It backs PerformanceMetrics and feeds
// the Prometheus series at the same recording points.
type statsRecorder struct {
	mu        sync.Mutex
	startedAt time.Time

	produced      int64
	consumed      int64
	sendErrors    int64
	consumeErrors int64

	latencies []time.Duration
	next      int
	filled    bool
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		startedAt: time.Now(),
		latencies: make([]time.Duration, latencyRingSize),
	}
}

func (s *statsRecorder) RecordSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.produced++
	if err != nil {
		s.sendErrors++
	}
}

func (s *statsRecorder) RecordConsume(res ConsumeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consumed++
	if !res.Success {
		s.consumeErrors++
	}
	s.latencies[s.next] = res.ProcessingTime
	s.next++
	if s.next == len(s.latencies) {
		s.next = 0
		s.filled = true
	}
}

// Snapshot computes the metrics over the recorder's lifetime. TimeRange
// reports the interval the numbers actually cover, from the recorder's
// start to now.
func (s *statsRecorder) Snapshot() PerformanceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.startedAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	m := PerformanceMetrics{
		Throughput: Throughput{
			ProducedPerSecond: float64(s.produced) / elapsed,
			ConsumedPerSecond: float64(s.consumed) / elapsed,
		},
		TimeRange: TimeRange{Start: s.startedAt, End: now},
	}
	if s.produced > 0 {
		m.ErrorRate.SendErrorRate = float64(s.sendErrors) / float64(s.produced)
	}
	if s.consumed > 0 {
		m.ErrorRate.ConsumeErrorRate = float64(s.consumeErrors) / float64(s.consumed)
	}

	n := s.next
	if s.filled {
		n = len(s.latencies)
	}
	if n == 0 {
		return m
	}

	sorted := make([]time.Duration, n)
	copy(sorted, s.latencies[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	m.Latency.AverageMs = float64(sum.Microseconds()) / float64(n) / 1000
	m.Latency.P95Ms = float64(percentile(sorted, 95).Microseconds()) / 1000
	m.Latency.P99Ms = float64(percentile(sorted, 99).Microseconds()) / 1000
	return m
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted)*p + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}
