package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics counts job results inside one processor process.
type ServiceMetrics struct {
	processed  atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
	durationNs atomic.Int64
	startedNs  atomic.Int64
}

type MetricsSnapshot struct {
	Processed     int64   `json:"total_processed"`
	Failed        int64   `json:"total_failed"`
	Dropped       int64   `json:"total_dropped"`
	RatePerSecond float64 `json:"rate_per_second"`
	AvgDurationMs int64   `json:"avg_duration_ms"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func NewServiceMetrics() *ServiceMetrics {
	m := &ServiceMetrics{}
	m.startedNs.Store(time.Now().UnixNano())
	return m
}

func (m *ServiceMetrics) RecordSuccess(d time.Duration) {
	m.processed.Add(1)
	m.durationNs.Add(int64(d))
}

func (m *ServiceMetrics) RecordFailure() {
	m.failed.Add(1)
}

func (m *ServiceMetrics) RecordDropped() {
	m.dropped.Add(1)
}

func (m *ServiceMetrics) Snapshot() MetricsSnapshot {
	processed := m.processed.Load()
	uptime := time.Since(time.Unix(0, m.startedNs.Load())).Seconds()

	s := MetricsSnapshot{
		Processed:     processed,
		Failed:        m.failed.Load(),
		Dropped:       m.dropped.Load(),
		UptimeSeconds: uptime,
	}
	if uptime > 0 {
		s.RatePerSecond = float64(processed) / uptime
	}
	if processed > 0 {
		s.AvgDurationMs = time.Duration(m.durationNs.Load() / processed).Milliseconds()
	}
	return s
}

func (m *ServiceMetrics) Reset() {
	m.processed.Store(0)
	m.failed.Store(0)
	m.dropped.Store(0)
	m.durationNs.Store(0)
	m.startedNs.Store(time.Now().UnixNano())
}
