package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsProcessed atomic.Uint64
	marketDropped   atomic.Uint64
	opportunities   atomic.Uint64
	leg1Submitted   atomic.Uint64
	leg1Rejected    atomic.Uint64
	leg1Timeouts    atomic.Uint64
	leg2Failures    atomic.Uint64
	cyclesCompleted atomic.Uint64
	lateFills       atomic.Uint64
	reconnects      atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordDropped records a market frame dropped on a full inbox.
func (m *Metrics) RecordDropped() { m.marketDropped.Add(1) }

// RecordOpportunity records a detector pick handed to the coordinator.
func (m *Metrics) RecordOpportunity() { m.opportunities.Add(1) }

// RecordLeg1Submitted records a leg-1 order sent.
func (m *Metrics) RecordLeg1Submitted() { m.leg1Submitted.Add(1) }

// RecordLeg1Rejected records a refused leg-1 order.
func (m *Metrics) RecordLeg1Rejected() { m.leg1Rejected.Add(1) }

// RecordLeg1Timeout records a leg-1 fill that never arrived.
func (m *Metrics) RecordLeg1Timeout() { m.leg1Timeouts.Add(1) }

// RecordLeg2Failure records a leg-2 failure after leg 1 filled.
func (m *Metrics) RecordLeg2Failure() {
	m.leg2Failures.Add(1)
	m.errorsTotal.Add(1)
}

// RecordCycleCompleted records a cycle whose leg 2 was accepted.
func (m *Metrics) RecordCycleCompleted() { m.cyclesCompleted.Add(1) }

// RecordLateFill records a leg-1 fill that arrived after its cycle timed out.
func (m *Metrics) RecordLateFill() {
	m.lateFills.Add(1)
	m.errorsTotal.Add(1)
}

// RecordReconnect records a supervisor reconnect attempt.
func (m *Metrics) RecordReconnect() { m.reconnects.Add(1) }

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed   uint64    `json:"events_processed"`
	MarketDropped     uint64    `json:"market_dropped"`
	Opportunities     uint64    `json:"opportunities"`
	Leg1Submitted     uint64    `json:"leg1_submitted"`
	Leg1Rejected      uint64    `json:"leg1_rejected"`
	Leg1Timeouts      uint64    `json:"leg1_timeouts"`
	Leg2Failures      uint64    `json:"leg2_failures"`
	CyclesCompleted   uint64    `json:"cycles_completed"`
	LateFills         uint64    `json:"late_fills"`
	Reconnects        uint64    `json:"reconnects"`
	ErrorsTotal       uint64    `json:"errors_total"`
	AvgLatencyNs      int64     `json:"avg_latency_ns"`
	ActiveConnections int32     `json:"active_connections"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsProcessed:   m.eventsProcessed.Load(),
		MarketDropped:     m.marketDropped.Load(),
		Opportunities:     m.opportunities.Load(),
		Leg1Submitted:     m.leg1Submitted.Load(),
		Leg1Rejected:      m.leg1Rejected.Load(),
		Leg1Timeouts:      m.leg1Timeouts.Load(),
		Leg2Failures:      m.leg2Failures.Load(),
		CyclesCompleted:   m.cyclesCompleted.Load(),
		LateFills:         m.lateFills.Load(),
		Reconnects:        m.reconnects.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.marketDropped.Store(0)
	m.opportunities.Store(0)
	m.leg1Submitted.Store(0)
	m.leg1Rejected.Store(0)
	m.leg1Timeouts.Store(0)
	m.leg2Failures.Store(0)
	m.cyclesCompleted.Store(0)
	m.lateFills.Store(0)
	m.reconnects.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}
