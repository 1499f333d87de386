package infra

import (
	"testing"
)

func TestMetrics_RecordEvent(t *testing.T) {
	m := &Metrics{}

	m.RecordEvent(1000)
	m.RecordEvent(2000)
	m.RecordEvent(3000)

	snap := m.Snapshot()

	if snap.EventsProcessed != 3 {
		t.Errorf("Expected 3 events, got %d", snap.EventsProcessed)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_ExecutionCounters(t *testing.T) {
	m := &Metrics{}

	m.RecordOpportunity()
	m.RecordLeg1Submitted()
	m.RecordLeg1Submitted()
	m.RecordLeg1Rejected()
	m.RecordLeg1Timeout()
	m.RecordLeg2Failure()
	m.RecordLateFill()
	m.RecordCycleCompleted()
	m.RecordDropped()
	m.RecordReconnect()

	snap := m.Snapshot()
	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"opportunities", snap.Opportunities, 1},
		{"leg1 submitted", snap.Leg1Submitted, 2},
		{"leg1 rejected", snap.Leg1Rejected, 1},
		{"leg1 timeouts", snap.Leg1Timeouts, 1},
		{"leg2 failures", snap.Leg2Failures, 1},
		{"late fills", snap.LateFills, 1},
		{"cycles completed", snap.CyclesCompleted, 1},
		{"market dropped", snap.MarketDropped, 1},
		{"reconnects", snap.Reconnects, 1},
		// leg2 failure and late fill both count as errors
		{"errors total", snap.ErrorsTotal, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordEvent(1000)
	m.RecordError()
	m.RecordLeg2Failure()
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.EventsProcessed != 0 {
		t.Error("Expected 0 events after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
	if snap.Leg2Failures != 0 {
		t.Error("Expected 0 leg2 failures after reset")
	}
}
