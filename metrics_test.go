package mmpi

import (
	"testing"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordSend(1024, 1_000_000, false, true) // 1KB fragmented send, 1ms
	m.RecordSend(2048, 2_000_000, true, true)  // 2KB rendezvous send, 2ms
	m.RecordRecv(1024, 500_000, false)         // failed recv, 0.5ms

	snap = m.Snapshot()

	if snap.SendOps != 2 {
		t.Errorf("Expected 2 send ops, got %d", snap.SendOps)
	}
	if snap.RecvOps != 1 {
		t.Errorf("Expected 1 recv op, got %d", snap.RecvOps)
	}
	if snap.SendBytes != 3072 {
		t.Errorf("Expected 3072 send bytes, got %d", snap.SendBytes)
	}
	if snap.RendezvousOps != 1 {
		t.Errorf("Expected 1 rendezvous op, got %d", snap.RendezvousOps)
	}
	if snap.RendezvousBytes != 2048 {
		t.Errorf("Expected 2048 rendezvous bytes, got %d", snap.RendezvousBytes)
	}
	if snap.RecvErrors != 1 {
		t.Errorf("Expected 1 recv error, got %d", snap.RecvErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsBarrier(t *testing.T) {
	m := NewMetrics()

	m.RecordBarrier(1000, 2)
	m.RecordBarrier(3000, 5)
	m.RecordBarrier(2000, 1)

	snap := m.Snapshot()
	if snap.BarrierOps != 3 {
		t.Errorf("Expected 3 barrier ops, got %d", snap.BarrierOps)
	}
	if snap.MaxBarrierDepth != 5 {
		t.Errorf("Expected max barrier depth 5, got %d", snap.MaxBarrierDepth)
	}
	if snap.AvgBarrierWaitNs != 2000 {
		t.Errorf("Expected avg barrier wait 2000ns, got %d", snap.AvgBarrierWaitNs)
	}
}

func TestMetricsBrokerTrips(t *testing.T) {
	m := NewMetrics()
	m.RecordBrokerTrip()
	m.RecordBrokerTrip()

	snap := m.Snapshot()
	if snap.BrokerTrips != 2 {
		t.Errorf("Expected 2 broker trips, got %d", snap.BrokerTrips)
	}
}

func TestMetricsSlotPoolExhausted(t *testing.T) {
	m := NewMetrics()
	m.RecordSlotPoolExhausted()

	snap := m.Snapshot()
	if snap.SlotPoolExhaustedCount != 1 {
		t.Errorf("Expected 1 slot pool exhaustion, got %d", snap.SlotPoolExhaustedCount)
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics()

	m.RecordSend(10, 500, false, true)        // falls in every bucket (<=1us)
	m.RecordSend(10, 50_000, false, true)      // falls at 100us and above
	m.RecordSend(10, 5_000_000_000, false, true) // falls only in 10s bucket

	snap := m.Snapshot()
	if snap.LatencyHistogram[0] != 1 {
		t.Errorf("Expected 1 op in the 1us bucket, got %d", snap.LatencyHistogram[0])
	}
	if snap.LatencyHistogram[numLatencyBuckets-1] != 3 {
		t.Errorf("Expected all 3 ops in the 10s bucket, got %d", snap.LatencyHistogram[numLatencyBuckets-1])
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordSend(100, 1000, false, true)
	m.RecordRecv(100, 1000, true)
	m.Reset()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.SendBytes != 0 {
		t.Errorf("Expected 0 send bytes after reset, got %d", snap.SendBytes)
	}
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	var observer Observer = obs
	observer.ObserveSend(128, 1000, false, true)
	observer.ObserveRecv(128, 1000, true)
	observer.ObserveBarrier(500, 3)
	observer.ObserveBrokerTrip()

	snap := m.Snapshot()
	if snap.SendOps != 1 || snap.RecvOps != 1 || snap.BarrierOps != 1 || snap.BrokerTrips != 1 {
		t.Errorf("Expected each observed event to be recorded exactly once, got %+v", snap)
	}
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var observer Observer = NoOpObserver{}
	observer.ObserveSend(1, 1, true, true)
	observer.ObserveRecv(1, 1, true)
	observer.ObserveBarrier(1, 1)
	observer.ObserveBrokerTrip()
}

func TestMetricsStopFreezesUptime(t *testing.T) {
	m := NewMetrics()
	m.Stop()

	snap1 := m.Snapshot()
	snap2 := m.Snapshot()
	if snap1.UptimeNs != snap2.UptimeNs {
		t.Errorf("Expected uptime to freeze after Stop, got %d then %d", snap1.UptimeNs, snap2.UptimeNs)
	}
}
