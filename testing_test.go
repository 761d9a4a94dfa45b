package mmpi

import "testing"

func TestMockObserverRecordsSend(t *testing.T) {
	o := NewMockObserver()
	var observer Observer = o

	observer.ObserveSend(100, 1000, false, true)
	observer.ObserveSend(200, 1000, true, true)
	observer.ObserveSend(50, 1000, false, false)

	snap := o.Snapshot()
	if snap.SendCalls != 3 {
		t.Errorf("expected 3 send calls, got %d", snap.SendCalls)
	}
	if snap.SendBytes != 300 {
		t.Errorf("expected 300 recorded send bytes, got %d", snap.SendBytes)
	}
	if snap.RendezvousSends != 1 {
		t.Errorf("expected 1 rendezvous send, got %d", snap.RendezvousSends)
	}
	if snap.FailedSends != 1 {
		t.Errorf("expected 1 failed send, got %d", snap.FailedSends)
	}
}

func TestMockObserverRecordsRecvAndBarrier(t *testing.T) {
	o := NewMockObserver()
	var observer Observer = o

	observer.ObserveRecv(64, 500, true)
	observer.ObserveRecv(0, 500, false)
	observer.ObserveBarrier(1000, 2)
	observer.ObserveBrokerTrip()

	snap := o.Snapshot()
	if snap.RecvCalls != 2 {
		t.Errorf("expected 2 recv calls, got %d", snap.RecvCalls)
	}
	if snap.RecvBytes != 64 {
		t.Errorf("expected 64 recorded recv bytes, got %d", snap.RecvBytes)
	}
	if snap.FailedRecvs != 1 {
		t.Errorf("expected 1 failed recv, got %d", snap.FailedRecvs)
	}
	if snap.BarrierCalls != 1 {
		t.Errorf("expected 1 barrier call, got %d", snap.BarrierCalls)
	}
	if snap.BrokerTrips != 1 {
		t.Errorf("expected 1 broker trip, got %d", snap.BrokerTrips)
	}
}
