//go:build !integration

package unit

import (
	"errors"
	"testing"

	"github.com/behrlich/mmpi"
)

// TestJoinRejectsInvalidRank exercises Join's parameter validation
// without needing a live broker or shared segment.
func TestJoinRejectsInvalidRank(t *testing.T) {
	_, err := mmpi.Join(nil, mmpi.JobParams{JobID: "x", NProcs: 4, Rank: 4}, nil)
	if err == nil {
		t.Fatal("expected error for rank == nprocs")
	}
	var mmpiErr *mmpi.Error
	if !errors.As(err, &mmpiErr) {
		t.Fatalf("expected *mmpi.Error, got %T", err)
	}
	if mmpiErr.Code != mmpi.ErrCodeInvalidParameters {
		t.Errorf("Code = %v, want ErrCodeInvalidParameters", mmpiErr.Code)
	}
}

func TestLeaveRejectsNilJob(t *testing.T) {
	if err := mmpi.Leave(nil); err == nil {
		t.Fatal("expected error leaving a nil job")
	}
}

// TestMetricsObserverWiring verifies that Metrics, MetricsObserver, and
// the public Observer interface compose the way mmpi.Job expects: a
// send/recv/barrier reported through the observer is visible in a
// subsequent Snapshot.
func TestMetricsObserverWiring(t *testing.T) {
	metrics := mmpi.NewMetrics()
	observer := mmpi.NewMetricsObserver(metrics)

	observer.ObserveSend(1024, 5000, false, true)
	observer.ObserveRecv(1024, 4000, true)
	observer.ObserveBarrier(2000, 0)

	snap := metrics.Snapshot()
	if snap.SendOps != 1 {
		t.Errorf("SendOps = %d, want 1", snap.SendOps)
	}
	if snap.RecvOps != 1 {
		t.Errorf("RecvOps = %d, want 1", snap.RecvOps)
	}
	if snap.BarrierOps != 1 {
		t.Errorf("BarrierOps = %d, want 1", snap.BarrierOps)
	}
	if snap.SendBytes != 1024 || snap.RecvBytes != 1024 {
		t.Errorf("SendBytes/RecvBytes = %d/%d, want 1024/1024", snap.SendBytes, snap.RecvBytes)
	}
}

// TestMockObserverSatisfiesObserver guards against the mock test double
// drifting out of sync with the Observer interface it stands in for.
func TestMockObserverSatisfiesObserver(t *testing.T) {
	mock := mmpi.NewMockObserver()
	var _ mmpi.Observer = mock

	mock.ObserveSend(10, 1, true, true)
	snap := mock.Snapshot()
	if snap.SendCalls != 1 {
		t.Errorf("SendCalls = %d, want 1", snap.SendCalls)
	}
	if snap.RendezvousSends != 1 {
		t.Errorf("RendezvousSends = %d, want 1", snap.RendezvousSends)
	}
}

func TestJobStateBeforeJoinIsStopped(t *testing.T) {
	var job *mmpi.Job
	if job.State() != mmpi.JobStateStopped {
		t.Errorf("State() = %v, want JobStateStopped for nil job", job.State())
	}
}
