package mmpi

import "sync"

// MockObserver is a thread-safe Observer implementation that records
// every observed event for assertion in tests of code built on top of
// the mmpi package, without requiring a real job or prometheus registry.
type MockObserver struct {
	mu sync.Mutex

	SendCalls    int
	RecvCalls    int
	BarrierCalls int
	BrokerTrips  int

	SendBytes uint64
	RecvBytes uint64

	RendezvousSends int
	FailedSends     int
	FailedRecvs     int
}

// NewMockObserver creates a new MockObserver.
func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

func (o *MockObserver) ObserveSend(bytes uint64, latencyNs uint64, rendezvous bool, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.SendCalls++
	if success {
		o.SendBytes += bytes
		if rendezvous {
			o.RendezvousSends++
		}
	} else {
		o.FailedSends++
	}
}

func (o *MockObserver) ObserveRecv(bytes uint64, latencyNs uint64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.RecvCalls++
	if success {
		o.RecvBytes += bytes
	} else {
		o.FailedRecvs++
	}
}

func (o *MockObserver) ObserveBarrier(waitNs uint64, lagRanks uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.BarrierCalls++
}

func (o *MockObserver) ObserveBrokerTrip() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.BrokerTrips++
}

// Snapshot returns a copy of the recorded counters.
func (o *MockObserver) Snapshot() MockObserver {
	o.mu.Lock()
	defer o.mu.Unlock()
	return MockObserver{
		SendCalls:       o.SendCalls,
		RecvCalls:       o.RecvCalls,
		BarrierCalls:    o.BarrierCalls,
		BrokerTrips:     o.BrokerTrips,
		SendBytes:       o.SendBytes,
		RecvBytes:       o.RecvBytes,
		RendezvousSends: o.RendezvousSends,
		FailedSends:     o.FailedSends,
		FailedRecvs:     o.FailedRecvs,
	}
}

// Compile-time interface check
var _ Observer = (*MockObserver)(nil)
