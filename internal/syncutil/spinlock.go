// Package syncutil provides lock-free primitives that are safe to embed by
// value inside a shared-memory segment: a spinlock, a spin-then-yield
// helper, and the flip-polarity barrier boxes used by the messenger.
package syncutil

import (
	"sync/atomic"
)

// SpinLock is a single uint32 mutual-exclusion lock suitable for embedding
// inside a shared-memory struct. It allocates nothing and never calls into
// the OS scheduler directly; contended callers should drive it through a
// Spinner so they yield after a bounded number of attempts.
type SpinLock struct {
	state uint32
}

const (
	spinUnlocked = 0
	spinLocked   = 1
)

// TryLock attempts to acquire the lock without blocking.
func (l *SpinLock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.state, spinUnlocked, spinLocked)
}

// Lock spins until the lock is acquired, yielding to the scheduler after a
// bounded run of failed attempts so a contended lock doesn't starve other
// goroutines on a GOMAXPROCS=1 build or when the holder is descheduled.
func (l *SpinLock) Lock() {
	s := NewSpinner()
	for !l.TryLock() {
		s.Spin()
	}
}

// Unlock releases the lock. Unlock on an unlocked SpinLock is a caller bug
// (the design assumes cooperative, correct peers per spec §4.3/§7) and is
// not itself checked.
func (l *SpinLock) Unlock() {
	atomic.StoreUint32(&l.state, spinUnlocked)
}
