package syncutil

import (
	"runtime"

	"github.com/behrlich/mmpi/internal/constants"
)

// Spinner implements the "spin locally, then yield to the scheduler"
// pattern used throughout the messenger: the barrier, the rendezvous
// completion wait, and SpinLock contention all drive one of these instead
// of spinning unconditionally.
type Spinner struct {
	n int
}

// NewSpinner returns a Spinner ready to use.
func NewSpinner() *Spinner {
	return &Spinner{}
}

// Spin performs one local-delay iteration, yielding to the Go scheduler
// once every constants.SpinYieldAfter calls. It never blocks indefinitely
// on its own; callers loop it against their own condition.
func (s *Spinner) Spin() {
	s.n++
	if s.n%constants.SpinYieldAfter == 0 {
		runtime.Gosched()
		return
	}
	// Local delay: a handful of no-op iterations is enough to avoid
	// hammering the cache line on every single pass.
	for i := 0; i < 8; i++ {
	}
}

// Reset zeroes the internal spin count, for callers that reuse a Spinner
// across multiple independent waits.
func (s *Spinner) Reset() {
	s.n = 0
}
