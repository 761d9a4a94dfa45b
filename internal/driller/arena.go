package driller

import "sync/atomic"

// arena is the driller's reentrancy gate, used to break the recursion
// spec.md §5 ("Allocator reentrancy") describes: the driller's own
// entry paths (region records, directory nodes) must be able to run
// without re-entering anything that could call back into the driller.
// A Go rewrite cannot globally reroute the runtime's memory allocator
// the way the C original hooks malloc/free/realloc/memalign, so there
// is no allocator to reroute here — region records and directory
// entries allocate through the ordinary Go allocator/GC, which is safe
// to call from driller code because it never calls back into the
// driller's mmap interception (Go's runtime manages memory via its own
// mmap calls, which do not pass through the intercepted surface). What
// does need guarding is
// driller-entry calls nesting into each other (e.g. a driller-issued
// munmap triggering another intercepted call); arena exists solely to
// gate that.
type arena struct {
	// installed gates re-entrant driller-entry calls: "on each
	// driller-entry call: if the flag is set, perform the underlying
	// operation and return without touching the region directory;
	// otherwise install, do work, restore" (spec.md §5).
	installed atomic.Bool
}

func newArena() *arena {
	return &arena{}
}

// enter installs the reentrancy gate and returns a release function. A
// driller-entry call that finds the gate already installed (enter
// reports alreadyInstalled = true) must perform only the underlying operation and return
// without touching the region directory, per spec.md §5.
func (a *arena) enter() (alreadyInstalled bool, release func()) {
	if !a.installed.CompareAndSwap(false, true) {
		return true, func() {}
	}
	return false, func() { a.installed.Store(false) }
}
