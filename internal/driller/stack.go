package driller

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/logging"
	"github.com/behrlich/mmpi/internal/region"
)

// stackState tracks the driller's STACK region.
//
// spec.md §4.2 describes the stack as remapped in place and grown
// on demand by a SIGSEGV handler that extends the mapping down and
// resumes the faulting instruction. Go cannot implement that literally:
// goroutine stacks are runtime-owned, move under copystack, and Go's
// os/signal delivery cannot resume execution at the instruction that
// faulted the way a C sigaction handler can (by the time a Go signal
// handler observes the fault, the runtime has already decided whether to
// grow the goroutine's own stack or crash — there is no safe point to
// splice in a foreign mapping underneath a live Go stack).
//
// This is documented as an explicit redesign in DESIGN.md: the STACK
// region a Driller manages is a second, dedicated, file-backed scratch
// buffer — not the Go runtime's own call stack — sized up front and
// grown only through the explicit GrowStack call. Code that wants
// shared-memory-visible stack-like storage allocates from this buffer
// through Reserve or ReserveSlice instead of relying on implicit
// fault-driven growth; the messenger itself never allocates from it, and
// callers reach it through Job.Driller().
// A best-effort SIGSEGV observer is still installed, but it can only log
// the fault and re-raise it under the default disposition — it cannot
// resume the faulting goroutine.
type stackState struct {
	mu     sync.Mutex
	region *region.Region
	cap    uintptr
	used   uintptr
	logger *logging.Logger
}

// InitStack creates the dedicated stack-scratch region sized to initial
// bytes (rounded up to a page), inserts it into the directory under
// KindStack, and rebuilds it as a shared mapping.
func (d *Driller) InitStack(initial uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := roundUpPage(initial, d.pageSize)
	addr, err := rawMmap(0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return fmt.Errorf("driller: reserve stack scratch: %w", err)
	}

	r := &region.Region{
		Start: addr,
		End:   addr + size,
		Prot:  region.ProtRead | region.ProtWrite,
		FD:    -1,
		Kind:  region.KindStack,
	}
	d.dir.Insert(r)
	d.heapOrStackRebuildLocked(r)

	d.stack = &stackState{region: r, cap: size, logger: d.logger}
	installSigsegvObserver(d.logger)
	return nil
}

// heapOrStackRebuildLocked rebuilds r while d.mu is already held, bypassing
// Init's bulk rebuild loop.
func (d *Driller) heapOrStackRebuildLocked(r *region.Region) {
	if err := d.rebuild(r); err != nil {
		d.logger.Error("stack scratch rebuild failed, staying private", "error", err)
	}
}

// GrowStack extends the stack-scratch region by at least extra bytes,
// via Mremap with MREMAP_MAYMOVE (so the region may land at a new
// address) followed by a directory lookup of the new range, per spec.md
// §8's "stack growth on demand" scenario — explicit here rather than
// fault-driven, per the redesign documented on stackState.
func (d *Driller) GrowStack(extra uintptr) error {
	d.mu.Lock()
	st := d.stack
	d.mu.Unlock()
	if st == nil {
		return fmt.Errorf("driller: GrowStack called before InitStack")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	newCap := roundUpPage(st.cap+extra, d.pageSize)
	newAddr, err := d.Mremap(st.region.Start, st.cap, newCap, unix.MREMAP_MAYMOVE)
	if err != nil {
		return fmt.Errorf("driller: grow stack scratch: %w", err)
	}

	d.mu.Lock()
	r, ok := d.dir.Lookup(newAddr, newCap)
	d.mu.Unlock()
	if ok {
		st.region = r
	}
	st.cap = newCap
	return nil
}

// StackUsed reports the high-water mark of bytes handed out by Reserve.
func (s *stackState) StackUsed() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Reserve carves n bytes off the stack-scratch region, growing it first
// if needed, and returns the address of the reserved span.
func (d *Driller) Reserve(n uintptr) (uintptr, error) {
	if d.stack == nil {
		return 0, fmt.Errorf("driller: Reserve called before InitStack")
	}
	st := d.stack

	st.mu.Lock()
	need := st.used + n
	short := need > st.cap
	st.mu.Unlock()

	if short {
		if err := d.GrowStack(need - st.cap); err != nil {
			return 0, err
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	addr := st.region.Start + st.used
	st.used += n
	return addr, nil
}

// ReserveSlice is Reserve followed by a view of the reserved span as a
// byte slice, for callers that want to read or write it directly rather
// than juggle the raw address.
func (d *Driller) ReserveSlice(n uintptr) ([]byte, error) {
	addr, err := d.Reserve(n)
	if err != nil {
		return nil, err
	}
	return addrSlice(addr, n), nil
}

func roundUpPage(n uintptr, pageSize int) uintptr {
	if pageSize <= 0 {
		pageSize = os.Getpagesize()
	}
	ps := uintptr(pageSize)
	if n == 0 {
		return ps
	}
	return (n + ps - 1) &^ (ps - 1)
}
