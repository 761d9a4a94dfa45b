package driller

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/region"
)

// rebuild replaces a private mapping's backing with an unlinked, shared
// file mapping at the same address, per spec.md §4.2's "rebuild
// procedure": create and size a backing file, copy the region's current
// contents into it, then remap [Start, End) MAP_FIXED|MAP_SHARED onto
// that file.
func (d *Driller) rebuild(r *region.Region) error {
	f, err := d.newBackingFile(r.Path)
	if err != nil {
		return fmt.Errorf("driller: create backing file for %s: %w", r, err)
	}

	length := int64(r.Len())
	if err := f.Truncate(length); err != nil {
		f.Close()
		return fmt.Errorf("driller: size backing file: %w", err)
	}

	src := addrSlice(r.Start, r.Len())

	if err := writeAll(f, src); err != nil {
		f.Close()
		return fmt.Errorf("driller: copy region contents: %w", err)
	}

	prot := protToUnix(r.Prot)
	_, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		r.Start,
		r.Len(),
		uintptr(prot),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		f.Fd(),
		0,
	)
	if errno != 0 {
		f.Close()
		return fmt.Errorf("driller: remap %s shared: %w", r, errno)
	}

	r.FD = int(f.Fd())
	r.Offset = 0
	return nil
}

func protToUnix(p region.Prot) int {
	v := 0
	if p.Readable() {
		v |= unix.PROT_READ
	}
	if p&region.ProtWrite != 0 {
		v |= unix.PROT_WRITE
	}
	if p&region.ProtExec != 0 {
		v |= unix.PROT_EXEC
	}
	return v
}

// Munmap intercepts an unmap request at [addr, addr+length), invalidating
// every tracked region it touches before performing the real unmap.
// Driller-entry calls made while a rebuild is in flight (the gate from
// arena.enter is held) perform only the underlying syscall, per spec.md
// §5.
func (d *Driller) Munmap(addr, length uintptr) error {
	already, release := d.arena.enter()
	if !already {
		defer release()
		d.mu.Lock()
		if err := d.dir.Invalidate(addr, addr+length); err != nil {
			d.mu.Unlock()
			return err
		}
		d.mu.Unlock()
	}
	return unix.Munmap(addrSlice(addr, length))
}

// Mmap intercepts a new anonymous mapping request, creating it exactly as
// the caller asked but immediately rebuilding it as a file-backed shared
// mapping so later participants can attach to it, per spec.md §4.2's "any
// subsequently created anonymous mapping is rewritten the same way
// (interception, not a one-time pass)".
func (d *Driller) Mmap(addr, length uintptr, prot, flags int) (uintptr, error) {
	already, release := d.arena.enter()
	if already {
		return rawMmap(addr, length, prot, flags)
	}
	defer release()

	resultAddr, err := rawMmap(addr, length, prot, flags)
	if err != nil {
		return 0, err
	}

	isAnon := flags&unix.MAP_ANON != 0
	if !isAnon {
		return resultAddr, nil
	}

	r := &region.Region{
		Start: resultAddr,
		End:   resultAddr + length,
		Prot:  protFromUnix(prot),
		FD:    -1,
		Kind:  region.KindRegular,
	}

	d.mu.Lock()
	d.dir.Insert(r)
	d.mu.Unlock()

	if r.Prot.Readable() {
		if err := d.rebuild(r); err != nil {
			d.logger.Error("rebuild of new mapping failed, leaving private", "error", err)
		}
	}
	return resultAddr, nil
}

func rawMmap(addr, length uintptr, prot, flags int) (uintptr, error) {
	a, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return a, nil
}

func protFromUnix(prot int) region.Prot {
	var p region.Prot
	if prot&unix.PROT_READ != 0 {
		p |= region.ProtRead
	}
	if prot&unix.PROT_WRITE != 0 {
		p |= region.ProtWrite
	}
	if prot&unix.PROT_EXEC != 0 {
		p |= region.ProtExec
	}
	return p
}

// Mremap intercepts a resize/move of a tracked region, rekeying the
// directory entry to the new address range. Per spec.md §4.2, a moving
// mremap is rebuilt at the destination like a fresh mapping; a growing,
// non-moving mremap simply extends the directory record and the backing
// file.
func (d *Driller) Mremap(oldAddr, oldSize, newSize uintptr, flags int) (uintptr, error) {
	newAddr, _, errno := unix.Syscall6(unix.SYS_MREMAP, oldAddr, oldSize, newSize, uintptr(flags), 0, 0)
	if errno != 0 {
		return 0, errno
	}

	d.mu.Lock()
	r, ok := d.dir.Lookup(oldAddr, oldSize)
	if !ok {
		d.mu.Unlock()
		return newAddr, nil
	}

	if newAddr == oldAddr {
		d.dir.Rekey(r, oldAddr, oldAddr+newSize)
		d.mu.Unlock()
		if r.FD >= 0 {
			_ = truncateFD(r.FD, r.Offset+int64(newSize))
		}
		return newAddr, nil
	}

	// Moved: rebuild fresh at the destination while the moved pages still
	// read through the old backing file, then drop the old record (which
	// truncates and closes that file).
	nr := &region.Region{Start: newAddr, End: newAddr + newSize, Prot: r.Prot, FD: -1, Kind: r.Kind}
	d.dir.Insert(nr)
	if nr.Prot.Readable() {
		if err := d.rebuild(nr); err != nil {
			d.logger.Error("rebuild after mremap move failed", "error", err)
		}
	}
	d.dir.Invalidate(oldAddr, oldAddr+oldSize)
	d.mu.Unlock()
	return newAddr, nil
}

// Brk intercepts a heap-extending brk/sbrk call. Go programs never call
// the libc brk directly (the runtime manages its heap via mmap), so this
// exists to satisfy spec.md §4.2's interception contract for embedders
// that drive the driller from cgo or from a supervised child process
// using the classic brk-based allocator.
func (d *Driller) Brk(newBreak uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.heap == nil {
		return fmt.Errorf("driller: Brk called before heap region is known")
	}
	if newBreak <= d.heap.Start {
		return fmt.Errorf("driller: Brk target below heap start")
	}
	d.dir.Rekey(d.heap, d.heap.Start, newBreak)
	if d.heap.FD >= 0 {
		return truncateFD(d.heap.FD, d.heap.Offset+int64(newBreak-d.heap.Start))
	}
	return nil
}

func truncateFD(fd int, size int64) error {
	return unix.Ftruncate(fd, size)
}
