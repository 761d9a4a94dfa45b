// Package region implements the region record and region directory of
// spec.md §3 ("Region record", "Region directory") and the invalidation
// policy of §4.2. It is used only by the driller and is never shared
// across participants: each process owns exactly one Directory.
package region

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/ivltree"
)

// Kind classifies the memory a Region backs.
type Kind int

const (
	// KindRegular is an ordinary private mapping rewritten by the driller.
	KindRegular Kind = iota
	// KindHeap is the process's single brk-managed heap mapping.
	KindHeap
	// KindStack is the process's single stack mapping.
	KindStack
)

func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindStack:
		return "stack"
	default:
		return "regular"
	}
}

// Prot is a bitmask of readable/writable/executable, mirroring mmap prot
// flags without depending on a specific GOOS's constants.
type Prot int

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

func (p Prot) Readable() bool { return p&ProtRead != 0 }

// Region describes a contiguous virtual range now backed by a file, per
// spec.md §3's "Region record" attributes.
type Region struct {
	Start  uintptr
	End    uintptr // exclusive
	Prot   Prot
	Offset int64 // offset into the backing file
	FD     int   // backing descriptor, -1 if not yet opened
	Path   string
	Kind   Kind
	Cookie interface{} // opaque, owned by the messenger (spec.md §9)
}

// Interval returns the ivltree key for r.
func (r *Region) Interval() ivltree.Interval {
	return ivltree.Interval{Start: r.Start, End: r.End}
}

func (r *Region) String() string {
	return fmt.Sprintf("region{%s [%#x,%#x) fd=%d path=%s}", r.Kind, r.Start, r.End, r.FD, r.Path)
}

// Len returns End-Start.
func (r *Region) Len() uintptr { return r.End - r.Start }

// InvalidateFunc is called with the doomed region before it is removed
// from the directory, per spec.md §4.2's "invalidation callback (if
// registered) fires first with the doomed record".
type InvalidateFunc func(*Region)

// Directory is the per-process region directory, §3's ordered mapping
// from disjoint virtual ranges to Region records.
type Directory struct {
	tree       *ivltree.Tree
	onInvalidate InvalidateFunc
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{tree: ivltree.New()}
}

// RegisterInvalidate installs the callback fired on every invalidation.
func (d *Directory) RegisterInvalidate(fn InvalidateFunc) {
	d.onInvalidate = fn
}

// Insert adds r if its protection includes read (spec.md §3: "if
// protection does not include read, the region is not recorded").
func (d *Directory) Insert(r *Region) {
	if !r.Prot.Readable() {
		return
	}
	d.tree.Insert(r.Interval(), r)
}

// Lookup returns the region intersecting [start, start+length), if any.
func (d *Directory) Lookup(start uintptr, length uintptr) (*Region, bool) {
	v, ok := d.tree.Lookup(ivltree.Interval{Start: start, End: start + length})
	if !ok {
		return nil, false
	}
	return v.(*Region), true
}

// All returns every tracked region, in ascending start-address order.
func (d *Directory) All() []*Region {
	entries := d.tree.All()
	out := make([]*Region, len(entries))
	for i, e := range entries {
		out[i] = e.Value.(*Region)
	}
	return out
}

// invalidate fires the callback, removes r from the tree, truncates its
// backing file to zero, and closes its descriptor — spec.md §4.2's full
// teardown sequence for a fully-covered region.
func (d *Directory) invalidate(r *Region) {
	if d.onInvalidate != nil {
		d.onInvalidate(r)
	}
	d.tree.Remove(r.Interval())
	if r.FD >= 0 {
		f := os.NewFile(uintptr(r.FD), r.Path)
		_ = f.Truncate(0)
		_ = f.Close()
		r.FD = -1
	}
}

// ErrSplitRequired is returned when an unmap/replace only partially
// overlaps a tracked region in a way that would require splitting it into
// two records — spec.md §4.2: "Splitting a region... is rejected;
// implementations must document this limit."
var ErrSplitRequired = fmt.Errorf("region: interior overlap would require a split, which is not supported")

// Invalidate applies an unmap/replace over [start, end) to every region it
// touches: full coverage removes the region, low-end overlap trims Start
// (and Offset), high-end overlap trims End (and truncates the backing
// file), and strictly-interior overlap is rejected.
func (d *Directory) Invalidate(start, end uintptr) error {
	for {
		r, ok := d.Lookup(start, end-start)
		if !ok {
			return nil
		}

		switch {
		case start <= r.Start && end >= r.End:
			// Full coverage: remove.
			d.invalidate(r)

		case start <= r.Start && end < r.End && end > r.Start:
			// Low-end overlap: trim the start forward.
			trimmed := end - r.Start
			d.tree.Remove(r.Interval())
			r.Offset += int64(trimmed)
			r.Start = end
			d.tree.Insert(r.Interval(), r)

		case start > r.Start && end >= r.End && start < r.End:
			// High-end overlap: trim the end backward and truncate the file.
			d.tree.Remove(r.Interval())
			r.End = start
			d.tree.Insert(r.Interval(), r)
			if r.FD >= 0 {
				_ = unix.Ftruncate(r.FD, r.Offset+int64(r.Len()))
			}

		default:
			// Strictly interior: would require a split.
			return ErrSplitRequired
		}
	}
}

// Rekey moves r to a new interval, preserving its record. The driller
// uses it when mremap or Brk resizes a region in place.
func (d *Directory) Rekey(r *Region, newStart, newEnd uintptr) {
	d.tree.Remove(r.Interval())
	r.Start, r.End = newStart, newEnd
	d.tree.Insert(r.Interval(), r)
}

// Disjoint reports whether the directory currently satisfies its core
// invariant (pairwise-disjoint, Start<=End intervals); exercised by
// property tests, not used on any production path.
func (d *Directory) Disjoint() bool {
	return d.tree.Disjoint()
}
