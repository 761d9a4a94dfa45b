// Package driller implements the address-space driller of spec.md §4.2:
// at startup it rewrites every private anonymous region of the process —
// program data, heap, stack, and future anonymous mappings — as a
// file-backed shared mapping, and keeps that invariant by intercepting
// mmap/munmap/mremap/brk/sbrk.
package driller

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/hostprobe"
	"github.com/behrlich/mmpi/internal/logging"
	"github.com/behrlich/mmpi/internal/region"
)

// Driller owns one process's region directory and the state needed to
// keep every readable private mapping backed by an unlinked shared file.
type Driller struct {
	mu          sync.Mutex
	dir         *region.Directory
	arena       *arena
	pageSize    int
	tmpDir      string
	initialized bool
	nextFileIdx uint64
	logger      *logging.Logger

	heap  *region.Region
	stack *stackState

	mapReader MapReader
}

// Option configures New.
type Option func(*Driller)

// WithMapReader overrides the memory-map data source, mainly for tests.
func WithMapReader(r MapReader) Option {
	return func(d *Driller) { d.mapReader = r }
}

// WithTempDir overrides the directory backing files are created under.
func WithTempDir(dir string) Option {
	return func(d *Driller) { d.tmpDir = dir }
}

// New constructs an uninitialized Driller. Call Init to perform the
// rewrite sequence.
func New(opts ...Option) *Driller {
	d := &Driller{
		dir:    region.NewDirectory(),
		arena:  newArena(),
		logger: logging.Default(),
		tmpDir: defaultTempDir(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.mapReader == nil {
		d.mapReader = NewMapReader()
	}
	return d
}

// defaultTempDir prefers a tmpfs-backed shared-memory filesystem, falling
// back to /tmp, per spec.md §6 ("Persisted state").
func defaultTempDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// devicePathPrefix marks a path reserved for device nodes, skipped
// during enumeration per spec.md §4.2 step 5.
const devicePathPrefix = "/dev/"

// RegisterInvalidateCallback installs fn, called with the doomed region
// record whenever the driller invalidates a tracked region — the seam
// the messenger uses to clean up rendezvous publishing records (spec.md
// §4.3 "Invalidation callback").
func (d *Driller) RegisterInvalidateCallback(fn region.InvalidateFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dir.RegisterInvalidate(fn)
}

// Init performs spec.md §4.2's initialization sequence: cache the page
// size, force the heap to exist, install the reentrancy arena, enumerate
// and classify every private mapping, rebuild each as a file-backed
// mapping, then disengage the arena.
func (d *Driller) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	d.pageSize = unix.Getpagesize()

	// Step 2: force the heap to exist before introspection.
	touchHeap()

	// Steps 4/7: arena install/uninstall bracket steps 5-6.
	already, release := d.arena.enter()
	if already {
		return fmt.Errorf("driller: Init called reentrantly")
	}
	defer release()

	records, err := d.mapReader.ReadMaps()
	if err != nil {
		return fmt.Errorf("driller: enumerate mappings: %w", err)
	}

	stackProbe := stackPointerHint()
	heapProbe := heapPointerHint()

	for _, rec := range records {
		if !rec.Readable {
			continue
		}
		if filepathHasDevicePrefix(rec.Path) {
			continue
		}
		if rec.Executable && !rec.Writable && rec.Path != "" {
			// Preserve symbolic profiling for executable read-only text,
			// per spec.md §4.2 step 5.
			continue
		}

		kind := classify(rec, stackProbe, heapProbe)

		r := &region.Region{
			Start:  rec.Start,
			End:    rec.End,
			Prot:   protFromRecord(rec),
			Offset: rec.Offset,
			FD:     -1,
			Path:   rec.Path,
			Kind:   kind,
		}
		d.dir.Insert(r)
		if kind == region.KindHeap {
			d.heap = r
		}
	}

	for _, r := range d.dir.All() {
		if err := d.rebuild(r); err != nil {
			d.logger.Error("rebuild failed, leaving region private", "region", r.String(), "error", err)
		}
	}

	d.initialized = true
	return nil
}

// classify assigns a Region's Kind using the host's own labels when
// present, falling back to the stack-pointer/heap-probe strategy spec.md
// §4.2 and §9 describe for hosts that don't label these mappings.
func classify(rec MapRecord, stackProbe, heapProbe uintptr) region.Kind {
	switch rec.Path {
	case "[stack]":
		return region.KindStack
	case "[heap]":
		return region.KindHeap
	}
	if rec.Path == "" {
		if stackProbe >= rec.Start && stackProbe < rec.End {
			return region.KindStack
		}
		if heapProbe >= rec.Start && heapProbe < rec.End {
			return region.KindHeap
		}
	}
	return region.KindRegular
}

func protFromRecord(rec MapRecord) region.Prot {
	var p region.Prot
	if rec.Readable {
		p |= region.ProtRead
	}
	if rec.Writable {
		p |= region.ProtWrite
	}
	if rec.Executable {
		p |= region.ProtExec
	}
	return p
}

func filepathHasDevicePrefix(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return len(clean) >= len(devicePathPrefix) && clean[:len(devicePathPrefix)] == devicePathPrefix
}

// touchHeap forces the heap allocator to reserve at least one page, so a
// heap mapping exists before enumeration (spec.md §4.2 step 2).
func touchHeap() {
	b := make([]byte, 1)
	b[0] = 0
}

func stackPointerHint() uintptr {
	return hostprobe.Default().StackPointer()
}

func heapPointerHint() uintptr {
	return hostprobe.Default().HeapProbe()
}

// Lookup implements the public lookup contract of spec.md §4.2: the
// first region intersecting [start, start+len).
func (d *Driller) Lookup(start, length uintptr) (*region.Region, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir.Lookup(start, length)
}

// newBackingFile creates an unlinked temp file named for the process
// identity, a monotonic index, and the region's original path, per
// spec.md §4.2's rebuild procedure.
func (d *Driller) newBackingFile(label string) (*os.File, error) {
	d.nextFileIdx++
	name := fmt.Sprintf("mmpi-%d-%d-%s", os.Getpid(), d.nextFileIdx, sanitize(label))
	path := filepath.Join(d.tmpDir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	// Unlink immediately: the file lives as long as a descriptor is open.
	if err := os.Remove(path); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func sanitize(label string) string {
	if label == "" {
		return "anon"
	}
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
