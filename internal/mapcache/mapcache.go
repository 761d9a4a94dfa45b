// Package mapcache implements the receiver-side region cache of
// spec.md §3 ("Region cache"): a mapping from descriptor key to a
// region record copy and its locally mapped virtual address, invalidated
// per key on receipt of an RV-INVALIDATE control message.
package mapcache

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Key identifies a cached mapping by the broker's descriptor key fields,
// mirrored here to avoid mapcache depending on the wire package.
type Key struct {
	Owner int32
	Local int64
}

// Entry is one cached mapping: the region bounds the mapping covers and
// the address it landed at in this process.
type Entry struct {
	FD      int
	MapAddr uintptr
	MapLen  uintptr
	RangeLo uintptr // offset-into-region lower bound currently mapped
	RangeHi uintptr
}

// Cache is the per-rank region cache. It is safe for concurrent use,
// though spec.md's model has exactly one goroutine driving receive, so
// contention is not expected in practice.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*Entry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]*Entry)}
}

// Lookup returns the cached entry for key, if any.
func (c *Cache) Lookup(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Covers reports whether the cached entry for key already maps
// [offset, offset+length); the receive path only needs to remap when
// this is false (spec.md §4.3: "if the requested data range lies inside
// the cached map... simply adjust the effective offset").
func (e *Entry) Covers(offset, length uintptr) bool {
	return offset >= e.RangeLo && offset+length <= e.RangeHi
}

// Install maps [offset, offset+length) of the descriptor fd at a
// fresh address and records it under key, replacing any previous entry
// (unmapping and closing it first).
func (c *Cache) Install(key Key, fd int, offset, length uintptr) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.releaseLocked(old)
	}

	// Map from the containing page boundary so non-page-aligned offsets
	// are still representable.
	pageSize := uintptr(unix.Getpagesize())
	alignedOffset := offset &^ (pageSize - 1)
	mapLen := (offset + length - alignedOffset + pageSize - 1) &^ (pageSize - 1)

	data, err := unix.Mmap(fd, int64(alignedOffset), int(mapLen), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapcache: mmap fd=%d off=%d len=%d: %w", fd, alignedOffset, mapLen, err)
	}

	e := &Entry{
		FD:      fd,
		MapAddr: uintptr(unsafeAddr(data)),
		MapLen:  mapLen,
		RangeLo: alignedOffset,
		RangeHi: alignedOffset + mapLen,
	}
	c.entries[key] = e
	return e, nil
}

// Invalidate unmaps and removes the cache entry for key, per the
// RV-INVALIDATE control message handler (spec.md §4.3).
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.releaseLocked(e)
		delete(c.entries, key)
	}
}

func (c *Cache) releaseLocked(e *Entry) {
	data := addrSlice(e.MapAddr, e.MapLen)
	_ = unix.Munmap(data)
	_ = unix.Close(e.FD)
}
