package fdproxy

import "github.com/behrlich/mmpi/internal/wire"

// directory is the broker-side descriptor directory of spec.md §3 and
// §4.1: open addressing keyed by the decimal "owner/id" rendering of a
// descriptor key, growing by 3/2 on insertion failure. "Absent" is a
// negative placeholder rather than a deleted slot, so a published key
// can be re-published without a rehash.
type directory struct {
	slots []dirSlot
	count int
}

type dirSlot struct {
	used bool
	key  wire.Key
	fd   int // negative means "absent, never delete the slot"
}

const absentFD = -1

func newDirectory(initialSize int) *directory {
	return &directory{slots: make([]dirSlot, initialSize)}
}

func (d *directory) hash(k wire.Key) int {
	s := k.String()
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h)
}

// Publish inserts or replaces the entry for k, growing the table by 3/2
// if open addressing can't find a slot. Implements spec.md §4.1's
// "publish(key_in_out, fd)": if k.Owner is zero, it is filled in from
// identity (the publishing connection's broker-assigned identity) and
// k.Local from fd, so the caller can read back the key actually stored;
// a non-zero k.Owner is preserved as given (the well-known id path).
func (d *directory) Publish(k *wire.Key, identity int32, fd int) {
	if k.Owner == 0 {
		k.Owner = identity
		k.Local = int64(fd)
	}
	for {
		if d.tryInsert(*k, fd) {
			return
		}
		d.grow()
	}
}

func (d *directory) tryInsert(k wire.Key, fd int) bool {
	n := len(d.slots)
	start := d.hash(k) % n
	if start < 0 {
		start += n
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		s := &d.slots[idx]
		if !s.used || s.key == k {
			if !s.used {
				d.count++
			}
			s.used = true
			s.key = k
			s.fd = fd
			return true
		}
	}
	return false
}

func (d *directory) grow() {
	newSize := len(d.slots) * 3 / 2
	if newSize <= len(d.slots) {
		newSize = len(d.slots) + 1
	}
	old := d.slots
	d.slots = make([]dirSlot, newSize)
	d.count = 0
	for _, s := range old {
		if s.used && s.fd != absentFD {
			d.tryInsert(s.key, s.fd)
		}
	}
}

// Lookup returns the descriptor for k, or (0, false) if absent or never
// published.
func (d *directory) Lookup(k wire.Key) (int, bool) {
	n := len(d.slots)
	if n == 0 {
		return 0, false
	}
	start := d.hash(k) % n
	if start < 0 {
		start += n
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		s := &d.slots[idx]
		if !s.used {
			return 0, false
		}
		if s.key == k {
			if s.fd == absentFD {
				return 0, false
			}
			return s.fd, true
		}
	}
	return 0, false
}

// Invalidate marks k's slot absent without deleting it, per spec.md
// §4.1's directory policy. Returns the descriptor that was held, if any,
// so the caller can close it.
func (d *directory) Invalidate(k wire.Key) (int, bool) {
	n := len(d.slots)
	start := d.hash(k) % n
	if n == 0 {
		return 0, false
	}
	if start < 0 {
		start += n
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		s := &d.slots[idx]
		if !s.used {
			return 0, false
		}
		if s.key == k {
			if s.fd == absentFD {
				return 0, false
			}
			held := s.fd
			s.fd = absentFD
			return held, true
		}
	}
	return 0, false
}
