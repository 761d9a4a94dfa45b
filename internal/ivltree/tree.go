// Package ivltree implements the disjoint-interval directory spec.md §3
// describes for the region directory: an ordered mapping from a virtual
// range [Start, End) to an arbitrary value, keyed by pairwise-disjoint
// intervals, where an overlapping query is treated as equality for lookup.
//
// A Go map can't express "lookup by overlap", so this is backed by a
// sorted slice kept in interval order; insertion and removal are O(n) but
// region directories are per-process and hold at most a few thousand
// entries, which keeps this well within budget while staying simple and
// dependency-free.
package ivltree

import "sort"

// Interval is a half-open virtual range [Start, End).
type Interval struct {
	Start uintptr
	End   uintptr
}

// Overlaps reports whether two intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Contains reports whether iv fully covers other.
func (iv Interval) Contains(other Interval) bool {
	return iv.Start <= other.Start && other.End <= iv.End
}

// entry pairs an interval with its value.
type entry struct {
	iv  Interval
	val interface{}
}

// Tree is an ordered, disjoint-interval directory.
type Tree struct {
	entries []entry
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{}
}

func (t *Tree) indexOf(iv Interval) int {
	return sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].iv.Start >= iv.Start
	})
}

// Insert adds iv→val. The caller is responsible for ensuring iv does not
// overlap an existing entry (the directory's disjointness invariant);
// Insert panics if it would be violated, matching spec.md §7's treatment
// of region-directory invariant violations as fatal assertion failures.
func (t *Tree) Insert(iv Interval, val interface{}) {
	if iv.Start > iv.End {
		panic("ivltree: invalid interval, start > end")
	}
	if _, ok := t.Find(iv); ok {
		panic("ivltree: overlapping insert violates disjointness invariant")
	}
	idx := t.indexOf(iv)
	t.entries = append(t.entries, entry{})
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = entry{iv: iv, val: val}
}

// Replace inserts iv→val, overwriting any entry whose interval is exactly
// iv. Used when a region is rekeyed in place (e.g. after mremap extends it).
func (t *Tree) Replace(iv Interval, val interface{}) {
	for i := range t.entries {
		if t.entries[i].iv == iv {
			t.entries[i].val = val
			return
		}
	}
	t.Insert(iv, val)
}

// Remove deletes the entry whose interval equals iv exactly.
func (t *Tree) Remove(iv Interval) {
	for i, e := range t.entries {
		if e.iv == iv {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// Lookup returns the first entry whose interval intersects query, or false
// if none does. Because the directory enforces disjointness, at most one
// such entry can exist (spec.md §4.2 "Lookup contract").
func (t *Tree) Lookup(query Interval) (interface{}, bool) {
	for _, e := range t.entries {
		if e.iv.Overlaps(query) {
			return e.val, true
		}
	}
	return nil, false
}

// Find is like Lookup but also returns the matched interval, so callers
// can trim or re-key it.
func (t *Tree) Find(query Interval) (Interval, bool) {
	for _, e := range t.entries {
		if e.iv.Overlaps(query) {
			return e.iv, true
		}
	}
	return Interval{}, false
}

// All returns every interval/value pair in ascending start-address order
// (the postorder-over-sorted-entries walk spec.md §4.2 step 6 performs
// during driller init).
func (t *Tree) All() []struct {
	Interval Interval
	Value    interface{}
} {
	out := make([]struct {
		Interval Interval
		Value    interface{}
	}, len(t.entries))
	for i, e := range t.entries {
		out[i] = struct {
			Interval Interval
			Value    interface{}
		}{e.iv, e.val}
	}
	return out
}

// Len returns the number of entries currently tracked.
func (t *Tree) Len() int {
	return len(t.entries)
}

// Disjoint reports whether every pair of entries is non-overlapping and
// every entry satisfies Start <= End — the region-directory invariant
// spec.md §8 requires holds "for all states of the region directory".
// Exposed for tests, not used on any hot path.
func (t *Tree) Disjoint() bool {
	for i, e := range t.entries {
		if e.iv.Start > e.iv.End {
			return false
		}
		if i > 0 && t.entries[i-1].iv.End > e.iv.Start {
			return false
		}
	}
	return true
}
