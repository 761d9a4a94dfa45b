package ivltree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestInsertLookupDisjoint(t *testing.T) {
	tr := New()
	tr.Insert(Interval{0x1000, 0x2000}, "a")
	tr.Insert(Interval{0x3000, 0x4000}, "b")
	tr.Insert(Interval{0x2000, 0x3000}, "c")

	require.True(t, tr.Disjoint())

	v, ok := tr.Lookup(Interval{0x2500, 0x2600})
	require.True(t, ok)
	require.Equal(t, "c", v)

	_, ok = tr.Lookup(Interval{0x4000, 0x5000})
	require.False(t, ok)
}

func TestInsertOverlapPanics(t *testing.T) {
	tr := New()
	tr.Insert(Interval{0x1000, 0x2000}, "a")
	require.Panics(t, func() {
		tr.Insert(Interval{0x1800, 0x2800}, "b")
	})
}

func TestRemoveLeavesNoIntersection(t *testing.T) {
	tr := New()
	tr.Insert(Interval{0x1000, 0x2000}, "a")
	tr.Insert(Interval{0x2000, 0x3000}, "b")

	tr.Remove(Interval{0x1000, 0x2000})

	_, ok := tr.Lookup(Interval{0x1000, 0x1500})
	require.False(t, ok)

	v, ok := tr.Lookup(Interval{0x2000, 0x2500})
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestAllOrdering(t *testing.T) {
	tr := New()
	tr.Insert(Interval{0x3000, 0x4000}, "b")
	tr.Insert(Interval{0x1000, 0x2000}, "a")

	got := tr.All()
	want := []Interval{{0x1000, 0x2000}, {0x3000, 0x4000}}
	for i, w := range want {
		if diff := cmp.Diff(w, got[i].Interval); diff != "" {
			t.Fatalf("entry %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}
