package mapcache

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("mapcache exercises real mmap")
	}
}

func openTestFile(t *testing.T, size int64) *os.File {
	t.Helper()
	f, err := os.CreateTemp("", "mapcache-test-*")
	require.NoError(t, err)
	t.Cleanup(func() {
		f.Close()
		os.Remove(f.Name())
	})
	require.NoError(t, f.Truncate(size))
	return f
}

func TestInstallThenLookupHits(t *testing.T) {
	requireLinux(t)
	f := openTestFile(t, 4096)
	c := New()

	key := Key{Owner: 1, Local: 2}
	e, err := c.Install(key, int(f.Fd()), 0, 100)
	require.NoError(t, err)
	require.True(t, e.Covers(0, 100))

	got, ok := c.Lookup(key)
	require.True(t, ok)
	require.Same(t, e, got)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	requireLinux(t)
	f := openTestFile(t, 4096)
	c := New()
	key := Key{Owner: 3, Local: 4}

	_, err := c.Install(key, int(f.Fd()), 0, 100)
	require.NoError(t, err)

	c.Invalidate(key)
	_, ok := c.Lookup(key)
	require.False(t, ok)
}

func TestCoversRespectsRange(t *testing.T) {
	e := &Entry{RangeLo: 4096, RangeHi: 8192}
	require.True(t, e.Covers(4096, 100))
	require.False(t, e.Covers(0, 100))
	require.False(t, e.Covers(8100, 100))
}
