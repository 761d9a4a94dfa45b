package driller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/mmpi/internal/region"
)

type fakeMapReader struct {
	records []MapRecord
}

func (f fakeMapReader) ReadMaps() ([]MapRecord, error) {
	return f.records, nil
}

func TestClassifyUsesHostLabelsFirst(t *testing.T) {
	require.Equal(t, region.KindStack, classify(MapRecord{Path: "[stack]"}, 0, 0))
	require.Equal(t, region.KindHeap, classify(MapRecord{Path: "[heap]"}, 0, 0))
}

func TestClassifyFallsBackToProbes(t *testing.T) {
	rec := MapRecord{Start: 0x1000, End: 0x2000}
	require.Equal(t, region.KindStack, classify(rec, 0x1500, 0xA000))
	require.Equal(t, region.KindHeap, classify(rec, 0xA000, 0x1500))
	require.Equal(t, region.KindRegular, classify(rec, 0xA000, 0xB000))
}

func TestInitSkipsUnreadableAndDeviceMappings(t *testing.T) {
	d := New(WithMapReader(fakeMapReader{records: []MapRecord{
		{Start: 0x1000, End: 0x2000, Readable: false},
		{Start: 0x3000, End: 0x4000, Readable: true, Path: "/dev/zero"},
	}}))

	// Init will attempt real rebuilds for anything it keeps; with no
	// readable non-device records here, the directory stays empty and
	// no syscalls beyond page-size/heap-touch occur.
	err := d.Init()
	require.NoError(t, err)
	require.Empty(t, d.dir.All())
}

func TestSanitizeStripsUnsafeCharacters(t *testing.T) {
	require.Equal(t, "anon", sanitize(""))
	require.Equal(t, "usr_bin_cat", sanitize("usr/bin/cat"))
}

func TestFilepathHasDevicePrefix(t *testing.T) {
	require.True(t, filepathHasDevicePrefix("/dev/zero"))
	require.False(t, filepathHasDevicePrefix("/usr/bin/cat"))
	require.False(t, filepathHasDevicePrefix(""))
}

func TestRoundUpPage(t *testing.T) {
	require.Equal(t, uintptr(4096), roundUpPage(1, 4096))
	require.Equal(t, uintptr(4096), roundUpPage(4096, 4096))
	require.Equal(t, uintptr(8192), roundUpPage(4097, 4096))
}
