package driller

import (
	"io"
	"os"
	"unsafe"
)

// addrSlice views length bytes starting at addr as a Go byte slice
// without copying. Used only to read/write a region's current contents
// while rebuilding it; callers must not retain the slice past the
// region's lifetime.
func addrSlice(addr, length uintptr) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

func writeAll(f *os.File, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	_, err := f.WriteAt(b, 0)
	if err == io.EOF {
		return nil
	}
	return err
}
