package hostprobe

import "unsafe"

// addrOf returns the numeric address of p. Kept as its own tiny function
// (mirroring queue.pointerFromMmap's style in the teacher) so every
// unsafe-pointer-to-uintptr conversion in this package funnels through one
// audited spot.
func addrOf(p *byte) uintptr {
	return uintptr(unsafe.Pointer(p))
}
