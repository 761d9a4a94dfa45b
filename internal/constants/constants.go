// Package constants holds the tunables shared by the driller, broker, and
// messenger subsystems.
package constants

import "time"

// Address-space driller tunables.
const (
	// StackMapOffsetLP64 is the offset from the top of the sparse stack
	// backing file to the live stack, on 64-bit hosts.
	StackMapOffsetLP64 = 128 << 30 // 128 GiB

	// StackMapOffset32 is the same offset for non-LP64 hosts.
	StackMapOffset32 = 1 << 30 // 1 GiB

	// AltStackSize is the size of the scratch stack used while rebuilding
	// the live stack as a file-backed mapping. Must be at least the
	// platform's MINSIGSTKSZ.
	AltStackSize = 64 << 10 // 64 KiB

	// StackMinGrow is the minimum amount a stack region is extended by on
	// a tracked fault, to avoid re-faulting on every additional page.
	StackMinGrow = 1 << 20 // 1 MiB

	// StackGuardSize is the size of the guard region installed below the
	// stack's base on hosts that do not report SEGV_MAPERR for stack
	// growth faults.
	StackGuardSize = 1 << 20 // 1 MiB
)

// Messenger tunables.
const (
	// MsgPayloadSizeBytes is the inline payload capacity of a fragment slot.
	MsgPayloadSizeBytes = 4 << 10 // 4 KiB

	// MsgPoolSize is the number of slots in each rank's slot pool.
	MsgPoolSize = 1024

	// CachelineAlign is the alignment used for hot shared-segment fields.
	CachelineAlign = 64

	// MsgDrillerSizeThreshold is the size above which rendezvous is
	// preferred over fragmentation. Zero means rendezvous is always
	// preferred when the buffer falls inside a known region.
	MsgDrillerSizeThreshold = 0
)

// Descriptor broker tunables.
const (
	// ConnectTimeout bounds the broker client's connect/fetch retry.
	ConnectTimeout = 5 * time.Second

	// FDProxyMaxClients bounds the number of simultaneous broker clients.
	FDProxyMaxClients = 32

	// FDTableHSizeInit is the initial bucket count of the broker's
	// descriptor directory.
	FDTableHSizeInit = 32

	// FDTableGrowNumerator/FDTableGrowDenominator express the 3/2 growth
	// factor applied when the directory's open-addressing table fills.
	FDTableGrowNumerator   = 3
	FDTableGrowDenominator = 2
)

// SpinYieldAfter is the number of busy-spin iterations a spinner performs
// before yielding to the Go scheduler.
const SpinYieldAfter = 1000

// WellKnownOwner is the sentinel owner-identity a publisher sets
// explicitly to request the "well-known id path" of spec.md §4.1's
// publish contract: a pre-agreed (owner, local) pair the broker
// preserves as given, rather than the caller's identity. It must never
// be zero — owner-field zero is the literal trigger for the broker's
// other path, auto-filling the key from the publishing connection's
// identity and the published descriptor's number.
const WellKnownOwner = -1
