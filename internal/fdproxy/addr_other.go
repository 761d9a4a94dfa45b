//go:build !linux

package fdproxy

// abstractSupported is false on hosts without an abstract socket
// namespace; the broker falls back to a pathname rendezvous.
const abstractSupported = false
