package fdproxy

import "github.com/behrlich/mmpi/internal/wire"

// connState is the per-connection protocol state of spec.md §3 and
// §4.1's "Per-connection state machine".
type connState int

const (
	stateIdle connState = iota
	stateAwaitAdd
	stateAwaitAckSend
	stateAwaitResponseSend
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateAwaitAdd:
		return "AWAIT-ADD"
	case stateAwaitAckSend:
		return "AWAIT-ACK-SEND"
	case stateAwaitResponseSend:
		return "AWAIT-RESPONSE-SEND"
	default:
		return "UNKNOWN"
	}
}

// connection is one client's context at the broker: its socket plus
// buffered state between the two messages of a multi-step exchange.
type connection struct {
	fd        int
	state     connState
	bufferKey wire.Key
	alive     bool
	everAlive bool

	pendingOut []byte // bytes queued for the next writable event
	pendingFDs []int  // descriptors to attach to pendingOut, if any
}

// wantRead reports whether this connection should be polled for
// readability, per spec.md §4.1's scheduling table.
func (c *connection) wantRead() bool {
	return c.state == stateIdle || c.state == stateAwaitAdd
}

// wantWrite reports whether this connection should be polled for
// writability.
func (c *connection) wantWrite() bool {
	return c.state == stateAwaitAckSend || c.state == stateAwaitResponseSend
}
