package fdproxy

import (
	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/wire"
)

// sendCarrier writes one fixed carrier record, attaching fds as
// SOL_SOCKET/SCM_RIGHTS ancillary data when non-empty (spec.md §6:
// "exactly one descriptor per carrier when required").
func sendCarrier(fd int, c wire.Carrier, fds []int) error {
	buf := c.Marshal()
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	return unix.Sendmsg(fd, buf, oob, nil, 0)
}

// recvCarrier reads one fixed carrier record and any ancillary
// descriptors riding alongside it.
func recvCarrier(fd int) (wire.Carrier, []int, error) {
	buf := make([]byte, wire.CarrierSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return wire.Carrier{}, nil, err
	}
	if n == 0 {
		return wire.Carrier{}, nil, unix.ECONNRESET
	}

	c, err := wire.Unmarshal(buf[:n])
	if err != nil {
		return wire.Carrier{}, nil, err
	}

	var fds []int
	if oobn > 0 {
		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return wire.Carrier{}, nil, err
		}
		for _, m := range msgs {
			got, err := unix.ParseUnixRights(&m)
			if err != nil {
				continue
			}
			fds = append(fds, got...)
		}
	}
	return c, fds, nil
}
