package fdproxy

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/constants"
	"github.com/behrlich/mmpi/internal/wire"
)

// Client is the descriptor broker's client surface, spec.md §4.1:
// "publish(key_in_out, fd)", "lookup(key) -> fd | absent",
// "invalidate(key)". All three are synchronous, blocking on the broker
// socket.
type Client struct {
	fd int
}

// WellKnownOwner is the owner-identity sentinel a creator assigns when it
// wants a caller-chosen local-id instead of an owner-derived one
// (spec.md §3's "Descriptor key").
const WellKnownOwner = constants.WellKnownOwner

// Dial connects to the broker identified by proxyID, retrying with
// bounded exponential backoff up to CONNECT_TIMEOUT before giving up
// (spec.md §4.3's "Broker unavailability retries...").
func Dial(ctx context.Context, proxyID, tmpDir string) (*Client, error) {
	if tmpDir == "" {
		tmpDir = defaultTmpDir()
	}

	var fd int
	op := func() error {
		var err error
		fd, err = dialOnce(proxyID, tmpDir)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = constants.ConnectTimeout
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("fdproxy: connect to broker %q: %w", proxyID, err)
	}
	return &Client{fd: fd}, nil
}

func dialOnce(proxyID, tmpDir string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	sa := socketAddr(proxyID, tmpDir)
	if err := unix.Connect(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Close closes the client's connection to the broker.
func (c *Client) Close() error {
	return unix.Close(c.fd)
}

// SetKeyID fills in key's local-id for the well-known-owner path,
// leaving Owner at WellKnownOwner.
func SetKeyID(key *wire.Key, id int64) {
	key.Owner = WellKnownOwner
	key.Local = id
}

// Publish sends fd to the broker under *key, implementing spec.md
// §4.1's "publish(key_in_out, fd)": if key.Owner is zero the broker
// fills it in from the caller's broker identity and fd's number, and
// *key is updated in place so the caller can read back the key that
// was actually stored; a non-zero key.Owner (the well-known id path,
// see WellKnownOwner) is preserved as given.
func (c *Client) Publish(key *wire.Key, fd int) error {
	wellKnown := key.Owner != 0

	if err := sendCarrier(c.fd, wire.Carrier{Magic: wire.Magic, Type: wire.NewKey, Key: *key}, nil); err != nil {
		return fmt.Errorf("fdproxy: send NEW_KEY: %w", err)
	}
	if err := sendCarrier(c.fd, wire.Carrier{Magic: wire.Magic, Type: wire.AddKey, Key: *key}, []int{fd}); err != nil {
		return fmt.Errorf("fdproxy: send ADD_KEY: %w", err)
	}

	resp, _, err := recvCarrier(c.fd)
	if err != nil {
		return fmt.Errorf("fdproxy: recv ADD_KEY_ACK: %w", err)
	}
	if resp.Type != wire.AddKeyAck {
		return fmt.Errorf("fdproxy: broker response mismatch on publish")
	}
	if wellKnown && resp.Key != *key {
		return fmt.Errorf("fdproxy: broker altered a well-known-id key on publish")
	}
	*key = resp.Key
	return nil
}

// Lookup asks the broker for the descriptor published under key,
// returning -1 and a nil error if the broker reports no such key.
func (c *Client) Lookup(key wire.Key) (int, error) {
	if err := sendCarrier(c.fd, wire.Carrier{Magic: wire.Magic, Type: wire.ReqKey, Key: key}, nil); err != nil {
		return -1, fmt.Errorf("fdproxy: send REQ_KEY: %w", err)
	}

	resp, fds, err := recvCarrier(c.fd)
	if err != nil {
		return -1, fmt.Errorf("fdproxy: recv lookup response: %w", err)
	}

	switch resp.Type {
	case wire.RspNoKey:
		return -1, nil
	case wire.RspKeyFound:
		withFD, fds2, err := recvCarrier(c.fd)
		if err != nil {
			return -1, fmt.Errorf("fdproxy: recv RSP_KEY: %w", err)
		}
		if withFD.Type != wire.RspKey || withFD.Key != key {
			return -1, fmt.Errorf("fdproxy: broker response mismatch on lookup")
		}
		if len(fds2) != 1 {
			return -1, fmt.Errorf("fdproxy: RSP_KEY missing descriptor")
		}
		return fds2[0], nil
	default:
		if len(fds) == 1 {
			return fds[0], nil
		}
		return -1, fmt.Errorf("fdproxy: unexpected response %s on lookup", resp.Type)
	}
}

// Invalidate marks key's entry absent at the broker and closes its held
// descriptor there.
func (c *Client) Invalidate(key wire.Key) error {
	if err := sendCarrier(c.fd, wire.Carrier{Magic: wire.Magic, Type: wire.InvalKey, Key: key}, nil); err != nil {
		return fmt.Errorf("fdproxy: send INVAL_KEY: %w", err)
	}
	return nil
}
