// Package fdproxy implements the descriptor broker of spec.md §4.1: a
// single auxiliary process that redistributes file descriptors among
// participants over a local stream socket, via a small request/response
// state machine and a keyed directory.
package fdproxy

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/logging"
	"github.com/behrlich/mmpi/internal/wire"
)

// Broker is the single-threaded event loop and descriptor directory
// described in spec.md §4.1.
type Broker struct {
	listenFD int
	path     string // "" when bound in the abstract namespace
	dir      *directory
	conns    map[int]*connection
	logger   *logging.Logger
}

// Config configures a Broker instance.
type Config struct {
	ProxyID string
	TmpDir  string
	Logger  *logging.Logger
}

// NewBroker binds and listens on the broker's rendezvous socket but does
// not yet accept connections; call Serve to run the event loop.
func NewBroker(cfg Config) (*Broker, error) {
	if cfg.TmpDir == "" {
		cfg.TmpDir = defaultTmpDir()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("fdproxy: create listen socket: %w", err)
	}

	sa := socketAddr(cfg.ProxyID, cfg.TmpDir)
	var path string
	if !abstractSupported {
		path = socketPath(cfg.ProxyID, cfg.TmpDir)
		_ = os.Remove(path)
	}

	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fdproxy: bind %s: %w", sa.Name, err)
	}
	if err := unix.Listen(fd, fdproxyBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fdproxy: listen: %w", err)
	}

	return &Broker{
		listenFD: fd,
		path:     path,
		dir:      newDirectory(initialDirSize),
		conns:    make(map[int]*connection),
		logger:   logger,
	}, nil
}

const (
	fdproxyBacklog = 32
	initialDirSize = 32
)

// Close shuts the broker's listening socket and any tracked connections.
func (b *Broker) Close() error {
	for fd := range b.conns {
		unix.Close(fd)
	}
	if b.path != "" {
		_ = os.Remove(b.path)
	}
	return unix.Close(b.listenFD)
}

// Serve runs the broker's single-threaded multiplexer until every
// client slot has died after at least one was alive, per spec.md §4.1's
// "Scheduling" rule.
func (b *Broker) Serve() error {
	everHadClient := false
	for {
		pollFDs := b.buildPollSet()
		n, err := unix.Poll(pollFDs, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("fdproxy: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		for _, pfd := range pollFDs {
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == b.listenFD {
				if err := b.acceptOne(); err != nil {
					b.logger.Warn("accept failed", "error", err)
				}
				continue
			}
			c := b.conns[int(pfd.Fd)]
			if c == nil {
				continue
			}
			if pfd.Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
				b.killConn(c)
				continue
			}
			if pfd.Revents&unix.POLLIN != 0 {
				if err := b.handleReadable(c); err != nil {
					b.logger.Error("fatal protocol error, closing connection", "error", err)
					b.killConn(c)
				}
			}
			if pfd.Revents&unix.POLLOUT != 0 {
				if err := b.handleWritable(c); err != nil {
					b.logger.Error("write failed, closing connection", "error", err)
					b.killConn(c)
				}
			}
		}

		if len(b.conns) > 0 {
			everHadClient = true
		}
		if everHadClient && len(b.conns) == 0 {
			return nil
		}
	}
}

func (b *Broker) buildPollSet() []unix.PollFd {
	pfds := make([]unix.PollFd, 0, len(b.conns)+1)
	pfds = append(pfds, unix.PollFd{Fd: int32(b.listenFD), Events: unix.POLLIN})
	for fd, c := range b.conns {
		var ev int16
		if c.wantRead() {
			ev |= unix.POLLIN
		}
		if c.wantWrite() {
			ev |= unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: ev})
	}
	return pfds
}

func (b *Broker) acceptOne() error {
	fd, _, err := unix.Accept4(b.listenFD, unix.SOCK_NONBLOCK)
	if err != nil {
		return err
	}
	b.conns[fd] = &connection{fd: fd, state: stateIdle, alive: true, everAlive: true}
	return nil
}

func (b *Broker) killConn(c *connection) {
	unix.Close(c.fd)
	delete(b.conns, c.fd)
}

// handleReadable decodes one carrier record (and its ancillary
// descriptor, for ADD_KEY) and advances c's state machine.
func (b *Broker) handleReadable(c *connection) error {
	carrier, fds, err := recvCarrier(c.fd)
	if err != nil {
		return err
	}
	if carrier.Magic != wire.Magic {
		return wire.ErrBadMagic
	}

	switch c.state {
	case stateIdle:
		switch carrier.Type {
		case wire.NewKey:
			c.bufferKey = carrier.Key
			c.state = stateAwaitAdd
		case wire.ReqKey:
			c.bufferKey = carrier.Key
			c.state = stateAwaitResponseSend
		case wire.InvalKey:
			if held, ok := b.dir.Invalidate(carrier.Key); ok {
				unix.Close(held)
			}
		default:
			return fmt.Errorf("fdproxy: unexpected %s in IDLE", carrier.Type)
		}

	case stateAwaitAdd:
		if carrier.Type != wire.AddKey {
			return fmt.Errorf("fdproxy: expected ADD_KEY, got %s", carrier.Type)
		}
		if len(fds) != 1 {
			return fmt.Errorf("fdproxy: ADD_KEY must carry exactly one descriptor, got %d", len(fds))
		}
		// c.fd is this connection's broker-assigned identity, used to
		// fill c.bufferKey.Owner when the caller left it zero.
		b.dir.Publish(&c.bufferKey, int32(c.fd), fds[0])
		c.state = stateAwaitAckSend

	default:
		return fmt.Errorf("fdproxy: unexpected read in state %s", c.state)
	}
	return nil
}

func (b *Broker) handleWritable(c *connection) error {
	switch c.state {
	case stateAwaitAckSend:
		ack := wire.Carrier{Magic: wire.Magic, Type: wire.AddKeyAck, Key: c.bufferKey}
		if err := sendCarrier(c.fd, ack, nil); err != nil {
			return err
		}
		c.state = stateIdle

	case stateAwaitResponseSend:
		fd, ok := b.dir.Lookup(c.bufferKey)
		if !ok {
			resp := wire.Carrier{Magic: wire.Magic, Type: wire.RspNoKey, Key: c.bufferKey}
			if err := sendCarrier(c.fd, resp, nil); err != nil {
				return err
			}
			c.state = stateIdle
			return nil
		}
		found := wire.Carrier{Magic: wire.Magic, Type: wire.RspKeyFound, Key: c.bufferKey}
		if err := sendCarrier(c.fd, found, nil); err != nil {
			return err
		}
		withFD := wire.Carrier{Magic: wire.Magic, Type: wire.RspKey, Key: c.bufferKey}
		if err := sendCarrier(c.fd, withFD, []int{fd}); err != nil {
			return err
		}
		c.state = stateIdle

	default:
		return fmt.Errorf("fdproxy: unexpected write in state %s", c.state)
	}
	return nil
}
