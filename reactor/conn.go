package reactor

import (
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Conn is a non-blocking socket registered with a Reactor. At most one
// operation may be outstanding on a Conn at any time.
type Conn struct {
	fd      int
	remote  net.Addr
	reactor *Reactor
	closed  atomic.Bool
	pending atomic.Pointer[operation]
}

// Fd returns the socket descriptor.
func (c *Conn) Fd() int { return c.fd }

// RemoteAddr returns the resolved peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Close closes the socket. An operation still waiting on the socket fails
// with net.ErrClosed. Closing twice is a no-op.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if op := c.pending.Load(); op != nil && op.state.CompareAndSwap(opPending, opFiring) {
		// queued ahead of any registration for a reused fd number
		if c.reactor != nil {
			_ = c.reactor.submit(command{op: op, cancel: true})
		}
		op.done <- result{err: net.ErrClosed}
	}
	return errors.Wrap(unix.Close(c.fd), "close socket")
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }
