package transport

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/godzie44/go-uring/uring"
	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"

	httperrors "github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/resolver"
)

// UringTransportV2 implements Transport using godzie44/go-uring. Each
// connection owns a private ring, so completions never need demultiplexing.
// Ring waits cannot be interrupted; the context is checked before each
// operation only.
type UringTransportV2 struct {
	exec     Executor
	resolver resolver.Resolver
}

// NewUringTransportV2 creates a transport whose blocking connects and DNS
// lookups run on exec.
func NewUringTransportV2(exec Executor, res resolver.Resolver) *UringTransportV2 {
	if res == nil {
		res = resolver.Default
	}
	return &UringTransportV2{exec: exec, resolver: res}
}

// Connect establishes a connection and attaches a fresh ring to it
func (t *UringTransportV2) Connect(ctx context.Context, network, address string) (Conn, error) {
	addr, err := resolveAddr(ctx, t.exec, t.resolver, network, address)
	if err != nil {
		return nil, connectError(address, err)
	}

	fd, err := openSocket(addr, false)
	if err != nil {
		return nil, err
	}

	// the connect blocks, keep it on the worker pool
	var connectErr error
	if err := t.exec.Run(ctx, "connect", func() {
		connectErr = unix.Connect(fd, sockaddrnet.NetAddrToSockaddr(addr))
	}); err != nil {
		syscall.Close(fd)
		return nil, connectError(address, err)
	}
	if connectErr != nil {
		syscall.Close(fd)
		return nil, connectError(address, connectErr)
	}

	// Create io_uring instance with queue depth of 32
	ring, err := uring.New(32)
	if err != nil {
		syscall.Close(fd)
		return nil, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	return &uringConnV2{
		ring:   ring,
		file:   os.NewFile(uintptr(fd), "socket"),
		remote: addr,
	}, nil
}

// Close is a no-op, rings belong to connections
func (t *UringTransportV2) Close() error {
	return nil
}

type uringConnV2 struct {
	mu     sync.Mutex
	ring   *uring.Ring
	file   *os.File
	remote net.Addr
}

// complete queues one operation, submits it and waits for its completion
func (c *uringConnV2) complete(queue func() error) (int, error) {
	if err := queue(); err != nil {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringSubmit,
			"failed to queue request",
			err,
		)
	}

	if _, err := c.ring.Submit(); err != nil {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringSubmit,
			"failed to submit request",
			err,
		)
	}

	cqe, err := c.ring.WaitCQEvents(1)
	if err != nil {
		return 0, err
	}
	defer c.ring.SeenCQE(cqe)

	if err := cqe.Error(); err != nil {
		return 0, err
	}
	return int(cqe.Res), nil
}

// Read receives data from the connection using io_uring
func (c *uringConnV2) Read(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, readError(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return 0, readError(net.ErrClosed)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	fd := c.file.Fd()
	n, err := c.complete(func() error {
		return c.ring.QueueSQE(uring.Read(fd, buf, 0), 0, 0)
	})
	if err != nil {
		if _, ok := httperrors.As(err); ok {
			return 0, err
		}
		return 0, readError(err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write sends data over the connection using io_uring
func (c *uringConnV2) Write(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, writeError(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return 0, writeError(net.ErrClosed)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	fd := c.file.Fd()
	n, err := c.complete(func() error {
		return c.ring.QueueSQE(uring.Write(fd, buf, 0), 0, 0)
	})
	if err != nil {
		if _, ok := httperrors.As(err); ok {
			return 0, err
		}
		return 0, writeError(err)
	}
	if n <= 0 {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"connection closed during write",
			nil,
		)
	}
	return n, nil
}

// Close closes the socket and its ring
func (c *uringConnV2) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}

	err := c.file.Close()
	c.file = nil
	c.ring.Close()
	c.ring = nil
	if err != nil {
		return httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"failed to close socket",
			err,
		)
	}
	return nil
}

func (c *uringConnV2) RemoteAddr() net.Addr { return c.remote }
