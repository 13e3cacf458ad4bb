package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/iceber/iouring-go"
	sockaddrnet "github.com/libp2p/go-sockaddr/net"

	httperrors "github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/resolver"
)

// uringCancelGrace bounds how long a cancelled request may take to report.
const uringCancelGrace = time.Second

// UringTransport implements Transport using io_uring for async I/O. One ring
// is shared by every connection the transport opens.
type UringTransport struct {
	iour     *iouring.IOURing
	exec     Executor
	resolver resolver.Resolver
}

// NewUringTransport creates a TCP/Unix transport with io_uring. DNS lookups
// run on exec.
func NewUringTransport(exec Executor, res resolver.Resolver) (*UringTransport, error) {
	// Create io_uring instance with queue depth of 32
	iour, err := iouring.New(32)
	if err != nil {
		return nil, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}
	if res == nil {
		res = resolver.Default
	}

	return &UringTransport{
		iour:     iour,
		exec:     exec,
		resolver: res,
	}, nil
}

// Connect establishes a connection using an io_uring connect request
func (t *UringTransport) Connect(ctx context.Context, network, address string) (Conn, error) {
	addr, err := resolveAddr(ctx, t.exec, t.resolver, network, address)
	if err != nil {
		return nil, connectError(address, err)
	}

	fd, err := openSocket(addr, true)
	if err != nil {
		return nil, err
	}

	sa, err := toSockaddr(addr)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}
	prepReq, err := iouring.Connect(fd, sa)
	if err != nil {
		syscall.Close(fd)
		return nil, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringSubmit,
			"failed to prepare connect request",
			err,
		)
	}

	result, err := t.submit(ctx, prepReq)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := result.Err(); err != nil {
		syscall.Close(fd)
		return nil, connectError(address, err)
	}

	return &uringConn{t: t, fd: fd, remote: addr}, nil
}

// submit hands one request to the ring and suspends until it completes
func (t *UringTransport) submit(ctx context.Context, prepReq iouring.PrepRequest) (iouring.Request, error) {
	ch := make(chan iouring.Result, 1)
	req, err := t.iour.SubmitRequest(prepReq, ch)
	if err != nil {
		return nil, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringSubmit,
			"failed to submit request",
			err,
		)
	}

	select {
	case <-ch:
		return req, nil
	case <-ctx.Done():
	}

	// the kernel may still write into the request's buffer until it reports
	_, _ = req.Cancel()
	select {
	case <-ch:
	case <-time.After(uringCancelGrace):
	}
	if e, ok := classifyCommon(ctx.Err()); ok {
		return nil, e
	}
	return nil, ctx.Err()
}

// Close releases the io_uring instance
func (t *UringTransport) Close() error {
	if t.iour == nil {
		return nil
	}
	err := t.iour.Close()
	t.iour = nil
	return err
}

type uringConn struct {
	t      *UringTransport
	fd     int
	remote net.Addr
	closed atomic.Bool
}

// Read receives data from the connection using io_uring
func (c *uringConn) Read(ctx context.Context, buf []byte) (int, error) {
	if c.closed.Load() {
		return 0, readError(net.ErrClosed)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	req, err := c.t.submit(ctx, iouring.Recv(c.fd, buf, 0))
	if err != nil {
		return 0, err
	}
	n, err := transferred(req)
	if err != nil {
		return 0, readError(err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write sends data over the connection using io_uring
func (c *uringConn) Write(ctx context.Context, buf []byte) (int, error) {
	if c.closed.Load() {
		return 0, writeError(net.ErrClosed)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	req, err := c.t.submit(ctx, iouring.Send(c.fd, buf, syscall.MSG_NOSIGNAL))
	if err != nil {
		return 0, err
	}
	n, err := transferred(req)
	if err != nil {
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

// Close closes the socket
func (c *uringConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	if err := syscall.Close(c.fd); err != nil {
		return httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"failed to close socket",
			err,
		)
	}
	return nil
}

func (c *uringConn) RemoteAddr() net.Addr { return c.remote }

// transferred reads the byte count of a completed send or recv. iouring-go
// only resolves typed return values for some opcodes, so the raw completion
// result is used: negative values are errnos.
func transferred(req iouring.Request) (int, error) {
	res, err := req.GetRes()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, syscall.Errno(-res)
	}
	return res, nil
}

// toSockaddr converts addr into the syscall form iouring-go expects.
func toSockaddr(addr net.Addr) (syscall.Sockaddr, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		if ip4 := a.IP.To4(); ip4 != nil {
			sa4 := &syscall.SockaddrInet4{Port: a.Port}
			copy(sa4.Addr[:], ip4)
			return sa4, nil
		}
		sa6 := &syscall.SockaddrInet6{Port: a.Port}
		copy(sa6.Addr[:], a.IP.To16())
		if a.Zone != "" {
			if ifi, err := net.InterfaceByName(a.Zone); err == nil {
				sa6.ZoneId = uint32(ifi.Index)
			}
		}
		return sa6, nil
	case *net.UnixAddr:
		return &syscall.SockaddrUnix{Name: a.Name}, nil
	}
	return nil, httperrors.NewInvalidArgumentError(fmt.Sprintf("unsupported address %v", addr))
}

// resolveAddr runs the lookup on exec so the caller's goroutine only waits.
func resolveAddr(ctx context.Context, exec Executor, res resolver.Resolver, network, address string) (net.Addr, error) {
	var addr net.Addr
	var resolveErr error
	if err := exec.Run(ctx, "dns", func() {
		addr, resolveErr = res.Resolve(ctx, network, address)
	}); err != nil {
		return nil, err
	}
	return addr, resolveErr
}

// openSocket creates a stream socket for addr. TCP sockets get TCP_NODELAY.
func openSocket(addr net.Addr, nonblocking bool) (int, error) {
	family := sockaddrnet.NetAddrAF(addr)
	fd, err := syscall.Socket(family, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, httperrors.NewTransportError(
			httperrors.TransportErrorSocketCreateFailure,
			"failed to create socket",
			err,
		)
	}

	if nonblocking {
		if err := syscall.SetNonblock(fd, true); err != nil {
			syscall.Close(fd)
			return -1, httperrors.NewTransportError(
				httperrors.TransportErrorSocketCreateFailure,
				"failed to set non-blocking mode",
				err,
			)
		}
	}

	if family != syscall.AF_UNIX {
		if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
			syscall.Close(fd)
			return -1, httperrors.NewTransportError(
				httperrors.TransportErrorSocketCreateFailure,
				"failed to set TCP_NODELAY",
				err,
			)
		}
	}
	return fd, nil
}
