package transport

import (
	"context"
	"net"

	"github.com/nczempin/httpc-go-reactor/reactor"
)

// ReactorTransport implements Transport on top of a shared epoll reactor.
// Any number of connections multiplex through the reactor's one goroutine.
type ReactorTransport struct {
	reactor *reactor.Reactor
}

// NewReactorTransport creates a transport over r. The reactor is owned by
// the caller; Close does not shut it down.
func NewReactorTransport(r *reactor.Reactor) *ReactorTransport {
	return &ReactorTransport{reactor: r}
}

// Connect establishes a connection through the reactor
func (t *ReactorTransport) Connect(ctx context.Context, network, address string) (Conn, error) {
	conn, err := t.reactor.Connect(ctx, network, address)
	if err != nil {
		return nil, connectError(address, err)
	}
	return &reactorConn{reactor: t.reactor, conn: conn}, nil
}

// Close is a no-op; the reactor outlives its transports.
func (t *ReactorTransport) Close() error {
	return nil
}

type reactorConn struct {
	reactor *reactor.Reactor
	conn    *reactor.Conn
}

func (c *reactorConn) Read(ctx context.Context, buf []byte) (int, error) {
	n, err := c.reactor.Read(ctx, c.conn, buf)
	return n, readError(err)
}

func (c *reactorConn) Write(ctx context.Context, buf []byte) (int, error) {
	n, err := c.reactor.Write(ctx, c.conn, buf)
	return n, writeError(err)
}

func (c *reactorConn) Close() error {
	return c.conn.Close()
}

func (c *reactorConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
