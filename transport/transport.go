package transport

import (
	"context"
	"net"

	"github.com/nczempin/httpc-go-reactor/stream"
)

// Conn is an established connection whose reads and writes suspend the
// calling goroutine until the socket is ready.
type Conn interface {
	// Read performs one read into buf. It returns io.EOF when the peer has
	// closed the connection.
	Read(ctx context.Context, buf []byte) (int, error)

	// Write performs one write and may accept fewer bytes than len(buf).
	Write(ctx context.Context, buf []byte) (int, error)

	// Close closes the connection. It is idempotent.
	Close() error

	RemoteAddr() net.Addr
}

// Transport establishes connections.
// network is "tcp", "tcp4", "tcp6" or "unix"; for "unix" the address is the
// socket path, otherwise "host:port".
type Transport interface {
	Connect(ctx context.Context, network, address string) (Conn, error)

	// Close releases resources owned by the transport itself.
	Close() error
}

// Kind selects a Transport implementation.
type Kind int

const (
	KindReactor Kind = iota
	KindIoUring
	KindIoUringV2
)

func (k Kind) String() string {
	switch k {
	case KindReactor:
		return "reactor"
	case KindIoUring:
		return "io_uring"
	case KindIoUringV2:
		return "io_uring-v2"
	default:
		return "unknown"
	}
}

// Input exposes conn as a byte stream; closing the stream closes conn.
func Input(conn Conn) stream.Input {
	return stream.NewInput(conn.Read, conn.Close)
}

// Output exposes conn as a writable byte stream.
func Output(conn Conn) stream.Output {
	return stream.WriteFunc(conn.Write)
}
