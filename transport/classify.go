package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	httperrors "github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/reactor"
)

// Executor runs blocking work such as DNS lookups off the caller's path.
type Executor = reactor.Executor

// classifyCommon handles the kinds shared by every operation.
func classifyCommon(err error) (*httperrors.HttpError, bool) {
	switch {
	case errors.Is(err, reactor.ErrShutdown):
		return httperrors.NewTransportError(httperrors.TransportErrorReactorShutdown, "reactor is shut down", err), true
	case errors.Is(err, context.DeadlineExceeded):
		return httperrors.NewTransportError(httperrors.TransportErrorTimeout, "deadline exceeded", err), true
	case errors.Is(err, context.Canceled):
		return httperrors.NewTransportError(httperrors.TransportErrorTimeout, "operation cancelled", err), true
	case errors.Is(err, net.ErrClosed):
		return httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "use of closed connection", err), true
	}
	return nil, false
}

func connectError(address string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := classifyCommon(err); ok {
		return e
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return httperrors.NewTransportError(httperrors.TransportErrorDnsFailure, fmt.Sprintf("failed to resolve %s", address), err)
	}
	return httperrors.NewTransportError(httperrors.TransportErrorSocketConnectFailure, fmt.Sprintf("failed to connect to %s", address), err)
}

func readError(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	if e, ok := classifyCommon(err); ok {
		return e
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "connection reset by peer", err)
	}
	return httperrors.NewTransportError(httperrors.TransportErrorSocketReadFailure, "read failed", err)
}

func writeError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := classifyCommon(err); ok {
		return e
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "connection closed during write", err)
	}
	return httperrors.NewTransportError(httperrors.TransportErrorSocketWriteFailure, "write failed", err)
}
