package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorTLS
	ErrorInvalidArgument
)

// TransportError represents transport-layer specific errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorSocketCreateFailure
	TransportErrorSocketConnectFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorDnsFailure
	TransportErrorTimeout
	TransportErrorReactorInit
	TransportErrorReactorShutdown
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
)

var transportErrorNames = map[TransportError]string{
	TransportErrorNone:                 "none",
	TransportErrorSocketCreateFailure:  "socket create failure",
	TransportErrorSocketConnectFailure: "socket connect failure",
	TransportErrorSocketReadFailure:    "socket read failure",
	TransportErrorSocketWriteFailure:   "socket write failure",
	TransportErrorConnectionClosed:     "connection closed",
	TransportErrorDnsFailure:           "dns failure",
	TransportErrorTimeout:              "timeout",
	TransportErrorReactorInit:          "reactor init failure",
	TransportErrorReactorShutdown:      "reactor shut down",
	TransportErrorIoUringInit:          "io_uring init failure",
	TransportErrorIoUringSubmit:        "io_uring submit failure",
}

func (e TransportError) String() string {
	if s, ok := transportErrorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("transport error %d", int(e))
}

// ProtocolError represents protocol-layer specific errors
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorInvalidStatusLine
	ProtocolErrorInvalidVersion
	ProtocolErrorInvalidHeader
	ProtocolErrorInvalidChunkedEncoding
	ProtocolErrorInvalidContentLength
	ProtocolErrorIncompleteResponse
	ProtocolErrorInvalidUrl
)

var protocolErrorNames = map[ProtocolError]string{
	ProtocolErrorNone:                   "none",
	ProtocolErrorInvalidStatusLine:      "invalid status line",
	ProtocolErrorInvalidVersion:         "invalid protocol version",
	ProtocolErrorInvalidHeader:          "invalid header",
	ProtocolErrorInvalidChunkedEncoding: "invalid chunked encoding",
	ProtocolErrorInvalidContentLength:   "invalid content length",
	ProtocolErrorIncompleteResponse:     "incomplete response",
	ProtocolErrorInvalidUrl:             "invalid url",
}

func (e ProtocolError) String() string {
	if s, ok := protocolErrorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("protocol error %d", int(e))
}

// TLSError represents failures of the TLS handshake or record layer
type TLSError int

const (
	TLSErrorNone TLSError = iota
	TLSErrorHandshakeFailure
	TLSErrorRecordFailure
	TLSErrorEngineClosed
)

func (e TLSError) String() string {
	switch e {
	case TLSErrorNone:
		return "none"
	case TLSErrorHandshakeFailure:
		return "handshake failure"
	case TLSErrorRecordFailure:
		return "record failure"
	case TLSErrorEngineClosed:
		return "engine closed"
	default:
		return fmt.Sprintf("tls error %d", int(e))
	}
}

// HttpError is the main error type for the HTTP client
type HttpError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	TLSErr        TLSError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = fmt.Sprintf("Transport error (%s)", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("Protocol error (%s)", e.ProtocolErr)
	case ErrorTLS:
		typeStr = fmt.Sprintf("TLS error (%s)", e.TLSErr)
	case ErrorInvalidArgument:
		typeStr = "Invalid argument"
	default:
		typeStr = "Unknown error"
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *HttpError) Unwrap() error {
	return e.UnderlyingErr
}

// Cause returns the root cause, for callers using pkg/errors.Cause.
func (e *HttpError) Cause() error {
	if e.UnderlyingErr == nil {
		return nil
	}
	return pkgerrors.Cause(e.UnderlyingErr)
}

// withStack attaches a stack trace unless the error already carries one.
func withStack(err error) error {
	if err == nil {
		return nil
	}
	var tracer interface{ StackTrace() pkgerrors.StackTrace }
	if stderrors.As(err, &tracer) {
		return err
	}
	return pkgerrors.WithStack(err)
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: withStack(underlying),
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(err ProtocolError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorProtocol,
		ProtocolErr: err,
		Message:     message,
	}
}

// WrapProtocolError creates a protocol error with an underlying cause
func WrapProtocolError(err ProtocolError, message string, underlying error) *HttpError {
	e := NewProtocolError(err, message)
	e.UnderlyingErr = withStack(underlying)
	return e
}

// NewTLSError creates a new TLS error
func NewTLSError(err TLSError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTLS,
		TLSErr:        err,
		Message:       message,
		UnderlyingErr: withStack(underlying),
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *HttpError {
	return &HttpError{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}

// As finds the first *HttpError in err's chain.
func As(err error) (*HttpError, bool) {
	var httpErr *HttpError
	if stderrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsTransport reports whether err is a transport error of the given kind.
func IsTransport(err error, kind TransportError) bool {
	e, ok := As(err)
	return ok && e.Type == ErrorTransport && e.TransportErr == kind
}

// IsProtocol reports whether err is a protocol error of the given kind.
func IsProtocol(err error, kind ProtocolError) bool {
	e, ok := As(err)
	return ok && e.Type == ErrorProtocol && e.ProtocolErr == kind
}

// IsTLS reports whether err is a TLS error of the given kind.
func IsTLS(err error, kind TLSError) bool {
	e, ok := As(err)
	return ok && e.Type == ErrorTLS && e.TLSErr == kind
}
