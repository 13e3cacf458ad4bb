// Package tlsdriver drives a TLS handshake and the record layer by hand.
//
// The cryptography lives behind Engine, a small state machine in the shape
// of a non-blocking TLS engine: it is told to wrap plaintext into records,
// unwrap records into plaintext, run delegated tasks, and it reports what it
// needs next. The driver moves bytes between the engine and a byte stream,
// growing its buffers whenever the engine reports they are too small.
package tlsdriver

import (
	"github.com/nczempin/httpc-go-reactor/buffer"
)

// HandshakeStatus is what the engine needs to make handshake progress.
type HandshakeStatus int

const (
	// NotHandshaking means no handshake is in progress.
	NotHandshaking HandshakeStatus = iota
	// Finished is reported once, right after the handshake completed.
	Finished
	// NeedUnwrap means the engine waits for ciphertext from the peer.
	NeedUnwrap
	// NeedWrap means the engine has records to send.
	NeedWrap
	// NeedTask means the engine is busy with a delegated task.
	NeedTask
)

func (s HandshakeStatus) String() string {
	switch s {
	case NotHandshaking:
		return "NOT_HANDSHAKING"
	case Finished:
		return "FINISHED"
	case NeedUnwrap:
		return "NEED_UNWRAP"
	case NeedWrap:
		return "NEED_WRAP"
	case NeedTask:
		return "NEED_TASK"
	default:
		return "UNKNOWN"
	}
}

// Status is the outcome of a single Wrap or Unwrap call.
type Status int

const (
	OK Status = iota
	// BufferUnderflow means the source did not hold enough ciphertext.
	BufferUnderflow
	// BufferOverflow means the destination is too small; nothing was
	// produced and the call should be repeated with a larger destination.
	BufferOverflow
	// Closed means the engine or the peer closed the session.
	Closed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case BufferUnderflow:
		return "BUFFER_UNDERFLOW"
	case BufferOverflow:
		return "BUFFER_OVERFLOW"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Result describes one Wrap or Unwrap call.
type Result struct {
	Status          Status
	HandshakeStatus HandshakeStatus
	Consumed        int
	Produced        int
}

// Engine is the cryptographic state machine the driver steps through.
//
// Wrap and Unwrap take src in read mode (its window is the input) and dst in
// write mode (its window is free space); both advance the positions by what
// they consumed and produced. Errors are fatal to the session.
type Engine interface {
	BeginHandshake() error
	HandshakeStatus() (HandshakeStatus, error)
	Wrap(src, dst *buffer.Buffer) (Result, error)
	Unwrap(src, dst *buffer.Buffer) (Result, error)
	// DelegatedTask returns the pending task or nil when there is none.
	DelegatedTask() func()
	// CloseOutbound queues close_notify for the next Wrap. It is a no-op
	// before the handshake has finished.
	CloseOutbound() error
	Close() error
}
