package reactor

import (
	"io"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// Interest is the readiness condition an operation waits for.
type Interest uint8

const (
	Readable Interest = iota + 1
	Writable
	Connectable
)

func (i Interest) String() string {
	switch i {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Connectable:
		return "connectable"
	default:
		return "unknown"
	}
}

func (i Interest) events() uint32 {
	if i == Readable {
		return unix.EPOLLIN | unix.EPOLLRDHUP
	}
	return unix.EPOLLOUT
}

const (
	opPending int32 = iota
	opFiring
	opCancelled
)

type result struct {
	n   int
	err error
}

// operation is a one-shot registration: it fires at most once and is
// deregistered as soon as it does.
type operation struct {
	conn     *Conn
	interest Interest
	buf      []byte
	state    atomic.Int32
	done     chan result
}

func newOperation(conn *Conn, interest Interest, buf []byte) *operation {
	return &operation{conn: conn, interest: interest, buf: buf, done: make(chan result, 1)}
}

// perform runs the non-blocking syscall for a ready operation. finished is
// false when the kernel reported readiness but the operation cannot complete
// yet (a connect still in progress, a spurious wakeup); the registration is
// then left in place for the next event.
func (op *operation) perform() (res result, finished bool) {
	fd := op.conn.fd
	switch op.interest {
	case Connectable:
		errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return result{err: err}, true
		}
		switch syscall.Errno(errno) {
		case 0:
			return result{}, true
		case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
			return result{}, false
		default:
			return result{err: syscall.Errno(errno)}, true
		}
	case Readable:
		n, err := unix.Read(fd, op.buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			return result{}, false
		}
		if err != nil {
			return result{err: err}, true
		}
		if n == 0 && len(op.buf) > 0 {
			return result{err: io.EOF}, true
		}
		return result{n: n}, true
	case Writable:
		n, err := unix.SendmsgN(fd, op.buf, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EAGAIN || err == unix.EINTR {
			return result{}, false
		}
		if err != nil {
			return result{n: n, err: err}, true
		}
		return result{n: n}, true
	}
	return result{err: syscall.EINVAL}, true
}
