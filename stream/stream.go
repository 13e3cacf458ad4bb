// Package stream is the byte stream layer every protocol layer reads from.
//
// An Input delivers bytes from some source (a reactor connection, a TLS
// session, a framing decorator) and keeps a pushback cache so a reader that
// consumed past a logical boundary can hand the surplus back with Pad. End of
// stream is reported as io.EOF. A read may return 0, nil when a decorator
// made progress without producing bytes; callers simply read again.
package stream

import (
	"context"
	"io"

	"github.com/nczempin/httpc-go-reactor/buffer"
)

// Input is a readable byte stream with pushback.
type Input interface {
	Read(ctx context.Context, p []byte) (int, error)
	// Pad pushes p back in front of whatever has not been read yet.
	Pad(p []byte)
	Close() error
}

// Output is a writable byte stream. Write may accept fewer bytes than given.
type Output interface {
	Write(ctx context.Context, p []byte) (int, error)
}

// ReadFunc reads from an underlying source once.
type ReadFunc func(ctx context.Context, p []byte) (int, error)

// WriteFunc writes to an underlying sink once.
type WriteFunc func(ctx context.Context, p []byte) (int, error)

func (f WriteFunc) Write(ctx context.Context, p []byte) (int, error) { return f(ctx, p) }

type input struct {
	read    ReadFunc
	onClose func() error
	cache   *buffer.Buffer // read mode: window is the unconsumed tail
}

// NewInput wraps read as an Input. onClose may be nil.
func NewInput(read ReadFunc, onClose func() error) Input {
	cache := buffer.New(0)
	cache.Flip()
	return &input{read: read, onClose: onClose, cache: cache}
}

func (s *input) Read(ctx context.Context, p []byte) (int, error) {
	if s.cache.HasRemaining() {
		n := copy(p, s.cache.Bytes())
		s.cache.Advance(n)
		return n, nil
	}
	return s.read(ctx, p)
}

func (s *input) Pad(p []byte) {
	if len(p) == 0 {
		return
	}
	s.cache.Compact()
	pending := s.cache.Position()
	if s.cache.Remaining() < len(p) {
		s.cache.Enlarge(len(p)-s.cache.Remaining(), false)
	}
	all := s.cache.Filled()[:pending+len(p)]
	copy(all[len(p):], all[:pending])
	copy(all, p)
	s.cache.SetPosition(pending + len(p))
	s.cache.Flip()
}

func (s *input) Close() error {
	if s.onClose == nil {
		return nil
	}
	return s.onClose()
}

// WriteFull writes all of p, issuing as many writes as needed.
func WriteFull(ctx context.Context, out Output, p []byte) error {
	for len(p) > 0 {
		n, err := out.Write(ctx, p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// FromReader adapts an io.Reader. The context is only checked before each
// read since plain readers cannot be interrupted.
func FromReader(r io.Reader, onClose func() error) Input {
	return NewInput(func(ctx context.Context, p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.Read(p)
		if n > 0 && err == io.EOF {
			err = nil
		}
		return n, err
	}, onClose)
}

// FromWriter adapts an io.Writer.
func FromWriter(w io.Writer) Output {
	return WriteFunc(func(ctx context.Context, p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return w.Write(p)
	})
}

// Limit returns an Input that hands at most max bytes to each read of the
// underlying stream. Pad and Close go to in.
func Limit(in Input, max int) Input {
	return &limited{Input: in, max: max}
}

type limited struct {
	Input
	max int
}

func (l *limited) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) > l.max {
		p = p[:l.max]
	}
	return l.Input.Read(ctx, p)
}

// AsReader exposes in as an io.Reader bound to ctx, for handing a body to
// sinks such as io.Copy.
func AsReader(ctx context.Context, in Input) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		return in.Read(ctx, p)
	})
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
