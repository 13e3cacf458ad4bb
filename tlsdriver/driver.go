package tlsdriver

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nczempin/httpc-go-reactor/buffer"
	httperrors "github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/stream"
)

// DefaultBufferSize is the initial size of each session buffer. Buffers grow
// whenever the engine reports an overflow or a full buffer underflows.
const DefaultBufferSize = 4096

// Executor runs delegated tasks away from the caller.
type Executor interface {
	Run(ctx context.Context, name string, task func()) error
}

type goExecutor struct{}

func (goExecutor) Run(ctx context.Context, name string, task func()) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		task()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type options struct {
	bufferSize int
	exec       Executor
	logger     *zap.Logger
}

// Option configures Handshake.
type Option func(*options)

// WithBufferSize sets the initial size of the four session buffers.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithExecutor sets where delegated tasks run. By default each task gets its
// own goroutine.
func WithExecutor(exec Executor) Option {
	return func(o *options) {
		if exec != nil {
			o.exec = exec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Session is an established TLS session over a pair of byte streams.
//
// It holds the four buffers of the record layer: outbound plaintext,
// outbound ciphertext, inbound ciphertext and inbound plaintext. Buffers only
// ever grow. A session is used by one goroutine at a time.
type Session struct {
	engine Engine
	in     stream.Input
	out    stream.Output
	exec   Executor
	logger *zap.Logger

	myAppData   *buffer.Buffer // write mode
	myNetData   *buffer.Buffer // write mode, flipped when handed out
	peerNetData *buffer.Buffer // read mode: ciphertext not yet unwrapped
	peerAppData *buffer.Buffer // read mode: plaintext not yet delivered
	eof         bool
}

// Handshake drives engine through a full handshake, reading ciphertext from
// in and writing it to out, and returns the established session. Ciphertext
// read past the end of the handshake stays buffered in the session. On
// failure the engine is closed.
func Handshake(ctx context.Context, engine Engine, in stream.Input, out stream.Output, opts ...Option) (*Session, error) {
	o := options{bufferSize: DefaultBufferSize, exec: goExecutor{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		engine:      engine,
		in:          in,
		out:         out,
		exec:        o.exec,
		logger:      o.logger,
		myAppData:   buffer.New(o.bufferSize),
		myNetData:   buffer.New(o.bufferSize),
		peerNetData: buffer.New(o.bufferSize),
		peerAppData: buffer.New(o.bufferSize),
	}
	s.peerNetData.Flip()
	s.peerAppData.Flip()

	start := time.Now()
	if err := s.handshake(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}
	s.logger.Debug("tls handshake finished", zap.Duration("elapsed", time.Since(start)))
	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	if err := s.engine.BeginHandshake(); err != nil {
		return handshakeError("failed to begin handshake", err)
	}

	for {
		hs, err := s.engine.HandshakeStatus()
		if err != nil {
			return handshakeError("handshake failed", err)
		}
		switch hs {
		case Finished, NotHandshaking:
			return nil

		case NeedUnwrap:
			if err := s.unwrap(ctx, s.in, engineHandshakeError); err != nil {
				if err == io.EOF {
					return httperrors.NewTLSError(httperrors.TLSErrorHandshakeFailure, "connection closed during handshake", io.ErrUnexpectedEOF)
				}
				return err
			}

		case NeedWrap:
			s.myAppData.Clear()
			s.myAppData.Flip()
			ct, err := s.wrap()
			if err != nil {
				return err
			}
			if err := stream.WriteFull(ctx, s.out, ct.Bytes()); err != nil {
				return err
			}

		case NeedTask:
			task := s.engine.DelegatedTask()
			if task == nil {
				continue
			}
			if err := s.exec.Run(ctx, "delegatedTask", task); err != nil {
				return handshakeError("delegated task failed", err)
			}
		}
	}
}

// unwrap makes one Unwrap step into peerAppData. On underflow it reads more
// ciphertext from in; on overflow it grows peerAppData. End of stream from
// either side is io.EOF. Engine errors go through fail.
func (s *Session) unwrap(ctx context.Context, in stream.Input, fail func(error) error) error {
	s.peerAppData.Compact()
	res, err := s.engine.Unwrap(s.peerNetData, s.peerAppData)
	if err == nil && res.Status == BufferOverflow {
		s.peerAppData.Enlarge(0, false)
	}
	s.peerAppData.Flip()
	if err != nil {
		return fail(err)
	}

	switch res.Status {
	case BufferUnderflow:
		return s.fill(ctx, in)
	case Closed:
		return io.EOF
	}
	return nil
}

// fill reads more ciphertext into peerNetData, growing it when full.
func (s *Session) fill(ctx context.Context, in stream.Input) error {
	s.peerNetData.Compact()
	if !s.peerNetData.HasRemaining() {
		s.peerNetData.Enlarge(0, false)
	}
	n, err := in.Read(ctx, s.peerNetData.Bytes())
	s.peerNetData.Advance(n)
	s.peerNetData.Flip()
	return err
}

// wrap encrypts myAppData into myNetData until the engine has taken all of it
// and drained its pending records. myNetData is returned flipped.
func (s *Session) wrap() (*buffer.Buffer, error) {
	s.myNetData.Clear()
	for {
		res, err := s.engine.Wrap(s.myAppData, s.myNetData)
		if err != nil {
			return nil, recordError(err)
		}
		switch res.Status {
		case BufferOverflow:
			s.myNetData.Enlarge(0, false)
			continue
		case Closed:
			return nil, httperrors.NewTLSError(httperrors.TLSErrorEngineClosed, "engine closed", nil)
		}
		if !s.myAppData.HasRemaining() {
			break
		}
		if res.Consumed == 0 && res.Produced == 0 {
			return nil, httperrors.NewTLSError(httperrors.TLSErrorRecordFailure, "engine made no progress", nil)
		}
	}
	s.myNetData.Flip()
	return s.myNetData, nil
}

// Wrap encrypts plain and returns the records ready to be sent. The returned
// buffer is reused by the next call.
func (s *Session) Wrap(plain []byte) (*buffer.Buffer, error) {
	s.myAppData.Clear()
	s.myAppData.Grow(len(plain))
	s.myAppData.Write(plain)
	s.myAppData.Flip()
	return s.wrap()
}

// Output returns a stream that encrypts everything written to it and sends
// it to the session's output.
func (s *Session) Output() stream.Output {
	return stream.WriteFunc(func(ctx context.Context, p []byte) (int, error) {
		ct, err := s.Wrap(p)
		if err != nil {
			return 0, err
		}
		if err := stream.WriteFull(ctx, s.out, ct.Bytes()); err != nil {
			return 0, err
		}
		return len(p), nil
	})
}

// Unwrap returns a plaintext stream decrypting ciphertext read from in.
// Buffered plaintext and ciphertext left over from the handshake come first.
// Closing the stream closes the engine and in.
func (s *Session) Unwrap(in stream.Input) stream.Input {
	read := func(ctx context.Context, p []byte) (int, error) {
		for !s.peerAppData.HasRemaining() {
			if s.eof {
				return 0, io.EOF
			}
			if err := s.unwrap(ctx, in, recordError); err != nil {
				if err == io.EOF {
					s.eof = true
					continue
				}
				return 0, err
			}
		}
		n := copy(p, s.peerAppData.Bytes())
		s.peerAppData.Advance(n)
		return n, nil
	}
	return stream.NewInput(read, func() error {
		_ = s.engine.Close()
		return in.Close()
	})
}

// Input is Unwrap over the stream the session was established on.
func (s *Session) Input() stream.Input {
	return s.Unwrap(s.in)
}

// Close sends close_notify to the peer and closes the engine. The
// underlying streams are left to the caller.
func (s *Session) Close(ctx context.Context) error {
	defer s.engine.Close()
	if err := s.engine.CloseOutbound(); err != nil {
		return recordError(err)
	}
	s.myAppData.Clear()
	s.myAppData.Flip()
	ct, err := s.wrap()
	if err != nil {
		return err
	}
	return stream.WriteFull(ctx, s.out, ct.Bytes())
}

func handshakeError(msg string, err error) error {
	if _, ok := httperrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return httperrors.NewTransportError(httperrors.TransportErrorTimeout, msg, err)
	}
	return httperrors.NewTLSError(httperrors.TLSErrorHandshakeFailure, msg, err)
}

func engineHandshakeError(err error) error {
	return handshakeError("handshake failed", err)
}

func recordError(err error) error {
	if err == errEngineClosed {
		return httperrors.NewTLSError(httperrors.TLSErrorEngineClosed, "engine closed", err)
	}
	return httperrors.NewTLSError(httperrors.TLSErrorRecordFailure, "record layer failure", err)
}
