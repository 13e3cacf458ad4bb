package protocol

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/nczempin/httpc-go-reactor/buffer"
	"github.com/nczempin/httpc-go-reactor/stream"
)

// Http1Protocol implements one HTTP/1.1 exchange over a pair of byte
// streams, plain or TLS.
type Http1Protocol struct {
	in         stream.Input
	out        stream.Output
	bufferSize int
	logger     *zap.Logger
}

// Option configures an Http1Protocol.
type Option func(*Http1Protocol)

// WithBufferSize sets the size of the request and body buffers.
func WithBufferSize(n int) Option {
	return func(p *Http1Protocol) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Http1Protocol) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewHttp1Protocol creates a new HTTP/1.1 protocol handler reading
// responses from in and writing requests to out.
func NewHttp1Protocol(in stream.Input, out stream.Output, opts ...Option) *Http1Protocol {
	p := &Http1Protocol{
		in:         in,
		out:        out,
		bufferSize: DefaultBufferSize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Disconnect closes the connection
func (p *Http1Protocol) Disconnect() error {
	return p.in.Close()
}

// writeRequest streams the serialized request out one buffer at a time
func (p *Http1Protocol) writeRequest(ctx context.Context, req *HttpRequest) error {
	ser := req.NewSerializer()
	buf := buffer.New(p.bufferSize)
	for {
		buf.Clear()
		n, err := ser.Read(buf.Bytes())
		if n > 0 {
			if werr := stream.WriteFull(ctx, p.out, buf.Bytes()[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// PerformRequest sends req and reads the response head. The body is read
// through the returned response, which owns the connection from then on.
func (p *Http1Protocol) PerformRequest(ctx context.Context, req *HttpRequest) (*HttpResponse, error) {
	if err := p.writeRequest(ctx, req); err != nil {
		return nil, err
	}
	p.logger.Debug("request sent", zap.String("method", req.Method.String()), zap.String("path", req.Path()))

	resp, err := ReadResponse(ctx, p.in)
	if err != nil {
		return nil, err
	}
	resp.bufferSize = p.bufferSize
	p.logger.Debug("response head received", zap.Int("status", resp.StatusCode), zap.Int("headers", len(resp.Headers)))
	return resp, nil
}
