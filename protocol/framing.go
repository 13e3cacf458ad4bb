package protocol

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/stream"
)

// fixedLength delivers exactly remaining bytes of in.
type fixedLength struct {
	in        stream.Input
	remaining int64
}

func (f *fixedLength) read(ctx context.Context, p []byte) (int, error) {
	if f.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.in.Read(ctx, p)
	f.remaining -= int64(n)
	if err == io.EOF {
		if f.remaining > 0 {
			return n, errors.WrapProtocolError(errors.ProtocolErrorIncompleteResponse,
				"connection closed before the body was complete", io.ErrUnexpectedEOF)
		}
		if n > 0 {
			err = nil
		}
	}
	return n, err
}

// NewFixedLengthReader returns a stream of exactly n bytes of in, then io.EOF
// on every further read. in is never read past those n bytes. Closing the
// reader closes in.
func NewFixedLengthReader(in stream.Input, n int64) stream.Input {
	f := &fixedLength{in: in, remaining: n}
	return stream.NewInput(f.read, in.Close)
}

// chunked decodes the chunked transfer coding.
type chunked struct {
	in    stream.Input
	chunk *fixedLength // nil between chunks
	done  bool
}

func (c *chunked) read(ctx context.Context, p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if c.chunk == nil {
		size, err := c.readSize(ctx)
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.readTrailer(ctx); err != nil {
				return 0, err
			}
			c.done = true
			return 0, io.EOF
		}
		c.chunk = &fixedLength{in: c.in, remaining: size}
	}

	n, err := c.chunk.read(ctx, p)
	if err != io.EOF {
		return n, err
	}

	// the chunk data is followed by an empty line
	line, err := c.readLine(ctx)
	if err != nil {
		return 0, err
	}
	if line != "" {
		return 0, errors.NewProtocolError(errors.ProtocolErrorInvalidChunkedEncoding, "missing CRLF after chunk data")
	}
	c.chunk = nil
	return 0, nil
}

func (c *chunked) readSize(ctx context.Context) (int64, error) {
	line, err := c.readLine(ctx)
	if err != nil {
		return 0, err
	}
	// chunk extensions are ignored
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || size < 0 {
		return 0, errors.WrapProtocolError(errors.ProtocolErrorInvalidChunkedEncoding, "invalid chunk size "+strconv.Quote(line), err)
	}
	return size, nil
}

// readTrailer consumes trailer fields up to and including the empty line.
func (c *chunked) readTrailer(ctx context.Context) error {
	for {
		line, err := c.readLine(ctx)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

func (c *chunked) readLine(ctx context.Context) (string, error) {
	line, err := stream.ReadLine(ctx, c.in)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return "", errors.WrapProtocolError(errors.ProtocolErrorIncompleteResponse,
			"connection closed inside chunked body", io.ErrUnexpectedEOF)
	}
	return line, err
}

// NewChunkedReader returns a stream decoding a chunked body read from in.
// A read that finishes a chunk without producing data returns 0, nil; the
// caller reads again. After the last chunk every read returns io.EOF.
// Closing the reader closes in.
func NewChunkedReader(in stream.Input) stream.Input {
	c := &chunked{in: in}
	return stream.NewInput(c.read, in.Close)
}
