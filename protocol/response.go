package protocol

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/nczempin/httpc-go-reactor/buffer"
	"github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/stream"
)

// DefaultBufferSize is the initial size of body buffers.
const DefaultBufferSize = 1025

var headerSeparator = []byte("\r\n\r\n")

// HttpResponse is a parsed response head plus a body that is read on demand
// from the connection.
type HttpResponse struct {
	Protocol      Protocol
	StatusCode    int
	StatusMessage string
	Headers       Headers

	in         stream.Input
	body       stream.Input
	bufferSize int
}

// Header returns the value of the first field named name, or "".
func (r *HttpResponse) Header(name string) string {
	v, _ := r.Headers.Get(name)
	return v
}

// ReadResponse reads the response head from in. The body stays in in and is
// framed on first use.
func ReadResponse(ctx context.Context, in stream.Input) (*HttpResponse, error) {
	raw, err := stream.ReadUntil(ctx, in, headerSeparator, true)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, errors.WrapProtocolError(errors.ProtocolErrorIncompleteResponse,
			"connection closed before the response head was complete", io.ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, err
	}
	resp, err := ParseResponseHead(raw)
	if err != nil {
		return nil, err
	}
	resp.in = in
	return resp, nil
}

// ParseResponseHead parses a status line and header fields terminated by an
// empty line, as in "HTTP/1.1 200 OK\r\nA: b\r\n\r\n".
func ParseResponseHead(raw string) (*HttpResponse, error) {
	lines := strings.Split(raw, "\r\n")
	if len(lines) < 3 || lines[len(lines)-1] != "" || lines[len(lines)-2] != "" {
		return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidStatusLine, "response head is not terminated by an empty line")
	}

	// Parse status line: "HTTP/1.1 200 OK"
	statusParts := strings.SplitN(lines[0], " ", 3)
	if len(statusParts) != 3 {
		return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidStatusLine, "invalid status line "+strconv.Quote(lines[0]))
	}
	protocol, err := ParseProtocol(statusParts[0])
	if err != nil {
		return nil, err
	}
	statusCode, err := strconv.Atoi(statusParts[1])
	if err != nil {
		return nil, errors.WrapProtocolError(errors.ProtocolErrorInvalidStatusLine, "invalid status code "+strconv.Quote(statusParts[1]), err)
	}

	headerLines := lines[1 : len(lines)-2]
	headers := make(Headers, 0, len(headerLines))
	for _, line := range headerLines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidHeader, "header without colon "+strconv.Quote(line))
		}
		headers = append(headers, HttpHeader{Key: key, Value: strings.TrimSpace(value)})
	}

	return &HttpResponse{
		Protocol:      protocol,
		StatusCode:    statusCode,
		StatusMessage: statusParts[2],
		Headers:       headers,
		bufferSize:    DefaultBufferSize,
	}, nil
}

// Body returns the body stream, choosing its framing on first call: chunked
// when Transfer-Encoding says so, fixed-length with Content-Length, otherwise
// everything until the peer closes the connection.
func (r *HttpResponse) Body() (stream.Input, error) {
	if r.body != nil {
		return r.body, nil
	}
	if r.in == nil {
		return nil, errors.NewInvalidArgumentError("response has no connection")
	}

	if te, ok := r.Headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		r.body = NewChunkedReader(r.in)
		return r.body, nil
	}
	if cl, ok := r.Headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, errors.WrapProtocolError(errors.ProtocolErrorInvalidContentLength, "invalid Content-Length "+strconv.Quote(cl), err)
		}
		r.body = NewFixedLengthReader(r.in, n)
		return r.body, nil
	}
	r.body = r.in
	return r.body, nil
}

// BodyString reads the whole body and closes it.
func (r *HttpResponse) BodyString(ctx context.Context) (string, error) {
	body, err := r.Body()
	if err != nil {
		return "", err
	}
	defer body.Close()

	buf := buffer.New(r.bufferSize)
	for {
		if !buf.HasRemaining() {
			buf.Enlarge(0, false)
		}
		n, err := body.Read(ctx, buf.Bytes())
		buf.Advance(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return string(buf.Filled()), nil
}

// WriteBodyTo streams the body into w, one buffer at a time, and closes it.
func (r *HttpResponse) WriteBodyTo(ctx context.Context, w io.Writer) (int64, error) {
	body, err := r.Body()
	if err != nil {
		return 0, err
	}
	defer body.Close()

	buf := buffer.New(r.bufferSize)
	var written int64
	for {
		buf.Clear()
		n, err := body.Read(ctx, buf.Bytes())
		if n > 0 {
			m, werr := w.Write(buf.Bytes()[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// Close releases the connection the response is read from.
func (r *HttpResponse) Close() error {
	if r.body != nil {
		return r.body.Close()
	}
	if r.in != nil {
		return r.in.Close()
	}
	return nil
}
