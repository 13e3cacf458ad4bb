package protocol

import (
	"bytes"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/nczempin/httpc-go-reactor/errors"
)

// RequestBody produces the payload of a request.
type RequestBody interface {
	ContentLength() int
	ContentType() string
	// Reader returns a fresh reader over the payload.
	Reader() io.Reader
}

type bytesBody struct {
	data        []byte
	contentType string
}

func (b *bytesBody) ContentLength() int  { return len(b.data) }
func (b *bytesBody) ContentType() string { return b.contentType }
func (b *bytesBody) Reader() io.Reader   { return bytes.NewReader(b.data) }

// BytesBody returns a body over data. data is not copied.
func BytesBody(data []byte, contentType string) RequestBody {
	return &bytesBody{data: data, contentType: contentType}
}

// StringBody returns a body over s.
func StringBody(s, contentType string) RequestBody {
	return &bytesBody{data: []byte(s), contentType: contentType}
}

// HttpRequest represents an HTTP request. Build one with RequestBuilder.
type HttpRequest struct {
	URL     *url.URL
	Method  HttpMethod
	Headers Headers
	Body    RequestBody
}

// IsHTTPS reports whether the request goes over TLS.
func (r *HttpRequest) IsHTTPS() bool {
	return r.URL.Scheme == "https"
}

// Host returns the host name without port.
func (r *HttpRequest) Host() string {
	return r.URL.Hostname()
}

// Address returns host:port, using 80 or 443 when the URL has no port.
func (r *HttpRequest) Address() string {
	port := r.URL.Port()
	if port == "" {
		port = "80"
		if r.IsHTTPS() {
			port = "443"
		}
	}
	return net.JoinHostPort(r.URL.Hostname(), port)
}

// Path returns the request target, "/" when the URL has no path.
func (r *HttpRequest) Path() string {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return path
}

// HeaderBlock returns the request line and header fields followed by the
// empty line.
func (r *HttpRequest) HeaderBlock() []byte {
	var b strings.Builder
	b.WriteString(r.Method.String())
	b.WriteByte(' ')
	b.WriteString(r.Path())
	b.WriteString(" HTTP/1.1\r\n")
	for _, h := range r.Headers {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// NewSerializer returns a reader producing the wire form of the request:
// the header block first, then the body until it ends.
func (r *HttpRequest) NewSerializer() io.Reader {
	head := bytes.NewReader(r.HeaderBlock())
	if r.Body == nil {
		return head
	}
	return io.MultiReader(head, r.Body.Reader())
}

// RequestBuilder collects the parts of a request.
type RequestBuilder struct {
	rawURL  string
	method  HttpMethod
	headers Headers
	body    RequestBody
}

// NewRequestBuilder starts a GET request for rawURL.
func NewRequestBuilder(rawURL string) *RequestBuilder {
	return &RequestBuilder{rawURL: rawURL, method: MethodGet}
}

// Post turns the request into a POST carrying body.
func (b *RequestBuilder) Post(body RequestBody) *RequestBuilder {
	b.method = MethodPost
	b.body = body
	return b
}

// AddHeader appends a header field. Order is preserved.
func (b *RequestBuilder) AddHeader(key, value string) *RequestBuilder {
	b.headers = append(b.headers, HttpHeader{Key: key, Value: value})
	return b
}

// Build validates the URL and appends Host and Connection: close, plus
// Content-Type and Content-Length when there is a body.
func (b *RequestBuilder) Build() (*HttpRequest, error) {
	u, err := url.Parse(b.rawURL)
	if err != nil {
		return nil, errors.WrapProtocolError(errors.ProtocolErrorInvalidUrl, "failed to parse url "+b.rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidUrl, "unsupported scheme in url "+b.rawURL)
	}
	if u.Hostname() == "" {
		return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidUrl, "missing host in url "+b.rawURL)
	}

	headers := make(Headers, 0, len(b.headers)+4)
	headers = append(headers, b.headers...)
	headers = append(headers,
		HttpHeader{Key: "Host", Value: u.Host},
		HttpHeader{Key: "Connection", Value: "close"},
	)
	if b.body != nil {
		headers = append(headers,
			HttpHeader{Key: "Content-Type", Value: b.body.ContentType()},
			HttpHeader{Key: "Content-Length", Value: strconv.Itoa(b.body.ContentLength())},
		)
	}

	return &HttpRequest{
		URL:     u,
		Method:  b.method,
		Headers: headers,
		Body:    b.body,
	}, nil
}
