package protocol

import (
	"strings"

	"github.com/nczempin/httpc-go-reactor/errors"
)

// HttpMethod represents HTTP request methods
type HttpMethod int

const (
	MethodGet HttpMethod = iota
	MethodPost
)

func (m HttpMethod) String() string {
	if m == MethodPost {
		return "POST"
	}
	return "GET"
}

// HttpHeader represents an HTTP header key-value pair
type HttpHeader struct {
	Key   string
	Value string
}

// Headers keeps header fields in wire order. Duplicates are allowed.
type Headers []HttpHeader

// Get returns the value of the first field named name, ignoring case.
func (h Headers) Get(name string) (string, bool) {
	for _, header := range h {
		if strings.EqualFold(header.Key, name) {
			return header.Value, true
		}
	}
	return "", false
}

// Protocol is the HTTP version of a response
type Protocol int

const (
	HTTP10 Protocol = iota
	HTTP11
)

func (p Protocol) String() string {
	if p == HTTP10 {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

// ParseProtocol accepts exactly "HTTP/1.0" and "HTTP/1.1".
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "HTTP/1.0":
		return HTTP10, nil
	case "HTTP/1.1":
		return HTTP11, nil
	default:
		return 0, errors.NewProtocolError(errors.ProtocolErrorInvalidVersion, "unexpected protocol: "+s)
	}
}
