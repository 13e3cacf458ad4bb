package protocol

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/httpc-go-reactor/errors"
)

func serialize(t *testing.T, req *HttpRequest) string {
	t.Helper()
	data, err := io.ReadAll(req.NewSerializer())
	require.NoError(t, err)
	return string(data)
}

func TestRequestBuilder_Get(t *testing.T) {
	req, err := NewRequestBuilder("http://example.com/path").Build()
	require.NoError(t, err)

	assert.Equal(t, "GET /path HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n", serialize(t, req))
	assert.False(t, req.IsHTTPS())
	assert.Equal(t, "example.com:80", req.Address())
}

func TestRequestBuilder_HeaderOrder(t *testing.T) {
	req, err := NewRequestBuilder("https://example.com:8443/a/b?q=1&r=2").
		AddHeader("Accept", "*/*").
		AddHeader("X-Dup", "1").
		AddHeader("X-Dup", "2").
		Build()
	require.NoError(t, err)

	want := "GET /a/b?q=1&r=2 HTTP/1.1\r\n" +
		"Accept: */*\r\n" +
		"X-Dup: 1\r\n" +
		"X-Dup: 2\r\n" +
		"Host: example.com:8443\r\n" +
		"Connection: close\r\n\r\n"
	assert.Equal(t, want, serialize(t, req))
	assert.True(t, req.IsHTTPS())
	assert.Equal(t, "example.com:8443", req.Address())
	assert.Equal(t, "example.com", req.Host())
}

func TestRequestBuilder_DefaultPath(t *testing.T) {
	req, err := NewRequestBuilder("https://example.com").Build()
	require.NoError(t, err)
	assert.Equal(t, "/", req.Path())
	assert.Equal(t, "example.com:443", req.Address())
}

func TestRequestBuilder_Post(t *testing.T) {
	req, err := NewRequestBuilder("http://example.com/submit").
		Post(StringBody(`{"a":1}`, "application/json")).
		Build()
	require.NoError(t, err)

	want := "POST /submit HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Connection: close\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 7\r\n\r\n" +
		`{"a":1}`
	assert.Equal(t, want, serialize(t, req))
	// the serializer can be created again
	assert.Equal(t, want, serialize(t, req))
}

func TestRequestBuilder_InvalidURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/", "http://", "://bad", "example.com/path"} {
		_, err := NewRequestBuilder(raw).Build()
		require.Error(t, err, raw)
		assert.True(t, errors.IsProtocol(err, errors.ProtocolErrorInvalidUrl), "%s: %v", raw, err)
	}
}
