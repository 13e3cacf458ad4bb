package tlsdriver

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/httpc-go-reactor/buffer"
	httperrors "github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/internal/testcert"
	"github.com/nczempin/httpc-go-reactor/stream"
)

type handshakeResult struct {
	session *Session
	conn    net.Conn
	err     error
}

// setupTLSPair connects a client and a server session over loopback TCP. The
// client reads its ciphertext at most chunk bytes at a time.
func setupTLSPair(t *testing.T, chunk int, clientOpts ...Option) (*Session, net.Conn, <-chan handshakeResult) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	serverCfg, err := testcert.ServerConfig()
	require.NoError(t, err)
	clientCfg, err := testcert.ClientConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	results := make(chan handshakeResult, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			results <- handshakeResult{err: err}
			return
		}
		s, err := Handshake(ctx, NewServerEngine(serverCfg), stream.FromReader(conn, conn.Close), stream.FromWriter(conn))
		results <- handshakeResult{session: s, conn: conn, err: err}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	in := stream.Limit(stream.FromReader(conn, conn.Close), chunk)
	client, err := Handshake(ctx, NewClientEngine(clientCfg), in, stream.FromWriter(conn), clientOpts...)
	require.NoError(t, err)
	return client, conn, results
}

func TestHandshake_RoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	client, conn, results := setupTLSPair(t, 7, WithBufferSize(64))
	server := <-results
	require.NoError(t, server.err)
	defer server.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request := []byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, stream.WriteFull(ctx, client.Output(), request))

	got := make([]byte, len(request))
	_, err := io.ReadFull(stream.AsReader(ctx, server.session.Input()), got)
	require.NoError(t, err)
	assert.Equal(t, request, got)

	// several records, each larger than the client's initial buffers
	reply := bytes.Repeat([]byte("0123456789abcdef"), 5000)
	require.NoError(t, stream.WriteFull(ctx, server.session.Output(), reply))

	plain := client.Unwrap(stream.Limit(stream.FromReader(conn, conn.Close), 7))
	got = make([]byte, len(reply))
	_, err = io.ReadFull(stream.AsReader(ctx, plain), got)
	require.NoError(t, err)
	assert.Equal(t, reply, got)

	require.NoError(t, server.session.Close(ctx))
	require.NoError(t, plain.Close())
}

func TestHandshake_EndOfStream(t *testing.T) {
	defer leaktest.Check(t)()

	client, _, results := setupTLSPair(t, 1024)
	server := <-results
	require.NoError(t, server.err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, stream.WriteFull(ctx, server.session.Output(), []byte("bye")))
	require.NoError(t, server.session.Close(ctx))
	require.NoError(t, server.conn.Close())

	plain := client.Input()
	defer plain.Close()
	got, err := io.ReadAll(stream.AsReader(ctx, plain))
	require.NoError(t, err)
	assert.Equal(t, "bye", string(got))

	n, err := plain.Read(ctx, make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestSession_CloseSendsCloseNotify(t *testing.T) {
	defer leaktest.Check(t)()

	client, _, results := setupTLSPair(t, 1024)
	server := <-results
	require.NoError(t, server.err)
	defer server.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the TCP connection stays open, only the alert can end the server's read
	require.NoError(t, client.Close(ctx))

	plain := server.session.Input()
	defer plain.Close()
	got, err := io.ReadAll(stream.AsReader(ctx, plain))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStdEngine_CloseOutboundBeforeHandshake(t *testing.T) {
	e := NewServerEngine(untrustedConfig())
	defer e.Close()
	require.NoError(t, e.CloseOutbound())

	hs, err := e.HandshakeStatus()
	require.NoError(t, err)
	assert.Equal(t, NotHandshaking, hs)
}

func TestHandshake_UntrustedCertificate(t *testing.T) {
	defer leaktest.Check(t)()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCfg, err := testcert.ServerConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			results <- err
			return
		}
		defer conn.Close()
		_, err = Handshake(ctx, NewServerEngine(serverCfg), stream.FromReader(conn, nil), stream.FromWriter(conn))
		results <- err
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	// no RootCAs: the self-signed certificate is not trusted
	engine := NewClientEngine(untrustedConfig())
	_, err = Handshake(ctx, engine, stream.FromReader(conn, nil), stream.FromWriter(conn))
	conn.Close()

	require.Error(t, err)
	assert.True(t, httperrors.IsTLS(err, httperrors.TLSErrorHandshakeFailure), "expected handshake failure, got %v", err)
	assert.Error(t, <-results)
}

func TestHandshake_PeerClosesEarly(t *testing.T) {
	clientCfg, err := testcert.ClientConfig()
	require.NoError(t, err)

	// the peer accepts the client hello and hangs up
	in := stream.NewInput(func(ctx context.Context, p []byte) (int, error) {
		return 0, io.EOF
	}, nil)
	out := stream.WriteFunc(func(ctx context.Context, p []byte) (int, error) {
		return len(p), nil
	})

	_, err = Handshake(context.Background(), NewClientEngine(clientCfg), in, out)
	require.Error(t, err)
	assert.True(t, httperrors.IsTLS(err, httperrors.TLSErrorHandshakeFailure))
}

func TestStdEngine_HandshakeStates(t *testing.T) {
	clientCfg, err := testcert.ClientConfig()
	require.NoError(t, err)

	e := NewClientEngine(clientCfg)
	defer e.Close()

	hs, err := e.HandshakeStatus()
	require.NoError(t, err)
	assert.Equal(t, NotHandshaking, hs)

	require.NoError(t, e.BeginHandshake())
	hs = settle(t, e)
	require.Equal(t, NeedWrap, hs)

	src := buffer.New(0)
	src.Flip()
	small := buffer.New(8)
	res, err := e.Wrap(src, small)
	require.NoError(t, err)
	assert.Equal(t, BufferOverflow, res.Status)
	assert.Equal(t, 0, small.Position())

	dst := buffer.New(4096)
	res, err = e.Wrap(src, dst)
	require.NoError(t, err)
	assert.Equal(t, OK, res.Status)
	require.Greater(t, res.Produced, 5)
	assert.Equal(t, byte(0x16), dst.Filled()[0], "handshake record")

	hs = settle(t, e)
	require.Equal(t, NeedUnwrap, hs)

	res, err = e.Unwrap(src, buffer.New(64))
	require.NoError(t, err)
	assert.Equal(t, BufferUnderflow, res.Status)
}

func TestStdEngine_CloseBeforeHandshake(t *testing.T) {
	e := NewServerEngine(untrustedConfig())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Error(t, e.BeginHandshake())

	src := buffer.Wrap([]byte{1, 2, 3})
	res, err := e.Unwrap(src, buffer.New(16))
	require.NoError(t, err)
	assert.Equal(t, Closed, res.Status)
}

// settle runs delegated tasks until the engine asks for something else.
func settle(t *testing.T, e Engine) HandshakeStatus {
	t.Helper()
	for {
		hs, err := e.HandshakeStatus()
		require.NoError(t, err)
		if hs != NeedTask {
			return hs
		}
		if task := e.DelegatedTask(); task != nil {
			task()
		}
	}
}

func untrustedConfig() *tls.Config {
	return &tls.Config{ServerName: testcert.ServerName}
}
