package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/internal/testcert"
	"github.com/nczempin/httpc-go-reactor/protocol"
	"github.com/nczempin/httpc-go-reactor/resolver"
	"github.com/nczempin/httpc-go-reactor/transport"
)

// setupTestServer serves every accepted connection with handler and returns
// the listener's host:port
func setupTestServer(t *testing.T, handler func(net.Conn)) (string, func()) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handler(conn)
			}()
		}
	}()

	cleanup := func() {
		listener.Close()
	}

	return listener.Addr().String(), cleanup
}

// respond reads one request and writes response
func respond(response string) func(net.Conn) {
	return func(conn net.Conn) {
		if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
			return
		}
		conn.Write([]byte(response))
	}
}

func newTestClient(t *testing.T, opts ...Option) *HttpClient {
	opts = append([]Option{
		WithWorkers(4),
		WithResolver(&resolver.Static{Hosts: map[string]string{"localhost": "127.0.0.1"}}),
	}, opts...)
	client, err := NewHttpClient(opts...)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestHttpClient_Get(t *testing.T) {
	defer leaktest.Check(t)()

	responseBody := "Hello, World!"
	response := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(responseBody), responseBody)

	addr, cleanup := setupTestServer(t, respond(response))
	defer cleanup()

	client := newTestClient(t)
	defer client.Close()

	resp, err := client.Get(context.Background(), "http://"+addr+"/test")
	if err != nil {
		t.Fatalf("GET request failed: %v", err)
	}

	// Verify response
	if resp.StatusCode != 200 {
		t.Errorf("Expected status code 200, got %d", resp.StatusCode)
	}
	if resp.Protocol != protocol.HTTP11 {
		t.Errorf("Expected HTTP/1.1, got %s", resp.Protocol)
	}

	body, err := resp.BodyString(context.Background())
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if body != responseBody {
		t.Errorf("Expected body %q, got %q", responseBody, body)
	}
}

func TestHttpClient_Post(t *testing.T) {
	defer leaktest.Check(t)()

	received := make(chan string, 1)
	addr, cleanup := setupTestServer(t, func(conn net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			received <- "error: " + err.Error()
			return
		}
		data, _ := io.ReadAll(req.Body)
		received <- req.Method + " " + req.URL.Path + " " + req.Header.Get("Content-Type") + " " + string(data)
		conn.Write([]byte("HTTP/1.1 201 Created\r\nContent-Length: 7\r\n\r\nCreated"))
	})
	defer cleanup()

	client := newTestClient(t)
	defer client.Close()

	resp, err := client.Post(context.Background(), "http://"+addr+"/create", protocol.StringBody("test data", "text/plain"))
	if err != nil {
		t.Fatalf("POST request failed: %v", err)
	}
	defer resp.Close()

	if resp.StatusCode != 201 {
		t.Errorf("Expected status code 201, got %d", resp.StatusCode)
	}
	if got, want := <-received, "POST /create text/plain test data"; got != want {
		t.Errorf("Server saw %q, want %q", got, want)
	}
}

func TestHttpClient_ChunkedResponse(t *testing.T) {
	defer leaktest.Check(t)()

	addr, cleanup := setupTestServer(t, respond(
		"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\ntest\r\n3\r\nabc\r\n0\r\n\r\n"))
	defer cleanup()

	client := newTestClient(t, WithBufferSize(16))
	defer client.Close()

	resp, err := client.Get(context.Background(), "http://"+addr+"/")
	if err != nil {
		t.Fatalf("GET request failed: %v", err)
	}
	body, err := resp.BodyString(context.Background())
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if body != "testabc" {
		t.Errorf("Expected body %q, got %q", "testabc", body)
	}
}

func TestHttpClient_BodyUntilClose(t *testing.T) {
	defer leaktest.Check(t)()

	payload := strings.Repeat("0123456789", 1000)
	addr, cleanup := setupTestServer(t, respond("HTTP/1.0 200 OK\r\n\r\n"+payload))
	defer cleanup()

	client := newTestClient(t)
	defer client.Close()

	resp, err := client.Get(context.Background(), "http://"+addr+"/")
	if err != nil {
		t.Fatalf("GET request failed: %v", err)
	}

	var sink strings.Builder
	n, err := resp.WriteBodyTo(context.Background(), &sink)
	if err != nil {
		t.Fatalf("Failed to stream body: %v", err)
	}
	if n != int64(len(payload)) || sink.String() != payload {
		t.Errorf("Expected %d body bytes, got %d", len(payload), n)
	}
}

func TestHttpClient_HTTPS(t *testing.T) {
	defer leaktest.Check(t)()

	serverCfg, err := testcert.ServerConfig()
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	clientCfg, err := testcert.ClientConfig()
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	responseBody := strings.Repeat("secure ", 5000)
	addr, cleanup := setupTestServer(t, func(conn net.Conn) {
		tlsConn := tls.Server(conn, serverCfg)
		defer tlsConn.Close()
		if _, err := http.ReadRequest(bufio.NewReader(tlsConn)); err != nil {
			return
		}
		fmt.Fprintf(tlsConn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(responseBody), responseBody)
	})
	defer cleanup()

	clientCfg.ServerName = ""
	client := newTestClient(t, WithTLSConfig(clientCfg), WithBufferSize(512))
	defer client.Close()

	_, port, _ := net.SplitHostPort(addr)
	resp, err := client.Get(context.Background(), "https://localhost:"+port+"/secure")
	if err != nil {
		t.Fatalf("HTTPS request failed: %v", err)
	}
	body, err := resp.BodyString(context.Background())
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if body != responseBody {
		t.Errorf("Expected %d body bytes, got %d", len(responseBody), len(body))
	}
}

func TestHttpClient_HTTPSUntrusted(t *testing.T) {
	defer leaktest.Check(t)()

	serverCfg, err := testcert.ServerConfig()
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	addr, cleanup := setupTestServer(t, func(conn net.Conn) {
		tls.Server(conn, serverCfg).Handshake()
	})
	defer cleanup()

	client := newTestClient(t)
	defer client.Close()

	_, port, _ := net.SplitHostPort(addr)
	_, err = client.Get(context.Background(), "https://localhost:"+port+"/")
	if !errors.IsTLS(err, errors.TLSErrorHandshakeFailure) {
		t.Errorf("Expected TLS handshake failure, got %v", err)
	}
}

func TestHttpClient_DoAll(t *testing.T) {
	defer leaktest.Check(t)()

	addr, cleanup := setupTestServer(t, func(conn net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		body := "path=" + req.URL.Path
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	})
	defer cleanup()

	client := newTestClient(t)
	defer client.Close()

	var reqs []*protocol.HttpRequest
	for i := 0; i < 20; i++ {
		req, err := protocol.NewRequestBuilder(fmt.Sprintf("http://%s/%d", addr, i)).Build()
		if err != nil {
			t.Fatalf("Failed to build request: %v", err)
		}
		reqs = append(reqs, req)
	}

	results, err := client.DoAll(context.Background(), reqs)
	if err != nil {
		t.Fatalf("DoAll failed: %v", err)
	}
	for i, r := range results {
		if want := fmt.Sprintf("path=/%d", i); r.Body != want || r.StatusCode != 200 {
			t.Errorf("Request %d: got %d %q, want 200 %q", i, r.StatusCode, r.Body, want)
		}
	}
}

func TestHttpClient_ConnectionRefused(t *testing.T) {
	defer leaktest.Check(t)()

	// grab a free port and close it again
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client := newTestClient(t)
	defer client.Close()

	_, err = client.Get(context.Background(), "http://"+addr+"/")
	if !errors.IsTransport(err, errors.TransportErrorSocketConnectFailure) {
		t.Errorf("Expected connect failure, got %v", err)
	}
}

func TestHttpClient_Timeout(t *testing.T) {
	defer leaktest.Check(t)()

	// the server reads but never answers
	addr, cleanup := setupTestServer(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})
	defer cleanup()

	client := newTestClient(t, WithTimeout(100*time.Millisecond))
	defer client.Close()

	start := time.Now()
	_, err := client.Get(context.Background(), "http://"+addr+"/")
	if !errors.IsTransport(err, errors.TransportErrorTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Timeout took %v", elapsed)
	}
}

func TestHttpClient_InvalidResponse(t *testing.T) {
	defer leaktest.Check(t)()

	addr, cleanup := setupTestServer(t, respond("HTTP/2.0 200 OK\r\n\r\n"))
	defer cleanup()

	client := newTestClient(t)
	defer client.Close()

	_, err := client.Get(context.Background(), "http://"+addr+"/")
	if !errors.IsProtocol(err, errors.ProtocolErrorInvalidVersion) {
		t.Errorf("Expected invalid version, got %v", err)
	}
}

func TestHttpClient_GetWithBody_ReturnsError(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()

	req, err := protocol.NewRequestBuilder("http://localhost/test").Build()
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Body = protocol.StringBody("should not have body", "text/plain")

	_, err = client.Do(context.Background(), req)
	if err == nil {
		t.Error("Expected error for GET request with body, got nil")
	}
}

func TestHttpClient_PostWithoutContentLength_ReturnsError(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()

	req, err := protocol.NewRequestBuilder("http://localhost/test").Build()
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Method = protocol.MethodPost
	req.Body = protocol.StringBody("test body", "text/plain")

	_, err = client.Do(context.Background(), req)
	if err == nil {
		t.Error("Expected error for POST request without Content-Length, got nil")
	}

	_, err = client.Post(context.Background(), "http://localhost/test", nil)
	if err == nil {
		t.Error("Expected error for POST request without body, got nil")
	}
}

func TestHttpClient_UringTransports(t *testing.T) {
	responseBody := "Hello from io_uring!"
	response := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(responseBody), responseBody)

	for _, kind := range []transport.Kind{transport.KindIoUring, transport.KindIoUringV2} {
		t.Run(kind.String(), func(t *testing.T) {
			addr, cleanup := setupTestServer(t, respond(response))
			defer cleanup()

			client, err := NewHttpClient(WithTransport(kind))
			if err != nil {
				t.Skipf("io_uring unavailable: %v", err)
			}
			defer client.Close()

			resp, err := client.Get(context.Background(), "http://"+addr+"/")
			if errors.IsTransport(err, errors.TransportErrorIoUringInit) || errors.IsTransport(err, errors.TransportErrorIoUringSubmit) {
				t.Skipf("io_uring unavailable: %v", err)
			}
			if err != nil {
				t.Fatalf("GET request failed: %v", err)
			}
			body, err := resp.BodyString(context.Background())
			if err != nil {
				t.Fatalf("Failed to read body: %v", err)
			}
			if body != responseBody {
				t.Errorf("Expected body %q, got %q", responseBody, body)
			}
		})
	}
}
