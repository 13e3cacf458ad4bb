package client

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"

	"github.com/nczempin/httpc-go-reactor/protocol"
	"github.com/nczempin/httpc-go-reactor/resolver"
	"github.com/nczempin/httpc-go-reactor/transport"
	"github.com/nczempin/httpc-go-reactor/workpool"
)

// DefaultBufferSize is the size of request, response and TLS buffers before
// they grow.
const DefaultBufferSize = protocol.DefaultBufferSize

// Config holds the settings of an HttpClient.
type Config struct {
	// Workers bounds the pool that runs DNS lookups and TLS delegated tasks.
	Workers int
	// BufferSize is the initial size of every I/O buffer.
	BufferSize int
	// Timeout bounds connecting, the TLS handshake and reading the response
	// head. Zero means no limit beyond the caller's context.
	Timeout time.Duration
	// Transport selects the I/O backend.
	Transport transport.Kind
	// TLSConfig is used for https URLs. ServerName defaults to the URL host.
	TLSConfig *tls.Config
	Resolver  resolver.Resolver
	Logger    *zap.Logger
}

// DefaultConfig returns the settings NewHttpClient starts from.
func DefaultConfig() Config {
	return Config{
		Workers:    workpool.DefaultSize,
		BufferSize: DefaultBufferSize,
		Transport:  transport.KindReactor,
		Resolver:   resolver.Default,
		Logger:     zap.NewNop(),
	}
}

// Option configures an HttpClient
type Option func(*Config)

// WithWorkers sets the size of the worker pool.
func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithBufferSize sets the initial buffer size.
func WithBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithTimeout bounds each request up to its response head.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithTransport selects the I/O backend.
func WithTransport(kind transport.Kind) Option {
	return func(c *Config) {
		c.Transport = kind
	}
}

// WithTLSConfig sets the TLS configuration for https requests.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Config) {
		c.TLSConfig = cfg
	}
}

// WithResolver replaces the DNS resolver.
func WithResolver(r resolver.Resolver) Option {
	return func(c *Config) {
		if r != nil {
			c.Resolver = r
		}
	}
}

// WithLogger sets the logger shared by every layer of the client.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
