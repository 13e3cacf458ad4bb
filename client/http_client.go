package client

import (
	"context"
	"crypto/tls"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nczempin/httpc-go-reactor/errors"
	"github.com/nczempin/httpc-go-reactor/protocol"
	"github.com/nczempin/httpc-go-reactor/reactor"
	"github.com/nczempin/httpc-go-reactor/tlsdriver"
	"github.com/nczempin/httpc-go-reactor/transport"
	"github.com/nczempin/httpc-go-reactor/workpool"
)

// HttpClient provides a high-level HTTP client API. Every request uses its
// own connection, closed once the response body has been read.
type HttpClient struct {
	config    Config
	logger    *zap.Logger
	pool      *workpool.Pool
	reactor   *reactor.Reactor // nil for io_uring transports
	transport transport.Transport
}

// NewHttpClient creates the worker pool and the transport the client's
// requests share.
func NewHttpClient(opts ...Option) (*HttpClient, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	pool, err := workpool.New(cfg.Workers, workpool.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	c := &HttpClient{config: cfg, logger: cfg.Logger, pool: pool}

	switch cfg.Transport {
	case transport.KindReactor:
		r, err := reactor.New(pool, reactor.WithResolver(cfg.Resolver), reactor.WithLogger(cfg.Logger))
		if err != nil {
			pool.Release()
			return nil, errors.NewTransportError(errors.TransportErrorReactorInit, "failed to start reactor", err)
		}
		c.reactor = r
		c.transport = transport.NewReactorTransport(r)
	case transport.KindIoUring:
		t, err := transport.NewUringTransport(pool, cfg.Resolver)
		if err != nil {
			pool.Release()
			return nil, err
		}
		c.transport = t
	case transport.KindIoUringV2:
		c.transport = transport.NewUringTransportV2(pool, cfg.Resolver)
	default:
		pool.Release()
		return nil, errors.NewInvalidArgumentError("unknown transport " + cfg.Transport.String())
	}
	return c, nil
}

// Close releases the transport, the reactor and the worker pool. Requests
// still in flight fail.
func (c *HttpClient) Close() error {
	err := c.transport.Close()
	if c.reactor != nil {
		c.reactor.Shutdown()
	}
	c.pool.Release()
	return err
}

// Do sends req and returns the response with its head parsed. The caller
// must read the body or Close the response to release the connection.
func (c *HttpClient) Do(ctx context.Context, req *protocol.HttpRequest) (*protocol.HttpResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	address := req.Address()
	conn, err := c.transport.Connect(ctx, "tcp", address)
	if err != nil {
		c.logger.Debug("connect failed", zap.String("address", address), zap.Error(err))
		return nil, err
	}

	in, out := transport.Input(conn), transport.Output(conn)
	if req.IsHTTPS() {
		session, err := tlsdriver.Handshake(ctx, tlsdriver.NewClientEngine(c.tlsConfig(req)), in, out,
			tlsdriver.WithBufferSize(c.config.BufferSize),
			tlsdriver.WithExecutor(c.pool),
			tlsdriver.WithLogger(c.logger),
		)
		if err != nil {
			conn.Close()
			return nil, err
		}
		in, out = session.Input(), session.Output()
	}

	proto := protocol.NewHttp1Protocol(in, out,
		protocol.WithBufferSize(c.config.BufferSize),
		protocol.WithLogger(c.logger),
	)
	resp, err := proto.PerformRequest(ctx, req)
	if err != nil {
		proto.Disconnect()
		return nil, err
	}

	c.logger.Debug("response received",
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// Get performs a GET request for rawURL
func (c *HttpClient) Get(ctx context.Context, rawURL string, headers ...protocol.HttpHeader) (*protocol.HttpResponse, error) {
	b := protocol.NewRequestBuilder(rawURL)
	for _, h := range headers {
		b.AddHeader(h.Key, h.Value)
	}
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Post performs a POST request for rawURL carrying body
func (c *HttpClient) Post(ctx context.Context, rawURL string, body protocol.RequestBody, headers ...protocol.HttpHeader) (*protocol.HttpResponse, error) {
	b := protocol.NewRequestBuilder(rawURL)
	for _, h := range headers {
		b.AddHeader(h.Key, h.Value)
	}
	if body != nil {
		b.Post(body)
	}
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	if body == nil {
		req.Method = protocol.MethodPost
	}
	return c.Do(ctx, req)
}

// Result is the outcome of one request issued by DoAll.
type Result struct {
	Request    *protocol.HttpRequest
	StatusCode int
	Body       string
	Err        error
}

// DoAll issues reqs concurrently, at most Workers at a time, and reads every
// body. Each request gets its own Result; the returned error is the first
// failure, if any.
func (c *HttpClient) DoAll(ctx context.Context, reqs []*protocol.HttpRequest) ([]Result, error) {
	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(c.config.Workers)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			results[i] = c.fetch(ctx, req)
			return results[i].Err
		})
	}
	return results, g.Wait()
}

func (c *HttpClient) fetch(ctx context.Context, req *protocol.HttpRequest) Result {
	result := Result{Request: req}
	resp, err := c.Do(ctx, req)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Close()
	result.StatusCode = resp.StatusCode
	result.Body, result.Err = resp.BodyString(ctx)
	return result
}

func (c *HttpClient) tlsConfig(req *protocol.HttpRequest) *tls.Config {
	var cfg *tls.Config
	if c.config.TLSConfig != nil {
		cfg = c.config.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = req.Host()
	}
	return cfg
}

// validateRequest checks the method against the body
func validateRequest(req *protocol.HttpRequest) error {
	if req == nil || req.URL == nil {
		return errors.NewInvalidArgumentError("request has no url")
	}
	switch req.Method {
	case protocol.MethodGet:
		if req.Body != nil {
			return errors.NewInvalidArgumentError("GET request cannot have a body")
		}
	case protocol.MethodPost:
		return validatePostRequest(req)
	}
	return nil
}

// validatePostRequest validates that a POST request has required fields
func validatePostRequest(req *protocol.HttpRequest) error {
	if req.Body == nil {
		return errors.NewInvalidArgumentError("POST request must have a body")
	}
	if _, ok := req.Headers.Get("Content-Length"); !ok {
		return errors.NewInvalidArgumentError("POST request must have Content-Length header")
	}
	return nil
}
