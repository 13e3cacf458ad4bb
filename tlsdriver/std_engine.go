package tlsdriver

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nczempin/httpc-go-reactor/buffer"
)

// maxRecordPlaintext is the most plaintext one TLS record carries.
const maxRecordPlaintext = 16 << 10

var errEngineClosed = errors.New("tlsdriver: engine closed")

// StdEngine is an Engine backed by crypto/tls. The tls.Conn runs on an
// internal goroutine over an in-memory connection: ciphertext handed to
// Unwrap becomes its input and whatever it writes is collected for Wrap.
// While that goroutine computes, for example verifying certificates, the
// engine reports NeedTask and the delegated task waits for it to stall.
type StdEngine struct {
	conn *tls.Conn

	mu          sync.Mutex
	cond        *sync.Cond
	in          []byte   // ciphertext not yet read by conn
	out         []byte   // ciphertext written by conn, not yet wrapped
	plain       [][]byte // decrypted records, oldest first
	readWaiting bool     // conn is blocked reading with no input
	started     bool
	done        bool
	reported    bool
	closed      bool
	hsErr       error
	readErr     error
	exited      chan struct{}
}

// NewClientEngine returns a client-side engine. cfg needs ServerName or
// InsecureSkipVerify like any tls client config.
func NewClientEngine(cfg *tls.Config) *StdEngine {
	e := newStdEngine()
	e.conn = tls.Client(&pipeConn{e: e}, cfg)
	return e
}

// NewServerEngine returns a server-side engine.
func NewServerEngine(cfg *tls.Config) *StdEngine {
	e := newStdEngine()
	e.conn = tls.Server(&pipeConn{e: e}, cfg)
	return e
}

func newStdEngine() *StdEngine {
	e := &StdEngine{exited: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// ConnectionState reports the negotiated parameters once the handshake is
// done.
func (e *StdEngine) ConnectionState() tls.ConnectionState {
	return e.conn.ConnectionState()
}

func (e *StdEngine) BeginHandshake() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEngineClosed
	}
	if e.started {
		return errors.New("tlsdriver: handshake already started")
	}
	e.started = true
	go e.run()
	return nil
}

// run performs the handshake, then keeps decrypting incoming records.
func (e *StdEngine) run() {
	defer close(e.exited)

	err := e.conn.Handshake()
	e.mu.Lock()
	if err != nil {
		e.hsErr = err
	} else {
		e.done = true
	}
	e.cond.Broadcast()
	e.mu.Unlock()
	if err != nil {
		return
	}

	buf := make([]byte, maxRecordPlaintext)
	for {
		n, err := e.conn.Read(buf)
		e.mu.Lock()
		if n > 0 {
			e.plain = append(e.plain, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			e.readErr = err
		}
		e.cond.Broadcast()
		e.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (e *StdEngine) HandshakeStatus() (HandshakeStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked(true)
}

func (e *StdEngine) statusLocked(report bool) (HandshakeStatus, error) {
	if len(e.out) > 0 {
		return NeedWrap, nil
	}
	if e.hsErr != nil {
		return NotHandshaking, e.hsErr
	}
	if e.done {
		if e.reported {
			return NotHandshaking, nil
		}
		if report {
			e.reported = true
		}
		return Finished, nil
	}
	if e.closed {
		return NotHandshaking, errEngineClosed
	}
	if !e.started {
		return NotHandshaking, nil
	}
	if e.readWaiting && len(e.in) == 0 {
		return NeedUnwrap, nil
	}
	return NeedTask, nil
}

// handshakeStalledLocked reports whether the handshake goroutine cannot make
// progress without the driver.
func (e *StdEngine) handshakeStalledLocked() bool {
	return e.closed || e.hsErr != nil || e.done || len(e.out) > 0 ||
		(e.readWaiting && len(e.in) == 0)
}

// readStalledLocked is the same after the handshake: every byte of input
// has been decrypted.
func (e *StdEngine) readStalledLocked() bool {
	return e.closed || e.readErr != nil || (e.readWaiting && len(e.in) == 0)
}

func (e *StdEngine) DelegatedTask() func() {
	e.mu.Lock()
	status, err := e.statusLocked(false)
	e.mu.Unlock()
	if err != nil || status != NeedTask {
		return nil
	}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for !e.handshakeStalledLocked() {
			e.cond.Wait()
		}
	}
}

// Unwrap takes all ciphertext from src. During the handshake it returns once
// the engine has taken the input; afterwards it waits until the input is
// decrypted and copies whole records into dst.
func (e *StdEngine) Unwrap(src, dst *buffer.Buffer) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	if e.closed {
		res.Status = Closed
		return res, nil
	}
	if n := src.Remaining(); n > 0 {
		e.in = append(e.in, src.Bytes()...)
		src.Advance(n)
		res.Consumed = n
		e.cond.Broadcast()
	}

	if !e.done {
		for e.started && len(e.in) > 0 && !e.handshakeStalledLocked() {
			e.cond.Wait()
		}
		res.HandshakeStatus, _ = e.statusLocked(false)
		if e.hsErr != nil {
			return res, e.hsErr
		}
		if !e.done {
			if res.Consumed == 0 && res.HandshakeStatus == NeedUnwrap {
				res.Status = BufferUnderflow
			}
			return res, nil
		}
	}

	for !e.readStalledLocked() {
		e.cond.Wait()
	}
	res.HandshakeStatus, _ = e.statusLocked(false)

	if len(e.plain) > 0 {
		if dst.Remaining() < len(e.plain[0]) {
			res.Status = BufferOverflow
			return res, nil
		}
		for len(e.plain) > 0 && dst.Remaining() >= len(e.plain[0]) {
			res.Produced += dst.Write(e.plain[0])
			e.plain = e.plain[1:]
		}
		return res, nil
	}
	switch {
	case e.readErr == io.EOF:
		res.Status = Closed
	case e.readErr != nil:
		return res, e.readErr
	case e.closed:
		res.Status = Closed
	case res.Consumed == 0:
		res.Status = BufferUnderflow
	}
	return res, nil
}

// Wrap encrypts up to one record of src after the handshake and moves all
// pending records into dst. Pending records are drained before more
// plaintext is taken.
func (e *StdEngine) Wrap(src, dst *buffer.Buffer) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	if e.closed {
		res.Status = Closed
		return res, nil
	}
	if e.done && len(e.out) == 0 && src.HasRemaining() {
		p := src.Bytes()
		if len(p) > maxRecordPlaintext {
			p = p[:maxRecordPlaintext]
		}
		// conn writes back into out through the pipe, which takes mu
		e.mu.Unlock()
		n, err := e.conn.Write(p)
		e.mu.Lock()
		src.Advance(n)
		res.Consumed = n
		if err != nil {
			return res, err
		}
	}

	res.HandshakeStatus, _ = e.statusLocked(false)
	if len(e.out) > dst.Remaining() {
		res.Status = BufferOverflow
		return res, nil
	}
	res.Produced = dst.Write(e.out)
	e.out = e.out[:0]
	return res, nil
}

func (e *StdEngine) CloseOutbound() error {
	e.mu.Lock()
	ready := e.done && !e.closed
	e.mu.Unlock()
	if !ready {
		return nil
	}
	// the alert goes through the pipe into out
	return e.conn.CloseWrite()
}

// Close stops the internal goroutine and waits for it. Records not yet
// wrapped, including a close_notify queued by CloseOutbound, are discarded.
func (e *StdEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	started := e.started
	e.mu.Unlock()

	if started {
		_ = e.conn.Close()
	}
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	if started {
		<-e.exited
	}
	return nil
}

// pipeConn is the net.Conn the tls.Conn runs over.
type pipeConn struct {
	e *StdEngine
}

func (p *pipeConn) Read(b []byte) (int, error) {
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.in) == 0 {
		if e.closed {
			return 0, net.ErrClosed
		}
		e.readWaiting = true
		e.cond.Broadcast()
		e.cond.Wait()
		e.readWaiting = false
	}
	n := copy(b, e.in)
	e.in = e.in[n:]
	return n, nil
}

func (p *pipeConn) Write(b []byte) (int, error) {
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, net.ErrClosed
	}
	e.out = append(e.out, b...)
	e.cond.Broadcast()
	return len(b), nil
}

func (p *pipeConn) Close() error {
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cond.Broadcast()
	return nil
}

func (p *pipeConn) LocalAddr() net.Addr                { return pipeAddr{} }
func (p *pipeConn) RemoteAddr() net.Addr               { return pipeAddr{} }
func (p *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (p *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "tlsdriver" }
