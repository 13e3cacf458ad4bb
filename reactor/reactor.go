// Package reactor turns readiness events on non-blocking sockets into
// suspending Connect, Read and Write calls.
//
// A single background goroutine owns the epoll instance and every
// registration. Callers never touch epoll: they enqueue a one-shot operation,
// kick the loop through an eventfd and wait. When the socket becomes ready the
// loop performs exactly one non-blocking syscall for the operation, removes
// the registration and hands the result back. A stream that needs N reads
// therefore registers N times.
package reactor

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/nczempin/httpc-go-reactor/resolver"
)

// ErrShutdown is returned by every operation issued after, or still pending
// at, Shutdown.
var ErrShutdown = errors.New("reactor: shut down")

// Executor runs blocking work away from the reactor goroutine.
type Executor interface {
	Run(ctx context.Context, name string, task func()) error
}

// DefaultEventBatch is the number of epoll events fetched per wait.
const DefaultEventBatch = 128

// Option configures a Reactor.
type Option func(*Reactor)

// WithResolver replaces the DNS resolver used by Connect.
func WithResolver(r resolver.Resolver) Option {
	return func(re *Reactor) {
		if r != nil {
			re.resolver = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(re *Reactor) {
		if logger != nil {
			re.logger = logger
		}
	}
}

// WithEventBatch sets how many readiness events one wait can return.
func WithEventBatch(n int) Option {
	return func(re *Reactor) {
		if n > 0 {
			re.eventBatch = n
		}
	}
}

type command struct {
	op     *operation
	cancel bool
}

// Reactor multiplexes socket readiness for any number of callers.
type Reactor struct {
	epfd   int
	wakefd int

	exec       Executor
	resolver   resolver.Resolver
	logger     *zap.Logger
	eventBatch int

	mu      sync.Mutex
	queue   []command
	closing atomic.Bool
	stopped chan struct{}

	// owned by the loop goroutine
	registered map[int]*operation

	// registrations counts every epoll registration made; live is the size
	// of registered.
	registrations atomic.Uint64
	live          atomic.Int32
}

// New creates a reactor and starts its loop. exec runs DNS lookups.
func New(exec Executor, opts ...Option) (*Reactor, error) {
	if exec == nil {
		return nil, errors.New("reactor: nil executor")
	}
	r := &Reactor{
		exec:       exec,
		resolver:   resolver.Default,
		logger:     zap.NewNop(),
		eventBatch: DefaultEventBatch,
		stopped:    make(chan struct{}),
		registered: make(map[int]*operation),
	}
	for _, opt := range opts {
		opt(r)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "eventfd")
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, errors.Wrap(err, "register wake fd")
	}
	r.epfd = epfd
	r.wakefd = wakefd

	go r.loop()
	return r, nil
}

// Connect resolves address on the executor, opens a non-blocking socket and
// suspends until the connection is established or has failed. network is
// "tcp", "tcp4", "tcp6" or "unix".
func (r *Reactor) Connect(ctx context.Context, network, address string) (*Conn, error) {
	if r.closing.Load() {
		return nil, ErrShutdown
	}

	var addr net.Addr
	var resolveErr error
	err := r.exec.Run(ctx, "dns", func() {
		addr, resolveErr = r.resolver.Resolve(ctx, network, address)
	})
	if err != nil {
		return nil, err
	}
	if resolveErr != nil {
		return nil, resolveErr
	}

	family := sockaddrnet.NetAddrAF(addr)
	sa := sockaddrnet.NetAddrToSockaddr(addr)
	if family == unix.AF_UNSPEC || sa == nil {
		return nil, errors.Errorf("reactor: unsupported address %v", addr)
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	if family != unix.AF_UNIX {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			unix.Close(fd)
			return nil, errors.Wrap(err, "set TCP_NODELAY")
		}
	}
	conn := &Conn{fd: fd, remote: addr, reactor: r}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS && err != unix.EAGAIN {
		conn.Close()
		return nil, err
	}

	if _, err := r.await(ctx, newOperation(conn, Connectable, nil)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Read suspends until conn is readable and performs one read into p. It
// returns io.EOF once the peer has closed its side.
func (r *Reactor) Read(ctx context.Context, conn *Conn, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return r.await(ctx, newOperation(conn, Readable, p))
}

// Write suspends until conn is writable and performs one write of p. It may
// write fewer than len(p) bytes.
func (r *Reactor) Write(ctx context.Context, conn *Conn, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return r.await(ctx, newOperation(conn, Writable, p))
}

func (r *Reactor) await(ctx context.Context, op *operation) (int, error) {
	conn := op.conn
	if conn.Closed() {
		return 0, net.ErrClosed
	}
	conn.pending.Store(op)
	defer conn.pending.CompareAndSwap(op, nil)
	// Close may have missed the op it raced with
	if conn.Closed() && op.state.CompareAndSwap(opPending, opFiring) {
		return 0, net.ErrClosed
	}
	if err := r.submit(command{op: op}); err != nil {
		return 0, err
	}
	select {
	case res := <-op.done:
		return res.n, res.err
	case <-ctx.Done():
	}
	for {
		if op.state.CompareAndSwap(opPending, opCancelled) {
			// the loop may already be gone; nothing is left to deregister then
			_ = r.submit(command{op: op, cancel: true})
			return 0, ctx.Err()
		}
		// the loop is running the syscall right now, its result is imminent
		select {
		case res := <-op.done:
			return res.n, res.err
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *Reactor) submit(cmd command) error {
	r.mu.Lock()
	if r.closing.Load() {
		r.mu.Unlock()
		return ErrShutdown
	}
	r.queue = append(r.queue, cmd)
	r.wake()
	r.mu.Unlock()
	return nil
}

// wake must be called with mu held so it cannot race teardown closing the fd.
func (r *Reactor) wake() {
	if r.wakefd < 0 {
		return
	}
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	// EAGAIN means the counter is already non-zero, the loop will wake anyway
	_, _ = unix.Write(r.wakefd, one[:])
}

// Shutdown stops the loop and releases epoll. Pending operations fail with
// ErrShutdown. It blocks until the loop has exited and is safe to call more
// than once.
func (r *Reactor) Shutdown() {
	r.mu.Lock()
	if !r.closing.Swap(true) {
		r.wake()
	}
	r.mu.Unlock()
	<-r.stopped
}

func (r *Reactor) loop() {
	defer close(r.stopped)
	events := make([]unix.EpollEvent, r.eventBatch)
	for !r.closing.Load() {
		r.drain()
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.logger.Error("epoll_wait failed", zap.Error(err))
			break
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakefd {
				r.clearWake()
				continue
			}
			if op, ok := r.registered[fd]; ok {
				r.fire(op)
			}
		}
	}
	r.teardown()
}

func (r *Reactor) drain() {
	r.mu.Lock()
	cmds := r.queue
	r.queue = nil
	r.mu.Unlock()
	for _, cmd := range cmds {
		if cmd.cancel {
			r.deregister(cmd.op)
			continue
		}
		r.register(cmd.op)
	}
}

func (r *Reactor) register(op *operation) {
	if op.state.Load() != opPending {
		return
	}
	fd := op.conn.fd
	ev := unix.EpollEvent{Events: op.interest.events(), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		r.logger.Debug("register failed", zap.Int("fd", fd), zap.Stringer("interest", op.interest), zap.Error(err))
		if op.state.CompareAndSwap(opPending, opFiring) {
			op.done <- result{err: errors.Wrapf(err, "register %s interest", op.interest)}
		}
		return
	}
	r.registered[fd] = op
	r.registrations.Add(1)
	r.live.Add(1)
}

func (r *Reactor) deregister(op *operation) {
	fd := op.conn.fd
	if cur, ok := r.registered[fd]; !ok || cur != op {
		return
	}
	delete(r.registered, fd)
	r.live.Add(-1)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		r.logger.Debug("deregister failed", zap.Int("fd", fd), zap.Error(err))
	}
}

func (r *Reactor) fire(op *operation) {
	if !op.state.CompareAndSwap(opPending, opFiring) {
		r.deregister(op)
		return
	}
	res, finished := op.perform()
	if !finished {
		op.state.Store(opPending)
		return
	}
	r.deregister(op)
	if op.interest == Connectable && res.err != nil {
		op.conn.Close()
	}
	op.done <- res
}

func (r *Reactor) clearWake() {
	var buf [8]byte
	_, _ = unix.Read(r.wakefd, buf[:])
}

func (r *Reactor) teardown() {
	r.mu.Lock()
	r.closing.Store(true)
	cmds := r.queue
	r.queue = nil
	unix.Close(r.wakefd)
	r.wakefd = -1
	r.mu.Unlock()
	fail := func(op *operation) {
		if op.state.CompareAndSwap(opPending, opFiring) {
			op.done <- result{err: ErrShutdown}
		}
	}
	for _, cmd := range cmds {
		if !cmd.cancel {
			fail(cmd.op)
		}
	}
	for fd, op := range r.registered {
		delete(r.registered, fd)
		r.live.Add(-1)
		fail(op)
	}
	unix.Close(r.epfd)
	r.logger.Debug("reactor stopped")
}
