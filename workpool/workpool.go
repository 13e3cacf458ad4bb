// Package workpool runs blocking work (DNS lookups, TLS delegated tasks) on a
// bounded set of goroutines so that it never runs on the reactor goroutine.
package workpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultSize is the number of workers when none is configured.
const DefaultSize = 16

// Pool is a bounded worker pool.
type Pool struct {
	pool    *ants.Pool
	logger  *zap.Logger
	running atomic.Int32
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for task timing and panics.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pool with size workers.
func New(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v interface{}) {
		p.logger.Error("worker task panicked", zap.String("panic", fmt.Sprint(v)))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	p.pool = pool
	return p, nil
}

// Run submits task and suspends the caller until it has finished or ctx is
// done. A task abandoned through ctx keeps running to completion.
func (p *Pool) Run(ctx context.Context, name string, task func()) error {
	done := make(chan error, 1)
	err := p.pool.Submit(func() {
		start := time.Now()
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			if r := recover(); r != nil {
				p.logger.Error("worker task panicked", zap.String("task", name), zap.String("panic", fmt.Sprint(r)))
				done <- errors.Errorf("%s task panicked: %v", name, r)
				return
			}
			p.logger.Debug("task finished", zap.String("task", name), zap.Duration("elapsed", time.Since(start)))
			done <- nil
		}()
		task()
	})
	if err != nil {
		return errors.Wrapf(err, "submit %s task", name)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of tasks currently executing. Idle workers
// are not counted.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Workers returns the number of live worker goroutines, idle ones included.
func (p *Pool) Workers() int { return p.pool.Running() }

// Release stops accepting tasks and lets idle workers exit.
func (p *Pool) Release() {
	p.pool.Release()
}
