package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Run(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	defer p.Release()

	ran := false
	require.NoError(t, p.Run(context.Background(), "lookup", func() { ran = true }))
	assert.True(t, ran)
}

func TestPool_RunPanic(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)
	defer p.Release()

	err = p.Run(context.Background(), "explode", func() { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explode task panicked: boom")

	// the worker survives
	require.NoError(t, p.Run(context.Background(), "after", func() {}))
}

func TestPool_RunCanceled(t *testing.T) {
	defer leaktest.Check(t)()

	p, err := New(1)
	require.NoError(t, err)

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = p.Run(ctx, "stuck", func() { <-release })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// abandoned, not finished
	assert.Equal(t, 1, p.Running())

	close(release)
	p.Release()
}

func TestPool_Bounded(t *testing.T) {
	const size = 3
	p, err := New(size)
	require.NoError(t, err)
	defer p.Release()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Run(context.Background(), "work", func() {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
			}))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Equal(t, 0, p.Running())
	assert.LessOrEqual(t, p.Workers(), size)
}

func TestPool_RunningCountsTasksNotWorkers(t *testing.T) {
	p, err := New(4)
	require.NoError(t, err)
	defer p.Release()

	// leaves an idle worker behind
	require.NoError(t, p.Run(context.Background(), "warm", func() {}))
	assert.Equal(t, 0, p.Running())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), "busy", func() {
			close(started)
			<-release
		})
	}()
	<-started
	assert.Equal(t, 1, p.Running())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, p.Running())
}

func TestNew_DefaultSize(t *testing.T) {
	p, err := New(0)
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, DefaultSize, p.pool.Cap())
}
