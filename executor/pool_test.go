package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndAwaitAll(t *testing.T) {
	p := New(Options{Workers: 4, Queue: 8})
	defer p.Close()

	var n atomic.Int32
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(time.Millisecond)
			n.Add(1)
		}))
	}
	require.NoError(t, p.AwaitAll(context.Background()))
	assert.EqualValues(t, 100, n.Load())
	assert.Equal(t, 0, p.Pending())
}

func TestAwaitAllIncludesNestedSubmissions(t *testing.T) {
	p := New(Options{Workers: 2})
	defer p.Close()

	var n atomic.Int32
	require.NoError(t, p.Submit(func() {
		time.Sleep(5 * time.Millisecond)
		_ = p.Submit(func() {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
		})
	}))
	require.NoError(t, p.AwaitAll(context.Background()))
	assert.EqualValues(t, 1, n.Load())
}

func TestAwaitAllTimeout(t *testing.T) {
	p := New(Options{Workers: 1})
	defer p.Close()

	release := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.AwaitAll(ctx), context.DeadlineExceeded)
	close(release)
}

func TestCallerRunsWhenSaturated(t *testing.T) {
	p := New(Options{Workers: 1, Queue: 1})
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(started); <-block }))
	<-started
	require.NoError(t, p.Submit(func() {})) // fills the queue

	ran := false
	require.NoError(t, p.Submit(func() { ran = true }))
	assert.True(t, ran, "task should run on the submitting goroutine")
	close(block)
}

func TestPanicRecovered(t *testing.T) {
	var mu sync.Mutex
	var got any
	p := New(Options{Workers: 1, OnPanic: func(v any) {
		mu.Lock()
		got = v
		mu.Unlock()
	}})
	defer p.Close()

	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.AwaitAll(context.Background()))
	mu.Lock()
	assert.Equal(t, "boom", got)
	mu.Unlock()
}

func TestClosedPool(t *testing.T) {
	p := New(Options{Workers: 1})
	var n atomic.Int32
	require.NoError(t, p.Submit(func() { n.Add(1) }))
	p.Close()
	p.Close()
	assert.EqualValues(t, 1, n.Load())
	assert.ErrorIs(t, p.Submit(func() {}), ErrClosed)

	ran := false
	p.Go(func() { ran = true })
	assert.True(t, ran)
}
