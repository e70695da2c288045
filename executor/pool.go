// Package executor provides the shared worker pool that runs every fetch,
// save and continuation. No goroutines are created beyond the fixed workers.
package executor

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

var ErrClosed = errors.New("executor: closed")

type Options struct {
	Workers int // 0 => GOMAXPROCS
	Queue   int // 0 => 1024
	// OnPanic receives values recovered from tasks. nil drops them.
	OnPanic func(v any)
}

// Pool is a fixed set of workers draining a bounded queue. When the queue is
// full the submitting goroutine runs the task itself.
type Pool struct {
	q       chan func()
	wg      sync.WaitGroup
	onPanic func(any)

	mu     sync.RWMutex // guards closed against sends on q
	closed bool

	idleMu  sync.Mutex
	pending int
	idle    chan struct{} // closed while pending == 0
}

func New(opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	qlen := opts.Queue
	if qlen <= 0 {
		qlen = 1024
	}
	p := &Pool{q: make(chan func(), qlen), onPanic: opts.OnPanic, idle: make(chan struct{})}
	close(p.idle)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for f := range p.q {
				p.run(f)
			}
		}()
	}
	return p
}

// Submit schedules f. It never blocks on a full queue: f runs on the
// caller's goroutine instead.
func (p *Pool) Submit(f func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.begin()
	select {
	case p.q <- f:
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		p.run(f)
	}
	return nil
}

// Go is Submit for callers that run f inline once the pool is closed.
func (p *Pool) Go(f func()) {
	if err := p.Submit(f); err != nil {
		p.begin()
		p.run(f)
	}
}

func (p *Pool) run(f func()) {
	defer p.done()
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	f()
}

func (p *Pool) begin() {
	p.idleMu.Lock()
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
	p.idleMu.Unlock()
}

func (p *Pool) done() {
	p.idleMu.Lock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
	p.idleMu.Unlock()
}

// Pending is the number of submitted tasks that have not finished.
func (p *Pool) Pending() int {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	return p.pending
}

// AwaitAll blocks until every submitted task, including tasks submitted
// while waiting, has finished or ctx is done.
func (p *Pool) AwaitAll(ctx context.Context) error {
	for {
		p.idleMu.Lock()
		ch, n := p.idle, p.pending
		p.idleMu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting tasks and waits for queued ones to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.q)
	p.mu.Unlock()
	p.wg.Wait()
}
