package datacache

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/unkn0wn-root/datacache/executor"
)

// env is the execution environment shared by a datastore and every status
// object it hands out.
type env struct {
	pool  *executor.Pool
	log   Logger
	hooks Hooks
	store string
}

// submit runs f on the pool, or inline once the pool is closed.
func (e *env) submit(f func()) { e.pool.Go(f) }

// guard runs fn and converts a panic into a logged *PanicError.
func (e *env) guard(fn func()) (perr *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			perr = &PanicError{Value: r, Stack: debug.Stack()}
			e.log.Error("continuation panicked", Fields{"panic": r})
			e.hooks.ContinuationPanic(e.store, r)
		}
	}()
	fn()
	return nil
}

// Future is the pending result of an asynchronous operation. It completes
// exactly once. Continuations registered with Then run on the executor in
// registration order.
type Future[V any] struct {
	env  *env
	done chan struct{}

	mu       sync.Mutex
	complete bool
	val      V
	err      error
	conts    []func(V, error)
	draining bool
}

func newFuture[V any](e *env) *Future[V] {
	return &Future[V]{env: e, done: make(chan struct{})}
}

func completed[V any](e *env, v V, err error) *Future[V] {
	f := newFuture[V](e)
	f.resolve(v, err)
	return f
}

// resolve completes f. Later calls are ignored and report false.
func (f *Future[V]) resolve(v V, err error) bool {
	f.mu.Lock()
	if f.complete {
		f.mu.Unlock()
		return false
	}
	f.complete, f.val, f.err = true, v, err
	close(f.done)
	start := len(f.conts) > 0 && !f.draining
	if start {
		f.draining = true
	}
	f.mu.Unlock()
	if start {
		f.env.submit(f.drain)
	}
	return true
}

// drain runs queued continuations one at a time until none remain.
func (f *Future[V]) drain() {
	for {
		f.mu.Lock()
		if len(f.conts) == 0 {
			f.draining = false
			f.mu.Unlock()
			return
		}
		c := f.conts[0]
		f.conts = f.conts[1:]
		v, err := f.val, f.err
		f.mu.Unlock()
		c(v, err)
	}
}

func (f *Future[V]) onDone(c func(V, error)) {
	f.mu.Lock()
	f.conts = append(f.conts, c)
	start := f.complete && !f.draining
	if start {
		f.draining = true
	}
	f.mu.Unlock()
	if start {
		f.env.submit(f.drain)
	}
}

// Done is closed when the future completes.
func (f *Future[V]) Done() <-chan struct{} { return f.done }

// Completed reports whether the future has a result.
func (f *Future[V]) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future[V]) result() (V, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err
}

// Await blocks until the future completes.
func (f *Future[V]) Await() (V, error) {
	<-f.done
	return f.result()
}

// AwaitTimeout blocks for at most d and returns ErrTimeout when the future
// is still pending. The operation itself keeps running.
func (f *Future[V]) AwaitTimeout(d time.Duration) (V, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-f.done:
		return f.result()
	case <-t.C:
		var zero V
		return zero, ErrTimeout
	}
}

// AwaitContext blocks until the future completes or ctx is done.
func (f *Future[V]) AwaitContext(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Then runs fn after f completes and returns a future that completes with
// f's result once fn returns. A panic in fn fails the returned future with
// *PanicError.
func (f *Future[V]) Then(fn func(V, error)) *Future[V] {
	next := newFuture[V](f.env)
	f.onDone(func(v V, err error) {
		if perr := f.env.guard(func() { fn(v, err) }); perr != nil {
			var zero V
			next.resolve(zero, perr)
			return
		}
		next.resolve(v, err)
	})
	return next
}

// ThenApply maps the result of f through fn once f completes.
func ThenApply[V, R any](f *Future[V], fn func(V, error) (R, error)) *Future[R] {
	next := newFuture[R](f.env)
	f.onDone(func(v V, err error) {
		var (
			r    R
			rerr error
		)
		if perr := f.env.guard(func() { r, rerr = fn(v, err) }); perr != nil {
			var zero R
			next.resolve(zero, perr)
			return
		}
		next.resolve(r, rerr)
	})
	return next
}
