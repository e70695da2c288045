// Package asynchook dispatches datacache hooks on a bounded queue so slow
// hook implementations never stall datastore workers. Events are dropped
// when the queue is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{MissEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	ds, _ := datacache.New(datacache.Options[int64, User]{
//	    Table: tbl,
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/datacache"
)

type Hooks struct {
	inner   datacache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ datacache.Hooks = (*Hooks)(nil)

func New(inner datacache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events raised after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events discarded on a full queue or after Close.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheMiss(s, id string) { h.try(func() { h.inner.CacheMiss(s, id) }) }
func (h *Hooks) FetchFailed(s, id string, err error) {
	h.try(func() { h.inner.FetchFailed(s, id, err) })
}
func (h *Hooks) SaveFailed(s, k string, err error) { h.try(func() { h.inner.SaveFailed(s, k, err) }) }
func (h *Hooks) DecodeFailed(s, f string, err error) {
	h.try(func() { h.inner.DecodeFailed(s, f, err) })
}
func (h *Hooks) ContinuationPanic(s string, v any) { h.try(func() { h.inner.ContinuationPanic(s, v) }) }
func (h *Hooks) Evicted(s string, n int)           { h.try(func() { h.inner.Evicted(s, n) }) }
func (h *Hooks) DeleteAllCompleted(s string, deleted int64, evicted int, err error) {
	h.try(func() { h.inner.DeleteAllCompleted(s, deleted, evicted, err) })
}
