// Package ristretto adapts dgraph-io/ristretto as a bounded item cache.
package ristretto

import (
	"errors"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	rc "github.com/dgraph-io/ristretto"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/unkn0wn-root/datacache/cache"
	"github.com/unkn0wn-root/datacache/internal/util"
)

type Config[K comparable, V comparable] struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost of one entry; nil charges 1 per entry.
	Cost func(K, V) int64
	// OnEvict is called after the policy dropped an entry.
	OnEvict func(K, V)
	// Spill is how many entries refused by the admission policy stay
	// indexed while awaiting another admission attempt. Zero uses
	// min(MaxCost, 1024).
	Spill int
}

type entry[K comparable, V comparable] struct {
	key K
	val V
}

// Cache keeps an xsync index as the source of truth for membership and lets
// ristretto's TinyLFU policy decide which entries to drop. An entry the
// policy refuses is not dropped at once: it waits in a bounded spill queue
// and is offered again on its next Get, so a freshly computed value always
// outlives the call that created it. Iteration order is unspecified.
type Cache[K comparable, V comparable] struct {
	c       *rc.Cache
	index   *xsync.MapOf[K, V]
	cost    func(K, V) int64
	onEvict func(K, V)
	hook    atomic.Pointer[func(K, V)]

	mu       sync.Mutex // guards spill
	spill    []*entry[K, V]
	spillMax int
}

var _ cache.Cache[string, *int] = (*Cache[string, *int])(nil)

func New[K comparable, V comparable](cfg Config[K, V]) (*Cache[K, V], error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c := &Cache[K, V]{
		index:    xsync.NewMapOf[K, V](),
		cost:     cfg.Cost,
		onEvict:  cfg.OnEvict,
		spillMax: cfg.Spill,
	}
	if c.cost == nil {
		c.cost = func(K, V) int64 { return 1 }
	}
	if c.spillMax <= 0 {
		c.spillMax = int(min(cfg.MaxCost, 1024))
	}
	r, err := rc.NewCache(&rc.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		Metrics:            cfg.Metrics,
		OnEvict:            c.evicted,
		OnReject:           c.rejected,
		IgnoreInternalCost: true, // costs are entry counts, not bytes
	})
	if err != nil {
		return nil, err
	}
	c.c = r
	return c, nil
}

func (c *Cache[K, V]) evicted(item *rc.Item) {
	if e, ok := item.Value.(*entry[K, V]); ok {
		c.drop(e)
	}
}

func (c *Cache[K, V]) rejected(item *rc.Item) {
	if e, ok := item.Value.(*entry[K, V]); ok {
		c.hold(e)
	}
}

// offer hands e to ristretto. A set dropped by a full buffer is held like a
// refused one.
func (c *Cache[K, V]) offer(e *entry[K, V]) {
	if !c.c.Set(util.KeyString(e.key), e, c.cost(e.key, e.val)) {
		c.hold(e)
	}
}

// hold queues e behind every other refused entry. An earlier record for the
// same value is replaced so a re-offered entry keeps its place at the tail.
func (c *Cache[K, V]) hold(e *entry[K, V]) {
	c.mu.Lock()
	c.spill = slices.DeleteFunc(c.spill, func(o *entry[K, V]) bool {
		return o.key == e.key && o.val == e.val
	})
	c.spill = append(c.spill, e)
	var over []*entry[K, V]
	if n := len(c.spill) - c.spillMax; n > 0 {
		over = append(over, c.spill[:n]...)
		c.spill = append([]*entry[K, V](nil), c.spill[n:]...)
	}
	c.mu.Unlock()
	for _, o := range over {
		if !c.admitted(o) {
			c.drop(o)
		}
	}
}

// admitted reports whether ristretto currently holds e's value.
func (c *Cache[K, V]) admitted(e *entry[K, V]) bool {
	got, ok := c.c.Get(util.KeyString(e.key))
	if !ok {
		return false
	}
	held, ok := got.(*entry[K, V])
	return ok && held.val == e.val
}

func (c *Cache[K, V]) drop(e *entry[K, V]) {
	if !c.unindex(e.key, e.val) {
		return
	}
	if c.onEvict != nil {
		c.onEvict(e.key, e.val)
	}
	if fn := c.hook.Load(); fn != nil {
		(*fn)(e.key, e.val)
	}
}

// OnEvict registers fn in addition to Config.OnEvict.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	if fn == nil {
		c.hook.Store(nil)
		return
	}
	c.hook.Store(&fn)
}

func (c *Cache[K, V]) unindex(key K, v V) bool {
	removed := false
	c.index.Compute(key, func(old V, loaded bool) (V, bool) {
		if loaded && old == v {
			removed = true
			return old, true
		}
		return old, !loaded
	})
	return removed
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.index.Load(key)
	if !ok {
		return v, false
	}
	// also feeds the admission policy
	if _, held := c.c.Get(util.KeyString(key)); !held {
		c.offer(&entry[K, V]{key: key, val: v})
	}
	return v, true
}

func (c *Cache[K, V]) GetOrCompute(key K, factory func(K) V) (V, bool) {
	if v, ok := c.Get(key); ok {
		return v, false
	}
	v, loaded := c.index.LoadOrCompute(key, func() V { return factory(key) })
	if !loaded {
		c.offer(&entry[K, V]{key: key, val: v})
		c.c.Wait()
	}
	return v, !loaded
}

func (c *Cache[K, V]) Remove(key K) bool {
	_, ok := c.index.LoadAndDelete(key)
	if ok {
		c.c.Del(util.KeyString(key))
	}
	return ok
}

func (c *Cache[K, V]) RemoveValue(key K, v V) bool {
	if !c.unindex(key, v) {
		return false
	}
	c.c.Del(util.KeyString(key))
	return true
}

func (c *Cache[K, V]) Len() int { return c.index.Size() }

func (c *Cache[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		type kv struct {
			k K
			v V
		}
		var snap []kv
		c.index.Range(func(k K, v V) bool {
			snap = append(snap, kv{k, v})
			return true
		})
		for _, e := range snap {
			if !yield(e.k, e.v) {
				return
			}
		}
	}
}

func (c *Cache[K, V]) RemoveAll(pred func(K, V) bool) int {
	n := 0
	for k, v := range c.All() {
		if pred(k, v) && c.RemoveValue(k, v) {
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) Clear() {
	c.RemoveAll(func(K, V) bool { return true })
	c.mu.Lock()
	c.spill = nil
	c.mu.Unlock()
}

// Metrics exposes ristretto counters when Config.Metrics is set.
func (c *Cache[K, V]) Metrics() *rc.Metrics { return c.c.Metrics }

func (c *Cache[K, V]) Close() {
	c.c.Wait()
	c.c.Close()
}
