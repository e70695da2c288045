// Package sturdyc adapts viccon/sturdyc as a sharded capacity/TTL item cache.
package sturdyc

import (
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"

	"github.com/unkn0wn-root/datacache/cache"
	"github.com/unkn0wn-root/datacache/internal/util"
)

// Config mirrors the constructor parameters of sturdyc.New.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
}

func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return errors.New("sturdyc: capacity must be positive")
	case c.NumShards <= 0:
		return errors.New("sturdyc: shards must be positive")
	case c.TTL <= 0:
		return errors.New("sturdyc: ttl must be positive")
	case c.EvictionPercentage < 1 || c.EvictionPercentage > 100:
		// a full client with no eviction refuses new entries
		return errors.New("sturdyc: eviction percentage must be within 1..100")
	}
	return nil
}

type entry[K comparable, V comparable] struct {
	key K
	val V
}

// Cache stores entries in a sturdyc client, which owns membership. The
// client has no eviction callback, so handed-out values are also kept in a
// live index: an indexed key the client no longer holds was dropped by it,
// and is reported to the OnEvict hook when noticed on lookup, iteration or
// a sweep. A mutex serializes get-or-compute.
type Cache[K comparable, V comparable] struct {
	client   *sturdyc.Client[*entry[K, V]]
	live     *xsync.MapOf[K, V]
	capacity int
	hook     func(K, V)
	mu       sync.Mutex
}

var _ cache.Cache[string, *int] = (*Cache[string, *int])(nil)

func New[K comparable, V comparable](cfg Config) (*Cache[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[*entry[K, V]](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage)
	return &Cache[K, V]{
		client:   client,
		live:     xsync.NewMapOf[K, V](),
		capacity: cfg.Capacity,
	}, nil
}

func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// held returns the value the client holds for key.
func (c *Cache[K, V]) held(key K) (V, bool) {
	e, ok := c.client.Get(util.KeyString(key))
	if !ok || e == nil {
		var zero V
		return zero, false
	}
	return e.val, true
}

// reap forgets v when the client no longer holds it and reports the drop.
func (c *Cache[K, V]) reap(key K, v V) {
	removed := false
	c.live.Compute(key, func(old V, loaded bool) (V, bool) {
		if loaded && old == v {
			if cur, ok := c.held(key); !ok || cur != v {
				removed = true
				return old, true
			}
		}
		return old, !loaded
	})
	if !removed {
		return
	}
	c.mu.Lock()
	fn := c.hook
	c.mu.Unlock()
	if fn != nil {
		fn(key, v)
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	if v, ok := c.held(key); ok {
		return v, true
	}
	if v, ok := c.live.Load(key); ok {
		c.reap(key, v)
	}
	var zero V
	return zero, false
}

func (c *Cache[K, V]) GetOrCompute(key K, factory func(K) V) (V, bool) {
	if v, ok := c.Get(key); ok {
		return v, false
	}
	c.mu.Lock()
	if v, ok := c.held(key); ok {
		c.mu.Unlock()
		return v, false
	}
	v := factory(key)
	c.client.Set(util.KeyString(key), &entry[K, V]{key: key, val: v})
	old, replaced := c.live.LoadAndStore(key, v)
	fn := c.hook
	c.mu.Unlock()
	if replaced && old != v && fn != nil {
		fn(key, old)
	}
	if c.live.Size() > c.capacity+c.capacity/8 {
		c.Sweep()
	}
	return v, true
}

// Sweep reports every entry the client dropped since it was handed out and
// returns how many were found.
func (c *Cache[K, V]) Sweep() int {
	type kv struct {
		k K
		v V
	}
	var gone []kv
	c.live.Range(func(k K, v V) bool {
		if cur, ok := c.held(k); !ok || cur != v {
			gone = append(gone, kv{k, v})
		}
		return true
	})
	for _, e := range gone {
		c.reap(e.k, e.v)
	}
	return len(gone)
}

func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks := util.KeyString(key)
	e, ok := c.client.Get(ks)
	if !ok || e == nil {
		return false
	}
	c.client.Delete(ks)
	c.live.Compute(key, func(old V, loaded bool) (V, bool) {
		return old, !loaded || old == e.val
	})
	return true
}

func (c *Cache[K, V]) RemoveValue(key K, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks := util.KeyString(key)
	e, ok := c.client.Get(ks)
	if !ok || e == nil || e.val != v {
		return false
	}
	c.client.Delete(ks)
	c.live.Compute(key, func(old V, loaded bool) (V, bool) {
		return old, !loaded || old == v
	})
	return true
}

func (c *Cache[K, V]) Len() int { return c.client.Size() }

func (c *Cache[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		c.Sweep()
		for _, ks := range c.client.ScanKeys() {
			e, ok := c.client.Get(ks)
			if !ok || e == nil {
				continue
			}
			if !yield(e.key, e.val) {
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
}
