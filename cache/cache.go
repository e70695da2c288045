// Package cache holds the key-addressed containers of live item handles.
package cache

import (
	"container/list"
	"iter"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Cache is a concurrent key-addressed container.
//
// GetOrCompute is atomic per key: concurrent callers for the same absent key
// invoke factory at most once and all observe the same value. All never fails
// on concurrent modification.
type Cache[K comparable, V comparable] interface {
	Get(key K) (V, bool)
	GetOrCompute(key K, factory func(K) V) (v V, created bool)
	// Remove drops key and reports whether it was present.
	Remove(key K) bool
	// RemoveValue drops key only while it still maps to v.
	RemoveValue(key K, v V) bool
	Len() int
	All() iter.Seq2[K, V]
	// RemoveAll drops every entry matching pred and returns the count.
	RemoveAll(pred func(K, V) bool) int
	Clear()
	// OnEvict registers fn for entries the cache drops on its own through
	// capacity or expiry. Remove, RemoveValue, RemoveAll and Clear do not
	// call it. fn may run on a background goroutine.
	OnEvict(fn func(K, V))
}

type node[K comparable, V comparable] struct {
	key  K
	val  V
	elem *list.Element
}

// Ordered is a map plus insertion-ordered list: O(1) lookup through an
// xsync map, O(n) iteration in insertion order.
type Ordered[K comparable, V comparable] struct {
	m     *xsync.MapOf[K, *node[K, V]]
	mu    sync.Mutex // guards order
	order *list.List
}

var _ Cache[string, *int] = (*Ordered[string, *int])(nil)

func NewOrdered[K comparable, V comparable]() *Ordered[K, V] {
	return &Ordered[K, V]{
		m:     xsync.NewMapOf[K, *node[K, V]](),
		order: list.New(),
	}
}

func (c *Ordered[K, V]) Get(key K) (V, bool) {
	n, ok := c.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return n.val, true
}

func (c *Ordered[K, V]) GetOrCompute(key K, factory func(K) V) (V, bool) {
	if n, ok := c.m.Load(key); ok {
		return n.val, false
	}
	n, loaded := c.m.LoadOrCompute(key, func() *node[K, V] {
		n := &node[K, V]{key: key, val: factory(key)}
		c.mu.Lock()
		n.elem = c.order.PushBack(n)
		c.mu.Unlock()
		return n
	})
	return n.val, !loaded
}

func (c *Ordered[K, V]) Remove(key K) bool {
	n, ok := c.m.LoadAndDelete(key)
	if ok {
		c.unlink(n)
	}
	return ok
}

func (c *Ordered[K, V]) RemoveValue(key K, v V) bool {
	var removed *node[K, V]
	c.m.Compute(key, func(old *node[K, V], loaded bool) (*node[K, V], bool) {
		if loaded && old.val == v {
			removed = old
			return old, true
		}
		return old, !loaded
	})
	if removed == nil {
		return false
	}
	c.unlink(removed)
	return true
}

func (c *Ordered[K, V]) unlink(n *node[K, V]) {
	c.mu.Lock()
	c.order.Remove(n.elem)
	c.mu.Unlock()
}

func (c *Ordered[K, V]) Len() int { return c.m.Size() }

// All iterates a snapshot taken at call time, in insertion order.
func (c *Ordered[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, n := range c.snapshot() {
			if !yield(n.key, n.val) {
				return
			}
		}
	}
}

func (c *Ordered[K, V]) snapshot() []*node[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*node[K, V], 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*node[K, V]))
	}
	return out
}

func (c *Ordered[K, V]) RemoveAll(pred func(K, V) bool) int {
	n := 0
	for _, nd := range c.snapshot() {
		if pred(nd.key, nd.val) && c.RemoveValue(nd.key, nd.val) {
			n++
		}
	}
	return n
}

// OnEvict is a no-op: Ordered never drops entries on its own.
func (c *Ordered[K, V]) OnEvict(func(K, V)) {}

func (c *Ordered[K, V]) Clear() {
	c.RemoveAll(func(K, V) bool { return true })
}
