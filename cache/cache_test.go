package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handle struct{ key int }

func TestOrderedGetOrComputeExactlyOnce(t *testing.T) {
	c := NewOrdered[int, *handle]()
	var calls atomic.Int32
	const n = 64

	var wg sync.WaitGroup
	got := make([]*handle, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i], _ = c.GetOrCompute(7, func(k int) *handle {
				calls.Add(1)
				return &handle{key: k}
			})
		}(i)
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, h := range got {
		assert.Same(t, got[0], h)
	}
	assert.Equal(t, 1, c.Len())
}

func TestOrderedInsertionOrderAndRemoval(t *testing.T) {
	c := NewOrdered[string, *handle]()
	for i, k := range []string{"c", "a", "b"} {
		_, created := c.GetOrCompute(k, func(string) *handle { return &handle{key: i} })
		require.True(t, created)
	}

	var keys []string
	for k := range c.All() {
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"c", "a", "b"}, keys)

	a, _ := c.Get("a")
	assert.False(t, c.RemoveValue("a", &handle{}))
	assert.True(t, c.RemoveValue("a", a))
	assert.False(t, c.Remove("a"))
	assert.True(t, c.Remove("c"))

	_, ok := c.Get("c")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestOrderedRemoveAllDuringIteration(t *testing.T) {
	c := NewOrdered[int, *handle]()
	for i := 0; i < 10; i++ {
		c.GetOrCompute(i, func(k int) *handle { return &handle{key: k} })
	}
	seen := 0
	for k := range c.All() {
		seen++
		c.Remove(k + 1)
	}
	assert.Equal(t, 10, seen, "iteration runs over a snapshot")

	c2 := NewOrdered[int, *handle]()
	for i := 0; i < 10; i++ {
		c2.GetOrCompute(i, func(k int) *handle { return &handle{key: k} })
	}
	removed := c2.RemoveAll(func(k int, _ *handle) bool { return k%2 == 0 })
	assert.Equal(t, 5, removed)
	assert.Equal(t, 5, c2.Len())

	c2.Clear()
	assert.Equal(t, 0, c2.Len())
	for range c2.All() {
		t.Fatalf("cleared cache still yields entries")
	}
}

func TestOrderedRecreateAfterRemove(t *testing.T) {
	c := NewOrdered[int, *handle]()
	first, _ := c.GetOrCompute(1, func(k int) *handle { return &handle{key: k} })
	c.Remove(1)
	second, created := c.GetOrCompute(1, func(k int) *handle { return &handle{key: k} })
	assert.True(t, created)
	assert.NotSame(t, first, second)
}
