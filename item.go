package datacache

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const neverPulled = -1

// Item is the cached handle of one record. At most one live Item exists per
// key in a datastore. The value is only ever replaced wholesale; concurrent
// writers are last-write-wins.
//
// Timestamps are kept as seconds since creation in 32 bits and saturate at
// math.MaxInt32.
type Item[K comparable, T any] struct {
	key     K
	ds      *Datastore[K, T]
	created time.Time

	mu    sync.RWMutex
	value *T

	pulled     atomic.Int32
	referenced atomic.Int32
	disposed   atomic.Bool
}

func newItem[K comparable, T any](ds *Datastore[K, T], key K) *Item[K, T] {
	it := &Item[K, T]{key: key, ds: ds, created: ds.now()}
	it.pulled.Store(neverPulled)
	return it
}

func (it *Item[K, T]) offset() int32 {
	d := it.ds.now().Sub(it.created) / time.Second
	switch {
	case d <= 0:
		return 0
	case d >= math.MaxInt32:
		return math.MaxInt32
	}
	return int32(d)
}

func (it *Item[K, T]) touch() { it.referenced.Store(it.offset()) }

func (it *Item[K, T]) Key() K { return it.key }

// Value returns the current value, nil when absent.
func (it *Item[K, T]) Value() *T {
	it.touch()
	return it.load()
}

func (it *Item[K, T]) load() *T {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.value
}

func (it *Item[K, T]) replace(v *T) {
	it.mu.Lock()
	it.value = v
	it.mu.Unlock()
}

// Loaded reports whether a value is present.
func (it *Item[K, T]) Loaded() bool { return it.load() != nil }

// Set replaces the value. v must carry this item's key.
func (it *Item[K, T]) Set(v *T) error {
	if it.disposed.Load() {
		return ErrDisposed
	}
	if v == nil {
		return usage("set", "nil value; use Clear")
	}
	k, err := it.ds.codec.Key(v)
	if err != nil {
		return err
	}
	if k != it.key {
		return usage("set", "value key %v does not match item key %v", k, it.key)
	}
	it.replace(v)
	it.touch()
	return nil
}

// DefaultIfAbsent installs the codec default for this key when no value is
// present. It is a no-op otherwise.
func (it *Item[K, T]) DefaultIfAbsent() error {
	if it.disposed.Load() {
		return ErrDisposed
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.value != nil {
		return nil
	}
	v, err := it.ds.codec.Default(it.key)
	if err != nil {
		return err
	}
	it.value = v
	return nil
}

// ResetToDefaults unconditionally replaces the value with the codec default.
func (it *Item[K, T]) ResetToDefaults() error {
	if it.disposed.Load() {
		return ErrDisposed
	}
	v, err := it.ds.codec.Default(it.key)
	if err != nil {
		return err
	}
	it.replace(v)
	return nil
}

// Clear drops the value, returning the item to the referenced-empty state.
func (it *Item[K, T]) Clear() { it.replace(nil) }

// Pull reads this key from the table and replaces the value. It reports
// false, leaving the value untouched, when the table has no record.
func (it *Item[K, T]) Pull(ctx context.Context) (bool, error) {
	if it.disposed.Load() {
		return false, ErrDisposed
	}
	ds := it.ds
	q, err := ds.keyQuery(it.key)
	if err != nil {
		return false, err
	}
	res, err := ds.tbl.FindOne(ctx, q)
	if err != nil {
		return false, err
	}
	if !res.Found {
		return false, nil
	}
	v, err := ds.codec.DecodeNew(res.Input)
	if err != nil {
		ds.decodeFailed(err)
		return false, err
	}
	it.loaded(v)
	return true, nil
}

// loaded installs a value read from the table.
func (it *Item[K, T]) loaded(v *T) {
	it.replace(v)
	it.pulled.Store(it.offset())
	it.touch()
}

// PullAsync runs Pull on the executor. A disposed item fails at once.
func (it *Item[K, T]) PullAsync(ctx context.Context) *Future[bool] {
	if it.disposed.Load() {
		return completed(it.ds.env, false, ErrDisposed)
	}
	f := newFuture[bool](it.ds.env)
	ctx = context.WithoutCancel(ctx)
	it.ds.env.submit(func() { f.resolve(it.Pull(ctx)) })
	return f
}

// Save upserts the current value by key. It reports false without writing
// when no value is present.
func (it *Item[K, T]) Save(ctx context.Context) (bool, error) {
	if it.disposed.Load() {
		return false, ErrDisposed
	}
	v := it.load()
	if v == nil {
		return false, nil
	}
	ds := it.ds
	out, err := ds.codec.EncodeTo(v)
	if err != nil {
		return false, err
	}
	if err := ds.tbl.UpsertOne(ctx, out); err != nil {
		ds.log.Warn("save failed", Fields{"key": it.key, "err": err})
		ds.hooks.SaveFailed(ds.name, keyString(it.key), err)
		return false, err
	}
	return true, nil
}

// SaveAsync runs Save on the executor. A disposed item fails at once.
func (it *Item[K, T]) SaveAsync(ctx context.Context) *Future[bool] {
	if it.disposed.Load() {
		return completed(it.ds.env, false, ErrDisposed)
	}
	f := newFuture[bool](it.ds.env)
	ctx = context.WithoutCancel(ctx)
	it.ds.env.submit(func() { f.resolve(it.Save(ctx)) })
	return f
}

// Dispose removes the item from its datastore's cache. A disposed item is
// terminal; referencing the key again creates a new item.
func (it *Item[K, T]) Dispose() {
	if it.disposed.CompareAndSwap(false, true) {
		it.ds.cache.RemoveValue(it.key, it)
	}
}

func (it *Item[K, T]) Disposed() bool { return it.disposed.Load() }

func (it *Item[K, T]) CreatedAt() time.Time { return it.created }

// LastPulled reports when the value was last read from the table.
func (it *Item[K, T]) LastPulled() (time.Time, bool) {
	off := it.pulled.Load()
	if off == neverPulled {
		return time.Time{}, false
	}
	return it.created.Add(time.Duration(off) * time.Second), true
}

func (it *Item[K, T]) LastReferenced() time.Time {
	return it.created.Add(time.Duration(it.referenced.Load()) * time.Second)
}
